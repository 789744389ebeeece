/*
 * mpcoord
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package storage persists the record of completed sharing sessions in an
// embedded SQLite database.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gravitational/trace"
	_ "github.com/mattn/go-sqlite3"
)

// schema is applied on open. Session ids are assigned by SQLite and start
// at 1.
const schema = `
CREATE TABLE IF NOT EXISTS mpc_sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    eth_address TEXT NOT NULL,
    uid INTEGER NOT NULL,
    tlsn_proof_path TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS mpc_sessions_eth_address ON mpc_sessions (eth_address);
CREATE INDEX IF NOT EXISTS mpc_sessions_uid ON mpc_sessions (uid);
`

// SessionRecord is a completed sharing session. Records are immutable once
// inserted.
type SessionRecord struct {
	// ID is the monotonic session id assigned on insert.
	ID int64
	// EthAddress is the address the data provider shared under.
	EthAddress string
	// UID is the user identifier extracted from the notarization proof.
	UID int64
	// ProofPath is where the accepted proof document was persisted.
	ProofPath string
}

// SessionStore is a durable, append-only store of session records. Writes
// are synced to disk before they return: the queue must not release a
// session whose record could still be lost.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore opens (creating if needed) the database at the given path.
func NewSessionStore(path string) (*SessionStore, error) {
	if path == "" {
		return nil, trace.BadParameter("missing database path")
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%v?_busy_timeout=10000&_sync=FULL", path))
	if err != nil {
		return nil, trace.Wrap(err, "opening database %v", path)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, trace.Wrap(err, "creating schema in %v", path)
	}
	return &SessionStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SessionStore) Close() error {
	return trace.Wrap(s.db.Close())
}

// Count returns the number of stored session records.
func (s *SessionStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mpc_sessions").Scan(&count); err != nil {
		return 0, trace.Wrap(err)
	}
	return count, nil
}

// Insert appends a session record and returns the assigned id.
func (s *SessionStore) Insert(ctx context.Context, record SessionRecord) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO mpc_sessions (eth_address, uid, tlsn_proof_path) VALUES (?, ?, ?)",
		record.EthAddress, record.UID, record.ProofPath)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return id, nil
}

// NextID returns the id the next inserted record will receive.
func (s *SessionStore) NextID(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(id) FROM mpc_sessions").Scan(&max); err != nil {
		return 0, trace.Wrap(err)
	}
	return max.Int64 + 1, nil
}

// UIDExists reports whether a session with the given uid was stored. Used
// when multiple contributions per uid are prohibited.
func (s *SessionStore) UIDExists(ctx context.Context, uid int64) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mpc_sessions WHERE uid = ?", uid).Scan(&count); err != nil {
		return false, trace.Wrap(err)
	}
	return count > 0, nil
}

// HasAddressShared reports whether the address has a completed sharing
// session on record.
func (s *SessionStore) HasAddressShared(ctx context.Context, ethAddress string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mpc_sessions WHERE eth_address = ?", ethAddress).Scan(&count); err != nil {
		return false, trace.Wrap(err)
	}
	return count > 0, nil
}
