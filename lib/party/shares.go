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

package party

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/mpcoord/lib/defaults"
)

// ShareStore owns this party's persistent share file and its timestamped
// backups. Exactly one engine may use a store at a time.
type ShareStore struct {
	// Root is the MP-SPDZ project root.
	Root string
	// PartyID is this party's index.
	PartyID int
	// Clock timestamps backups.
	Clock clockwork.Clock
}

// CheckAndSetDefaults checks and sets default values
func (s *ShareStore) CheckAndSetDefaults() error {
	if s.Root == "" {
		return trace.BadParameter("missing share store root")
	}
	if s.Clock == nil {
		s.Clock = clockwork.NewRealClock()
	}
	return nil
}

func (s *ShareStore) shareFileName() string {
	return fmt.Sprintf("Transactions-P%d.data", s.PartyID)
}

// Path returns the share file path under Persistence.
func (s *ShareStore) Path() string {
	return filepath.Join(s.Root, defaults.SharesDir, s.shareFileName())
}

// Exists reports whether the share file is present, i.e. whether any
// secret has been contributed yet.
func (s *ShareStore) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Backup copies the share file to a timestamped file under
// Backup/<party>/. An absent share file means this is the first sharing
// session; Backup then returns an empty path and firstRun set.
func (s *ShareStore) Backup() (backupPath string, firstRun bool, err error) {
	data, err := os.ReadFile(s.Path())
	if os.IsNotExist(err) {
		return "", true, nil
	}
	if err != nil {
		return "", false, trace.ConvertSystemError(err)
	}

	dir := filepath.Join(s.Root, defaults.BackupSharesDir, fmt.Sprintf("%d", s.PartyID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, trace.ConvertSystemError(err)
	}
	timestamp := s.Clock.Now().Format(defaults.BackupTimestampFormat)
	backupPath = filepath.Join(dir, fmt.Sprintf("%s.%s", s.shareFileName(), timestamp))
	if err := os.WriteFile(backupPath, data, 0o600); err != nil {
		return "", false, trace.ConvertSystemError(err)
	}
	return backupPath, false, nil
}

// Restore puts the share file back to its pre-session state. An empty
// backupPath means the session was a first run, so the share file the
// failed run may have left behind is deleted instead.
func (s *ShareStore) Restore(backupPath string) error {
	if backupPath == "" {
		if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
			return trace.ConvertSystemError(err)
		}
		return nil
	}
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path()), 0o755); err != nil {
		return trace.ConvertSystemError(err)
	}
	// renameio keeps the restore atomic: the share file never holds a
	// partially written state even if the party dies mid-restore.
	if err := renameio.WriteFile(s.Path(), data, 0o600); err != nil {
		return trace.Wrap(err)
	}
	return nil
}
