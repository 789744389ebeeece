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
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/gravitational/trace"
)

// PlayerData manages the Player-Data certificate directory the MPC VM
// reads: this party's own certificate, peer certificates fetched per
// session, and the transient client certificate.
type PlayerData struct {
	// Dir is the Player-Data directory.
	Dir string
	// RehashCommand rebuilds the OpenSSL hash links after certificate
	// changes; it receives Dir as its last argument. Empty means
	// ["c_rehash"].
	RehashCommand []string
}

// CheckAndSetDefaults checks and sets default values
func (p *PlayerData) CheckAndSetDefaults() error {
	if p.Dir == "" {
		return trace.BadParameter("missing player data directory")
	}
	if len(p.RehashCommand) == 0 {
		p.RehashCommand = []string{"c_rehash"}
	}
	return os.MkdirAll(p.Dir, 0o755)
}

// CleanStale removes leftovers of previous sessions: the OpenSSL hash
// links (*.0) and client certificates (C*.pem). Party certificates stay.
func (p *PlayerData) CleanStale() error {
	for _, pattern := range []string{"*.0", "C*.pem"} {
		matches, err := filepath.Glob(filepath.Join(p.Dir, pattern))
		if err != nil {
			return trace.Wrap(err)
		}
		for _, match := range matches {
			if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
				return trace.ConvertSystemError(err)
			}
		}
	}
	return nil
}

// InstallClientCert writes the client certificate as C<client_id>.pem and
// runs the rehash command so the VM's TLS stack picks it up.
func (p *PlayerData) InstallClientCert(ctx context.Context, clientID int, cert string) error {
	path := filepath.Join(p.Dir, fmt.Sprintf("C%d.pem", clientID))
	if err := os.WriteFile(path, []byte(cert), 0o644); err != nil {
		return trace.ConvertSystemError(err)
	}
	return trace.Wrap(p.rehash(ctx))
}

func (p *PlayerData) rehash(ctx context.Context) error {
	args := append(append([]string{}, p.RehashCommand[1:]...), p.Dir)
	cmd := exec.CommandContext(ctx, p.RehashCommand[0], args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return trace.Wrap(err, "rehashing %v: %s", p.Dir, output.String())
	}
	return nil
}

// WritePartyCert stores a party certificate as P<party_id>.pem.
func (p *PlayerData) WritePartyCert(partyID int, cert string) error {
	path := filepath.Join(p.Dir, fmt.Sprintf("P%d.pem", partyID))
	if err := os.WriteFile(path, []byte(cert), 0o644); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}

// ReadPartyCert reads a party certificate written by WritePartyCert.
func (p *PlayerData) ReadPartyCert(partyID int) (string, error) {
	data, err := os.ReadFile(filepath.Join(p.Dir, fmt.Sprintf("P%d.pem", partyID)))
	if err != nil {
		return "", trace.ConvertSystemError(err)
	}
	return string(data), nil
}
