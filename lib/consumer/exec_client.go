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

package consumer

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
)

// ExecQueryClient joins query MPCs by shelling out to the external MP-SPDZ
// client binary. The binary receives the client id and the session's client
// port base appended to its argv and prints one revealed value per stdout
// line.
type ExecQueryClient struct {
	// Dir is the working directory of the client process.
	Dir string
	// Command is the client argv.
	Command []string
}

// RunQueryClient implements MPCQueryClient.
func (c *ExecQueryClient) RunQueryClient(ctx context.Context, clientPortBase, clientID int) ([]float64, error) {
	if len(c.Command) == 0 {
		return nil, trace.BadParameter("query client command is not configured")
	}
	args := append(append([]string{}, c.Command[1:]...),
		strconv.Itoa(clientID), strconv.Itoa(clientPortBase))
	cmd := exec.CommandContext(ctx, c.Command[0], args...)
	cmd.Dir = c.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.InfoContext(ctx, "Running MPC query client", "client_port_base", clientPortBase)
	if err := cmd.Run(); err != nil {
		return nil, trace.Wrap(err, "query client failed: %s", stderr.String())
	}
	values, err := parseValues(stdout.String())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return values, nil
}

// parseValues reads the revealed per-provider values from the client
// stdout, one float per line; other lines are ignored.
func parseValues(output string) ([]float64, error) {
	var values []float64
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		value, err := strconv.ParseFloat(line, 64)
		if err != nil {
			continue
		}
		values = append(values, value)
	}
	if len(values) == 0 {
		return nil, trace.BadParameter("query client revealed no values")
	}
	return values, nil
}
