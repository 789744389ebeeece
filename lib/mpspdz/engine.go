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

// Package mpspdz adapts the external MP-SPDZ toolchain: compiling rendered
// MPC programs and running the virtual machine binary. The toolchain itself
// stays opaque; this package only shells out and parses its output.
package mpspdz

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/mpcoord"
	"github.com/gravitational/mpcoord/lib/defaults"
	logutils "github.com/gravitational/mpcoord/lib/utils/log"
)

var log = logutils.NewPackageLogger(mpcoord.ComponentKey, mpcoord.ComponentMPC)

// Engine compiles and runs MPC programs. The coordinator-facing party
// engine depends on this interface so tests can substitute in-memory fakes
// for the toolchain.
type Engine interface {
	// WriteProgram places rendered program source where the compiler
	// finds it.
	WriteProgram(circuit string, source string) error
	// Compile compiles the named circuit.
	Compile(ctx context.Context, circuit string) error
	// Run executes the named circuit and returns the VM stdout.
	Run(ctx context.Context, circuit, ipFilePath string) (string, error)
}

// ExecEngine runs the real MP-SPDZ toolchain out of its project root.
type ExecEngine struct {
	// Root is the MP-SPDZ project root.
	Root string
	// Protocol picks the VM flavor; the binary is <protocol>-party.x.
	Protocol string
	// ProgramBits is the register width; the compiler runs with ring
	// size ProgramBits+1 so programs get the full width.
	ProgramBits int
	// PartyID is this party's index, passed to the VM.
	PartyID int
}

// CheckAndSetDefaults checks and sets default values
func (e *ExecEngine) CheckAndSetDefaults() error {
	if e.Root == "" {
		return trace.BadParameter("missing MP-SPDZ project root")
	}
	if e.Protocol == "" {
		e.Protocol = defaults.MPSPDZProtocol
	}
	if e.ProgramBits == 0 {
		e.ProgramBits = defaults.ProgramBits
	}
	return nil
}

// WriteProgram writes rendered program source to Programs/Source.
func (e *ExecEngine) WriteProgram(circuit string, source string) error {
	dir := filepath.Join(e.Root, defaults.ProgramSourceDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return trace.ConvertSystemError(err)
	}
	path := filepath.Join(dir, circuit+".mpc")
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}

// Compile invokes ./compile.py on the named circuit.
func (e *ExecEngine) Compile(ctx context.Context, circuit string) error {
	cmd := exec.CommandContext(ctx, "./compile.py", "-R", strconv.Itoa(e.ProgramBits+1), circuit)
	cmd.Dir = e.Root
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	log.InfoContext(ctx, "Compiling MPC program", "circuit", circuit)
	if err := cmd.Run(); err != nil {
		return trace.Wrap(err, "compiling %v: %s", circuit, output.String())
	}
	return nil
}

// Run executes the VM binary on the named circuit, binding party sockets to
// the endpoints listed in the ip file.
func (e *ExecEngine) Run(ctx context.Context, circuit, ipFilePath string) (string, error) {
	binary := e.Protocol + "-party.x"
	if _, err := os.Stat(filepath.Join(e.Root, binary)); err != nil {
		return "", trace.NotFound("VM binary %v not found under %v, build it with `make %v`", binary, e.Root, binary)
	}

	cmd := exec.CommandContext(ctx, "./"+binary, "-ip", ipFilePath, "-p", strconv.Itoa(e.PartyID), "-OF", ".", circuit)
	cmd.Dir = e.Root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.InfoContext(ctx, "Running MPC program", "circuit", circuit, "binary", binary)
	if err := cmd.Run(); err != nil {
		return "", trace.Wrap(err, "running %v: %s%s", circuit, stdout.String(), stderr.String())
	}
	return stdout.String(), nil
}

// registerDumpPrefix marks VM stdout lines carrying register contents, e.g.
// "Reg[0] = 0x28059a08... #".
const registerDumpPrefix = "Reg["

// ParseCommitment extracts the single commitment hex from the VM register
// dump. Exactly one register line is expected from a sharing program.
func ParseCommitment(stdout string) (string, error) {
	var commitments []string
	for _, line := range strings.Split(stdout, "\n") {
		if !strings.HasPrefix(line, registerDumpPrefix) {
			continue
		}
		_, after, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		value, _, _ := strings.Cut(strings.TrimSpace(after), " ")
		commitments = append(commitments, strings.TrimPrefix(value, "0x"))
	}
	if len(commitments) != 1 {
		return "", trace.BadParameter("expected 1 commitment in VM output, got %v", len(commitments))
	}
	return commitments[0], nil
}

// SharingCircuit names the sharing program for a secret slot.
func SharingCircuit(secretIndex int) string {
	return fmt.Sprintf("share_data_%d", secretIndex)
}

// QueryCircuit names the query program for a client port window.
func QueryCircuit(clientPortBase int) string {
	return fmt.Sprintf("query_computation_%d", clientPortBase)
}
