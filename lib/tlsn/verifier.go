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

package tlsn

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/mpcoord"
	logutils "github.com/gravitational/mpcoord/lib/utils/log"
)

var log = logutils.NewPackageLogger(mpcoord.ComponentKey, mpcoord.ComponentTLSN)

// Verifier checks the authenticity of a notarization proof. Implementations
// must either succeed, returning the user identifier bound to the proof, or
// fail with an explanatory error.
type Verifier interface {
	// Verify validates the proof document and returns the uid parsed
	// from the verifier output.
	Verify(ctx context.Context, proof []byte) (uid int64, err error)
}

// VerifierFunc adapts a function to the Verifier interface; used to plug
// in-memory fakes into tests.
type VerifierFunc func(ctx context.Context, proof []byte) (int64, error)

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, proof []byte) (int64, error) {
	return f(ctx, proof)
}

// uidPrefix marks the verifier stdout line carrying the user identifier.
const uidPrefix = "uid:"

// ExecVerifier runs the external proof verifier binary. The binary receives
// the path of a file holding the proof document as its last argument, exits
// non-zero on an invalid proof, and prints a "uid: <n>" line on success.
type ExecVerifier struct {
	// Dir is the working directory of the verifier process.
	Dir string
	// Command is the verifier argv, e.g. the binance_verifier invocation.
	Command []string
}

// Verify implements Verifier by shelling out to the configured binary.
func (v *ExecVerifier) Verify(ctx context.Context, proof []byte) (int64, error) {
	if len(v.Command) == 0 {
		return 0, trace.BadParameter("verifier command is not configured")
	}

	proofFile, err := os.CreateTemp("", "tlsn-proof-*.json")
	if err != nil {
		return 0, trace.Wrap(err)
	}
	defer os.Remove(proofFile.Name())
	if _, err := proofFile.Write(proof); err != nil {
		proofFile.Close()
		return 0, trace.Wrap(err)
	}
	if err := proofFile.Close(); err != nil {
		return 0, trace.Wrap(err)
	}

	args := append(append([]string{}, v.Command[1:]...), proofFile.Name())
	cmd := exec.CommandContext(ctx, v.Command[0], args...)
	cmd.Dir = v.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.DebugContext(ctx, "Running proof verifier", "command", v.Command[0])
	if err := cmd.Run(); err != nil {
		return 0, trace.BadParameter("proof verification failed: %v: %s", err, stderr.String())
	}
	uid, err := parseUID(stdout.String())
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return uid, nil
}

func parseUID(output string) (int64, error) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, uidPrefix) {
			continue
		}
		uid, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, uidPrefix)), 10, 64)
		if err != nil {
			return 0, trace.BadParameter("malformed uid line %q: %v", line, err)
		}
		return uid, nil
	}
	return 0, trace.BadParameter("verifier output carries no uid")
}
