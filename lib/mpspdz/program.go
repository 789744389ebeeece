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

package mpspdz

import (
	"fmt"
	"strconv"
	"strings"
)

// firstRunMarker tags template lines that read the previous share file;
// they are dropped when no share file exists yet.
const firstRunMarker = "# NOTE: Skipped if it's the first run"

// SharingProgramParams fills the sharing program template.
type SharingProgramParams struct {
	// SecretIndex is the slot the new secret is stored under.
	SecretIndex int
	// ClientPortBase is the first client-facing port of the session.
	ClientPortBase int
	// MaxDataProviders sizes the share arrays.
	MaxDataProviders int
	// InputBytes is the length of the notarized input.
	InputBytes int
	// Delta is the hex garbling delta from the proof.
	Delta string
	// ZeroEncodings is the hex zero-encoding table from the proof.
	ZeroEncodings []string
	// FirstRun strips the lines loading the previous share file.
	FirstRun bool
}

// RenderSharingProgram substitutes the template placeholders. The templates
// are Python sources, so Delta and ZeroEncodings render as Python literals.
func RenderSharingProgram(template string, params SharingProgramParams) string {
	replacer := strings.NewReplacer(
		"{secret_index}", strconv.Itoa(params.SecretIndex),
		"{client_port_base}", strconv.Itoa(params.ClientPortBase),
		"{max_data_providers}", strconv.Itoa(params.MaxDataProviders),
		"{input_bytes}", strconv.Itoa(params.InputBytes),
		"{delta}", pythonString(params.Delta),
		"{zero_encodings}", pythonStringList(params.ZeroEncodings),
	)
	source := replacer.Replace(template)
	if params.FirstRun {
		source = stripFirstRunLines(source)
	}
	return source
}

// QueryProgramParams fills the query program template.
type QueryProgramParams struct {
	// ClientPortBase is the first client-facing port of the session.
	ClientPortBase int
	// MaxDataProviders sizes the share arrays.
	MaxDataProviders int
	// NumDataProviders is how many secrets have been contributed so far.
	NumDataProviders int
}

// RenderQueryProgram substitutes the template placeholders.
func RenderQueryProgram(template string, params QueryProgramParams) string {
	replacer := strings.NewReplacer(
		"{client_port_base}", strconv.Itoa(params.ClientPortBase),
		"{max_data_providers}", strconv.Itoa(params.MaxDataProviders),
		"{num_data_providers}", strconv.Itoa(params.NumDataProviders),
	)
	return replacer.Replace(template)
}

func stripFirstRunLines(source string) string {
	lines := strings.Split(source, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.Contains(line, firstRunMarker) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func pythonString(s string) string {
	return fmt.Sprintf("'%s'", s)
}

func pythonStringList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = pythonString(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
