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
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sharingTemplate = `secret_index = {secret_index}
port = {client_port_base}
providers = {max_data_providers}
input_bytes = {input_bytes}
delta = {delta}
encodings = {zero_encodings}
old = read_from_file(0)  # NOTE: Skipped if it's the first run
run()
`

func TestRenderSharingProgram(t *testing.T) {
	t.Parallel()
	source := RenderSharingProgram(sharingTemplate, SharingProgramParams{
		SecretIndex:      2,
		ClientPortBase:   8013,
		MaxDataProviders: 100,
		InputBytes:       4,
		Delta:            "aabb",
		ZeroEncodings:    []string{"11", "22"},
	})

	require.Contains(t, source, "secret_index = 2")
	require.Contains(t, source, "port = 8013")
	require.Contains(t, source, "providers = 100")
	require.Contains(t, source, "input_bytes = 4")
	require.Contains(t, source, "delta = 'aabb'")
	require.Contains(t, source, "encodings = ['11', '22']")
	// not a first run, the share file load stays
	require.Contains(t, source, "read_from_file")
}

func TestRenderSharingProgramFirstRun(t *testing.T) {
	t.Parallel()
	source := RenderSharingProgram(sharingTemplate, SharingProgramParams{
		SecretIndex: 0,
		FirstRun:    true,
	})
	require.NotContains(t, source, "read_from_file")
	require.Contains(t, source, "run()")
	// only the marked line is dropped
	require.Equal(t, len(strings.Split(sharingTemplate, "\n"))-1, len(strings.Split(source, "\n")))
}

func TestRenderQueryProgram(t *testing.T) {
	t.Parallel()
	template := "port = {client_port_base}\nmax = {max_data_providers}\nn = {num_data_providers}\n"
	source := RenderQueryProgram(template, QueryProgramParams{
		ClientPortBase:   8019,
		MaxDataProviders: 100,
		NumDataProviders: 7,
	})
	require.Equal(t, "port = 8019\nmax = 100\nn = 7\n", source)
}
