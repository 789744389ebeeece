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
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestParseProof(t *testing.T) {
	t.Parallel()
	hash := []byte{0x28, 0x05, 0x9a, 0x08}
	proof := FixtureProof(3, hash)

	data, err := ParseProof(proof)
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(hash), data.CommitmentHash)
	require.Equal(t, 3, data.InputBytes)
	require.Len(t, data.ZeroEncodings, 24)
	require.Equal(t, "0102030405060708090a0b0c0d0e0f10", data.Delta)
	for _, label := range data.ZeroEncodings {
		require.Len(t, label, 2*16)
	}
}

func TestParseProofRejectsMalformed(t *testing.T) {
	t.Parallel()
	_, err := ParseProof([]byte("not json"))
	require.True(t, trace.IsBadParameter(err))
}

func TestParseProofRejectsMultipleOpenings(t *testing.T) {
	t.Parallel()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(FixtureProof(1, []byte{1}), &doc))
	openings := doc["substrings"].(map[string]any)["private_openings"].(map[string]any)
	openings["1"] = openings["0"]
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	_, err = ParseProof(raw)
	require.True(t, trace.IsBadParameter(err))
	require.Contains(t, err.Error(), "expected 1 private opening")
}

func TestParseProofRejectsShortDelta(t *testing.T) {
	t.Parallel()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(FixtureProof(1, []byte{1}), &doc))
	encoding := doc["encodings"].([]any)[0].(map[string]any)
	encoding["U8"].(map[string]any)["state"].(map[string]any)["delta"] = []int{1, 2, 3}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	_, err = ParseProof(raw)
	require.True(t, trace.IsBadParameter(err))
	require.Contains(t, err.Error(), "delta")
}

func TestParseProofRejectsDivergentDeltas(t *testing.T) {
	t.Parallel()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(FixtureProof(2, []byte{1}), &doc))
	other := make([]int, 16)
	for i := range other {
		other[i] = 42
	}
	encoding := doc["encodings"].([]any)[1].(map[string]any)
	encoding["U8"].(map[string]any)["state"].(map[string]any)["delta"] = other
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	_, err = ParseProof(raw)
	require.True(t, trace.IsBadParameter(err))
	require.Contains(t, err.Error(), "deltas to be the same")
}

func TestParseProofRejectsWrongLabelCount(t *testing.T) {
	t.Parallel()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(FixtureProof(1, []byte{1}), &doc))
	encoding := doc["encodings"].([]any)[0].(map[string]any)
	u8 := encoding["U8"].(map[string]any)
	u8["labels"] = u8["labels"].([]any)[:7]
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	_, err = ParseProof(raw)
	require.True(t, trace.IsBadParameter(err))
	require.Contains(t, err.Error(), "labels")
}

func TestParseUID(t *testing.T) {
	t.Parallel()
	uid, err := parseUID("verified ok\nuid: 1337\n")
	require.NoError(t, err)
	require.Equal(t, int64(1337), uid)

	_, err = parseUID("verified ok\n")
	require.Error(t, err)

	_, err = parseUID("uid: many\n")
	require.Error(t, err)
}
