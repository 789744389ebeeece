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

import "encoding/json"

// FixtureProof builds a structurally valid proof document for tests: one
// private opening carrying the given commitment hash and inputBytes
// encodings sharing a single delta.
func FixtureProof(inputBytes int, hash []byte) []byte {
	delta := make([]int, wordSize)
	for i := range delta {
		delta[i] = i + 1
	}
	label := make([]int, wordSize)
	for i := range label {
		label[i] = 255 - i
	}

	hashInts := make([]int, len(hash))
	for i, b := range hash {
		hashInts[i] = int(b)
	}

	encodings := make([]map[string]any, inputBytes)
	for i := range encodings {
		labels := make([][]int, labelsPerByte)
		for j := range labels {
			labels[j] = label
		}
		encodings[i] = map[string]any{
			"U8": map[string]any{
				"state":  map[string]any{"delta": delta},
				"labels": labels,
			},
		}
	}

	doc := map[string]any{
		"substrings": map[string]any{
			"private_openings": map[string]any{
				"0": []any{
					map[string]any{"kind": "sha256"},
					map[string]any{"hash": hashInts, "nonce": []int{}},
				},
			},
		},
		"encodings": encodings,
	}
	out, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return out
}
