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

// Package tlsn handles notarization proofs: parsing the data the MPC
// programs need out of the proof document, and verifying proofs through the
// external verifier binary.
package tlsn

import (
	"encoding/hex"
	"encoding/json"

	"github.com/gravitational/trace"
)

const (
	// wordSize is the byte length of deltas and zero-encoding labels.
	wordSize = 16
	// labelsPerByte is the number of zero-encoding labels per input byte.
	labelsPerByte = 8
)

// ProofData is the subset of a notarization proof consumed by the MPC
// programs.
type ProofData struct {
	// CommitmentHash is the hex encoded hash binding the secret to the
	// proof.
	CommitmentHash string
	// Delta is the hex encoded garbling delta, identical for every input
	// byte.
	Delta string
	// ZeroEncodings holds labelsPerByte hex encoded labels per input byte.
	ZeroEncodings []string
	// InputBytes is the length of the notarized input.
	InputBytes int
}

type proofDocument struct {
	Substrings struct {
		PrivateOpenings map[string][2]json.RawMessage `json:"private_openings"`
	} `json:"substrings"`
	Encodings []proofEncoding `json:"encodings"`
}

type proofEncoding struct {
	U8 struct {
		State struct {
			Delta []int `json:"delta"`
		} `json:"state"`
		Labels [][]int `json:"labels"`
	} `json:"U8"`
}

type proofCommitment struct {
	Hash []int `json:"hash"`
}

// ParseProof extracts the commitment hash, the delta and the zero-encoding
// table from a proof document. It enforces the structural invariants the
// programs rely on: exactly one private opening, a single 16-byte delta
// shared by all input bytes, and 8 labels of 16 bytes per input byte.
func ParseProof(proof []byte) (*ProofData, error) {
	var doc proofDocument
	if err := json.Unmarshal(proof, &doc); err != nil {
		return nil, trace.BadParameter("malformed proof document: %v", err)
	}
	if len(doc.Substrings.PrivateOpenings) != 1 {
		return nil, trace.BadParameter("expected 1 private opening, got %v", len(doc.Substrings.PrivateOpenings))
	}

	var commitment proofCommitment
	for _, opening := range doc.Substrings.PrivateOpenings {
		// opening is a (commitment info, commitment) pair
		if err := json.Unmarshal(opening[1], &commitment); err != nil {
			return nil, trace.BadParameter("malformed commitment: %v", err)
		}
	}
	hash, err := bytesToHex(commitment.Hash)
	if err != nil {
		return nil, trace.Wrap(err, "commitment hash")
	}

	if len(doc.Encodings) == 0 {
		return nil, trace.BadParameter("proof has no encodings")
	}
	var delta string
	zeroEncodings := make([]string, 0, labelsPerByte*len(doc.Encodings))
	for i, encoding := range doc.Encodings {
		if len(encoding.U8.State.Delta) != wordSize {
			return nil, trace.BadParameter("expected %v bytes in delta, got %v", wordSize, len(encoding.U8.State.Delta))
		}
		deltaHex, err := bytesToHex(encoding.U8.State.Delta)
		if err != nil {
			return nil, trace.Wrap(err, "delta of byte %v", i)
		}
		if delta == "" {
			delta = deltaHex
		} else if delta != deltaHex {
			return nil, trace.BadParameter("expected all deltas to be the same")
		}
		if len(encoding.U8.Labels) != labelsPerByte {
			return nil, trace.BadParameter("expected %v labels, got %v", labelsPerByte, len(encoding.U8.Labels))
		}
		for _, label := range encoding.U8.Labels {
			if len(label) != wordSize {
				return nil, trace.BadParameter("expected %v bytes in label, got %v", wordSize, len(label))
			}
			labelHex, err := bytesToHex(label)
			if err != nil {
				return nil, trace.Wrap(err, "label of byte %v", i)
			}
			zeroEncodings = append(zeroEncodings, labelHex)
		}
	}

	return &ProofData{
		CommitmentHash: hash,
		Delta:          delta,
		ZeroEncodings:  zeroEncodings,
		InputBytes:     len(doc.Encodings),
	}, nil
}

func bytesToHex(values []int) (string, error) {
	raw := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return "", trace.BadParameter("byte value %v out of range", v)
		}
		raw[i] = byte(v)
	}
	return hex.EncodeToString(raw), nil
}
