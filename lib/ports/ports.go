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

// Package ports hands out MPC port windows from the configured free range.
// A session needs two windows of numParties consecutive ports each: one for
// the party-to-party sockets and one for the client-facing sockets.
package ports

import (
	"sync"

	"github.com/gravitational/trace"
)

// Pair is a pair of base ports for one MPC session; each side occupies
// numParties consecutive ports starting at its base.
type Pair struct {
	// ServerBase is the first party-to-party port.
	ServerBase int
	// ClientBase is the first client-facing port.
	ClientBase int
}

// Allocator carves the inclusive range [start, end] into session windows.
// The sharing window is fixed: only one sharing session runs at a time, so
// reuse is safe. Query windows rotate through the rest of the range.
type Allocator struct {
	start      int
	end        int
	numParties int

	mu          sync.Mutex
	queryCursor int
}

// NewAllocator validates the range and returns an allocator. The range must
// accommodate at least the sharing window and one query window.
func NewAllocator(start, end, numParties int) (*Allocator, error) {
	if numParties <= 0 {
		return nil, trace.BadParameter("number of parties must be positive, got %v", numParties)
	}
	if start <= 0 || end <= 0 {
		return nil, trace.BadParameter("port range bounds must be positive, got [%v, %v]", start, end)
	}
	if start+4*numParties-1 > end {
		return nil, trace.BadParameter("port range [%v, %v] cannot fit %v parties", start, end, numParties)
	}
	return &Allocator{
		start:       start,
		end:         end,
		numParties:  numParties,
		queryCursor: start + 2*numParties,
	}, nil
}

// SharingPorts returns the fixed window reserved for sharing sessions.
func (a *Allocator) SharingPorts() Pair {
	return Pair{
		ServerBase: a.start,
		ClientBase: a.start + a.numParties,
	}
}

// QueryPorts returns the next query window, wrapping to the first query
// window when the remaining range cannot fit another one.
func (a *Allocator) QueryPorts() Pair {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.queryCursor+2*a.numParties-1 > a.end {
		a.queryCursor = a.start + 2*a.numParties
	}
	pair := Pair{
		ServerBase: a.queryCursor,
		ClientBase: a.queryCursor + a.numParties,
	}
	a.queryCursor += 2 * a.numParties
	return pair
}
