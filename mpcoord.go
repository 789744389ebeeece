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

// Package mpcoord contains constants shared by every server in the MPC
// coordination cluster: the coordinator, the computation party servers and
// the data consumer API.
package mpcoord

import "strings"

// Version is the semver of the current build.
const Version = "0.1.0"

const (
	// ComponentKey is the log field used to identify the component
	// emitting a log line.
	ComponentKey = "component"

	// ComponentCoordinator is the session coordinator server.
	ComponentCoordinator = "coord"

	// ComponentParty is a computation party server.
	ComponentParty = "party"

	// ComponentConsumer is the data consumer API server.
	ComponentConsumer = "consumer"

	// ComponentQueue is the user admission queue.
	ComponentQueue = "queue"

	// ComponentMPC is the MP-SPDZ engine adapter.
	ComponentMPC = "mpc"

	// ComponentTLSN is the notarization proof verifier adapter.
	ComponentTLSN = "tlsn"

	// ComponentClient is the cluster client library.
	ComponentClient = "client"
)

// APIKeyHeader carries the shared secret that authenticates the coordinator
// to the party servers.
const APIKeyHeader = "X-API-Key"

// Component generates a component name joined with dots, e.g.
// Component("party", "engine") returns "party.engine".
func Component(parts ...string) string {
	return strings.Join(parts, ".")
}
