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

// Package defaults contains default constants set in various parts of the
// mpcoord codebase.
package defaults

import "time"

// Default port numbers used by the cluster servers.
const (
	// CoordinatorListenPort is where the coordinator serves its public API.
	CoordinatorListenPort = 8005

	// PartyListenPortBase is the first party API port; party i defaults to
	// PartyListenPortBase + i.
	PartyListenPortBase = 8006

	// ConsumerListenPort is where the data consumer API listens.
	ConsumerListenPort = 8004

	// FreePortsStart is the first port handed out for MPC sessions.
	FreePortsStart = 8010

	// FreePortsEnd is the last port usable by MPC sessions, inclusive.
	FreePortsEnd = 8100
)

const (
	// NumParties is the default computation cluster size.
	NumParties = 3

	// UserQueueSize bounds the admission queue.
	UserQueueSize = 1000

	// UserQueueHeadTimeout is how long the queue head may sit idle before
	// it is evicted.
	UserQueueHeadTimeout = 60 * time.Second

	// FanoutTimeout bounds a whole party fanout during a session.
	FanoutTimeout = 10 * time.Minute

	// PeerDialTimeout bounds a single HTTP call to a peer party.
	PeerDialTimeout = 30 * time.Second

	// CacheTTL is the refresh period of the consumer result cache.
	CacheTTL = 5 * time.Minute

	// MaxDataProviders caps the number of secrets the MPC program handles.
	MaxDataProviders = 100

	// MaxClientID is the exclusive upper bound on client ids; the MPC
	// engine reserves ids at and above it.
	MaxClientID = 1000

	// ProgramBits is the default register width of the generated MPC
	// programs. The engine is compiled with ring size ProgramBits+1.
	ProgramBits = 256
)

// Persistent state layout, relative to the MP-SPDZ project root.
const (
	// SharesDir holds the per-party share files.
	SharesDir = "Persistence"

	// BackupSharesDir holds timestamped share file backups.
	BackupSharesDir = "Backup"

	// PlayerDataDir holds party and client certificates.
	PlayerDataDir = "Player-Data"

	// ProgramSourceDir is where rendered MPC programs are written.
	ProgramSourceDir = "Programs/Source"

	// ProofsDir is where the coordinator persists accepted proofs.
	ProofsDir = "tlsn_proofs"

	// BackupTimestampFormat names share file backups.
	BackupTimestampFormat = "2006-01-02-15-04-05"
)

// Environment variable names understood by lib/config.
const (
	NumPartiesEnvar             = "NUM_PARTIES"
	PortEnvar                   = "PORT"
	PartyHostsEnvar             = "PARTY_HOSTS"
	PartyPortsEnvar             = "PARTY_PORTS"
	FreePortsStartEnvar         = "FREE_PORTS_START"
	FreePortsEndEnvar           = "FREE_PORTS_END"
	PartyAPIKeyEnvar            = "PARTY_API_KEY"
	PartyWebProtocolEnvar       = "PARTY_WEB_PROTOCOL"
	UserQueueSizeEnvar          = "USER_QUEUE_SIZE"
	UserQueueHeadTimeoutEnvar   = "USER_QUEUE_HEAD_TIMEOUT"
	ProhibitMultipleEnvar       = "PROHIBIT_MULTIPLE_CONTRIBUTIONS"
	CacheTTLSecondsEnvar        = "CACHE_TTL_SECONDS"
	MaxDataProvidersEnvar       = "MAX_DATA_PROVIDERS"
	MaxClientIDEnvar            = "MAX_CLIENT_ID"
	PartyIDEnvar                = "PARTY_ID"
	DatabasePathEnvar           = "DATABASE_PATH"
	MPSPDZRootEnvar             = "MPSPDZ_PROJECT_ROOT"
	MPSPDZProtocolEnvar         = "MPSPDZ_PROTOCOL"
	TLSNVerifierPathEnvar       = "TLSN_VERIFIER_PATH"
	CoordinatorURLEnvar         = "COORDINATION_SERVER_URL"
	PerformCommitmentCheckEnvar = "PERFORM_COMMITMENT_CHECK"
)

const (
	// MPSPDZProtocol picks the MP-SPDZ virtual machine flavor; the VM
	// binary is <protocol>-party.x.
	MPSPDZProtocol = "replicated-ring"

	// PartyWebProtocol is the scheme used to reach party servers.
	PartyWebProtocol = "http"

	// DatabasePath is the coordinator session database file.
	DatabasePath = "coordination.db"
)
