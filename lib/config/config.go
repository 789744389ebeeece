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

// Package config holds the runtime configuration of the cluster servers.
// Values arrive through command line flags and environment variables bound
// in tool/mpcoord.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/mpcoord/lib/defaults"
)

// Cluster describes the party cluster every server needs to know about.
type Cluster struct {
	// NumParties, when set, is cross-checked against the party host list.
	NumParties int
	// PartyHosts are the party hostnames, indexed by party ID.
	PartyHosts []string
	// PartyPorts are the party API ports, indexed by party ID.
	PartyPorts []int
	// WebProtocol is the scheme used to reach the parties, http or https.
	WebProtocol string
	// APIKey is the shared secret guarding the party APIs.
	APIKey string
}

// CheckAndSetDefaults checks and sets default values
func (c *Cluster) CheckAndSetDefaults() error {
	if len(c.PartyHosts) == 0 {
		return trace.BadParameter("missing party hosts")
	}
	if c.NumParties != 0 && c.NumParties != len(c.PartyHosts) {
		return trace.BadParameter("number of parties %v does not match %v party hosts",
			c.NumParties, len(c.PartyHosts))
	}
	if len(c.PartyPorts) == 0 {
		c.PartyPorts = make([]int, len(c.PartyHosts))
		for i := range c.PartyPorts {
			c.PartyPorts[i] = defaults.PartyListenPortBase + i
		}
	}
	if len(c.PartyPorts) != len(c.PartyHosts) {
		return trace.BadParameter("party hosts and ports length mismatch: %v != %v",
			len(c.PartyHosts), len(c.PartyPorts))
	}
	switch c.WebProtocol {
	case "":
		c.WebProtocol = defaults.PartyWebProtocol
	case "http", "https":
	default:
		return trace.BadParameter("unsupported party web protocol %q", c.WebProtocol)
	}
	if c.APIKey == "" {
		return trace.BadParameter("missing party API key")
	}
	return nil
}

// Coordinator is the coordinator server configuration.
type Coordinator struct {
	Cluster

	// ListenAddr is the address the public API listens on.
	ListenAddr string
	// DatabasePath is the session database file.
	DatabasePath string
	// ProofsDir is where accepted proofs are persisted.
	ProofsDir string
	// FreePortsStart and FreePortsEnd bound the MPC session port range,
	// inclusive.
	FreePortsStart int
	FreePortsEnd   int
	// UserQueueSize bounds the admission queue.
	UserQueueSize int
	// UserQueueHeadTimeout evicts an idle queue head.
	UserQueueHeadTimeout time.Duration
	// MaxClientID is the exclusive upper bound on client ids.
	MaxClientID int
	// ProhibitMultipleContributions rejects repeat contributions per uid.
	ProhibitMultipleContributions bool
	// PerformCommitmentCheck cross-checks party commitments against the
	// proof hash.
	PerformCommitmentCheck bool
	// VerifierDir and VerifierCommand locate the external proof verifier.
	VerifierDir     string
	VerifierCommand []string
}

// CheckAndSetDefaults checks and sets default values
func (c *Coordinator) CheckAndSetDefaults() error {
	if err := c.Cluster.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":" + strconv.Itoa(defaults.CoordinatorListenPort)
	}
	if c.DatabasePath == "" {
		c.DatabasePath = defaults.DatabasePath
	}
	if c.ProofsDir == "" {
		c.ProofsDir = defaults.ProofsDir
	}
	if c.FreePortsStart == 0 {
		c.FreePortsStart = defaults.FreePortsStart
	}
	if c.FreePortsEnd == 0 {
		c.FreePortsEnd = defaults.FreePortsEnd
	}
	if c.UserQueueSize == 0 {
		c.UserQueueSize = defaults.UserQueueSize
	}
	if c.UserQueueHeadTimeout == 0 {
		c.UserQueueHeadTimeout = defaults.UserQueueHeadTimeout
	}
	if c.MaxClientID == 0 {
		c.MaxClientID = defaults.MaxClientID
	}
	if len(c.VerifierCommand) == 0 {
		return trace.BadParameter("missing proof verifier command")
	}
	return nil
}

// Party is the computation party server configuration.
type Party struct {
	Cluster

	// PartyID is this party's index.
	PartyID int
	// ListenAddr is the address the party API listens on.
	ListenAddr string
	// MPSPDZRoot is the MP-SPDZ project root.
	MPSPDZRoot string
	// MPSPDZProtocol picks the VM flavor.
	MPSPDZProtocol string
	// SharingTemplatePath and QueryTemplatePath locate the MPC program
	// templates.
	SharingTemplatePath string
	QueryTemplatePath   string
	// MaxDataProviders caps the secret slots of the MPC programs.
	MaxDataProviders int
	// PerformCommitmentCheck compares the MPC commitment with the proof.
	PerformCommitmentCheck bool
	// VerifierDir and VerifierCommand locate the external proof verifier.
	VerifierDir     string
	VerifierCommand []string
}

// CheckAndSetDefaults checks and sets default values
func (c *Party) CheckAndSetDefaults() error {
	if err := c.Cluster.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	if c.PartyID < 0 || c.PartyID >= len(c.PartyHosts) {
		return trace.BadParameter("party ID %v out of range for %v hosts", c.PartyID, len(c.PartyHosts))
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":" + strconv.Itoa(c.PartyPorts[c.PartyID])
	}
	if c.MPSPDZRoot == "" {
		return trace.BadParameter("missing MP-SPDZ project root")
	}
	if c.MPSPDZProtocol == "" {
		c.MPSPDZProtocol = defaults.MPSPDZProtocol
	}
	if c.SharingTemplatePath == "" || c.QueryTemplatePath == "" {
		return trace.BadParameter("missing MPC program template paths")
	}
	if c.MaxDataProviders == 0 {
		c.MaxDataProviders = defaults.MaxDataProviders
	}
	if len(c.VerifierCommand) == 0 {
		return trace.BadParameter("missing proof verifier command")
	}
	return nil
}

// Consumer is the data consumer API server configuration.
type Consumer struct {
	// ListenAddr is the address the consumer API listens on.
	ListenAddr string
	// CoordinatorURL is the coordinator's public API base URL.
	CoordinatorURL string
	// ClientID identifies the consumer towards the parties.
	ClientID int
	// ClientCertPath is the consumer's certificate file.
	ClientCertPath string
	// ClientCommand is the external MP-SPDZ client argv used to join
	// query MPCs.
	ClientCommand []string
	// ClientDir is the working directory of the client process.
	ClientDir string
	// CacheTTL is the refresh period of the aggregate cache.
	CacheTTL time.Duration
}

// CheckAndSetDefaults checks and sets default values
func (c *Consumer) CheckAndSetDefaults() error {
	if c.ListenAddr == "" {
		c.ListenAddr = ":" + strconv.Itoa(defaults.ConsumerListenPort)
	}
	if c.CoordinatorURL == "" {
		return trace.BadParameter("missing coordination server URL")
	}
	if c.ClientCertPath == "" {
		return trace.BadParameter("missing client certificate path")
	}
	if len(c.ClientCommand) == 0 {
		return trace.BadParameter("missing MPC client command")
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = defaults.CacheTTL
	}
	return nil
}

// ParseSecondsOrDuration parses a duration given either as a Go duration
// string ("90s", "5m") or as a bare integer number of seconds ("300"), the
// form the deployment environment files use.
func ParseSecondsOrDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, trace.BadParameter("malformed duration %q", raw)
	}
	return d, nil
}

// ParseIntList parses a comma-separated list of integers, e.g. the party
// port list "8006,8007,8008".
func ParseIntList(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	values := make([]int, len(parts))
	for i, part := range parts {
		value, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, trace.BadParameter("malformed integer list element %q", part)
		}
		values[i] = value
	}
	return values, nil
}

// ParseStringList parses a comma-separated list of strings, dropping
// surrounding whitespace.
func ParseStringList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, len(parts))
	for i, part := range parts {
		values[i] = strings.TrimSpace(part)
	}
	return values
}
