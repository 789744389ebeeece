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

// Package party implements the computation party server: the engine
// driving local MPC executions and the HTTP API the coordinator calls.
package party

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/gravitational/mpcoord"
	"github.com/gravitational/mpcoord/lib/client"
	"github.com/gravitational/mpcoord/lib/defaults"
	"github.com/gravitational/mpcoord/lib/mpspdz"
	"github.com/gravitational/mpcoord/lib/tlsn"
	logutils "github.com/gravitational/mpcoord/lib/utils/log"
)

var log = logutils.NewPackageLogger(mpcoord.ComponentKey, mpcoord.ComponentParty)

// lockRetryDelay is how often the engine re-attempts the session file lock.
const lockRetryDelay = 100 * time.Millisecond

// EngineConfig configures a party engine.
type EngineConfig struct {
	// PartyID is this party's index.
	PartyID int
	// PartyHosts are the hostnames of all parties, indexed by party ID.
	PartyHosts []string
	// PartyPorts are the API ports of all parties, indexed by party ID.
	PartyPorts []int
	// WebProtocol is the scheme used to reach peer parties.
	WebProtocol string
	// APIKey authenticates requests to peer parties.
	APIKey string
	// MaxDataProviders caps the secret slots of the MPC programs.
	MaxDataProviders int
	// PerformCommitmentCheck compares the commitment computed over the
	// MPC with the one extracted from the proof.
	PerformCommitmentCheck bool
	// SharingTemplate is the sharing MPC program template source.
	SharingTemplate string
	// QueryTemplate is the query MPC program template source.
	QueryTemplate string
	// Verifier checks notarization proofs.
	Verifier tlsn.Verifier
	// MPC compiles and runs MPC programs.
	MPC mpspdz.Engine
	// Shares owns the share file.
	Shares *ShareStore
	// PlayerData owns the certificate directory.
	PlayerData *PlayerData
}

// CheckAndSetDefaults checks and sets default values
func (c *EngineConfig) CheckAndSetDefaults() error {
	if len(c.PartyHosts) == 0 {
		return trace.BadParameter("missing party hosts")
	}
	if len(c.PartyPorts) != len(c.PartyHosts) {
		return trace.BadParameter("party hosts and ports length mismatch: %v != %v",
			len(c.PartyHosts), len(c.PartyPorts))
	}
	if c.PartyID < 0 || c.PartyID >= len(c.PartyHosts) {
		return trace.BadParameter("party ID %v out of range", c.PartyID)
	}
	if c.Verifier == nil {
		return trace.BadParameter("missing proof verifier")
	}
	if c.MPC == nil {
		return trace.BadParameter("missing MPC engine")
	}
	if c.Shares == nil {
		return trace.BadParameter("missing share store")
	}
	if c.PlayerData == nil {
		return trace.BadParameter("missing player data")
	}
	if c.SharingTemplate == "" || c.QueryTemplate == "" {
		return trace.BadParameter("missing MPC program templates")
	}
	if c.WebProtocol == "" {
		c.WebProtocol = defaults.PartyWebProtocol
	}
	if c.MaxDataProviders == 0 {
		c.MaxDataProviders = defaults.MaxDataProviders
	}
	return nil
}

// Engine drives single local MPC executions on behalf of the coordinator.
// Sessions are serialized through a file lock on the share directory, so a
// second engine pointed at the same MP-SPDZ root cannot corrupt the share
// file.
type Engine struct {
	cfg  EngineConfig
	lock *flock.Flock
}

// NewEngine creates a party engine from its configuration.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Shares.Path()), 0o755); err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return &Engine{
		cfg:  cfg,
		lock: flock.New(cfg.Shares.Path() + ".lock"),
	}, nil
}

// PartyCert returns this party's long-lived public certificate.
func (e *Engine) PartyCert() (*client.PartyCertResponse, error) {
	cert, err := e.cfg.PlayerData.ReadPartyCert(e.cfg.PartyID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &client.PartyCertResponse{
		PartyID:  e.cfg.PartyID,
		CertFile: cert,
	}, nil
}

// ShareData runs one sharing session: the proof is verified, the share
// file backed up, and the sharing program rendered, compiled and run
// together with the peer parties. Any failure after the backup restores
// the share file before the error is returned. On success the commitment
// hash from the proof is returned.
func (e *Engine) ShareData(ctx context.Context, req client.RequestSharingDataMPCRequest) (string, error) {
	if req.SecretIndex >= e.cfg.MaxDataProviders {
		return "", trace.BadParameter("secret index %v exceeds the maximum %v",
			req.SecretIndex, e.cfg.MaxDataProviders)
	}

	// No state changes before the proof checks out.
	if _, err := e.cfg.Verifier.Verify(ctx, []byte(req.TLSNProof)); err != nil {
		return "", trace.Wrap(err)
	}
	proofData, err := tlsn.ParseProof([]byte(req.TLSNProof))
	if err != nil {
		return "", trace.Wrap(err)
	}

	if err := e.acquireLock(ctx); err != nil {
		return "", trace.Wrap(err)
	}
	defer e.lock.Unlock()

	backupPath, firstRun, err := e.cfg.Shares.Backup()
	if err != nil {
		return "", trace.Wrap(err)
	}
	log.InfoContext(ctx, "Starting sharing session",
		"secret_index", req.SecretIndex, "first_run", firstRun, "backup", backupPath)

	commitment, err := e.runSharing(ctx, req, proofData, firstRun)
	if err != nil {
		log.ErrorContext(ctx, "Sharing session failed, restoring share file", "error", err)
		if restoreErr := e.cfg.Shares.Restore(backupPath); restoreErr != nil {
			return "", trace.NewAggregate(err, restoreErr)
		}
		return "", trace.Wrap(err)
	}

	if e.cfg.PerformCommitmentCheck && commitment != proofData.CommitmentHash {
		err := trace.BadParameter("commitment mismatch between proof and MPC: %v != %v",
			proofData.CommitmentHash, commitment)
		if restoreErr := e.cfg.Shares.Restore(backupPath); restoreErr != nil {
			return "", trace.NewAggregate(err, restoreErr)
		}
		return "", err
	}
	return proofData.CommitmentHash, nil
}

func (e *Engine) runSharing(ctx context.Context, req client.RequestSharingDataMPCRequest, proofData *tlsn.ProofData, firstRun bool) (string, error) {
	ipFilePath, err := e.writeIPFile(req.MPCPortBase)
	if err != nil {
		return "", trace.Wrap(err)
	}
	defer os.Remove(ipFilePath)

	if err := e.prepareCerts(ctx, req.ClientID, req.ClientCertFile); err != nil {
		return "", trace.Wrap(err)
	}

	circuit := mpspdz.SharingCircuit(req.SecretIndex)
	source := mpspdz.RenderSharingProgram(e.cfg.SharingTemplate, mpspdz.SharingProgramParams{
		SecretIndex:      req.SecretIndex,
		ClientPortBase:   req.ClientPortBase,
		MaxDataProviders: e.cfg.MaxDataProviders,
		InputBytes:       proofData.InputBytes,
		Delta:            proofData.Delta,
		ZeroEncodings:    proofData.ZeroEncodings,
		FirstRun:         firstRun,
	})
	if err := e.cfg.MPC.WriteProgram(circuit, source); err != nil {
		return "", trace.Wrap(err)
	}
	if err := e.cfg.MPC.Compile(ctx, circuit); err != nil {
		return "", trace.Wrap(err)
	}
	stdout, err := e.cfg.MPC.Run(ctx, circuit, ipFilePath)
	if err != nil {
		return "", trace.Wrap(err)
	}
	commitment, err := mpspdz.ParseCommitment(stdout)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return commitment, nil
}

// QueryComputation runs one query session. The share file is read-only
// during queries, so there is no backup; the session fails fast if no
// secret has been contributed yet.
func (e *Engine) QueryComputation(ctx context.Context, req client.RequestQueryComputationMPCRequest) error {
	if !e.cfg.Shares.Exists() {
		return trace.BadParameter("no data available")
	}

	if err := e.acquireLock(ctx); err != nil {
		return trace.Wrap(err)
	}
	defer e.lock.Unlock()

	ipFilePath, err := e.writeIPFile(req.MPCPortBase)
	if err != nil {
		return trace.Wrap(err)
	}
	defer os.Remove(ipFilePath)

	if err := e.prepareCerts(ctx, req.ClientID, req.ClientCertFile); err != nil {
		return trace.Wrap(err)
	}

	circuit := mpspdz.QueryCircuit(req.ClientPortBase)
	source := mpspdz.RenderQueryProgram(e.cfg.QueryTemplate, mpspdz.QueryProgramParams{
		ClientPortBase:   req.ClientPortBase,
		MaxDataProviders: e.cfg.MaxDataProviders,
		NumDataProviders: req.NumDataProviders,
	})
	if err := e.cfg.MPC.WriteProgram(circuit, source); err != nil {
		return trace.Wrap(err)
	}
	if err := e.cfg.MPC.Compile(ctx, circuit); err != nil {
		return trace.Wrap(err)
	}
	log.InfoContext(ctx, "Starting query session", "circuit", circuit)
	if _, err := e.cfg.MPC.Run(ctx, circuit, ipFilePath); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// acquireLock takes the share file lock, retrying until the context is
// done. A lock that cannot be taken before then fails the session.
func (e *Engine) acquireLock(ctx context.Context) error {
	locked, err := e.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return trace.Wrap(err)
	}
	if !locked {
		return trace.LimitExceeded("share file is locked by another session")
	}
	return nil
}

// writeIPFile writes the ephemeral descriptor listing every party's MPC
// endpoint for this session, one host:port per line, to a unique temp
// path.
func (e *Engine) writeIPFile(mpcPortBase int) (string, error) {
	endpoints := make([]string, len(e.cfg.PartyHosts))
	for id, host := range e.cfg.PartyHosts {
		endpoints[id] = fmt.Sprintf("%s:%d", host, mpcPortBase+id)
	}
	path := filepath.Join(os.TempDir(), "mpcoord-ip-"+uuid.NewString())
	if err := os.WriteFile(path, []byte(strings.Join(endpoints, "\n")), 0o644); err != nil {
		return "", trace.ConvertSystemError(err)
	}
	return path, nil
}

// prepareCerts resets the certificate directory for a session: stale
// client material is removed, the client certificate installed, and peer
// party certificates fetched over HTTP.
func (e *Engine) prepareCerts(ctx context.Context, clientID int, clientCert string) error {
	if err := e.cfg.PlayerData.CleanStale(); err != nil {
		return trace.Wrap(err)
	}
	if err := e.cfg.PlayerData.InstallClientCert(ctx, clientID, clientCert); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(e.fetchPeerCerts(ctx))
}

func (e *Engine) fetchPeerCerts(ctx context.Context) error {
	var peers []client.PartyEndpoint
	for id, host := range e.cfg.PartyHosts {
		if id == e.cfg.PartyID {
			continue
		}
		peers = append(peers, client.PartyEndpoint{
			PartyID: id,
			Addr:    fmt.Sprintf("%s://%s:%d", e.cfg.WebProtocol, host, e.cfg.PartyPorts[id]),
		})
	}
	certs, err := client.FetchPartyCerts(ctx, e.cfg.APIKey, peers)
	if err != nil {
		return trace.Wrap(err)
	}
	for i, peer := range peers {
		if err := e.cfg.PlayerData.WritePartyCert(peer.PartyID, certs[i]); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}
