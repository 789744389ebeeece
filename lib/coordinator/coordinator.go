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

// Package coordinator implements the session coordinator: the server that
// admits data providers and consumers through the user queue, orchestrates
// MPC sessions across the party cluster and records completed sharing
// sessions.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/gravitational/trace"
	"golang.org/x/sync/errgroup"

	"github.com/gravitational/mpcoord"
	"github.com/gravitational/mpcoord/lib/client"
	"github.com/gravitational/mpcoord/lib/defaults"
	"github.com/gravitational/mpcoord/lib/ports"
	"github.com/gravitational/mpcoord/lib/queue"
	"github.com/gravitational/mpcoord/lib/storage"
	"github.com/gravitational/mpcoord/lib/tlsn"
	logutils "github.com/gravitational/mpcoord/lib/utils/log"
)

var log = logutils.NewPackageLogger(mpcoord.ComponentKey, mpcoord.ComponentCoordinator)

// Config configures a coordinator.
type Config struct {
	// PartyHosts are the party hostnames, indexed by party ID.
	PartyHosts []string
	// PartyPorts are the party API ports, indexed by party ID.
	PartyPorts []int
	// WebProtocol is the scheme used to reach the parties.
	WebProtocol string
	// APIKey authenticates the coordinator to the parties.
	APIKey string
	// MaxClientID is the exclusive upper bound on client ids.
	MaxClientID int
	// ProhibitMultipleContributions rejects a second sharing session for
	// a uid already on record.
	ProhibitMultipleContributions bool
	// PerformCommitmentCheck requires the parties' commitment to match
	// the hash extracted from the proof.
	PerformCommitmentCheck bool
	// FanoutTimeout bounds a whole party fanout.
	FanoutTimeout time.Duration
	// ProofsDir is where accepted proofs are persisted.
	ProofsDir string
	// Queue is the user admission queue.
	Queue *queue.Queue
	// Ports hands out MPC port windows.
	Ports *ports.Allocator
	// Store records completed sharing sessions.
	Store *storage.SessionStore
	// Verifier checks notarization proofs.
	Verifier tlsn.Verifier
}

// CheckAndSetDefaults checks and sets default values
func (c *Config) CheckAndSetDefaults() error {
	if len(c.PartyHosts) == 0 {
		return trace.BadParameter("missing party hosts")
	}
	if len(c.PartyPorts) != len(c.PartyHosts) {
		return trace.BadParameter("party hosts and ports length mismatch: %v != %v",
			len(c.PartyHosts), len(c.PartyPorts))
	}
	if c.Queue == nil {
		return trace.BadParameter("missing user queue")
	}
	if c.Ports == nil {
		return trace.BadParameter("missing port allocator")
	}
	if c.Store == nil {
		return trace.BadParameter("missing session store")
	}
	if c.Verifier == nil {
		return trace.BadParameter("missing proof verifier")
	}
	if c.ProofsDir == "" {
		return trace.BadParameter("missing proofs directory")
	}
	if c.WebProtocol == "" {
		c.WebProtocol = defaults.PartyWebProtocol
	}
	if c.MaxClientID == 0 {
		c.MaxClientID = defaults.MaxClientID
	}
	if c.FanoutTimeout == 0 {
		c.FanoutTimeout = defaults.FanoutTimeout
	}
	return nil
}

// Coordinator orchestrates MPC sessions across the party cluster.
//
// The sharing lock serializes sharing sessions with everything else: a
// sharing session holds it exclusively for its whole fanout, while query
// sessions hold it shared so queries on disjoint port windows may overlap
// but never run concurrently with a sharing session.
type Coordinator struct {
	cfg     Config
	parties []*client.PartyClient

	sharing sync.RWMutex
}

// New creates a coordinator from its configuration.
func New(cfg Config) (*Coordinator, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := os.MkdirAll(cfg.ProofsDir, 0o755); err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	parties := make([]*client.PartyClient, len(cfg.PartyHosts))
	for id, host := range cfg.PartyHosts {
		clt, err := client.NewPartyClient(
			fmt.Sprintf("%s://%s:%d", cfg.WebProtocol, host, cfg.PartyPorts[id]), cfg.APIKey)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		parties[id] = clt
	}
	return &Coordinator{cfg: cfg, parties: parties}, nil
}

// Queue exposes the user admission queue to the API layer.
func (c *Coordinator) Queue() *queue.Queue {
	return c.cfg.Queue
}

// HasAddressShared reports whether the address completed a sharing session.
func (c *Coordinator) HasAddressShared(ctx context.Context, ethAddress string) (bool, error) {
	shared, err := c.cfg.Store.HasAddressShared(ctx, ethAddress)
	return shared, trace.Wrap(err)
}

// ShareData runs a whole sharing session: the head's proof is verified,
// all parties are fanned out to, their commitments cross-checked, and the
// session recorded durably. On success the caller keeps the queue head
// until its follow-up finish_computation; on failure the head is released
// here so an aborted session cannot wedge the queue.
func (c *Coordinator) ShareData(ctx context.Context, req client.ShareDataRequest) (portBase int, err error) {
	if !c.cfg.Queue.ValidateComputationKey(req.AccessKey, req.ComputationKey) {
		return 0, trace.BadParameter("invalid computation key")
	}
	defer func() {
		if err != nil {
			c.releaseQueue(req.AccessKey, req.ComputationKey)
		}
	}()

	if req.ClientID >= c.cfg.MaxClientID {
		return 0, trace.BadParameter("client id %v exceeds the maximum %v", req.ClientID, c.cfg.MaxClientID)
	}

	uid, err := c.cfg.Verifier.Verify(ctx, []byte(req.TLSNProof))
	if err != nil {
		return 0, trace.Wrap(err)
	}
	proofData, err := tlsn.ParseProof([]byte(req.TLSNProof))
	if err != nil {
		return 0, trace.Wrap(err)
	}

	if c.cfg.ProhibitMultipleContributions {
		exists, err := c.cfg.Store.UIDExists(ctx, uid)
		if err != nil {
			return 0, trace.Wrap(err)
		}
		if exists {
			return 0, trace.BadParameter("uid %v has already shared data", uid)
		}
	}

	c.sharing.Lock()
	defer c.sharing.Unlock()

	pair := c.cfg.Ports.SharingPorts()
	secretIndex, err := c.cfg.Store.Count(ctx)
	if err != nil {
		return 0, trace.Wrap(err)
	}

	log.InfoContext(ctx, "Starting sharing session",
		"eth_address", req.EthAddress, "uid", uid, "secret_index", secretIndex)

	commitment, err := c.fanOutSharing(ctx, client.RequestSharingDataMPCRequest{
		TLSNProof:      req.TLSNProof,
		MPCPortBase:    pair.ServerBase,
		SecretIndex:    secretIndex,
		ClientID:       req.ClientID,
		ClientPortBase: pair.ClientBase,
		ClientCertFile: req.ClientCertFile,
	})
	if err != nil {
		return 0, trace.Wrap(err)
	}
	if c.cfg.PerformCommitmentCheck && commitment != proofData.CommitmentHash {
		return 0, trace.BadParameter("commitment mismatch between proof and parties: %v != %v",
			proofData.CommitmentHash, commitment)
	}

	if err := c.persistSession(ctx, req.EthAddress, uid, []byte(req.TLSNProof)); err != nil {
		return 0, trace.Wrap(err)
	}
	return pair.ClientBase, nil
}

// fanOutSharing posts the sharing request to every party concurrently and
// requires all of them to answer with the same commitment.
func (c *Coordinator) fanOutSharing(ctx context.Context, req client.RequestSharingDataMPCRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FanoutTimeout)
	defer cancel()

	commitments := make([]string, len(c.parties))
	group, gctx := errgroup.WithContext(ctx)
	for id, party := range c.parties {
		group.Go(func() error {
			resp, err := party.RequestSharingDataMPC(gctx, req)
			if err != nil {
				// peer failures are server errors regardless of what
				// status the party answered with
				return trace.Errorf("party %v failed: %v", id, err)
			}
			commitments[id] = resp.DataCommitment
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return "", trace.Wrap(err)
	}

	for id, commitment := range commitments {
		if commitment != commitments[0] {
			return "", trace.BadParameter("commitment mismatch across parties: party 0 returned %v, party %v returned %v",
				commitments[0], id, commitment)
		}
	}
	return commitments[0], nil
}

// persistSession writes the accepted proof to disk and records the session.
// The proof file lands atomically at its final path before the record is
// inserted, so a recorded path always points at a complete document.
func (c *Coordinator) persistSession(ctx context.Context, ethAddress string, uid int64, proof []byte) error {
	sessionID, err := c.cfg.Store.NextID(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	proofPath := filepath.Join(c.cfg.ProofsDir, fmt.Sprintf("proof_%d.json", sessionID))
	if err := renameio.WriteFile(proofPath, proof, 0o644); err != nil {
		return trace.Wrap(err)
	}
	if _, err := c.cfg.Store.Insert(ctx, storage.SessionRecord{
		EthAddress: ethAddress,
		UID:        uid,
		ProofPath:  proofPath,
	}); err != nil {
		return trace.Wrap(err)
	}
	log.InfoContext(ctx, "Recorded sharing session", "session_id", sessionID, "proof", proofPath)
	return nil
}

// QueryComputation runs a query session: every party is asked to join a
// query MPC over a fresh port window. Queries share the sharing lock, so
// they wait for an in-flight sharing session but may overlap each other.
func (c *Coordinator) QueryComputation(ctx context.Context, req client.QueryComputationRequest) (portBase int, err error) {
	if !c.cfg.Queue.ValidateComputationKey(req.AccessKey, req.ComputationKey) {
		return 0, trace.BadParameter("invalid computation key")
	}
	defer func() {
		if err != nil {
			c.releaseQueue(req.AccessKey, req.ComputationKey)
		}
	}()

	if req.ClientID >= c.cfg.MaxClientID {
		return 0, trace.BadParameter("client id %v exceeds the maximum %v", req.ClientID, c.cfg.MaxClientID)
	}

	c.sharing.RLock()
	defer c.sharing.RUnlock()

	pair := c.cfg.Ports.QueryPorts()
	numProviders, err := c.cfg.Store.Count(ctx)
	if err != nil {
		return 0, trace.Wrap(err)
	}

	log.InfoContext(ctx, "Starting query session",
		"client_id", req.ClientID, "num_data_providers", numProviders)

	if err := c.fanOutQuery(ctx, client.RequestQueryComputationMPCRequest{
		NumDataProviders: numProviders,
		MPCPortBase:      pair.ServerBase,
		ClientID:         req.ClientID,
		ClientPortBase:   pair.ClientBase,
		ClientCertFile:   req.ClientCertFile,
	}); err != nil {
		return 0, trace.Wrap(err)
	}
	return pair.ClientBase, nil
}

func (c *Coordinator) fanOutQuery(ctx context.Context, req client.RequestQueryComputationMPCRequest) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FanoutTimeout)
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)
	for id, party := range c.parties {
		group.Go(func() error {
			if err := party.RequestQueryComputationMPC(gctx, req); err != nil {
				return trace.Errorf("party %v failed: %v", id, err)
			}
			return nil
		})
	}
	return trace.Wrap(group.Wait())
}

// releaseQueue pops the head after an aborted session. The release is
// idempotent, so a client retrying finish_computation afterwards just gets
// false back.
func (c *Coordinator) releaseQueue(accessKey, computationKey string) {
	if _, err := c.cfg.Queue.FinishComputation(accessKey, computationKey); err != nil {
		log.Warn("Failed to release queue head", "access_key", accessKey, "error", err)
	}
}
