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

// Package consumer implements the data consumer API: a cached aggregate
// over all contributed secrets, refreshed by running query computations
// against the cluster.
package consumer

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/mpcoord"
	"github.com/gravitational/mpcoord/lib/client"
	"github.com/gravitational/mpcoord/lib/utils"
	logutils "github.com/gravitational/mpcoord/lib/utils/log"
)

var log = logutils.NewPackageLogger(mpcoord.ComponentKey, mpcoord.ComponentConsumer)

// QueryRunner runs one query computation against the cluster and returns
// the per-provider values it revealed.
type QueryRunner interface {
	RunQuery(ctx context.Context) ([]float64, error)
}

// QueryRunnerFunc adapts a function to QueryRunner.
type QueryRunnerFunc func(ctx context.Context) ([]float64, error)

// RunQuery implements QueryRunner.
func (f QueryRunnerFunc) RunQuery(ctx context.Context) ([]float64, error) {
	return f(ctx)
}

// MPCQueryClient performs the low-level client side of a query MPC: the
// socket handshake with the parties on the session's client port window.
// The protocol itself is owned by the MPC toolchain and stays opaque here.
type MPCQueryClient interface {
	RunQueryClient(ctx context.Context, clientPortBase, clientID int) ([]float64, error)
}

// SessionRunnerConfig configures a SessionRunner.
type SessionRunnerConfig struct {
	// Coordinator is the coordinator's public API client.
	Coordinator *client.CoordinatorClient
	// MPC performs the client side of the query MPC.
	MPC MPCQueryClient
	// ClientID identifies the consumer towards the parties.
	ClientID int
	// ClientCert is the consumer's certificate, installed on every party
	// for the session.
	ClientCert string
	// PollInterval is how often the queue position is polled while
	// waiting for the head.
	PollInterval time.Duration
	// Clock paces the queue polling.
	Clock clockwork.Clock
}

// CheckAndSetDefaults checks and sets default values
func (c *SessionRunnerConfig) CheckAndSetDefaults() error {
	if c.Coordinator == nil {
		return trace.BadParameter("missing coordinator client")
	}
	if c.MPC == nil {
		return trace.BadParameter("missing MPC query client")
	}
	if c.ClientCert == "" {
		return trace.BadParameter("missing client certificate")
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// SessionRunner drives a whole consumer query session: it is admitted
// through the queue on the priority path, waits for the head, starts the
// query computation and joins the MPC as the client.
type SessionRunner struct {
	cfg SessionRunnerConfig
}

// NewSessionRunner creates a session runner from its configuration.
func NewSessionRunner(cfg SessionRunnerConfig) (*SessionRunner, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &SessionRunner{cfg: cfg}, nil
}

// RunQuery implements QueryRunner.
func (r *SessionRunner) RunQuery(ctx context.Context) ([]float64, error) {
	accessKey, err := utils.CryptoRandomToken(16)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	// scheduled refreshes go in on the priority path so they are not
	// starved by the data provider queue
	result, err := r.cfg.Coordinator.AddPriorityUserToQueue(ctx, accessKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if result != "SUCCEEDED" {
		return nil, trace.LimitExceeded("queue admission failed: %v", result)
	}

	computationKey, err := r.waitForHead(ctx, accessKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer func() {
		// release the head no matter how the session went
		if _, err := r.cfg.Coordinator.FinishComputation(context.WithoutCancel(ctx), accessKey, computationKey); err != nil {
			log.Warn("Failed to finish computation", "error", err)
		}
	}()

	resp, err := r.cfg.Coordinator.QueryComputation(ctx, client.QueryComputationRequest{
		ClientID:       r.cfg.ClientID,
		ClientCertFile: r.cfg.ClientCert,
		AccessKey:      accessKey,
		ComputationKey: computationKey,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	values, err := r.cfg.MPC.RunQueryClient(ctx, resp.ClientPortBase, r.cfg.ClientID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return values, nil
}

func (r *SessionRunner) waitForHead(ctx context.Context, accessKey string) (string, error) {
	for {
		position, err := r.cfg.Coordinator.GetPosition(ctx, accessKey)
		if err != nil {
			return "", trace.Wrap(err)
		}
		if position.Position == nil {
			return "", trace.NotFound("dropped from the queue while waiting for the head")
		}
		if position.ComputationKey != nil {
			return *position.ComputationKey, nil
		}
		select {
		case <-ctx.Done():
			return "", trace.Wrap(ctx.Err())
		case <-r.cfg.Clock.After(r.cfg.PollInterval):
		}
	}
}
