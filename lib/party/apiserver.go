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

package party

import (
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/mpcoord"
	"github.com/gravitational/mpcoord/lib/client"
	"github.com/gravitational/mpcoord/lib/httplib"
)

// APIServerConfig configures a party API server.
type APIServerConfig struct {
	// Engine drives the MPC sessions.
	Engine *Engine
	// APIKey guards the session endpoints; get_party_cert stays public so
	// peers and clients can bootstrap TLS.
	APIKey string
}

// CheckAndSetDefaults checks and sets default values
func (c *APIServerConfig) CheckAndSetDefaults() error {
	if c.Engine == nil {
		return trace.BadParameter("missing engine")
	}
	if c.APIKey == "" {
		return trace.BadParameter("missing API key")
	}
	return nil
}

// APIServer serves the party HTTP API called by the coordinator.
type APIServer struct {
	httprouter.Router
	cfg APIServerConfig
}

// NewAPIServer creates a party API server.
func NewAPIServer(cfg APIServerConfig) (*APIServer, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	srv := &APIServer{cfg: cfg}

	srv.GET("/get_party_cert", httplib.MakeHandler(srv.getPartyCert))
	srv.POST("/request_sharing_data_mpc", httplib.MakeHandler(
		httplib.WithAPIKey(mpcoord.APIKeyHeader, cfg.APIKey, srv.requestSharingDataMPC)))
	srv.POST("/request_querying_computation_mpc", httplib.MakeHandler(
		httplib.WithAPIKey(mpcoord.APIKeyHeader, cfg.APIKey, srv.requestQueryComputationMPC)))

	return srv, nil
}

func (s *APIServer) getPartyCert(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	resp, err := s.cfg.Engine.PartyCert()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return resp, nil
}

func (s *APIServer) requestSharingDataMPC(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var req client.RequestSharingDataMPCRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	commitment, err := s.cfg.Engine.ShareData(r.Context(), req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return client.RequestSharingDataMPCResponse{DataCommitment: commitment}, nil
}

func (s *APIServer) requestQueryComputationMPC(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var req client.RequestQueryComputationMPCRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.cfg.Engine.QueryComputation(r.Context(), req); err != nil {
		return nil, trace.Wrap(err)
	}
	return client.RequestQueryComputationMPCResponse{}, nil
}
