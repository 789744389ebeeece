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

package coordinator

import (
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/mpcoord/lib/client"
	"github.com/gravitational/mpcoord/lib/httplib"
)

// APIServer serves the coordinator's public HTTP API.
type APIServer struct {
	httprouter.Router
	coordinator *Coordinator
}

// NewAPIServer creates a coordinator API server.
func NewAPIServer(coordinator *Coordinator) (*APIServer, error) {
	if coordinator == nil {
		return nil, trace.BadParameter("missing coordinator")
	}
	srv := &APIServer{coordinator: coordinator}

	srv.POST("/add_user_to_queue", httplib.MakeHandler(srv.addUserToQueue))
	srv.POST("/add_priority_user_to_queue", httplib.MakeHandler(srv.addPriorityUserToQueue))
	srv.POST("/get_position", httplib.MakeHandler(srv.getPosition))
	srv.POST("/validate_computation_key", httplib.MakeHandler(srv.validateComputationKey))
	srv.POST("/finish_computation", httplib.MakeHandler(srv.finishComputation))
	srv.POST("/share_data", httplib.MakeHandler(srv.shareData))
	srv.POST("/query_computation", httplib.MakeHandler(srv.queryComputation))
	srv.GET("/has_address_shared_data", httplib.MakeHandler(srv.hasAddressSharedData))

	return srv, nil
}

func (s *APIServer) addUserToQueue(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var req client.AddUserRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	result, err := s.coordinator.Queue().AddUser(req.AccessKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return client.AddUserResponse{Result: result.String()}, nil
}

func (s *APIServer) addPriorityUserToQueue(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var req client.AddUserRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	result, err := s.coordinator.Queue().AddPriorityUser(req.AccessKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return client.AddUserResponse{Result: result.String()}, nil
}

func (s *APIServer) getPosition(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var req client.GetPositionRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	var resp client.GetPositionResponse
	position, ok := s.coordinator.Queue().GetPosition(req.AccessKey)
	if !ok {
		return resp, nil
	}
	resp.Position = &position
	if key, ok := s.coordinator.Queue().GetComputationKey(req.AccessKey); ok {
		resp.ComputationKey = &key
	}
	return resp, nil
}

func (s *APIServer) validateComputationKey(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var req client.ValidateComputationKeyRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	valid := s.coordinator.Queue().ValidateComputationKey(req.AccessKey, req.ComputationKey)
	return client.ValidateComputationKeyResponse{IsValid: valid}, nil
}

func (s *APIServer) finishComputation(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var req client.FinishComputationRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	finished, err := s.coordinator.Queue().FinishComputation(req.AccessKey, req.ComputationKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return client.FinishComputationResponse{IsFinished: finished}, nil
}

func (s *APIServer) shareData(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var req client.ShareDataRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	portBase, err := s.coordinator.ShareData(r.Context(), req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return client.ShareDataResponse{ClientPortBase: portBase}, nil
}

func (s *APIServer) queryComputation(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var req client.QueryComputationRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	portBase, err := s.coordinator.QueryComputation(r.Context(), req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return client.QueryComputationResponse{ClientPortBase: portBase}, nil
}

func (s *APIServer) hasAddressSharedData(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	ethAddress := r.URL.Query().Get("eth_address")
	if ethAddress == "" {
		return nil, trace.BadParameter("missing eth_address")
	}
	shared, err := s.coordinator.HasAddressShared(r.Context(), ethAddress)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return client.HasAddressSharedDataResponse{HasSharedData: shared}, nil
}
