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

package client

// AddUserRequest joins the admission queue under a client-chosen access
// key.
type AddUserRequest struct {
	AccessKey string `json:"access_key"`
}

// AddUserResponse reports the queue admission outcome: SUCCEEDED,
// ALREADY_IN_QUEUE or QUEUE_IS_FULL.
type AddUserResponse struct {
	Result string `json:"result"`
}

// GetPositionRequest looks up the caller's queue position.
type GetPositionRequest struct {
	AccessKey string `json:"access_key"`
}

// GetPositionResponse carries the 0-based position, and the computation key
// once the caller reached the head. Both are null when not applicable.
type GetPositionResponse struct {
	Position       *int    `json:"position"`
	ComputationKey *string `json:"computation_key"`
}

// ValidateComputationKeyRequest checks a computation key without consuming
// it.
type ValidateComputationKeyRequest struct {
	AccessKey      string `json:"access_key"`
	ComputationKey string `json:"computation_key"`
}

// ValidateComputationKeyResponse reports validity.
type ValidateComputationKeyResponse struct {
	IsValid bool `json:"is_valid"`
}

// FinishComputationRequest releases the caller's queue slot.
type FinishComputationRequest struct {
	AccessKey      string `json:"access_key"`
	ComputationKey string `json:"computation_key"`
}

// FinishComputationResponse reports whether the head was popped.
type FinishComputationResponse struct {
	IsFinished bool `json:"is_finished"`
}

// ShareDataRequest starts a sharing session for the queue head.
type ShareDataRequest struct {
	EthAddress     string `json:"eth_address"`
	TLSNProof      string `json:"tlsn_proof"`
	ClientCertFile string `json:"client_cert_file"`
	ClientID       int    `json:"client_id"`
	AccessKey      string `json:"access_key"`
	ComputationKey string `json:"computation_key"`
}

// ShareDataResponse hands back the client port window of the accepted
// session.
type ShareDataResponse struct {
	ClientPortBase int `json:"client_port_base"`
}

// QueryComputationRequest starts a query session for the queue head.
type QueryComputationRequest struct {
	ClientID       int    `json:"client_id"`
	ClientCertFile string `json:"client_cert_file"`
	AccessKey      string `json:"access_key"`
	ComputationKey string `json:"computation_key"`
}

// QueryComputationResponse hands back the client port window of the
// accepted session.
type QueryComputationResponse struct {
	ClientPortBase int `json:"client_port_base"`
}

// HasAddressSharedDataResponse reports whether an address completed a
// sharing session.
type HasAddressSharedDataResponse struct {
	HasSharedData bool `json:"has_shared_data"`
}

// PartyCertResponse is a party's long-lived public certificate.
type PartyCertResponse struct {
	PartyID  int    `json:"party_id"`
	CertFile string `json:"cert_file"`
}

// RequestSharingDataMPCRequest asks one party to join a sharing session.
type RequestSharingDataMPCRequest struct {
	TLSNProof      string `json:"tlsn_proof"`
	MPCPortBase    int    `json:"mpc_port_base"`
	SecretIndex    int    `json:"secret_index"`
	ClientID       int    `json:"client_id"`
	ClientPortBase int    `json:"client_port_base"`
	ClientCertFile string `json:"client_cert_file"`
}

// RequestSharingDataMPCResponse carries the commitment the party computed
// over the MPC.
type RequestSharingDataMPCResponse struct {
	DataCommitment string `json:"data_commitment"`
}

// RequestQueryComputationMPCRequest asks one party to join a query session.
type RequestQueryComputationMPCRequest struct {
	NumDataProviders int    `json:"num_data_providers"`
	MPCPortBase      int    `json:"mpc_port_base"`
	ClientID         int    `json:"client_id"`
	ClientPortBase   int    `json:"client_port_base"`
	ClientCertFile   string `json:"client_cert_file"`
}

// RequestQueryComputationMPCResponse is empty; a 200 status signals
// success.
type RequestQueryComputationMPCResponse struct{}

// AggregateStatistics is the cached consumer-facing result of a query
// computation.
type AggregateStatistics struct {
	NumDataProviders int     `json:"num_data_providers"`
	Max              float64 `json:"max"`
	Mean             float64 `json:"mean"`
	Median           float64 `json:"median"`
	GiniCoefficient  float64 `json:"gini_coefficient"`
}
