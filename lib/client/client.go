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

// Package client implements HTTP clients for the coordinator and party
// APIs, together with the wire types shared by servers and clients.
package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"

	"github.com/gravitational/mpcoord"
	"github.com/gravitational/mpcoord/lib/defaults"
	logutils "github.com/gravitational/mpcoord/lib/utils/log"
)

var log = logutils.NewPackageLogger(mpcoord.ComponentKey, mpcoord.ComponentClient)

// headerTransport injects a static header into every outgoing request;
// used to attach the shared party API key.
type headerTransport struct {
	header string
	value  string
	next   http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set(t.header, t.value)
	return t.next.RoundTrip(req)
}

// PartyClient talks to one computation party server.
type PartyClient struct {
	clt *roundtrip.Client
}

// NewPartyClient creates a client for the party server at addr, e.g.
// "http://party0:8006". The apiKey, when non-empty, is attached to every
// request. Dials are bounded so an unreachable party fails fast, while
// in-flight MPC requests may run for as long as their context allows.
func NewPartyClient(addr, apiKey string) (*PartyClient, error) {
	transport := http.RoundTripper(&http.Transport{
		DialContext: (&net.Dialer{Timeout: defaults.PeerDialTimeout}).DialContext,
	})
	if apiKey != "" {
		transport = &headerTransport{
			header: mpcoord.APIKeyHeader,
			value:  apiKey,
			next:   transport,
		}
	}
	clt, err := roundtrip.NewClient(addr, "", roundtrip.HTTPClient(&http.Client{Transport: transport}))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &PartyClient{clt: clt}, nil
}

// GetPartyCert fetches the party's long-lived public certificate.
func (c *PartyClient) GetPartyCert(ctx context.Context) (*PartyCertResponse, error) {
	out, err := c.clt.Get(ctx, c.clt.Endpoint("get_party_cert"), url.Values{})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var response PartyCertResponse
	if err := unmarshalResponse(out, &response); err != nil {
		return nil, trace.Wrap(err)
	}
	return &response, nil
}

// RequestSharingDataMPC asks the party to join a sharing session and
// returns the commitment it computed over the MPC.
func (c *PartyClient) RequestSharingDataMPC(ctx context.Context, req RequestSharingDataMPCRequest) (*RequestSharingDataMPCResponse, error) {
	out, err := c.clt.PostJSON(ctx, c.clt.Endpoint("request_sharing_data_mpc"), req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var response RequestSharingDataMPCResponse
	if err := unmarshalResponse(out, &response); err != nil {
		return nil, trace.Wrap(err)
	}
	return &response, nil
}

// RequestQueryComputationMPC asks the party to join a query session.
func (c *PartyClient) RequestQueryComputationMPC(ctx context.Context, req RequestQueryComputationMPCRequest) error {
	out, err := c.clt.PostJSON(ctx, c.clt.Endpoint("request_querying_computation_mpc"), req)
	if err != nil {
		return trace.Wrap(err)
	}
	var response RequestQueryComputationMPCResponse
	return trace.Wrap(unmarshalResponse(out, &response))
}

// CoordinatorClient talks to the coordinator's public API.
type CoordinatorClient struct {
	clt *roundtrip.Client
}

// NewCoordinatorClient creates a client for the coordinator at addr.
func NewCoordinatorClient(addr string) (*CoordinatorClient, error) {
	clt, err := roundtrip.NewClient(addr, "")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &CoordinatorClient{clt: clt}, nil
}

// AddUserToQueue appends the access key to the admission queue.
func (c *CoordinatorClient) AddUserToQueue(ctx context.Context, accessKey string) (string, error) {
	return c.addUser(ctx, "add_user_to_queue", accessKey)
}

// AddPriorityUserToQueue inserts the access key right behind the queue
// head.
func (c *CoordinatorClient) AddPriorityUserToQueue(ctx context.Context, accessKey string) (string, error) {
	return c.addUser(ctx, "add_priority_user_to_queue", accessKey)
}

func (c *CoordinatorClient) addUser(ctx context.Context, endpoint, accessKey string) (string, error) {
	out, err := c.clt.PostJSON(ctx, c.clt.Endpoint(endpoint), AddUserRequest{AccessKey: accessKey})
	if err != nil {
		return "", trace.Wrap(err)
	}
	var response AddUserResponse
	if err := unmarshalResponse(out, &response); err != nil {
		return "", trace.Wrap(err)
	}
	return response.Result, nil
}

// GetPosition returns the caller's queue position and, at the head, the
// computation key.
func (c *CoordinatorClient) GetPosition(ctx context.Context, accessKey string) (*GetPositionResponse, error) {
	out, err := c.clt.PostJSON(ctx, c.clt.Endpoint("get_position"), GetPositionRequest{AccessKey: accessKey})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var response GetPositionResponse
	if err := unmarshalResponse(out, &response); err != nil {
		return nil, trace.Wrap(err)
	}
	return &response, nil
}

// ValidateComputationKey checks the key without consuming the queue slot.
func (c *CoordinatorClient) ValidateComputationKey(ctx context.Context, accessKey, computationKey string) (bool, error) {
	out, err := c.clt.PostJSON(ctx, c.clt.Endpoint("validate_computation_key"), ValidateComputationKeyRequest{
		AccessKey:      accessKey,
		ComputationKey: computationKey,
	})
	if err != nil {
		return false, trace.Wrap(err)
	}
	var response ValidateComputationKeyResponse
	if err := unmarshalResponse(out, &response); err != nil {
		return false, trace.Wrap(err)
	}
	return response.IsValid, nil
}

// FinishComputation releases the caller's queue slot.
func (c *CoordinatorClient) FinishComputation(ctx context.Context, accessKey, computationKey string) (bool, error) {
	out, err := c.clt.PostJSON(ctx, c.clt.Endpoint("finish_computation"), FinishComputationRequest{
		AccessKey:      accessKey,
		ComputationKey: computationKey,
	})
	if err != nil {
		return false, trace.Wrap(err)
	}
	var response FinishComputationResponse
	if err := unmarshalResponse(out, &response); err != nil {
		return false, trace.Wrap(err)
	}
	return response.IsFinished, nil
}

// ShareData starts a sharing session; the caller must hold the head
// computation key.
func (c *CoordinatorClient) ShareData(ctx context.Context, req ShareDataRequest) (*ShareDataResponse, error) {
	out, err := c.clt.PostJSON(ctx, c.clt.Endpoint("share_data"), req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var response ShareDataResponse
	if err := unmarshalResponse(out, &response); err != nil {
		return nil, trace.Wrap(err)
	}
	return &response, nil
}

// QueryComputation starts a query session; the caller must hold the head
// computation key.
func (c *CoordinatorClient) QueryComputation(ctx context.Context, req QueryComputationRequest) (*QueryComputationResponse, error) {
	out, err := c.clt.PostJSON(ctx, c.clt.Endpoint("query_computation"), req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var response QueryComputationResponse
	if err := unmarshalResponse(out, &response); err != nil {
		return nil, trace.Wrap(err)
	}
	return &response, nil
}

// HasAddressSharedData reports whether the address already completed a
// sharing session.
func (c *CoordinatorClient) HasAddressSharedData(ctx context.Context, ethAddress string) (bool, error) {
	out, err := c.clt.Get(ctx, c.clt.Endpoint("has_address_shared_data"), url.Values{
		"eth_address": []string{ethAddress},
	})
	if err != nil {
		return false, trace.Wrap(err)
	}
	var response HasAddressSharedDataResponse
	if err := unmarshalResponse(out, &response); err != nil {
		return false, trace.Wrap(err)
	}
	return response.HasSharedData, nil
}

// unmarshalResponse converts non-2xx responses into trace errors carrying
// the server's detail message, and decodes successful bodies into val.
func unmarshalResponse(resp *roundtrip.Response, val any) error {
	if err := responseError(resp); err != nil {
		return trace.Wrap(err)
	}
	if err := json.Unmarshal(resp.Bytes(), val); err != nil {
		return trace.BadParameter("failed to decode response: %v", err)
	}
	return nil
}

func responseError(resp *roundtrip.Response) error {
	code := resp.Code()
	if code >= http.StatusOK && code < http.StatusMultipleChoices {
		return nil
	}
	var body struct {
		Detail string `json:"detail"`
	}
	_ = json.Unmarshal(resp.Bytes(), &body)
	message := body.Detail
	if message == "" {
		message = string(resp.Bytes())
	}
	switch code {
	case http.StatusBadRequest:
		return trace.BadParameter("%s", message)
	case http.StatusForbidden:
		return trace.AccessDenied("%s", message)
	case http.StatusNotFound:
		return trace.NotFound("%s", message)
	case http.StatusConflict:
		return trace.AlreadyExists("%s", message)
	case http.StatusTooManyRequests:
		return trace.LimitExceeded("%s", message)
	case http.StatusServiceUnavailable:
		return trace.ConnectionProblem(nil, "%s", message)
	}
	return trace.Errorf("unexpected status %v: %s", code, message)
}
