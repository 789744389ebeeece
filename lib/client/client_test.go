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

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/mpcoord"
)

func TestPartyClientSendsAPIKey(t *testing.T) {
	t.Parallel()
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(mpcoord.APIKeyHeader)
		json.NewEncoder(w).Encode(PartyCertResponse{PartyID: 2, CertFile: "cert"})
	}))
	defer srv.Close()

	clt, err := NewPartyClient(srv.URL, "sekrit")
	require.NoError(t, err)

	resp, err := clt.GetPartyCert(t.Context())
	require.NoError(t, err)
	require.Equal(t, "sekrit", gotKey)
	require.Equal(t, 2, resp.PartyID)
	require.Equal(t, "cert", resp.CertFile)
}

func TestCoordinatorClientErrorMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code  int
		check func(error) bool
	}{
		{http.StatusBadRequest, trace.IsBadParameter},
		{http.StatusForbidden, trace.IsAccessDenied},
		{http.StatusNotFound, trace.IsNotFound},
		{http.StatusTooManyRequests, trace.IsLimitExceeded},
		{http.StatusServiceUnavailable, trace.IsConnectionProblem},
	}
	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
			json.NewEncoder(w).Encode(map[string]string{"detail": "nope"})
		}))

		clt, err := NewCoordinatorClient(srv.URL)
		require.NoError(t, err)

		_, err = clt.GetPosition(t.Context(), "key")
		require.Error(t, err, "status %v", tc.code)
		require.True(t, tc.check(err), "status %v mapped to %v", tc.code, err)
		require.Contains(t, err.Error(), "nope")
		srv.Close()
	}
}

func TestFetchPartyCerts(t *testing.T) {
	t.Parallel()
	newPartyServer := func(id int) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(PartyCertResponse{PartyID: id, CertFile: "cert-" + string(rune('0'+id))})
		}))
	}
	srv0 := newPartyServer(0)
	defer srv0.Close()
	srv1 := newPartyServer(1)
	defer srv1.Close()

	certs, err := FetchPartyCerts(t.Context(), "", []PartyEndpoint{
		{PartyID: 0, Addr: srv0.URL},
		{PartyID: 1, Addr: srv1.URL},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"cert-0", "cert-1"}, certs)
}

func TestFetchPartyCertsIdentityMismatch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PartyCertResponse{PartyID: 7, CertFile: "cert"})
	}))
	defer srv.Close()

	_, err := FetchPartyCerts(t.Context(), "", []PartyEndpoint{{PartyID: 0, Addr: srv.URL}})
	require.True(t, trace.IsBadParameter(err))
	require.Contains(t, err.Error(), "expected 0")
}
