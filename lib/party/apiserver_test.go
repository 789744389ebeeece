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
	"net/http/httptest"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/mpcoord/lib/client"
)

func newTestAPIServer(t *testing.T) (*httptest.Server, *engineFixture) {
	t.Helper()
	fx := newEngineFixture(t, okVerifier())
	srv, err := NewAPIServer(APIServerConfig{Engine: fx.engine, APIKey: "sekrit"})
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, fx
}

func TestAPIServerGetPartyCertIsPublic(t *testing.T) {
	t.Parallel()
	ts, _ := newTestAPIServer(t)

	// no API key on purpose
	clt, err := client.NewPartyClient(ts.URL, "")
	require.NoError(t, err)

	resp, err := clt.GetPartyCert(t.Context())
	require.NoError(t, err)
	require.Equal(t, 0, resp.PartyID)
	require.Equal(t, "own cert", resp.CertFile)
}

func TestAPIServerRejectsMissingAPIKey(t *testing.T) {
	t.Parallel()
	ts, fx := newTestAPIServer(t)

	clt, err := client.NewPartyClient(ts.URL, "wrong")
	require.NoError(t, err)

	_, err = clt.RequestSharingDataMPC(t.Context(), sharingRequest(t))
	require.True(t, trace.IsAccessDenied(err))
	require.Empty(t, fx.mpc.ran)
}

func TestAPIServerSharingRoundTrip(t *testing.T) {
	t.Parallel()
	ts, fx := newTestAPIServer(t)

	clt, err := client.NewPartyClient(ts.URL, "sekrit")
	require.NoError(t, err)

	resp, err := clt.RequestSharingDataMPC(t.Context(), sharingRequest(t))
	require.NoError(t, err)
	require.Equal(t, testCommitment, resp.DataCommitment)
	require.Equal(t, []string{"share_data_0"}, fx.mpc.ran)
}

func TestAPIServerQueryRoundTrip(t *testing.T) {
	t.Parallel()
	ts, fx := newTestAPIServer(t)

	// seed shares so the query does not fail fast
	_, err := fx.engine.ShareData(t.Context(), sharingRequest(t))
	require.NoError(t, err)

	clt, err := client.NewPartyClient(ts.URL, "sekrit")
	require.NoError(t, err)

	err = clt.RequestQueryComputationMPC(t.Context(), client.RequestQueryComputationMPCRequest{
		NumDataProviders: 1,
		MPCPortBase:      8010,
		ClientID:         5,
		ClientPortBase:   8019,
		ClientCertFile:   "client cert",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"share_data_0", "query_computation_8019"}, fx.mpc.ran)
}
