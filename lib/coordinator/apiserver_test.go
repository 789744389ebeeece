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
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/mpcoord/lib/client"
)

func newTestAPI(t *testing.T, numParties int) (*client.CoordinatorClient, *coordFixture) {
	t.Helper()
	fx := newCoordFixture(t, numParties, nil)
	srv, err := NewAPIServer(fx.coordinator)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	clt, err := client.NewCoordinatorClient(ts.URL)
	require.NoError(t, err)
	return clt, fx
}

func TestAPIQueueLifecycle(t *testing.T) {
	t.Parallel()
	clt, _ := newTestAPI(t, 1)
	ctx := t.Context()

	result, err := clt.AddUserToQueue(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "SUCCEEDED", result)

	result, err = clt.AddUserToQueue(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "ALREADY_IN_QUEUE", result)

	position, err := clt.GetPosition(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, position.Position)
	require.Zero(t, *position.Position)
	require.NotNil(t, position.ComputationKey)
	key := *position.ComputationKey

	valid, err := clt.ValidateComputationKey(ctx, "a", key)
	require.NoError(t, err)
	require.True(t, valid)

	finished, err := clt.FinishComputation(ctx, "a", key)
	require.NoError(t, err)
	require.True(t, finished)

	// idempotence: second finish is a no-op returning false
	finished, err = clt.FinishComputation(ctx, "a", key)
	require.NoError(t, err)
	require.False(t, finished)

	position, err = clt.GetPosition(ctx, "a")
	require.NoError(t, err)
	require.Nil(t, position.Position)
	require.Nil(t, position.ComputationKey)
}

func TestAPIPriorityInsertion(t *testing.T) {
	t.Parallel()
	clt, _ := newTestAPI(t, 1)
	ctx := t.Context()

	for _, accessKey := range []string{"a", "b"} {
		_, err := clt.AddUserToQueue(ctx, accessKey)
		require.NoError(t, err)
	}
	result, err := clt.AddPriorityUserToQueue(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, "SUCCEEDED", result)

	expected := map[string]int{"a": 0, "c": 1, "b": 2}
	for accessKey, want := range expected {
		position, err := clt.GetPosition(ctx, accessKey)
		require.NoError(t, err)
		require.NotNil(t, position.Position)
		require.Equal(t, want, *position.Position, "position of %q", accessKey)
	}
}

func TestAPIShareDataRoundTrip(t *testing.T) {
	t.Parallel()
	clt, fx := newTestAPI(t, 3)
	ctx := t.Context()

	_, err := clt.AddUserToQueue(ctx, "a")
	require.NoError(t, err)
	position, err := clt.GetPosition(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, position.ComputationKey)

	resp, err := clt.ShareData(ctx, shareRequest(t, "a", *position.ComputationKey))
	require.NoError(t, err)
	require.Equal(t, 8013, resp.ClientPortBase)

	shared, err := clt.HasAddressSharedData(ctx, "0xAB")
	require.NoError(t, err)
	require.True(t, shared)

	count, err := fx.store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
