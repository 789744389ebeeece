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

package consumer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	t.Parallel()
	result, err := Aggregate([]float64{4, 1, 3, 2})
	require.NoError(t, err)
	require.Equal(t, 4, result.NumDataProviders)
	require.Equal(t, 4.0, result.Max)
	require.Equal(t, 2.5, result.Mean)
	require.Equal(t, 2.5, result.Median)
	require.InDelta(t, 0.25, result.GiniCoefficient, 1e-9)
}

func TestAggregateEqualValues(t *testing.T) {
	t.Parallel()
	result, err := Aggregate([]float64{7, 7, 7})
	require.NoError(t, err)
	require.Zero(t, result.GiniCoefficient)
	require.Equal(t, 7.0, result.Mean)
}

func TestAggregateEmpty(t *testing.T) {
	t.Parallel()
	_, err := Aggregate(nil)
	require.True(t, trace.IsBadParameter(err))
}

func TestCachePopulatesOnce(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	cache, err := NewCache(CacheConfig{
		Runner: QueryRunnerFunc(func(ctx context.Context) ([]float64, error) {
			calls.Add(1)
			return []float64{1, 2, 3}, nil
		}),
		TTL:   time.Hour,
		Clock: clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	defer cache.Close()

	first, err := cache.Get(t.Context())
	require.NoError(t, err)
	require.Equal(t, 3, first.NumDataProviders)

	second, err := cache.Get(t.Context())
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, int32(1), calls.Load())
}

func TestCacheInitializingReturnsConnectionProblem(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	cache, err := NewCache(CacheConfig{
		Runner: QueryRunnerFunc(func(ctx context.Context) ([]float64, error) {
			<-release
			return []float64{1}, nil
		}),
		TTL:   time.Hour,
		Clock: clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	defer cache.Close()

	populated := make(chan error, 1)
	go func() {
		_, err := cache.Get(context.Background())
		populated <- err
	}()

	// wait until the first Get is inside the runner
	require.Eventually(t, func() bool {
		_, err := cache.Get(t.Context())
		return trace.IsConnectionProblem(err)
	}, 5*time.Second, 10*time.Millisecond)

	close(release)
	require.NoError(t, <-populated)

	// once populated, Gets come from the cache
	result, err := cache.Get(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, result.NumDataProviders)
}

func TestCachePeriodicRefresh(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	cache, err := NewCache(CacheConfig{
		Runner: QueryRunnerFunc(func(ctx context.Context) ([]float64, error) {
			n := calls.Add(1)
			// grow the dataset between refreshes
			values := make([]float64, n)
			for i := range values {
				values[i] = float64(i + 1)
			}
			return values, nil
		}),
		TTL:   time.Minute,
		Clock: clock,
	})
	require.NoError(t, err)
	defer cache.Close()

	first, err := cache.Get(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, first.NumDataProviders)

	// wait for the refresher to arm its ticker, then fire it
	clock.BlockUntil(1)
	clock.Advance(time.Minute)

	require.Eventually(t, func() bool {
		result, err := cache.Get(t.Context())
		return err == nil && result.NumDataProviders == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCacheFailedInitialPopulationRetries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	cache, err := NewCache(CacheConfig{
		Runner: QueryRunnerFunc(func(ctx context.Context) ([]float64, error) {
			if calls.Add(1) == 1 {
				return nil, trace.Errorf("cluster unavailable")
			}
			return []float64{5}, nil
		}),
		TTL:   time.Hour,
		Clock: clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	defer cache.Close()

	_, err = cache.Get(t.Context())
	require.Error(t, err)

	// a later request retries the population instead of caching the error
	result, err := cache.Get(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, result.NumDataProviders)
	require.Equal(t, 5.0, result.Max)
}
