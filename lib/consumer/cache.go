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
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/mpcoord/lib/client"
	"github.com/gravitational/mpcoord/lib/defaults"
)

// CacheConfig configures the aggregate statistics cache.
type CacheConfig struct {
	// Runner runs the query computations that feed the cache.
	Runner QueryRunner
	// TTL is the refresh period.
	TTL time.Duration
	// Clock paces the periodic refresh.
	Clock clockwork.Clock
}

// CheckAndSetDefaults checks and sets default values
func (c *CacheConfig) CheckAndSetDefaults() error {
	if c.Runner == nil {
		return trace.BadParameter("missing query runner")
	}
	if c.TTL == 0 {
		c.TTL = defaults.CacheTTL
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Cache holds the single consumer-facing aggregate. The first Get
// populates it synchronously and starts the periodic refresher; later Gets
// return the cached value until a refresh overwrites it. Gets racing the
// initial population fail with a ConnectionProblem error, which the API
// layer reports as 503.
type Cache struct {
	cfg CacheConfig

	mu         sync.Mutex
	current    *client.AggregateStatistics
	populating bool

	startOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}
}

// NewCache creates a cache from its configuration.
func NewCache(cfg CacheConfig) (*Cache, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Cache{cfg: cfg, closed: make(chan struct{})}, nil
}

// Get returns the cached aggregate, populating the cache on first use.
func (c *Cache) Get(ctx context.Context) (*client.AggregateStatistics, error) {
	c.mu.Lock()
	if c.current != nil {
		cached := *c.current
		c.mu.Unlock()
		return &cached, nil
	}
	if c.populating {
		c.mu.Unlock()
		return nil, trace.ConnectionProblem(nil, "statistics cache is still initializing")
	}
	c.populating = true
	c.mu.Unlock()

	result, err := c.refresh(ctx)
	c.mu.Lock()
	c.populating = false
	c.mu.Unlock()
	if err != nil {
		return nil, trace.Wrap(err)
	}

	// the refresher is started once, on the first successful population
	c.startOnce.Do(func() {
		go c.refreshLoop()
	})
	return result, nil
}

// Close stops the background refresher.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

func (c *Cache) refresh(ctx context.Context) (*client.AggregateStatistics, error) {
	values, err := c.cfg.Runner.RunQuery(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	result, err := Aggregate(values)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	c.mu.Lock()
	c.current = result
	c.mu.Unlock()

	cached := *result
	return &cached, nil
}

func (c *Cache) refreshLoop() {
	ticker := c.cfg.Clock.NewTicker(c.cfg.TTL)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.Chan():
			if _, err := c.refresh(context.Background()); err != nil {
				// keep serving the stale aggregate until the next tick
				log.Warn("Cache refresh failed", "error", err)
			}
		}
	}
}
