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

// Package queue implements the cluster admission queue. At most one client,
// the queue head, may drive an MPC session at a time; the head is identified
// by a one-time computation key minted when its entry reaches the front.
package queue

import (
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/mpcoord"
	"github.com/gravitational/mpcoord/lib/defaults"
	"github.com/gravitational/mpcoord/lib/utils"
	logutils "github.com/gravitational/mpcoord/lib/utils/log"
)

var log = logutils.NewPackageLogger(mpcoord.ComponentKey,
	mpcoord.Component(mpcoord.ComponentCoordinator, mpcoord.ComponentQueue))

// computationKeyBytes is the entropy of a computation key. 16 bytes keeps
// parity with the tokens issued by earlier deployments.
const computationKeyBytes = 16

// AddResult is the outcome of an attempt to join the queue.
type AddResult int

const (
	// AddSucceeded means the entry was appended.
	AddSucceeded AddResult = iota
	// AddAlreadyInQueue means the access key is already queued.
	AddAlreadyInQueue
	// AddQueueIsFull means the queue reached its size bound.
	AddQueueIsFull
)

// String returns the wire representation of the result.
func (r AddResult) String() string {
	switch r {
	case AddSucceeded:
		return "SUCCEEDED"
	case AddAlreadyInQueue:
		return "ALREADY_IN_QUEUE"
	case AddQueueIsFull:
		return "QUEUE_IS_FULL"
	}
	return "UNKNOWN"
}

// entry is a queued user. timeAtHead is zero until the entry is promoted to
// the front of the queue; computationKey is minted exactly once, at
// promotion.
type entry struct {
	accessKey      string
	computationKey string
	timeAtHead     time.Time
}

// Config configures a user queue.
type Config struct {
	// MaxSize bounds the queue length.
	MaxSize int
	// HeadTimeout is how long the head entry may hold its slot before it
	// is evicted.
	HeadTimeout time.Duration
	// Clock is used for head timestamps, swapped out in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults checks and sets default values
func (c *Config) CheckAndSetDefaults() error {
	if c.MaxSize < 0 {
		return trace.BadParameter("queue size must not be negative")
	}
	if c.MaxSize == 0 {
		c.MaxSize = defaults.UserQueueSize
	}
	if c.HeadTimeout == 0 {
		c.HeadTimeout = defaults.UserQueueHeadTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Queue is a bounded FIFO of users waiting for their turn to run an MPC
// session. Entries are kept in a contiguous slice mirrored by an access-key
// index; the queue exclusively owns its entries, callers only ever hold the
// access key and, while at the head, the computation key.
type Queue struct {
	cfg Config

	mu      sync.RWMutex
	entries []*entry
	index   map[string]int
}

// New creates a user queue from the supplied configuration.
func New(cfg Config) (*Queue, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Queue{
		cfg:   cfg,
		index: make(map[string]int),
	}, nil
}

// AddUser appends the access key to the tail of the queue. If the queue was
// empty the entry is immediately promoted to head.
func (q *Queue) AddUser(accessKey string) (AddResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.evictExpiredHead()

	if result := q.checkAdmission(accessKey); result != AddSucceeded {
		return result, nil
	}
	q.entries = append(q.entries, &entry{accessKey: accessKey})
	q.index[accessKey] = len(q.entries) - 1
	if err := q.promoteHead(); err != nil {
		return AddSucceeded, trace.Wrap(err)
	}
	return AddSucceeded, nil
}

// AddPriorityUser inserts the access key immediately behind the current
// head, never displacing the head or its already-issued computation key. On
// an empty queue it behaves exactly like AddUser.
func (q *Queue) AddPriorityUser(accessKey string) (AddResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.evictExpiredHead()

	if result := q.checkAdmission(accessKey); result != AddSucceeded {
		return result, nil
	}
	if len(q.entries) == 0 {
		q.entries = append(q.entries, &entry{accessKey: accessKey})
	} else {
		q.entries = append(q.entries[:1], append([]*entry{{accessKey: accessKey}}, q.entries[1:]...)...)
	}
	q.reindex()
	if err := q.promoteHead(); err != nil {
		return AddSucceeded, trace.Wrap(err)
	}
	return AddSucceeded, nil
}

// GetPosition returns the 0-based distance of the access key from the head,
// or false if the key is not queued. The call may evict a timed-out head.
func (q *Queue) GetPosition(accessKey string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.evictExpiredHead()

	position, ok := q.index[accessKey]
	return position, ok
}

// GetComputationKey returns the computation key iff the caller is the
// current head.
func (q *Queue) GetComputationKey(accessKey string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.evictExpiredHead()

	position, ok := q.index[accessKey]
	if !ok || position != 0 {
		return "", false
	}
	return q.entries[0].computationKey, true
}

// ValidateComputationKey reports whether the caller is the current head and
// the supplied key matches the one issued on its promotion.
func (q *Queue) ValidateComputationKey(accessKey, computationKey string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.evictExpiredHead()

	return q.isValidHead(accessKey, computationKey)
}

// FinishComputation pops the head if the supplied access and computation
// keys validate, promoting the next entry. The call is idempotent: a second
// invocation returns false and leaves the queue untouched.
func (q *Queue) FinishComputation(accessKey, computationKey string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.evictExpiredHead()

	if !q.isValidHead(accessKey, computationKey) {
		return false, nil
	}
	q.popHead()
	if err := q.promoteHead(); err != nil {
		return true, trace.Wrap(err)
	}
	return true, nil
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

func (q *Queue) checkAdmission(accessKey string) AddResult {
	if len(q.entries) >= q.cfg.MaxSize {
		return AddQueueIsFull
	}
	if _, ok := q.index[accessKey]; ok {
		return AddAlreadyInQueue
	}
	return AddSucceeded
}

func (q *Queue) isValidHead(accessKey, computationKey string) bool {
	position, ok := q.index[accessKey]
	if !ok || position != 0 || computationKey == "" {
		return false
	}
	return q.entries[0].computationKey == computationKey
}

// promoteHead stamps the front entry and mints its computation key if it has
// not been promoted yet.
func (q *Queue) promoteHead() error {
	if len(q.entries) == 0 || !q.entries[0].timeAtHead.IsZero() {
		return nil
	}
	key, err := utils.CryptoRandomToken(computationKeyBytes)
	if err != nil {
		return trace.Wrap(err)
	}
	q.entries[0].timeAtHead = q.cfg.Clock.Now()
	q.entries[0].computationKey = key
	return nil
}

// evictExpiredHead drops the head once it exceeded the timeout; the evicted
// entry is not re-queued. Eviction at exactly the timeout boundary does not
// trigger.
func (q *Queue) evictExpiredHead() {
	if len(q.entries) == 0 {
		return
	}
	head := q.entries[0]
	if head.timeAtHead.IsZero() {
		return
	}
	heldFor := q.cfg.Clock.Now().Sub(head.timeAtHead)
	if heldFor <= q.cfg.HeadTimeout {
		return
	}
	log.Info("Evicting idle queue head", "held_for", heldFor)
	q.popHead()
	// best effort, a failed promotion is retried by the next operation
	_ = q.promoteHead()
}

func (q *Queue) popHead() {
	head := q.entries[0]
	delete(q.index, head.accessKey)
	q.entries = q.entries[1:]
	q.reindex()
}

func (q *Queue) reindex() {
	for i, e := range q.entries {
		q.index[e.accessKey] = i
	}
}
