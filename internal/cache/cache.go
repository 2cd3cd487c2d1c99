// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache implements §4.G's single-writer/many-reader response
// cache: the last produced (gzip-compressed) body, or the last
// terminal error, served to every reader until it expires, at which
// point exactly one reader recomputes it while the rest fall back to
// the stale value.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotInitialized is returned by Get when the cache has never been
// populated and the writer lock is currently held by another caller —
// §7's CacheNotInitialized, "treat it as compute now" for the caller
// that does hold the lock, and as "nothing to serve yet" for everyone
// else.
var ErrNotInitialized = errors.New("cache: not yet initialized")

// Compute produces a fresh body or a terminal error to cache in its place.
type Compute func(ctx context.Context) ([]byte, error)

// Cache guards one cached (body, err) pair behind a try-acquire-write
// discipline (§9 "Cache single-writer"): a caller that cannot take the
// write lock because another writer holds it serves the stale read
// instead of queueing, bounding staleness by write duration.
type Cache struct {
	ttl time.Duration

	// mu is held by the single writer for the whole compute; dataMu
	// guards the fields below and is only held briefly, so readers never
	// wait on a running compute.
	mu          sync.Mutex
	dataMu      sync.RWMutex
	initialized bool
	body        []byte
	err         error
	expiresAt   time.Time
}

// New returns a Cache whose entries are considered fresh for ttl after
// each write.
func New(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl}
}

// Get returns the cached (body, err) pair if still fresh. Otherwise
// the first caller to observe staleness runs compute and repopulates
// the cache; any caller that finds the write lock already held serves
// the previous value (or ErrNotInitialized if there is none yet).
func (c *Cache) Get(ctx context.Context, compute Compute) ([]byte, error) {
	if body, err, ok := c.readFresh(); ok {
		return body, err
	}

	if !c.mu.TryLock() {
		return c.readStale()
	}
	defer c.mu.Unlock()

	// Another writer may have refreshed the entry between the fresh
	// check above and taking the lock; re-check before doing the work
	// again.
	if body, err, ok := c.readFresh(); ok {
		return body, err
	}

	body, err := compute(ctx)
	c.dataMu.Lock()
	c.body = body
	c.err = err
	c.initialized = true
	c.expiresAt = time.Now().Add(c.ttl)
	c.dataMu.Unlock()
	return body, err
}

func (c *Cache) readFresh() (body []byte, err error, ok bool) {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	if !c.initialized || !time.Now().Before(c.expiresAt) {
		return nil, nil, false
	}
	return c.body, c.err, true
}

func (c *Cache) readStale() ([]byte, error) {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	if !c.initialized {
		return nil, ErrNotInitialized
	}
	return c.body, c.err
}
