// Package session guards session creation against rapid duplicate requests.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// defaultPurgeWindow is how long a reservation is remembered at all.
	defaultPurgeWindow = 5 * time.Second
	// defaultReuseWindow is how recently a reservation must have been made
	// for a new call to be folded into it.
	defaultReuseWindow = 1 * time.Second
)

// DedupCache folds session-create calls arriving in quick succession into a
// single session id. Clients retry /start-session aggressively on flaky
// networks; without this every retry would mint a fresh session row.
type DedupCache struct {
	mu          sync.Mutex
	recent      map[string]time.Time
	purgeWindow time.Duration
	reuseWindow time.Duration
	now         func() time.Time
}

// NewDedupCache returns a cache with the standard 5s purge / 1s reuse windows.
func NewDedupCache() *DedupCache {
	return &DedupCache{
		recent:      make(map[string]time.Time),
		purgeWindow: defaultPurgeWindow,
		reuseWindow: defaultReuseWindow,
		now:         time.Now,
	}
}

// NewDedupCacheWithWindows is used by tests that need compressed timings.
func NewDedupCacheWithWindows(purge, reuse time.Duration, now func() time.Time) *DedupCache {
	if purge <= 0 {
		purge = defaultPurgeWindow
	}
	if reuse <= 0 {
		reuse = defaultReuseWindow
	}
	if now == nil {
		now = time.Now
	}
	return &DedupCache{
		recent:      make(map[string]time.Time),
		purgeWindow: purge,
		reuseWindow: reuse,
		now:         now,
	}
}

// Reserve returns a session id for a create request. A reservation made
// within the reuse window is returned instead of a new id; otherwise a new
// id is minted and recorded. The purge-then-check-then-insert sequence runs
// under one lock so concurrent callers cannot both decide to mint.
func (c *DedupCache) Reserve() (id string, reused bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for sid, at := range c.recent {
		if now.Sub(at) >= c.purgeWindow {
			delete(c.recent, sid)
		}
	}

	for sid, at := range c.recent {
		if now.Sub(at) < c.reuseWindow {
			return sid, true
		}
	}

	id = uuid.NewString()
	c.recent[id] = now
	return id, false
}

// Len reports how many reservations are currently remembered.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recent)
}
