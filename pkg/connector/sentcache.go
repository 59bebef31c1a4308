// Copyright 2024-2026 Aiku AI

package connector

import (
	"sync"
	"time"

	"github.com/aiku/q2tg/pkg/qq"
)

const sentCacheTTL = 10 * time.Minute

type sentKey struct {
	room qq.RoomID
	seq  int64
}

// sentCache remembers the QQ messages the bridge sent itself, so that their
// echoes are dropped even when the platform strips the marker element.
type sentCache struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	items     map[sentKey]time.Time
	lastSweep time.Time
}

func newSentCache(ttl time.Duration) *sentCache {
	return &sentCache{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[sentKey]time.Time),
	}
}

func (c *sentCache) add(room qq.RoomID, seq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if now.Sub(c.lastSweep) > c.ttl {
		for key, expiry := range c.items {
			if now.After(expiry) {
				delete(c.items, key)
			}
		}
		c.lastSweep = now
	}
	c.items[sentKey{room, seq}] = now.Add(c.ttl)
}

func (c *sentCache) has(room qq.RoomID, seq int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiry, ok := c.items[sentKey{room, seq}]
	return ok && c.now().Before(expiry)
}
