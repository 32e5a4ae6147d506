package service

import (
	"strings"
	"sync"
	"time"
)

// seenCache pre-filters repeat impressions from one rendered session before
// they reach the database guard. Process-local on purpose: a miss after a
// restart or on another replica just falls through to the window check.
type seenCache struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	ttl       time.Duration
	lastSweep time.Time
}

func newSeenCache(ttl time.Duration) *seenCache {
	return &seenCache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
	}
}

// seen reports whether the key was marked inside the ttl, marking it
// otherwise.
func (c *seenCache) seen(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastSweep) > c.ttl {
		c.sweepLocked(now)
		c.lastSweep = now
	}

	if at, ok := c.entries[key]; ok && now.Sub(at) < c.ttl {
		return true
	}
	c.entries[key] = now
	return false
}

func (c *seenCache) sweepLocked(now time.Time) {
	for key, at := range c.entries {
		if now.Sub(at) >= c.ttl {
			delete(c.entries, key)
		}
	}
}

func seenKey(parts ...string) string {
	return strings.Join(parts, "|")
}
