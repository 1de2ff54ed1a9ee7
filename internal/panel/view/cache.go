package view

import (
	"sync"

	v1 "github.com/sebas/opdesk/api/types/v1"
	"github.com/sebas/opdesk/internal/panel/scope"
	"github.com/sebas/opdesk/internal/panel/state"
)

// maxCachedScopes bounds the cache; beyond it, projections for scopes that
// fell behind the current revision are dropped.
const maxCachedScopes = 256

// Cache shares projections between subscribers with identical scopes. An
// entry is valid only for the exact revision it was built from, so the cache
// is purely an optimization and never affects what a subscriber sees.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	revision uint64
	view     *v1.View
}

// NewCache returns an empty projection cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Project returns the view for the snapshot and predicate, reusing the
// cached projection when one exists for the same scope and revision.
func (c *Cache) Project(snap *state.Snapshot, pred *scope.Predicate) *v1.View {
	fp := pred.Fingerprint()

	c.mu.Lock()
	if e, ok := c.entries[fp]; ok && e.revision == snap.Revision {
		c.mu.Unlock()
		return e.view
	}
	c.mu.Unlock()

	v := Project(snap, pred)

	c.mu.Lock()
	if len(c.entries) >= maxCachedScopes {
		for key, e := range c.entries {
			if e.revision != snap.Revision {
				delete(c.entries, key)
			}
		}
	}
	c.entries[fp] = cacheEntry{revision: snap.Revision, view: v}
	c.mu.Unlock()
	return v
}
