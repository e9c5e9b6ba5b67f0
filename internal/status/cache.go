package status

import (
	"sort"
	"sync"
	"time"

	"github.com/simon/crabdash/internal/session"
)

// Cache mirrors the live subset of active sessions so reads skip the
// database. It is rebuilt from events after a restart.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]session.Live
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]session.Live)}
}

func (c *Cache) Get(name string) (session.Live, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	return e, ok
}

func (c *Cache) Set(e session.Live) {
	c.mu.Lock()
	c.entries[e.Name] = e
	c.mu.Unlock()
}

func (c *Cache) Delete(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns all entries, most recently active first.
func (c *Cache) Snapshot() []session.Live {
	c.mu.RLock()
	out := make([]session.Live, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// PruneBefore drops entries whose last activity is before cutoff and returns
// their names.
func (c *Cache) PruneBefore(cutoff time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var pruned []string
	for name, e := range c.entries {
		if e.LastActivity.Before(cutoff) {
			delete(c.entries, name)
			pruned = append(pruned, name)
		}
	}
	sort.Strings(pruned)
	return pruned
}
