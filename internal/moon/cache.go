package moon

import (
	"sync"
	"time"

	"tribecal/internal/model"
)

// Cache is a read-through cache of per-year phase lists. Phases is a pure
// function of (year, zone), so cached entries never expire and are safe to
// share across concurrent readers.
type Cache struct {
	loc *time.Location

	mu     sync.RWMutex
	byYear map[int][]model.MoonEvent
}

func NewCache(loc *time.Location) *Cache {
	if loc == nil {
		loc = time.UTC
	}
	return &Cache{
		loc:    loc,
		byYear: make(map[int][]model.MoonEvent),
	}
}

// Phases returns the cached phase list for year, computing it on first use.
func (c *Cache) Phases(year int) []model.MoonEvent {
	c.mu.RLock()
	cached, ok := c.byYear[year]
	c.mu.RUnlock()
	if ok {
		return cached
	}

	computed := Phases(year, c.loc)

	c.mu.Lock()
	c.byYear[year] = computed
	c.mu.Unlock()

	return computed
}
