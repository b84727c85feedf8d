// Package common provides the draft cache tiers shared by services.
package common

import (
	"container/list"
	"context"
	"sync"
	"time"

	"pattern_worker/core/domain"
)

// L1Config sizes the in-memory draft tier.
type L1Config struct {
	MaxItems      int
	DefaultTTL    time.Duration
	SweepInterval time.Duration
	// SweepRatio is the fill ratio above which a sweep removes expired entries.
	SweepRatio float64
}

func DefaultL1Config() *L1Config {
	return &L1Config{
		MaxItems:      10000,
		DefaultTTL:    24 * time.Hour,
		SweepInterval: time.Minute,
		SweepRatio:    0.8,
	}
}

// L1Stats is a snapshot of hit counters and occupancy.
type L1Stats struct {
	Items      int           `json:"items"`
	Hits       int64         `json:"hits"`
	Misses     int64         `json:"misses"`
	HitRate    float64       `json:"hit_rate"`
	MaxItems   int           `json:"max_items"`
	DefaultTTL time.Duration `json:"default_ttl"`
}

type l1Item struct {
	key       string
	draft     *domain.DraftCacheEntry
	expiresAt time.Time
}

// L1DraftCache keeps drafts in process memory with a TTL per entry and
// least-recently-used eviction. It implements out.DraftCacheTier and sits
// in front of the Redis tier.
type L1DraftCache struct {
	cfg L1Config
	now func() time.Time

	mu     sync.Mutex
	order  *list.List // front is most recently used
	index  map[string]*list.Element
	hits   int64
	misses int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewL1DraftCache starts the cache with a background sweeper; Close stops it.
func NewL1DraftCache(cfg *L1Config) *L1DraftCache {
	c := newL1DraftCache(cfg, time.Now)
	go c.sweepLoop()
	return c
}

func newL1DraftCache(cfg *L1Config, now func() time.Time) *L1DraftCache {
	defaults := DefaultL1Config()
	if cfg == nil {
		cfg = defaults
	}
	resolved := *cfg
	if resolved.MaxItems <= 0 {
		resolved.MaxItems = defaults.MaxItems
	}
	if resolved.DefaultTTL <= 0 {
		resolved.DefaultTTL = defaults.DefaultTTL
	}
	if resolved.SweepInterval <= 0 {
		resolved.SweepInterval = defaults.SweepInterval
	}

	return &L1DraftCache{
		cfg:   resolved,
		now:   now,
		order: list.New(),
		index: make(map[string]*list.Element),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Get returns the cached draft or nil. An expired entry is dropped on read.
func (c *L1DraftCache) Get(_ context.Context, key domain.DraftKey) (*domain.DraftCacheEntry, error) {
	k := key.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[k]
	if ok && c.now().Before(el.Value.(*l1Item).expiresAt) {
		c.hits++
		c.order.MoveToFront(el)
		return el.Value.(*l1Item).draft, nil
	}
	if ok {
		c.unlink(el)
	}
	c.misses++
	return nil, nil
}

// Put stores entry for ttl. With ttl <= 0 the entry's own ExpiresAt is
// used, and failing that the configured default.
func (c *L1DraftCache) Put(_ context.Context, entry *domain.DraftCacheEntry, ttl time.Duration) error {
	if entry == nil {
		return nil
	}

	now := c.now()
	var expiresAt time.Time
	switch {
	case ttl > 0:
		expiresAt = now.Add(ttl)
	case !entry.ExpiresAt.IsZero():
		expiresAt = entry.ExpiresAt
	default:
		expiresAt = now.Add(c.cfg.DefaultTTL)
	}

	item := &l1Item{key: entry.Key().String(), draft: entry, expiresAt: expiresAt}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[item.key]; ok {
		el.Value = item
		c.order.MoveToFront(el)
		return nil
	}
	if c.order.Len() >= c.cfg.MaxItems {
		c.evictOldest()
	}
	c.index[item.key] = c.order.PushFront(item)
	return nil
}

func (c *L1DraftCache) Delete(key domain.DraftKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key.String()]; ok {
		c.unlink(el)
	}
}

// Len counts stored entries, including expired ones not yet swept.
func (c *L1DraftCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *L1DraftCache) Stats() L1Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := L1Stats{
		Items:      c.order.Len(),
		Hits:       c.hits,
		Misses:     c.misses,
		MaxItems:   c.cfg.MaxItems,
		DefaultTTL: c.cfg.DefaultTTL,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Close stops the sweeper. Safe to call more than once.
func (c *L1DraftCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *L1DraftCache) unlink(el *list.Element) {
	c.order.Remove(el)
	delete(c.index, el.Value.(*l1Item).key)
}

// evictOldest frees a tenth of capacity, at least one slot.
func (c *L1DraftCache) evictOldest() {
	n := max(c.cfg.MaxItems/10, 1)
	for ; n > 0 && c.order.Len() > 0; n-- {
		c.unlink(c.order.Back())
	}
}

func (c *L1DraftCache) sweepLoop() {
	defer close(c.done)
	tick := time.NewTicker(c.cfg.SweepInterval)
	defer tick.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-tick.C:
			c.sweep()
		}
	}
}

// sweep drops expired entries, but only once occupancy passes SweepRatio.
func (c *L1DraftCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if float64(c.order.Len()) <= float64(c.cfg.MaxItems)*c.cfg.SweepRatio {
		return 0
	}

	now := c.now()
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if !now.Before(el.Value.(*l1Item).expiresAt) {
			c.unlink(el)
			removed++
		}
		el = next
	}
	return removed
}
