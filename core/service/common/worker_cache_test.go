package common

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pattern_worker/core/domain"

	"github.com/google/uuid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func draft(user uuid.UUID, emailID string) *domain.DraftCacheEntry {
	return &domain.DraftCacheEntry{EmailID: emailID, UserID: user, Body: "body " + emailID}
}

func TestL1DraftCacheExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newL1DraftCache(&L1Config{MaxItems: 10, DefaultTTL: time.Hour}, clock.Now)
	user := uuid.New()
	e := draft(user, "m1")

	if err := c.Put(ctx, e, time.Minute); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.Get(ctx, e.Key()); got != e {
		t.Fatal("expected a hit before expiry")
	}

	clock.Advance(time.Minute)
	if got, _ := c.Get(ctx, e.Key()); got != nil {
		t.Error("expected a miss at expiry")
	}
	if c.Len() != 0 {
		t.Error("expired entry should be evicted on read")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestL1DraftCacheDefaultTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newL1DraftCache(&L1Config{MaxItems: 10, DefaultTTL: time.Hour}, clock.Now)
	e := draft(uuid.New(), "m1")

	_ = c.Put(ctx, e, 0)
	clock.Advance(59 * time.Minute)
	if got, _ := c.Get(ctx, e.Key()); got == nil {
		t.Error("entry should live for the default TTL")
	}
	clock.Advance(time.Minute)
	if got, _ := c.Get(ctx, e.Key()); got != nil {
		t.Error("entry should expire after the default TTL")
	}
}

func TestL1DraftCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	c := newL1DraftCache(&L1Config{MaxItems: 20, DefaultTTL: time.Hour}, clock.Now)
	user := uuid.New()

	entries := make([]*domain.DraftCacheEntry, 20)
	for i := range entries {
		entries[i] = draft(user, fmt.Sprintf("m%02d", i))
		_ = c.Put(ctx, entries[i], 0)
	}
	// Touch the two oldest so they become most recently used.
	_, _ = c.Get(ctx, entries[0].Key())
	_, _ = c.Get(ctx, entries[1].Key())

	_ = c.Put(ctx, draft(user, "overflow"), 0)

	// 10% of 20 evicted, then the new entry added.
	if c.Len() != 19 {
		t.Fatalf("Len() = %d, want 19", c.Len())
	}
	for i, want := range map[int]bool{0: true, 1: true, 2: false, 3: false, 4: true} {
		got, _ := c.Get(ctx, entries[i].Key())
		if (got != nil) != want {
			t.Errorf("entry %d present = %v, want %v", i, got != nil, want)
		}
	}
}

func TestL1DraftCacheSweepOnlyAboveRatio(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	c := newL1DraftCache(&L1Config{MaxItems: 10, DefaultTTL: time.Hour, SweepRatio: 0.8}, clock.Now)
	user := uuid.New()

	for i := 0; i < 8; i++ {
		_ = c.Put(ctx, draft(user, fmt.Sprintf("m%d", i)), time.Minute)
	}
	clock.Advance(2 * time.Minute)
	if removed := c.sweep(); removed != 0 {
		t.Errorf("sweep at 80%% removed %d, want 0", removed)
	}

	_ = c.Put(ctx, draft(user, "fresh"), time.Hour)
	if removed := c.sweep(); removed != 8 {
		t.Errorf("sweep above 80%% removed %d, want 8", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestL1DraftCacheCloseStopsSweeper(t *testing.T) {
	c := NewL1DraftCache(&L1Config{MaxItems: 10, SweepInterval: time.Millisecond})
	done := make(chan struct{})
	go func() {
		c.Close()
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}

// stubTier is a DraftCacheTier backed by a map, optionally failing.
type stubTier struct {
	mu      sync.Mutex
	entries map[string]*domain.DraftCacheEntry
	gets    int
	err     error
}

func newStubTier() *stubTier {
	return &stubTier{entries: make(map[string]*domain.DraftCacheEntry)}
}

func (s *stubTier) Get(_ context.Context, key domain.DraftKey) (*domain.DraftCacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.err != nil {
		return nil, s.err
	}
	return s.entries[key.String()], nil
}

func (s *stubTier) Put(_ context.Context, e *domain.DraftCacheEntry, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries[e.Key().String()] = e
	return nil
}

func TestHybridDraftCacheReadThroughAndPrime(t *testing.T) {
	ctx := context.Background()
	l1 := newL1DraftCache(nil, time.Now)
	l2 := newStubTier()
	c := NewHybridDraftCache(l1, l2, time.Hour, nil)

	e := draft(uuid.New(), "m1")
	e.ExpiresAt = time.Now().Add(time.Hour)
	l2.entries[e.Key().String()] = e

	got, source := c.Get(ctx, e.Key())
	if got == nil || source != domain.SourcePersistent {
		t.Fatalf("first read = %v from %q, want persistent hit", got, source)
	}
	got, source = c.Get(ctx, e.Key())
	if got == nil || source != domain.SourceMemoryCache {
		t.Fatalf("second read from %q, want memory after priming", source)
	}
	if l2.gets != 1 {
		t.Errorf("L2 reads = %d, want 1", l2.gets)
	}
}

func TestHybridDraftCacheToleratesL2Failure(t *testing.T) {
	ctx := context.Background()
	l1 := newL1DraftCache(nil, time.Now)
	l2 := newStubTier()
	l2.err = errors.New("redis down")
	c := NewHybridDraftCache(l1, l2, time.Hour, nil)

	e := draft(uuid.New(), "m1")
	c.Put(ctx, e)

	if got, source := c.Get(ctx, e.Key()); got == nil || source != domain.SourceMemoryCache {
		t.Errorf("write should land in memory despite L2 failure, got %v %q", got, source)
	}
	if got, _ := c.Get(ctx, domain.DraftKey{EmailID: "other", UserID: e.UserID}); got != nil {
		t.Error("L2 errors must read as a miss")
	}
}
