package draft

import (
	"context"
	"sync"
	"time"

	"pattern_worker/core/domain"
)

// call is one pipeline run shared by every request for the same key.
type call struct {
	done     chan struct{}
	result   *domain.DraftResult
	finished bool
}

// Coalescer runs at most one pipeline per key. Followers wait on the
// leader's result; finished results stay visible for the retention window.
type Coalescer struct {
	mu        sync.Mutex
	calls     map[string]*call
	timers    map[*call]*time.Timer
	retention time.Duration
	inflight  sync.WaitGroup
}

func NewCoalescer(retention time.Duration) *Coalescer {
	return &Coalescer{
		calls:     make(map[string]*call),
		timers:    make(map[*call]*time.Timer),
		retention: retention,
	}
}

// Do returns the shared result for key, starting fn if no pipeline is running
// or retained. fresh ignores a retained result but still joins a running one.
// fn runs detached from ctx so that a leader giving up does not cancel
// followers; each caller stops waiting when its own ctx ends.
func (c *Coalescer) Do(ctx context.Context, key string, fresh bool, fn func() *domain.DraftResult) (*domain.DraftResult, bool) {
	c.mu.Lock()
	if existing, ok := c.calls[key]; ok && (!existing.finished || !fresh) {
		c.mu.Unlock()
		return c.wait(ctx, existing), true
	}

	cl := &call{done: make(chan struct{})}
	c.calls[key] = cl
	c.inflight.Add(1)
	c.mu.Unlock()

	go c.run(key, cl, fn)
	return c.wait(ctx, cl), false
}

func (c *Coalescer) run(key string, cl *call, fn func() *domain.DraftResult) {
	defer c.inflight.Done()

	result := fn()

	c.mu.Lock()
	cl.result = result
	cl.finished = true
	close(cl.done)
	if c.retention <= 0 {
		c.evictLocked(key, cl)
	} else {
		c.timers[cl] = time.AfterFunc(c.retention, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.evictLocked(key, cl)
		})
	}
	c.mu.Unlock()
}

func (c *Coalescer) evictLocked(key string, cl *call) {
	if c.calls[key] == cl {
		delete(c.calls, key)
	}
	delete(c.timers, cl)
}

func (c *Coalescer) wait(ctx context.Context, cl *call) *domain.DraftResult {
	select {
	case <-cl.done:
		return cl.result
	case <-ctx.Done():
		return &domain.DraftResult{Success: false, Error: ctx.Err().Error()}
	}
}

// Len reports how many keys are running or retained.
func (c *Coalescer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// Drain waits for running pipelines up to ctx, then stops every eviction
// timer and forgets retained results.
func (c *Coalescer) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	c.mu.Lock()
	for cl, t := range c.timers {
		t.Stop()
		delete(c.timers, cl)
	}
	for key, cl := range c.calls {
		if cl.finished {
			delete(c.calls, key)
		}
	}
	c.mu.Unlock()
	return err
}
