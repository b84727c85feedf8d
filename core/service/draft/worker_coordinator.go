package draft

import (
	"context"
	"sync"
	"time"

	"pattern_worker/core/domain"
	"pattern_worker/core/service/common"
	"pattern_worker/pkg/logger"
	"pattern_worker/pkg/metrics"

	"golang.org/x/sync/errgroup"
)

// CoordinatorConfig bounds the coordinator's concurrency.
type CoordinatorConfig struct {
	// Retention keeps finished results visible to late duplicates.
	Retention time.Duration
	// BatchConcurrency caps concurrent pipelines in ProcessBatch.
	BatchConcurrency int
	// PipelineTimeout bounds one detached selection run.
	PipelineTimeout time.Duration
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Retention:        5 * time.Second,
		BatchConcurrency: 3,
		PipelineTimeout:  2 * time.Minute,
	}
}

// Coordinator is the entry point for draft requests. It coalesces duplicate
// requests per email, fans batches out with a bound, and owns the lifecycle
// of the memory cache sweeper.
type Coordinator struct {
	selector  *Selector
	coalescer *Coalescer
	memory    *common.L1DraftCache
	metrics   *metrics.Metrics
	cfg       CoordinatorConfig

	mu     sync.RWMutex
	closed bool
}

// NewCoordinator wires a coordinator. memory may be nil; when set, Shutdown stops its sweeper.
func NewCoordinator(selector *Selector, memory *common.L1DraftCache, m *metrics.Metrics, cfg CoordinatorConfig) *Coordinator {
	if cfg.BatchConcurrency < 1 {
		cfg.BatchConcurrency = 1
	}
	if cfg.PipelineTimeout <= 0 {
		cfg.PipelineTimeout = 2 * time.Minute
	}
	return &Coordinator{
		selector:  selector,
		coalescer: NewCoalescer(cfg.Retention),
		memory:    memory,
		metrics:   m,
		cfg:       cfg,
	}
}

// ProcessEmail returns a draft for one email. Concurrent requests for the
// same email share one pipeline run.
func (c *Coordinator) ProcessEmail(ctx context.Context, req domain.DraftRequest) *domain.DraftResult {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return &domain.DraftResult{Success: false, Error: common.ErrClosed.Error()}
	}

	if err := validateRequest(req); err != nil {
		return &domain.DraftResult{Success: false, Error: err.Error()}
	}

	key := domain.DraftKey{EmailID: req.Email.ID, UserID: req.Email.UserID}.String()
	detached := context.WithoutCancel(ctx)

	result, shared := c.coalescer.Do(ctx, key, req.Force, func() *domain.DraftResult {
		c.metrics.Inflight(1)
		defer c.metrics.Inflight(-1)

		runCtx, cancel := context.WithTimeout(detached, c.cfg.PipelineTimeout)
		defer cancel()
		return c.selector.Select(runCtx, req)
	})
	if shared {
		c.metrics.Coalesced()
		logger.WithContext(ctx).WithField("key", key).Debug("[Coordinator] joined in-flight draft")
	}
	return result
}

// ProcessBatch runs every request with bounded concurrency. Each item fails
// on its own; results keep input order.
func (c *Coordinator) ProcessBatch(ctx context.Context, reqs []domain.DraftRequest) *domain.BatchReport {
	report := &domain.BatchReport{
		Total:   len(reqs),
		Results: make([]*domain.DraftResult, len(reqs)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.BatchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			report.Results[i] = c.ProcessEmail(gctx, req)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range report.Results {
		if r != nil && r.Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	logger.WithContext(ctx).WithFields(map[string]any{
		"total":     report.Total,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
	}).Info("[Coordinator] batch processed")
	return report
}

// Shutdown rejects new work, waits for in-flight pipelines up to ctx,
// drains eviction timers and stops the cache sweeper.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.coalescer.Drain(ctx)
	if c.memory != nil {
		c.memory.Close()
	}
	if err != nil {
		logger.WithError(err).Warn("[Coordinator] shutdown timed out with pipelines in flight")
	}
	return err
}
