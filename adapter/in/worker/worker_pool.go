package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"pattern_worker/pkg/apperr"
	"pattern_worker/pkg/metrics"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// JobProcessor runs one job. *Handler is the production implementation.
type JobProcessor interface {
	Process(ctx context.Context, msg *Message) error
}

// PoolConfig sizes the two lanes and bounds retries.
type PoolConfig struct {
	MaxWorkers       int
	QueueSize        int
	RatePerSecond    int
	MaxRetries       int
	RetryBase        time.Duration
	JobTimeout       time.Duration
	JobTimeoutByType map[JobType]time.Duration
	BatchSize        int
	WorkerChanSize   int
}

func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxWorkers:     8,
		QueueSize:      1000,
		RatePerSecond:  100,
		MaxRetries:     3,
		RetryBase:      time.Second,
		JobTimeout:     time.Minute,
		BatchSize:      10,
		WorkerChanSize: 100,
		JobTimeoutByType: map[JobType]time.Duration{
			JobPatternLearn:        90 * time.Second,
			JobPatternLearnHistory: 10 * time.Minute,
			JobDraftGenerate:       2 * time.Minute,
		},
	}
}

// PoolMetrics is a point-in-time copy of the pool counters.
type PoolMetrics struct {
	JobsProcessed  int64
	JobsFailed     int64
	JobsDropped    int64
	JobsRetried    int64
	AvgProcessTime int64 // ms, exponential moving average
	CurrentWorkers int32
	QueueSize      int32
	DraftQueueSize int32
}

type poolCounters struct {
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	retried   atomic.Int64
	avgMs     atomic.Int64
	inflight  atomic.Int32
	drafts    atomic.Int32
}

// Pool runs jobs on two go-pkgz/pool worker groups. Draft jobs get their
// own lane so a long history import never delays a reply draft.
type Pool struct {
	proc JobProcessor
	cfg  *PoolConfig
	prom *metrics.Metrics
	log  zerolog.Logger

	limiter *RateLimiter
	stats   poolCounters

	mu       sync.Mutex
	running  bool
	learning *pool.WorkerGroup[*Message]
	drafting *pool.WorkerGroup[*Message]
	stop     context.CancelFunc
	done     chan struct{}
}

// lane adapts the pool to pool.Worker; draft marks the priority lane.
type lane struct {
	p     *Pool
	draft bool
}

func (l lane) Do(ctx context.Context, msg *Message) error {
	if l.draft {
		defer l.p.stats.drafts.Add(-1)
	}
	return l.p.processJob(ctx, msg)
}

// NewPool builds a stopped pool. m may be nil.
func NewPool(proc JobProcessor, cfg *PoolConfig, m *metrics.Metrics, log zerolog.Logger) *Pool {
	if cfg == nil {
		cfg = DefaultPoolConfig()
	}
	cfg.MaxWorkers = max(cfg.MaxWorkers, 1)
	if cfg.RatePerSecond < 1 {
		cfg.RatePerSecond = 100
	}

	return &Pool{
		proc:    proc,
		cfg:     cfg,
		prom:    m,
		log:     log.With().Str("component", "worker_pool").Logger(),
		limiter: NewRateLimiter(cfg.RatePerSecond, time.Second),
	}
}

func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	learning := pool.New[*Message](p.cfg.MaxWorkers, lane{p: p}).
		WithBatchSize(p.cfg.BatchSize).
		WithWorkerChanSize(p.cfg.WorkerChanSize).
		WithContinueOnError()
	drafting := pool.New[*Message](p.cfg.MaxWorkers/4+1, lane{p: p, draft: true}).
		WithWorkerChanSize(p.cfg.WorkerChanSize/2 + 1).
		WithContinueOnError()

	for name, g := range map[string]*pool.WorkerGroup[*Message]{"learning": learning, "drafting": drafting} {
		if err := g.Go(ctx); err != nil {
			p.log.Error().Err(err).Str("lane", name).Msg("failed to start worker lane")
			cancel()
			return
		}
	}

	p.learning, p.drafting = learning, drafting
	p.stop = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.report(ctx, p.done)

	p.log.Info().
		Int("workers", p.cfg.MaxWorkers).
		Int("rate_per_second", p.cfg.RatePerSecond).
		Msg("worker pool started")
}

// Stop closes both lanes, letting queued jobs finish until ctx expires.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	learning, drafting, cancel, done := p.learning, p.drafting, p.stop, p.done
	p.mu.Unlock()

	for name, g := range map[string]*pool.WorkerGroup[*Message]{"learning": learning, "drafting": drafting} {
		if err := g.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.log.Warn().Err(err).Str("lane", name).Msg("worker lane closed with error")
		}
	}
	cancel()
	<-done

	m := p.GetMetrics()
	p.log.Info().
		Int64("processed", m.JobsProcessed).
		Int64("failed", m.JobsFailed).
		Msg("worker pool stopped")
}

// Submit enqueues msg. False means the pool is not running or the submit
// rate was exceeded; the caller keeps ownership of the job.
func (p *Pool) Submit(msg *Message) bool {
	p.mu.Lock()
	running, learning, drafting := p.running, p.learning, p.drafting
	p.mu.Unlock()
	if !running {
		return false
	}

	if !p.limiter.Allow() {
		p.stats.dropped.Add(1)
		p.log.Warn().Str("job_id", msg.ID).Str("job_type", msg.Type).Msg("submit rate exceeded")
		return false
	}

	p.stats.inflight.Add(1)
	if msg.IsPriority() {
		p.stats.drafts.Add(1)
		drafting.Submit(msg)
		return true
	}
	learning.Submit(msg)
	return true
}

func (p *Pool) timeoutFor(jobType JobType) time.Duration {
	if d, ok := p.cfg.JobTimeoutByType[jobType]; ok {
		return d
	}
	return p.cfg.JobTimeout
}

// processJob runs one job under its type's timeout. A failed job is
// rescheduled with exponential backoff while retryable, then dead-lettered.
func (p *Pool) processJob(ctx context.Context, msg *Message) error {
	defer p.stats.inflight.Add(-1)
	began := time.Now()

	timeout := p.timeoutFor(msg.Type)
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- p.proc.Process(jobCtx, msg) }()

	var err error
	select {
	case err = <-result:
	case <-jobCtx.Done():
		err = jobCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			p.log.Warn().Str("job_id", msg.ID).Str("job_type", msg.Type).Dur("timeout", timeout).Msg("job timed out")
		}
	}

	p.observe(time.Since(began))
	p.prom.JobProcessed(msg.Type, err)

	if err == nil {
		p.stats.processed.Add(1)
		return nil
	}

	p.log.Error().Err(err).
		Str("job_id", msg.ID).
		Str("job_type", msg.Type).
		Int("attempt", msg.Retries+1).
		Msg("job failed")

	if !retryable(err) || msg.Retries >= p.cfg.MaxRetries {
		p.deadLetter(msg, err)
		return err
	}

	msg.Retries++
	p.stats.retried.Add(1)
	delay := p.cfg.RetryBase<<msg.Retries + time.Duration(rand.Int63n(int64(500*time.Millisecond)))
	time.AfterFunc(delay, func() {
		if !p.Submit(msg) {
			p.deadLetter(msg, errors.New("resubmit rejected"))
		}
	})
	return err
}

// retryable is false for client-side errors such as malformed payloads.
func retryable(err error) bool {
	if !apperr.IsAppError(err) {
		return true
	}
	return apperr.GetHTTPStatus(err) >= 500
}

// deadLetter logs a job that exhausted its retries. The stream entry was
// acked on submit, so the payload in this log line is the only copy left.
func (p *Pool) deadLetter(msg *Message, cause error) {
	p.stats.failed.Add(1)
	p.log.Error().Err(cause).
		Str("job_id", msg.ID).
		Str("job_type", msg.Type).
		Int("retries", msg.Retries).
		Interface("payload", msg.Payload).
		Msg("job dead-lettered")
}

func (p *Pool) observe(elapsed time.Duration) {
	ms := elapsed.Milliseconds()
	for {
		cur := p.stats.avgMs.Load()
		next := ms
		if cur != 0 {
			next = (cur*9 + ms) / 10
		}
		if p.stats.avgMs.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (p *Pool) report(ctx context.Context, done chan struct{}) {
	defer close(done)
	tick := time.NewTicker(time.Minute)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			m := p.GetMetrics()
			p.log.Info().
				Int64("processed", m.JobsProcessed).
				Int64("failed", m.JobsFailed).
				Int64("dropped", m.JobsDropped).
				Int64("retried", m.JobsRetried).
				Int64("avg_ms", m.AvgProcessTime).
				Int32("in_flight", m.QueueSize).
				Int32("draft_lane", m.DraftQueueSize).
				Msg("worker pool stats")
		}
	}
}

func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed:  p.stats.processed.Load(),
		JobsFailed:     p.stats.failed.Load(),
		JobsDropped:    p.stats.dropped.Load(),
		JobsRetried:    p.stats.retried.Load(),
		AvgProcessTime: p.stats.avgMs.Load(),
		CurrentWorkers: int32(p.cfg.MaxWorkers),
		QueueSize:      p.stats.inflight.Load(),
		DraftQueueSize: p.stats.drafts.Load(),
	}
}

// RateLimiter caps Submit at n jobs per interval with a burst of n.
type RateLimiter struct {
	lim *rate.Limiter
}

func NewRateLimiter(n int, interval time.Duration) *RateLimiter {
	return &RateLimiter{lim: rate.NewLimiter(rate.Every(interval/time.Duration(n)), n)}
}

func (r *RateLimiter) Allow() bool {
	return r.lim.Allow()
}
