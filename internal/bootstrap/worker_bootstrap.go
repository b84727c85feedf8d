package bootstrap

import (
	"context"
	"errors"
	"os"
	"sync"

	"pattern_worker/adapter/in/worker"
	"pattern_worker/config"
	"pattern_worker/internal/stream"
	"pattern_worker/pkg/logger"

	"github.com/rs/zerolog"
)

// Worker consumes pattern and draft jobs from the Redis stream.
type Worker struct {
	pool     *worker.Pool
	consumer *stream.Consumer
	deps     *Dependencies
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	zlog     zerolog.Logger
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	InitLogger(cfg, "pattern-worker")

	deps, cleanup, err := NewDependencies(context.Background(), cfg)
	if err != nil {
		return nil, nil, err
	}

	zlog := logger.Default().Zerolog().With().
		Str("component", "worker").
		Str("worker_id", cfg.WorkerID).
		Logger()
	if cfg.IsDevelopment() {
		zlog = zlog.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	handler := worker.NewHandler(
		worker.NewPatternProcessor(deps.Learner),
		worker.NewDraftProcessor(deps.Coordinator),
	)

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerCount > 0 {
		poolConfig.MaxWorkers = cfg.WorkerCount
	}
	if cfg.WorkerQueueSize > 0 {
		poolConfig.QueueSize = cfg.WorkerQueueSize
	}
	if cfg.JobTimeout > 0 {
		poolConfig.JobTimeout = cfg.JobTimeout
	}
	if cfg.ConsumerMaxRetries > 0 {
		poolConfig.MaxRetries = cfg.ConsumerMaxRetries
	}
	pool := worker.NewPool(handler, poolConfig, deps.Metrics, zlog)

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	if deps.Stream != nil {
		w.consumer = stream.NewConsumer(deps.Stream, pool, stream.ConsumerConfig{
			Name:          cfg.WorkerID,
			BatchSize:     int64(cfg.ConsumerBatchSize),
			Block:         cfg.ConsumerBlock,
			MaxDeliveries: int64(cfg.ConsumerMaxRetries),
		}, zlog)
	} else {
		zlog.Warn().Msg("Redis not configured, worker has no job stream to consume")
	}

	return w, cleanup, nil
}

// Start launches the pool and the stream consumer and returns; Stop ends both.
func (w *Worker) Start() {
	w.pool.Start()

	if w.consumer != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.zlog.Info().Msg("starting stream consumer")
			if err := w.consumer.Run(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.zlog.Error().Err(err).Msg("stream consumer stopped")
			}
		}()
	}
}

// Stop stops reading new jobs, then drains the pool and the draft coordinator.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	w.pool.Stop(ctx)
	if err := w.deps.Coordinator.Shutdown(ctx); err != nil {
		w.zlog.Warn().Err(err).Msg("draft coordinator did not drain in time")
	}
}

// Submit hands a job straight to the pool, bypassing the stream.
func (w *Worker) Submit(msg *worker.Message) bool {
	return w.pool.Submit(msg)
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
