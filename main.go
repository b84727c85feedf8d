package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"pattern_worker/config"
	"pattern_worker/internal/bootstrap"
	"pattern_worker/pkg/logger"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	mode := flag.String("mode", "all", "run mode: api, worker or all")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *mode, cfg); err != nil {
		logger.Fatal("%v", err)
	}
	logger.Info("shut down cleanly")
}

func run(ctx context.Context, mode string, cfg *config.Config) error {
	g, ctx := errgroup.WithContext(ctx)
	switch mode {
	case "api":
		g.Go(func() error { return serveAPI(ctx, cfg) })
	case "worker":
		g.Go(func() error { return runWorker(ctx, cfg) })
	case "all":
		g.Go(func() error { return runWorker(ctx, cfg) })
		g.Go(func() error { return serveAPI(ctx, cfg) })
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	return g.Wait()
}

// serveAPI listens until ctx ends, then drains in-flight requests.
func serveAPI(ctx context.Context, cfg *config.Config) error {
	app, cleanup, err := bootstrap.NewAPI(cfg)
	if err != nil {
		return fmt.Errorf("init api: %w", err)
	}
	defer cleanup()

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("API listening on :%s", cfg.Port)
		listenErr <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("stopping API server (timeout %v)", shutdownTimeout)
	return app.ShutdownWithTimeout(shutdownTimeout)
}

// runWorker consumes jobs until ctx ends, then drains the pool before the
// backends are closed. Undrained stream entries are reclaimed by another worker.
func runWorker(ctx context.Context, cfg *config.Config) error {
	w, cleanup, err := bootstrap.NewWorker(cfg)
	if err != nil {
		return fmt.Errorf("init worker: %w", err)
	}
	defer cleanup()

	w.Start()
	logger.Info("worker started")
	<-ctx.Done()

	logger.Info("stopping worker (timeout %v)", shutdownTimeout)
	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-time.After(shutdownTimeout):
		return errors.New("worker did not stop in time")
	}
}
