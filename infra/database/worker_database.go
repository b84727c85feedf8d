// Package database opens the Postgres and Redis connections shared by the
// pattern store, the draft tier and the job stream.
package database

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // "pgx" driver for sqlx
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// envSize reads a positive pool size override.
func envSize(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return def
}

// NewPostgres opens the pgx pool used for schema setup and the readiness
// probe. DB_MAX_CONNS overrides the pool ceiling.
func NewPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = int32(envSize("DB_MAX_CONNS", 10))
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute
	// PgBouncer in transaction mode rejects named prepared statements.
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// OpenSQLX opens the handle the pattern store queries through, over the
// pgx database/sql driver with the same simple-protocol mode as the pool.
func OpenSQLX(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	q := u.Query()
	q.Set("default_query_exec_mode", "simple_protocol")
	u.RawQuery = q.Encode()

	db, err := sqlx.ConnectContext(ctx, "pgx", u.String())
	if err != nil {
		return nil, fmt.Errorf("connect sqlx: %w", err)
	}

	open := envSize("DB_MAX_CONNS", 25)
	db.SetMaxOpenConns(open)
	db.SetMaxIdleConns(max(open/2, 1))
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// NewRedis connects the client shared by the draft tier and the job stream.
// The read timeout stays above the consumer's XREADGROUP block time.
// REDIS_POOL_SIZE overrides the pool size.
func NewRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.PoolSize = envSize("REDIS_POOL_SIZE", 50)
	opt.MinIdleConns = 5
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 10 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
