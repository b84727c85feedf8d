package stream

import (
	"context"
	"fmt"
	"time"

	"pattern_worker/adapter/in/worker"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Submitter accepts decoded jobs. *worker.Pool implements it.
type Submitter interface {
	Submit(msg *worker.Message) bool
}

type ConsumerConfig struct {
	Name      string
	BatchSize int64
	Block     time.Duration

	PendingCheckInterval time.Duration
	PendingIdleTime      time.Duration
	// MaxDeliveries moves a message to the DLQ stream once it was delivered this often.
	MaxDeliveries int64
}

// Consumer reads the job stream and hands each job to the worker pool.
// A job is acked once the pool accepted it; rejected jobs stay pending and
// are reclaimed after PendingIdleTime.
type Consumer struct {
	stream *RedisStream
	pool   Submitter
	cfg    ConsumerConfig
	log    zerolog.Logger
}

func NewConsumer(stream *RedisStream, pool Submitter, cfg ConsumerConfig, log zerolog.Logger) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.PendingCheckInterval <= 0 {
		cfg.PendingCheckInterval = 30 * time.Second
	}
	if cfg.PendingIdleTime <= 0 {
		cfg.PendingIdleTime = 2 * time.Minute
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 3
	}
	return &Consumer{
		stream: stream,
		pool:   pool,
		cfg:    cfg,
		log:    log.With().Str("component", "stream_consumer").Str("stream", stream.Name()).Logger(),
	}
}

// Run consumes until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.stream.CreateGroup(ctx); err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}

	c.log.Info().Str("consumer", c.cfg.Name).Msg("starting consumer")
	go c.reclaimLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		messages, err := c.stream.Read(ctx, c.cfg.Name, c.cfg.BatchSize, c.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error().Err(err).Msg("stream read error")
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			c.dispatch(ctx, msg)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, xmsg redis.XMessage) {
	msg, err := DecodeMessage(xmsg)
	if err != nil {
		c.log.Error().Err(err).Str("id", xmsg.ID).Msg("undecodable job, moving to DLQ")
		if err := c.stream.DeadLetter(ctx, c.cfg.Name, xmsg.ID); err != nil {
			c.log.Error().Err(err).Str("id", xmsg.ID).Msg("DLQ write failed")
		}
		return
	}

	if !c.pool.Submit(msg) {
		c.log.Warn().Str("id", xmsg.ID).Str("job_type", msg.Type).Msg("pool rejected job, leaving it pending")
		return
	}
	if err := c.stream.Ack(ctx, xmsg.ID); err != nil {
		c.log.Error().Err(err).Str("id", xmsg.ID).Msg("error acknowledging message")
	}
}

func (c *Consumer) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PendingCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reclaim(ctx)
		}
	}
}

func (c *Consumer) reclaim(ctx context.Context) {
	pending, err := c.stream.StalePending(ctx, c.cfg.PendingIdleTime, 100)
	if err != nil {
		c.log.Error().Err(err).Msg("error listing pending messages")
		return
	}

	for _, p := range pending {
		if p.RetryCount >= c.cfg.MaxDeliveries {
			c.log.Warn().Str("id", p.ID).Int64("deliveries", p.RetryCount).Msg("message exceeded max deliveries, moving to DLQ")
			if err := c.stream.DeadLetter(ctx, c.cfg.Name, p.ID); err != nil {
				c.log.Error().Err(err).Str("id", p.ID).Msg("DLQ write failed")
			}
			continue
		}

		claimed, err := c.stream.Claim(ctx, c.cfg.Name, c.cfg.PendingIdleTime, p.ID)
		if err != nil {
			c.log.Error().Err(err).Str("id", p.ID).Msg("error claiming message")
			continue
		}
		for _, msg := range claimed {
			c.dispatch(ctx, msg)
		}
	}
}

// DecodeMessage turns a stream entry written by Producer into a pool message.
func DecodeMessage(xmsg redis.XMessage) (*worker.Message, error) {
	raw, ok := xmsg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid message format: missing data field")
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}
	if job.Type == "" {
		return nil, fmt.Errorf("invalid job: missing type")
	}

	msg := worker.NewMessage(job.Type, job.Payload)
	if job.ID != "" {
		msg.ID = job.ID
	}
	if !job.CreatedAt.IsZero() {
		msg.CreatedAt = job.CreatedAt
	}
	return msg, nil
}
