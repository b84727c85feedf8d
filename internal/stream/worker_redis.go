// Package stream carries pattern jobs over Redis Streams.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultStream = "pattern:jobs"
	dlqPrefix     = "dlq:"
)

type RedisStream struct {
	client *redis.Client
	stream string
	group  string
}

func NewRedisStream(client *redis.Client, stream, group string) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStream{
		client: client,
		stream: stream,
		group:  group,
	}
}

func (s *RedisStream) Name() string { return s.stream }

func (s *RedisStream) CreateGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (s *RedisStream) Publish(ctx context.Context, data any) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"data": jsonData},
	}).Result()
}

// Read blocks up to block for new messages delivered to consumer.
// It returns nil, nil when nothing arrived.
func (s *RedisStream) Read(ctx context.Context, consumer string, count int64, block time.Duration) ([]redis.XMessage, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var out []redis.XMessage
	for _, st := range streams {
		out = append(out, st.Messages...)
	}
	return out, nil
}

func (s *RedisStream) Ack(ctx context.Context, id string) error {
	return s.client.XAck(ctx, s.stream, s.group, id).Err()
}

func (s *RedisStream) Pending(ctx context.Context) (int64, error) {
	info, err := s.client.XPending(ctx, s.stream, s.group).Result()
	if err != nil {
		return 0, err
	}
	return info.Count, nil
}

// StalePending lists pending entries idle for at least minIdle.
func (s *RedisStream) StalePending(ctx context.Context, minIdle time.Duration, count int64) ([]redis.XPendingExt, error) {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.stream,
		Group:  s.group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return pending, nil
}

// Claim takes ownership of idle pending messages for consumer.
func (s *RedisStream) Claim(ctx context.Context, consumer string, minIdle time.Duration, ids ...string) ([]redis.XMessage, error) {
	return s.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   s.stream,
		Group:    s.group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
}

// DeadLetter copies a message to "dlq:<stream>" and acks the original.
func (s *RedisStream) DeadLetter(ctx context.Context, consumer, id string) error {
	messages, err := s.client.XRange(ctx, s.stream, id, id).Result()
	if err != nil {
		return fmt.Errorf("failed to read message for DLQ: %w", err)
	}
	if len(messages) == 0 {
		return s.Ack(ctx, id)
	}

	values := map[string]any{
		"original_stream": s.stream,
		"original_id":     id,
		"failed_at":       time.Now().UTC().Format(time.RFC3339),
		"consumer":        consumer,
		"group":           s.group,
	}
	for k, v := range messages[0].Values {
		values["original_"+k] = v
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: dlqPrefix + s.stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to write DLQ entry: %w", err)
	}
	return s.Ack(ctx, id)
}
