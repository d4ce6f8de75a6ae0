package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel settlement events are published on.
const DefaultChannel = "dtokensale:events"

// Publisher is the subset of *redis.Client used for publishing.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes events as JSON to a Redis pub/sub channel. Publish
// failures are logged; the state change has already committed.
type RedisSink struct {
	client  Publisher
	channel string
	logger  *slog.Logger
}

func NewRedisSink(client Publisher, channel string, logger *slog.Logger) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSink{client: client, channel: channel, logger: logger}
}

func (s *RedisSink) Emit(ctx context.Context, ev Event) {
	if err := s.Publish(ctx, ev); err != nil {
		s.logger.Warn("event publish failed", slog.String("type", ev.Type), slog.Any("err", err))
	}
}

func (s *RedisSink) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", s.channel, err)
	}
	return nil
}

// DialRedis connects and pings, closing the client if the ping fails.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}
