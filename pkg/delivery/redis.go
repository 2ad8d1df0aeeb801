package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/logger"
)

// Redis publishes messages on "<prefix>session:<key>" for a runtime that
// subscribes per conversation.
type Redis struct {
	client *redis.Client
	prefix string
	log    *logger.Logger
}

// NewRedis creates a Redis pub/sub backend.
func NewRedis(cfg config.RedisConfig, log *logger.Logger) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr: %w", ErrNotConfigured)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ctxkeep:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Redis{client: client, prefix: prefix, log: log}, nil
}

// Name returns the backend name.
func (r *Redis) Name() string { return "redis" }

// Channel returns the pub/sub channel for a session.
func (r *Redis) Channel(session string) string {
	return r.prefix + "session:" + session
}

// Deliver publishes msg. A publish that reaches no subscriber is a failed
// delivery.
func (r *Redis) Deliver(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	channel := r.Channel(msg.Session)
	receivers, err := r.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	if receivers == 0 {
		return fmt.Errorf("no subscriber on %s", channel)
	}

	r.log.Info("Published message", zap.String("channel", channel), zap.Int64("receivers", receivers))
	return nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
