// Package state persists scheduler bookkeeping in a small key-value store
// backed by a JSON file or Redis.
package state

import (
	"context"
	"fmt"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/logger"
)

// KV stores JSON-encoded values by key.
type KV interface {
	// Get decodes the value stored at key into v and reports whether the
	// key exists.
	Get(ctx context.Context, key string, v any) (bool, error)

	// Set stores v at key.
	Set(ctx context.Context, key string, v any) error

	// Update reads the value at key into v (left untouched when absent),
	// calls fn and stores v again, atomically with respect to other
	// writers.
	Update(ctx context.Context, key string, v any, fn func(exists bool) error) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys in the store.
	Keys(ctx context.Context) ([]string, error)

	// Close releases resources.
	Close() error
}

// BackendType names a storage backend.
type BackendType string

const (
	BackendFile  BackendType = "file"
	BackendRedis BackendType = "redis"
)

// NewKV creates the configured store. resolve maps workspace-relative paths.
func NewKV(cfg config.StateConfig, resolve func(string) string, log *logger.Logger) (KV, error) {
	if log == nil {
		log = logger.NewNop()
	}
	switch BackendType(cfg.Backend) {
	case "", BackendFile:
		return NewFileStore(resolve(cfg.FilePath), log), nil

	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("redis address is required")
		}
		return NewRedisStore(log, RedisStoreConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})

	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Backend)
	}
}
