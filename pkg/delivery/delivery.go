// Package delivery puts text into a live conversation. It is the
// session-messaging boundary used by the compaction injector.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/logger"
)

// ErrNotConfigured is returned when a backend lacks required settings.
var ErrNotConfigured = errors.New("delivery backend not configured")

// Message is text to deliver into a conversation.
type Message struct {
	ID        string    `json:"id"`
	Session   string    `json:"session"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Deliverer delivers messages into conversations.
type Deliverer interface {
	// Deliver sends msg into the conversation named by msg.Session.
	// A nil error means the backend accepted the message.
	Deliver(ctx context.Context, msg Message) error

	// Name returns the backend name.
	Name() string

	// Close releases backend resources.
	Close() error
}

// New builds the configured backend. resolve maps workspace-relative paths.
func New(cfg config.DeliveryConfig, resolve func(string) string, log *logger.Logger) (Deliverer, error) {
	if log == nil {
		log = logger.NewNop()
	}
	switch cfg.Backend {
	case "", "outbox":
		return NewOutbox(resolve(cfg.OutboxFile), log), nil
	case "telegram":
		return NewTelegram(cfg.Telegram, log)
	case "redis":
		return NewRedis(cfg.Redis, log)
	default:
		return nil, fmt.Errorf("unknown delivery backend: %s", cfg.Backend)
	}
}
