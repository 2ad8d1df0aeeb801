package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"ctxkeep/pkg/fileutil"
	"ctxkeep/pkg/logger"
)

// Outbox appends messages to a JSONL file that the agent runtime drains.
type Outbox struct {
	path string
	log  *logger.Logger
}

// NewOutbox creates an outbox writing to path.
func NewOutbox(path string, log *logger.Logger) *Outbox {
	return &Outbox{path: path, log: log}
}

// Name returns the backend name.
func (o *Outbox) Name() string { return "outbox" }

// Path returns the outbox file path.
func (o *Outbox) Path() string { return o.path }

// Deliver appends msg as one JSON line under the outbox lock.
func (o *Outbox) Deliver(ctx context.Context, msg Message) error {
	if o.path == "" {
		return fmt.Errorf("outbox: %w", ErrNotConfigured)
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding outbox message: %w", err)
	}
	line = append(line, '\n')

	err = fileutil.WithLock(ctx, o.path, func() error {
		if err := os.MkdirAll(filepath.Dir(o.path), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(o.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
		if err != nil {
			return err
		}
		if _, err := f.Write(line); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
	if err != nil {
		return fmt.Errorf("writing outbox: %w", err)
	}

	o.log.Debug("Queued message in outbox", zap.String("session", msg.Session), zap.String("kind", msg.Kind))
	return nil
}

// Close implements Deliverer.
func (o *Outbox) Close() error { return nil }
