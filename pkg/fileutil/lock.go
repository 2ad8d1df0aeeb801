package fileutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryDelay is how often a blocked Lock call re-tries the lock.
const lockRetryDelay = 25 * time.Millisecond

// FileLock is an advisory, cross-process lock backed by a sidecar file.
type FileLock struct {
	fl *flock.Flock
}

// LockPath returns the sidecar lock file path guarding target.
func LockPath(target string) string {
	return target + ".lock"
}

// Lock acquires an exclusive advisory lock guarding target, waiting until the
// lock is available or ctx is done.
func Lock(ctx context.Context, target string) (*FileLock, error) {
	path := LockPath(target)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("acquire lock %s: not acquired", path)
	}
	return &FileLock{fl: fl}, nil
}

// Unlock releases the lock. Calling Unlock on a nil lock is a no-op.
func (l *FileLock) Unlock() error {
	if l == nil || l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.fl.Path(), err)
	}
	return nil
}

// WithLock runs fn while holding the lock guarding target.
func WithLock(ctx context.Context, target string, fn func() error) error {
	lock, err := Lock(ctx, target)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	return fn()
}
