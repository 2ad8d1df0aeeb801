package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"

	"ctxkeep/pkg/fileutil"
	"ctxkeep/pkg/logger"
)

// FileStore keeps all keys in one JSON object on disk. Writes re-read the
// file under its advisory lock so concurrent processes do not lose
// updates; every write is an atomic rewrite.
type FileStore struct {
	log  *logger.Logger
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file store at path.
func NewFileStore(path string, log *logger.Logger) *FileStore {
	if log == nil {
		log = logger.NewNop()
	}
	return &FileStore{log: log, path: path}
}

// Path returns the state file path.
func (s *FileStore) Path() string {
	return s.path
}

// Get decodes the value at key into v.
func (s *FileStore) Get(ctx context.Context, key string, v any) (bool, error) {
	data := s.load()
	raw, ok := data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

// Set stores v at key.
func (s *FileStore) Set(ctx context.Context, key string, v any) error {
	return s.modify(ctx, func(data map[string]json.RawMessage) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", key, err)
		}
		data[key] = raw
		return nil
	})
}

// Update implements KV.
func (s *FileStore) Update(ctx context.Context, key string, v any, fn func(exists bool) error) error {
	return s.modify(ctx, func(data map[string]json.RawMessage) error {
		raw, exists := data[key]
		if exists {
			if err := json.Unmarshal(raw, v); err != nil {
				return fmt.Errorf("decoding %s: %w", key, err)
			}
		}
		if err := fn(exists); err != nil {
			return err
		}
		updated, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", key, err)
		}
		data[key] = updated
		return nil
	})
}

// Delete removes key.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	return s.modify(ctx, func(data map[string]json.RawMessage) error {
		delete(data, key)
		return nil
	})
}

// Keys returns all keys, sorted.
func (s *FileStore) Keys(ctx context.Context) ([]string, error) {
	data := s.load()
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements KV.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) modify(ctx context.Context, fn func(map[string]json.RawMessage) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return fileutil.WithLock(ctx, s.path, func() error {
		data := s.load()
		if err := fn(data); err != nil {
			return err
		}
		if err := fileutil.WriteJSONAtomic(s.path, data, 0o644); err != nil {
			return fmt.Errorf("writing state: %w", err)
		}
		s.log.Debug("Saved state", zap.String("file", s.path), zap.Int("keys", len(data)))
		return nil
	})
}

// load reads the file. Missing or malformed files yield an empty map; the
// latter is logged.
func (s *FileStore) load() map[string]json.RawMessage {
	data := make(map[string]json.RawMessage)
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error("Reading state failed", zap.String("file", s.path), zap.Error(err))
		}
		return data
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		s.log.Error("Malformed state file, starting empty", zap.String("file", s.path), zap.Error(err))
		return make(map[string]json.RawMessage)
	}
	return data
}
