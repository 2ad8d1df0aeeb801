package recall

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"ctxkeep/pkg/fileutil"
	"ctxkeep/pkg/logger"
)

// Style selects how recalled chunks are rendered.
type Style string

const (
	StyleStructured Style = "structured"
	StylePlain      Style = "plain"
)

// MinMaxTokens is the smallest accepted token budget. It leaves room for
// the block header, one result heading, the overflow marker and some text.
const MinMaxTokens = 64

// Config is the hot-reloadable recall configuration.
type Config struct {
	Enabled          bool     `json:"enabled"`
	Threshold        float64  `json:"threshold"`
	MaxResults       int      `json:"max_results"`
	MaxTokens        int      `json:"max_tokens"`
	IncludeSources   bool     `json:"include_sources"`
	Style            Style    `json:"style"`
	ExcludedSessions []string `json:"excluded_sessions"`
}

// DefaultConfig returns the defaults materialized on first read.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		Threshold:        0.65,
		MaxResults:       3,
		MaxTokens:        1500,
		IncludeSources:   true,
		Style:            StyleStructured,
		ExcludedSessions: []string{},
	}
}

// Excluded reports whether recall is switched off for sessionID.
func (c Config) Excluded(sessionID string) bool {
	return sessionID != "" && slices.Contains(c.ExcludedSessions, sessionID)
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Threshold < 0 {
		c.Threshold = 0
	}
	if c.Threshold > 1 {
		c.Threshold = 1
	}
	if c.MaxResults <= 0 {
		c.MaxResults = d.MaxResults
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.MaxTokens < MinMaxTokens {
		c.MaxTokens = MinMaxTokens
	}
	if c.Style != StyleStructured && c.Style != StylePlain {
		c.Style = d.Style
	}
	if c.ExcludedSessions == nil {
		c.ExcludedSessions = []string{}
	}
	return c
}

// ConfigStore serves the recall configuration file, re-reading it whenever
// its modification time or size changes.
type ConfigStore struct {
	path string
	log  *logger.Logger

	mu      sync.Mutex
	cfg     Config
	loaded  bool
	modTime time.Time
	size    int64
}

// NewConfigStore creates a store for the file at path.
func NewConfigStore(path string, log *logger.Logger) *ConfigStore {
	if log == nil {
		log = logger.NewNop()
	}
	return &ConfigStore{path: path, log: log, cfg: DefaultConfig()}
}

// Path returns the configuration file path.
func (s *ConfigStore) Path() string {
	return s.path
}

// Get returns the current configuration. A missing file is created with
// defaults; a malformed file is logged and the defaults are used.
func (s *ConfigStore) Get() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()
	return s.cfg
}

// Save writes cfg to the file and makes it current.
func (s *ConfigStore) Save(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg = cfg.normalized()
	if err := fileutil.WriteJSONAtomic(s.path, cfg, 0o644); err != nil {
		return err
	}
	s.cfg = cfg
	s.loaded = true
	if info, err := os.Stat(s.path); err == nil {
		s.modTime, s.size = info.ModTime(), info.Size()
	}
	return nil
}

func (s *ConfigStore) refresh() {
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		s.materialize()
		return
	}
	if err != nil {
		s.log.Error("Stat recall config failed, keeping current config", zap.String("path", s.path), zap.Error(err))
		return
	}
	if s.loaded && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return
	}

	s.modTime, s.size, s.loaded = info.ModTime(), info.Size(), true
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.log.Error("Reading recall config failed, using defaults", zap.String("path", s.path), zap.Error(err))
		s.cfg = DefaultConfig()
		return
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		s.log.Error("Malformed recall config, using defaults", zap.String("path", s.path), zap.Error(err))
		s.cfg = DefaultConfig()
		return
	}
	s.cfg = cfg.normalized()
	s.log.Debug("Loaded recall config", zap.String("path", s.path), zap.Bool("enabled", s.cfg.Enabled))
}

func (s *ConfigStore) materialize() {
	s.cfg = DefaultConfig()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.log.Error("Creating recall config directory failed", zap.String("path", s.path), zap.Error(err))
		return
	}
	if err := fileutil.WriteJSONAtomic(s.path, s.cfg, 0o644); err != nil {
		s.log.Error("Writing default recall config failed", zap.String("path", s.path), zap.Error(err))
		return
	}
	if info, err := os.Stat(s.path); err == nil {
		s.modTime, s.size, s.loaded = info.ModTime(), info.Size(), true
	}
	s.log.Info("Created default recall config", zap.String("path", s.path))
}

// Watch reloads the configuration as soon as the file changes, rather than
// on the next Get. It returns when ctx is done.
func (s *ConfigStore) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fsw.Close()
		return err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return err
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				cfg := s.Get()
				s.log.Info("Recall config reloaded",
					zap.Bool("enabled", cfg.Enabled),
					zap.Float64("threshold", cfg.Threshold),
					zap.Int("max_results", cfg.MaxResults),
				)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				s.log.Warn("Recall config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
