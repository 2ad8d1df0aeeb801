package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"ctxkeep/pkg/logger"
)

// Change describes one accepted reload. Sections lists the top-level keys
// whose values differ, e.g. "logger" or "embedding".
type Change struct {
	Old      *Config
	New      *Config
	Sections []string
}

// Has reports whether section changed.
func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// ChangeHandler is called after a valid reload that changed something.
type ChangeHandler func(Change) error

// restartSections only take effect when the daemon restarts: they size
// the index or bind sockets and long-lived clients.
var restartSections = []string{"workspace", "embedding", "store", "delivery", "state", "schedule", "gateway"}

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	loader   *Loader
	current  *Config
	log      *logger.Logger
	handlers []ChangeHandler
	mu       sync.RWMutex
	watching bool
}

// NewWatcher creates a new configuration watcher.
func NewWatcher(loader *Loader, current *Config, log *logger.Logger) *Watcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Watcher{loader: loader, current: current, log: log}
}

// AddHandler registers a handler to be called when configuration changes.
func (w *Watcher) AddHandler(handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Start begins watching the configuration file.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return fmt.Errorf("watcher already started")
	}
	w.watching = true
	w.mu.Unlock()

	path := w.loader.GetConfigPath()
	w.loader.viper.OnConfigChange(func(e fsnotify.Event) {
		if !w.active() {
			return
		}
		next, err := NewLoader().Load(path)
		if err != nil {
			w.log.Warn("Error reloading config", zap.String("path", path), zap.Error(err))
			return
		}
		w.Apply(next)
	})
	w.loader.viper.WatchConfig()
	return nil
}

// Stop stops reacting to configuration changes. Viper offers no way to
// remove its fsnotify watch, so later events are ignored instead.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watching = false
}

func (w *Watcher) active() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// Current returns the last accepted configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Apply validates next, swaps it in and notifies handlers. Invalid or
// unchanged configurations are dropped. It returns the accepted change.
func (w *Watcher) Apply(next *Config) (Change, bool) {
	if err := ValidateConfig(next); err != nil {
		w.log.Warn("Reloaded config is invalid, keeping previous", zap.Error(err))
		return Change{}, false
	}

	w.mu.Lock()
	change := Change{Old: w.current, New: next, Sections: ChangedSections(w.current, next)}
	if len(change.Sections) == 0 {
		w.mu.Unlock()
		return change, false
	}
	w.current = next
	handlers := make([]ChangeHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	if pending := RestartRequired(change); len(pending) > 0 {
		w.log.Warn("Config sections changed that need a restart", zap.Strings("sections", pending))
	}
	for _, handler := range handlers {
		if err := handler(change); err != nil {
			w.log.Warn("Error in config change handler", zap.Error(err))
		}
	}
	return change, true
}

// ChangedSections compares the JSON form of each top-level section.
func ChangedSections(old, next *Config) []string {
	a, errA := sectionJSON(old)
	b, errB := sectionJSON(next)
	if errA != nil || errB != nil {
		return []string{"*"}
	}
	var changed []string
	for _, key := range sectionOrder {
		if !bytes.Equal(a[key], b[key]) {
			changed = append(changed, key)
		}
	}
	return changed
}

// RestartRequired lists the changed sections a running daemon cannot apply.
func RestartRequired(c Change) []string {
	var out []string
	for _, s := range restartSections {
		if c.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

var sectionOrder = []string{
	"workspace", "logger", "embedding", "store", "summarizer", "compaction",
	"recall", "delivery", "tasks", "state", "schedule", "gateway",
}

func sectionJSON(cfg *Config) (map[string]json.RawMessage, error) {
	if cfg == nil {
		return map[string]json.RawMessage{}, nil
	}
	cfg.mu.RLock()
	data, err := json.Marshal(cfg)
	cfg.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
