// Package session reads raw conversation logs and persists per-session
// compaction tracking state.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"ctxkeep/pkg/fileutil"
	"ctxkeep/pkg/logger"
)

// ErrUnchanged may be returned from an Update callback to skip the write.
var ErrUnchanged = errors.New("session state unchanged")

// MessageRecord is one entry in a session's bounded message window.
type MessageRecord struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// CompactionEvent records a detected working-memory reset.
type CompactionEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	MessageCount int       `json:"message_count"`
	Trigger      string    `json:"trigger,omitempty"`
}

// Session is the tracked history of one conversation.
type Session struct {
	LastMessageID string            `json:"last_message_id"`
	MessageCount  int               `json:"message_count"`
	Messages      []MessageRecord   `json:"messages"`
	LastActivity  time.Time         `json:"last_activity"`
	Compactions   []CompactionEvent `json:"compactions"`
}

// InjectionEvent records a delivered continuity brief.
type InjectionEvent struct {
	ID          string    `json:"id"`
	Session     string    `json:"session"`
	ContentHash string    `json:"content_hash"`
	Trigger     string    `json:"trigger"`
	Timestamp   time.Time `json:"timestamp"`
}

// State is the whole session state file.
type State struct {
	Sessions           map[string]*Session `json:"sessions"`
	LastCompactionTime *time.Time          `json:"last_compaction_time"`
	MessageHashes      []string            `json:"message_hashes"`
	Injections         []InjectionEvent    `json:"injections"`
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		Sessions:      make(map[string]*Session),
		MessageHashes: []string{},
		Injections:    []InjectionEvent{},
	}
}

// Session returns the session for key, creating it when absent.
func (st *State) Session(key string) *Session {
	if st.Sessions == nil {
		st.Sessions = make(map[string]*Session)
	}
	s, ok := st.Sessions[key]
	if !ok || s == nil {
		s = &Session{Messages: []MessageRecord{}, Compactions: []CompactionEvent{}}
		st.Sessions[key] = s
	}
	return s
}

// Lookup returns the session for key without creating it.
func (st *State) Lookup(key string) (*Session, bool) {
	s, ok := st.Sessions[key]
	return s, ok && s != nil
}

// AddHash appends h to the global hash ring, keeping the newest limit entries.
func (st *State) AddHash(h string, limit int) {
	st.MessageHashes = append(st.MessageHashes, h)
	if limit > 0 && len(st.MessageHashes) > limit {
		st.MessageHashes = append([]string(nil), st.MessageHashes[len(st.MessageHashes)-limit:]...)
	}
}

// AddInjection appends ev to the rolling buffer, keeping the newest limit entries.
func (st *State) AddInjection(ev InjectionEvent, limit int) {
	st.Injections = append(st.Injections, ev)
	if limit > 0 && len(st.Injections) > limit {
		st.Injections = append([]InjectionEvent(nil), st.Injections[len(st.Injections)-limit:]...)
	}
	ts := ev.Timestamp
	st.LastCompactionTime = &ts
}

// HasHash reports whether a record with hash h is in the session window.
func (s *Session) HasHash(h string) bool {
	for _, rec := range s.Messages {
		if rec.Hash == h {
			return true
		}
	}
	return false
}

// Append adds rec to the window, dropping the oldest records beyond window.
func (s *Session) Append(rec MessageRecord, window int) {
	s.Messages = append(s.Messages, rec)
	if window > 0 && len(s.Messages) > window {
		s.Messages = append([]MessageRecord(nil), s.Messages[len(s.Messages)-window:]...)
	}
	s.LastMessageID = rec.ID
	s.MessageCount++
	s.LastActivity = rec.Timestamp
}

// Manager persists State to a single JSON file. Every read-modify-write
// holds an advisory lock on the file and rewrites it atomically.
type Manager struct {
	path string
	log  *logger.Logger
	mu   sync.Mutex
}

// NewManager creates a state manager for path.
func NewManager(path string, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{path: path, log: log}
}

// Path returns the state file path.
func (m *Manager) Path() string {
	return m.path
}

// Load returns a snapshot of the state. A missing file yields an empty
// state; a malformed file is logged and treated as missing.
func (m *Manager) Load(ctx context.Context) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.read(), nil
}

// Update runs fn against the current state under the file lock and
// persists the result. Returning ErrUnchanged skips the write; any other
// error aborts without writing.
func (m *Manager) Update(ctx context.Context, fn func(*State) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return fileutil.WithLock(ctx, m.path, func() error {
		st := m.read()
		if err := fn(st); err != nil {
			if errors.Is(err, ErrUnchanged) {
				return nil
			}
			return err
		}
		if err := fileutil.WriteJSONAtomic(m.path, st, 0o644); err != nil {
			return fmt.Errorf("writing session state: %w", err)
		}
		return nil
	})
}

func (m *Manager) read() *State {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.log.Error("Reading session state failed, using empty state", zap.String("path", m.path), zap.Error(err))
		}
		return NewState()
	}

	st := NewState()
	if err := json.Unmarshal(data, st); err != nil {
		m.log.Error("Malformed session state, using empty state", zap.String("path", m.path), zap.Error(err))
		return NewState()
	}
	if st.Sessions == nil {
		st.Sessions = make(map[string]*Session)
	}
	if st.MessageHashes == nil {
		st.MessageHashes = []string{}
	}
	if st.Injections == nil {
		st.Injections = []InjectionEvent{}
	}
	return st
}
