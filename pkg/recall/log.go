package recall

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"ctxkeep/pkg/fileutil"
)

// maxLoggedQuery bounds the query text kept in each log entry.
const maxLoggedQuery = 200

// LogEntry is one line of the injection log.
type LogEntry struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Session       string    `json:"session,omitempty"`
	Query         string    `json:"query"`
	ResultCount   int       `json:"result_count"`
	TokenEstimate int       `json:"token_estimate"`
	Sources       []string  `json:"sources"`
	SimilarityMin float64   `json:"similarity_min"`
	SimilarityMax float64   `json:"similarity_max"`
}

// InjectionLog appends entries to a JSONL file.
type InjectionLog struct {
	path string

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewInjectionLog creates a log writing to path.
func NewInjectionLog(path string) *InjectionLog {
	return &InjectionLog{
		path:    path,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Path returns the log file path.
func (l *InjectionLog) Path() string {
	return l.path
}

// Append assigns an ID when missing, truncates the query and writes e.
func (l *InjectionLog) Append(ctx context.Context, e LogEntry) (LogEntry, error) {
	l.mu.Lock()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = ulid.MustNew(ulid.Timestamp(e.Timestamp), l.entropy).String()
	}
	l.mu.Unlock()

	e.Query = truncateRunes(e.Query, maxLoggedQuery)
	if e.Sources == nil {
		e.Sources = []string{}
	}

	line, err := json.Marshal(e)
	if err != nil {
		return e, fmt.Errorf("encoding recall log entry: %w", err)
	}
	line = append(line, '\n')

	err = fileutil.WithLock(ctx, l.path, func() error {
		f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
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
		return e, fmt.Errorf("writing recall log: %w", err)
	}
	return e, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
