package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"ctxkeep/pkg/logger"
)

// Message is one record of a raw conversation log written by the agent runtime.
type Message struct {
	Role      string    `json:"role"` // user, assistant, system, tool
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// Session is the log the message came from. Not part of the log format.
	Session string `json:"-"`
}

// UnmarshalJSON accepts string or content-part array bodies and RFC 3339
// or unix timestamps.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role      string          `json:"role"`
		Content   json.RawMessage `json:"content"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Content = decodeContent(raw.Content)
	m.Timestamp = decodeTimestamp(raw.Timestamp)
	return nil
}

func decodeContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func decodeTimestamp(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range timestampLayouts {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return t
			}
		}
		return time.Time{}
	}
	n, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}
	}
	if n > 1e12 {
		return time.UnixMilli(int64(n))
	}
	return time.Unix(int64(n), 0)
}

// Log is a parsed conversation log file.
type Log struct {
	Key      string
	Path     string
	ModTime  time.Time
	Messages []Message
}

// ReadLogFile parses a .json log ({"messages": [...]}) or a .jsonl log
// (one message per line). Messages without a timestamp take the file's
// modification time.
func ReadLogFile(path string) (*Log, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading session log: %w", err)
	}

	key := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	log := &Log{Key: key, Path: path, ModTime: info.ModTime()}

	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		log.Messages = parseJSONL(data)
	} else {
		log.Messages, err = parseJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parsing session log %s: %w", path, err)
		}
	}

	for i := range log.Messages {
		log.Messages[i].Session = key
		if log.Messages[i].Timestamp.IsZero() {
			log.Messages[i].Timestamp = log.ModTime
		}
	}
	return log, nil
}

func parseJSON(data []byte) ([]Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var msgs []Message
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, err
		}
		return msgs, nil
	}
	var doc struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}
	return doc.Messages, nil
}

func parseJSONL(data []byte) []Message {
	var msgs []Message
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var probe struct {
			Type    string          `json:"_type"`
			Role    string          `json:"role"`
			Message json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			continue // Skip invalid lines
		}
		if probe.Type == "metadata" {
			continue
		}
		if probe.Role == "" && len(probe.Message) > 0 {
			line = probe.Message
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err == nil && msg.Role != "" {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

// Flatten renders messages as "role: content" lines for indexing.
func Flatten(msgs []Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// LogReader reads conversation logs from the runtime's sessions directory.
type LogReader struct {
	dir string
	log *logger.Logger
}

// NewLogReader creates a reader over dir.
func NewLogReader(dir string, log *logger.Logger) *LogReader {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogReader{dir: dir, log: log}
}

// Dir returns the sessions directory.
func (r *LogReader) Dir() string {
	return r.dir
}

// Files lists .json and .jsonl logs modified at or after since, in path order.
// A missing directory yields no files.
func (r *LogReader) Files(since time.Time) ([]string, error) {
	var files []string
	err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == r.dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".json" && ext != ".jsonl" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !since.IsZero() && info.ModTime().Before(since) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("listing session logs: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Window returns messages from all logs with timestamps in [start, end),
// ordered by timestamp. Unparseable logs are logged and skipped.
func (r *LogReader) Window(ctx context.Context, start, end time.Time) ([]Message, error) {
	files, err := r.Files(start)
	if err != nil {
		return nil, err
	}

	var out []Message
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log, err := ReadLogFile(path)
		if err != nil {
			r.log.Error("Skipping unreadable session log", zap.String("path", path), zap.Error(err))
			continue
		}
		for _, m := range log.Messages {
			if !m.Timestamp.Before(start) && m.Timestamp.Before(end) {
				out = append(out, m)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
