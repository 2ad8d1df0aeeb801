package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
}

func TestReadLogFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat-1.json")
	writeFile(t, path, `{"messages":[
		{"role":"user","content":"hello","timestamp":"2026-03-01T10:15:00Z"},
		{"role":"assistant","content":[{"type":"text","text":"hi"},{"type":"text","text":"there"}],"timestamp":1772360160}
	]}`, time.Time{})

	log, err := ReadLogFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if log.Key != "chat-1" || len(log.Messages) != 2 {
		t.Fatalf("unexpected log %+v", log)
	}
	if log.Messages[1].Content != "hi\nthere" {
		t.Fatalf("expected joined content parts, got %q", log.Messages[1].Content)
	}
	if log.Messages[1].Timestamp.Unix() != 1772360160 {
		t.Fatalf("expected unix timestamp, got %v", log.Messages[1].Timestamp)
	}
	if log.Messages[0].Session != "chat-1" {
		t.Fatalf("expected session key on message, got %q", log.Messages[0].Session)
	}
}

func TestReadLogFileJSONLSkipsMetadataAndBadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat-2.jsonl")
	mtime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	writeFile(t, path, strings.Join([]string{
		`{"_type":"metadata","key":"chat-2"}`,
		`{"role":"user","content":"first"}`,
		`not json`,
		`{"type":"message","message":{"role":"assistant","content":"second"}}`,
	}, "\n"), mtime)

	log, err := ReadLogFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(log.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(log.Messages))
	}
	if !log.Messages[0].Timestamp.Equal(mtime) {
		t.Fatalf("expected mtime fallback, got %v", log.Messages[0].Timestamp)
	}
	if got := Flatten(log.Messages); got != "user: first\nassistant: second\n" {
		t.Fatalf("unexpected flatten output %q", got)
	}
}

func TestLogReaderWindow(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	writeFile(t, filepath.Join(dir, "a.json"), `{"messages":[
		{"role":"user","content":"before","timestamp":"2026-03-01T09:59:59Z"},
		{"role":"user","content":"inside late","timestamp":"2026-03-01T10:40:00Z"}
	]}`, end)
	writeFile(t, filepath.Join(dir, "b.jsonl"),
		`{"role":"assistant","content":"inside early","timestamp":"2026-03-01T10:05:00Z"}`+"\n"+
			`{"role":"assistant","content":"at end","timestamp":"2026-03-01T11:00:00Z"}`, end)
	writeFile(t, filepath.Join(dir, "old.json"), `{"messages":[{"role":"user","content":"stale"}]}`, start.Add(-48*time.Hour))

	msgs, err := NewLogReader(dir, nil).Window(context.Background(), start, end)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Content != "inside early" || msgs[1].Content != "inside late" {
		t.Fatalf("unexpected order %q, %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestLogReaderMissingDir(t *testing.T) {
	files, err := NewLogReader(filepath.Join(t.TempDir(), "missing"), nil).Files(time.Time{})
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no files, got %v", files)
	}
}

func TestManagerUpdatePersistsAndTrimsWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "sessions.json")
	m := NewManager(path, nil)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		err := m.Update(ctx, func(st *State) error {
			s := st.Session("s1")
			s.Append(MessageRecord{ID: string(rune('a' + i)), Hash: string(rune('a' + i)), Timestamp: time.Now()}, 5)
			st.AddHash(string(rune('a'+i)), 3)
			return nil
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	st, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s, ok := st.Lookup("s1")
	if !ok {
		t.Fatal("expected session s1")
	}
	if len(s.Messages) != 5 || s.Messages[0].ID != "c" {
		t.Fatalf("expected window of 5 starting at c, got %+v", s.Messages)
	}
	if s.MessageCount != 7 || s.LastMessageID != "g" {
		t.Fatalf("unexpected counters %d/%s", s.MessageCount, s.LastMessageID)
	}
	if len(st.MessageHashes) != 3 || st.MessageHashes[0] != "e" {
		t.Fatalf("unexpected hash ring %v", st.MessageHashes)
	}
}

func TestManagerUpdateErrorSkipsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	m := NewManager(path, nil)
	ctx := context.Background()

	if err := m.Update(ctx, func(st *State) error { return ErrUnchanged }); err != nil {
		t.Fatalf("unchanged update: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no state file, stat err %v", err)
	}

	boom := errors.New("boom")
	if err := m.Update(ctx, func(st *State) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestManagerMalformedStateFallsBackToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	writeFile(t, path, "{not json", time.Time{})

	st, err := NewManager(path, nil).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(st.Sessions) != 0 || st.Injections == nil {
		t.Fatalf("expected empty state, got %+v", st)
	}
}

func TestStatePrune(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	st := NewState()
	st.Session("stale").LastActivity = now.Add(-60 * 24 * time.Hour)
	st.Session("old").LastActivity = now.Add(-2 * time.Hour)
	st.Session("new").LastActivity = now.Add(-time.Hour)
	st.Session("newest").LastActivity = now

	stats := st.Prune(PruneConfig{MaxSessions: 2, MaxSessionAge: 30 * 24 * time.Hour}, now)
	if stats.SessionsPruned != 2 {
		t.Fatalf("expected 2 pruned, got %d", stats.SessionsPruned)
	}
	if _, ok := st.Lookup("new"); !ok {
		t.Fatal("expected new to survive")
	}
	if _, ok := st.Lookup("old"); ok {
		t.Fatal("expected old to be pruned")
	}
}
