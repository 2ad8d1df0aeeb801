package delivery

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/logger"
)

func TestOutboxAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "outbox.jsonl")
	o := NewOutbox(path, logger.NewNop())

	for _, session := range []string{"a", "b"} {
		msg := Message{ID: "id-" + session, Session: session, Kind: "continuity_brief", Content: "brief", Timestamp: time.Now()}
		if err := o.Deliver(context.Background(), msg); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	defer f.Close()

	var sessions []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			t.Fatalf("decode line %q: %v", scanner.Text(), err)
		}
		sessions = append(sessions, msg.Session)
	}
	if strings.Join(sessions, ",") != "a,b" {
		t.Fatalf("unexpected sessions: %v", sessions)
	}
}

func TestOutboxWithoutPath(t *testing.T) {
	err := NewOutbox("", logger.NewNop()).Deliver(context.Background(), Message{Session: "x"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	resolve := func(p string) string { return filepath.Join("/ws", p) }

	d, err := New(config.DeliveryConfig{Backend: "outbox", OutboxFile: "state/outbox.jsonl"}, resolve, nil)
	if err != nil {
		t.Fatalf("New outbox: %v", err)
	}
	if d.Name() != "outbox" || d.(*Outbox).Path() != "/ws/state/outbox.jsonl" {
		t.Fatalf("unexpected outbox: %s %s", d.Name(), d.(*Outbox).Path())
	}

	if _, err := New(config.DeliveryConfig{Backend: "telegram"}, resolve, nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("telegram without token: expected ErrNotConfigured, got %v", err)
	}
	if _, err := New(config.DeliveryConfig{Backend: "redis"}, resolve, nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("redis without addr: expected ErrNotConfigured, got %v", err)
	}
	if _, err := New(config.DeliveryConfig{Backend: "pigeon"}, resolve, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestChatID(t *testing.T) {
	tests := []struct {
		session string
		want    int64
		wantErr bool
	}{
		{"123", 123, false},
		{"telegram:456", 456, false},
		{"telegram:-100200", -100200, false},
		{"web:abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ChatID(tt.session)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ChatID(%q) error = %v, wantErr %v", tt.session, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ChatID(%q) = %d, want %d", tt.session, got, tt.want)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	text := strings.Repeat("line of text\n", 10)
	parts := splitMessage(text, 30)
	if len(parts) < 4 {
		t.Fatalf("expected several parts, got %d", len(parts))
	}
	for _, p := range parts {
		if len(p) > 30 {
			t.Fatalf("part exceeds limit: %q", p)
		}
	}
	if got := splitMessage("short", 30); len(got) != 1 || got[0] != "short" {
		t.Fatalf("unexpected split of short text: %v", got)
	}
}

func TestTelegramDeliver(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"ctxkeep","username":"ctxkeep_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			_ = r.ParseForm()
			mu.Lock()
			sent = append(sent, r.FormValue("chat_id")+"|"+r.FormValue("text"))
			mu.Unlock()
			io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tg, err := NewTelegram(config.TelegramConfig{Token: "test-token"}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	tg.endpoint = srv.URL + "/bot%s/%s"
	tg.client = srv.Client()

	msg := Message{Session: "telegram:42", Kind: "continuity_brief", Content: "hello again"}
	if err := tg.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 1 || sent[0] != "42|hello again" {
		t.Fatalf("unexpected sends: %v", sent)
	}
}

func TestTelegramRejectsNonChatSession(t *testing.T) {
	tg, err := NewTelegram(config.TelegramConfig{Token: "t"}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	if err := tg.Deliver(context.Background(), Message{Session: "web:1"}); err == nil {
		t.Fatal("expected error for non-numeric session")
	}
}

func TestRedisChannel(t *testing.T) {
	r, err := NewRedis(config.RedisConfig{Addr: "localhost:6379"}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer r.Close()
	if got := r.Channel("abc"); got != "ctxkeep:session:abc" {
		t.Fatalf("unexpected channel %q", got)
	}
}
