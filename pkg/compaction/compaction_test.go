package compaction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ctxkeep/pkg/delivery"
	"ctxkeep/pkg/session"
	"ctxkeep/pkg/tokens"
	"ctxkeep/pkg/workspace"
)

type recordingDeliverer struct {
	messages []delivery.Message
	err      error
}

func (d *recordingDeliverer) Deliver(ctx context.Context, msg delivery.Message) error {
	if d.err != nil {
		return d.err
	}
	d.messages = append(d.messages, msg)
	return nil
}

func (d *recordingDeliverer) Name() string { return "recording" }
func (d *recordingDeliverer) Close() error { return nil }

type staticStatus string

func (s staticStatus) CurrentStatus(ctx context.Context) (string, error) { return string(s), nil }

type testEnv struct {
	injector  *Injector
	sessions  *session.Manager
	deliverer *recordingDeliverer
	workspace *workspace.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	ws := workspace.NewManager(root, nil)
	if err := ws.Ensure(); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	sessions := session.NewManager(filepath.Join(root, "state", "sessions.json"), nil)
	d := &recordingDeliverer{}
	briefs := NewBriefBuilder(staticStatus("In progress: ship ctxkeep [T-1]"), ws, BriefOptions{}, nil)
	return &testEnv{
		injector:  NewInjector(sessions, nil, briefs, d, Options{}, nil),
		sessions:  sessions,
		deliverer: d,
		workspace: ws,
	}
}

func TestDetectStartFresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	det, err := env.injector.DetectCompaction(ctx, "s1", "m1", "I'll start fresh", "assistant")
	if err != nil {
		t.Fatalf("DetectCompaction: %v", err)
	}
	if !det.Detected || det.Trigger != KindPhrase || det.State != StateCompactionSuspected {
		t.Fatalf("unexpected detection: %+v", det)
	}

	det, err = env.injector.DetectCompaction(ctx, "s1", "m2", "The weather in Lisbon is mild this week.", "user")
	if err != nil {
		t.Fatalf("DetectCompaction: %v", err)
	}
	if det.Detected {
		t.Fatalf("unrelated sentence detected as compaction: %+v", det)
	}
}

func TestDetectTypographicApostrophe(t *testing.T) {
	env := newTestEnv(t)
	det, err := env.injector.DetectCompaction(context.Background(), "s1", "m1", "Sorry, I’ll START FRESH here.", "assistant")
	if err != nil {
		t.Fatalf("DetectCompaction: %v", err)
	}
	if !det.Detected {
		t.Fatal("expected detection with a typographic apostrophe")
	}
}

func TestDetectContextLimit(t *testing.T) {
	env := newTestEnv(t)
	det, err := env.injector.DetectCompaction(context.Background(), "s1", "m1", "Error: the context window is full, please retry", "system")
	if err != nil {
		t.Fatalf("DetectCompaction: %v", err)
	}
	if !det.Detected || det.Trigger != KindContextLimit {
		t.Fatalf("unexpected detection: %+v", det)
	}
}

func TestDetectRepeatedSystemMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	system := "You are a helpful coding assistant."

	if _, err := env.injector.RegisterMessage(ctx, "s1", "m1", system, "system", time.Time{}); err != nil {
		t.Fatalf("RegisterMessage: %v", err)
	}
	for i := 2; i <= 9; i++ {
		if _, err := env.injector.RegisterMessage(ctx, "s1", fmt.Sprintf("m%d", i), fmt.Sprintf("question %d", i), "user", time.Time{}); err != nil {
			t.Fatalf("RegisterMessage: %v", err)
		}
	}

	// Replayed as the 10th message: not enough history yet.
	det, err := env.injector.DetectCompaction(ctx, "s1", "m10", system, "system")
	if err != nil {
		t.Fatalf("DetectCompaction: %v", err)
	}
	if det.Detected {
		t.Fatalf("detected on the 10th message: %+v", det)
	}

	if _, err := env.injector.RegisterMessage(ctx, "s1", "m10", "question 10", "user", time.Time{}); err != nil {
		t.Fatalf("RegisterMessage: %v", err)
	}

	// The same text from a user is not a replayed system prompt.
	det, err = env.injector.DetectCompaction(ctx, "s1", "m11", system, "user")
	if err != nil {
		t.Fatalf("DetectCompaction: %v", err)
	}
	if det.Detected {
		t.Fatalf("user message detected as repeated system: %+v", det)
	}

	det, err = env.injector.DetectCompaction(ctx, "s1", "m11", system, "system")
	if err != nil {
		t.Fatalf("DetectCompaction: %v", err)
	}
	if !det.Detected || det.Trigger != KindRepeatedSystem {
		t.Fatalf("expected repeated system detection on the 11th message, got %+v", det)
	}
}

func TestHandleMessageDetectsReplayedSystemPrompt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	system := "You are a helpful coding assistant."

	handle := func(id, content, role string) *Outcome {
		t.Helper()
		out, err := env.injector.HandleMessage(ctx, Message{Session: "s1", ID: id, Content: content, Role: role})
		if err != nil {
			t.Fatalf("HandleMessage %s: %v", id, err)
		}
		return out
	}

	if out := handle("m1", system, "system"); out.Detection.Detected {
		t.Fatalf("opening system message detected: %+v", out.Detection)
	}
	for i := 2; i <= 10; i++ {
		if out := handle(fmt.Sprintf("m%d", i), fmt.Sprintf("question %d", i), "user"); out.Detection.Detected {
			t.Fatalf("m%d detected: %+v", i, out.Detection)
		}
	}

	out := handle("m11", system, "system")
	if !out.Detection.Detected || out.Detection.Trigger != KindRepeatedSystem {
		t.Fatalf("expected repeated system detection, got %+v", out.Detection)
	}
	if out.State != StateInjected || len(env.deliverer.messages) != 1 {
		t.Fatalf("expected one injection, state=%s delivered=%d", out.State, len(env.deliverer.messages))
	}
}

func TestRegisterRejectsDuplicatesAndTrimsWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ok, err := env.injector.RegisterMessage(ctx, "s1", "a", "hello", "user", time.Time{})
	if err != nil || !ok {
		t.Fatalf("first register: ok=%v err=%v", ok, err)
	}
	ok, err = env.injector.RegisterMessage(ctx, "s1", "a-retry", "hello", "user", time.Time{})
	if err != nil || ok {
		t.Fatalf("duplicate register: ok=%v err=%v", ok, err)
	}

	for i := 0; i < 60; i++ {
		if _, err := env.injector.RegisterMessage(ctx, "s1", fmt.Sprintf("id-%d", i), fmt.Sprintf("msg %d", i), "user", time.Time{}); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}

	st, err := env.sessions.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sess, ok := st.Lookup("s1")
	if !ok {
		t.Fatal("session not persisted")
	}
	if len(sess.Messages) != 50 || sess.MessageCount != 61 || sess.LastMessageID != "id-59" {
		t.Fatalf("unexpected session: window=%d count=%d last=%s", len(sess.Messages), sess.MessageCount, sess.LastMessageID)
	}
}

func TestHandleMessageInjects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	out, err := env.injector.HandleMessage(ctx, Message{Session: "s1", ID: "m1", Role: "assistant", Content: "Context has been cleared, how can I help?"})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if out.State != StateInjected || out.Injection == nil || !out.Registered {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(env.deliverer.messages) != 1 || !strings.Contains(env.deliverer.messages[0].Content, "ship ctxkeep") {
		t.Fatalf("unexpected deliveries: %+v", env.deliverer.messages)
	}

	st, _ := env.sessions.Load(ctx)
	if len(st.Injections) != 1 || st.Injections[0].Trigger != string(KindPhrase) || st.LastCompactionTime == nil {
		t.Fatalf("injection not recorded: %+v", st.Injections)
	}
	if state, _ := env.injector.SessionState(ctx, "s1"); state != StateInjected {
		t.Fatalf("expected injected state, got %s", state)
	}

	if _, err := env.injector.HandleMessage(ctx, Message{Session: "s1", ID: "m2", Role: "user", Content: "thanks", Timestamp: time.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if state, _ := env.injector.SessionState(ctx, "s1"); state != StateActive {
		t.Fatalf("expected active state after next message, got %s", state)
	}
}

func TestFailedDeliveryIsNotRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.deliverer.err = errors.New("runtime offline")
	ctx := context.Background()

	out, err := env.injector.HandleMessage(ctx, Message{Session: "s1", ID: "m1", Role: "assistant", Content: "I'll start fresh"})
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if out == nil || out.State != StateCompactionSuspected || out.Injection != nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	st, _ := env.sessions.Load(ctx)
	if len(st.Injections) != 0 || st.LastCompactionTime != nil {
		t.Fatalf("failed delivery was recorded: %+v", st.Injections)
	}
}

func TestBriefRespectsBudget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var sb strings.Builder
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&sb, "- project %d keeps a long description of its goals\n", i)
	}
	err := env.workspace.UpdateDocument(ctx, env.workspace.LongTermPath(), func(doc *workspace.Document) (bool, error) {
		doc.SetSection("Current Projects", "\n"+sb.String()+"\n")
		return true, nil
	})
	if err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}

	daily := "# Daily\n\n## 09:00 - 10:00\n\n### Decisions\n- decided to ship on Friday\n\n"
	if err := os.WriteFile(env.workspace.DailyPath(time.Now()), []byte(daily), 0o644); err != nil {
		t.Fatalf("write daily: %v", err)
	}

	b := NewBriefBuilder(staticStatus("In progress: budget test"), env.workspace, BriefOptions{Budget: 2000, MinSection: 400}, nil)
	brief, err := b.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if brief.Tokens > 2000 || tokens.Estimate(brief.Text) > 2000 {
		t.Fatalf("brief over budget: %d tokens", brief.Tokens)
	}
	if !strings.Contains(brief.Text, "budget test") {
		t.Fatal("highest-priority section missing")
	}

	var longTerm, today *BriefSection
	for i := range brief.Sections {
		switch brief.Sections[i].Title {
		case "Long-Term Memory":
			longTerm = &brief.Sections[i]
		case "Today So Far":
			today = &brief.Sections[i]
		}
	}
	if longTerm == nil || !longTerm.Truncated {
		t.Fatalf("expected truncated long-term section, got %+v", brief.Sections)
	}
	if today == nil || !today.Skipped {
		t.Fatalf("expected skipped daily section, got %+v", brief.Sections)
	}
}

func TestLoadRulesOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	custom := "rules:\n  - kind: phrase\n    patterns: [\"memory wiped\"]\n"
	if err := os.WriteFile(path, []byte(custom), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rs := LoadRules(path, nil)
	if len(rs.Rules) != 1 {
		t.Fatalf("expected override rules, got %d", len(rs.Rules))
	}
	if _, _, ok := rs.Match(Input{Content: "My MEMORY WIPED itself"}, nil); !ok {
		t.Fatal("override phrase did not match")
	}

	if err := os.WriteFile(path, []byte("rules: [{kind: bogus}]"), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if rs := LoadRules(path, nil); len(rs.Rules) != len(DefaultRules().Rules) {
		t.Fatal("invalid rules file should fall back to built-in rules")
	}
	if rs := LoadRules(filepath.Join(dir, "missing.yaml"), nil); len(rs.Rules) != 3 {
		t.Fatalf("missing rules file should use built-in rules, got %d", len(rs.Rules))
	}
}
