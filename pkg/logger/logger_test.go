package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ctxkeep.log")

	log, err := New(&Config{
		Level:      LevelInfo,
		OutputPath: path,
		MaxSize:    1,
		Quiet:      true,
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	log.Info("indexed file", zap.String("source", "2026-01-02.md"))
	log.Debug("hidden below level")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `"msg":"indexed file"`) {
		t.Fatalf("expected message in log, got %q", content)
	}
	if !strings.Contains(content, `"source":"2026-01-02.md"`) {
		t.Fatalf("expected field in log, got %q", content)
	}
	if strings.Contains(content, "hidden below level") {
		t.Fatalf("debug entry should be filtered at info level")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(&Config{Level: "verbose", Quiet: true}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug": LevelDebug,
		"warn":  LevelWarn,
		"":      LevelInfo,
		"loud":  LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSetLevelAppliesToChildren(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctxkeep.log")
	log, err := New(&Config{Level: LevelInfo, OutputPath: path, Quiet: true})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	child := log.Named("recall")

	child.Debug("before")
	if err := log.SetLevel(LevelDebug); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	child.Debug("after")
	_ = log.Sync()

	if got := log.Level(); got != LevelDebug {
		t.Fatalf("Level() = %q, want debug", got)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	if strings.Contains(content, `"msg":"before"`) || !strings.Contains(content, `"msg":"after"`) {
		t.Fatalf("level change not applied to child: %q", content)
	}
	if !strings.Contains(content, `"component":"recall"`) {
		t.Fatalf("expected component name, got %q", content)
	}
	if err := log.SetLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
