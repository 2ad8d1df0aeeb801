package config

import (
	"strings"
	"testing"
)

func TestChangedSections(t *testing.T) {
	old := DefaultConfig()
	next := DefaultConfig()
	if got := ChangedSections(old, next); len(got) != 0 {
		t.Fatalf("identical configs should not differ, got %v", got)
	}

	next.Logger.Level = "debug"
	next.Embedding.Dimension = 768
	got := ChangedSections(old, next)
	if strings.Join(got, ",") != "logger,embedding" {
		t.Fatalf("unexpected sections: %v", got)
	}
}

func TestWatcherApply(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workspace = t.TempDir()
	w := NewWatcher(NewLoader(), cfg, nil)

	var seen []Change
	w.AddHandler(func(c Change) error {
		seen = append(seen, c)
		return nil
	})

	same := DefaultConfig()
	same.Workspace = cfg.Workspace
	if _, ok := w.Apply(same); ok {
		t.Fatal("unchanged config should be dropped")
	}

	invalid := DefaultConfig()
	invalid.Workspace = cfg.Workspace
	invalid.Embedding.Provider = "nope"
	if _, ok := w.Apply(invalid); ok {
		t.Fatal("invalid config should be dropped")
	}

	next := DefaultConfig()
	next.Workspace = cfg.Workspace
	next.Logger.Level = "debug"
	next.Gateway.Port = 19000
	change, ok := w.Apply(next)
	if !ok {
		t.Fatal("expected change to be accepted")
	}
	if w.Current() != next {
		t.Fatal("current config not swapped")
	}
	if len(seen) != 1 || !seen[0].Has("logger") {
		t.Fatalf("handler not notified: %+v", seen)
	}
	if pending := RestartRequired(change); strings.Join(pending, ",") != "gateway" {
		t.Fatalf("unexpected restart sections: %v", pending)
	}
}
