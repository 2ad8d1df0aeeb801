package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesMissingConfigWithDefaults(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")

	cfg, err := NewLoader().Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("expected config file to be created: %v", err)
	}
	if cfg.Store.ChunkSize != 512 || cfg.Store.ChunkOverlap != 128 {
		t.Fatalf("unexpected chunk defaults %d/%d", cfg.Store.ChunkSize, cfg.Store.ChunkOverlap)
	}
	want := filepath.Join(filepath.Dir(cfgPath), "workspace")
	if cfg.WorkspacePath() != want {
		t.Fatalf("expected workspace %s, got %s", want, cfg.WorkspacePath())
	}
}

func TestLoadUsesConfigPathEnvWhenPathEmpty(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "from-env.json")

	seed := DefaultConfig()
	seed.Gateway.Port = 29999
	if err := SaveToFile(seed, cfgPath); err != nil {
		t.Fatalf("save config: %v", err)
	}

	t.Setenv(ConfigPathEnv, cfgPath)

	got, err := NewLoader().Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got.Gateway.Port != 29999 {
		t.Fatalf("expected gateway port 29999, got %d", got.Gateway.Port)
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	content := `{"store": {"chunk_size": 256, "chunk_overlap": 64}}`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CTXKEEP_STORE_CHUNK_OVERLAP", "32")

	got, err := NewLoader().Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got.Store.ChunkSize != 256 {
		t.Fatalf("expected chunk size from file, got %d", got.Store.ChunkSize)
	}
	if got.Store.ChunkOverlap != 32 {
		t.Fatalf("expected overlap from env, got %d", got.Store.ChunkOverlap)
	}
	if got.Store.MaxDistance != 2.0 {
		t.Fatalf("expected default max distance, got %v", got.Store.MaxDistance)
	}
}

func TestResolveRelativeToWorkspace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workspace = "/srv/agent"

	if got := cfg.Resolve("state/sessions.json"); got != "/srv/agent/state/sessions.json" {
		t.Fatalf("unexpected resolved path %s", got)
	}
	if got := cfg.Resolve("/abs/file.json"); got != "/abs/file.json" {
		t.Fatalf("absolute path should be unchanged, got %s", got)
	}
}
