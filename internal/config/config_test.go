package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	data := []byte(`
log:
  level: debug
  format: json
pipeline:
  poll_interval: 500ms
  max_attempts: 3
health:
  window: 2m
  interval: 5s
  dependencies: [db, cache]
`)
	cfg, err := Load(data, ".yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Pipeline.PollInterval.D() != 500*time.Millisecond {
		t.Errorf("poll_interval = %s", cfg.Pipeline.PollInterval)
	}
	if cfg.Pipeline.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d", cfg.Pipeline.MaxAttempts)
	}
	// Untouched keys keep defaults.
	if cfg.Pipeline.BackoffBase.D() != time.Second {
		t.Errorf("backoff_base lost default: %s", cfg.Pipeline.BackoffBase)
	}
	if cfg.Health.Window.D() != 2*time.Minute || len(cfg.Health.Dependencies) != 2 {
		t.Errorf("health = %+v", cfg.Health)
	}
}

func TestLoadJSONDetectedByContent(t *testing.T) {
	data := []byte(`{"store": {"path": "/tmp/ratchet.db", "lease": "45s"}}`)
	cfg, err := Load(data, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Path != "/tmp/ratchet.db" || cfg.Store.Lease.D() != 45*time.Second {
		t.Errorf("store = %+v", cfg.Store)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ratchet.yml")
	if err := os.WriteFile(path, []byte("artifact:\n  base_dir: overlays\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Artifact.BaseDir != "overlays" {
		t.Errorf("base_dir = %q", cfg.Artifact.BaseDir)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero attempts", "pipeline:\n  max_attempts: 0\n"},
		{"backoff max below base", "pipeline:\n  backoff_base: 1m\n  backoff_max: 1s\n"},
		{"window below interval", "health:\n  window: 5s\n  interval: 10s\n"},
		{"unitless duration", "pipeline:\n  poll_interval: 500\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load([]byte(tt.yaml), ".yaml"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
