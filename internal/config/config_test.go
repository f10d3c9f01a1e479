package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WebPort != 8080 || cfg.ServerURL == "" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.BucketDefs()) != 6 {
		t.Fatalf("expected default buckets, got %d", len(cfg.BucketDefs()))
	}
}

func TestLoadAcceptsCommentsAndTrailingCommas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
  // local dev server
  "server_url": "http://127.0.0.1:9000",
  "request_timeout_ms": 2500,
  "buckets": [
    {"label": "Today", "from": 0, "to": 0},
    {"label": "This week", "from": 0, "to": 6}, /* overlapping */
  ],
}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != "http://127.0.0.1:9000" {
		t.Fatalf("unexpected server url %q", cfg.ServerURL)
	}
	if cfg.RequestTimeout() != 2500*time.Millisecond {
		t.Fatalf("unexpected timeout %v", cfg.RequestTimeout())
	}
	defs := cfg.BucketDefs()
	if len(defs) != 2 || defs[1].Label != "This week" || defs[1].To != 6 {
		t.Fatalf("unexpected buckets %+v", defs)
	}
	if cfg.WebPort != 8080 {
		t.Fatalf("expected unset fields to keep defaults, got %d", cfg.WebPort)
	}
}

func TestLoadRejectsInvalidBuckets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"buckets": [{"label": "Backwards", "from": 3, "to": 1}]}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected invalid bucket to be rejected")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.ShowCompleted = true
	cfg.LogLevel = "debug"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.ShowCompleted || loaded.LogLevel != "debug" {
		t.Fatalf("unexpected config %+v", loaded)
	}
}
