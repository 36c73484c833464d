package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Store.Path != "parley.db" {
		t.Errorf("expected parley.db, got %s", cfg.Store.Path)
	}
	if cfg.Session.TurnLimit != 32 {
		t.Errorf("expected turn limit 32, got %d", cfg.Session.TurnLimit)
	}
	if cfg.Guard.Action != "reject" {
		t.Errorf("expected reject, got %s", cfg.Guard.Action)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[store]
backend = "sqlite"
path = "demo.db"

[session]
turn_limit = 8
`), 0644)

	cfg := Load(path)
	if cfg.Store.Path != "demo.db" {
		t.Errorf("expected demo.db, got %s", cfg.Store.Path)
	}
	if cfg.Session.TurnLimit != 8 {
		t.Errorf("expected turn limit 8, got %d", cfg.Session.TurnLimit)
	}
	// Defaults preserved
	if cfg.Executor.MaxAttempts != 3 {
		t.Errorf("default should be preserved, got %d", cfg.Executor.MaxAttempts)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PARLEY_POSTGRES_DSN", "postgres://localhost/parley")
	t.Setenv("PARLEY_REDIS_ADDR", "redis:6379")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Store.PostgresDSN != "postgres://localhost/parley" {
		t.Errorf("expected env DSN, got %s", cfg.Store.PostgresDSN)
	}
	// Fallback: DSN present selects the postgres backend
	if cfg.Store.Backend != "postgres" {
		t.Errorf("expected postgres backend, got %s", cfg.Store.Backend)
	}
	// Redis address from env enables the snapshot store
	if !cfg.Snapshot.Enabled || cfg.Snapshot.Address != "redis:6379" {
		t.Errorf("expected snapshot enabled at redis:6379, got %+v", cfg.Snapshot)
	}
}

func TestBackendFallback(t *testing.T) {
	t.Setenv("PARLEY_POSTGRES_DSN", "")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("expected sqlite without a DSN, got %s", cfg.Store.Backend)
	}
}
