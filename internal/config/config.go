package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Session  SessionConfig  `toml:"session"`
	Store    StoreConfig    `toml:"store"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Executor ExecutorConfig `toml:"executor"`
	Guard    GuardConfig    `toml:"guard"`
	Observer ObserverConfig `toml:"observer"`
}

type SessionConfig struct {
	ID        string `toml:"id"`
	TurnLimit int    `toml:"turn_limit"`
}

type StoreConfig struct {
	Backend     string `toml:"backend"` // "sqlite" or "postgres"
	Path        string `toml:"path"`
	PostgresDSN string `toml:"postgres_dsn"`
}

type SnapshotConfig struct {
	Enabled  bool   `toml:"enabled"`
	Address  string `toml:"address"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	TTLHours int    `toml:"ttl_hours"`
}

type ExecutorConfig struct {
	MaxAttempts int `toml:"max_attempts"`
	RPM         int `toml:"rpm"`
	TPM         int `toml:"tpm"`
}

type GuardConfig struct {
	Enabled bool   `toml:"enabled"`
	Action  string `toml:"action"` // "reject" or "annotate"
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Session:  SessionConfig{TurnLimit: 32},
		Store:    StoreConfig{Path: "parley.db"},
		Snapshot: SnapshotConfig{Address: "localhost:6379", TTLHours: 24},
		Executor: ExecutorConfig{MaxAttempts: 3},
		Guard:    GuardConfig{Enabled: true, Action: "reject"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "parley.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("PARLEY_SESSION_ID"); v != "" {
		cfg.Session.ID = v
	}
	if v := os.Getenv("PARLEY_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("PARLEY_POSTGRES_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := os.Getenv("PARLEY_REDIS_ADDR"); v != "" {
		cfg.Snapshot.Address = v
		cfg.Snapshot.Enabled = true
	}
	if v := os.Getenv("PARLEY_REDIS_PASSWORD"); v != "" {
		cfg.Snapshot.Password = v
	}
	if os.Getenv("PARLEY_OBSERVER_ENABLED") == "true" || os.Getenv("PARLEY_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Store.Backend == "" {
		if cfg.Store.PostgresDSN != "" {
			cfg.Store.Backend = "postgres"
		} else {
			cfg.Store.Backend = "sqlite"
		}
	}
	if cfg.Guard.Action == "" {
		cfg.Guard.Action = "reject"
	}

	return cfg
}
