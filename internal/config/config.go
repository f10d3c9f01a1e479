package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/Joseda-hg/tasksync/internal/bucket"
)

type Bucket struct {
	Label     string `json:"label"`
	From      int    `json:"from"`
	To        int    `json:"to"`
	OpenStart bool   `json:"open_start,omitempty"`
}

type Config struct {
	ServerURL        string   `json:"server_url"`
	DBPath           string   `json:"db_path"`
	WebPort          int      `json:"web_port"`
	RequestTimeoutMS int      `json:"request_timeout_ms"`
	ShowCompleted    bool     `json:"show_completed"`
	LogLevel         string   `json:"log_level"`
	LogFile          string   `json:"log_file,omitempty"`
	Buckets          []Bucket `json:"buckets,omitempty"`
}

func Default() Config {
	return Config{
		ServerURL:        "http://localhost:8080",
		WebPort:          8080,
		RequestTimeoutMS: 10000,
		LogLevel:         "info",
	}
}

func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "tasksync", "config.json"), nil
}

func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}

// Load reads the config at path. Comments and trailing commas are allowed.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return Config{}, err
	}

	if err := json.Unmarshal(jsonc.ToJSON(data), &config); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}

func Save(path string, cfg Config) error {
	if err := EnsureDir(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

func (c Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.RequestTimeoutMS < 0 {
		return fmt.Errorf("request_timeout_ms must not be negative")
	}
	return bucket.ValidateDefs(c.BucketDefs())
}

// BucketDefs returns the configured buckets, or the defaults when none are set.
func (c Config) BucketDefs() []bucket.Def {
	if len(c.Buckets) == 0 {
		return bucket.DefaultDefs()
	}
	defs := make([]bucket.Def, 0, len(c.Buckets))
	for _, b := range c.Buckets {
		defs = append(defs, bucket.Def{Label: b.Label, From: b.From, To: b.To, OpenStart: b.OpenStart})
	}
	return defs
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

func ParseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", value)
	}
}
