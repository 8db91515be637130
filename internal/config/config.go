package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	logpkg "github.com/odesys/relay/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir   string          `json:"dataDir" yaml:"dataDir"`
	DeviceID  string          `json:"deviceId" yaml:"deviceId"`
	Fsync     string          `json:"fsync" yaml:"fsync"`
	Collector CollectorConfig `json:"collector" yaml:"collector"`
	Forward   ForwardConfig   `json:"forward" yaml:"forward"`
	Sources   []SourceConfig  `json:"sources" yaml:"sources"`
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	Log       logpkg.Config   `json:"log" yaml:"log"`
}

// CollectorConfig points at the upstream batch endpoint.
type CollectorConfig struct {
	BaseURL   string            `json:"baseUrl" yaml:"baseUrl"`
	TimeoutMs int64             `json:"timeoutMs" yaml:"timeoutMs"`
	Headers   map[string]string `json:"headers" yaml:"headers"`
}

// Timeout returns the per-request timeout, 0 meaning the transport default.
func (c CollectorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ForwardConfig points at the optional secondary destination. Forwarding is
// off unless BaseURL is set and a source opts in.
type ForwardConfig struct {
	BaseURL  string `json:"baseUrl" yaml:"baseUrl"`
	Rule     string `json:"rule" yaml:"rule"`
	Cap      int    `json:"cap" yaml:"cap"`
	BucketMs int64  `json:"bucketMs" yaml:"bucketMs"`
}

// Bucket returns the forwarding dedup granularity, 0 meaning the default.
func (c ForwardConfig) Bucket() time.Duration {
	return time.Duration(c.BucketMs) * time.Millisecond
}

// SourceConfig tunes one pipeline. Zero fields take the engine defaults.
type SourceConfig struct {
	Name            string `json:"name" yaml:"name"`
	FlushIntervalMs int64  `json:"flushIntervalMs" yaml:"flushIntervalMs"`
	Threshold       int    `json:"threshold" yaml:"threshold"`
	MaxBatch        int    `json:"maxBatch" yaml:"maxBatch"`
	DedupCap        int    `json:"dedupCap" yaml:"dedupCap"`
	DedupMaxAgeMs   int64  `json:"dedupMaxAgeMs" yaml:"dedupMaxAgeMs"`
	BucketMs        int64  `json:"bucketMs" yaml:"bucketMs"`
	Filter          string `json:"filter" yaml:"filter"`
	Forward         bool   `json:"forward" yaml:"forward"`
}

// FlushInterval returns the timer trigger, 0 meaning the engine default.
func (s SourceConfig) FlushInterval() time.Duration {
	return time.Duration(s.FlushIntervalMs) * time.Millisecond
}

// DedupMaxAge returns the dedup entry lifetime, 0 meaning the default.
func (s SourceConfig) DedupMaxAge() time.Duration {
	return time.Duration(s.DedupMaxAgeMs) * time.Millisecond
}

// Bucket returns the fingerprint granularity, 0 meaning the default.
func (s SourceConfig) Bucket() time.Duration {
	return time.Duration(s.BucketMs) * time.Millisecond
}

// HTTPConfig configures the local control API.
type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Default returns built-in defaults: the two standard sources spooling to
// the platform data dir, control API on localhost.
func Default() Config {
	return Config{
		DataDir: DefaultDataDir(),
		Fsync:   "always",
		Sources: []SourceConfig{
			{Name: "sms"},
			{Name: "notification"},
		},
		HTTP: HTTPConfig{Addr: "127.0.0.1:7450"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path
// is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// LoadFromEnv loads a .env file when present, then the config file, then
// overlays RELAY_* environment variables. This is the entry point the CLI
// uses.
func LoadFromEnv(path string) (Config, error) {
	_ = godotenv.Load()
	cfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	FromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the runtime cannot start with.
func (c Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("config: at least one source is required")
	}
	seen := map[string]bool{}
	for _, s := range c.Sources {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("config: source with empty name")
		}
		if seen[name] {
			return fmt.Errorf("config: duplicate source %q", name)
		}
		seen[name] = true
	}
	switch strings.ToLower(c.Fsync) {
	case "", "always", "interval", "never":
	default:
		return fmt.Errorf("config: unknown fsync mode %q", c.Fsync)
	}
	return nil
}

// SourceNames returns the configured source IDs in order.
func (c Config) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		names = append(names, s.Name)
	}
	return names
}
