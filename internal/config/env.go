package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays RELAY_* environment variables onto cfg. Env wins over
// file values; per-source tunables stay file-only.
func FromEnv(cfg *Config) {
	if v := os.Getenv("RELAY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("RELAY_DEVICE_ID"); v != "" {
		cfg.DeviceID = v
	}
	if v := os.Getenv("RELAY_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv("RELAY_COLLECTOR_URL"); v != "" {
		cfg.Collector.BaseURL = v
	}
	if v := os.Getenv("RELAY_COLLECTOR_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			cfg.Collector.TimeoutMs = ms
		}
	}
	if v := os.Getenv("RELAY_COLLECTOR_TOKEN"); v != "" {
		if cfg.Collector.Headers == nil {
			cfg.Collector.Headers = map[string]string{}
		}
		cfg.Collector.Headers["Authorization"] = "Bearer " + v
	}
	if v := os.Getenv("RELAY_FORWARD_URL"); v != "" {
		cfg.Forward.BaseURL = v
	}
	if v := os.Getenv("RELAY_FORWARD_RULE"); v != "" {
		cfg.Forward.Rule = v
	}
	if v := os.Getenv("RELAY_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("RELAY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("RELAY_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("RELAY_SOURCES"); v != "" {
		names := strings.Split(v, ",")
		var sources []SourceConfig
		for _, n := range names {
			n = strings.TrimSpace(n)
			if n == "" {
				continue
			}
			// Keep file-level tunables for sources present in both.
			kept := SourceConfig{Name: n}
			for _, s := range cfg.Sources {
				if s.Name == n {
					kept = s
					break
				}
			}
			sources = append(sources, kept)
		}
		if len(sources) > 0 {
			cfg.Sources = sources
		}
	}
}
