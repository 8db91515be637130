// Package config provides loading and environment overlay for Relay agent
// configuration. It exposes a Default() baseline, JSON and YAML file
// loading, and a RELAY_* environment overlay (with optional .env support).
//
// Example:
//
//	cfg, err := config.LoadFromEnv("relay.yaml")
//	if err != nil {
//	    ...
//	}
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
package config
