// Package runtime wires storage, device identity, transports, and source
// pipelines into a single Relay agent instance. It exposes Open/Close,
// basic health checks, and per-source operations dispatched by source ID.
//
// Example:
//
//	cfg, _ := config.LoadFromEnv("")
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
//	// Health
//	_ = rt.CheckHealth(context.Background())
//	// Ingest and flush
//	_ = rt.Enqueue("sms", "+15550000", "", "hello", 0, nil)
//	_ = rt.Flush("sms", false)
package runtime
