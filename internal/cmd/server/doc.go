// Package serverrun exposes a shared Run entrypoint used by the CLI to start
// the Relay agent with its HTTP control API, handling lifecycle and shutdown.
//
// Example:
//
//	opts := serverrun.Options{ConfigPath: "relay.yaml", HTTPAddr: "127.0.0.1:7450"}
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, opts)
package serverrun
