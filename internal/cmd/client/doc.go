// Package client provides the `relay` command-line client.
//
// The CLI talks to the agent's local HTTP control API to submit events,
// trigger flushes, switch delivery modes, and inspect pipeline status.
// It is primarily intended for developers and operators.
//
// Installation
//
//	go install github.com/odesys/relay/cmd/relay@latest
//
// Or build from this repo and use the `relay` binary.
//
// # Address configuration
//
// The control API base URL is discovered by the application that embeds
// the commands via a BaseURLFunc. When using the standalone binary, it
// reads RELAY_API and defaults to http://127.0.0.1:7450.
//
// Usage
//
//	relay ingest --source sms --origin "+15550100" --body "hello" \
//	    --extra channel=primary
//
//	relay ingest --source notification --title "Build failed" \
//	    --body "pipeline #1231" --at 2026-08-25T12:00:00Z
//
//	relay flush --source sms
//	relay flush --force              # all sources, interrupting in-flight passes
//
//	relay mode realtime --source sms --for 5m
//	relay mode batch --source sms
//
//	relay status
//	relay status --source notification
//
// Notes
//
//   - ingest accepts --at as RFC3339 or a unix epoch in milliseconds;
//     omitted timestamps default to the agent's clock.
//   - mode realtime with --for 0 uses the agent's default window, after
//     which the source reverts to batch on its own.
package client
