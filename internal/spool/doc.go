// Package spool implements Relay's per-source delivery pipeline.
//
// # Overview
//
// A Pipeline fuses everything one source ("sms", "notification", ...) needs
// to get observed events to the collector without losing any across crashes:
// a durable queue, a fuzzy-fingerprint dedup window, a batch scheduler, a
// delivery-mode controller, an optional CEL ingest filter, and an optional
// best-effort forwarder. One Pipeline per source; pipelines share nothing.
//
// # Keyspace
//
// Each source owns two whole-document blobs in the store:
//
//	spool/{source}/snapshot  - pending queue, rewritten in full on change
//	spool/{source}/mode      - delivery mode and realtime expiry
//
// There is no incremental persistence. Every queue mutation serializes the
// complete pending set (pending and in-flight alike) and overwrites the
// snapshot, so the on-disk state is always a consistent point-in-time
// document and a crash never leaves a partial update.
//
// # Event lifecycle
//
//  1. Enqueue: the event is stamped with a fingerprint (origin, identity
//     text, observed time rounded to the bucket), run through the CEL
//     filter, offered to the forwarder, and checked against the dedup
//     window. Survivors land in the durable queue, or go straight to the
//     direct-send worker in realtime mode.
//  2. Scheduled: the first queued event arms the flush timer; reaching the
//     size threshold, or an explicit Flush, starts a pass early.
//  3. Processing: one pass drains a batch newest-first, sends it, and acks
//     on success. Failures requeue the whole batch and back off; by default
//     retries continue indefinitely, because dropping is worse than being
//     late. Acked events mark the dedup window with their upload time.
//
// Delivery is at-least-once. Drained events stay in the snapshot until the
// send settles, so a crash mid-upload re-surfaces them on restart and the
// collector may see a batch twice. The restored dedup window keeps replays
// of already-queued observations out; the collector dedups batch IDs.
//
// # Delivery modes
//
// BATCH is the default and the only durable mode. REALTIME sends each event
// directly, trading batching efficiency for latency, and is always bounded:
// a window is requested for a duration and auto-reverts to batch when it
// ends, by timer or lazily on the next mode read. Entering realtime drains
// the queue newest-first through the direct path. A failed direct send falls
// back to the durable queue, and a failing drain stalls rather than cycling
// requeued events through a dead collector. The window survives restarts;
// whatever remains of it resumes.
//
// # Forwarding
//
// A Forwarder relays rule-matching events to a secondary destination the
// moment they arrive, independent of upload: no queue, no retry, a warning
// on failure. Its dedup window rounds observed times to minutes, one notch
// coarser than upload's seconds, so re-reads of the same message within a
// minute forward once.
package spool
