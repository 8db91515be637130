package spool

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/odesys/relay/internal/event"
	pebblestore "github.com/odesys/relay/internal/storage/pebble"
	logpkg "github.com/odesys/relay/pkg/log"
)

// Queue is the durable pending queue for one source. Events live in memory
// in arrival order and are mirrored to the blob store as a full-overwrite
// JSON snapshot. All snapshot writes flow through a single persistence
// goroutine fed by a coalescing one-slot request channel, so producers never
// block on storage and writes stay ordered.
//
// Drained events move to an in-flight set until acknowledged. The snapshot
// always covers pending plus in-flight, so a crash between a drain and its
// acknowledgement re-surfaces the batch on the next load.
type Queue struct {
	source string
	store  Store
	logger logpkg.Logger
	nowMs  func() int64

	mu       sync.Mutex
	events   []event.Event
	inflight []event.Event

	persistCh chan persistReq
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

type persistReq struct {
	done chan struct{}
}

// NewQueue creates a queue for source backed by store and starts its
// persistence worker.
func NewQueue(source string, store Store, logger logpkg.Logger) *Queue {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	q := &Queue{
		source:    source,
		store:     store,
		logger:    logger.With(logpkg.Component("spool"), logpkg.Str("source", source)),
		nowMs:     func() int64 { return time.Now().UnixMilli() },
		persistCh: make(chan persistReq, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go q.persistLoop()
	return q
}

// Load reads the snapshot from the store into memory, replacing current
// contents. A missing blob yields an empty queue; a corrupt blob is logged
// and likewise yields an empty queue, never an error to the caller. Returns
// the loaded events so the caller can re-arm its dedup window.
func (q *Queue) Load() []event.Event {
	data, err := q.store.Get(snapshotKey(q.source))
	if err != nil {
		if !errors.Is(err, pebblestore.ErrNotFound) {
			q.logger.Error("spool.load_failed", logpkg.Err(err))
		}
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	events, lastUpdated, skipped, err := decodeSnapshot(data)
	if err != nil {
		q.logger.Error("spool.load_corrupt_snapshot", logpkg.Err(err))
		return nil
	}
	if skipped > 0 {
		q.logger.Error("spool.load_skipped_events", logpkg.Int("skipped", skipped))
	}
	q.mu.Lock()
	q.events = append(q.events[:0], events...)
	q.inflight = q.inflight[:0]
	q.mu.Unlock()
	q.logger.Info("spool.loaded",
		logpkg.Int("events", len(events)),
		logpkg.Int64("last_updated", lastUpdated))
	return events
}

// Enqueue appends ev and schedules an asynchronous snapshot rewrite. It
// never blocks and never fails upstream.
func (q *Queue) Enqueue(ev event.Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	n := len(q.events)
	q.mu.Unlock()
	q.schedulePersist()
	q.logger.Debug("spool.enqueue",
		logpkg.Str("fp", ev.Fingerprint.String()),
		logpkg.Int("pending", n))
}

// DrainBatch removes and returns up to max events, newest first by observed
// time. The removed events become in-flight until Ack or Requeue. The
// snapshot is deliberately not rewritten here; losing the process now means
// the batch re-surfaces on the next load.
func (q *Queue) DrainBatch(max int) []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return nil
	}
	sort.SliceStable(q.events, func(i, j int) bool {
		return q.events[i].ObservedAt > q.events[j].ObservedAt
	})
	if max <= 0 || max > len(q.events) {
		max = len(q.events)
	}
	batch := make([]event.Event, max)
	copy(batch, q.events[:max])
	remaining := len(q.events) - max
	copy(q.events, q.events[max:])
	q.events = q.events[:remaining]
	q.inflight = append(q.inflight, batch...)
	return batch
}

// Ack marks in-flight events as delivered and schedules a snapshot rewrite
// covering what remains. An empty queue clears the durable blob entirely.
func (q *Queue) Ack(events []event.Event) {
	if len(events) == 0 {
		return
	}
	acked := make(map[event.Fingerprint]struct{}, len(events))
	for i := range events {
		acked[events[i].Fingerprint] = struct{}{}
	}
	q.mu.Lock()
	kept := q.inflight[:0]
	for _, ev := range q.inflight {
		if _, ok := acked[ev.Fingerprint]; !ok {
			kept = append(kept, ev)
		}
	}
	q.inflight = kept
	q.mu.Unlock()
	q.schedulePersist()
}

// Requeue returns in-flight events to the pending set after a transport
// failure. Order is not restored; the next drain re-sorts anyway. The
// durable snapshot still covers these events, so nothing is rewritten.
func (q *Queue) Requeue(events []event.Event) {
	if len(events) == 0 {
		return
	}
	back := make(map[event.Fingerprint]struct{}, len(events))
	for i := range events {
		back[events[i].Fingerprint] = struct{}{}
	}
	q.mu.Lock()
	kept := q.inflight[:0]
	for _, ev := range q.inflight {
		if _, ok := back[ev.Fingerprint]; !ok {
			kept = append(kept, ev)
		}
	}
	q.inflight = kept
	q.events = append(q.events, events...)
	q.mu.Unlock()
}

// Pending returns the number of drainable events.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Size returns pending plus in-flight: everything not yet acknowledged.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events) + len(q.inflight)
}

// schedulePersist requests an asynchronous snapshot rewrite. If one is
// already queued it will observe this change too, so the request is dropped.
func (q *Queue) schedulePersist() {
	select {
	case q.persistCh <- persistReq{}:
	default:
	}
}

// Sync blocks until the queue's current contents have been written through
// the persistence worker. Used at shutdown and by tests that simulate
// restarts.
func (q *Queue) Sync() {
	req := persistReq{done: make(chan struct{})}
	select {
	case q.persistCh <- req:
		select {
		case <-req.done:
		case <-q.doneCh:
		}
	case <-q.stopCh:
	}
}

// Close flushes outstanding writes and stops the persistence worker.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.Sync()
		close(q.stopCh)
		<-q.doneCh
	})
}

func (q *Queue) persistLoop() {
	defer close(q.doneCh)
	for {
		select {
		case <-q.stopCh:
			// Drain a request that raced with shutdown.
			select {
			case req := <-q.persistCh:
				q.persistNow()
				if req.done != nil {
					close(req.done)
				}
			default:
			}
			return
		case req := <-q.persistCh:
			q.persistNow()
			if req.done != nil {
				close(req.done)
			}
		}
	}
}

// persistNow rewrites the snapshot from current memory. It runs only on the
// persistence goroutine. Failures are logged; the next trigger retries.
func (q *Queue) persistNow() {
	q.mu.Lock()
	all := make([]event.Event, 0, len(q.inflight)+len(q.events))
	all = append(all, q.inflight...)
	all = append(all, q.events...)
	q.mu.Unlock()

	if len(all) == 0 {
		if err := q.store.Delete(snapshotKey(q.source)); err != nil {
			q.logger.Error("spool.persist_clear_failed", logpkg.Err(err))
		}
		return
	}
	doc, dropped, err := encodeSnapshot(all, q.nowMs())
	if err != nil {
		q.logger.Error("spool.persist_encode_failed", logpkg.Err(err))
		return
	}
	if dropped > 0 {
		q.logger.Error("spool.persist_dropped_events", logpkg.Int("dropped", dropped))
	}
	if err := q.store.Set(snapshotKey(q.source), doc); err != nil {
		q.logger.Error("spool.persist_failed", logpkg.Err(err))
	}
}
