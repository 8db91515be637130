package spool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/odesys/relay/internal/event"
	logpkg "github.com/odesys/relay/pkg/log"
)

// memStore is an in-memory Store with optional write fault injection.
type memStore struct {
	mu      sync.Mutex
	m       map[string][]byte
	failSet bool
}

func newMemStore() *memStore { return &memStore{m: map[string][]byte{}} }

func (s *memStore) Get(key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (s *memStore) Set(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet {
		return errors.New("store: injected write failure")
	}
	s.m[string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *memStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, string(key))
	return nil
}

func (s *memStore) snapshotBytes(source string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[string(snapshotKey(source))]
	if !ok {
		return nil
	}
	return append([]byte(nil), v...)
}

// fakeSender records batches and can fail the first failN sends.
type fakeSender struct {
	mu       sync.Mutex
	batches  [][]event.Event
	failN    int
	attempts int
	inFlight int
	maxInFlight int
	gate     chan struct{} // when set, SendBatch blocks until it closes
	sent     chan int      // receives len(batch) per successful send
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(chan int, 64)}
}

func (f *fakeSender) SendBatch(ctx context.Context, source string, events []event.Event) error {
	f.mu.Lock()
	f.attempts++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	gate := f.gate
	fail := f.failN > 0
	if fail {
		f.failN--
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			f.mu.Lock()
			f.inFlight--
			f.mu.Unlock()
			return ctx.Err()
		}
	}

	f.mu.Lock()
	f.inFlight--
	if fail {
		f.mu.Unlock()
		return errors.New("transport: injected failure")
	}
	cp := make([]event.Event, len(events))
	copy(cp, events)
	f.batches = append(f.batches, cp)
	f.mu.Unlock()
	select {
	case f.sent <- len(events):
	default:
	}
	return nil
}

func (f *fakeSender) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeSender) batch(i int) []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches[i]
}

func (f *fakeSender) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func testLogger(t *testing.T) logpkg.Logger {
	t.Helper()
	return logpkg.NewLogger(
		logpkg.WithLevel(logpkg.ErrorLevel),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewNullOutput()),
	)
}

// waitUntil polls cond for up to two seconds.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func mkEvent(source, origin, body string, at int64) event.Event {
	ev := event.Event{Source: source, OriginKey: origin, Body: body, ObservedAt: at}
	event.Stamp(&ev, time.Second)
	return ev
}
