package spool

import (
	"testing"
	"time"

	"github.com/odesys/relay/internal/dedup"
)

func newTestScheduler(t *testing.T, sender *fakeSender, opts SchedulerOptions) (*Scheduler, *Queue, *dedup.Cache) {
	t.Helper()
	q := NewQueue("sms", newMemStore(), testLogger(t))
	cache := dedup.New(dedup.Options{Cap: 100})
	s := NewScheduler("sms", q, cache, sender, testLogger(t), opts)
	t.Cleanup(func() {
		s.Close()
		q.Close()
	})
	return s, q, cache
}

func waitForBatch(t *testing.T, sender *fakeSender, wantLen int) {
	t.Helper()
	select {
	case n := <-sender.sent:
		if n != wantLen {
			t.Fatalf("batch size = %d, want %d", n, wantLen)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for batch")
	}
}

func TestSchedulerThresholdTriggersImmediatePass(t *testing.T) {
	sender := newFakeSender()
	s, q, _ := newTestScheduler(t, sender, SchedulerOptions{
		FlushInterval: time.Hour,
		Threshold:     3,
	})

	q.Enqueue(mkEvent("sms", "a", "one", 1000))
	s.OnEnqueue()
	q.Enqueue(mkEvent("sms", "a", "two", 2000))
	s.OnEnqueue()
	if s.State() != StateScheduled {
		t.Fatalf("state = %v below threshold, want SCHEDULED", s.State())
	}

	q.Enqueue(mkEvent("sms", "a", "three", 3000))
	s.OnEnqueue()

	waitForBatch(t, sender, 3)
	waitUntil(t, "scheduler idle", func() bool { return s.State() == StateIdle })
	if q.Size() != 0 {
		t.Errorf("queue size = %d after delivery, want 0", q.Size())
	}
}

func TestSchedulerTimerFires(t *testing.T) {
	sender := newFakeSender()
	s, q, _ := newTestScheduler(t, sender, SchedulerOptions{
		FlushInterval: 20 * time.Millisecond,
		Threshold:     100,
	})

	q.Enqueue(mkEvent("sms", "a", "solo", 1000))
	s.OnEnqueue()

	waitForBatch(t, sender, 1)
	waitUntil(t, "scheduler idle", func() bool { return s.State() == StateIdle })
}

func TestSchedulerMarksUploadedOnSuccess(t *testing.T) {
	sender := newFakeSender()
	s, q, cache := newTestScheduler(t, sender, SchedulerOptions{
		FlushInterval: time.Hour,
		Threshold:     1,
	})

	ev := mkEvent("sms", "a", "once", 1000)
	q.Enqueue(ev)
	s.OnEnqueue()

	waitForBatch(t, sender, 1)
	waitUntil(t, "fingerprint marked uploaded", func() bool {
		return cache.Contains(ev.Fingerprint)
	})
}

func TestSchedulerRetryRedeliversAfterFailure(t *testing.T) {
	sender := newFakeSender()
	sender.failN = 2
	s, q, _ := newTestScheduler(t, sender, SchedulerOptions{
		FlushInterval: time.Hour,
		Threshold:     1,
		Retry:         RetryPolicy{Type: BackoffFixed, Base: 5 * time.Millisecond},
	})

	for i, body := range []string{"a", "b", "c", "d", "e"} {
		q.Enqueue(mkEvent("sms", "x", body, int64(1000*(i+1))))
	}
	s.OnEnqueue()

	waitForBatch(t, sender, 5)
	if got := sender.attemptCount(); got < 3 {
		t.Errorf("attempts = %d, want >= 3 (two failures then success)", got)
	}
	waitUntil(t, "queue drained", func() bool { return q.Size() == 0 })
}

func TestSchedulerMaxAttemptsSettlesWithBatchQueued(t *testing.T) {
	sender := newFakeSender()
	sender.failN = 1 << 30
	s, q, _ := newTestScheduler(t, sender, SchedulerOptions{
		FlushInterval: time.Hour,
		Threshold:     1,
		Retry:         RetryPolicy{Type: BackoffFixed, Base: time.Millisecond, MaxAttempts: 2},
	})

	q.Enqueue(mkEvent("sms", "a", "stuck", 1000))
	s.OnEnqueue()

	waitUntil(t, "scheduler gives up the pass", func() bool {
		return s.State() == StateScheduled && sender.attemptCount() >= 2
	})
	if q.Size() != 1 {
		t.Errorf("queue size = %d, want 1 (batch stays queued)", q.Size())
	}
	if sender.batchCount() != 0 {
		t.Errorf("batches delivered = %d, want 0", sender.batchCount())
	}
}

func TestSchedulerForcedFlushWakesRunningPass(t *testing.T) {
	sender := newFakeSender()
	gate := make(chan struct{})
	sender.gate = gate
	s, q, _ := newTestScheduler(t, sender, SchedulerOptions{
		FlushInterval: time.Hour,
		Threshold:     1,
	})

	q.Enqueue(mkEvent("sms", "a", "first", 1000))
	s.OnEnqueue()
	waitUntil(t, "pass starts", func() bool {
		return s.State() == StateProcessing && sender.attemptCount() >= 1
	})

	// Lands mid-pass: no second goroutine may start.
	q.Enqueue(mkEvent("sms", "a", "second", 2000))
	s.OnEnqueue()
	s.Flush(false) // no-op while processing
	s.Flush(true)  // wakes the pass for one more drain

	close(gate)
	waitForBatch(t, sender, 1)
	waitForBatch(t, sender, 1)
	waitUntil(t, "scheduler idle", func() bool { return s.State() == StateIdle })

	if got := sender.batchCount(); got != 2 {
		t.Fatalf("batches = %d, want 2", got)
	}
	if sender.batch(0)[0].Body != "first" || sender.batch(1)[0].Body != "second" {
		t.Errorf("batch bodies = %q, %q", sender.batch(0)[0].Body, sender.batch(1)[0].Body)
	}
	sender.mu.Lock()
	maxInFlight := sender.maxInFlight
	sender.mu.Unlock()
	if maxInFlight != 1 {
		t.Errorf("maxInFlight = %d, want 1 (drains never overlap)", maxInFlight)
	}
}

func TestSchedulerFlushOnEmptyQueueGoesIdle(t *testing.T) {
	sender := newFakeSender()
	s, _, _ := newTestScheduler(t, sender, SchedulerOptions{
		FlushInterval: time.Hour,
		Threshold:     100,
	})

	s.Flush(false)
	if s.State() != StateIdle {
		t.Fatalf("state = %v, want IDLE", s.State())
	}
	if sender.attemptCount() != 0 {
		t.Errorf("attempts = %d, want 0", sender.attemptCount())
	}
}

func TestSchedulerCloseInterruptsBackoff(t *testing.T) {
	sender := newFakeSender()
	sender.failN = 1 << 30
	s, q, _ := newTestScheduler(t, sender, SchedulerOptions{
		FlushInterval: time.Hour,
		Threshold:     1,
		Retry:         RetryPolicy{Type: BackoffFixed, Base: time.Hour},
	})

	q.Enqueue(mkEvent("sms", "a", "m", 1000))
	s.OnEnqueue()
	waitUntil(t, "first failure", func() bool { return sender.attemptCount() >= 1 })

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not interrupt the retry backoff")
	}
	if q.Size() != 1 {
		t.Errorf("queue size = %d, want 1 (failed batch requeued)", q.Size())
	}
}

func TestSchedulerLeftoversRearmTimer(t *testing.T) {
	sender := newFakeSender()
	s, q, _ := newTestScheduler(t, sender, SchedulerOptions{
		FlushInterval: 25 * time.Millisecond,
		Threshold:     100,
		MaxBatch:      2,
	})

	for i := 0; i < 3; i++ {
		q.Enqueue(mkEvent("sms", "a", "m", int64(1000*(i+1))))
	}
	s.OnEnqueue()

	// First timer pass sends 2 of 3, the leftover re-arms the timer, and the
	// second pass sends the rest.
	waitForBatch(t, sender, 2)
	waitForBatch(t, sender, 1)
	waitUntil(t, "scheduler idle", func() bool { return s.State() == StateIdle })
	if q.Size() != 0 {
		t.Errorf("queue size = %d, want 0", q.Size())
	}
}
