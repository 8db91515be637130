package spool

import (
	"context"
	"sync"
	"time"

	"github.com/odesys/relay/internal/dedup"
	"github.com/odesys/relay/internal/event"
	logpkg "github.com/odesys/relay/pkg/log"
)

// State is the scheduler's position in its lifecycle.
type State int

const (
	// StateIdle means nothing is queued for upload.
	StateIdle State = iota
	// StateScheduled means a flush timer is armed.
	StateScheduled
	// StateProcessing means a drain-and-send pass is running.
	StateProcessing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateScheduled:
		return "SCHEDULED"
	case StateProcessing:
		return "PROCESSING"
	default:
		return "UNKNOWN"
	}
}

// Sender delivers a batch upstream. Failures are opaque; the scheduler
// requeues and retries regardless of cause.
type Sender interface {
	SendBatch(ctx context.Context, source string, events []event.Event) error
}

// SchedulerOptions tunes one source's batch scheduler.
type SchedulerOptions struct {
	// FlushInterval is the timer trigger. <=0 means DefaultFlushInterval.
	FlushInterval time.Duration
	// Threshold is the pending size that triggers an immediate pass.
	// <=0 means DefaultThreshold.
	Threshold int
	// MaxBatch caps events per upload. <=0 means DefaultMaxBatch.
	MaxBatch int
	// Retry governs redelivery after failures.
	Retry RetryPolicy
}

// Scheduler defaults.
const (
	DefaultFlushInterval = 30 * time.Second
	DefaultThreshold     = 20
	DefaultMaxBatch      = 100
)

// Scheduler runs one source's batch state machine: Idle, Scheduled (timer
// armed), Processing (one drain-and-send pass on a background goroutine).
// At most one pass runs at a time; triggers arriving mid-pass either no-op
// or, when forced, wake the running pass for one more drain.
type Scheduler struct {
	source string
	queue  *Queue
	cache  *dedup.Cache
	sender Sender
	logger logpkg.Logger
	opts   SchedulerOptions
	nowMs  func() int64

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  State
	timer  *time.Timer
	wake   bool
	closed bool

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler bound to a queue, dedup cache, and sender.
func NewScheduler(source string, queue *Queue, cache *dedup.Cache, sender Sender, logger logpkg.Logger, opts SchedulerOptions) *Scheduler {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = DefaultMaxBatch
	}
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		source: source,
		queue:  queue,
		cache:  cache,
		sender: sender,
		logger: logger.With(logpkg.Component("sched"), logpkg.Str("source", source)),
		opts:   opts,
		nowMs:  func() int64 { return time.Now().UnixMilli() },
		ctx:    ctx,
		cancel: cancel,
	}
}

// State returns the current scheduler state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnEnqueue advances the state machine after an event lands in the queue:
// Idle arms the flush timer; Scheduled checks the size threshold; a pass
// already Processing picks the event up on its own.
func (s *Scheduler) OnEnqueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.state == StateIdle {
		s.state = StateScheduled
		s.armTimerLocked(s.opts.FlushInterval)
		s.logger.Debug("sched.scheduled", logpkg.Dur("flush_in", s.opts.FlushInterval))
	}
	if s.state == StateScheduled && s.queue.Pending() >= s.opts.Threshold {
		s.cancelTimerLocked()
		s.startProcessingLocked("threshold")
	}
}

// Flush requests an immediate pass. While a pass is running it is a no-op
// unless force is set, which wakes the running pass for one extra drain;
// there is never a second concurrent drain.
func (s *Scheduler) Flush(force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.state == StateProcessing {
		if force {
			s.wake = true
		}
		return
	}
	if s.queue.Pending() == 0 {
		s.cancelTimerLocked()
		s.state = StateIdle
		return
	}
	s.cancelTimerLocked()
	s.startProcessingLocked("flush")
}

// Close cancels timers and in-flight sends and waits for the running pass.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancelTimerLocked()
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) armTimerLocked(d time.Duration) {
	s.cancelTimerLocked()
	s.timer = time.AfterFunc(d, s.onTimer)
}

func (s *Scheduler) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) onTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != StateScheduled {
		return
	}
	s.startProcessingLocked("timer")
}

// startProcessingLocked moves to Processing and launches the pass. Caller
// holds the lock.
func (s *Scheduler) startProcessingLocked(trigger string) {
	s.state = StateProcessing
	s.logger.Debug("sched.processing", logpkg.Str("trigger", trigger))
	s.wg.Add(1)
	go s.process()
}

// process runs one Processing occupancy: drain a batch, send it, ack on
// success or requeue-and-backoff on failure, until a pass completes without
// a wake request. Retries are indefinite under the default policy; only
// shutdown interrupts them.
func (s *Scheduler) process() {
	defer s.wg.Done()
	attempts := uint32(0)
	for {
		if s.ctx.Err() != nil {
			return
		}
		batch := s.queue.DrainBatch(s.opts.MaxBatch)
		if len(batch) == 0 {
			if s.settle() {
				continue
			}
			return
		}
		if err := s.sender.SendBatch(s.ctx, s.source, batch); err != nil {
			s.queue.Requeue(batch)
			attempts++
			delay := computeBackoff(s.opts.Retry, attempts)
			s.logger.Warn("sched.send_failed",
				logpkg.Int("count", len(batch)),
				logpkg.Int("attempt", int(attempts)),
				logpkg.Dur("retry_in", delay),
				logpkg.Err(err))
			if s.opts.Retry.MaxAttempts > 0 && attempts >= s.opts.Retry.MaxAttempts {
				// Batch stays queued; the next timer pass starts fresh.
				if s.settle() {
					attempts = 0
					continue
				}
				return
			}
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		attempts = 0
		now := s.nowMs()
		for i := range batch {
			s.cache.MarkUploaded(batch[i].Fingerprint, now)
		}
		s.queue.Ack(batch)
		s.logger.Info("sched.batch_sent",
			logpkg.Int("count", len(batch)),
			logpkg.Int("pending", s.queue.Pending()))
		if s.settle() {
			continue
		}
		return
	}
}

// settle decides what follows a completed pass: a forced flush that arrived
// mid-pass keeps it Processing for one more drain, leftover events re-arm
// the timer, an empty queue goes Idle. Reports whether to loop again.
func (s *Scheduler) settle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.state = StateIdle
		return false
	}
	if s.wake {
		s.wake = false
		return true
	}
	if s.queue.Pending() > 0 {
		s.state = StateScheduled
		s.armTimerLocked(s.opts.FlushInterval)
	} else {
		s.state = StateIdle
	}
	return false
}
