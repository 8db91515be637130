package spool

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odesys/relay/internal/dedup"
	"github.com/odesys/relay/internal/event"
	logpkg "github.com/odesys/relay/pkg/log"
)

// Options configures one source pipeline.
type Options struct {
	// Source identifies the pipeline ("sms", "notification", ...).
	Source string
	// Bucket is the upload fingerprint granularity. <=0 means one second.
	Bucket time.Duration
	// FlushInterval, Threshold, MaxBatch tune the scheduler.
	FlushInterval time.Duration
	Threshold     int
	MaxBatch      int
	// DedupCap and DedupMaxAge bound the upload dedup window.
	DedupCap    int
	DedupMaxAge time.Duration
	// Filter is a CEL keep-expression evaluated at ingest. Empty keeps all.
	Filter string
	// Retry governs redelivery; zero value means the default fixed policy.
	Retry RetryPolicy
	// Forward, when set, enables the immediate forwarding path.
	Forward *ForwardOptions
}

// realtimeBuf bounds the direct-send feed; overflow falls back to the
// durable queue.
const realtimeBuf = 64

// Pipeline fuses one source's queue, dedup window, scheduler, mode
// controller, ingest filter, and optional forwarder. One instance per
// source; everything is injected, nothing is global.
type Pipeline struct {
	source string
	bucket time.Duration
	queue  *Queue
	cache  *dedup.Cache
	sched  *Scheduler
	mode   *modeController
	sender Sender
	filter celFilter
	fwd    *Forwarder
	logger logpkg.Logger
	nowMs  func() int64

	ctx    context.Context
	cancel context.CancelFunc
	rtCh   chan rtItem
	wg     sync.WaitGroup

	// rtStall is set when a direct send of a drained event fails, so the
	// queue drain stops instead of spinning requeue/redrain against a dead
	// collector. The scheduler's backoff owns redelivery from there.
	rtStall atomic.Bool

	closeOnce sync.Once
}

// rtItem is one direct-send work item. queued marks events drained from the
// durable queue, which stay in-flight until their send settles; fresh
// realtime events exist only here until sent or fallen back.
type rtItem struct {
	ev     event.Event
	queued bool
}

// New builds and starts a pipeline: compiles the filter, restores the queue
// snapshot and mode state, re-arms the dedup window for loaded events, and
// schedules a flush if anything survived the restart.
func New(store Store, sender Sender, logger logpkg.Logger, opts Options) (*Pipeline, error) {
	source := strings.TrimSpace(opts.Source)
	if source == "" {
		return nil, errors.New("spool: Options.Source is required")
	}
	if sender == nil {
		return nil, errors.New("spool: sender is required")
	}
	if opts.Bucket <= 0 {
		opts.Bucket = event.DefaultBucket
	}
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	filter, err := newCELFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	retry := opts.Retry
	if retry == (RetryPolicy{}) {
		retry = defaultRetryPolicy()
		applyRetryEnv(&retry)
	}

	cache := dedup.New(dedup.Options{
		Cap:    opts.DedupCap,
		MaxAge: opts.DedupMaxAge,
		Policy: dedup.EvictByUpload,
	})
	queue := NewQueue(source, store, logger)
	sched := NewScheduler(source, queue, cache, sender, logger, SchedulerOptions{
		FlushInterval: opts.FlushInterval,
		Threshold:     opts.Threshold,
		MaxBatch:      opts.MaxBatch,
		Retry:         retry,
	})
	mode := newModeController(source, store, logger)

	var fwd *Forwarder
	if opts.Forward != nil && opts.Forward.Sender != nil {
		fwd, err = NewForwarder(source, *opts.Forward, logger)
		if err != nil {
			queue.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		source: source,
		bucket: opts.Bucket,
		queue:  queue,
		cache:  cache,
		sched:  sched,
		mode:   mode,
		sender: sender,
		filter: filter,
		fwd:    fwd,
		logger: logger.With(logpkg.Component("pipeline"), logpkg.Str("source", source)),
		nowMs:  func() int64 { return time.Now().UnixMilli() },
		ctx:    ctx,
		cancel: cancel,
		rtCh:   make(chan rtItem, realtimeBuf),
	}

	// Restore durable state. Loaded events re-arm the dedup window so a
	// restart cannot double-admit what is already queued.
	loaded := queue.Load()
	for i := range loaded {
		if loaded[i].Fingerprint == 0 {
			event.Stamp(&loaded[i], p.bucket)
		}
		cache.MarkSeen(loaded[i].Fingerprint)
	}
	mode.load()
	if queue.Pending() > 0 {
		sched.OnEnqueue()
	}

	p.wg.Add(1)
	go p.realtimeLoop()
	return p, nil
}

// Source returns the pipeline's source ID.
func (p *Pipeline) Source() string { return p.source }

// Enqueue admits one observed event. It never blocks and never returns an
// error: duplicates and filtered events are dropped with a debug log, and
// all storage or transport trouble is absorbed downstream.
func (p *Pipeline) Enqueue(origin, title, body string, observedAtMs int64, extra map[string]string) {
	now := p.nowMs()
	if observedAtMs <= 0 {
		observedAtMs = now
	}
	ev := event.Event{
		Source:     p.source,
		OriginKey:  origin,
		Title:      title,
		Body:       body,
		ObservedAt: observedAtMs,
		Extra:      extra,
	}
	event.Stamp(&ev, p.bucket)

	if !p.filter.Eval(ev, now) {
		p.logger.Debug("pipeline.filtered", logpkg.Str("origin", origin))
		return
	}
	if p.fwd != nil {
		p.fwd.Offer(ev)
	}
	if p.cache.Contains(ev.Fingerprint) {
		p.logger.Debug("pipeline.duplicate",
			logpkg.Str("origin", origin),
			logpkg.Str("fp", ev.Fingerprint.String()))
		return
	}
	p.cache.MarkSeen(ev.Fingerprint)

	if p.mode.Mode() == ModeRealtime {
		select {
		case p.rtCh <- rtItem{ev: ev}:
		default:
			// Direct-send worker is saturated; the durable path keeps
			// the no-loss guarantee.
			p.enqueueBatch(ev)
		}
		return
	}
	p.enqueueBatch(ev)
}

func (p *Pipeline) enqueueBatch(ev event.Event) {
	p.queue.Enqueue(ev)
	p.sched.OnEnqueue()
}

// Flush requests an immediate upload pass. force wakes a pass already in
// flight for one extra drain.
func (p *Pipeline) Flush(force bool) {
	p.sched.Flush(force)
}

// SwitchToRealtime enters a bounded realtime window and immediately drains
// everything queued, newest first, through the direct-send path.
func (p *Pipeline) SwitchToRealtime(d time.Duration) {
	p.mode.SwitchToRealtime(d)
	p.rtStall.Store(false)
	p.wg.Add(1)
	go p.drainToRealtime()
}

// SwitchToBatch returns to batch delivery.
func (p *Pipeline) SwitchToBatch() {
	p.mode.SwitchToBatch()
}

// Mode returns the effective delivery mode.
func (p *Pipeline) Mode() Mode { return p.mode.Mode() }

// QueueSize returns the number of events not yet acknowledged upstream.
func (p *Pipeline) QueueSize() int { return p.queue.Size() }

// CacheSize returns the upload dedup window size.
func (p *Pipeline) CacheSize() int { return p.cache.Size() }

// Status is a point-in-time observability snapshot of one pipeline.
type Status struct {
	Source              string `json:"source"`
	Mode                string `json:"mode"`
	State               string `json:"state"`
	QueueSize           int    `json:"queueSize"`
	CacheSize           int    `json:"cacheSize"`
	ForwardCacheSize    int    `json:"forwardCacheSize,omitempty"`
	RealtimeRemainingMs int64  `json:"realtimeRemainingMs,omitempty"`
}

// Status reports the pipeline's current sizes and states.
func (p *Pipeline) Status() Status {
	st := Status{
		Source:              p.source,
		Mode:                p.mode.Mode().String(),
		State:               p.sched.State().String(),
		QueueSize:           p.queue.Size(),
		CacheSize:           p.cache.Size(),
		RealtimeRemainingMs: p.mode.RemainingMs(),
	}
	if p.fwd != nil {
		st.ForwardCacheSize = p.fwd.CacheSize()
	}
	return st
}

// Close stops the pipeline: scheduler first (finishing or aborting its
// pass), then the direct-send worker, the forwarder, the mode timer, and
// finally the queue, which flushes its last snapshot.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.sched.Close()
		p.cancel()
		p.wg.Wait()
		if p.fwd != nil {
			p.fwd.Close()
		}
		p.mode.Close()
		p.queue.Close()
	})
}

// realtimeLoop sends direct events one at a time. Failures fall back to the
// durable queue; realtime trades latency, never the no-loss guarantee. On
// shutdown, anything still buffered is spilled back to the queue so the
// final snapshot covers it.
func (p *Pipeline) realtimeLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			p.spillRealtimeBuffer()
			return
		case it := <-p.rtCh:
			p.sendDirect(it)
		}
	}
}

func (p *Pipeline) spillRealtimeBuffer() {
	for {
		select {
		case it := <-p.rtCh:
			if it.queued {
				p.queue.Requeue([]event.Event{it.ev})
			} else {
				p.queue.Enqueue(it.ev)
			}
		default:
			return
		}
	}
}

func (p *Pipeline) sendDirect(it rtItem) {
	if err := p.sender.SendBatch(p.ctx, p.source, []event.Event{it.ev}); err != nil {
		p.logger.Warn("pipeline.direct_send_failed",
			logpkg.Str("origin", it.ev.OriginKey),
			logpkg.Err(err))
		if it.queued {
			p.rtStall.Store(true)
			p.queue.Requeue([]event.Event{it.ev})
			p.sched.OnEnqueue()
		} else {
			p.enqueueBatch(it.ev)
		}
		return
	}
	p.cache.MarkUploaded(it.ev.Fingerprint, p.nowMs())
	if it.queued {
		p.queue.Ack([]event.Event{it.ev})
	}
	p.logger.Debug("pipeline.direct_sent", logpkg.Str("fp", it.ev.Fingerprint.String()))
}

// drainToRealtime empties the queue through the direct-send worker, newest
// first, one event at a time. Drained events stay in-flight until their
// send settles, so a crash mid-drain re-surfaces them. A send failure
// stalls the drain; whatever is left waits for the batch scheduler.
func (p *Pipeline) drainToRealtime() {
	defer p.wg.Done()
	for {
		if p.rtStall.Load() {
			return
		}
		batch := p.queue.DrainBatch(1)
		if len(batch) == 0 {
			return
		}
		select {
		case p.rtCh <- rtItem{ev: batch[0], queued: true}:
		case <-p.ctx.Done():
			p.queue.Requeue(batch)
			return
		}
	}
}
