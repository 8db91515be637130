package spool

import (
	"context"
	"sync"
	"time"

	"github.com/odesys/relay/internal/dedup"
	"github.com/odesys/relay/internal/event"
	logpkg "github.com/odesys/relay/pkg/log"
)

// ForwardOptions configures a source's forwarding path.
type ForwardOptions struct {
	// Sender delivers forwarded events, typically an HTTP transport bound
	// to the secondary destination.
	Sender Sender
	// Rule is a CEL expression selecting which events forward. Empty
	// forwards everything.
	Rule string
	// Cap bounds the forwarding dedup cache. <=0 means DefaultForwardCap.
	Cap int
	// Bucket is the fingerprint granularity; forwarding rounds coarser
	// than upload. <=0 means DefaultForwardBucket.
	Bucket time.Duration
}

// Forwarding defaults.
const (
	DefaultForwardCap    = 512
	DefaultForwardBucket = time.Minute
	forwardBuf           = 64
)

// Forwarder relays matching events to a secondary destination as they
// arrive, independent of the batch pipeline. Delivery is best effort: no
// queue, no retry, a warn log on failure. Its dedup window rounds observed
// times to minutes and evicts oldest-by-insertion in bulk, so repeated
// observations of the same message within a minute forward once.
type Forwarder struct {
	source string
	sender Sender
	rule   celFilter
	cache  *dedup.Cache
	logger logpkg.Logger
	nowMs  func() int64
	bucket time.Duration

	ch     chan event.Event
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewForwarder creates and starts a forwarder for source.
func NewForwarder(source string, opts ForwardOptions, logger logpkg.Logger) (*Forwarder, error) {
	rule, err := newCELFilter(opts.Rule)
	if err != nil {
		return nil, err
	}
	if opts.Cap <= 0 {
		opts.Cap = DefaultForwardCap
	}
	if opts.Bucket <= 0 {
		opts.Bucket = DefaultForwardBucket
	}
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	f := &Forwarder{
		source: source,
		sender: opts.Sender,
		rule:   rule,
		cache:  dedup.New(dedup.Options{Cap: opts.Cap, Policy: dedup.EvictByInsertion}),
		logger: logger.With(logpkg.Component("forward"), logpkg.Str("source", source)),
		nowMs:  func() int64 { return time.Now().UnixMilli() },
		bucket: opts.Bucket,
		ch:     make(chan event.Event, forwardBuf),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go f.loop()
	return f, nil
}

// Offer hands an event to the forwarder. Never blocks: a full buffer drops
// the event (forwarding is best effort, the upload pipeline still has it).
func (f *Forwarder) Offer(ev event.Event) {
	if !f.rule.Eval(ev, f.nowMs()) {
		return
	}
	fp := event.Compute(ev.OriginKey, ev.IdentityText(), ev.ObservedAt, f.bucket)
	if f.cache.Contains(fp) {
		return
	}
	f.cache.MarkSeen(fp)
	select {
	case f.ch <- ev:
	case <-f.stopCh:
	default:
		f.logger.Warn("forward.buffer_full", logpkg.Str("origin", ev.OriginKey))
	}
}

// CacheSize reports the forwarding dedup window size.
func (f *Forwarder) CacheSize() int { return f.cache.Size() }

// Close stops the worker; buffered events are dropped.
func (f *Forwarder) Close() {
	f.once.Do(func() {
		close(f.stopCh)
		<-f.doneCh
	})
}

func (f *Forwarder) loop() {
	defer close(f.doneCh)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-f.stopCh
		cancel()
	}()
	for {
		select {
		case <-f.stopCh:
			return
		case ev := <-f.ch:
			fp := event.Compute(ev.OriginKey, ev.IdentityText(), ev.ObservedAt, f.bucket)
			if err := f.sender.SendBatch(ctx, f.source, []event.Event{ev}); err != nil {
				f.logger.Warn("forward.send_failed",
					logpkg.Str("origin", ev.OriginKey),
					logpkg.Err(err))
				continue
			}
			f.cache.MarkUploaded(fp, f.nowMs())
			f.logger.Debug("forward.sent", logpkg.Str("origin", ev.OriginKey))
		}
	}
}
