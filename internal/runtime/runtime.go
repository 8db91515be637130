package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	cfgpkg "github.com/odesys/relay/internal/config"
	"github.com/odesys/relay/internal/device"
	"github.com/odesys/relay/internal/spool"
	pebblestore "github.com/odesys/relay/internal/storage/pebble"
	"github.com/odesys/relay/internal/transport"
	logpkg "github.com/odesys/relay/pkg/log"
)

// ErrUnknownSource is returned when an operation names a source no pipeline
// was configured for.
var ErrUnknownSource = errors.New("unknown source")

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
	// Sender overrides the collector transport; tests inject fakes here.
	Sender spool.Sender
	// ForwardSender overrides the forwarding transport.
	ForwardSender spool.Sender
}

// Runtime wires storage, device identity, transports, and one pipeline per
// configured source for a single agent instance.
type Runtime struct {
	db        *pebblestore.DB
	config    cfgpkg.Config
	logger    logpkg.Logger
	identity  device.Identity
	pipelines map[string]*spool.Pipeline
	order     []string
}

// Open initializes storage, loads the device identity, builds transports,
// and starts every configured pipeline.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: cfg.DataDir,
		Fsync:   fsyncMode(cfg.Fsync),
		Metrics: storeMetrics{logger: logger.With(logpkg.Component("storage"))},
	})
	if err != nil {
		return nil, err
	}

	ident, err := device.Load(db, cfg.DeviceID, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	sender := opts.Sender
	if sender == nil {
		if cfg.Collector.BaseURL == "" {
			_ = db.Close()
			return nil, errors.New("runtime: collector.baseUrl is required")
		}
		sender, err = transport.NewHTTP(transport.Options{
			BaseURL:  cfg.Collector.BaseURL,
			DeviceID: ident.ID,
			Timeout:  cfg.Collector.Timeout(),
			Headers:  cfg.Collector.Headers,
		}, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	fwdSender := opts.ForwardSender
	if fwdSender == nil && cfg.Forward.BaseURL != "" {
		fwdSender, err = transport.NewHTTP(transport.Options{
			BaseURL:  cfg.Forward.BaseURL,
			DeviceID: ident.ID,
			Timeout:  cfg.Collector.Timeout(),
			Headers:  cfg.Collector.Headers,
		}, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	rt := &Runtime{
		db:        db,
		config:    cfg,
		logger:    logger,
		identity:  ident,
		pipelines: make(map[string]*spool.Pipeline, len(cfg.Sources)),
	}
	for _, sc := range cfg.Sources {
		pOpts := spool.Options{
			Source:        sc.Name,
			Bucket:        sc.Bucket(),
			FlushInterval: sc.FlushInterval(),
			Threshold:     sc.Threshold,
			MaxBatch:      sc.MaxBatch,
			DedupCap:      sc.DedupCap,
			DedupMaxAge:   sc.DedupMaxAge(),
			Filter:        sc.Filter,
		}
		if sc.Forward && fwdSender != nil {
			pOpts.Forward = &spool.ForwardOptions{
				Sender: fwdSender,
				Rule:   cfg.Forward.Rule,
				Cap:    cfg.Forward.Cap,
				Bucket: cfg.Forward.Bucket(),
			}
		}
		p, err := spool.New(db, sender, logger, pOpts)
		if err != nil {
			rt.closePipelines()
			_ = db.Close()
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		rt.pipelines[sc.Name] = p
		rt.order = append(rt.order, sc.Name)
	}
	logger.Info("runtime.open",
		logpkg.Str("device_id", ident.ID),
		logpkg.Int("sources", len(rt.order)),
		logpkg.Str("data_dir", cfg.DataDir))
	return rt, nil
}

// fsyncMode maps the config string onto the storage mode. Unknown or empty
// means always; durability is the default, not an opt-in.
func fsyncMode(s string) pebblestore.FsyncMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "interval":
		return pebblestore.FsyncModeInterval
	case "never":
		return pebblestore.FsyncModeNever
	default:
		return pebblestore.FsyncModeAlways
	}
}

// slowStorageOp is the latency above which a storage op gets flagged;
// flash on a busy device can stall for long stretches.
const slowStorageOp = 250 * time.Millisecond

type storeMetrics struct {
	logger logpkg.Logger
}

func (m storeMetrics) ObserveWrite(elapsed time.Duration, bytes int) {
	if elapsed >= slowStorageOp {
		m.logger.Warn("storage.slow_write", logpkg.Dur("elapsed", elapsed), logpkg.Int("bytes", bytes))
	}
}

func (m storeMetrics) ObserveRead(elapsed time.Duration, bytes int) {
	if elapsed >= slowStorageOp {
		m.logger.Warn("storage.slow_read", logpkg.Dur("elapsed", elapsed), logpkg.Int("bytes", bytes))
	}
}

func (r *Runtime) pipeline(source string) (*spool.Pipeline, error) {
	p, ok := r.pipelines[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	return p, nil
}

// Enqueue admits one observed event into its source pipeline.
func (r *Runtime) Enqueue(source, origin, title, body string, observedAtMs int64, extra map[string]string) error {
	p, err := r.pipeline(source)
	if err != nil {
		return err
	}
	p.Enqueue(origin, title, body, observedAtMs, extra)
	return nil
}

// Flush requests an immediate upload pass for one source.
func (r *Runtime) Flush(source string, force bool) error {
	p, err := r.pipeline(source)
	if err != nil {
		return err
	}
	p.Flush(force)
	return nil
}

// FlushAll requests an immediate upload pass on every pipeline.
func (r *Runtime) FlushAll(force bool) {
	for _, name := range r.order {
		r.pipelines[name].Flush(force)
	}
}

// SwitchToRealtime puts one source into a bounded realtime window.
func (r *Runtime) SwitchToRealtime(source string, d time.Duration) error {
	p, err := r.pipeline(source)
	if err != nil {
		return err
	}
	p.SwitchToRealtime(d)
	return nil
}

// SwitchToBatch returns one source to batch delivery.
func (r *Runtime) SwitchToBatch(source string) error {
	p, err := r.pipeline(source)
	if err != nil {
		return err
	}
	p.SwitchToBatch()
	return nil
}

// Status reports one pipeline's sizes and states.
func (r *Runtime) Status(source string) (spool.Status, error) {
	p, err := r.pipeline(source)
	if err != nil {
		return spool.Status{}, err
	}
	return p.Status(), nil
}

// StatusAll reports every pipeline in configuration order.
func (r *Runtime) StatusAll() []spool.Status {
	out := make([]spool.Status, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.pipelines[name].Status())
	}
	return out
}

// Sources returns the configured source IDs in order.
func (r *Runtime) Sources() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// DeviceID returns the stable device identity.
func (r *Runtime) DeviceID() string { return r.identity.ID }

// CheckHealth performs a simple storage probe.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// Close stops every pipeline (flushing final snapshots) and then storage.
func (r *Runtime) Close() error {
	r.closePipelines()
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Runtime) closePipelines() {
	for _, name := range r.order {
		r.pipelines[name].Close()
	}
}

// DB exposes the underlying store (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
