package serverrun

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	cfgpkg "github.com/odesys/relay/internal/config"
	"github.com/odesys/relay/internal/runtime"
	httpserver "github.com/odesys/relay/internal/server/http"
	logpkg "github.com/odesys/relay/pkg/log"
)

// Options override the loaded config; empty fields leave it untouched.
type Options struct {
	ConfigPath   string
	DataDir      string
	HTTPAddr     string
	CollectorURL string
	DeviceID     string
	Fsync        string
}

// Run starts the agent and its control API and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	// Be robust to callers that don't pass a signal-aware context
	// or if signal delivery needs to be observed here. We layer a
	// local signal context over the provided one.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := cfgpkg.LoadFromEnv(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.HTTPAddr != "" {
		cfg.HTTP.Addr = opts.HTTPAddr
	}
	if opts.CollectorURL != "" {
		cfg.Collector.BaseURL = opts.CollectorURL
	}
	if opts.DeviceID != "" {
		cfg.DeviceID = opts.DeviceID
	}
	if opts.Fsync != "" {
		cfg.Fsync = opts.Fsync
	}

	procLogger, err := logpkg.ApplyConfig(&cfg.Log)
	if err != nil {
		// Fallback to a sane default
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(cfg.Log.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}

	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: procLogger})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("Starting Relay agent",
		logpkg.Str("http", cfg.HTTP.Addr),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("device", rt.DeviceID()),
		logpkg.Str("sources", strings.Join(rt.Sources(), ",")),
		logpkg.Str("collector", cfg.Collector.BaseURL),
	)

	hsrv := httpserver.New(rt)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, cfg.HTTP.Addr); err != nil && sctx.Err() == nil {
			log.Printf("http error: %v", err)
		}
	}()

	<-sctx.Done()
	// Shut the control API down before closing the runtime/DB to avoid races.
	hsrv.Close()
	wg.Wait()
	return nil
}
