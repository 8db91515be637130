package spool

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	pebblestore "github.com/odesys/relay/internal/storage/pebble"
	logpkg "github.com/odesys/relay/pkg/log"
)

// Mode selects how a pipeline delivers events.
type Mode int

const (
	// ModeBatch spools events durably and uploads on schedule. The default.
	ModeBatch Mode = iota
	// ModeRealtime sends each event directly, bypassing the queue.
	ModeRealtime
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeRealtime {
		return "REALTIME"
	}
	return "BATCH"
}

// modeState is the persisted form of a source's delivery mode.
type modeState struct {
	Mode      string `json:"mode"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

// modeController tracks one source's delivery mode. Realtime is always
// bounded: it carries an expiry and reverts to batch when the window ends,
// via timer or lazily on the next Mode() read against the injected clock.
// The state is persisted so a restart inside a realtime window resumes it.
type modeController struct {
	source string
	store  Store
	logger logpkg.Logger
	nowMs  func() int64

	mu      sync.Mutex
	mode    Mode
	expires int64
	timer   *time.Timer
	closed  bool
}

func newModeController(source string, store Store, logger logpkg.Logger) *modeController {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &modeController{
		source: source,
		store:  store,
		logger: logger.With(logpkg.Component("mode"), logpkg.Str("source", source)),
		nowMs:  func() int64 { return time.Now().UnixMilli() },
	}
}

// load restores persisted mode state. An expired or unreadable window means
// batch.
func (c *modeController) load() {
	data, err := c.store.Get(modeKey(c.source))
	if err != nil {
		if !errors.Is(err, pebblestore.ErrNotFound) {
			c.logger.Error("mode.load_failed", logpkg.Err(err))
		}
		return
	}
	if len(data) == 0 {
		return
	}
	var st modeState
	if err := json.Unmarshal(data, &st); err != nil {
		c.logger.Error("mode.load_corrupt", logpkg.Err(err))
		return
	}
	if st.Mode != ModeRealtime.String() {
		return
	}
	now := c.nowMs()
	if st.ExpiresAt <= now {
		// Window ended while we were down.
		c.persist(ModeBatch, 0)
		return
	}
	c.mu.Lock()
	c.mode = ModeRealtime
	c.expires = st.ExpiresAt
	c.armTimerLocked(time.Duration(st.ExpiresAt-now) * time.Millisecond)
	c.mu.Unlock()
	c.logger.Info("mode.resumed_realtime", logpkg.Int64("remaining_ms", st.ExpiresAt-now))
}

// Mode returns the effective mode, reverting lazily if the realtime window
// has expired.
func (c *modeController) Mode() Mode {
	c.mu.Lock()
	if c.mode == ModeRealtime && c.expires > 0 && c.nowMs() >= c.expires {
		c.revertLocked("expired")
	}
	m := c.mode
	c.mu.Unlock()
	return m
}

// RemainingMs reports milliseconds left in the realtime window, 0 in batch.
func (c *modeController) RemainingMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeRealtime {
		return 0
	}
	left := c.expires - c.nowMs()
	if left < 0 {
		return 0
	}
	return left
}

// SwitchToRealtime enters (or extends) a realtime window of duration d.
// Switching again resets the auto-revert timer.
func (c *modeController) SwitchToRealtime(d time.Duration) {
	if d <= 0 {
		d = time.Minute
	}
	now := c.nowMs()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mode = ModeRealtime
	c.expires = now + d.Milliseconds()
	c.armTimerLocked(d)
	c.mu.Unlock()
	c.persist(ModeRealtime, now+d.Milliseconds())
	c.logger.Info("mode.realtime", logpkg.Dur("window", d))
}

// SwitchToBatch returns to batch delivery and cancels the revert timer.
func (c *modeController) SwitchToBatch() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	changed := c.mode != ModeBatch
	c.mode = ModeBatch
	c.expires = 0
	c.cancelTimerLocked()
	c.mu.Unlock()
	c.persist(ModeBatch, 0)
	if changed {
		c.logger.Info("mode.batch")
	}
}

// Close cancels the revert timer.
func (c *modeController) Close() {
	c.mu.Lock()
	c.closed = true
	c.cancelTimerLocked()
	c.mu.Unlock()
}

func (c *modeController) armTimerLocked(d time.Duration) {
	c.cancelTimerLocked()
	c.timer = time.AfterFunc(d, c.onRevertTimer)
}

func (c *modeController) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *modeController) onRevertTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.mode != ModeRealtime {
		return
	}
	// A re-arm may have extended the window past this firing.
	if c.nowMs() < c.expires {
		return
	}
	c.revertLocked("timer")
}

// revertLocked flips to batch and persists. Caller holds the lock.
func (c *modeController) revertLocked(reason string) {
	c.mode = ModeBatch
	c.expires = 0
	c.cancelTimerLocked()
	go c.persist(ModeBatch, 0)
	c.logger.Info("mode.revert", logpkg.Str("reason", reason))
}

// persist writes mode state best-effort; mode is an operational hint, so a
// failed write only logs.
func (c *modeController) persist(m Mode, expiresAt int64) {
	st := modeState{Mode: m.String(), ExpiresAt: expiresAt}
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := c.store.Set(modeKey(c.source), data); err != nil {
		c.logger.Error("mode.persist_failed", logpkg.Err(err))
	}
}
