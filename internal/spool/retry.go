package spool

import (
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"
)

// BackoffType selects the delay curve between failed delivery attempts.
type BackoffType int

const (
	BackoffNone BackoffType = iota
	BackoffFixed
	BackoffExp
	BackoffExpJitter
)

// RetryPolicy governs redelivery after a transport failure. The default is
// a fixed delay retried indefinitely: batches are requeued, never dropped.
type RetryPolicy struct {
	Type   BackoffType
	Base   time.Duration
	Cap    time.Duration
	Factor float64
	// MaxAttempts bounds one processing pass; 0 means unlimited. When the
	// bound is hit the batch stays queued and the flush timer tries again.
	MaxAttempts uint32
}

func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Type: BackoffFixed, Base: 30 * time.Second, Cap: 0, Factor: 1.0, MaxAttempts: 0}
}

// applyRetryEnv overrides the policy from environment variables when present.
// RELAY_RETRY_BACKOFF_TYPE: fixed|exp|exp-jitter|none
// RELAY_RETRY_BASE_MS, RELAY_RETRY_CAP_MS, RELAY_RETRY_FACTOR, RELAY_RETRY_MAX_ATTEMPTS
func applyRetryEnv(pol *RetryPolicy) {
	if v := os.Getenv("RELAY_RETRY_BACKOFF_TYPE"); v != "" {
		switch strings.ToLower(v) {
		case "exp":
			pol.Type = BackoffExp
		case "exp-jitter":
			pol.Type = BackoffExpJitter
		case "fixed":
			pol.Type = BackoffFixed
		case "none":
			pol.Type = BackoffNone
		}
	}
	if v := os.Getenv("RELAY_RETRY_BASE_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms >= 0 {
			pol.Base = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("RELAY_RETRY_CAP_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms >= 0 {
			pol.Cap = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("RELAY_RETRY_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			pol.Factor = f
		}
	}
	if v := os.Getenv("RELAY_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			pol.MaxAttempts = uint32(n)
		}
	}
}

func computeBackoff(pol RetryPolicy, attempts uint32) time.Duration {
	switch pol.Type {
	case BackoffNone:
		return 0
	case BackoffFixed:
		if pol.Base <= 0 {
			return 0
		}
		if pol.Cap > 0 && pol.Base > pol.Cap {
			return pol.Cap
		}
		return pol.Base
	case BackoffExp, BackoffExpJitter:
		base := pol.Base
		if base <= 0 {
			base = 200 * time.Millisecond
		}
		factor := pol.Factor
		if factor <= 0 {
			factor = 2.0
		}
		delay := float64(base) * math.Pow(factor, float64(attempts-1))
		d := time.Duration(delay)
		if pol.Cap > 0 && d > pol.Cap {
			d = pol.Cap
		}
		if pol.Type == BackoffExpJitter {
			if d <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(d)))
		}
		return d
	default:
		return 0
	}
}
