// Package ratelimit keeps the shared call budget of each provider and decides
// how long a poller has to wait before its next call.
//
// A Limiter never drops a call. It only answers "how long until I may call".
package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"socialpulse/internal/metrics"
)

// Observation is what a provider response tells us about the budget.
// A zero ResetAt means the response carried no budget data.
type Observation struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Known reports whether the observation carries usable budget data.
func (o Observation) Known() bool { return !o.ResetAt.IsZero() }

// Config tunes waits and backoff.
type Config struct {
	SafetyMargin time.Duration // added to reset waits (default 1s)
	BaseBackoff  time.Duration // first backoff step (default 5s)
	MaxBackoff   time.Duration // backoff ceiling (default 15m)
}

// DefaultConfig returns the defaults used when fields are left zero.
func DefaultConfig() Config {
	return Config{SafetyMargin: time.Second, BaseBackoff: 5 * time.Second, MaxBackoff: 15 * time.Minute}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = d.SafetyMargin
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = c.BaseBackoff
	}
	return c
}

// Budget is a copy of the limiter state.
type Budget struct {
	Known        bool
	Remaining    int
	Limit        int
	ResetAt      time.Time
	BlockedUntil time.Time
	Failures     int
}

// Limiter tracks one provider's budget. Safe for concurrent use by every
// poller of that provider.
type Limiter struct {
	provider string
	cfg      Config
	clock    clockwork.Clock

	mu           sync.Mutex
	known        bool
	remaining    int
	limit        int
	resetAt      time.Time
	blockedUntil time.Time
	failures     int
}

// New creates a limiter for provider. A nil clock means the real clock.
func New(provider string, cfg Config, clock clockwork.Clock) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{provider: provider, cfg: cfg.withDefaults(), clock: clock}
}

// Provider returns the provider name this limiter guards.
func (l *Limiter) Provider() string { return l.provider }

// BeforeCall returns zero when a call may proceed now, otherwise how long to
// wait before asking again. A zero answer on a known budget reserves one call.
func (l *Limiter) BeforeCall() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if now.Before(l.blockedUntil) {
		return l.blockedUntil.Sub(now)
	}
	if !l.known {
		return 0
	}
	if !now.Before(l.resetAt) {
		// window rolled over; the next response tells us the new budget
		l.known = false
		return 0
	}
	if l.remaining <= 0 {
		return l.resetAt.Sub(now) + l.cfg.SafetyMargin
	}
	l.remaining--
	return 0
}

// ResetAt returns the instant the current wait ends, if any.
func (l *Limiter) ResetAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.clock.Now().Before(l.blockedUntil) {
		return l.blockedUntil
	}
	if l.known {
		return l.resetAt
	}
	return time.Time{}
}

// RecordResponse replaces the budget with a fresher observation.
// Observations without budget data are ignored.
func (l *Limiter) RecordResponse(obs Observation) {
	if !obs.Known() {
		return
	}
	l.mu.Lock()
	l.known = true
	l.remaining = obs.Remaining
	if obs.Limit > 0 {
		l.limit = obs.Limit
	}
	l.resetAt = obs.ResetAt
	l.mu.Unlock()
	metrics.BudgetRemaining.WithLabelValues(l.provider).Set(float64(obs.Remaining))
}

// RecordSuccess clears the consecutive failure counter.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	l.failures = 0
	l.mu.Unlock()
}

// RecordFailure counts a failed call and returns the backoff to apply:
// BaseBackoff doubled per consecutive failure, capped at MaxBackoff.
// A throttled failure blocks every caller of this provider for that long.
func (l *Limiter) RecordFailure(throttled bool) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures++
	d := l.backoffLocked()
	if throttled {
		until := l.clock.Now().Add(d)
		if until.After(l.blockedUntil) {
			l.blockedUntil = until
		}
	}
	return d
}

func (l *Limiter) backoffLocked() time.Duration {
	d := l.cfg.BaseBackoff
	for i := 1; i < l.failures; i++ {
		d *= 2
		if d >= l.cfg.MaxBackoff {
			return l.cfg.MaxBackoff
		}
	}
	return d
}

// Budget returns a copy of the current state.
func (l *Limiter) Budget() Budget {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Budget{
		Known:        l.known,
		Remaining:    l.remaining,
		Limit:        l.limit,
		ResetAt:      l.resetAt,
		BlockedUntil: l.blockedUntil,
		Failures:     l.failures,
	}
}
