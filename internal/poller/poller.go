// Package poller runs the fetch, normalize, persist, sleep loop for a single
// (platform, handle) target.
package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"socialpulse/internal/events"
	"socialpulse/internal/logging"
	"socialpulse/internal/metrics"
	"socialpulse/internal/model"
	"socialpulse/internal/normalize"
	"socialpulse/internal/provider"
	"socialpulse/internal/ratelimit"
)

// State is where a poller is in its cycle.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateNormalizing
	StatePersisting
	StateSleeping
	StateBackoff
	StateStopped
	StateFailed
)

var stateNames = [...]string{"idle", "fetching", "normalizing", "persisting", "sleeping", "backoff", "stopped", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Store is the persistence the poller needs.
type Store interface {
	PersistCycle(ctx context.Context, cd model.CycleData) (model.MetricSnapshot, error)
}

type Config struct {
	Interval           time.Duration
	MaxPersistAttempts int
	PersistRetryDelay  time.Duration
	CallTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 6 * time.Hour
	}
	if c.MaxPersistAttempts <= 0 {
		c.MaxPersistAttempts = 3
	}
	if c.PersistRetryDelay <= 0 {
		c.PersistRetryDelay = 2 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	return c
}

// Deps are the collaborators shared with other pollers.
type Deps struct {
	Provider provider.MetricsProvider
	Limiter  *ratelimit.Limiter
	Store    Store
	Sink     events.Sink
	Clock    clockwork.Clock
}

type Poller struct {
	target   model.Target
	cfg      Config
	provider provider.MetricsProvider
	limiter  *ratelimit.Limiter
	store    Store
	sink     events.Sink
	clock    clockwork.Clock

	state atomic.Int32
}

func New(target model.Target, d Deps, cfg Config) *Poller {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Sink == nil {
		d.Sink = events.Discard
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.New(string(target.Platform), ratelimit.Config{}, d.Clock)
	}
	return &Poller{
		target:   target,
		cfg:      cfg.withDefaults(),
		provider: d.Provider,
		limiter:  d.Limiter,
		store:    d.Store,
		sink:     d.Sink,
		clock:    d.Clock,
	}
}

func (p *Poller) Target() model.Target { return p.target }

// State returns the current state; safe to call from any goroutine.
func (p *Poller) State() State { return State(p.state.Load()) }

func (p *Poller) setState(s State) { p.state.Store(int32(s)) }

func (p *Poller) interval() time.Duration {
	if p.target.Interval > 0 {
		return p.target.Interval
	}
	return p.cfg.Interval
}

// Run polls until ctx is cancelled (returns nil) or the target turns out to
// be invalid (returns the InvalidTargetError).
func (p *Poller) Run(ctx context.Context) error {
	logging.Info("poller_started", map[string]any{"target": p.target.String(), "interval": p.interval().String()})
	for {
		_, out, err := p.runCycle(ctx)
		switch out {
		case outcomeTerminal:
			p.finish(ctx, err)
			return err
		case outcomeCancelled:
			p.finish(ctx, nil)
			return nil
		}
		p.setState(StateSleeping)
		if err := p.sleep(ctx, p.interval()); err != nil {
			p.finish(ctx, nil)
			return nil
		}
	}
}

// RunOnce drives one cycle to completion with the same retry rules as Run.
// A skipped cycle (bad payload, storage down) is reported as its error.
func (p *Poller) RunOnce(ctx context.Context) (model.MetricSnapshot, error) {
	snap, out, err := p.runCycle(ctx)
	switch out {
	case outcomeDone:
		p.setState(StateStopped)
		return snap, nil
	case outcomeCancelled:
		p.setState(StateStopped)
		if err == nil {
			err = ctx.Err()
		}
		return snap, err
	case outcomeTerminal:
		p.setState(StateFailed)
	default:
		p.setState(StateStopped)
	}
	return snap, err
}

func (p *Poller) finish(ctx context.Context, err error) {
	if err != nil {
		p.setState(StateFailed)
	} else {
		p.setState(StateStopped)
	}
	p.publish(ctx, events.Event{Kind: events.PollerStopped, Err: err})
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeSkip
	outcomeRetry
	outcomeTerminal
	outcomeCancelled
)

type result struct {
	snap  model.MetricSnapshot
	posts int
}

// runCycle repeats attempts until one completes, is skipped, turns terminal
// or is cancelled.
func (p *Poller) runCycle(ctx context.Context) (model.MetricSnapshot, outcome, error) {
	cycleID := uuid.NewString()
	platform := string(p.target.Platform)
	for {
		start := p.clock.Now()
		res, out, wait, err := p.attempt(ctx, cycleID)
		switch out {
		case outcomeDone:
			p.limiter.RecordSuccess()
			metrics.ObserveCycle(platform, "ok", start)
			snap := res.snap
			p.publish(ctx, events.Event{Kind: events.CycleCompleted, CycleID: cycleID, Snapshot: &snap, Posts: res.posts})
			return res.snap, out, nil
		case outcomeSkip:
			metrics.ObserveCycle(platform, "skipped", start)
			p.publish(ctx, events.Event{Kind: events.CycleFailed, CycleID: cycleID, Err: err, Retrying: false})
			return model.MetricSnapshot{}, out, err
		case outcomeTerminal:
			metrics.ObserveCycle(platform, "terminal", start)
			return model.MetricSnapshot{}, out, err
		case outcomeCancelled:
			return model.MetricSnapshot{}, out, nil
		}

		metrics.ObserveCycle(platform, "retry", start)
		p.publish(ctx, events.Event{Kind: events.CycleFailed, CycleID: cycleID, Err: err, Retrying: true})
		if wait > 0 {
			p.setState(StateBackoff)
			if err := p.sleep(ctx, wait); err != nil {
				return model.MetricSnapshot{}, outcomeCancelled, nil
			}
		}
	}
}

// attempt runs fetch, normalize and persist once.
func (p *Poller) attempt(ctx context.Context, cycleID string) (result, outcome, time.Duration, error) {
	p.setState(StateFetching)
	acct, err := fetch(ctx, p, cycleID, p.provider.FetchAccount)
	if err != nil {
		out, wait := p.classify(ctx, err)
		return result{}, out, wait, err
	}
	posts, err := fetch(ctx, p, cycleID, p.provider.FetchRecentPosts)
	if err != nil {
		out, wait := p.classify(ctx, err)
		return result{}, out, wait, err
	}

	p.setState(StateNormalizing)
	cd, err := normalize.Normalize(p.target.Platform, acct, posts)
	if err != nil {
		return result{}, outcomeSkip, 0, err
	}
	if cd.Handle == "" {
		cd.Handle = p.target.Handle
	}
	cd.Snapshot.Timestamp = p.clock.Now().UTC().Truncate(time.Second)

	p.setState(StatePersisting)
	snap, err := p.persist(ctx, cd)
	if err != nil {
		if !isStorage(err) && ctx.Err() != nil {
			return result{}, outcomeCancelled, 0, nil
		}
		return result{}, outcomeSkip, 0, err
	}
	return result{snap: snap, posts: len(cd.Posts)}, outcomeDone, 0, nil
}

// fetch waits for budget, then calls f under the per-call timeout and
// records the budget the provider reported.
func fetch[T any](ctx context.Context, p *Poller, cycleID string,
	f func(context.Context, string) (T, ratelimit.Observation, error)) (T, error) {
	var zero T
	if err := p.awaitBudget(ctx, cycleID); err != nil {
		return zero, err
	}
	p.setState(StateFetching)
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	v, obs, err := f(callCtx, p.target.Handle)
	p.limiter.RecordResponse(obs)
	return v, err
}

// awaitBudget sleeps until the limiter allows a call.
func (p *Poller) awaitBudget(ctx context.Context, cycleID string) error {
	for {
		wait := p.limiter.BeforeCall()
		if wait <= 0 {
			return nil
		}
		p.setState(StateBackoff)
		p.publish(ctx, events.Event{
			Kind:     events.RateLimitWaiting,
			CycleID:  cycleID,
			Provider: p.target.Platform,
			Wait:     wait,
			ResetAt:  p.limiter.ResetAt(),
		})
		if err := p.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// classify decides what a failed fetch means for the cycle. Rate-limit
// waits are left to awaitBudget on the next attempt.
func (p *Poller) classify(ctx context.Context, err error) (outcome, time.Duration) {
	if ctx.Err() != nil {
		return outcomeCancelled, 0
	}
	var (
		it *model.InvalidTargetError
		rl *model.RateLimitError
	)
	switch {
	case errors.As(err, &it):
		return outcomeTerminal, 0
	case errors.As(err, &rl):
		now := p.clock.Now()
		switch {
		case rl.HasBudget() && rl.ResetAt.After(now):
			// a 429 means the window is spent, whatever remaining claims
			p.limiter.RecordResponse(ratelimit.Observation{Remaining: 0, ResetAt: rl.ResetAt})
		case rl.RetryAfter > 0:
			p.limiter.RecordResponse(ratelimit.Observation{ResetAt: now.Add(rl.RetryAfter)})
		default:
			p.limiter.RecordFailure(true)
		}
		return outcomeRetry, 0
	default:
		return outcomeRetry, p.limiter.RecordFailure(false)
	}
}

// persist writes cd, retrying storage failures. The write itself ignores
// cancellation so a cycle is never half applied.
func (p *Poller) persist(ctx context.Context, cd model.CycleData) (model.MetricSnapshot, error) {
	wctx := context.WithoutCancel(ctx)
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxPersistAttempts; attempt++ {
		if attempt > 1 {
			metrics.PersistRetries.WithLabelValues(string(p.target.Platform)).Inc()
			if err := p.sleep(ctx, p.cfg.PersistRetryDelay); err != nil {
				return model.MetricSnapshot{}, err
			}
		}
		snap, err := p.store.PersistCycle(wctx, cd)
		if err == nil {
			return snap, nil
		}
		lastErr = err
		logging.Warn("persist_failed", map[string]any{
			"target": p.target.String(), "attempt": attempt, "error": err.Error(),
		})
	}
	return model.MetricSnapshot{}, lastErr
}

func isStorage(err error) bool {
	var se *model.StorageError
	return errors.As(err, &se)
}

// sleep waits d on the poller clock; it returns ctx.Err() if cancelled first.
func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	t := p.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) publish(ctx context.Context, e events.Event) {
	e.Time = p.clock.Now().UTC()
	e.Target = p.target
	p.sink.Publish(context.WithoutCancel(ctx), e)
}
