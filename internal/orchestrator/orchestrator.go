// Package orchestrator starts one poller per target and collects what
// happened to them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"socialpulse/internal/events"
	"socialpulse/internal/logging"
	"socialpulse/internal/metrics"
	"socialpulse/internal/model"
	"socialpulse/internal/poller"
	"socialpulse/internal/provider"
	"socialpulse/internal/ratelimit"
)

// Failure is a target that stopped for good, or failed a one-shot scan.
type Failure struct {
	Target model.Target
	Err    error
}

func (f Failure) Error() string { return f.Target.String() + ": " + f.Err.Error() }

func (f Failure) Unwrap() error { return f.Err }

// Report summarises a Run or ScanOnce.
type Report struct {
	Started   int
	Failures  []Failure
	Snapshots map[string]model.MetricSnapshot // ScanOnce only, keyed by Target.Key()
}

// Err joins every failure, or returns nil.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

type Orchestrator struct {
	providers provider.Set
	limiters  *ratelimit.Registry
	store     poller.Store
	sink      events.Sink
	clock     clockwork.Clock
	cfg       poller.Config
	// Concurrency caps ScanOnce fan-out; zero means unlimited.
	Concurrency int
	// OnFailure, when set, is called from Run as soon as a target fails for
	// good, without waiting for cancellation. Calls are sequential.
	OnFailure func(Failure)
}

// New wires an orchestrator. limiters, sink and clock may be nil.
func New(providers provider.Set, limiters *ratelimit.Registry, store poller.Store, sink events.Sink, clock clockwork.Clock, cfg poller.Config) *Orchestrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if limiters == nil {
		limiters = ratelimit.NewRegistry(ratelimit.Config{}, clock)
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Orchestrator{providers: providers, limiters: limiters, store: store, sink: sink, clock: clock, cfg: cfg}
}

// Dedupe drops targets whose Key was already seen, keeping the first.
func Dedupe(targets []model.Target) []model.Target {
	seen := make(map[string]bool, len(targets))
	out := make([]model.Target, 0, len(targets))
	for _, t := range targets {
		k := t.Key()
		if seen[k] {
			logging.Warn("duplicate_target_dropped", map[string]any{"target": t.String()})
			continue
		}
		seen[k] = true
		out = append(out, t)
	}
	return out
}

func (o *Orchestrator) newPoller(t model.Target) (*poller.Poller, error) {
	p, ok := o.providers[t.Platform]
	if !ok || p == nil {
		return nil, &model.InvalidTargetError{Target: t, Reason: "no provider configured for platform"}
	}
	return poller.New(t, poller.Deps{
		Provider: p,
		Limiter:  o.limiters.For(string(t.Platform)),
		Store:    o.store,
		Sink:     o.sink,
		Clock:    o.clock,
	}, o.cfg), nil
}

// Run polls every target until ctx is cancelled and all pollers have exited.
// A target that fails terminally stops only its own poller.
func (o *Orchestrator) Run(ctx context.Context, targets []model.Target) Report {
	targets = Dedupe(targets)
	var rep Report
	done := make(chan Failure, len(targets))
	running := 0
	for _, t := range targets {
		p, err := o.newPoller(t)
		if err != nil {
			logging.Error("poller_not_started", map[string]any{"target": t.String(), "error": err.Error()})
			f := Failure{Target: t, Err: err}
			rep.Failures = append(rep.Failures, f)
			o.notify(f)
			continue
		}
		running++
		metrics.ActivePollers.Inc()
		go func() {
			err := runSafely(ctx, p.Run)
			metrics.ActivePollers.Dec()
			done <- Failure{Target: t, Err: err}
		}()
	}
	rep.Started = running
	logging.Info("orchestrator_started", map[string]any{"pollers": running, "failed": len(rep.Failures)})

	for ; running > 0; running-- {
		f := <-done
		if f.Err != nil {
			rep.Failures = append(rep.Failures, f)
			o.notify(f)
		}
	}
	// Failed pollers do not end the run; keep serving until asked to stop.
	<-ctx.Done()
	logging.Info("orchestrator_stopped", map[string]any{"failures": len(rep.Failures)})
	return rep
}

func (o *Orchestrator) notify(f Failure) {
	if o.OnFailure != nil {
		o.OnFailure(f)
	}
}

// ScanOnce runs a single cycle for every target concurrently. One target's
// failure never affects the others.
func (o *Orchestrator) ScanOnce(ctx context.Context, targets []model.Target) Report {
	targets = Dedupe(targets)
	results := make([]Failure, len(targets))
	snaps := make([]*model.MetricSnapshot, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	if o.Concurrency > 0 {
		g.SetLimit(o.Concurrency)
	}
	for i, t := range targets {
		results[i].Target = t
		p, err := o.newPoller(t)
		if err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			var snap model.MetricSnapshot
			err := runSafely(gctx, func(ctx context.Context) error {
				var err error
				snap, err = p.RunOnce(ctx)
				return err
			})
			if err != nil {
				results[i].Err = err
			} else {
				snaps[i] = &snap
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Started: len(targets), Snapshots: make(map[string]model.MetricSnapshot)}
	for i, r := range results {
		if r.Err != nil {
			rep.Failures = append(rep.Failures, r)
			continue
		}
		if snaps[i] != nil {
			rep.Snapshots[r.Target.Key()] = *snaps[i]
		}
	}
	logging.Info("scan_completed", map[string]any{"targets": len(targets), "failures": len(rep.Failures)})
	return rep
}

// runSafely turns a panic in fn into a terminal error.
func runSafely(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("poller_panic", map[string]any{"panic": fmt.Sprint(r), "stack": string(debug.Stack())})
			err = fmt.Errorf("poller panic: %v", r)
		}
	}()
	return fn(ctx)
}
