// Package events carries what pollers report (completed cycles, rate-limit
// waits, failures) to logs, metrics and Kafka.
package events

import (
	"context"
	"sync"
	"time"

	"socialpulse/internal/logging"
	"socialpulse/internal/metrics"
	"socialpulse/internal/model"
)

type Kind string

const (
	CycleCompleted   Kind = "cycle_completed"
	RateLimitWaiting Kind = "rate_limit_waiting"
	CycleFailed      Kind = "cycle_failed"
	PollerStopped    Kind = "poller_stopped"
)

// Event is one poller notification. Fields beyond Kind, Time and Target are
// set only for the kinds that use them.
type Event struct {
	Kind    Kind
	Time    time.Time
	CycleID string
	Target  model.Target

	// cycle_completed
	Snapshot *model.MetricSnapshot
	Posts    int

	// rate_limit_waiting
	Provider model.Platform
	Wait     time.Duration
	ResetAt  time.Time

	// cycle_failed, poller_stopped
	Err      error
	Retrying bool
}

// Sink receives events. Publish must not block for long; pollers call it
// inline.
type Sink interface {
	Publish(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Publish(ctx context.Context, e Event) { f(ctx, e) }

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ctx, e)
		}
	}
}

// Discard drops everything.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

// LogSink writes each event as one structured log line.
type LogSink struct{}

func (LogSink) Publish(_ context.Context, e Event) {
	f := map[string]any{"target": e.Target.String()}
	if e.CycleID != "" {
		f["cycle_id"] = e.CycleID
	}
	switch e.Kind {
	case CycleCompleted:
		if e.Snapshot != nil {
			f["account_id"] = e.Snapshot.AccountID
			f["followers"] = e.Snapshot.FollowerCount
			f["follower_growth"] = e.Snapshot.FollowerGrowth
			f["engagement_rate"] = e.Snapshot.EngagementRate
			f["timestamp"] = e.Snapshot.Timestamp.Format(time.RFC3339)
		}
		f["posts"] = e.Posts
		logging.Info(string(e.Kind), f)
	case RateLimitWaiting:
		f["provider"] = string(e.Provider)
		f["wait_seconds"] = e.Wait.Seconds()
		if !e.ResetAt.IsZero() {
			f["reset_at"] = e.ResetAt.UTC().Format(time.RFC3339)
		}
		logging.Warn(string(e.Kind), f)
	case CycleFailed:
		f["retrying"] = e.Retrying
		if e.Err != nil {
			f["error"] = e.Err.Error()
		}
		logging.Warn(string(e.Kind), f)
	case PollerStopped:
		if e.Err != nil {
			f["error"] = e.Err.Error()
			logging.Error(string(e.Kind), f)
			return
		}
		logging.Info(string(e.Kind), f)
	}
}

// MetricsSink feeds the Prometheus collectors.
type MetricsSink struct{}

func (MetricsSink) Publish(_ context.Context, e Event) {
	platform := string(e.Target.Platform)
	switch e.Kind {
	case RateLimitWaiting:
		metrics.ObserveRateLimitWait(string(e.Provider), e.Wait)
	case PollerStopped:
		if e.Err != nil {
			metrics.TerminalFailures.WithLabelValues(platform).Inc()
		}
	}
}

// Recorder keeps every event; handy in tests and for the one-shot scan.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan Event
}

// NewRecorder buffers up to n events on C for tests that need to wait.
func NewRecorder(n int) *Recorder {
	return &Recorder{notify: make(chan Event, n)}
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.notify <- e:
	default:
	}
}

// C delivers events as they arrive.
func (r *Recorder) C() <-chan Event { return r.notify }

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Of returns recorded events of kind k.
func (r *Recorder) Of(k Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
