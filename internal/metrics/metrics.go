package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PollCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socialpulse_poll_cycles_total",
		Help: "Poll cycles by platform and outcome (ok, retry, skipped, terminal)",
	}, []string{"platform", "outcome"})
	CycleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "socialpulse_cycle_duration_seconds",
		Help:    "Duration of successful poll cycles",
		Buckets: prometheus.DefBuckets,
	}, []string{"platform"})
	RateLimitWaits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socialpulse_rate_limit_waits_total",
		Help: "Times a poller waited on a provider rate limit",
	}, []string{"platform"})
	RateLimitWaitSeconds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socialpulse_rate_limit_wait_seconds_total",
		Help: "Seconds spent waiting on provider rate limits",
	}, []string{"platform"})
	BudgetRemaining = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "socialpulse_rate_budget_remaining",
		Help: "Last observed remaining calls per provider",
	}, []string{"platform"})
	PersistRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socialpulse_persist_retries_total",
		Help: "Retried persist attempts",
	}, []string{"platform"})
	TerminalFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socialpulse_terminal_failures_total",
		Help: "Pollers stopped by a terminal failure",
	}, []string{"platform"})
	ActivePollers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "socialpulse_active_pollers",
		Help: "Pollers currently running",
	})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socialpulse_api_retries_total",
		Help: "Total API retry attempts",
	}, []string{"endpoint"})
	KafkaDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "socialpulse_kafka_events_dropped_total",
		Help: "Events dropped because the Kafka queue was full or the flush timed out",
	})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socialpulse_command_runs_total",
		Help: "CLI command invocations",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socialpulse_command_errors_total",
		Help: "CLI command failures",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(
		PollCycles, CycleDuration, RateLimitWaits, RateLimitWaitSeconds, BudgetRemaining,
		PersistRetries, TerminalFailures, ActivePollers, APIRetries, KafkaDropped, CommandRuns, CommandErrors,
	)
}

// ObserveCycle records a cycle outcome; duration is only observed for "ok".
func ObserveCycle(platform, outcome string, start time.Time) {
	PollCycles.WithLabelValues(platform, outcome).Inc()
	if outcome == "ok" {
		CycleDuration.WithLabelValues(platform).Observe(time.Since(start).Seconds())
	}
}

// ObserveRateLimitWait counts one wait of d on platform's budget.
func ObserveRateLimitWait(platform string, d time.Duration) {
	RateLimitWaits.WithLabelValues(platform).Inc()
	RateLimitWaitSeconds.WithLabelValues(platform).Add(d.Seconds())
}

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

func IncCommandRun(cmd string)   { CommandRuns.WithLabelValues(cmd).Inc() }
func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }
