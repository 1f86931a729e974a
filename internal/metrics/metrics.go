// Package metrics implements §2.9 Metrics & Health: a registry of
// counters, histograms and gauges. RTAC's Coordinator and Dispatcher
// report message delivery and expiry, circuit-breaker trips and active
// agent/session counts to it; the checksum-mismatch, message-latency and
// lock-generation instruments are registered but no package reports to
// them, and nothing in the module reads the registry to make decisions.
// Consistent with the stated
// Non-goal ("HTTP handlers for metrics"), this package exposes only an
// in-process prometheus.Registry; nothing here starts an HTTP listener
// or exports a `/metrics` handler.
//
// Grounded on the teacher's internal/metrics collector/alert pair
// (per-agent metrics map, health classification), generalized from a
// dashboard-polling model to a registry of named, typed instruments any
// package can pull a handle to and increment inline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry wraps a prometheus.Registry with the instruments the rest of
// the module needs, constructed once per process and threaded through
// whatever components report to it.
type Registry struct {
	reg *prometheus.Registry

	MessagesDelivered   *prometheus.CounterVec
	MessagesExpired     prometheus.Counter
	LeakedCorruption    *prometheus.CounterVec
	CircuitBreakerTrips *prometheus.CounterVec
	MessageLatencyMS    prometheus.Histogram
	LockGenerationMS    prometheus.Histogram

	ActiveAgents   prometheus.Gauge
	ActiveSessions prometheus.Gauge
}

// NewRegistry constructs and registers every instrument. namespace
// prefixes all metric names (e.g. "rhema"), matching the
// promauto-style naming the ecosystem favors without pulling in the
// promauto convenience package.
func NewRegistry(namespace string) *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.MessagesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "coordination",
		Name:      "messages_delivered_total",
		Help:      "Messages delivered to agents, by priority.",
	}, []string{"priority"})

	r.MessagesExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "coordination",
		Name:      "messages_expired_total",
		Help:      "Messages dropped after exceeding expires_at without delivery.",
	})

	r.LeakedCorruption = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "knowledge",
		Name:      "checksum_mismatch_total",
		Help:      "Checksum verification failures on cache entry read, by component.",
	}, []string{"component"})

	r.CircuitBreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "coordination",
		Name:      "circuit_breaker_trips_total",
		Help:      "Circuit breaker state transitions into the open state, by link.",
	}, []string{"agent_id", "link"})

	r.MessageLatencyMS = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "coordination",
		Name:      "message_latency_ms",
		Help:      "End-to-end message delivery latency in milliseconds.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	})

	r.LockGenerationMS = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "lockfile",
		Name:      "generation_time_ms",
		Help:      "Time to regenerate a lock file from a resolved scope set.",
		Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000, 30000},
	})

	r.ActiveAgents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "coordination",
		Name:      "active_agents",
		Help:      "Currently registered, non-offline agents.",
	})

	r.ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "coordination",
		Name:      "active_sessions",
		Help:      "Currently open coordination sessions.",
	})

	r.reg.MustRegister(
		r.MessagesDelivered, r.MessagesExpired, r.LeakedCorruption,
		r.CircuitBreakerTrips, r.MessageLatencyMS, r.LockGenerationMS,
		r.ActiveAgents, r.ActiveSessions,
	)

	return r
}

// Gather delegates to the underlying registry's Gather, for callers
// that need to inspect current values (tests, or a future exporter).
func (r *Registry) Gather() ([]*prometheus.MetricFamily, error) {
	return r.reg.Gather()
}

// HealthStatus classifies an agent's recent activity into a coarse
// health bucket. No other package in the module reads it.
type HealthStatus string

const (
	HealthHealthy HealthStatus = "healthy"
	HealthIdle    HealthStatus = "idle"
	HealthStuck   HealthStatus = "stuck"
	HealthFailing HealthStatus = "failing"
)

// AgentHealth tracks the rolling activity window used to classify a
// single agent's HealthStatus.
type AgentHealth struct {
	mu                  sync.RWMutex
	AgentID             string
	LastActivity        time.Time
	ConsecutiveFailures int
	TasksCompleted      int
	TotalTokens         int64
	TotalTimeSeconds    int64
}

// NewAgentHealth starts a health tracker for agentID with LastActivity
// set to now.
func NewAgentHealth(agentID string) *AgentHealth {
	return &AgentHealth{AgentID: agentID, LastActivity: time.Now()}
}

// RecordActivity marks the agent as having done something just now and
// resets its consecutive-failure streak.
func (h *AgentHealth) RecordActivity() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastActivity = time.Now()
	h.ConsecutiveFailures = 0
}

// RecordFailure increments the consecutive-failure streak without
// touching LastActivity, so a run of failures still counts as "stuck"
// once idle long enough, not masked as healthy activity.
func (h *AgentHealth) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ConsecutiveFailures++
}

// RecordTaskCompletion folds a finished task's token/time cost into the
// running totals.
func (h *AgentHealth) RecordTaskCompletion(tokens int64, seconds int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.TasksCompleted++
	h.TotalTokens += tokens
	h.TotalTimeSeconds += seconds
	h.LastActivity = time.Now()
}

// Status classifies the agent's current health.
func (h *AgentHealth) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.ConsecutiveFailures >= 3 {
		return HealthFailing
	}

	idle := time.Since(h.LastActivity)
	switch {
	case idle > 30*time.Minute:
		return HealthStuck
	case idle > 10*time.Minute:
		return HealthIdle
	default:
		return HealthHealthy
	}
}

// AvgTokensPerTask returns the mean token cost of a completed task, or
// zero if none have completed yet.
func (h *AgentHealth) AvgTokensPerTask() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.TasksCompleted == 0 {
		return 0
	}
	return h.TotalTokens / int64(h.TasksCompleted)
}
