package coordination

import (
	"sync"
	"sync/atomic"
	"time"
)

// AlertSeverity mirrors the spec's performance alert severities.
type AlertSeverity string

const (
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// PerformanceAlert is one entry returned by get_performance_alerts.
type PerformanceAlert struct {
	Metric    string
	Severity  AlertSeverity
	Value     float64
	Threshold float64
	FiredAt   time.Time
}

// AlertRule defines a metric threshold with hysteresis, grounded on the
// performance/monitoring hysteresis policy resolved for this codebase:
// a condition must hold for SustainedChecks consecutive ticks before
// firing, and will not re-fire until it has been clear for
// CooldownTicks.
type AlertRule struct {
	Metric          string
	Severity        AlertSeverity
	Threshold       float64
	Above           bool // true: alert when value > threshold; false: value < threshold
	SustainedChecks int
	CooldownTicks   int
}

type alertState struct {
	consecutiveHolding int
	consecutiveClear   int
	firing             bool
}

// StatsTracker accumulates coordination counters and evaluates alert
// rules with hysteresis.
type StatsTracker struct {
	mu            sync.Mutex
	totalMessages uint64
	latencySumMS  float64
	latencyCount  uint64
	alertStates   map[string]*alertState
	alerts        []PerformanceAlert
}

// NewStatsTracker returns an empty StatsTracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{alertStates: make(map[string]*alertState)}
}

// RecordMessage increments the total message counter.
func (s *StatsTracker) RecordMessage() {
	atomic.AddUint64(&s.totalMessages, 1)
}

// RecordLatency folds a delivery latency sample into the running
// average.
func (s *StatsTracker) RecordLatency(ms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencySumMS += ms
	s.latencyCount++
}

// Stats returns the current CoordinationStats, filling in
// activeAgents/activeSessions from the caller's live registries.
func (s *StatsTracker) Stats(activeAgents, activeSessions int, memUsagePct, cpuUsagePct float64) CoordinationStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	avg := 0.0
	if s.latencyCount > 0 {
		avg = s.latencySumMS / float64(s.latencyCount)
	}
	return CoordinationStats{
		ActiveAgents:       activeAgents,
		ActiveSessions:     activeSessions,
		TotalMessages:      atomic.LoadUint64(&s.totalMessages),
		AverageLatencyMS:   avg,
		MemoryUsagePercent: memUsagePct,
		CPUUsagePercent:    cpuUsagePct,
	}
}

// Evaluate runs rule against value for one sampling tick, applying
// sustained/cooldown hysteresis, and returns a PerformanceAlert if the
// rule transitions into firing state on this tick.
func (s *StatsTracker) Evaluate(rule AlertRule, value float64) *PerformanceAlert {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.alertStates[rule.Metric]
	if !ok {
		st = &alertState{}
		s.alertStates[rule.Metric] = st
	}

	holds := value > rule.Threshold
	if !rule.Above {
		holds = value < rule.Threshold
	}

	if holds {
		st.consecutiveClear = 0
		if st.firing {
			return nil
		}
		st.consecutiveHolding++
		if st.consecutiveHolding >= rule.SustainedChecks {
			st.firing = true
			alert := PerformanceAlert{Metric: rule.Metric, Severity: rule.Severity, Value: value, Threshold: rule.Threshold, FiredAt: time.Now()}
			s.alerts = append(s.alerts, alert)
			return &alert
		}
		return nil
	}

	st.consecutiveHolding = 0
	if st.firing {
		st.consecutiveClear++
		if st.consecutiveClear >= rule.CooldownTicks {
			st.firing = false
			st.consecutiveClear = 0
		}
	}
	return nil
}

// Alerts returns every alert fired so far.
func (s *StatsTracker) Alerts() []PerformanceAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PerformanceAlert, len(s.alerts))
	copy(out, s.alerts)
	return out
}
