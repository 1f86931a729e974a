// Package faulttolerance implements RTAC's per-(agent,link) circuit
// breaker and health-check bookkeeping (spec §4.8).
//
// Grounded on the jordigilh-kubernaut example's
// circuitbreaker.NewManager(gobreaker.Settings{...}) construction: a
// manager keyed by link name wrapping sony/gobreaker, with ReadyToTrip
// set from a consecutive-failure threshold and OnStateChange logged
// through the call site rather than this package (which stays
// transport-agnostic).
package faulttolerance

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Config mirrors spec §4.8's FaultToleranceConfig circuit-breaker knobs.
type Config struct {
	ConsecutiveFailureThreshold uint32
	OpenTimeout                 time.Duration
	HealthCheckInterval         time.Duration
}

// linkKey identifies one (agent, link) pair a circuit breaker guards.
func linkKey(agentID, link string) string {
	return agentID + "::" + link
}

// Manager owns one gobreaker.CircuitBreaker per (agent, link) pair,
// created lazily on first use.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*gobreaker.CircuitBreaker
	onChange func(key string, from, to gobreaker.State)
}

// NewManager returns a Manager using cfg for every breaker it creates.
// onChange, if non-nil, is invoked whenever any breaker's state changes.
func NewManager(cfg Config, onChange func(key string, from, to gobreaker.State)) *Manager {
	return &Manager{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		onChange: onChange,
	}
}

func (m *Manager) breakerFor(agentID, link string) *gobreaker.CircuitBreaker {
	key := linkKey(agentID, link)

	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[key]; ok {
		return b
	}

	settings := gobreaker.Settings{
		Name: key,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= m.cfg.ConsecutiveFailureThreshold
		},
		Timeout: m.cfg.OpenTimeout,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if m.onChange != nil {
				m.onChange(name, from, to)
			}
		},
	}
	b := gobreaker.NewCircuitBreaker(settings)
	m.breakers[key] = b
	return b
}

// Allow reports whether a call on (agentID, link) would currently be
// permitted — true unless the breaker is Open.
func (m *Manager) Allow(agentID, link string) bool {
	return m.breakerFor(agentID, link).State() != gobreaker.StateOpen
}

// Execute runs fn through the (agentID, link) breaker, recording success
// or failure.
func (m *Manager) Execute(agentID, link string, fn func() error) error {
	_, err := m.breakerFor(agentID, link).Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// State returns the current gobreaker state for (agentID, link).
func (m *Manager) State(agentID, link string) gobreaker.State {
	return m.breakerFor(agentID, link).State()
}

// HealthChecker runs a user-supplied probe on an interval and reports
// failing targets to a callback, grounded on the same time.AfterFunc
// debounce idiom the proactive file watcher uses for its own periodic
// work.
type HealthChecker struct {
	interval time.Duration
	probe    func(target string) error
	onResult func(target string, healthy bool)

	mu      sync.Mutex
	targets map[string]*time.Timer
	stopped bool
}

// NewHealthChecker returns a HealthChecker that calls probe every
// interval for each registered target.
func NewHealthChecker(interval time.Duration, probe func(target string) error, onResult func(target string, healthy bool)) *HealthChecker {
	return &HealthChecker{
		interval: interval,
		probe:    probe,
		onResult: onResult,
		targets:  make(map[string]*time.Timer),
	}
}

// Watch registers target for periodic health probing.
func (h *HealthChecker) Watch(target string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	if _, exists := h.targets[target]; exists {
		return
	}
	h.targets[target] = time.AfterFunc(h.interval, func() { h.tick(target) })
}

func (h *HealthChecker) tick(target string) {
	err := h.probe(target)
	if h.onResult != nil {
		h.onResult(target, err == nil)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	if _, exists := h.targets[target]; exists {
		h.targets[target] = time.AfterFunc(h.interval, func() { h.tick(target) })
	}
}

// Unwatch stops probing target.
func (h *HealthChecker) Unwatch(target string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.targets[target]; ok {
		t.Stop()
		delete(h.targets, target)
	}
}

// Stop halts all pending probes.
func (h *HealthChecker) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for _, t := range h.targets {
		t.Stop()
	}
	h.targets = make(map[string]*time.Timer)
}
