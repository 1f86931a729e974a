package faulttolerance

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(Config{ConsecutiveFailureThreshold: 3, OpenTimeout: time.Minute}, nil)

	failing := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = m.Execute("agent-1", "primary", func() error { return failing })
	}

	if m.Allow("agent-1", "primary") {
		t.Fatal("expected breaker to be open after 3 consecutive failures")
	}
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	m := NewManager(Config{ConsecutiveFailureThreshold: 3, OpenTimeout: time.Minute}, nil)

	if err := m.Execute("agent-1", "primary", func() error { return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !m.Allow("agent-1", "primary") {
		t.Fatal("expected breaker to remain closed after success")
	}
}

func TestBreakersAreIndependentPerLink(t *testing.T) {
	m := NewManager(Config{ConsecutiveFailureThreshold: 1, OpenTimeout: time.Minute}, nil)

	_ = m.Execute("agent-1", "primary", func() error { return errors.New("boom") })

	if m.Allow("agent-1", "primary") {
		t.Fatal("expected primary link breaker to be open")
	}
	if !m.Allow("agent-1", "secondary") {
		t.Fatal("expected secondary link breaker to remain independent and closed")
	}
}

func TestOnStateChangeCallbackFires(t *testing.T) {
	var mu sync.Mutex
	var transitions []gobreaker.State

	m := NewManager(Config{ConsecutiveFailureThreshold: 1, OpenTimeout: time.Minute}, func(key string, from, to gobreaker.State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, to)
	})

	_ = m.Execute("agent-1", "primary", func() error { return errors.New("boom") })

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) == 0 {
		t.Fatal("expected at least one state transition callback")
	}
}

func TestHealthCheckerReportsFailure(t *testing.T) {
	results := make(chan bool, 4)
	hc := NewHealthChecker(10*time.Millisecond, func(target string) error {
		return errors.New("unreachable")
	}, func(target string, healthy bool) {
		results <- healthy
	})

	hc.Watch("agent-1")
	defer hc.Stop()

	select {
	case healthy := <-results:
		if healthy {
			t.Fatal("expected unhealthy result")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for health check result")
	}
}

func TestHealthCheckerUnwatchStopsProbing(t *testing.T) {
	results := make(chan bool, 8)
	hc := NewHealthChecker(5*time.Millisecond, func(target string) error {
		return nil
	}, func(target string, healthy bool) {
		results <- healthy
	})

	hc.Watch("agent-1")
	<-results
	hc.Unwatch("agent-1")

	time.Sleep(30 * time.Millisecond)
	for len(results) > 0 {
		<-results
	}
	select {
	case <-results:
		t.Fatal("expected no further probes after Unwatch")
	case <-time.After(20 * time.Millisecond):
	}
}
