package coordination

import (
	"sync"
	"testing"

	"github.com/rhema-core/rhema/internal/metrics"
)

func TestCoordinatorSendSessionMessageDeliversToOtherParticipants(t *testing.T) {
	var mu sync.Mutex
	delivered := make(map[string]int)

	c := NewCoordinator(FaultToleranceConfig{MaxRetryAttempts: 1}, AIServiceConfig{}, nil)
	c.Dispatcher = NewDispatcher(c.Breakers, FaultToleranceConfig{MaxRetryAttempts: 1}, func(recipient string, msg Message) {
		mu.Lock()
		defer mu.Unlock()
		delivered[recipient]++
	}, nil)

	_ = c.RegisterAgent(Agent{ID: "agent-1"})
	_ = c.RegisterAgent(Agent{ID: "agent-2"})
	sessionID, err := c.CreateSession("standup", []string{"agent-1", "agent-2"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	err = c.SendSessionMessage(Message{SessionID: sessionID, From: "agent-1", Type: MessageChat, Priority: PriorityNormal})
	if err != nil {
		t.Fatalf("SendSessionMessage: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if delivered["agent-2"] != 1 {
		t.Fatalf("expected agent-2 to receive 1 message, got %d", delivered["agent-2"])
	}
	if delivered["agent-1"] != 0 {
		t.Fatalf("expected sender to not receive its own message, got %d", delivered["agent-1"])
	}
}

func TestCoordinatorAssignTaskConsultsLockFileAwareness(t *testing.T) {
	c := NewCoordinator(FaultToleranceConfig{}, AIServiceConfig{EnableLockFileAwareness: true}, func(scopePath string) (bool, error) {
		return true, nil
	})
	_ = c.RegisterAgent(Agent{ID: "agent-1", Capabilities: []string{"go"}})

	if _, err := c.AssignTask("pool-a", []string{"go"}, "service-a", StrategyRoundRobin); err == nil {
		t.Fatal("expected task assignment to be refused for an outdated scope")
	}
}

func TestCoordinatorAssignTaskSkipsCheckWhenScopeEmpty(t *testing.T) {
	c := NewCoordinator(FaultToleranceConfig{}, AIServiceConfig{EnableLockFileAwareness: true}, func(scopePath string) (bool, error) {
		t.Fatal("isOutdated should not be called when scopePath is empty")
		return false, nil
	})
	_ = c.RegisterAgent(Agent{ID: "agent-1", Capabilities: []string{"go"}})

	agent, err := c.AssignTask("pool-a", []string{"go"}, "", StrategyRoundRobin)
	if err != nil {
		t.Fatalf("AssignTask: %v", err)
	}
	if agent.ID != "agent-1" {
		t.Fatalf("expected agent-1, got %s", agent.ID)
	}
}

func TestCoordinatorGetCoordinationStats(t *testing.T) {
	c := NewCoordinator(FaultToleranceConfig{}, AIServiceConfig{}, nil)
	_ = c.RegisterAgent(Agent{ID: "agent-1"})
	_, _ = c.CreateSession("s1", nil)

	stats := c.GetCoordinationStats(10, 20)
	if stats.ActiveAgents != 1 {
		t.Fatalf("expected 1 active agent, got %d", stats.ActiveAgents)
	}
	if stats.ActiveSessions != 1 {
		t.Fatalf("expected 1 active session, got %d", stats.ActiveSessions)
	}
}

func TestCoordinatorBroadcastMessageReachesAllAgents(t *testing.T) {
	var mu sync.Mutex
	delivered := make(map[string]int)

	c := NewCoordinator(FaultToleranceConfig{}, AIServiceConfig{}, nil)
	c.Dispatcher = NewDispatcher(c.Breakers, FaultToleranceConfig{}, func(recipient string, msg Message) {
		mu.Lock()
		defer mu.Unlock()
		delivered[recipient]++
	}, nil)

	_ = c.RegisterAgent(Agent{ID: "agent-1"})
	_ = c.RegisterAgent(Agent{ID: "agent-2"})

	if err := c.BroadcastMessage(Message{From: "system", Type: MessageChat}); err != nil {
		t.Fatalf("BroadcastMessage: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if delivered["agent-1"] != 1 || delivered["agent-2"] != 1 {
		t.Fatalf("expected both agents to receive the broadcast, got %+v", delivered)
	}
}

func TestCoordinatorWithMetricsRecordsGaugesOnStatsQuery(t *testing.T) {
	reg := metrics.NewRegistry("rhema_test_coordinator")
	c := NewCoordinator(FaultToleranceConfig{}, AIServiceConfig{}, nil, reg)

	_ = c.RegisterAgent(Agent{ID: "agent-1"})
	_, _ = c.CreateSession("s1", nil)

	c.GetCoordinationStats(0, 0)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected metric families after recording coordination stats")
	}
}
