package coordination

import "testing"

func TestRoundRobinRotatesThroughCandidates(t *testing.T) {
	lb := NewLoadBalancer()
	candidates := []Agent{{ID: "agent-1"}, {ID: "agent-2"}, {ID: "agent-3"}}

	var picks []string
	for i := 0; i < 4; i++ {
		a, err := lb.AssignTask("pool-a", candidates, StrategyRoundRobin)
		if err != nil {
			t.Fatalf("AssignTask: %v", err)
		}
		picks = append(picks, a.ID)
	}
	if picks[0] != "agent-1" || picks[1] != "agent-2" || picks[2] != "agent-3" || picks[3] != "agent-1" {
		t.Fatalf("expected round-robin wraparound, got %v", picks)
	}
}

func TestLeastLoadedPicksLowestRatio(t *testing.T) {
	lb := NewLoadBalancer()
	candidates := []Agent{
		{ID: "agent-1", CurrentLoad: 8, MaxLoad: 10},
		{ID: "agent-2", CurrentLoad: 1, MaxLoad: 10},
	}
	a, err := lb.AssignTask("pool-a", candidates, StrategyLeastLoaded)
	if err != nil {
		t.Fatalf("AssignTask: %v", err)
	}
	if a.ID != "agent-2" {
		t.Fatalf("expected agent-2 (least loaded), got %s", a.ID)
	}
}

func TestWeightedByCapabilityPrefersMoreCapabilities(t *testing.T) {
	lb := NewLoadBalancer()
	candidates := []Agent{
		{ID: "agent-1", Capabilities: []string{"go"}},
		{ID: "agent-2", Capabilities: []string{"go", "rust", "python"}},
	}
	a, err := lb.AssignTask("pool-a", candidates, StrategyWeightedByCapability)
	if err != nil {
		t.Fatalf("AssignTask: %v", err)
	}
	if a.ID != "agent-2" {
		t.Fatalf("expected agent-2 (more capabilities), got %s", a.ID)
	}
}

func TestAssignTaskNoEligibleCandidatesErrors(t *testing.T) {
	lb := NewLoadBalancer()
	if _, err := lb.AssignTask("pool-a", nil, StrategyRoundRobin); err == nil {
		t.Fatal("expected error for empty candidate list")
	}
}

func TestFailoverExcludesFailedAgent(t *testing.T) {
	lb := NewLoadBalancer()
	candidates := []Agent{{ID: "agent-1"}, {ID: "agent-2"}}
	a, err := lb.Failover("pool-a", candidates, "agent-1", StrategyRoundRobin)
	if err != nil {
		t.Fatalf("Failover: %v", err)
	}
	if a.ID != "agent-2" {
		t.Fatalf("expected failover to agent-2, got %s", a.ID)
	}
}
