package coordination

import (
	"sort"

	"github.com/rhema-core/rhema/internal/rherr"
)

// LoadBalancer picks one agent from candidates under strategy, per spec
// §4.8's load balancing strategies. RoundRobin rotates via
// rrCounters keyed by a caller-supplied pool id so repeated calls for
// the same pool advance deterministically; LeastLoaded picks the
// minimum CurrentLoad/MaxLoad ratio; WeightedByCapability favors agents
// with the largest total number of capabilities, tie-broken by lowest
// load.
type LoadBalancer struct {
	rrCounters map[string]int
}

// NewLoadBalancer returns a LoadBalancer with its round-robin counters
// reset.
func NewLoadBalancer() *LoadBalancer {
	return &LoadBalancer{rrCounters: make(map[string]int)}
}

// AssignTask selects an agent from candidates (already filtered for
// capability eligibility by Registry.EligibleAgents) under strategy.
func (lb *LoadBalancer) AssignTask(poolID string, candidates []Agent, strategy LoadBalanceStrategy) (Agent, error) {
	if len(candidates) == 0 {
		return Agent{}, rherr.ResourceExhausted("no eligible agents available for task assignment", nil)
	}

	sorted := make([]Agent, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	switch strategy {
	case StrategyRoundRobin:
		idx := lb.rrCounters[poolID] % len(sorted)
		lb.rrCounters[poolID]++
		return sorted[idx], nil

	case StrategyLeastLoaded:
		best := sorted[0]
		bestRatio := loadRatio(best)
		for _, a := range sorted[1:] {
			if r := loadRatio(a); r < bestRatio {
				best, bestRatio = a, r
			}
		}
		return best, nil

	case StrategyWeightedByCapability:
		best := sorted[0]
		for _, a := range sorted[1:] {
			if len(a.Capabilities) > len(best.Capabilities) {
				best = a
			} else if len(a.Capabilities) == len(best.Capabilities) && loadRatio(a) < loadRatio(best) {
				best = a
			}
		}
		return best, nil

	default:
		return Agent{}, rherr.Config("unknown load balancing strategy", nil).WithCode(string(strategy))
	}
}

func loadRatio(a Agent) float64 {
	if a.MaxLoad <= 0 {
		return float64(a.CurrentLoad)
	}
	return float64(a.CurrentLoad) / float64(a.MaxLoad)
}

// Failover selects the next best agent by strategy, excluding excluded
// (the agent that just failed), per spec §4.8's fault tolerance
// failover requirement.
func (lb *LoadBalancer) Failover(poolID string, candidates []Agent, excluded string, strategy LoadBalanceStrategy) (Agent, error) {
	filtered := make([]Agent, 0, len(candidates))
	for _, a := range candidates {
		if a.ID != excluded {
			filtered = append(filtered, a)
		}
	}
	return lb.AssignTask(poolID, filtered, strategy)
}
