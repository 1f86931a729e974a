package coordination

import (
	"sync"
	"time"

	"github.com/rhema-core/rhema/internal/rherr"
)

// Registry tracks registered agents, grounded on the teacher's
// internal/events.Bus subscriber map pattern (a mutex-guarded map keyed
// by participant id) but storing full Agent records instead of bare
// channels.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// RegisterAgent adds or replaces agent, defaulting Status to Idle and
// LastSeen to now.
func (r *Registry) RegisterAgent(agent Agent) error {
	if agent.ID == "" {
		return rherr.InvalidData("agent id must not be empty", nil)
	}
	if agent.Status == "" {
		agent.Status = AgentIdle
	}
	agent.LastSeen = time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agent.ID] = &agent
	return nil
}

// UpdateAgentStatus updates id's status and refreshes LastSeen.
func (r *Registry) UpdateAgentStatus(id string, status AgentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return rherr.NotFound("agent not registered", nil).WithKey(id)
	}
	agent.Status = status
	agent.LastSeen = time.Now()
	return nil
}

// GetAgentInfo returns a copy of id's Agent record.
func (r *Registry) GetAgentInfo(id string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return Agent{}, rherr.NotFound("agent not registered", nil).WithKey(id)
	}
	return *agent, nil
}

// GetAllAgents returns a copy of every registered agent.
func (r *Registry) GetAllAgents() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, *a)
	}
	return out
}

// IncrementLoad bumps id's CurrentLoad by delta, clamping at zero.
func (r *Registry) IncrementLoad(id string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return
	}
	agent.CurrentLoad += delta
	if agent.CurrentLoad < 0 {
		agent.CurrentLoad = 0
	}
}

// EligibleAgents returns every active (non-Offline, non-Failed) agent
// whose capabilities satisfy required, for load-balanced assignment.
func (r *Registry) EligibleAgents(required []string) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Agent
	for _, a := range r.agents {
		if a.Status == AgentOffline || a.Status == AgentFailed {
			continue
		}
		if a.HasCapabilities(required) {
			out = append(out, *a)
		}
	}
	return out
}
