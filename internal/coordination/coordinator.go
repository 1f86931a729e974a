package coordination

import (
	"time"

	"github.com/google/uuid"

	"github.com/rhema-core/rhema/internal/coordination/faulttolerance"
	"github.com/rhema-core/rhema/internal/metrics"
	"github.com/rhema-core/rhema/internal/rherr"
	"github.com/sony/gobreaker"
)

// OutdatedChecker consults LFS's is_outdated before dispatching a task
// against a scope, per AIServiceConfig.EnableLockFileAwareness (spec
// §4.8 addendum). Implemented as a function type so this package does
// not import internal/lockfile directly, keeping RTAC independent of
// LFS's on-disk format.
type OutdatedChecker func(scopePath string) (bool, error)

// Coordinator is RTAC's top-level facade, tying agent registration,
// sessions, message delivery, load balancing, fault tolerance, and
// consensus together behind the operation set spec §4.8 names.
type Coordinator struct {
	Registry   *Registry
	Sessions   *SessionManager
	Dispatcher *Dispatcher
	LoadBalancer *LoadBalancer
	Consensus  *ConsensusManager
	Stats      *StatsTracker
	Breakers   *faulttolerance.Manager

	aiConfig   AIServiceConfig
	isOutdated OutdatedChecker
}

// NewCoordinator wires every RTAC subsystem together. metricsReg is
// optional (nil disables instrumentation); when present, delivered/
// expired message counts and circuit-breaker trips report to it.
func NewCoordinator(ftCfg FaultToleranceConfig, aiConfig AIServiceConfig, isOutdated OutdatedChecker, metricsReg ...*metrics.Registry) *Coordinator {
	var m *metrics.Registry
	if len(metricsReg) > 0 {
		m = metricsReg[0]
	}

	breakers := faulttolerance.NewManager(faulttolerance.Config{
		ConsecutiveFailureThreshold: uint32(ftCfg.CircuitBreakerThreshold),
		OpenTimeout:                 ftCfg.CircuitBreakerTimeout,
		HealthCheckInterval:         ftCfg.HealthCheckInterval,
	}, func(key string, from, to gobreaker.State) {
		if m == nil || to != gobreaker.StateOpen {
			return
		}
		agentID, link := splitLinkKey(key)
		m.CircuitBreakerTrips.WithLabelValues(agentID, link).Inc()
	})

	stats := NewStatsTracker()
	c := &Coordinator{
		Registry:     NewRegistry(),
		Sessions:     NewSessionManager(),
		LoadBalancer: NewLoadBalancer(),
		Consensus:    NewConsensusManager(),
		Stats:        stats,
		Breakers:     breakers,
		aiConfig:     aiConfig,
		isOutdated:   isOutdated,
	}
	c.Dispatcher = NewDispatcher(breakers, ftCfg, func(recipient string, msg Message) {
		stats.RecordMessage()
	}, nil)
	if m != nil {
		c.Dispatcher.SetMetrics(m)
	}
	return c
}

// splitLinkKey recovers the (agentID, link) pair encoded by
// faulttolerance.linkKey's "agentID::link" format.
func splitLinkKey(key string) (agentID, link string) {
	for i := 0; i+1 < len(key); i++ {
		if key[i] == ':' && key[i+1] == ':' {
			return key[:i], key[i+2:]
		}
	}
	return key, ""
}

// RegisterAgent implements register_agent.
func (c *Coordinator) RegisterAgent(agent Agent) error {
	return c.Registry.RegisterAgent(agent)
}

// UpdateAgentStatus implements update_agent_status.
func (c *Coordinator) UpdateAgentStatus(id string, status AgentStatus) error {
	return c.Registry.UpdateAgentStatus(id, status)
}

// GetAgentInfo implements get_agent_info.
func (c *Coordinator) GetAgentInfo(id string) (Agent, error) {
	return c.Registry.GetAgentInfo(id)
}

// GetAllAgents implements get_all_agents.
func (c *Coordinator) GetAllAgents() []Agent {
	return c.Registry.GetAllAgents()
}

// CreateSession implements create_session.
func (c *Coordinator) CreateSession(title string, participants []string) (string, error) {
	return c.Sessions.CreateSession(title, participants)
}

// CreateAdvancedSession implements create_advanced_session.
func (c *Coordinator) CreateAdvancedSession(title string, participants []string, consensus *ConsensusConfig) (string, error) {
	return c.Sessions.CreateAdvancedSession(title, participants, consensus)
}

// JoinSession implements join_session.
func (c *Coordinator) JoinSession(sessionID, agentID string) error {
	return c.Sessions.JoinSession(sessionID, agentID)
}

// LeaveSession implements leave_session.
func (c *Coordinator) LeaveSession(sessionID, agentID string) error {
	return c.Sessions.LeaveSession(sessionID, agentID)
}

// SendSessionMessage implements send_session_message: assigns a
// session-scoped sequence number, enqueues msg for priority-ordered
// delivery, and delivers it to every participant except the sender.
func (c *Coordinator) SendSessionMessage(msg Message) error {
	if err := ValidateMessage(msg); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	seq, err := c.Sessions.NextSequence(msg.SessionID)
	if err != nil {
		return err
	}
	msg.Sequence = seq

	participants, err := c.Sessions.Participants(msg.SessionID)
	if err != nil {
		return err
	}

	c.Dispatcher.Enqueue(msg, participants)
	c.Dispatcher.DrainReady(func(m Message) []string {
		recipients := make([]string, 0, len(participants))
		for _, p := range participants {
			if p != m.From {
				recipients = append(recipients, p)
			}
		}
		return recipients
	})
	return nil
}

// BroadcastMessage implements broadcast_message: a direct, unsequenced
// send to every registered agent.
func (c *Coordinator) BroadcastMessage(msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	for _, a := range c.Registry.GetAllAgents() {
		c.Dispatcher.DeliverTo(a.ID, msg)
	}
	c.Stats.RecordMessage()
	return nil
}

// AssignTask implements task assignment against eligible agents under
// strategy, consulting LFS's is_outdated first if lock-file awareness
// is enabled and scopePath is non-empty.
func (c *Coordinator) AssignTask(poolID string, requiredCapabilities []string, scopePath string, strategy LoadBalanceStrategy) (Agent, error) {
	if c.aiConfig.EnableLockFileAwareness && scopePath != "" && c.isOutdated != nil {
		outdated, err := c.isOutdated(scopePath)
		if err != nil {
			return Agent{}, err
		}
		if outdated {
			return Agent{}, rherr.Conflict("scope's lock file is outdated; refusing task assignment", nil).WithPath(scopePath)
		}
	}

	candidates := c.Registry.EligibleAgents(requiredCapabilities)
	agent, err := c.LoadBalancer.AssignTask(poolID, candidates, strategy)
	if err != nil {
		return Agent{}, err
	}
	c.Registry.IncrementLoad(agent.ID, 1)
	return agent, nil
}

// GetCoordinationStats implements get_coordination_stats.
func (c *Coordinator) GetCoordinationStats(memUsagePct, cpuUsagePct float64) CoordinationStats {
	stats := c.Stats.Stats(len(c.Registry.GetAllAgents()), c.Sessions.ActiveCount(), memUsagePct, cpuUsagePct)
	if c.Dispatcher != nil {
		c.Dispatcher.reportGauges(stats.ActiveAgents, stats.ActiveSessions)
	}
	return stats
}

// GetPerformanceAlerts implements get_performance_alerts.
func (c *Coordinator) GetPerformanceAlerts() []PerformanceAlert {
	return c.Stats.Alerts()
}
