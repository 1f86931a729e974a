// Package coordination implements Real-Time Agent Coordination (RTAC,
// spec §2.3, §4.8): agent registration, sessions, message delivery with
// acknowledgement/retry, load balancing, and consensus.
//
// Grounded on the teacher's internal/events package (Bus/Subscription/
// Priority/EventStore) for the publish-subscribe shape, generalized from
// a single flat event bus to per-session agent registries and
// sequenced, acknowledged delivery.
package coordination

import (
	"time"
)

// Priority mirrors the teacher's events.Priority constants, renamed to
// the spec's Critical/High/Normal/Low vocabulary (spec §4.8).
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityNormal   Priority = 3
	PriorityLow      Priority = 4
)

// AgentStatus is the lifecycle state of a registered agent.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
	AgentFailed  AgentStatus = "failed"
)

// Agent is a participant registered with the coordinator.
type Agent struct {
	ID           string
	Capabilities []string
	Status       AgentStatus
	CurrentLoad  int
	MaxLoad      int
	LastSeen     time.Time
}

// HasCapabilities reports whether a holds every capability in required.
func (a Agent) HasCapabilities(required []string) bool {
	have := make(map[string]bool, len(a.Capabilities))
	for _, c := range a.Capabilities {
		have[c] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}

// MessageType distinguishes control messages from payload-bearing ones.
type MessageType string

const (
	MessageChat MessageType = "chat"
	MessageAck  MessageType = "ack"
	MessageTask MessageType = "task"
)

// Message is one unit of session communication (spec §4.8).
type Message struct {
	ID            string
	SessionID     string
	From          string
	To            string // empty means broadcast to the session
	Type          MessageType
	Priority      Priority
	Payload       map[string]any
	RequireAck    bool
	ExpiresAt     time.Time
	Sequence      uint64
	CreatedAt     time.Time
	AckOfMessageID string // set on MessageAck
}

// ConsensusConfig configures leader election and proposal commit rules
// for a session (spec §4.8).
type ConsensusConfig struct {
	LeaderElectionTimeout time.Duration
	MinParticipants       int
	ProposalTimeout       time.Duration
}

// Session is a coordination channel among a set of agents.
type Session struct {
	ID           string
	Title        string
	Participants map[string]bool
	Consensus    *ConsensusConfig
	CreatedAt    time.Time
	sequence     uint64
}

// LoadBalanceStrategy selects which eligible agent receives a task
// (spec §4.8).
type LoadBalanceStrategy string

const (
	StrategyRoundRobin          LoadBalanceStrategy = "round_robin"
	StrategyLeastLoaded         LoadBalanceStrategy = "least_loaded"
	StrategyWeightedByCapability LoadBalanceStrategy = "weighted_by_capability"
)

// FaultToleranceConfig governs message retry and circuit-breaker
// behavior (spec §4.8).
type FaultToleranceConfig struct {
	MaxRetryAttempts         int
	RetryDelay               time.Duration
	CircuitBreakerThreshold  int
	CircuitBreakerTimeout    time.Duration
	HealthCheckInterval      time.Duration
}

// AIServiceConfig carries the lock-file-awareness knobs the original
// implementation exposes at the coordination layer (spec §4.8 addendum):
// before dispatching a task against a scope, the coordinator may consult
// LFS's is_outdated via the OutdatedChecker hook to avoid assigning work
// against a stale lock.
type AIServiceConfig struct {
	MaxConcurrentAgents        int
	MaxBlockTimeSeconds        int
	EnableLockFileAwareness    bool
	AutoValidateLockFile       bool
	ConflictPreventionEnabled  bool
}

// CoordinationStats answers get_coordination_stats (spec §4.8).
type CoordinationStats struct {
	ActiveAgents       int
	ActiveSessions     int
	TotalMessages      uint64
	AverageLatencyMS   float64
	MemoryUsagePercent float64
	CPUUsagePercent    float64
}
