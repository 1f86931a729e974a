package nats

import "time"

// Subject pattern constants for the external coordination bridge (spec
// §4.8/§9). Every bridged agent/message type gets its own subject so a
// remote instance can subscribe selectively instead of decoding every
// message just to filter it out.
const (
	// SubjectCoordinationMessages carries every bridged coordination.Message.
	SubjectCoordinationMessages = "rhema.coordination.messages"

	// SubjectAgentStatus is the pattern for per-agent status broadcasts.
	// Use fmt.Sprintf(SubjectAgentStatus, agentID).
	SubjectAgentStatus = "rhema.coordination.agents.%s.status"

	// SubjectAllAgentStatus subscribes to every agent's status updates.
	SubjectAllAgentStatus = "rhema.coordination.agents.*.status"

	// SubjectConsensusCommit carries committed consensus proposals for a
	// session. Use fmt.Sprintf(SubjectConsensusCommit, sessionID).
	SubjectConsensusCommit = "rhema.coordination.consensus.%s.committed"

	// SubjectLockInvalidation announces that a scope's lock file has
	// changed, so peers sharing the bridge can re-check is_outdated
	// before dispatching further tasks against that scope.
	SubjectLockInvalidation = "rhema.lockfile.invalidated"
)

// BridgedAgentStatus is the envelope published to SubjectAgentStatus.
type BridgedAgentStatus struct {
	AgentID   string    `json:"agent_id"`
	Status    string    `json:"status"`
	Load      int       `json:"load"`
	MaxLoad   int       `json:"max_load"`
	Timestamp time.Time `json:"timestamp"`
}

// BridgedCommit is the envelope published to SubjectConsensusCommit.
type BridgedCommit struct {
	SessionID string    `json:"session_id"`
	ProposalID string   `json:"proposal_id"`
	Term      uint64    `json:"term"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientInfo describes a connection tracked by EmbeddedServer.
type ClientInfo struct {
	ClientID    string    `json:"client_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// LockInvalidationMessage is the envelope published to
// SubjectLockInvalidation whenever a scope's lock file is regenerated.
type LockInvalidationMessage struct {
	ScopePath string    `json:"scope_path"`
	Checksum  string    `json:"checksum"`
	Timestamp time.Time `json:"timestamp"`
}
