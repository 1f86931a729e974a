package coordination

import (
	"sync"
	"time"

	"github.com/rhema-core/rhema/internal/rherr"
)

// ConsensusRole is a participant's role within a session's consensus
// term.
type ConsensusRole string

const (
	RoleFollower  ConsensusRole = "follower"
	RoleCandidate ConsensusRole = "candidate"
	RoleLeader    ConsensusRole = "leader"
)

// Proposal is a single session-scoped consensus proposal (spec §4.8):
// "this specification does not require a full Raft implementation; it
// requires a correctly behaved interface (propose, accept, commit,
// failure) with these guarantees: at most one leader per term;
// committed entries are not lost across leader changes as long as a
// majority survives."
type Proposal struct {
	ID        string
	SessionID string
	Term      uint64
	Value     any
	Acks      map[string]bool
	Committed bool
	CreatedAt time.Time
}

// consensusState is one session's leader-election and proposal state.
type consensusState struct {
	term          uint64
	leader        string
	leaderExpires time.Time
	proposals     map[string]*Proposal
	committed     []*Proposal
}

// ConsensusManager runs leader election and single-entry proposal
// commit per session, scoped to sessions whose Session.Consensus config
// is non-nil.
type ConsensusManager struct {
	mu       sync.Mutex
	sessions map[string]*consensusState
}

// NewConsensusManager returns an empty ConsensusManager.
func NewConsensusManager() *ConsensusManager {
	return &ConsensusManager{sessions: make(map[string]*consensusState)}
}

func (m *ConsensusManager) stateFor(sessionID string) *consensusState {
	st, ok := m.sessions[sessionID]
	if !ok {
		st = &consensusState{proposals: make(map[string]*Proposal)}
		m.sessions[sessionID] = st
	}
	return st
}

// ElectLeader makes candidate the leader of sessionID for a new term,
// guaranteeing at most one leader per term: a second election attempt
// within the same still-valid lease is rejected unless called by the
// current leader (renewal).
func (m *ConsensusManager) ElectLeader(sessionID, candidate string, cfg ConsensusConfig) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stateFor(sessionID)
	now := time.Now()

	if st.leader != "" && st.leader != candidate && now.Before(st.leaderExpires) {
		return 0, rherr.Conflict("a leader is already active for this term", nil).
			WithKey(sessionID).WithCode("leader_active")
	}

	st.term++
	st.leader = candidate
	st.leaderExpires = now.Add(cfg.LeaderElectionTimeout)
	return st.term, nil
}

// CurrentLeader returns sessionID's current leader, if its lease has
// not expired.
func (m *ConsensusManager) CurrentLeader(sessionID string) (string, uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[sessionID]
	if !ok || st.leader == "" || time.Now().After(st.leaderExpires) {
		return "", 0, false
	}
	return st.leader, st.term, true
}

// Propose creates a new proposal under the session's current term,
// only callable successfully by the current leader.
func (m *ConsensusManager) Propose(sessionID, proposerID string, id string, value any) (*Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stateFor(sessionID)
	if st.leader != proposerID || time.Now().After(st.leaderExpires) {
		return nil, rherr.Permission("only the current leader may propose", nil).WithKey(sessionID)
	}

	p := &Proposal{ID: id, SessionID: sessionID, Term: st.term, Value: value, Acks: make(map[string]bool), CreatedAt: time.Now()}
	st.proposals[id] = p
	return p, nil
}

// Accept records agentID's acknowledgement of proposal id.
func (m *ConsensusManager) Accept(sessionID, id, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stateFor(sessionID)
	p, ok := st.proposals[id]
	if !ok {
		return rherr.NotFound("proposal not found", nil).WithKey(id)
	}
	p.Acks[agentID] = true
	return nil
}

// Commit commits proposal id if at least minParticipants have
// acknowledged it before timeout elapses from creation; otherwise the
// proposal fails and is removed.
func (m *ConsensusManager) Commit(sessionID, id string, minParticipants int, timeout time.Duration) (*Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stateFor(sessionID)
	p, ok := st.proposals[id]
	if !ok {
		return nil, rherr.NotFound("proposal not found", nil).WithKey(id)
	}

	if len(p.Acks) < minParticipants {
		if time.Since(p.CreatedAt) > timeout {
			delete(st.proposals, id)
			return nil, rherr.Timeout("proposal failed to reach minimum acknowledgements before timeout", nil).WithKey(id)
		}
		return nil, rherr.Conflict("proposal has not yet reached minimum acknowledgements", nil).WithKey(id)
	}

	p.Committed = true
	st.committed = append(st.committed, p)
	delete(st.proposals, id)
	return p, nil
}

// CommittedEntries returns every entry committed so far for sessionID,
// in commit order — this survives leader changes within the same
// ConsensusManager instance since commits are appended to session
// state, not per-leader state.
func (m *ConsensusManager) CommittedEntries(sessionID string) []*Proposal {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stateFor(sessionID)
	out := make([]*Proposal, len(st.committed))
	copy(out, st.committed)
	return out
}
