package coordination

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rhema-core/rhema/internal/rherr"
)

// SessionManager owns the set of active sessions and their
// participants, grounded on the teacher's internal/events.Bus
// subscriber-map locking discipline.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager returns an empty SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// CreateSession starts a new session with the given title and initial
// participants.
func (m *SessionManager) CreateSession(title string, participants []string) (string, error) {
	return m.createSession(title, participants, nil)
}

// CreateAdvancedSession starts a session with an optional ConsensusConfig
// (spec §4.8 create_advanced_session).
func (m *SessionManager) CreateAdvancedSession(title string, participants []string, consensus *ConsensusConfig) (string, error) {
	return m.createSession(title, participants, consensus)
}

func (m *SessionManager) createSession(title string, participants []string, consensus *ConsensusConfig) (string, error) {
	id := uuid.New().String()
	set := make(map[string]bool, len(participants))
	for _, p := range participants {
		set[p] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = &Session{
		ID:           id,
		Title:        title,
		Participants: set,
		Consensus:    consensus,
		CreatedAt:    time.Now(),
	}
	return id, nil
}

// JoinSession adds agentID to sessionID's participant set.
func (m *SessionManager) JoinSession(sessionID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return rherr.NotFound("session not found", nil).WithKey(sessionID)
	}
	sess.Participants[agentID] = true
	return nil
}

// LeaveSession removes agentID from sessionID's participant set.
func (m *SessionManager) LeaveSession(sessionID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return rherr.NotFound("session not found", nil).WithKey(sessionID)
	}
	delete(sess.Participants, agentID)
	return nil
}

// NextSequence atomically returns the next monotonic sequence number for
// sessionID, establishing total order within that session (spec §4.8).
func (m *SessionManager) NextSequence(sessionID string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return 0, rherr.NotFound("session not found", nil).WithKey(sessionID)
	}
	sess.sequence++
	return sess.sequence, nil
}

// Get returns a copy of sessionID's Session metadata (the participant
// set is returned by reference since callers only read membership).
func (m *SessionManager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, rherr.NotFound("session not found", nil).WithKey(sessionID)
	}
	cp := *sess
	return &cp, nil
}

// ActiveCount returns the number of sessions currently tracked.
func (m *SessionManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Participants returns sessionID's current participant ids.
func (m *SessionManager) Participants(sessionID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, rherr.NotFound("session not found", nil).WithKey(sessionID)
	}
	out := make([]string, 0, len(sess.Participants))
	for p := range sess.Participants {
		out = append(out, p)
	}
	return out, nil
}
