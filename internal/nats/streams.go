package nats

import (
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// StreamManager manages the JetStream streams backing RTAC's bridged
// coordination traffic: a durable log of delivered messages and
// committed consensus proposals, and a short-lived presence stream for
// agent status so a reconnecting observer can catch up instead of
// waiting for the next broadcast.
type StreamManager struct {
	js nats.JetStreamContext
}

// NewStreamManager creates a StreamManager bound to conn's JetStream
// context.
func NewStreamManager(conn *nats.Conn) (*StreamManager, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, err
	}
	return &StreamManager{js: js}, nil
}

// SetupStreams creates or updates every stream RTAC's bridge relies on.
func (sm *StreamManager) SetupStreams() error {
	streams := []nats.StreamConfig{
		{
			Name:        "COORDINATION_MESSAGES",
			Description: "Bridged session messages, for replay by reconnecting peers",
			Subjects:    []string{SubjectCoordinationMessages},
			Storage:     nats.FileStorage,
			MaxAge:      24 * time.Hour,
			Retention:   nats.LimitsPolicy,
		},
		{
			Name:        "CONSENSUS_COMMITS",
			Description: "Committed consensus proposals, kept for audit and recovery",
			Subjects:    []string{"rhema.coordination.consensus.>"},
			Storage:     nats.FileStorage,
			MaxAge:      0, // retained indefinitely; committed entries are never pruned by age
			Retention:   nats.LimitsPolicy,
		},
		{
			Name:        "AGENT_PRESENCE",
			Description: "Agent status heartbeats, short-lived",
			Subjects:    []string{"rhema.coordination.agents.>"},
			Storage:     nats.MemoryStorage,
			MaxAge:      5 * time.Minute,
			Retention:   nats.LimitsPolicy,
		},
	}

	for _, cfg := range streams {
		if err := sm.createOrUpdateStream(cfg); err != nil {
			return err
		}
	}

	log.Println("[nats] coordination streams configured")
	return nil
}

func (sm *StreamManager) createOrUpdateStream(cfg nats.StreamConfig) error {
	info, err := sm.js.StreamInfo(cfg.Name)
	if err != nil {
		if err == nats.ErrStreamNotFound {
			_, createErr := sm.js.AddStream(&cfg)
			return createErr
		}
		return err
	}

	_, err = sm.js.UpdateStream(&cfg)
	if err != nil {
		return err
	}
	log.Printf("[nats] stream %s updated (messages: %d)", cfg.Name, info.State.Msgs)
	return nil
}

// DeleteStream removes a stream by name.
func (sm *StreamManager) DeleteStream(name string) error {
	return sm.js.DeleteStream(name)
}

// GetStreamInfo returns current stream state.
func (sm *StreamManager) GetStreamInfo(name string) (*nats.StreamInfo, error) {
	return sm.js.StreamInfo(name)
}

// PublishCommit durably appends a committed consensus proposal so a
// peer that was offline during the commit can replay it on reconnect.
func (sm *StreamManager) PublishCommit(sessionID string, data []byte) error {
	subject := fmt.Sprintf(SubjectConsensusCommit, sessionID)
	_, err := sm.js.Publish(subject, data)
	return err
}
