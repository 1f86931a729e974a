// Package bridge translates internal coordination messages and agents onto
// an external NATS deployment, for installations that run more than one
// rhema instance against a shared coordination plane.
//
// It is optional: a Coordinator works entirely in-process without a Bridge.
// When configured, every outbound session message is also published to
// NATS, and inbound NATS messages are folded back into the local
// dispatcher. Message.ID is used as an idempotency key on both paths so a
// message that bounces back across the bridge (publish here, redelivered by
// NATS, re-ingested) is applied once.
//
// Built on internal/nats's Client wrapper (reconnect handling,
// Publish/PublishJSON/Subscribe/QueueSubscribe) rather than talking to
// nats.go directly, so the bridge inherits the same reconnect posture as
// every other NATS-connected component.
package bridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	rnats "github.com/rhema-core/rhema/internal/nats"

	"github.com/rhema-core/rhema/internal/coordination"
	"github.com/rhema-core/rhema/internal/rherr"
)

// Config controls subject naming and connection behavior for the bridge.
type Config struct {
	URL        string
	QueueGroup string // optional; empty disables queue semantics
}

// Bridge publishes outbound Messages to NATS and ingests inbound ones,
// deduplicating by Message.ID so bridged sends are idempotent.
type Bridge struct {
	client *rnats.Client

	mu   sync.Mutex
	seen map[string]time.Time

	onInbound func(coordination.Message)
}

// Connect dials the external NATS deployment and subscribes to the
// shared coordination-messages subject.
func Connect(cfg Config, onInbound func(coordination.Message)) (*Bridge, error) {
	client, err := rnats.NewClient(cfg.URL)
	if err != nil {
		return nil, rherr.Backend("connect to external coordination bridge", err)
	}

	b := &Bridge{
		client:    client,
		seen:      make(map[string]time.Time),
		onInbound: onInbound,
	}

	handler := func(msg *rnats.Message) {
		var m coordination.Message
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			return
		}
		if b.markSeen(m.ID) {
			return
		}
		if b.onInbound != nil {
			b.onInbound(m)
		}
	}

	var subErr error
	if cfg.QueueGroup != "" {
		_, subErr = client.QueueSubscribe(rnats.SubjectCoordinationMessages, cfg.QueueGroup, handler)
	} else {
		_, subErr = client.Subscribe(rnats.SubjectCoordinationMessages, handler)
	}
	if subErr != nil {
		client.Close()
		return nil, rherr.Backend("subscribe to external coordination bridge", subErr)
	}

	return b, nil
}

// Close closes the underlying NATS connection.
func (b *Bridge) Close() {
	b.client.Close()
}

// Publish sends a Message to the shared coordination subject. Messages
// without an ID are rejected since the idempotency key is mandatory for
// anything crossing the bridge.
func (b *Bridge) Publish(msg coordination.Message) error {
	if msg.ID == "" {
		return rherr.InvalidData("bridged message requires an id", nil)
	}
	if b.markSeen(msg.ID) {
		return nil
	}
	if err := b.client.PublishJSON(rnats.SubjectCoordinationMessages, msg); err != nil {
		return rherr.Backend("publish bridged message", err)
	}
	return nil
}

// PublishAgentStatus broadcasts an agent's status to its per-agent
// status subject so remote instances can track a shared roster.
func (b *Bridge) PublishAgentStatus(agent coordination.Agent) error {
	status := rnats.BridgedAgentStatus{
		AgentID:   agent.ID,
		Status:    string(agent.Status),
		Load:      agent.CurrentLoad,
		MaxLoad:   agent.MaxLoad,
		Timestamp: time.Now(),
	}
	subject := fmt.Sprintf(rnats.SubjectAgentStatus, agent.ID)
	if err := b.client.PublishJSON(subject, status); err != nil {
		return rherr.Backend("publish bridged agent status", err)
	}
	return nil
}

// markSeen records id as seen and reports whether it had already been seen.
// Entries older than idempotencyWindow are evicted lazily on each call so
// the dedup set doesn't grow without bound across a long-lived bridge.
func (b *Bridge) markSeen(id string) bool {
	const idempotencyWindow = 10 * time.Minute

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for k, t := range b.seen {
		if now.Sub(t) > idempotencyWindow {
			delete(b.seen, k)
		}
	}

	if _, ok := b.seen[id]; ok {
		return true
	}
	b.seen[id] = now
	return false
}
