package coordination

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rhema-core/rhema/internal/coordination/faulttolerance"
	"github.com/rhema-core/rhema/internal/metrics"
	"github.com/rhema-core/rhema/internal/rherr"
)

// orderBuffer enforces per-session, per-recipient total ordering:
// messages are buffered until every lower sequence number has already
// been delivered (spec §4.8: "recipients buffer and deliver in
// sequence order").
type orderBuffer struct {
	nextSeq uint64
	pending map[uint64]Message
}

// priorityItem is one entry in the cross-session delivery heap.
type priorityItem struct {
	msg       Message
	index     int
}

// priorityQueue orders ready-to-deliver messages Critical > High >
// Normal > Low, tied-broken by CreatedAt ascending (spec §4.8): no
// priority inversion across sessions, since this heap spans all
// sessions rather than being scoped to one.
type priorityQueue []*priorityItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].msg.Priority != pq[j].msg.Priority {
		return pq[i].msg.Priority < pq[j].msg.Priority // Critical=1 sorts first
	}
	return pq[i].msg.CreatedAt.Before(pq[j].msg.CreatedAt)
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *priorityQueue) Push(x any) {
	item := x.(*priorityItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

// ackRecord tracks one outstanding require_ack message awaiting
// acknowledgement (spec §4.8 delivery semantics).
type ackRecord struct {
	msg          Message
	timer        *time.Timer
	attemptsLeft int
}

// Dispatcher implements RTAC's message delivery semantics: priority
// scheduling, per-session sequence ordering, and acknowledgement/retry
// with circuit-breaker-aware backoff.
//
// Grounded on the teacher's internal/events.Bus for the
// mutex-guarded-subscriber-map shape and its sendWithBackpressure retry
// idiom, generalized from a single blocking-channel retry to a
// timer-scheduled ack-expiry retry loop.
type Dispatcher struct {
	mu       sync.Mutex
	queue    priorityQueue
	buffers  map[string]*orderBuffer // "sessionID::recipient" -> buffer
	acks     map[string]*ackRecord   // messageID -> outstanding ack
	breakers *faulttolerance.Manager
	cfg      FaultToleranceConfig
	metrics  *metrics.Registry // optional; nil disables instrumentation

	onDeliver     func(recipient string, msg Message)
	onUndelivered func(msg Message)
}

// SetMetrics attaches a metrics.Registry the dispatcher reports
// delivery/expiry counts to. Passing nil disables instrumentation.
func (d *Dispatcher) SetMetrics(m *metrics.Registry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics = m
}

// reportGauges updates the attached registry's active-agent/session
// gauges, if instrumentation is enabled.
func (d *Dispatcher) reportGauges(activeAgents, activeSessions int) {
	d.mu.Lock()
	m := d.metrics
	d.mu.Unlock()
	if m == nil {
		return
	}
	m.ActiveAgents.Set(float64(activeAgents))
	m.ActiveSessions.Set(float64(activeSessions))
}

// NewDispatcher wires a Dispatcher to breakers for (agent,link)
// circuit-breaking and cfg for retry limits/delays.
func NewDispatcher(breakers *faulttolerance.Manager, cfg FaultToleranceConfig, onDeliver func(recipient string, msg Message), onUndelivered func(msg Message)) *Dispatcher {
	d := &Dispatcher{
		buffers:       make(map[string]*orderBuffer),
		acks:          make(map[string]*ackRecord),
		breakers:      breakers,
		cfg:           cfg,
		onDeliver:     onDeliver,
		onUndelivered: onUndelivered,
	}
	heap.Init(&d.queue)
	return d
}

func bufferKey(sessionID, recipient string) string { return sessionID + "::" + recipient }

// Enqueue schedules msg for delivery. If msg.RequireAck, it registers an
// outstanding ack record that expires at msg.ExpiresAt. A message
// carrying a plain (non-ack) expiry that has already elapsed is dropped
// immediately and never delivered (spec §4.8); ack-bearing messages use
// ExpiresAt as their acknowledgement deadline instead, handled by the
// retry path in onAckExpiry.
func (d *Dispatcher) Enqueue(msg Message, recipients []string) {
	if !msg.RequireAck && !msg.ExpiresAt.IsZero() && time.Now().After(msg.ExpiresAt) {
		d.mu.Lock()
		m := d.metrics
		d.mu.Unlock()
		if m != nil {
			m.MessagesExpired.Inc()
		}
		return
	}

	d.mu.Lock()
	heap.Push(&d.queue, &priorityItem{msg: msg})
	d.mu.Unlock()

	if msg.RequireAck && !msg.ExpiresAt.IsZero() {
		d.trackAck(msg)
	}
	_ = recipients // recipients are resolved per-delivery in DrainReady via session participants
}

func (d *Dispatcher) trackAck(msg Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delay := time.Until(msg.ExpiresAt)
	if delay < 0 {
		delay = 0
	}
	rec := &ackRecord{msg: msg, attemptsLeft: d.cfg.MaxRetryAttempts}
	rec.timer = time.AfterFunc(delay, func() { d.onAckExpiry(msg.ID) })
	d.acks[msg.ID] = rec
}

// Ack acknowledges an outstanding message, cancelling its retry timer.
func (d *Dispatcher) Ack(messageID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.acks[messageID]
	if !ok {
		return
	}
	rec.timer.Stop()
	delete(d.acks, messageID)
}

func (d *Dispatcher) onAckExpiry(messageID string) {
	d.mu.Lock()
	rec, ok := d.acks[messageID]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.acks, messageID)
	d.mu.Unlock()

	if d.onUndelivered != nil {
		d.onUndelivered(rec.msg)
	}

	if rec.attemptsLeft <= 0 {
		return
	}
	if d.breakers != nil && !d.breakers.Allow(rec.msg.To, "session") {
		return
	}

	retry := rec.msg
	retry.ExpiresAt = time.Now().Add(d.cfg.RetryDelay + time.Until(rec.msg.ExpiresAt))
	retry.Sequence = rec.msg.Sequence

	d.mu.Lock()
	heap.Push(&d.queue, &priorityItem{msg: retry})
	d.mu.Unlock()

	rec.attemptsLeft--
	d.mu.Lock()
	rec.msg = retry
	rec.timer = time.AfterFunc(d.cfg.RetryDelay, func() { d.onAckExpiry(messageID) })
	d.acks[messageID] = rec
	d.mu.Unlock()
}

// DeliverTo attempts to deliver msg to recipient immediately, honoring
// per-session sequence ordering: a message whose sequence is ahead of
// what the recipient has seen so far is buffered, and delivering it
// releases every contiguous successor already buffered.
func (d *Dispatcher) DeliverTo(recipient string, msg Message) []Message {
	d.mu.Lock()
	defer d.mu.Unlock()

	if msg.Sequence == 0 {
		// Unsequenced (e.g. direct, non-session) messages deliver immediately.
		d.deliver(recipient, msg)
		return []Message{msg}
	}

	key := bufferKey(msg.SessionID, recipient)
	buf, ok := d.buffers[key]
	if !ok {
		buf = &orderBuffer{nextSeq: 1, pending: make(map[uint64]Message)}
		d.buffers[key] = buf
	}

	if msg.Sequence < buf.nextSeq {
		return nil // duplicate or already-delivered, drop
	}
	if msg.Sequence > buf.nextSeq {
		buf.pending[msg.Sequence] = msg
		return nil
	}

	var delivered []Message
	next := msg
	for {
		d.deliver(recipient, next)
		delivered = append(delivered, next)
		buf.nextSeq++
		pending, ok := buf.pending[buf.nextSeq]
		if !ok {
			break
		}
		delete(buf.pending, buf.nextSeq)
		next = pending
	}
	return delivered
}

func (d *Dispatcher) deliver(recipient string, msg Message) {
	if d.onDeliver != nil {
		d.onDeliver(recipient, msg)
	}
	if d.metrics != nil {
		d.metrics.MessagesDelivered.WithLabelValues(priorityLabel(msg.Priority)).Inc()
	}
}

func priorityLabel(p Priority) string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// DrainReady pops every currently-queued message in priority order
// (Critical first) and dispatches each to resolveRecipients(msg),
// honoring per-session ordering via DeliverTo.
func (d *Dispatcher) DrainReady(resolveRecipients func(msg Message) []string) []Message {
	var delivered []Message
	for {
		d.mu.Lock()
		if d.queue.Len() == 0 {
			d.mu.Unlock()
			break
		}
		item := heap.Pop(&d.queue).(*priorityItem)
		d.mu.Unlock()

		for _, recipient := range resolveRecipients(item.msg) {
			delivered = append(delivered, d.DeliverTo(recipient, item.msg)...)
		}
	}
	return delivered
}

// Len returns the number of messages currently queued.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len()
}

// ValidateMessage checks the minimal structural requirements RTAC
// enforces before enqueuing (spec §4.8).
func ValidateMessage(msg Message) error {
	if msg.SessionID == "" {
		return rherr.InvalidData("message session id must not be empty", nil)
	}
	if msg.From == "" {
		return rherr.InvalidData("message sender must not be empty", nil)
	}
	return nil
}
