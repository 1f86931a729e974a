package coordination

import (
	"sync"
	"testing"
	"time"
)

func TestDeliverToBuffersOutOfOrderMessages(t *testing.T) {
	var mu sync.Mutex
	var delivered []uint64

	d := NewDispatcher(nil, FaultToleranceConfig{}, func(recipient string, msg Message) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, msg.Sequence)
	}, nil)

	out := d.DeliverTo("agent-1", Message{SessionID: "s1", Sequence: 2})
	if len(out) != 0 {
		t.Fatalf("expected sequence 2 to be buffered, got %+v", out)
	}

	out = d.DeliverTo("agent-1", Message{SessionID: "s1", Sequence: 1})
	if len(out) != 2 {
		t.Fatalf("expected delivering sequence 1 to release sequence 2 as well, got %+v", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 2 || delivered[0] != 1 || delivered[1] != 2 {
		t.Fatalf("expected in-order delivery [1 2], got %v", delivered)
	}
}

func TestDeliverToDropsDuplicateSequence(t *testing.T) {
	d := NewDispatcher(nil, FaultToleranceConfig{}, func(recipient string, msg Message) {}, nil)

	d.DeliverTo("agent-1", Message{SessionID: "s1", Sequence: 1})
	out := d.DeliverTo("agent-1", Message{SessionID: "s1", Sequence: 1})
	if len(out) != 0 {
		t.Fatalf("expected duplicate sequence to be dropped, got %+v", out)
	}
}

func TestDrainReadyOrdersByPriority(t *testing.T) {
	var mu sync.Mutex
	var order []Priority

	d := NewDispatcher(nil, FaultToleranceConfig{}, func(recipient string, msg Message) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, msg.Priority)
	}, nil)

	base := time.Now()
	d.Enqueue(Message{ID: "1", Priority: PriorityLow, CreatedAt: base}, nil)
	d.Enqueue(Message{ID: "2", Priority: PriorityCritical, CreatedAt: base.Add(time.Millisecond)}, nil)
	d.Enqueue(Message{ID: "3", Priority: PriorityNormal, CreatedAt: base.Add(2 * time.Millisecond)}, nil)

	d.DrainReady(func(msg Message) []string { return []string{"agent-1"} })

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(order))
	}
	if order[0] != PriorityCritical || order[1] != PriorityNormal || order[2] != PriorityLow {
		t.Fatalf("expected Critical,Normal,Low order, got %v", order)
	}
}

func TestAckExpiryTriggersUndeliveredAndRetry(t *testing.T) {
	var mu sync.Mutex
	var deliverCount int
	var undeliveredCount int

	d := NewDispatcher(nil, FaultToleranceConfig{MaxRetryAttempts: 1, RetryDelay: 5 * time.Millisecond}, func(recipient string, msg Message) {
		mu.Lock()
		defer mu.Unlock()
		deliverCount++
	}, func(msg Message) {
		mu.Lock()
		defer mu.Unlock()
		undeliveredCount++
	})

	msg := Message{ID: "m1", SessionID: "s1", From: "agent-1", To: "agent-2", RequireAck: true, ExpiresAt: time.Now().Add(15 * time.Millisecond)}
	d.Enqueue(msg, []string{"agent-2"})
	d.DrainReady(func(m Message) []string { return []string{"agent-2"} })

	time.Sleep(60 * time.Millisecond)
	d.DrainReady(func(m Message) []string { return []string{"agent-2"} })

	mu.Lock()
	defer mu.Unlock()
	if undeliveredCount != 2 {
		t.Fatalf("expected 2 undelivered events (original expiry and retry expiry), got %d", undeliveredCount)
	}
	if deliverCount < 2 {
		t.Fatalf("expected original delivery plus at least one retry, got %d", deliverCount)
	}
}

func TestAckCancelsRetryTimer(t *testing.T) {
	var mu sync.Mutex
	var undeliveredCount int

	d := NewDispatcher(nil, FaultToleranceConfig{MaxRetryAttempts: 2, RetryDelay: 5 * time.Millisecond}, func(recipient string, msg Message) {}, func(msg Message) {
		mu.Lock()
		defer mu.Unlock()
		undeliveredCount++
	})

	msg := Message{ID: "m1", SessionID: "s1", From: "agent-1", To: "agent-2", RequireAck: true, ExpiresAt: time.Now().Add(20 * time.Millisecond)}
	d.Enqueue(msg, []string{"agent-2"})
	d.Ack("m1")

	time.Sleep(40 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if undeliveredCount != 0 {
		t.Fatalf("expected no undelivered event after ack, got %d", undeliveredCount)
	}
}

func TestEnqueueDropsAlreadyExpiredNonAckMessage(t *testing.T) {
	var delivered int
	d := NewDispatcher(nil, FaultToleranceConfig{}, func(recipient string, msg Message) {
		delivered++
	}, nil)

	d.Enqueue(Message{ID: "m1", SessionID: "s1", ExpiresAt: time.Now().Add(-time.Minute)}, nil)
	if d.Len() != 0 {
		t.Fatalf("expected expired message to never reach the queue, queue len=%d", d.Len())
	}

	d.DrainReady(func(m Message) []string { return []string{"agent-1"} })
	if delivered != 0 {
		t.Fatalf("expected expired message to never be delivered, delivered=%d", delivered)
	}
}

func TestValidateMessageRejectsMissingFields(t *testing.T) {
	if err := ValidateMessage(Message{}); err == nil {
		t.Fatal("expected error for message missing session id and sender")
	}
	if err := ValidateMessage(Message{SessionID: "s1", From: "agent-1"}); err != nil {
		t.Fatalf("expected valid message to pass, got %v", err)
	}
}
