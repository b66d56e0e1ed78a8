// Package bus provides the in-process publish/subscribe transport used by
// dispatched workers to exchange status, result and error messages.
//
// The bus is a pure transport: it does not retry, does not persist, and
// drops messages addressed to agents with no active subscription. Delivery
// within a recipient's queue is priority-then-FIFO: Critical before High
// before Normal before Low, publish order preserved within a priority.
package bus

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentroute/core"
)

// MessageType categorizes bus messages.
type MessageType int

const (
	// TypeQuery asks another agent for input.
	TypeQuery MessageType = iota
	// TypeResult carries a worker result.
	TypeResult
	// TypeError reports a worker failure.
	TypeError
	// TypeStatus reports lifecycle progress.
	TypeStatus
	// TypeHeartbeat signals liveness.
	TypeHeartbeat
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case TypeQuery:
		return "query"
	case TypeResult:
		return "result"
	case TypeError:
		return "error"
	case TypeStatus:
		return "status"
	case TypeHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Priority orders delivery within a recipient's queue.
type Priority int

const (
	// PriorityLow is delivered last.
	PriorityLow Priority = iota
	// PriorityNormal is the default.
	PriorityNormal
	// PriorityHigh outranks normal traffic.
	PriorityHigh
	// PriorityCritical is delivered first.
	PriorityCritical
)

// Message is the envelope exchanged on the bus. To is the recipient agent id;
// Broadcast delivers to every subscriber regardless of To.
type Message struct {
	ID            string      `json:"id"`
	From          string      `json:"from"`
	To            string      `json:"to,omitempty"`
	Broadcast     bool        `json:"broadcast,omitempty"`
	Type          MessageType `json:"type"`
	Priority      Priority    `json:"priority"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Payload       any         `json:"payload,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`

	seq uint64
}

// NewMessage constructs a message with a fresh id and UTC timestamp.
func NewMessage(from, to string, typ MessageType, payload any) Message {
	return Message{
		ID:        core.NewID(),
		From:      from,
		To:        to,
		Type:      typ,
		Priority:  PriorityNormal,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Handler consumes a pushed message. Handlers run on the publisher's
// goroutine; long-running work should be handed off.
type Handler func(Message)

// Subscription identifies an active subscription for Unsubscribe.
type Subscription struct {
	agentID string
	id      uint64
}

// mailbox holds one agent's pending messages and push handlers. Each mailbox
// carries its own lock so agents never contend with each other.
type mailbox struct {
	mu       sync.Mutex
	items    []Message
	handlers map[uint64]Handler
	notify   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{handlers: map[uint64]Handler{}, notify: make(chan struct{}, 1)}
}

// Bus is the in-process message hub. The zero value is not usable; construct
// with New. A Bus is scoped to one orchestrator instance; there is no
// process-wide singleton.
type Bus struct {
	mu        sync.RWMutex
	mailboxes map[string]*mailbox
	nextSub   uint64
	seq       uint64
	dropped   uint64
}

// New constructs an empty bus.
func New() *Bus {
	return &Bus{mailboxes: map[string]*mailbox{}}
}

// Subscribe registers a consumer for agentID. A non-nil handler receives
// messages synchronously at publish time; a nil handler creates a polling
// subscription whose messages queue up for Drain/DrainWait. The returned
// Subscription is required for Unsubscribe.
func (b *Bus) Subscribe(agentID string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	mb, ok := b.mailboxes[agentID]
	if !ok {
		mb = newMailbox()
		b.mailboxes[agentID] = mb
	}
	b.nextSub++
	sub := Subscription{agentID: agentID, id: b.nextSub}
	mb.mu.Lock()
	mb.handlers[sub.id] = handler
	mb.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription. When the last subscription for an
// agent is removed its queue is discarded and later messages are dropped.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mb, ok := b.mailboxes[sub.agentID]
	if !ok {
		return
	}
	mb.mu.Lock()
	delete(mb.handlers, sub.id)
	empty := len(mb.handlers) == 0
	mb.mu.Unlock()
	if empty {
		delete(b.mailboxes, sub.agentID)
	}
}

// Publish delivers msg to its recipient, or to all subscribers when
// Broadcast is set. Messages for agents without an active subscription are
// dropped and counted.
func (b *Bus) Publish(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.seq = atomic.AddUint64(&b.seq, 1)

	b.mu.RLock()
	var targets []*mailbox
	if msg.Broadcast {
		targets = make([]*mailbox, 0, len(b.mailboxes))
		for _, mb := range b.mailboxes {
			targets = append(targets, mb)
		}
	} else if mb, ok := b.mailboxes[msg.To]; ok {
		targets = []*mailbox{mb}
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		atomic.AddUint64(&b.dropped, 1)
		return
	}
	for _, mb := range targets {
		mb.deliver(msg)
	}
}

func (mb *mailbox) deliver(msg Message) {
	mb.mu.Lock()
	var pushed []Handler
	queued := false
	for _, h := range mb.handlers {
		if h == nil {
			queued = true
			continue
		}
		pushed = append(pushed, h)
	}
	if queued {
		mb.items = append(mb.items, msg)
		select {
		case mb.notify <- struct{}{}:
		default:
		}
	}
	mb.mu.Unlock()

	// Handlers run outside the mailbox lock so they may publish.
	for _, h := range pushed {
		h(msg)
	}
}

// Drain returns and clears agentID's queued messages ordered
// priority-then-FIFO. Agents without a polling subscription drain empty.
func (b *Bus) Drain(agentID string) []Message {
	b.mu.RLock()
	mb, ok := b.mailboxes[agentID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	mb.mu.Lock()
	items := mb.items
	mb.items = nil
	mb.mu.Unlock()

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].seq < items[j].seq
	})
	return items
}

// DrainWait blocks until at least one message is queued for agentID or ctx
// is done, then drains. It returns ctx.Err() on cancellation.
func (b *Bus) DrainWait(ctx context.Context, agentID string) ([]Message, error) {
	for {
		if msgs := b.Drain(agentID); len(msgs) > 0 {
			return msgs, nil
		}
		b.mu.RLock()
		mb, ok := b.mailboxes[agentID]
		b.mu.RUnlock()
		if !ok {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-mb.notify:
		}
	}
}

// Dropped returns the count of messages discarded for lack of a subscriber.
func (b *Bus) Dropped() uint64 { return atomic.LoadUint64(&b.dropped) }
