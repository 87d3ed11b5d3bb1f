// Package bus implements the inter-agent message bus: one bounded FIFO
// queue per registered agent, typed subscriptions, broadcast delivery,
// and an optional redacted history ring buffer.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// MessageType is the closed set of message kinds the bus transports.
type MessageType string

const (
	TypeRequest      MessageType = "REQUEST"
	TypeResponse     MessageType = "RESPONSE"
	TypeNotification MessageType = "NOTIFICATION"
	TypeError        MessageType = "ERROR"
)

// AgentMessage is the unit of communication between registered agents.
// ReceiverID is empty for a broadcast delivered via Broadcast.
type AgentMessage struct {
	SenderID      string
	ReceiverID    string
	Type          MessageType
	Content       string
	Timestamp     time.Time
	CorrelationID string
	Metadata      map[string]any
}

// fillDefaults stamps Timestamp and CorrelationID when the caller left
// them zero, matching the send(msg) contract.
func (m *AgentMessage) fillDefaults() {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if m.CorrelationID == "" {
		m.CorrelationID = uuid.NewString()
	}
}

// OverflowPolicy governs what happens when a per-agent queue is full.
type OverflowPolicy string

const (
	// OverflowDropOldest discards the oldest queued message to make room
	// (the bus's historical default).
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	// OverflowDropNew discards the incoming message, leaving the queue
	// untouched.
	OverflowDropNew OverflowPolicy = "drop_new"
	// OverflowBlock makes Send wait until space frees up or ctx is
	// cancelled.
	OverflowBlock OverflowPolicy = "block"
)

// Subscription restricts which message types a receiver accepts and
// optionally filters by predicate.
type Subscription struct {
	Types  map[MessageType]bool
	Filter func(AgentMessage) bool
}

func (s Subscription) accepts(msg AgentMessage) bool {
	if len(s.Types) > 0 && !s.Types[msg.Type] {
		return false
	}
	if s.Filter != nil && !s.Filter(msg) {
		return false
	}
	return true
}
