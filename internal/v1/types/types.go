// Package types holds the wire and domain types shared across the broker:
// message envelopes, priorities, sessions, and the small set of interfaces
// that let the upper layers (transport, messagecore, room) depend on each
// other's contracts without importing each other's packages.
package types

import "time"

// Priority governs queue ordering. Dequeue is strictly by priority, FIFO
// within a priority level.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityNormal   Priority = "NORMAL"
	PriorityLow      Priority = "LOW"
	PriorityBulk     Priority = "BULK"
)

// Levels lists priorities highest-first; index is used as the queue level.
var Levels = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow, PriorityBulk}

// Level returns the queue index for p (0 = highest), or -1 if unknown.
func (p Priority) Level() int {
	for i, l := range Levels {
		if l == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool { return p.Level() >= 0 }

// ToAll is the recipient sentinel meaning "every session of every other client".
const ToAll = "all"

// ClientID identifies an agent identity. A client may hold many Sessions.
type ClientID string

// RoomID identifies a think-tank collaboration room.
type RoomID string

// ConnectionID identifies one live Session, broker-generated.
type ConnectionID string

// Message is the canonical routing unit of the broker.
type Message struct {
	ID         string         `json:"id"`
	Seq        int64          `json:"seq"`
	FromClient ClientID       `json:"from_client"`
	To         string         `json:"to"`
	Type       string         `json:"type"`
	Priority   Priority       `json:"priority"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
	TTLSeconds int            `json:"ttl_seconds,omitempty"`
	ReplyTo    string         `json:"reply_to,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Status     string         `json:"status,omitempty"`
}

// RequiresAck reports whether delivery of this message type needs an ack
// and a Pending Delivery record.
func RequiresAck(msgType string) bool {
	switch msgType {
	case "command", "request":
		return true
	default:
		return false
	}
}

// Session is one live connection belonging to one client.
type Session struct {
	ConnectionID    ConnectionID
	ClientID        ClientID
	ConnectedAt     time.Time
	LastHeartbeat   time.Time
	SubscriptionSeq int64
}

// PendingDelivery tracks an unacked delivery of a message to a recipient.
type PendingDelivery struct {
	MessageID   string
	Recipient   ClientID
	Attempts    int
	NextAttempt time.Time
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Sender is the narrow interface the message pipeline uses to push a frame
// to one live session, without depending on the transport package.
type Sender interface {
	// SendFrame delivers a framed payload to this session with the given
	// priority; returns false if the session's outbound buffer is full and
	// the frame was dropped (backpressure).
	SendFrame(priority Priority, kind string, payload any) bool
}

// Recipient describes one deliverable target: a client identity bound to
// one live connection.
type Recipient struct {
	ClientID     ClientID
	ConnectionID ConnectionID
	Sender       Sender
}

// RecipientSource resolves message recipients without the message pipeline
// needing to know about the Session Registry's internal sharding.
type RecipientSource interface {
	// SessionsFor returns all live sessions for a specific client id.
	SessionsFor(id ClientID) []Recipient
	// AllExcept returns all live sessions belonging to any client other
	// than excludeClient (used for to=all broadcasts).
	AllExcept(excludeClient ClientID) []Recipient
}

// FailureNotifier is invoked when a Pending Delivery is exhausted so the
// sender can be told their message was never delivered.
type FailureNotifier interface {
	NotifyDeliveryFailed(sender ClientID, messageID string)
}
