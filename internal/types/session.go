package types

import "time"

// SessionState represents the lifecycle state of a chat session
type SessionState string

const (
	StateBot      SessionState = "bot"      // automated responder active
	StateWaiting  SessionState = "waiting"  // queued for a human agent
	StateAssigned SessionState = "assigned" // bound to exactly one agent
	StateEnded    SessionState = "ended"    // terminal, read-only
)

// Sender identifies who produced a message turn
type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderBot      Sender = "bot"
	SenderAgent    Sender = "agent"
)

// Message is one turn in a session. Immutable once appended.
type Message struct {
	Sender    Sender    `json:"sender"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// Session represents one customer conversation, spanning bot and human phases
type Session struct {
	ID            string       `json:"sessionId"`
	State         SessionState `json:"state"`
	AssignedAgent string       `json:"assignedAgent,omitempty"` // set only while State == StateAssigned
	History       []Message    `json:"history"`
	CreatedAt     time.Time    `json:"createdAt"`
	RequestedAt   *time.Time   `json:"requestedAt,omitempty"` // set when the session enters waiting
	Reason        string       `json:"reason,omitempty"`      // free-text handoff reason
	EndedAt       *time.Time   `json:"endedAt,omitempty"`
}

// SessionSummary is the lightweight view used by ops endpoints and
// agent-facing listings; it never carries the full history.
type SessionSummary struct {
	ID            string       `json:"sessionId"`
	State         SessionState `json:"state"`
	AssignedAgent string       `json:"assignedAgent,omitempty"`
	MessageCount  int          `json:"messageCount"`
	CreatedAt     time.Time    `json:"createdAt"`
	RequestedAt   *time.Time   `json:"requestedAt,omitempty"`
	Reason        string       `json:"reason,omitempty"`
}

// QueueEntry is what the queue manager holds per waiting session: the id
// plus the fields needed for ordering and wait-time display, never a copy
// of session state.
type QueueEntry struct {
	SessionID   string    `json:"sessionId"`
	RequestedAt time.Time `json:"requestedAt"`
	Reason      string    `json:"reason,omitempty"`
}

// QueuePosition is a 1-based position in the wait-list
type QueuePosition = int
