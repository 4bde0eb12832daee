package registry

import (
	"time"

	"github.com/akrin/handoff-backend/internal/types"
)

// ChangeKind classifies a registry mutation
type ChangeKind string

const (
	ChangeSessionCreated    ChangeKind = "session_created"
	ChangeMessageAppended   ChangeKind = "message_appended"
	ChangeStateChanged      ChangeKind = "state_changed"
	ChangeSessionReassigned ChangeKind = "session_reassigned"
)

// ChangeEvent describes one successful registry mutation. Events are
// self-contained so the observer never has to call back into the registry
// while handling one.
type ChangeEvent struct {
	Kind      ChangeKind
	SessionID string

	// Message and its 1-based sequence number, for message_appended
	Message *types.Message
	Seq     int

	// State transition details, for state_changed / session_reassigned
	From        types.SessionState
	To          types.SessionState
	AgentID     string
	PrevAgentID string
	RequestedAt *time.Time
}
