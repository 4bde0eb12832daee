package types

import "time"

// Customer-facing event types
const (
	EventSystem           = "system"
	EventAIResponse       = "ai_response"
	EventAgentMessage     = "agent_message"
	EventAgentAssigned    = "agent_assigned"
	EventHandoffRequested = "handoff_requested"
	EventError            = "error"
)

// Agent-facing event types
const (
	EventAgentStatus        = "agent_status"
	EventNewCustomerWaiting = "new_customer_waiting"
	EventWaitingCustomers   = "waiting_customers"
	EventCustomerAssigned   = "customer_assigned"
	EventCustomerMessage    = "customer_message"
	EventQueueStatus        = "queue_status"
)

// Agent actions received on the agent endpoint
const (
	ActionGetWaitingCustomers = "get_waiting_customers"
	ActionAcceptCustomer      = "accept_customer"
	ActionSendMessage         = "send_message"
	ActionEndChat             = "end_chat"
	ActionTransferCustomer    = "transfer_customer"
	ActionGetQueueStatus      = "get_queue_status"
)

// CustomerInbound is the single message shape accepted on the customer endpoint
type CustomerInbound struct {
	Message string `json:"message"`
}

// CustomerEvent is sent to a customer connection. History is populated only
// on the reconnect event so the widget can restore the prior conversation.
type CustomerEvent struct {
	Type            string    `json:"type"`
	Message         string    `json:"message,omitempty"`
	AgentID         string    `json:"agentId,omitempty"`
	PositionInQueue int       `json:"position_in_queue,omitempty"`
	History         []Message `json:"history,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// AgentAction is received on the agent endpoint
type AgentAction struct {
	Action     string `json:"action"`
	SessionID  string `json:"session_id,omitempty"`
	Message    string `json:"message,omitempty"`
	NewAgentID string `json:"new_agent_id,omitempty"`
}

// AgentEvent is sent to an agent connection
type AgentEvent struct {
	Type         string         `json:"type"`
	SessionID    string         `json:"session_id,omitempty"`
	Message      string         `json:"message,omitempty"`
	Sender       Sender         `json:"sender,omitempty"`
	History      []Message      `json:"history,omitempty"`
	Waiting      []WaitingEntry `json:"waiting,omitempty"`
	WaitingCount int            `json:"waiting_count,omitempty"`
	ActiveChats  int            `json:"active_chats,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// WaitingEntry is one row of the waiting_customers / queue_status payloads
type WaitingEntry struct {
	SessionID   string    `json:"session_id"`
	RequestedAt time.Time `json:"requested_at"`
	Reason      string    `json:"reason,omitempty"`
	Position    int       `json:"position"`
	WaitSeconds float64   `json:"wait_seconds"`
}
