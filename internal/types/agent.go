package types

import "time"

// AgentConnectionStatus represents whether a live connection exists for an agent
type AgentConnectionStatus string

const (
	AgentOnline  AgentConnectionStatus = "online"
	AgentOffline AgentConnectionStatus = "offline"
)

// Agent represents a human operator known to the registry. The identity is
// supplied by the connecting client and assumed pre-authenticated upstream.
// Sessions assigned to an agent survive a disconnect; the agent re-attaches
// on reconnect using the same id.
type Agent struct {
	ID               string                `json:"agentId"`
	ConnectionStatus AgentConnectionStatus `json:"connectionStatus"`
	AssignedSessions []string              `json:"assignedSessions"` // session ids, back-references only
	FirstSeen        time.Time             `json:"firstSeen"`
	LastSeen         time.Time             `json:"lastSeen"`
}
