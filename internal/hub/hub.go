package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/akrin/handoff-backend/internal/config"
	"github.com/akrin/handoff-backend/internal/metrics"
	"github.com/akrin/handoff-backend/internal/types"
	"github.com/rs/zerolog"
)

// EventHandler receives parsed inbound traffic and connection lifecycle
// notifications. The orchestrator implements this; calls are made from the
// hub's run loop, so implementations must not block for long.
type EventHandler interface {
	HandleCustomerConnect(sessionID string)
	HandleCustomerMessage(sessionID, text string)
	HandleCustomerDisconnect(sessionID string)
	HandleAgentConnect(agentID string)
	HandleAgentAction(agentID string, action types.AgentAction)
	HandleAgentDisconnect(agentID string)
}

// customerMessage is an inbound chat message tagged with its session
type customerMessage struct {
	sessionID string
	text      string
}

// agentCommand is an inbound agent action tagged with its agent
type agentCommand struct {
	agentID string
	action  types.AgentAction
}

// wsSettings holds the connection tuning shared by all clients
type wsSettings struct {
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
}

// ConnectionHub maintains the active customer and agent WebSocket connections
// and routes their traffic to the event handler. Delivery is keyed by
// sessionID for customers and agentID for agents; a reconnect with the same
// key replaces the previous connection.
type ConnectionHub struct {
	customers map[string]*CustomerClient // sessionID -> client
	agents    map[string]*AgentClient    // agentID -> client

	registerCustomer   chan *CustomerClient
	unregisterCustomer chan *CustomerClient
	registerAgent      chan *AgentClient
	unregisterAgent    chan *AgentClient

	customerInbound chan customerMessage
	agentInbound    chan agentCommand

	mu      sync.RWMutex
	ws      wsSettings
	handler EventHandler
	logger  zerolog.Logger
}

// NewConnectionHub creates a new ConnectionHub
func NewConnectionHub(cfg *config.Config, logger zerolog.Logger) *ConnectionHub {
	return &ConnectionHub{
		customers:          make(map[string]*CustomerClient),
		agents:             make(map[string]*AgentClient),
		registerCustomer:   make(chan *CustomerClient),
		unregisterCustomer: make(chan *CustomerClient),
		registerAgent:      make(chan *AgentClient),
		unregisterAgent:    make(chan *AgentClient),
		customerInbound:    make(chan customerMessage, 256),
		agentInbound:       make(chan agentCommand, 256),
		ws: wsSettings{
			writeWait:      cfg.WSWriteTimeout,
			pongWait:       cfg.PongWait,
			pingPeriod:     cfg.PingPeriod,
			maxMessageSize: cfg.MaxMessageSize,
		},
		logger: logger,
	}
}

// SetHandler wires the event handler. Must be called before Run.
func (h *ConnectionHub) SetHandler(handler EventHandler) {
	h.handler = handler
}

// Run starts the hub's main loop
func (h *ConnectionHub) Run() {
	m := metrics.Get()

	for {
		select {
		case client := <-h.registerCustomer:
			h.mu.Lock()
			// Replace existing connection for the same session if any
			if existing, ok := h.customers[client.sessionID]; ok {
				existing.Close()
			}
			h.customers[client.sessionID] = client
			total := len(h.customers)
			h.mu.Unlock()

			m.RecordCustomerConnect()
			h.logger.Debug().
				Str("session_id", client.sessionID).
				Int("total_customers", total).
				Msg("customer connected")

			h.handler.HandleCustomerConnect(client.sessionID)

		case client := <-h.unregisterCustomer:
			h.mu.Lock()
			gone := false
			if existing, ok := h.customers[client.sessionID]; ok && existing == client {
				delete(h.customers, client.sessionID)
				client.Close()
				gone = true
			}
			total := len(h.customers)
			h.mu.Unlock()

			if gone {
				m.RecordCustomerDisconnect()
				h.logger.Debug().
					Str("session_id", client.sessionID).
					Int("total_customers", total).
					Msg("customer disconnected")

				h.handler.HandleCustomerDisconnect(client.sessionID)
			}

		case client := <-h.registerAgent:
			h.mu.Lock()
			if existing, ok := h.agents[client.agentID]; ok {
				existing.Close()
			}
			h.agents[client.agentID] = client
			total := len(h.agents)
			h.mu.Unlock()

			m.RecordAgentConnect()
			h.logger.Debug().
				Str("agent_id", client.agentID).
				Int("total_agents", total).
				Msg("agent connected")

			h.handler.HandleAgentConnect(client.agentID)

		case client := <-h.unregisterAgent:
			h.mu.Lock()
			gone := false
			if existing, ok := h.agents[client.agentID]; ok && existing == client {
				delete(h.agents, client.agentID)
				client.Close()
				gone = true
			}
			total := len(h.agents)
			h.mu.Unlock()

			if gone {
				m.RecordAgentDisconnect()
				h.logger.Debug().
					Str("agent_id", client.agentID).
					Int("total_agents", total).
					Msg("agent disconnected")

				h.handler.HandleAgentDisconnect(client.agentID)
			}

		case msg := <-h.customerInbound:
			h.handler.HandleCustomerMessage(msg.sessionID, msg.text)

		case cmd := <-h.agentInbound:
			h.handler.HandleAgentAction(cmd.agentID, cmd.action)
		}
	}
}

// SendToCustomer delivers an event to the customer of the given session.
// Returns false if the customer is not connected or the send buffer is full.
func (h *ConnectionHub) SendToCustomer(sessionID string, event types.CustomerEvent) bool {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal customer event")
		return false
	}

	h.mu.RLock()
	client, ok := h.customers[sessionID]
	h.mu.RUnlock()

	if !ok {
		return false
	}
	return client.safeSend(data)
}

// SendToAgent delivers an event to a specific agent
func (h *ConnectionHub) SendToAgent(agentID string, event types.AgentEvent) bool {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal agent event")
		return false
	}

	h.mu.RLock()
	client, ok := h.agents[agentID]
	h.mu.RUnlock()

	if !ok {
		return false
	}
	return client.safeSend(data)
}

// BroadcastToAgents delivers an event to every connected agent
func (h *ConnectionHub) BroadcastToAgents(event types.AgentEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal agent event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.agents {
		client.safeSend(data)
	}
}

// CustomerConnected reports whether a customer connection exists for the session
func (h *ConnectionHub) CustomerConnected(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.customers[sessionID]
	return ok
}

// AgentConnected reports whether the agent has a live connection
func (h *ConnectionHub) AgentConnected(agentID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.agents[agentID]
	return ok
}

// CustomerCount returns the number of connected customers
func (h *ConnectionHub) CustomerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.customers)
}

// AgentCount returns the number of connected agents
func (h *ConnectionHub) AgentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.agents)
}

// AgentIDs returns the IDs of all connected agents
func (h *ConnectionHub) AgentIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.agents))
	for id := range h.agents {
		ids = append(ids, id)
	}
	return ids
}

// DisconnectCustomer closes the customer connection for the session, if any
func (h *ConnectionHub) DisconnectCustomer(sessionID string) bool {
	h.mu.Lock()
	client, ok := h.customers[sessionID]
	if ok {
		delete(h.customers, sessionID)
		client.Close()
	}
	h.mu.Unlock()

	if ok {
		metrics.Get().RecordCustomerDisconnect()
		h.logger.Info().Str("session_id", sessionID).Msg("customer force-disconnected")
	}
	return ok
}
