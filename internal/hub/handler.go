package hub

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// upgrader is the WebSocket upgrader shared by both endpoints
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin enforcement happens at the CORS layer in front of the router
		return true
	},
}

// ChatHandler handles WebSocket upgrade requests from customer widgets
type ChatHandler struct {
	hub    *ConnectionHub
	logger zerolog.Logger
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(hub *ConnectionHub, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		hub:    hub,
		logger: logger,
	}
}

// ServeHTTP upgrades a customer connection. The session ID comes from the
// URL path; when the widget connects without one, a fresh ID is minted.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade customer connection")
		return
	}

	client := NewCustomerClient(h.hub, conn, sessionID, h.logger)
	h.hub.registerCustomer <- client
	client.Start()
}

// AgentHandler handles WebSocket upgrade requests from agent consoles
type AgentHandler struct {
	hub    *ConnectionHub
	logger zerolog.Logger
}

// NewAgentHandler creates a new AgentHandler
func NewAgentHandler(hub *ConnectionHub, logger zerolog.Logger) *AgentHandler {
	return &AgentHandler{
		hub:    hub,
		logger: logger,
	}
}

// ServeHTTP upgrades an agent connection. Agent identity is taken from the
// URL path; callers are authenticated upstream.
func (h *AgentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agent_id")
	if agentID == "" {
		http.Error(w, "agent_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade agent connection")
		return
	}

	client := NewAgentClient(h.hub, conn, agentID, h.logger)
	h.hub.registerAgent <- client
	client.Start()
}
