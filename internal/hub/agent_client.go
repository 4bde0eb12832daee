package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/akrin/handoff-backend/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// AgentClient represents a WebSocket connection from an agent console
type AgentClient struct {
	// Agent ID
	agentID string

	// The hub this client belongs to
	hub *ConnectionHub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	// Logger
	logger zerolog.Logger

	// done channel to signal client shutdown
	done chan struct{}

	// closeOnce ensures send channel is closed only once
	closeOnce sync.Once
}

// NewAgentClient creates a new AgentClient
func NewAgentClient(hub *ConnectionHub, conn *websocket.Conn, agentID string, logger zerolog.Logger) *AgentClient {
	return &AgentClient{
		agentID: agentID,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 64),
		logger:  logger.With().Str("agent_id", agentID).Logger(),
		done:    make(chan struct{}),
	}
}

// readPump pumps messages from the websocket connection to the hub
func (c *AgentClient) readPump() {
	defer func() {
		close(c.done)
		c.hub.unregisterAgent <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.ws.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.ws.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.ws.pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Msg("agent websocket read error")
			}
			break
		}

		c.handleMessage(message)
	}
}

// handleMessage processes an incoming action frame from the agent
func (c *AgentClient) handleMessage(message []byte) {
	var action types.AgentAction
	if err := json.Unmarshal(message, &action); err != nil {
		c.logger.Debug().Err(err).Msg("failed to parse agent action")
		c.sendError("invalid action format")
		return
	}

	if action.Action == "" {
		c.sendError("action is required")
		return
	}

	c.hub.agentInbound <- agentCommand{agentID: c.agentID, action: action}
}

// sendError delivers an error event directly on this connection
func (c *AgentClient) sendError(reason string) {
	event := types.AgentEvent{
		Type:      types.EventError,
		Message:   reason,
		Timestamp: time.Now().UTC(),
	}
	if data, err := json.Marshal(event); err == nil {
		c.safeSend(data)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *AgentClient) writePump() {
	ticker := time.NewTicker(c.hub.ws.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.ws.writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.ws.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *AgentClient) Start() {
	go c.writePump()
	go c.readPump()
}

// Close safely closes the client's send channel (idempotent)
func (c *AgentClient) Close() {
	c.closeOnce.Do(func() {
		defer func() {
			recover() // absorb panic if channel was already closed
		}()
		close(c.send)
	})
}

// safeSend attempts to send a message, recovering from panic if channel is
// closed. A full send buffer means the reader is gone or hopelessly behind,
// so the connection is closed rather than silently dropping events.
func (c *AgentClient) safeSend(data []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn().Msg("agent send buffer full, closing connection")
		c.Close()
		return false
	}
}
