package hub

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/akrin/handoff-backend/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// CustomerClient represents a WebSocket connection from a customer widget
type CustomerClient struct {
	// Session this connection belongs to
	sessionID string

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

// NewCustomerClient creates a new CustomerClient
func NewCustomerClient(hub *ConnectionHub, conn *websocket.Conn, sessionID string, logger zerolog.Logger) *CustomerClient {
	return &CustomerClient{
		sessionID: sessionID,
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 64),
		logger:    logger.With().Str("session_id", sessionID).Logger(),
		done:      make(chan struct{}),
	}
}

// readPump pumps messages from the websocket connection to the hub
func (c *CustomerClient) readPump() {
	defer func() {
		close(c.done)
		c.hub.unregisterCustomer <- c
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
				c.logger.Debug().Err(err).Msg("customer websocket read error")
			}
			break
		}

		c.handleMessage(message)
	}
}

// handleMessage processes an incoming frame from the customer
func (c *CustomerClient) handleMessage(message []byte) {
	var inbound types.CustomerInbound
	if err := json.Unmarshal(message, &inbound); err != nil {
		c.logger.Debug().Err(err).Msg("failed to parse customer message")
		c.sendError("invalid message format")
		return
	}

	if strings.TrimSpace(inbound.Message) == "" {
		c.sendError("message must not be empty")
		return
	}

	c.hub.customerInbound <- customerMessage{sessionID: c.sessionID, text: inbound.Message}
}

// sendError delivers an error event directly on this connection
func (c *CustomerClient) sendError(reason string) {
	event := types.CustomerEvent{
		Type:      types.EventError,
		Message:   reason,
		Timestamp: time.Now().UTC(),
	}
	if data, err := json.Marshal(event); err == nil {
		c.safeSend(data)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *CustomerClient) writePump() {
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
func (c *CustomerClient) Start() {
	go c.writePump()
	go c.readPump()
}

// Close safely closes the client's send channel (idempotent)
func (c *CustomerClient) Close() {
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
func (c *CustomerClient) safeSend(data []byte) (sent bool) {
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
		c.logger.Warn().Msg("customer send buffer full, closing connection")
		c.Close()
		return false
	}
}
