package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/akrin/handoff-backend/internal/queue"
	"github.com/akrin/handoff-backend/internal/registry"
	"github.com/akrin/handoff-backend/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Controller is the slice of the orchestrator the ops surface needs
type Controller interface {
	ForceEnd(sessionID string) error
	Reset() (sessions, agents, queued int)
}

// OpsHandler exposes the internal inspection and control endpoints. These
// sit on the /internal subtree and are not reachable from customer or
// agent clients.
type OpsHandler struct {
	registry   *registry.Registry
	queue      *queue.WaitList
	controller Controller
	logger     zerolog.Logger
}

// NewOpsHandler creates a new OpsHandler
func NewOpsHandler(reg *registry.Registry, wait *queue.WaitList, controller Controller, logger zerolog.Logger) *OpsHandler {
	return &OpsHandler{
		registry:   reg,
		queue:      wait,
		controller: controller,
		logger:     logger.With().Str("component", "ops").Logger(),
	}
}

// GetQueue returns the current wait-list in order
// GET /internal/queue
func (h *OpsHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	snapshot := h.queue.Snapshot()
	entries := make([]types.WaitingEntry, 0, len(snapshot))
	for i, e := range snapshot {
		entries = append(entries, types.WaitingEntry{
			SessionID:   e.SessionID,
			RequestedAt: e.RequestedAt,
			Reason:      e.Reason,
			Position:    i + 1,
			WaitSeconds: time.Since(e.RequestedAt).Seconds(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"waiting": entries,
		"depth":   len(entries),
	})
}

// GetSessions returns summaries of all in-memory sessions
// GET /internal/sessions
func (h *OpsHandler) GetSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.registry.Sessions()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
		"byState":  h.registry.StateBreakdown(),
	})
}

// GetSession returns one session including its full history
// GET /internal/sessions/{sessionId}
func (h *OpsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	sess, err := h.registry.Get(sessionID)
	if err != nil {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess)
}

// EndSession force-ends a session regardless of state or owner
// POST /internal/sessions/{sessionId}/end
func (h *OpsHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	if err := h.controller.ForceEnd(sessionID); err != nil {
		switch {
		case errors.Is(err, types.ErrNotFound):
			http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		case errors.Is(err, types.ErrInvalidState):
			http.Error(w, `{"error":"session already ended"}`, http.StatusConflict)
		default:
			h.logger.Error().Err(err).Str("session_id", sessionID).Msg("force end failed")
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}

	h.logger.Info().Str("session_id", sessionID).Msg("session force-ended via ops")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "session ended"})
}

// GetAgents returns all known agents with their assignments
// GET /internal/agents
func (h *OpsHandler) GetAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.registry.Agents()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"agents": agents,
		"count":  len(agents),
	})
}

// Reset wipes all volatile state
// POST /internal/reset
func (h *OpsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	sessions, agents, queued := h.controller.Reset()

	h.logger.Warn().
		Int("sessions", sessions).
		Int("agents", agents).
		Int("queued", queued).
		Msg("state reset via ops")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":         "in-memory state reset",
		"sessionsCleared": sessions,
		"agentsCleared":   agents,
		"queueCleared":    queued,
	})
}
