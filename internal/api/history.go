package api

import (
	"encoding/json"
	"net/http"

	"github.com/akrin/handoff-backend/internal/storage"
	"github.com/akrin/handoff-backend/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// HistoryHandler serves persisted transcripts and session records from the
// durable store. Unlike the ops endpoints this survives process restarts.
type HistoryHandler struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewHistoryHandler creates a new HistoryHandler
func NewHistoryHandler(store storage.Store, logger zerolog.Logger) *HistoryHandler {
	return &HistoryHandler{
		store:  store,
		logger: logger.With().Str("component", "history_handler").Logger(),
	}
}

// GetTranscript returns the persisted transcript of a session
// GET /internal/sessions/{sessionId}/transcript
func (h *HistoryHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}

	records, err := h.store.GetSessionMessages(sessionID)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to get transcript")
		http.Error(w, "failed to retrieve transcript", http.StatusInternalServerError)
		return
	}

	if records == nil {
		records = []types.MessageRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// GetArchive returns persisted session records for a date
// GET /internal/sessions/archive?date=YYYY-MM-DD
func (h *HistoryHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		http.Error(w, "date query parameter is required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	records, err := h.store.GetSessionsByDate(date)
	if err != nil {
		h.logger.Error().Err(err).Str("date", date).Msg("failed to get session archive")
		http.Error(w, "failed to retrieve sessions", http.StatusInternalServerError)
		return
	}

	if records == nil {
		records = []types.SessionRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// GetAgentSessions returns persisted session records handled by an agent
// on a specific date
// GET /internal/agents/{agentId}/sessions?date=YYYY-MM-DD
func (h *HistoryHandler) GetAgentSessions(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if agentID == "" {
		http.Error(w, "agentId is required", http.StatusBadRequest)
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		http.Error(w, "date query parameter is required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	records, err := h.store.GetAgentSessionsByDate(agentID, date)
	if err != nil {
		h.logger.Error().Err(err).
			Str("agent_id", agentID).
			Str("date", date).
			Msg("failed to get agent sessions")
		http.Error(w, "failed to retrieve sessions", http.StatusInternalServerError)
		return
	}

	if records == nil {
		records = []types.SessionRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// WipeStorage truncates all DynamoDB tables
// POST /internal/wipe-storage
func (h *HistoryHandler) WipeStorage(w http.ResponseWriter, r *http.Request) {
	if err := h.store.TruncateAll(); err != nil {
		h.logger.Error().Err(err).Msg("failed to truncate storage tables")
		http.Error(w, `{"error":"failed to truncate storage"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info().Msg("storage tables truncated")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "storage tables truncated"})
}
