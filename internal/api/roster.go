package api

import (
	"encoding/json"
	"net/http"

	"github.com/akrin/handoff-backend/internal/registry"
	"github.com/rs/zerolog"
)

// RosterEntry represents a single agent in the roster payload
type RosterEntry struct {
	AgentID string `json:"agentId"`
}

// RosterHandler pre-registers agent identities so transfers can target
// agents that have never connected yet
type RosterHandler struct {
	registry *registry.Registry
	logger   zerolog.Logger
}

// NewRosterHandler creates a new RosterHandler
func NewRosterHandler(reg *registry.Registry, logger zerolog.Logger) *RosterHandler {
	return &RosterHandler{
		registry: reg,
		logger:   logger.With().Str("component", "roster").Logger(),
	}
}

// HandleRoster handles POST /internal/agents/roster
func (h *RosterHandler) HandleRoster(w http.ResponseWriter, r *http.Request) {
	var roster []RosterEntry
	if err := json.NewDecoder(r.Body).Decode(&roster); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	registered := 0
	for _, entry := range roster {
		if entry.AgentID == "" {
			continue
		}
		h.registry.EnsureAgent(entry.AgentID)
		registered++
	}

	h.logger.Info().Int("registered", registered).Msg("roster received")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]int{"registered": registered})
}
