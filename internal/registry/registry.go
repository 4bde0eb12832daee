package registry

import (
	"sync"
	"time"

	"github.com/akrin/handoff-backend/internal/types"
	"github.com/rs/zerolog"
)

// Registry owns the canonical state of every chat session and every known
// agent. All access goes through its methods; no other component reaches
// into its storage. The registry performs no network I/O — every
// successful mutation is reported to a single observer (the orchestrator)
// which handles fan-out and persistence.
type Registry struct {
	sessions map[string]*types.Session
	agents   map[string]*types.Agent
	mu       sync.RWMutex
	observer func(ChangeEvent)
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*types.Session),
		agents:   make(map[string]*types.Agent),
		logger:   logger,
	}
}

// SetObserver wires the change observer. Set once at startup, before any
// traffic; the registry calls it synchronously after each successful
// mutation, outside the registry lock, with a self-contained event.
func (r *Registry) SetObserver(fn func(ChangeEvent)) {
	r.observer = fn
}

func (r *Registry) notify(ev ChangeEvent) {
	if r.observer != nil {
		r.observer(ev)
	}
}

// CreateSession creates a session in state bot for the given id. The id is
// the client-supplied opaque token from the connection path.
func (r *Registry) CreateSession(sessionID string) (types.Session, error) {
	r.mu.Lock()

	if existing, ok := r.sessions[sessionID]; ok && existing.State != types.StateEnded {
		r.mu.Unlock()
		return types.Session{}, types.ErrAlreadyExists
	}

	s := &types.Session{
		ID:        sessionID,
		State:     types.StateBot,
		History:   make([]types.Message, 0, 8),
		CreatedAt: time.Now(),
	}
	r.sessions[sessionID] = s
	copied := cloneSession(s)
	r.mu.Unlock()

	r.logger.Debug().Str("session_id", sessionID).Msg("session created")
	r.notify(ChangeEvent{Kind: ChangeSessionCreated, SessionID: sessionID})
	return copied, nil
}

// Get returns a copy of the session, including its history
func (r *Registry) Get(sessionID string) (types.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return types.Session{}, types.ErrNotFound
	}
	return cloneSession(s), nil
}

// AppendMessage appends one turn to a session's history. History is
// append-only; ended sessions are read-only.
func (r *Registry) AppendMessage(sessionID string, msg types.Message) error {
	r.mu.Lock()

	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return types.ErrNotFound
	}
	if s.State == types.StateEnded {
		r.mu.Unlock()
		return types.ErrInvalidState
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.History = append(s.History, msg)
	seq := len(s.History)
	r.mu.Unlock()

	r.notify(ChangeEvent{
		Kind:      ChangeMessageAppended,
		SessionID: sessionID,
		Message:   &msg,
		Seq:       seq,
	})
	return nil
}

// Transition is a compare-and-swap on session state: it succeeds only if
// the current state equals from. This is the mechanism that makes
// concurrent accept attempts safe — at most one caller wins.
//
// agentID is required when to is assigned and ignored otherwise. reason is
// recorded when to is waiting.
func (r *Registry) Transition(sessionID string, from, to types.SessionState, agentID, reason string) error {
	r.mu.Lock()

	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return types.ErrNotFound
	}
	if s.State != from {
		r.mu.Unlock()
		return types.ErrConflict
	}

	prevAgent := s.AssignedAgent
	now := time.Now()

	switch to {
	case types.StateWaiting:
		s.RequestedAt = &now
		s.Reason = reason
		s.AssignedAgent = ""
	case types.StateAssigned:
		if agentID == "" {
			r.mu.Unlock()
			return types.ErrInvalidState
		}
		s.AssignedAgent = agentID
		r.assignLocked(agentID, sessionID)
	case types.StateEnded:
		s.EndedAt = &now
		if s.AssignedAgent != "" {
			r.releaseLocked(s.AssignedAgent, sessionID)
		}
		s.AssignedAgent = ""
	}
	s.State = to

	requestedAt := s.RequestedAt
	r.mu.Unlock()

	r.logger.Debug().
		Str("session_id", sessionID).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("agent_id", agentID).
		Msg("session state transition")

	r.notify(ChangeEvent{
		Kind:        ChangeStateChanged,
		SessionID:   sessionID,
		From:        from,
		To:          to,
		AgentID:     agentID,
		PrevAgentID: prevAgent,
		RequestedAt: requestedAt,
	})
	return nil
}

// Reassign moves an assigned session from one agent to another without
// passing back through waiting. The target agent gets a placeholder
// offline record if it is not known yet, so the assignment is valid before
// that agent's next connect.
func (r *Registry) Reassign(sessionID, fromAgent, toAgent string) error {
	r.mu.Lock()

	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return types.ErrNotFound
	}
	if s.State != types.StateAssigned {
		r.mu.Unlock()
		return types.ErrInvalidState
	}
	if s.AssignedAgent != fromAgent {
		r.mu.Unlock()
		return types.ErrForbidden
	}

	r.releaseLocked(fromAgent, sessionID)
	r.ensureAgentLocked(toAgent)
	r.assignLocked(toAgent, sessionID)
	s.AssignedAgent = toAgent
	r.mu.Unlock()

	r.logger.Info().
		Str("session_id", sessionID).
		Str("from_agent", fromAgent).
		Str("to_agent", toAgent).
		Msg("session transferred")

	r.notify(ChangeEvent{
		Kind:        ChangeSessionReassigned,
		SessionID:   sessionID,
		From:        types.StateAssigned,
		To:          types.StateAssigned,
		AgentID:     toAgent,
		PrevAgentID: fromAgent,
	})
	return nil
}

// EnsureAgent creates a placeholder offline agent record if the id is unknown
func (r *Registry) EnsureAgent(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureAgentLocked(agentID)
}

// SetAgentConnected flips an agent's connection status. The agent record
// and its assignments survive a disconnect.
func (r *Registry) SetAgentConnected(agentID string, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureAgentLocked(agentID)
	a := r.agents[agentID]
	if online {
		a.ConnectionStatus = types.AgentOnline
	} else {
		a.ConnectionStatus = types.AgentOffline
	}
	a.LastSeen = time.Now()
}

// AgentSessions returns the ids of sessions currently assigned to an agent
func (r *Registry) AgentSessions(agentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[agentID]
	if !ok {
		return nil
	}
	out := make([]string, len(a.AssignedSessions))
	copy(out, a.AssignedSessions)
	return out
}

// GetAgent returns a copy of the agent record
func (r *Registry) GetAgent(agentID string) (types.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[agentID]
	if !ok {
		return types.Agent{}, types.ErrNotFound
	}
	return cloneAgent(a), nil
}

// Sessions returns summaries of all sessions
func (r *Registry) Sessions() []types.SessionSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.SessionSummary, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, types.SessionSummary{
			ID:            s.ID,
			State:         s.State,
			AssignedAgent: s.AssignedAgent,
			MessageCount:  len(s.History),
			CreatedAt:     s.CreatedAt,
			RequestedAt:   s.RequestedAt,
			Reason:        s.Reason,
		})
	}
	return out
}

// Agents returns copies of all agent records
func (r *Registry) Agents() []types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, cloneAgent(a))
	}
	return out
}

// StateBreakdown counts sessions per state, for metrics and ops
func (r *Registry) StateBreakdown() map[types.SessionState]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[types.SessionState]int, 4)
	for _, s := range r.sessions {
		out[s.State]++
	}
	return out
}

// EvictEnded removes sessions that ended longer than retention ago and
// returns how many were evicted
func (r *Registry) EvictEnded(retention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	threshold := time.Now().Add(-retention)
	evicted := 0
	for id, s := range r.sessions {
		if s.State == types.StateEnded && s.EndedAt != nil && s.EndedAt.Before(threshold) {
			delete(r.sessions, id)
			evicted++
		}
	}
	return evicted
}

// Wipe clears all in-memory sessions and agents, returning counts
func (r *Registry) Wipe() (sessions, agents int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions = len(r.sessions)
	agents = len(r.agents)
	r.sessions = make(map[string]*types.Session)
	r.agents = make(map[string]*types.Agent)
	return sessions, agents
}

func (r *Registry) ensureAgentLocked(agentID string) {
	if _, ok := r.agents[agentID]; ok {
		return
	}
	now := time.Now()
	r.agents[agentID] = &types.Agent{
		ID:               agentID,
		ConnectionStatus: types.AgentOffline,
		AssignedSessions: make([]string, 0, 4),
		FirstSeen:        now,
		LastSeen:         now,
	}
}

func (r *Registry) assignLocked(agentID, sessionID string) {
	r.ensureAgentLocked(agentID)
	a := r.agents[agentID]
	for _, id := range a.AssignedSessions {
		if id == sessionID {
			return
		}
	}
	a.AssignedSessions = append(a.AssignedSessions, sessionID)
}

func (r *Registry) releaseLocked(agentID, sessionID string) {
	a, ok := r.agents[agentID]
	if !ok {
		return
	}
	for i, id := range a.AssignedSessions {
		if id == sessionID {
			a.AssignedSessions = append(a.AssignedSessions[:i], a.AssignedSessions[i+1:]...)
			return
		}
	}
}

func cloneSession(s *types.Session) types.Session {
	out := *s
	out.History = make([]types.Message, len(s.History))
	copy(out.History, s.History)
	return out
}

func cloneAgent(a *types.Agent) types.Agent {
	out := *a
	out.AssignedSessions = make([]string, len(a.AssignedSessions))
	copy(out.AssignedSessions, a.AssignedSessions)
	return out
}
