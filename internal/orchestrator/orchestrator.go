package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/akrin/handoff-backend/internal/config"
	"github.com/akrin/handoff-backend/internal/metrics"
	"github.com/akrin/handoff-backend/internal/queue"
	"github.com/akrin/handoff-backend/internal/registry"
	"github.com/akrin/handoff-backend/internal/responder"
	"github.com/akrin/handoff-backend/internal/storage"
	"github.com/akrin/handoff-backend/internal/types"
	"github.com/rs/zerolog"
)

const welcomeMessage = "Hi! You're chatting with our automated assistant. " +
	"Ask me anything, or ask for a human at any time."

// Notifier is the outbound delivery surface the orchestrator needs. The
// connection hub satisfies it; tests substitute a recorder.
type Notifier interface {
	SendToCustomer(sessionID string, event types.CustomerEvent) bool
	SendToAgent(agentID string, event types.AgentEvent) bool
	BroadcastToAgents(event types.AgentEvent)
	CustomerConnected(sessionID string) bool
}

// Orchestrator coordinates sessions, the wait-list, the responder and both
// sides of the connection hub. All work touching a session runs on that
// session's worker, so per-session processing is strictly ordered while
// unrelated sessions proceed in parallel.
type Orchestrator struct {
	registry  *registry.Registry
	queue     *queue.WaitList
	notifier  Notifier
	responder responder.Responder
	store     storage.Store
	cfg       *config.Config
	workers   *sessionWorkers
	logger    zerolog.Logger

	// seconds each session spent queued before assignment
	waitMu      sync.Mutex
	waitSeconds map[string]float64
}

// New creates the orchestrator and wires itself as the registry observer
func New(reg *registry.Registry, wait *queue.WaitList, notifier Notifier, resp responder.Responder, store storage.Store, cfg *config.Config, logger zerolog.Logger) *Orchestrator {
	o := &Orchestrator{
		registry:    reg,
		queue:       wait,
		notifier:    notifier,
		responder:   resp,
		store:       store,
		cfg:         cfg,
		workers:     newSessionWorkers(logger),
		logger:      logger,
		waitSeconds: make(map[string]float64),
	}
	reg.SetObserver(o.onRegistryChange)
	return o
}

// HandleCustomerConnect creates the session on first connect and restores
// context on reconnect
func (o *Orchestrator) HandleCustomerConnect(sessionID string) {
	o.workers.submit(sessionID, func() {
		sess, err := o.registry.Get(sessionID)
		if errors.Is(err, types.ErrNotFound) || (err == nil && sess.State == types.StateEnded) {
			if _, err := o.registry.CreateSession(sessionID); err != nil {
				o.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to create session")
				return
			}
			o.sendCustomer(sessionID, types.CustomerEvent{
				Type:    types.EventSystem,
				Message: welcomeMessage,
			})
			return
		}
		if err != nil {
			o.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to load session")
			return
		}

		// Reconnect into a live session: replay the conversation so far,
		// then re-establish state context. sess is a registry copy, so the
		// history slice is safe to hand out.
		switch sess.State {
		case types.StateWaiting:
			o.sendCustomer(sessionID, types.CustomerEvent{
				Type:    types.EventSystem,
				Message: "You're reconnected. You are still in the queue for an agent.",
				History: sess.History,
			})
			o.sendCustomer(sessionID, types.CustomerEvent{
				Type:            types.EventHandoffRequested,
				Message:         "An agent will be with you shortly.",
				PositionInQueue: o.queue.Position(sessionID),
			})
		case types.StateAssigned:
			o.sendCustomer(sessionID, types.CustomerEvent{
				Type:    types.EventSystem,
				Message: "You're reconnected to your conversation.",
				History: sess.History,
			})
			o.sendCustomer(sessionID, types.CustomerEvent{
				Type:    types.EventAgentAssigned,
				AgentID: sess.AssignedAgent,
				Message: "You are connected with " + sess.AssignedAgent + ".",
			})
		default:
			o.sendCustomer(sessionID, types.CustomerEvent{
				Type:    types.EventSystem,
				Message: "Welcome back! How can I help?",
				History: sess.History,
			})
		}
	})
}

// HandleCustomerMessage processes one inbound customer message on the
// session's worker
func (o *Orchestrator) HandleCustomerMessage(sessionID, text string) {
	ok := o.workers.submit(sessionID, func() {
		o.handleCustomerMessage(sessionID, text)
	})
	if !ok {
		o.sendCustomer(sessionID, types.CustomerEvent{
			Type:    types.EventError,
			Message: "too many pending messages, please slow down",
		})
	}
}

// HandleCustomerDisconnect is a delivery-side event only: the session, its
// queue position and its assignment all survive a dropped connection
func (o *Orchestrator) HandleCustomerDisconnect(sessionID string) {
	o.logger.Debug().Str("session_id", sessionID).Msg("customer connection dropped, session retained")
}

func (o *Orchestrator) handleCustomerMessage(sessionID, text string) {
	sess, err := o.registry.Get(sessionID)
	if errors.Is(err, types.ErrNotFound) {
		// Message without a prior connect event; create on the fly
		if sess, err = o.registry.CreateSession(sessionID); err != nil {
			o.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to create session")
			return
		}
	} else if err != nil {
		o.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to load session")
		return
	}

	if sess.State == types.StateEnded {
		o.sendCustomer(sessionID, types.CustomerEvent{
			Type:    types.EventError,
			Message: "this chat has ended, reconnect to start a new one",
		})
		return
	}

	msg := types.Message{Sender: types.SenderCustomer, Body: text, Timestamp: time.Now()}
	if err := o.registry.AppendMessage(sessionID, msg); err != nil {
		o.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to append customer message")
		return
	}

	switch sess.State {
	case types.StateBot:
		o.respondAsBot(sessionID)

	case types.StateWaiting:
		o.sendCustomer(sessionID, types.CustomerEvent{
			Type:            types.EventSystem,
			Message:         "You're in the queue, an agent will see your message when the chat starts.",
			PositionInQueue: o.queue.Position(sessionID),
		})

	case types.StateAssigned:
		delivered := o.notifier.SendToAgent(sess.AssignedAgent, types.AgentEvent{
			Type:      types.EventCustomerMessage,
			SessionID: sessionID,
			Sender:    types.SenderCustomer,
			Message:   text,
			Timestamp: time.Now().UTC(),
		})
		if !delivered {
			o.logger.Warn().
				Str("session_id", sessionID).
				Str("agent_id", sess.AssignedAgent).
				Msg("assigned agent offline, message kept in history")
		}
	}
}

// respondAsBot runs one responder turn for a bot-state session. The call
// happens on the session worker, never under a registry lock; later
// messages for the same session queue behind it in arrival order.
func (o *Orchestrator) respondAsBot(sessionID string) {
	sess, err := o.registry.Get(sessionID)
	if err != nil {
		o.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to load session for responder")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ResponderTimeout)
	reply, err := o.responder.Respond(ctx, sess.History)
	cancel()

	if err != nil {
		o.logger.Warn().Err(err).Str("session_id", sessionID).Msg("responder failed, escalating to human")
		o.escalate(sessionID, "assistant unavailable")
		return
	}
	if reply.CannotResolve {
		metrics.Get().RecordAIGiveUp()
		o.escalate(sessionID, reply.Reason)
		return
	}

	botMsg := types.Message{Sender: types.SenderBot, Body: reply.Text, Timestamp: time.Now()}
	if err := o.registry.AppendMessage(sessionID, botMsg); err != nil {
		// Session may have been force-ended while the responder ran
		o.logger.Warn().Err(err).Str("session_id", sessionID).Msg("dropping bot reply")
		return
	}
	metrics.Get().RecordAIReply()

	o.sendCustomer(sessionID, types.CustomerEvent{
		Type:    types.EventAIResponse,
		Message: reply.Text,
	})
}

// escalate moves a bot session into the waiting queue and notifies both
// sides. Safe to call on a session that is already waiting.
func (o *Orchestrator) escalate(sessionID, reason string) {
	err := o.registry.Transition(sessionID, types.StateBot, types.StateWaiting, "", reason)
	if err != nil && !errors.Is(err, types.ErrConflict) {
		o.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to escalate session")
		return
	}

	sess, gerr := o.registry.Get(sessionID)
	if gerr != nil || sess.State != types.StateWaiting || sess.RequestedAt == nil {
		return
	}

	position := o.queue.Enqueue(sessionID, sess.Reason, *sess.RequestedAt)

	o.sendCustomer(sessionID, types.CustomerEvent{
		Type:            types.EventHandoffRequested,
		Message:         "I'm connecting you with a human agent. You are number " + fmt.Sprint(position) + " in the queue.",
		PositionInQueue: position,
	})

	if err == nil {
		entries := o.waitingEntries()
		o.notifier.BroadcastToAgents(types.AgentEvent{
			Type:         types.EventNewCustomerWaiting,
			SessionID:    sessionID,
			Message:      sess.Reason,
			Waiting:      entries,
			WaitingCount: len(entries),
			Timestamp:    time.Now().UTC(),
		})
		o.broadcastQueueStatus()
	}
}

// onRegistryChange fans a registry mutation out to metrics and persistence.
// Called synchronously after the mutation, outside registry locks; storage
// writes are fire-and-forget.
func (o *Orchestrator) onRegistryChange(ev registry.ChangeEvent) {
	m := metrics.Get()

	switch ev.Kind {
	case registry.ChangeMessageAppended:
		m.RecordMessage(ev.Message.Sender)
		record := types.MessageRecord{
			SessionID: ev.SessionID,
			Seq:       fmt.Sprintf("%06d", ev.Seq),
			Sender:    string(ev.Message.Sender),
			Body:      ev.Message.Body,
			Timestamp: ev.Message.Timestamp.UTC().Format(time.RFC3339),
		}
		go func() {
			if err := o.store.SaveMessageRecord(record); err != nil {
				o.logger.Error().Err(err).Str("session_id", record.SessionID).Msg("failed to save message record")
			}
		}()

	case registry.ChangeStateChanged:
		switch ev.To {
		case types.StateWaiting:
			m.RecordHandoffRequested()
		case types.StateEnded:
			m.RecordSessionEnded()
		}
		o.refreshGauges()
		o.persistSession(ev.SessionID)

	case registry.ChangeSessionReassigned:
		m.RecordTransfer()
		o.persistSession(ev.SessionID)

	case registry.ChangeSessionCreated:
		o.refreshGauges()
		o.persistSession(ev.SessionID)
	}
}

func (o *Orchestrator) refreshGauges() {
	m := metrics.Get()
	m.SetQueueDepth(o.queue.Len())
	m.UpdateSessionStats(o.registry.StateBreakdown())
}

// persistSession writes the session summary row asynchronously
func (o *Orchestrator) persistSession(sessionID string) {
	sess, err := o.registry.Get(sessionID)
	if err != nil {
		return
	}

	record := types.SessionRecord{
		DateKey:      sess.CreatedAt.UTC().Format("2006-01-02"),
		SessionID:    sess.ID,
		State:        string(sess.State),
		AgentID:      sess.AssignedAgent,
		Reason:       sess.Reason,
		CreatedAt:    sess.CreatedAt.UTC().Format(time.RFC3339),
		MessageCount: len(sess.History),
		HandedOff:    sess.RequestedAt != nil,
		WaitTime:     o.waitTime(sessionID),
	}
	if sess.RequestedAt != nil {
		record.RequestedAt = sess.RequestedAt.UTC().Format(time.RFC3339)
	}
	if sess.EndedAt != nil {
		record.EndedAt = sess.EndedAt.UTC().Format(time.RFC3339)
	}

	go func() {
		if err := o.store.SaveSessionRecord(record); err != nil {
			o.logger.Error().Err(err).Str("session_id", record.SessionID).Msg("failed to save session record")
		}
	}()
}

func (o *Orchestrator) recordWaitTime(sessionID string, requestedAt time.Time) {
	o.waitMu.Lock()
	o.waitSeconds[sessionID] = time.Since(requestedAt).Seconds()
	o.waitMu.Unlock()
}

func (o *Orchestrator) waitTime(sessionID string) float64 {
	o.waitMu.Lock()
	defer o.waitMu.Unlock()
	return o.waitSeconds[sessionID]
}

func (o *Orchestrator) forgetWaitTime(sessionID string) {
	o.waitMu.Lock()
	delete(o.waitSeconds, sessionID)
	o.waitMu.Unlock()
}

func (o *Orchestrator) sendCustomer(sessionID string, event types.CustomerEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	o.notifier.SendToCustomer(sessionID, event)
}
