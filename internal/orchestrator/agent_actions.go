package orchestrator

import (
	"errors"
	"strings"
	"time"

	"github.com/akrin/handoff-backend/internal/metrics"
	"github.com/akrin/handoff-backend/internal/types"
)

// HandleAgentConnect marks the agent online and replays its working state:
// current status, the waiting queue, and every session still assigned to it
func (o *Orchestrator) HandleAgentConnect(agentID string) {
	o.registry.SetAgentConnected(agentID, true)

	assigned := o.registry.AgentSessions(agentID)
	o.notifier.SendToAgent(agentID, types.AgentEvent{
		Type:         types.EventAgentStatus,
		Message:      "connected",
		ActiveChats:  len(assigned),
		WaitingCount: o.queue.Len(),
		Timestamp:    time.Now().UTC(),
	})
	o.notifier.SendToAgent(agentID, o.waitingCustomersEvent())

	// Re-attach sessions that survived a disconnect
	for _, sessionID := range assigned {
		sess, err := o.registry.Get(sessionID)
		if err != nil {
			continue
		}
		o.notifier.SendToAgent(agentID, types.AgentEvent{
			Type:      types.EventCustomerAssigned,
			SessionID: sessionID,
			History:   sess.History,
			Timestamp: time.Now().UTC(),
		})
	}
}

// HandleAgentDisconnect marks the agent offline. Its assignments stay put;
// customers keep their agent across the gap.
func (o *Orchestrator) HandleAgentDisconnect(agentID string) {
	o.registry.SetAgentConnected(agentID, false)
}

// HandleAgentAction queues one parsed agent action on the agent's worker.
// Actions from one agent run in order; the hub loop never waits on a
// session whose worker is mid-responder-call.
func (o *Orchestrator) HandleAgentAction(agentID string, action types.AgentAction) {
	ok := o.workers.submit("agent:"+agentID, func() {
		o.dispatchAgentAction(agentID, action)
	})
	if !ok {
		o.sendAgentError(agentID, action.SessionID, "too many pending actions, please slow down")
	}
}

func (o *Orchestrator) dispatchAgentAction(agentID string, action types.AgentAction) {
	switch action.Action {
	case types.ActionGetWaitingCustomers:
		o.notifier.SendToAgent(agentID, o.waitingCustomersEvent())

	case types.ActionGetQueueStatus:
		o.notifier.SendToAgent(agentID, o.queueStatusEvent())

	case types.ActionAcceptCustomer:
		if action.SessionID == "" {
			o.acceptNext(agentID)
			return
		}
		if err := o.accept(agentID, action.SessionID); err != nil {
			o.sendAgentError(agentID, action.SessionID, errorMessage(err))
		}

	case types.ActionSendMessage:
		o.agentSend(agentID, action.SessionID, action.Message)

	case types.ActionEndChat:
		o.endChat(agentID, action.SessionID)

	case types.ActionTransferCustomer:
		o.transfer(agentID, action.SessionID, action.NewAgentID)

	default:
		o.sendAgentError(agentID, "", "unknown action: "+action.Action)
	}
}

// accept claims one waiting session for the agent. The state CAS decides
// races: of any number of concurrent accepts for the same session, exactly
// one succeeds and the rest get a conflict.
func (o *Orchestrator) accept(agentID, sessionID string) error {
	var result error
	ok := o.workers.run(sessionID, func() {
		if err := o.registry.Transition(sessionID, types.StateWaiting, types.StateAssigned, agentID, ""); err != nil {
			if errors.Is(err, types.ErrConflict) {
				metrics.Get().RecordAcceptConflict()
			}
			result = err
			return
		}

		o.queue.Dequeue(sessionID)
		metrics.Get().RecordAccept()

		sess, err := o.registry.Get(sessionID)
		if err != nil {
			result = err
			return
		}
		if sess.RequestedAt != nil {
			o.recordWaitTime(sessionID, *sess.RequestedAt)
		}

		o.notifier.SendToAgent(agentID, types.AgentEvent{
			Type:      types.EventCustomerAssigned,
			SessionID: sessionID,
			Message:   sess.Reason,
			History:   sess.History,
			Timestamp: time.Now().UTC(),
		})
		o.sendCustomer(sessionID, types.CustomerEvent{
			Type:    types.EventAgentAssigned,
			AgentID: agentID,
			Message: "You're now connected with " + agentID + ".",
		})

		o.broadcastQueueStatus()
	})
	if !ok {
		return types.ErrConflict
	}
	return result
}

// acceptNext claims the longest-waiting session. A head that is claimed by
// another agent between the peek and the claim is skipped, so the loop
// terminates once the queue drains.
func (o *Orchestrator) acceptNext(agentID string) {
	for {
		entry, ok := o.queue.Peek()
		if !ok {
			o.sendAgentError(agentID, "", errorMessage(types.ErrNoneWaiting))
			return
		}

		err := o.accept(agentID, entry.SessionID)
		if err == nil {
			return
		}
		if errors.Is(err, types.ErrConflict) || errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrInvalidState) {
			// Stale head: the winner normally dequeues it, but clean up
			// in case the session vanished some other way
			o.queue.Dequeue(entry.SessionID)
			continue
		}
		o.sendAgentError(agentID, entry.SessionID, errorMessage(err))
		return
	}
}

// agentSend relays an agent message into its assigned session
func (o *Orchestrator) agentSend(agentID, sessionID, text string) {
	if sessionID == "" || strings.TrimSpace(text) == "" {
		o.sendAgentError(agentID, sessionID, "session_id and message are required")
		return
	}

	var result error
	o.workers.run(sessionID, func() {
		sess, err := o.registry.Get(sessionID)
		if err != nil {
			result = err
			return
		}
		if sess.State != types.StateAssigned {
			result = types.ErrInvalidState
			return
		}
		if sess.AssignedAgent != agentID {
			result = types.ErrForbidden
			return
		}

		msg := types.Message{Sender: types.SenderAgent, Body: text, Timestamp: time.Now()}
		if err := o.registry.AppendMessage(sessionID, msg); err != nil {
			result = err
			return
		}

		o.sendCustomer(sessionID, types.CustomerEvent{
			Type:    types.EventAgentMessage,
			AgentID: agentID,
			Message: text,
		})
	})
	if result != nil {
		o.sendAgentError(agentID, sessionID, errorMessage(result))
	}
}

// endChat closes an assigned session. Only the owning agent may end it.
func (o *Orchestrator) endChat(agentID, sessionID string) {
	if sessionID == "" {
		o.sendAgentError(agentID, sessionID, "session_id is required")
		return
	}

	var result error
	o.workers.run(sessionID, func() {
		sess, err := o.registry.Get(sessionID)
		if err != nil {
			result = err
			return
		}
		if sess.State != types.StateAssigned {
			result = types.ErrInvalidState
			return
		}
		if sess.AssignedAgent != agentID {
			result = types.ErrForbidden
			return
		}

		if err := o.registry.Transition(sessionID, types.StateAssigned, types.StateEnded, "", ""); err != nil {
			result = err
			return
		}

		o.sendCustomer(sessionID, types.CustomerEvent{
			Type:    types.EventSystem,
			Message: "The chat has ended. Thanks for contacting support!",
		})
		o.notifier.SendToAgent(agentID, types.AgentEvent{
			Type:        types.EventAgentStatus,
			SessionID:   sessionID,
			Message:     "chat ended",
			ActiveChats: len(o.registry.AgentSessions(agentID)),
			Timestamp:   time.Now().UTC(),
		})
	})
	if result != nil {
		o.sendAgentError(agentID, sessionID, errorMessage(result))
		return
	}

	o.workers.retire(sessionID)
}

// transfer hands an assigned session to another agent without a trip back
// through the queue. The target does not have to be connected yet.
func (o *Orchestrator) transfer(agentID, sessionID, newAgentID string) {
	if sessionID == "" || newAgentID == "" {
		o.sendAgentError(agentID, sessionID, "session_id and new_agent_id are required")
		return
	}
	if newAgentID == agentID {
		o.sendAgentError(agentID, sessionID, "cannot transfer a chat to yourself")
		return
	}

	var result error
	o.workers.run(sessionID, func() {
		if err := o.registry.Reassign(sessionID, agentID, newAgentID); err != nil {
			result = err
			return
		}

		sess, err := o.registry.Get(sessionID)
		if err != nil {
			result = err
			return
		}

		o.notifier.SendToAgent(newAgentID, types.AgentEvent{
			Type:      types.EventCustomerAssigned,
			SessionID: sessionID,
			Message:   "transferred from " + agentID,
			History:   sess.History,
			Timestamp: time.Now().UTC(),
		})
		o.notifier.SendToAgent(agentID, types.AgentEvent{
			Type:        types.EventAgentStatus,
			SessionID:   sessionID,
			Message:     "chat transferred to " + newAgentID,
			ActiveChats: len(o.registry.AgentSessions(agentID)),
			Timestamp:   time.Now().UTC(),
		})
		o.sendCustomer(sessionID, types.CustomerEvent{
			Type:    types.EventAgentAssigned,
			AgentID: newAgentID,
			Message: "You've been transferred to " + newAgentID + ".",
		})
	})
	if result != nil {
		o.sendAgentError(agentID, sessionID, errorMessage(result))
	}
}

// ForceEnd terminates a session from the ops surface, regardless of owner
func (o *Orchestrator) ForceEnd(sessionID string) error {
	var result error
	ok := o.workers.run(sessionID, func() {
		sess, err := o.registry.Get(sessionID)
		if err != nil {
			result = err
			return
		}
		if sess.State == types.StateEnded {
			result = types.ErrInvalidState
			return
		}

		if err := o.registry.Transition(sessionID, sess.State, types.StateEnded, "", ""); err != nil {
			result = err
			return
		}
		o.queue.Dequeue(sessionID)

		o.sendCustomer(sessionID, types.CustomerEvent{
			Type:    types.EventSystem,
			Message: "This chat was closed by support staff.",
		})
		if sess.AssignedAgent != "" {
			o.notifier.SendToAgent(sess.AssignedAgent, types.AgentEvent{
				Type:      types.EventAgentStatus,
				SessionID: sessionID,
				Message:   "chat force-ended",
				Timestamp: time.Now().UTC(),
			})
		}
		o.broadcastQueueStatus()
	})
	if !ok {
		return types.ErrConflict
	}
	if result != nil {
		return result
	}

	o.workers.retire(sessionID)
	return nil
}

// Reset wipes all volatile state: sessions, agents, the queue and wait
// bookkeeping. Used by the ops surface for test environments.
func (o *Orchestrator) Reset() (sessions, agents, queued int) {
	queued = o.queue.Wipe()
	sessions, agents = o.registry.Wipe()

	o.waitMu.Lock()
	o.waitSeconds = make(map[string]float64)
	o.waitMu.Unlock()

	o.refreshGauges()
	o.logger.Warn().
		Int("sessions", sessions).
		Int("agents", agents).
		Int("queued", queued).
		Msg("volatile state wiped")
	return sessions, agents, queued
}

// waitingEntries snapshots the queue as display rows
func (o *Orchestrator) waitingEntries() []types.WaitingEntry {
	snapshot := o.queue.Snapshot()
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
	return entries
}

func (o *Orchestrator) waitingCustomersEvent() types.AgentEvent {
	entries := o.waitingEntries()
	return types.AgentEvent{
		Type:         types.EventWaitingCustomers,
		Waiting:      entries,
		WaitingCount: len(entries),
		Timestamp:    time.Now().UTC(),
	}
}

func (o *Orchestrator) queueStatusEvent() types.AgentEvent {
	entries := o.waitingEntries()
	return types.AgentEvent{
		Type:         types.EventQueueStatus,
		Waiting:      entries,
		WaitingCount: len(entries),
		Timestamp:    time.Now().UTC(),
	}
}

// QueueStatusEvent exposes the queue_status payload for the periodic
// broadcast ticker
func (o *Orchestrator) QueueStatusEvent() types.AgentEvent {
	return o.queueStatusEvent()
}

func (o *Orchestrator) broadcastQueueStatus() {
	o.notifier.BroadcastToAgents(o.queueStatusEvent())
}

func (o *Orchestrator) sendAgentError(agentID, sessionID, message string) {
	o.notifier.SendToAgent(agentID, types.AgentEvent{
		Type:      types.EventError,
		SessionID: sessionID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// errorMessage translates taxonomy errors into agent-facing text
func errorMessage(err error) string {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return "session not found"
	case errors.Is(err, types.ErrConflict):
		return "customer already taken by another agent"
	case errors.Is(err, types.ErrInvalidState):
		return "action not valid for the session's current state"
	case errors.Is(err, types.ErrForbidden):
		return "this chat belongs to another agent"
	case errors.Is(err, types.ErrNoneWaiting):
		return "no customers waiting"
	default:
		return err.Error()
	}
}
