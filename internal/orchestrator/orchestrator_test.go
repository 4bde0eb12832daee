package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/akrin/handoff-backend/internal/config"
	"github.com/akrin/handoff-backend/internal/queue"
	"github.com/akrin/handoff-backend/internal/registry"
	"github.com/akrin/handoff-backend/internal/responder"
	"github.com/akrin/handoff-backend/internal/storage"
	"github.com/akrin/handoff-backend/internal/types"
	"github.com/rs/zerolog"
)

// fakeNotifier records everything the orchestrator sends
type fakeNotifier struct {
	mu         sync.Mutex
	customer   map[string][]types.CustomerEvent
	agent      map[string][]types.AgentEvent
	broadcasts []types.AgentEvent
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		customer: make(map[string][]types.CustomerEvent),
		agent:    make(map[string][]types.AgentEvent),
	}
}

func (f *fakeNotifier) SendToCustomer(sessionID string, event types.CustomerEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customer[sessionID] = append(f.customer[sessionID], event)
	return true
}

func (f *fakeNotifier) SendToAgent(agentID string, event types.AgentEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agent[agentID] = append(f.agent[agentID], event)
	return true
}

func (f *fakeNotifier) BroadcastToAgents(event types.AgentEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, event)
}

func (f *fakeNotifier) CustomerConnected(string) bool { return true }

func (f *fakeNotifier) customerEvents(sessionID string) []types.CustomerEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.CustomerEvent, len(f.customer[sessionID]))
	copy(out, f.customer[sessionID])
	return out
}

func (f *fakeNotifier) agentEvents(agentID string) []types.AgentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.AgentEvent, len(f.agent[agentID]))
	copy(out, f.agent[agentID])
	return out
}

func (f *fakeNotifier) lastCustomerEvent(sessionID string) (types.CustomerEvent, bool) {
	events := f.customerEvents(sessionID)
	if len(events) == 0 {
		return types.CustomerEvent{}, false
	}
	return events[len(events)-1], true
}

func (f *fakeNotifier) hasCustomerEvent(sessionID, eventType string) bool {
	for _, ev := range f.customerEvents(sessionID) {
		if ev.Type == eventType {
			return true
		}
	}
	return false
}

func (f *fakeNotifier) hasAgentEvent(agentID, eventType string) bool {
	for _, ev := range f.agentEvents(agentID) {
		if ev.Type == eventType {
			return true
		}
	}
	return false
}

// failingResponder always errors
type failingResponder struct{}

func (failingResponder) Respond(context.Context, []types.Message) (responder.Reply, error) {
	return responder.Reply{}, errors.New("upstream unavailable")
}

// slowEchoResponder echoes the last customer turn after a short delay
type slowEchoResponder struct {
	delay time.Duration
}

func (r slowEchoResponder) Respond(_ context.Context, history []types.Message) (responder.Reply, error) {
	time.Sleep(r.delay)
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Sender == types.SenderCustomer {
			return responder.Reply{Text: "echo: " + history[i].Body}, nil
		}
	}
	return responder.Reply{Text: "echo"}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		ResponderTimeout:    time.Second,
		SessionRetention:    time.Hour,
		QueueStatusInterval: 10 * time.Second,
		MaxWaitAlert:        5 * time.Minute,
	}
}

func newTestOrchestrator(resp responder.Responder) (*Orchestrator, *fakeNotifier) {
	logger := zerolog.Nop()
	reg := registry.NewRegistry(logger)
	wait := queue.NewWaitList(logger)
	notifier := newFakeNotifier()
	o := New(reg, wait, notifier, resp, storage.NewNoopStore(), testConfig(), logger)
	return o, notifier
}

// makeWaiting creates a session with one customer turn, already queued for
// a human
func makeWaiting(t *testing.T, o *Orchestrator, sessionID string) {
	t.Helper()
	if _, err := o.registry.CreateSession(sessionID); err != nil {
		t.Fatalf("CreateSession(%s): %v", sessionID, err)
	}
	msg := types.Message{Sender: types.SenderCustomer, Body: "I need to talk to a person"}
	if err := o.registry.AppendMessage(sessionID, msg); err != nil {
		t.Fatalf("AppendMessage(%s): %v", sessionID, err)
	}
	o.escalate(sessionID, "test")
	sess, err := o.registry.Get(sessionID)
	if err != nil || sess.State != types.StateWaiting {
		t.Fatalf("session %s not waiting: state=%v err=%v", sessionID, sess.State, err)
	}
}

// makeAssigned creates a session assigned to the given agent
func makeAssigned(t *testing.T, o *Orchestrator, sessionID, agentID string) {
	t.Helper()
	makeWaiting(t, o, sessionID)
	if err := o.accept(agentID, sessionID); err != nil {
		t.Fatalf("accept(%s, %s): %v", agentID, sessionID, err)
	}
}

// waitFor polls until the condition holds or the deadline passes
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestFirstConnectCreatesSessionAndWelcomes(t *testing.T) {
	o, notifier := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))

	o.HandleCustomerConnect("s1")
	waitFor(t, func() bool { return notifier.hasCustomerEvent("s1", types.EventSystem) })

	sess, err := o.registry.Get("s1")
	if err != nil {
		t.Fatalf("session not created: %v", err)
	}
	if sess.State != types.StateBot {
		t.Errorf("expected state bot, got %s", sess.State)
	}
}

func TestCustomerReconnectReplaysHistory(t *testing.T) {
	o, notifier := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	if _, err := o.registry.CreateSession("s1"); err != nil {
		t.Fatal(err)
	}

	// Two bot exchanges: four turns in history
	o.handleCustomerMessage("s1", "hello there")
	o.handleCustomerMessage("s1", "my password expired")

	before := len(notifier.customerEvents("s1"))
	o.HandleCustomerConnect("s1")
	waitFor(t, func() bool { return len(notifier.customerEvents("s1")) > before })

	events := notifier.customerEvents("s1")[before:]
	var replay *types.CustomerEvent
	for _, ev := range events {
		if len(ev.History) > 0 {
			if replay != nil {
				t.Fatal("history replayed more than once")
			}
			replay = &ev
		}
	}
	if replay == nil {
		t.Fatal("reconnect did not replay the conversation history")
	}
	if len(replay.History) != 4 {
		t.Fatalf("expected 4 replayed turns, got %d", len(replay.History))
	}
	if replay.History[0].Sender != types.SenderCustomer || replay.History[0].Body != "hello there" {
		t.Errorf("unexpected first turn: %+v", replay.History[0])
	}
	if replay.History[1].Sender != types.SenderBot {
		t.Errorf("expected bot reply second, got %s", replay.History[1].Sender)
	}

	sess, _ := o.registry.Get("s1")
	if len(sess.History) != 4 {
		t.Errorf("reconnect must not grow the history, got %d turns", len(sess.History))
	}
}

func TestWaitingReconnectReplaysHistoryAndPosition(t *testing.T) {
	o, notifier := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	makeWaiting(t, o, "s1")

	before := len(notifier.customerEvents("s1"))
	o.HandleCustomerConnect("s1")
	waitFor(t, func() bool { return len(notifier.customerEvents("s1")) >= before+2 })

	events := notifier.customerEvents("s1")[before:]
	if events[0].Type != types.EventSystem || len(events[0].History) == 0 {
		t.Errorf("expected history-bearing system event first, got %+v", events[0])
	}
	if events[1].Type != types.EventHandoffRequested || events[1].PositionInQueue != 1 {
		t.Errorf("expected queue position after replay, got %+v", events[1])
	}
}

func TestBotReplies(t *testing.T) {
	o, notifier := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	if _, err := o.registry.CreateSession("s1"); err != nil {
		t.Fatal(err)
	}

	o.handleCustomerMessage("s1", "hello there")

	events := notifier.customerEvents("s1")
	if len(events) != 1 || events[0].Type != types.EventAIResponse {
		t.Fatalf("expected one ai_response, got %+v", events)
	}

	sess, _ := o.registry.Get("s1")
	if len(sess.History) != 2 {
		t.Errorf("expected customer + bot turns in history, got %d", len(sess.History))
	}
	if sess.History[1].Sender != types.SenderBot {
		t.Errorf("expected bot turn, got %s", sess.History[1].Sender)
	}
}

func TestHumanRequestEscalates(t *testing.T) {
	o, notifier := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	if _, err := o.registry.CreateSession("s1"); err != nil {
		t.Fatal(err)
	}

	o.handleCustomerMessage("s1", "I want to talk to a human")

	sess, _ := o.registry.Get("s1")
	if sess.State != types.StateWaiting {
		t.Fatalf("expected waiting, got %s", sess.State)
	}
	if sess.RequestedAt == nil {
		t.Error("RequestedAt not set")
	}
	if o.queue.Position("s1") != 1 {
		t.Errorf("expected queue position 1, got %d", o.queue.Position("s1"))
	}

	last, ok := notifier.lastCustomerEvent("s1")
	if !ok || last.Type != types.EventHandoffRequested {
		t.Errorf("expected handoff_requested, got %+v", last)
	}
	if last.PositionInQueue != 1 {
		t.Errorf("expected position_in_queue 1, got %d", last.PositionInQueue)
	}

	// Agents hear about the new customer
	notifier.mu.Lock()
	broadcasts := len(notifier.broadcasts)
	notifier.mu.Unlock()
	if broadcasts == 0 {
		t.Error("expected new_customer_waiting / queue_status broadcasts")
	}
}

func TestResponderFailureEscalates(t *testing.T) {
	o, notifier := newTestOrchestrator(failingResponder{})
	if _, err := o.registry.CreateSession("s1"); err != nil {
		t.Fatal(err)
	}

	o.handleCustomerMessage("s1", "anything")

	sess, _ := o.registry.Get("s1")
	if sess.State != types.StateWaiting {
		t.Fatalf("expected escalation on responder failure, got %s", sess.State)
	}
	if sess.Reason != "assistant unavailable" {
		t.Errorf("unexpected reason %q", sess.Reason)
	}
	if !notifier.hasCustomerEvent("s1", types.EventHandoffRequested) {
		t.Error("customer was not told about the handoff")
	}
}

func TestMessageWhileWaitingIsStoredNotAnswered(t *testing.T) {
	o, notifier := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	makeWaiting(t, o, "s1")

	o.handleCustomerMessage("s1", "are you still there?")

	sess, _ := o.registry.Get("s1")
	if got := sess.History[len(sess.History)-1]; got.Sender != types.SenderCustomer {
		t.Errorf("expected customer turn last, got %s", got.Sender)
	}
	if notifier.hasCustomerEvent("s1", types.EventAIResponse) {
		t.Error("responder must not run for a waiting session")
	}
}

func TestMessageToEndedSessionRejected(t *testing.T) {
	o, notifier := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	makeAssigned(t, o, "s1", "agent-1")
	o.endChat("agent-1", "s1")

	o.handleCustomerMessage("s1", "hello?")

	if !notifier.hasCustomerEvent("s1", types.EventError) {
		t.Error("expected error event for message to ended session")
	}
}

func TestAcceptAssignsAndNotifiesEveryone(t *testing.T) {
	o, notifier := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	makeWaiting(t, o, "s1")

	if err := o.accept("agent-1", "s1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	sess, _ := o.registry.Get("s1")
	if sess.State != types.StateAssigned || sess.AssignedAgent != "agent-1" {
		t.Fatalf("expected assigned to agent-1, got %s/%s", sess.State, sess.AssignedAgent)
	}
	if o.queue.Position("s1") != 0 {
		t.Error("accepted session still queued")
	}

	var assigned *types.AgentEvent
	for _, ev := range notifier.agentEvents("agent-1") {
		if ev.Type == types.EventCustomerAssigned {
			assigned = &ev
			break
		}
	}
	if assigned == nil {
		t.Fatal("agent did not receive customer_assigned")
	}
	if assigned.SessionID != "s1" || len(assigned.History) == 0 {
		t.Errorf("customer_assigned missing session or history: %+v", assigned)
	}

	last, _ := notifier.lastCustomerEvent("s1")
	if last.Type != types.EventAgentAssigned || last.AgentID != "agent-1" {
		t.Errorf("customer not told about assignment: %+v", last)
	}
}

func TestAcceptRaceHasExactlyOneWinner(t *testing.T) {
	o, _ := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	makeWaiting(t, o, "s1")

	const contenders = 8
	var wg sync.WaitGroup
	results := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.accept(fmt.Sprintf("agent-%d", i), "s1")
		}(i)
	}
	wg.Wait()

	winners, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, types.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if winners != 1 || conflicts != contenders-1 {
		t.Errorf("expected 1 winner and %d conflicts, got %d/%d", contenders-1, winners, conflicts)
	}

	sess, _ := o.registry.Get("s1")
	if sess.State != types.StateAssigned || sess.AssignedAgent == "" {
		t.Errorf("session not assigned after race: %+v", sess)
	}
}

func TestAcceptNextDrainsFIFO(t *testing.T) {
	o, notifier := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	base := time.Now().Add(-time.Minute)
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("s%d", i)
		if _, err := o.registry.CreateSession(id); err != nil {
			t.Fatal(err)
		}
		if err := o.registry.Transition(id, types.StateBot, types.StateWaiting, "", "test"); err != nil {
			t.Fatal(err)
		}
		o.queue.Enqueue(id, "test", base.Add(time.Duration(i)*time.Second))
	}

	var order []string
	for i := 0; i < 3; i++ {
		before := len(notifier.agentEvents("agent-1"))
		o.acceptNext("agent-1")
		events := notifier.agentEvents("agent-1")
		for _, ev := range events[before:] {
			if ev.Type == types.EventCustomerAssigned {
				order = append(order, ev.SessionID)
			}
		}
	}

	want := []string{"s1", "s2", "s3"}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Errorf("expected FIFO order %v, got %v", want, order)
	}
}

func TestAcceptNextEmptyQueue(t *testing.T) {
	o, notifier := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))

	o.acceptNext("agent-1")

	events := notifier.agentEvents("agent-1")
	if len(events) != 1 || events[0].Type != types.EventError {
		t.Fatalf("expected a single error event, got %+v", events)
	}
	if events[0].Message != "no customers waiting" {
		t.Errorf("unexpected message %q", events[0].Message)
	}
}

func TestAssignedMessagesRelayBothWays(t *testing.T) {
	o, notifier := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	makeAssigned(t, o, "s1", "agent-1")

	o.handleCustomerMessage("s1", "thanks for picking up")
	o.agentSend("agent-1", "s1", "happy to help")

	if !notifier.hasAgentEvent("agent-1", types.EventCustomerMessage) {
		t.Error("customer message not forwarded to agent")
	}
	if !notifier.hasCustomerEvent("s1", types.EventAgentMessage) {
		t.Error("agent message not forwarded to customer")
	}

	sess, _ := o.registry.Get("s1")
	last := sess.History[len(sess.History)-1]
	if last.Sender != types.SenderAgent || last.Body != "happy to help" {
		t.Errorf("agent turn not in history: %+v", last)
	}
}

func TestAgentSendForbiddenForNonOwner(t *testing.T) {
	o, notifier := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	makeAssigned(t, o, "s1", "agent-1")

	o.agentSend("agent-2", "s1", "let me cut in")

	if !notifier.hasAgentEvent("agent-2", types.EventError) {
		t.Error("expected error event for non-owner send")
	}
	if notifier.hasCustomerEvent("s1", types.EventAgentMessage) {
		t.Error("non-owner message must not reach the customer")
	}
}

func TestEndChat(t *testing.T) {
	o, notifier := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	makeAssigned(t, o, "s1", "agent-1")

	o.endChat("agent-1", "s1")

	sess, _ := o.registry.Get("s1")
	if sess.State != types.StateEnded || sess.EndedAt == nil {
		t.Fatalf("session not ended: %+v", sess)
	}
	if len(o.registry.AgentSessions("agent-1")) != 0 {
		t.Error("agent still holds the ended session")
	}
	if !notifier.hasCustomerEvent("s1", types.EventSystem) {
		t.Error("customer not told the chat ended")
	}
}

func TestEndChatForbiddenForNonOwner(t *testing.T) {
	o, notifier := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	makeAssigned(t, o, "s1", "agent-1")

	o.endChat("agent-2", "s1")

	sess, _ := o.registry.Get("s1")
	if sess.State != types.StateAssigned {
		t.Errorf("non-owner ended the session: %s", sess.State)
	}
	if !notifier.hasAgentEvent("agent-2", types.EventError) {
		t.Error("expected error event")
	}
}

func TestTransfer(t *testing.T) {
	o, notifier := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	makeAssigned(t, o, "s1", "agent-1")

	o.transfer("agent-1", "s1", "agent-2")

	sess, _ := o.registry.Get("s1")
	if sess.AssignedAgent != "agent-2" {
		t.Fatalf("expected agent-2 after transfer, got %s", sess.AssignedAgent)
	}
	if len(o.registry.AgentSessions("agent-1")) != 0 {
		t.Error("old agent still holds the session")
	}
	if !notifier.hasAgentEvent("agent-2", types.EventCustomerAssigned) {
		t.Error("target agent not notified")
	}

	last, _ := notifier.lastCustomerEvent("s1")
	if last.Type != types.EventAgentAssigned || last.AgentID != "agent-2" {
		t.Errorf("customer not told about the transfer: %+v", last)
	}
}

func TestTransferToSelfRejected(t *testing.T) {
	o, notifier := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	makeAssigned(t, o, "s1", "agent-1")

	o.transfer("agent-1", "s1", "agent-1")

	if !notifier.hasAgentEvent("agent-1", types.EventError) {
		t.Error("expected error event for self-transfer")
	}
}

func TestAgentReconnectReplaysAssignments(t *testing.T) {
	o, notifier := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	makeAssigned(t, o, "s1", "agent-1")

	o.HandleAgentDisconnect("agent-1")
	o.HandleAgentConnect("agent-1")

	events := notifier.agentEvents("agent-1")
	replayed := false
	for _, ev := range events {
		if ev.Type == types.EventCustomerAssigned && ev.SessionID == "s1" && len(ev.History) > 0 {
			replayed = true
		}
	}
	if !replayed {
		t.Error("assigned session not replayed on reconnect")
	}

	agent, err := o.registry.GetAgent("agent-1")
	if err != nil || agent.ConnectionStatus != types.AgentOnline {
		t.Errorf("agent not back online: %+v err=%v", agent, err)
	}
}

func TestPerSessionOrderingUnderLoad(t *testing.T) {
	o, _ := newTestOrchestrator(slowEchoResponder{delay: 5 * time.Millisecond})
	if _, err := o.registry.CreateSession("s1"); err != nil {
		t.Fatal(err)
	}

	const n = 5
	for i := 1; i <= n; i++ {
		o.HandleCustomerMessage("s1", fmt.Sprintf("msg-%d", i))
	}

	waitFor(t, func() bool {
		sess, err := o.registry.Get("s1")
		return err == nil && len(sess.History) == 2*n
	})

	sess, _ := o.registry.Get("s1")
	for i := 0; i < n; i++ {
		customer := sess.History[2*i]
		bot := sess.History[2*i+1]
		want := fmt.Sprintf("msg-%d", i+1)
		if customer.Sender != types.SenderCustomer || customer.Body != want {
			t.Fatalf("turn %d: expected customer %q, got %s %q", 2*i, want, customer.Sender, customer.Body)
		}
		if bot.Sender != types.SenderBot || bot.Body != "echo: "+want {
			t.Fatalf("turn %d: expected bot echo of %q, got %s %q", 2*i+1, want, bot.Sender, bot.Body)
		}
	}
}

func TestForceEnd(t *testing.T) {
	o, notifier := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	makeWaiting(t, o, "s1")

	if err := o.ForceEnd("s1"); err != nil {
		t.Fatalf("ForceEnd: %v", err)
	}

	sess, _ := o.registry.Get("s1")
	if sess.State != types.StateEnded {
		t.Errorf("expected ended, got %s", sess.State)
	}
	if o.queue.Len() != 0 {
		t.Error("force-ended session still queued")
	}
	if !notifier.hasCustomerEvent("s1", types.EventSystem) {
		t.Error("customer not told about the force end")
	}

	if err := o.ForceEnd("s1"); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("expected invalid state on double force end, got %v", err)
	}
}

func TestReset(t *testing.T) {
	o, _ := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	makeWaiting(t, o, "s1")
	makeAssigned(t, o, "s2", "agent-1")

	sessions, agents, queued := o.Reset()
	if sessions != 2 || agents != 1 || queued != 1 {
		t.Errorf("unexpected wipe counts: sessions=%d agents=%d queued=%d", sessions, agents, queued)
	}
	if _, err := o.registry.Get("s1"); !errors.Is(err, types.ErrNotFound) {
		t.Error("sessions survived the reset")
	}
}

func TestQueueStatusEvent(t *testing.T) {
	o, _ := newTestOrchestrator(responder.NewRuleBased(zerolog.Nop()))
	makeWaiting(t, o, "s1")
	makeWaiting(t, o, "s2")

	ev := o.QueueStatusEvent()
	if ev.Type != types.EventQueueStatus {
		t.Errorf("unexpected type %s", ev.Type)
	}
	if ev.WaitingCount != 2 || len(ev.Waiting) != 2 {
		t.Errorf("expected 2 waiting entries, got %d/%d", ev.WaitingCount, len(ev.Waiting))
	}
	if ev.Waiting[0].Position != 1 || ev.Waiting[1].Position != 2 {
		t.Errorf("positions not 1-based in order: %+v", ev.Waiting)
	}
}
