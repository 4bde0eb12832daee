package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/akrin/handoff-backend/internal/types"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Message metrics
	messagesBySender map[types.Sender]int64
	AIRepliesTotal   int64
	AIGiveUpsTotal   int64

	// Handoff metrics
	HandoffsRequestedTotal int64
	AcceptsTotal           int64
	AcceptConflictsTotal   int64
	TransfersTotal         int64
	SessionsEndedTotal     int64

	// WebSocket metrics
	CustomerConnectsTotal    int64
	CustomerDisconnectsTotal int64
	AgentConnectsTotal       int64
	AgentDisconnectsTotal    int64
	activeCustomers          int64
	activeAgents             int64

	// State gauges, refreshed by the registry observer
	queueDepth      int
	sessionsByState map[types.SessionState]int

	// HTTP metrics
	httpRequestsTotal map[string]map[int]int64 // endpoint -> status -> count

	// Timing
	startTime time.Time
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			messagesBySender:  make(map[types.Sender]int64),
			sessionsByState:   make(map[types.SessionState]int),
			httpRequestsTotal: make(map[string]map[int]int64),
			startTime:         time.Now(),
		}
	})
	return instance
}

// RecordMessage increments the message counter for a sender role
func (m *Metrics) RecordMessage(sender types.Sender) {
	m.mu.Lock()
	m.messagesBySender[sender]++
	m.mu.Unlock()
}

// RecordAIReply increments the bot reply counter
func (m *Metrics) RecordAIReply() {
	m.mu.Lock()
	m.AIRepliesTotal++
	m.mu.Unlock()
}

// RecordAIGiveUp increments the counter for bot-initiated escalations
func (m *Metrics) RecordAIGiveUp() {
	m.mu.Lock()
	m.AIGiveUpsTotal++
	m.mu.Unlock()
}

// RecordHandoffRequested increments the handoff counter
func (m *Metrics) RecordHandoffRequested() {
	m.mu.Lock()
	m.HandoffsRequestedTotal++
	m.mu.Unlock()
}

// RecordAccept increments the successful accept counter
func (m *Metrics) RecordAccept() {
	m.mu.Lock()
	m.AcceptsTotal++
	m.mu.Unlock()
}

// RecordAcceptConflict increments the lost-accept-race counter
func (m *Metrics) RecordAcceptConflict() {
	m.mu.Lock()
	m.AcceptConflictsTotal++
	m.mu.Unlock()
}

// RecordTransfer increments the transfer counter
func (m *Metrics) RecordTransfer() {
	m.mu.Lock()
	m.TransfersTotal++
	m.mu.Unlock()
}

// RecordSessionEnded increments the ended session counter
func (m *Metrics) RecordSessionEnded() {
	m.mu.Lock()
	m.SessionsEndedTotal++
	m.mu.Unlock()
}

// RecordCustomerConnect increments customer connection counters
func (m *Metrics) RecordCustomerConnect() {
	m.mu.Lock()
	m.CustomerConnectsTotal++
	m.activeCustomers++
	m.mu.Unlock()
}

// RecordCustomerDisconnect increments customer disconnection counters
func (m *Metrics) RecordCustomerDisconnect() {
	m.mu.Lock()
	m.CustomerDisconnectsTotal++
	m.activeCustomers--
	m.mu.Unlock()
}

// RecordAgentConnect increments agent connection counters
func (m *Metrics) RecordAgentConnect() {
	m.mu.Lock()
	m.AgentConnectsTotal++
	m.activeAgents++
	m.mu.Unlock()
}

// RecordAgentDisconnect increments agent disconnection counters
func (m *Metrics) RecordAgentDisconnect() {
	m.mu.Lock()
	m.AgentDisconnectsTotal++
	m.activeAgents--
	m.mu.Unlock()
}

// SetQueueDepth updates the waiting queue gauge
func (m *Metrics) SetQueueDepth(depth int) {
	m.mu.Lock()
	m.queueDepth = depth
	m.mu.Unlock()
}

// UpdateSessionStats replaces the per-state session gauges
func (m *Metrics) UpdateSessionStats(byState map[types.SessionState]int) {
	m.mu.Lock()
	m.sessionsByState = byState
	m.mu.Unlock()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpRequestsTotal[endpoint] == nil {
		m.httpRequestsTotal[endpoint] = make(map[int]int64)
	}
	m.httpRequestsTotal[endpoint][statusCode]++
}

// GetActiveCustomers returns the current customer connection gauge
func (m *Metrics) GetActiveCustomers() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeCustomers
}

// GetActiveAgents returns the current agent connection gauge
func (m *Metrics) GetActiveAgents() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeAgents
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		// Helper to write metric
		write := func(name string, value interface{}, labels ...string) {
			labelStr := ""
			if len(labels) > 0 {
				labelStr = "{"
				for i := 0; i < len(labels); i += 2 {
					if i > 0 {
						labelStr += ","
					}
					labelStr += labels[i] + "=\"" + labels[i+1] + "\""
				}
				labelStr += "}"
			}

			switch v := value.(type) {
			case int:
				w.Write([]byte(name + labelStr + " " + strconv.Itoa(v) + "\n"))
			case int64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatInt(v, 10) + "\n"))
			case float64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatFloat(v, 'f', 6, 64) + "\n"))
			}
		}

		// System metrics
		write("handoff_uptime_seconds", time.Since(m.startTime).Seconds())

		// Message metrics
		for sender, count := range m.messagesBySender {
			write("handoff_messages_total", count, "sender", string(sender))
		}
		write("handoff_ai_replies_total", m.AIRepliesTotal)
		write("handoff_ai_give_ups_total", m.AIGiveUpsTotal)

		// Handoff metrics
		write("handoff_requests_total", m.HandoffsRequestedTotal)
		write("handoff_accepts_total", m.AcceptsTotal)
		write("handoff_accept_conflicts_total", m.AcceptConflictsTotal)
		write("handoff_transfers_total", m.TransfersTotal)
		write("handoff_sessions_ended_total", m.SessionsEndedTotal)

		// WebSocket metrics
		write("handoff_customer_connects_total", m.CustomerConnectsTotal)
		write("handoff_customer_disconnects_total", m.CustomerDisconnectsTotal)
		write("handoff_customer_active_connections", m.activeCustomers)
		write("handoff_agent_connects_total", m.AgentConnectsTotal)
		write("handoff_agent_disconnects_total", m.AgentDisconnectsTotal)
		write("handoff_agent_active_connections", m.activeAgents)

		// State gauges
		write("handoff_queue_depth", m.queueDepth)
		for state, count := range m.sessionsByState {
			write("handoff_sessions_by_state", count, "state", string(state))
		}

		// HTTP metrics
		for endpoint, statusCodes := range m.httpRequestsTotal {
			for status, count := range statusCodes {
				write("handoff_http_requests_total", count, "endpoint", endpoint, "status", strconv.Itoa(status))
			}
		}
	}
}
