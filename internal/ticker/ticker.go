package ticker

import (
	"context"
	"time"

	"github.com/akrin/handoff-backend/internal/types"
	"github.com/rs/zerolog"
)

// StatusSource produces the current queue_status payload
type StatusSource interface {
	QueueStatusEvent() types.AgentEvent
}

// Broadcaster delivers an event to every connected agent
type Broadcaster interface {
	BroadcastToAgents(event types.AgentEvent)
	AgentCount() int
}

// QueueTicker periodically broadcasts the queue state to all agents, so
// consoles stay current even when no queue mutation happens for a while
type QueueTicker struct {
	source      StatusSource
	broadcaster Broadcaster
	interval    time.Duration
	logger      zerolog.Logger
}

// NewQueueTicker creates a new QueueTicker
func NewQueueTicker(source StatusSource, broadcaster Broadcaster, interval time.Duration, logger zerolog.Logger) *QueueTicker {
	return &QueueTicker{
		source:      source,
		broadcaster: broadcaster,
		interval:    interval,
		logger:      logger,
	}
}

// Start begins broadcasting queue updates
func (t *QueueTicker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info().Dur("interval", t.interval).Msg("queue ticker started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("queue ticker stopped")
			return

		case <-ticker.C:
			if t.broadcaster.AgentCount() == 0 {
				continue
			}

			event := t.source.QueueStatusEvent()
			t.broadcaster.BroadcastToAgents(event)
			t.logger.Debug().
				Int("waiting", event.WaitingCount).
				Int("agents", t.broadcaster.AgentCount()).
				Msg("broadcasted queue status")
		}
	}
}
