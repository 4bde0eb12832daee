package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/akrin/handoff-backend/internal/queue"
	"github.com/akrin/handoff-backend/internal/types"
	"github.com/rs/zerolog"
)

// Alert flags one waiting session that has been queued too long
type Alert struct {
	SessionID string `json:"sessionId"`
	Position  int    `json:"position"`
	Waiting   string `json:"waiting"`
}

// CheckOverdue evaluates the wait-list against the threshold and returns
// an alert per overdue entry. Pure function; the watchdog never mutates
// queue or session state.
func CheckOverdue(entries []types.QueueEntry, threshold time.Duration, now time.Time) []Alert {
	var alerts []Alert
	for i, e := range entries {
		waited := now.Sub(e.RequestedAt)
		if waited <= threshold {
			continue
		}
		alerts = append(alerts, Alert{
			SessionID: e.SessionID,
			Position:  i + 1,
			Waiting:   formatDuration(waited),
		})
	}
	return alerts
}

// Watchdog periodically inspects the wait-list and logs a warning for
// every customer waiting past the configured threshold, so a stuck queue
// is visible in the logs before customers give up
type Watchdog struct {
	queue     *queue.WaitList
	threshold time.Duration
	interval  time.Duration
	logger    zerolog.Logger
}

// New creates a Watchdog checking at the given interval
func New(wait *queue.WaitList, threshold, interval time.Duration, logger zerolog.Logger) *Watchdog {
	return &Watchdog{
		queue:     wait,
		threshold: threshold,
		interval:  interval,
		logger:    logger,
	}
}

// Start runs the check loop until the context is cancelled
func (w *Watchdog) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info().
		Dur("threshold", w.threshold).
		Dur("interval", w.interval).
		Msg("queue watchdog started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("queue watchdog stopped")
			return

		case now := <-ticker.C:
			for _, alert := range CheckOverdue(w.queue.Snapshot(), w.threshold, now) {
				w.logger.Warn().
					Str("session_id", alert.SessionID).
					Int("position", alert.Position).
					Str("waiting", alert.Waiting).
					Int("queue_depth", w.queue.Len()).
					Msg("customer waiting past threshold")
			}
		}
	}
}

func formatDuration(d time.Duration) string {
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if mins >= 60 {
		hours := mins / 60
		mins = mins % 60
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	return fmt.Sprintf("%dm%ds", mins, secs)
}
