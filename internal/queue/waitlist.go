package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/akrin/handoff-backend/internal/types"
	"github.com/rs/zerolog"
)

// WaitList is the ordered wait-list of sessions requesting a human agent.
// FIFO by RequestedAt, ties broken by session id for determinism. It holds
// only session ids plus the fields needed for ordering and display, never
// a copy of session state.
//
// Safe under concurrent access from multiple sessions and agents; a single
// internal lock is enough at the contention this sees.
type WaitList struct {
	entries []types.QueueEntry
	mu      sync.Mutex
	logger  zerolog.Logger
}

// NewWaitList creates an empty wait-list
func NewWaitList(logger zerolog.Logger) *WaitList {
	return &WaitList{
		entries: make([]types.QueueEntry, 0),
		logger:  logger,
	}
}

// Enqueue appends a session to the wait-list and returns its 1-based
// position. If the session is already queued this is a no-op and the
// current position is returned.
func (w *WaitList) Enqueue(sessionID, reason string, requestedAt time.Time) types.QueuePosition {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, e := range w.entries {
		if e.SessionID == sessionID {
			return i + 1
		}
	}

	entry := types.QueueEntry{
		SessionID:   sessionID,
		RequestedAt: requestedAt,
		Reason:      reason,
	}

	// Insert in (RequestedAt, SessionID) order. Entries normally arrive
	// already ordered, so this walks at most a few tail slots.
	idx := sort.Search(len(w.entries), func(i int) bool {
		if w.entries[i].RequestedAt.Equal(entry.RequestedAt) {
			return w.entries[i].SessionID > entry.SessionID
		}
		return w.entries[i].RequestedAt.After(entry.RequestedAt)
	})
	w.entries = append(w.entries, types.QueueEntry{})
	copy(w.entries[idx+1:], w.entries[idx:])
	w.entries[idx] = entry

	w.logger.Debug().
		Str("session_id", sessionID).
		Str("reason", reason).
		Int("queue_depth", len(w.entries)).
		Msg("session enqueued")

	return idx + 1
}

// Dequeue removes a session if present. Absent sessions are a no-op, which
// is what makes a lost accept race safe to clean up after.
func (w *WaitList) Dequeue(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, e := range w.entries {
		if e.SessionID == sessionID {
			w.entries = append(w.entries[:i], w.entries[i+1:]...)
			w.logger.Debug().
				Str("session_id", sessionID).
				Int("queue_depth", len(w.entries)).
				Msg("session dequeued")
			return
		}
	}
}

// Peek returns the head of the queue, or false if the queue is empty
func (w *WaitList) Peek() (types.QueueEntry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.entries) == 0 {
		return types.QueueEntry{}, false
	}
	return w.entries[0], true
}

// Position returns the 1-based position of a session, or 0 if not queued
func (w *WaitList) Position(sessionID string) types.QueuePosition {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, e := range w.entries {
		if e.SessionID == sessionID {
			return i + 1
		}
	}
	return 0
}

// Len returns the number of waiting sessions
func (w *WaitList) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Snapshot returns a point-in-time copy of the queue in order. It reflects
// state at call time, not a live stream.
func (w *WaitList) Snapshot() []types.QueueEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]types.QueueEntry, len(w.entries))
	copy(out, w.entries)
	return out
}

// LongestWait returns how long the head of the queue has been waiting,
// zero when empty. Exposed for the watchdog; the queue itself never acts
// on timeouts.
func (w *WaitList) LongestWait() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.entries) == 0 {
		return 0
	}
	return time.Since(w.entries[0].RequestedAt)
}

// Wipe clears the wait-list, returning the count of cleared entries
func (w *WaitList) Wipe() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	count := len(w.entries)
	w.entries = w.entries[:0]
	return count
}
