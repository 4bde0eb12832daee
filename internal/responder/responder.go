package responder

import (
	"context"

	"github.com/akrin/handoff-backend/internal/types"
)

// Reply is the outcome of one responder invocation: either a reply text,
// or a signal that the responder cannot resolve the conversation and a
// human should take over.
type Reply struct {
	Text          string
	CannotResolve bool
	Reason        string
}

// Responder produces automated replies from a session's history. It is an
// opaque external collaborator: it may be slow, and the orchestrator calls
// it without holding any session or registry locks. Implementations must
// honor ctx cancellation.
type Responder interface {
	Respond(ctx context.Context, history []types.Message) (Reply, error)
}
