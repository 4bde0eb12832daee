package types

import "errors"

// Taxonomy errors returned by the registry, queue and orchestrator.
// All of them are translated into an "error"-typed event on the
// originating connection; none are fatal to the process.
var (
	// ErrNotFound indicates an unknown session or agent id.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a duplicate session creation attempt.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict indicates a lost compare-and-swap race, e.g. two
	// agents accepting the same waiting session.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState indicates an action that is not valid for the
	// session's current state, e.g. sending to an ended session.
	ErrInvalidState = errors.New("invalid state")

	// ErrForbidden indicates an agent acting on a session it does not own.
	ErrForbidden = errors.New("forbidden")

	// ErrNoneWaiting indicates an accept-next with an empty queue.
	ErrNoneWaiting = errors.New("no customers waiting")
)
