package types

import "errors"

// Domain errors shared across the control plane. Callers classify with
// errors.Is; the HTTP layer maps them onto status codes.
var (
	// ErrNotFound means the target entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrGone means the entity exists but has been soft-deleted.
	ErrGone = errors.New("gone")

	// ErrInvalidTransition means a state-machine rule was violated.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalid means request-level validation failed (bad cron,
	// parameters too long, malformed trigger shape).
	ErrInvalid = errors.New("invalid")

	// ErrContended means a claim lost a race; callers retry a bounded
	// number of times before surfacing "service busy".
	ErrContended = errors.New("contended")
)
