package session

import "errors"

var (
	ErrNotFound          = errors.New("session not found")
	ErrPlayerNotFound    = errors.New("player not found")
	ErrAlreadyCompleted  = errors.New("session already completed")
	ErrInvalidDelta      = errors.New("score delta must be a non-negative integer")
	ErrTurnViolation     = errors.New("not your turn")
	ErrInvalidIdentity   = errors.New("player identity is required")
	ErrInvalidID         = errors.New("invalid session id")
	ErrInvalidPayload    = errors.New("malformed game payload")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrInvariant         = errors.New("session invariant violated")
)

// errUnchanged lets a mutation report that it applied nothing, e.g. a
// replayed idempotency token. Mutate turns it into a successful no-op.
var errUnchanged = errors.New("unchanged")
