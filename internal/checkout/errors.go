package checkout

import "github.com/go-faster/errors"

var (
	// ErrSessionClosed is returned once a session has been closed.
	ErrSessionClosed = errors.New("checkout session closed")
	// ErrNotAwaiting is returned when a payment is started outside
	// PhaseAwaitingAuthorization.
	ErrNotAwaiting = errors.New("checkout session is not awaiting authorization")
	// ErrNotRetryable is returned when the requested retry is not allowed for
	// the session's failure.
	ErrNotRetryable = errors.New("checkout session cannot be retried")
	// ErrTooManySessions is returned when the registry is full.
	ErrTooManySessions = errors.New("too many checkout sessions")
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("checkout session not found")
)
