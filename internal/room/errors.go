package room

import "errors"

var (
	// ErrInvalidOperation: the operation does not fit the current buffer or
	// is malformed. The buffer is untouched.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrStaleSession: the room no longer exists or the participant is not in
	// it. The client has to join again.
	ErrStaleSession = errors.New("stale session")

	// ErrPersistenceFailure: the report store call failed or timed out. The
	// room stays live.
	ErrPersistenceFailure = errors.New("persistence failure")
)
