package relay

import "errors"

var (
	// ErrDuplicateIdentity is returned when a connection id is registered twice.
	// It indicates a defect in connection id allocation.
	ErrDuplicateIdentity = errors.New("participant already registered")

	// ErrUnknownParticipant is returned when an operation requires a
	// registered participant and the id is not present.
	ErrUnknownParticipant = errors.New("unknown participant")
)
