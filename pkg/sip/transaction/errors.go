package transaction

import "errors"

var (
	// ErrNoActiveTransaction is returned when ACK or CANCEL is requested in a
	// dialog that has no recorded message to attach to.
	ErrNoActiveTransaction = errors.New("no active transaction in dialog")

	// ErrUnmatchedResponse is returned for a response that answers no
	// outstanding request.
	ErrUnmatchedResponse = errors.New("response does not match an outstanding request")

	// ErrDuplicateRequest is returned when a request reuses an outstanding
	// transaction in the same direction.
	ErrDuplicateRequest = errors.New("duplicate request for outstanding transaction")
)
