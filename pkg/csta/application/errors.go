package application

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/arzzra/callgen/pkg/csta/message"
	"github.com/arzzra/callgen/pkg/inbox"
)

var (
	// ErrNoMatchingRequest is returned when sending a response to a request
	// that was never received.
	ErrNoMatchingRequest = errors.New("refusing to send response without matching received request")
	// ErrUnmatchedResponse reports a response to no outstanding request.
	ErrUnmatchedResponse = errors.New("response matches no outstanding request")
	// ErrNotMonitored is returned when an unmonitored user sends anything but MonitorStart.
	ErrNotMonitored = errors.New("user must be monitored before sending messages")
	// ErrUnknownUser is returned for a directory number without a user.
	ErrUnknownUser = errors.New("unknown user")
	// ErrHandshake is returned when the session setup fails.
	ErrHandshake = errors.New("csta handshake failed")
	// ErrNotConnected is returned when sending before Connect.
	ErrNotConnected = errors.New("application is not connected")
)

// TimeoutError reports a wait that ran out of time. It unwraps to
// inbox.ErrTimeout.
type TimeoutError struct {
	Owner    string // directory number, or "application"
	Expected string
	Timeout  time.Duration
	Buffered []string
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s (CSTA): no %s after %s", e.Owner, e.Expected, e.Timeout)
	if len(e.Buffered) > 0 {
		msg += "; buffered: " + strings.Join(e.Buffered, ", ")
	}
	return msg
}

func (e *TimeoutError) Unwrap() error {
	return inbox.ErrTimeout
}

// UnexpectedMessageError reports a message nobody was waiting for.
type UnexpectedMessageError struct {
	Expected string
	Received *message.Message
}

func (e *UnexpectedMessageError) Error() string {
	return fmt.Sprintf("got %q with callID %q and xrefid %q while expecting %q",
		e.Received.Event, e.Received.Get("callID"), e.Received.Get("monitorCrossRefID"), e.Expected)
}
