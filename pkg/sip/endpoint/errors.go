package endpoint

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/arzzra/callgen/pkg/inbox"
	"github.com/arzzra/callgen/pkg/sip/message"
)

var (
	// ErrNotConnected is returned when sending on an endpoint without a link.
	ErrNotConnected = errors.New("endpoint is not connected")
	// ErrUnknownDialog is returned when replying in a dialog the endpoint never saw.
	ErrUnknownDialog = errors.New("unknown dialog")
	// ErrNoReference is returned when a dialog has no message to reply to.
	ErrNoReference = errors.New("no message to reply to")
	// ErrAlreadyConnected is returned by Connect and UseLink on a connected endpoint.
	ErrAlreadyConnected = errors.New("endpoint is already connected")
)

// TimeoutError reports a wait that ran out of time. It unwraps to
// inbox.ErrTimeout.
type TimeoutError struct {
	Number   string
	Expected string
	Dialog   message.Dialog
	Timeout  time.Duration
	Buffered []string // types of the messages still buffered
}

func (e *TimeoutError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: timed out after %s waiting for %q", e.Number, e.Timeout, e.Expected)
	if !e.Dialog.IsZero() {
		fmt.Fprintf(&sb, " in dialog %s", e.Dialog)
	}
	if len(e.Buffered) > 0 {
		fmt.Fprintf(&sb, "; buffered: %s", strings.Join(e.Buffered, ", "))
	}
	return sb.String()
}

func (e *TimeoutError) Unwrap() error {
	return inbox.ErrTimeout
}

// UnexpectedMessageError reports a message that belongs to no dialog of the
// endpoint and does not start one.
type UnexpectedMessageError struct {
	Number   string
	Expected string
	Received *message.Message
	Dialogs  []message.Dialog
}

func (e *UnexpectedMessageError) Error() string {
	known := make([]string, 0, len(e.Dialogs))
	for _, d := range e.Dialogs {
		known = append(known, d.String())
	}
	return fmt.Sprintf("%s: unexpected %q (call-id %s) while waiting for %q; known dialogs: [%s]",
		e.Number, e.Received.Type(), e.Received.CallID(), e.Expected, strings.Join(known, " "))
}
