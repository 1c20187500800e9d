package message

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/arzzra/callgen/pkg/templates"
)

var (
	// Parser errors
	ErrInvalidMessage     = errors.New("invalid SIP message")
	ErrInvalidRequestLine = errors.New("invalid request line")
	ErrInvalidStatusLine  = errors.New("invalid status line")
	ErrInvalidHeader      = errors.New("invalid header format")
	ErrInvalidSIPVersion  = errors.New("invalid SIP version")
	ErrInvalidStatusCode  = errors.New("invalid status code")

	// Validation errors
	ErrMissingHeader = errors.New("missing required header")
	ErrTruncatedBody = errors.New("body shorter than Content-Length")
	ErrNotRequest    = errors.New("message is not a request")
	ErrNotResponse   = errors.New("message is not a response")
	ErrNoChallenge   = errors.New("response carries no digest challenge")

	// Size errors
	ErrMessageTooLarge = errors.New("message too large")
)

// ProtocolViolationError reports input that cannot be a well-formed message.
// Missing names every absent mandatory header of a request.
type ProtocolViolationError struct {
	Err  error
	Data string

	Missing []string
}

func (e *ProtocolViolationError) Error() string {
	first := e.Data
	if i := indexLineEnd(first); i >= 0 {
		first = first[:i]
	}
	if len(first) > 80 {
		first = first[:80] + "..."
	}
	return fmt.Sprintf("protocol violation: %v (%q)", e.Err, first)
}

func (e *ProtocolViolationError) Unwrap() error {
	return e.Err
}

// MissingParameterError is returned by Build when a template placeholder has no value.
type MissingParameterError = templates.MissingParameterError

func violation(err error, data []byte) error {
	return &ProtocolViolationError{Err: err, Data: string(data)}
}

func indexLineEnd(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '\r' || s[i] == '\n' {
			return i
		}
	}
	return -1
}
