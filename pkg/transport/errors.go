package transport

import (
	"errors"
	"net"
	"os"
)

var (
	// ErrLinkClosed is returned when the peer disconnected or the link was closed
	ErrLinkClosed = errors.New("link closed")

	// ErrReadTimeout is returned when no complete frame arrived in time
	ErrReadTimeout = errors.New("read timeout")

	// ErrFrameTooLarge is returned when a frame exceeds the maximum size
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrInvalidFrame is returned for a malformed frame header
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrTruncatedFrame is returned when the stream ends mid-frame
	ErrTruncatedFrame = errors.New("truncated frame")
)

// TransportError wraps a failed socket operation.
type TransportError struct {
	Transport string
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	return e.Transport + " " + e.Operation + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// isTimeout checks if error is a timeout
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
