package message

import "github.com/pkg/errors"

var (
	// ErrShortFrame is returned for data shorter than the frame header.
	ErrShortFrame = errors.New("csta frame shorter than header")
	// ErrTruncatedFrame is returned when the length prefix exceeds the data.
	ErrTruncatedFrame = errors.New("csta frame truncated")
	// ErrInvalidInvokeID is returned when the invoke id is not four digits.
	ErrInvalidInvokeID = errors.New("invalid invoke id")
	// ErrInvalidXML is returned when the body has no root element.
	ErrInvalidXML = errors.New("invalid csta xml")
	// ErrUnsupportedEncoding is returned for an unknown XML encoding.
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
	// ErrNoElement is returned by Set for a missing element.
	ErrNoElement = errors.New("no such element")
)
