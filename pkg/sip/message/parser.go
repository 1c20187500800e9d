package message

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/arzzra/callgen/pkg/transport"
)

const (
	// MaxMessageSize matches the largest frame the stream transport delivers.
	MaxMessageSize = transport.MaxFrameSize
	maxHeaders     = 100 // Maximum number of headers
)

// mandatoryRequestHeaders must be present in every request.
var mandatoryRequestHeaders = []string{"To", "From", "CSeq", "Call-ID", "Max-Forwards"}

// Parse parses a SIP message received from the wire. The body is cut at
// Content-Length when the header is present.
func Parse(data []byte) (*Message, error) {
	return parse(data, true)
}

func parse(data []byte, wire bool) (*Message, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, violation(ErrInvalidMessage, data)
	}
	if len(data) > MaxMessageSize {
		return nil, violation(ErrMessageTooLarge, data)
	}

	// Find the end of headers (empty line)
	head, body, ok := splitHead(data)
	if !ok {
		return nil, violation(ErrInvalidMessage, data)
	}

	lines := splitLines(head)
	if len(lines) == 0 {
		return nil, violation(ErrInvalidMessage, data)
	}

	msg, err := parseStartLine(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil, violation(err, data)
	}

	if err := parseHeaders(msg.Headers, lines[1:]); err != nil {
		return nil, violation(err, data)
	}

	if msg.kind == KindRequest {
		var missing []string
		for _, name := range mandatoryRequestHeaders {
			if !msg.Headers.Has(name) {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return nil, &ProtocolViolationError{
				Err:     errors.Wrap(ErrMissingHeader, strings.Join(missing, ", ")),
				Data:    string(data),
				Missing: missing,
			}
		}
	}

	if wire {
		if cl, ok := msg.Headers.Lookup("Content-Length"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(cl))
			if err != nil || n < 0 {
				return nil, violation(ErrInvalidHeader, data)
			}
			if n > len(body) {
				return nil, violation(ErrTruncatedBody, data)
			}
			body = body[:n]
		}
	}

	msg.Body = string(body)
	msg.Headers.Set("Content-Length", strconv.Itoa(len(msg.Body)))
	return msg, nil
}

// splitHead separates the header block from the body. A message without an
// empty line is all headers.
func splitHead(data []byte) (head, body []byte, ok bool) {
	if i := bytes.Index(data, []byte("\r\n\r\n")); i >= 0 {
		return data[:i], data[i+4:], true
	}
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		return data[:i], data[i+2:], true
	}
	trimmed := bytes.TrimRight(data, "\r\n")
	if len(trimmed) == 0 {
		return nil, nil, false
	}
	return trimmed, nil, true
}

func splitLines(head []byte) []string {
	text := strings.ReplaceAll(string(head), "\r\n", "\n")
	text = strings.TrimLeft(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func parseStartLine(line string) (*Message, error) {
	if strings.HasPrefix(line, "SIP/") {
		// SIP/2.0 200 OK
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 2 {
			return nil, ErrInvalidStatusLine
		}
		if parts[0] != "SIP/2.0" {
			return nil, ErrInvalidSIPVersion
		}
		code, err := strconv.Atoi(parts[1])
		if err != nil || code < 100 || code > 699 {
			return nil, ErrInvalidStatusCode
		}
		reason := ""
		if len(parts) == 3 {
			reason = strings.TrimSpace(parts[2])
		}
		return NewResponse(code, reason), nil
	}

	// METHOD REQUEST-URI SIP-VERSION
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return nil, ErrInvalidRequestLine
	}
	if !strings.HasPrefix(parts[2], "SIP/2.0") {
		return nil, ErrInvalidSIPVersion
	}
	return NewRequest(parts[0], parts[1]), nil
}

func parseHeaders(h *Headers, lines []string) error {
	for _, line := range lines {
		if line == "" {
			continue
		}
		// Folded continuation line
		if line[0] == ' ' || line[0] == '\t' {
			if len(h.entries) == 0 {
				return ErrInvalidHeader
			}
			last := &h.entries[len(h.entries)-1]
			last.value += " " + strings.TrimSpace(line)
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return ErrInvalidHeader
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return ErrInvalidHeader
		}
		if h.Len() >= maxHeaders {
			return ErrMessageTooLarge
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return nil
}
