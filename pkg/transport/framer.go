package transport

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"
)

// MaxFrameSize bounds a single SIP or CSTA frame.
const MaxFrameSize = 1 << 20

// SplitSIP is a bufio.SplitFunc for SIP over a stream: a header block ended
// by an empty line followed by Content-Length bytes of body. Keep-alive CRLFs
// between messages are skipped.
func SplitSIP(data []byte, atEOF bool) (advance int, token []byte, err error) {
	skip := 0
	for skip < len(data) && (data[skip] == '\r' || data[skip] == '\n') {
		skip++
	}
	if skip > 0 {
		return skip, nil, nil
	}

	sepLen := 4
	end := bytes.Index(data, []byte("\r\n\r\n"))
	if end < 0 {
		if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
			end, sepLen = i, 2
		}
	}
	if end < 0 {
		if len(data) > MaxFrameSize {
			return 0, nil, ErrFrameTooLarge
		}
		if atEOF && len(data) > 0 {
			return 0, nil, ErrTruncatedFrame
		}
		return 0, nil, nil
	}

	length, err := contentLength(data[:end])
	if err != nil {
		return 0, nil, err
	}
	total := end + sepLen + length
	if total > MaxFrameSize {
		return 0, nil, ErrFrameTooLarge
	}
	if len(data) < total {
		if atEOF {
			return 0, nil, ErrTruncatedFrame
		}
		return 0, nil, nil
	}
	return total, data[:total], nil
}

func contentLength(head []byte) (int, error) {
	for _, line := range strings.Split(string(head), "\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if strings.EqualFold(name, "Content-Length") || strings.EqualFold(name, "l") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return 0, ErrInvalidFrame
			}
			return n, nil
		}
	}
	return 0, nil
}

// CSTAHeaderSize is the length prefix plus the invoke id.
const CSTAHeaderSize = 8

// SplitCSTA is a bufio.SplitFunc for CSTA frames: a 4-byte big-endian total
// length (header included), a 4-digit invoke id and the XML body.
func SplitCSTA(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if len(data) < 4 {
		if atEOF && len(data) > 0 {
			return 0, nil, ErrTruncatedFrame
		}
		return 0, nil, nil
	}
	size := int(binary.BigEndian.Uint32(data[:4]))
	if size < CSTAHeaderSize {
		return 0, nil, ErrInvalidFrame
	}
	if size > MaxFrameSize {
		return 0, nil, ErrFrameTooLarge
	}
	if len(data) < size {
		if atEOF {
			return 0, nil, ErrTruncatedFrame
		}
		return 0, nil, nil
	}
	return size, data[:size], nil
}
