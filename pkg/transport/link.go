// Package transport carries framed SIP and CSTA messages over stream
// sockets.
package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Link is a bidirectional message socket.
type Link interface {
	// Send writes one complete message.
	Send(data []byte) error
	// Receive returns the next complete message. A zero timeout blocks.
	Receive(timeout time.Duration) ([]byte, error)
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Close() error
}

// StreamLink frames messages on a net.Conn. Writes are serialized; partial
// frames survive read timeouts.
type StreamLink struct {
	conn    net.Conn
	split   bufio.SplitFunc
	network string

	writeMu sync.Mutex

	readMu  sync.Mutex
	pending []byte
	buf     []byte
	eof     bool

	closeOnce sync.Once
}

// NewStreamLink wraps conn with the given framing.
func NewStreamLink(conn net.Conn, split bufio.SplitFunc) *StreamLink {
	network := "tcp"
	if conn.LocalAddr() != nil {
		network = conn.LocalAddr().Network()
	}
	return &StreamLink{
		conn:    conn,
		split:   split,
		network: network,
		buf:     make([]byte, 32*1024),
	}
}

// Dial connects to remote, optionally binding local, and frames with split.
func Dial(ctx context.Context, network, local, remote string, split bufio.SplitFunc) (*StreamLink, error) {
	dialer := net.Dialer{}
	if local != "" {
		addr, err := net.ResolveTCPAddr(network, local)
		if err != nil {
			return nil, &TransportError{Transport: network, Operation: "resolve", Err: err}
		}
		dialer.LocalAddr = addr
	}
	conn, err := dialer.DialContext(ctx, network, remote)
	if err != nil {
		return nil, &TransportError{Transport: network, Operation: "dial", Err: err}
	}
	return NewStreamLink(conn, split), nil
}

func (l *StreamLink) Send(data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.conn.Write(data); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return ErrLinkClosed
		}
		return &TransportError{Transport: l.network, Operation: "write", Err: err}
	}
	return nil
}

func (l *StreamLink) Receive(timeout time.Duration) ([]byte, error) {
	l.readMu.Lock()
	defer l.readMu.Unlock()

	for {
		if len(l.pending) > 0 || l.eof {
			advance, token, err := l.split(l.pending, l.eof)
			if err != nil {
				return nil, &TransportError{Transport: l.network, Operation: "frame", Err: err}
			}
			if advance > 0 {
				l.pending = l.pending[advance:]
			}
			if token != nil {
				frame := make([]byte, len(token))
				copy(frame, token)
				return frame, nil
			}
			if advance > 0 {
				continue
			}
		}
		if l.eof {
			return nil, ErrLinkClosed
		}

		var deadline time.Time
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		if err := l.conn.SetReadDeadline(deadline); err != nil && !errors.Is(err, net.ErrClosed) {
			return nil, &TransportError{Transport: l.network, Operation: "deadline", Err: err}
		}

		n, err := l.conn.Read(l.buf)
		if n > 0 {
			l.pending = append(l.pending, l.buf[:n]...)
		}
		if err != nil {
			switch {
			case isTimeout(err):
				if n > 0 {
					continue
				}
				return nil, ErrReadTimeout
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
				l.eof = true
			default:
				return nil, &TransportError{Transport: l.network, Operation: "read", Err: err}
			}
		}
	}
}

func (l *StreamLink) LocalAddr() net.Addr  { return l.conn.LocalAddr() }
func (l *StreamLink) RemoteAddr() net.Addr { return l.conn.RemoteAddr() }

func (l *StreamLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.conn.Close()
	})
	return err
}
