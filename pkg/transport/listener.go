package transport

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
)

// Handler serves one accepted link. The link is closed when it returns.
type Handler func(ctx context.Context, link *StreamLink)

// Listener accepts stream links; used by the mock peers.
type Listener struct {
	listener net.Listener
	split    bufio.SplitFunc
	closed   atomic.Bool
	wg       sync.WaitGroup

	mu    sync.Mutex
	links map[*StreamLink]struct{}
}

// Listen opens a TCP listener framing accepted connections with split.
func Listen(addr string, split bufio.SplitFunc) (*Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &TransportError{Transport: "tcp", Operation: "listen", Err: err}
	}
	return &Listener{listener: l, split: split, links: make(map[*StreamLink]struct{})}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Serve runs the accept loop until ctx is done or the listener is closed,
// calling handler on its own goroutine for every connection.
func (l *Listener) Serve(ctx context.Context, handler Handler) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for !l.closed.Load() {
		conn, err := l.listener.Accept()
		if err != nil {
			if l.closed.Load() {
				return nil
			}
			return &TransportError{Transport: "tcp", Operation: "accept", Err: err}
		}

		link := NewStreamLink(conn, l.split)
		l.track(link, true)

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer func() {
				link.Close()
				l.track(link, false)
			}()
			handler(ctx, link)
		}()
	}
	return nil
}

func (l *Listener) track(link *StreamLink, add bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if add {
		l.links[link] = struct{}{}
	} else {
		delete(l.links, link)
	}
}

// Close stops accepting, closes live links and waits for handlers.
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := l.listener.Close()

	l.mu.Lock()
	for link := range l.links {
		link.Close()
	}
	l.mu.Unlock()

	l.wg.Wait()
	return err
}
