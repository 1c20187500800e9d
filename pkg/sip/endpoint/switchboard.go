package endpoint

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/arzzra/callgen/pkg/logger"
	"github.com/arzzra/callgen/pkg/metrics"
	"github.com/arzzra/callgen/pkg/sip/message"
	"github.com/arzzra/callgen/pkg/transport"
)

// readPoll is how long the reader blocks before checking for shutdown.
const readPoll = 200 * time.Millisecond

// switchboard owns a link: it reads every message arriving on it and hands
// it to the line it belongs to. lines[0] owns the link.
type switchboard struct {
	link    transport.Link
	log     logger.Logger
	metrics *metrics.Collector

	mu    sync.Mutex
	lines []*Endpoint

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newSwitchboard(link transport.Link, owner *Endpoint, log logger.Logger, m *metrics.Collector) *switchboard {
	return &switchboard{
		link:    link,
		log:     log.WithComponent("switchboard"),
		metrics: m,
		lines:   []*Endpoint{owner},
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *switchboard) owner() *Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines[0]
}

func (s *switchboard) add(e *Endpoint) {
	s.mu.Lock()
	s.lines = append(s.lines, e)
	s.mu.Unlock()
}

func (s *switchboard) remove(e *Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, line := range s.lines {
		if i > 0 && line == e {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			return
		}
	}
}

func (s *switchboard) snapshot() []*Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Endpoint(nil), s.lines...)
}

func (s *switchboard) send(msg *message.Message) error {
	if err := s.link.Send(msg.Bytes()); err != nil {
		return errors.Wrapf(err, "send %s", msg.Type())
	}
	s.metrics.MessageSent(metrics.SIP, msg.Type())
	return nil
}

func (s *switchboard) run() {
	defer close(s.done)
	defer s.closeLines()

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		data, err := s.link.Receive(readPoll)
		if err != nil {
			if errors.Is(err, transport.ErrReadTimeout) {
				continue
			}
			select {
			case <-s.stop:
			default:
				s.log.Warn("link reader stopped", logger.Err(err))
			}
			return
		}

		msg, err := message.Parse(data)
		if err != nil {
			s.log.Warn("dropping unparsable message", logger.Err(err), logger.Int("size", len(data)))
			continue
		}
		s.route(msg).deliver(msg)
	}
}

// route picks the line for msg: a request starting a dialog goes to the line
// it is addressed to, anything else to the line knowing its dialog. The link
// owner gets the rest.
func (s *switchboard) route(msg *message.Message) *Endpoint {
	lines := s.snapshot()
	if len(lines) == 1 {
		return lines[0]
	}

	if msg.IsRequest() && msg.ToTag() == "" {
		if user := msg.AddressedUser(); user != "" {
			for _, line := range lines {
				if line.number == user {
					return line
				}
			}
		}
	}

	d := msg.Dialog()
	for _, line := range lines {
		if line.registry.Known(d) {
			return line
		}
	}
	return lines[0]
}

func (s *switchboard) closeLines() {
	for _, line := range s.snapshot() {
		line.inbox.Close()
	}
}

func (s *switchboard) close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	err := s.link.Close()
	<-s.done
	return err
}
