package application

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/arzzra/callgen/pkg/csta/message"
	"github.com/arzzra/callgen/pkg/logger"
)

// watermark is the lowest invoke id a new request may use. It only grows.
type watermark struct {
	mu  sync.Mutex
	min int
}

func (w *watermark) get() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.min
}

func (w *watermark) raise(id int) {
	w.mu.Lock()
	if id+1 > w.min {
		w.min = id + 1
	}
	w.mu.Unlock()
}

// Ledger tracks the invoke ids of one user's open CSTA transactions.
type Ledger struct {
	mu   sync.Mutex
	in   map[int]string // received requests awaiting our response
	out  map[int]string // sent requests awaiting a response
	mark *watermark
	log  logger.Logger
}

func newLedger(mark *watermark, log logger.Logger) *Ledger {
	return &Ledger{
		in:   make(map[int]string),
		out:  make(map[int]string),
		mark: mark,
		log:  log,
	}
}

// TransactionID returns the invoke id for an outgoing message of event.
//
// A response reuses the id of a received request of the same base name. A
// request takes one more than the highest outstanding id, or the
// application-wide watermark when nothing is outstanding. Events use 9999.
// Ids wrap below 9999 to fit the four digit header.
func (l *Ledger) TransactionID(event string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch message.KindOf(event) {
	case message.KindEvent:
		return message.EventInvokeID, nil
	case message.KindResponse:
		base := strings.TrimSuffix(event, "Response")
		ids := sortedIDs(l.in)
		for _, id := range ids {
			if l.in[id] == base {
				return id, nil
			}
		}
		return 0, errors.Wrapf(ErrNoMatchingRequest, "%s without %s", event, base)
	default:
		if len(l.out) == 0 {
			return l.mark.get() % message.EventInvokeID, nil
		}
		ids := sortedIDs(l.out)
		return (ids[len(ids)-1] + 1) % message.EventInvokeID, nil
	}
}

// Sent records an outgoing message.
func (l *Ledger) Sent(msg *message.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch msg.Kind() {
	case message.KindResponse:
		if _, ok := l.in[msg.InvokeID]; ok {
			delete(l.in, msg.InvokeID)
			l.mark.raise(msg.InvokeID)
		}
	case message.KindRequest:
		if prev, ok := l.out[msg.InvokeID]; ok {
			l.log.Warn("sending request with invoke id of an unanswered request",
				logger.String("event", msg.Event),
				logger.Int("invoke_id", msg.InvokeID),
				logger.String("unanswered", prev))
		}
		l.out[msg.InvokeID] = msg.Event
		l.mark.raise(msg.InvokeID)
	}
}

// Received records an incoming message. A response to no outstanding
// request is reported with ErrUnmatchedResponse.
func (l *Ledger) Received(msg *message.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch msg.Kind() {
	case message.KindResponse:
		if _, ok := l.out[msg.InvokeID]; !ok {
			return errors.Wrapf(ErrUnmatchedResponse, "%s with invoke id %d", msg.Event, msg.InvokeID)
		}
		delete(l.out, msg.InvokeID)
		l.mark.raise(msg.InvokeID)
	case message.KindRequest:
		if prev, ok := l.in[msg.InvokeID]; ok {
			l.log.Warn("received request with invoke id of an active request",
				logger.String("event", msg.Event),
				logger.Int("invoke_id", msg.InvokeID),
				logger.String("active", prev))
		}
		l.in[msg.InvokeID] = msg.Event
		l.mark.raise(msg.InvokeID)
	}
	return nil
}

// Awaiting reports whether id is an outstanding outgoing request.
func (l *Ledger) Awaiting(id int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.out[id]
	return ok
}

// Outstanding returns the outgoing requests by invoke id.
func (l *Ledger) Outstanding() map[int]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int]string, len(l.out))
	for k, v := range l.out {
		out[k] = v
	}
	return out
}

func (l *Ledger) reset() {
	l.mu.Lock()
	l.in = make(map[int]string)
	l.out = make(map[int]string)
	l.mu.Unlock()
}

func sortedIDs(m map[int]string) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
