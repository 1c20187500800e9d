// Package transaction assigns branches and CSeq numbers to outgoing requests
// and correlates requests with their responses.
package transaction

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/arzzra/callgen/pkg/sip/message"
)

// Direction of a request relative to the endpoint owning the ledger.
type Direction int

const (
	Outgoing Direction = iota + 1
	Incoming
)

func (d Direction) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}

// Pending is an outstanding request awaiting its final response.
type Pending struct {
	Transaction message.Transaction
	Dialog      message.Dialog
	Direction   Direction
	Since       time.Time
}

type dialogEntry struct {
	dialog      message.Dialog
	last        *message.Message
	lastRequest *message.Message // last request sent by us
	methods     []string         // distinct methods sent, in order
}

// Ledger is the per-endpoint transaction record.
type Ledger struct {
	mu      sync.Mutex
	dialogs []*dialogEntry
	pending map[string]*Pending
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{pending: make(map[string]*Pending)}
}

// entry finds the record for d. With learn set, a missing to-tag is filled
// from d.
func (l *Ledger) entry(d message.Dialog, create, learn bool) *dialogEntry {
	for _, e := range l.dialogs {
		if e.dialog.Matches(d) {
			if learn && e.dialog.ToTag == "" && d.ToTag != "" && d.FromTag == e.dialog.FromTag {
				e.dialog.ToTag = d.ToTag
			}
			return e
		}
	}
	if !create {
		return nil
	}
	e := &dialogEntry{dialog: d}
	l.dialogs = append(l.dialogs, e)
	return e
}

// Next returns the transaction for a new request of method in dialog d.
//
// ACK and CANCEL reuse the branch and sequence number of the last message in
// the dialog. A method already sent in the dialog gets the last sequence
// number plus one on the same branch. Anything else gets a fresh branch and
// a sequence number equal to the count of distinct methods sent so far.
// REGISTER is never counted so repeated registrations keep their numbering.
func (l *Ledger) Next(method string, d message.Dialog) (message.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(d, false, false)

	switch method {
	case "ACK", "CANCEL":
		if e == nil || e.last == nil {
			return message.Transaction{}, errors.Wrapf(ErrNoActiveTransaction, "%s in %s", method, d)
		}
		tx := e.last.Transaction()
		return message.Transaction{Branch: tx.Branch, Seq: tx.Seq, Method: method}, nil
	}

	if e != nil && e.last != nil && contains(e.methods, method) {
		tx := e.last.Transaction()
		return message.Transaction{Branch: tx.Branch, Seq: tx.Seq + 1, Method: method}, nil
	}

	seq := 0
	if e != nil {
		seq = len(e.methods)
	}
	return message.Transaction{Branch: message.NewBranch(), Seq: seq, Method: method}, nil
}

// Sent records a message written by the endpoint.
func (l *Ledger) Sent(msg *message.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(msg.Dialog(), true, true)
	e.last = msg

	if msg.IsRequest() {
		e.lastRequest = msg
		method := msg.Method()
		if method != "REGISTER" && method != "ACK" && method != "CANCEL" && !contains(e.methods, method) {
			e.methods = append(e.methods, method)
		}
		return l.open(msg, Outgoing)
	}
	return l.close(msg, Incoming)
}

// Received records a message read by the endpoint. A response answering no
// outstanding request is recorded and reported with ErrUnmatchedResponse.
// The to-tag of a 401/407 challenge is not learned: the retried request may
// be answered under another tag.
func (l *Ledger) Received(msg *message.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(msg.Dialog(), true, !msg.IsChallenge())
	e.last = msg

	if msg.IsRequest() {
		return l.open(msg, Incoming)
	}
	return l.close(msg, Outgoing)
}

func (l *Ledger) open(msg *message.Message, dir Direction) error {
	if msg.Method() == "ACK" {
		return nil
	}
	tx := msg.Transaction()
	key := tx.Key()
	if p, ok := l.pending[key]; ok && p.Direction == dir && p.Transaction.Seq == tx.Seq {
		return errors.Wrapf(ErrDuplicateRequest, "%s", tx)
	}
	l.pending[key] = &Pending{Transaction: tx, Dialog: msg.Dialog(), Direction: dir, Since: time.Now()}
	return nil
}

func (l *Ledger) close(msg *message.Message, dir Direction) error {
	tx := msg.Transaction()
	p, ok := l.pending[tx.Key()]
	if !ok || p.Direction != dir {
		return errors.Wrapf(ErrUnmatchedResponse, "%s %s", msg.Type(), tx)
	}
	if msg.StatusCode() >= 200 {
		delete(l.pending, tx.Key())
	}
	return nil
}

// LastMessage returns the last message recorded in dialog d.
func (l *Ledger) LastMessage(d message.Dialog) (*message.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e := l.entry(d, false, false); e != nil && e.last != nil {
		return e.last, true
	}
	return nil, false
}

// LastRequest returns the last request the endpoint sent in dialog d.
func (l *Ledger) LastRequest(d message.Dialog) (*message.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e := l.entry(d, false, false); e != nil && e.lastRequest != nil {
		return e.lastRequest, true
	}
	return nil, false
}

// Methods returns the distinct request methods sent in dialog d.
func (l *Ledger) Methods(d message.Dialog) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e := l.entry(d, false, false); e != nil {
		return append([]string(nil), e.methods...)
	}
	return nil
}

// Outstanding returns the requests still waiting for a final response.
func (l *Ledger) Outstanding() []Pending {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Pending, 0, len(l.pending))
	for _, p := range l.pending {
		out = append(out, *p)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
