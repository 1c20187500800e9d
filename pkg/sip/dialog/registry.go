// Package dialog keeps the dialogs an endpoint takes part in: the partial
// identities created when a dialog starts, the to-tags learned later and the
// per-dialog life cycle.
package dialog

import (
	"sync"
	"time"

	"github.com/arzzra/callgen/pkg/logger"
	"github.com/arzzra/callgen/pkg/sip/message"
)

// Record is a snapshot of one registry entry.
type Record struct {
	Dialog  message.Dialog
	Local   bool // started by this endpoint; its tag is the from-tag
	State   string
	Created time.Time
}

type record struct {
	dialog  message.Dialog
	local   bool
	state   *State
	created time.Time
}

// Registry is the set of dialogs known to one endpoint. Dialogs are never
// evicted; terminated ones stay for diagnostics.
type Registry struct {
	mu      sync.Mutex
	records []*record
	log     logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{log: log.WithComponent("dialog")}
}

// StartNew mints a Call-ID and a local from-tag and records the dialog.
func (r *Registry) StartNew() message.Dialog {
	d := message.Dialog{CallID: message.NewCallID(), FromTag: message.NewTag()}
	r.mu.Lock()
	r.insert(d, true)
	r.mu.Unlock()
	return d
}

// Add records a dialog started by the peer. An already known dialog is
// returned as stored.
func (r *Registry) Add(d message.Dialog, local bool) message.Dialog {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec := r.find(d); rec != nil {
		return rec.dialog
	}
	return r.insert(d, local).dialog
}

func (r *Registry) insert(d message.Dialog, local bool) *record {
	rec := &record{dialog: d, local: local, created: time.Now()}
	rec.state = newState(func(from, to string) {
		r.log.Debug("dialog state changed",
			logger.String("call_id", d.CallID),
			logger.String("from", from),
			logger.String("to", to))
	})
	if d.ToTag != "" {
		rec.state.fire(eventConfirm)
	}
	r.records = append(r.records, rec)
	return rec
}

// find returns the record for d. An exact identity wins over a partial match.
func (r *Registry) find(d message.Dialog) *record {
	if d.CallID == "" {
		return nil
	}
	var partial *record
	for _, rec := range r.records {
		if rec.dialog == d || rec.dialog == d.Reverse() {
			return rec
		}
		if partial == nil && rec.dialog.Matches(d) {
			partial = rec
		}
	}
	return partial
}

// Complete returns the confirmed identity for a partial dialog. A dialog
// that already has a to-tag, or whose stored record has none yet, is
// returned unchanged; the flag reports whether the dialog is known.
func (r *Registry) Complete(d message.Dialog) (message.Dialog, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.ToTag != "" {
		return d, r.find(d) != nil
	}
	known := false
	for _, rec := range r.records {
		if !rec.dialog.Matches(d) {
			continue
		}
		if rec.dialog.ToTag != "" {
			return rec.dialog, true
		}
		known = true
	}
	return d, known
}

// Known reports whether d denotes a recorded dialog.
func (r *Registry) Known(d message.Dialog) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(d) != nil
}

// UpdateToTag fills the missing to-tag of the stored dialog from d. The tag
// is taken from whichever side of d is not the stored from-tag.
func (r *Registry) UpdateToTag(d message.Dialog) (message.Dialog, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.find(d)
	if rec == nil {
		return d, false
	}
	if rec.dialog.ToTag == "" {
		tag := d.ToTag
		if d.ToTag == rec.dialog.FromTag {
			tag = d.FromTag
		}
		if tag != "" && tag != rec.dialog.FromTag {
			rec.dialog.ToTag = tag
			rec.state.fire(eventConfirm)
		}
	}
	return rec.dialog, true
}

// LocalTag returns the tag this endpoint owns in d.
func (r *Registry) LocalTag(d message.Dialog) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.find(d)
	if rec == nil {
		return ""
	}
	if rec.local {
		return rec.dialog.FromTag
	}
	return rec.dialog.ToTag
}

// Track advances the state of the dialog msg belongs to and returns the
// resulting state, or "" when the dialog is unknown.
func (r *Registry) Track(msg *message.Message) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.find(msg.Dialog())
	if rec == nil {
		return ""
	}
	if msg.IsResponse() {
		code := msg.StatusCode()
		switch method := msg.Method(); {
		case method == "BYE" && code >= 200:
			rec.state.fire(eventTerminate)
		case method == "CANCEL" && code >= 300:
			rec.state.fire(eventTerminate)
		case method == "INVITE" && code >= 300:
			rec.state.fire(eventTerminate)
		case msg.ToTag() != "":
			rec.state.fire(eventConfirm)
		}
	}
	return rec.state.Current()
}

// State returns the state of d, or "" when the dialog is unknown.
func (r *Registry) State(d message.Dialog) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec := r.find(d); rec != nil {
		return rec.state.Current()
	}
	return ""
}

// Dialogs returns the identities of all recorded dialogs in insertion order.
func (r *Registry) Dialogs() []message.Dialog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]message.Dialog, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.dialog)
	}
	return out
}

// Records returns snapshots of all entries.
func (r *Registry) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, Record{
			Dialog:  rec.dialog,
			Local:   rec.local,
			State:   rec.state.Current(),
			Created: rec.created,
		})
	}
	return out
}

// Len returns the number of recorded dialogs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
