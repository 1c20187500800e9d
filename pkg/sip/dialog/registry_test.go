package dialog

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/callgen/pkg/sip/message"
)

func response(t *testing.T, code int, reason, method string, d message.Dialog) *message.Message {
	t.Helper()
	m := message.NewResponse(code, reason)
	m.Headers.Add("From", "<sip:a@h>")
	m.Headers.Add("To", "<sip:b@h>")
	m.Headers.Add("Call-ID", d.CallID)
	m.Headers.Add("CSeq", "1 "+method)
	m.SetDialogFrom(d)
	return m
}

func TestStartNewAndComplete(t *testing.T) {
	r := NewRegistry(nil)
	d := r.StartNew()

	assert.NotEmpty(t, d.CallID)
	assert.NotEmpty(t, d.FromTag)
	assert.Empty(t, d.ToTag)
	assert.Equal(t, StateStarted, r.State(d))
	assert.Equal(t, d.FromTag, r.LocalTag(d))

	full := message.Dialog{CallID: d.CallID, FromTag: d.FromTag, ToTag: "remote"}
	updated, ok := r.UpdateToTag(full)
	require.True(t, ok)
	assert.Equal(t, full, updated)
	assert.Equal(t, StateConfirmed, r.State(d))

	got, ok := r.Complete(message.Dialog{CallID: d.CallID, FromTag: d.FromTag})
	require.True(t, ok)
	assert.Equal(t, full, got)

	// a complete identity comes back unchanged, in either orientation
	got, ok = r.Complete(full.Reverse())
	require.True(t, ok)
	assert.Equal(t, full.Reverse(), got)
}

func TestCompleteKeepsToTagNotYetStored(t *testing.T) {
	r := NewRegistry(nil)
	d := r.StartNew()

	partial := message.Dialog{CallID: d.CallID, FromTag: d.FromTag}
	got, ok := r.Complete(partial)
	require.True(t, ok)
	assert.Equal(t, partial, got)

	// response still buffered: its to-tag is not in the registry yet
	leg := message.Dialog{CallID: d.CallID, FromTag: d.FromTag, ToTag: "peer"}
	got, ok = r.Complete(leg)
	require.True(t, ok)
	assert.Equal(t, leg, got)
	assert.Equal(t, StateStarted, r.State(d))

	r.UpdateToTag(leg)
	got, ok = r.Complete(partial)
	require.True(t, ok)
	assert.Equal(t, leg, got)

	_, ok = r.Complete(message.Dialog{CallID: "other", FromTag: "x", ToTag: "y"})
	assert.False(t, ok)
}

func TestUpdateToTagFromReversedIdentity(t *testing.T) {
	r := NewRegistry(nil)
	d := r.StartNew()

	// request sent by the peer: From carries its tag, To carries ours
	updated, ok := r.UpdateToTag(message.Dialog{CallID: d.CallID, FromTag: "peer", ToTag: d.FromTag})
	require.True(t, ok)
	assert.Equal(t, "peer", updated.ToTag)
}

func TestUpdateToTagKeepsFirstTag(t *testing.T) {
	r := NewRegistry(nil)
	d := r.StartNew()

	r.UpdateToTag(message.Dialog{CallID: d.CallID, FromTag: d.FromTag, ToTag: "first"})
	got, _ := r.UpdateToTag(message.Dialog{CallID: d.CallID, FromTag: d.FromTag, ToTag: "second"})
	assert.Equal(t, "first", got.ToTag)
}

func TestUnknownDialog(t *testing.T) {
	r := NewRegistry(nil)

	_, ok := r.Complete(message.Dialog{CallID: "nope"})
	assert.False(t, ok)
	_, ok = r.UpdateToTag(message.Dialog{CallID: "nope", ToTag: "x"})
	assert.False(t, ok)
	assert.False(t, r.Known(message.Dialog{}))
	assert.Equal(t, "", r.State(message.Dialog{CallID: "nope"}))
}

func TestAddRemoteDialog(t *testing.T) {
	r := NewRegistry(nil)
	d := message.Dialog{CallID: "c1", FromTag: "peer"}

	stored := r.Add(d, false)
	assert.Equal(t, d, stored)
	assert.Equal(t, 1, r.Len())

	r.Add(d, false)
	assert.Equal(t, 1, r.Len(), "known dialog is not added twice")

	r.UpdateToTag(message.Dialog{CallID: "c1", FromTag: "peer", ToTag: "mine"})
	assert.Equal(t, "mine", r.LocalTag(d))

	recs := r.Records()
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Local)
	assert.Equal(t, StateConfirmed, recs[0].State)
}

func TestTrackLifecycle(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		method string
		toTag  string
		want   string
	}{
		{"provisional with tag confirms", 180, "INVITE", "b", StateConfirmed},
		{"provisional without tag", 100, "INVITE", "", StateStarted},
		{"invite rejected", 486, "INVITE", "b", StateTerminated},
		{"bye answered", 200, "BYE", "b", StateTerminated},
		{"bye rejected", 481, "BYE", "b", StateTerminated},
		{"cancel accepted", 200, "CANCEL", "b", StateConfirmed},
		{"cancel failed", 481, "CANCEL", "b", StateTerminated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil)
			d := r.StartNew()
			d.ToTag = tt.toTag

			assert.Equal(t, tt.want, r.Track(response(t, tt.code, "X", tt.method, d)))
		})
	}
}

func TestTerminatedIsFinal(t *testing.T) {
	r := NewRegistry(nil)
	d := r.StartNew()
	d.ToTag = "b"

	r.Track(response(t, 200, "OK", "BYE", d))
	assert.Equal(t, StateTerminated, r.Track(response(t, 200, "OK", "INVITE", d)))
	assert.Equal(t, 1, r.Len(), "terminated dialogs are kept")
}

func TestTrackUnknown(t *testing.T) {
	r := NewRegistry(nil)
	assert.Equal(t, "", r.Track(response(t, 200, "OK", "BYE", message.Dialog{CallID: "x"})))
}

func TestConcurrentStartNew(t *testing.T) {
	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := r.StartNew()
			r.UpdateToTag(message.Dialog{CallID: d.CallID, FromTag: d.FromTag, ToTag: "t"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, r.Len())
	seen := make(map[string]bool)
	for _, d := range r.Dialogs() {
		assert.False(t, seen[d.CallID])
		seen[d.CallID] = true
		assert.Equal(t, "t", d.ToTag)
	}
}
