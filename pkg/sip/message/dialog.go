package message

import "fmt"

// Dialog identifies a SIP dialog.
type Dialog struct {
	CallID  string
	FromTag string
	ToTag   string
}

// IsZero reports whether d has no Call-ID.
func (d Dialog) IsZero() bool {
	return d.CallID == ""
}

// Complete reports whether both tags are known.
func (d Dialog) Complete() bool {
	return d.CallID != "" && d.FromTag != "" && d.ToTag != ""
}

// Reverse swaps the tags, giving the dialog as seen by the other side.
func (d Dialog) Reverse() Dialog {
	return Dialog{CallID: d.CallID, FromTag: d.ToTag, ToTag: d.FromTag}
}

// Matches reports whether two dialog identities can denote the same dialog.
// The Call-ID must be equal; tags are compared in either orientation and an
// empty tag matches anything, so a dialog started without a to-tag matches
// the responses that complete it.
func (d Dialog) Matches(o Dialog) bool {
	if d.CallID != o.CallID {
		return false
	}
	if tagMatch(d.FromTag, o.FromTag) && tagMatch(d.ToTag, o.ToTag) {
		return true
	}
	return tagMatch(d.FromTag, o.ToTag) && tagMatch(d.ToTag, o.FromTag)
}

func tagMatch(a, b string) bool {
	return a == "" || b == "" || a == b
}

func (d Dialog) String() string {
	return fmt.Sprintf("%s;from-tag=%s;to-tag=%s", d.CallID, d.FromTag, d.ToTag)
}

// Transaction identifies a SIP transaction.
type Transaction struct {
	Branch string
	Seq    int
	Method string
}

// Key returns the (branch, method) pair used to correlate requests and responses.
func (t Transaction) Key() string {
	return t.Branch + "|" + t.Method
}

func (t Transaction) String() string {
	return fmt.Sprintf("%s;cseq=%d %s", t.Branch, t.Seq, t.Method)
}
