package message

import (
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// NewCallID mints a globally unique Call-ID.
func NewCallID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewTag mints a From/To tag.
func NewTag() string {
	return sip.GenerateTagN(12)
}

// NewBranch mints an RFC 3261 Via branch (magic cookie prefixed).
func NewBranch() string {
	return sip.GenerateBranch()
}
