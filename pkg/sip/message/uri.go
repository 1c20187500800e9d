package message

import (
	"strings"

	"github.com/emiago/sipgo/sip"
)

// AddressedUser returns the user part of the request-URI, falling back to
// the To header.
func (m *Message) AddressedUser() string {
	if user := URIUser(m.requestURI); user != "" {
		return user
	}
	return URIUser(NameAddrURI(m.Headers.Get("To")))
}

// FromUser returns the user part of the From URI.
func (m *Message) FromUser() string {
	return URIUser(NameAddrURI(m.Headers.Get("From")))
}

// URIUser returns the user part of a SIP URI, empty when raw does not parse.
func URIUser(raw string) string {
	if raw == "" {
		return ""
	}
	var uri sip.Uri
	if err := sip.ParseUri(raw, &uri); err != nil {
		return ""
	}
	return uri.User
}

// NameAddrURI extracts the URI of a From/To/Contact value.
func NameAddrURI(value string) string {
	if i := strings.IndexByte(value, '<'); i >= 0 {
		if j := strings.IndexByte(value[i:], '>'); j > 0 {
			return value[i+1 : i+j]
		}
	}
	if i := strings.IndexByte(value, ';'); i >= 0 {
		value = value[:i]
	}
	return strings.TrimSpace(value)
}
