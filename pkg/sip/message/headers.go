package message

import (
	"strconv"
	"strings"
)

// Headers is an ordered, case-insensitive header list. Repeated names are kept
// as separate entries; the second and later occurrences of a name are
// addressable as "Name#1", "Name#2" and so on.
type Headers struct {
	entries []headerEntry
}

type headerEntry struct {
	name  string // as written
	key   string // normalized
	value string
}

// NewHeaders creates an empty header list.
func NewHeaders() *Headers {
	return &Headers{entries: make([]headerEntry, 0, 12)}
}

// normalizeHeaderName normalizes header name for case-insensitive comparison
func normalizeHeaderName(name string) string {
	// Common compact forms
	switch strings.ToLower(name) {
	case "i":
		return "call-id"
	case "m":
		return "contact"
	case "f":
		return "from"
	case "t":
		return "to"
	case "v":
		return "via"
	case "c":
		return "content-type"
	case "l":
		return "content-length"
	case "k":
		return "supported"
	default:
		return strings.ToLower(name)
	}
}

// splitIndex splits "Via#2" into ("via", 2). Plain names have index 0.
func splitIndex(name string) (string, int) {
	if i := strings.LastIndexByte(name, '#'); i > 0 {
		if n, err := strconv.Atoi(name[i+1:]); err == nil && n >= 0 {
			return normalizeHeaderName(strings.TrimSpace(name[:i])), n
		}
	}
	return normalizeHeaderName(strings.TrimSpace(name)), 0
}

// position returns the entry index addressed by name, or -1.
func (h *Headers) position(name string) int {
	key, n := splitIndex(name)
	seen := 0
	for i := range h.entries {
		if h.entries[i].key != key {
			continue
		}
		if seen == n {
			return i
		}
		seen++
	}
	return -1
}

// Get returns the value addressed by name, or "" when absent.
func (h *Headers) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup returns the value addressed by name.
func (h *Headers) Lookup(name string) (string, bool) {
	if h == nil {
		return "", false
	}
	if i := h.position(name); i >= 0 {
		return h.entries[i].value, true
	}
	return "", false
}

// Has reports whether the header exists.
func (h *Headers) Has(name string) bool {
	_, ok := h.Lookup(name)
	return ok
}

// Values returns every value of a header name in order.
func (h *Headers) Values(name string) []string {
	key, _ := splitIndex(name)
	var values []string
	for _, e := range h.entries {
		if e.key == key {
			values = append(values, e.value)
		}
	}
	return values
}

// Add appends a header, keeping existing values.
func (h *Headers) Add(name, value string) {
	base, _ := splitIndex(name)
	display := strings.TrimSpace(name)
	if i := strings.LastIndexByte(display, '#'); i > 0 {
		display = display[:i]
	}
	h.entries = append(h.entries, headerEntry{name: display, key: base, value: value})
}

// Set replaces the value addressed by name, keeping its position, or appends
// the header when it does not exist.
func (h *Headers) Set(name, value string) {
	if i := h.position(name); i >= 0 {
		h.entries[i].value = value
		return
	}
	h.Add(name, value)
}

// Del removes the addressed occurrence. A plain name removes every occurrence.
func (h *Headers) Del(name string) {
	key, n := splitIndex(name)
	if n > 0 || strings.Contains(name, "#") {
		if i := h.position(name); i >= 0 {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
		}
		return
	}
	kept := h.entries[:0]
	for _, e := range h.entries {
		if e.key != key {
			kept = append(kept, e)
		}
	}
	h.entries = kept
}

// Keys returns the header names in order. Repeats carry the "#N" suffix.
func (h *Headers) Keys() []string {
	counts := make(map[string]int, len(h.entries))
	keys := make([]string, 0, len(h.entries))
	for _, e := range h.entries {
		n := counts[e.key]
		counts[e.key] = n + 1
		if n == 0 {
			keys = append(keys, e.name)
		} else {
			keys = append(keys, e.name+"#"+strconv.Itoa(n))
		}
	}
	return keys
}

// Len returns the number of header lines.
func (h *Headers) Len() int {
	return len(h.entries)
}

// Clone creates a deep copy of headers
func (h *Headers) Clone() *Headers {
	clone := &Headers{entries: make([]headerEntry, len(h.entries))}
	copy(clone.entries, h.entries)
	return clone
}

func (h *Headers) writeTo(sb *strings.Builder) {
	for _, e := range h.entries {
		sb.WriteString(e.name)
		sb.WriteString(": ")
		sb.WriteString(e.value)
		sb.WriteString("\r\n")
	}
}
