// Package message implements the SIP message model used by the harness:
// parsing, template building, header access and the dialog/transaction
// stamping helpers endpoints rely on.
package message

import (
	"strconv"
	"strings"
)

// Kind tells requests and responses apart.
type Kind int

const (
	KindRequest Kind = iota + 1
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Message is a SIP request or response.
type Message struct {
	kind Kind

	// request line
	method     string
	requestURI string

	// status line
	statusCode int
	reason     string

	version string
	Headers *Headers
	Body    string
}

// NewRequest creates a request with an empty header list.
func NewRequest(method, requestURI string) *Message {
	return &Message{
		kind:       KindRequest,
		method:     strings.ToUpper(method),
		requestURI: requestURI,
		version:    "SIP/2.0",
		Headers:    NewHeaders(),
	}
}

// NewResponse creates a response with an empty header list.
func NewResponse(code int, reason string) *Message {
	return &Message{
		kind:       KindResponse,
		statusCode: code,
		reason:     reason,
		version:    "SIP/2.0",
		Headers:    NewHeaders(),
	}
}

func (m *Message) Kind() Kind         { return m.kind }
func (m *Message) IsRequest() bool    { return m.kind == KindRequest }
func (m *Message) IsResponse() bool   { return m.kind == KindResponse }
func (m *Message) RequestURI() string { return m.requestURI }
func (m *Message) StatusCode() int    { return m.statusCode }
func (m *Message) Reason() string     { return m.reason }

// Method returns the request method. For responses it is the CSeq method.
func (m *Message) Method() string {
	if m.kind == KindRequest {
		return m.method
	}
	_, method := m.CSeq()
	return method
}

// StartLine returns the request line or the status line.
func (m *Message) StartLine() string {
	if m.kind == KindRequest {
		return m.method + " " + m.requestURI + " " + m.version
	}
	return m.version + " " + strconv.Itoa(m.statusCode) + " " + m.reason
}

// Type returns the method of a request or "<code> <reason>" of a response.
func (m *Message) Type() string {
	if m.kind == KindRequest {
		return m.method
	}
	return strconv.Itoa(m.statusCode) + " " + m.reason
}

// Is reports whether the message is of the expected type. The match is by
// containment so "200 OK", "200" and "INVITE" all work.
func (m *Message) Is(expected string) bool {
	if expected == "" {
		return false
	}
	return strings.Contains(m.Type(), expected)
}

// IsChallenge reports whether the message is a 401 or 407 response.
func (m *Message) IsChallenge() bool {
	return m.kind == KindResponse && (m.statusCode == 401 || m.statusCode == 407)
}

// IsProvisional reports whether the message is a 1xx response.
func (m *Message) IsProvisional() bool {
	return m.kind == KindResponse && m.statusCode >= 100 && m.statusCode < 200
}

// Header returns the first value of a header, or the occurrence addressed by "Name#N".
func (m *Message) Header(name string) string {
	return m.Headers.Get(name)
}

// SetHeader replaces a header value, appending it when missing.
func (m *Message) SetHeader(name, value string) {
	m.Headers.Set(name, value)
}

func (m *Message) CallID() string  { return m.Headers.Get("Call-ID") }
func (m *Message) FromTag() string { return headerParam(m.Headers.Get("From"), "tag") }
func (m *Message) ToTag() string   { return headerParam(m.Headers.Get("To"), "tag") }
func (m *Message) Branch() string  { return viaParam(m.Headers.Get("Via"), "branch") }

func (m *Message) SetCallID(callID string) { m.Headers.Set("Call-ID", callID) }
func (m *Message) SetFromTag(tag string)   { m.setHeaderParam("From", "tag", tag) }
func (m *Message) SetToTag(tag string)     { m.setHeaderParam("To", "tag", tag) }

// SetBranch sets the branch of the topmost Via.
func (m *Message) SetBranch(branch string) {
	via, ok := m.Headers.Lookup("Via")
	if !ok {
		return
	}
	m.Headers.Set("Via", setParam(via, "branch", branch))
}

// CSeq returns the sequence number and method of the CSeq header.
func (m *Message) CSeq() (int, string) {
	fields := strings.Fields(m.Headers.Get("CSeq"))
	if len(fields) < 2 {
		return 0, ""
	}
	seq, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, strings.ToUpper(fields[1])
	}
	return seq, strings.ToUpper(fields[1])
}

// SetCSeq overwrites the CSeq header.
func (m *Message) SetCSeq(seq int, method string) {
	m.Headers.Set("CSeq", strconv.Itoa(seq)+" "+method)
}

// Dialog returns the dialog identity carried by the message.
func (m *Message) Dialog() Dialog {
	return Dialog{CallID: m.CallID(), FromTag: m.FromTag(), ToTag: m.ToTag()}
}

// Transaction returns the transaction identity carried by the message.
func (m *Message) Transaction() Transaction {
	seq, method := m.CSeq()
	return Transaction{Branch: m.Branch(), Seq: seq, Method: method}
}

// SetDialogFrom stamps Call-ID and tags. An empty to-tag leaves To untouched.
func (m *Message) SetDialogFrom(d Dialog) {
	if d.CallID != "" {
		m.SetCallID(d.CallID)
	}
	if d.FromTag != "" {
		m.SetFromTag(d.FromTag)
	}
	if d.ToTag != "" {
		m.SetToTag(d.ToTag)
	}
}

// SetTransactionFrom stamps the Via branch and CSeq. Requests keep their own
// method in CSeq, responses take the transaction method.
func (m *Message) SetTransactionFrom(tx Transaction) {
	if tx.Branch != "" {
		m.SetBranch(tx.Branch)
	}
	method := tx.Method
	if m.kind == KindRequest {
		method = m.method
	}
	if method != "" {
		m.SetCSeq(tx.Seq, method)
	}
}

// MakeResponseTo copies the correlation headers of req into the response:
// Via (all of them), From, To, Call-ID and CSeq. When req carries no to-tag
// the given tag is added, or a fresh one when tag is empty.
func (m *Message) MakeResponseTo(req *Message, tag string) error {
	if m.kind != KindResponse {
		return ErrNotResponse
	}

	vias := req.Headers.Values("Via")
	m.Headers.Del("Via")
	for _, via := range vias {
		m.Headers.Add("Via", via)
	}
	m.Headers.Set("From", req.Headers.Get("From"))
	m.Headers.Set("To", req.Headers.Get("To"))
	m.SetCallID(req.CallID())
	m.Headers.Set("CSeq", req.Headers.Get("CSeq"))

	if req.ToTag() == "" {
		if tag == "" {
			tag = NewTag()
		}
		m.SetToTag(tag)
	}
	return nil
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	c := *m
	c.Headers = m.Headers.Clone()
	return &c
}

// String serializes the message for the wire.
func (m *Message) String() string {
	var sb strings.Builder
	sb.Grow(512 + len(m.Body))
	sb.WriteString(m.StartLine())
	sb.WriteString("\r\n")
	m.Headers.writeTo(&sb)
	sb.WriteString("\r\n")
	sb.WriteString(m.Body)
	return sb.String()
}

// Bytes serializes the message for the wire.
func (m *Message) Bytes() []byte {
	return []byte(m.String())
}

func (m *Message) setHeaderParam(header, param, value string) {
	v, ok := m.Headers.Lookup(header)
	if !ok {
		return
	}
	m.Headers.Set(header, setParam(v, param, value))
}

// paramRegion returns the offset where header parameters start: after the
// closing '>' of a name-addr, otherwise the whole value.
func paramRegion(value string) int {
	if i := strings.LastIndexByte(value, '>'); i >= 0 {
		return i + 1
	}
	return 0
}

func headerParam(value, name string) string {
	return findParam(value, paramRegion(value), name)
}

func viaParam(value, name string) string {
	return findParam(value, 0, name)
}

func findParam(value string, from int, name string) string {
	for _, p := range strings.Split(value[from:], ";")[1:] {
		k, v, _ := strings.Cut(p, "=")
		if strings.EqualFold(strings.TrimSpace(k), name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// setParam replaces or appends ;name=value in the parameter region of a
// header value. An empty value removes the parameter.
func setParam(value, name, param string) string {
	start := paramRegion(value)
	head := value[:start]
	parts := strings.Split(value[start:], ";")

	out := []string{parts[0]}
	found := false
	for _, p := range parts[1:] {
		k, _, _ := strings.Cut(p, "=")
		if strings.EqualFold(strings.TrimSpace(k), name) {
			found = true
			if param != "" {
				out = append(out, name+"="+param)
			}
			continue
		}
		out = append(out, p)
	}
	if !found && param != "" {
		out = append(out, name+"="+param)
	}
	return head + strings.Join(out, ";")
}
