// Package message models CSTA XML messages and their binary framing: a
// 4-byte big-endian length covering the whole frame, four ASCII digits of
// invoke id and the XML document.
package message

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html/charset"

	"github.com/arzzra/callgen/pkg/templates"
)

const (
	// HeaderSize is the length prefix plus the invoke id.
	HeaderSize = 8
	// EventInvokeID is carried by every event.
	EventInvokeID = 9999
	// DefaultNamespace applies to messages without a default namespace.
	DefaultNamespace = "http://www.ecma-international.org/standards/ecma-323/csta/ed4"
	// DefaultEncoding applies to documents without an encoding declaration.
	DefaultEncoding = "UTF-8"
)

var encodingPattern = regexp.MustCompile(`encoding=['"]([^'"]+)['"]\s*\?>`)

// Kind classifies a message by its event name.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	default:
		return "request"
	}
}

// KindOf classifies an event name: "...Response" is a response, "...Event"
// an event and anything else a request.
func KindOf(event string) Kind {
	switch {
	case strings.HasSuffix(event, "Response"):
		return KindResponse
	case strings.HasSuffix(event, "Event"):
		return KindEvent
	default:
		return KindRequest
	}
}

// Message is one CSTA message.
type Message struct {
	InvokeID  int
	Event     string // local name of the root element
	Namespace string
	Encoding  string
	Body      string // the XML document, decoded
}

// Parse decodes a complete frame.
func Parse(data []byte) (*Message, error) {
	if len(data) < HeaderSize {
		return nil, ErrShortFrame
	}
	size := int(binary.BigEndian.Uint32(data[:4]))
	if size < HeaderSize {
		return nil, errors.Wrapf(ErrShortFrame, "declared size %d", size)
	}
	if size > len(data) {
		return nil, errors.Wrapf(ErrTruncatedFrame, "declared %d, have %d", size, len(data))
	}

	id, err := parseInvokeID(data[4:8])
	if err != nil {
		return nil, err
	}

	raw := data[HeaderSize:size]
	enc := DefaultEncoding
	if m := encodingPattern.FindSubmatch(raw); m != nil {
		enc = string(m[1])
	}
	decoder, _ := charset.Lookup(enc)
	if decoder == nil {
		return nil, errors.Wrap(ErrUnsupportedEncoding, enc)
	}
	body, err := decoder.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s body", enc)
	}
	return fromText(strings.TrimSpace(string(body)), id, enc)
}

// Build renders a CSTA template and parses the result.
func Build(template string, params map[string]string, invokeID int) (*Message, error) {
	text, err := templates.Render(template, params)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)

	enc := DefaultEncoding
	if m := encodingPattern.FindStringSubmatch(text); m != nil {
		enc = m[1]
	}
	return fromText(text, invokeID, enc)
}

func fromText(body string, invokeID int, enc string) (*Message, error) {
	root, err := rootElement(body)
	if err != nil {
		return nil, err
	}
	ns := root.Name.Space
	if ns == "" {
		ns = DefaultNamespace
	}
	return &Message{
		InvokeID:  invokeID,
		Event:     root.Name.Local,
		Namespace: ns,
		Encoding:  enc,
		Body:      body,
	}, nil
}

func parseInvokeID(b []byte) (int, error) {
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, errors.Wrapf(ErrInvalidInvokeID, "%q", b)
		}
	}
	id, _ := strconv.Atoi(string(b))
	return id, nil
}

func newDecoder(body string) *xml.Decoder {
	dec := xml.NewDecoder(strings.NewReader(body))
	// the body is already UTF-8 whatever the declaration says
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	return dec
}

func rootElement(body string) (xml.StartElement, error) {
	dec := newDecoder(body)
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, errors.Wrap(ErrInvalidXML, err.Error())
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start, nil
		}
	}
}

func (m *Message) Kind() Kind       { return KindOf(m.Event) }
func (m *Message) IsRequest() bool  { return m.Kind() == KindRequest }
func (m *Message) IsResponse() bool { return m.Kind() == KindResponse }
func (m *Message) IsEvent() bool    { return m.Kind() == KindEvent }

// element is the position of one element in Body.
type element struct {
	rawName      string
	contentStart int
	contentEnd   int
	selfClosing  bool
}

// find locates the first element whose local name is tag, in document order.
func (m *Message) find(tag string) (element, bool) {
	dec := newDecoder(m.Body)
	depth := 0
	var found element
	matched := false

	for {
		before := int(dec.InputOffset())
		tok, err := dec.Token()
		if err != nil {
			return element{}, false
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if matched {
				depth++
				continue
			}
			if t.Name.Local == tag {
				after := int(dec.InputOffset())
				raw := m.Body[before:after]
				found = element{
					rawName:      rawTagName(raw),
					contentStart: after,
					selfClosing:  strings.HasSuffix(raw, "/>"),
				}
				matched = true
				depth = 0
			}
		case xml.EndElement:
			if !matched {
				continue
			}
			if depth > 0 {
				depth--
				continue
			}
			found.contentEnd = before
			if found.selfClosing {
				found.contentEnd = found.contentStart
			}
			return found, true
		}
	}
}

func rawTagName(raw string) string {
	name := strings.TrimPrefix(raw, "<")
	if i := strings.IndexAny(name, " \t\r\n/>"); i >= 0 {
		name = name[:i]
	}
	return name
}

// Get returns the text content of the first element named tag, or "" when
// there is none.
func (m *Message) Get(tag string) string {
	el, ok := m.find(tag)
	if !ok || el.selfClosing {
		return ""
	}
	return innerText(m.Body[el.contentStart:el.contentEnd])
}

// Has reports whether an element named tag exists.
func (m *Message) Has(tag string) bool {
	_, ok := m.find(tag)
	return ok
}

func innerText(fragment string) string {
	dec := newDecoder("<x>" + fragment + "</x>")
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if cd, ok := tok.(xml.CharData); ok {
			sb.Write(cd)
		}
	}
	return strings.TrimSpace(sb.String())
}

// Set replaces the content of the first element named tag with value.
func (m *Message) Set(tag, value string) error {
	el, ok := m.find(tag)
	if !ok {
		return errors.Wrap(ErrNoElement, tag)
	}

	var escaped bytes.Buffer
	if err := xml.EscapeText(&escaped, []byte(value)); err != nil {
		return errors.Wrap(err, "escape value")
	}

	if el.selfClosing {
		// "<tag/>" becomes "<tag>value</tag>"
		open := m.Body[:el.contentStart-2]
		open = strings.TrimRight(open, " \t\r\n")
		m.Body = open + ">" + escaped.String() + "</" + el.rawName + ">" + m.Body[el.contentStart:]
		return nil
	}
	m.Body = m.Body[:el.contentStart] + escaped.String() + m.Body[el.contentEnd:]
	return nil
}

// Bytes encodes the frame. The length prefix is recomputed every time.
func (m *Message) Bytes() ([]byte, error) {
	if m.InvokeID < 0 || m.InvokeID > EventInvokeID {
		return nil, errors.Wrapf(ErrInvalidInvokeID, "%d", m.InvokeID)
	}
	enc := m.Encoding
	if enc == "" {
		enc = DefaultEncoding
	}
	encoder, _ := charset.Lookup(enc)
	if encoder == nil {
		return nil, errors.Wrap(ErrUnsupportedEncoding, enc)
	}
	payload, err := encoder.NewEncoder().Bytes([]byte(m.Body))
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s body", enc)
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(frame)))
	copy(frame[4:HeaderSize], fmt.Sprintf("%04d", m.InvokeID))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// Clone returns a copy.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}

func (m *Message) String() string {
	return fmt.Sprintf("%04d %s", m.InvokeID, m.Body)
}
