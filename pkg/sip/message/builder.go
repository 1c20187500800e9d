package message

import (
	"strings"

	"github.com/arzzra/callgen/pkg/templates"
)

// Build renders a template with params and parses the result. Line endings
// are normalized to CRLF, surrounding whitespace is dropped and
// Content-Length is computed from the body.
func Build(template string, params map[string]string) (*Message, error) {
	text, err := templates.Render(template, params)
	if err != nil {
		return nil, err
	}
	return parse([]byte(Normalize(text)), false)
}

// Normalize converts a template rendering into wire text: CRLF line endings,
// no surrounding blank lines, an empty line after the headers and a CRLF at
// the end of a non-empty body.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSpace(text)

	head, body, hasBody := strings.Cut(text, "\n\n")
	head = strings.ReplaceAll(head, "\n", "\r\n")
	if !hasBody {
		return head + "\r\n\r\n"
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return head + "\r\n\r\n"
	}
	return head + "\r\n\r\n" + strings.ReplaceAll(body, "\n", "\r\n") + "\r\n"
}

// TemplateMethod returns the method of a request template, or "" for a
// response template.
func TemplateMethod(template string) string {
	line := strings.TrimSpace(template)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "SIP/") {
		return ""
	}
	return strings.ToUpper(fields[0])
}
