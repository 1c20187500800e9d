package templates

import (
	"fmt"
	"strings"
)

// MissingParameterError is returned by Render when a placeholder has no value.
type MissingParameterError struct {
	Names []string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing template parameter(s): %s", strings.Join(e.Names, ", "))
}

// Render substitutes every {name} placeholder in tpl with params[name].
// "{{" and "}}" produce literal braces. All missing names are reported at once.
func Render(tpl string, params map[string]string) (string, error) {
	var (
		out     strings.Builder
		missing []string
	)
	out.Grow(len(tpl))

	for i := 0; i < len(tpl); i++ {
		c := tpl[i]
		switch {
		case c == '{' && i+1 < len(tpl) && tpl[i+1] == '{':
			out.WriteByte('{')
			i++
		case c == '}' && i+1 < len(tpl) && tpl[i+1] == '}':
			out.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(tpl[i+1:], '}')
			if end < 0 {
				out.WriteString(tpl[i:])
				i = len(tpl)
				continue
			}
			name := strings.TrimSpace(tpl[i+1 : i+1+end])
			value, ok := params[name]
			if !ok {
				if !contains(missing, name) {
					missing = append(missing, name)
				}
			} else {
				out.WriteString(value)
			}
			i += end + 1
		default:
			out.WriteByte(c)
		}
	}

	if len(missing) > 0 {
		return "", &MissingParameterError{Names: missing}
	}
	return out.String(), nil
}

// Placeholders lists the distinct placeholder names of tpl in order of appearance.
func Placeholders(tpl string) []string {
	var names []string
	for i := 0; i < len(tpl); i++ {
		if tpl[i] != '{' {
			continue
		}
		if i+1 < len(tpl) && tpl[i+1] == '{' {
			i++
			continue
		}
		end := strings.IndexByte(tpl[i+1:], '}')
		if end < 0 {
			break
		}
		name := strings.TrimSpace(tpl[i+1 : i+1+end])
		if !contains(names, name) {
			names = append(names, name)
		}
		i += end + 1
	}
	return names
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
