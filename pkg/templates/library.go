// Package templates holds the message templates used to build SIP and CSTA
// traffic and the {name} placeholder renderer shared by both builders.
package templates

import (
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrUnknownTemplate is returned when a template name is not in the library.
var ErrUnknownTemplate = errors.New("unknown template")

// Library is a named collection of SIP and CSTA templates.
type Library struct {
	SIP  map[string]string `yaml:"sip"`
	CSTA map[string]string `yaml:"csta"`
}

// Default returns a copy of the built-in library.
func Default() *Library {
	lib := &Library{
		SIP:  make(map[string]string, len(sipTemplates)),
		CSTA: make(map[string]string, len(cstaTemplates)),
	}
	for k, v := range sipTemplates {
		lib.SIP[k] = strings.TrimLeft(v, "\n")
	}
	for k, v := range cstaTemplates {
		lib.CSTA[k] = v
	}
	return lib
}

// Load reads a YAML template pack and layers it over the built-in library.
func Load(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read template pack %s", path)
	}
	return Parse(data)
}

// Parse decodes a YAML template pack and layers it over the built-in library.
func Parse(data []byte) (*Library, error) {
	var pack Library
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, errors.Wrap(err, "decode template pack")
	}

	lib := Default()
	for k, v := range pack.SIP {
		lib.SIP[k] = v
	}
	for k, v := range pack.CSTA {
		lib.CSTA[k] = v
	}
	return lib, nil
}

// SIPTemplate returns the SIP template registered under name.
func (l *Library) SIPTemplate(name string) (string, error) {
	tpl, ok := l.SIP[name]
	if !ok {
		return "", errors.Wrapf(ErrUnknownTemplate, "sip %q", name)
	}
	return tpl, nil
}

// CSTATemplate returns the CSTA template registered under name.
func (l *Library) CSTATemplate(name string) (string, error) {
	tpl, ok := l.CSTA[name]
	if !ok {
		return "", errors.Wrapf(ErrUnknownTemplate, "csta %q", name)
	}
	return tpl, nil
}

// Names lists the SIP and CSTA template names, sorted.
func (l *Library) Names() (sip []string, csta []string) {
	for k := range l.SIP {
		sip = append(sip, k)
	}
	for k := range l.CSTA {
		csta = append(csta, k)
	}
	sort.Strings(sip)
	sort.Strings(csta)
	return sip, csta
}

// MustSIP returns a built-in SIP template and panics if it does not exist.
func MustSIP(name string) string {
	tpl, ok := sipTemplates[name]
	if !ok {
		panic("templates: unknown sip template " + name)
	}
	return strings.TrimLeft(tpl, "\n")
}

// MustCSTA returns a built-in CSTA template and panics if it does not exist.
func MustCSTA(name string) string {
	tpl, ok := cstaTemplates[name]
	if !ok {
		panic("templates: unknown csta template " + name)
	}
	return tpl
}
