package endpoint

import (
	"time"

	"github.com/arzzra/callgen/pkg/logger"
	"github.com/arzzra/callgen/pkg/metrics"
	"github.com/arzzra/callgen/pkg/sip/message"
	"github.com/arzzra/callgen/pkg/templates"
)

// Option configures an Endpoint.
type Option func(*Endpoint)

func WithLogger(log logger.Logger) Option {
	return func(e *Endpoint) { e.log = log }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(e *Endpoint) { e.metrics = c }
}

// WithTimeout sets the default wait timeout. Zero waits until the context ends.
func WithTimeout(d time.Duration) Option {
	return func(e *Endpoint) { e.timeout = d }
}

// WithTemplates replaces the built-in template library.
func WithTemplates(lib *templates.Library) Option {
	return func(e *Endpoint) { e.library = lib }
}

// WithParams merges params into the endpoint parameter bag.
func WithParams(params map[string]string) Option {
	return func(e *Endpoint) {
		for k, v := range params {
			e.params[k] = v
		}
	}
}

// WithCredentials sets the digest credentials; the default is number/number.
func WithCredentials(username, password string) Option {
	return func(e *Endpoint) {
		e.username = username
		e.password = password
	}
}

// WaitOption narrows a wait.
type WaitOption func(*waitConfig)

type waitConfig struct {
	dialog   message.Dialog
	ignore   []string
	timeout  time.Duration
	deadline time.Time
	detached bool // leave the current dialog alone
}

// InDialog only accepts messages of dialog d.
func InDialog(d message.Dialog) WaitOption {
	return func(c *waitConfig) { c.dialog = d }
}

// Ignoring discards messages of the given types while waiting.
func Ignoring(types ...string) WaitOption {
	return func(c *waitConfig) { c.ignore = append(c.ignore, types...) }
}

// Timeout overrides the endpoint's default wait timeout.
func Timeout(d time.Duration) WaitOption {
	return func(c *waitConfig) { c.timeout = d }
}

func detached() WaitOption {
	return func(c *waitConfig) { c.detached = true }
}

func (c *waitConfig) ignored(m *message.Message) bool {
	for _, t := range c.ignore {
		if m.Is(t) {
			return true
		}
	}
	return false
}
