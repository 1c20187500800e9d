package application

import (
	"time"

	"github.com/arzzra/callgen/pkg/csta/message"
	"github.com/arzzra/callgen/pkg/logger"
	"github.com/arzzra/callgen/pkg/metrics"
	"github.com/arzzra/callgen/pkg/templates"
)

// Option configures an Application.
type Option func(*Application)

func WithLogger(log logger.Logger) Option {
	return func(a *Application) { a.log = log }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(a *Application) { a.metrics = c }
}

// WithTimeout sets the default wait timeout, also used for the handshake.
func WithTimeout(d time.Duration) Option {
	return func(a *Application) { a.timeout = d }
}

func WithTemplates(lib *templates.Library) Option {
	return func(a *Application) { a.library = lib }
}

// SendOption adjusts an outgoing message.
type SendOption func(*sendConfig)

type sendConfig struct {
	to     string
	callID string
}

// To sets the called number.
func To(number string) SendOption {
	return func(c *sendConfig) { c.to = number }
}

// WithCallID makes callID the user's current call and sends it.
func WithCallID(callID string) SendOption {
	return func(c *sendConfig) { c.callID = callID }
}

// WaitOption narrows a wait.
type WaitOption func(*waitConfig)

type waitConfig struct {
	ignore        []string
	timeout       time.Duration
	callingDevice string
	strict        bool
}

// Ignoring discards messages with the given event names while waiting.
func Ignoring(events ...string) WaitOption {
	return func(c *waitConfig) { c.ignore = append(c.ignore, events...) }
}

// Timeout overrides the default wait timeout.
func Timeout(d time.Duration) WaitOption {
	return func(c *waitConfig) { c.timeout = d }
}

// CallingDevice only accepts events whose callingDevice contains number.
func CallingDevice(number string) WaitOption {
	return func(c *waitConfig) { c.callingDevice = number }
}

// Strict fails the wait when any other message comes first, unless it is
// ignored. It checks the order of a call's events.
func Strict() WaitOption {
	return func(c *waitConfig) { c.strict = true }
}

func newWaitConfig(timeout time.Duration, opts []WaitOption) *waitConfig {
	cfg := &waitConfig{timeout: timeout}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (c *waitConfig) ignored(m *message.Message) bool {
	for _, e := range c.ignore {
		if m.Event == e {
			return true
		}
	}
	return false
}
