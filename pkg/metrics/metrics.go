// Package metrics exports harness counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Protocol label values.
const (
	SIP  = "sip"
	CSTA = "csta"
)

// Config of the collector.
type Config struct {
	// Enabled turns collection on; a disabled collector is a no-op.
	Enabled bool
	// Namespace prefixes every metric name.
	Namespace string
}

// DefaultConfig returns an enabled config with the "callgen" namespace.
func DefaultConfig() Config {
	return Config{Enabled: true, Namespace: "callgen"}
}

// Collector holds the harness metrics. A nil *Collector is valid and records
// nothing.
type Collector struct {
	registry *prometheus.Registry

	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	buffered         *prometheus.GaugeVec
	waitTimeouts     *prometheus.CounterVec
	unexpected       *prometheus.CounterVec
	dialogs          *prometheus.CounterVec
	flowResults      *prometheus.CounterVec
	flowDuration     *prometheus.HistogramVec
}

// New creates a collector on its own registry.
func New(cfg Config) *Collector {
	if !cfg.Enabled {
		return nil
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	ns := cfg.Namespace

	return &Collector{
		registry: reg,
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_sent_total",
			Help:      "Messages written to the switch",
		}, []string{"protocol", "type"}),
		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_received_total",
			Help:      "Messages read from the switch",
		}, []string{"protocol", "type"}),
		buffered: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "messages_buffered",
			Help:      "Messages waiting in endpoint buffers",
		}, []string{"protocol", "owner"}),
		waitTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "wait_timeouts_total",
			Help:      "Waits that ended without the expected message",
		}, []string{"protocol"}),
		unexpected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "unexpected_messages_total",
			Help:      "Messages that belonged to no known dialog or user",
		}, []string{"protocol"}),
		dialogs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "dialogs_total",
			Help:      "Dialogs started, by side",
		}, []string{"side"}),
		flowResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "flow_results_total",
			Help:      "Scenario flow outcomes",
		}, []string{"flow", "outcome"}),
		flowDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "flow_duration_seconds",
			Help:      "Scenario flow duration",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"flow"}),
	}
}

// Registry exposes the underlying registry, or nil for a disabled collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) MessageSent(protocol, kind string) {
	if c == nil {
		return
	}
	c.messagesSent.WithLabelValues(protocol, kind).Inc()
}

func (c *Collector) MessageReceived(protocol, kind string) {
	if c == nil {
		return
	}
	c.messagesReceived.WithLabelValues(protocol, kind).Inc()
}

// Buffered sets the number of messages waiting for owner.
func (c *Collector) Buffered(protocol, owner string, n int) {
	if c == nil {
		return
	}
	c.buffered.WithLabelValues(protocol, owner).Set(float64(n))
}

func (c *Collector) WaitTimeout(protocol string) {
	if c == nil {
		return
	}
	c.waitTimeouts.WithLabelValues(protocol).Inc()
}

func (c *Collector) Unexpected(protocol string) {
	if c == nil {
		return
	}
	c.unexpected.WithLabelValues(protocol).Inc()
}

// DialogStarted counts a dialog; side is "local" or "remote".
func (c *Collector) DialogStarted(side string) {
	if c == nil {
		return
	}
	c.dialogs.WithLabelValues(side).Inc()
}

// FlowFinished records a scenario outcome.
func (c *Collector) FlowFinished(flow string, err error, took time.Duration) {
	if c == nil {
		return
	}
	outcome := "passed"
	if err != nil {
		outcome = "failed"
	}
	c.flowResults.WithLabelValues(flow, outcome).Inc()
	c.flowDuration.WithLabelValues(flow).Observe(took.Seconds())
}
