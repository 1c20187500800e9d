package endpoint

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/arzzra/callgen/pkg/inbox"
	"github.com/arzzra/callgen/pkg/logger"
	"github.com/arzzra/callgen/pkg/metrics"
	"github.com/arzzra/callgen/pkg/sip/message"
	"github.com/arzzra/callgen/pkg/sip/transaction"
)

type autoReply struct {
	expected string
	dialog   message.Dialog
	template string
}

// AutoReply answers every incoming message of type expected with template
// without buffering it. A zero d matches any dialog; an empty template
// swallows the message.
func (e *Endpoint) AutoReply(expected string, d message.Dialog, template string) {
	e.mu.Lock()
	e.autoReplies = append(e.autoReplies, autoReply{expected: expected, dialog: d, template: template})
	e.mu.Unlock()
}

func (e *Endpoint) autoReplyFor(msg *message.Message) (autoReply, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.autoReplies {
		if msg.Is(r.expected) && (r.dialog.IsZero() || r.dialog.Matches(msg.Dialog())) {
			return r, true
		}
	}
	return autoReply{}, false
}

// deliver is called by the link reader for every message routed here.
func (e *Endpoint) deliver(msg *message.Message) {
	e.metrics.MessageReceived(metrics.SIP, msg.Type())

	if rule, ok := e.autoReplyFor(msg); ok {
		e.accept(msg)
		if rule.template == "" {
			return
		}
		if _, err := e.SendInContextOf(msg, rule.template); err != nil {
			e.log.Warn("automatic reply failed", logger.String("type", msg.Type()), logger.Err(err))
		}
		return
	}

	e.inbox.Push(msg)
	e.metrics.Buffered(metrics.SIP, e.number, e.inbox.Len())
	e.log.Debug("message buffered",
		logger.String("type", msg.Type()),
		logger.String("call_id", msg.CallID()))
}

// WaitForMessage blocks until a message whose type contains expected
// arrives, the wait times out or ctx is done. Buffered messages are checked
// first, in arrival order. A 401/407 challenge is answered once with the
// endpoint's credentials.
func (e *Endpoint) WaitForMessage(ctx context.Context, expected string, opts ...WaitOption) (*message.Message, error) {
	cfg := e.newWaitConfig(opts)
	return e.await(ctx, cfg, expected, func(m *message.Message) bool {
		return m.Is(expected)
	})
}

// WaitForMessages waits for one message of each expected type, in whatever
// order they arrive, and returns them in arrival order. All of them share
// one timeout.
func (e *Endpoint) WaitForMessages(ctx context.Context, expected []string, opts ...WaitOption) ([]*message.Message, error) {
	cfg := e.newWaitConfig(opts)
	remaining := append([]string(nil), expected...)
	got := make([]*message.Message, 0, len(expected))

	for len(remaining) > 0 {
		msg, err := e.await(ctx, cfg, strings.Join(remaining, " | "), func(m *message.Message) bool {
			return indexOfType(m, remaining) >= 0
		})
		if err != nil {
			return got, err
		}
		i := indexOfType(msg, remaining)
		remaining = append(remaining[:i], remaining[i+1:]...)
		got = append(got, msg)
	}
	return got, nil
}

func indexOfType(m *message.Message, types []string) int {
	for i, t := range types {
		if m.Is(t) {
			return i
		}
	}
	return -1
}

func (e *Endpoint) newWaitConfig(opts []WaitOption) *waitConfig {
	cfg := &waitConfig{timeout: e.timeout}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.timeout > 0 {
		cfg.deadline = time.Now().Add(cfg.timeout)
	}
	return cfg
}

func (e *Endpoint) await(ctx context.Context, cfg *waitConfig, label string, want func(*message.Message) bool) (*message.Message, error) {
	challenged := false
	for {
		var timeout time.Duration
		if !cfg.deadline.IsZero() {
			timeout = time.Until(cfg.deadline)
			if timeout <= 0 {
				return nil, e.timedOut(label, cfg)
			}
		}

		msg, err := e.inbox.Wait(ctx, timeout, e.visitor(label, cfg, want, !challenged))
		if err != nil {
			return nil, e.waitFailed(err, label, cfg)
		}
		e.accept(msg)
		if !cfg.detached {
			e.follow(msg)
		}

		if msg.IsChallenge() && !want(msg) {
			challenged = true
			if err := e.authorize(msg); err != nil {
				return nil, err
			}
			continue
		}
		return msg, nil
	}
}

// visitor decides about one buffered message. Messages of unknown dialogs
// that do not start a dialog fail the wait; other messages that are not
// wanted stay buffered.
func (e *Endpoint) visitor(label string, cfg *waitConfig, want func(*message.Message) bool, challenges bool) inbox.Visitor[*message.Message] {
	return func(m *message.Message) (inbox.Verdict, error) {
		if cfg.ignored(m) {
			e.log.Debug("ignoring message", logger.String("type", m.Type()))
			return inbox.Discard, nil
		}

		d := m.Dialog()
		starts := m.IsRequest() && m.ToTag() == ""
		if !starts && !e.registry.Known(d) {
			return inbox.Keep, &UnexpectedMessageError{
				Number:   e.number,
				Expected: label,
				Received: m,
				Dialogs:  e.registry.Dialogs(),
			}
		}
		if !cfg.dialog.IsZero() && !cfg.dialog.Matches(d) {
			return inbox.Keep, nil
		}
		if want(m) || (challenges && m.IsChallenge()) {
			return inbox.Take, nil
		}
		return inbox.Keep, nil
	}
}

// accept records a message taken from the buffer.
func (e *Endpoint) accept(msg *message.Message) {
	d := msg.Dialog()
	switch {
	case msg.IsRequest() && msg.ToTag() == "" && !e.registry.Known(d):
		e.registry.Add(d, false)
		e.metrics.DialogStarted("remote")
		e.setPeer(d.CallID, msg.FromUser())
	case msg.IsResponse() && !msg.IsChallenge():
		e.registry.UpdateToTag(d)
	}

	if err := e.ledger.Received(msg); err != nil {
		reportLedger(e.log, "received message does not match a transaction", err)
	}
	state := e.registry.Track(msg)

	if msg.IsRequest() && msg.Body != "" && strings.Contains(msg.Header("Content-Type"), "application/sdp") {
		e.mu.Lock()
		e.offers[d.CallID] = msg.Body
		e.mu.Unlock()
	}

	e.log.Debug("message accepted",
		logger.String("type", msg.Type()),
		logger.String("call_id", d.CallID),
		logger.String("state", state))
}

// authorize resends the last request of the challenged dialog with
// credentials.
func (e *Endpoint) authorize(challenge *message.Message) error {
	d, _ := e.registry.Complete(challenge.Dialog())
	req, ok := e.ledger.LastRequest(d)
	if !ok {
		return errors.Wrapf(ErrNoReference, "challenge %s in %s", challenge.Type(), d)
	}

	retry := req.Clone()
	username, password := e.credentials()
	if err := message.Authorize(retry, challenge, username, password); err != nil {
		return errors.Wrapf(err, "%s: answer %s", e.number, challenge.Type())
	}
	e.log.Info("answering digest challenge",
		logger.String("method", retry.Method()),
		logger.Int("status", challenge.StatusCode()))
	return e.transmit(retry)
}

func (e *Endpoint) waitFailed(err error, label string, cfg *waitConfig) error {
	if errors.Is(err, inbox.ErrTimeout) {
		return e.timedOut(label, cfg)
	}
	var unexpected *UnexpectedMessageError
	if errors.As(err, &unexpected) {
		e.metrics.Unexpected(metrics.SIP)
		e.log.Warn("unexpected message",
			logger.String("type", unexpected.Received.Type()),
			logger.String("expected", label))
		return err
	}
	return errors.Wrapf(err, "%s: waiting for %q", e.number, label)
}

func (e *Endpoint) timedOut(label string, cfg *waitConfig) error {
	e.metrics.WaitTimeout(metrics.SIP)
	buffered := e.inbox.Snapshot()
	types := make([]string, 0, len(buffered))
	for _, m := range buffered {
		types = append(types, m.Type())
	}
	return &TimeoutError{
		Number:   e.number,
		Expected: label,
		Dialog:   cfg.dialog,
		Timeout:  cfg.timeout,
		Buffered: types,
	}
}

// reportLedger logs a transaction mismatch. A response to no outstanding
// request is an error; anything else only a warning.
func reportLedger(log logger.Logger, msg string, err error) {
	if errors.Is(err, transaction.ErrUnmatchedResponse) {
		log.Error(msg, logger.Err(err))
		return
	}
	log.Warn(msg, logger.Err(err))
}
