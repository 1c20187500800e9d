package application

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/arzzra/callgen/pkg/csta/message"
	"github.com/arzzra/callgen/pkg/inbox"
	"github.com/arzzra/callgen/pkg/logger"
)

// User is a monitored directory number. It owns the events of its monitor
// and the responses to its own requests.
type User struct {
	app    *Application
	number string
	log    logger.Logger
	ledger *Ledger
	inbox  *inbox.Buffer[*message.Message]

	mu         sync.Mutex
	params     map[string]string
	xref       string
	monitoring bool
	callID     string
	calls      []string
}

func newUser(a *Application, number string) *User {
	log := a.log.WithFields(logger.String("number", number))
	return &User{
		app:    a,
		number: number,
		log:    log,
		ledger: newLedger(&a.mark, log),
		inbox:  inbox.New[*message.Message](),
		params: map[string]string{"deviceID": number},
	}
}

func (u *User) Number() string { return u.number }

// Ledger returns the user's transaction ledger.
func (u *User) Ledger() *Ledger { return u.ledger }

// CrossRefID returns the monitor cross reference id, empty when unmonitored.
func (u *User) CrossRefID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.xref
}

// Monitored reports whether a monitor is active or being started.
func (u *User) Monitored() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.monitoring || u.xref != ""
}

// CallID returns the current call id.
func (u *User) CallID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.callID
}

// Calls returns every call id the user has seen, oldest first.
func (u *User) Calls() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.calls...)
}

func (u *User) Param(name string) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.params[name]
}

// SetParam sets a template parameter for this user's messages.
func (u *User) SetParam(name, value string) {
	u.mu.Lock()
	u.params[name] = value
	u.mu.Unlock()
}

// Buffered returns the messages waiting in the user's buffer.
func (u *User) Buffered() []*message.Message {
	return u.inbox.Snapshot()
}

func (u *User) beginMonitor(force bool) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !force && (u.monitoring || u.xref != "") {
		return false
	}
	u.monitoring = true
	return true
}

// endMonitor settles the monitor state: a non-empty xref marks the user
// monitored, an empty one unmonitored.
func (u *User) endMonitor(xref string) {
	u.mu.Lock()
	u.monitoring = false
	u.xref = xref
	u.params["monitorCrossRefID"] = xref
	u.mu.Unlock()
}

func (u *User) setCallID(callID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.callID = callID
	u.params["callID"] = callID
	for _, c := range u.calls {
		if c == callID {
			return
		}
	}
	u.calls = append(u.calls, callID)
}

// updateCallID follows the call a message is about. Only messages that
// name both the device and the call carry a usable call id.
func (u *User) updateCallID(msg *message.Message) {
	callID := msg.Get("callID")
	if callID == "" || msg.Get("deviceID") == "" {
		return
	}
	u.setCallID(callID)
}

func (u *User) paramsCopy() map[string]string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]string, len(u.params)+2)
	for k, v := range u.params {
		out[k] = v
	}
	return out
}

// Send builds the named template, or literal XML when name starts with
// "<", assigns the invoke id and writes it to the switch.
func (u *User) Send(ctx context.Context, name string, opts ...SendOption) (*message.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := &sendConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.callID != "" {
		u.setCallID(cfg.callID)
	}

	tpl := name
	if !strings.HasPrefix(strings.TrimSpace(name), "<") {
		var err error
		if tpl, err = u.app.library.CSTATemplate(name); err != nil {
			return nil, err
		}
	}
	params := u.paramsCopy()
	params["callingDevice"] = u.number
	if cfg.to != "" {
		params["calledDirectoryNumber"] = cfg.to
	}
	msg, err := message.Build(tpl, params, 0)
	if err != nil {
		return nil, err
	}
	if msg.Event != "MonitorStart" && !u.Monitored() {
		return nil, errors.Wrapf(ErrNotMonitored, "%s sending %s", u.number, msg.Event)
	}

	u.app.sendMu.Lock()
	defer u.app.sendMu.Unlock()

	id, err := u.ledger.TransactionID(msg.Event)
	if err != nil {
		return nil, err
	}
	msg.InvokeID = id

	if msg.Has("deviceID") && msg.Has("callID") {
		if err := msg.Set("deviceID", u.number); err != nil {
			return nil, err
		}
		if callID := u.CallID(); callID != "" {
			if err := msg.Set("callID", callID); err != nil {
				return nil, err
			}
		}
	}

	u.ledger.Sent(msg)
	u.updateCallID(msg)
	if err := u.app.write(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// WaitForMessage waits for the next message named expected. While the user
// follows a call, events about other calls stay buffered.
func (u *User) WaitForMessage(ctx context.Context, expected string, opts ...WaitOption) (*message.Message, error) {
	cfg := newWaitConfig(u.app.timeout, opts)
	msg, err := u.inbox.Wait(ctx, cfg.timeout, func(m *message.Message) (inbox.Verdict, error) {
		if cfg.ignored(m) {
			return inbox.Discard, nil
		}
		if m.Event != expected {
			if cfg.strict {
				return inbox.Keep, &UnexpectedMessageError{Expected: expected, Received: m}
			}
			return inbox.Keep, nil
		}
		if m.IsEvent() {
			if current := u.CallID(); current != "" {
				if callID := m.Get("callID"); callID != "" && callID != current {
					return inbox.Keep, nil
				}
			}
			if cfg.callingDevice != "" && !strings.Contains(m.Get("callingDevice"), cfg.callingDevice) {
				return inbox.Keep, nil
			}
		}
		return inbox.Take, nil
	})
	if err != nil {
		return nil, u.app.waitFailed(u.number, expected, cfg, u.inbox, err)
	}

	if err := u.ledger.Received(msg); err != nil {
		reportLedger(u.log, err)
	}
	u.updateCallID(msg)
	u.log.Debug("csta message taken",
		logger.String("event", msg.Event),
		logger.Int("invoke_id", msg.InvokeID))
	return msg, nil
}

// Reset forgets the user's calls and open transactions and drops its
// buffered messages, which are returned. The monitor stays active.
func (u *User) Reset() []*message.Message {
	drained := u.inbox.Drain()
	u.mu.Lock()
	u.callID = ""
	u.calls = nil
	delete(u.params, "callID")
	u.mu.Unlock()
	u.ledger.reset()
	return drained
}

// reportLedger logs a message the ledger could not match. A response to no
// outstanding request is an error.
func reportLedger(log logger.Logger, err error) {
	if errors.Is(err, ErrUnmatchedResponse) {
		log.Error("response matches no request", logger.Err(err))
		return
	}
	log.Warn("ledger rejected message", logger.Err(err))
}
