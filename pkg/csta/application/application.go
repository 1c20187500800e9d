// Package application is a CSTA client application: it holds the session
// with the switch and the monitored users, routes incoming events and
// responses to the user they belong to and lets scenarios wait for them.
package application

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/arzzra/callgen/pkg/csta/message"
	"github.com/arzzra/callgen/pkg/inbox"
	"github.com/arzzra/callgen/pkg/logger"
	"github.com/arzzra/callgen/pkg/metrics"
	"github.com/arzzra/callgen/pkg/templates"
	"github.com/arzzra/callgen/pkg/transport"
)

const (
	// DefaultTimeout bounds waits when no other timeout is configured.
	DefaultTimeout = 5 * time.Second

	readPoll = 200 * time.Millisecond
)

// Application is one CSTA session.
type Application struct {
	log     logger.Logger
	metrics *metrics.Collector
	library *templates.Library
	timeout time.Duration

	mark   watermark
	global *inbox.Buffer[*message.Message]

	// serializes invoke id assignment with the write
	sendMu sync.Mutex

	mu    sync.Mutex
	link  transport.Link
	users map[string]*User

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates an unconnected application.
func New(opts ...Option) *Application {
	a := &Application{
		log:     logger.Nop(),
		library: templates.Default(),
		timeout: DefaultTimeout,
		global:  inbox.New[*message.Message](),
		users:   make(map[string]*User),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.WithComponent("csta")
	return a
}

// Connect dials the switch, runs the session handshake and starts reading.
func (a *Application) Connect(ctx context.Context, local, remote string) error {
	link, err := transport.Dial(ctx, "tcp", local, remote, transport.SplitCSTA)
	if err != nil {
		return err
	}
	return a.Attach(ctx, link)
}

// Attach runs the handshake on an established link and starts reading.
// The switch opens with SystemStatus; the application answers it and
// registers for system status with SystemRegister. The link is closed when
// the handshake fails.
func (a *Application) Attach(ctx context.Context, link transport.Link) error {
	a.mu.Lock()
	if a.link != nil {
		a.mu.Unlock()
		return errors.New("application already connected")
	}
	a.link = link
	a.mu.Unlock()

	if err := a.handshake(ctx, link); err != nil {
		a.mu.Lock()
		a.link = nil
		a.mu.Unlock()
		link.Close()
		return err
	}
	go a.run(link)
	return nil
}

func (a *Application) handshake(ctx context.Context, link transport.Link) error {
	status, err := a.receive(ctx, link)
	if err != nil {
		return errors.Wrap(ErrHandshake, err.Error())
	}
	if status.Event != "SystemStatus" {
		return errors.Wrapf(ErrHandshake, "expected SystemStatus, got %s", status.Event)
	}
	if err := a.sendTemplate("SystemStatusResponse", status.InvokeID); err != nil {
		return err
	}
	if err := a.sendTemplate("SystemRegister", 0); err != nil {
		return err
	}
	a.mark.raise(0)

	resp, err := a.receive(ctx, link)
	if err != nil {
		return errors.Wrap(ErrHandshake, err.Error())
	}
	if resp.Event != "SystemRegisterResponse" {
		return errors.Wrapf(ErrHandshake, "invalid response to SystemRegister: %s", resp.Event)
	}
	a.log.Info("csta session established",
		logger.String("sys_stat_register_id", resp.Get("sysStatRegisterID")))
	return nil
}

// receive reads one message during the handshake.
func (a *Application) receive(ctx context.Context, link transport.Link) (*message.Message, error) {
	var deadline time.Time
	if a.timeout > 0 {
		deadline = time.Now().Add(a.timeout)
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, inbox.ErrTimeout
		}
		data, err := link.Receive(readPoll)
		if errors.Is(err, transport.ErrReadTimeout) {
			continue
		}
		if err != nil {
			return nil, err
		}
		msg, err := message.Parse(data)
		if err != nil {
			return nil, err
		}
		a.metrics.MessageReceived(metrics.CSTA, msg.Event)
		return msg, nil
	}
}

func (a *Application) sendTemplate(name string, invokeID int) error {
	tpl, err := a.library.CSTATemplate(name)
	if err != nil {
		return err
	}
	msg, err := message.Build(tpl, nil, invokeID)
	if err != nil {
		return err
	}
	return a.write(msg)
}

func (a *Application) write(msg *message.Message) error {
	a.mu.Lock()
	link := a.link
	a.mu.Unlock()
	if link == nil {
		return ErrNotConnected
	}

	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	if err := link.Send(data); err != nil {
		return errors.Wrapf(err, "send %s", msg.Event)
	}
	a.metrics.MessageSent(metrics.CSTA, msg.Event)
	a.log.Debug("csta message sent",
		logger.String("event", msg.Event),
		logger.Int("invoke_id", msg.InvokeID))
	return nil
}

func (a *Application) run(link transport.Link) {
	defer close(a.done)
	defer a.closeBuffers()

	for {
		select {
		case <-a.stop:
			return
		default:
		}

		data, err := link.Receive(readPoll)
		if err != nil {
			if errors.Is(err, transport.ErrReadTimeout) {
				continue
			}
			select {
			case <-a.stop:
			default:
				a.log.Warn("csta link reader stopped", logger.Err(err))
			}
			return
		}

		msg, err := message.Parse(data)
		if err != nil {
			a.log.Warn("dropping malformed csta message", logger.Err(err))
			continue
		}
		a.metrics.MessageReceived(metrics.CSTA, msg.Event)
		a.dispatch(msg)
	}
}

func (a *Application) dispatch(msg *message.Message) {
	if msg.Event == "SystemStatus" {
		if err := a.sendTemplate("SystemStatusResponse", msg.InvokeID); err != nil {
			a.log.Warn("cannot answer SystemStatus", logger.Err(err))
		}
		return
	}

	if user := a.route(msg); user != nil {
		user.inbox.Push(msg)
		a.metrics.Buffered(metrics.CSTA, user.number, user.inbox.Len())
		return
	}
	a.log.Warn("unexpected csta message, adding to global buffer",
		logger.String("event", msg.Event),
		logger.Int("invoke_id", msg.InvokeID),
		logger.String("xref", msg.Get("monitorCrossRefID")))
	a.global.Push(msg)
}

// route finds the owner of msg: events by monitorCrossRefID, responses by
// the outstanding invoke id.
func (a *Application) route(msg *message.Message) *User {
	users := a.snapshot()
	switch msg.Kind() {
	case message.KindEvent:
		xref := msg.Get("monitorCrossRefID")
		if xref == "" {
			return nil
		}
		for _, u := range users {
			if u.CrossRefID() == xref {
				return u
			}
		}
	case message.KindResponse:
		for _, u := range users {
			if u.ledger.Awaiting(msg.InvokeID) {
				return u
			}
		}
	}
	return nil
}

func (a *Application) snapshot() []*User {
	a.mu.Lock()
	defer a.mu.Unlock()
	users := make([]*User, 0, len(a.users))
	for _, u := range a.users {
		users = append(users, u)
	}
	return users
}

func (a *Application) closeBuffers() {
	for _, u := range a.snapshot() {
		u.inbox.Close()
	}
	a.global.Close()
}

// NewUser adds a user for number. An existing user is returned as is.
func (a *Application) NewUser(number string) *User {
	a.mu.Lock()
	defer a.mu.Unlock()
	if u, ok := a.users[number]; ok {
		a.log.Warn("csta user already exists", logger.String("number", number))
		return u
	}
	u := newUser(a, number)
	a.users[number] = u
	return u
}

// User returns the user for number.
func (a *Application) User(number string) (*User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[number]
	if !ok {
		return nil, errors.Wrap(ErrUnknownUser, number)
	}
	return u, nil
}

// MonitoredUsers returns the numbers of the monitored users, sorted.
func (a *Application) MonitoredUsers() []string {
	var out []string
	for _, u := range a.snapshot() {
		if u.Monitored() {
			out = append(out, u.number)
		}
	}
	sort.Strings(out)
	return out
}

// MonitorStart starts monitoring number. An already monitored user is
// skipped unless force is set, which creates another monitor.
func (a *Application) MonitorStart(ctx context.Context, number string, force bool) error {
	u, err := a.User(number)
	if err != nil {
		return err
	}
	if !u.beginMonitor(force) {
		a.log.Debug("skipping MonitorStart for monitored user", logger.String("number", number))
		return nil
	}

	if _, err := u.Send(ctx, "MonitorStart"); err != nil {
		u.endMonitor("")
		return err
	}
	resp, err := u.WaitForMessage(ctx, "MonitorStartResponse")
	if err != nil {
		u.endMonitor("")
		return err
	}
	xref := resp.Get("monitorCrossRefID")
	u.endMonitor(xref)
	a.log.Info("monitor started", logger.String("number", number), logger.String("xref", xref))
	return nil
}

// MonitorStop stops monitoring number.
func (a *Application) MonitorStop(ctx context.Context, number string) error {
	u, err := a.User(number)
	if err != nil {
		return err
	}
	if _, err := u.Send(ctx, "MonitorStop"); err != nil {
		return err
	}
	if _, err := u.WaitForMessage(ctx, "MonitorStopResponse"); err != nil {
		return err
	}
	u.endMonitor("")
	a.log.Info("monitor stopped", logger.String("number", number))
	return nil
}

// Reset clears the call state of number and returns what was buffered.
func (a *Application) Reset(number string) ([]*message.Message, error) {
	u, err := a.User(number)
	if err != nil {
		return nil, err
	}
	return u.Reset(), nil
}

// WaitForMessage waits for a message nobody owns. Anything else arriving
// in the global buffer fails the wait.
func (a *Application) WaitForMessage(ctx context.Context, expected string, opts ...WaitOption) (*message.Message, error) {
	cfg := newWaitConfig(a.timeout, opts)
	msg, err := a.global.Wait(ctx, cfg.timeout, func(m *message.Message) (inbox.Verdict, error) {
		switch {
		case cfg.ignored(m):
			return inbox.Discard, nil
		case m.Event == expected:
			return inbox.Take, nil
		default:
			return inbox.Keep, &UnexpectedMessageError{Expected: expected, Received: m}
		}
	})
	if err != nil {
		return nil, a.waitFailed("application", expected, cfg, a.global, err)
	}
	return msg, nil
}

func (a *Application) waitFailed(owner, expected string, cfg *waitConfig, buf *inbox.Buffer[*message.Message], err error) error {
	if errors.Is(err, inbox.ErrTimeout) {
		a.metrics.WaitTimeout(metrics.CSTA)
		pending := buf.Snapshot()
		events := make([]string, 0, len(pending))
		for _, m := range pending {
			events = append(events, m.Event)
		}
		a.log.Warn("csta wait timed out",
			logger.String("owner", owner),
			logger.String("expected", expected))
		return &TimeoutError{Owner: owner, Expected: expected, Timeout: cfg.timeout, Buffered: events}
	}
	var unexpected *UnexpectedMessageError
	if errors.As(err, &unexpected) {
		a.metrics.Unexpected(metrics.CSTA)
		return err
	}
	return errors.Wrapf(err, "%s (CSTA): waiting for %s", owner, expected)
}

// Shutdown stops the reader and closes the link. Waiters fail with
// inbox.ErrClosed.
func (a *Application) Shutdown() error {
	a.mu.Lock()
	link := a.link
	a.mu.Unlock()

	a.stopOnce.Do(func() { close(a.stop) })
	if link == nil {
		a.closeBuffers()
		return nil
	}
	err := link.Close()
	<-a.done
	return err
}
