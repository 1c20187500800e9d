package mock

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/arzzra/callgen/pkg/csta/message"
	"github.com/arzzra/callgen/pkg/logger"
	"github.com/arzzra/callgen/pkg/templates"
	"github.com/arzzra/callgen/pkg/transport"
)

const readPoll = 200 * time.Millisecond

// Switch is an in-process CSTA switch. It runs the session handshake,
// hands out monitors and plays the event sequence of a call, either on
// MakeCall or when a SIP peer reports call progress as a CallObserver.
type Switch struct {
	log     logger.Logger
	library *templates.Library

	mu       sync.Mutex
	monitors map[string]*monitor // by device
	calls    map[string]*call    // by csta call id of either leg
	sipCalls map[string]*call    // by SIP Call-ID
	nextXref int
	nextCall int
}

type monitor struct {
	xref string
	link transport.Link
}

const (
	calling = iota
	called
)

// call holds both legs of a call: each side has its own csta call id.
type call struct {
	ids       [2]string
	devices   [2]string
	releasing string
}

// NewSwitch creates a switch with the built-in templates.
func NewSwitch(log logger.Logger) *Switch {
	if log == nil {
		log = logger.Nop()
	}
	return &Switch{
		log:      log.WithComponent("mock-csta"),
		library:  templates.Default(),
		monitors: make(map[string]*monitor),
		calls:    make(map[string]*call),
		sipCalls: make(map[string]*call),
		nextXref: 1,
		nextCall: 1,
	}
}

// ListenAndServe accepts sessions on l until ctx is done.
func (s *Switch) ListenAndServe(ctx context.Context, l *transport.Listener) error {
	return l.Serve(ctx, func(ctx context.Context, link *transport.StreamLink) {
		if err := s.Serve(ctx, link); err != nil && !errors.Is(err, transport.ErrLinkClosed) {
			s.log.Warn("csta session ended", logger.Err(err))
		}
	})
}

// Serve runs one session on link until the link closes or ctx is done.
func (s *Switch) Serve(ctx context.Context, link transport.Link) error {
	defer s.drop(link)

	if err := s.send(link, "SystemStatus", nil, 1); err != nil {
		return err
	}
	for {
		msg, err := s.receive(ctx, link)
		if err != nil {
			return err
		}
		if err := s.handle(link, msg); err != nil {
			return err
		}
	}
}

func (s *Switch) receive(ctx context.Context, link transport.Link) (*message.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := link.Receive(readPoll)
		if errors.Is(err, transport.ErrReadTimeout) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return message.Parse(data)
	}
}

func (s *Switch) handle(link transport.Link, msg *message.Message) error {
	s.log.Debug("csta request", logger.String("event", msg.Event), logger.Int("invoke_id", msg.InvokeID))

	switch msg.Event {
	case "SystemStatusResponse":
		return nil
	case "SystemRegister":
		return s.send(link, "SystemRegisterResponse", map[string]string{"sysStatRegisterID": "mock"}, msg.InvokeID)
	case "MonitorStart":
		xref := s.monitor(msg.Get("deviceObject"), link)
		return s.send(link, "MonitorStartResponse", map[string]string{"monitorCrossRefID": xref}, msg.InvokeID)
	case "MonitorStop":
		s.unmonitor(msg.Get("monitorCrossRefID"))
		return s.send(link, "MonitorStopResponse", nil, msg.InvokeID)
	case "MakeCall":
		return s.makeCall(link, msg)
	case "ClearConnection":
		return s.clearConnection(link, msg)
	default:
		s.log.Warn("unsupported csta request", logger.String("event", msg.Event))
		return nil
	}
}

func (s *Switch) monitor(device string, link transport.Link) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	xref := strconv.Itoa(s.nextXref)
	s.nextXref++
	s.monitors[device] = &monitor{xref: xref, link: link}
	return xref
}

func (s *Switch) unmonitor(xref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for device, m := range s.monitors {
		if m.xref == xref {
			delete(s.monitors, device)
		}
	}
}

func (s *Switch) drop(link transport.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for device, m := range s.monitors {
		if m.link == link {
			delete(s.monitors, device)
		}
	}
}

func (s *Switch) newCall(from, to string) *call {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &call{
		ids:     [2]string{strconv.Itoa(s.nextCall), strconv.Itoa(s.nextCall + 1)},
		devices: [2]string{from, to},
	}
	s.nextCall += 2
	s.calls[c.ids[calling]] = c
	s.calls[c.ids[called]] = c
	return c
}

func (s *Switch) endCall(c *call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.calls, c.ids[calling])
	delete(s.calls, c.ids[called])
	for id, sc := range s.sipCalls {
		if sc == c {
			delete(s.sipCalls, id)
		}
	}
}

func (s *Switch) makeCall(link transport.Link, req *message.Message) error {
	c := s.newCall(req.Get("callingDevice"), req.Get("calledDirectoryNumber"))
	if err := s.send(link, "MakeCallResponse", map[string]string{
		"callID":       c.ids[calling],
		"deviceID":     c.devices[calling],
		"calledDevice": c.devices[called],
	}, req.InvokeID); err != nil {
		return err
	}
	return s.play(c, originate, alert, answer)
}

func (s *Switch) clearConnection(link transport.Link, req *message.Message) error {
	if err := s.send(link, "ClearConnectionResponse", nil, req.InvokeID); err != nil {
		return err
	}

	s.mu.Lock()
	c := s.calls[req.Get("callID")]
	s.mu.Unlock()
	if c == nil {
		s.log.Warn("ClearConnection for unknown call", logger.String("call_id", req.Get("callID")))
		return nil
	}
	c.releasing = req.Get("deviceID")
	if err := s.play(c, release); err != nil {
		return err
	}
	s.endCall(c)
	return nil
}

type step struct {
	side  int
	event string
	info  string
}

// The event sequences of each call phase, per leg.
var (
	originate = []step{
		{calling, "ServiceInitiatedEvent", "initiated"},
		{calling, "OriginatedEvent", "connected"},
	}
	alert = []step{
		{calling, "DeliveredEvent", "connected"},
		{called, "DeliveredEvent", "alerting"},
	}
	answer = []step{
		{called, "EstablishedEvent", "connected"},
		{calling, "EstablishedEvent", "connected"},
	}
	release = []step{
		{calling, "ConnectionClearedEvent", "null"},
		{called, "ConnectionClearedEvent", "null"},
	}
)

func (s *Switch) play(c *call, phases ...[]step) error {
	for _, phase := range phases {
		for _, st := range phase {
			params := map[string]string{
				"callID":              c.ids[st.side],
				"deviceID":            c.devices[st.side],
				"callingDevice":       c.devices[calling],
				"calledDevice":        c.devices[called],
				"localConnectionInfo": st.info,
				"releasingDevice":     c.releasing,
			}
			if err := s.event(c.devices[st.side], st.event, params); err != nil {
				return err
			}
		}
	}
	return nil
}

// Offered starts the events of a SIP call from caller to callee.
func (s *Switch) Offered(callID, caller, callee string) {
	c := s.newCall(caller, callee)
	s.mu.Lock()
	s.sipCalls[callID] = c
	s.mu.Unlock()
	s.observe(c, originate)
}

// Alerting reports the callee ringing.
func (s *Switch) Alerting(callID string) {
	s.observe(s.sipCall(callID), alert)
}

// Answered reports the callee answering.
func (s *Switch) Answered(callID string) {
	s.observe(s.sipCall(callID), answer)
}

// Cleared reports the release of the call by releasing.
func (s *Switch) Cleared(callID, releasing string) {
	c := s.sipCall(callID)
	if c == nil {
		return
	}
	c.releasing = releasing
	s.observe(c, release)
	s.endCall(c)
}

func (s *Switch) sipCall(callID string) *call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sipCalls[callID]
}

func (s *Switch) observe(c *call, phase []step) {
	if c == nil {
		return
	}
	if err := s.play(c, phase); err != nil {
		s.log.Warn("cannot send call event", logger.Err(err))
	}
}

// event sends an event to the monitor of device, if any.
func (s *Switch) event(device, name string, params map[string]string) error {
	s.mu.Lock()
	m := s.monitors[device]
	s.mu.Unlock()
	if m == nil {
		return nil
	}
	params["monitorCrossRefID"] = m.xref
	return s.send(m.link, name, params, message.EventInvokeID)
}

func (s *Switch) send(link transport.Link, name string, params map[string]string, invokeID int) error {
	tpl, err := s.library.CSTATemplate(name)
	if err != nil {
		return err
	}
	msg, err := message.Build(tpl, params, invokeID)
	if err != nil {
		return err
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	return link.Send(data)
}
