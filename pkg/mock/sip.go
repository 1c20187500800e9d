// Package mock holds in-process peers for the harness: a SIP registrar
// that relays calls between its registered users and answers the rest
// itself, and a CSTA switch.
package mock

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/arzzra/callgen/pkg/logger"
	"github.com/arzzra/callgen/pkg/sdpbody"
	"github.com/arzzra/callgen/pkg/sip/message"
	"github.com/arzzra/callgen/pkg/transport"
)

// UASOption configures a UAS.
type UASOption func(*UAS)

// WithDigest challenges every REGISTER and checks the answer against
// passwords.
func WithDigest(realm string, passwords map[string]string) UASOption {
	return func(u *UAS) {
		u.realm = realm
		u.passwords = passwords
	}
}

// WithMedia sets the address advertised in SDP answers.
func WithMedia(ip string, port int) UASOption {
	return func(u *UAS) { u.media = sdpbody.Params{User: "mock", IP: ip, Port: port} }
}

// CallObserver is told about the progress of every call through the UAS.
// Switch implements it, so CSTA monitors see SIP calls.
type CallObserver interface {
	Offered(callID, caller, callee string)
	Alerting(callID string)
	Answered(callID string)
	Cleared(callID, releasing string)
}

// WithObserver reports call progress to o.
func WithObserver(o CallObserver) UASOption {
	return func(u *UAS) { u.observer = o }
}

// UAS is a registrar and call peer. A request for a user registered on
// another link is relayed unchanged and everything in that call follows
// the same path. Calls to anyone else are answered locally: INVITE gets
// 100, 180 and 200 with an SDP answer, BYE and everything else 200.
type UAS struct {
	log       logger.Logger
	realm     string
	passwords map[string]string
	media     sdpbody.Params
	observer  CallObserver

	mu       sync.Mutex
	bindings map[string]transport.Link // registered user -> link
	relays   map[string][2]transport.Link
	nonces   map[string]string // Call-ID -> issued nonce
	nonceSeq int
}

// NewUAS creates a UAS.
func NewUAS(log logger.Logger, opts ...UASOption) *UAS {
	if log == nil {
		log = logger.Nop()
	}
	u := &UAS{
		log:      log.WithComponent("mock-sip"),
		media:    sdpbody.Params{User: "mock"},
		bindings: make(map[string]transport.Link),
		relays:   make(map[string][2]transport.Link),
		nonces:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// ListenAndServe serves every connection accepted by l until ctx is done.
func (u *UAS) ListenAndServe(ctx context.Context, l *transport.Listener) error {
	return l.Serve(ctx, func(ctx context.Context, link *transport.StreamLink) {
		if err := u.Serve(ctx, link); err != nil && !errors.Is(err, transport.ErrLinkClosed) {
			u.log.Warn("sip connection ended", logger.Err(err))
		}
	})
}

// Serve handles one connection until it closes or ctx is done.
func (u *UAS) Serve(ctx context.Context, link transport.Link) error {
	defer u.drop(link)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := link.Receive(readPoll)
		if errors.Is(err, transport.ErrReadTimeout) {
			continue
		}
		if err != nil {
			return err
		}
		msg, err := message.Parse(data)
		if err != nil {
			u.log.Warn("dropping malformed sip message", logger.Err(err))
			continue
		}
		if err := u.handle(link, msg); err != nil {
			return err
		}
	}
}

// Registered reports whether user holds a binding.
func (u *UAS) Registered(user string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.bindings[user]
	return ok
}

func (u *UAS) drop(link transport.Link) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for user, l := range u.bindings {
		if l == link {
			delete(u.bindings, user)
		}
	}
	for callID, pair := range u.relays {
		if pair[0] == link || pair[1] == link {
			delete(u.relays, callID)
		}
	}
}

func (u *UAS) handle(link transport.Link, msg *message.Message) error {
	if peer, opened, ok := u.relayTarget(link, msg); ok {
		u.observe(msg, opened)
		return peer.Send(msg.Bytes())
	}
	if msg.IsResponse() {
		u.log.Debug("dropping response outside any relayed call", logger.String("type", msg.Type()))
		return nil
	}

	switch msg.Method() {
	case "REGISTER":
		return u.register(link, msg)
	case "INVITE":
		return u.invite(link, msg)
	case "ACK":
		return nil
	case "BYE", "CANCEL":
		u.observe(msg, false)
		return u.respond(link, msg, 200, "OK", nil)
	default:
		return u.respond(link, msg, 200, "OK", nil)
	}
}

// relayTarget returns the link msg must be forwarded to. A new INVITE for
// a user bound to another link opens a relay.
func (u *UAS) relayTarget(link transport.Link, msg *message.Message) (target transport.Link, opened, ok bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	callID := msg.CallID()
	if pair, found := u.relays[callID]; found {
		if pair[0] == link {
			return pair[1], false, true
		}
		return pair[0], false, true
	}
	if msg.Method() != "INVITE" || msg.ToTag() != "" {
		return nil, false, false
	}
	target, found := u.bindings[msg.AddressedUser()]
	if !found || target == link {
		return nil, false, false
	}
	u.relays[callID] = [2]transport.Link{link, target}
	return target, true, true
}

// observe reports the call progress msg stands for.
func (u *UAS) observe(msg *message.Message, opened bool) {
	if u.observer == nil {
		return
	}
	callID := msg.CallID()
	switch {
	case opened:
		u.observer.Offered(callID, msg.FromUser(), msg.AddressedUser())
	case msg.IsResponse():
		if _, method := msg.CSeq(); method != "INVITE" {
			return
		}
		switch code := msg.StatusCode(); {
		case code == 180 || code == 183:
			u.observer.Alerting(callID)
		case code >= 200 && code < 300:
			u.observer.Answered(callID)
		}
	case msg.Method() == "BYE" || msg.Method() == "CANCEL":
		u.observer.Cleared(callID, msg.FromUser())
	}
}

func (u *UAS) register(link transport.Link, req *message.Message) error {
	user := message.URIUser(message.NameAddrURI(req.Header("To")))

	if u.passwords != nil {
		u.mu.Lock()
		nonce, issued := u.nonces[req.CallID()]
		u.mu.Unlock()

		if !issued || !req.Headers.Has("Authorization") {
			return u.challenge(link, req)
		}
		if _, ok := message.Verify(req, nonce, u.password); !ok {
			return u.respond(link, req, 403, "Forbidden", nil)
		}
		u.mu.Lock()
		delete(u.nonces, req.CallID())
		u.mu.Unlock()
	}

	expires := requestedExpiry(req)

	u.mu.Lock()
	if expires == 0 {
		delete(u.bindings, user)
	} else {
		u.bindings[user] = link
	}
	u.mu.Unlock()
	u.log.Info("registration", logger.String("user", user), logger.Int("expires", expires))

	return u.respond(link, req, 200, "OK", func(resp *message.Message) {
		if contact := req.Header("Contact"); contact != "" {
			resp.SetHeader("Contact", contact)
		}
		resp.SetHeader("Expires", strconv.Itoa(expires))
	})
}

// requestedExpiry reads the Contact expires parameter, then the Expires
// header, defaulting to an hour.
func requestedExpiry(req *message.Message) int {
	contact := req.Header("Contact")
	if i := strings.LastIndexByte(contact, '>'); i >= 0 {
		for _, param := range strings.Split(contact[i+1:], ";") {
			name, value, ok := strings.Cut(strings.TrimSpace(param), "=")
			if ok && strings.EqualFold(name, "expires") {
				if n, err := strconv.Atoi(value); err == nil {
					return n
				}
			}
		}
	}
	if n, err := strconv.Atoi(req.Header("Expires")); err == nil {
		return n
	}
	return 3600
}

func (u *UAS) password(user string) (string, bool) {
	p, ok := u.passwords[user]
	return p, ok
}

func (u *UAS) challenge(link transport.Link, req *message.Message) error {
	u.mu.Lock()
	u.nonceSeq++
	nonce := "mock" + strconv.Itoa(u.nonceSeq) + message.NewTag()
	u.nonces[req.CallID()] = nonce
	u.mu.Unlock()

	return u.respond(link, req, 401, "Unauthorized", func(resp *message.Message) {
		resp.SetHeader("WWW-Authenticate", message.NewChallenge(u.realm, nonce))
	})
}

func (u *UAS) invite(link transport.Link, req *message.Message) error {
	tag := message.NewTag()
	u.observe(req, true)
	if _, err := u.respondTagged(link, req, 100, "Trying", tag, nil); err != nil {
		return err
	}
	ringing, err := u.respondTagged(link, req, 180, "Ringing", tag, nil)
	if err != nil {
		return err
	}
	u.observe(ringing, false)

	answer, err := sdpbody.Answer(req.Body, u.media)
	if err != nil {
		u.log.Warn("cannot answer offer", logger.Err(err))
		_, err := u.respondTagged(link, req, 488, "Not Acceptable Here", tag, nil)
		return err
	}
	ok, err := u.respondTagged(link, req, 200, "OK", tag, func(resp *message.Message) {
		resp.SetHeader("Contact", req.Header("To"))
		resp.SetHeader("Content-Type", "application/sdp")
		resp.Body = answer
	})
	if err != nil {
		return err
	}
	u.observe(ok, false)
	return nil
}

func (u *UAS) respond(link transport.Link, req *message.Message, code int, reason string, edit func(*message.Message)) error {
	_, err := u.respondTagged(link, req, code, reason, "", edit)
	return err
}

func (u *UAS) respondTagged(link transport.Link, req *message.Message, code int, reason, tag string, edit func(*message.Message)) (*message.Message, error) {
	resp := message.NewResponse(code, reason)
	if err := resp.MakeResponseTo(req, tag); err != nil {
		return nil, err
	}
	if edit != nil {
		edit(resp)
	}
	resp.SetHeader("Content-Length", strconv.Itoa(len(resp.Body)))
	u.log.Debug("sip response", logger.String("type", resp.Type()), logger.String("call_id", req.CallID()))
	return resp, link.Send(resp.Bytes())
}
