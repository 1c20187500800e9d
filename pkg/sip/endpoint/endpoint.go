// Package endpoint is the SIP user agent driven by test scenarios. An
// Endpoint sends messages built from templates and waits for the messages it
// expects, keeping track of dialogs and transactions on the way. Several
// endpoints can share one link, like the lines of a keyset.
package endpoint

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/arzzra/callgen/pkg/inbox"
	"github.com/arzzra/callgen/pkg/logger"
	"github.com/arzzra/callgen/pkg/metrics"
	"github.com/arzzra/callgen/pkg/sip/dialog"
	"github.com/arzzra/callgen/pkg/sip/message"
	"github.com/arzzra/callgen/pkg/sip/transaction"
	"github.com/arzzra/callgen/pkg/templates"
	"github.com/arzzra/callgen/pkg/transport"
)

// DefaultTimeout bounds waits when no other timeout is configured.
const DefaultTimeout = 5 * time.Second

// Endpoint is one SIP user.
type Endpoint struct {
	number  string
	log     logger.Logger
	metrics *metrics.Collector
	library *templates.Library
	timeout time.Duration

	registry *dialog.Registry
	ledger   *transaction.Ledger
	inbox    *inbox.Buffer[*message.Message]

	mu          sync.Mutex
	params      map[string]string
	current     message.Dialog
	username    string
	password    string
	board       *switchboard
	offers      map[string]string // SDP offers received, by Call-ID
	peers       map[string]string // {userB} per Call-ID
	autoReplies []autoReply
}

// New creates an unconnected endpoint for number.
func New(number string, opts ...Option) *Endpoint {
	e := &Endpoint{
		number:  number,
		log:     logger.Nop(),
		library: templates.Default(),
		timeout: DefaultTimeout,
		inbox:   inbox.New[*message.Message](),
		params: map[string]string{
			"user":         number,
			"userB":        "",
			"transport":    "tcp",
			"viaTransport": "TCP",
			"userAgent":    "callgen",
			"expires":      "3600",
			"event":        "presence",
			"source_ip":    "127.0.0.1",
			"source_port":  "5060",
			"dest_ip":      "127.0.0.1",
			"dest_port":    "5060",
		},
		username: number,
		password: number,
		offers:   make(map[string]string),
		peers:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithComponent("endpoint").WithFields(logger.String("number", number))
	e.registry = dialog.NewRegistry(e.log)
	e.ledger = transaction.NewLedger()
	return e
}

// Number returns the user part the endpoint is addressed by.
func (e *Endpoint) Number() string {
	return e.number
}

// Connect dials remote and starts reading from the new link.
func (e *Endpoint) Connect(ctx context.Context, local, remote string) error {
	link, err := transport.Dial(ctx, "tcp", local, remote, transport.SplitSIP)
	if err != nil {
		return err
	}
	if err := e.Attach(link); err != nil {
		link.Close()
		return err
	}
	return nil
}

// Attach makes link the endpoint's own link and starts its reader.
func (e *Endpoint) Attach(link transport.Link) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.board != nil {
		return ErrAlreadyConnected
	}
	e.setAddressesLocked(link.LocalAddr(), link.RemoteAddr())
	e.board = newSwitchboard(link, e, e.log, e.metrics)
	go e.board.run()
	e.log.Info("endpoint connected",
		logger.String("local", addrString(link.LocalAddr())),
		logger.String("remote", addrString(link.RemoteAddr())))
	return nil
}

// UseLink joins the link of primary as another line. Incoming messages are
// routed to the line owning their dialog or addressed by their request-URI.
func (e *Endpoint) UseLink(primary *Endpoint) error {
	primary.mu.Lock()
	board := primary.board
	addresses := make(map[string]string, 4)
	for _, k := range []string{"source_ip", "source_port", "dest_ip", "dest_port"} {
		addresses[k] = primary.params[k]
	}
	primary.mu.Unlock()

	if board == nil {
		return ErrNotConnected
	}

	e.mu.Lock()
	if e.board != nil {
		e.mu.Unlock()
		return ErrAlreadyConnected
	}
	for k, v := range addresses {
		e.params[k] = v
	}
	e.board = board
	e.mu.Unlock()

	board.add(e)
	e.log.Info("endpoint joined shared link", logger.String("primary", primary.number))
	return nil
}

// Close releases the endpoint. The owner of a link closes it, which ends
// every line sharing it; another line only detaches.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	board := e.board
	e.mu.Unlock()

	if board == nil {
		e.inbox.Close()
		return nil
	}
	if board.owner() == e {
		return board.close()
	}
	board.remove(e)
	e.inbox.Close()
	return nil
}

// Param returns one parameter.
func (e *Endpoint) Param(name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params[name]
}

// SetParam sets a template parameter for all later messages.
func (e *Endpoint) SetParam(name, value string) {
	e.mu.Lock()
	e.params[name] = value
	e.mu.Unlock()
}

// Params returns a copy of the parameter bag.
func (e *Endpoint) Params() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyParams(e.params)
}

// SetDigestCredentials sets the credentials answering 401/407 challenges.
func (e *Endpoint) SetDigestCredentials(username, password string) {
	e.mu.Lock()
	e.username, e.password = username, password
	e.mu.Unlock()
}

// CurrentDialog returns the dialog of the last message sent or taken.
func (e *Endpoint) CurrentDialog() message.Dialog {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Dialogs returns every dialog the endpoint knows.
func (e *Endpoint) Dialogs() []dialog.Record {
	return e.registry.Records()
}

// DialogState returns the state of d, or "" when d is unknown.
func (e *Endpoint) DialogState(d message.Dialog) string {
	return e.registry.State(d)
}

// Outstanding returns the requests still waiting for a final response.
func (e *Endpoint) Outstanding() []transaction.Pending {
	return e.ledger.Outstanding()
}

// Buffered returns the messages received but not taken yet.
func (e *Endpoint) Buffered() []*message.Message {
	return e.inbox.Snapshot()
}

// Template returns a SIP template of the endpoint's library.
func (e *Endpoint) Template(name string) (string, error) {
	return e.library.SIPTemplate(name)
}

func (e *Endpoint) setCurrent(d message.Dialog) {
	e.mu.Lock()
	e.current = d
	e.mu.Unlock()
}

func (e *Endpoint) credentials() (string, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.username, e.password
}

func (e *Endpoint) switchboard() *switchboard {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.board
}

func (e *Endpoint) setAddressesLocked(local, remote net.Addr) {
	if host, port, err := splitAddr(local); err == nil {
		e.params["source_ip"], e.params["source_port"] = host, port
	}
	if host, port, err := splitAddr(remote); err == nil {
		e.params["dest_ip"], e.params["dest_port"] = host, port
	}
}

func splitAddr(addr net.Addr) (string, string, error) {
	if addr == nil {
		return "", "", net.InvalidAddrError("nil address")
	}
	return net.SplitHostPort(addr.String())
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

func copyParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params)+8)
	for k, v := range params {
		out[k] = v
	}
	return out
}
