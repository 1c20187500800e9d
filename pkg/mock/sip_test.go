package mock

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/callgen/pkg/inbox"
	"github.com/arzzra/callgen/pkg/sip/endpoint"
	"github.com/arzzra/callgen/pkg/templates"
	"github.com/arzzra/callgen/pkg/transport"
)

// attach connects a new endpoint to uas over an in-memory link.
func attach(t *testing.T, uas *UAS, number string, opts ...endpoint.Option) *endpoint.Endpoint {
	t.Helper()
	c1, c2 := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	srv := transport.NewStreamLink(c2, transport.SplitSIP)
	go uas.Serve(ctx, srv)

	opts = append([]endpoint.Option{endpoint.WithTimeout(2 * time.Second)}, opts...)
	ep := endpoint.New(number, opts...)
	require.NoError(t, ep.Attach(transport.NewStreamLink(c1, transport.SplitSIP)))
	t.Cleanup(func() {
		cancel()
		ep.Close()
		srv.Close()
	})
	return ep
}

func TestUASRegisterWithDigest(t *testing.T) {
	uas := NewUAS(nil, WithDigest("lab", map[string]string{"1001": "secret"}))
	ep := attach(t, uas, "1001", endpoint.WithCredentials("1001", "secret"))
	ctx := context.Background()

	require.NoError(t, ep.Register(ctx, 60))
	assert.True(t, uas.Registered("1001"))

	require.NoError(t, ep.Unregister(ctx))
	assert.False(t, uas.Registered("1001"))
}

func TestUASRejectsWrongPassword(t *testing.T) {
	uas := NewUAS(nil, WithDigest("lab", map[string]string{"1001": "secret"}))
	ep := attach(t, uas, "1001",
		endpoint.WithCredentials("1001", "guess"),
		endpoint.WithTimeout(300*time.Millisecond))

	err := ep.Register(context.Background(), 60)
	require.Error(t, err)
	assert.True(t, errors.Is(err, inbox.ErrTimeout))
	assert.False(t, uas.Registered("1001"))
}

func TestUASAnswersCall(t *testing.T) {
	uas := NewUAS(nil, WithMedia("10.0.0.9", 5004))
	ep := attach(t, uas, "1001")
	ctx := context.Background()

	d, ok, err := ep.SendNew(ctx, templates.MustSIP(templates.InviteSDP), "9000", "200 OK",
		endpoint.Ignoring("100 Trying", "180 Ringing"))
	require.NoError(t, err)
	assert.True(t, d.Complete())
	assert.Contains(t, ok.Body, "c=IN IP4 10.0.0.9")
	assert.Contains(t, ok.Body, "m=audio 5004")

	_, err = ep.Reply(templates.MustSIP(templates.Ack))
	require.NoError(t, err)
	_, err = ep.Send(ctx, templates.MustSIP(templates.Bye), "200 OK")
	require.NoError(t, err)
}

func TestUASRelaysRegisteredUsers(t *testing.T) {
	uas := NewUAS(nil)
	a := attach(t, uas, "1001")
	b := attach(t, uas, "1002")
	ctx := context.Background()

	require.NoError(t, a.Register(ctx, 60))
	require.NoError(t, b.Register(ctx, 60))

	callee := make(chan error, 1)
	go func() {
		callee <- func() error {
			if _, err := b.WaitForMessage(ctx, "INVITE"); err != nil {
				return err
			}
			if _, err := b.Reply(templates.MustSIP(templates.Ringing)); err != nil {
				return err
			}
			if _, err := b.Send(ctx, templates.MustSIP(templates.OkSDP), "ACK"); err != nil {
				return err
			}
			if _, err := b.WaitForMessage(ctx, "BYE"); err != nil {
				return err
			}
			_, err := b.Reply(templates.MustSIP(templates.Ok))
			return err
		}()
	}()

	d, _, err := a.SendNew(ctx, templates.MustSIP(templates.InviteSDP), "1002", "200 OK",
		endpoint.Ignoring("180 Ringing"))
	require.NoError(t, err)
	_, err = a.Reply(templates.MustSIP(templates.Ack))
	require.NoError(t, err)
	_, err = a.Send(ctx, templates.MustSIP(templates.Bye), "200 OK")
	require.NoError(t, err)
	require.NoError(t, <-callee)

	assert.Equal(t, d.CallID, b.CurrentDialog().CallID)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) Offered(_, caller, callee string) { r.add("offered " + caller + ">" + callee) }
func (r *recorder) Alerting(string)                  { r.add("alerting") }
func (r *recorder) Answered(string)                  { r.add("answered") }
func (r *recorder) Cleared(_, releasing string)      { r.add("cleared by " + releasing) }

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestUASReportsCallProgress(t *testing.T) {
	rec := &recorder{}
	uas := NewUAS(nil, WithObserver(rec))
	ep := attach(t, uas, "1001")
	ctx := context.Background()

	_, _, err := ep.SendNew(ctx, templates.MustSIP(templates.InviteSDP), "9000", "200 OK",
		endpoint.Ignoring("100 Trying", "180 Ringing"))
	require.NoError(t, err)
	_, err = ep.Reply(templates.MustSIP(templates.Ack))
	require.NoError(t, err)
	_, err = ep.Send(ctx, templates.MustSIP(templates.Bye), "200 OK")
	require.NoError(t, err)

	assert.Equal(t, []string{"offered 1001>9000", "alerting", "answered", "cleared by 1001"}, rec.list())
}
