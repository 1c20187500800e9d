package endpoint

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/callgen/pkg/inbox"
	"github.com/arzzra/callgen/pkg/sip/dialog"
	"github.com/arzzra/callgen/pkg/sip/message"
	"github.com/arzzra/callgen/pkg/templates"
	"github.com/arzzra/callgen/pkg/transport"
)

func newPair(t *testing.T) (*Endpoint, *Endpoint) {
	t.Helper()
	c1, c2 := net.Pipe()
	a := New("1001", WithTimeout(2*time.Second))
	b := New("1002", WithTimeout(2*time.Second))
	require.NoError(t, a.Attach(transport.NewStreamLink(c1, transport.SplitSIP)))
	require.NoError(t, b.Attach(transport.NewStreamLink(c2, transport.SplitSIP)))
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

// newScripted returns an endpoint and the raw link of its peer.
func newScripted(t *testing.T, number string, opts ...Option) (*Endpoint, *transport.StreamLink) {
	t.Helper()
	c1, c2 := net.Pipe()
	opts = append([]Option{WithTimeout(2 * time.Second)}, opts...)
	ep := New(number, opts...)
	require.NoError(t, ep.Attach(transport.NewStreamLink(c1, transport.SplitSIP)))
	peer := transport.NewStreamLink(c2, transport.SplitSIP)
	t.Cleanup(func() {
		ep.Close()
		peer.Close()
	})
	return ep, peer
}

func rawRequest(method, user, callID, fromTag, toTag string) []byte {
	to := "<sip:" + user + "@127.0.0.1>"
	if toTag != "" {
		to += ";tag=" + toTag
	}
	return []byte(method + " sip:" + user + "@127.0.0.1:5060;transport=tcp SIP/2.0\r\n" +
		"Via: SIP/2.0/TCP 127.0.0.1:5070;branch=z9hG4bK" + callID + "\r\n" +
		"From: <sip:9999@127.0.0.1>;tag=" + fromTag + "\r\n" +
		"To: " + to + "\r\n" +
		"Call-ID: " + callID + "\r\n" +
		"CSeq: 1 " + method + "\r\n" +
		"Max-Forwards: 70\r\n" +
		"Content-Length: 0\r\n\r\n")
}

func receive(t *testing.T, link *transport.StreamLink) *message.Message {
	t.Helper()
	data, err := link.Receive(2 * time.Second)
	require.NoError(t, err)
	msg, err := message.Parse(data)
	require.NoError(t, err)
	return msg
}

func respond(t *testing.T, link *transport.StreamLink, req *message.Message, code int, reason string, headers ...string) {
	t.Helper()
	resp := message.NewResponse(code, reason)
	require.NoError(t, resp.MakeResponseTo(req, "srv"))
	for i := 0; i+1 < len(headers); i += 2 {
		resp.SetHeader(headers[i], headers[i+1])
	}
	resp.SetHeader("Content-Length", "0")
	require.NoError(t, link.Send(resp.Bytes()))
}

func TestBasicCall(t *testing.T) {
	a, b := newPair(t)
	ctx := context.Background()

	var seen []*message.Message
	calleeDone := make(chan error, 1)
	go func() {
		calleeDone <- func() error {
			inv, err := b.WaitForMessage(ctx, "INVITE")
			if err != nil {
				return err
			}
			seen = append(seen, inv)
			if _, err := b.Reply(templates.MustSIP(templates.Trying)); err != nil {
				return err
			}
			if _, err := b.Reply(templates.MustSIP(templates.Ringing)); err != nil {
				return err
			}
			ack, err := b.Send(ctx, templates.MustSIP(templates.OkSDP), "ACK")
			if err != nil {
				return err
			}
			seen = append(seen, ack)
			bye, err := b.WaitForMessage(ctx, "BYE")
			if err != nil {
				return err
			}
			seen = append(seen, bye)
			_, err = b.Reply(templates.MustSIP(templates.Ok))
			return err
		}()
	}()

	d, ok, err := a.SendNew(ctx, templates.MustSIP(templates.InviteSDP), b.Number(), "200 OK",
		Ignoring("100 Trying", "180 Ringing"))
	require.NoError(t, err)
	require.NotNil(t, ok)
	assert.True(t, d.Complete())
	assert.Equal(t, "INVITE", ok.Method())
	assert.Contains(t, ok.Body, "m=audio")

	_, err = a.Reply(templates.MustSIP(templates.Ack))
	require.NoError(t, err)
	byeOK, err := a.Send(ctx, templates.MustSIP(templates.Bye), "200 OK")
	require.NoError(t, err)
	assert.Equal(t, "BYE", byeOK.Method())

	require.NoError(t, <-calleeDone)
	require.Len(t, seen, 3)
	for _, m := range seen {
		assert.Equal(t, d.CallID, m.CallID())
	}

	// ACK shares the INVITE transaction, BYE opens a new one
	inviteTx, ackTx, byeTx := seen[0].Transaction(), seen[1].Transaction(), seen[2].Transaction()
	assert.Equal(t, inviteTx.Branch, ackTx.Branch)
	assert.Equal(t, inviteTx.Seq, ackTx.Seq)
	assert.NotEqual(t, inviteTx.Branch, byeTx.Branch)
	assert.Equal(t, inviteTx.Seq+1, byeTx.Seq)

	// BYE goes from the caller's side
	assert.Equal(t, d.FromTag, seen[2].FromTag())
	assert.Equal(t, d.ToTag, seen[2].ToTag())

	assert.Equal(t, dialog.StateTerminated, a.DialogState(d))
	assert.Equal(t, dialog.StateTerminated, b.DialogState(d))
	assert.Empty(t, a.Outstanding())
	assert.Empty(t, b.Outstanding())
}

func TestCalleeHangsUp(t *testing.T) {
	a, b := newPair(t)
	ctx := context.Background()

	go func() {
		if _, err := b.WaitForMessage(ctx, "INVITE"); err != nil {
			return
		}
		if _, err := b.Send(ctx, templates.MustSIP(templates.OkSDP), "ACK"); err != nil {
			return
		}
		b.Send(ctx, templates.MustSIP(templates.Bye), "200 OK")
	}()

	d, _, err := a.SendNew(ctx, templates.MustSIP(templates.InviteSDP), b.Number(), "200 OK")
	require.NoError(t, err)
	_, err = a.Reply(templates.MustSIP(templates.Ack))
	require.NoError(t, err)

	bye, err := a.WaitForMessage(ctx, "BYE", InDialog(d))
	require.NoError(t, err)
	// the callee addresses the BYE from its own side of the dialog
	assert.Equal(t, d.ToTag, bye.FromTag())
	assert.Equal(t, d.FromTag, bye.ToTag())
	assert.True(t, strings.HasPrefix(bye.RequestURI(), "sip:1001@"))

	_, err = a.Reply(templates.MustSIP(templates.Ok))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return b.DialogState(d) == dialog.StateTerminated
	}, time.Second, 10*time.Millisecond)
}

func TestCancelledCall(t *testing.T) {
	a, b := newPair(t)
	ctx := context.Background()

	go func() {
		inv, err := b.WaitForMessage(ctx, "INVITE")
		if err != nil {
			return
		}
		b.Reply(templates.MustSIP(templates.Ringing))
		if _, err := b.WaitForMessage(ctx, "CANCEL"); err != nil {
			return
		}
		b.Reply(templates.MustSIP(templates.Ok))
		// 487 answers the INVITE, not the CANCEL
		b.SendInContextOf(inv, templates.MustSIP(templates.Terminated))
	}()

	d, _, err := a.SendNew(ctx, templates.MustSIP(templates.InviteSDP), b.Number(), "180 Ringing")
	require.NoError(t, err)

	cancelOK, err := a.Send(ctx, templates.MustSIP(templates.Cancel), "200 OK")
	require.NoError(t, err)
	assert.Equal(t, "CANCEL", cancelOK.Method())

	_, err = a.WaitForMessage(ctx, "487", InDialog(d))
	require.NoError(t, err)
	assert.Equal(t, dialog.StateTerminated, a.DialogState(d))
}

func TestWaitTimeout(t *testing.T) {
	ep, _ := newScripted(t, "1001")

	start := time.Now()
	_, err := ep.WaitForMessage(context.Background(), "INVITE", Timeout(50*time.Millisecond))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, inbox.ErrTimeout))
	var timeout *TimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, "INVITE", timeout.Expected)
	assert.Equal(t, "1001", timeout.Number)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestWaitTimeoutListsBuffered(t *testing.T) {
	ep, peer := newScripted(t, "1001")
	require.NoError(t, peer.Send(rawRequest("OPTIONS", "1001", "opt-1", "p1", "")))
	require.Eventually(t, func() bool { return len(ep.Buffered()) == 1 }, time.Second, 5*time.Millisecond)

	_, err := ep.WaitForMessage(context.Background(), "INVITE", Timeout(30*time.Millisecond))
	var timeout *TimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, []string{"OPTIONS"}, timeout.Buffered)
}

func TestWaitCancelledByContext(t *testing.T) {
	ep, _ := newScripted(t, "1001")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ep.WaitForMessage(ctx, "INVITE", Timeout(0))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestUnexpectedMessage(t *testing.T) {
	ep, peer := newScripted(t, "1001")
	require.NoError(t, peer.Send(rawRequest("BYE", "1001", "stray", "p1", "x1")))

	_, err := ep.WaitForMessage(context.Background(), "INVITE")
	var unexpected *UnexpectedMessageError
	require.True(t, errors.As(err, &unexpected))
	assert.Equal(t, "BYE", unexpected.Received.Method())
	assert.Equal(t, "INVITE", unexpected.Expected)
	assert.Empty(t, ep.Buffered())
}

func TestIgnoredMessagesAreDiscarded(t *testing.T) {
	ep, peer := newScripted(t, "1001")
	require.NoError(t, peer.Send(rawRequest("OPTIONS", "1001", "opt-1", "p1", "")))
	require.NoError(t, peer.Send(rawRequest("INVITE", "1001", "inv-1", "p2", "")))

	inv, err := ep.WaitForMessage(context.Background(), "INVITE", Ignoring("OPTIONS"))
	require.NoError(t, err)
	assert.Equal(t, "inv-1", inv.CallID())
	assert.Empty(t, ep.Buffered())
}

func TestBufferedMessagesKeepOrder(t *testing.T) {
	ep, peer := newScripted(t, "1001")
	require.NoError(t, peer.Send(rawRequest("NOTIFY", "1001", "n-1", "p0", "")))
	require.NoError(t, peer.Send(rawRequest("INVITE", "1001", "inv-1", "p1", "")))
	require.NoError(t, peer.Send(rawRequest("INVITE", "1001", "inv-2", "p2", "")))
	ctx := context.Background()

	first, err := ep.WaitForMessage(ctx, "INVITE")
	require.NoError(t, err)
	second, err := ep.WaitForMessage(ctx, "INVITE")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", first.CallID())
	assert.Equal(t, "inv-2", second.CallID())

	// the NOTIFY did not match and is still there
	buffered := ep.Buffered()
	require.Len(t, buffered, 1)
	assert.Equal(t, "NOTIFY", buffered[0].Method())
}

func TestWaitForMessages(t *testing.T) {
	ep, peer := newScripted(t, "1001")
	require.NoError(t, peer.Send(rawRequest("NOTIFY", "1001", "n-1", "p0", "")))
	require.NoError(t, peer.Send(rawRequest("INVITE", "1001", "inv-1", "p1", "")))

	got, err := ep.WaitForMessages(context.Background(), []string{"INVITE", "NOTIFY"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "NOTIFY", got[0].Method())
	assert.Equal(t, "INVITE", got[1].Method())
}

func TestKeysetRouting(t *testing.T) {
	primary, peer := newScripted(t, "1001")
	line := New("1002", WithTimeout(2*time.Second))
	require.NoError(t, line.UseLink(primary))
	ctx := context.Background()

	require.NoError(t, peer.Send(rawRequest("INVITE", "1002", "to-line", "p1", "")))
	require.NoError(t, peer.Send(rawRequest("INVITE", "1001", "to-primary", "p2", "")))

	inv, err := line.WaitForMessage(ctx, "INVITE")
	require.NoError(t, err)
	assert.Equal(t, "to-line", inv.CallID())

	inv, err = primary.WaitForMessage(ctx, "INVITE")
	require.NoError(t, err)
	assert.Equal(t, "to-primary", inv.CallID())

	// answers in the line's dialog come back to the line
	_, err = line.Reply(templates.MustSIP(templates.Ringing))
	require.NoError(t, err)
	ringing := receive(t, peer)
	assert.Equal(t, "to-line", ringing.CallID())

	require.NoError(t, peer.Send(rawRequest("BYE", "1002", "to-line", "p1", ringing.ToTag())))
	bye, err := line.WaitForMessage(ctx, "BYE")
	require.NoError(t, err)
	assert.Equal(t, "to-line", bye.CallID())

	require.NoError(t, line.Close())
	assert.ErrorIs(t, line.UseLink(primary), ErrAlreadyConnected)
}

func TestUseLinkRequiresConnectedPrimary(t *testing.T) {
	line := New("1002")
	assert.ErrorIs(t, line.UseLink(New("1001")), ErrNotConnected)
}

func TestRegisterWithDigestChallenge(t *testing.T) {
	ep, peer := newScripted(t, "1001", WithCredentials("alice", "secret"))

	done := make(chan error, 1)
	go func() { done <- ep.Register(context.Background(), 60) }()

	first := receive(t, peer)
	assert.Equal(t, "REGISTER", first.Method())
	assert.Contains(t, first.Header("Contact"), "expires=60")
	respond(t, peer, first, 401, "Unauthorized",
		"WWW-Authenticate", `Digest realm="lab", nonce="abc123", algorithm=MD5`)

	second := receive(t, peer)
	assert.Equal(t, first.CallID(), second.CallID())
	assert.Equal(t, first.Branch(), second.Branch())
	seq1, _ := first.CSeq()
	seq2, _ := second.CSeq()
	assert.Equal(t, seq1+1, seq2)
	auth := second.Header("Authorization")
	assert.Contains(t, auth, `username="alice"`)
	assert.Contains(t, auth, `realm="lab"`)

	// a different to-tag than the challenge is fine
	resp := message.NewResponse(200, "OK")
	require.NoError(t, resp.MakeResponseTo(second, "other"))
	resp.SetHeader("Content-Length", "0")
	require.NoError(t, peer.Send(resp.Bytes()))

	require.NoError(t, <-done)
	assert.Empty(t, ep.Outstanding())
}

func TestSecondChallengeFails(t *testing.T) {
	ep, peer := newScripted(t, "1001", WithTimeout(300*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- ep.Register(context.Background(), 60) }()

	challenge := []string{"WWW-Authenticate", `Digest realm="lab", nonce="n1"`}
	first := receive(t, peer)
	respond(t, peer, first, 401, "Unauthorized", challenge...)
	second := receive(t, peer)
	assert.Contains(t, second.Header("Authorization"), `username="1001"`)
	respond(t, peer, second, 401, "Unauthorized", challenge...)

	err := <-done
	var timeout *TimeoutError
	assert.True(t, errors.As(err, &timeout), "second challenge stays buffered until timeout: %v", err)
}

func TestAutoReply(t *testing.T) {
	ep, peer := newScripted(t, "1001")
	ep.AutoReply("OPTIONS", message.Dialog{}, templates.MustSIP(templates.Ok))
	ep.AutoReply("NOTIFY", message.Dialog{}, "")

	require.NoError(t, peer.Send(rawRequest("NOTIFY", "1001", "n-1", "p0", "")))
	require.NoError(t, peer.Send(rawRequest("OPTIONS", "1001", "opt-1", "p1", "")))

	ok := receive(t, peer)
	assert.True(t, ok.Is("200 OK"))
	assert.Equal(t, "opt-1", ok.CallID())
	assert.Equal(t, "OPTIONS", ok.Method())
	assert.NotEmpty(t, ok.ToTag())
	assert.Empty(t, ep.Buffered())
	assert.True(t, ep.CurrentDialog().IsZero())
}

func TestSendErrors(t *testing.T) {
	ep := New("1001")
	ctx := context.Background()

	_, _, err := ep.SendNew(ctx, templates.MustSIP(templates.Ok), "", "")
	assert.ErrorIs(t, err, message.ErrNotRequest)

	_, _, err = ep.SendNew(ctx, templates.MustSIP(templates.Options), "", "")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = ep.ReplyIn(message.Dialog{CallID: "nope"}, templates.MustSIP(templates.Ok))
	assert.ErrorIs(t, err, ErrUnknownDialog)

	var missing *message.MissingParameterError
	_, _, err = ep.SendNew(ctx, "OPTIONS sip:{nowhere} SIP/2.0\nMax-Forwards: 70\n", "", "")
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"nowhere"}, missing.Names)
}

func TestCloseWakesWaiters(t *testing.T) {
	ep, _ := newScripted(t, "1001")

	done := make(chan error, 1)
	go func() {
		_, err := ep.WaitForMessage(context.Background(), "INVITE", Timeout(0))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ep.Close())

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, inbox.ErrClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not woken by Close")
	}
}

func TestParamsFromOptions(t *testing.T) {
	ep := New("1001", WithParams(map[string]string{"dest_ip": "10.1.1.1"}))
	assert.Equal(t, "10.1.1.1", ep.Param("dest_ip"))
	assert.Equal(t, "1001", ep.Param("user"))

	ep.SetParam("expires", "30")
	params := ep.Params()
	params["expires"] = "changed"
	assert.Equal(t, "30", ep.Param("expires"))
}
