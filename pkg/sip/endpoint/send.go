package endpoint

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/arzzra/callgen/pkg/logger"
	"github.com/arzzra/callgen/pkg/sdpbody"
	"github.com/arzzra/callgen/pkg/sip/message"
)

// SendNew starts a dialog with a request built from template. peer is the
// number placed in {userB} for every message of the dialog; empty for
// requests without a B side such as REGISTER. When expected is not empty SendNew also waits for it in the new
// dialog and returns it.
func (e *Endpoint) SendNew(ctx context.Context, template, peer, expected string, opts ...WaitOption) (message.Dialog, *message.Message, error) {
	return e.sendNew(ctx, template, peer, expected, true, opts...)
}

// sendNew starts a dialog; with follow unset the current dialog is kept.
func (e *Endpoint) sendNew(ctx context.Context, template, peer, expected string, follow bool, opts ...WaitOption) (message.Dialog, *message.Message, error) {
	method := message.TemplateMethod(template)
	if method == "" {
		return message.Dialog{}, nil, errors.Wrap(message.ErrNotRequest, "start dialog with a response")
	}

	d := e.registry.StartNew()
	e.metrics.DialogStarted("local")
	e.setPeer(d.CallID, peer)

	tx, err := e.ledger.Next(method, d)
	if err != nil {
		return d, nil, err
	}
	msg, err := e.render(template, d, tx, nil)
	if err != nil {
		return d, nil, err
	}
	msg.SetDialogFrom(d)
	msg.SetTransactionFrom(tx)

	if err := e.transmit(msg); err != nil {
		return d, nil, err
	}
	if follow {
		e.setCurrent(d)
	} else {
		opts = append(opts, detached())
	}
	if expected == "" {
		return d, nil, nil
	}

	reply, err := e.WaitForMessage(ctx, expected, append([]WaitOption{InDialog(d)}, opts...)...)
	if full, ok := e.registry.Complete(d); ok {
		d = full
	}
	return d, reply, err
}

// Send sends template in the current dialog and, when expected is not
// empty, waits for it in the same dialog.
func (e *Endpoint) Send(ctx context.Context, template, expected string, opts ...WaitOption) (*message.Message, error) {
	return e.SendIn(ctx, e.CurrentDialog(), template, expected, opts...)
}

// SendIn is Send in dialog d.
func (e *Endpoint) SendIn(ctx context.Context, d message.Dialog, template, expected string, opts ...WaitOption) (*message.Message, error) {
	sent, err := e.ReplyIn(d, template)
	if err != nil || expected == "" {
		return nil, err
	}
	return e.WaitForMessage(ctx, expected, append([]WaitOption{InDialog(sent.Dialog())}, opts...)...)
}

// Reply sends template in the current dialog.
func (e *Endpoint) Reply(template string) (*message.Message, error) {
	return e.ReplyIn(e.CurrentDialog(), template)
}

// ReplyIn builds template against the last message seen in dialog d. A
// response copies the correlation headers of that message and gets the
// endpoint's tag; a request is addressed from the endpoint's side of the
// dialog and numbered by the ledger.
func (e *Endpoint) ReplyIn(d message.Dialog, template string) (*message.Message, error) {
	full, ok := e.registry.Complete(d)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDialog, "%s", d)
	}
	ref, ok := e.ledger.LastMessage(full)
	if !ok {
		return nil, errors.Wrapf(ErrNoReference, "%s", full)
	}

	method := message.TemplateMethod(template)
	if method == "" {
		msg, err := e.render(template, full, ref.Transaction(), ref)
		if err != nil {
			return nil, err
		}
		if err := msg.MakeResponseTo(ref, e.registry.LocalTag(full)); err != nil {
			return nil, err
		}
		return msg, e.transmitFollowing(msg)
	}

	tx, err := e.ledger.Next(method, full)
	if err != nil {
		return nil, err
	}
	msg, err := e.render(template, full, tx, ref)
	if err != nil {
		return nil, err
	}
	e.orient(msg, ref, full)
	msg.SetTransactionFrom(tx)
	return msg, e.transmitFollowing(msg)
}

// SendInContextOf answers ref directly: a response is correlated with ref, a
// request reuses its dialog and transaction. The current dialog is left
// alone.
func (e *Endpoint) SendInContextOf(ref *message.Message, template string) (*message.Message, error) {
	d := ref.Dialog()
	msg, err := e.render(template, d, ref.Transaction(), ref)
	if err != nil {
		return nil, err
	}
	if msg.IsResponse() {
		if err := msg.MakeResponseTo(ref, e.registry.LocalTag(d)); err != nil {
			return nil, err
		}
	} else {
		msg.SetDialogFrom(d)
		msg.SetTransactionFrom(ref.Transaction())
	}
	return msg, e.transmit(msg)
}

// orient copies From and To from ref so that From is the endpoint's side.
func (e *Endpoint) orient(msg, ref *message.Message, d message.Dialog) {
	from, to := ref.Header("From"), ref.Header("To")
	if local := e.registry.LocalTag(d); local != "" && ref.FromTag() != local {
		from, to = to, from
	}
	msg.SetHeader("From", from)
	msg.SetHeader("To", to)
	msg.SetCallID(d.CallID)
}

func (e *Endpoint) render(template string, d message.Dialog, tx message.Transaction, ref *message.Message) (*message.Message, error) {
	params := e.Params()
	params["callId"] = d.CallID
	params["fromTag"] = d.FromTag
	params["toTag"] = d.ToTag
	params["viaBranch"] = tx.Branch
	params["cseq"] = strconv.Itoa(tx.Seq)
	if peer, ok := e.peer(d.CallID); ok {
		params["userB"] = peer
	}

	if _, set := params["sdp"]; !set && strings.Contains(template, "{sdp}") {
		body, err := e.sdpFor(params, d)
		if err != nil {
			return nil, err
		}
		params["sdp"] = body
	}
	return message.Build(template, params)
}

// sdpFor answers the offer received in d, or makes an offer when there is none.
func (e *Endpoint) sdpFor(params map[string]string, d message.Dialog) (string, error) {
	local := sdpbody.Params{User: e.number, IP: params["source_ip"]}
	if port, err := strconv.Atoi(params["media_port"]); err == nil {
		local.Port = port
	}

	if offer := e.remoteOffer(d.CallID); offer != "" {
		body, err := sdpbody.Answer(offer, local)
		if err == nil {
			return body, nil
		}
		e.log.Warn("cannot answer remote offer, sending own offer", logger.Err(err))
	}
	return sdpbody.Offer(local)
}

func (e *Endpoint) setPeer(callID, number string) {
	e.mu.Lock()
	e.peers[callID] = number
	e.mu.Unlock()
}

func (e *Endpoint) peer(callID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	number, ok := e.peers[callID]
	return number, ok
}

func (e *Endpoint) remoteOffer(callID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offers[callID]
}

// transmit records msg and writes it to the link. The ledger is updated
// first so a fast answer always finds its request.
func (e *Endpoint) transmit(msg *message.Message) error {
	board := e.switchboard()
	if board == nil {
		return ErrNotConnected
	}

	if err := e.ledger.Sent(msg); err != nil {
		reportLedger(e.log, "sent message does not match a transaction", err)
	}
	if msg.IsResponse() && !msg.IsChallenge() {
		e.registry.UpdateToTag(msg.Dialog())
	}
	e.registry.Track(msg)

	if err := board.send(msg); err != nil {
		return err
	}
	e.log.Debug("message sent",
		logger.String("type", msg.Type()),
		logger.String("call_id", msg.CallID()))
	return nil
}

func (e *Endpoint) transmitFollowing(msg *message.Message) error {
	if err := e.transmit(msg); err != nil {
		return err
	}
	e.follow(msg)
	return nil
}

// follow makes the dialog of msg the current one.
func (e *Endpoint) follow(msg *message.Message) {
	d, ok := e.registry.Complete(msg.Dialog())
	if !ok {
		d = msg.Dialog()
	}
	e.setCurrent(d)
}
