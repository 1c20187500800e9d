// Package scenario holds reusable call flows built on SIP endpoints and
// CSTA users, and a runner executing many of them concurrently.
package scenario

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/callgen/pkg/csta/application"
	"github.com/arzzra/callgen/pkg/sip/endpoint"
	"github.com/arzzra/callgen/pkg/templates"
)

// holdMargin is added to the hold time for waits spanning it.
const holdMargin = 5 * time.Second

// Event sequences seen by the monitors of the two sides of a call.
var (
	CallerEvents = []string{"ServiceInitiatedEvent", "OriginatedEvent", "DeliveredEvent", "EstablishedEvent", "ConnectionClearedEvent"}
	CalleeEvents = []string{"DeliveredEvent", "EstablishedEvent", "ConnectionClearedEvent"}
)

// Register registers ep for expires seconds.
func Register(ctx context.Context, ep *endpoint.Endpoint, expires int) error {
	return errors.Wrapf(ep.Register(ctx, expires), "register %s", ep.Number())
}

// Unregister removes the registration of ep.
func Unregister(ctx context.Context, ep *endpoint.Endpoint) error {
	return errors.Wrapf(ep.Unregister(ctx), "unregister %s", ep.Number())
}

// KeysetRegister registers primary, then every line over primary's
// connection.
func KeysetRegister(ctx context.Context, primary *endpoint.Endpoint, lines []*endpoint.Endpoint, expires int) error {
	if err := Register(ctx, primary, expires); err != nil {
		return err
	}
	for _, line := range lines {
		if err := line.UseLink(primary); err != nil {
			return errors.Wrapf(err, "line %s", line.Number())
		}
		if err := Register(ctx, line, expires); err != nil {
			return err
		}
	}
	return nil
}

func template(ep *endpoint.Endpoint, name string) (string, error) {
	tpl, err := ep.Template(name)
	return tpl, errors.Wrapf(err, "%s template", ep.Number())
}

func hold(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BasicCall places a call from caller to callee, holds it and lets the
// caller hang up. Both sides run concurrently; the first failure cancels
// the other.
func BasicCall(ctx context.Context, caller, callee *endpoint.Endpoint, holdFor time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return errors.Wrapf(answerCall(ctx, callee, holdFor), "callee %s", callee.Number())
	})
	g.Go(func() error {
		return errors.Wrapf(placeCall(ctx, caller, callee.Number(), holdFor), "caller %s", caller.Number())
	})
	return g.Wait()
}

func placeCall(ctx context.Context, caller *endpoint.Endpoint, callee string, holdFor time.Duration) error {
	invite, err := template(caller, templates.InviteSDP)
	if err != nil {
		return err
	}
	ack, err := template(caller, templates.Ack)
	if err != nil {
		return err
	}
	bye, err := template(caller, templates.Bye)
	if err != nil {
		return err
	}

	d, _, err := caller.SendNew(ctx, invite, callee, "200 OK",
		endpoint.Ignoring("100 Trying", "180 Ringing", "183 Session Progress"))
	if err != nil {
		return err
	}
	if _, err := caller.ReplyIn(d, ack); err != nil {
		return err
	}
	if err := hold(ctx, holdFor); err != nil {
		return err
	}
	_, err = caller.SendIn(ctx, d, bye, "200 OK")
	return err
}

func answerCall(ctx context.Context, callee *endpoint.Endpoint, holdFor time.Duration) error {
	names := []string{templates.Trying, templates.Ringing, templates.OkSDP, templates.Ok}
	tpls := make(map[string]string, len(names))
	for _, n := range names {
		tpl, err := template(callee, n)
		if err != nil {
			return err
		}
		tpls[n] = tpl
	}

	invite, err := callee.WaitForMessage(ctx, "INVITE")
	if err != nil {
		return err
	}
	d := invite.Dialog()
	if _, err := callee.ReplyIn(d, tpls[templates.Trying]); err != nil {
		return err
	}
	if _, err := callee.ReplyIn(d, tpls[templates.Ringing]); err != nil {
		return err
	}
	if _, err := callee.SendIn(ctx, d, tpls[templates.OkSDP], "ACK"); err != nil {
		return err
	}

	if _, err := callee.WaitForMessage(ctx, "BYE", endpoint.InDialog(d), endpoint.Timeout(holdFor+holdMargin)); err != nil {
		return err
	}
	_, err = callee.ReplyIn(d, tpls[templates.Ok])
	return err
}

// ExpectEvents waits for events on u in exactly this order.
func ExpectEvents(ctx context.Context, u *application.User, events []string, opts ...application.WaitOption) error {
	opts = append([]application.WaitOption{application.Strict()}, opts...)
	for _, e := range events {
		if _, err := u.WaitForMessage(ctx, e, opts...); err != nil {
			return errors.Wrapf(err, "%s event sequence", u.Number())
		}
	}
	return nil
}

// monitoredPair returns the monitored CSTA users of two numbers with
// their call state reset.
func monitoredPair(ctx context.Context, app *application.Application, a, b string) (*application.User, *application.User, error) {
	users := make([]*application.User, 0, 2)
	for _, n := range []string{a, b} {
		u := app.NewUser(n)
		if err := app.MonitorStart(ctx, n, false); err != nil {
			return nil, nil, errors.Wrapf(err, "monitor %s", n)
		}
		u.Reset()
		users = append(users, u)
	}
	return users[0], users[1], nil
}

// MonitoredBasicCallEvents runs BasicCall while checking that the CSTA
// monitors of both parties report the call's events in order.
func MonitoredBasicCallEvents(ctx context.Context, app *application.Application, caller, callee *endpoint.Endpoint, holdFor time.Duration) error {
	ua, ub, err := monitoredPair(ctx, app, caller.Number(), callee.Number())
	if err != nil {
		return err
	}

	wait := application.Timeout(holdFor + holdMargin)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return BasicCall(ctx, caller, callee, holdFor) })
	g.Go(func() error { return ExpectEvents(ctx, ua, CallerEvents, wait) })
	g.Go(func() error { return ExpectEvents(ctx, ub, CalleeEvents, wait) })
	return g.Wait()
}

// CstaMakeCall places a call from caller to callee with MakeCall, holds it
// and clears it with ClearConnection, checking the events of both sides.
func CstaMakeCall(ctx context.Context, app *application.Application, caller, callee string, holdFor time.Duration) error {
	ua, ub, err := monitoredPair(ctx, app, caller, callee)
	if err != nil {
		return err
	}

	if _, err := ua.Send(ctx, "MakeCall", application.To(callee)); err != nil {
		return err
	}
	if _, err := ua.WaitForMessage(ctx, "MakeCallResponse"); err != nil {
		return err
	}

	wait := application.Timeout(holdFor + holdMargin)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ExpectEvents(gctx, ua, CallerEvents[:4]) })
	g.Go(func() error { return ExpectEvents(gctx, ub, CalleeEvents[:2]) })
	if err := g.Wait(); err != nil {
		return err
	}

	if err := hold(ctx, holdFor); err != nil {
		return err
	}
	if _, err := ua.Send(ctx, "ClearConnection"); err != nil {
		return err
	}
	if _, err := ua.WaitForMessage(ctx, "ClearConnectionResponse"); err != nil {
		return err
	}
	if err := ExpectEvents(ctx, ua, CallerEvents[4:], wait); err != nil {
		return err
	}
	return ExpectEvents(ctx, ub, CalleeEvents[2:], wait)
}
