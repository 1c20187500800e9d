package mock

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/callgen/pkg/csta/application"
	"github.com/arzzra/callgen/pkg/transport"
)

func newApplication(t *testing.T, sw *Switch) *application.Application {
	t.Helper()
	c1, c2 := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	srv := transport.NewStreamLink(c2, transport.SplitCSTA)
	go sw.Serve(ctx, srv)

	app := application.New(application.WithTimeout(2 * time.Second))
	require.NoError(t, app.Attach(ctx, transport.NewStreamLink(c1, transport.SplitCSTA)))
	t.Cleanup(func() {
		cancel()
		app.Shutdown()
		srv.Close()
	})
	return app
}

func expectEvents(t *testing.T, u *application.User, events ...string) {
	t.Helper()
	for _, e := range events {
		_, err := u.WaitForMessage(context.Background(), e, application.Strict())
		require.NoError(t, err, "%s waiting for %s", u.Number(), e)
	}
}

func TestSwitchPlaysObservedCall(t *testing.T) {
	sw := NewSwitch(nil)
	app := newApplication(t, sw)
	ctx := context.Background()

	a, b := app.NewUser("1001"), app.NewUser("1002")
	require.NoError(t, app.MonitorStart(ctx, "1001", false))
	require.NoError(t, app.MonitorStart(ctx, "1002", false))

	sw.Offered("sip-call", "1001", "1002")
	sw.Alerting("sip-call")
	sw.Answered("sip-call")
	sw.Cleared("sip-call", "1002")

	expectEvents(t, a, "ServiceInitiatedEvent", "OriginatedEvent", "DeliveredEvent", "EstablishedEvent")
	expectEvents(t, b, "DeliveredEvent", "EstablishedEvent")

	cleared, err := a.WaitForMessage(ctx, "ConnectionClearedEvent")
	require.NoError(t, err)
	assert.Contains(t, cleared.Get("releasingDevice"), "1002")
	expectEvents(t, b, "ConnectionClearedEvent")

	assert.NotEqual(t, a.CallID(), b.CallID(), "each leg has its own call id")

	// progress for unknown calls is ignored
	sw.Answered("other")
}

func TestSwitchSkipsUnmonitoredDevices(t *testing.T) {
	sw := NewSwitch(nil)
	app := newApplication(t, sw)
	ctx := context.Background()

	a := app.NewUser("1001")
	require.NoError(t, app.MonitorStart(ctx, "1001", false))

	_, err := a.Send(ctx, "MakeCall", application.To("5555"))
	require.NoError(t, err)
	_, err = a.WaitForMessage(ctx, "MakeCallResponse")
	require.NoError(t, err)
	expectEvents(t, a, "ServiceInitiatedEvent", "OriginatedEvent", "DeliveredEvent", "EstablishedEvent")

	_, err = app.WaitForMessage(ctx, "DeliveredEvent", application.Timeout(100*time.Millisecond))
	assert.Error(t, err, "nothing reaches the global buffer")
}
