package main

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/callgen/pkg/config"
	"github.com/arzzra/callgen/pkg/logger"
	"github.com/arzzra/callgen/pkg/mock"
	"github.com/arzzra/callgen/pkg/scenario"
	"github.com/arzzra/callgen/pkg/transport"
)

const selftestRealm = "callgen"

// selftest runs every flow against in-process mock peers listening on
// loopback.
func (h *harness) selftest(ctx context.Context) error {
	if len(h.cfg.Users) < 2 {
		h.cfg.Users = []config.UserConfig{{Number: "1001"}, {Number: "1002"}}
	}
	passwords := make(map[string]string, len(h.cfg.Users))
	for _, u := range h.cfg.Users {
		username, password := u.Credentials()
		passwords[username] = password
	}

	sipL, err := transport.Listen("127.0.0.1:0", transport.SplitSIP)
	if err != nil {
		return err
	}
	cstaL, err := transport.Listen("127.0.0.1:0", transport.SplitCSTA)
	if err != nil {
		sipL.Close()
		return err
	}

	peersLog := h.log.WithComponent("mock")
	sw := mock.NewSwitch(peersLog)
	uas := mock.NewUAS(peersLog,
		mock.WithDigest(selftestRealm, passwords),
		mock.WithObserver(sw))

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return uas.ListenAndServe(gctx, sipL) })
	g.Go(func() error { return sw.ListenAndServe(gctx, cstaL) })
	defer func() {
		// phones and the application go first so the peers see clean hangups
		h.close()
		cancel()
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			h.log.Warn("mock peers stopped", logger.Err(err))
		}
	}()

	h.cfg.SIP.Server = sipL.Addr().String()
	h.cfg.SIP.Local = ""
	h.cfg.CSTA.Server = cstaL.Addr().String()
	h.cfg.CSTA.Local = ""
	h.log.Info("mock peers listening",
		logger.String("sip", h.cfg.SIP.Server), logger.String("csta", h.cfg.CSTA.Server))

	a, b := h.cfg.Users[0].Number, h.cfg.Users[1].Number
	caller, err := h.phone(ctx, a)
	if err != nil {
		return err
	}
	callee, err := h.phone(ctx, b)
	if err != nil {
		return err
	}
	app, err := h.application(ctx)
	if err != nil {
		return err
	}

	flows := []struct {
		name string
		flow scenario.Flow
	}{
		{"basic-call", func(ctx context.Context, _ int) error {
			return scenario.BasicCall(ctx, caller, callee, h.cfg.Load.Hold)
		}},
		{"monitored-basic-call", func(ctx context.Context, _ int) error {
			return scenario.MonitoredBasicCallEvents(ctx, app, caller, callee, h.cfg.Load.Hold)
		}},
		{"csta-makecall", func(ctx context.Context, _ int) error {
			return scenario.CstaMakeCall(ctx, app, a, b, h.cfg.Load.Hold)
		}},
	}

	var failed error
	for _, f := range flows {
		if err := h.report(h.runner(1).Run(ctx, f.name, 1, f.flow)); err != nil && failed == nil {
			failed = err
		}
	}
	if err := scenario.Unregister(ctx, caller); err != nil && failed == nil {
		failed = err
	}
	if err := scenario.Unregister(ctx, callee); err != nil && failed == nil {
		failed = err
	}
	return failed
}
