package main

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/arzzra/callgen/pkg/config"
	"github.com/arzzra/callgen/pkg/csta/application"
	"github.com/arzzra/callgen/pkg/logger"
	"github.com/arzzra/callgen/pkg/metrics"
	"github.com/arzzra/callgen/pkg/scenario"
	"github.com/arzzra/callgen/pkg/sip/endpoint"
	"github.com/arzzra/callgen/pkg/templates"
)

// harness owns the phones and the CSTA application of one run.
type harness struct {
	cfg     *config.Config
	log     logger.Logger
	metrics *metrics.Collector
	library *templates.Library
	caller  string
	callee  string

	mu     sync.Mutex
	phones []*endpoint.Endpoint
	app    *application.Application
}

func newHarness(cfg *config.Config, log logger.Logger, caller, callee string) (*harness, error) {
	lib, err := loadTemplates(cfg.Templates)
	if err != nil {
		return nil, err
	}
	mcfg := metrics.DefaultConfig()
	mcfg.Enabled = cfg.Metrics.Listen != ""
	if cfg.Metrics.Namespace != "" {
		mcfg.Namespace = cfg.Metrics.Namespace
	}
	return &harness{
		cfg:     cfg,
		log:     log,
		metrics: metrics.New(mcfg),
		library: lib,
		caller:  caller,
		callee:  callee,
	}, nil
}

func (h *harness) run(ctx context.Context, mode string) error {
	defer h.close()

	switch mode {
	case "basic-call":
		return h.basicCall(ctx)
	case "csta-makecall":
		return h.cstaMakeCall(ctx)
	case "load":
		return h.load(ctx)
	case "selftest":
		return h.selftest(ctx)
	default:
		return errors.Errorf("unknown mode %q", mode)
	}
}

// pair resolves the calling and called numbers from flags or the first
// two configured users.
func (h *harness) pair() (string, string, error) {
	a, b := h.caller, h.callee
	if a == "" && len(h.cfg.Users) > 0 {
		a = h.cfg.Users[0].Number
	}
	if b == "" && len(h.cfg.Users) > 1 {
		b = h.cfg.Users[1].Number
	}
	if a == "" || b == "" {
		return "", "", errors.New("caller and callee are required")
	}
	return a, b, nil
}

// phone connects and registers one endpoint for number. Keyset lines of
// the user are joined to the same link and registered too.
func (h *harness) phone(ctx context.Context, number string) (*endpoint.Endpoint, error) {
	user, ok := h.cfg.Number(number)
	if !ok {
		user = config.UserConfig{Number: number}
	}
	username, password := user.Credentials()

	ep := endpoint.New(number, h.endpointOptions(username, password)...)
	if err := ep.Connect(ctx, h.cfg.SIP.Local, h.cfg.SIP.Server); err != nil {
		return nil, errors.Wrapf(err, "connect %s", number)
	}
	h.track(ep)

	lines := make([]*endpoint.Endpoint, 0, len(user.Keyset))
	for _, n := range user.Keyset {
		line := endpoint.New(n, h.endpointOptions(username, password)...)
		if err := line.UseLink(ep); err != nil {
			return nil, errors.Wrapf(err, "keyset line %s", n)
		}
		h.track(line)
		lines = append(lines, line)
	}
	if err := scenario.KeysetRegister(ctx, ep, lines, h.cfg.Register.Expires); err != nil {
		return nil, err
	}
	if h.cfg.Register.Refresh > 0 {
		r := ep.StartRefresher(ctx, h.cfg.Register.Refresh, h.cfg.Register.Expires)
		go func() {
			<-ctx.Done()
			r.Stop()
			if n, err := r.Failures(); n > 0 {
				h.log.Warn("registration refreshes failed",
					logger.String("number", number), logger.Int("failures", n), logger.Err(err))
			}
		}()
	}
	return ep, nil
}

func (h *harness) endpointOptions(username, password string) []endpoint.Option {
	return []endpoint.Option{
		endpoint.WithLogger(h.log),
		endpoint.WithMetrics(h.metrics),
		endpoint.WithTimeout(h.cfg.WaitTimeout),
		endpoint.WithTemplates(h.library),
		endpoint.WithCredentials(username, password),
		endpoint.WithParams(map[string]string{
			"transport":  h.cfg.SIP.Transport,
			"media_port": strconv.Itoa(h.cfg.SIP.MediaPort),
		}),
	}
}

func (h *harness) track(ep *endpoint.Endpoint) {
	h.mu.Lock()
	h.phones = append(h.phones, ep)
	h.mu.Unlock()
}

func (h *harness) application(ctx context.Context) (*application.Application, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.app != nil {
		return h.app, nil
	}
	app := application.New(
		application.WithLogger(h.log),
		application.WithMetrics(h.metrics),
		application.WithTimeout(h.cfg.WaitTimeout),
		application.WithTemplates(h.library),
	)
	if err := app.Connect(ctx, h.cfg.CSTA.Local, h.cfg.CSTA.Server); err != nil {
		return nil, errors.Wrap(err, "connect csta")
	}
	h.app = app
	return app, nil
}

func (h *harness) close() {
	h.mu.Lock()
	phones, app := h.phones, h.app
	h.phones, h.app = nil, nil
	h.mu.Unlock()

	// lines sharing a link detach before its owner closes it
	for i := len(phones) - 1; i >= 0; i-- {
		ep := phones[i]
		if err := ep.Close(); err != nil {
			h.log.Debug("close endpoint", logger.String("number", ep.Number()), logger.Err(err))
		}
	}
	if app != nil {
		app.Shutdown()
	}
}

func (h *harness) runner(concurrency int) *scenario.Runner {
	return scenario.NewRunner(
		scenario.WithLogger(h.log),
		scenario.WithMetrics(h.metrics),
		scenario.WithConcurrency(concurrency),
	)
}

func (h *harness) report(s scenario.Summary) error {
	fmt.Println(s.String())
	return s.Err()
}

func (h *harness) basicCall(ctx context.Context) error {
	a, b, err := h.pair()
	if err != nil {
		return err
	}
	caller, err := h.phone(ctx, a)
	if err != nil {
		return err
	}
	callee, err := h.phone(ctx, b)
	if err != nil {
		return err
	}
	s := h.runner(1).Run(ctx, "basic-call", 1, func(ctx context.Context, _ int) error {
		return scenario.BasicCall(ctx, caller, callee, h.cfg.Load.Hold)
	})
	return h.report(s)
}

func (h *harness) cstaMakeCall(ctx context.Context) error {
	a, b, err := h.pair()
	if err != nil {
		return err
	}
	app, err := h.application(ctx)
	if err != nil {
		return err
	}
	s := h.runner(1).Run(ctx, "csta-makecall", 1, func(ctx context.Context, _ int) error {
		return scenario.CstaMakeCall(ctx, app, a, b, h.cfg.Load.Hold)
	})
	return h.report(s)
}

// load places calls between consecutive pairs of configured users. A pair
// carries one call at a time, so concurrency is capped by the pair count.
func (h *harness) load(ctx context.Context) error {
	if len(h.cfg.Users) < 2 {
		return errors.New("load needs at least two users")
	}
	type pair struct{ caller, callee *endpoint.Endpoint }
	pairs := make(chan pair, len(h.cfg.Users)/2)
	for i := 0; i+1 < len(h.cfg.Users); i += 2 {
		a, err := h.phone(ctx, h.cfg.Users[i].Number)
		if err != nil {
			return err
		}
		b, err := h.phone(ctx, h.cfg.Users[i+1].Number)
		if err != nil {
			return err
		}
		pairs <- pair{a, b}
	}

	concurrency := h.cfg.Load.Concurrency
	if concurrency > len(pairs) {
		h.log.Warn("concurrency capped by user pairs",
			logger.Int("requested", concurrency), logger.Int("pairs", len(pairs)))
		concurrency = len(pairs)
	}
	started := time.Now()
	s := h.runner(concurrency).Run(ctx, "basic-call", h.cfg.Load.Calls, func(ctx context.Context, _ int) error {
		var p pair
		select {
		case p = <-pairs:
		case <-ctx.Done():
			return ctx.Err()
		}
		defer func() { pairs <- p }()
		return scenario.BasicCall(ctx, p.caller, p.callee, h.cfg.Load.Hold)
	})
	h.log.Info("load finished", logger.Duration("elapsed", time.Since(started)))
	return h.report(s)
}
