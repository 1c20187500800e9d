// Command callgen drives SIP phones and a CSTA application against a
// switch under test, or against built-in mock peers in selftest mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/arzzra/callgen/pkg/config"
	"github.com/arzzra/callgen/pkg/logger"
	"github.com/arzzra/callgen/pkg/metrics"
	"github.com/arzzra/callgen/pkg/templates"
)

var modes = []string{"basic-call", "csta-makecall", "load", "selftest"}

func main() {
	var (
		configPath  = flag.String("config", "", "Config file (yaml, json or toml)")
		mode        = flag.String("mode", "selftest", "Mode: "+strings.Join(modes, ", "))
		sipServer   = flag.String("sip", "", "SIP server host:port")
		cstaServer  = flag.String("csta", "", "CSTA server host:port")
		caller      = flag.String("caller", "", "Calling number (default: first configured user)")
		callee      = flag.String("callee", "", "Called number (default: second configured user)")
		calls       = flag.Int("calls", 0, "Calls to place in load mode")
		concurrency = flag.Int("concurrency", 0, "Calls in flight in load mode")
		hold        = flag.Duration("hold", 0, "How long each call stays connected")
		metricsAddr = flag.String("metrics", "", "Serve Prometheus metrics on this address")
		logLevel    = flag.String("log-level", "", "debug, info, warn or error")
	)
	flag.Parse()

	v, err := config.New(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	// explicit flags win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "sip":
			v.Set("sip.server", *sipServer)
		case "csta":
			v.Set("csta.server", *cstaServer)
		case "calls":
			v.Set("load.calls", *calls)
		case "concurrency":
			v.Set("load.concurrency", *concurrency)
		case "hold":
			v.Set("load.hold", *hold)
		case "metrics":
			v.Set("metrics.listen", *metricsAddr)
		case "log-level":
			v.Set("log.level", *logLevel)
		}
	})
	cfg, err := config.FromViper(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := newHarness(cfg, log, *caller, *callee)
	if err != nil {
		log.Error("invalid setup", logger.Err(err))
		os.Exit(2)
	}
	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, h.metrics, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if err := h.run(ctx, *mode); err != nil {
		log.Error("run failed", logger.String("mode", *mode), logger.Err(err))
		stop()
		os.Exit(1)
	}
}

func serveMetrics(addr string, c *metrics.Collector, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", logger.Err(err))
		}
	}()
	log.Info("serving metrics", logger.String("addr", addr))
	return srv
}

func loadTemplates(path string) (*templates.Library, error) {
	if path == "" {
		return templates.Default(), nil
	}
	return templates.Load(path)
}
