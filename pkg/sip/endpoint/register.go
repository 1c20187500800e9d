package endpoint

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/arzzra/callgen/pkg/logger"
	"github.com/arzzra/callgen/pkg/templates"
)

// Register sends REGISTER with the given expiry and waits for 200 OK.
// Every registration is a new dialog; the current dialog is not changed.
func (e *Endpoint) Register(ctx context.Context, expires int) error {
	tpl, err := e.library.SIPTemplate(templates.Register)
	if err != nil {
		return err
	}
	e.SetParam("expires", strconv.Itoa(expires))
	_, _, err = e.sendNew(ctx, tpl, "", "200 OK", false)
	return err
}

// Unregister is Register with a zero expiry.
func (e *Endpoint) Unregister(ctx context.Context) error {
	return e.Register(ctx, 0)
}

// Refresher re-registers an endpoint periodically until stopped.
type Refresher struct {
	ep       *Endpoint
	interval time.Duration
	expires  int
	log      logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	failures int
	lastErr  error
}

// StartRefresher registers ep every interval with the given expiry.
func (e *Endpoint) StartRefresher(ctx context.Context, interval time.Duration, expires int) *Refresher {
	ctx, cancel := context.WithCancel(ctx)
	r := &Refresher{
		ep:       e,
		interval: interval,
		expires:  expires,
		log:      e.log.WithComponent("refresher"),
		cancel:   cancel,
	}
	r.wg.Add(1)
	go r.loop(ctx)
	return r
}

func (r *Refresher) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := r.ep.Register(ctx, r.expires)
			r.mu.Lock()
			r.lastErr = err
			if err != nil {
				r.failures++
			}
			r.mu.Unlock()
			if err != nil && ctx.Err() == nil {
				r.log.Warn("re-registration failed", logger.Err(err))
			}
		}
	}
}

// Stop ends the refresh loop and waits for a running registration.
func (r *Refresher) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Failures returns the number of failed refreshes and the last outcome.
func (r *Refresher) Failures() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures, r.lastErr
}
