package scenario

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/callgen/pkg/logger"
	"github.com/arzzra/callgen/pkg/metrics"
)

// Flow is one run of a scenario; run numbers it from zero.
type Flow func(ctx context.Context, run int) error

// Result is the outcome of one run.
type Result struct {
	Flow     string
	Run      int
	Err      error
	Started  time.Time
	Duration time.Duration
}

func (r Result) Passed() bool { return r.Err == nil }

// Summary aggregates the runs of a flow. Results are ordered by run;
// runs never started because of cancellation are not listed.
type Summary struct {
	Flow    string
	Runs    int
	Passed  int
	Failed  int
	Elapsed time.Duration
	Slowest time.Duration
	Results []Result
}

// Err returns nil when every started run passed, else the first failure.
func (s Summary) Err() error {
	for _, r := range s.Results {
		if r.Err != nil {
			return errors.Wrapf(r.Err, "%s run %d (%d of %d failed)", s.Flow, r.Run, s.Failed, len(s.Results))
		}
	}
	if len(s.Results) < s.Runs {
		return errors.Errorf("%s: only %d of %d runs started", s.Flow, len(s.Results), s.Runs)
	}
	return nil
}

// Mean returns the average run duration.
func (s Summary) Mean() time.Duration {
	if len(s.Results) == 0 {
		return 0
	}
	var total time.Duration
	for _, r := range s.Results {
		total += r.Duration
	}
	return total / time.Duration(len(s.Results))
}

func (s Summary) String() string {
	return fmt.Sprintf("%s: %d runs, %d passed, %d failed in %s (mean %s, slowest %s)",
		s.Flow, s.Runs, s.Passed, s.Failed, s.Elapsed.Round(time.Millisecond),
		s.Mean().Round(time.Millisecond), s.Slowest.Round(time.Millisecond))
}

// Runner executes flows concurrently.
type Runner struct {
	concurrency int
	failFast    bool
	log         logger.Logger
	metrics     *metrics.Collector
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConcurrency bounds the runs in flight. Values below one mean one.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n < 1 {
			n = 1
		}
		r.concurrency = n
	}
}

// FailFast cancels the remaining runs after the first failure.
func FailFast() RunnerOption {
	return func(r *Runner) { r.failFast = true }
}

func WithLogger(log logger.Logger) RunnerOption {
	return func(r *Runner) { r.log = log }
}

func WithMetrics(c *metrics.Collector) RunnerOption {
	return func(r *Runner) { r.metrics = c }
}

// NewRunner creates a runner; the default concurrency is one.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{concurrency: 1, log: logger.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithComponent("runner")
	return r
}

// Run executes flow runs times and waits for every started run.
func (r *Runner) Run(ctx context.Context, name string, runs int, flow Flow) Summary {
	start := time.Now()
	results := make([]*Result, runs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	var mu sync.Mutex
	for i := 0; i < runs; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			res := &Result{Flow: name, Run: i, Started: time.Now()}
			res.Err = flow(gctx, i)
			res.Duration = time.Since(res.Started)
			r.metrics.FlowFinished(name, res.Err, res.Duration)

			mu.Lock()
			results[i] = res
			mu.Unlock()

			if res.Err != nil {
				r.log.Warn("flow failed",
					logger.String("flow", name),
					logger.Int("run", i),
					logger.Err(res.Err))
				if r.failFast {
					return res.Err
				}
			} else {
				r.log.Debug("flow passed",
					logger.String("flow", name),
					logger.Int("run", i),
					logger.Duration("took", res.Duration))
			}
			return nil
		})
	}
	g.Wait()

	sum := Summary{Flow: name, Runs: runs, Elapsed: time.Since(start)}
	for _, res := range results {
		if res == nil {
			continue
		}
		sum.Results = append(sum.Results, *res)
		if res.Err != nil {
			sum.Failed++
		} else {
			sum.Passed++
		}
		if res.Duration > sum.Slowest {
			sum.Slowest = res.Duration
		}
	}
	r.log.Info("flow finished",
		logger.String("flow", name),
		logger.Int("passed", sum.Passed),
		logger.Int("failed", sum.Failed),
		logger.Duration("elapsed", sum.Elapsed))
	return sum
}
