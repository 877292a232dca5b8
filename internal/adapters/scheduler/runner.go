// Package scheduler provides adapters for running the sync scheduler.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/target/catalog-sync/internal/core"
	obserrors "github.com/target/catalog-sync/internal/observability/errors"
	"github.com/target/catalog-sync/internal/observability/metrics"
	"github.com/target/catalog-sync/internal/observability/statsd"
)

// Runner calls the scheduler's Tick on a fixed interval.
type Runner struct {
	scheduler  core.JobScheduler
	interval   time.Duration
	runOnStart bool
	logger     *slog.Logger
	metrics    statsd.Sink
	now        func() time.Time
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Scheduler core.JobScheduler
	Interval  time.Duration
	// RunOnStart ticks once immediately instead of waiting a full interval.
	RunOnStart bool
	Logger     *slog.Logger
	Metrics    statsd.Sink
}

// NewRunner creates a new scheduler runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		scheduler:  opts.Scheduler,
		interval:   opts.Interval,
		runOnStart: opts.RunOnStart,
		logger:     opts.Logger.With("component", "scheduler_runner"),
		metrics:    opts.Metrics,
		now:        time.Now,
	}, nil
}

// Run starts the scheduler loop and runs until the context is cancelled.
// Tick errors are logged and the loop keeps running.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting scheduler runner", "interval", r.interval, "run_on_start", r.runOnStart)

	if r.runOnStart {
		r.tick(ctx, r.now())
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "scheduler runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case now := <-ticker.C:
			r.tick(ctx, now)
		}
	}
}

func (r *Runner) tick(ctx context.Context, now time.Time) {
	start := time.Now()
	enqueued, err := r.scheduler.Tick(ctx, now)
	r.emitTickMetrics(enqueued, time.Since(start), err)

	switch {
	case err != nil && ctx.Err() != nil:
		r.logger.DebugContext(ctx, "scheduler tick cancelled", "error", err)
	case err != nil:
		r.logger.ErrorContext(ctx, "scheduler tick failed", "enqueued", enqueued, "error", err)
	case enqueued > 0:
		r.logger.InfoContext(ctx, "scheduler enqueued jobs", "count", enqueued)
	}
}

func (r *Runner) emitTickMetrics(enqueued int, elapsed time.Duration, err error) {
	if r.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if enqueued == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}

	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	r.metrics.Count("scheduler.tick", 1, tags)

	if enqueued > 0 {
		r.metrics.Count("scheduler.jobs_enqueued", int64(enqueued), metrics.CloneTags(tags))
	}

	if elapsed > 0 {
		r.metrics.Timing("scheduler.tick_duration", elapsed, metrics.CloneTags(tags))
	}

	if err == nil {
		r.metrics.Gauge("scheduler.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}
