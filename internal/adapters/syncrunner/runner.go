// Package syncrunner runs the worker loop that claims sync jobs and executes them.
package syncrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/target/catalog-sync/internal/domain/model"
	apperrors "github.com/target/catalog-sync/internal/errors"
	obserrors "github.com/target/catalog-sync/internal/observability/errors"
	"github.com/target/catalog-sync/internal/observability/metrics"
	"github.com/target/catalog-sync/internal/observability/statsd"
	"github.com/target/catalog-sync/internal/service"
)

// HandlerFunc executes one claimed job against its resolved target store. A returned error fails
// the attempt; item-level problems belong in the result.
type HandlerFunc func(ctx context.Context, job *model.Job, store *model.Store) (*model.SyncResult, error)

// errStoreUnavailable marks jobs whose target store is missing or uninstalled. Retrying cannot help.
var errStoreUnavailable = errors.New("target store unavailable")

const (
	defaultPollInterval = 5 * time.Second
	componentLabel      = "sync_runner"
)

// RunnerOptions configures the worker loop.
type RunnerOptions struct {
	Jobs   *service.JobService   // Required
	Stores *service.StoreService // Required
	Sync   *service.SyncService  // Required

	// PollInterval is the idle wait between claim attempts; a queue notification ends it early.
	PollInterval time.Duration
	// Concurrency is the number of worker goroutines; defaults to 1.
	Concurrency int

	Logger  *slog.Logger
	Metrics statsd.Sink
}

// Runner claims jobs from the queue and executes them with registered handlers.
type Runner struct {
	jobs     *service.JobService
	stores   *service.StoreService
	logger   *slog.Logger
	metrics  statsd.Sink
	poll     time.Duration
	workers  int
	handlers map[model.JobType]HandlerFunc
}

// NewRunner constructs a Runner with a handler for every sync job type.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil || opts.Stores == nil || opts.Sync == nil {
		return nil, errors.New("job, store and sync services are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}

	r := &Runner{
		jobs:     opts.Jobs,
		stores:   opts.Stores,
		logger:   logger.With("component", componentLabel),
		metrics:  opts.Metrics,
		poll:     poll,
		workers:  workers,
		handlers: make(map[model.JobType]HandlerFunc),
	}
	for _, jt := range model.JobTypes() {
		r.handlers[jt] = opts.Sync.Run
	}
	return r, nil
}

// Run starts the worker goroutines and processes jobs until ctx is cancelled. A job that is already
// running when ctx is cancelled is finished before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting sync runner", "workers", r.workers, "poll_interval", r.poll)

	unsub, notify := r.jobs.Subscribe()
	defer unsub()

	var wg sync.WaitGroup
	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.workerLoop(ctx, notify)
		}()
	}
	wg.Wait()

	r.logger.InfoContext(ctx, "sync runner stopped", "reason", ctx.Err())
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}) {
	for ctx.Err() == nil {
		claimed, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "claim failed", "error", err)
		}
		if claimed {
			continue
		}
		if !r.wait(ctx, notify) {
			return
		}
	}
}

// wait blocks for the poll interval or until the queue signals new work. It reports false once ctx
// is done.
func (r *Runner) wait(ctx context.Context, notify <-chan struct{}) bool {
	timer := time.NewTimer(r.poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case _, ok := <-notify:
		if !ok {
			// Notifications stopped; fall back to plain polling.
			select {
			case <-ctx.Done():
				return false
			case <-timer.C:
			}
		}
		return true
	}
}

// RunOnce claims and executes at most one job. It reports whether a job was claimed; the error is
// non-nil only when the claim itself failed. Job failures are recorded on the job, not returned.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	job, err := r.jobs.ClaimNext(ctx)
	if errors.Is(err, model.ErrNoJobsAvailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		JobType:    string(job.Type),
		Transition: metrics.TransitionClaimed,
		Result:     metrics.ResultSuccess,
	})

	// A claimed job runs to completion or failure even if the worker is shutting down.
	r.processJob(context.WithoutCancel(ctx), job)
	return true, nil
}

func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	start := time.Now()
	logger := r.logger.With("job_id", job.ID, "job_type", job.Type, "store", job.TargetStore, "attempt", job.Attempts)
	logger.InfoContext(ctx, "job started")

	result, err := r.execute(ctx, job)
	if err != nil {
		r.failJob(ctx, logger, job, err, time.Since(start))
		return
	}

	completed, cerr := r.jobs.Complete(ctx, job.ID)
	emit := metrics.JobMetric{
		JobType:    string(job.Type),
		Transition: metrics.TransitionCompleted,
		Result:     metrics.ResultSuccess,
		Duration:   time.Since(start),
	}
	switch {
	case cerr != nil:
		logger.ErrorContext(ctx, "complete job error", "error", cerr)
		emit.Result, emit.Err = metrics.ResultError, cerr
	case !completed:
		logger.WarnContext(ctx, "job was no longer running at completion")
		emit.Result = metrics.ResultNoop
	default:
		logger.InfoContext(ctx, "job completed",
			"succeeded", result.Succeeded,
			"failed_items", len(result.Failed),
			"ignored", result.Ignored)
	}
	metrics.EmitJobLifecycle(r.metrics, emit)
}

// execute resolves the job's store and runs its handler. A panic in the handler is converted into an
// error so the job is failed instead of the worker dying with it still running.
func (r *Runner) execute(ctx context.Context, job *model.Job) (result *model.SyncResult, err error) {
	store, err := r.stores.ResolveForJob(ctx, job)
	if apperrors.IsNotFound(err) || errors.Is(err, service.ErrStoreNotInstalled) {
		return nil, fmt.Errorf("%w: %w", errStoreUnavailable, err)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve store: %w", err)
	}
	h, ok := r.handlers[job.Type]
	if !ok {
		return nil, fmt.Errorf("no handler for job type %s", job.Type)
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "job handler panicked",
				"job_id", job.ID,
				"panic", p,
				"stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("job handler panicked: %v", p)
		}
	}()

	result, err = h(ctx, job, store)
	if err == nil && result == nil {
		result = &model.SyncResult{Store: store.Domain}
	}
	return result, err
}

func (r *Runner) failJob(ctx context.Context, logger *slog.Logger, job *model.Job, cause error, elapsed time.Duration) {
	status, err := r.jobs.FailWithDetails(ctx, job, cause.Error(), service.JobFailureDetails{
		Permanent:  errors.Is(cause, errStoreUnavailable),
		ErrorClass: obserrors.Classify(cause),
		Metadata: map[string]string{
			"component": componentLabel,
			"store":     job.TargetStore,
		},
	})
	if err != nil {
		logger.ErrorContext(ctx, "fail job error", "error", err, "original_error", cause)
	}

	transition := metrics.TransitionRetried
	switch status {
	case model.JobStatusFailed:
		transition = metrics.TransitionFailed
	case model.JobStatusPending:
		logger.WarnContext(ctx, "job attempt failed, will retry", "error", cause, "max_attempts", job.MaxAttempts)
	}
	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		JobType:    string(job.Type),
		Transition: transition,
		Result:     metrics.ResultError,
		Duration:   elapsed,
		Err:        cause,
	})
}
