package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/target/catalog-sync/config"
	"github.com/target/catalog-sync/internal/core"
	"github.com/target/catalog-sync/internal/domain/model"
	obserrors "github.com/target/catalog-sync/internal/observability/errors"
	"github.com/target/catalog-sync/internal/observability/metrics"
	"github.com/target/catalog-sync/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.ReaperRepository // Required
	Config  config.ReaperConfig
	Logger  *slog.Logger // Optional
	Metrics statsd.Sink  // Optional
}

// ReaperService keeps the job table healthy. Each pass expires pending jobs that stayed eligible
// but unclaimed for too long, recovers jobs left running by a dead worker and prunes old terminal
// jobs.
type ReaperService struct {
	repo    core.ReaperRepository
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// sweep is one batched maintenance query, repeated until it affects no rows.
type sweep struct {
	operation string // metric tag
	label     string // error prefix
	maxAge    time.Duration
	batch     func(ctx context.Context) (int64, error)
	logLevel  slog.Level
	logMsg    string
}

type sweepResult struct {
	operation string
	count     int64
	err       error
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		logger:  logger.With("component", "reaper_service"),
		metrics: opts.Metrics,
	}, nil
}

// MustNewReaperService is NewReaperService for startup wiring; it panics on invalid options.
func MustNewReaperService(opts ReaperServiceOptions) *ReaperService {
	svc, err := NewReaperService(opts)
	if err != nil {
		//nolint:forbidigo // startup wiring fails fast
		panic(fmt.Sprintf("failed to create ReaperService: %v", err))
	}
	return svc
}

// Run sweeps once after a short jitter, then on every interval until ctx ends.
// Cancellation is a clean stop; a deadline is returned as-is.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting reaper service",
		"interval", s.config.Interval,
		"pending_max_age", s.config.PendingMaxAge,
		"running_max_age", s.config.RunningMaxAge)

	if !s.sleepJitter(ctx) {
		return stopReason(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		s.logCleanupError(ctx, s.runCleanup(ctx))
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			return stopReason(ctx)
		case <-ticker.C:
		}
	}
}

// sleepJitter delays up to a tenth of the interval so replicas started together spread out.
// It reports false if ctx ended first.
func (s *ReaperService) sleepJitter(ctx context.Context) bool {
	maxJitter := s.config.Interval / 10
	if maxJitter <= 0 {
		return true
	}
	timer := time.NewTimer(rand.N(maxJitter)) // #nosec G404 - jitter only
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func stopReason(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (s *ReaperService) sweeps() []sweep {
	cfg := s.config
	deleteOld := func(status model.JobStatus, maxAge time.Duration) func(context.Context) (int64, error) {
		return func(ctx context.Context) (int64, error) {
			return s.repo.DeleteOldJobs(ctx, core.DeleteOldJobsParams{Status: status, MaxAge: maxAge, BatchSize: cfg.BatchSize})
		}
	}
	return []sweep{
		{
			operation: "fail_pending",
			label:     "fail stale pending jobs",
			maxAge:    cfg.PendingMaxAge,
			batch: func(ctx context.Context) (int64, error) {
				return s.repo.FailStalePendingJobs(ctx, cfg.PendingMaxAge, cfg.BatchSize)
			},
			logLevel: slog.LevelInfo,
			logMsg:   "failed stale pending jobs",
		},
		{
			operation: "fail_stuck_running",
			label:     "fail stuck running jobs",
			maxAge:    cfg.RunningMaxAge,
			batch: func(ctx context.Context) (int64, error) {
				return s.repo.FailStuckRunningJobs(ctx, cfg.RunningMaxAge, cfg.BatchSize)
			},
			// A worker died mid-sync; worth noticing.
			logLevel: slog.LevelWarn,
			logMsg:   "recovered stuck running jobs",
		},
		{
			operation: "delete_completed",
			label:     "delete old completed jobs",
			maxAge:    cfg.CompletedMaxAge,
			batch:     deleteOld(model.JobStatusCompleted, cfg.CompletedMaxAge),
			logLevel:  slog.LevelInfo,
			logMsg:    "deleted old completed jobs",
		},
		{
			operation: "delete_failed",
			label:     "delete old failed jobs",
			maxAge:    cfg.FailedMaxAge,
			batch:     deleteOld(model.JobStatusFailed, cfg.FailedMaxAge),
			logLevel:  slog.LevelInfo,
			logMsg:    "deleted old failed jobs",
		},
	}
}

// runCleanup runs every sweep, even after one fails. When every failure is a
// cancellation the pass reports context.Canceled.
func (s *ReaperService) runCleanup(ctx context.Context) error {
	start := time.Now()
	var (
		results  []sweepResult
		errs     []error
		canceled = true
	)
	for _, sw := range s.sweeps() {
		count, err := s.drain(ctx, sw)
		results = append(results, sweepResult{operation: sw.operation, count: count, err: ignoreCancel(err)})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sw.label, err))
			canceled = canceled && isContextCancellation(err)
		}
	}
	s.emitCleanupMetrics(results, time.Since(start))

	if len(errs) == 0 {
		return nil
	}
	if canceled {
		return context.Canceled
	}
	return fmt.Errorf("cleanup failed: %w", errors.Join(errs...))
}

// drain repeats a sweep's batch until it affects nothing, checking ctx between batches.
func (s *ReaperService) drain(ctx context.Context, sw sweep) (int64, error) {
	var total int64
	for {
		n, err := sw.batch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
	if total > 0 {
		s.logger.Log(ctx, sw.logLevel, sw.logMsg, "count", total, "max_age", sw.maxAge)
	}
	return total, nil
}

// failStuckRunningJobs hands running jobs past RunningMaxAge back to the queue, or fails
// them when they are out of attempts.
func (s *ReaperService) failStuckRunningJobs(ctx context.Context) (int64, error) {
	for _, sw := range s.sweeps() {
		if sw.operation == "fail_stuck_running" {
			return s.drain(ctx, sw)
		}
	}
	return 0, nil
}

func (s *ReaperService) emitCleanupMetrics(results []sweepResult, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	var (
		total    int64
		firstErr error
	)
	for _, r := range results {
		total += r.count
		if firstErr == nil {
			firstErr = r.err
		}
		tags := resultTags(r.count, r.err)
		tags["operation"] = r.operation
		s.metrics.Count("reaper.cleanup_operation", 1, tags)
		if r.err == nil && r.count > 0 {
			s.metrics.Count("reaper.jobs_processed", r.count, metrics.CloneTags(tags))
		}
	}

	tags := resultTags(total, firstErr)
	s.metrics.Count("reaper.cleanup", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", elapsed, metrics.CloneTags(tags))
	}
	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

// resultTags maps an outcome to success, noop or error (with its class).
func resultTags(count int64, err error) map[string]string {
	switch {
	case err != nil:
		tags := map[string]string{"result": metrics.ResultError}
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
		return tags
	case count == 0:
		return map[string]string{"result": metrics.ResultNoop}
	default:
		return map[string]string{"result": metrics.ResultSuccess}
	}
}

func (s *ReaperService) logCleanupError(ctx context.Context, err error) {
	switch {
	case err == nil:
	case isContextCancellation(err):
		s.logger.DebugContext(ctx, "cleanup cancelled", "error", err)
	default:
		s.logger.ErrorContext(ctx, "cleanup failed", "error", err)
	}
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func ignoreCancel(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
