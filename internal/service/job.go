package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/target/catalog-sync/internal/core"
	"github.com/target/catalog-sync/internal/domain/catalog"
	domainjob "github.com/target/catalog-sync/internal/domain/job"
	"github.com/target/catalog-sync/internal/domain/model"
	apperrors "github.com/target/catalog-sync/internal/errors"
	"github.com/target/catalog-sync/internal/observability/notify"
	"github.com/target/catalog-sync/internal/service/failurenotifier"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo            core.JobRepository        // Required: job repository
	Logger          *slog.Logger              // Optional: structured logger
	FailureNotifier *failurenotifier.Service  // Optional: failure notification fan-out
	Notifier        domainjob.Notifier        // Optional: custom job availability notifier
	NotifierOptions domainjob.NotifierOptions // Optional: configure default notifier behaviour
}

// JobService provides business logic for the sync job queue.
//
// This service manages:
// - Enqueue validation, including payload filter expressions
// - Claiming jobs and recording their outcome
// - Pub/sub notification of job availability
// - Failure notifications when a job exhausts its attempts.
type JobService struct {
	repo            core.JobRepository
	notifier        domainjob.Notifier
	logger          *slog.Logger
	failureNotifier *failurenotifier.Service
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domainjob.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
	}

	return &JobService{
		repo:            opts.Repo,
		notifier:        notifier,
		logger:          logger,
		failureNotifier: opts.FailureNotifier,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Enqueue validates req and adds a pending job to the queue. A filter expression that does not
// compile is rejected here rather than failing every attempt of the job later.
func (s *JobService) Enqueue(ctx context.Context, req *model.EnqueueRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("enqueue request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	if _, err := catalog.CompileFilter(req.Payload.Filter); err != nil {
		return nil, apperrors.ValidationField("filter", err.Error())
	}

	job, err := s.repo.Enqueue(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s job for %s: %w", req.Type, req.TargetStore, err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job enqueued",
			"job_id", job.ID,
			"job_type", job.Type,
			"store", job.TargetStore,
			"priority", job.Priority)
	}

	return job, nil
}

// ClaimNext claims the next eligible job. It returns model.ErrNoJobsAvailable when the queue is idle.
func (s *JobService) ClaimNext(ctx context.Context) (*model.Job, error) {
	job, err := s.repo.ClaimNext(ctx)
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, err
		}
		return nil, fmt.Errorf("claim next job: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job claimed",
			"job_id", job.ID,
			"job_type", job.Type,
			"store", job.TargetStore,
			"attempt", job.Attempts)
	}

	return job, nil
}

// Subscribe creates a subscription for job availability notifications.
// Returns an unsubscribe function and a channel that receives notifications.
func (s *JobService) Subscribe() (func(), <-chan struct{}) {
	if s.notifier == nil {
		ch := make(chan struct{})
		close(ch)
		return func() {}, ch
	}
	return s.notifier.Subscribe()
}

// StopNotifications stops the availability listener and closes all subscriptions.
func (s *JobService) StopNotifications() {
	if s.notifier != nil {
		s.notifier.StopAll()
	}
}

// WaitForNotification waits for a notification indicating new jobs are available.
func (s *JobService) WaitForNotification(ctx context.Context) error {
	return s.repo.WaitForNotification(ctx)
}

// Complete marks a running job as completed.
func (s *JobService) Complete(ctx context.Context, id string) (bool, error) {
	completed, err := s.repo.Complete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", id, err)
	}

	if s.logger != nil && completed {
		s.logger.DebugContext(ctx, "job completed", "job_id", id)
	}

	return completed, nil
}

// Fail records a failed attempt of job with the given error message.
func (s *JobService) Fail(ctx context.Context, job *model.Job, errMsg string) (model.JobStatus, error) {
	return s.FailWithDetails(ctx, job, errMsg, JobFailureDetails{})
}

// JobFailureDetails captures optional context for failure notifications.
type JobFailureDetails struct {
	// Permanent skips the remaining attempts; the job fails for good.
	Permanent  bool
	ErrorClass string
	Metadata   map[string]string
	Severity   string
	OccurredAt time.Time
}

// FailWithDetails records a failed attempt and returns the job's resulting status. When the attempt
// was the last one, or details.Permanent is set, the failure is logged and fanned out to the failure
// notifier.
func (s *JobService) FailWithDetails(
	ctx context.Context,
	job *model.Job,
	errMsg string,
	details JobFailureDetails,
) (model.JobStatus, error) {
	if job == nil {
		return "", errors.New("job required")
	}
	if strings.TrimSpace(errMsg) == "" {
		return "", errors.New("error message required")
	}

	fail := s.repo.Fail
	if details.Permanent {
		fail = s.repo.FailPermanent
	}
	status, err := fail(ctx, job.ID, errMsg)
	if err != nil {
		return "", fmt.Errorf("fail job %s: %w", job.ID, err)
	}

	if status != model.JobStatusFailed {
		if s.logger != nil && status != "" {
			s.logger.DebugContext(ctx, "job attempt failed, will retry",
				"job_id", job.ID,
				"attempt", job.Attempts,
				"max_attempts", job.MaxAttempts,
				"error", errMsg)
		}
		return status, nil
	}

	if s.logger != nil {
		s.logger.ErrorContext(ctx, "job failed permanently",
			"job_id", job.ID,
			"job_type", job.Type,
			"store", job.TargetStore,
			"attempts", job.Attempts,
			"error", errMsg)
	}
	if s.failureNotifier.Enabled() {
		s.failureNotifier.NotifyJobFailure(ctx, buildJobFailurePayload(job, errMsg, details))
	}

	return status, nil
}

func buildJobFailurePayload(job *model.Job, errMsg string, details JobFailureDetails) notify.JobFailurePayload {
	payload := notify.JobFailurePayload{
		JobID:      job.ID,
		JobType:    string(job.Type),
		Store:      job.TargetStore,
		Attempts:   job.Attempts,
		Error:      errMsg,
		ErrorClass: details.ErrorClass,
		Severity:   details.Severity,
		OccurredAt: details.OccurredAt,
	}
	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = time.Now()
	}

	payload.Metadata = mergeMetadata(details.Metadata, map[string]string{
		"max_attempts": strconv.Itoa(job.MaxAttempts),
		"priority":     strconv.Itoa(job.Priority),
		"error_class":  details.ErrorClass,
	})
	return payload
}

func copyMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		dst[k] = v
	}
	return dst
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	out := copyMetadata(base)
	if out == nil && len(extra) == 0 {
		return nil
	}
	if out == nil {
		out = make(map[string]string, len(extra))
	}
	for k, v := range extra {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		out[key] = val
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// GetByID returns a job by its ID.
func (s *JobService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job by id %s: %w", id, err)
	}
	return job, nil
}

// List returns jobs matching opts, newest first.
func (s *JobService) List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	jobs, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Stats returns queue counts per status.
func (s *JobService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return stats, nil
}
