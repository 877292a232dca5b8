package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/target/catalog-sync/internal/domain/model"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeSyncWorker runs the queue worker that executes sync jobs.
	ServiceModeSyncWorker ServiceMode = "sync-worker"
	// ServiceModeScheduler runs the periodic sync scheduler.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeReaper runs the job reaper for cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeSyncWorker,
		ServiceModeScheduler,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for part := range strings.SplitSeq(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeSyncWorker, ServiceModeScheduler, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: sync-worker, scheduler, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// QueueConfig contains job queue configuration.
type QueueConfig struct {
	// MaxAttempts is the attempt cap applied to jobs enqueued without one.
	MaxAttempts int `env:"MAX_ATTEMPTS" envDefault:"3"`

	// RetryDelay is how long a failed attempt waits before the job is claimable again.
	RetryDelay time.Duration `env:"RETRY_DELAY" envDefault:"30s"`

	// Channel is the Postgres NOTIFY channel signalled on enqueue.
	Channel string `env:"CHANNEL" envDefault:"catalog_sync_jobs"`
}

// Sanitize applies guardrails to queue configuration values.
func (q *QueueConfig) Sanitize() {
	if q.MaxAttempts < 1 {
		q.MaxAttempts = model.DefaultMaxAttempts
	}
	if q.RetryDelay < 0 {
		q.RetryDelay = 0
	}
	if q.Channel = strings.TrimSpace(q.Channel); q.Channel == "" {
		q.Channel = "catalog_sync_jobs"
	}
}

// WorkerConfig contains sync worker service configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"CONCURRENCY" envDefault:"1"`

	// PollInterval is the sleep between claim attempts on an empty queue. Enqueue notifications
	// wake the worker early.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.PollInterval < 100*time.Millisecond {
		w.PollInterval = 100 * time.Millisecond
	}
}

// SchedulerConfig contains scheduler service configuration.
type SchedulerConfig struct {
	// Interval is the scheduler tick interval.
	Interval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1h"`

	// JobType is the sync job enqueued for every installed store on each tick. full-sync creates
	// without an existence check, so scheduling it needs AllowFullSync.
	JobType model.JobType `env:"SCHEDULER_JOB_TYPE" envDefault:"update-only"`

	// AllowFullSync opts in to a scheduled full-sync.
	AllowFullSync bool `env:"SCHEDULER_ALLOW_FULL_SYNC" envDefault:"false"`

	// Priority is the priority of scheduled jobs; lower runs first.
	Priority int `env:"SCHEDULER_PRIORITY" envDefault:"50"`

	// RunOnStart enqueues a round immediately instead of waiting for the first tick.
	RunOnStart bool `env:"SCHEDULER_RUN_ON_START" envDefault:"false"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.Interval < time.Minute {
		s.Interval = time.Minute
	}
	if !s.JobType.Valid() {
		s.JobType = model.JobTypeUpdateOnly
	}
	s.Priority = min(max(s.Priority, 0), 100)
}

// Validate rejects a scheduled full-sync without the explicit opt-in: every round would create
// each main product again on every reseller.
func (s SchedulerConfig) Validate() error {
	if s.JobType == model.JobTypeFullSync && !s.AllowFullSync {
		return errors.New("SCHEDULER_JOB_TYPE=full-sync duplicates products every round; " +
			"set SCHEDULER_ALLOW_FULL_SYNC=true to schedule it anyway")
	}
	return nil
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// PendingMaxAge is the maximum age for pending jobs before they are marked as failed.
	// Jobs stuck in pending status longer than this will be failed.
	PendingMaxAge time.Duration `env:"REAPER_PENDING_MAX_AGE" envDefault:"24h"`

	// RunningMaxAge is how long a job may stay running before it is treated as abandoned by a
	// dead worker and put through the failure transition.
	RunningMaxAge time.Duration `env:"REAPER_RUNNING_MAX_AGE" envDefault:"2h"`

	// CompletedMaxAge is the maximum age for completed jobs before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"168h"` // 7 days

	// FailedMaxAge is the maximum age for failed jobs before deletion.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"720h"` // 30 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.PendingMaxAge < 5*time.Minute {
		r.PendingMaxAge = 5 * time.Minute
	}
	if r.RunningMaxAge < 10*time.Minute {
		r.RunningMaxAge = 10 * time.Minute
	}
	if r.CompletedMaxAge < 1*time.Hour {
		r.CompletedMaxAge = 1 * time.Hour
	}
	if r.FailedMaxAge < 1*time.Hour {
		r.FailedMaxAge = 1 * time.Hour
	}

	r.BatchSize = min(max(r.BatchSize, 1), 10000)
}
