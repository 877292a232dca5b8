package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/catalog-sync/config"
	"github.com/target/catalog-sync/internal/adapters/reaper"
	"github.com/target/catalog-sync/internal/adapters/scheduler"
	"github.com/target/catalog-sync/internal/adapters/syncrunner"
	"github.com/target/catalog-sync/internal/core"
	"github.com/target/catalog-sync/internal/observability/statsd"
	"github.com/target/catalog-sync/internal/service"
)

// SyncWorkerConfig contains configuration for the sync worker.
type SyncWorkerConfig struct {
	Jobs         *service.JobService
	Stores       *service.StoreService
	Sync         *service.SyncService
	Concurrency  int
	PollInterval time.Duration
	Logger       *slog.Logger
	Metrics      statsd.Sink
}

// RunSyncWorker claims and executes sync jobs until ctx is cancelled.
func RunSyncWorker(ctx context.Context, cfg SyncWorkerConfig) error {
	if cfg.Sync == nil {
		return errors.New("sync worker requires a configured main store")
	}
	runner, err := syncrunner.NewRunner(syncrunner.RunnerOptions{
		Jobs:         cfg.Jobs,
		Stores:       cfg.Stores,
		Sync:         cfg.Sync,
		PollInterval: cfg.PollInterval,
		Concurrency:  cfg.Concurrency,
		Logger:       cfg.Logger,
		Metrics:      cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create sync runner: %w", err)
	}
	return runner.Run(ctx)
}

// SchedulerConfig contains configuration for the scheduler.
type SchedulerConfig struct {
	Scheduler  core.JobScheduler
	Interval   time.Duration
	RunOnStart bool
	Logger     *slog.Logger
	Metrics    statsd.Sink
}

// RunScheduler enqueues a sync round for every installed store on each interval.
func RunScheduler(ctx context.Context, cfg SchedulerConfig) error {
	runner, err := scheduler.NewRunner(scheduler.RunnerOptions{
		Scheduler:  cfg.Scheduler,
		Interval:   cfg.Interval,
		RunOnStart: cfg.RunOnStart,
		Logger:     cfg.Logger,
		Metrics:    cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create scheduler runner: %w", err)
	}
	return runner.Run(ctx)
}

// ReaperConfig contains configuration for the job reaper.
type ReaperConfig struct {
	DB      *sql.DB
	Repo    core.ReaperRepository
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper runs the job reaper.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:      cfg.DB,
		Repo:    cfg.Repo,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
