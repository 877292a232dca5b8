package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/target/catalog-sync/config"
	"github.com/target/catalog-sync/internal/core"
	"github.com/target/catalog-sync/internal/domain/model"
)

const schedulerLockPrefix = "scheduler:tick:"

// SchedulerServiceOptions holds the dependencies for creating a SchedulerService.
type SchedulerServiceOptions struct {
	Jobs   *JobService   // Required
	Stores *StoreService // Required
	// MainStore is never scheduled; it is the source of every sync.
	MainStore string
	Config    config.SchedulerConfig
	// Cache, when set, holds a per-tick lock so replicas enqueue each round once.
	Cache  core.CacheRepository
	Logger *slog.Logger
}

// SchedulerService enqueues a sync job for every installed store, once per scheduling round.
type SchedulerService struct {
	jobs      *JobService
	stores    *StoreService
	mainStore string
	cfg       config.SchedulerConfig
	cache     core.CacheRepository
	logger    *slog.Logger
}

// NewSchedulerService creates a new SchedulerService with the given dependencies.
func NewSchedulerService(opts SchedulerServiceOptions) (*SchedulerService, error) {
	if opts.Jobs == nil || opts.Stores == nil {
		return nil, errors.New("job and store services are required")
	}
	if !opts.Config.JobType.Valid() {
		return nil, fmt.Errorf("invalid scheduled job type %q", opts.Config.JobType)
	}
	if opts.Config.Interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &SchedulerService{
		jobs:      opts.Jobs,
		stores:    opts.Stores,
		mainStore: model.NormalizeDomain(opts.MainStore),
		cfg:       opts.Config,
		cache:     opts.Cache,
		logger:    opts.Logger.With("component", "scheduler_service"),
	}, nil
}

// Tick enqueues one round of jobs for the interval containing now and returns how many were enqueued.
// When another replica already holds the round's lock nothing is enqueued. Enqueue failures for
// individual stores do not stop the round; they are joined into the returned error.
func (s *SchedulerService) Tick(ctx context.Context, now time.Time) (int, error) {
	acquired, err := s.acquireRound(ctx, now)
	if err != nil {
		return 0, err
	}
	if !acquired {
		s.logger.DebugContext(ctx, "scheduler round already taken", "round", s.roundKey(now))
		return 0, nil
	}

	stores, err := s.stores.ListInstalled(ctx)
	if err != nil {
		return 0, fmt.Errorf("list installed stores: %w", err)
	}

	var (
		enqueued int
		errs     []error
	)
	for _, store := range stores {
		if model.NormalizeDomain(store.Domain) == s.mainStore {
			continue
		}
		if err := ctx.Err(); err != nil {
			return enqueued, err
		}
		job, err := s.jobs.Enqueue(ctx, &model.EnqueueRequest{
			Type:        s.cfg.JobType,
			TargetStore: store.Domain,
			Priority:    s.cfg.Priority,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", store.Domain, err))
			continue
		}
		enqueued++
		s.logger.DebugContext(ctx, "scheduled sync job", "job_id", job.ID, "store", store.Domain)
	}

	s.logger.InfoContext(ctx, "scheduler round enqueued",
		"job_type", s.cfg.JobType,
		"enqueued", enqueued,
		"failed", len(errs))

	if len(errs) > 0 {
		return enqueued, fmt.Errorf("enqueue scheduled jobs: %w", errors.Join(errs...))
	}
	return enqueued, nil
}

// acquireRound takes the round's lock. Without a cache every replica runs every round. When the
// lock cannot be checked the round is skipped so replicas never enqueue the same round twice.
func (s *SchedulerService) acquireRound(ctx context.Context, now time.Time) (bool, error) {
	if s.cache == nil {
		return true, nil
	}
	ok, err := s.cache.SetIfNotExists(ctx, s.roundKey(now), []byte(now.UTC().Format(time.RFC3339)), s.cfg.Interval)
	if err != nil {
		return false, fmt.Errorf("acquire scheduler lock: %w", err)
	}
	return ok, nil
}

func (s *SchedulerService) roundKey(now time.Time) string {
	round := now.UTC().Truncate(s.cfg.Interval).Unix()
	return schedulerLockPrefix + string(s.cfg.JobType) + ":" + strconv.FormatInt(round, 10)
}
