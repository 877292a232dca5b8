package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/catalog-sync/config"
	"github.com/target/catalog-sync/internal/adapters/shopify"
	"github.com/target/catalog-sync/internal/core"
	"github.com/target/catalog-sync/internal/data"
	"github.com/target/catalog-sync/internal/observability/notify/pagerduty"
	"github.com/target/catalog-sync/internal/observability/notify/slack"
	"github.com/target/catalog-sync/internal/observability/statsd"
	"github.com/target/catalog-sync/internal/service"
	"github.com/target/catalog-sync/internal/service/failurenotifier"
)

const metricsPrefix = "catalogsync"

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs   *service.JobService
	Stores *service.StoreService
	// Sync is nil when the main store is not configured; only the sync worker needs it.
	Sync          *service.SyncService
	Scheduler     *service.SchedulerService
	Repos         *serviceRepositories
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB        *sql.DB
	Redis     redis.UniversalClient
	JobRepo   *data.JobRepo
	StoreRepo *data.StoreRepo
	// CacheRepo is nil without Redis.
	CacheRepo core.CacheRepository
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  metricsPrefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:     metricsSink,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: buildFailureNotifier(obsLogger, metricsSink, cfg.Notifications),
		NotifierConfig:  cfg.Notifications,
	}
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(cfg *config.AppConfig, db *sql.DB, rdb redis.UniversalClient, logger *slog.Logger) *serviceRepositories {
	repos := &serviceRepositories{
		DB:    db,
		Redis: rdb,
		JobRepo: data.NewJobRepo(db, data.RepoConfig{
			RetryDelay:  cfg.Queue.RetryDelay,
			MaxAttempts: cfg.Queue.MaxAttempts,
			Channel:     cfg.Queue.Channel,
			Logger:      logger,
		}),
		StoreRepo: data.NewStoreRepo(db, nil),
	}
	if rdb != nil {
		repos.CacheRepo = data.NewRedisCacheRepo(rdb, cfg.Cache.KeyPrefix)
	}
	return repos
}

func newCatalogClient(cfg config.UpstreamConfig, obs ObservabilityContainer, logger *slog.Logger) *shopify.Client {
	return shopify.NewClient(shopify.Options{
		APIVersion:     cfg.APIVersion,
		PageSize:       cfg.PageSize,
		MaxAttempts:    cfg.MaxAttempts,
		RateLimitDelay: cfg.RateLimitDelay,
		RetryDelay:     cfg.RetryDelay,
		MinCallSpacing: cfg.MinCallSpacing,
		Timeout:        cfg.Timeout,
		Metrics:        obs.MetricsSink,
		Logger:         logger,
	})
}

func newSyncService(cfg *config.AppConfig, repos *serviceRepositories, obs ObservabilityContainer, logger *slog.Logger) (*service.SyncService, error) {
	if !cfg.MainStore.Configured() {
		logger.Warn("main store not configured; sync service disabled")
		return nil, nil //nolint:nilnil // an unconfigured main store only matters to the sync worker.
	}
	var cache *core.CatalogCache
	if cfg.Cache.CatalogTTL > 0 {
		cache = core.NewCatalogCache(core.CatalogCacheOptions{
			Cache: repos.CacheRepo,
			TTL:   cfg.Cache.CatalogTTL,
		})
	}
	return service.NewSyncService(service.SyncServiceOptions{
		Client:         newCatalogClient(cfg.Upstream, obs, logger),
		MainStore:      cfg.MainStore.Credentials(),
		Cache:          cache,
		MainMaxPages:   cfg.Upstream.MainMaxPages,
		TargetMaxPages: cfg.Upstream.TargetMaxPages,
		Metrics:        obs.MetricsSink,
		Logger:         logger,
	})
}

// NewServices builds every application service from the shared infrastructure.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service dependencies and config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	observability := buildObservability(logger, cfg.Observability)
	repos := buildRepositories(cfg, deps.DB, deps.RedisClient, logger)

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:            repos.JobRepo,
		Logger:          logger,
		FailureNotifier: observability.FailureNotifier,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create job service: %w", err)
	}
	stores, err := service.NewStoreService(service.StoreServiceOptions{
		Repo:   repos.StoreRepo,
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create store service: %w", err)
	}
	syncSvc, err := newSyncService(cfg, repos, observability, logger)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create sync service: %w", err)
	}
	scheduler, err := service.NewSchedulerService(service.SchedulerServiceOptions{
		Jobs:      jobs,
		Stores:    stores,
		MainStore: cfg.MainStore.Domain,
		Config:    cfg.Scheduler,
		Cache:     repos.CacheRepo,
		Logger:    logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create scheduler service: %w", err)
	}

	return ServiceContainer{
		Jobs:          jobs,
		Stores:        stores,
		Sync:          syncSvc,
		Scheduler:     scheduler,
		Repos:         repos,
		Observability: observability,
	}, nil
}

func buildFailureNotifier(
	logger *slog.Logger,
	metricsSink *statsd.Client,
	cfg config.ObservabilityNotificationsConfig,
) *failurenotifier.Service {
	opts := failurenotifier.Options{Logger: logger}
	if metricsSink != nil {
		opts.Metrics = metricsSink
	}
	if !cfg.Enabled {
		return failurenotifier.NewService(opts)
	}

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL: cfg.Slack.WebhookURL,
			Channel:    cfg.Slack.Channel,
			Username:   cfg.Slack.Username,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
			LinkStores: cfg.Slack.LinkStores,
		})
		if err != nil {
			logger.Error("slack notifier disabled", "error", err)
		} else {
			opts.Sinks = append(opts.Sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			logger.Error("pagerduty notifier disabled", "error", err)
		} else {
			opts.Sinks = append(opts.Sinks, failurenotifier.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	return failurenotifier.NewService(opts)
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	// A sync job in flight is allowed to finish, so this is longer than a typical request timeout.
	shutdownWaitTimeout = 60 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}
	logger := deps.logger
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

// buildBackgroundServices lists every service this binary can run; launchBackground skips the
// ones SERVICES does not enable.
func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil || deps.cfg == nil || deps.cfg.Config == nil {
		return nil
	}
	cfg := deps.cfg.Config
	svcs := deps.cfg.Services
	metricsSink := svcs.Observability.MetricsSink

	var reaperRepo core.ReaperRepository
	if svcs.Repos != nil && svcs.Repos.JobRepo != nil {
		reaperRepo = svcs.Repos.JobRepo
	}

	return []backgroundService{
		{
			mode: config.ServiceModeSyncWorker,
			name: "sync worker",
			start: func(ctx context.Context) error {
				return RunSyncWorker(ctx, SyncWorkerConfig{
					Jobs:         svcs.Jobs,
					Stores:       svcs.Stores,
					Sync:         svcs.Sync,
					Concurrency:  cfg.Worker.Concurrency,
					PollInterval: cfg.Worker.PollInterval,
					Logger:       deps.logger,
					Metrics:      metricsSink,
				})
			},
		},
		{
			mode: config.ServiceModeScheduler,
			name: "scheduler",
			start: func(ctx context.Context) error {
				return RunScheduler(ctx, SchedulerConfig{
					Scheduler:  svcs.Scheduler,
					Interval:   cfg.Scheduler.Interval,
					RunOnStart: cfg.Scheduler.RunOnStart,
					Logger:     deps.logger,
					Metrics:    metricsSink,
				})
			},
		},
		{
			mode: config.ServiceModeReaper,
			name: "reaper",
			start: func(ctx context.Context) error {
				return RunReaper(ctx, ReaperConfig{
					DB:      deps.cfg.DB,
					Repo:    reaperRepo,
					Logger:  deps.logger,
					Config:  cfg.Reaper,
					Metrics: metricsSink,
				})
			},
		},
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	deps := &serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	}
	backgrounds := startBackgroundServices(deps, buildBackgroundServices(deps))

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		jobService:  cfg.Services.Jobs,
		logger:      logger,
		backgrounds: backgrounds,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	return errorChannelCapacity(enabled) + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	signals     <-chan os.Signal
	jobService  *service.JobService
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
	waitTimeout time.Duration
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := cfg.signals
	if quit == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		quit = ch
	}

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop waits for background services to drain, then stops the queue listener.
// All services share one deadline.
func gracefulStop(cfg shutdownConfig) error {
	timeout := cfg.waitTimeout
	if timeout <= 0 {
		timeout = shutdownWaitTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var stuck []string
	expired := false
	for _, svc := range cfg.backgrounds {
		if expired {
			select {
			case <-svc.done:
			default:
				stuck = append(stuck, svc.name)
			}
			continue
		}
		select {
		case <-svc.done:
			cfg.logger.Info("background service stopped", "service", svc.name)
		case <-deadline.C:
			expired = true
			stuck = append(stuck, svc.name)
		}
	}

	if cfg.jobService != nil {
		cfg.jobService.StopNotifications()
	}

	if len(stuck) > 0 {
		cfg.logger.Warn("background services did not stop in time", "services", stuck, "timeout", timeout)
		return fmt.Errorf("services did not stop within %s: %v", timeout, stuck)
	}
	return nil
}
