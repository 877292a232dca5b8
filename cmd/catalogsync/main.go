package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/target/catalog-sync/config"
	"github.com/target/catalog-sync/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	bootstrap.InitLogger(slog.LevelInfo)
	if err := run(ctx); err != nil {
		slog.ErrorContext(ctx, "catalog-sync exited", "error", err)
		os.Exit(1) //nolint:forbidigo // non-zero exit on fatal startup or runtime error
	}
}

// backends are the long-lived connections shared by every enabled service.
type backends struct {
	db    *sql.DB
	redis redis.UniversalClient // nil when Redis is disabled
}

func (b backends) close(ctx context.Context, logger *slog.Logger) {
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			logger.WarnContext(ctx, "close redis", "error", err)
		}
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			logger.WarnContext(ctx, "close database", "error", err)
		}
	}
}

func run(ctx context.Context) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	logger := bootstrap.InitLogger(cfg.SlogLevel())

	if err := bootstrap.ValidateServiceConfig(&cfg); err != nil {
		return err
	}
	logger.InfoContext(ctx, "starting catalog-sync",
		"services", bootstrap.GetEnabledServices(&cfg),
		"main_store", cfg.MainStore.Domain,
		"db", fmt.Sprintf("%s:%d/%s", cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Name),
		"redis_enabled", cfg.Redis.Enabled)

	be, err := connect(&cfg, logger)
	if err != nil {
		return err
	}
	defer be.close(ctx, logger)

	if cfg.Postgres.RunMigrationsOnStart {
		if err := bootstrap.RunMigrations(ctx, be.db, logger); err != nil {
			return err
		}
	}

	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      &cfg,
		DB:          be.db,
		RedisClient: be.redis,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("initialise services: %w", err)
	}

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:      &cfg,
		Services:    services,
		DB:          be.db,
		RedisClient: be.redis,
		Logger:      logger,
	})
}

// connect opens Postgres and, when enabled, Redis. A Redis failure closes the database again.
func connect(cfg *config.AppConfig, logger *slog.Logger) (backends, error) {
	dbCfg := bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, RedisConfig: cfg.Redis, Logger: logger}

	db, err := bootstrap.ConnectDB(dbCfg)
	if err != nil {
		return backends{}, fmt.Errorf("connect db: %w", err)
	}
	rdb, err := bootstrap.ConnectRedis(dbCfg)
	if err != nil {
		if cerr := db.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close database: %w", cerr))
		}
		return backends{}, fmt.Errorf("connect redis: %w", err)
	}
	return backends{db: db, redis: rdb}, nil
}
