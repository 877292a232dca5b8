package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/catalog-sync/config"
	"github.com/target/catalog-sync/internal/migrate"
)

const (
	defaultMaxOpenConns = 10
	maxIdleConns        = 5
	connMaxLifetime     = 5 * time.Minute
	connectTimeout      = 5 * time.Second
)

// DatabaseConfig contains configuration for database connections.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

func (c DatabaseConfig) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

// ConnectDB opens the Postgres pool through the pgx stdlib driver and pings it.
func ConnectDB(cfg DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DBConfig.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxOpen := cfg.DBConfig.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(min(maxOpen, maxIdleConns))
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, closeAfter(fmt.Errorf("ping database: %w", err), db)
	}

	cfg.logger().Info("database connected",
		"host", cfg.DBConfig.Host,
		"port", cfg.DBConfig.Port,
		"database", cfg.DBConfig.Name,
		"max_open_conns", maxOpen)
	return db, nil
}

// ConnectRedis returns a nil client when Redis is disabled; callers treat that as
// "no catalog cache and no scheduler lock".
//
//nolint:ireturn,nilnil // the concrete client depends on the topology; nil means disabled.
func ConnectRedis(cfg DatabaseConfig) (redis.UniversalClient, error) {
	log := cfg.logger()
	if !cfg.RedisConfig.Enabled {
		log.Info("redis disabled; catalog cache and scheduler lock are off")
		return nil, nil
	}

	topology, err := redisTopology(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}
	client := topology.client()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, closeAfter(fmt.Errorf("ping redis: %w", err), client)
	}

	log.Info("redis connected", "mode", topology.mode, "addrs", strings.Join(topology.opts.Addrs, ","))
	return client, nil
}

// redisConn is the resolved connection plan for one of the three supported topologies.
type redisConn struct {
	mode string // direct, sentinel or cluster
	opts *redis.UniversalOptions
}

//nolint:ireturn // see ConnectRedis
func (r redisConn) client() redis.UniversalClient {
	switch r.mode {
	case "cluster":
		return redis.NewClusterClient(r.opts.Cluster())
	case "sentinel":
		return redis.NewFailoverClient(r.opts.Failover())
	default:
		return redis.NewClient(r.opts.Simple())
	}
}

// redisTopology turns REDIS_* settings into client options. URI may be a bare host:port
// or a redis:// / rediss:// URL carrying credentials and TLS; a cluster without explicit
// nodes seeds from it.
func redisTopology(cfg config.RedisConfig) (redisConn, error) {
	opts := &redis.UniversalOptions{Password: cfg.Password}

	switch {
	case cfg.UseCluster:
		opts.Addrs = trimAll(cfg.ClusterNodes)
		if len(opts.Addrs) == 0 {
			if err := applyRedisURI(opts, cfg.URI); err != nil {
				return redisConn{}, fmt.Errorf("redis cluster: %w", err)
			}
		}
		if len(opts.Addrs) == 0 {
			return redisConn{}, errors.New("redis cluster configuration requires at least one address")
		}
		return redisConn{mode: "cluster", opts: opts}, nil

	case cfg.UseSentinel:
		opts.Addrs = trimAll(cfg.SentinelNodes)
		if len(opts.Addrs) == 0 {
			return redisConn{}, errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		opts.MasterName = cfg.SentinelMasterName
		opts.SentinelPassword = cfg.SentinelPassword
		return redisConn{mode: "sentinel", opts: opts}, nil

	default:
		if err := applyRedisURI(opts, cfg.URI); err != nil {
			return redisConn{}, err
		}
		if len(opts.Addrs) == 0 {
			return redisConn{}, errors.New("redis direct configuration requires a URI")
		}
		return redisConn{mode: "direct", opts: opts}, nil
	}
}

// applyRedisURI fills address, credentials, DB and TLS from uri. URL credentials win over
// REDIS_PASSWORD.
func applyRedisURI(opts *redis.UniversalOptions, uri string) error {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil
	}
	if !strings.HasPrefix(uri, "redis://") && !strings.HasPrefix(uri, "rediss://") {
		opts.Addrs = []string{uri}
		return nil
	}

	parsed, err := redis.ParseURL(uri)
	if err != nil {
		return fmt.Errorf("parse redis url %s: %w", redactURL(uri), err)
	}
	opts.Addrs = []string{parsed.Addr}
	opts.Username = parsed.Username
	if parsed.Password != "" {
		opts.Password = parsed.Password
	}
	opts.DB = parsed.DB
	opts.TLSConfig = parsed.TLSConfig
	return nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}

func trimAll(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func closeAfter(err error, c interface{ Close() error }) error {
	if cerr := c.Close(); cerr != nil {
		return errors.Join(err, fmt.Errorf("close: %w", cerr))
	}
	return err
}

// RunMigrations applies pending schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := migrate.Run(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}
	return nil
}
