package data

import (
	"database/sql"
	"log/slog"
	"strings"
	"time"
)

// DefaultQueueChannel is the LISTEN/NOTIFY channel signalled on every enqueue.
const DefaultQueueChannel = "catalog_sync_jobs"

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	// RetryDelay postpones a failed job's next eligibility. Zero retries immediately.
	RetryDelay time.Duration
	// MaxAttempts is stamped on jobs enqueued without an explicit cap.
	MaxAttempts  int
	Channel      string
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo is the Postgres-backed job queue.
type JobRepo struct {
	DB           *sql.DB
	cfg          RepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a JobRepo with the given connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultQueueChannel
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &JobRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: tp,
		logger:       logger,
	}
}

var jobColumnList = []string{
	"id::text",
	"type",
	"target_store",
	"status",
	"priority",
	"payload",
	"attempts",
	"max_attempts",
	"last_error",
	"scheduled_for",
	"started_at",
	"processed_at",
	"created_at",
	"updated_at",
}

// jobColumns is the select list matching scanJob.
var jobColumns = strings.Join(jobColumnList, ", ")

// qualifiedJobColumns prefixes every column with alias, for statements that join or alias jobs.
func qualifiedJobColumns(alias string) string {
	cols := make([]string, len(jobColumnList))
	for i, c := range jobColumnList {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}
