package core

import (
	"context"
	"time"
)

// JobScheduler defines the interface for the scheduler service.
type JobScheduler interface {
	// Tick enqueues the round of jobs due at now and returns how many were enqueued.
	Tick(ctx context.Context, now time.Time) (int, error)
}
