// Package core defines the ports shared by the service layer and its adapters.
package core

import (
	"context"
	"time"

	"github.com/target/catalog-sync/internal/domain/catalog"
	"github.com/target/catalog-sync/internal/domain/model"
)

// Repository interfaces (ports). Services depend on these, data adapters implement them.

// JobRepository defines the persistent job queue.
type JobRepository interface {
	Enqueue(ctx context.Context, req *model.EnqueueRequest) (*model.Job, error)
	// ClaimNext atomically moves one eligible job to running. Returns model.ErrNoJobsAvailable when idle.
	ClaimNext(ctx context.Context) (*model.Job, error)
	Complete(ctx context.Context, id string) (bool, error)
	// Fail records a failed attempt and returns the resulting status, or "" if the job was not running.
	Fail(ctx context.Context, id, errMsg string) (model.JobStatus, error)
	// FailPermanent fails a running job without retry, or returns "" if it was not running.
	FailPermanent(ctx context.Context, id, errMsg string) (model.JobStatus, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error)
	Stats(ctx context.Context) (*model.JobStats, error)
	WaitForNotification(ctx context.Context) error
}

// StoreRepository defines persistence for connected stores.
type StoreRepository interface {
	Upsert(ctx context.Context, req *model.UpsertStoreRequest) (*model.Store, error)
	GetByDomain(ctx context.Context, domain string) (*model.Store, error)
	MarkUninstalled(ctx context.Context, domain string) (bool, error)
	ListInstalled(ctx context.Context) ([]*model.Store, error)
}

// DeleteOldJobsParams groups parameters for ReaperRepository.DeleteOldJobs.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// ReaperRepository defines housekeeping operations on the job table.
type ReaperRepository interface {
	FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
	FailStuckRunningJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)
}

// ListOptions bounds a catalog listing.
type ListOptions struct {
	// MaxPages stops pagination after this many pages; 0 follows every page.
	MaxPages int
}

// CatalogClient is the upstream commerce API as seen by the sync service.
type CatalogClient interface {
	ListProducts(ctx context.Context, store model.Credentials, opts ListOptions) (*model.Listing, error)
	CreateProduct(ctx context.Context, store model.Credentials, product *catalog.RawProduct) (*model.Product, error)
	UpdateProduct(
		ctx context.Context,
		store model.Credentials,
		id int64,
		patch *catalog.RawProduct,
	) (*model.Product, error)
	UpdateVariant(
		ctx context.Context,
		store model.Credentials,
		id int64,
		patch *catalog.RawVariant,
	) (*model.Variant, error)
	DeleteProduct(ctx context.Context, store model.Credentials, id int64) (bool, error)
	UpdateProductStatus(
		ctx context.Context,
		store model.Credentials,
		id int64,
		status model.ProductStatus,
	) (*model.Product, error)
}
