// Package mocks provides mock implementations for testing the catalog sync engine.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the ports in
// internal/core. The mocks are generated using go:generate directives and provide a fluent API
// for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	mockRepo := mocks.NewMockJobRepository(ctrl)
//	mockRepo.EXPECT().ClaimNext(gomock.Any()).Return(job, nil)
package mocks

// Generate mock for JobRepository interface from internal/core package.
// Enqueue, ClaimNext, Complete, Fail, FailPermanent, GetByID, List, Stats, WaitForNotification
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/target/catalog-sync/internal/core JobRepository

// Generate mock for StoreRepository interface from internal/core package.
// Upsert, GetByDomain, MarkUninstalled, ListInstalled
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=store_repository_mock.go github.com/target/catalog-sync/internal/core StoreRepository

// Generate mock for ReaperRepository interface from internal/core package.
// FailStalePendingJobs, FailStuckRunningJobs, DeleteOldJobs
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=reaper_repository_mock.go github.com/target/catalog-sync/internal/core ReaperRepository

// Generate mock for CacheRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/target/catalog-sync/internal/core CacheRepository

// Generate mock for CatalogClient interface from internal/core package.
// ListProducts, CreateProduct, UpdateProduct, UpdateVariant, DeleteProduct, UpdateProductStatus
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=catalog_client_mock.go github.com/target/catalog-sync/internal/core CatalogClient
