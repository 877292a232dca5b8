package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/catalog-sync/internal/core"
	"github.com/target/catalog-sync/internal/domain/model"
	apperrors "github.com/target/catalog-sync/internal/errors"
)

// ErrStoreNotInstalled is returned when work targets a store that has uninstalled the app.
var ErrStoreNotInstalled = errors.New("store is not installed")

// StoreServiceOptions groups dependencies for StoreService.
type StoreServiceOptions struct {
	Repo   core.StoreRepository // Required: store repository
	Logger *slog.Logger         // Optional: structured logger
}

// StoreService manages connected stores and resolves their credentials for sync jobs.
type StoreService struct {
	repo   core.StoreRepository
	logger *slog.Logger
}

// NewStoreService constructs a new StoreService.
func NewStoreService(opts StoreServiceOptions) (*StoreService, error) {
	if opts.Repo == nil {
		return nil, errors.New("StoreRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreService{repo: opts.Repo, logger: logger.With("component", "store_service")}, nil
}

// Install records a (re)install. The access token is overwritten, so jobs already queued for the
// store use the new token when they run.
func (s *StoreService) Install(ctx context.Context, req *model.UpsertStoreRequest) (*model.Store, error) {
	if req == nil {
		return nil, apperrors.Validation("store request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	store, err := s.repo.Upsert(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("upsert store %s: %w", model.NormalizeDomain(req.Domain), err)
	}
	s.logger.InfoContext(ctx, "store installed",
		"store", store.Domain,
		"markup_percentage", store.MarkupPercentage)
	return store, nil
}

// Uninstall flags a store as uninstalled. It reports whether the store was installed.
func (s *StoreService) Uninstall(ctx context.Context, domain string) (bool, error) {
	domain = model.NormalizeDomain(domain)
	if domain == "" {
		return false, apperrors.ValidationField("domain", "domain is required")
	}
	changed, err := s.repo.MarkUninstalled(ctx, domain)
	if err != nil {
		return false, fmt.Errorf("uninstall store %s: %w", domain, err)
	}
	if changed {
		s.logger.InfoContext(ctx, "store uninstalled", "store", domain)
	}
	return changed, nil
}

// Get returns a store by domain or a NotFound error.
func (s *StoreService) Get(ctx context.Context, domain string) (*model.Store, error) {
	store, err := s.repo.GetByDomain(ctx, model.NormalizeDomain(domain))
	if err != nil {
		return nil, fmt.Errorf("get store %s: %w", domain, err)
	}
	return store, nil
}

// ResolveForJob returns the installed store a job targets. Missing stores surface as NotFound and
// uninstalled stores as ErrStoreNotInstalled; the worker fails such jobs without retry.
func (s *StoreService) ResolveForJob(ctx context.Context, job *model.Job) (*model.Store, error) {
	if job == nil {
		return nil, errors.New("job required")
	}
	store, err := s.Get(ctx, job.TargetStore)
	if err != nil {
		return nil, err
	}
	if !store.Installed {
		return nil, fmt.Errorf("%s: %w", store.Domain, ErrStoreNotInstalled)
	}
	return store, nil
}

// ListInstalled returns every installed store ordered by domain.
func (s *StoreService) ListInstalled(ctx context.Context) ([]*model.Store, error) {
	stores, err := s.repo.ListInstalled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list installed stores: %w", err)
	}
	return stores, nil
}
