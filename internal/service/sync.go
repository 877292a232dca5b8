package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/catalog-sync/internal/core"
	"github.com/target/catalog-sync/internal/domain/catalog"
	"github.com/target/catalog-sync/internal/domain/model"
	apperrors "github.com/target/catalog-sync/internal/errors"
	"github.com/target/catalog-sync/internal/observability/metrics"
	"github.com/target/catalog-sync/internal/observability/statsd"
)

// SyncServiceOptions groups dependencies for SyncService.
type SyncServiceOptions struct {
	Client    core.CatalogClient // Required: upstream commerce API
	MainStore model.Credentials  // Required: the authoritative catalog
	Cache     *core.CatalogCache // Optional: main catalog cache
	// MainMaxPages and TargetMaxPages bound catalog pagination; 0 follows every page.
	MainMaxPages   int
	TargetMaxPages int
	Metrics        statsd.Sink  // Optional: metrics sink
	Logger         *slog.Logger // Optional: structured logger
}

// SyncService runs one sync job: it fetches the main and target catalogs, plans the mode's
// actions and applies them to the target store.
type SyncService struct {
	client         core.CatalogClient
	main           model.Credentials
	cache          *core.CatalogCache
	mainMaxPages   int
	targetMaxPages int
	metrics        statsd.Sink
	logger         *slog.Logger
}

// NewSyncService constructs a new SyncService.
func NewSyncService(opts SyncServiceOptions) (*SyncService, error) {
	if opts.Client == nil {
		return nil, errors.New("CatalogClient is required")
	}
	opts.MainStore.Domain = model.NormalizeDomain(opts.MainStore.Domain)
	if opts.MainStore.Domain == "" || opts.MainStore.AccessToken == "" {
		return nil, errors.New("main store domain and access token are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncService{
		client:         opts.Client,
		main:           opts.MainStore,
		cache:          opts.Cache,
		mainMaxPages:   max(opts.MainMaxPages, 0),
		targetMaxPages: max(opts.TargetMaxPages, 0),
		metrics:        opts.Metrics,
		logger:         logger.With("component", "sync_service"),
	}, nil
}

// MainStore returns the domain of the authoritative catalog.
func (s *SyncService) MainStore() string {
	return s.main.Domain
}

// Run executes job against store. Per-item failures are recorded in the result and never abort the
// run; an error is returned only when the job cannot run at all (bad payload, a catalog that cannot
// be fetched, or cancellation), in which case the result may be nil.
func (s *SyncService) Run(ctx context.Context, job *model.Job, store *model.Store) (*model.SyncResult, error) {
	if job == nil || store == nil {
		return nil, errors.New("job and store are required")
	}
	mode := job.Type.Mode()
	if mode == "" {
		return nil, apperrors.Validationf("job type %q has no sync mode", job.Type)
	}
	if model.NormalizeDomain(store.Domain) == s.main.Domain {
		return nil, apperrors.Validation("target store is the main store")
	}

	payload, err := job.DecodePayload()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeMalformedData, "invalid job payload")
	}
	filter, err := catalog.CompileFilter(payload.Filter)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid product filter")
	}
	markup := store.MarkupPercentage
	if payload.MarkupPercentage != nil {
		markup = *payload.MarkupPercentage
	}

	logger := s.logger.With("job_id", job.ID, "job_type", job.Type, "store", store.Domain, "mode", mode)
	start := time.Now()

	mainListing, targetListing, err := s.fetchCatalogs(ctx, mode, store.Credentials())
	if err != nil {
		return nil, err
	}

	mainProducts, targetProducts := s.applyFilter(ctx, logger, mode, filter, mainListing, targetListing)

	plan, err := catalog.BuildPlan(mode, mainProducts, targetProducts)
	if err != nil {
		return nil, err
	}

	result := &model.SyncResult{Mode: mode, Store: store.Domain, Ignored: plan.Ignored}
	if mode == model.SyncModeDeleteObsolete {
		if guardErr := deleteGuard(mainListing); guardErr != nil {
			logger.WarnContext(ctx, "skipping obsolete product cleanup",
				"candidates", len(plan.Actions),
				"main_products", len(mainListing.Products),
				"error", guardErr)
			result.Ignored += len(plan.Actions)
			plan.Actions = nil
		}
	}

	applyErr := s.apply(ctx, logger, plan, store.Credentials(), markup, result)
	result.Duration = time.Since(start)
	metrics.EmitSyncResult(s.metrics, result)

	logger.InfoContext(ctx, "sync finished",
		"succeeded", result.Succeeded,
		"failed", len(result.Failed),
		"ignored", result.Ignored,
		"duration", result.Duration)
	for _, f := range result.Failed {
		logger.WarnContext(ctx, "sync item failed", "title", f.Title, "sku", f.SKU, "error", f.Error)
	}

	if applyErr != nil {
		return result, applyErr
	}
	return result, nil
}

// fetchCatalogs reads the main catalog (cache first) and, when the mode needs it, the target
// catalog concurrently. create-missing never reads the target.
func (s *SyncService) fetchCatalogs(
	ctx context.Context,
	mode model.SyncMode,
	target model.Credentials,
) (*model.Listing, *model.Listing, error) {
	var mainListing *model.Listing
	targetListing := &model.Listing{Products: []*model.Product{}, Complete: true}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l, err := s.mainCatalog(gctx)
		if err != nil {
			return fmt.Errorf("fetch main catalog %s: %w", s.main.Domain, err)
		}
		mainListing = l
		return nil
	})
	if mode != model.SyncModeCreateMissing {
		g.Go(func() error {
			l, err := s.client.ListProducts(gctx, target, core.ListOptions{MaxPages: s.targetMaxPages})
			if err != nil {
				return fmt.Errorf("fetch target catalog %s: %w", target.Domain, err)
			}
			targetListing = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return mainListing, targetListing, nil
}

func (s *SyncService) mainCatalog(ctx context.Context) (*model.Listing, error) {
	products, hit, err := s.cache.Get(ctx, s.main.Domain)
	if err != nil {
		s.logger.WarnContext(ctx, "main catalog cache read failed", "error", err)
	}
	if hit {
		return &model.Listing{Products: products, Complete: true}, nil
	}

	listing, err := s.client.ListProducts(ctx, s.main, core.ListOptions{MaxPages: s.mainMaxPages})
	if err != nil {
		return nil, err
	}
	if !listing.Complete {
		s.logger.WarnContext(ctx, "main catalog listing is incomplete",
			"pages", listing.Pages,
			"products", len(listing.Products),
			"error", listing.Err)
	}
	if _, err := s.cache.Put(ctx, s.main.Domain, listing); err != nil {
		s.logger.WarnContext(ctx, "main catalog cache write failed", "error", err)
	}
	return listing, nil
}

// applyFilter narrows the products a filter selects. For delete-obsolete the filter selects which
// target products may be deleted while the main SKU set stays whole, so a filter can never widen
// what is considered obsolete.
func (s *SyncService) applyFilter(
	ctx context.Context,
	logger *slog.Logger,
	mode model.SyncMode,
	filter catalog.Filter,
	mainListing, targetListing *model.Listing,
) ([]*model.Product, []*model.Product) {
	mainProducts, targetProducts := mainListing.Products, targetListing.Products
	if filter.Empty() {
		return mainProducts, targetProducts
	}

	var errCount int
	if mode == model.SyncModeDeleteObsolete {
		targetProducts, errCount = filter.Apply(targetProducts)
	} else {
		mainProducts, errCount = filter.Apply(mainProducts)
	}
	if errCount > 0 {
		logger.WarnContext(ctx, "filter could not evaluate some products", "filter", filter.String(), "skipped", errCount)
	}
	logger.DebugContext(ctx, "filter applied",
		"filter", filter.String(),
		"main_products", len(mainProducts),
		"target_products", len(targetProducts))
	return mainProducts, targetProducts
}

// deleteGuard refuses cleanup when the main catalog may be missing products: an empty or partial
// main listing would mark live target products obsolete.
func deleteGuard(mainListing *model.Listing) error {
	if len(mainListing.Products) == 0 {
		return apperrors.MalformedData("main catalog is empty")
	}
	if !mainListing.Complete {
		return apperrors.MalformedDataf("main catalog listing is incomplete after %d pages", mainListing.Pages)
	}
	return nil
}

func (s *SyncService) apply(
	ctx context.Context,
	logger *slog.Logger,
	plan *catalog.Plan,
	target model.Credentials,
	markup float64,
	result *model.SyncResult,
) error {
	for _, action := range plan.Actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		applied, err := s.applyAction(ctx, action, target, markup)
		switch {
		case err != nil:
			result.RecordFailure(action.Title(), action.SKU(), err)
		case applied:
			result.Succeeded++
		default:
			result.Ignored++
			logger.DebugContext(ctx, "action had no effect", "kind", action.Kind, "title", action.Title())
		}
	}
	return nil
}

// applyAction performs one planned mutation. applied is false when the target was already in the
// desired state (a delete of a product that is already gone).
func (s *SyncService) applyAction(
	ctx context.Context,
	action catalog.Action,
	target model.Credentials,
	markup float64,
) (bool, error) {
	switch action.Kind {
	case catalog.ActionCreate:
		if _, err := s.client.CreateProduct(ctx, target, catalog.Denormalize(action.Source, markup)); err != nil {
			return false, err
		}
		return true, nil

	case catalog.ActionUpdate:
		if _, err := s.client.UpdateProduct(ctx, target, action.Target.ID, catalog.PatchFromProduct(action.Source)); err != nil {
			return false, err
		}
		var errs []error
		for _, pair := range action.Variants {
			if _, err := s.client.UpdateVariant(ctx, target, pair.TargetID, catalog.VariantPatch(pair.Source, markup)); err != nil {
				errs = append(errs, fmt.Errorf("variant %s: %w", pair.Source.SKU, err))
			}
		}
		if err := errors.Join(errs...); err != nil {
			return false, err
		}
		return true, nil

	case catalog.ActionDelete:
		return s.client.DeleteProduct(ctx, target, action.Target.ID)

	case catalog.ActionStatus:
		if _, err := s.client.UpdateProductStatus(ctx, target, action.Target.ID, action.Status); err != nil {
			return false, err
		}
		return true, nil

	default:
		return false, fmt.Errorf("unknown action %q", action.Kind)
	}
}
