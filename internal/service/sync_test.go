package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/catalog-sync/internal/core"
	"github.com/target/catalog-sync/internal/domain/catalog"
	"github.com/target/catalog-sync/internal/domain/model"
	apperrors "github.com/target/catalog-sync/internal/errors"
	"github.com/target/catalog-sync/internal/mocks"
	"github.com/target/catalog-sync/internal/observability/statsd"
	"github.com/target/catalog-sync/internal/testutil"
)

const testMainStore = "main.myshopify.com"

var mainCreds = model.Credentials{Domain: testMainStore, AccessToken: "shpat_main"}

func newTestSyncService(t *testing.T, client core.CatalogClient, cache *core.CatalogCache) *SyncService {
	t.Helper()
	svc, err := NewSyncService(SyncServiceOptions{
		Client:    client,
		MainStore: mainCreds,
		Cache:     cache,
		Metrics:   &statsd.Recorder{},
	})
	require.NoError(t, err)
	return svc
}

func syncJob(t *testing.T, jobType model.JobType, payload model.SyncPayload) *model.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &model.Job{
		ID:          "job-1",
		Type:        jobType,
		TargetStore: testutil.DefaultTestStore,
		Status:      model.JobStatusRunning,
		Payload:     raw,
		Attempts:    1,
		MaxAttempts: 3,
	}
}

func listing(products ...*model.Product) *model.Listing {
	return &model.Listing{Products: products, Pages: 1, Complete: true}
}

// credsFor matches credentials of one store domain.
type credsFor string

func (d credsFor) Matches(x any) bool {
	c, ok := x.(model.Credentials)
	return ok && c.Domain == string(d)
}

func (d credsFor) String() string { return "credentials for " + string(d) }

var targetCreds = credsFor(testutil.DefaultTestStore)

func TestNewSyncService_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockCatalogClient(ctrl)

	_, err := NewSyncService(SyncServiceOptions{MainStore: mainCreds})
	require.Error(t, err)

	_, err = NewSyncService(SyncServiceOptions{Client: client, MainStore: model.Credentials{Domain: testMainStore}})
	require.Error(t, err)

	svc, err := NewSyncService(SyncServiceOptions{
		Client:    client,
		MainStore: model.Credentials{Domain: " HTTPS://Main.myshopify.com ", AccessToken: "t"},
	})
	require.NoError(t, err)
	assert.Equal(t, testMainStore, svc.MainStore())
}

func TestSyncService_FullSyncCreatesEveryMainProduct(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockCatalogClient(ctrl)
	svc := newTestSyncService(t, client, nil)

	mug := testutil.NewProduct(1, "Mug").WithVariant("MUG-1", 10).Build()
	hat := testutil.NewProduct(2, "Cap").WithVariant("CAP-1", 20).Build()

	client.EXPECT().ListProducts(gomock.Any(), mainCreds, core.ListOptions{}).Return(listing(mug, hat), nil)

	var created []*catalog.RawProduct
	client.EXPECT().
		CreateProduct(gomock.Any(), targetCreds, gomock.Any()).
		Times(2).
		DoAndReturn(func(_ context.Context, _ model.Credentials, p *catalog.RawProduct) (*model.Product, error) {
			created = append(created, p)
			return &model.Product{Title: p.Title}, nil
		})

	store := testutil.TestStore(testutil.DefaultTestStore)
	store.MarkupPercentage = 10

	res, err := svc.Run(context.Background(), syncJob(t, model.JobTypeFullSync, model.SyncPayload{}), store)
	require.NoError(t, err)
	assert.Equal(t, model.SyncModeCreateMissing, res.Mode)
	assert.Equal(t, 2, res.Succeeded)
	assert.Empty(t, res.Failed)

	require.Len(t, created, 2)
	assert.Equal(t, "Mug", created[0].Title)
	assert.Equal(t, "11.00", created[0].Variants[0].Price)
	assert.Equal(t, "CAP-1", created[1].Variants[0].SKU)
	assert.Equal(t, "22.00", created[1].Variants[0].Price)
}

func TestSyncService_PayloadMarkupOverridesStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockCatalogClient(ctrl)
	svc := newTestSyncService(t, client, nil)

	mug := testutil.NewProduct(1, "Mug").WithVariant("MUG-1", 10).Build()
	client.EXPECT().ListProducts(gomock.Any(), mainCreds, gomock.Any()).Return(listing(mug), nil)
	client.EXPECT().
		CreateProduct(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ model.Credentials, p *catalog.RawProduct) (*model.Product, error) {
			assert.Equal(t, "15.00", p.Variants[0].Price)
			return &model.Product{}, nil
		})

	store := testutil.TestStore(testutil.DefaultTestStore)
	store.MarkupPercentage = 10
	markup := 50.0

	res, err := svc.Run(context.Background(),
		syncJob(t, model.JobTypeFullSync, model.SyncPayload{MarkupPercentage: &markup}), store)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
}

func TestSyncService_UpdateOnlyPatchesMatchedProducts(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockCatalogClient(ctrl)
	svc := newTestSyncService(t, client, nil)

	main := []*model.Product{
		testutil.NewProduct(1, "Mug v2").WithVariant("MUG-1", 12).WithVariant("MUG-2", 14).Build(),
		testutil.NewProduct(2, "Unlisted").WithVariant("NEW-1", 5).Build(),
		testutil.NewProduct(3, "No SKU").WithVariant("", 5).Build(),
	}
	target := []*model.Product{
		testutil.NewProduct(900, "Mug").WithVariant("MUG-2", 1).WithVariant("MUG-1", 1).Build(),
	}

	client.EXPECT().ListProducts(gomock.Any(), mainCreds, gomock.Any()).Return(listing(main...), nil)
	client.EXPECT().ListProducts(gomock.Any(), targetCreds, gomock.Any()).Return(listing(target...), nil)
	client.EXPECT().
		UpdateProduct(gomock.Any(), gomock.Any(), int64(900), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ model.Credentials, _ int64, p *catalog.RawProduct) (*model.Product, error) {
			assert.Equal(t, "Mug v2", p.Title)
			return &model.Product{ID: 900}, nil
		})
	// MUG-1 pairs with target variant 90002, MUG-2 with 90001.
	client.EXPECT().
		UpdateVariant(gomock.Any(), gomock.Any(), int64(90002), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ model.Credentials, _ int64, v *catalog.RawVariant) (*model.Variant, error) {
			assert.Equal(t, "MUG-1", v.SKU)
			assert.Equal(t, "12.00", v.Price)
			return &model.Variant{}, nil
		})
	client.EXPECT().UpdateVariant(gomock.Any(), gomock.Any(), int64(90001), gomock.Any()).Return(&model.Variant{}, nil)

	res, err := svc.Run(context.Background(),
		syncJob(t, model.JobTypeUpdateOnly, model.SyncPayload{}), testutil.TestStore(testutil.DefaultTestStore))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, res.Ignored)
	assert.Empty(t, res.Failed)
}

func TestSyncService_UpdateCountsUnpairedVariantsAsIgnored(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockCatalogClient(ctrl)
	svc := newTestSyncService(t, client, nil)

	main := []*model.Product{
		testutil.NewProduct(1, "Mug").WithVariant("MUG-1", 12).WithVariant("MUG-2", 14).Build(),
	}
	target := []*model.Product{
		testutil.NewProduct(900, "Mug").WithVariant("MUG-1", 1).Build(),
	}

	client.EXPECT().ListProducts(gomock.Any(), mainCreds, gomock.Any()).Return(listing(main...), nil)
	client.EXPECT().ListProducts(gomock.Any(), targetCreds, gomock.Any()).Return(listing(target...), nil)
	client.EXPECT().UpdateProduct(gomock.Any(), gomock.Any(), int64(900), gomock.Any()).Return(&model.Product{ID: 900}, nil)
	client.EXPECT().
		UpdateVariant(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ model.Credentials, _ int64, v *catalog.RawVariant) (*model.Variant, error) {
			assert.Equal(t, "MUG-1", v.SKU)
			return &model.Variant{}, nil
		})

	res, err := svc.Run(context.Background(),
		syncJob(t, model.JobTypeUpdateOnly, model.SyncPayload{}), testutil.TestStore(testutil.DefaultTestStore))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Ignored, "MUG-2 has no target variant")
	assert.Empty(t, res.Failed)
}

func TestSyncService_ItemFailuresDoNotAbort(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockCatalogClient(ctrl)
	svc := newTestSyncService(t, client, nil)

	a := testutil.NewProduct(1, "A").WithVariant("A-1", 1).Build()
	b := testutil.NewProduct(2, "B").WithVariant("B-1", 1).Build()
	c := testutil.NewProduct(3, "C").WithVariant("C-1", 1).Build()

	client.EXPECT().ListProducts(gomock.Any(), mainCreds, gomock.Any()).Return(listing(a, b, c), nil)
	gomock.InOrder(
		client.EXPECT().CreateProduct(gomock.Any(), gomock.Any(), gomock.Any()).Return(&model.Product{}, nil),
		client.EXPECT().CreateProduct(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("422 invalid")),
		client.EXPECT().CreateProduct(gomock.Any(), gomock.Any(), gomock.Any()).Return(&model.Product{}, nil),
	)

	res, err := svc.Run(context.Background(),
		syncJob(t, model.JobTypeFullSync, model.SyncPayload{}), testutil.TestStore(testutil.DefaultTestStore))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "B", res.Failed[0].Title)
	assert.Equal(t, "B-1", res.Failed[0].SKU)
	assert.Contains(t, res.Failed[0].Error, "422")
}

func TestSyncService_VariantFailureFailsTheItem(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockCatalogClient(ctrl)
	svc := newTestSyncService(t, client, nil)

	main := testutil.NewProduct(1, "Mug").WithVariant("MUG-1", 1).Build()
	target := testutil.NewProduct(9, "Mug").WithVariant("MUG-1", 1).Build()

	client.EXPECT().ListProducts(gomock.Any(), mainCreds, gomock.Any()).Return(listing(main), nil)
	client.EXPECT().ListProducts(gomock.Any(), targetCreds, gomock.Any()).Return(listing(target), nil)
	client.EXPECT().UpdateProduct(gomock.Any(), gomock.Any(), int64(9), gomock.Any()).Return(&model.Product{}, nil)
	client.EXPECT().UpdateVariant(gomock.Any(), gomock.Any(), int64(901), gomock.Any()).Return(nil, errors.New("boom"))

	res, err := svc.Run(context.Background(),
		syncJob(t, model.JobTypeUpdateOnly, model.SyncPayload{}), testutil.TestStore(testutil.DefaultTestStore))
	require.NoError(t, err)
	assert.Zero(t, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Contains(t, res.Failed[0].Error, "variant MUG-1")
}

func TestSyncService_CleanupDeletesObsoleteProducts(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockCatalogClient(ctrl)
	svc := newTestSyncService(t, client, nil)

	main := testutil.NewProduct(1, "Mug").WithVariant("MUG-1", 1).Build()
	target := []*model.Product{
		testutil.NewProduct(10, "Mug").WithVariant("MUG-1", 1).Build(),
		testutil.NewProduct(11, "Old").WithVariant("OLD-1", 1).Build(),
		testutil.NewProduct(12, "Gone").WithVariant("GONE-1", 1).Build(),
	}

	client.EXPECT().ListProducts(gomock.Any(), mainCreds, gomock.Any()).Return(listing(main), nil)
	client.EXPECT().ListProducts(gomock.Any(), targetCreds, gomock.Any()).Return(listing(target...), nil)
	client.EXPECT().DeleteProduct(gomock.Any(), gomock.Any(), int64(11)).Return(true, nil)
	client.EXPECT().DeleteProduct(gomock.Any(), gomock.Any(), int64(12)).Return(false, nil)

	res, err := svc.Run(context.Background(),
		syncJob(t, model.JobTypeCleanupObsolete, model.SyncPayload{}), testutil.TestStore(testutil.DefaultTestStore))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, res.Ignored, "matched product plus already-deleted product")
}

func TestSyncService_CleanupGuard(t *testing.T) {
	tests := []struct {
		name string
		main *model.Listing
	}{
		{name: "empty main catalog", main: listing()},
		{
			name: "incomplete main catalog",
			main: &model.Listing{
				Products: []*model.Product{testutil.NewProduct(1, "Mug").WithVariant("MUG-1", 1).Build()},
				Pages:    1,
				Complete: false,
				Err:      errors.New("page 2 failed"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := mocks.NewMockCatalogClient(ctrl)
			svc := newTestSyncService(t, client, nil)

			target := []*model.Product{
				testutil.NewProduct(10, "Mug").WithVariant("MUG-1", 1).Build(),
				testutil.NewProduct(11, "Old").WithVariant("OLD-1", 1).Build(),
			}
			client.EXPECT().ListProducts(gomock.Any(), mainCreds, gomock.Any()).Return(tt.main, nil)
			client.EXPECT().ListProducts(gomock.Any(), targetCreds, gomock.Any()).Return(listing(target...), nil)
			// No DeleteProduct expectation: any delete fails the test.

			res, err := svc.Run(context.Background(),
				syncJob(t, model.JobTypeCleanupObsolete, model.SyncPayload{}), testutil.TestStore(testutil.DefaultTestStore))
			require.NoError(t, err)
			assert.Zero(t, res.Succeeded)
			assert.Equal(t, 2, res.Ignored)
		})
	}
}

func TestSyncService_StatusSync(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockCatalogClient(ctrl)
	svc := newTestSyncService(t, client, nil)

	main := []*model.Product{
		testutil.NewProduct(1, "Mug").WithVariant("MUG-1", 1).WithStatus(model.ProductStatusArchived).Build(),
		testutil.NewProduct(2, "Cap").WithVariant("CAP-1", 1).Build(),
	}
	target := []*model.Product{
		testutil.NewProduct(10, "Mug").WithVariant("MUG-1", 1).Build(),
		testutil.NewProduct(11, "Cap").WithVariant("CAP-1", 1).Build(),
	}

	client.EXPECT().ListProducts(gomock.Any(), mainCreds, gomock.Any()).Return(listing(main...), nil)
	client.EXPECT().ListProducts(gomock.Any(), targetCreds, gomock.Any()).Return(listing(target...), nil)
	client.EXPECT().
		UpdateProductStatus(gomock.Any(), gomock.Any(), int64(10), model.ProductStatusArchived).
		Return(&model.Product{}, nil)

	res, err := svc.Run(context.Background(),
		syncJob(t, model.JobTypeStatusSync, model.SyncPayload{}), testutil.TestStore(testutil.DefaultTestStore))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Ignored)
}

func TestSyncService_FilterSelectsMainProducts(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockCatalogClient(ctrl)
	svc := newTestSyncService(t, client, nil)

	main := []*model.Product{
		testutil.NewProduct(1, "Mug").WithVariant("MUG-1", 1).WithVendor("Acme").Build(),
		testutil.NewProduct(2, "Cap").WithVariant("CAP-1", 1).WithVendor("Other").Build(),
	}
	client.EXPECT().ListProducts(gomock.Any(), mainCreds, gomock.Any()).Return(listing(main...), nil)
	client.EXPECT().
		CreateProduct(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ model.Credentials, p *catalog.RawProduct) (*model.Product, error) {
			assert.Equal(t, "Mug", p.Title)
			return &model.Product{}, nil
		})

	res, err := svc.Run(context.Background(),
		syncJob(t, model.JobTypeFullSync, model.SyncPayload{Filter: "vendor == 'Acme'"}),
		testutil.TestStore(testutil.DefaultTestStore))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
}

func TestSyncService_FetchFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockCatalogClient(ctrl)
	svc := newTestSyncService(t, client, nil)

	client.EXPECT().ListProducts(gomock.Any(), mainCreds, gomock.Any()).Return(listing(), nil).AnyTimes()
	client.EXPECT().
		ListProducts(gomock.Any(), targetCreds, gomock.Any()).
		Return(nil, errors.New("401 unauthorized"))

	res, err := svc.Run(context.Background(),
		syncJob(t, model.JobTypeUpdateOnly, model.SyncPayload{}), testutil.TestStore(testutil.DefaultTestStore))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "fetch target catalog")
}

func TestSyncService_RejectsUnrunnableJobs(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockCatalogClient(ctrl)
	svc := newTestSyncService(t, client, nil)
	store := testutil.TestStore(testutil.DefaultTestStore)

	t.Run("bad payload", func(t *testing.T) {
		job := syncJob(t, model.JobTypeFullSync, model.SyncPayload{})
		job.Payload = json.RawMessage(`{"markup_percentage":"lots"}`)
		_, err := svc.Run(context.Background(), job, store)
		require.Error(t, err)
		assert.True(t, apperrors.IsMalformedData(err))
	})

	t.Run("bad filter", func(t *testing.T) {
		_, err := svc.Run(context.Background(), syncJob(t, model.JobTypeFullSync, model.SyncPayload{Filter: "[[["}), store)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("main store as target", func(t *testing.T) {
		_, err := svc.Run(context.Background(),
			syncJob(t, model.JobTypeFullSync, model.SyncPayload{}), testutil.TestStore(testMainStore))
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := svc.Run(context.Background(), syncJob(t, model.JobType("price-import"), model.SyncPayload{}), store)
		require.Error(t, err)
	})
}

func TestSyncService_UsesCatalogCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockCatalogClient(ctrl)
	repo := mocks.NewMockCacheRepository(ctrl)
	cache := core.NewCatalogCache(core.CatalogCacheOptions{Cache: repo})
	svc := newTestSyncService(t, client, cache)

	mug := testutil.NewProduct(1, "Mug").WithVariant("MUG-1", 10).Build()

	var stored []byte
	gomock.InOrder(
		repo.EXPECT().Get(gomock.Any(), core.CatalogKey(testMainStore)).Return(nil, nil),
		repo.EXPECT().
			Set(gomock.Any(), core.CatalogKey(testMainStore), gomock.Any(), core.DefaultCatalogCacheTTL).
			DoAndReturn(func(_ context.Context, _ string, v []byte, _ time.Duration) error {
				stored = v
				return nil
			}),
	)
	client.EXPECT().ListProducts(gomock.Any(), mainCreds, gomock.Any()).Times(1).Return(listing(mug), nil)
	client.EXPECT().CreateProduct(gomock.Any(), gomock.Any(), gomock.Any()).Times(2).Return(&model.Product{}, nil)

	store := testutil.TestStore(testutil.DefaultTestStore)
	_, err := svc.Run(context.Background(), syncJob(t, model.JobTypeFullSync, model.SyncPayload{}), store)
	require.NoError(t, err)

	repo.EXPECT().Get(gomock.Any(), core.CatalogKey(testMainStore)).DoAndReturn(
		func(context.Context, string) ([]byte, error) { return stored, nil })

	res, err := svc.Run(context.Background(), syncJob(t, model.JobTypeFullSync, model.SyncPayload{}), store)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
}
