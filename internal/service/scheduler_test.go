package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/catalog-sync/config"
	"github.com/target/catalog-sync/internal/domain/model"
	"github.com/target/catalog-sync/internal/mocks"
	"github.com/target/catalog-sync/internal/testutil"
)

type schedulerFixture struct {
	svc    *SchedulerService
	jobs   *mocks.MockJobRepository
	stores *mocks.MockStoreRepository
	cache  *mocks.MockCacheRepository
}

func testSchedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Interval: time.Hour,
		JobType:  model.JobTypeUpdateOnly,
		Priority: 50,
	}
}

func newSchedulerFixture(t *testing.T, cfg config.SchedulerConfig, withCache bool) *schedulerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &schedulerFixture{
		jobs:   mocks.NewMockJobRepository(ctrl),
		stores: mocks.NewMockStoreRepository(ctrl),
	}
	jobSvc, _ := newTestJobService(t, f.jobs, nil)
	storeSvc, err := NewStoreService(StoreServiceOptions{Repo: f.stores})
	require.NoError(t, err)

	opts := SchedulerServiceOptions{
		Jobs:      jobSvc,
		Stores:    storeSvc,
		MainStore: testMainStore,
		Config:    cfg,
		Logger:    slog.Default(),
	}
	if withCache {
		f.cache = mocks.NewMockCacheRepository(ctrl)
		opts.Cache = f.cache
	}
	f.svc, err = NewSchedulerService(opts)
	require.NoError(t, err)
	return f
}

// recordEnqueues answers every Enqueue with a pending job and collects the requests.
func recordEnqueues(repo *mocks.MockJobRepository) *[]*model.EnqueueRequest {
	var (
		mu   sync.Mutex
		reqs []*model.EnqueueRequest
	)
	repo.EXPECT().Enqueue(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *model.EnqueueRequest) (*model.Job, error) {
			mu.Lock()
			defer mu.Unlock()
			reqs = append(reqs, req)
			return &model.Job{
				ID:          model.NewJobID(),
				Type:        req.Type,
				TargetStore: req.TargetStore,
				Priority:    req.Priority,
				Status:      model.JobStatusPending,
			}, nil
		}).AnyTimes()
	return &reqs
}

func TestNewSchedulerService_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)
	jobSvc, _ := newTestJobService(t, mocks.NewMockJobRepository(ctrl), nil)
	storeSvc, err := NewStoreService(StoreServiceOptions{Repo: mocks.NewMockStoreRepository(ctrl)})
	require.NoError(t, err)

	_, err = NewSchedulerService(SchedulerServiceOptions{Config: testSchedulerConfig()})
	require.Error(t, err)

	cfg := testSchedulerConfig()
	cfg.JobType = "reindex"
	_, err = NewSchedulerService(SchedulerServiceOptions{Jobs: jobSvc, Stores: storeSvc, Config: cfg})
	require.Error(t, err)

	cfg = testSchedulerConfig()
	cfg.Interval = 0
	_, err = NewSchedulerService(SchedulerServiceOptions{Jobs: jobSvc, Stores: storeSvc, Config: cfg})
	require.Error(t, err)
}

func TestSchedulerService_TickEnqueuesEveryTargetStore(t *testing.T) {
	f := newSchedulerFixture(t, testSchedulerConfig(), false)
	f.stores.EXPECT().ListInstalled(gomock.Any()).Return([]*model.Store{
		testutil.TestStore("alpha.myshopify.com"),
		testutil.TestStore(testMainStore),
		testutil.TestStore("beta.myshopify.com"),
	}, nil)
	reqs := recordEnqueues(f.jobs)

	n, err := f.svc.Tick(context.Background(), testutil.TestTime())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, *reqs, 2)
	var targets []string
	for _, req := range *reqs {
		assert.Equal(t, model.JobTypeUpdateOnly, req.Type)
		assert.Equal(t, 50, req.Priority)
		targets = append(targets, req.TargetStore)
	}
	assert.Equal(t, []string{"alpha.myshopify.com", "beta.myshopify.com"}, targets)
}

func TestSchedulerService_TickContinuesPastEnqueueFailures(t *testing.T) {
	f := newSchedulerFixture(t, testSchedulerConfig(), false)
	f.stores.EXPECT().ListInstalled(gomock.Any()).Return([]*model.Store{
		testutil.TestStore("alpha.myshopify.com"),
		testutil.TestStore("beta.myshopify.com"),
	}, nil)
	gomock.InOrder(
		f.jobs.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset")),
		f.jobs.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(&model.Job{ID: model.NewJobID()}, nil),
	)

	n, err := f.svc.Tick(context.Background(), testutil.TestTime())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha.myshopify.com")
	assert.Equal(t, 1, n)
}

func TestSchedulerService_TickListFailure(t *testing.T) {
	f := newSchedulerFixture(t, testSchedulerConfig(), false)
	f.stores.EXPECT().ListInstalled(gomock.Any()).Return(nil, errors.New("db down"))

	n, err := f.svc.Tick(context.Background(), testutil.TestTime())

	require.Error(t, err)
	assert.Zero(t, n)
}

func TestSchedulerService_TickLock(t *testing.T) {
	now := testutil.TestTime()

	t.Run("another replica holds the round", func(t *testing.T) {
		f := newSchedulerFixture(t, testSchedulerConfig(), true)
		f.cache.EXPECT().SetIfNotExists(gomock.Any(), gomock.Any(), gomock.Any(), time.Hour).Return(false, nil)

		n, err := f.svc.Tick(context.Background(), now)

		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("lock taken per round", func(t *testing.T) {
		f := newSchedulerFixture(t, testSchedulerConfig(), true)
		var keys []string
		f.cache.EXPECT().SetIfNotExists(gomock.Any(), gomock.Any(), gomock.Any(), time.Hour).DoAndReturn(
			func(_ context.Context, key string, _ []byte, _ time.Duration) (bool, error) {
				keys = append(keys, key)
				return true, nil
			}).Times(3)
		f.stores.EXPECT().ListInstalled(gomock.Any()).Return(nil, nil).Times(3)

		for _, at := range []time.Time{now, now.Add(time.Minute), now.Add(time.Hour)} {
			_, err := f.svc.Tick(context.Background(), at)
			require.NoError(t, err)
		}

		require.Len(t, keys, 3)
		assert.Equal(t, keys[0], keys[1])
		assert.NotEqual(t, keys[0], keys[2])
		assert.Contains(t, keys[0], "scheduler:tick:full-sync:")
	})

	t.Run("cache errors skip the round", func(t *testing.T) {
		f := newSchedulerFixture(t, testSchedulerConfig(), true)
		f.cache.EXPECT().SetIfNotExists(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(false, errors.New("redis unavailable"))

		n, err := f.svc.Tick(context.Background(), now)

		require.Error(t, err)
		assert.Zero(t, n)
	})
}
