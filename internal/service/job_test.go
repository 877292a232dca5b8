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

	domainjob "github.com/target/catalog-sync/internal/domain/job"
	"github.com/target/catalog-sync/internal/domain/model"
	apperrors "github.com/target/catalog-sync/internal/errors"
	"github.com/target/catalog-sync/internal/mocks"
	"github.com/target/catalog-sync/internal/observability/notify"
	"github.com/target/catalog-sync/internal/service/failurenotifier"
	"github.com/target/catalog-sync/internal/testutil"
)

type stubJobNotifier struct {
	subscribeCalls int
	stopCalled     bool
}

func (s *stubJobNotifier) Subscribe() (func(), <-chan struct{}) {
	s.subscribeCalls++
	ch := make(chan struct{})
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }, ch
}

func (s *stubJobNotifier) StopAll() {
	s.stopCalled = true
}

var _ domainjob.Notifier = (*stubJobNotifier)(nil)

func newTestJobService(
	t *testing.T,
	repo *mocks.MockJobRepository,
	notifier *failurenotifier.Service,
) (*JobService, *stubJobNotifier) {
	t.Helper()
	stub := &stubJobNotifier{}
	svc := MustNewJobService(JobServiceOptions{
		Repo:            repo,
		Logger:          slog.Default(),
		Notifier:        stub,
		FailureNotifier: notifier,
	})
	return svc, stub
}

func runningJob() *model.Job {
	return &model.Job{
		ID:          "2b0f3e3c-8a53-4c1e-9d7e-1f6f7f0e9a11",
		Type:        model.JobTypeFullSync,
		TargetStore: testutil.DefaultTestStore,
		Status:      model.JobStatusRunning,
		Priority:    10,
		Attempts:    3,
		MaxAttempts: 3,
	}
}

func TestNewJobService(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)

	t.Run("success with default notifier", func(t *testing.T) {
		svc, err := NewJobService(JobServiceOptions{Repo: repo})
		require.NoError(t, err)
		assert.NotNil(t, svc.notifier)
		assert.Nil(t, svc.logger)
	})

	t.Run("missing repo", func(t *testing.T) {
		svc, err := NewJobService(JobServiceOptions{})
		require.Error(t, err)
		assert.Nil(t, svc)
	})

	t.Run("must panics without repo", func(t *testing.T) {
		assert.Panics(t, func() { MustNewJobService(JobServiceOptions{}) })
	})
}

func TestJobService_Enqueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, _ := newTestJobService(t, repo, nil)

	t.Run("normalizes and forwards", func(t *testing.T) {
		req := testutil.NewEnqueueRequest().WithStore(" HTTPS://Reseller.myshopify.com/ ").WithFilter(" vendor == 'Acme' ").Build()
		repo.EXPECT().
			Enqueue(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, r *model.EnqueueRequest) (*model.Job, error) {
				assert.Equal(t, testutil.DefaultTestStore, r.TargetStore)
				assert.Equal(t, "vendor == 'Acme'", r.Payload.Filter)
				return &model.Job{ID: "j1", Type: r.Type, TargetStore: r.TargetStore}, nil
			})

		job, err := svc.Enqueue(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "j1", job.ID)
	})

	t.Run("rejects invalid filter before touching the queue", func(t *testing.T) {
		_, err := svc.Enqueue(context.Background(), testutil.NewEnqueueRequest().WithFilter("[[[").Build())
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		assert.Equal(t, "filter", apperrors.GetField(err))
	})

	t.Run("rejects invalid type", func(t *testing.T) {
		_, err := svc.Enqueue(context.Background(), testutil.NewEnqueueRequest().WithType("price-import").Build())
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("rejects nil request", func(t *testing.T) {
		_, err := svc.Enqueue(context.Background(), nil)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("wraps repository errors", func(t *testing.T) {
		repo.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(nil, apperrors.NotFound("store not found"))
		_, err := svc.Enqueue(context.Background(), testutil.NewEnqueueRequest().Build())
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestJobService_ClaimNext(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, _ := newTestJobService(t, repo, nil)

	repo.EXPECT().ClaimNext(gomock.Any()).Return(nil, model.ErrNoJobsAvailable)
	_, err := svc.ClaimNext(context.Background())
	require.ErrorIs(t, err, model.ErrNoJobsAvailable)

	repo.EXPECT().ClaimNext(gomock.Any()).Return(nil, errors.New("connection reset"))
	_, err = svc.ClaimNext(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrNoJobsAvailable)

	repo.EXPECT().ClaimNext(gomock.Any()).Return(runningJob(), nil)
	job, err := svc.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, runningJob().ID, job.ID)
}

func TestJobService_Complete(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, _ := newTestJobService(t, repo, nil)

	repo.EXPECT().Complete(gomock.Any(), "j1").Return(true, nil)
	ok, err := svc.Complete(context.Background(), "j1")
	require.NoError(t, err)
	assert.True(t, ok)

	repo.EXPECT().Complete(gomock.Any(), "j2").Return(false, errors.New("db down"))
	_, err = svc.Complete(context.Background(), "j2")
	require.Error(t, err)
}

func TestJobService_FailWithDetails_NotifiesOnPermanentFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)

	var (
		mu       sync.Mutex
		captured []notify.JobFailurePayload
	)
	failureSvc := failurenotifier.NewService(failurenotifier.Options{
		Sinks: []failurenotifier.SinkRegistration{{
			Name: "capture",
			Sink: notify.SinkFunc(func(_ context.Context, payload notify.JobFailurePayload) error {
				mu.Lock()
				defer mu.Unlock()
				captured = append(captured, payload)
				return nil
			}),
		}},
	})
	svc, _ := newTestJobService(t, repo, failureSvc)
	job := runningJob()

	repo.EXPECT().Fail(gomock.Any(), job.ID, "fetch main catalog: 503").Return(model.JobStatusFailed, nil)

	occurred := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	status, err := svc.FailWithDetails(context.Background(), job, "fetch main catalog: 503", JobFailureDetails{
		ErrorClass: "upstream_5xx",
		OccurredAt: occurred,
		Metadata:   map[string]string{"mode": "create-missing", " ": "dropped"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, status)

	require.Len(t, captured, 1)
	evt := captured[0]
	assert.Equal(t, job.ID, evt.JobID)
	assert.Equal(t, "full-sync", evt.JobType)
	assert.Equal(t, testutil.DefaultTestStore, evt.Store)
	assert.Equal(t, 3, evt.Attempts)
	assert.Equal(t, notify.SeverityCritical, evt.Severity)
	assert.Equal(t, occurred, evt.OccurredAt)
	assert.Equal(t, map[string]string{
		"mode":         "create-missing",
		"max_attempts": "3",
		"priority":     "10",
		"error_class":  "upstream_5xx",
	}, evt.Metadata)
}

func TestJobService_FailWithDetails_PermanentSkipsRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)

	notified := 0
	failureSvc := failurenotifier.NewService(failurenotifier.Options{
		Sinks: []failurenotifier.SinkRegistration{{
			Name: "capture",
			Sink: notify.SinkFunc(func(context.Context, notify.JobFailurePayload) error {
				notified++
				return nil
			}),
		}},
	})
	svc, _ := newTestJobService(t, repo, failureSvc)
	job := runningJob()
	job.Attempts = 1

	repo.EXPECT().FailPermanent(gomock.Any(), job.ID, "store gone").Return(model.JobStatusFailed, nil)

	status, err := svc.FailWithDetails(context.Background(), job, "store gone", JobFailureDetails{Permanent: true})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, status)
	assert.Equal(t, 1, notified)
}

func TestJobService_Fail_RetryDoesNotNotify(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)

	notified := false
	failureSvc := failurenotifier.NewService(failurenotifier.Options{
		Sinks: []failurenotifier.SinkRegistration{{
			Name: "capture",
			Sink: notify.SinkFunc(func(context.Context, notify.JobFailurePayload) error {
				notified = true
				return nil
			}),
		}},
	})
	svc, _ := newTestJobService(t, repo, failureSvc)
	job := runningJob()
	job.Attempts = 1

	repo.EXPECT().Fail(gomock.Any(), job.ID, "boom").Return(model.JobStatusPending, nil)

	status, err := svc.Fail(context.Background(), job, "boom")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, status)
	assert.False(t, notified)
}

func TestJobService_Fail_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, _ := newTestJobService(t, repo, nil)

	_, err := svc.Fail(context.Background(), nil, "boom")
	require.Error(t, err)

	_, err = svc.Fail(context.Background(), runningJob(), "  ")
	require.Error(t, err)

	repo.EXPECT().Fail(gomock.Any(), gomock.Any(), gomock.Any()).Return(model.JobStatus(""), errors.New("db down"))
	_, err = svc.Fail(context.Background(), runningJob(), "boom")
	require.Error(t, err)
}

func TestJobService_SubscribeAndStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, stub := newTestJobService(t, repo, nil)

	unsub, ch := svc.Subscribe()
	assert.Equal(t, 1, stub.subscribeCalls)
	unsub()
	_, open := <-ch
	assert.False(t, open)

	svc.StopNotifications()
	assert.True(t, stub.stopCalled)

	repo.EXPECT().WaitForNotification(gomock.Any()).Return(nil)
	require.NoError(t, svc.WaitForNotification(context.Background()))
}

func TestJobService_Queries(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, _ := newTestJobService(t, repo, nil)

	repo.EXPECT().GetByID(gomock.Any(), "missing").Return(nil, apperrors.NotFound("job missing not found"))
	_, err := svc.GetByID(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))

	failed := model.JobStatusFailed
	opts := model.JobListOptions{Status: &failed, Limit: 5}
	repo.EXPECT().List(gomock.Any(), opts).Return([]*model.Job{runningJob()}, nil)
	jobs, err := svc.List(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	repo.EXPECT().Stats(gomock.Any()).Return(&model.JobStats{Pending: 2, Failed: 1}, nil)
	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)
}
