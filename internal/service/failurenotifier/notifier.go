// Package failurenotifier fans permanent job failures out to Slack, PagerDuty and any other notify.Sink.
package failurenotifier

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/catalog-sync/internal/observability/metrics"
	"github.com/target/catalog-sync/internal/observability/notify"
	"github.com/target/catalog-sync/internal/observability/statsd"
)

// SinkRegistration names a sink for logs and metric tags.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger  *slog.Logger
	Metrics statsd.Sink // Optional
	Sinks   []SinkRegistration
}

// Service dispatches failure events to all registered sinks. A nil *Service is a disabled notifier.
type Service struct {
	logger  *slog.Logger
	metrics statsd.Sink
	sinks   []SinkRegistration
}

// NewService drops registrations without a sink.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		logger:  logger.With("component", "failure_notifier"),
		metrics: opts.Metrics,
	}
	for _, reg := range opts.Sinks {
		if reg.Sink == nil {
			continue
		}
		if reg.Name == "" {
			reg.Name = "sink"
		}
		s.sinks = append(s.sinks, reg)
	}
	return s
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}

// NotifyJobFailure delivers payload to every sink in parallel and returns once all have answered.
// A failing sink is logged and counted; it never blocks the others or the caller's error path.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) {
	if !s.Enabled() {
		return
	}
	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}

	var g errgroup.Group
	for _, reg := range s.sinks {
		g.Go(func() error {
			start := time.Now()
			err := reg.Sink.SendJobFailure(ctx, payload)
			s.record(reg.Name, err, time.Since(start))
			if err != nil {
				s.logger.ErrorContext(ctx, "failure notification not delivered",
					"sink", reg.Name,
					"job_id", payload.JobID,
					"job_type", payload.JobType,
					"store", payload.Store,
					"error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) record(sink string, err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	tags := map[string]string{"sink": sink, "result": result}
	s.metrics.Count("notify.delivery", 1, tags)
	s.metrics.Timing("notify.delivery_duration", elapsed, metrics.CloneTags(tags))
}
