package metrics

import (
	"strconv"
	"time"

	"github.com/target/catalog-sync/internal/domain/model"
	obserrors "github.com/target/catalog-sync/internal/observability/errors"
	"github.com/target/catalog-sync/internal/observability/statsd"
)

// EmitSyncResult emits per-item outcome counts for one applied plan.
func EmitSyncResult(sink statsd.Sink, res *model.SyncResult) {
	if sink == nil || res == nil {
		return
	}
	base := map[string]string{"mode": string(res.Mode)}

	for outcome, n := range map[string]int{
		"succeeded": res.Succeeded,
		"failed":    len(res.Failed),
		"ignored":   res.Ignored,
	} {
		tags := CloneTags(base)
		tags["outcome"] = outcome
		sink.Count("sync.items", int64(n), tags)
	}
	if res.Duration > 0 {
		sink.Timing("sync.duration", res.Duration, CloneTags(base))
	}
}

// UpstreamCall describes one HTTP exchange with the commerce platform.
type UpstreamCall struct {
	Operation string
	Status    int
	Attempt   int
	Duration  time.Duration
	Err       error
}

// EmitUpstreamCall counts and times one upstream request attempt.
func EmitUpstreamCall(sink statsd.Sink, in UpstreamCall) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"operation": in.Operation,
		"attempt":   strconv.Itoa(in.Attempt),
	}
	if in.Status > 0 {
		tags["status"] = strconv.Itoa(in.Status)
	}
	if in.Err != nil {
		tags["error_class"] = obserrors.Classify(in.Err)
	}
	sink.Count("upstream.request", 1, tags)
	if in.Duration > 0 {
		sink.Timing("upstream.duration", in.Duration, CloneTags(tags))
	}
}

// EmitCallBudget records the platform's reported call budget usage for a store.
func EmitCallBudget(sink statsd.Sink, store string, used, total int) {
	if sink == nil || total <= 0 {
		return
	}
	tags := map[string]string{"store": store}
	sink.Gauge("upstream.call_budget.used", float64(used), tags)
	sink.Gauge("upstream.call_budget.ratio", float64(used)/float64(total), CloneTags(tags))
}
