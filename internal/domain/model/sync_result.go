package model

import "time"

// SyncMode selects the reconciliation algorithm.
type SyncMode string

const (
	SyncModeCreateMissing  SyncMode = "create-missing"
	SyncModeUpdateExisting SyncMode = "update-existing"
	SyncModeDeleteObsolete SyncMode = "delete-obsolete"
	SyncModeSyncStatus     SyncMode = "sync-status"
)

// ItemFailure records one product or variant that could not be applied.
type ItemFailure struct {
	Title string `json:"title"`
	SKU   string `json:"sku,omitempty"`
	Error string `json:"error"`
}

// SyncResult aggregates the outcome of applying one plan to a target store.
type SyncResult struct {
	Mode      SyncMode      `json:"mode"`
	Store     string        `json:"store"`
	Succeeded int           `json:"succeeded"`
	Failed    []ItemFailure `json:"failed"`
	Ignored   int           `json:"ignored"`
	Duration  time.Duration `json:"duration"`
}

// RecordFailure appends a per-item failure.
func (r *SyncResult) RecordFailure(title, sku string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.Failed = append(r.Failed, ItemFailure{Title: title, SKU: sku, Error: msg})
}
