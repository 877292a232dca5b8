// Package model defines the core data types shared by the catalog sync engine.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobType represents the sync operation a job performs.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobTypeFullSync creates every main catalog product on the target store.
	JobTypeFullSync JobType = "full-sync"
	// JobTypeUpdateOnly updates target products that share a SKU with the main catalog.
	JobTypeUpdateOnly JobType = "update-only"
	// JobTypeCleanupObsolete deletes target products whose SKUs are absent from the main catalog.
	JobTypeCleanupObsolete JobType = "cleanup-obsolete"
	// JobTypeStatusSync copies product status from the main catalog to matching target products.
	JobTypeStatusSync JobType = "status-sync"

	// JobStatusPending indicates a job is waiting to be claimed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a worker has claimed the job.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job exhausted its attempts.
	JobStatusFailed JobStatus = "failed"
)

// DefaultMaxAttempts is the attempt cap used when the queue is not configured otherwise.
const DefaultMaxAttempts = 3

// ErrNoJobsAvailable is returned when no jobs are eligible for claiming.
var ErrNoJobsAvailable = errors.New("no jobs available")

// JobTypes returns every supported job type in a stable order.
func JobTypes() []JobType {
	return []JobType{JobTypeFullSync, JobTypeUpdateOnly, JobTypeCleanupObsolete, JobTypeStatusSync}
}

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeFullSync, JobTypeUpdateOnly, JobTypeCleanupObsolete, JobTypeStatusSync:
		return true
	default:
		return false
	}
}

// Mode returns the reconcile mode a job type runs.
func (t JobType) Mode() SyncMode {
	switch t {
	case JobTypeFullSync:
		return SyncModeCreateMissing
	case JobTypeUpdateOnly:
		return SyncModeUpdateExisting
	case JobTypeCleanupObsolete:
		return SyncModeDeleteObsolete
	case JobTypeStatusSync:
		return SyncModeSyncStatus
	default:
		return ""
	}
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is a unit of sync work targeting one store.
type Job struct {
	ID           string          `json:"id"                     db:"id"`
	Type         JobType         `json:"type"                   db:"type"`
	TargetStore  string          `json:"target_store"           db:"target_store"`
	Status       JobStatus       `json:"status"                 db:"status"`
	Priority     int             `json:"priority"               db:"priority"`
	Payload      json.RawMessage `json:"payload"                db:"payload"`
	Attempts     int             `json:"attempts"               db:"attempts"`
	MaxAttempts  int             `json:"max_attempts"           db:"max_attempts"`
	LastError    *string         `json:"last_error,omitempty"   db:"last_error"`
	ScheduledFor time.Time       `json:"scheduled_for"          db:"scheduled_for"`
	StartedAt    *time.Time      `json:"started_at,omitempty"   db:"started_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt    time.Time       `json:"created_at"             db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"             db:"updated_at"`
}

// SyncPayload is the operation-specific data carried by every sync job.
type SyncPayload struct {
	// MarkupPercentage overrides the store's configured markup when set.
	MarkupPercentage *float64 `json:"markup_percentage,omitempty"`
	// Filter is an optional JMESPath expression selecting main catalog products.
	Filter string `json:"filter,omitempty"`
}

// DecodePayload parses the job payload. An empty payload decodes to the zero value.
func (j *Job) DecodePayload() (SyncPayload, error) {
	var p SyncPayload
	if j == nil || len(j.Payload) == 0 || string(j.Payload) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("decode job payload: %w", err)
	}
	return p, nil
}

// EnqueueRequest represents a request to add a sync job to the queue.
type EnqueueRequest struct {
	Type         JobType     `json:"type"`
	TargetStore  string      `json:"target_store"`
	Payload      SyncPayload `json:"payload"`
	Priority     int         `json:"priority,omitempty"`
	ScheduledFor *time.Time  `json:"scheduled_for,omitempty"`
	MaxAttempts  int         `json:"max_attempts,omitempty"`
}

// Normalize trims free-form fields in place.
func (r *EnqueueRequest) Normalize() {
	r.TargetStore = NormalizeDomain(r.TargetStore)
	r.Payload.Filter = strings.TrimSpace(r.Payload.Filter)
}

// Validate validates the EnqueueRequest fields.
func (r *EnqueueRequest) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("invalid job type %q", r.Type)
	}
	if strings.TrimSpace(r.TargetStore) == "" {
		return errors.New("target store is required")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	if r.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	if m := r.Payload.MarkupPercentage; m != nil && *m < -100 {
		return errors.New("markup percentage must be >= -100")
	}
	return nil
}

// NewJobID returns a fresh job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// JobStats represents counts of jobs in each state.
type JobStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// JobListOptions filters job listings.
type JobListOptions struct {
	Status      *JobStatus
	Type        *JobType
	TargetStore string
	Limit       int
	Offset      int
}
