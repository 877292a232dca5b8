package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobType_Valid(t *testing.T) {
	for _, jt := range JobTypes() {
		assert.True(t, jt.Valid(), jt)
		assert.NotEmpty(t, jt.Mode(), jt)
	}
	assert.False(t, JobType("unknown").Valid())
	assert.Empty(t, JobType("unknown").Mode())
}

func TestJobType_UnmarshalText(t *testing.T) {
	var jt JobType
	require.NoError(t, jt.UnmarshalText([]byte(" Status-Sync ")))
	assert.Equal(t, JobTypeStatusSync, jt)

	err := jt.UnmarshalText([]byte("price-import"))
	require.Error(t, err)
}

func TestJobType_Mode(t *testing.T) {
	assert.Equal(t, SyncModeCreateMissing, JobTypeFullSync.Mode())
	assert.Equal(t, SyncModeUpdateExisting, JobTypeUpdateOnly.Mode())
	assert.Equal(t, SyncModeDeleteObsolete, JobTypeCleanupObsolete.Mode())
	assert.Equal(t, SyncModeSyncStatus, JobTypeStatusSync.Mode())
}

func TestEnqueueRequest_Validate(t *testing.T) {
	negative := -150.0
	tests := []struct {
		name    string
		req     EnqueueRequest
		wantErr string
	}{
		{
			name: "valid",
			req:  EnqueueRequest{Type: JobTypeFullSync, TargetStore: "r.myshopify.com"},
		},
		{
			name:    "bad type",
			req:     EnqueueRequest{Type: "nope", TargetStore: "r.myshopify.com"},
			wantErr: "invalid job type",
		},
		{
			name:    "missing store",
			req:     EnqueueRequest{Type: JobTypeFullSync, TargetStore: "  "},
			wantErr: "target store is required",
		},
		{
			name:    "priority out of range",
			req:     EnqueueRequest{Type: JobTypeFullSync, TargetStore: "r", Priority: 101},
			wantErr: "priority",
		},
		{
			name: "markup below -100",
			req: EnqueueRequest{
				Type:        JobTypeFullSync,
				TargetStore: "r",
				Payload:     SyncPayload{MarkupPercentage: &negative},
			},
			wantErr: "markup",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnqueueRequest_Normalize(t *testing.T) {
	req := EnqueueRequest{TargetStore: " HTTPS://Reseller.MyShopify.com/ ", Payload: SyncPayload{Filter: " status == 'active' "}}
	req.Normalize()
	assert.Equal(t, "reseller.myshopify.com", req.TargetStore)
	assert.Equal(t, "status == 'active'", req.Payload.Filter)
}

func TestJob_DecodePayload(t *testing.T) {
	job := &Job{Payload: json.RawMessage(`{"markup_percentage":12.5,"filter":"vendor == 'Acme'"}`)}
	p, err := job.DecodePayload()
	require.NoError(t, err)
	require.NotNil(t, p.MarkupPercentage)
	assert.InDelta(t, 12.5, *p.MarkupPercentage, 0.0001)
	assert.Equal(t, "vendor == 'Acme'", p.Filter)

	empty := &Job{}
	p, err = empty.DecodePayload()
	require.NoError(t, err)
	assert.Nil(t, p.MarkupPercentage)

	bad := &Job{Payload: json.RawMessage(`{"markup_percentage":"x"}`)}
	_, err = bad.DecodePayload()
	assert.Error(t, err)
}

func TestProduct_SKUs(t *testing.T) {
	p := &Product{Variants: []Variant{{SKU: " A1 "}, {SKU: ""}, {SKU: "B2"}}}
	assert.Equal(t, []string{"A1", "B2"}, p.SKUs())
	assert.Equal(t, "A1", p.PrimarySKU())
	assert.True(t, p.Matchable())

	none := &Product{Variants: []Variant{{SKU: "  "}}}
	assert.Empty(t, none.SKUs())
	assert.False(t, none.Matchable())
	assert.Equal(t, "", (&Product{}).PrimarySKU())
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
}
