package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusStopped.Terminal())
}

func TestJobModeValid(t *testing.T) {
	assert.True(t, ModeQuickTAM.Valid())
	assert.True(t, ModeDetailed.Valid())
	assert.False(t, JobMode("turbo").Valid())
}

func TestJobDerivedStats(t *testing.T) {
	j := &Job{TotalCompanies: 3, ProcessedCompanies: 1, CompaniesSkipped: 2, PersonCountsSkipped: 5, EnrichmentSkipped: 4}
	assert.InDelta(t, 33.3, j.ProgressPct(), 0.001)
	assert.Equal(t, 11, j.TotalSkipped())
	assert.Equal(t, 7, j.EstimatedCreditSavings())

	assert.Equal(t, float64(0), (&Job{}).ProgressPct())
}

func TestJobMarshalJSON(t *testing.T) {
	j := Job{
		ID:                 "j1",
		Name:               "Fintech UK",
		Status:             JobStatusRunning,
		Mode:               ModeDetailed,
		TotalCompanies:     200,
		ProcessedCompanies: 50,
		CompaniesSkipped:   10,
		Policy:             DefaultDedupPolicy(),
		CreatedAt:          time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	b, err := json.Marshal(j)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "j1", got["id"])
	assert.Equal(t, "running", got["status"])
	assert.Equal(t, 25.0, got["progress_pct"])
	assert.Equal(t, 10.0, got["total_skipped"])
	assert.Equal(t, true, got["skip_existing_companies"])
	assert.Equal(t, 30.0, got["max_data_age_days"])
	assert.NotContains(t, got, "Policy")
}

func TestProgressApply(t *testing.T) {
	var j Job
	Progress{TotalCompanies: 9, ProcessedCompanies: 3, ActualCredits: 7}.Apply(&j)
	assert.Equal(t, 9, j.TotalCompanies)
	assert.Equal(t, 3, j.ProcessedCompanies)
	assert.Equal(t, 7, j.ActualCredits)
}

func TestDedupPolicyMaxAge(t *testing.T) {
	assert.Equal(t, 30*24*time.Hour, DefaultDedupPolicy().MaxAge())
}
