// Package model holds the job and result types shared by the runner, the
// store, and the API.
package model

import (
	"encoding/json"
	"math"
	"time"

	"github.com/charlie-wiebe/market-sizing-tool/internal/filter"
)

// JobStatus represents where a job is in its lifecycle.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusStopped   JobStatus = "stopped"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusStopped:
		return true
	}
	return false
}

// JobMode selects how a job executes.
type JobMode string

const (
	// ModeQuickTAM runs synchronously and stores only aggregate counts.
	ModeQuickTAM JobMode = "quick_tam"
	// ModeDetailed walks every company in the background.
	ModeDetailed JobMode = "detailed"
)

// Valid reports whether m is a known mode.
func (m JobMode) Valid() bool {
	return m == ModeQuickTAM || m == ModeDetailed
}

// DedupPolicy controls which categories of data are reused when fresh.
type DedupPolicy struct {
	SkipCompanies    bool `json:"skip_existing_companies"`
	SkipPersonCounts bool `json:"skip_existing_person_counts"`
	SkipEnrichment   bool `json:"skip_existing_enrichment"`
	MaxDataAgeDays   int  `json:"max_data_age_days"`
}

// DefaultDedupPolicy skips everything fresher than 30 days.
func DefaultDedupPolicy() DedupPolicy {
	return DedupPolicy{
		SkipCompanies:    true,
		SkipPersonCounts: true,
		SkipEnrichment:   true,
		MaxDataAgeDays:   30,
	}
}

// MaxAge is the freshness window as a duration.
func (p DedupPolicy) MaxAge() time.Duration {
	return time.Duration(p.MaxDataAgeDays) * 24 * time.Hour
}

// Job is one market-sizing run.
type Job struct {
	ID               string               `json:"id"`
	Name             string               `json:"name"`
	Status           JobStatus            `json:"status"`
	Mode             JobMode              `json:"mode"`
	CompanyFilters   filter.Set           `json:"company_filters"`
	PersonQueries    []filter.PersonQuery `json:"person_filters"`
	Fingerprint      string               `json:"query_fingerprint"`
	AggregateResults map[string]int       `json:"aggregate_results,omitempty"`
	Policy           DedupPolicy          `json:"-"`

	TotalCompanies      int `json:"total_companies"`
	ProcessedCompanies  int `json:"processed_companies"`
	EstimatedCredits    int `json:"estimated_credits"`
	ActualCredits       int `json:"actual_credits"`
	CompaniesSkipped    int `json:"companies_skipped"`
	PersonCountsSkipped int `json:"person_counts_skipped"`
	EnrichmentSkipped   int `json:"enrichment_skipped"`

	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ProgressPct is processed/total as a percentage with one decimal.
func (j *Job) ProgressPct() float64 {
	if j.TotalCompanies <= 0 {
		return 0
	}
	return math.Round(float64(j.ProcessedCompanies)/float64(j.TotalCompanies)*1000) / 10
}

// TotalSkipped counts every reuse across categories.
func (j *Job) TotalSkipped() int {
	return j.CompaniesSkipped + j.PersonCountsSkipped + j.EnrichmentSkipped
}

// EstimatedCreditSavings counts gateway calls avoided by reuse. Enrichment
// reuse costs no gateway credits.
func (j *Job) EstimatedCreditSavings() int {
	return j.CompaniesSkipped + j.PersonCountsSkipped
}

// MarshalJSON adds the policy flags and derived statistics.
func (j Job) MarshalJSON() ([]byte, error) {
	type plain Job
	return json.Marshal(struct {
		plain
		DedupPolicy
		ProgressPct            float64 `json:"progress_pct"`
		TotalSkipped           int     `json:"total_skipped"`
		EstimatedCreditSavings int     `json:"estimated_credit_savings"`
	}{
		plain:                  plain(j),
		DedupPolicy:            j.Policy,
		ProgressPct:            j.ProgressPct(),
		TotalSkipped:           j.TotalSkipped(),
		EstimatedCreditSavings: j.EstimatedCreditSavings(),
	})
}

// Progress is the set of counters the runner commits in batches.
type Progress struct {
	TotalCompanies      int `json:"total_companies"`
	EstimatedCredits    int `json:"estimated_credits"`
	ProcessedCompanies  int `json:"processed_companies"`
	ActualCredits       int `json:"actual_credits"`
	CompaniesSkipped    int `json:"companies_skipped"`
	PersonCountsSkipped int `json:"person_counts_skipped"`
	EnrichmentSkipped   int `json:"enrichment_skipped"`
}

// Apply copies the counters onto j.
func (p Progress) Apply(j *Job) {
	j.TotalCompanies = p.TotalCompanies
	j.EstimatedCredits = p.EstimatedCredits
	j.ProcessedCompanies = p.ProcessedCompanies
	j.ActualCredits = p.ActualCredits
	j.CompaniesSkipped = p.CompaniesSkipped
	j.PersonCountsSkipped = p.PersonCountsSkipped
	j.EnrichmentSkipped = p.EnrichmentSkipped
}

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status JobStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}
