package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/charlie-wiebe/market-sizing-tool/internal/company"
	"github.com/charlie-wiebe/market-sizing-tool/internal/filter"
	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
	"github.com/charlie-wiebe/market-sizing-tool/internal/sizing"
	"github.com/charlie-wiebe/market-sizing-tool/internal/store"
)

var (
	ctos      = filter.PersonQuery{Name: "CTOs", Filters: filter.PersonFilters{"person_job_title": map[string]any{"include": []any{"CTO"}}}}
	engineers = filter.PersonQuery{Name: "Engineers", Filters: filter.PersonFilters{"person_department": map[string]any{"include": []any{"Engineering"}}}}
)

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

// seedCompany stores a company linked to job with the given person counts.
func (ts *testServer) seedCompany(t *testing.T, job *model.Job, rec company.Record, counts map[string]int) *company.Record {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ts.store.CreateCompany(ctx, &rec))
	require.NoError(t, ts.store.LinkCompanyToJob(ctx, rec.ID, job.ID))
	for name, n := range counts {
		require.NoError(t, ts.store.SavePersonCount(ctx, &model.PersonCount{
			CompanyID:  rec.ID,
			JobID:      job.ID,
			ExternalID: rec.ExternalID,
			QueryName:  name,
			TotalCount: n,
			Status:     model.CountOK,
		}))
	}
	return &rec
}

type resultsBody struct {
	Job        model.Job             `json:"job"`
	Companies  []model.CompanyResult `json:"companies"`
	Pagination model.Page            `json:"pagination"`
	Aggregates model.Aggregates      `json:"aggregates"`
}

func decodeResults(t *testing.T, data []byte) resultsBody {
	t.Helper()
	var res resultsBody
	require.NoError(t, json.Unmarshal(data, &res), string(data))
	return res
}

func TestCreateJob_Defaults(t *testing.T) {
	ts := newTestServer(t)
	var got *model.Job
	ts.jobs.On("Start", mock.Anything, mock.AnythingOfType("*model.Job")).
		Run(func(args mock.Arguments) { got = args.Get(1).(*model.Job) }).
		Return(&model.Job{ID: "job-1", Status: model.JobStatusPending}, nil)

	rec := ts.do(t, http.MethodPost, "/api/jobs", `{
		"company_filters": {"company_location_search": {"include": ["United States"]}},
		"person_filters": [{"name": "CTOs", "filters": {"person_job_title": {"include": ["CTO"]}}}],
		"skip_existing_enrichment": false,
		"max_data_age_days": 7
	}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, got)
	assert.Equal(t, "Job 2026-03-14 09:30", got.Name)
	assert.Equal(t, model.ModeDetailed, got.Mode)
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.Len(t, got.Fingerprint, 32)
	assert.Equal(t, model.DedupPolicy{
		SkipCompanies:    true,
		SkipPersonCounts: true,
		SkipEnrichment:   false,
		MaxDataAgeDays:   7,
	}, got.Policy)

	body := decodeBody(t, rec)
	assert.Equal(t, "job-1", body["id"])
	assert.Equal(t, "pending", body["status"])
}

func TestCreateJob_DefaultPolicyOption(t *testing.T) {
	ts := newTestServer(t, WithDefaultPolicy(model.DedupPolicy{MaxDataAgeDays: 90}))
	ts.jobs.On("Start", mock.Anything, mock.MatchedBy(func(j *model.Job) bool {
		return j.Policy == model.DedupPolicy{SkipCompanies: true, MaxDataAgeDays: 90} && j.Mode == model.ModeQuickTAM
	})).Return(&model.Job{ID: "q", Status: model.JobStatusCompleted}, nil)

	rec := ts.do(t, http.MethodPost, "/api/jobs", `{"name": "quick", "mode": "quick_tam", "skip_existing_companies": true}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", decodeBody(t, rec)["status"])
	ts.jobs.AssertExpectations(t)
}

func TestCreateJob_Invalid(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{"bad mode", `{"mode": "fast"}`, "mode: oneof=quick_tam detailed"},
		{"negative age", `{"max_data_age_days": -1}`, "max_data_age_days: min=0"},
		{"long name", `{"name": "` + strings.Repeat("x", 201) + `"}`, "name: max=200"},
		{"long query name", `{"person_filters": [{"name": "` + strings.Repeat("q", 101) + `"}]}`, "person_filters[0].name: max=100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/jobs", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeBody(t, rec)["details"], tt.detail)
		})
	}
	ts.jobs.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
}

func TestCreateJob_ShuttingDown(t *testing.T) {
	ts := newTestServer(t)
	ts.jobs.On("Start", mock.Anything, mock.Anything).Return(nil, eris.Wrap(sizing.ErrShuttingDown, "submit"))

	rec := ts.do(t, http.MethodPost, "/api/jobs", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	a := ts.seedJob(t, "a")
	ts.seedJob(t, "b")
	_, err := ts.store.MarkRunning(ctx, a.ID, time.Now().UTC())
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["jobs"], 2)

	rec = ts.do(t, http.MethodGet, "/api/jobs?status=running", "")
	jobs := decodeBody(t, rec)["jobs"].([]any)
	require.Len(t, jobs, 1)
	assert.Equal(t, a.ID, jobs[0].(map[string]any)["id"])

	rec = ts.do(t, http.MethodGet, "/api/jobs?status=failed", "")
	assert.Equal(t, []any{}, decodeBody(t, rec)["jobs"])
}

func TestGetJob(t *testing.T) {
	ts := newTestServer(t)
	job := ts.seedJob(t, "get me", ctos)

	rec := ts.do(t, http.MethodGet, "/api/jobs/"+job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "get me", body["name"])
	assert.Equal(t, job.Fingerprint, body["query_fingerprint"])
	assert.EqualValues(t, 0, body["progress_pct"])

	rec = ts.do(t, http.MethodGet, "/api/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "job not found", decodeBody(t, rec)["error"])
}

func TestGetJob_PublishedProgress(t *testing.T) {
	ctx := context.Background()
	progress := staticProgress{}
	ts := newTestServer(t, WithProgressReader(&progress))
	job := ts.seedJob(t, "remote")
	_, err := ts.store.MarkRunning(ctx, job.ID, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, ts.store.UpdateJobProgress(ctx, job.ID, model.Progress{TotalCompanies: 100, ProcessedCompanies: 10}))

	progress.snap = newSnapshot(job.ID, 40, time.Now().Add(time.Minute))
	rec := ts.do(t, http.MethodGet, "/api/jobs/"+job.ID, "")
	assert.EqualValues(t, 40, decodeBody(t, rec)["processed_companies"])

	progress.snap = newSnapshot(job.ID, 60, time.Now().Add(-time.Hour))
	rec = ts.do(t, http.MethodGet, "/api/jobs/"+job.ID, "")
	assert.EqualValues(t, 10, decodeBody(t, rec)["processed_companies"], "older snapshot ignored")

	progress.snap, progress.err = nil, assert.AnError
	rec = ts.do(t, http.MethodGet, "/api/jobs/"+job.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 10, decodeBody(t, rec)["processed_companies"])
}

func TestStopJob(t *testing.T) {
	ts := newTestServer(t)
	done := time.Now().UTC()
	ts.jobs.On("Stop", mock.Anything, "run").
		Return(&model.Job{ID: "run", Status: model.JobStatusStopped, CompletedAt: &done}, nil)
	ts.jobs.On("Stop", mock.Anything, "old").
		Return(&model.Job{ID: "old", Status: model.JobStatusCompleted}, eris.Wrap(sizing.ErrJobNotRunning, "stop"))
	ts.jobs.On("Stop", mock.Anything, "gone").Return(nil, store.ErrNotFound)

	rec := ts.do(t, http.MethodPost, "/api/jobs/run/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", decodeBody(t, rec)["status"])

	rec = ts.do(t, http.MethodPost, "/api/jobs/old/stop", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "job is already completed", body["error"])
	assert.Equal(t, "old", body["job"].(map[string]any)["id"])

	rec = ts.do(t, http.MethodPost, "/api/jobs/gone/stop", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobResults(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	job := ts.seedJob(t, "results", ctos, engineers)
	require.NoError(t, ts.store.UpdateJobProgress(ctx, job.ID, model.Progress{TotalCompanies: 3, ProcessedCompanies: 3}))

	acme := ts.seedCompany(t, job, company.Record{ExternalID: "p-1", Name: "Acme", Domain: "acme.com", EmployeeCount: intPtr(120), Country: "United States"},
		map[string]int{"CTOs": 1, "Engineers": 30})
	ts.seedCompany(t, job, company.Record{ExternalID: "p-2", Name: "Beta", Domain: "beta.io"},
		map[string]int{"CTOs": 2, "Engineers": 5})
	ts.seedCompany(t, job, company.Record{ExternalID: "p-3", Name: "Gamma", Domain: "gamma.dev"}, nil)

	rec := ts.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/results?page=1&per_page=2", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decodeResults(t, rec.Body.Bytes())

	assert.Equal(t, job.ID, res.Job.ID)
	assert.Equal(t, model.Page{Page: 1, PerPage: 2, Total: 3, Pages: 2}, res.Pagination)
	require.Len(t, res.Companies, 2)
	assert.Equal(t, acme.ID, res.Companies[0].CompanyID)
	assert.Equal(t, "p-1", res.Companies[0].ExternalID)
	assert.Equal(t, map[string]int{"CTOs": 1, "Engineers": 30}, res.Companies[0].PersonCounts)
	assert.Equal(t, 3, res.Aggregates.TotalCompanies)
	assert.Equal(t, map[string]int{"CTOs": 3, "Engineers": 35}, res.Aggregates.PersonCounts)

	rec = ts.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/results?page=2&per_page=2", "")
	res = decodeResults(t, rec.Body.Bytes())
	require.Len(t, res.Companies, 1)
	assert.Equal(t, "Gamma", res.Companies[0].Name)
	assert.Empty(t, res.Companies[0].PersonCounts)

	rec = ts.do(t, http.MethodGet, "/api/jobs/missing/results", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobResults_DefaultPaging(t *testing.T) {
	ts := newTestServer(t)
	job := ts.seedJob(t, "empty")

	rec := ts.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/results?page=0&per_page=abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, map[string]any{"page": 1.0, "per_page": 50.0, "total": 0.0, "pages": 0.0}, body["pagination"])
	assert.Equal(t, []any{}, body["companies"])
	assert.Equal(t, map[string]any{"total_companies": 0.0, "person_counts": map[string]any{}}, body["aggregates"])
}

func TestExportJob(t *testing.T) {
	ts := newTestServer(t)
	job := ts.seedJob(t, "export", engineers, ctos, filter.PersonQuery{Filters: filter.PersonFilters{"person_seniority": "c_suite"}})

	ts.seedCompany(t, job, company.Record{
		ExternalID:    "p-1",
		Name:          "Acme, Inc.",
		Domain:        "acme.com",
		Website:       "https://acme.com",
		Industry:      "Software",
		EmployeeCount: intPtr(120),
		Country:       "United States",
		City:          "Austin",
		State:         "TX",
		Details: company.Details{
			Founded:        intPtr(2011),
			RevenuePrinted: "$10M-$50M",
			IsB2B:          boolPtr(true),
			Funding:        json.RawMessage(`{"last_round_type": "Series B", "total_raised": 42000000}`),
		},
	}, map[string]int{"CTOs": 1, "Engineers": 30})
	ts.seedCompany(t, job, company.Record{ExternalID: "p-2", Name: "Beta"}, map[string]int{"Unnamed Query": 4})

	rec := ts.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=job_"+job.ID+"_results.csv", rec.Header().Get("Content-Disposition"))

	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{
		"company_id", "name", "domain", "website", "industry",
		"headcount", "country", "city", "state",
		"founded_year", "funding_stage", "revenue_range", "b2b",
		"CTOs", "Engineers", "Unnamed Query",
	}, rows[0])
	assert.Equal(t, []string{
		"p-1", "Acme, Inc.", "acme.com", "https://acme.com", "Software",
		"120", "United States", "Austin", "TX",
		"2011", "Series B", "$10M-$50M", "true",
		"1", "30", "0",
	}, rows[1])
	assert.Equal(t, []string{
		"p-2", "Beta", "", "", "", "", "", "", "", "", "", "", "",
		"0", "0", "4",
	}, rows[2])

	rec = ts.do(t, http.MethodGet, "/api/jobs/missing/export", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFundingStage(t *testing.T) {
	assert.Equal(t, "", fundingStage(nil))
	assert.Equal(t, "", fundingStage(json.RawMessage(`[1,2]`)))
	assert.Equal(t, "Seed", fundingStage(json.RawMessage(`{"funding_stage": "Seed"}`)))
	assert.Equal(t, "", fundingStage(json.RawMessage(`{"total_raised": 5}`)))
}
