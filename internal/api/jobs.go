package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/charlie-wiebe/market-sizing-tool/internal/company"
	"github.com/charlie-wiebe/market-sizing-tool/internal/filter"
	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
	"github.com/charlie-wiebe/market-sizing-tool/internal/sizing"
)

const (
	defaultPerPage = 50
	maxPerPage     = 500
	exportBatch    = 500
)

type createJobRequest struct {
	Name           string               `json:"name" validate:"max=200"`
	Mode           model.JobMode        `json:"mode" validate:"omitempty,oneof=quick_tam detailed"`
	CompanyFilters filter.Set           `json:"company_filters"`
	PersonFilters  []personQueryRequest `json:"person_filters" validate:"max=20,dive"`

	SkipExistingCompanies    *bool `json:"skip_existing_companies"`
	SkipExistingPersonCounts *bool `json:"skip_existing_person_counts"`
	SkipExistingEnrichment   *bool `json:"skip_existing_enrichment"`
	MaxDataAgeDays           *int  `json:"max_data_age_days" validate:"omitempty,min=0,max=3650"`
}

func (req createJobRequest) policy(def model.DedupPolicy) model.DedupPolicy {
	p := def
	if req.SkipExistingCompanies != nil {
		p.SkipCompanies = *req.SkipExistingCompanies
	}
	if req.SkipExistingPersonCounts != nil {
		p.SkipPersonCounts = *req.SkipExistingPersonCounts
	}
	if req.SkipExistingEnrichment != nil {
		p.SkipEnrichment = *req.SkipExistingEnrichment
	}
	if req.MaxDataAgeDays != nil {
		p.MaxDataAgeDays = *req.MaxDataAgeDays
	}
	return p
}

// createJob handles POST /api/jobs. Detailed jobs are queued and returned
// pending; quick_tam jobs run before the response.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !s.decode(w, r, &req) {
		return
	}

	job, err := sizing.NewJob(sizing.JobRequest{
		Name:           req.Name,
		Mode:           req.Mode,
		CompanyFilters: req.CompanyFilters,
		PersonQueries:  toPersonQueries(req.PersonFilters),
		Policy:         req.policy(s.defaultPolicy),
	}, s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job", err.Error())
		return
	}

	created, err := s.jobs.Start(r.Context(), job)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// listJobs handles GET /api/jobs?status=&limit=&offset=.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.JobFilter{
		Status: model.JobStatus(q.Get("status")),
		Limit:  queryInt(q.Get("limit"), 20),
		Offset: queryInt(q.Get("offset"), 0),
	}
	f.Limit = min(max(f.Limit, 1), 200)
	f.Offset = max(f.Offset, 0)

	jobs, err := s.store.ListJobs(r.Context(), f)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.loadJob(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// loadJob reads the job in the URL, with newer published progress applied
// while it runs.
func (s *Server) loadJob(r *http.Request) (*model.Job, error) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if s.progress == nil || job.Status != model.JobStatusRunning {
		return job, nil
	}

	snap, err := s.progress.Progress(r.Context(), job.ID)
	if err != nil {
		zap.L().Warn("api: read published progress", zap.String("job_id", job.ID), zap.Error(err))
		return job, nil
	}
	if snap != nil && snap.UpdatedAt.After(job.UpdatedAt) && snap.Progress.ProcessedCompanies >= job.ProcessedCompanies {
		snap.Progress.Apply(job)
	}
	return job, nil
}

// stopJob handles POST /api/jobs/{id}/stop. Stopping a finished job is a
// conflict and returns the job as it is.
func (s *Server) stopJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Stop(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, sizing.ErrJobNotRunning) && job != nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": fmt.Sprintf("job is already %s", job.Status),
			"job":   job,
		})
		return
	}
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// jobResults handles GET /api/jobs/{id}/results?page=&per_page=.
func (s *Server) jobResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, err := s.loadJob(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	q := r.URL.Query()
	page := max(queryInt(q.Get("page"), 1), 1)
	perPage := min(max(queryInt(q.Get("per_page"), defaultPerPage), 1), maxPerPage)

	companies, total, err := s.store.ListJobCompanies(ctx, job.ID, perPage, (page-1)*perPage)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	counts, err := s.countsByCompany(r, job.ID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	agg, err := s.store.AggregatePersonCounts(ctx, job.ID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if agg == nil {
		agg = map[string]int{}
	}

	res := model.JobResults{
		Job:       job,
		Companies: make([]model.CompanyResult, 0, len(companies)),
		Pagination: model.Page{
			Page:    page,
			PerPage: perPage,
			Total:   total,
			Pages:   (total + perPage - 1) / perPage,
		},
		Aggregates: model.Aggregates{TotalCompanies: job.ProcessedCompanies, PersonCounts: agg},
	}
	for i := range companies {
		c := &companies[i]
		pc := counts[c.ID]
		if pc == nil {
			pc = map[string]int{}
		}
		res.Companies = append(res.Companies, model.CompanyResult{
			CompanyID:    c.ID,
			ExternalID:   c.ExternalID,
			Name:         c.Name,
			Domain:       c.Domain,
			Website:      c.Website,
			Industry:     c.Industry,
			Employees:    c.EmployeeCount,
			Country:      c.Country,
			City:         c.City,
			State:        c.State,
			PersonCounts: pc,
		})
	}
	writeJSON(w, http.StatusOK, res)
}

// countsByCompany indexes the job's person counts by company and query.
// Later rows win.
func (s *Server) countsByCompany(r *http.Request, jobID string) (map[int64]map[string]int, error) {
	rows, err := s.store.JobPersonCounts(r.Context(), jobID)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]map[string]int)
	for _, pc := range rows {
		m := out[pc.CompanyID]
		if m == nil {
			m = make(map[string]int)
			out[pc.CompanyID] = m
		}
		m[pc.QueryName] = pc.TotalCount
	}
	return out, nil
}

var exportHeader = []string{
	"company_id", "name", "domain", "website", "industry",
	"headcount", "country", "city", "state",
	"founded_year", "funding_stage", "revenue_range", "b2b",
}

// exportJob handles GET /api/jobs/{id}/export: every company of the job as
// CSV with one column per person query. Missing counts are 0.
func (s *Server) exportJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, err := s.store.GetJob(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	counts, err := s.countsByCompany(r, job.ID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	seen := map[string]bool{}
	var queries []string
	for _, q := range job.PersonQueries {
		if name := q.Label(); !seen[name] {
			seen[name] = true
			queries = append(queries, name)
		}
	}
	sort.Strings(queries)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=job_%s_results.csv", job.ID))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write(append(append([]string{}, exportHeader...), queries...))

	for offset := 0; ; offset += exportBatch {
		batch, _, err := s.store.ListJobCompanies(ctx, job.ID, exportBatch, offset)
		if err != nil {
			// Headers are sent; the truncated body is all we can signal.
			zap.L().Error("api: export list companies", zap.String("job_id", job.ID), zap.Error(err))
			break
		}
		for i := range batch {
			_ = cw.Write(exportRow(&batch[i], counts[batch[i].ID], queries))
		}
		cw.Flush()
		if len(batch) < exportBatch {
			break
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		zap.L().Debug("api: export write", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func exportRow(c *company.Record, counts map[string]int, queries []string) []string {
	row := []string{
		c.ExternalID,
		c.Name,
		c.Domain,
		c.Website,
		c.Industry,
		optInt(c.EmployeeCount),
		c.Country,
		c.City,
		c.State,
		optInt(c.Details.Founded),
		fundingStage(c.Details.Funding),
		c.Details.RevenuePrinted,
		optBool(c.Details.IsB2B),
	}
	for _, q := range queries {
		row = append(row, strconv.Itoa(counts[q]))
	}
	return row
}

// fundingStage reads the latest round type from the gateway's funding
// object, when it has one.
func fundingStage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var f map[string]any
	if err := json.Unmarshal(raw, &f); err != nil {
		return ""
	}
	for _, k := range []string{"funding_stage", "last_round_type", "stage"} {
		if v, ok := f[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optBool(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
