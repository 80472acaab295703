// Package enrich matches a job's companies against the CRM and records the
// match history.
package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/charlie-wiebe/market-sizing-tool/internal/company"
	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
	"github.com/charlie-wiebe/market-sizing-tool/pkg/hubspot"
)

const defaultBatchSize = 100

// Store is the persistence the enricher needs.
type Store interface {
	ListJobCompanies(ctx context.Context, jobID string, limit, offset int) ([]company.Record, int, error)
	FindFreshEnrichment(ctx context.Context, companyID int64, since time.Time) (*model.Enrichment, error)
	SaveEnrichment(ctx context.Context, e *model.Enrichment) error
}

// Result counts what happened to each company of a job.
type Result struct {
	Companies int `json:"companies"`
	Matched   int `json:"matched"`
	NoMatch   int `json:"no_match"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Enricher runs the CRM enrichment stage.
type Enricher struct {
	store     Store
	crm       hubspot.Client
	batchSize int
	now       func() time.Time
}

// New creates an enricher.
func New(st Store, crm hubspot.Client) *Enricher {
	return &Enricher{
		store:     st,
		crm:       crm,
		batchSize: defaultBatchSize,
		now:       time.Now,
	}
}

// EnrichJob looks up every company linked to job. Per-company failures are
// logged and counted, never returned. The error is non-nil only when the
// company listing fails or ctx ends.
func (e *Enricher) EnrichJob(ctx context.Context, job *model.Job) (Result, error) {
	var res Result
	log := zap.L().With(zap.String("job_id", job.ID))

	if !e.crm.Enabled() {
		log.Info("enrich: crm not configured, skipping")
		return res, nil
	}

	since := e.now().Add(-job.Policy.MaxAge())
	for offset := 0; ; offset += e.batchSize {
		recs, total, err := e.store.ListJobCompanies(ctx, job.ID, e.batchSize, offset)
		if err != nil {
			return res, eris.Wrap(err, "enrich: list job companies")
		}
		for i := range recs {
			if err := ctx.Err(); err != nil {
				return res, eris.Wrap(err, "enrich: cancelled")
			}
			res.Companies++
			e.enrichOne(ctx, job, &recs[i], since, &res)
		}
		if len(recs) == 0 || offset+len(recs) >= total {
			break
		}
	}

	log.Info("enrich: complete",
		zap.Int("companies", res.Companies),
		zap.Int("matched", res.Matched),
		zap.Int("no_match", res.NoMatch),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (e *Enricher) enrichOne(ctx context.Context, job *model.Job, rec *company.Record, since time.Time, res *Result) {
	log := zap.L().With(zap.String("job_id", job.ID), zap.Int64("company_id", rec.ID))

	if job.Policy.SkipEnrichment {
		fresh, err := e.store.FindFreshEnrichment(ctx, rec.ID, since)
		if err != nil {
			log.Warn("enrich: freshness lookup failed", zap.Error(err))
			res.Failed++
			return
		}
		if fresh != nil {
			res.Skipped++
			return
		}
	}

	handle := company.LinkedInHandle(rec.LinkedInURL)
	domain := company.NormalizeDomain(rec.Domain)
	if domain == "" {
		domain = company.NormalizeDomain(rec.Website)
	}

	byLinkedIn, err := e.crm.SearchByLinkedInHandle(ctx, handle)
	if err != nil {
		log.Warn("enrich: linkedin search failed", zap.String("handle", handle), zap.Error(err))
		res.Failed++
		return
	}
	byDomain, err := e.crm.SearchByDomain(ctx, domain)
	if err != nil {
		log.Warn("enrich: domain search failed", zap.String("domain", domain), zap.Error(err))
		res.Failed++
		return
	}

	row := &model.Enrichment{
		CompanyID:    rec.ID,
		JobID:        job.ID,
		LookupMethod: model.LookupNoMatch,
	}
	if m := hubspot.ResolveBest(byLinkedIn, byDomain, handle, domain); m != nil {
		row.HubSpotObjectID = m.Company.ID
		row.Vertical = m.Company.Properties.Vertical
		row.LookupMethod = model.LookupMethod(m.Method)
		if t, ok := m.Company.Properties.CreatedAt(); ok {
			row.HubSpotCreatedAt = &t
		}
	}

	if err := e.store.SaveEnrichment(ctx, row); err != nil {
		log.Warn("enrich: save failed", zap.Error(err))
		res.Failed++
		return
	}
	if row.LookupMethod == model.LookupNoMatch {
		res.NoMatch++
	} else {
		res.Matched++
	}
}
