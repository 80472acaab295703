package sizing

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
	"github.com/charlie-wiebe/market-sizing-tool/internal/segment"
)

// QuickTAM runs a pending quick_tam job on the caller's goroutine. It
// issues one company count query and one person count query per named
// sub-query, with the company filters merged into each, and stores the
// totals as the job's aggregate results.
//
// A failed person query is left out of the results and named in the job's
// error message; the job still completes. The returned job is the stored
// final state.
func (r *Runner) QuickTAM(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "sizing: load job")
	}
	if job.Mode != model.ModeQuickTAM {
		return nil, eris.Wrapf(ErrWrongMode, "sizing: job %s is %s", job.ID, job.Mode)
	}

	started := r.now().UTC()
	ok, err := r.store.MarkRunning(ctx, job.ID, started)
	if err != nil {
		return nil, eris.Wrap(err, "sizing: mark running")
	}
	if !ok {
		return nil, eris.Wrapf(ErrJobNotPending, "sizing: job %s", job.ID)
	}

	log := zap.L().With(zap.String("job_id", job.ID))
	log.Info("sizing: quick tam started", zap.Int("person_queries", len(job.PersonQueries)))

	var (
		p       model.Progress
		partial string
	)
	credits := r.calc.NewTracker()
	results := make(map[string]int, len(job.PersonQueries))

	runErr := guard(func() error {
		p.EstimatedCredits = r.calc.CompanyPages(1) + r.calc.PersonQueries(len(job.PersonQueries))

		resp, err := r.gateway.SearchCompanies(ctx, job.CompanyFilters, 1)
		p.ActualCredits += credits.CompanyPage()
		if err != nil {
			return eris.Wrap(err, "sizing: company count")
		}
		if resp.IsError() {
			return eris.Errorf("sizing: company count failed: %s: %s", resp.Code(), resp.Message())
		}
		p.TotalCompanies = resp.Pagination.TotalCount

		companyFilters, err := job.CompanyFilters.Map()
		if err != nil {
			return eris.Wrap(err, "sizing: company filters")
		}

		var failed []string
		for _, q := range job.PersonQueries {
			if err := ctx.Err(); err != nil {
				return eris.Wrap(err, "sizing: interrupted")
			}
			name := q.Label()
			resp, err := r.gateway.SearchPeople(ctx, q.Filters.Merge(companyFilters), 1)
			p.ActualCredits += credits.PersonQuery()
			switch {
			case err != nil:
				log.Warn("sizing: quick tam person query failed", zap.String("query", name), zap.Error(err))
				failed = append(failed, name+" ("+segment.CodeRequestFailed+")")
			case resp.IsError():
				log.Warn("sizing: quick tam person query rejected", zap.String("query", name), zap.String("error_code", resp.Code()))
				failed = append(failed, name+" ("+resp.Code()+")")
			default:
				results[name] = resp.Pagination.TotalCount
			}
		}
		if len(failed) > 0 {
			partial = "person queries failed: " + strings.Join(failed, ", ")
		}

		return eris.Wrap(r.store.SaveAggregateResults(ctx, job.ID, results), "sizing: save aggregate results")
	})

	wctx := context.WithoutCancel(ctx)
	if err := r.store.UpdateJobProgress(wctx, job.ID, p); err != nil {
		log.Warn("sizing: quick tam progress commit failed", zap.Error(err))
	}

	status, msg := model.JobStatusCompleted, partial
	if runErr != nil {
		status, msg = model.JobStatusFailed, runErr.Error()
		log.Error("sizing: quick tam failed", zap.Error(runErr))
	}
	if _, err := r.store.FinishJob(wctx, job.ID, status, msg, r.now().UTC()); err != nil {
		return nil, eris.Wrap(err, "sizing: finish job")
	}

	log.Info("sizing: quick tam finished",
		zap.String("status", string(status)),
		zap.Int("total_companies", p.TotalCompanies),
		zap.Int("actual_credits", p.ActualCredits),
	)
	return r.store.GetJob(wctx, job.ID)
}
