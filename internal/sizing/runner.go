// Package sizing runs market-sizing jobs: the detailed per-company walk,
// the quick aggregate mode, previews, and the in-process job registry.
package sizing

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/charlie-wiebe/market-sizing-tool/internal/company"
	"github.com/charlie-wiebe/market-sizing-tool/internal/cost"
	"github.com/charlie-wiebe/market-sizing-tool/internal/enrich"
	"github.com/charlie-wiebe/market-sizing-tool/internal/filter"
	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
	"github.com/charlie-wiebe/market-sizing-tool/internal/segment"
	"github.com/charlie-wiebe/market-sizing-tool/internal/signal"
	"github.com/charlie-wiebe/market-sizing-tool/internal/store"
	"github.com/charlie-wiebe/market-sizing-tool/pkg/prospeo"
)

// Sentinel errors.
var (
	ErrJobNotPending = eris.New("sizing: job is not pending")
	ErrJobNotRunning = eris.New("sizing: job is not running")
	ErrWrongMode     = eris.New("sizing: wrong job mode")
)

// Gateway is the search API the runner drives.
type Gateway interface {
	SearchCompanies(ctx context.Context, filters any, page int) (*prospeo.SearchResponse, error)
	SearchPeople(ctx context.Context, filters any, page int) (*prospeo.SearchResponse, error)
}

// Enricher runs the post-collection enrichment stage.
type Enricher interface {
	EnrichJob(ctx context.Context, job *model.Job) (enrich.Result, error)
}

// Options tunes the runner.
type Options struct {
	// CommitEvery is how many companies pass between progress commits.
	CommitEvery int
	// MaxPagesUnknownSegment caps segments whose planned count failed.
	MaxPagesUnknownSegment int
	Rates                  cost.Rates
}

// DefaultOptions matches the config defaults.
func DefaultOptions() Options {
	return Options{
		CommitEvery:            10,
		MaxPagesUnknownSegment: prospeo.MaxResultsPerQuery / prospeo.PageSize,
		Rates:                  cost.DefaultRates(),
	}
}

// RunnerOption configures optional collaborators.
type RunnerOption func(*Runner)

// WithEnricher enables the enrichment stage for detailed jobs.
func WithEnricher(e Enricher) RunnerOption {
	return func(r *Runner) { r.enricher = e }
}

// WithStopSignal makes the runner honor stop requests from other
// processes.
func WithStopSignal(s signal.StopSignal) RunnerOption {
	return func(r *Runner) { r.stops = s }
}

// WithProgressPublisher mirrors every progress commit to p.
func WithProgressPublisher(p signal.ProgressPublisher) RunnerOption {
	return func(r *Runner) { r.progress = p }
}

// Runner executes jobs against the gateway and the store.
type Runner struct {
	store    store.Store
	gateway  Gateway
	planner  *segment.Planner
	resolver *company.Resolver
	calc     *cost.Calculator
	enricher Enricher
	stops    signal.StopSignal
	progress signal.ProgressPublisher
	opts     Options
	now      func() time.Time
}

// NewRunner creates a runner.
func NewRunner(st store.Store, gw Gateway, opts Options, extra ...RunnerOption) *Runner {
	def := DefaultOptions()
	if opts.CommitEvery <= 0 {
		opts.CommitEvery = def.CommitEvery
	}
	if opts.MaxPagesUnknownSegment <= 0 {
		opts.MaxPagesUnknownSegment = def.MaxPagesUnknownSegment
	}
	if opts.Rates == (cost.Rates{}) {
		opts.Rates = def.Rates
	}

	r := &Runner{
		store:    st,
		gateway:  gw,
		planner:  segment.NewPlanner(gw),
		resolver: company.NewResolver(st),
		calc:     cost.NewCalculator(opts.Rates),
		opts:     opts,
		now:      time.Now,
	}
	for _, o := range extra {
		o(r)
	}
	return r
}

// Handle is the cooperative stop flag and completion signal of one job.
type Handle struct {
	jobID   string
	stopped atomic.Bool
	done    chan struct{}
	err     error
}

// NewHandle creates a handle for jobID.
func NewHandle(jobID string) *Handle {
	return &Handle{jobID: jobID, done: make(chan struct{})}
}

// JobID returns the job the handle controls.
func (h *Handle) JobID() string { return h.jobID }

// Stop asks the job to stop at its next page or company boundary. The
// request in flight completes.
func (h *Handle) Stop() { h.stopped.Store(true) }

// Stopped reports whether Stop was called.
func (h *Handle) Stopped() bool { return h.stopped.Load() }

// Done is closed when the job's worker returns.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is the worker's result. It is only valid after Done is closed.
func (h *Handle) Err() error { return h.err }

func (h *Handle) finish(err error) {
	h.err = err
	close(h.done)
}

// Run executes a pending detailed job to a terminal state. Failures during
// execution are recorded on the job as status failed and are not returned;
// the error is non-nil only when the job could not be started or its final
// state could not be written.
//
// When h is stopped, Run saves progress and returns without a terminal
// transition. Whoever stopped the job writes stopped.
func (r *Runner) Run(ctx context.Context, h *Handle) error {
	job, err := r.store.GetJob(ctx, h.JobID())
	if err != nil {
		return eris.Wrap(err, "sizing: load job")
	}
	if job.Mode != model.ModeDetailed {
		return eris.Wrapf(ErrWrongMode, "sizing: job %s is %s", job.ID, job.Mode)
	}

	started := r.now().UTC()
	ok, err := r.store.MarkRunning(ctx, job.ID, started)
	if err != nil {
		return eris.Wrap(err, "sizing: mark running")
	}
	if !ok {
		return eris.Wrapf(ErrJobNotPending, "sizing: job %s", job.ID)
	}
	job.Status = model.JobStatusRunning
	job.StartedAt = &started

	x := &execution{
		r:       r,
		job:     job,
		h:       h,
		credits: r.calc.NewTracker(),
		log:     zap.L().With(zap.String("job_id", job.ID)),
	}
	x.log.Info("sizing: job started",
		zap.String("name", job.Name),
		zap.Int("person_queries", len(job.PersonQueries)),
	)

	runErr := guard(func() error { return x.execute(ctx) })
	return x.finish(ctx, runErr)
}

// guard runs fn and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			zap.L().Error("sizing: recovered panic", zap.Any("panic", rec), zap.Stack("stack"))
			err = eris.Errorf("sizing: panic: %v", rec)
		}
	}()
	return fn()
}

// execution is the state of one detailed run.
type execution struct {
	r           *Runner
	job         *model.Job
	h           *Handle
	p           model.Progress
	credits     *cost.Tracker
	sinceCommit int
	log         *zap.Logger
}

func (x *execution) execute(ctx context.Context) error {
	plan, err := x.r.planner.CreateExecutionPlan(ctx, x.job.CompanyFilters)
	if err != nil {
		var perr *segment.PlanError
		if errors.As(err, &perr) {
			return eris.Wrap(perr, "sizing: segmentation failed")
		}
		return eris.Wrap(err, "sizing: build plan")
	}

	x.p.TotalCompanies = plan.TotalEstimated
	x.p.EstimatedCredits = plan.CreditsEstimate
	if err := x.commit(ctx); err != nil {
		return err
	}

	for i, seg := range plan.Segments {
		if x.cancelled(ctx) {
			x.log.Info("sizing: stopping before segment", zap.Int("segment_index", i), zap.String("segment", seg.Label))
			break
		}
		if err := x.walkSegment(ctx, seg); err != nil {
			return err
		}
	}

	x.enrich(ctx)
	return nil
}

// walkSegment fetches every page of seg and processes its companies.
func (x *execution) walkSegment(ctx context.Context, seg segment.Segment) error {
	log := x.log.With(zap.String("segment", seg.Label))

	pages := min(seg.Pages, prospeo.MaxResultsPerQuery/prospeo.PageSize)
	if seg.CountUnknown {
		pages = 1
	}

	for page := 1; page <= pages; page++ {
		x.pollStopSignal(ctx)
		if x.cancelled(ctx) {
			return nil
		}

		resp, err := x.r.gateway.SearchCompanies(ctx, seg.Filters, page)
		if err != nil && ctx.Err() != nil {
			return nil
		}
		x.p.ActualCredits += x.credits.CompanyPage()
		if err != nil {
			log.Warn("sizing: page fetch failed, skipping", zap.Int("page", page), zap.Error(err))
			continue
		}
		if resp.IsError() {
			log.Warn("sizing: page returned error, skipping",
				zap.Int("page", page),
				zap.String("error_code", resp.Code()),
				zap.String("message", resp.Message()),
			)
			continue
		}

		if seg.CountUnknown && page == 1 {
			pages = x.learnPages(resp.Pagination)
			x.p.TotalCompanies += resp.Pagination.TotalCount
			x.p.EstimatedCredits += x.r.calc.CompanyPages(pages)
			log.Info("sizing: learned segment size", zap.Int("total_count", resp.Pagination.TotalCount), zap.Int("pages", pages))
		}

		for _, raw := range resp.Companies() {
			if x.cancelled(ctx) {
				break
			}
			if err := x.processCompany(ctx, raw); err != nil {
				return err
			}
		}

		if err := x.commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

// learnPages sizes a segment whose planned count was unknown from its
// first page.
func (x *execution) learnPages(p prospeo.Pagination) int {
	n := p.TotalPage
	if n <= 0 {
		n = segment.PagesFor(p.TotalCount)
	}
	n = min(n, prospeo.MaxResultsPerQuery/prospeo.PageSize, x.r.opts.MaxPagesUnknownSegment)
	return max(n, 1)
}

func (x *execution) processCompany(ctx context.Context, raw json.RawMessage) error {
	rec, err := company.FromPayload(raw)
	if err != nil {
		x.log.Warn("sizing: undecodable company skipped", zap.Error(err))
		return nil
	}

	if x.job.Policy.SkipCompanies {
		existing, how, err := x.r.resolver.FindExisting(ctx, rec)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := x.r.store.LinkCompanyToJob(ctx, existing.ID, x.job.ID); err != nil {
				return eris.Wrap(err, "sizing: link existing company")
			}
			x.log.Debug("sizing: existing company skipped",
				zap.Int64("company_id", existing.ID),
				zap.String("match", string(how)),
			)
			x.p.CompaniesSkipped++
			return x.advance(ctx)
		}
	}

	if _, err := x.r.resolver.Upsert(ctx, x.job.ID, rec); err != nil {
		return err
	}
	if err := x.personCounts(ctx, rec); err != nil {
		return err
	}
	return x.advance(ctx)
}

// personCounts resolves and saves every named sub-query for rec. Companies
// without a domain get none.
func (x *execution) personCounts(ctx context.Context, rec *company.Record) error {
	root := rec.LookupDomain()
	if root == "" || len(x.job.PersonQueries) == 0 {
		return nil
	}

	for _, q := range x.job.PersonQueries {
		pc, err := x.resolvePersonCount(ctx, rec, root, q)
		if err != nil {
			return err
		}
		if err := x.r.store.SavePersonCount(ctx, pc); err != nil {
			return eris.Wrap(err, "sizing: save person count")
		}
	}
	return nil
}

func (x *execution) resolvePersonCount(ctx context.Context, rec *company.Record, root string, q filter.PersonQuery) (*model.PersonCount, error) {
	pc := &model.PersonCount{
		CompanyID:  rec.ID,
		JobID:      x.job.ID,
		ExternalID: rec.ExternalID,
		QueryName:  q.Label(),
		Status:     model.CountOK,
	}

	if x.job.Policy.SkipPersonCounts {
		prior, err := x.r.store.FindFreshPersonCount(ctx, store.PersonCountLookup{
			ExternalID: rec.ExternalID,
			RootDomain: root,
			QueryName:  pc.QueryName,
			Since:      x.r.now().Add(-x.job.Policy.MaxAge()),
		})
		if err != nil {
			return nil, eris.Wrap(err, "sizing: find fresh person count")
		}
		if prior != nil && prior.Status == model.CountOK {
			pc.TotalCount = prior.TotalCount
			x.p.PersonCountsSkipped++
			return pc, nil
		}
	}

	total, code, err := x.countPeople(ctx, q, root)
	if err != nil {
		return nil, err
	}
	if code == "" && total == 0 {
		if alt := rec.WebsiteDomain(); alt != "" && alt != root {
			x.log.Debug("sizing: retrying person query with website domain",
				zap.Int64("company_id", rec.ID),
				zap.String("query", pc.QueryName),
				zap.String("domain", alt),
			)
			if total, code, err = x.countPeople(ctx, q, alt); err != nil {
				return nil, err
			}
		}
	}

	pc.TotalCount = total
	if code != "" {
		pc.Status = model.CountError
		pc.ErrorCode = code
	}
	return pc, nil
}

// countPeople runs one person count query constrained to domain. A gateway
// failure comes back as an error code; the error is set only when ctx
// ended.
func (x *execution) countPeople(ctx context.Context, q filter.PersonQuery, domain string) (int, string, error) {
	resp, err := x.r.gateway.SearchPeople(ctx, q.Filters.WithCompanyWebsites(domain), 1)
	if err != nil && ctx.Err() != nil {
		return 0, "", eris.Wrap(ctx.Err(), "sizing: person query interrupted")
	}
	x.p.ActualCredits += x.credits.PersonQuery()

	if err != nil {
		x.log.Warn("sizing: person query failed", zap.String("query", q.Label()), zap.String("domain", domain), zap.Error(err))
		return 0, segment.CodeRequestFailed, nil
	}
	if resp.IsError() {
		return 0, resp.Code(), nil
	}
	return resp.Pagination.TotalCount, "", nil
}

func (x *execution) advance(ctx context.Context) error {
	x.p.ProcessedCompanies++
	x.sinceCommit++
	if x.sinceCommit >= x.r.opts.CommitEvery {
		return x.commit(ctx)
	}
	return nil
}

// commit persists the counters so pollers see near-real-time progress.
func (x *execution) commit(ctx context.Context) error {
	x.sinceCommit = 0
	if err := x.r.store.UpdateJobProgress(ctx, x.job.ID, x.p); err != nil {
		return eris.Wrap(err, "sizing: commit progress")
	}
	x.p.Apply(x.job)

	if x.r.progress != nil {
		if err := x.r.progress.Publish(ctx, x.job.ID, x.p); err != nil {
			x.log.Warn("sizing: publish progress failed", zap.Error(err))
		}
	}
	return nil
}

func (x *execution) cancelled(ctx context.Context) bool {
	return x.h.Stopped() || ctx.Err() != nil
}

// pollStopSignal copies a stop requested elsewhere onto the local handle.
func (x *execution) pollStopSignal(ctx context.Context) {
	if x.r.stops == nil || x.h.Stopped() {
		return
	}
	ok, err := x.r.stops.Requested(ctx, x.job.ID)
	if err != nil {
		x.log.Warn("sizing: stop signal check failed", zap.Error(err))
		return
	}
	if ok {
		x.log.Info("sizing: stop requested remotely")
		x.h.Stop()
	}
}

// enrich runs the enrichment stage. Nothing it does fails the job.
func (x *execution) enrich(ctx context.Context) {
	if x.r.enricher == nil || x.job.Mode != model.ModeDetailed {
		return
	}

	err := guard(func() error {
		res, err := x.r.enricher.EnrichJob(ctx, x.job)
		x.p.EnrichmentSkipped += res.Skipped
		return err
	})
	if err != nil {
		x.log.Warn("sizing: enrichment failed", zap.Error(err))
	}
}

// finish writes the final counters and, unless the job was stopped, its
// terminal status.
func (x *execution) finish(ctx context.Context, runErr error) error {
	wctx := context.WithoutCancel(ctx)

	if err := x.r.store.UpdateJobProgress(wctx, x.job.ID, x.p); err != nil {
		x.log.Warn("sizing: final progress commit failed", zap.Error(err))
	} else {
		x.p.Apply(x.job)
	}

	if runErr == nil && x.h.Stopped() {
		x.log.Info("sizing: job stopped",
			zap.Int("processed_companies", x.p.ProcessedCompanies),
			zap.Int("actual_credits", x.p.ActualCredits),
		)
		return nil
	}
	if err := ctx.Err(); err != nil {
		runErr = eris.Wrap(err, "sizing: interrupted")
	}

	status, msg := model.JobStatusCompleted, ""
	if runErr != nil {
		status, msg = model.JobStatusFailed, runErr.Error()
	}

	at := x.r.now().UTC()
	ok, err := x.r.store.FinishJob(wctx, x.job.ID, status, msg, at)
	if err != nil {
		return eris.Wrap(err, "sizing: finish job")
	}
	if !ok {
		x.log.Info("sizing: job left running state elsewhere, final status not written", zap.String("status", string(status)))
		return nil
	}
	x.job.Status, x.job.ErrorMessage, x.job.CompletedAt = status, msg, &at

	if runErr != nil {
		x.log.Error("sizing: job failed", zap.Error(runErr))
		return nil
	}
	x.log.Info("sizing: job completed",
		zap.Int("processed_companies", x.p.ProcessedCompanies),
		zap.Int("companies_skipped", x.p.CompaniesSkipped),
		zap.Int("person_counts_skipped", x.p.PersonCountsSkipped),
		zap.Int("actual_credits", x.p.ActualCredits),
	)
	return nil
}
