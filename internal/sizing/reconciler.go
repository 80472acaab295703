package sizing

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
	"github.com/charlie-wiebe/market-sizing-tool/internal/store"
)

// Registry reports which jobs this process is executing.
type Registry interface {
	IsRunning(jobID string) bool
}

// Reconciler periodically fails running jobs that no worker owns, such as
// jobs orphaned by a crash. A job counts as orphaned when it is absent
// from the registry and its progress has not moved for staleAfter.
type Reconciler struct {
	store      store.Store
	registry   Registry
	staleAfter time.Duration
	cron       *cron.Cron
	now        func() time.Time
}

// NewReconciler creates a reconciler. It does nothing until Start.
func NewReconciler(st store.Store, registry Registry, staleAfter time.Duration) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &Reconciler{
		store:      st,
		registry:   registry,
		staleAfter: staleAfter,
		cron: cron.New(
			cron.WithLogger(cronLogger{zap.L().Sugar()}),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{zap.L().Sugar()})),
		),
		now: time.Now,
	}
}

// Start runs one pass, then schedules Reconcile on spec (e.g. "@every 5m").
func (rc *Reconciler) Start(ctx context.Context, spec string) error {
	if _, err := rc.cron.AddFunc(spec, func() { rc.tick(ctx) }); err != nil {
		return eris.Wrapf(err, "sizing: schedule reconciler %q", spec)
	}
	rc.tick(ctx)
	rc.cron.Start()
	zap.L().Info("sizing: reconciler started", zap.String("spec", spec), zap.Duration("stale_after", rc.staleAfter))
	return nil
}

// Stop halts the schedule and waits for a pass in progress.
func (rc *Reconciler) Stop() {
	<-rc.cron.Stop().Done()
	zap.L().Info("sizing: reconciler stopped")
}

func (rc *Reconciler) tick(ctx context.Context) {
	n, err := rc.Reconcile(ctx)
	if err != nil {
		zap.L().Error("sizing: reconcile failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Warn("sizing: orphaned jobs failed", zap.Int("count", n))
	}
}

// Reconcile runs one pass and returns how many jobs it failed.
func (rc *Reconciler) Reconcile(ctx context.Context) (int, error) {
	now := rc.now().UTC()
	jobs, err := rc.store.ListStaleRunningJobs(ctx, now.Add(-rc.staleAfter))
	if err != nil {
		return 0, eris.Wrap(err, "sizing: list stale jobs")
	}

	n := 0
	for _, j := range jobs {
		if rc.registry != nil && rc.registry.IsRunning(j.ID) {
			continue
		}
		ok, err := rc.store.FinishJob(ctx, j.ID, model.JobStatusFailed, "sizing: interrupted: no worker owns this job", now)
		if err != nil {
			return n, eris.Wrapf(err, "sizing: fail orphaned job %s", j.ID)
		}
		if ok {
			zap.L().Warn("sizing: orphaned job marked failed", zap.String("job_id", j.ID), zap.Time("updated_at", j.UpdatedAt))
			n++
		}
	}
	return n, nil
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
