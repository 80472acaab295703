package sizing

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
	"github.com/charlie-wiebe/market-sizing-tool/internal/signal"
	"github.com/charlie-wiebe/market-sizing-tool/internal/store"
)

// ErrShuttingDown is returned by Submit after Shutdown began.
var ErrShuttingDown = eris.New("sizing: manager is shutting down")

const queueSize = 256

// Manager runs detailed jobs in the background, at most maxConcurrent at a
// time, one worker per job. It owns the registry of handles for jobs
// queued or running in this process.
type Manager struct {
	runner *Runner
	store  store.Store
	stops  signal.StopSignal

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	queue  chan *Handle
	idle   chan struct{}

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
}

// NewManager creates a manager and starts its dispatcher. stops may be nil.
func NewManager(runner *Runner, st store.Store, stops signal.StopSignal, maxConcurrent int) *Manager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	// A plain group: one job failing must not cancel its siblings.
	g := &errgroup.Group{}
	g.SetLimit(maxConcurrent)

	m := &Manager{
		runner:  runner,
		store:   st,
		stops:   stops,
		ctx:     ctx,
		cancel:  cancel,
		group:   g,
		queue:   make(chan *Handle, queueSize),
		idle:    make(chan struct{}),
		handles: make(map[string]*Handle),
	}
	go m.dispatch()
	return m
}

// dispatch hands queued jobs to the worker group, blocking while every
// slot is busy.
func (m *Manager) dispatch() {
	for h := range m.queue {
		m.group.Go(func() error {
			m.work(h)
			return nil
		})
	}
	_ = m.group.Wait()
	close(m.idle)
}

func (m *Manager) work(h *Handle) {
	defer m.release(h)

	if h.Stopped() {
		h.finish(nil)
		return
	}

	err := m.runner.Run(m.ctx, h)
	if err != nil {
		zap.L().Error("sizing: worker failed", zap.String("job_id", h.JobID()), zap.Error(err))
	}
	h.finish(err)
}

// Start creates job and executes it: quick_tam jobs run to completion
// before Start returns, detailed jobs are queued. The returned job is the
// stored state.
func (m *Manager) Start(ctx context.Context, job *model.Job) (*model.Job, error) {
	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "sizing: create job")
	}

	if job.Mode == model.ModeQuickTAM {
		return m.runner.QuickTAM(ctx, job.ID)
	}
	if _, err := m.Submit(job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

// Submit queues a pending detailed job. Submitting a job that is already
// registered returns its existing handle.
func (m *Manager) Submit(jobID string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrShuttingDown
	}
	if h, ok := m.handles[jobID]; ok {
		return h, nil
	}

	h := NewHandle(jobID)
	select {
	case m.queue <- h:
	default:
		return nil, eris.Errorf("sizing: job queue full (%d)", queueSize)
	}
	m.handles[jobID] = h
	zap.L().Info("sizing: job queued", zap.String("job_id", jobID))
	return h, nil
}

// Get returns the handle of a job queued or running in this process.
func (m *Manager) Get(jobID string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[jobID]
	return h, ok
}

// IsRunning reports whether this process owns jobID.
func (m *Manager) IsRunning(jobID string) bool {
	_, ok := m.Get(jobID)
	return ok
}

// Running lists the registered job IDs.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop is the stop routine: it flags the local worker, forwards the request
// to other processes, and marks the job stopped. Stopping a job that is
// already terminal returns ErrJobNotRunning with the stored job.
func (m *Manager) Stop(ctx context.Context, jobID string) (*model.Job, error) {
	m.mu.Lock()
	h, ok := m.handles[jobID]
	if ok {
		delete(m.handles, jobID)
	}
	m.mu.Unlock()

	if ok {
		h.Stop()
	}
	if m.stops != nil {
		if err := m.stops.Request(ctx, jobID); err != nil {
			zap.L().Warn("sizing: remote stop request failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}

	changed, err := m.store.MarkStopped(ctx, jobID, m.runner.now().UTC())
	if err != nil {
		return nil, eris.Wrap(err, "sizing: mark stopped")
	}
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "sizing: load stopped job")
	}
	if !changed {
		return job, eris.Wrapf(ErrJobNotRunning, "sizing: job %s is %s", jobID, job.Status)
	}

	zap.L().Info("sizing: job stopped", zap.String("job_id", jobID), zap.Bool("local", ok))
	return job, nil
}

// Resume queues every pending detailed job, for jobs accepted before a
// restart.
func (m *Manager) Resume(ctx context.Context) (int, error) {
	jobs, err := m.store.ListJobs(ctx, model.JobFilter{Status: model.JobStatusPending})
	if err != nil {
		return 0, eris.Wrap(err, "sizing: list pending jobs")
	}

	n := 0
	for _, j := range jobs {
		if j.Mode != model.ModeDetailed {
			continue
		}
		if _, err := m.Submit(j.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Shutdown stops accepting jobs and waits for queued and running ones. When
// ctx ends first, running jobs are interrupted and recorded as failed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()

	select {
	case <-m.idle:
		m.cancel()
		return nil
	case <-ctx.Done():
	}

	zap.L().Warn("sizing: shutdown deadline reached, interrupting jobs", zap.Strings("job_ids", m.Running()))
	m.cancel()
	<-m.idle
	return eris.Wrap(ctx.Err(), "sizing: shutdown")
}

func (m *Manager) release(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.handles[h.JobID()]; ok && cur == h {
		delete(m.handles, h.JobID())
	}
}
