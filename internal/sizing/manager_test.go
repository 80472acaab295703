package sizing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie-wiebe/market-sizing-tool/internal/filter"
	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
	"github.com/charlie-wiebe/market-sizing-tool/internal/store"
)

func waitStatus(t *testing.T, st store.Store, id string, want model.JobStatus) *model.Job {
	t.Helper()
	var got *model.Job
	require.Eventually(t, func() bool {
		j, err := st.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		got = j
		return j.Status == want
	}, 10*time.Second, 10*time.Millisecond)
	return got
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("job %s did not finish", h.JobID())
	}
}

func newJob(t *testing.T, req JobRequest) *model.Job {
	t.Helper()
	if req.Policy == (model.DedupPolicy{}) {
		req.Policy = model.DefaultDedupPolicy()
	}
	job, err := NewJob(req, time.Now())
	require.NoError(t, err)
	return job
}

func newTestManager(t *testing.T, gw *fakeGateway, maxConcurrent int) (*Manager, store.Store) {
	t.Helper()
	st := newTestStore(t)
	m := NewManager(NewRunner(st, gw, DefaultOptions()), st, nil, maxConcurrent)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, st
}

func TestManager_StartDetailed(t *testing.T) {
	gw := newFakeGateway()
	gw.counts["|"] = 2
	gw.rows["|"] = companyRows("acme", 2)
	m, st := newTestManager(t, gw, 2)
	ctx := context.Background()

	job, err := m.Start(ctx, newJob(t, JobRequest{Name: "bg"}))
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)

	got := waitStatus(t, st, job.ID, model.JobStatusCompleted)
	assert.Equal(t, 2, got.ProcessedCompanies)

	assert.Eventually(t, func() bool { return !m.IsRunning(job.ID) }, time.Second, 10*time.Millisecond)
}

func TestManager_StartQuickTAMIsSynchronous(t *testing.T) {
	gw := newFakeGateway()
	gw.counts["|"] = 50
	gw.people["title:CTO"] = 40
	m, _ := newTestManager(t, gw, 1)

	job, err := m.Start(context.Background(), newJob(t, JobRequest{
		Name:          "quick",
		Mode:          model.ModeQuickTAM,
		PersonQueries: []filter.PersonQuery{titleQuery("CTOs", "CTO")},
	}))
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, map[string]int{"CTOs": 40}, job.AggregateResults)
	assert.False(t, m.IsRunning(job.ID))
}

func TestManager_StopRunningJob(t *testing.T) {
	gw := newFakeGateway()
	gw.counts["|"] = 100
	gw.rows["|"] = companyRows("acme", 2)
	reached, release := make(chan struct{}), make(chan struct{})
	gw.onPage = func(_ context.Context, _ string, page int) {
		if page == 2 {
			close(reached)
			<-release
		}
	}
	m, st := newTestManager(t, gw, 1)
	ctx := context.Background()

	job, err := m.Start(ctx, newJob(t, JobRequest{Name: "stop me"}))
	require.NoError(t, err)
	h, ok := m.Get(job.ID)
	require.True(t, ok)
	<-reached

	stopped, err := m.Stop(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusStopped, stopped.Status)
	assert.NotNil(t, stopped.CompletedAt)
	assert.False(t, m.IsRunning(job.ID))

	close(release)
	waitDone(t, h)
	require.NoError(t, h.Err())
	assert.Equal(t, 3, gw.calls("|"), "no page after the stop")

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusStopped, got.Status)
	assert.Equal(t, 2, got.ProcessedCompanies)
}

func TestManager_StopFinishedJob(t *testing.T) {
	gw := newFakeGateway()
	gw.counts["|"] = 1
	m, st := newTestManager(t, gw, 1)
	ctx := context.Background()

	job, err := m.Start(ctx, newJob(t, JobRequest{Name: "done"}))
	require.NoError(t, err)
	waitStatus(t, st, job.ID, model.JobStatusCompleted)

	got, err := m.Stop(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotRunning)
	require.NotNil(t, got)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
}

func TestManager_StopUnknownJob(t *testing.T) {
	m, _ := newTestManager(t, newFakeGateway(), 1)

	_, err := m.Stop(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_LimitsConcurrency(t *testing.T) {
	gw := newFakeGateway()
	gw.counts["|"] = 60
	release := make(chan struct{})
	gw.onPage = func(_ context.Context, _ string, page int) {
		if page == 2 {
			<-release
		}
	}
	m, st := newTestManager(t, gw, 1)
	ctx := context.Background()

	first, err := m.Start(ctx, newJob(t, JobRequest{Name: "first"}))
	require.NoError(t, err)
	second, err := m.Start(ctx, newJob(t, JobRequest{Name: "second"}))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := st.GetJob(ctx, first.ID)
		return err == nil && j.Status == model.JobStatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	got, err := st.GetJob(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, m.Running())

	h2, ok := m.Get(second.ID)
	require.True(t, ok)
	close(release)
	waitDone(t, h2)

	got, err = st.GetJob(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
}

func TestManager_ShutdownWaitsForJobs(t *testing.T) {
	gw := newFakeGateway()
	gw.counts["|"] = 1
	m, st := newTestManager(t, gw, 1)
	ctx := context.Background()

	job, err := m.Start(ctx, newJob(t, JobRequest{Name: "drain"}))
	require.NoError(t, err)
	require.NoError(t, m.Shutdown(ctx))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)

	_, err = m.Submit("late")
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestManager_ShutdownDeadlineInterruptsJobs(t *testing.T) {
	gw := newFakeGateway()
	gw.counts["|"] = 100
	reached := make(chan struct{})
	gw.onPage = func(ctx context.Context, _ string, page int) {
		if page == 2 {
			close(reached)
			<-ctx.Done()
		}
	}
	m, st := newTestManager(t, gw, 1)
	ctx := context.Background()

	job, err := m.Start(ctx, newJob(t, JobRequest{Name: "interrupted"}))
	require.NoError(t, err)
	<-reached

	sctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Shutdown(sctx), context.DeadlineExceeded)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "interrupted")
}

func TestManager_Resume(t *testing.T) {
	gw := newFakeGateway()
	gw.counts["|"] = 1
	m, st := newTestManager(t, gw, 2)
	ctx := context.Background()

	detailed := createJob(t, st, JobRequest{Name: "pending"})
	createJob(t, st, JobRequest{Name: "quick", Mode: model.ModeQuickTAM})

	n, err := m.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	waitStatus(t, st, detailed.ID, model.JobStatusCompleted)
}

func TestManager_SubmitIsIdempotent(t *testing.T) {
	gw := newFakeGateway()
	gw.counts["|"] = 60
	release := make(chan struct{})
	gw.onPage = func(_ context.Context, _ string, page int) {
		if page == 2 {
			<-release
		}
	}
	m, st := newTestManager(t, gw, 1)

	job := createJob(t, st, JobRequest{Name: "once"})
	h1, err := m.Submit(job.ID)
	require.NoError(t, err)
	h2, err := m.Submit(job.ID)
	require.NoError(t, err)
	assert.Same(t, h1, h2)

	close(release)
	waitDone(t, h1)
}
