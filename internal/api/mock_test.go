package api

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/charlie-wiebe/market-sizing-tool/internal/filter"
	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
	"github.com/charlie-wiebe/market-sizing-tool/internal/signal"
	"github.com/charlie-wiebe/market-sizing-tool/pkg/prospeo"
)

type mockJobs struct {
	mock.Mock
}

func (m *mockJobs) Start(ctx context.Context, job *model.Job) (*model.Job, error) {
	args := m.Called(ctx, job)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

func (m *mockJobs) Stop(ctx context.Context, jobID string) (*model.Job, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

type mockPreviewer struct {
	mock.Mock
}

func (m *mockPreviewer) Preview(ctx context.Context, companyFilters filter.Set, personQueries []filter.PersonQuery, sampleSize int) (*model.Preview, error) {
	args := m.Called(ctx, companyFilters, personQueries, sampleSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Preview), args.Error(1)
}

type mockSuggester struct {
	mock.Mock
}

func (m *mockSuggester) SearchSuggestions(ctx context.Context, req prospeo.SuggestionRequest) (*prospeo.SuggestionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*prospeo.SuggestionResponse), args.Error(1)
}

type staticProgress struct {
	snap *signal.Snapshot
	err  error
}

func (p staticProgress) Progress(_ context.Context, jobID string) (*signal.Snapshot, error) {
	if p.snap == nil || p.snap.JobID != jobID {
		return nil, p.err
	}
	return p.snap, p.err
}

func newSnapshot(jobID string, processed int, at time.Time) *signal.Snapshot {
	return &signal.Snapshot{
		JobID:     jobID,
		Progress:  model.Progress{TotalCompanies: 100, ProcessedCompanies: processed},
		UpdatedAt: at,
	}
}
