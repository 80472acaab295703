package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/charlie-wiebe/market-sizing-tool/internal/filter"
	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
	"github.com/charlie-wiebe/market-sizing-tool/internal/sizing"
	"github.com/charlie-wiebe/market-sizing-tool/internal/store"
	"github.com/charlie-wiebe/market-sizing-tool/pkg/prospeo"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type testServer struct {
	srv       *Server
	store     *store.SQLiteStore
	jobs      *mockJobs
	previewer *mockPreviewer
	handler   http.Handler
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	jobs, pv := &mockJobs{}, &mockPreviewer{}
	srv := New(st, jobs, pv, opts...)
	srv.now = func() time.Time { return fixedNow }
	return &testServer{srv: srv, store: st, jobs: jobs, previewer: pv, handler: srv.Handler()}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ts *testServer) seedJob(t *testing.T, name string, queries ...filter.PersonQuery) *model.Job {
	t.Helper()
	job, err := sizing.NewJob(sizing.JobRequest{
		Name:          name,
		PersonQueries: queries,
		Policy:        model.DefaultDedupPolicy(),
	}, fixedNow)
	require.NoError(t, err)
	require.NoError(t, ts.store.CreateJob(context.Background(), job))
	return job
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestHealth_StoreDown(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.store.Close())

	rec := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decodeBody(t, rec)["status"])
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, WithAllowedOrigins([]string{"https://app.example.com"}))

	req := httptest.NewRequest(http.MethodOptions, "/api/jobs", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreview(t *testing.T) {
	ts := newTestServer(t, WithSampleSize(3))
	want := &model.Preview{CompanyCount: 130, CompanyPages: 7, EstimatedCredits: 266}
	ts.previewer.On("Preview", mock.Anything,
		mock.MatchedBy(func(s filter.Set) bool {
			return s.Location != nil && len(s.Location.Include) == 1 && s.Location.Include[0] == "United States"
		}),
		mock.MatchedBy(func(q []filter.PersonQuery) bool { return len(q) == 1 && q[0].Name == "CTOs" }),
		3,
	).Return(want, nil)

	rec := ts.do(t, http.MethodPost, "/api/preview", `{
		"company_filters": {"company_location_search": {"include": ["United States"]}},
		"person_filters": [{"name": "CTOs", "filters": {"person_job_title": {"include": ["CTO"]}}}]
	}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.EqualValues(t, 130, body["company_count"])
	assert.EqualValues(t, 266, body["estimated_credits"])
	ts.previewer.AssertExpectations(t)
}

func TestPreview_GatewayRejection(t *testing.T) {
	ts := newTestServer(t)
	ts.previewer.On("Preview", mock.Anything, mock.Anything, mock.Anything, 7).
		Return(&model.Preview{Error: true, ErrorCode: "INVALID_FILTERS", Message: "bad location"}, nil)

	rec := ts.do(t, http.MethodPost, "/api/preview", `{"company_filters": {}, "sample_size": 7}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["error"])
	assert.Equal(t, "INVALID_FILTERS", body["error_code"])
}

func TestPreview_Validation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/preview", `{"sample_size": 99}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "validation failed", body["error"])
	assert.Contains(t, body["details"], "sample_size: max=25")

	rec = ts.do(t, http.MethodPost, "/api/preview", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", decodeBody(t, rec)["error"])

	ts.previewer.AssertNotCalled(t, "Preview", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPreview_Failure(t *testing.T) {
	ts := newTestServer(t)
	ts.previewer.On("Preview", mock.Anything, mock.Anything, mock.Anything, 5).
		Return(nil, assert.AnError)

	rec := ts.do(t, http.MethodPost, "/api/preview", `{}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decodeBody(t, rec)["error"])
}

func TestSuggestions(t *testing.T) {
	sg := &mockSuggester{}
	ts := newTestServer(t, WithSuggester(sg))
	sg.On("SearchSuggestions", mock.Anything, prospeo.SuggestionRequest{JobTitle: "cto"}).
		Return(&prospeo.SuggestionResponse{JobTitleSuggestions: []string{"CTO", "Chief Technology Officer"}}, nil)
	sg.On("SearchSuggestions", mock.Anything, prospeo.SuggestionRequest{Location: "zz"}).
		Return(&prospeo.SuggestionResponse{Status: prospeo.Status{Error: true, ErrorCode: "NO_RESULTS"}}, nil)

	rec := ts.do(t, http.MethodGet, "/api/suggestions?job_title=cto", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []any{"CTO", "Chief Technology Officer"}, decodeBody(t, rec)["job_title_suggestions"])

	rec = ts.do(t, http.MethodGet, "/api/suggestions?location=zz", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "NO_RESULTS", decodeBody(t, rec)["error_code"])

	rec = ts.do(t, http.MethodGet, "/api/suggestions", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSuggestions_NotConfigured(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/suggestions?location=paris", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
