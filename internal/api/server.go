// Package api serves the market-sizing HTTP API: previews, job submission,
// polling, stop, results, and CSV export.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/charlie-wiebe/market-sizing-tool/internal/filter"
	"github.com/charlie-wiebe/market-sizing-tool/internal/model"
	"github.com/charlie-wiebe/market-sizing-tool/internal/signal"
	"github.com/charlie-wiebe/market-sizing-tool/internal/store"
	"github.com/charlie-wiebe/market-sizing-tool/pkg/prospeo"
)

// JobService creates and stops jobs.
type JobService interface {
	Start(ctx context.Context, job *model.Job) (*model.Job, error)
	Stop(ctx context.Context, jobID string) (*model.Job, error)
}

// Previewer estimates a job without creating it.
type Previewer interface {
	Preview(ctx context.Context, companyFilters filter.Set, personQueries []filter.PersonQuery, sampleSize int) (*model.Preview, error)
}

// Suggester returns canonical filter values from the gateway.
type Suggester interface {
	SearchSuggestions(ctx context.Context, req prospeo.SuggestionRequest) (*prospeo.SuggestionResponse, error)
}

// ProgressReader returns the latest progress published for a job, possibly
// by another process.
type ProgressReader interface {
	Progress(ctx context.Context, jobID string) (*signal.Snapshot, error)
}

// Option configures a Server.
type Option func(*Server)

// WithSuggester enables GET /api/suggestions.
func WithSuggester(s Suggester) Option {
	return func(srv *Server) { srv.suggest = s }
}

// WithProgressReader overlays published progress on running jobs.
func WithProgressReader(p ProgressReader) Option {
	return func(srv *Server) { srv.progress = p }
}

// WithAllowedOrigins sets the CORS origins. The default allows any.
func WithAllowedOrigins(origins []string) Option {
	return func(srv *Server) {
		if len(origins) > 0 {
			srv.origins = origins
		}
	}
}

// WithSampleSize sets the default preview sample size.
func WithSampleSize(n int) Option {
	return func(srv *Server) {
		if n > 0 {
			srv.sampleSize = n
		}
	}
}

// WithDefaultPolicy sets the dedup policy for jobs that do not choose one.
func WithDefaultPolicy(p model.DedupPolicy) Option {
	return func(srv *Server) { srv.defaultPolicy = p }
}

// Server holds the API's dependencies.
type Server struct {
	store     store.Store
	jobs      JobService
	previewer Previewer
	suggest   Suggester
	progress  ProgressReader
	validate  *validator.Validate

	origins       []string
	sampleSize    int
	defaultPolicy model.DedupPolicy
	now           func() time.Time
}

// New creates a Server.
func New(st store.Store, jobs JobService, previewer Previewer, opts ...Option) *Server {
	s := &Server{
		store:         st,
		jobs:          jobs,
		previewer:     previewer,
		validate:      newValidator(),
		origins:       []string{"*"},
		sampleSize:    5,
		defaultPolicy: model.DefaultDedupPolicy(),
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/preview", s.preview)
		r.Get("/suggestions", s.suggestions)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Get("/", s.listJobs)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/stop", s.stopJob)
				r.Get("/results", s.jobResults)
				r.Get("/export", s.exportJob)
			})
		})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Warn("api: health check store ping failed", zap.Error(err))
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
