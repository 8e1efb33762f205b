// Package server exposes the generation pipeline over HTTP: uploads come in
// as multipart jobs, run asynchronously against the job store, and the
// resulting artifacts and map payload are served back per job.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/zipatlas/internal/boundary"
	"github.com/sells-group/zipatlas/internal/resilience"
	"github.com/sells-group/zipatlas/internal/store"
)

// Options configures the HTTP server.
type Options struct {
	// DataDir is the root for uploaded inputs and per-job artifact dirs.
	DataDir string

	// SampleK is the fallback group sample size for jobs that do not set one.
	SampleK int

	// Parallelism bounds the dissolve workers per job.
	Parallelism int

	// Breaker tunes the circuit breaker around the boundary provider.
	// Zero values take the defaults.
	Breaker resilience.CircuitBreakerConfig

	// AllowedOrigins for CORS. Empty means any origin.
	AllowedOrigins []string
}

// Server routes generation jobs between HTTP clients, the job store, and the
// boundary provider.
type Server struct {
	store    store.Store
	provider boundary.Provider
	breaker  *resilience.CircuitBreaker
	opts     Options
	log      *zap.Logger

	// baseCtx governs async job runs; set by Start, defaults to Background.
	baseCtx context.Context
}

// New creates a Server. The provider is wrapped in a circuit breaker so a
// dead boundary backend rejects new jobs quickly instead of timing out each
// one.
func New(st store.Store, provider boundary.Provider, opts Options) *Server {
	s := &Server{
		store:   st,
		breaker: resilience.NewCircuitBreaker(opts.Breaker),
		opts:    opts,
		log:     zap.L().With(zap.String("component", "server")),
	}
	if provider != nil {
		s.provider = &guardedProvider{inner: provider, breaker: s.breaker}
	}
	return s
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(s.requestLogger())
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/generate", s.handleGenerate)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Get("/jobs/{jobID}/files/{name}", s.handleJobFile)
		r.Get("/jobs/{jobID}/map", s.handleJobMap)
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port int) error {
	s.baseCtx = ctx

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx) //nolint:errcheck
	}()

	s.log.Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) runContext() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

func (s *Server) jobDir(jobID string) string {
	return filepath.Join(s.opts.DataDir, "jobs", jobID)
}

func (s *Server) requestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			s.log.Info("http request",
				zap.String("request_id", chimw.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

// guardedProvider routes boundary lookups through the circuit breaker.
type guardedProvider struct {
	inner   boundary.Provider
	breaker *resilience.CircuitBreaker
}

func (p *guardedProvider) Lookup(ctx context.Context, codes []string) (map[string]*geom.MultiPolygon, error) {
	return resilience.ExecuteVal(ctx, p.breaker, func(ctx context.Context) (map[string]*geom.MultiPolygon, error) {
		return p.inner.Lookup(ctx, codes)
	})
}
