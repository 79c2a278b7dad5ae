package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"podship/internal/deploy"
)

const (
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for middleware. Deployments run async, so this
	// only bounds the synchronous handler work.
	RequestTimeout = 60 * time.Second

	// Rate limiting - requests per minute
	GlobalRateLimit = 60
	DeployRateLimit = 4

	// deployLock serializes every mutating deployment operation; the
	// production tree and history file are single unsynchronized
	// resources.
	deployLock = "deploy"
)

// Server exposes the deployment pipeline over HTTP: a deploy trigger, a
// rollback trigger, and read-only status endpoints.
type Server struct {
	Pipeline    *deploy.Pipeline
	Production  *deploy.Production
	LockManager *deploy.LockManager
	Logger      *slog.Logger
	TestMode    bool
	deployWg    sync.WaitGroup // Tracks in-flight async deployments
}

// NewServer creates a new server instance. TestMode disables rate
// limiting so handler tests can hammer the endpoints.
func NewServer(pipeline *deploy.Pipeline, production *deploy.Production, logger *slog.Logger, testMode bool) *Server {
	return &Server{
		Pipeline:    pipeline,
		Production:  production,
		LockManager: deploy.NewLockManager(),
		Logger:      logger,
		TestMode:    testMode,
	}
}

// Router creates and configures the HTTP router.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	// Logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				s.Logger.Info("http_request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration_ms", time.Since(start).Milliseconds())
			}()

			next.ServeHTTP(ww, r)
		})
	})

	if !s.TestMode {
		r.Use(NewRateLimitMiddleware(GlobalRateLimit, s.Logger))
	}

	r.Get("/health", s.HandleHealth)
	r.Get("/history", s.HandleHistory)
	r.Get("/rollback-candidates", s.HandleRollbackCandidates)

	// Mutating routes with a stricter rate limit
	if !s.TestMode {
		limited := r.With(NewDeployRateLimitMiddleware(DeployRateLimit, s.Logger))
		limited.Post("/deploy", s.HandleDeploy)
		limited.Post("/rollback", s.HandleRollback)
	} else {
		r.Post("/deploy", s.HandleDeploy)
		r.Post("/rollback", s.HandleRollback)
	}

	return r
}

// Start starts the HTTP server.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("Starting server", "addr", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	return server.ListenAndServe()
}

// WaitForDeployments waits for all in-flight async deployments to
// complete. Primarily useful for testing.
func (s *Server) WaitForDeployments() {
	s.deployWg.Wait()
}

// Shutdown waits for in-flight deployments to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.deployWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
