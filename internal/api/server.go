// Package api exposes the HTTP surface: job submission, job status,
// per-job progress streams, health, and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kausalhq/kausal/internal/job"
	"github.com/kausalhq/kausal/internal/logging"
	"github.com/kausalhq/kausal/internal/progress"
	"github.com/kausalhq/kausal/internal/review"
	"github.com/kausalhq/kausal/internal/scan"
	"github.com/kausalhq/kausal/internal/worker"
)

// Submitter enqueues investigation jobs. Implemented by
// worker.Submitter.
type Submitter interface {
	Submit(ctx context.Context, req worker.SubmitRequest) (*job.Job, error)
}

// ServiceMapper resolves a workspace's service→repositories mapping.
// Implemented by scan.Scanner.
type ServiceMapper interface {
	ServiceMapping(ctx context.Context, workspaceID string, repos []string) (scan.Mapping, error)
}

// ScheduleStore manages periodic service review schedules. Implemented
// by review.MemoryStore.
type ScheduleStore interface {
	AddSchedule(ctx context.Context, s review.Schedule) error
	ListSchedules(ctx context.Context) ([]review.Schedule, error)
}

// Config configures the Server.
type Config struct {
	Port      int
	Submitter Submitter
	Jobs      job.Store

	// Hub streams per-job progress updates over SSE. Optional.
	Hub *progress.SSEHub

	// Metrics is the registry served at /metrics. Optional.
	Metrics prometheus.Gatherer

	// Scanner serves the workspace service mapping endpoint. Optional;
	// requires a configured code host.
	Scanner ServiceMapper

	// Reviews serves the review schedule endpoints. Optional.
	Reviews ScheduleStore
}

// Server is the HTTP API server. It implements lifecycle.Component.
type Server struct {
	cfg    Config
	server *http.Server
	router *http.ServeMux
	logger *logging.Logger
}

// New creates the API server.
func New(cfg Config) (*Server, error) {
	if cfg.Submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}

	s := &Server{
		cfg:    cfg,
		router: http.NewServeMux(),
		logger: logging.GetLogger("api"),
	}
	s.registerHandlers()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.corsMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) registerHandlers() {
	s.router.HandleFunc("POST /v1/jobs", s.handleSubmit)
	s.router.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.router.HandleFunc("/health", s.handleHealth)

	if s.cfg.Scanner != nil {
		s.router.HandleFunc("GET /v1/workspaces/{id}/services", s.handleServiceMapping)
	}
	if s.cfg.Reviews != nil {
		s.router.HandleFunc("POST /v1/reviews", s.handleCreateReview)
		s.router.HandleFunc("GET /v1/reviews", s.handleListReviews)
	}
	if s.cfg.Hub != nil {
		s.router.Handle("GET /v1/events", s.cfg.Hub)
	}
	if s.cfg.Metrics != nil {
		s.router.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Metrics, promhttp.HandlerOpts{}))
	}
}

// Start implements lifecycle.Component. It returns once the listener
// is accepting connections.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-time.After(100 * time.Millisecond):
		s.logger.Info("api server listening on %s", s.server.Addr)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop implements lifecycle.Component.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Name implements lifecycle.Component.
func (s *Server) Name() string { return "api-server" }

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
