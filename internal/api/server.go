// Package api exposes the query fleet over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/rpattn/fleetquery/internal/domain"
	"github.com/rpattn/fleetquery/internal/export"
	"github.com/rpattn/fleetquery/internal/logstream"
	"github.com/rpattn/fleetquery/internal/metrics"
	"github.com/rpattn/fleetquery/internal/middleware"
	"github.com/rpattn/fleetquery/internal/orchestrator"
	"github.com/rpattn/fleetquery/internal/reports"
	"github.com/rpattn/fleetquery/internal/repository"
	"github.com/rpattn/fleetquery/internal/templates"
)

// QueryService plans, runs and tracks ad-hoc queries.
type QueryService interface {
	PlanQuery(req domain.QueryRequest) (orchestrator.Plan, error)
	PlanMulti(req domain.MultiServerQueryRequest) (orchestrator.Plan, error)
	Execute(ctx context.Context, plan orchestrator.Plan) (domain.QueryResponse, error)
	Submit(plan orchestrator.Plan) (string, error)
	Cancel(id string) bool
	CancelAll() int
	Running() []string
	Status(id string) (domain.ExecutionStatus, bool)
	Result(id string) (domain.QueryResponse, bool)
}

// ReportService runs catalog reports.
type ReportService interface {
	List() []templates.ReportDefinition
	Run(ctx context.Context, req reports.Request) (reports.Report, error)
	Submit(req reports.Request) (string, error)
}

// LogSource serves the progress log of a request.
type LogSource interface {
	Logs(requestID string) []string
	Subscribe(requestID string) ([]logstream.Entry, <-chan logstream.Entry, func())
}

// Deps are the collaborators behind the HTTP surface. Uploader, History and
// Metrics are optional.
type Deps struct {
	Queries  QueryService
	Reports  ReportService
	Logs     LogSource
	Exporter *export.Service
	Uploader reports.Uploader
	History  repository.ExecutionHistoryRepository
	Metrics  *metrics.Metrics
	Fleet    []domain.ServerDescriptor
}

type Server struct {
	deps      Deps
	origins   []string
	rateLimit middleware.RateLimitConfig
	upgrader  websocket.Upgrader
	pollEvery time.Duration
	started   time.Time
}

type Option func(*Server)

func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

func WithRateLimit(cfg middleware.RateLimitConfig) Option {
	return func(s *Server) {
		s.rateLimit = cfg
	}
}

// WithStatusPoll sets how often a live log stream checks whether its
// request has finished.
func WithStatusPoll(interval time.Duration) Option {
	return func(s *Server) {
		if interval > 0 {
			s.pollEvery = interval
		}
	}
}

func NewServer(deps Deps, opts ...Option) *Server {
	s := &Server{
		deps:      deps,
		origins:   []string{"http://localhost:3000"},
		pollEvery: time.Second,
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.allowedOrigin,
	}
	return s
}

// Routes builds the router with CORS, logging and rate limiting applied.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.LoggingMiddleware(s.deps.Metrics))

	r.Get("/metrics", s.deps.Metrics.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimiter(s.rateLimit))

		r.Get("/status", s.handleHealth)
		r.Get("/servers", s.handleServers)
		r.Get("/reports", s.handleListReports)
		r.Post("/reports/run", s.handleRunReport)
		r.Get("/history", s.handleHistory)
		r.Get("/history/{id}", s.handleHistoryEntry)

		r.Route("/query", func(r chi.Router) {
			r.Post("/", s.handleExecute)
			r.Post("/multi", s.handleExecuteMulti)
			r.Post("/cancel-all", s.handleCancelAll)
			r.Get("/running", s.handleRunning)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/status", s.handleStatus)
				r.Get("/result", s.handleResult)
				r.Get("/logs", s.handleLogs)
				r.Get("/logs/stream", s.handleLogStream)
				r.Post("/cancel", s.handleCancel)
				r.Method(http.MethodGet, "/export", export.NewHTTPHandler(s.deps.Exporter))
				r.Post("/upload", s.handleUpload)
			})
		})
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition"},
	})
	return corsHandler.Handler(r)
}

func (s *Server) allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
