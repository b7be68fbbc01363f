// Package api serves investigations and correlation results over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/health"
	"github.com/yairfalse/sift/pkg/intelligence/correlation"
	"github.com/yairfalse/sift/pkg/intelligence/service"
	"github.com/yairfalse/sift/pkg/intelligence/storage"
)

// Backend is the investigation workflow the API exposes.
// *service.Service implements it.
type Backend interface {
	CreateInvestigation(ctx context.Context, inv domain.Investigation) (*domain.Investigation, error)
	GetInvestigation(ctx context.Context, id domain.InvestigationID) (*domain.Investigation, error)
	ListInvestigations(ctx context.Context) ([]domain.Investigation, error)
	DeleteInvestigation(ctx context.Context, id domain.InvestigationID) error
	AddEvents(ctx context.Context, id domain.InvestigationID, events []domain.ForensicEvent) (int, error)
	AddItems(ctx context.Context, id domain.InvestigationID, items []domain.OSINTItem) (int, error)
	Correlate(ctx context.Context, id domain.InvestigationID) (*correlation.Result, error)
	Correlations(ctx context.Context, id domain.InvestigationID, minStrength float64, limit int) ([]domain.Correlation, error)
	Report(ctx context.Context, id domain.InvestigationID) (*correlation.Report, error)
	Timeline(ctx context.Context, id domain.InvestigationID) ([]correlation.TimelineEntry, error)
	Patterns(ctx context.Context, id domain.InvestigationID) (*correlation.Patterns, error)
	Statistics(ctx context.Context, id domain.InvestigationID) (*storage.Statistics, error)
	Export(ctx context.Context, id domain.InvestigationID) (*service.Export, error)
	Summarize(ctx context.Context, id domain.InvestigationID, notes string) (string, error)
	Insights(ctx context.Context, id domain.InvestigationID) (string, error)
}

var _ Backend = (*service.Service)(nil)

// Config holds API server configuration
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	AllowedOrigins  []string
	Version         string
}

// DefaultConfig returns default API configuration
func DefaultConfig() Config {
	return Config{
		Address:         ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		MaxBodyBytes:    32 << 20,
		Version:         "dev",
	}
}

// Server provides the HTTP API
type Server struct {
	router  *mux.Router
	backend Backend
	metrics *Metrics
	tracer  trace.Tracer
	logger  *zap.Logger
	config  Config
	health  *health.Registry
}

// Option configures optional server dependencies
type Option func(*Server)

// WithHealth reports component checks on the health endpoint
func WithHealth(registry *health.Registry) Option {
	return func(s *Server) {
		s.health = registry
	}
}

// NewServer creates a new API server
func NewServer(backend Backend, metrics *Metrics, logger *zap.Logger, config Config, opts ...Option) (*Server, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	s := &Server{
		router:  mux.NewRouter(),
		backend: backend,
		metrics: metrics,
		tracer:  otel.Tracer("sift.api"),
		logger:  logger,
		config:  config,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	s.setupMiddleware()
	return s, nil
}

func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1.HandleFunc("/investigations", s.handleCreateInvestigation).Methods(http.MethodPost)
	v1.HandleFunc("/investigations", s.handleListInvestigations).Methods(http.MethodGet)
	v1.HandleFunc("/investigations/{id}", s.handleGetInvestigation).Methods(http.MethodGet)
	v1.HandleFunc("/investigations/{id}", s.handleDeleteInvestigation).Methods(http.MethodDelete)

	v1.HandleFunc("/investigations/{id}/events", s.handleAddEvents).Methods(http.MethodPost)
	v1.HandleFunc("/investigations/{id}/items", s.handleAddItems).Methods(http.MethodPost)

	v1.HandleFunc("/investigations/{id}/correlate", s.handleCorrelate).Methods(http.MethodPost)
	v1.HandleFunc("/investigations/{id}/correlations", s.handleListCorrelations).Methods(http.MethodGet)

	v1.HandleFunc("/investigations/{id}/report", s.handleReport).Methods(http.MethodGet)
	v1.HandleFunc("/investigations/{id}/timeline", s.handleTimeline).Methods(http.MethodGet)
	v1.HandleFunc("/investigations/{id}/patterns", s.handlePatterns).Methods(http.MethodGet)
	v1.HandleFunc("/investigations/{id}/export", s.handleExport).Methods(http.MethodGet)
	v1.HandleFunc("/investigations/{id}/statistics", s.handleStatistics).Methods(http.MethodGet)
	v1.HandleFunc("/investigations/{id}/summary", s.handleSummary).Methods(http.MethodGet)
	v1.HandleFunc("/investigations/{id}/insights", s.handleInsights).Methods(http.MethodGet)

	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.metrics.middleware)
	s.router.Use(s.limitRequestSize)
	s.router.Use(s.tracingMiddleware)
	s.router.Use(s.loggingMiddleware)
	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(s.corsMiddleware)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server",
		zap.String("addr", ln.Addr().String()),
		zap.Strings("cors_origins", s.config.AllowedOrigins))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down API server")
		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// badRequest marks errors caused by the request itself
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

// handleError maps service errors onto status codes. Internal error
// details are logged, not returned.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var br badRequest
	var maxBytes *http.MaxBytesError
	status := http.StatusInternalServerError
	message := "internal server error"

	switch {
	case errors.Is(err, storage.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, storage.ErrAlreadyExists), errors.Is(err, service.ErrNoCorrelations):
		status, message = http.StatusConflict, err.Error()
	case errors.As(err, &maxBytes):
		status, message = http.StatusRequestEntityTooLarge, err.Error()
	case errors.As(err, &br), errors.Is(err, service.ErrInvalidInput), correlation.IsConfigError(err):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrSummaryUnavailable):
		status, message = http.StatusServiceUnavailable, err.Error()
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method))
		trace.SpanFromContext(r.Context()).RecordError(err)
	}
	s.respondError(w, status, message)
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Panic in handler",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path))
				s.respondError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitRequestSize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.MaxBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.Method + " " + r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				name = r.Method + " " + tpl
			}
		}
		ctx, span := s.tracer.Start(r.Context(), name, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		if id := mux.Vars(r)["id"]; id != "" {
			span.SetAttributes(attribute.String("investigation.id", id))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (slices.Contains(s.config.AllowedOrigins, "*") || slices.Contains(s.config.AllowedOrigins, origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Add("Vary", "Origin")
		}
		next.ServeHTTP(w, r)
	})
}
