// Package http provides the HTTP server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/jobrunner/geopack/internal/application"
	"github.com/jobrunner/geopack/internal/config"
	"github.com/jobrunner/geopack/internal/logger"
)

// requestIDHeader carries the request id in both directions.
const requestIDHeader = "X-Request-ID"

// Server wraps the HTTP server with application handlers.
type Server struct {
	server       *http.Server
	router       *mux.Router
	queryService *application.QueryService
	registry     *application.PackageRegistry
	health       *application.HealthService
	syncService  *application.SyncService
	logger       *slog.Logger
	config       config.ServerConfig
}

// NewServer creates a new HTTP server. syncService may be nil.
func NewServer(
	cfg config.ServerConfig,
	queryService *application.QueryService,
	registry *application.PackageRegistry,
	health *application.HealthService,
	syncService *application.SyncService,
	logger *slog.Logger,
) *Server {
	s := &Server{
		queryService: queryService,
		registry:     registry,
		health:       health,
		syncService:  syncService,
		logger:       logger,
		config:       cfg,
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Packages
	api.HandleFunc("/packages", s.handleListPackages).Methods(http.MethodGet)
	api.HandleFunc("/packages/{packageId}", s.handleGetPackage).Methods(http.MethodGet)
	api.HandleFunc("/packages/{packageId}/tables", s.handleGetTables).Methods(http.MethodGet)

	// Content
	api.HandleFunc("/features", s.handleSearchFeatures).Methods(http.MethodGet)
	api.HandleFunc("/packages/{packageId}/features/{table}", s.handleQueryFeatures).Methods(http.MethodGet)
	api.HandleFunc("/packages/{packageId}/tiles/{table}/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}", s.handleGetTile).Methods(http.MethodGet)
	api.HandleFunc("/packages/{packageId}/coverage/{table}/value", s.handleCoverageValue).Methods(http.MethodGet)

	// Administration
	api.HandleFunc("/packages/{packageId}/index/{table}", s.handleIndexTable).Methods(http.MethodPost)
	if s.syncService != nil {
		api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	}

	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.config.Address())
	return ignoreClosed(s.server.ListenAndServe())
}

// StartTLS serves HTTPS with certificates from cfg.
func (s *Server) StartTLS(cfg *tls.Config) error {
	s.logger.Info("starting HTTPS server", "address", s.config.Address())
	s.server.TLSConfig = cfg
	return ignoreClosed(s.server.ListenAndServeTLS("", ""))
}

// Use adds middleware that runs after route matching, e.g. metrics.
func (s *Server) Use(mw ...mux.MiddlewareFunc) {
	s.router.Use(mw...)
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// requestIDMiddleware keeps an incoming X-Request-ID or assigns a new one
// and stores it in the request context for log records.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.ErrorContext(r.Context(), "panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
