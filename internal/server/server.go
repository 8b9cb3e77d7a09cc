package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clearskin/internal/api"
	"clearskin/internal/config"
	"clearskin/internal/logging"
	"clearskin/internal/services/detector"
	"clearskin/internal/workflow"
)

const detectorHealthTTL = 30 * time.Second

// HealthChecker reports analysis service health.
type HealthChecker interface {
	Health(ctx context.Context) (detector.Health, error)
	BaseURL() string
}

// Option customizes the server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithHealthChecker overrides the detector health check.
func WithHealthChecker(checker HealthChecker) Option {
	return func(s *Server) { s.health = checker }
}

// WithGatherer serves metrics from gatherer on /metrics.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = gatherer }
}

// Server is the HTTP API around a scan manager.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	manager  *workflow.Manager
	records  *api.RecordService
	health   HealthChecker
	gatherer prometheus.Gatherer
	cache    *cache.Cache
	router   *mux.Router

	lockPath string
	lock     *flock.Flock

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// New builds the API server. It does not listen until Start.
func New(cfg *config.Config, manager *workflow.Manager, opts ...Option) (*Server, error) {
	if cfg == nil || manager == nil {
		return nil, errors.New("server requires config and scan manager")
	}
	s := &Server{
		cfg:      cfg,
		manager:  manager,
		records:  api.NewRecordService(manager.Store(), manager.Catalog()),
		cache:    cache.New(detectorHealthTTL, 0),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = detector.NewFromConfig(cfg)
	}
	s.logger = logging.NewComponentLogger(s.logger, "api-server")
	s.router = s.routes()
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.Use(s.requestLogger)

	r.HandleFunc("/healthcheck", s.handleHealthcheck).Methods(http.MethodGet)

	auth := authMiddleware(strings.TrimSpace(s.cfg.Paths.APIToken))
	if s.gatherer != nil {
		r.Handle("/metrics", auth(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))).Methods(http.MethodGet)
	}

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.Use(auth)
	apiRouter.HandleFunc("/questions", s.handleQuestions).Methods(http.MethodGet)
	apiRouter.HandleFunc("/detector", s.handleDetector).Methods(http.MethodGet)
	apiRouter.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	apiRouter.HandleFunc("/verify", s.handleVerify).Methods(http.MethodGet)
	apiRouter.HandleFunc("/scans", s.handleListScans).Methods(http.MethodGet)
	apiRouter.HandleFunc("/scans", s.handleCreateScan).Methods(http.MethodPost)
	apiRouter.HandleFunc("/scans/{id}", s.handleGetScan).Methods(http.MethodGet)
	apiRouter.HandleFunc("/scans/{id}/answer", s.handleAnswer).Methods(http.MethodPost)
	apiRouter.HandleFunc("/scans/{id}/advance", s.handleAdvance).Methods(http.MethodPost)
	apiRouter.HandleFunc("/scans/{id}/session", s.handleAbandon).Methods(http.MethodDelete)
	return r
}

// Start acquires the instance lock and begins serving on the configured bind.
func (s *Server) Start(ctx context.Context) error {
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another clearskin server is already using %s", s.cfg.Paths.DataDir)
	}

	listener, err := net.Listen("tcp", s.cfg.Paths.APIBind)
	if err != nil {
		_ = s.lock.Unlock()
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String("lock", s.lockPath),
	)
	return nil
}

// Addr returns the bound listener address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the HTTP server down and releases the instance lock.
func (s *Server) Stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown incomplete", logging.Error(err))
	}
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("failed to release server lock", logging.Error(err))
	}
	s.logger.Info("api server stopped")
}

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", rec.status),
			logging.Elapsed(time.Since(started)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
