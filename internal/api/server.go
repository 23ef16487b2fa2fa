// Package api provides the HTTP API server for noticevault.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wesm/noticevault/internal/auth"
	"github.com/wesm/noticevault/internal/config"
	"github.com/wesm/noticevault/internal/notice"
	"github.com/wesm/noticevault/internal/scheduler"
	nsync "github.com/wesm/noticevault/internal/sync"
)

// NoticeReader serves cached notice reads. Failures surface as empty or
// degraded results, never as errors.
type NoticeReader interface {
	Query(ctx context.Context, f notice.Filter) *notice.Page
	NewCounts(ctx context.Context) notice.Counts
	NoticeDates(ctx context.Context, office string) []time.Time
}

// NoticeStore defines the direct store operations the API needs.
type NoticeStore interface {
	GetNotice(ctx context.Context, id int64) (*notice.Notice, error)
	ListFavorites(ctx context.Context, office string) ([]notice.Notice, error)
	ListActiveRecipients(ctx context.Context, offices []string) ([]notice.MailRecipient, error)
	AddMailHistory(ctx context.Context, h *notice.MailHistory) (int64, error)
	RecentMailHistory(ctx context.Context, limit int) ([]notice.MailHistory, error)
	LastSyncAt(ctx context.Context) (time.Time, error)
}

// Mutator applies user edits.
type Mutator interface {
	ToggleFavorite(ctx context.Context, id int64) (bool, error)
	BackfillPhone(ctx context.Context, id int64) (string, error)
	SaveStatusMemo(ctx context.Context, id int64, status, memo string) error
}

// SyncRunner runs manual date-range syncs.
type SyncRunner interface {
	Run(ctx context.Context, start, end time.Time, events chan<- nsync.Event) (*nsync.Summary, error)
	Stop(runID string) bool
	Active() []string
}

// SyncScheduler defines the scheduler operations the API needs.
type SyncScheduler interface {
	Status() scheduler.Status
	IsRunning() bool
}

// Deps are the services behind the API. Scheduler may be nil when the
// server runs without background sync; Gatherer defaults to the
// Prometheus default registry.
type Deps struct {
	Notices   NoticeReader
	Store     NoticeStore
	Mutations Mutator
	Sync      SyncRunner
	Scheduler SyncScheduler
	Gatherer  prometheus.Gatherer
}

// Users attached to API requests.
const (
	localUser  = "local"
	apiKeyUser = "api-key"
)

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	deps        Deps
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)

	r.Use(CORSMiddleware(CORSConfig{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         86400,
	}))

	s.rateLimiter = NewRateLimiter(s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	// Health and metrics (no auth required)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(60 * time.Second))

			r.Get("/notices", s.handleListNotices)
			r.Get("/notices/{id}", s.handleGetNotice)
			r.Post("/notices/{id}/favorite", s.handleToggleFavorite)
			r.Put("/notices/{id}/memo", s.handleSaveMemo)
			r.Post("/notices/{id}/backfill-phone", s.handleBackfillPhone)

			r.Get("/counts", s.handleCounts)
			r.Get("/dates", s.handleDates)
			r.Get("/favorites", s.handleFavorites)

			r.Delete("/sync/{runID}", s.handleStopSync)
			r.Get("/sync/status", s.handleSyncStatus)

			r.Get("/recipients", s.handleRecipients)
			r.Get("/mail-history", s.handleMailHistory)
			r.Post("/mail-history", s.handleAddMailHistory)
		})

		// Streams for the length of the sync, so no request timeout.
		r.Post("/sync", s.handleSync)
	})

	return r
}

// Start begins listening for HTTP requests.
// Returns an error if the security posture is invalid.
func (s *Server) Start() error {
	if err := s.cfg.Server.ValidateSecure(); err != nil {
		return err
	}

	bindAddr := s.cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	addr := net.JoinHostPort(bindAddr, strconv.Itoa(s.cfg.Server.APIPort))

	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication; set [server] api_key in config.toml")
	}

	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware validates the API key and attaches the request user.
// Without a configured key every request acts as the local user.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), auth.User{Name: localUser})))
			return
		}

		key := r.Header.Get("Authorization")
		if key == "" {
			key = r.Header.Get("X-API-Key")
		}
		key = strings.TrimPrefix(key, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.Server.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), auth.User{Name: apiKeyUser})))
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
