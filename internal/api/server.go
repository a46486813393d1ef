// Package api serves the upsell REST surface: the order webhook, backfill
// control, related-product reads, event tracking and analytics reports.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/upsell/internal/analytics"
	"github.com/allaspectsdev/upsell/internal/fbt"
	"github.com/allaspectsdev/upsell/internal/metrics"
	"github.com/allaspectsdev/upsell/internal/orders"
	"github.com/allaspectsdev/upsell/internal/store"
	"github.com/allaspectsdev/upsell/internal/tracing"
)

// OrderStore persists orders received by the webhook.
type OrderStore interface {
	SaveOrder(ctx context.Context, o *orders.Order) error
	GetOrder(ctx context.Context, id int64) (*orders.Order, error)
}

// CounterAdmin inspects and clears the co-purchase counters.
type CounterAdmin interface {
	// Reset clears every counter, the ledger and the backfill state.
	Reset(ctx context.Context) error
	IsProcessed(ctx context.Context, orderID int64) (bool, error)
	Relationships(ctx context.Context, limit, offset int) ([]fbt.PairCount, error)
}

// Deps are the engine components the API drives.
type Deps struct {
	Orders      OrderStore
	Recorder    *fbt.Recorder
	Backfiller  *fbt.Backfiller
	Recommender *fbt.Recommender
	Counters    CounterAdmin

	Registry   *analytics.Registry
	Tracker    *analytics.Tracker
	Aggregator *analytics.Aggregator
	Cleaner    *analytics.Cleaner
	Reporter   *analytics.Reporter

	Metrics *metrics.Collector

	// Health reports whether the store is reachable.
	Health func(ctx context.Context) error

	// StoreStats feeds the table counts of /api/stats when set.
	StoreStats func(ctx context.Context) (*store.Stats, error)
}

// Options configures the HTTP server.
type Options struct {
	Addr string

	// Token enables bearer authentication on /api/* except /api/health.
	Token string

	TLSCertFile string
	TLSKeyFile  string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodySize  int64

	// MetricsPath serves Prometheus metrics when non-empty.
	MetricsPath string

	// DefaultBatchSize is used when a backfill request omits batch_size.
	DefaultBatchSize int

	// ReportDays is the default dashboard window.
	ReportDays int

	// EventsRateLimit limits event tracking per client IP (requests per
	// second) when positive.
	EventsRateLimit float64
	EventsBurst     int

	// CompletedStatuses are the webhook statuses that stamp completed_at.
	// They should match the recorder's. Empty means "completed" only.
	CompletedStatuses []string
}

// Server is the upsell API server.
type Server struct {
	router    chi.Router
	deps      Deps
	opts      Options
	completed orders.StatusSet
	server    *http.Server
	now       func() time.Time
}

// New builds the router. All Deps fields except Metrics and Health are
// required.
func New(deps Deps, opts Options) (*Server, error) {
	if deps.Orders == nil || deps.Recorder == nil || deps.Backfiller == nil || deps.Recommender == nil ||
		deps.Counters == nil || deps.Registry == nil || deps.Tracker == nil || deps.Aggregator == nil ||
		deps.Cleaner == nil || deps.Reporter == nil {
		return nil, errors.New("api: missing engine dependency")
	}
	if opts.DefaultBatchSize <= 0 {
		opts.DefaultBatchSize = 100
	}
	if opts.ReportDays <= 0 {
		opts.ReportDays = 30
	}

	s := &Server{deps: deps, opts: opts, completed: orders.NewStatusSet(opts.CompletedStatuses...), now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(tracing.HTTPMiddleware)
	r.Use(s.observe)
	if opts.MaxBodySize > 0 {
		r.Use(middleware.RequestSize(opts.MaxBodySize))
	}

	r.Get("/api/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if opts.Token != "" {
			r.Use(authMiddleware(opts.Token))
		}

		r.Get("/api/stats", s.handleStats)

		r.Post("/api/orders", s.handleOrderWebhook)
		r.Get("/api/orders/{id}", s.handleGetOrder)

		r.Route("/api/fbt", func(r chi.Router) {
			r.Post("/backfill/start", s.handleBackfillStart)
			r.Post("/backfill/batch", s.handleBackfillBatch)
			r.Get("/backfill/status", s.handleBackfillStatus)
			r.Get("/products/{id}/related", s.handleRelated)
			r.Get("/relationships", s.handleRelationships)
			r.Post("/reset", s.handleReset)
		})

		r.Route("/api/analytics", func(r chi.Router) {
			events := r.With(sessionMiddleware)
			if opts.EventsRateLimit > 0 {
				events = events.With(newClientLimiter(opts.EventsRateLimit, opts.EventsBurst).middleware)
			}
			events.Post("/events", s.handleTrack)
			r.Get("/features", s.handleFeatures)
			r.Get("/dashboard", s.handleDashboard)
			r.Get("/features/{feature}", s.handleFeatureReport)
			r.Post("/aggregate", s.handleAggregate)
			r.Post("/cleanup", s.handleCleanup)
		})
	})

	if opts.MetricsPath != "" && deps.Metrics != nil {
		r.Handle(opts.MetricsPath, deps.Metrics.Handler())
	}

	s.router = r
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address. It blocks until the server is
// shut down or fails.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	log.Info().Str("addr", s.opts.Addr).Bool("tls", s.opts.TLSCertFile != "").
		Bool("auth", s.opts.Token != "").Msg("api server starting")

	var err error
	if s.opts.TLSCertFile != "" {
		err = s.server.ListenAndServeTLS(s.opts.TLSCertFile, s.opts.TLSKeyFile)
	} else {
		err = s.server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			log.Error().Err(err).Msg("api: health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Engine *metrics.Stats `json:"engine"`
	Store  *store.Stats   `json:"store,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Engine: s.deps.Metrics.Stats()}
	if s.deps.StoreStats != nil {
		st, err := s.deps.StoreStats(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.Store = st
	}
	writeJSON(w, http.StatusOK, resp)
}
