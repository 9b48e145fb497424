// Package api provides the HTTP API for the dispatch service.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bloodlift/bloodlift/internal/abuse"
	"github.com/bloodlift/bloodlift/internal/api/handler"
	"github.com/bloodlift/bloodlift/internal/api/middleware"
	"github.com/bloodlift/bloodlift/internal/api/response"
	"github.com/bloodlift/bloodlift/internal/facility"
	"github.com/bloodlift/bloodlift/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger

	// Metrics records HTTP instruments; nil disables them.
	Metrics *middleware.Metrics

	// Gatherer backs /metrics; nil leaves the endpoint unmounted.
	Gatherer prometheus.Gatherer

	Tokens     middleware.TokenValidator
	Dispatcher handler.Dispatcher
	Deliveries handler.DeliveryStore
	Facilities facility.Lookup
	History    handler.HistorySource
	Detector   *abuse.Detector

	Checks       []handler.Check
	Providers    *resilience.Registry
	AutoDispatch handler.AutoDispatchStats

	RequireTLS bool

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing())
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no such resource")
	})

	validator := handler.NewValidator()
	opsHandler := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:      cfg.Version,
		BuildTime:    cfg.BuildTime,
		Checks:       cfg.Checks,
		Providers:    cfg.Providers,
		AutoDispatch: cfg.AutoDispatch,
	})
	dispatchHandler := handler.NewDispatchHandler(cfg.Dispatcher, validator, cfg.Logger)
	deliveryHandler := handler.NewDeliveryHandler(handler.DeliveryHandlerConfig{
		Store:      cfg.Deliveries,
		Facilities: cfg.Facilities,
		Validator:  validator,
		Logger:     cfg.Logger,
		Now:        cfg.Now,
	})
	abuseHandler := handler.NewAbuseHandler(handler.AbuseHandlerConfig{
		History:  cfg.History,
		Detector: cfg.Detector,
		Logger:   cfg.Logger,
		Now:      cfg.Now,
	})

	authMiddleware := middleware.Auth(cfg.Tokens)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			response.NotFound(w, r, "no such resource")
		})

		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(authMiddleware).Get("/status", opsHandler.SystemStatus)
		})

		// Operator endpoints
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RateLimitByOperator(middleware.StandardRateLimit))

			r.Get("/dispatch/queue", dispatchHandler.Queue)
			r.Get("/dispatch/readiness", dispatchHandler.Readiness)
			r.Get("/deliveries/{deliveryId}", deliveryHandler.Get)
			r.Get("/abuse-report", abuseHandler.Report)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireDispatcher)
				r.Use(middleware.RequireJSON)

				r.Post("/deliveries", deliveryHandler.Create)
				r.Post("/dispatch/deliveries/{deliveryId}/cancel", dispatchHandler.Cancel)
				r.With(middleware.RateLimitByOperator(middleware.AssignRateLimit)).
					Post("/dispatch/assign", dispatchHandler.Assign)
			})
		})
	})

	return r
}
