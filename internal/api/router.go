package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/casetrack/notify-gateway/internal/api/handler"
	apimw "github.com/casetrack/notify-gateway/internal/api/middleware"
	"github.com/casetrack/notify-gateway/internal/registry"
	"github.com/casetrack/notify-gateway/internal/repository"
	"github.com/casetrack/notify-gateway/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc *service.DeliveryService,
	reg *registry.Registry,
	offline repository.OfflineQueueRepository,
	gatherer prometheus.Gatherer,
	heartbeatInterval time.Duration,
	submitRPS int,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	nh := handler.NewNotificationHandler(svc, logger)
	sh := handler.NewStatsHandler(reg, offline)
	wh := handler.NewWSHandler(svc, heartbeatInterval, logger)
	hh := handler.NewHealthHandler()

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Push transport endpoint; authentication happens inside the pipeline.
	r.Get("/ws", wh.Connect)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(apimw.Throttle(submitRPS)).Post("/notifications", nh.Submit)
		r.Get("/notifications/{id}", nh.GetByID)
		r.Get("/notifications/{id}/status", nh.Status)
		r.Post("/notifications/{id}/read", nh.MarkRead)

		r.Get("/recipients/{id}/notifications", nh.ListUnread)

		r.Get("/stats", sh.GetStats)
	})

	return r
}
