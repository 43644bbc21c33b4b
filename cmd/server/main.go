package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/casetrack/notify-gateway/internal/api"
	"github.com/casetrack/notify-gateway/internal/audit"
	"github.com/casetrack/notify-gateway/internal/auth"
	"github.com/casetrack/notify-gateway/internal/config"
	"github.com/casetrack/notify-gateway/internal/db"
	"github.com/casetrack/notify-gateway/internal/heartbeat"
	"github.com/casetrack/notify-gateway/internal/metrics"
	"github.com/casetrack/notify-gateway/internal/ratelimiter"
	"github.com/casetrack/notify-gateway/internal/registry"
	"github.com/casetrack/notify-gateway/internal/repository"
	"github.com/casetrack/notify-gateway/internal/security"
	"github.com/casetrack/notify-gateway/internal/service"
	"github.com/casetrack/notify-gateway/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- observability ----
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	sink := audit.NewZapSink(logger, cfg.AuditBuffer, func() {
		m.AuditDropped.Inc()
	})

	// ---- security ----
	sealer, err := security.NewAESSealer(cfg.SealKey)
	if err != nil {
		logger.Fatal("failed to build sealer", zap.Error(err))
	}
	authn := auth.NewHMACAuthenticator(cfg.AuthSecret)

	// ---- repositories ----
	notifications := repository.NewPgNotificationRepository(pool)
	statuses := repository.NewPgDeliveryStatusRepository(pool)
	offline := repository.NewPgOfflineQueueRepository(pool)

	// ---- connection registry ----
	// Every removal, whatever the cause, goes through this hook exactly once,
	// so the gauge and the audit trail stay consistent with the registry.
	reg := registry.New(cfg.MaxConnsPerRecipient, cfg.PushWriteTimeout,
		func(c *registry.Connection, cause registry.RemoveCause) {
			m.ActiveConnections.Dec()
			sink.Record(audit.Event{
				Action:      audit.ActionConnectionClosed,
				RecipientID: c.RecipientID,
				Error:       string(cause),
			})
		})

	limiter := ratelimiter.New(cfg.RateLimitMax, cfg.RateLimitWindow)

	// ---- delivery service ----
	svc := service.NewDeliveryService(
		notifications, statuses, offline,
		limiter, reg, sealer, authn, sink, logger,
		service.Options{
			RetentionTTL:      cfg.RetentionTTL,
			RetentionMax:      cfg.RetentionMaxPerUser,
			EncryptAtPriority: cfg.EncryptAtPriority,
			Hooks: service.Hooks{
				OnDelivered: func(latency time.Duration) {
					m.NotificationsDelivered.Inc()
					m.PushLatency.Observe(latency.Seconds())
				},
				OnQueued:      m.NotificationsQueued.Inc,
				OnFailed:      m.NotificationsFailed.Inc,
				OnRateLimited: m.RateLimited.Inc,
				OnConnected:   m.ActiveConnections.Inc,
			},
		},
	)

	// ---- background workers ----
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	monitor := heartbeat.NewMonitor(reg, cfg.HeartbeatInterval, logger, m.HeartbeatEvictions.Inc)
	go monitor.Run(workerCtx)

	reaper := worker.NewReaper(notifications, offline, limiter,
		cfg.ReaperInterval, cfg.RetentionMaxPerUser, logger)
	go reaper.Run(workerCtx)

	// ---- HTTP server ----
	router := api.NewRouter(svc, reg, offline, promReg,
		cfg.HeartbeatInterval, cfg.SubmitThrottle, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Close the push sockets ourselves; Shutdown does not touch hijacked
	//    connections. Closing the transport ends each read loop.
	reg.ForEach(func(c *registry.Connection) {
		if reg.Unregister(c.RecipientID, c.ID, registry.CauseDisconnect) {
			_ = c.Close()
		}
	})

	// 3. Stop the heartbeat monitor and the reaper.
	cancelWorkers()

	// 4. Flush buffered audit events before the logger goes away.
	sink.Close()

	logger.Info("server stopped cleanly")
}
