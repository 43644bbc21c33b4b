package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/casetrack/notify-gateway/internal/ratelimiter"
	"github.com/casetrack/notify-gateway/internal/repository"
)

// purgeBatch bounds each delete pass so a large expiry backlog cannot hold
// row locks for long stretches.
const purgeBatch = 500

// Reaper is the background retention worker: it purges TTL-expired
// notifications and offline-queue entries, sweeps recipients that drifted
// over the retention cap while offline, and prunes idle rate-limit windows.
type Reaper struct {
	notifications repository.NotificationRepository
	offline       repository.OfflineQueueRepository
	limiter       *ratelimiter.RecipientLimiter
	interval      time.Duration
	retentionMax  int
	logger        *zap.Logger
}

func NewReaper(
	notifications repository.NotificationRepository,
	offline repository.OfflineQueueRepository,
	limiter *ratelimiter.RecipientLimiter,
	interval time.Duration,
	retentionMax int,
	logger *zap.Logger,
) *Reaper {
	return &Reaper{
		notifications: notifications,
		offline:       offline,
		limiter:       limiter,
		interval:      interval,
		retentionMax:  retentionMax,
		logger:        logger,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
// Errors are logged and the next tick retries; a failed sweep never stops
// the worker.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", zap.Duration("interval", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopping")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one full retention pass.
func (r *Reaper) Sweep(ctx context.Context) {
	if purged, err := r.notifications.PurgeExpired(ctx, purgeBatch); err != nil {
		r.logger.Error("purge expired notifications", zap.Error(err))
	} else if purged > 0 {
		r.logger.Info("purged expired notifications", zap.Int("count", purged))
	}

	if purged, err := r.offline.PurgeExpired(ctx, purgeBatch); err != nil {
		r.logger.Error("purge expired queue entries", zap.Error(err))
	} else if purged > 0 {
		r.logger.Info("purged expired queue entries", zap.Int("count", purged))
	}

	recipients, err := r.notifications.OverCapRecipients(ctx, r.retentionMax)
	if err != nil {
		r.logger.Error("find over-cap recipients", zap.Error(err))
	}
	for _, recipientID := range recipients {
		evicted, err := r.notifications.EnforceRetention(ctx, recipientID, r.retentionMax)
		if err != nil {
			r.logger.Error("enforce retention",
				zap.String("recipient_id", recipientID), zap.Error(err))
			continue
		}
		if evicted > 0 {
			r.logger.Info("evicted oldest notifications",
				zap.String("recipient_id", recipientID), zap.Int("count", evicted))
		}
	}

	r.limiter.Prune()
}
