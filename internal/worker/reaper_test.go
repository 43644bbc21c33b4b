package worker_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/casetrack/notify-gateway/internal/domain"
	"github.com/casetrack/notify-gateway/internal/ratelimiter"
	"github.com/casetrack/notify-gateway/internal/repository"
	"github.com/casetrack/notify-gateway/internal/worker"
)

func TestSweep_PurgesExpiredAndEnforcesCap(t *testing.T) {
	ctx := context.Background()
	notifications := repository.NewMockNotificationRepository()
	offline := repository.NewMockOfflineQueueRepository()
	limiter := ratelimiter.New(10, time.Hour)

	// One expired record, one live, for the same recipient.
	expired := &domain.Notification{
		ID: "old", RecipientID: "u1", Type: domain.TypeCaseUpdated,
		Priority: domain.PriorityLow, Title: "old",
		CreatedAt: time.Now().Add(-8 * 24 * time.Hour),
		ExpiresAt: time.Now().Add(-24 * time.Hour),
	}
	live := &domain.Notification{
		ID: "new", RecipientID: "u1", Type: domain.TypeCaseUpdated,
		Priority: domain.PriorityLow, Title: "new",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	_ = notifications.Create(ctx, expired)
	_ = notifications.Create(ctx, live)
	_ = offline.Enqueue(ctx, "u1", "old", time.Now().Add(-time.Hour))

	r := worker.NewReaper(notifications, offline, limiter, time.Minute, 1000, zap.NewNop())
	r.Sweep(ctx)

	if _, err := notifications.GetByID(ctx, "old"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected expired record purged, got %v", err)
	}
	if _, err := notifications.GetByID(ctx, "new"); err != nil {
		t.Fatalf("expected live record kept, got %v", err)
	}
	depth, _ := offline.Depth(ctx)
	if depth != 0 {
		t.Fatalf("expected expired queue entry purged, depth=%d", depth)
	}
}

func TestSweep_EvictsOldestPastRetentionCap(t *testing.T) {
	ctx := context.Background()
	notifications := repository.NewMockNotificationRepository()
	offline := repository.NewMockOfflineQueueRepository()
	limiter := ratelimiter.New(10, time.Hour)

	const maxKeep = 5
	base := time.Now().Add(-time.Hour)
	for i := 0; i < maxKeep+3; i++ {
		_ = notifications.Create(ctx, &domain.Notification{
			ID: fmt.Sprintf("n%d", i), RecipientID: "u1",
			Type: domain.TypeEvidenceUploaded, Priority: domain.PriorityLow,
			Title:     "t",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			ExpiresAt: time.Now().Add(24 * time.Hour),
		})
	}

	r := worker.NewReaper(notifications, offline, limiter, time.Minute, maxKeep, zap.NewNop())
	r.Sweep(ctx)

	// The three oldest are gone; the newest maxKeep remain.
	for i := 0; i < 3; i++ {
		if _, err := notifications.GetByID(ctx, fmt.Sprintf("n%d", i)); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected n%d evicted, got %v", i, err)
		}
	}
	for i := 3; i < maxKeep+3; i++ {
		if _, err := notifications.GetByID(ctx, fmt.Sprintf("n%d", i)); err != nil {
			t.Fatalf("expected n%d retained, got %v", i, err)
		}
	}
}
