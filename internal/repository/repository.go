package repository

import (
	"context"
	"time"

	"github.com/casetrack/notify-gateway/internal/domain"
)

// NotificationRepository defines all persistence operations for notification
// records. The pgx implementation is in pg_notification_repo.go; tests use
// the hand-written mocks (mock_repos.go).
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error

	// GetByID returns domain.ErrNotFound for absent or TTL-expired records.
	GetByID(ctx context.Context, id string) (*domain.Notification, error)

	// MarkRead flips read=false→true and stamps acknowledged_at once.
	// Calling it again is a no-op. Returns domain.ErrNotFound when the
	// notification does not exist or belongs to a different recipient.
	MarkRead(ctx context.Context, id, recipientID string) error

	ListUnread(ctx context.Context, recipientID string, limit int) ([]*domain.Notification, error)

	CountByRecipient(ctx context.Context, recipientID string) (int, error)

	// EnforceRetention deletes the oldest records past max for the recipient,
	// strictly by creation order, and returns how many were removed.
	EnforceRetention(ctx context.Context, recipientID string, max int) (int, error)

	// OverCapRecipients lists recipients currently holding more than max
	// records. Used by the reaper to drive EnforceRetention sweeps.
	OverCapRecipients(ctx context.Context, max int) ([]string, error)

	// PurgeExpired deletes up to limit TTL-expired records.
	PurgeExpired(ctx context.Context, limit int) (int, error)
}

// DeliveryStatusRepository persists the per-(notification, channel) delivery
// outcome. The delivery pipeline is its only writer.
type DeliveryStatusRepository interface {
	// Record inserts the initial status row for a delivery attempt.
	Record(ctx context.Context, s *domain.DeliveryStatus) error

	Get(ctx context.Context, notificationID, channel string) (*domain.DeliveryStatus, error)

	// MarkDelivered transitions PENDING→DELIVERED without touching the
	// attempt counter. Returns false when the row was not in PENDING, which
	// makes concurrent drains deliver each entry at most once.
	MarkDelivered(ctx context.Context, notificationID, channel string, at time.Time) (bool, error)

	// MarkFailed transitions PENDING→FAILED (terminal).
	MarkFailed(ctx context.Context, notificationID, channel, errMsg string) error

	// RecordAttempt increments the attempt counter after a failed push and
	// stamps the last attempt time.
	RecordAttempt(ctx context.Context, notificationID, channel, errMsg string) error
}

// QueueEntry is one parked notification awaiting a recipient's reconnect.
type QueueEntry struct {
	ID             int64
	RecipientID    string
	NotificationID string
	EnqueuedAt     time.Time
	ExpiresAt      time.Time
}

// OfflineQueueRepository is the durable per-recipient backlog. Entries are
// strictly FIFO by insertion per recipient and expire with the notification's
// retention TTL.
type OfflineQueueRepository interface {
	Enqueue(ctx context.Context, recipientID, notificationID string, expiresAt time.Time) error

	// Pending returns up to limit unexpired entries in FIFO order.
	Pending(ctx context.Context, recipientID string, limit int) ([]QueueEntry, error)

	Remove(ctx context.Context, entryID int64) error

	PurgeExpired(ctx context.Context, limit int) (int, error)

	// Depth reports the total number of unexpired queued entries.
	Depth(ctx context.Context) (int, error)
}
