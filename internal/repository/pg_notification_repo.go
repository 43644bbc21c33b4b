package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casetrack/notify-gateway/internal/domain"
)

type pgNotificationRepository struct {
	pool *pgxpool.Pool
}

// NewPgNotificationRepository returns a NotificationRepository backed by PostgreSQL.
func NewPgNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &pgNotificationRepository{pool: pool}
}

const notificationColumns = `
	id, recipient_id, type, priority, title, message, metadata,
	sensitive_payload, read, acknowledged_at, created_at, expires_at`

func (r *pgNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications
			(id, recipient_id, type, priority, title, message, metadata,
			 sensitive_payload, read, acknowledged_at, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		n.ID, n.RecipientID, n.Type, n.Priority, n.Title, n.Message, meta,
		n.SensitivePayload, n.Read, n.AcknowledgedAt, n.CreatedAt, n.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *pgNotificationRepository) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+notificationColumns+`
		FROM notifications
		WHERE id = $1 AND expires_at > NOW()`, id)

	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return n, err
}

func (r *pgNotificationRepository) MarkRead(ctx context.Context, id, recipientID string) error {
	// COALESCE keeps acknowledged_at at its first value on repeated calls.
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET read = TRUE, acknowledged_at = COALESCE(acknowledged_at, NOW())
		WHERE id = $1 AND recipient_id = $2 AND expires_at > NOW()`,
		id, recipientID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgNotificationRepository) ListUnread(ctx context.Context, recipientID string, limit int) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+notificationColumns+`
		FROM notifications
		WHERE recipient_id = $1 AND read = FALSE AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT $2`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (r *pgNotificationRepository) CountByRecipient(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND expires_at > NOW()`, recipientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return count, nil
}

func (r *pgNotificationRepository) EnforceRetention(ctx context.Context, recipientID string, max int) (int, error) {
	// Oldest first by creation time, insertion order (ctid) breaking ties.
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notifications
		WHERE ctid IN (
			SELECT ctid FROM notifications
			WHERE recipient_id = $1
			ORDER BY created_at ASC, ctid ASC
			OFFSET 0
			LIMIT GREATEST((
				SELECT COUNT(*) FROM notifications WHERE recipient_id = $1
			) - $2, 0)
		)`, recipientID, max)
	if err != nil {
		return 0, fmt.Errorf("enforce retention: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgNotificationRepository) OverCapRecipients(ctx context.Context, max int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT recipient_id FROM notifications
		GROUP BY recipient_id
		HAVING COUNT(*) > $1`, max)
	if err != nil {
		return nil, fmt.Errorf("over-cap recipients: %w", err)
	}
	defer rows.Close()

	var recipients []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		recipients = append(recipients, id)
	}
	return recipients, rows.Err()
}

func (r *pgNotificationRepository) PurgeExpired(ctx context.Context, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notifications
		WHERE ctid IN (
			SELECT ctid FROM notifications
			WHERE expires_at <= NOW()
			LIMIT $1
		)`, limit)
	if err != nil {
		return 0, fmt.Errorf("purge expired notifications: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*domain.Notification, error) {
	var (
		n    domain.Notification
		meta []byte
	)
	err := row.Scan(
		&n.ID, &n.RecipientID, &n.Type, &n.Priority, &n.Title, &n.Message,
		&meta, &n.SensitivePayload, &n.Read, &n.AcknowledgedAt,
		&n.CreatedAt, &n.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &n.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &n, nil
}

func scanNotifications(rows pgx.Rows) ([]*domain.Notification, error) {
	var notifications []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}
