package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type pgOfflineQueueRepository struct {
	pool *pgxpool.Pool
}

// NewPgOfflineQueueRepository returns an OfflineQueueRepository backed by PostgreSQL.
// FIFO order per recipient comes from the bigserial primary key.
func NewPgOfflineQueueRepository(pool *pgxpool.Pool) OfflineQueueRepository {
	return &pgOfflineQueueRepository{pool: pool}
}

func (r *pgOfflineQueueRepository) Enqueue(ctx context.Context, recipientID, notificationID string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO offline_queue (recipient_id, notification_id, enqueued_at, expires_at)
		VALUES ($1, $2, NOW(), $3)`,
		recipientID, notificationID, expiresAt)
	if err != nil {
		return fmt.Errorf("enqueue offline: %w", err)
	}
	return nil
}

func (r *pgOfflineQueueRepository) Pending(ctx context.Context, recipientID string, limit int) ([]QueueEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, recipient_id, notification_id, enqueued_at, expires_at
		FROM offline_queue
		WHERE recipient_id = $1 AND expires_at > NOW()
		ORDER BY id ASC
		LIMIT $2`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("pending offline entries: %w", err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		var e QueueEntry
		if err := rows.Scan(&e.ID, &e.RecipientID, &e.NotificationID, &e.EnqueuedAt, &e.ExpiresAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *pgOfflineQueueRepository) Remove(ctx context.Context, entryID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM offline_queue WHERE id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("remove offline entry: %w", err)
	}
	return nil
}

func (r *pgOfflineQueueRepository) PurgeExpired(ctx context.Context, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM offline_queue
		WHERE id IN (
			SELECT id FROM offline_queue
			WHERE expires_at <= NOW()
			LIMIT $1
		)`, limit)
	if err != nil {
		return 0, fmt.Errorf("purge expired queue entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgOfflineQueueRepository) Depth(ctx context.Context) (int, error) {
	var depth int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM offline_queue WHERE expires_at > NOW()`).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}
