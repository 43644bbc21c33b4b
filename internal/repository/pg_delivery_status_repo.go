package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casetrack/notify-gateway/internal/domain"
)

type pgDeliveryStatusRepository struct {
	pool *pgxpool.Pool
}

// NewPgDeliveryStatusRepository returns a DeliveryStatusRepository backed by PostgreSQL.
func NewPgDeliveryStatusRepository(pool *pgxpool.Pool) DeliveryStatusRepository {
	return &pgDeliveryStatusRepository{pool: pool}
}

func (r *pgDeliveryStatusRepository) Record(ctx context.Context, s *domain.DeliveryStatus) error {
	// The upsert only rewrites rows still in PENDING; a terminal state
	// (DELIVERED, FAILED) never reverses, whatever the caller passes.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO delivery_status
			(notification_id, channel, state, attempts, last_attempt, error)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (notification_id, channel) DO UPDATE
		SET state = EXCLUDED.state,
		    attempts = delivery_status.attempts,
		    last_attempt = EXCLUDED.last_attempt
		WHERE delivery_status.state = 'PENDING'`,
		s.NotificationID, s.Channel, s.State, s.Attempts, s.LastAttempt, s.Error,
	)
	if err != nil {
		return fmt.Errorf("record delivery status: %w", err)
	}
	return nil
}

func (r *pgDeliveryStatusRepository) Get(ctx context.Context, notificationID, channel string) (*domain.DeliveryStatus, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT notification_id, channel, state, attempts, last_attempt, error
		FROM delivery_status
		WHERE notification_id = $1 AND channel = $2`, notificationID, channel)

	var s domain.DeliveryStatus
	err := row.Scan(&s.NotificationID, &s.Channel, &s.State, &s.Attempts, &s.LastAttempt, &s.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery status: %w", err)
	}
	return &s, nil
}

func (r *pgDeliveryStatusRepository) MarkDelivered(ctx context.Context, notificationID, channel string, at time.Time) (bool, error) {
	// Conditional on PENDING so a concurrent drain transitions at most once.
	tag, err := r.pool.Exec(ctx, `
		UPDATE delivery_status
		SET state = $1, last_attempt = $2, error = NULL
		WHERE notification_id = $3 AND channel = $4 AND state = $5`,
		domain.DeliveryDelivered, at, notificationID, channel, domain.DeliveryPending)
	if err != nil {
		return false, fmt.Errorf("mark delivered: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pgDeliveryStatusRepository) MarkFailed(ctx context.Context, notificationID, channel, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE delivery_status
		SET state = $1, last_attempt = NOW(), error = $2
		WHERE notification_id = $3 AND channel = $4 AND state = $5`,
		domain.DeliveryFailed, errMsg, notificationID, channel, domain.DeliveryPending)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (r *pgDeliveryStatusRepository) RecordAttempt(ctx context.Context, notificationID, channel, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE delivery_status
		SET attempts = attempts + 1, last_attempt = NOW(), error = $1
		WHERE notification_id = $2 AND channel = $3`,
		errMsg, notificationID, channel)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}
