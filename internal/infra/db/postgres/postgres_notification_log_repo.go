package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"course-subscription-service/internal/domain"
	"course-subscription-service/internal/domain/ports/repository"
)

var _ repository.NotificationLogRepository = (*notificationLogRepo)(nil)

type notificationLogRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationLogRepo(pool *pgxpool.Pool) repository.NotificationLogRepository {
	return &notificationLogRepo{pool: pool}
}

func (r *notificationLogRepo) Save(ctx context.Context, tx repository.Tx, subscriptionID, userID, kind string, thresholdDays int) error {
	const q = `
INSERT INTO subscription_notifications (id, subscription_id, user_id, kind, threshold_days)
VALUES ($1, $2, $3, $4, $5)`

	// Duplicate prevention is left to the UNIQUE constraint on
	// (subscription_id, kind, threshold_days).
	_, err := execSQL(ctx, r.pool, tx, q, uuid.NewString(), subscriptionID, userID, kind, thresholdDays)
	return err
}

func (r *notificationLogRepo) Exists(ctx context.Context, tx repository.Tx, subscriptionID, kind string, thresholdDays int) (bool, error) {
	const q = `
SELECT EXISTS(
    SELECT 1 FROM subscription_notifications
    WHERE subscription_id = $1 AND kind = $2 AND threshold_days = $3
)`
	var exists bool
	row, err := pickRow(ctx, r.pool, tx, q, subscriptionID, kind, thresholdDays)
	if err != nil {
		return false, err
	}

	if err := row.Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, domain.ErrReadDatabaseRow
	}
	return exists, nil
}
