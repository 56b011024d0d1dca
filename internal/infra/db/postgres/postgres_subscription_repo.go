package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"course-subscription-service/internal/domain"
	"course-subscription-service/internal/domain/model"
	"course-subscription-service/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

const subColumns = `id, user_id, course_id, kind, status, price, currency, paid_amount, period_days, start_date, end_date, auto_renewal, next_billing_date, cancellation_reason, cancelled_at, cancelled_by, created_at, updated_at`

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

func (r *subscriptionRepo) Create(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (
  id, user_id, course_id, kind, status, price, currency, paid_amount, period_days,
  start_date, end_date, auto_renewal, next_billing_date,
  cancellation_reason, cancelled_at, cancelled_by, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18);`

	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.UserID, s.CourseID, s.Kind, s.Status, s.Price, s.Currency, s.PaidAmount, s.PeriodDays,
		s.StartDate, s.EndDate, s.AutoRenewal, s.NextBillingDate,
		s.CancellationReason, s.CancelledAt, s.CancelledBy, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// partial unique index on live (user_id, course_id)
			return domain.ErrDuplicateActiveSubscription
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (
  id, user_id, course_id, kind, status, price, currency, paid_amount, period_days,
  start_date, end_date, auto_renewal, next_billing_date,
  cancellation_reason, cancelled_at, cancelled_by, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (id) DO UPDATE SET
  status=$5, paid_amount=$8, period_days=$9, start_date=$10, end_date=$11,
  auto_renewal=$12, next_billing_date=$13, cancellation_reason=$14,
  cancelled_at=$15, cancelled_by=$16, updated_at=$18;`

	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.UserID, s.CourseID, s.Kind, s.Status, s.Price, s.Currency, s.PaidAmount, s.PeriodDays,
		s.StartDate, s.EndDate, s.AutoRenewal, s.NextBillingDate,
		s.CancellationReason, s.CancelledAt, s.CancelledBy, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateActiveSubscription
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := `SELECT ` + subColumns + ` FROM subscriptions WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	return r.queryOne(ctx, tx, q+";", id)
}

func (r *subscriptionRepo) FindLiveByUserAndCourse(ctx context.Context, tx repository.Tx, userID, courseID string) (*model.Subscription, error) {
	q := `SELECT ` + subColumns + ` FROM subscriptions
 WHERE user_id=$1 AND course_id=$2 AND status IN ('pending','active')
 LIMIT 1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	return r.queryOne(ctx, tx, q+";", userID, courseID)
}

func (r *subscriptionRepo) ListDueForExpiry(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `SELECT ` + subColumns + ` FROM subscriptions
 WHERE status='active' AND end_date < $1
 ORDER BY end_date ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, now, limit)
}

func (r *subscriptionRepo) MarkExpired(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	const q = `
UPDATE subscriptions
   SET status='expired', updated_at=$2
 WHERE id=$1 AND status='active';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, at)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *subscriptionRepo) FindExpiring(ctx context.Context, tx repository.Tx, withinDays int) ([]*model.Subscription, error) {
	q := `SELECT ` + subColumns + ` FROM subscriptions
 WHERE status='active'
   AND end_date > NOW()
   AND end_date <= NOW() + ($1::int * INTERVAL '1 day')
 ORDER BY end_date ASC;`
	return r.queryMany(ctx, tx, q, withinDays)
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	counts := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.SubscriptionStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	s, err := scanSub(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}

func (r *subscriptionRepo) queryMany(ctx context.Context, tx repository.Tx, sql string, args ...any) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, sql, args...)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, domain.ErrNotFound
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSub(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanSub(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	var kind, status string
	if err := row.Scan(
		&s.ID, &s.UserID, &s.CourseID, &kind, &status, &s.Price, &s.Currency, &s.PaidAmount, &s.PeriodDays,
		&s.StartDate, &s.EndDate, &s.AutoRenewal, &s.NextBillingDate,
		&s.CancellationReason, &s.CancelledAt, &s.CancelledBy, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Kind = model.SubscriptionKind(kind)
	s.Status = model.SubscriptionStatus(status)
	return s, nil
}
