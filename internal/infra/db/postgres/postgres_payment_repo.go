package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"course-subscription-service/internal/domain"
	"course-subscription-service/internal/domain/model"
	"course-subscription-service/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

const payColumns = `id, subscription_id, user_id, amount, currency, status, gateway_invoice_id, checkout_url, description, gateway_reference, approval_code, rrn, failure_reason, attempt_number, attempt_history, created_at, updated_at, paid_at, failed_at, cancelled_at`

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	history, err := json.Marshal(p.AttemptHistory)
	if err != nil {
		return domain.ErrInvalidArgument
	}

	const q = `
INSERT INTO payments (
  id, subscription_id, user_id, amount, currency, status, gateway_invoice_id,
  checkout_url, description, gateway_reference, approval_code, rrn, failure_reason,
  attempt_number, attempt_history, created_at, updated_at, paid_at, failed_at, cancelled_at
) VALUES (
  $1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
) ON CONFLICT (id) DO UPDATE SET
  status=$6, gateway_invoice_id=NULLIF($7,''), checkout_url=$8, gateway_reference=$10,
  approval_code=$11, rrn=$12, failure_reason=$13, attempt_number=$14,
  attempt_history=$15, updated_at=$17, paid_at=$18, failed_at=$19, cancelled_at=$20;`

	_, err = execSQL(ctx, r.pool, tx, q,
		p.ID, p.SubscriptionID, p.UserID, p.Amount, p.Currency, p.Status, p.GatewayInvoiceID,
		p.CheckoutURL, p.Description, p.GatewayReference, p.ApprovalCode, p.RRN, p.FailureReason,
		p.AttemptNumber, history, p.CreatedAt, p.UpdatedAt, p.PaidAt, p.FailedAt, p.CancelledAt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := `SELECT ` + payColumns + ` FROM payments WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	return r.queryOne(ctx, tx, q+";", id)
}

func (r *paymentRepo) FindByInvoiceID(ctx context.Context, tx repository.Tx, invoiceID string) (*model.Payment, error) {
	q := `SELECT ` + payColumns + ` FROM payments WHERE gateway_invoice_id=$1 LIMIT 1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	return r.queryOne(ctx, tx, q+";", invoiceID)
}

func (r *paymentRepo) FindSuccessfulBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string) (*model.Payment, error) {
	q := `SELECT ` + payColumns + ` FROM payments WHERE subscription_id=$1 AND status='success' LIMIT 1;`
	return r.queryOne(ctx, tx, q, subscriptionID)
}

func (r *paymentRepo) ListOpenOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + payColumns + ` FROM payments
 WHERE status IN ('created','pending','processing') AND created_at < $1
 ORDER BY created_at ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, olderThan, limit)
}

func (r *paymentRepo) ListSuccessWithPendingSubscription(ctx context.Context, tx repository.Tx, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + payColumnsPrefixed("p") + `
  FROM payments p
  JOIN subscriptions s ON s.id = p.subscription_id
 WHERE p.status='success' AND s.status='pending'
 ORDER BY p.paid_at ASC
 LIMIT $1;`
	return r.queryMany(ctx, tx, q, limit)
}

func (r *paymentRepo) DeleteAbandoned(ctx context.Context, tx repository.Tx, olderThan time.Time) (int, error) {
	// Only checkouts that never reached the gateway or never produced an
	// event are removed; anything with settlement data stays for audit.
	const q = `
DELETE FROM payments
 WHERE status IN ('created','pending')
   AND created_at < $1
   AND paid_at IS NULL
   AND gateway_reference='';`
	cmd, err := execSQL(ctx, r.pool, tx, q, olderThan)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return 0, err
		}
		return 0, domain.ErrOperationFailed
	}
	return int(cmd.RowsAffected()), nil
}

func (r *paymentRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.PaymentStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM payments GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	counts := make(map[model.PaymentStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.PaymentStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

func (r *paymentRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.Payment, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}

func (r *paymentRepo) queryMany(ctx context.Context, tx repository.Tx, sql string, args ...any) ([]*model.Payment, error) {
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

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	var status string
	var invoiceID *string
	var history []byte
	if err := row.Scan(
		&p.ID, &p.SubscriptionID, &p.UserID, &p.Amount, &p.Currency, &status, &invoiceID,
		&p.CheckoutURL, &p.Description, &p.GatewayReference, &p.ApprovalCode, &p.RRN, &p.FailureReason,
		&p.AttemptNumber, &history, &p.CreatedAt, &p.UpdatedAt, &p.PaidAt, &p.FailedAt, &p.CancelledAt,
	); err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(status)
	if invoiceID != nil {
		p.GatewayInvoiceID = *invoiceID
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &p.AttemptHistory); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func payColumnsPrefixed(alias string) string {
	cols := ""
	for i, c := range []string{
		"id", "subscription_id", "user_id", "amount", "currency", "status", "gateway_invoice_id",
		"checkout_url", "description", "gateway_reference", "approval_code", "rrn", "failure_reason",
		"attempt_number", "attempt_history", "created_at", "updated_at", "paid_at", "failed_at", "cancelled_at",
	} {
		if i > 0 {
			cols += ", "
		}
		cols += alias + "." + c
	}
	return cols
}
