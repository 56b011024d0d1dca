package repository

import (
	"context"
	"time"

	"course-subscription-service/internal/domain/model"
)

// PaymentRepository is the ledger port for payments.
type PaymentRepository interface {
	// Save upserts the full record. gateway_invoice_id is unique when set;
	// a duplicate insert surfaces domain.ErrOperationFailed.
	Save(ctx context.Context, tx Tx, p *model.Payment) error

	// FindByID loads one payment, FOR UPDATE inside a transaction.
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)

	// FindByInvoiceID resolves the webhook idempotency key, FOR UPDATE
	// inside a transaction. Returns domain.ErrNotFound for unknown invoices.
	FindByInvoiceID(ctx context.Context, tx Tx, invoiceID string) (*model.Payment, error)

	// FindSuccessfulBySubscription returns the success payment owning the
	// subscription's activation, or domain.ErrNotFound.
	FindSuccessfulBySubscription(ctx context.Context, tx Tx, subscriptionID string) (*model.Payment, error)

	// ListOpenOlderThan returns payments still in created/pending/processing
	// created before the cutoff, oldest first.
	ListOpenOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)

	// ListSuccessWithPendingSubscription returns success payments whose
	// subscription is still pending, for the activation repair pass.
	ListSuccessWithPendingSubscription(ctx context.Context, tx Tx, limit int) ([]*model.Payment, error)

	// DeleteAbandoned removes payments stuck in created/pending beyond the
	// retention window that never produced a gateway-side event. Returns the
	// number of rows removed.
	DeleteAbandoned(ctx context.Context, tx Tx, olderThan time.Time) (int, error)

	// CountByStatus returns payment counts grouped by status.
	CountByStatus(ctx context.Context, tx Tx) (map[model.PaymentStatus]int, error)
}
