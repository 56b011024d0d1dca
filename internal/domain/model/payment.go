package model

import "time"

type PaymentStatus string

const (
	PaymentStatusCreated    PaymentStatus = "created"    // local record exists, user not yet redirected
	PaymentStatusPending    PaymentStatus = "pending"    // user redirected to gateway; awaiting result
	PaymentStatusProcessing PaymentStatus = "processing" // gateway reported an in-flight authorization
	PaymentStatusSuccess    PaymentStatus = "success"    // settled at provider
	PaymentStatusFailed     PaymentStatus = "failed"     // provider reported failure
	PaymentStatusCancelled  PaymentStatus = "cancelled"  // abandoned or cancelled before settlement
	PaymentStatusRefunded   PaymentStatus = "refunded"   // settled then reversed
)

// IsTerminal reports whether the status admits no further gateway-driven change.
// A success payment may still move to refunded through the explicit refund flow.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded:
		return true
	}
	return false
}

// PaymentAttempt is one entry of the per-payment audit trail.
type PaymentAttempt struct {
	Status        PaymentStatus `json:"status"`
	At            time.Time     `json:"at"`
	FailureReason string        `json:"failure_reason,omitempty"`
}

// Payment records one checkout against the external gateway. Payments are
// never deleted once an invoice exists; abandoned checkouts are purged by the
// reconciler after a retention window.
type Payment struct {
	ID             string // ULID
	SubscriptionID string // UUID of owning subscription
	UserID         string // UUID

	Amount   int64 // minor currency units
	Currency string
	Status   PaymentStatus

	// GatewayInvoiceID is the provider-side checkout id and the idempotency
	// key for webhook ingestion. Empty only before invoice creation succeeds.
	GatewayInvoiceID string
	CheckoutURL      string
	Description      string

	// Opaque settlement identifiers, stored verbatim for dispute resolution.
	GatewayReference string
	ApprovalCode     string
	RRN              string

	FailureReason string

	AttemptNumber  int
	AttemptHistory []PaymentAttempt

	CreatedAt   time.Time
	UpdatedAt   time.Time
	PaidAt      *time.Time
	FailedAt    *time.Time
	CancelledAt *time.Time
}

// RecordAttempt appends an audit entry and bumps the attempt counter.
func (p *Payment) RecordAttempt(status PaymentStatus, at time.Time, reason string) {
	p.AttemptNumber++
	p.AttemptHistory = append(p.AttemptHistory, PaymentAttempt{
		Status:        status,
		At:            at,
		FailureReason: reason,
	})
}
