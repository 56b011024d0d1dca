package adapter

import (
	"context"
	"time"
)

// Invoice is the provider-side checkout session created for a payment.
type Invoice struct {
	InvoiceID   string
	CheckoutURL string
}

// InvoiceState is the provider's view of an invoice, produced both by status
// polls and by decoded webhook events so callers can drive one shared
// transition function. Status carries the raw provider vocabulary; mapping to
// the internal payment status happens in the reconciler.
type InvoiceState struct {
	InvoiceID    string
	Status       string
	Amount       int64
	Reference    string
	ApprovalCode string
	RRN          string
	ErrCode      string
	ErrText      string
}

// PaymentGateway is the outbound port to the external payment provider.
// Every method returns domain.ErrGatewayUnavailable on network and timeout
// failures and domain.ErrGatewayRejected when the provider refuses the
// request, so callers can distinguish retry from surface-to-user.
type PaymentGateway interface {
	// CreateInvoice opens a checkout session. amount is in minor currency
	// units; validFor bounds how long the checkout page stays payable.
	CreateInvoice(ctx context.Context, amount int64, currency, description, redirectURL, webhookURL string, validFor time.Duration) (*Invoice, error)

	// InvoiceStatus polls the provider for the current invoice state.
	InvoiceStatus(ctx context.Context, invoiceID string) (*InvoiceState, error)

	// CancelInvoice voids an unpaid invoice; for a paid invoice the provider
	// treats it as a reversal.
	CancelInvoice(ctx context.Context, invoiceID string) error

	// VerifySignature checks the webhook HMAC over the raw request body.
	VerifySignature(rawBody []byte, signature string) bool

	// ParseWebhook decodes a provider webhook body into an InvoiceState.
	ParseWebhook(rawBody []byte) (*InvoiceState, error)
}
