package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"course-subscription-service/internal/domain"
	"course-subscription-service/internal/domain/model"
	"course-subscription-service/internal/domain/ports/adapter"
	"course-subscription-service/internal/domain/ports/repository"
	"course-subscription-service/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

// CheckoutConfig carries the gateway-facing URLs and invoice validity window.
type CheckoutConfig struct {
	RedirectURL string
	WebhookURL  string
	InvoiceTTL  time.Duration
}

// PaymentUseCase reconciles the local payment ledger with the external
// gateway. Webhook ingestion and status polling converge on one transition
// function, so their outcome is order-independent.
type PaymentUseCase interface {
	// StartCheckout creates an invoice at the gateway and persists the local
	// payment before returning, so a webhook can never arrive for an unknown
	// invoice.
	StartCheckout(ctx context.Context, subscriptionID string, amount int64, currency, description string) (*model.Payment, string, error)
	// IngestWebhook verifies, decodes and applies one gateway callback.
	// Unknown invoices are logged and discarded without error.
	IngestWebhook(ctx context.Context, rawBody []byte, signature string) error
	// SyncStatus polls the gateway for the invoice and applies the same
	// transition logic as IngestWebhook.
	SyncStatus(ctx context.Context, invoiceID string) (*model.Payment, error)
	CancelPayment(ctx context.Context, paymentID string) (*model.Payment, error)
	// Refund reverses a successful payment; the only permitted mutation of a
	// success payment.
	Refund(ctx context.Context, paymentID string) (*model.Payment, error)
	// PurgeAbandoned drops checkouts stuck in created/pending beyond the
	// retention window.
	PurgeAbandoned(ctx context.Context, olderThan time.Time) (int, error)
	// RepairActivations retries subscription activation for success payments
	// whose subscription is still pending.
	RepairActivations(ctx context.Context, limit int) (int, error)
}

type paymentUC struct {
	payments repository.PaymentRepository
	subs     repository.SubscriptionRepository
	engine   SubscriptionUseCase
	gateway  adapter.PaymentGateway
	tm       repository.TransactionManager
	notifier adapter.Notifier
	users    adapter.UserDirectory
	cfg      CheckoutConfig
	log      *zerolog.Logger
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	engine SubscriptionUseCase,
	gateway adapter.PaymentGateway,
	tm repository.TransactionManager,
	notifier adapter.Notifier,
	users adapter.UserDirectory,
	cfg CheckoutConfig,
	logger *zerolog.Logger,
) *paymentUC {
	ucLog := logger.With().Str("component", "PaymentUC").Logger()
	return &paymentUC{
		payments: payments,
		subs:     subs,
		engine:   engine,
		gateway:  gateway,
		tm:       tm,
		notifier: notifier,
		users:    users,
		cfg:      cfg,
		log:      &ucLog,
	}
}

func (u *paymentUC) StartCheckout(ctx context.Context, subscriptionID string, amount int64, currency, description string) (*model.Payment, string, error) {
	sub, err := u.subs.FindByID(ctx, repository.NoTX, subscriptionID)
	if err != nil {
		return nil, "", err
	}
	if sub.Status == model.SubscriptionStatusActive {
		return nil, "", domain.ErrAlreadyPaid
	}
	if sub.Status != model.SubscriptionStatusPending {
		return nil, "", domain.ErrInvalidTransition
	}
	if _, err := u.payments.FindSuccessfulBySubscription(ctx, repository.NoTX, subscriptionID); err == nil {
		return nil, "", domain.ErrAlreadyPaid
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, "", err
	}

	if amount <= 0 {
		amount = sub.Price
	}
	if currency == "" {
		currency = sub.Currency
	}
	if amount <= 0 || currency == "" {
		return nil, "", domain.ErrInvalidArgument
	}

	// ErrGatewayUnavailable surfaces to the caller for retry; nothing local
	// has been written yet.
	inv, err := u.gateway.CreateInvoice(ctx, amount, currency, description, u.cfg.RedirectURL, u.cfg.WebhookURL, u.cfg.InvoiceTTL)
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	p := &model.Payment{
		ID:               ulid.Make().String(),
		SubscriptionID:   sub.ID,
		UserID:           sub.UserID,
		Amount:           amount,
		Currency:         currency,
		Status:           model.PaymentStatusCreated,
		GatewayInvoiceID: inv.InvoiceID,
		CheckoutURL:      inv.CheckoutURL,
		Description:      description,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	p.RecordAttempt(model.PaymentStatusCreated, now, "")

	// The local record must exist before the user can reach the gateway
	// page; the checkout URL is only released after a successful save.
	if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
		return nil, "", err
	}

	u.log.Info().Str("payment_id", p.ID).Str("invoice_id", p.GatewayInvoiceID).Msg("checkout started")
	metrics.IncPayment(string(model.PaymentStatusCreated))
	return p, inv.CheckoutURL, nil
}

func (u *paymentUC) IngestWebhook(ctx context.Context, rawBody []byte, signature string) error {
	if !u.gateway.VerifySignature(rawBody, signature) {
		u.log.Error().Msg("webhook signature verification failed")
		metrics.IncWebhook("invalid_signature")
		return domain.ErrInvalidSignature
	}
	state, err := u.gateway.ParseWebhook(rawBody)
	if err != nil {
		u.log.Error().Err(err).Msg("webhook payload undecodable")
		metrics.IncWebhook("malformed")
		return err
	}

	_, err = u.ingestState(ctx, state)
	if errors.Is(err, domain.ErrNotFound) {
		// No matching local payment: acknowledge and drop, the provider must
		// not retry forever.
		u.log.Warn().Str("invoice_id", state.InvoiceID).Msg("webhook for unknown invoice discarded")
		metrics.IncWebhook("unknown_invoice")
		return nil
	}
	return err
}

func (u *paymentUC) SyncStatus(ctx context.Context, invoiceID string) (*model.Payment, error) {
	if invoiceID == "" {
		return nil, domain.ErrInvalidArgument
	}
	state, err := u.gateway.InvoiceStatus(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	state.InvoiceID = invoiceID
	return u.ingestState(ctx, state)
}

// ingestState is the single transition path shared by webhooks and polls.
// Payment mutation and subscription activation commit in one transaction.
func (u *paymentUC) ingestState(ctx context.Context, state *adapter.InvoiceState) (*model.Payment, error) {
	var (
		payment   *model.Payment
		activated bool
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.payments.FindByInvoiceID(ctx, tx, state.InvoiceID)
		if err != nil {
			return err
		}
		payment = p

		target, decision := resolveTransition(p.Status, state.Status)
		switch decision {
		case transitionNoop:
			// Duplicate delivery of a state already applied.
			return nil
		case transitionAnomaly:
			// Replayed stale webhooks must not regress a finalized payment.
			u.log.Error().
				Str("payment_id", p.ID).
				Str("current", string(p.Status)).
				Str("incoming", state.Status).
				Msg("anomalous payment transition rejected")
			metrics.IncWebhook("anomaly")
			return nil
		case transitionUnknown:
			u.log.Warn().
				Str("payment_id", p.ID).
				Str("incoming", state.Status).
				Msg("unmapped gateway status ignored")
			metrics.IncWebhook("unknown_status")
			return nil
		}

		now := time.Now()
		p.Status = target
		p.UpdatedAt = now
		if state.Reference != "" {
			p.GatewayReference = state.Reference
		}
		if state.ApprovalCode != "" {
			p.ApprovalCode = state.ApprovalCode
		}
		if state.RRN != "" {
			p.RRN = state.RRN
		}
		reason := ""
		switch target {
		case model.PaymentStatusSuccess:
			p.PaidAt = &now
		case model.PaymentStatusFailed:
			p.FailedAt = &now
			reason = failureReason(state)
			p.FailureReason = reason
		case model.PaymentStatusCancelled:
			p.CancelledAt = &now
		}
		p.RecordAttempt(target, now, reason)

		if err := u.payments.Save(ctx, tx, p); err != nil {
			return err
		}
		metrics.IncPayment(string(target))

		if target == model.PaymentStatusSuccess {
			metrics.AddPaymentRevenue(p.Currency, p.Amount)
			_, changed, err := u.engine.ActivateTx(ctx, tx, p.SubscriptionID, p.ID)
			if err != nil {
				if errors.Is(err, domain.ErrInvalidTransition) {
					// Subscription left the pending state (e.g. cancelled in
					// the meantime). The payment still finalizes; the ledger
					// keeps the money trail and an operator resolves it.
					u.log.Error().
						Str("payment_id", p.ID).
						Str("subscription_id", p.SubscriptionID).
						Msg("payment succeeded but subscription not activatable")
					return nil
				}
				return err
			}
			activated = changed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if activated {
		u.notify(ctx, adapter.NotificationActivated, payment.UserID, map[string]any{
			"subscription_id": payment.SubscriptionID,
			"payment_id":      payment.ID,
			"amount":          payment.Amount,
			"currency":        payment.Currency,
		})
	}
	return payment, nil
}

func (u *paymentUC) CancelPayment(ctx context.Context, paymentID string) (*model.Payment, error) {
	p, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case model.PaymentStatusSuccess, model.PaymentStatusRefunded:
		return nil, domain.ErrAlreadyFinalized
	case model.PaymentStatusCancelled, model.PaymentStatusFailed:
		return p, nil
	}

	if p.GatewayInvoiceID != "" {
		if err := u.gateway.CancelInvoice(ctx, p.GatewayInvoiceID); err != nil {
			return nil, err
		}
	}

	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		fresh, err := u.payments.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if fresh.Status.IsTerminal() {
			p = fresh
			return nil
		}
		now := time.Now()
		fresh.Status = model.PaymentStatusCancelled
		fresh.CancelledAt = &now
		fresh.UpdatedAt = now
		fresh.RecordAttempt(model.PaymentStatusCancelled, now, "")
		if err := u.payments.Save(ctx, tx, fresh); err != nil {
			return err
		}
		p = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncPayment(string(model.PaymentStatusCancelled))
	return p, nil
}

func (u *paymentUC) Refund(ctx context.Context, paymentID string) (*model.Payment, error) {
	p, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status == model.PaymentStatusRefunded {
		return p, nil
	}
	if p.Status != model.PaymentStatusSuccess {
		return nil, domain.ErrInvalidTransition
	}

	// Cancelling a paid invoice is the provider's reversal operation.
	if err := u.gateway.CancelInvoice(ctx, p.GatewayInvoiceID); err != nil {
		return nil, err
	}

	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		fresh, err := u.payments.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if fresh.Status != model.PaymentStatusSuccess {
			p = fresh
			return nil
		}
		now := time.Now()
		fresh.Status = model.PaymentStatusRefunded
		fresh.UpdatedAt = now
		fresh.RecordAttempt(model.PaymentStatusRefunded, now, "")
		if err := u.payments.Save(ctx, tx, fresh); err != nil {
			return err
		}
		p = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.log.Info().Str("payment_id", p.ID).Msg("payment refunded")
	metrics.IncPayment(string(model.PaymentStatusRefunded))
	return p, nil
}

func (u *paymentUC) PurgeAbandoned(ctx context.Context, olderThan time.Time) (int, error) {
	n, err := u.payments.DeleteAbandoned(ctx, repository.NoTX, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		u.log.Info().Int("count", n).Msg("abandoned checkouts purged")
	}
	return n, nil
}

func (u *paymentUC) RepairActivations(ctx context.Context, limit int) (int, error) {
	stuck, err := u.payments.ListSuccessWithPendingSubscription(ctx, repository.NoTX, limit)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	repaired := 0
	for _, p := range stuck {
		if _, err := u.engine.Activate(ctx, p.SubscriptionID, p.ID); err != nil {
			u.log.Error().Err(err).Str("payment_id", p.ID).Msg("activation repair failed")
			continue
		}
		repaired++
	}
	return repaired, nil
}

func (u *paymentUC) notify(ctx context.Context, kind adapter.NotificationKind, userID string, data map[string]any) {
	email, err := u.users.EmailOf(ctx, userID)
	if err != nil {
		u.log.Warn().Err(err).Str("user_id", userID).Msg("recipient lookup failed")
		return
	}
	if err := u.notifier.Notify(ctx, kind, email, data); err != nil {
		u.log.Warn().Err(err).Str("kind", string(kind)).Str("user_id", userID).Msg("notification delivery failed")
	}
}

func failureReason(state *adapter.InvoiceState) string {
	switch {
	case state.ErrText != "" && state.ErrCode != "":
		return state.ErrCode + ": " + state.ErrText
	case state.ErrText != "":
		return state.ErrText
	default:
		return state.ErrCode
	}
}
