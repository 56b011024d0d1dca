package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"course-subscription-service/internal/domain"
	"course-subscription-service/internal/domain/ports/repository"
	"course-subscription-service/internal/usecase"
)

// PaymentReconciler periodically scans for stale open payments and tries to
// finalize them by polling the gateway. This covers lost webhooks and
// processes that crashed mid-ingest. It also purges abandoned checkouts past
// the retention window and repairs activations left behind by partial
// failures.
type PaymentReconciler struct {
	uc           usecase.PaymentUseCase
	payments     repository.PaymentRepository
	interval     time.Duration // how often to scan
	staleAfter   time.Duration // how old an open payment must be to re-poll
	abandonAfter time.Duration // retention window for never-paid checkouts
	log          *zerolog.Logger
}

func NewPaymentReconciler(
	uc usecase.PaymentUseCase,
	payments repository.PaymentRepository,
	interval, staleAfter, abandonAfter time.Duration,
	logger *zerolog.Logger,
) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if abandonAfter <= 0 {
		abandonAfter = 24 * time.Hour
	}
	compLog := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{
		uc:           uc,
		payments:     payments,
		interval:     interval,
		staleAfter:   staleAfter,
		abandonAfter: abandonAfter,
		log:          &compLog,
	}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("starting payment reconciler")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping payment reconciler")
			return ctx.Err()
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *PaymentReconciler) tick(ctx context.Context) {
	w.pollStale(ctx)

	if n, err := w.uc.RepairActivations(ctx, 100); err != nil {
		w.log.Error().Err(err).Msg("activation repair pass failed")
	} else if n > 0 {
		w.log.Info().Int("count", n).Msg("activations repaired")
	}

	cutoff := time.Now().Add(-w.abandonAfter)
	if n, err := w.uc.PurgeAbandoned(ctx, cutoff); err != nil {
		w.log.Error().Err(err).Msg("abandoned purge failed")
	} else if n > 0 {
		w.log.Info().Int("count", n).Msg("abandoned checkouts removed")
	}
}

func (w *PaymentReconciler) pollStale(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	stale, err := w.payments.ListOpenOlderThan(ctx, repository.NoTX, cutoff, 200)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			w.log.Error().Err(err).Msg("stale payment scan failed")
		}
		return
	}
	for _, p := range stale {
		if p.GatewayInvoiceID == "" {
			continue
		}
		if _, err := w.uc.SyncStatus(ctx, p.GatewayInvoiceID); err != nil {
			// Unavailable gateways resolve on a later tick.
			w.log.Warn().Err(err).Str("payment_id", p.ID).Str("invoice_id", p.GatewayInvoiceID).Msg("status sync failed")
			continue
		}
		w.log.Info().Str("payment_id", p.ID).Msg("stale payment reconciled")
	}
}
