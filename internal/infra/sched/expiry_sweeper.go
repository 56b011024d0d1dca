package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"course-subscription-service/internal/domain"
	"course-subscription-service/internal/domain/ports/adapter"
	"course-subscription-service/internal/domain/ports/repository"
	"course-subscription-service/internal/infra/metrics"
	red "course-subscription-service/internal/infra/redis"
	"course-subscription-service/internal/usecase"
)

const sweepLockKey = "sweep:expiry"

// ExpirySweeper periodically expires overdue subscriptions and emits
// "expiring soon" notifications. RunOnce is the idempotent entry point an
// external scheduler can also trigger directly.
type ExpirySweeper struct {
	interval      time.Duration
	lookaheadDays int
	subUC         usecase.SubscriptionUseCase
	subs          repository.SubscriptionRepository
	notifLog      repository.NotificationLogRepository
	notifier      adapter.Notifier
	users         adapter.UserDirectory
	locker        red.Locker
	log           *zerolog.Logger
}

func NewExpirySweeper(
	interval time.Duration,
	lookaheadDays int,
	subUC usecase.SubscriptionUseCase,
	subs repository.SubscriptionRepository,
	notifLog repository.NotificationLogRepository,
	notifier adapter.Notifier,
	users adapter.UserDirectory,
	locker red.Locker,
	logger *zerolog.Logger,
) *ExpirySweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if lookaheadDays <= 0 {
		lookaheadDays = 7
	}
	compLog := logger.With().Str("component", "ExpirySweeper").Logger()
	return &ExpirySweeper{
		interval:      interval,
		lookaheadDays: lookaheadDays,
		subUC:         subUC,
		subs:          subs,
		notifLog:      notifLog,
		notifier:      notifier,
		users:         users,
		locker:        locker,
		log:           &compLog,
	}
}

func (w *ExpirySweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("starting expiry sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping expiry sweeper")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx, time.Now())
		}
	}
}

// RunOnce performs one sweep pass. The redis lock keeps replicas from doing
// duplicate work; a replica that sweeps anyway is still safe because each
// expire transition is conditionally guarded.
func (w *ExpirySweeper) RunOnce(ctx context.Context, now time.Time) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, sweepLockKey, w.interval)
		if err != nil {
			if !errors.Is(err, red.ErrLockHeld) {
				w.log.Warn().Err(err).Msg("sweep lock unavailable, proceeding unlocked")
			} else {
				w.log.Debug().Msg("sweep already running elsewhere")
				return
			}
		} else {
			defer func() {
				if err := w.locker.Unlock(ctx, sweepLockKey, token); err != nil {
					w.log.Warn().Err(err).Msg("sweep lock release failed")
				}
			}()
		}
	}

	n, err := w.subUC.SweepExpire(ctx, now)
	if err != nil {
		w.log.Error().Err(err).Msg("expiry sweep finished with errors")
	}
	if n > 0 {
		metrics.IncSubscriptionsExpired(n)
		w.log.Info().Int("count", n).Msg("subscriptions expired")
	}

	w.notifyExpiring(ctx)
	w.refreshGauges(ctx)
}

// notifyExpiring emits one notice per subscription entering the lookahead
// window. Notify-only, no state change; a notifier failure for one
// subscription must not stop the rest.
func (w *ExpirySweeper) notifyExpiring(ctx context.Context) {
	expiring, err := w.subs.FindExpiring(ctx, repository.NoTX, w.lookaheadDays)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			w.log.Error().Err(err).Msg("expiring lookup failed")
		}
		return
	}

	sent, failed := 0, 0
	for _, s := range expiring {
		exists, err := w.notifLog.Exists(ctx, repository.NoTX, s.ID, string(adapter.NotificationExpiring), w.lookaheadDays)
		if err != nil {
			failed++
			continue
		}
		if exists {
			continue
		}

		email, err := w.users.EmailOf(ctx, s.UserID)
		if err != nil {
			w.log.Warn().Err(err).Str("user_id", s.UserID).Msg("recipient lookup failed")
			failed++
			continue
		}
		if err := w.notifier.Notify(ctx, adapter.NotificationExpiring, email, map[string]any{
			"subscription_id": s.ID,
			"end_date":        s.EndDate,
		}); err != nil {
			w.log.Warn().Err(err).Str("subscription_id", s.ID).Msg("expiring notice delivery failed")
			failed++
			continue
		}
		if err := w.notifLog.Save(ctx, repository.NoTX, s.ID, s.UserID, string(adapter.NotificationExpiring), w.lookaheadDays); err != nil {
			w.log.Warn().Err(err).Str("subscription_id", s.ID).Msg("notification log write failed")
		}
		sent++
	}
	if sent > 0 || failed > 0 {
		w.log.Info().Int("sent", sent).Int("failed", failed).Msg("expiring notices processed")
	}
}

func (w *ExpirySweeper) refreshGauges(ctx context.Context) {
	counts, err := w.subUC.CountByStatus(ctx)
	if err != nil {
		return
	}
	metrics.SetSubscriptionsTotal(counts)
}
