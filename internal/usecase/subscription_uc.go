package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"course-subscription-service/internal/domain"
	"course-subscription-service/internal/domain/model"
	"course-subscription-service/internal/domain/ports/adapter"
	"course-subscription-service/internal/domain/ports/repository"
	"course-subscription-service/internal/infra/metrics"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// EnrollParams describes one enrollment request. CourseID selects a course
// enrollment; a nil CourseID with PeriodDays > 0 selects a period
// subscription. PeriodDays zero falls back to the course's access window.
type EnrollParams struct {
	UserID     string
	CourseID   *string
	PeriodDays int
	Price      int64
	Currency   string
}

// SubscriptionUseCase owns the subscription state machine. Every transition in
// the system, whether requested by a user, the payment reconciler or the
// sweeper, goes through this type.
type SubscriptionUseCase interface {
	Enroll(ctx context.Context, p EnrollParams) (*model.Subscription, error)
	// Activate is idempotent: repeating it with the same payment on an
	// already-active subscription returns the current state unchanged.
	Activate(ctx context.Context, subscriptionID, paymentID string) (*model.Subscription, error)
	// ActivateTx is Activate running inside a caller-owned transaction, used
	// by the payment reconciler to commit payment success and activation
	// together. The returned flag reports whether a transition happened.
	ActivateTx(ctx context.Context, tx repository.Tx, subscriptionID, paymentID string) (*model.Subscription, bool, error)
	Cancel(ctx context.Context, subscriptionID, reason, cancelledBy string, immediate bool) (*model.Subscription, error)
	Renew(ctx context.Context, subscriptionID string, periodDays int, autoRenewal bool) (*model.Subscription, error)
	Complete(ctx context.Context, subscriptionID string) (*model.Subscription, error)
	// SweepExpire transitions every active subscription with end_date before
	// now to expired and releases its seat. Safe to run concurrently with
	// itself: each transition is a single conditional update.
	SweepExpire(ctx context.Context, now time.Time) (int, error)
	Get(ctx context.Context, subscriptionID string) (*model.Subscription, error)
	CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error)
}

type subscriptionUC struct {
	subs     repository.SubscriptionRepository
	courses  repository.CourseRepository
	payments repository.PaymentRepository
	tm       repository.TransactionManager
	notifier adapter.Notifier
	users    adapter.UserDirectory
	log      *zerolog.Logger
}

func NewSubscriptionUseCase(
	subs repository.SubscriptionRepository,
	courses repository.CourseRepository,
	payments repository.PaymentRepository,
	tm repository.TransactionManager,
	notifier adapter.Notifier,
	users adapter.UserDirectory,
	logger *zerolog.Logger,
) *subscriptionUC {
	ucLog := logger.With().Str("component", "SubscriptionUC").Logger()
	return &subscriptionUC{
		subs:     subs,
		courses:  courses,
		payments: payments,
		tm:       tm,
		notifier: notifier,
		users:    users,
		log:      &ucLog,
	}
}

// Enroll creates a pending subscription and, for course enrollments, claims a
// capacity slot. Seat claim and subscription insert share one transaction, so
// a losing racer rolls back with no phantom slot left behind.
func (uc *subscriptionUC) Enroll(ctx context.Context, p EnrollParams) (*model.Subscription, error) {
	if p.UserID == "" || p.Currency == "" || p.Price < 0 {
		return nil, domain.ErrInvalidArgument
	}
	if p.CourseID == nil && p.PeriodDays <= 0 {
		return nil, domain.ErrInvalidArgument
	}

	var sub *model.Subscription
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if p.CourseID == nil {
			s, err := model.NewPeriodSubscription(uuid.NewString(), p.UserID, p.PeriodDays, p.Price, p.Currency)
			if err != nil {
				return err
			}
			if err := uc.subs.Create(ctx, tx, s); err != nil {
				return err
			}
			sub = s
			return nil
		}

		course, err := uc.courses.FindByID(ctx, tx, *p.CourseID)
		if err != nil {
			return err
		}
		periodDays := p.PeriodDays
		if periodDays <= 0 {
			periodDays = course.AccessDays
		}

		// Reject a repeat enrollment before claiming a seat. The storage
		// constraint in Create still backs this against concurrent racers.
		if _, err := uc.subs.FindLiveByUserAndCourse(ctx, tx, p.UserID, course.ID); err == nil {
			return domain.ErrDuplicateActiveSubscription
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		ok, err := uc.courses.ReserveSeat(ctx, tx, course.ID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrCapacityExceeded
		}

		s, err := model.NewCourseSubscription(uuid.NewString(), p.UserID, course.ID, periodDays, p.Price, p.Currency)
		if err != nil {
			return err
		}
		// A duplicate here rolls back the seat claim with the transaction.
		if err := uc.subs.Create(ctx, tx, s); err != nil {
			return err
		}
		sub = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.log.Info().Str("subscription_id", sub.ID).Str("user_id", sub.UserID).Msg("enrollment created")
	metrics.IncEnrollments()
	return sub, nil
}

func (uc *subscriptionUC) Activate(ctx context.Context, subscriptionID, paymentID string) (*model.Subscription, error) {
	var (
		sub     *model.Subscription
		changed bool
	)
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		sub, changed, err = uc.ActivateTx(ctx, tx, subscriptionID, paymentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		uc.notify(ctx, adapter.NotificationActivated, sub.UserID, map[string]any{
			"subscription_id": sub.ID,
			"end_date":        sub.EndDate,
		})
	}
	return sub, nil
}

func (uc *subscriptionUC) ActivateTx(ctx context.Context, tx repository.Tx, subscriptionID, paymentID string) (*model.Subscription, bool, error) {
	if subscriptionID == "" || paymentID == "" {
		return nil, false, domain.ErrInvalidArgument
	}
	sub, err := uc.subs.FindByID(ctx, tx, subscriptionID)
	if err != nil {
		return nil, false, err
	}
	payment, err := uc.payments.FindByID(ctx, tx, paymentID)
	if err != nil {
		return nil, false, err
	}
	if payment.SubscriptionID != sub.ID {
		return nil, false, domain.ErrInvalidArgument
	}

	switch sub.Status {
	case model.SubscriptionStatusActive:
		// Repeat delivery of the same payment result: no-op.
		return sub, false, nil
	case model.SubscriptionStatusPending:
		// fall through to the transition below
	default:
		return nil, false, domain.ErrInvalidTransition
	}

	now := time.Now()
	end := now.Add(time.Duration(sub.PeriodDays) * 24 * time.Hour)
	sub.Status = model.SubscriptionStatusActive
	sub.StartDate = &now
	sub.EndDate = &end
	sub.PaidAmount += payment.Amount
	if sub.AutoRenewal {
		sub.NextBillingDate = &end
	}
	sub.UpdatedAt = now
	if err := uc.subs.Save(ctx, tx, sub); err != nil {
		return nil, false, err
	}

	uc.log.Info().Str("subscription_id", sub.ID).Str("payment_id", paymentID).Msg("subscription activated")
	metrics.IncActivations()
	return sub, true, nil
}

func (uc *subscriptionUC) Cancel(ctx context.Context, subscriptionID, reason, cancelledBy string, immediate bool) (*model.Subscription, error) {
	if subscriptionID == "" {
		return nil, domain.ErrInvalidArgument
	}
	var sub *model.Subscription
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := uc.subs.FindByID(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		switch s.Status {
		case model.SubscriptionStatusCancelled:
			return domain.ErrAlreadyCancelled
		case model.SubscriptionStatusExpired, model.SubscriptionStatusCompleted:
			return domain.ErrInvalidTransition
		}

		now := time.Now()
		s.CancellationReason = &reason
		s.CancelledAt = &now
		if cancelledBy != "" {
			s.CancelledBy = &cancelledBy
		}

		switch {
		case s.Status == model.SubscriptionStatusPending, immediate:
			wasLive := s.Status.IsLive()
			if s.Status == model.SubscriptionStatusActive {
				s.EndDate = &now
			}
			s.Status = model.SubscriptionStatusCancelled
			s.AutoRenewal = false
			s.NextBillingDate = nil
			if wasLive && s.CourseID != nil {
				if err := uc.courses.ReleaseSeat(ctx, tx, *s.CourseID); err != nil {
					return err
				}
			}
		default:
			// Deferred cancellation: the subscription stays active until its
			// natural end date; the sweep expires it later.
			s.AutoRenewal = false
			s.NextBillingDate = nil
		}
		s.UpdatedAt = now
		if err := uc.subs.Save(ctx, tx, s); err != nil {
			return err
		}
		sub = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.log.Info().Str("subscription_id", sub.ID).Bool("immediate", immediate).Msg("subscription cancelled")
	metrics.IncCancellations(immediate)
	uc.notify(ctx, adapter.NotificationCancelled, sub.UserID, map[string]any{
		"subscription_id": sub.ID,
		"immediate":       immediate,
		"reason":          reason,
	})
	return sub, nil
}

// Renew extends an active subscription. Lapsed agreements (cancelled or
// expired) must go back through Enroll; reviving them silently is not allowed.
func (uc *subscriptionUC) Renew(ctx context.Context, subscriptionID string, periodDays int, autoRenewal bool) (*model.Subscription, error) {
	if subscriptionID == "" || periodDays <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	var sub *model.Subscription
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := uc.subs.FindByID(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if s.Status != model.SubscriptionStatusActive || s.EndDate == nil {
			return domain.ErrInvalidTransition
		}

		end := s.EndDate.Add(time.Duration(periodDays) * 24 * time.Hour)
		s.EndDate = &end
		s.AutoRenewal = autoRenewal
		if autoRenewal {
			s.NextBillingDate = &end
		} else {
			s.NextBillingDate = nil
		}
		s.UpdatedAt = time.Now()
		if err := uc.subs.Save(ctx, tx, s); err != nil {
			return err
		}
		sub = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	uc.log.Info().Str("subscription_id", sub.ID).Int("period_days", periodDays).Msg("subscription renewed")
	return sub, nil
}

// Complete marks an active subscription as completed when the student
// finishes the course. Terminal; the seat is released.
func (uc *subscriptionUC) Complete(ctx context.Context, subscriptionID string) (*model.Subscription, error) {
	if subscriptionID == "" {
		return nil, domain.ErrInvalidArgument
	}
	var sub *model.Subscription
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := uc.subs.FindByID(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if s.Status != model.SubscriptionStatusActive {
			return domain.ErrInvalidTransition
		}
		s.Status = model.SubscriptionStatusCompleted
		s.UpdatedAt = time.Now()
		if err := uc.subs.Save(ctx, tx, s); err != nil {
			return err
		}
		if s.CourseID != nil {
			if err := uc.courses.ReleaseSeat(ctx, tx, *s.CourseID); err != nil {
				return err
			}
		}
		sub = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (uc *subscriptionUC) SweepExpire(ctx context.Context, now time.Time) (int, error) {
	due, err := uc.subs.ListDueForExpiry(ctx, repository.NoTX, now, 0)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	expired := 0
	var firstErr error
	for _, s := range due {
		s := s
		var transitioned bool
		err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			// Guarded by current status, so a concurrent sweep replica
			// produces at most one effective transition per subscription.
			ok, err := uc.subs.MarkExpired(ctx, tx, s.ID, now)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if s.CourseID != nil {
				if err := uc.courses.ReleaseSeat(ctx, tx, *s.CourseID); err != nil {
					return err
				}
			}
			transitioned = true
			return nil
		})
		if err != nil {
			uc.log.Error().Err(err).Str("subscription_id", s.ID).Msg("expire transition failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		// Another replica or a concurrent cancel may have moved the row
		// already; only the effective transition emits the event.
		if !transitioned {
			continue
		}
		expired++
		uc.notify(ctx, adapter.NotificationExpired, s.UserID, map[string]any{
			"subscription_id": s.ID,
			"end_date":        s.EndDate,
		})
	}
	return expired, firstErr
}

func (uc *subscriptionUC) Get(ctx context.Context, subscriptionID string) (*model.Subscription, error) {
	return uc.subs.FindByID(ctx, repository.NoTX, subscriptionID)
}

func (uc *subscriptionUC) CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error) {
	return uc.subs.CountByStatus(ctx, repository.NoTX)
}

// notify resolves the recipient and sends; delivery problems are logged, never
// returned to the caller.
func (uc *subscriptionUC) notify(ctx context.Context, kind adapter.NotificationKind, userID string, data map[string]any) {
	email, err := uc.users.EmailOf(ctx, userID)
	if err != nil {
		uc.log.Warn().Err(err).Str("user_id", userID).Msg("recipient lookup failed")
		return
	}
	if err := uc.notifier.Notify(ctx, kind, email, data); err != nil {
		uc.log.Warn().Err(err).Str("kind", string(kind)).Str("user_id", userID).Msg("notification delivery failed")
	}
}
