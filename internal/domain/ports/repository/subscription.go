package repository

import (
	"context"
	"time"

	"course-subscription-service/internal/domain/model"
)

// SubscriptionRepository is the ledger port for subscriptions.
type SubscriptionRepository interface {
	// Create inserts a new subscription. Returns
	// domain.ErrDuplicateActiveSubscription when the user already holds a
	// live (pending or active) subscription for the same course; the
	// uniqueness is enforced by a storage constraint, not by a prior read.
	Create(ctx context.Context, tx Tx, s *model.Subscription) error

	// Save upserts the full record.
	Save(ctx context.Context, tx Tx, s *model.Subscription) error

	// FindByID loads one subscription. When tx carries a live transaction the
	// row is locked FOR UPDATE.
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)

	// FindLiveByUserAndCourse returns the pending or active subscription for
	// the pair, or domain.ErrNotFound.
	FindLiveByUserAndCourse(ctx context.Context, tx Tx, userID, courseID string) (*model.Subscription, error)

	// ListDueForExpiry returns active subscriptions with end_date < now.
	ListDueForExpiry(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Subscription, error)

	// MarkExpired transitions one subscription active->expired as a single
	// conditional update. Returns false when the row was not active anymore,
	// which makes concurrent sweeps race-safe.
	MarkExpired(ctx context.Context, tx Tx, id string, at time.Time) (bool, error)

	// FindExpiring returns active subscriptions whose end_date falls within
	// the lookahead window, ordered soonest first.
	FindExpiring(ctx context.Context, tx Tx, withinDays int) ([]*model.Subscription, error)

	// CountByStatus returns subscription counts grouped by status.
	CountByStatus(ctx context.Context, tx Tx) (map[model.SubscriptionStatus]int, error)
}
