package model

import (
	"time"

	"course-subscription-service/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCompleted SubscriptionStatus = "completed"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s SubscriptionStatus) IsTerminal() bool {
	switch s {
	case SubscriptionStatusCancelled, SubscriptionStatusExpired, SubscriptionStatusCompleted:
		return true
	}
	return false
}

// IsLive reports whether s still holds a capacity slot.
func (s SubscriptionStatus) IsLive() bool {
	return s == SubscriptionStatusPending || s == SubscriptionStatusActive
}

type SubscriptionKind string

const (
	SubscriptionKindCourse SubscriptionKind = "course"
	SubscriptionKindPeriod SubscriptionKind = "period"
)

// Subscription is a single enrollment agreement. It is created pending on
// enroll and only becomes active as the side effect of a successful payment.
type Subscription struct {
	ID       string  // UUID
	UserID   string  // UUID of student
	CourseID *string // UUID of course; nil for period subscriptions
	Kind     SubscriptionKind
	Status   SubscriptionStatus

	Price      int64 // minor currency units
	Currency   string
	PaidAmount int64

	// PeriodDays is the paid access window, counted from activation.
	PeriodDays int

	StartDate *time.Time // set on activation
	EndDate   *time.Time // set on activation; active implies EndDate present

	AutoRenewal     bool
	NextBillingDate *time.Time

	CancellationReason *string
	CancelledAt        *time.Time
	CancelledBy        *string // UUID of the actor that requested cancellation

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewCourseSubscription creates a pending enrollment for a single course.
func NewCourseSubscription(id, userID, courseID string, periodDays int, price int64, currency string) (*Subscription, error) {
	if id == "" || userID == "" || courseID == "" || periodDays <= 0 || price < 0 || currency == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Subscription{
		ID:         id,
		UserID:     userID,
		CourseID:   &courseID,
		Kind:       SubscriptionKindCourse,
		Status:     SubscriptionStatusPending,
		Price:      price,
		Currency:   currency,
		PeriodDays: periodDays,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// NewPeriodSubscription creates a pending platform-wide subscription covering
// the given period. Period subscriptions are not tied to a course and do not
// reserve capacity.
func NewPeriodSubscription(id, userID string, periodDays int, price int64, currency string) (*Subscription, error) {
	if id == "" || userID == "" || periodDays <= 0 || price < 0 || currency == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Subscription{
		ID:         id,
		UserID:     userID,
		Kind:       SubscriptionKindPeriod,
		Status:     SubscriptionStatusPending,
		Price:      price,
		Currency:   currency,
		PeriodDays: periodDays,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
