package repository

import (
	"context"

	"course-subscription-service/internal/domain/model"
)

// CourseRepository owns the capacity counters. Seat mutations happen only
// through ReserveSeat/ReleaseSeat inside the engine's transactions; nothing
// else may touch the counter.
type CourseRepository interface {
	Save(ctx context.Context, tx Tx, c *model.Course) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Course, error)

	// ReserveSeat increments seats_reserved as a single conditional update
	// that fails (returns false) when the course is full. Never implemented
	// as read-then-write.
	ReserveSeat(ctx context.Context, tx Tx, courseID string) (bool, error)

	// ReleaseSeat decrements seats_reserved, clamped at zero.
	ReleaseSeat(ctx context.Context, tx Tx, courseID string) error
}
