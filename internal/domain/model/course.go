package model

// Course is the slice of the catalog this service owns: pricing defaults and
// the seat counters. Lesson content and catalog metadata live elsewhere.
type Course struct {
	ID         string // UUID
	Title      string
	AccessDays int // default paid access window for new enrollments

	// MaxStudents is the enrollment limit; 0 means unlimited.
	// SeatsReserved counts live (pending or active) subscriptions and is
	// mutated only inside the engine's enroll/release transactions.
	MaxStudents   int
	SeatsReserved int
}

// HasFreeSeat reports whether one more enrollment would fit.
func (c *Course) HasFreeSeat() bool {
	return c.MaxStudents == 0 || c.SeatsReserved < c.MaxStudents
}
