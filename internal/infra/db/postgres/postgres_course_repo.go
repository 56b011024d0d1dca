package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"course-subscription-service/internal/domain"
	"course-subscription-service/internal/domain/model"
	"course-subscription-service/internal/domain/ports/repository"
)

var _ repository.CourseRepository = (*courseRepo)(nil)

type courseRepo struct{ pool *pgxpool.Pool }

func NewCourseRepo(pool *pgxpool.Pool) *courseRepo {
	return &courseRepo{pool: pool}
}

func (r *courseRepo) Save(ctx context.Context, tx repository.Tx, c *model.Course) error {
	const q = `
INSERT INTO courses (id, title, access_days, max_students, seats_reserved)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET
  title=$2, access_days=$3, max_students=$4;`
	_, err := execSQL(ctx, r.pool, tx, q, c.ID, c.Title, c.AccessDays, c.MaxStudents, c.SeatsReserved)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *courseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Course, error) {
	q := `SELECT id, title, access_days, max_students, seats_reserved FROM courses WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	c := &model.Course{}
	if err := row.Scan(&c.ID, &c.Title, &c.AccessDays, &c.MaxStudents, &c.SeatsReserved); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return c, nil
}

// ReserveSeat claims one seat as a single conditional update. Zero rows
// affected means the course is full; no read-then-write window exists.
func (r *courseRepo) ReserveSeat(ctx context.Context, tx repository.Tx, courseID string) (bool, error) {
	const q = `
UPDATE courses
   SET seats_reserved = seats_reserved + 1
 WHERE id=$1 AND (max_students = 0 OR seats_reserved < max_students);`
	cmd, err := execSQL(ctx, r.pool, tx, q, courseID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *courseRepo) ReleaseSeat(ctx context.Context, tx repository.Tx, courseID string) error {
	const q = `
UPDATE courses
   SET seats_reserved = GREATEST(seats_reserved - 1, 0)
 WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, courseID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}
