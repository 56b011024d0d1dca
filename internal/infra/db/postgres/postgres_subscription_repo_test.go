//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"course-subscription-service/internal/domain"
	"course-subscription-service/internal/domain/model"
	"course-subscription-service/internal/domain/ports/repository"
)

func seedCourse(t *testing.T, maxStudents int) *model.Course {
	t.Helper()
	c := &model.Course{
		ID:          uuid.NewString(),
		Title:       "Integration Testing in Go",
		AccessDays:  60,
		MaxStudents: maxStudents,
	}
	if err := NewCourseRepo(testPool).Save(context.Background(), nil, c); err != nil {
		t.Fatalf("failed to save course: %v", err)
	}
	return c
}

func TestSubscriptionRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewSubscriptionRepo(testPool)

	t.Run("should round-trip a course subscription", func(t *testing.T) {
		cleanup(t)
		course := seedCourse(t, 10)
		sub, err := model.NewCourseSubscription(uuid.NewString(), uuid.NewString(), course.ID, 60, 25000, "UAH")
		if err != nil {
			t.Fatalf("new subscription: %v", err)
		}
		if err := repo.Create(ctx, nil, sub); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		found, err := repo.FindByID(ctx, nil, sub.ID)
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if found.UserID != sub.UserID || found.Status != model.SubscriptionStatusPending {
			t.Errorf("round trip mismatch: %+v", found)
		}
		if found.CourseID == nil || *found.CourseID != course.ID {
			t.Error("course reference lost")
		}
	})

	t.Run("should enforce one live subscription per user and course", func(t *testing.T) {
		cleanup(t)
		course := seedCourse(t, 10)
		userID := uuid.NewString()

		first, _ := model.NewCourseSubscription(uuid.NewString(), userID, course.ID, 60, 100, "UAH")
		if err := repo.Create(ctx, nil, first); err != nil {
			t.Fatalf("first Create failed: %v", err)
		}

		second, _ := model.NewCourseSubscription(uuid.NewString(), userID, course.ID, 60, 100, "UAH")
		if err := repo.Create(ctx, nil, second); !errors.Is(err, domain.ErrDuplicateActiveSubscription) {
			t.Fatalf("expected ErrDuplicateActiveSubscription, got: %v", err)
		}

		// A cancelled agreement frees the slot for a re-enrollment.
		first.Status = model.SubscriptionStatusCancelled
		if err := repo.Save(ctx, nil, first); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if err := repo.Create(ctx, nil, second); err != nil {
			t.Fatalf("re-enrollment after cancel failed: %v", err)
		}
	})

	t.Run("should expire an active subscription exactly once", func(t *testing.T) {
		cleanup(t)
		course := seedCourse(t, 10)
		sub, _ := model.NewCourseSubscription(uuid.NewString(), uuid.NewString(), course.ID, 60, 100, "UAH")
		now := time.Now()
		end := now.Add(-time.Hour)
		sub.Status = model.SubscriptionStatusActive
		sub.StartDate = &now
		sub.EndDate = &end
		if err := repo.Create(ctx, nil, sub); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		due, err := repo.ListDueForExpiry(ctx, nil, time.Now(), 0)
		if err != nil {
			t.Fatalf("ListDueForExpiry failed: %v", err)
		}
		if len(due) != 1 || due[0].ID != sub.ID {
			t.Fatalf("expected the overdue subscription, got %d rows", len(due))
		}

		ok, err := repo.MarkExpired(ctx, nil, sub.ID, time.Now())
		if err != nil || !ok {
			t.Fatalf("MarkExpired: ok=%v err=%v", ok, err)
		}
		// The conditional update makes a concurrent second sweep a no-op.
		ok, err = repo.MarkExpired(ctx, nil, sub.ID, time.Now())
		if err != nil || ok {
			t.Fatalf("second MarkExpired must not match: ok=%v err=%v", ok, err)
		}
	})

	t.Run("should find subscriptions entering the expiry window", func(t *testing.T) {
		cleanup(t)
		course := seedCourse(t, 10)
		soonEnd := time.Now().Add(3 * 24 * time.Hour)
		farEnd := time.Now().Add(30 * 24 * time.Hour)
		for _, end := range []time.Time{soonEnd, farEnd} {
			end := end
			sub, _ := model.NewCourseSubscription(uuid.NewString(), uuid.NewString(), course.ID, 60, 100, "UAH")
			sub.Status = model.SubscriptionStatusActive
			sub.EndDate = &end
			if err := repo.Create(ctx, nil, sub); err != nil {
				t.Fatalf("Create failed: %v", err)
			}
		}

		expiring, err := repo.FindExpiring(ctx, nil, 7)
		if err != nil {
			t.Fatalf("FindExpiring failed: %v", err)
		}
		if len(expiring) != 1 {
			t.Fatalf("expected 1 expiring subscription, got %d", len(expiring))
		}
	})

	t.Run("should count subscriptions by status", func(t *testing.T) {
		cleanup(t)
		course := seedCourse(t, 10)
		for i := 0; i < 3; i++ {
			sub, _ := model.NewCourseSubscription(uuid.NewString(), uuid.NewString(), course.ID, 60, 100, "UAH")
			if i == 0 {
				sub.Status = model.SubscriptionStatusActive
			}
			if err := repo.Create(ctx, nil, sub); err != nil {
				t.Fatalf("Create failed: %v", err)
			}
		}

		counts, err := repo.CountByStatus(ctx, nil)
		if err != nil {
			t.Fatalf("CountByStatus failed: %v", err)
		}
		if counts[model.SubscriptionStatusPending] != 2 || counts[model.SubscriptionStatusActive] != 1 {
			t.Errorf("counts = %v", counts)
		}
	})
}

func TestCourseRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewCourseRepo(testPool)

	t.Run("should stop reserving seats at capacity", func(t *testing.T) {
		cleanup(t)
		course := seedCourse(t, 2)

		for i := 0; i < 2; i++ {
			ok, err := repo.ReserveSeat(ctx, nil, course.ID)
			if err != nil || !ok {
				t.Fatalf("reservation %d: ok=%v err=%v", i, ok, err)
			}
		}
		ok, err := repo.ReserveSeat(ctx, nil, course.ID)
		if err != nil {
			t.Fatalf("ReserveSeat failed: %v", err)
		}
		if ok {
			t.Fatal("reservation beyond capacity must fail")
		}

		if err := repo.ReleaseSeat(ctx, nil, course.ID); err != nil {
			t.Fatalf("ReleaseSeat failed: %v", err)
		}
		ok, err = repo.ReserveSeat(ctx, nil, course.ID)
		if err != nil || !ok {
			t.Fatalf("reservation after release: ok=%v err=%v", ok, err)
		}
	})

	t.Run("release clamps at zero", func(t *testing.T) {
		cleanup(t)
		course := seedCourse(t, 2)
		if err := repo.ReleaseSeat(ctx, nil, course.ID); err != nil {
			t.Fatalf("ReleaseSeat failed: %v", err)
		}
		found, err := repo.FindByID(ctx, nil, course.ID)
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if found.SeatsReserved != 0 {
			t.Errorf("seats = %d, want 0", found.SeatsReserved)
		}
	})
}

func TestTxManager_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	tm := NewTxManager(testPool)
	subs := NewSubscriptionRepo(testPool)
	courses := NewCourseRepo(testPool)

	t.Run("rollback discards the seat claim together with the insert", func(t *testing.T) {
		cleanup(t)
		course := seedCourse(t, 5)
		boom := errors.New("boom")

		err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			ok, err := courses.ReserveSeat(ctx, tx, course.ID)
			if err != nil || !ok {
				t.Fatalf("ReserveSeat in tx: ok=%v err=%v", ok, err)
			}
			sub, _ := model.NewCourseSubscription(uuid.NewString(), uuid.NewString(), course.ID, 60, 100, "UAH")
			if err := subs.Create(ctx, tx, sub); err != nil {
				t.Fatalf("Create in tx: %v", err)
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected the inner error, got: %v", err)
		}

		found, err := courses.FindByID(ctx, nil, course.ID)
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if found.SeatsReserved != 0 {
			t.Errorf("phantom seat left behind: %d reserved", found.SeatsReserved)
		}
		counts, err := subs.CountByStatus(ctx, nil)
		if err != nil {
			t.Fatalf("CountByStatus failed: %v", err)
		}
		if len(counts) != 0 {
			t.Errorf("phantom subscription left behind: %v", counts)
		}
	})
}
