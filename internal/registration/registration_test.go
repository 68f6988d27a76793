package registration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tutorlinkhq/tutorbot/internal/models"
	"github.com/tutorlinkhq/tutorbot/internal/store"
)

func validFields() map[string]string {
	return map[string]string{
		models.FieldFullName:   "John Doe",
		models.FieldEmail:      "john@example.com",
		models.FieldClassGrade: "10A",
	}
}

func TestRegistrationCompleted(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	svc := NewService(st)

	if err := svc.RegistrationCompleted(ctx, "+1", validFields()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	student, err := st.GetStudent("+1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if student == nil || student.FullName != "John Doe" || student.Email != "john@example.com" || student.ClassGrade != "10A" {
		t.Errorf("student not persisted correctly: %+v", student)
	}
}

func TestRegistrationCompletedInvalidEmail(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewInMemoryStore())

	fields := validFields()
	fields[models.FieldEmail] = "not-an-email"
	err := svc.RegistrationCompleted(ctx, "+1", fields)
	if !errors.Is(err, models.ErrInvalidEmail) {
		t.Errorf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestRegistrationCompletedMissingName(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewInMemoryStore())

	fields := validFields()
	fields[models.FieldFullName] = "   "
	err := svc.RegistrationCompleted(ctx, "+1", fields)
	if !errors.Is(err, models.ErrMissingFullName) {
		t.Errorf("expected ErrMissingFullName, got %v", err)
	}
}

func TestRegistrationPreservesOriginalDate(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(30 * 24 * time.Hour)
	current := first
	svc := NewService(st, WithClock(func() time.Time { return current }))

	if err := svc.RegistrationCompleted(ctx, "+1", validFields()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.MarkSubscribed(ctx, "+1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Re-registering a month later keeps the original date and the
	// subscription.
	current = second
	fields := validFields()
	fields[models.FieldFullName] = "John Q. Doe"
	if err := svc.RegistrationCompleted(ctx, "+1", fields); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	student, _ := st.GetStudent("+1")
	if !student.RegisteredAt.Equal(first) {
		t.Errorf("registration date overwritten: %v", student.RegisteredAt)
	}
	if !student.Subscribed {
		t.Error("subscription flag lost on re-registration")
	}
	if student.FullName != "John Q. Doe" {
		t.Errorf("details not updated: %q", student.FullName)
	}
	if !student.UpdatedAt.Equal(second) {
		t.Errorf("UpdatedAt not advanced: %v", student.UpdatedAt)
	}
}

func TestDetailUpdated(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	svc := NewService(st)

	if err := svc.RegistrationCompleted(ctx, "+1", validFields()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.DetailUpdated(ctx, "+1", models.FieldEmail, "new@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	student, _ := st.GetStudent("+1")
	if student.Email != "new@example.com" {
		t.Errorf("email not updated: %q", student.Email)
	}

	if err := svc.DetailUpdated(ctx, "+1", models.FieldEmail, "garbage"); !errors.Is(err, models.ErrInvalidEmail) {
		t.Errorf("expected ErrInvalidEmail, got %v", err)
	}
	if err := svc.DetailUpdated(ctx, "+2", models.FieldFullName, "Nobody"); !errors.Is(err, models.ErrStudentNotFound) {
		t.Errorf("expected ErrStudentNotFound, got %v", err)
	}
	if err := svc.DetailUpdated(ctx, "+1", "shoe_size", "43"); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestProfile(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	svc := NewService(st)

	profile, err := svc.Profile(ctx, "+1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.IsRegistered {
		t.Error("unknown phone should yield zero profile")
	}

	if err := svc.RegistrationCompleted(ctx, "+1", validFields()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.MarkSubscribed(ctx, "+1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	profile, err = svc.Profile(ctx, "+1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !profile.IsRegistered || profile.StoredName != "John Doe" || profile.ClassGrade != "10A" || !profile.HasPaid {
		t.Errorf("profile wrong: %+v", profile)
	}
}
