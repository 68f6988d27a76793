package homework

import (
	"context"
	"errors"
	"testing"

	"github.com/tutorlinkhq/tutorbot/internal/models"
	"github.com/tutorlinkhq/tutorbot/internal/store"
)

func TestHomeworkSubmitted(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	svc := NewService(st)

	fields := map[string]string{
		models.FieldSubject:      "Math",
		models.FieldHomeworkType: "essay",
		models.FieldContent:      "My answer:\n x = 42 ",
	}
	if err := svc.HomeworkSubmitted(ctx, "+1", fields); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	submissions, err := st.ListHomework()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(submissions) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(submissions))
	}
	sub := submissions[0]
	if sub.Subject != "Math" || sub.Type != "essay" {
		t.Errorf("submission fields wrong: %+v", sub)
	}
	// Content keeps its whitespace; only subject/type are trimmed.
	if sub.Content != "My answer:\n x = 42 " {
		t.Errorf("content not stored verbatim: %q", sub.Content)
	}
	if sub.ID == "" || sub.ID[:3] != "hw_" {
		t.Errorf("unexpected submission ID %q", sub.ID)
	}
}

func TestHomeworkSubmittedValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewInMemoryStore())

	err := svc.HomeworkSubmitted(ctx, "", map[string]string{models.FieldSubject: "Math", models.FieldContent: "x"})
	if !errors.Is(err, models.ErrEmptyPhone) {
		t.Errorf("expected ErrEmptyPhone, got %v", err)
	}
	err = svc.HomeworkSubmitted(ctx, "+1", map[string]string{models.FieldContent: "x"})
	if !errors.Is(err, models.ErrMissingSubject) {
		t.Errorf("expected ErrMissingSubject, got %v", err)
	}
	err = svc.HomeworkSubmitted(ctx, "+1", map[string]string{models.FieldSubject: "Math", models.FieldContent: "  "})
	if !errors.Is(err, models.ErrMissingContent) {
		t.Errorf("expected ErrMissingContent, got %v", err)
	}
}
