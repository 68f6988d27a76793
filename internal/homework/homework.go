// Package homework persists homework submissions emitted by the
// dialogue router.
package homework

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tutorlinkhq/tutorbot/internal/models"
	"github.com/tutorlinkhq/tutorbot/internal/store"
	"github.com/tutorlinkhq/tutorbot/internal/util"
)

// Service records homework submissions. It implements the router's
// HomeworkSink contract.
type Service struct {
	store store.Store
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service's time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a homework service over the given store.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HomeworkSubmitted validates and persists one submission collected by
// the dialogue pipeline. Content is stored exactly as typed.
func (s *Service) HomeworkSubmitted(ctx context.Context, phone string, fields map[string]string) error {
	if phone == "" {
		return models.ErrEmptyPhone
	}
	if strings.TrimSpace(fields[models.FieldSubject]) == "" {
		return models.ErrMissingSubject
	}
	if strings.TrimSpace(fields[models.FieldContent]) == "" {
		return models.ErrMissingContent
	}

	submission := models.HomeworkSubmission{
		ID:          util.GenerateHomeworkID(),
		PhoneNumber: phone,
		Subject:     strings.TrimSpace(fields[models.FieldSubject]),
		Type:        strings.TrimSpace(fields[models.FieldHomeworkType]),
		Content:     fields[models.FieldContent],
		SubmittedAt: s.now(),
	}
	if err := s.store.AddHomework(submission); err != nil {
		slog.Error("Homework persist failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to store homework for %s: %w", phone, err)
	}
	slog.Info("Homework submission recorded", "phone", phone, "id", submission.ID, "subject", submission.Subject)
	return nil
}
