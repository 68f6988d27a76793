// Package registration persists student registrations emitted by the
// dialogue router and serves registration snapshots back to it.
package registration

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/tutorlinkhq/tutorbot/internal/models"
	"github.com/tutorlinkhq/tutorbot/internal/store"
)

// Service validates and persists registration outcomes. It implements
// the router's RegistrationSink and ProfileResolver contracts.
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

// NewService creates a registration service over the given store.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegistrationCompleted validates the collected fields and persists the
// student. The router has already moved on; a validation failure here is
// logged and reported, never surfaced to the user mid-conversation.
// Re-registering an existing phone updates the details in place.
func (s *Service) RegistrationCompleted(ctx context.Context, phone string, fields map[string]string) error {
	if phone == "" {
		return models.ErrEmptyPhone
	}
	if err := models.ValidateRegistrationFields(fields); err != nil {
		slog.Error("Registration rejected invalid fields", "error", err, "phone", phone)
		return fmt.Errorf("invalid registration for %s: %w", phone, err)
	}

	now := s.now()
	student := models.Student{
		PhoneNumber:  phone,
		FullName:     strings.TrimSpace(fields[models.FieldFullName]),
		Email:        strings.TrimSpace(fields[models.FieldEmail]),
		ClassGrade:   strings.TrimSpace(fields[models.FieldClassGrade]),
		RegisteredAt: now,
		UpdatedAt:    now,
	}

	existing, err := s.store.GetStudent(phone)
	if err != nil {
		return fmt.Errorf("failed to check existing student %s: %w", phone, err)
	}
	if existing != nil {
		// Keep the original registration date and subscription flag.
		student.RegisteredAt = existing.RegisteredAt
		student.Subscribed = existing.Subscribed
	}

	if err := s.store.SaveStudent(student); err != nil {
		slog.Error("Registration persist failed", "error", err, "phone", phone)
		return err
	}
	slog.Info("Registration completed", "phone", phone, "name", student.FullName, "class", student.ClassGrade)
	return nil
}

// DetailUpdated applies a single-field update to an existing student.
func (s *Service) DetailUpdated(ctx context.Context, phone, field, value string) error {
	if phone == "" {
		return models.ErrEmptyPhone
	}
	student, err := s.store.GetStudent(phone)
	if err != nil {
		return fmt.Errorf("failed to load student %s: %w", phone, err)
	}
	if student == nil {
		slog.Warn("Detail update for unknown student", "phone", phone, "field", field)
		return models.ErrStudentNotFound
	}

	value = strings.TrimSpace(value)
	switch field {
	case models.FieldFullName:
		if value == "" {
			return models.ErrMissingFullName
		}
		student.FullName = value
	case models.FieldEmail:
		if _, err := mail.ParseAddress(value); err != nil {
			return fmt.Errorf("%w: %q", models.ErrInvalidEmail, value)
		}
		student.Email = value
	case models.FieldClassGrade:
		if value == "" {
			return models.ErrMissingClassGrade
		}
		student.ClassGrade = value
	default:
		return fmt.Errorf("unknown student field %q", field)
	}
	student.UpdatedAt = s.now()

	if err := s.store.SaveStudent(*student); err != nil {
		slog.Error("Detail update persist failed", "error", err, "phone", phone, "field", field)
		return err
	}
	slog.Info("Student detail updated", "phone", phone, "field", field)
	return nil
}

// Profile returns the registration snapshot for phone. An unknown phone
// yields the zero Profile, not an error.
func (s *Service) Profile(ctx context.Context, phone string) (models.Profile, error) {
	student, err := s.store.GetStudent(phone)
	if err != nil {
		return models.Profile{}, fmt.Errorf("failed to load student %s: %w", phone, err)
	}
	if student == nil {
		return models.Profile{}, nil
	}
	return models.Profile{
		IsRegistered: true,
		StoredName:   student.FullName,
		ClassGrade:   student.ClassGrade,
		HasPaid:      student.Subscribed,
	}, nil
}

// MarkSubscribed flips the subscription flag after a confirmed payment.
func (s *Service) MarkSubscribed(ctx context.Context, phone string) error {
	student, err := s.store.GetStudent(phone)
	if err != nil {
		return fmt.Errorf("failed to load student %s: %w", phone, err)
	}
	if student == nil {
		return models.ErrStudentNotFound
	}
	if student.Subscribed {
		return nil
	}
	student.Subscribed = true
	student.UpdatedAt = s.now()
	if err := s.store.SaveStudent(*student); err != nil {
		return err
	}
	slog.Info("Student marked subscribed", "phone", phone)
	return nil
}
