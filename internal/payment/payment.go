// Package payment records subscription payment references emitted by
// the dialogue router and tracks their verification status.
package payment

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

// Gateway decides the initial status of a submitted payment reference.
// The default manual-transfer gateway leaves everything pending for an
// admin; an automated gateway could verify against a bank API.
type Gateway interface {
	VerifyReference(ctx context.Context, phone, reference string) (models.PaymentStatus, error)
}

// ManualTransferGateway is the default Gateway: every reference awaits
// manual admin review.
type ManualTransferGateway struct{}

// VerifyReference always returns pending.
func (ManualTransferGateway) VerifyReference(_ context.Context, _, _ string) (models.PaymentStatus, error) {
	return models.PaymentStatusPending, nil
}

// Subscriber is notified when a payment is confirmed; the registration
// service implements it.
type Subscriber interface {
	MarkSubscribed(ctx context.Context, phone string) error
}

// Service records payment references. It implements the router's
// PaymentSink contract.
type Service struct {
	store      store.Store
	gateway    Gateway
	subscriber Subscriber
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service's time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithGateway overrides the default manual-transfer gateway.
func WithGateway(g Gateway) Option {
	return func(s *Service) {
		if g != nil {
			s.gateway = g
		}
	}
}

// NewService creates a payment service over the given store. subscriber
// may be nil, in which case confirmed payments do not flip the
// subscription flag.
func NewService(st store.Store, subscriber Subscriber, opts ...Option) *Service {
	s := &Service{
		store:      st,
		gateway:    ManualTransferGateway{},
		subscriber: subscriber,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PaymentReferenceSubmitted records a reference with the status the
// gateway assigns. A gateway failure degrades to pending rather than
// losing the reference.
func (s *Service) PaymentReferenceSubmitted(ctx context.Context, phone, reference string) error {
	if phone == "" {
		return models.ErrEmptyPhone
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return models.ErrEmptyText
	}

	status, err := s.gateway.VerifyReference(ctx, phone, reference)
	if err != nil {
		slog.Warn("Payment gateway verification failed, recording as pending", "error", err, "phone", phone)
		status = models.PaymentStatusPending
	}

	record := models.PaymentRecord{
		ID:          util.GeneratePaymentID(),
		PhoneNumber: phone,
		Reference:   reference,
		Status:      status,
		CreatedAt:   s.now(),
	}
	if err := s.store.AddPayment(record); err != nil {
		slog.Error("Payment persist failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to store payment for %s: %w", phone, err)
	}
	slog.Info("Payment reference recorded", "phone", phone, "id", record.ID, "status", status)

	if status == models.PaymentStatusConfirmed && s.subscriber != nil {
		if err := s.subscriber.MarkSubscribed(ctx, phone); err != nil {
			slog.Error("Failed to mark student subscribed after confirmed payment", "error", err, "phone", phone)
		}
	}
	return nil
}
