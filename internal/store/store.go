// Package store provides storage backends for tutorbot.
//
// It persists students, homework submissions, payment records and
// archived chat transcripts, with in-memory, SQLite and PostgreSQL
// implementations. Conversation contexts have their own pluggable
// backings (in-memory and Redis) since they are ephemeral by design.
package store

import "github.com/tutorlinkhq/tutorbot/internal/models"

// Store is the persistence interface consumed by the registration,
// homework and payment collaborators and the admin API.
type Store interface {
	// SaveStudent inserts or replaces a student keyed by phone number.
	SaveStudent(student models.Student) error
	// GetStudent returns the student for phone, or nil when unknown.
	GetStudent(phone string) (*models.Student, error)
	// ListStudents returns all registered students.
	ListStudents() ([]models.Student, error)

	// AddHomework records one homework submission.
	AddHomework(submission models.HomeworkSubmission) error
	// ListHomework returns all homework submissions.
	ListHomework() ([]models.HomeworkSubmission, error)

	// AddPayment records one payment reference.
	AddPayment(payment models.PaymentRecord) error
	// ListPayments returns all payment records.
	ListPayments() ([]models.PaymentRecord, error)

	// AddTranscript archives one chat-support transcript.
	AddTranscript(transcript models.ChatTranscript) error
	// ListTranscripts returns all archived transcripts.
	ListTranscripts() ([]models.ChatTranscript, error)

	// Close releases underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the database connection string (file path for SQLite,
	// URL/key-value string for PostgreSQL, redis URL for Redis).
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}
