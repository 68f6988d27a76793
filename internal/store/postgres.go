// Package store provides storage backends for tutorbot.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/tutorlinkhq/tutorbot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// SaveStudent inserts or updates a student keyed by phone number.
func (s *PostgresStore) SaveStudent(student models.Student) error {
	if student.PhoneNumber == "" {
		return models.ErrEmptyPhone
	}
	_, err := s.db.Exec(`INSERT INTO students (phone_number, full_name, email, class_grade, subscribed, registered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (phone_number) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			email = EXCLUDED.email,
			class_grade = EXCLUDED.class_grade,
			subscribed = EXCLUDED.subscribed,
			updated_at = EXCLUDED.updated_at`,
		student.PhoneNumber, student.FullName, student.Email, student.ClassGrade, student.Subscribed, student.RegisteredAt, student.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveStudent failed", "error", err, "phone", student.PhoneNumber)
		return fmt.Errorf("failed to save student %s: %w", student.PhoneNumber, err)
	}
	slog.Debug("PostgresStore SaveStudent succeeded", "phone", student.PhoneNumber)
	return nil
}

// GetStudent returns the student for phone, or nil when unknown.
func (s *PostgresStore) GetStudent(phone string) (*models.Student, error) {
	var student models.Student
	err := s.db.QueryRow(`SELECT phone_number, full_name, email, class_grade, subscribed, registered_at, updated_at
		FROM students WHERE phone_number = $1`, phone).
		Scan(&student.PhoneNumber, &student.FullName, &student.Email, &student.ClassGrade, &student.Subscribed, &student.RegisteredAt, &student.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetStudent failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get student %s: %w", phone, err)
	}
	return &student, nil
}

// ListStudents returns all students ordered by phone number.
func (s *PostgresStore) ListStudents() ([]models.Student, error) {
	rows, err := s.db.Query(`SELECT phone_number, full_name, email, class_grade, subscribed, registered_at, updated_at
		FROM students ORDER BY phone_number`)
	if err != nil {
		slog.Error("PostgresStore ListStudents query failed", "error", err)
		return nil, fmt.Errorf("failed to query students: %w", err)
	}
	defer rows.Close()

	var students []models.Student
	for rows.Next() {
		var student models.Student
		if err := rows.Scan(&student.PhoneNumber, &student.FullName, &student.Email, &student.ClassGrade, &student.Subscribed, &student.RegisteredAt, &student.UpdatedAt); err != nil {
			slog.Error("PostgresStore ListStudents scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan student row: %w", err)
		}
		students = append(students, student)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListStudents rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate student rows: %w", err)
	}
	return students, nil
}

// AddHomework records one homework submission.
func (s *PostgresStore) AddHomework(submission models.HomeworkSubmission) error {
	_, err := s.db.Exec(`INSERT INTO homework_submissions (id, phone_number, subject, type, content, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		submission.ID, submission.PhoneNumber, submission.Subject, submission.Type, submission.Content, submission.SubmittedAt)
	if err != nil {
		slog.Error("PostgresStore AddHomework failed", "error", err, "phone", submission.PhoneNumber)
		return fmt.Errorf("failed to insert homework for %s: %w", submission.PhoneNumber, err)
	}
	return nil
}

// ListHomework returns all homework submissions, oldest first.
func (s *PostgresStore) ListHomework() ([]models.HomeworkSubmission, error) {
	rows, err := s.db.Query(`SELECT id, phone_number, subject, type, content, submitted_at
		FROM homework_submissions ORDER BY submitted_at`)
	if err != nil {
		slog.Error("PostgresStore ListHomework query failed", "error", err)
		return nil, fmt.Errorf("failed to query homework: %w", err)
	}
	defer rows.Close()

	var submissions []models.HomeworkSubmission
	for rows.Next() {
		var sub models.HomeworkSubmission
		if err := rows.Scan(&sub.ID, &sub.PhoneNumber, &sub.Subject, &sub.Type, &sub.Content, &sub.SubmittedAt); err != nil {
			slog.Error("PostgresStore ListHomework scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan homework row: %w", err)
		}
		submissions = append(submissions, sub)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListHomework rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate homework rows: %w", err)
	}
	return submissions, nil
}

// AddPayment records one payment reference.
func (s *PostgresStore) AddPayment(payment models.PaymentRecord) error {
	_, err := s.db.Exec(`INSERT INTO payment_records (id, phone_number, reference, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		payment.ID, payment.PhoneNumber, payment.Reference, payment.Status, payment.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddPayment failed", "error", err, "phone", payment.PhoneNumber)
		return fmt.Errorf("failed to insert payment for %s: %w", payment.PhoneNumber, err)
	}
	return nil
}

// ListPayments returns all payment records, oldest first.
func (s *PostgresStore) ListPayments() ([]models.PaymentRecord, error) {
	rows, err := s.db.Query(`SELECT id, phone_number, reference, status, created_at
		FROM payment_records ORDER BY created_at`)
	if err != nil {
		slog.Error("PostgresStore ListPayments query failed", "error", err)
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []models.PaymentRecord
	for rows.Next() {
		var p models.PaymentRecord
		if err := rows.Scan(&p.ID, &p.PhoneNumber, &p.Reference, &p.Status, &p.CreatedAt); err != nil {
			slog.Error("PostgresStore ListPayments scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListPayments rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate payment rows: %w", err)
	}
	return payments, nil
}

// AddTranscript archives one chat-support transcript with messages as JSONB.
func (s *PostgresStore) AddTranscript(transcript models.ChatTranscript) error {
	messagesJSON, err := json.Marshal(transcript.Messages)
	if err != nil {
		slog.Error("PostgresStore AddTranscript marshal failed", "error", err, "id", transcript.ID)
		return fmt.Errorf("failed to marshal transcript messages: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO chat_transcripts (id, phone_number, started_at, ended_at, reason, messages, dropped)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		transcript.ID, transcript.PhoneNumber, transcript.StartedAt, transcript.EndedAt, transcript.Reason, messagesJSON, transcript.Dropped)
	if err != nil {
		slog.Error("PostgresStore AddTranscript failed", "error", err, "id", transcript.ID)
		return fmt.Errorf("failed to insert transcript %s: %w", transcript.ID, err)
	}
	return nil
}

// ListTranscripts returns all archived transcripts, oldest first.
func (s *PostgresStore) ListTranscripts() ([]models.ChatTranscript, error) {
	rows, err := s.db.Query(`SELECT id, phone_number, started_at, ended_at, reason, messages, dropped
		FROM chat_transcripts ORDER BY ended_at`)
	if err != nil {
		slog.Error("PostgresStore ListTranscripts query failed", "error", err)
		return nil, fmt.Errorf("failed to query transcripts: %w", err)
	}
	defer rows.Close()

	var transcripts []models.ChatTranscript
	for rows.Next() {
		var t models.ChatTranscript
		var messagesJSON []byte
		if err := rows.Scan(&t.ID, &t.PhoneNumber, &t.StartedAt, &t.EndedAt, &t.Reason, &messagesJSON, &t.Dropped); err != nil {
			slog.Error("PostgresStore ListTranscripts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan transcript row: %w", err)
		}
		if len(messagesJSON) > 0 {
			if err := json.Unmarshal(messagesJSON, &t.Messages); err != nil {
				slog.Error("PostgresStore ListTranscripts unmarshal failed", "error", err, "id", t.ID)
				return nil, fmt.Errorf("failed to unmarshal transcript messages: %w", err)
			}
		}
		transcripts = append(transcripts, t)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListTranscripts rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate transcript rows: %w", err)
	}
	return transcripts, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
