// Package store provides storage backends for tutorbot.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/tutorlinkhq/tutorbot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN is a file path to the SQLite database file; the containing
// directory is created if it does not exist.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveStudent inserts or replaces a student keyed by phone number.
func (s *SQLiteStore) SaveStudent(student models.Student) error {
	if student.PhoneNumber == "" {
		return models.ErrEmptyPhone
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO students (phone_number, full_name, email, class_grade, subscribed, registered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		student.PhoneNumber, student.FullName, student.Email, student.ClassGrade, student.Subscribed, student.RegisteredAt, student.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveStudent failed", "error", err, "phone", student.PhoneNumber)
		return fmt.Errorf("failed to save student %s: %w", student.PhoneNumber, err)
	}
	slog.Debug("SQLiteStore SaveStudent succeeded", "phone", student.PhoneNumber)
	return nil
}

// GetStudent returns the student for phone, or nil when unknown.
func (s *SQLiteStore) GetStudent(phone string) (*models.Student, error) {
	var student models.Student
	err := s.db.QueryRow(`SELECT phone_number, full_name, email, class_grade, subscribed, registered_at, updated_at
		FROM students WHERE phone_number = ?`, phone).
		Scan(&student.PhoneNumber, &student.FullName, &student.Email, &student.ClassGrade, &student.Subscribed, &student.RegisteredAt, &student.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetStudent failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get student %s: %w", phone, err)
	}
	return &student, nil
}

// ListStudents returns all students ordered by phone number.
func (s *SQLiteStore) ListStudents() ([]models.Student, error) {
	rows, err := s.db.Query(`SELECT phone_number, full_name, email, class_grade, subscribed, registered_at, updated_at
		FROM students ORDER BY phone_number`)
	if err != nil {
		slog.Error("SQLiteStore ListStudents query failed", "error", err)
		return nil, fmt.Errorf("failed to query students: %w", err)
	}
	defer rows.Close()

	var students []models.Student
	for rows.Next() {
		var student models.Student
		if err := rows.Scan(&student.PhoneNumber, &student.FullName, &student.Email, &student.ClassGrade, &student.Subscribed, &student.RegisteredAt, &student.UpdatedAt); err != nil {
			slog.Error("SQLiteStore ListStudents scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan student row: %w", err)
		}
		students = append(students, student)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListStudents rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate student rows: %w", err)
	}
	slog.Debug("SQLiteStore ListStudents succeeded", "count", len(students))
	return students, nil
}

// AddHomework records one homework submission.
func (s *SQLiteStore) AddHomework(submission models.HomeworkSubmission) error {
	_, err := s.db.Exec(`INSERT INTO homework_submissions (id, phone_number, subject, type, content, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		submission.ID, submission.PhoneNumber, submission.Subject, submission.Type, submission.Content, submission.SubmittedAt)
	if err != nil {
		slog.Error("SQLiteStore AddHomework failed", "error", err, "phone", submission.PhoneNumber)
		return fmt.Errorf("failed to insert homework for %s: %w", submission.PhoneNumber, err)
	}
	slog.Debug("SQLiteStore AddHomework succeeded", "phone", submission.PhoneNumber, "subject", submission.Subject)
	return nil
}

// ListHomework returns all homework submissions, newest last.
func (s *SQLiteStore) ListHomework() ([]models.HomeworkSubmission, error) {
	rows, err := s.db.Query(`SELECT id, phone_number, subject, type, content, submitted_at
		FROM homework_submissions ORDER BY submitted_at`)
	if err != nil {
		slog.Error("SQLiteStore ListHomework query failed", "error", err)
		return nil, fmt.Errorf("failed to query homework: %w", err)
	}
	defer rows.Close()

	var submissions []models.HomeworkSubmission
	for rows.Next() {
		var sub models.HomeworkSubmission
		if err := rows.Scan(&sub.ID, &sub.PhoneNumber, &sub.Subject, &sub.Type, &sub.Content, &sub.SubmittedAt); err != nil {
			slog.Error("SQLiteStore ListHomework scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan homework row: %w", err)
		}
		submissions = append(submissions, sub)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListHomework rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate homework rows: %w", err)
	}
	return submissions, nil
}

// AddPayment records one payment reference.
func (s *SQLiteStore) AddPayment(payment models.PaymentRecord) error {
	_, err := s.db.Exec(`INSERT INTO payment_records (id, phone_number, reference, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		payment.ID, payment.PhoneNumber, payment.Reference, payment.Status, payment.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddPayment failed", "error", err, "phone", payment.PhoneNumber)
		return fmt.Errorf("failed to insert payment for %s: %w", payment.PhoneNumber, err)
	}
	slog.Debug("SQLiteStore AddPayment succeeded", "phone", payment.PhoneNumber)
	return nil
}

// ListPayments returns all payment records, newest last.
func (s *SQLiteStore) ListPayments() ([]models.PaymentRecord, error) {
	rows, err := s.db.Query(`SELECT id, phone_number, reference, status, created_at
		FROM payment_records ORDER BY created_at`)
	if err != nil {
		slog.Error("SQLiteStore ListPayments query failed", "error", err)
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []models.PaymentRecord
	for rows.Next() {
		var p models.PaymentRecord
		if err := rows.Scan(&p.ID, &p.PhoneNumber, &p.Reference, &p.Status, &p.CreatedAt); err != nil {
			slog.Error("SQLiteStore ListPayments scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListPayments rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate payment rows: %w", err)
	}
	return payments, nil
}

// AddTranscript archives one chat-support transcript. Messages are
// stored as a JSON array.
func (s *SQLiteStore) AddTranscript(transcript models.ChatTranscript) error {
	messagesJSON, err := json.Marshal(transcript.Messages)
	if err != nil {
		slog.Error("SQLiteStore AddTranscript marshal failed", "error", err, "id", transcript.ID)
		return fmt.Errorf("failed to marshal transcript messages: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO chat_transcripts (id, phone_number, started_at, ended_at, reason, messages, dropped)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		transcript.ID, transcript.PhoneNumber, transcript.StartedAt, transcript.EndedAt, transcript.Reason, string(messagesJSON), transcript.Dropped)
	if err != nil {
		slog.Error("SQLiteStore AddTranscript failed", "error", err, "id", transcript.ID)
		return fmt.Errorf("failed to insert transcript %s: %w", transcript.ID, err)
	}
	slog.Debug("SQLiteStore AddTranscript succeeded", "id", transcript.ID, "messages", len(transcript.Messages))
	return nil
}

// ListTranscripts returns all archived transcripts, oldest first.
func (s *SQLiteStore) ListTranscripts() ([]models.ChatTranscript, error) {
	rows, err := s.db.Query(`SELECT id, phone_number, started_at, ended_at, reason, messages, dropped
		FROM chat_transcripts ORDER BY ended_at`)
	if err != nil {
		slog.Error("SQLiteStore ListTranscripts query failed", "error", err)
		return nil, fmt.Errorf("failed to query transcripts: %w", err)
	}
	defer rows.Close()

	var transcripts []models.ChatTranscript
	for rows.Next() {
		var t models.ChatTranscript
		var messagesJSON string
		if err := rows.Scan(&t.ID, &t.PhoneNumber, &t.StartedAt, &t.EndedAt, &t.Reason, &messagesJSON, &t.Dropped); err != nil {
			slog.Error("SQLiteStore ListTranscripts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan transcript row: %w", err)
		}
		if messagesJSON != "" {
			if err := json.Unmarshal([]byte(messagesJSON), &t.Messages); err != nil {
				slog.Error("SQLiteStore ListTranscripts unmarshal failed", "error", err, "id", t.ID)
				return nil, fmt.Errorf("failed to unmarshal transcript messages: %w", err)
			}
		}
		transcripts = append(transcripts, t)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListTranscripts rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate transcript rows: %w", err)
	}
	return transcripts, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
