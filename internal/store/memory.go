package store

import (
	"sort"
	"sync"

	"github.com/tutorlinkhq/tutorbot/internal/models"
)

// InMemoryStore is a thread-safe in-memory implementation of Store,
// used for tests and ephemeral deployments.
type InMemoryStore struct {
	mu          sync.RWMutex
	students    map[string]models.Student
	homework    []models.HomeworkSubmission
	payments    []models.PaymentRecord
	transcripts []models.ChatTranscript
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		students: make(map[string]models.Student),
	}
}

// SaveStudent inserts or replaces a student keyed by phone number.
func (s *InMemoryStore) SaveStudent(student models.Student) error {
	if student.PhoneNumber == "" {
		return models.ErrEmptyPhone
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students[student.PhoneNumber] = student
	return nil
}

// GetStudent returns the student for phone, or nil when unknown.
func (s *InMemoryStore) GetStudent(phone string) (*models.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	student, ok := s.students[phone]
	if !ok {
		return nil, nil
	}
	return &student, nil
}

// ListStudents returns all students sorted by phone number.
func (s *InMemoryStore) ListStudents() ([]models.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	students := make([]models.Student, 0, len(s.students))
	for _, student := range s.students {
		students = append(students, student)
	}
	sort.Slice(students, func(i, j int) bool {
		return students[i].PhoneNumber < students[j].PhoneNumber
	})
	return students, nil
}

// AddHomework records one homework submission.
func (s *InMemoryStore) AddHomework(submission models.HomeworkSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.homework = append(s.homework, submission)
	return nil
}

// ListHomework returns all homework submissions in insertion order.
func (s *InMemoryStore) ListHomework() ([]models.HomeworkSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.HomeworkSubmission, len(s.homework))
	copy(out, s.homework)
	return out, nil
}

// AddPayment records one payment reference.
func (s *InMemoryStore) AddPayment(payment models.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = append(s.payments, payment)
	return nil
}

// ListPayments returns all payment records in insertion order.
func (s *InMemoryStore) ListPayments() ([]models.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PaymentRecord, len(s.payments))
	copy(out, s.payments)
	return out, nil
}

// AddTranscript archives one chat-support transcript.
func (s *InMemoryStore) AddTranscript(transcript models.ChatTranscript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, transcript)
	return nil
}

// ListTranscripts returns all archived transcripts in insertion order.
func (s *InMemoryStore) ListTranscripts() ([]models.ChatTranscript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChatTranscript, len(s.transcripts))
	copy(out, s.transcripts)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
