// Package transcript persists archived chat-support sessions.
package transcript

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tutorlinkhq/tutorbot/internal/models"
	"github.com/tutorlinkhq/tutorbot/internal/store"
)

// Service writes chat transcripts to the backing store.
type Service struct {
	store store.Store
}

// NewService creates a transcript archiver over the given store.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// ArchiveTranscript persists an ended chat session's buffered messages.
func (s *Service) ArchiveTranscript(ctx context.Context, transcript models.ChatTranscript) error {
	if transcript.PhoneNumber == "" {
		return models.ErrEmptyPhone
	}
	if err := s.store.AddTranscript(transcript); err != nil {
		slog.Error("Transcript archive failed", "error", err, "phone", transcript.PhoneNumber, "id", transcript.ID)
		return fmt.Errorf("failed to archive transcript: %w", err)
	}
	slog.Info("Chat transcript archived", "phone", transcript.PhoneNumber, "id", transcript.ID,
		"messages", len(transcript.Messages), "reason", transcript.Reason)
	return nil
}
