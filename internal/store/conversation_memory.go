package store

import (
	"context"
	"sync"

	"github.com/tutorlinkhq/tutorbot/internal/models"
)

// InMemoryConversationStore keeps conversation contexts in process
// memory. It is the default backing for single-process deployments.
type InMemoryConversationStore struct {
	mu       sync.RWMutex
	contexts map[string]*models.ConversationContext
}

// NewInMemoryConversationStore creates an empty conversation store.
func NewInMemoryConversationStore() *InMemoryConversationStore {
	return &InMemoryConversationStore{
		contexts: make(map[string]*models.ConversationContext),
	}
}

// Load returns the stored context for phone, or (nil, nil) when absent.
func (s *InMemoryConversationStore) Load(_ context.Context, phone string) (*models.ConversationContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.contexts[phone]
	if !ok {
		return nil, nil
	}
	return conv.Clone(), nil
}

// Save stores a copy of the context keyed by its phone number.
func (s *InMemoryConversationStore) Save(_ context.Context, conv *models.ConversationContext) error {
	if conv.PhoneNumber == "" {
		return models.ErrEmptyPhone
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[conv.PhoneNumber] = conv.Clone()
	return nil
}

// Delete removes the context for phone. Deleting an absent context is
// not an error.
func (s *InMemoryConversationStore) Delete(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, phone)
	return nil
}

// List returns copies of all stored contexts.
func (s *InMemoryConversationStore) List(_ context.Context) ([]*models.ConversationContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ConversationContext, 0, len(s.contexts))
	for _, conv := range s.contexts {
		out = append(out, conv.Clone())
	}
	return out, nil
}
