package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tutorlinkhq/tutorbot/internal/models"
)

// ContextStore is the pluggable backing for conversation contexts. The
// in-memory implementation is the default; a Redis-backed one exists for
// multi-process deployments. Load returns (nil, nil) when no context
// exists for the phone.
type ContextStore interface {
	Load(ctx context.Context, phone string) (*models.ConversationContext, error)
	Save(ctx context.Context, conv *models.ConversationContext) error
	Delete(ctx context.Context, phone string) error
	List(ctx context.Context) ([]*models.ConversationContext, error)
}

// Store owns all conversation contexts and enforces the concurrency
// contract: operations on the same phone number are serialized through a
// per-phone mutex, operations on different phones never block each other.
// Users are fully isolated; there is no cross-user state to protect.
type Store struct {
	backing ContextStore

	mu    sync.Mutex // guards locks map only
	locks map[string]*sync.Mutex

	now func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the store's time source (used in tests).
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a conversation store over the given backing.
func NewStore(backing ContextStore, opts ...StoreOption) *Store {
	slog.Debug("Creating conversation Store")
	s := &Store{
		backing: backing,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockFor returns the mutex dedicated to the given phone, creating it on
// first use. Lock entries are never removed: contexts are reset rather
// than deleted, and one mutex per known phone is cheap.
func (s *Store) lockFor(phone string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[phone]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[phone] = lock
	}
	return lock
}

// Get returns a snapshot of the context for phone, lazily creating one in
// StateInitial on first contact. The returned context is a copy; mutate
// through Update.
func (s *Store) Get(ctx context.Context, phone string) (*models.ConversationContext, error) {
	if phone == "" {
		return nil, models.ErrEmptyPhone
	}
	lock := s.lockFor(phone)
	lock.Lock()
	defer lock.Unlock()

	conv, err := s.loadOrCreate(ctx, phone)
	if err != nil {
		return nil, err
	}
	return conv.Clone(), nil
}

// Update runs fn on the context for phone under that phone's lock, using
// load-mutate-save semantics. The context is lazily created when absent.
// When fn returns an error the mutated context is not saved.
func (s *Store) Update(ctx context.Context, phone string, fn func(conv *models.ConversationContext) error) error {
	if phone == "" {
		return models.ErrEmptyPhone
	}
	lock := s.lockFor(phone)
	lock.Lock()
	defer lock.Unlock()

	conv, err := s.loadOrCreate(ctx, phone)
	if err != nil {
		return err
	}
	if err := fn(conv); err != nil {
		return err
	}
	if err := s.backing.Save(ctx, conv); err != nil {
		slog.Error("Store Update save failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to save conversation for %s: %w", phone, err)
	}
	return nil
}

// Touch updates the last-activity timestamp for phone.
func (s *Store) Touch(ctx context.Context, phone string) error {
	return s.Update(ctx, phone, func(conv *models.ConversationContext) error {
		conv.Touch(s.now())
		return nil
	})
}

// List returns snapshots of all known contexts. Intended for the reaper
// sweep and the admin API; each returned context is an independent copy.
func (s *Store) List(ctx context.Context) ([]*models.ConversationContext, error) {
	contexts, err := s.backing.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	out := make([]*models.ConversationContext, 0, len(contexts))
	for _, conv := range contexts {
		out = append(out, conv.Clone())
	}
	return out, nil
}

// Now returns the store's current time. Shared with the router and the
// reaper so injected test clocks stay consistent.
func (s *Store) Now() time.Time {
	return s.now()
}

func (s *Store) loadOrCreate(ctx context.Context, phone string) (*models.ConversationContext, error) {
	conv, err := s.backing.Load(ctx, phone)
	if err != nil {
		slog.Error("Store load failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to load conversation for %s: %w", phone, err)
	}
	if conv == nil {
		conv = models.NewConversationContext(phone, s.now())
		if err := s.backing.Save(ctx, conv); err != nil {
			slog.Error("Store create failed", "error", err, "phone", phone)
			return nil, fmt.Errorf("failed to create conversation for %s: %w", phone, err)
		}
		slog.Info("Store created conversation context", "phone", phone, "state", conv.State)
	}
	return conv, nil
}
