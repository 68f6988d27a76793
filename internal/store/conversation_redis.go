package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/tutorlinkhq/tutorbot/internal/models"
)

// conversationKeyPrefix namespaces conversation context keys in Redis.
const conversationKeyPrefix = "tutorbot:conversation:"

// RedisConversationStore persists conversation contexts in Redis as
// JSON, letting multiple bot processes share one conversation space.
type RedisConversationStore struct {
	client *redis.Client
}

// NewRedisConversationStore connects to Redis using the DSN option
// (a redis:// URL) and verifies the connection.
func NewRedisConversationStore(ctx context.Context, opts ...Option) (*RedisConversationStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewRedisConversationStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("RedisConversationStore DSN not set")
		return nil, fmt.Errorf("redis DSN not set")
	}

	redisOpts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		slog.Error("Failed to parse Redis DSN", "error", err)
		return nil, fmt.Errorf("failed to parse redis DSN: %w", err)
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Debug("Redis connection established")

	return &RedisConversationStore{client: client}, nil
}

func conversationKey(phone string) string {
	return conversationKeyPrefix + phone
}

// Load returns the stored context for phone, or (nil, nil) when absent.
func (s *RedisConversationStore) Load(ctx context.Context, phone string) (*models.ConversationContext, error) {
	data, err := s.client.Get(ctx, conversationKey(phone)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisConversationStore Load failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to load conversation for %s: %w", phone, err)
	}
	var conv models.ConversationContext
	if err := json.Unmarshal(data, &conv); err != nil {
		slog.Error("RedisConversationStore Load unmarshal failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to unmarshal conversation for %s: %w", phone, err)
	}
	return &conv, nil
}

// Save stores the context as JSON keyed by its phone number.
func (s *RedisConversationStore) Save(ctx context.Context, conv *models.ConversationContext) error {
	if conv.PhoneNumber == "" {
		return models.ErrEmptyPhone
	}
	data, err := json.Marshal(conv)
	if err != nil {
		slog.Error("RedisConversationStore Save marshal failed", "error", err, "phone", conv.PhoneNumber)
		return fmt.Errorf("failed to marshal conversation for %s: %w", conv.PhoneNumber, err)
	}
	if err := s.client.Set(ctx, conversationKey(conv.PhoneNumber), data, 0).Err(); err != nil {
		slog.Error("RedisConversationStore Save failed", "error", err, "phone", conv.PhoneNumber)
		return fmt.Errorf("failed to save conversation for %s: %w", conv.PhoneNumber, err)
	}
	return nil
}

// Delete removes the context for phone. Deleting an absent context is
// not an error.
func (s *RedisConversationStore) Delete(ctx context.Context, phone string) error {
	if err := s.client.Del(ctx, conversationKey(phone)).Err(); err != nil {
		slog.Error("RedisConversationStore Delete failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to delete conversation for %s: %w", phone, err)
	}
	return nil
}

// List scans all conversation keys and returns their contexts.
func (s *RedisConversationStore) List(ctx context.Context) ([]*models.ConversationContext, error) {
	var contexts []*models.ConversationContext
	iter := s.client.Scan(ctx, 0, conversationKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			// Expired between scan and get.
			continue
		}
		if err != nil {
			slog.Error("RedisConversationStore List get failed", "error", err, "key", iter.Val())
			return nil, fmt.Errorf("failed to get conversation %s: %w", iter.Val(), err)
		}
		var conv models.ConversationContext
		if err := json.Unmarshal(data, &conv); err != nil {
			slog.Error("RedisConversationStore List unmarshal failed", "error", err, "key", iter.Val())
			return nil, fmt.Errorf("failed to unmarshal conversation %s: %w", iter.Val(), err)
		}
		contexts = append(contexts, &conv)
	}
	if err := iter.Err(); err != nil {
		slog.Error("RedisConversationStore List scan failed", "error", err)
		return nil, fmt.Errorf("failed to scan conversations: %w", err)
	}
	return contexts, nil
}

// Close closes the Redis client.
func (s *RedisConversationStore) Close() error {
	return s.client.Close()
}
