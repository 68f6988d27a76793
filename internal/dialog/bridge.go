package dialog

import (
	"context"
	"log/slog"
	"time"

	"github.com/tutorlinkhq/tutorbot/internal/models"
)

// ProfileResolver supplies registration snapshots for callers that do not
// receive one from the transport layer (the admin bridge, the reaper).
type ProfileResolver interface {
	Profile(ctx context.Context, phone string) (models.Profile, error)
}

// Bridge exposes the two operations admin tooling may invoke against a
// live conversation: injecting a message into the chat buffer and
// force-terminating the session. Both go through the conversation
// store's per-phone lock, so they interleave safely with webhook routing.
type Bridge struct {
	router   *Router
	profiles ProfileResolver
}

// NewBridge creates an admin bridge over the given router.
func NewBridge(router *Router, profiles ProfileResolver) *Bridge {
	slog.Debug("Creating admin Bridge")
	return &Bridge{router: router, profiles: profiles}
}

// Send appends an admin-authored message to the chat buffer and returns
// the text for out-of-band delivery by the transport layer. It fails
// with models.ErrNotInChatSession when the conversation is not in an
// active chat-support session; no state is mutated in that case.
func (b *Bridge) Send(ctx context.Context, phone, text string) (string, error) {
	if phone == "" {
		return "", models.ErrEmptyPhone
	}
	if text == "" {
		return "", models.ErrEmptyText
	}

	err := b.router.store.Update(ctx, phone, func(conv *models.ConversationContext) error {
		if conv.State != models.StateChatSupportActive {
			slog.Warn("Bridge.Send rejected, no active chat session", "phone", phone, "state", conv.State)
			return models.ErrNotInChatSession
		}
		now := b.router.store.Now()
		conv.AppendChatMessage(models.ChatMessage{
			Sender:    models.ChatSenderAdmin,
			Text:      text,
			Timestamp: now,
		}, b.router.cfg.ChatBufferMax)
		conv.Touch(now)
		return nil
	})
	if err != nil {
		return "", err
	}
	slog.Info("Bridge.Send admin message buffered", "phone", phone, "text_length", len(text))
	return text, nil
}

// EndChat force-terminates a chat-support session through the same reset
// path as a user-initiated end-chat. closingText overrides the default
// closing message. Calling it on a conversation with no active session
// fails with models.ErrNotInChatSession and mutates nothing, so a
// repeated call is a harmless typed failure rather than a duplicate reply.
func (b *Bridge) EndChat(ctx context.Context, phone, closingText string) (closing string, duration time.Duration, err error) {
	if phone == "" {
		return "", 0, models.ErrEmptyPhone
	}

	profile := b.resolveProfile(ctx, phone)
	err = b.router.store.Update(ctx, phone, func(conv *models.ConversationContext) error {
		if conv.State != models.StateChatSupportActive {
			slog.Warn("Bridge.EndChat rejected, no active chat session", "phone", phone, "state", conv.State)
			return models.ErrNotInChatSession
		}
		duration = b.router.finishChat(ctx, conv, models.ChatEndedByAdmin, profile.IsRegistered, b.router.store.Now(), nil)
		return nil
	})
	if err != nil {
		return "", 0, err
	}

	closing = closingText
	if closing == "" {
		closing = Render(tmplAdminClosed, nil)
	}
	slog.Info("Bridge.EndChat session closed", "phone", phone, "duration", duration)
	return closing, duration, nil
}

func (b *Bridge) resolveProfile(ctx context.Context, phone string) models.Profile {
	if b.profiles == nil {
		return models.Profile{}
	}
	profile, err := b.profiles.Profile(ctx, phone)
	if err != nil {
		slog.Warn("Bridge profile lookup failed, assuming unregistered", "error", err, "phone", phone)
		return models.Profile{}
	}
	return profile
}
