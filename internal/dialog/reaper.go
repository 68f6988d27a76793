package dialog

import (
	"context"
	"log/slog"
	"time"

	"github.com/tutorlinkhq/tutorbot/internal/models"
)

// DefaultIdleTimeout is how long a conversation may sit without activity
// before the reaper returns it to a rest state.
const DefaultIdleTimeout = 30 * time.Minute

// Reaper expires conversations idle past the threshold, returning them
// to Idle/Registered. It is a safety valve, not a normal transition: the
// reset goes through the router's shared end-chat path so buffered chat
// messages are archived, never silently discarded.
type Reaper struct {
	router      *Router
	profiles    ProfileResolver
	idleTimeout time.Duration
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithIdleTimeout overrides the idle threshold.
func WithIdleTimeout(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// NewReaper creates a reaper over the given router.
func NewReaper(router *Router, profiles ProfileResolver, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		router:      router,
		profiles:    profiles,
		idleTimeout: DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	slog.Debug("Creating Reaper", "idle_timeout", r.idleTimeout)
	return r
}

// IdleTimeout returns the configured idle threshold.
func (r *Reaper) IdleTimeout() time.Duration {
	return r.idleTimeout
}

// Reap sweeps all conversations and resets those whose last activity is
// older than the idle threshold as of now. It returns the phone numbers
// that were reset. Each reset happens under that phone's lock, so a reap
// can never race a live routing call into an inconsistent state; the
// expiry condition is re-checked under the lock in case the user came
// back between the listing and the reset.
func (r *Reaper) Reap(ctx context.Context, now time.Time) ([]string, error) {
	contexts, err := r.router.store.List(ctx)
	if err != nil {
		slog.Error("Reaper failed to list conversations", "error", err)
		return nil, err
	}

	cutoff := now.Add(-r.idleTimeout)
	var reaped []string
	for _, snapshot := range contexts {
		if snapshot.State.IsRestState() || !snapshot.LastActivity.Before(cutoff) {
			continue
		}
		phone := snapshot.PhoneNumber
		profile := r.resolveProfile(ctx, phone)

		err := r.router.store.Update(ctx, phone, func(conv *models.ConversationContext) error {
			if conv.State.IsRestState() || !conv.LastActivity.Before(cutoff) {
				return nil // state changed since the listing; leave it alone
			}
			r.expireLocked(ctx, conv, profile, now)
			reaped = append(reaped, phone)
			return nil
		})
		if err != nil {
			slog.Error("Reaper failed to reset conversation", "error", err, "phone", phone)
		}
	}

	if len(reaped) > 0 {
		slog.Info("Reaper sweep completed", "reaped", len(reaped), "scanned", len(contexts))
	} else {
		slog.Debug("Reaper sweep completed", "reaped", 0, "scanned", len(contexts))
	}
	return reaped, nil
}

// expireLocked resets one idle conversation. Timeout endings are logged
// distinctly from user/admin-initiated ones; an expiring chat session
// with buffered messages represents potential information loss for the
// admin, so it is flagged at Warn with the unread count before the
// transcript is archived through the shared end-chat path.
func (r *Reaper) expireLocked(ctx context.Context, conv *models.ConversationContext, profile models.Profile, now time.Time) {
	idle := now.Sub(conv.LastActivity)
	if conv.State == models.StateChatSupportActive {
		if buffered := len(conv.ChatMessages); buffered > 0 {
			slog.Warn("Reaper expiring chat session with unread messages",
				"phone", conv.PhoneNumber, "reason", "timeout", "unread", buffered, "idle", idle)
		}
		r.router.finishChat(ctx, conv, models.ChatEndedByTimeout, profile.IsRegistered, now, nil)
		return
	}
	slog.Info("Reaper expiring idle conversation",
		"phone", conv.PhoneNumber, "reason", "timeout", "state", conv.State, "idle", idle)
	conv.Reset(models.RestState(profile.IsRegistered), now)
}

func (r *Reaper) resolveProfile(ctx context.Context, phone string) models.Profile {
	if r.profiles == nil {
		return models.Profile{}
	}
	profile, err := r.profiles.Profile(ctx, phone)
	if err != nil {
		slog.Warn("Reaper profile lookup failed, assuming unregistered", "error", err, "phone", phone)
		return models.Profile{}
	}
	return profile
}
