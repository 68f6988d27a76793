package dialog

import (
	"context"
	"testing"
	"time"

	"github.com/tutorlinkhq/tutorbot/internal/models"
)

func TestReaperExpiresIdleConversation(t *testing.T) {
	router, _, clock := newTestRouter(t)
	reaper := NewReaper(router, profileMap{})
	ctx := context.Background()

	// Strand a user mid-registration.
	mustRoute(t, router, testPhone, "register", models.Profile{})
	mustRoute(t, router, testPhone, "John Doe", models.Profile{})

	// Not yet expired.
	clock.Advance(29 * time.Minute)
	reaped, err := reaper.Reap(ctx, clock.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reaped) != 0 {
		t.Fatalf("reaped too early: %v", reaped)
	}

	clock.Advance(2 * time.Minute)
	reaped, err = reaper.Reap(ctx, clock.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reaped) != 1 || reaped[0] != testPhone {
		t.Fatalf("expected %s reaped, got %v", testPhone, reaped)
	}

	conv, err := router.Store().Get(ctx, testPhone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.State != models.StateIdle {
		t.Errorf("expected IDLE after reap, got %s", conv.State)
	}
	if len(conv.FieldsCopy()) != 0 {
		t.Errorf("partial fields survived the reap: %v", conv.FieldsCopy())
	}
}

func TestReaperSkipsRestStates(t *testing.T) {
	router, _, clock := newTestRouter(t)
	reaper := NewReaper(router, profileMap{})
	ctx := context.Background()

	mustRoute(t, router, testPhone, "chat", models.Profile{})
	mustRoute(t, router, testPhone, "end chat", models.Profile{})

	clock.Advance(2 * time.Hour)
	reaped, err := reaper.Reap(ctx, clock.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reaped) != 0 {
		t.Errorf("rest-state conversation reaped: %v", reaped)
	}
}

func TestReaperKeepsActiveConversations(t *testing.T) {
	router, _, clock := newTestRouter(t)
	reaper := NewReaper(router, profileMap{})
	ctx := context.Background()

	mustRoute(t, router, "+1", "register", models.Profile{})
	clock.Advance(20 * time.Minute)
	// A second user shows up much later; only the first has gone stale.
	mustRoute(t, router, "+2", "register", models.Profile{})
	clock.Advance(15 * time.Minute)

	reaped, err := reaper.Reap(ctx, clock.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reaped) != 1 || reaped[0] != "+1" {
		t.Fatalf("expected only +1 reaped, got %v", reaped)
	}

	conv, err := router.Store().Get(ctx, "+2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.State != models.StateRegisteringName {
		t.Errorf("+2 should be untouched, got %s", conv.State)
	}
}

func TestReaperArchivesExpiredChatSession(t *testing.T) {
	router, sinks, clock := newTestRouter(t)
	profiles := profileMap{testPhone: {IsRegistered: true, StoredName: "Ada"}}
	reaper := NewReaper(router, profiles, WithIdleTimeout(10*time.Minute))
	profile := profiles[testPhone]

	mustRoute(t, router, testPhone, "chat", profile)
	mustRoute(t, router, testPhone, "are you there?", profile)

	clock.Advance(11 * time.Minute)
	reaped, err := reaper.Reap(context.Background(), clock.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reaped) != 1 {
		t.Fatalf("expected 1 reaped, got %v", reaped)
	}

	// Buffered messages reach the archive with the timeout reason.
	if len(sinks.transcripts) != 1 {
		t.Fatalf("expected 1 transcript, got %d", len(sinks.transcripts))
	}
	tr := sinks.transcripts[0]
	if tr.Reason != models.ChatEndedByTimeout || len(tr.Messages) != 1 {
		t.Errorf("transcript wrong: %+v", tr)
	}

	// Registered user rests in REGISTERED, not IDLE.
	conv, err := router.Store().Get(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.State != models.StateRegistered {
		t.Errorf("expected REGISTERED, got %s", conv.State)
	}
}

func TestReaperIdleTimeoutOption(t *testing.T) {
	router, _, _ := newTestRouter(t)
	reaper := NewReaper(router, nil)
	if reaper.IdleTimeout() != DefaultIdleTimeout {
		t.Errorf("expected default timeout, got %v", reaper.IdleTimeout())
	}
	reaper = NewReaper(router, nil, WithIdleTimeout(5*time.Minute))
	if reaper.IdleTimeout() != 5*time.Minute {
		t.Errorf("expected 5m timeout, got %v", reaper.IdleTimeout())
	}
	// Non-positive overrides are ignored.
	reaper = NewReaper(router, nil, WithIdleTimeout(0))
	if reaper.IdleTimeout() != DefaultIdleTimeout {
		t.Errorf("expected default timeout, got %v", reaper.IdleTimeout())
	}
}
