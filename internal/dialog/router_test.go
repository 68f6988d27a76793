package dialog

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tutorlinkhq/tutorbot/internal/models"
	"github.com/tutorlinkhq/tutorbot/internal/store"
)

// testClock is a mutable time source shared by the store, router and
// reaper in tests.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingSinks captures every collaborator handoff the router emits.
type recordingSinks struct {
	mu            sync.Mutex
	registrations []map[string]string
	updates       []string
	homework      []map[string]string
	payments      []string
	transcripts   []models.ChatTranscript
}

func (s *recordingSinks) RegistrationCompleted(_ context.Context, phone string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations = append(s.registrations, fields)
	return nil
}

func (s *recordingSinks) DetailUpdated(_ context.Context, phone, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, phone+"|"+field+"|"+value)
	return nil
}

func (s *recordingSinks) HomeworkSubmitted(_ context.Context, phone string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.homework = append(s.homework, fields)
	return nil
}

func (s *recordingSinks) PaymentReferenceSubmitted(_ context.Context, phone, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = append(s.payments, reference)
	return nil
}

func (s *recordingSinks) ArchiveTranscript(_ context.Context, transcript models.ChatTranscript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, transcript)
	return nil
}

func newTestRouter(t *testing.T) (*Router, *recordingSinks, *testClock) {
	t.Helper()
	clock := newTestClock()
	s := NewStore(store.NewInMemoryConversationStore(), WithClock(clock.Now))
	sinks := &recordingSinks{}
	router := NewRouter(s, sinks, sinks, sinks, sinks, Config{})
	return router, sinks, clock
}

func mustRoute(t *testing.T, r *Router, phone, text string, profile models.Profile) models.RouteResult {
	t.Helper()
	result, err := r.Route(context.Background(), phone, text, profile)
	if err != nil {
		t.Fatalf("Route(%q) failed: %v", text, err)
	}
	return result
}

const testPhone = "+15551234567"

func TestRouteEmptyPhone(t *testing.T) {
	router, _, _ := newTestRouter(t)
	if _, err := router.Route(context.Background(), "", "hi", models.Profile{}); err != models.ErrEmptyPhone {
		t.Errorf("expected ErrEmptyPhone, got %v", err)
	}
}

func TestRouteWelcomeNewUser(t *testing.T) {
	router, _, _ := newTestRouter(t)

	result := mustRoute(t, router, testPhone, "hi", models.Profile{})
	if result.NextState != models.StateIdentifying {
		t.Errorf("expected IDENTIFYING, got %s", result.NextState)
	}
	if !strings.Contains(result.Reply, "TutorBot") {
		t.Errorf("welcome should carry the bot name, got %q", result.Reply)
	}
	if len(result.Buttons) == 0 {
		t.Error("welcome should offer buttons")
	}
}

func TestRouteWelcomeRegisteredUser(t *testing.T) {
	router, _, _ := newTestRouter(t)
	profile := models.Profile{IsRegistered: true, StoredName: "Ada"}

	result := mustRoute(t, router, testPhone, "hello", profile)
	if result.NextState != models.StateRegistered {
		t.Errorf("expected REGISTERED, got %s", result.NextState)
	}
	if !strings.Contains(result.Reply, "Ada") {
		t.Errorf("welcome-back should be personalized, got %q", result.Reply)
	}
}

func TestRouteFallbackOnGibberish(t *testing.T) {
	router, _, _ := newTestRouter(t)
	mustRoute(t, router, testPhone, "hi", models.Profile{})

	result := mustRoute(t, router, testPhone, "xyzzy plugh", models.Profile{})
	if result.NextState != models.StateIdentifying {
		t.Errorf("fallback must not change state, got %s", result.NextState)
	}
	if !strings.Contains(result.Reply, "menu") {
		t.Errorf("fallback should point at the menu, got %q", result.Reply)
	}
}

func TestRouteRegistrationRoundTrip(t *testing.T) {
	router, sinks, _ := newTestRouter(t)
	profile := models.Profile{}

	result := mustRoute(t, router, testPhone, "register", profile)
	if result.NextState != models.StateRegisteringName {
		t.Fatalf("expected REGISTERING_NAME, got %s", result.NextState)
	}

	result = mustRoute(t, router, testPhone, "John Doe", profile)
	if result.NextState != models.StateRegisteringEmail {
		t.Fatalf("expected REGISTERING_EMAIL, got %s", result.NextState)
	}
	if !strings.Contains(result.Reply, "John Doe") {
		t.Errorf("email prompt should echo the captured name, got %q", result.Reply)
	}

	result = mustRoute(t, router, testPhone, "john@example.com", profile)
	if result.NextState != models.StateRegisteringClass {
		t.Fatalf("expected REGISTERING_CLASS, got %s", result.NextState)
	}

	result = mustRoute(t, router, testPhone, "10A", profile)
	if result.NextState != models.StateRegistered {
		t.Fatalf("expected REGISTERED, got %s", result.NextState)
	}

	if len(sinks.registrations) != 1 {
		t.Fatalf("expected 1 registration handoff, got %d", len(sinks.registrations))
	}
	fields := sinks.registrations[0]
	if fields[models.FieldFullName] != "John Doe" ||
		fields[models.FieldEmail] != "john@example.com" ||
		fields[models.FieldClassGrade] != "10A" {
		t.Errorf("registration fields wrong: %v", fields)
	}
}

// A captured field value containing an intent keyword ("Sophia" contains
// "hi") must be stored verbatim, never classified.
func TestRouteCaptureIsVerbatim(t *testing.T) {
	router, sinks, _ := newTestRouter(t)
	profile := models.Profile{}

	mustRoute(t, router, testPhone, "register", profile)
	result := mustRoute(t, router, testPhone, "Sophia Hill", profile)
	if result.NextState != models.StateRegisteringEmail {
		t.Fatalf("keyword inside a name was misrouted, state %s", result.NextState)
	}
	mustRoute(t, router, testPhone, "sophia@example.com", profile)
	mustRoute(t, router, testPhone, "9B", profile)

	if len(sinks.registrations) != 1 {
		t.Fatalf("expected 1 registration, got %d", len(sinks.registrations))
	}
	if got := sinks.registrations[0][models.FieldFullName]; got != "Sophia Hill" {
		t.Errorf("name not captured verbatim: %q", got)
	}
}

func TestRouteCancelEscapesPipeline(t *testing.T) {
	router, sinks, _ := newTestRouter(t)
	profile := models.Profile{}

	mustRoute(t, router, testPhone, "register", profile)
	mustRoute(t, router, testPhone, "John Doe", profile)

	result := mustRoute(t, router, testPhone, "cancel", profile)
	if result.NextState != models.StateIdle {
		t.Errorf("expected IDLE after cancel, got %s", result.NextState)
	}
	if len(sinks.registrations) != 0 {
		t.Error("cancelled pipeline must not emit a registration")
	}

	// Collected fields are gone; a fresh pipeline starts clean.
	conv, err := router.Store().Get(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conv.FieldsCopy()) != 0 {
		t.Errorf("fields not cleared on cancel: %v", conv.FieldsCopy())
	}
}

func TestRouteAlreadyRegisteredUpdateDetail(t *testing.T) {
	router, sinks, _ := newTestRouter(t)
	profile := models.Profile{IsRegistered: true, StoredName: "Ada"}

	result := mustRoute(t, router, testPhone, "register", profile)
	if result.NextState != models.StateAlreadyRegistered {
		t.Fatalf("expected ALREADY_REGISTERED, got %s", result.NextState)
	}

	result = mustRoute(t, router, testPhone, "email", profile)
	if result.NextState != models.StateUpdatingEmail {
		t.Fatalf("expected UPDATING_EMAIL, got %s", result.NextState)
	}

	result = mustRoute(t, router, testPhone, "ada@newmail.com", profile)
	if result.NextState != models.StateRegistered {
		t.Fatalf("expected REGISTERED, got %s", result.NextState)
	}
	if len(sinks.updates) != 1 || !strings.HasSuffix(sinks.updates[0], models.FieldEmail+"|ada@newmail.com") {
		t.Errorf("detail update handoff wrong: %v", sinks.updates)
	}
}

func TestRouteHomeworkRequiresRegistration(t *testing.T) {
	router, sinks, _ := newTestRouter(t)

	result := mustRoute(t, router, testPhone, "homework", models.Profile{})
	if result.NextState != models.StateIdle {
		t.Errorf("expected IDLE, got %s", result.NextState)
	}
	if !strings.Contains(result.Reply, "register") {
		t.Errorf("reply should direct to registration, got %q", result.Reply)
	}
	if len(sinks.homework) != 0 {
		t.Error("no homework should be emitted")
	}
}

func TestRouteHomeworkPipeline(t *testing.T) {
	router, sinks, _ := newTestRouter(t)
	profile := models.Profile{IsRegistered: true, StoredName: "Ada"}

	mustRoute(t, router, testPhone, "homework", profile)
	mustRoute(t, router, testPhone, "Math", profile)
	mustRoute(t, router, testPhone, "essay", profile)
	result := mustRoute(t, router, testPhone, "My answer: x = 42", profile)

	if result.NextState != models.StateHomeworkSubmitted {
		t.Fatalf("expected HOMEWORK_SUBMITTED, got %s", result.NextState)
	}
	if len(sinks.homework) != 1 {
		t.Fatalf("expected 1 homework handoff, got %d", len(sinks.homework))
	}
	fields := sinks.homework[0]
	if fields[models.FieldSubject] != "Math" || fields[models.FieldHomeworkType] != "essay" || fields[models.FieldContent] != "My answer: x = 42" {
		t.Errorf("homework fields wrong: %v", fields)
	}
}

func TestRoutePaymentPipeline(t *testing.T) {
	router, sinks, _ := newTestRouter(t)
	profile := models.Profile{IsRegistered: true, StoredName: "Ada"}

	result := mustRoute(t, router, testPhone, "pay", profile)
	if result.NextState != models.StatePaymentPending {
		t.Fatalf("expected PAYMENT_PENDING, got %s", result.NextState)
	}
	if !strings.Contains(result.Reply, DefaultPrice) {
		t.Errorf("payment prompt should carry the price, got %q", result.Reply)
	}

	result = mustRoute(t, router, testPhone, "TX-20250301-77", profile)
	if result.NextState != models.StatePaymentConfirmed {
		t.Fatalf("expected PAYMENT_CONFIRMED, got %s", result.NextState)
	}
	if len(sinks.payments) != 1 || sinks.payments[0] != "TX-20250301-77" {
		t.Errorf("payment handoff wrong: %v", sinks.payments)
	}
}

func TestRouteChatSupportLifecycle(t *testing.T) {
	router, sinks, clock := newTestRouter(t)
	profile := models.Profile{IsRegistered: true, StoredName: "Ada"}

	result := mustRoute(t, router, testPhone, "chat", profile)
	if result.NextState != models.StateChatSupportActive {
		t.Fatalf("expected CHAT_SUPPORT_ACTIVE, got %s", result.NextState)
	}

	// Every message during the session is buffered, even ones full of
	// intent keywords.
	clock.Advance(time.Minute)
	result = mustRoute(t, router, testPhone, "What are the payment options? Can I register my sister?", profile)
	if result.NextState != models.StateChatSupportActive {
		t.Fatalf("chat message changed state to %s", result.NextState)
	}
	clock.Advance(time.Minute)
	mustRoute(t, router, testPhone, "hello? anyone there?", profile)

	clock.Advance(time.Minute)
	result = mustRoute(t, router, testPhone, "end chat", profile)
	if result.NextState != models.StateRegistered {
		t.Fatalf("expected REGISTERED after end chat, got %s", result.NextState)
	}
	if !strings.Contains(result.Reply, "3m0s") {
		t.Errorf("closing reply should carry the duration, got %q", result.Reply)
	}

	if len(sinks.transcripts) != 1 {
		t.Fatalf("expected 1 archived transcript, got %d", len(sinks.transcripts))
	}
	tr := sinks.transcripts[0]
	if len(tr.Messages) != 2 || tr.Reason != models.ChatEndedByUser {
		t.Errorf("transcript wrong: %+v", tr)
	}
	if tr.Messages[0].Text != "What are the payment options? Can I register my sister?" {
		t.Errorf("chat text not captured verbatim: %q", tr.Messages[0].Text)
	}

	// The buffer is gone after the session ends.
	conv, err := router.Store().Get(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conv.ChatMessages) != 0 {
		t.Errorf("chat buffer not cleared, %d messages left", len(conv.ChatMessages))
	}
}

func TestRouteChatWithoutMessagesArchivesNothing(t *testing.T) {
	router, sinks, _ := newTestRouter(t)
	profile := models.Profile{}

	mustRoute(t, router, testPhone, "chat", profile)
	result := mustRoute(t, router, testPhone, "end chat", profile)
	if result.NextState != models.StateIdle {
		t.Errorf("expected IDLE, got %s", result.NextState)
	}
	if len(sinks.transcripts) != 0 {
		t.Error("empty session must not be archived")
	}
}

func TestRouteChatBufferCap(t *testing.T) {
	clock := newTestClock()
	s := NewStore(store.NewInMemoryConversationStore(), WithClock(clock.Now))
	sinks := &recordingSinks{}
	router := NewRouter(s, sinks, sinks, sinks, sinks, Config{ChatBufferMax: 3})
	profile := models.Profile{}

	mustRoute(t, router, testPhone, "chat", profile)
	for _, msg := range []string{"one", "two", "three", "four", "five"} {
		mustRoute(t, router, testPhone, msg, profile)
	}
	mustRoute(t, router, testPhone, "end chat", profile)

	if len(sinks.transcripts) != 1 {
		t.Fatalf("expected 1 transcript, got %d", len(sinks.transcripts))
	}
	tr := sinks.transcripts[0]
	if len(tr.Messages) != 3 || tr.Dropped != 2 {
		t.Fatalf("expected 3 kept / 2 dropped, got %d / %d", len(tr.Messages), tr.Dropped)
	}
	// Oldest messages are the ones shed.
	if tr.Messages[0].Text != "three" || tr.Messages[2].Text != "five" {
		t.Errorf("wrong messages kept: %q .. %q", tr.Messages[0].Text, tr.Messages[2].Text)
	}
}

func TestRouteNumericButtonReply(t *testing.T) {
	router, _, _ := newTestRouter(t)
	profile := models.Profile{}

	// Welcome offers buttons; "1" selects the first (register).
	result := mustRoute(t, router, testPhone, "hi", profile)
	if len(result.Buttons) == 0 || result.Buttons[0].ID != "register" {
		t.Fatalf("expected register as first button, got %v", result.Buttons)
	}

	result = mustRoute(t, router, testPhone, "1", profile)
	if result.NextState != models.StateRegisteringName {
		t.Errorf("numeric reply not resolved, state %s", result.NextState)
	}
}

func TestRouteNumericOutOfRangeFallsThrough(t *testing.T) {
	router, _, _ := newTestRouter(t)
	profile := models.Profile{}

	mustRoute(t, router, testPhone, "hi", profile)
	result := mustRoute(t, router, testPhone, "9", profile)
	if result.NextState != models.StateIdentifying {
		t.Errorf("out-of-range number should fall back, state %s", result.NextState)
	}
}

func TestRouteConcurrentPhonesIsolated(t *testing.T) {
	router, _, _ := newTestRouter(t)

	var wg sync.WaitGroup
	phones := []string{"+1", "+2", "+3", "+4", "+5"}
	for _, phone := range phones {
		wg.Add(1)
		go func(phone string) {
			defer wg.Done()
			if _, err := router.Route(context.Background(), phone, "register", models.Profile{}); err != nil {
				t.Errorf("Route failed for %s: %v", phone, err)
				return
			}
			if _, err := router.Route(context.Background(), phone, "Name "+phone, models.Profile{}); err != nil {
				t.Errorf("Route failed for %s: %v", phone, err)
			}
		}(phone)
	}
	wg.Wait()

	for _, phone := range phones {
		conv, err := router.Store().Get(context.Background(), phone)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if conv.State != models.StateRegisteringEmail {
			t.Errorf("phone %s in state %s", phone, conv.State)
		}
		if got := conv.Field(models.FieldFullName); got != "Name "+phone {
			t.Errorf("phone %s captured %q", phone, got)
		}
	}
}
