package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tutorlinkhq/tutorbot/internal/dialog"
	"github.com/tutorlinkhq/tutorbot/internal/models"
	"github.com/tutorlinkhq/tutorbot/internal/store"
	"github.com/tutorlinkhq/tutorbot/internal/twilio"
	"github.com/tutorlinkhq/tutorbot/internal/whatsapp"
)

func TestCanonicalizePhone(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+15551234567", "+15551234567", false},
		{"15551234567", "+15551234567", false},
		{"whatsapp:+1 (555) 123-4567", "+15551234567", false},
		{"+1 555 123 4567", "+15551234567", false},
		{"", "", true},
		{"no digits here", "", true},
		{"12345", "", true}, // too short
	}
	for _, tc := range cases {
		got, err := canonicalizePhone(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("canonicalizePhone(%q) expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("canonicalizePhone(%q) unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("canonicalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatReply(t *testing.T) {
	result := models.RouteResult{
		Reply: "Here's what I can do for you:",
		Buttons: []models.Button{
			{ID: "register", Label: "Register"},
			{ID: "faq", Label: "FAQ"},
		},
	}
	got := FormatReply(result)
	if !strings.Contains(got, "1. Register") || !strings.Contains(got, "2. FAQ") {
		t.Errorf("buttons not rendered as numbered lines: %q", got)
	}

	plain := FormatReply(models.RouteResult{Reply: "Done!"})
	if plain != "Done!" {
		t.Errorf("FormatReply without buttons = %q", plain)
	}
}

func TestWhatsAppServiceSendEmitsReceipt(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)

	if err := svc.SendMessage(context.Background(), "+15551234567", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(sent))
	}
	// The wire carries bare digits; the receipt carries the canonical form.
	if sent[0].To != "15551234567" {
		t.Errorf("wire recipient = %q", sent[0].To)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "+15551234567" || receipt.Status != models.MessageStatusSent {
			t.Errorf("unexpected receipt: %+v", receipt)
		}
	case <-time.After(time.Second):
		t.Fatal("no receipt emitted")
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+15551234567", "late"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestTwilioServiceSend(t *testing.T) {
	mock := twilio.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "555 123 4567", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].To != "+5551234567" {
		t.Errorf("unexpected sends: %+v", mock.SentMessages)
	}
}

func TestTwilioWebhookHandler(t *testing.T) {
	svc := NewTwilioService(twilio.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+15551234567")
	form.Set("Body", "hi")
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.TwilioWebhookHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	select {
	case response := <-svc.Responses():
		if response.From != "whatsapp:+15551234567" || response.Body != "hi" {
			t.Errorf("unexpected response: %+v", response)
		}
	case <-time.After(time.Second):
		t.Fatal("no response emitted")
	}
}

func TestTwilioWebhookHandlerRejectsMissingFields(t *testing.T) {
	svc := NewTwilioService(twilio.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+15551234567")
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.TwilioWebhookHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

// fakeService drives the inbound processor in tests.
type fakeService struct {
	mu        sync.Mutex
	sent      []string
	responses chan models.Response
	receipts  chan models.Receipt
}

func newFakeService() *fakeService {
	return &fakeService{
		responses: make(chan models.Response, 10),
		receipts:  make(chan models.Receipt, 10),
	}
}

func (f *fakeService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

func (f *fakeService) SendMessage(_ context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+"|"+body)
	return nil
}

func (f *fakeService) Start(context.Context) error { return nil }
func (f *fakeService) Stop() error                 { return nil }

func (f *fakeService) Receipts() <-chan models.Receipt   { return f.receipts }
func (f *fakeService) Responses() <-chan models.Response { return f.responses }

func (f *fakeService) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func TestInboundProcessorRoutesAndReplies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	convStore := dialog.NewStore(store.NewInMemoryConversationStore())
	router := dialog.NewRouter(convStore, nil, nil, nil, nil, dialog.Config{})
	svc := newFakeService()
	processor := NewInboundProcessor(svc, router, nil)
	processor.Start(ctx)

	svc.responses <- models.Response{From: "whatsapp:+15551234567", Body: "hi", Time: time.Now().Unix()}

	deadline := time.After(2 * time.Second)
	for {
		sent := svc.sentMessages()
		if len(sent) > 0 {
			if !strings.HasPrefix(sent[0], "+15551234567|") {
				t.Errorf("reply sent to wrong recipient: %q", sent[0])
			}
			if !strings.Contains(sent[0], "TutorBot") {
				t.Errorf("expected welcome reply, got %q", sent[0])
			}
			if !strings.Contains(sent[0], "1. Register") {
				t.Errorf("expected numbered buttons, got %q", sent[0])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("no reply delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The conversation advanced under the canonical phone key.
	conv, err := convStore.Get(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.State != models.StateIdentifying {
		t.Errorf("expected IDENTIFYING, got %s", conv.State)
	}
}

func TestInboundProcessorDropsInvalidSender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	convStore := dialog.NewStore(store.NewInMemoryConversationStore())
	router := dialog.NewRouter(convStore, nil, nil, nil, nil, dialog.Config{})
	svc := newFakeService()
	processor := NewInboundProcessor(svc, router, nil)
	processor.Start(ctx)

	svc.responses <- models.Response{From: "not a phone", Body: "hi", Time: time.Now().Unix()}
	svc.responses <- models.Response{From: "+15551234567", Body: "hi", Time: time.Now().Unix()}

	deadline := time.After(2 * time.Second)
	for len(svc.sentMessages()) == 0 {
		select {
		case <-deadline:
			t.Fatal("valid message after invalid one was not processed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := len(svc.sentMessages()); got != 1 {
		t.Errorf("expected exactly 1 reply, got %d", got)
	}
}
