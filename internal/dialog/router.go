package dialog

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tutorlinkhq/tutorbot/internal/models"
	"github.com/tutorlinkhq/tutorbot/internal/util"
)

// Default router configuration.
const (
	DefaultBotName        = "TutorBot"
	DefaultPrice          = "$49/month"
	DefaultPaymentDetails = "Bright Tutoring LLC, IBAN DE02 1203 0000 0000 2020 51"
	DefaultChatBufferMax  = 200
)

// RegistrationSink receives registration-pipeline outcomes. The router
// emits optimistically and only logs failures; validation and
// persistence are the collaborator's responsibility.
type RegistrationSink interface {
	RegistrationCompleted(ctx context.Context, phone string, fields map[string]string) error
	DetailUpdated(ctx context.Context, phone, field, value string) error
}

// HomeworkSink receives completed homework submissions.
type HomeworkSink interface {
	HomeworkSubmitted(ctx context.Context, phone string, fields map[string]string) error
}

// PaymentSink receives user-submitted payment references.
type PaymentSink interface {
	PaymentReferenceSubmitted(ctx context.Context, phone, reference string) error
}

// TranscriptArchiver preserves chat-support transcripts when a session
// ends with buffered messages, so no exchange is silently discarded.
type TranscriptArchiver interface {
	ArchiveTranscript(ctx context.Context, transcript models.ChatTranscript) error
}

// Config holds the router's rendering and buffering knobs.
type Config struct {
	BotName        string
	Price          string
	PaymentDetails string
	ChatBufferMax  int
}

func (c *Config) applyDefaults() {
	if c.BotName == "" {
		c.BotName = DefaultBotName
	}
	if c.Price == "" {
		c.Price = DefaultPrice
	}
	if c.PaymentDetails == "" {
		c.PaymentDetails = DefaultPaymentDetails
	}
	if c.ChatBufferMax == 0 {
		c.ChatBufferMax = DefaultChatBufferMax
	}
}

// turn carries one inbound message through the transition handlers.
type turn struct {
	ctx     context.Context
	conv    *models.ConversationContext
	text    string // raw text, verbatim; never trimmed before capture
	profile models.Profile
	now     time.Time
	// handoffs collects collaborator calls to run after the per-phone
	// lock is released, keeping the critical section CPU-only.
	handoffs []func()
}

type handlerFunc func(r *Router, t *turn) models.RouteResult

// Router resolves (state, intent) pairs into replies and next states.
// It consumes the classifier and the store, and emits terminal pipeline
// outcomes to the registration/homework/payment collaborators.
type Router struct {
	store        *Store
	cfg          Config
	registration RegistrationSink
	homework     HomeworkSink
	payments     PaymentSink
	archiver     TranscriptArchiver

	table   map[models.ConversationState]map[models.Intent]handlerFunc
	capture map[models.ConversationState]handlerFunc
}

// NewRouter creates a dialogue router. Any sink may be nil, in which case
// the corresponding handoff is logged and skipped.
func NewRouter(store *Store, registration RegistrationSink, homework HomeworkSink, payments PaymentSink, archiver TranscriptArchiver, cfg Config) *Router {
	cfg.applyDefaults()
	slog.Debug("Creating dialogue Router", "bot_name", cfg.BotName, "chat_buffer_max", cfg.ChatBufferMax)
	r := &Router{
		store:        store,
		cfg:          cfg,
		registration: registration,
		homework:     homework,
		payments:     payments,
		archiver:     archiver,
	}
	r.buildTransitions()
	return r
}

// Store exposes the underlying conversation store (shared with the admin
// bridge and the reaper).
func (r *Router) Store() *Store {
	return r.store
}

// Route processes one inbound message for phone and returns the reply,
// next state and buttons for the transport layer to deliver. The call is
// serialized per phone; calls for different phones run in parallel.
func (r *Router) Route(ctx context.Context, phone, rawText string, profile models.Profile) (models.RouteResult, error) {
	if phone == "" {
		return models.RouteResult{}, models.ErrEmptyPhone
	}
	slog.Debug("Router.Route invoked", "phone", phone, "text_length", len(rawText))

	var result models.RouteResult
	var handoffs []func()
	err := r.store.Update(ctx, phone, func(conv *models.ConversationContext) error {
		t := &turn{ctx: ctx, conv: conv, text: rawText, profile: profile, now: r.store.Now()}
		result = r.routeTurn(t)
		conv.LastButtons = result.Buttons
		conv.Touch(t.now)
		handoffs = t.handoffs
		return nil
	})
	if err != nil {
		return models.RouteResult{}, err
	}
	// Terminal handoffs run outside the per-phone critical section; the
	// router has already moved state forward optimistically.
	for _, handoff := range handoffs {
		handoff()
	}
	slog.Info("Router.Route resolved", "phone", phone, "next_state", result.NextState)
	return result, nil
}

// routeTurn resolves a single turn. A panicking handler degrades to the
// generic fallback with the context restored, never a wedged conversation.
func (r *Router) routeTurn(t *turn) (result models.RouteResult) {
	saved := t.conv.Clone()
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Router recovered from handler panic", "panic", rec, "phone", t.conv.PhoneNumber, "state", saved.State)
			*t.conv = *saved
			t.handoffs = nil
			result = r.fallback(t)
		}
	}()

	r.resolveButtonReply(t)
	intent := Classify(t.text)
	slog.Debug("Router classified turn", "phone", t.conv.PhoneNumber, "state", t.conv.State, "intent", intent)

	// Named exception to the table-driven model: while a chat-support
	// session is active every message except an end-chat request is raw
	// chat content, not an intent. Checked before anything else.
	if t.conv.State == models.StateChatSupportActive && intent != models.IntentEndChat {
		return r.captureChatMessage(t)
	}

	// Collection steps store raw text verbatim; classification is
	// suppressed there except for the cancel escape, so field values
	// that happen to contain keywords are not misrouted.
	if capture, ok := r.capture[t.conv.State]; ok {
		if intent == models.IntentCancel {
			return r.cancelPipeline(t)
		}
		return capture(r, t)
	}

	if row, ok := r.table[t.conv.State]; ok {
		if handler, ok := row[intent]; ok {
			return handler(r, t)
		}
	}
	return r.fallback(t)
}

// resolveButtonReply rewrites a bare numeric reply ("2") into the ID of
// the corresponding button from the previous turn, when one exists.
func (r *Router) resolveButtonReply(t *turn) {
	trimmed := strings.TrimSpace(t.text)
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < 1 || n > len(t.conv.LastButtons) {
		return
	}
	chosen := t.conv.LastButtons[n-1]
	slog.Debug("Router resolved numeric button reply", "phone", t.conv.PhoneNumber, "choice", n, "button", chosen.ID)
	t.text = chosen.ID
}

// buildTransitions assembles the (state, intent) transition table. Every
// combination outside the table falls into the single documented
// fallback; the chat-capture guard and the collection steps are handled
// before the table is consulted.
func (r *Router) buildTransitions() {
	menuRow := map[models.Intent]handlerFunc{
		models.IntentMainMenu: (*Router).showMenu,
		models.IntentRegister: (*Router).startRegistration,
		models.IntentHomework: (*Router).startHomework,
		models.IntentPay:      (*Router).startPayment,
		models.IntentFaq:      (*Router).showFaq,
		models.IntentSupport:  (*Router).startChat,
		models.IntentCancel:   (*Router).showMenu,
	}

	initialRow := map[models.Intent]handlerFunc{
		models.IntentNone:     (*Router).welcome,
		models.IntentMainMenu: (*Router).welcome,
		models.IntentRegister: (*Router).startRegistration,
		models.IntentHomework: (*Router).startHomework,
		models.IntentPay:      (*Router).startPayment,
		models.IntentFaq:      (*Router).showFaq,
		models.IntentSupport:  (*Router).startChat,
		models.IntentCancel:   (*Router).welcome,
	}

	updateChoiceRow := map[models.Intent]handlerFunc{
		models.IntentNone:     (*Router).chooseUpdateDetail,
		models.IntentMainMenu: (*Router).showMenu,
		models.IntentRegister: (*Router).startRegistration,
		models.IntentSupport:  (*Router).startChat,
		models.IntentCancel:   (*Router).cancelPipeline,
	}

	r.table = map[models.ConversationState]map[models.Intent]handlerFunc{
		models.StateInitial:           initialRow,
		models.StateIdentifying:       menuRow,
		models.StateIdle:              menuRow,
		models.StateRegistered:        menuRow,
		models.StateHomeworkSubmitted: menuRow,
		models.StatePaymentConfirmed:  menuRow,
		models.StateAlreadyRegistered: updateChoiceRow,
		models.StateChatSupportActive: {
			models.IntentEndChat: (*Router).endChatByUser,
		},
	}

	r.capture = map[models.ConversationState]handlerFunc{
		models.StateRegisteringName:  (*Router).captureRegistrationName,
		models.StateRegisteringEmail: (*Router).captureRegistrationEmail,
		models.StateRegisteringClass: (*Router).captureRegistrationClass,
		models.StateUpdatingName:     (*Router).captureUpdatedName,
		models.StateUpdatingEmail:    (*Router).captureUpdatedEmail,
		models.StateUpdatingClass:    (*Router).captureUpdatedClass,
		models.StateHomeworkSubject:  (*Router).captureHomeworkSubject,
		models.StateHomeworkType:     (*Router).captureHomeworkType,
		models.StateHomeworkContent:  (*Router).captureHomeworkContent,
		models.StatePaymentPending:   (*Router).capturePaymentReference,
	}
}

// --- shared helpers ---

func (r *Router) vars(t *turn) map[string]string {
	return map[string]string{
		"bot_name":        r.cfg.BotName,
		"name":            displayName(t.profile),
		"price":           r.cfg.Price,
		"payment_details": r.cfg.PaymentDetails,
	}
}

func displayName(profile models.Profile) string {
	if profile.StoredName != "" {
		return profile.StoredName
	}
	return "there"
}

func (r *Router) reply(t *turn, template string, buttons []models.Button) models.RouteResult {
	return models.RouteResult{
		Reply:     Render(template, r.vars(t)),
		NextState: t.conv.State,
		Buttons:   buttons,
	}
}

func (r *Router) replyWith(t *turn, template string, extra map[string]string, buttons []models.Button) models.RouteResult {
	vars := r.vars(t)
	for k, v := range extra {
		vars[k] = v
	}
	return models.RouteResult{
		Reply:     Render(template, vars),
		NextState: t.conv.State,
		Buttons:   buttons,
	}
}

func (r *Router) fallback(t *turn) models.RouteResult {
	slog.Debug("Router fallback", "phone", t.conv.PhoneNumber, "state", t.conv.State)
	return r.reply(t, tmplFallback, escapeButtons())
}

// --- menu / identification ---

func (r *Router) welcome(t *turn) models.RouteResult {
	if t.profile.IsRegistered {
		t.conv.State = models.StateRegistered
		return r.reply(t, tmplWelcomeBack, menuButtons(true))
	}
	t.conv.State = models.StateIdentifying
	return r.reply(t, tmplWelcomeNew, identifyButtons())
}

func (r *Router) showMenu(t *turn) models.RouteResult {
	t.conv.State = models.RestState(t.profile.IsRegistered)
	if t.profile.IsRegistered {
		return r.reply(t, tmplMenuKnown, menuButtons(true))
	}
	return r.reply(t, tmplMenuNew, menuButtons(false))
}

func (r *Router) showFaq(t *turn) models.RouteResult {
	if t.conv.State == models.StateInitial || t.conv.State == models.StateIdentifying {
		t.conv.State = models.RestState(t.profile.IsRegistered)
	}
	return r.reply(t, tmplFaq, escapeButtons())
}

func (r *Router) cancelPipeline(t *turn) models.RouteResult {
	t.conv.ClearFields()
	t.conv.State = models.RestState(t.profile.IsRegistered)
	return r.reply(t, tmplCancelled, menuButtons(t.profile.IsRegistered))
}

// --- registration pipeline ---

func (r *Router) startRegistration(t *turn) models.RouteResult {
	if t.profile.IsRegistered {
		t.conv.State = models.StateAlreadyRegistered
		return r.reply(t, tmplAlreadyMember, updateChoiceButtons())
	}
	t.conv.ClearFields()
	t.conv.State = models.StateRegisteringName
	return r.reply(t, tmplRegisterStart, cancelButtons())
}

func (r *Router) captureRegistrationName(t *turn) models.RouteResult {
	t.conv.SetField(models.FieldFullName, t.text)
	t.conv.State = models.StateRegisteringEmail
	return r.replyWith(t, tmplRegisterEmail, map[string]string{"name": t.text}, cancelButtons())
}

func (r *Router) captureRegistrationEmail(t *turn) models.RouteResult {
	t.conv.SetField(models.FieldEmail, t.text)
	t.conv.State = models.StateRegisteringClass
	return r.reply(t, tmplRegisterClass, cancelButtons())
}

func (r *Router) captureRegistrationClass(t *turn) models.RouteResult {
	t.conv.SetField(models.FieldClassGrade, t.text)
	name := t.conv.Field(models.FieldFullName)
	r.emitRegistration(t, t.conv.FieldsCopy())
	t.conv.ClearFields()
	t.conv.State = models.StateRegistered
	return r.replyWith(t, tmplRegisterDone, map[string]string{"name": name}, menuButtons(true))
}

func (r *Router) emitRegistration(t *turn, fields map[string]string) {
	phone := t.conv.PhoneNumber
	ctx := t.ctx
	t.handoffs = append(t.handoffs, func() {
		if r.registration == nil {
			slog.Warn("Router has no registration sink, dropping handoff", "phone", phone)
			return
		}
		if err := r.registration.RegistrationCompleted(ctx, phone, fields); err != nil {
			slog.Error("Router registration handoff failed", "error", err, "phone", phone)
		}
	})
}

// --- detail-update pipeline ---

func (r *Router) chooseUpdateDetail(t *turn) models.RouteResult {
	choice := strings.ToLower(strings.TrimSpace(t.text))
	switch {
	case strings.Contains(choice, buttonName):
		t.conv.State = models.StateUpdatingName
		return r.reply(t, tmplUpdateName, cancelButtons())
	case strings.Contains(choice, buttonEmail):
		t.conv.State = models.StateUpdatingEmail
		return r.reply(t, tmplUpdateEmail, cancelButtons())
	case strings.Contains(choice, buttonClass):
		t.conv.State = models.StateUpdatingClass
		return r.reply(t, tmplUpdateClass, cancelButtons())
	default:
		return r.reply(t, tmplUpdateUnknown, updateChoiceButtons())
	}
}

func (r *Router) captureUpdatedName(t *turn) models.RouteResult {
	return r.finishDetailUpdate(t, models.FieldFullName)
}

func (r *Router) captureUpdatedEmail(t *turn) models.RouteResult {
	return r.finishDetailUpdate(t, models.FieldEmail)
}

func (r *Router) captureUpdatedClass(t *turn) models.RouteResult {
	return r.finishDetailUpdate(t, models.FieldClassGrade)
}

func (r *Router) finishDetailUpdate(t *turn, field string) models.RouteResult {
	value := t.text
	phone := t.conv.PhoneNumber
	ctx := t.ctx
	t.handoffs = append(t.handoffs, func() {
		if r.registration == nil {
			slog.Warn("Router has no registration sink, dropping detail update", "phone", phone, "field", field)
			return
		}
		if err := r.registration.DetailUpdated(ctx, phone, field, value); err != nil {
			slog.Error("Router detail-update handoff failed", "error", err, "phone", phone, "field", field)
		}
	})
	t.conv.ClearFields()
	t.conv.State = models.StateRegistered
	return r.reply(t, tmplUpdateDone, menuButtons(true))
}

// --- homework pipeline ---

func (r *Router) startHomework(t *turn) models.RouteResult {
	if !t.profile.IsRegistered {
		t.conv.State = models.StateIdle
		return r.reply(t, tmplRegisterNeeded, identifyButtons())
	}
	t.conv.ClearFields()
	t.conv.State = models.StateHomeworkSubject
	return r.reply(t, tmplHomeworkSubject, cancelButtons())
}

func (r *Router) captureHomeworkSubject(t *turn) models.RouteResult {
	t.conv.SetField(models.FieldSubject, t.text)
	t.conv.State = models.StateHomeworkType
	return r.replyWith(t, tmplHomeworkType, map[string]string{"subject": t.text}, cancelButtons())
}

func (r *Router) captureHomeworkType(t *turn) models.RouteResult {
	t.conv.SetField(models.FieldHomeworkType, t.text)
	t.conv.State = models.StateHomeworkContent
	return r.reply(t, tmplHomeworkContent, cancelButtons())
}

func (r *Router) captureHomeworkContent(t *turn) models.RouteResult {
	t.conv.SetField(models.FieldContent, t.text)
	fields := t.conv.FieldsCopy()
	phone := t.conv.PhoneNumber
	ctx := t.ctx
	t.handoffs = append(t.handoffs, func() {
		if r.homework == nil {
			slog.Warn("Router has no homework sink, dropping submission", "phone", phone)
			return
		}
		if err := r.homework.HomeworkSubmitted(ctx, phone, fields); err != nil {
			slog.Error("Router homework handoff failed", "error", err, "phone", phone)
		}
	})
	t.conv.ClearFields()
	t.conv.State = models.StateHomeworkSubmitted
	return r.reply(t, tmplHomeworkDone, menuButtons(true))
}

// --- payment pipeline ---

func (r *Router) startPayment(t *turn) models.RouteResult {
	if !t.profile.IsRegistered {
		t.conv.State = models.StateIdle
		return r.reply(t, tmplRegisterNeeded, identifyButtons())
	}
	t.conv.ClearFields()
	t.conv.State = models.StatePaymentPending
	return r.reply(t, tmplPaymentPending, cancelButtons())
}

func (r *Router) capturePaymentReference(t *turn) models.RouteResult {
	t.conv.SetField(models.FieldPaymentReference, t.text)
	reference := t.text
	phone := t.conv.PhoneNumber
	ctx := t.ctx
	t.handoffs = append(t.handoffs, func() {
		if r.payments == nil {
			slog.Warn("Router has no payment sink, dropping reference", "phone", phone)
			return
		}
		if err := r.payments.PaymentReferenceSubmitted(ctx, phone, reference); err != nil {
			slog.Error("Router payment handoff failed", "error", err, "phone", phone)
		}
	})
	t.conv.ClearFields()
	t.conv.State = models.StatePaymentConfirmed
	return r.replyWith(t, tmplPaymentDone, map[string]string{"reference": reference}, menuButtons(true))
}

// --- chat support ---

func (r *Router) startChat(t *turn) models.RouteResult {
	t.conv.ClearChat() // drop any stale buffer from an earlier session
	t.conv.ChatStartTime = t.now
	t.conv.State = models.StateChatSupportActive
	slog.Info("Router chat-support session started", "phone", t.conv.PhoneNumber)
	return r.reply(t, tmplSupportGreeting, endChatButtons())
}

// captureChatMessage buffers one user message during an active session.
func (r *Router) captureChatMessage(t *turn) models.RouteResult {
	t.conv.AppendChatMessage(models.ChatMessage{
		Sender:    models.ChatSenderUser,
		Text:      t.text,
		Timestamp: t.now,
	}, r.cfg.ChatBufferMax)
	slog.Debug("Router buffered chat message", "phone", t.conv.PhoneNumber, "buffered", len(t.conv.ChatMessages))
	return r.reply(t, tmplChatAck, endChatButtons())
}

func (r *Router) endChatByUser(t *turn) models.RouteResult {
	duration := r.finishChat(t.ctx, t.conv, models.ChatEndedByUser, t.profile.IsRegistered, t.now, &t.handoffs)
	return r.replyWith(t, tmplChatClosed, map[string]string{"duration": duration.Round(time.Second).String()}, escapeButtons())
}

// finishChat is the single reset path shared by user-initiated end-chat,
// the admin bridge and the timeout reaper. It archives any buffered
// messages before clearing, computes the session duration, and resets
// the context to its rest state. Callers must hold the phone's lock.
func (r *Router) finishChat(ctx context.Context, conv *models.ConversationContext, reason models.ChatEndReason, registered bool, now time.Time, handoffs *[]func()) time.Duration {
	duration := time.Duration(0)
	if !conv.ChatStartTime.IsZero() {
		duration = now.Sub(conv.ChatStartTime)
	}
	if len(conv.ChatMessages) > 0 {
		transcript := models.ChatTranscript{
			ID:          generateTranscriptID(),
			PhoneNumber: conv.PhoneNumber,
			StartedAt:   conv.ChatStartTime,
			EndedAt:     now,
			Reason:      reason,
			Messages:    append([]models.ChatMessage(nil), conv.ChatMessages...),
			Dropped:     conv.ChatDropped,
		}
		archive := func() {
			if r.archiver == nil {
				slog.Warn("Router has no transcript archiver, transcript lost", "phone", transcript.PhoneNumber, "messages", len(transcript.Messages))
				return
			}
			if err := r.archiver.ArchiveTranscript(ctx, transcript); err != nil {
				slog.Error("Router transcript archive failed", "error", err, "phone", transcript.PhoneNumber)
			}
		}
		if handoffs != nil {
			*handoffs = append(*handoffs, archive)
		} else {
			archive()
		}
	}
	conv.Reset(models.RestState(registered), now)
	slog.Info("Router chat-support session ended", "phone", conv.PhoneNumber, "reason", reason, "duration", duration)
	return duration
}

func generateTranscriptID() string {
	return util.GenerateRandomID("chat_", 16)
}
