// Package models defines the conversation state machine vocabulary for tutorbot.
package models

import "time"

// ConversationState identifies the current step of a user's multi-turn
// conversation. Every state has a finite set of valid outgoing intents;
// anything else falls into the state's error-fallback self-loop.
type ConversationState string

const (
	// StateInitial is the state of a context created on first contact.
	StateInitial ConversationState = "INITIAL"
	// StateIdentifying is the first-contact step where the user picks
	// between registering and browsing the menu.
	StateIdentifying ConversationState = "IDENTIFYING"

	// Registration pipeline.
	StateRegisteringName  ConversationState = "REGISTERING_NAME"
	StateRegisteringEmail ConversationState = "REGISTERING_EMAIL"
	StateRegisteringClass ConversationState = "REGISTERING_CLASS"

	// Detail-update pipeline for already-registered students.
	StateUpdatingName  ConversationState = "UPDATING_NAME"
	StateUpdatingEmail ConversationState = "UPDATING_EMAIL"
	StateUpdatingClass ConversationState = "UPDATING_CLASS"
	// StateAlreadyRegistered asks a registered student which detail to update.
	StateAlreadyRegistered ConversationState = "ALREADY_REGISTERED"

	// StateRegistered is the rest state for registered students.
	StateRegistered ConversationState = "REGISTERED"

	// Homework pipeline.
	StateHomeworkSubject   ConversationState = "HOMEWORK_SUBJECT"
	StateHomeworkType      ConversationState = "HOMEWORK_TYPE"
	StateHomeworkContent   ConversationState = "HOMEWORK_CONTENT"
	StateHomeworkSubmitted ConversationState = "HOMEWORK_SUBMITTED"

	// Payment pipeline.
	StatePaymentPending   ConversationState = "PAYMENT_PENDING"
	StatePaymentConfirmed ConversationState = "PAYMENT_CONFIRMED"

	// StateChatSupportActive is the live chat session with a human admin.
	StateChatSupportActive ConversationState = "CHAT_SUPPORT_ACTIVE"

	// StateIdle is the rest state for unregistered users.
	StateIdle ConversationState = "IDLE"
)

// IsRestState reports whether s is one of the terminal-ish rest states.
func (s ConversationState) IsRestState() bool {
	return s == StateIdle || s == StateRegistered
}

// RestState returns the rest state appropriate for the given profile:
// StateRegistered for known students, StateIdle otherwise.
func RestState(isRegistered bool) ConversationState {
	if isRegistered {
		return StateRegistered
	}
	return StateIdle
}

// Intent is the classified purpose of a user's free-text message.
type Intent string

const (
	IntentMainMenu Intent = "MAIN_MENU"
	IntentRegister Intent = "REGISTER"
	IntentHomework Intent = "HOMEWORK"
	IntentPay      Intent = "PAY"
	IntentFaq      Intent = "FAQ"
	IntentSupport  Intent = "SUPPORT"
	IntentEndChat  Intent = "END_CHAT"
	IntentCancel   Intent = "CANCEL"
	// IntentNone means no keyword rule matched. The router treats it as
	// "unrecognized input in this state", not as a global no-op.
	IntentNone Intent = "NONE"
)

// ChatSender identifies who authored a buffered chat message.
type ChatSender string

const (
	// ChatSenderUser marks a message typed by the user.
	ChatSenderUser ChatSender = "user"
	// ChatSenderAdmin marks a message injected by a human admin.
	ChatSenderAdmin ChatSender = "admin"
)

// ChatMessage is one entry of a chat-support session buffer.
type ChatMessage struct {
	Sender    ChatSender `json:"sender"`
	Text      string     `json:"text"`
	Timestamp time.Time  `json:"timestamp"`
}

// ChatEndReason distinguishes how a chat-support session was closed.
type ChatEndReason string

const (
	// ChatEndedByUser means the user sent an end-chat message.
	ChatEndedByUser ChatEndReason = "user"
	// ChatEndedByAdmin means an admin closed the session via the API.
	ChatEndedByAdmin ChatEndReason = "admin"
	// ChatEndedByTimeout means the reaper expired an idle session.
	ChatEndedByTimeout ChatEndReason = "timeout"
)

// ChatTranscript is an archived chat-support session, preserved when a
// session ends (or is reaped) with buffered messages.
type ChatTranscript struct {
	ID          string        `json:"id"`
	PhoneNumber string        `json:"phone_number"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
	Reason      ChatEndReason `json:"reason"`
	Messages    []ChatMessage `json:"messages"`
	Dropped     int           `json:"dropped,omitempty"` // messages lost to the buffer cap
}

// ConversationContext is the per-user conversational state, owned
// exclusively by the conversation store. Fields preserve insertion order
// so collected pipelines replay in the order the user answered.
type ConversationContext struct {
	PhoneNumber   string            `json:"phone_number"`
	State         ConversationState `json:"state"`
	Fields        map[string]string `json:"fields,omitempty"`
	FieldOrder    []string          `json:"field_order,omitempty"`
	ChatMessages  []ChatMessage     `json:"chat_messages,omitempty"`
	ChatDropped   int               `json:"chat_dropped,omitempty"`
	ChatStartTime time.Time         `json:"chat_start_time,omitzero"`
	// LastButtons remembers the most recent button set offered, so a bare
	// numeric reply can be resolved back to the chosen button.
	LastButtons  []Button  `json:"last_buttons,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewConversationContext creates a fresh context in StateInitial.
func NewConversationContext(phone string, now time.Time) *ConversationContext {
	return &ConversationContext{
		PhoneNumber:  phone,
		State:        StateInitial,
		Fields:       make(map[string]string),
		LastActivity: now,
		CreatedAt:    now,
	}
}

// SetField stores value under key, recording insertion order for new keys.
// Values are stored verbatim; no trimming or case folding happens here,
// only a hard length cap.
func (c *ConversationContext) SetField(key, value string) {
	if len(value) > MaxFieldValueLength {
		value = value[:MaxFieldValueLength]
	}
	if c.Fields == nil {
		c.Fields = make(map[string]string)
	}
	if _, exists := c.Fields[key]; !exists {
		c.FieldOrder = append(c.FieldOrder, key)
	}
	c.Fields[key] = value
}

// Field returns the stored value for key, or "" when absent.
func (c *ConversationContext) Field(key string) string {
	return c.Fields[key]
}

// FieldsCopy returns an independent copy of the collected fields.
func (c *ConversationContext) FieldsCopy() map[string]string {
	out := make(map[string]string, len(c.Fields))
	for k, v := range c.Fields {
		out[k] = v
	}
	return out
}

// ClearFields drops all collected fields, e.g. when a pipeline is
// cancelled or completes.
func (c *ConversationContext) ClearFields() {
	c.Fields = make(map[string]string)
	c.FieldOrder = nil
}

// AppendChatMessage appends a message to the chat buffer, dropping the
// oldest entry once the buffer holds max messages. max <= 0 means unbounded.
func (c *ConversationContext) AppendChatMessage(msg ChatMessage, max int) {
	c.ChatMessages = append(c.ChatMessages, msg)
	if max > 0 && len(c.ChatMessages) > max {
		overflow := len(c.ChatMessages) - max
		c.ChatMessages = append([]ChatMessage(nil), c.ChatMessages[overflow:]...)
		c.ChatDropped += overflow
	}
}

// ClearChat resets the chat buffer and session start marker.
func (c *ConversationContext) ClearChat() {
	c.ChatMessages = nil
	c.ChatDropped = 0
	c.ChatStartTime = time.Time{}
}

// Touch updates the last-activity timestamp.
func (c *ConversationContext) Touch(now time.Time) {
	c.LastActivity = now
}

// Reset returns the context to the given rest state, clearing transient
// pipeline fields and any chat buffer. The context itself is never
// deleted, only reset.
func (c *ConversationContext) Reset(rest ConversationState, now time.Time) {
	c.State = rest
	c.ClearFields()
	c.ClearChat()
	c.LastButtons = nil
	c.LastActivity = now
}

// Clone returns a deep copy, so store backings can hand out snapshots
// without exposing internal slices and maps.
func (c *ConversationContext) Clone() *ConversationContext {
	out := *c
	out.Fields = c.FieldsCopy()
	out.FieldOrder = append([]string(nil), c.FieldOrder...)
	out.ChatMessages = append([]ChatMessage(nil), c.ChatMessages...)
	out.LastButtons = append([]Button(nil), c.LastButtons...)
	return &out
}
