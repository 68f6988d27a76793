// Package models defines the core data structures for tutorbot.
//
// It includes the conversation state machine vocabulary, student and
// homework records, and the API response envelope shared across modules.
package models

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Collected-field keys used by the registration, homework and payment pipelines.
const (
	// FieldFullName holds the student's full name as typed.
	FieldFullName = "full_name"
	// FieldEmail holds the student's email address as typed.
	FieldEmail = "email"
	// FieldClassGrade holds the student's class/grade as typed.
	FieldClassGrade = "class_grade"
	// FieldSubject holds the homework subject.
	FieldSubject = "subject"
	// FieldHomeworkType holds the homework type (essay, exercises, project...).
	FieldHomeworkType = "homework_type"
	// FieldContent holds the homework content.
	FieldContent = "content"
	// FieldPaymentReference holds the user-supplied payment reference.
	FieldPaymentReference = "payment_reference"
)

// Validation constants for input validation
const (
	// MaxMessageBodyLength defines the maximum text length accepted from a user in one turn.
	MaxMessageBodyLength = 4096
	// MaxFieldValueLength defines the maximum length stored for a single collected field.
	MaxFieldValueLength = 1024
)

// Error variables for better error handling and testability
var (
	ErrEmptyPhone        = errors.New("phone number cannot be empty")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrTextTooLong       = errors.New("text exceeds maximum length")
	ErrNotInChatSession  = errors.New("conversation is not in an active chat session")
	ErrStudentNotFound   = errors.New("student not found")
	ErrMissingFullName   = errors.New("full name is required")
	ErrInvalidEmail      = errors.New("email address is not valid")
	ErrMissingClassGrade = errors.New("class grade is required")
	ErrMissingSubject    = errors.New("homework subject is required")
	ErrMissingContent    = errors.New("homework content is required")
)

// Profile is the read-only registration snapshot supplied to the dialogue
// router on every inbound message. The router never mutates or caches it.
type Profile struct {
	IsRegistered bool   `json:"is_registered"`
	StoredName   string `json:"stored_name,omitempty"`
	ClassGrade   string `json:"class_grade,omitempty"`
	HasPaid      bool   `json:"has_paid,omitempty"`
}

// Button is a single reply option offered under a bot message.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// RouteResult is what the dialogue router returns to the transport layer
// for one inbound message.
type RouteResult struct {
	Reply     string            `json:"reply"`
	NextState ConversationState `json:"next_state"`
	Buttons   []Button          `json:"buttons,omitempty"`
}

// Student is a registered tutoring student.
type Student struct {
	PhoneNumber  string    `json:"phone_number"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	ClassGrade   string    `json:"class_grade"`
	Subscribed   bool      `json:"subscribed"`
	RegisteredAt time.Time `json:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HomeworkSubmission is one homework handed in over chat.
type HomeworkSubmission struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	Subject     string    `json:"subject"`
	Type        string    `json:"type"`
	Content     string    `json:"content"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// PaymentStatus represents the review status of a payment record.
type PaymentStatus string

const (
	// PaymentStatusPending indicates the reference is awaiting admin review.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusConfirmed indicates an admin confirmed the payment.
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	// PaymentStatusRejected indicates an admin rejected the payment.
	PaymentStatusRejected PaymentStatus = "rejected"
)

// PaymentRecord is a subscription payment reference submitted by a user.
type PaymentRecord struct {
	ID          string        `json:"id"`
	PhoneNumber string        `json:"phone_number"`
	Reference   string        `json:"reference"`
	Status      PaymentStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Response represents an incoming message from a user.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records the delivery status of an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// AdminSendRequest is the body of POST /chat/{phone}/send.
type AdminSendRequest struct {
	Text string `json:"text"`
}

// Validate checks an AdminSendRequest for well-formedness.
func (r *AdminSendRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	if len(r.Text) > MaxMessageBodyLength {
		return ErrTextTooLong
	}
	return nil
}

// AdminEndChatRequest is the body of POST /chat/{phone}/end.
// Text is an optional closing message; a default is used when empty.
type AdminEndChatRequest struct {
	Text string `json:"text,omitempty"`
}

// Validate checks an AdminEndChatRequest for well-formedness.
func (r *AdminEndChatRequest) Validate() error {
	if len(r.Text) > MaxMessageBodyLength {
		return ErrTextTooLong
	}
	return nil
}

// ValidateRegistrationFields checks the raw collected registration fields.
// Called by the registration collaborator at the pipeline's terminal state;
// the router itself never validates.
func ValidateRegistrationFields(fields map[string]string) error {
	if strings.TrimSpace(fields[FieldFullName]) == "" {
		return ErrMissingFullName
	}
	email := strings.TrimSpace(fields[FieldEmail])
	if email == "" {
		return ErrInvalidEmail
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	if strings.TrimSpace(fields[FieldClassGrade]) == "" {
		return ErrMissingClassGrade
	}
	return nil
}

// API Response types for consistent JSON responses

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a success response with result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a success response with a message and result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
