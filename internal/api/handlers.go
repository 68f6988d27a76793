package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tutorlinkhq/tutorbot/internal/models"
)

// chatHandler dispatches /chat/{phone}[/send|/end] by path segment.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("chatHandler invoked", "method", r.Method, "path", r.URL.Path)

	path := strings.TrimPrefix(r.URL.Path, "/chat")
	path = strings.TrimPrefix(path, "/")
	segments := strings.Split(path, "/")

	if len(segments) == 0 || segments[0] == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Phone number required"))
		return
	}

	phone, err := s.msgService.ValidateAndCanonicalizeRecipient(segments[0])
	if err != nil {
		slog.Warn("chatHandler phone validation failed", "error", err, "phone", segments[0])
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number: "+err.Error()))
		return
	}

	if len(segments) == 1 {
		// GET /chat/{phone}
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
			return
		}
		s.getChatHandler(w, r, phone)
		return
	}

	if len(segments) == 2 {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
			return
		}
		switch segments[1] {
		case "send":
			s.sendChatHandler(w, r, phone)
		case "end":
			s.endChatHandler(w, r, phone)
		default:
			writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown chat endpoint"))
		}
		return
	}

	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown chat endpoint"))
}

// sendChatHandler handles POST /chat/{phone}/send.
func (s *Server) sendChatHandler(w http.ResponseWriter, r *http.Request, phone string) {
	var req models.AdminSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("sendChatHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("sendChatHandler validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	text, err := s.bridge.Send(r.Context(), phone, req.Text)
	if err != nil {
		if errors.Is(err, models.ErrNotInChatSession) {
			writeJSONResponse(w, http.StatusConflict, models.Error("No active chat session for this phone"))
			return
		}
		slog.Error("sendChatHandler bridge send failed", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}

	// Deliver to the user's device out of band.
	if err := s.msgService.SendMessage(r.Context(), phone, text); err != nil {
		slog.Error("sendChatHandler delivery failed", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Message buffered but delivery failed"))
		return
	}

	slog.Info("Admin message sent to chat", "phone", phone)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent", nil))
}

// endChatHandler handles POST /chat/{phone}/end.
func (s *Server) endChatHandler(w http.ResponseWriter, r *http.Request, phone string) {
	var req models.AdminEndChatRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Warn("endChatHandler invalid JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	closing, duration, err := s.bridge.EndChat(r.Context(), phone, req.Text)
	if err != nil {
		if errors.Is(err, models.ErrNotInChatSession) {
			writeJSONResponse(w, http.StatusConflict, models.Error("No active chat session for this phone"))
			return
		}
		slog.Error("endChatHandler bridge end failed", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to end chat"))
		return
	}

	if err := s.msgService.SendMessage(r.Context(), phone, closing); err != nil {
		slog.Error("endChatHandler closing delivery failed", "error", err, "phone", phone)
	}

	slog.Info("Admin ended chat", "phone", phone, "duration", duration)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Chat ended", map[string]interface{}{
		"duration_seconds": int(duration.Seconds()),
	}))
}

// getChatHandler handles GET /chat/{phone}: the live conversation
// context including any buffered chat messages.
func (s *Server) getChatHandler(w http.ResponseWriter, r *http.Request, phone string) {
	conv, err := s.convStore.Get(r.Context(), phone)
	if err != nil {
		slog.Error("getChatHandler load failed", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

// conversationsHandler handles GET /conversations: a summary of all
// known conversation contexts.
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	contexts, err := s.convStore.List(r.Context())
	if err != nil {
		slog.Error("conversationsHandler list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list conversations"))
		return
	}

	summaries := make([]map[string]interface{}, 0, len(contexts))
	for _, conv := range contexts {
		summaries = append(summaries, map[string]interface{}{
			"phone_number":  conv.PhoneNumber,
			"state":         conv.State,
			"last_activity": conv.LastActivity,
			"buffered":      len(conv.ChatMessages),
		})
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"conversations": summaries,
		"count":         len(summaries),
	}))
}

// studentsHandler handles GET /students and GET /students/{phone}.
func (s *Server) studentsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/students")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		students, err := s.st.ListStudents()
		if err != nil {
			slog.Error("studentsHandler list failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list students"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(students))
		return
	}

	phone, err := s.msgService.ValidateAndCanonicalizeRecipient(path)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number: "+err.Error()))
		return
	}
	student, err := s.st.GetStudent(phone)
	if err != nil {
		slog.Error("studentsHandler get failed", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load student"))
		return
	}
	if student == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Student not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(student))
}

// homeworkHandler handles GET /homework.
func (s *Server) homeworkHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	submissions, err := s.st.ListHomework()
	if err != nil {
		slog.Error("homeworkHandler list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list homework"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(submissions))
}

// paymentsHandler handles GET /payments.
func (s *Server) paymentsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	payments, err := s.st.ListPayments()
	if err != nil {
		slog.Error("paymentsHandler list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list payments"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(payments))
}

// transcriptsHandler handles GET /transcripts.
func (s *Server) transcriptsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	transcripts, err := s.st.ListTranscripts()
	if err != nil {
		slog.Error("transcriptsHandler list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list transcripts"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(transcripts))
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}
