package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tutorlinkhq/tutorbot/internal/dialog"
	"github.com/tutorlinkhq/tutorbot/internal/models"
)

// InboundProcessor drains a Service's Responses channel, routes each
// message through the dialogue router and delivers the reply. One
// processor goroutine is enough: per-phone serialization lives in the
// conversation store, and routing itself performs no blocking I/O.
type InboundProcessor struct {
	service  Service
	router   *dialog.Router
	profiles dialog.ProfileResolver
}

// NewInboundProcessor creates a processor over the given service and router.
func NewInboundProcessor(service Service, router *dialog.Router, profiles dialog.ProfileResolver) *InboundProcessor {
	return &InboundProcessor{
		service:  service,
		router:   router,
		profiles: profiles,
	}
}

// Start consumes inbound messages until the context is cancelled or the
// service's response channel closes.
func (p *InboundProcessor) Start(ctx context.Context) {
	slog.Info("InboundProcessor starting")
	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("InboundProcessor stopping, context cancelled")
				return
			case response, ok := <-p.service.Responses():
				if !ok {
					slog.Info("InboundProcessor stopping, responses channel closed")
					return
				}
				p.process(ctx, response)
			}
		}
	}()
}

// process handles one inbound message end to end. Failures are logged
// and dropped; a broken message must never stall the channel drain.
func (p *InboundProcessor) process(ctx context.Context, response models.Response) {
	phone, err := p.service.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Warn("InboundProcessor dropping message with invalid sender", "error", err, "from", response.From)
		return
	}

	body := response.Body
	if len(body) > models.MaxMessageBodyLength {
		slog.Warn("InboundProcessor truncating oversized message", "from", phone, "length", len(body))
		body = body[:models.MaxMessageBodyLength]
	}

	// A fresh profile snapshot per message: registration may have
	// completed since the previous turn.
	profile := p.resolveProfile(ctx, phone)

	result, err := p.router.Route(ctx, phone, body, profile)
	if err != nil {
		slog.Error("InboundProcessor routing failed", "error", err, "from", phone)
		return
	}

	reply := FormatReply(result)
	if reply == "" {
		return
	}
	if err := p.service.SendMessage(ctx, phone, reply); err != nil {
		slog.Error("InboundProcessor reply delivery failed", "error", err, "to", phone)
	}
}

func (p *InboundProcessor) resolveProfile(ctx context.Context, phone string) models.Profile {
	if p.profiles == nil {
		return models.Profile{}
	}
	profile, err := p.profiles.Profile(ctx, phone)
	if err != nil {
		slog.Warn("InboundProcessor profile lookup failed, assuming unregistered", "error", err, "phone", phone)
		return models.Profile{}
	}
	return profile
}

// FormatReply renders a route result as one outbound text message, with
// buttons as numbered lines the user can answer by number or by word.
func FormatReply(result models.RouteResult) string {
	if len(result.Buttons) == 0 {
		return result.Reply
	}
	var b strings.Builder
	b.WriteString(result.Reply)
	b.WriteString("\n")
	for i, button := range result.Buttons {
		fmt.Fprintf(&b, "\n%d. %s", i+1, button.Label)
	}
	return b.String()
}
