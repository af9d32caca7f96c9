// Package wa implements the WhatsApp Cloud API transport: webhook ingress,
// outbound sends, and media retrieval.
package wa

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/lotline/internal/domain"
)

// EventHandler receives the parsed inbound events. Implemented by the
// session state machine.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev domain.InboundEvent) error
}

// Button reply ids used in confirmation prompts and mapped back to choices
// on the way in.
const (
	buttonConfirm = "btn_confirm"
	buttonPrice   = "btn_price"
	buttonCancel  = "btn_cancel"
)

const eventTimeout = 60 * time.Second

// Webhook handles Meta's webhook verification handshake and inbound
// notification posts.
type Webhook struct {
	handler     EventHandler
	verifyToken string
}

// NewWebhook creates the webhook handler.
func NewWebhook(handler EventHandler, verifyToken string) *Webhook {
	return &Webhook{handler: handler, verifyToken: verifyToken}
}

// Verify answers Meta's GET subscription handshake.
func (w *Webhook) Verify(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == w.verifyToken {
		rw.WriteHeader(http.StatusOK)
		if _, err := rw.Write([]byte(q.Get("hub.challenge"))); err != nil {
			slog.Warn("failed to write verification challenge", "error", err)
		}
		return
	}
	http.Error(rw, "verification failed", http.StatusForbidden)
}

// Receive parses a notification post and dispatches its events. The batch is
// acked immediately and processed on a background context so Meta's delivery
// timeout is never at the mercy of extraction latency. Events within one
// batch are processed in order; cross-batch ordering is whatever the
// transport delivered.
func (w *Webhook) Receive(rw http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(rw, "malformed payload", http.StatusBadRequest)
		return
	}

	events := eventsFromPayload(payload)
	rw.WriteHeader(http.StatusAccepted)

	if len(events) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		for _, ev := range events {
			if err := w.handler.HandleEvent(ctx, ev); err != nil {
				slog.Error("failed to handle inbound event",
					"sender_id", ev.SenderID,
					"kind", ev.Kind,
					"error", err)
			}
		}
	}()
}

func eventsFromPayload(payload webhookPayload) []domain.InboundEvent {
	var events []domain.InboundEvent
	for _, e := range payload.Entry {
		for _, c := range e.Changes {
			if c.Field != "messages" {
				continue
			}
			for _, msg := range c.Value.Messages {
				if ev, ok := eventFromMessage(msg); ok {
					events = append(events, ev)
				}
			}
		}
	}
	return events
}

func eventFromMessage(msg message) (domain.InboundEvent, bool) {
	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return domain.InboundEvent{}, false
		}
		return domain.InboundEvent{
			SenderID: msg.From,
			Kind:     domain.KindText,
			Text:     msg.Text.Body,
		}, true
	case "image":
		if msg.Image == nil {
			return domain.InboundEvent{}, false
		}
		return domain.InboundEvent{
			SenderID: msg.From,
			Kind:     domain.KindMedia,
			MediaRef: msg.Image.ID,
		}, true
	case "interactive":
		if msg.Interactive == nil || msg.Interactive.ButtonReply == nil {
			return domain.InboundEvent{}, false
		}
		choice, ok := choiceForButton(msg.Interactive.ButtonReply.ID)
		if !ok {
			return domain.InboundEvent{}, false
		}
		return domain.InboundEvent{
			SenderID: msg.From,
			Kind:     domain.KindChoice,
			Choice:   choice,
		}, true
	default:
		// Audio, documents, reactions, stickers: not part of the intake flow.
		return domain.InboundEvent{}, false
	}
}

func choiceForButton(id string) (domain.Choice, bool) {
	switch id {
	case buttonConfirm:
		return domain.ChoiceAffirm, true
	case buttonPrice:
		return domain.ChoiceCorrect, true
	case buttonCancel:
		return domain.ChoiceCancel, true
	default:
		return "", false
	}
}
