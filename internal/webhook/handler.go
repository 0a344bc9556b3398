// Package webhook receives Chatwoot events and queues relay jobs.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"harbor/internal/chatwoot"
	"harbor/internal/metrics"
	"harbor/internal/relay"
	"harbor/internal/trigger"
	"harbor/internal/web"
)

const (
	EventConversationCreated = "conversation_created"
	EventMessageCreated      = "message_created"

	TokenHeader    = "X-Harbor-Token"
	maxRequestBody = 1 << 20
)

// Dispatcher runs relay jobs in the background.
type Dispatcher interface {
	Enqueue(ctx context.Context, job relay.Job) error
}

// Resolver maps the URL client id and inbox to the owning persona.
type Resolver interface {
	ResolveClientID(clientID string, inboxID int) string
}

type idRef struct {
	ID int `json:"id"`
}

type conversationRef struct {
	ID               int64          `json:"id"`
	InboxID          int            `json:"inbox_id"`
	CustomAttributes map[string]any `json:"custom_attributes"`
}

// payload covers both event shapes. message_created carries message fields at
// the top level; conversation_created carries the conversation itself.
type payload struct {
	Event            string                `json:"event"`
	ID               int64                 `json:"id"`
	Content          string                `json:"content"`
	MessageType      *chatwoot.MessageType `json:"message_type"`
	InboxID          int                   `json:"inbox_id"`
	Inbox            idRef                 `json:"inbox"`
	Account          idRef                 `json:"account"`
	Conversation     conversationRef       `json:"conversation"`
	CustomAttributes map[string]any        `json:"custom_attributes"`
	Contact          chatwoot.Contact      `json:"contact"`
	Sender           chatwoot.Contact      `json:"sender"`
}

func (p payload) inboxID() int {
	switch {
	case p.Inbox.ID != 0:
		return p.Inbox.ID
	case p.InboxID != 0:
		return p.InboxID
	default:
		return p.Conversation.InboxID
	}
}

func (p payload) conversationID() int64 {
	if p.Conversation.ID != 0 {
		return p.Conversation.ID
	}
	if p.Event == EventConversationCreated {
		return p.ID
	}
	return 0
}

func (p payload) contactName() string {
	if p.Contact != nil {
		return p.Contact.Name()
	}
	return p.Sender.Name()
}

func (p payload) proactive() bool {
	for _, attrs := range []map[string]any{p.Conversation.CustomAttributes, p.CustomAttributes} {
		if v, _ := attrs[trigger.AttributeKey].(string); v == trigger.AttributeValue {
			return true
		}
	}
	return false
}

type Handler struct {
	Resolver   Resolver
	Dispatcher Dispatcher
	Claims     Claimer
	// Secret, when set, must accompany every delivery.
	Secret string
	Logger *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	urlClientID := r.PathValue("client_id")
	if !h.authorized(r) {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		web.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		return
	}

	var p payload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&p); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		web.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	event := eventLabel(p.Event)

	clientID := urlClientID
	if h.Resolver != nil {
		clientID = h.Resolver.ResolveClientID(urlClientID, p.inboxID())
	}
	h.logger().Debug("harbor.webhook_received",
		"client_id", clientID,
		"url_client_id", urlClientID,
		"evt", p.Event,
		"inbox_id", p.inboxID(),
	)

	switch p.Event {
	case EventConversationCreated:
		h.handleConversationCreated(w, r, p, clientID)
		return
	case EventMessageCreated:
	default:
		metrics.WebhookEventsTotal.WithLabelValues(event, "ignored").Inc()
		web.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "not a message event"})
		return
	}

	if p.MessageType == nil || *p.MessageType != chatwoot.Incoming {
		metrics.WebhookEventsTotal.WithLabelValues(event, "ignored").Inc()
		web.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "not an incoming visitor message"})
		return
	}
	content := strings.TrimSpace(p.Content)
	if content == "" {
		metrics.WebhookEventsTotal.WithLabelValues(event, "ignored").Inc()
		web.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "empty message"})
		return
	}
	conversationID := p.conversationID()
	if conversationID <= 0 || p.Account.ID <= 0 {
		metrics.WebhookEventsTotal.WithLabelValues(event, "rejected").Inc()
		web.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "missing conversation or account id"})
		return
	}

	claimed := false
	if p.ID > 0 && h.Claims != nil {
		fresh, err := h.Claims.ClaimMessage(r.Context(), clientID, p.ID)
		claimed = err == nil && fresh
		if err != nil {
			h.logger().Warn("harbor.claim_failed", "client_id", clientID, "message_id", p.ID, "error", err)
		} else if !fresh {
			metrics.WebhookEventsTotal.WithLabelValues(event, "duplicate").Inc()
			web.WriteJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	job := relay.Job{
		Kind:           relay.KindMessage,
		ClientID:       clientID,
		AccountID:      p.Account.ID,
		ConversationID: conversationID,
		MessageID:      p.ID,
		Content:        content,
		ContactName:    p.contactName(),
		ReceivedAt:     time.Now().UTC(),
	}
	if !h.enqueue(w, r, event, job) {
		if claimed {
			h.release(r.Context(), clientID, p.ID)
		}
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]string{"status": "queued", "client_id": clientID})
}

func (h *Handler) handleConversationCreated(w http.ResponseWriter, r *http.Request, p payload, clientID string) {
	conversationID := p.conversationID()
	if conversationID > 0 && p.Account.ID > 0 {
		job := relay.Job{
			Kind:           relay.KindGreeting,
			ClientID:       clientID,
			AccountID:      p.Account.ID,
			ConversationID: conversationID,
			Proactive:      p.proactive(),
			ReceivedAt:     time.Now().UTC(),
		}
		if !h.enqueue(w, r, EventConversationCreated, job) {
			return
		}
	} else {
		metrics.WebhookEventsTotal.WithLabelValues(EventConversationCreated, "ignored").Inc()
	}
	web.WriteJSON(w, http.StatusOK, map[string]string{"status": "greeting_queued"})
}

// enqueue hands the job to the dispatcher and writes the error response on failure.
func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, event string, job relay.Job) bool {
	if h.Dispatcher == nil {
		metrics.WebhookEventsTotal.WithLabelValues(event, "error").Inc()
		web.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "dispatcher unavailable"})
		return false
	}
	if err := h.Dispatcher.Enqueue(r.Context(), job); err != nil {
		h.logger().Error("harbor.enqueue_failed", "client_id", job.ClientID, "kind", job.Kind, "conversation_id", job.ConversationID, "error", err)
		if errors.Is(err, relay.ErrQueueFull) {
			metrics.WebhookEventsTotal.WithLabelValues(event, "busy").Inc()
			w.Header().Set("Retry-After", "5")
			web.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "busy"})
			return false
		}
		metrics.WebhookEventsTotal.WithLabelValues(event, "error").Inc()
		web.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "enqueue failed"})
		return false
	}
	metrics.WebhookEventsTotal.WithLabelValues(event, "queued").Inc()
	return true
}

// release drops the claim so the platform's retry is not taken for a duplicate.
func (h *Handler) release(ctx context.Context, clientID string, messageID int64) {
	if err := h.Claims.ReleaseMessage(context.WithoutCancel(ctx), clientID, messageID); err != nil {
		h.logger().Warn("harbor.claim_release_failed", "client_id", clientID, "message_id", messageID, "error", err)
	}
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.Secret == "" {
		return true
	}
	token := r.Header.Get(TokenHeader)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.Secret)) == 1
}

// eventLabel bounds the metric label set.
func eventLabel(event string) string {
	switch event {
	case EventConversationCreated, EventMessageCreated,
		"message_updated", "conversation_updated", "conversation_status_changed",
		"webwidget_triggered", "contact_created", "contact_updated":
		return event
	}
	return "other"
}
