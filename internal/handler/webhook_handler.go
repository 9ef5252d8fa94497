package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"socialcrm/internal/models"
	"socialcrm/internal/service"
)

// WebhookHandler ingests Messenger/Instagram webhook callbacks: the GET
// subscription handshake and POST delivery/read/reply receipts.
type WebhookHandler struct {
	engagementService *service.EngagementService
	verifyToken       string
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(engagementService *service.EngagementService, verifyToken string) *WebhookHandler {
	return &WebhookHandler{
		engagementService: engagementService,
		verifyToken:       verifyToken,
	}
}

// Verify handles GET /webhooks/messenger - the platform's subscription
// handshake. The challenge is echoed back only when the verify token
// matches.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if query.Get("hub.mode") != "subscribe" || query.Get("hub.verify_token") != h.verifyToken {
		WriteError(w, http.StatusForbidden, "VERIFICATION_FAILED", "verify token mismatch")
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(query.Get("hub.challenge")))
}

// Receive handles POST /webhooks/messenger. Each messaging entry may carry a
// delivery receipt (mids), a read receipt, or an inbound reply referencing
// one of our messages. The endpoint always acknowledges with 200 once the
// payload parses; per-receipt failures are logged and skipped so the
// platform does not retry the whole batch forever.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var payload WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
		return
	}

	processed := 0
	for _, entry := range payload.Entry {
		for _, event := range entry.Messaging {
			processed += h.processEvent(r.Context(), event)
		}
	}

	logrus.WithFields(logrus.Fields{
		"object":    payload.Object,
		"entries":   len(payload.Entry),
		"processed": processed,
	}).Debug("Webhook batch processed")

	WriteOK(w, map[string]int{"processed": processed})
}

func (h *WebhookHandler) processEvent(ctx context.Context, event MessagingEvent) int {
	processed := 0

	record := func(mid string, status models.MessageStatus) {
		changed, err := h.engagementService.RecordEvent(ctx, mid, status)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"provider_id": mid,
				"event":       status,
			}).Warn("Failed to record engagement event")
			return
		}
		if changed {
			processed++
		}
	}

	if event.Delivery != nil {
		for _, mid := range event.Delivery.Mids {
			record(mid, models.MessageStatusDelivered)
		}
	}

	if event.Read != nil {
		for _, mid := range event.Read.Mids {
			record(mid, models.MessageStatusRead)
		}
	}

	if event.Message != nil && event.Message.ReplyTo != nil && event.Message.ReplyTo.Mid != "" {
		record(event.Message.ReplyTo.Mid, models.MessageStatusReplied)
	}

	return processed
}

// WebhookPayload is the platform's webhook envelope.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry groups the messaging events for one page.
type WebhookEntry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []MessagingEvent `json:"messaging"`
}

// MessagingEvent is one callback item: a delivery receipt, a read receipt,
// or an inbound message.
type MessagingEvent struct {
	Sender    *WebhookParty    `json:"sender,omitempty"`
	Recipient *WebhookParty    `json:"recipient,omitempty"`
	Delivery  *DeliveryReceipt `json:"delivery,omitempty"`
	Read      *ReadReceipt     `json:"read,omitempty"`
	Message   *InboundMessage  `json:"message,omitempty"`
}

// WebhookParty identifies a webhook participant by platform-scoped id.
type WebhookParty struct {
	ID string `json:"id"`
}

// DeliveryReceipt lists the provider message ids confirmed delivered.
type DeliveryReceipt struct {
	Mids      []string `json:"mids"`
	Watermark int64    `json:"watermark"`
}

// ReadReceipt confirms messages read. Some platform versions include the
// message ids; watermark-only receipts cannot be mapped to a message and
// are skipped.
type ReadReceipt struct {
	Mids      []string `json:"mids,omitempty"`
	Watermark int64    `json:"watermark"`
}

// InboundMessage is a user message; when it references one of our messages
// via reply_to, that message counts as replied.
type InboundMessage struct {
	Mid     string `json:"mid"`
	Text    string `json:"text,omitempty"`
	ReplyTo *struct {
		Mid string `json:"mid"`
	} `json:"reply_to,omitempty"`
}
