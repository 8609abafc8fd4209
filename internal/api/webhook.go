package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/hackgods/clinic-assistant/internal/conversation"
	"github.com/hackgods/clinic-assistant/internal/inbound"
	"github.com/hackgods/clinic-assistant/internal/phone"
)

const maxWebhookBody = 1 << 20

// WebhookNormalizer is satisfied by *inbound.Normalizer.
type WebhookNormalizer interface {
	Normalize(ctx context.Context, raw []byte) (inbound.Result, error)
}

// MessageHandler is satisfied by *conversation.Orchestrator.
type MessageHandler interface {
	Handle(ctx context.Context, msg inbound.Message) (conversation.Reply, error)
}

// whatsappWebhook always answers 200: the provider retries anything else and
// a retry would replay the whole turn.
func (h *handlers) whatsappWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("webhook body unreadable", "error", err)
		h.metrics.ObserveInbound("invalid")
		writeJSON(w, http.StatusOK, AckResponse{Status: "ignored"})
		return
	}

	// the reply must be computed even if the provider hangs up early
	ctx := context.WithoutCancel(r.Context())

	res, err := h.normalizer.Normalize(ctx, raw)
	if err != nil {
		h.logger.Warn("webhook payload rejected", "error", err, "request_id", GetRequestID(ctx))
		h.metrics.ObserveInbound("invalid")
		writeJSON(w, http.StatusOK, AckResponse{Status: "ignored"})
		return
	}
	h.metrics.ObserveInbound(string(res.Disposition))

	if res.Disposition == inbound.Accepted && res.Message != nil {
		reply, err := h.messages.Handle(ctx, *res.Message)
		if err != nil {
			h.logger.Error("inbound message not handled", "error", err, "phone", res.Message.PhoneNumber)
		} else if reply.Paused {
			h.logger.Info("assistant paused, reply skipped", "phone", res.Message.PhoneNumber)
		}
	}

	writeJSON(w, http.StatusOK, AckResponse{Status: string(res.Disposition)})
}

type chatwootEvent struct {
	Event       string `json:"event"`
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
	Private     bool   `json:"private"`
	Sender      struct {
		PhoneNumber string `json:"phone_number"`
		Type        string `json:"type"`
	} `json:"sender"`
	Conversation struct {
		ID int64 `json:"id"`
	} `json:"conversation"`
}

// chatwootWebhook acknowledges helpdesk callbacks. New incoming helpdesk
// messages are only logged.
func (h *handlers) chatwootWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.chatwootEnabled {
		writeJSON(w, http.StatusOK, AckResponse{Status: "disabled"})
		return
	}

	var ev chatwootEvent
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&ev); err != nil {
		h.logger.Warn("helpdesk webhook payload rejected", "error", err)
		writeJSON(w, http.StatusOK, AckResponse{Status: "ignored"})
		return
	}

	if ev.Event == "message_created" && ev.MessageType == "incoming" && !ev.Private {
		h.logger.Info("helpdesk message received",
			"phone", phone.Canonical(ev.Sender.PhoneNumber),
			"conversation_id", ev.Conversation.ID,
			"length", len(ev.Content),
		)
	}
	writeJSON(w, http.StatusOK, AckResponse{Status: "ok"})
}
