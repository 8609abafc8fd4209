package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-assistant/internal/conversation"
	"github.com/hackgods/clinic-assistant/internal/notify"
	"github.com/hackgods/clinic-assistant/internal/phone"
)

const maxUploadBytes = 16 << 20

// OutboundSender is the notifier the operator send path shares with the
// assistant.
type OutboundSender interface {
	Send(ctx context.Context, msg notify.Outbound) notify.Report
}

// Uploader is satisfied by *media.Store.
type Uploader interface {
	Enabled() bool
	Upload(ctx context.Context, filename, contentType string, body io.Reader) (string, error)
}

func (h *handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.store.ListMessages(r.Context())
	if err != nil {
		h.internalError(w, "list messages", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(msgs))
}

// sendMessage is the manual reply path: the message is stored as the
// assistant's and delivered through the shared notifier. Delivery failure is
// reported but the stored message stays.
func (h *handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	to := phone.Canonical(req.PhoneNumber)
	content := strings.TrimSpace(req.Content)
	if to == "" {
		writeError(w, http.StatusBadRequest, "invalid_phone_number", "phone_number is required")
		return
	}
	if content == "" && req.MediaURL == "" {
		writeError(w, http.StatusBadRequest, "empty_message", "message_content or media_url is required")
		return
	}
	msgType := strings.TrimSpace(req.MessageType)
	if msgType == "" {
		msgType = "text"
	}

	saved, err := h.store.SaveMessage(r.Context(), conversation.Message{
		PhoneNumber: to,
		Content:     content,
		Sender:      conversation.SenderAssistant,
		MessageType: msgType,
		MediaURL:    req.MediaURL,
		ReceivedAt:  h.now(),
	})
	if err != nil {
		h.internalError(w, "save operator message", err)
		return
	}

	resp := SendMessageResponse{ID: saved.ID, Delivered: true}
	if h.sender == nil {
		resp.Delivered = false
		resp.DeliveryError = notify.ErrNotConfigured.Error()
	} else {
		report := h.sender.Send(r.Context(), notify.Outbound{To: to, Body: content, Type: msgType, MediaURL: req.MediaURL})
		if report.DirectErr != nil {
			h.logger.Error("operator message not delivered", "error", report.DirectErr, "phone", to, "message_id", saved.ID)
			resp.Delivered = false
			resp.DeliveryError = report.DirectErr.Error()
		}
		if report.HelpdeskErr != nil {
			h.logger.Error("operator message not mirrored", "error", report.HelpdeskErr, "phone", to)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.Settings(r.Context())
	if err != nil && !errors.Is(err, conversation.ErrSettingsNotFound) {
		h.internalError(w, "load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *handlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	var settings conversation.ClinicConfig
	if err := decodeJSON(w, r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if tz := strings.TrimSpace(settings.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_timezone", err.Error())
			return
		}
	}
	if err := h.store.UpdateSettings(r.Context(), settings); err != nil {
		h.internalError(w, "update settings", err)
		return
	}
	h.logger.Info("clinic settings updated", "clinic", settings.ClinicName)
	writeJSON(w, http.StatusOK, settings)
}

func (h *handlers) updateName(w http.ResponseWriter, r *http.Request) {
	var req UpdateNameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	caller := phone.Canonical(req.PhoneNumber)
	name := strings.TrimSpace(req.Name)
	if caller == "" || name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "phone_number and name are required")
		return
	}
	if err := h.store.UpsertPatientName(r.Context(), caller, name); err != nil {
		h.internalError(w, "update patient name", err)
		return
	}
	writeJSON(w, http.StatusOK, AckResponse{Status: "ok"})
}

func (h *handlers) chatStatus(w http.ResponseWriter, r *http.Request) {
	caller := phone.Canonical(chi.URLParam(r, "phone"))
	if caller == "" {
		writeError(w, http.StatusBadRequest, "invalid_phone_number", "phone number is required")
		return
	}
	st, err := h.store.ChatStatus(r.Context(), caller)
	if err != nil {
		h.internalError(w, "load chat status", err)
		return
	}
	writeJSON(w, http.StatusOK, ChatStatusResponse{PhoneNumber: caller, Paused: st.Paused})
}

func (h *handlers) togglePause(w http.ResponseWriter, r *http.Request) {
	var req TogglePauseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	caller := phone.Canonical(req.PhoneNumber)
	if caller == "" {
		writeError(w, http.StatusBadRequest, "invalid_phone_number", "phone_number is required")
		return
	}
	if err := h.store.SetPaused(r.Context(), caller, req.Paused); err != nil {
		h.internalError(w, "toggle pause", err)
		return
	}
	h.logger.Info("assistant pause toggled", "phone", caller, "paused", req.Paused)
	writeJSON(w, http.StatusOK, ChatStatusResponse{PhoneNumber: caller, Paused: req.Paused})
}

func (h *handlers) upload(w http.ResponseWriter, r *http.Request) {
	if h.uploads == nil || !h.uploads.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "uploads_disabled", "media storage is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	url, err := h.uploads.Upload(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		h.internalError(w, "upload media", err)
		return
	}
	writeJSON(w, http.StatusCreated, UploadResponse{URL: url})
}
