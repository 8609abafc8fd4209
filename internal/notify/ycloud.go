package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/clinic-assistant/internal/phone"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

var ycloudTracer = otel.Tracer("clinic-assistant/notify/ycloud")

type YCloudConfig struct {
	APIKey  string
	From    string
	WABAID  string
	BaseURL string
}

// YCloud sends WhatsApp messages through YCloud's sendDirectly endpoint.
type YCloud struct {
	cfg        YCloudConfig
	httpClient *http.Client
	logger     *logging.Logger
}

var _ DirectSender = (*YCloud)(nil)

func NewYCloud(cfg YCloudConfig, httpClient *http.Client, logger *logging.Logger) *YCloud {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.ycloud.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &YCloud{cfg: cfg, httpClient: httpClient, logger: logger}
}

type ycloudMedia struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

func (y *YCloud) Send(ctx context.Context, msg Outbound) error {
	if y.cfg.APIKey == "" {
		return fmt.Errorf("%w: ycloud api key missing", ErrNotConfigured)
	}
	to := phone.Canonical(msg.To)
	if to == "" {
		return errors.New("notify: to required")
	}
	msgType := msg.messageType()
	if msgType == "text" && strings.TrimSpace(msg.Body) == "" {
		return errors.New("notify: body required")
	}

	ctx, span := ycloudTracer.Start(ctx, "notify.ycloud.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.to", to),
		attribute.String("clinic.message_type", msgType),
	)

	payload := map[string]any{
		"from": y.cfg.From,
		"to":   to,
		"type": msgType,
	}
	if y.cfg.WABAID != "" {
		payload["wabaId"] = y.cfg.WABAID
	}
	if msgType == "text" {
		payload["text"] = map[string]string{"body": msg.Body}
	} else {
		payload[msgType] = ycloudMedia{Link: msg.MediaURL, Caption: msg.Body}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal ycloud payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, y.cfg.BaseURL+"/v2/whatsapp/messages/sendDirectly", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build ycloud request: %w", err)
	}
	req.Header.Set("X-API-Key", y.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := y.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ycloud request failed")
		return fmt.Errorf("notify: ycloud send: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("notify: ycloud send failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "ycloud rejected message")
		return err
	}

	var parsed struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	_ = json.Unmarshal(respBody, &parsed)
	y.logger.Info("whatsapp message sent", "to", to, "type", msgType, "provider_message_id", parsed.ID)
	return nil
}
