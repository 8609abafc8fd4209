package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hackgods/clinic-assistant/pkg/logging"
)

type ChatwootConfig struct {
	BaseURL   string
	AccountID string
	InboxID   string
	Token     string
}

// Chatwoot mirrors conversations into a Chatwoot inbox.
type Chatwoot struct {
	base       string
	inboxID    int64
	token      string
	httpClient *http.Client
	logger     *logging.Logger
}

var _ Helpdesk = (*Chatwoot)(nil)

func NewChatwoot(cfg ChatwootConfig, httpClient *http.Client, logger *logging.Logger) (*Chatwoot, error) {
	if cfg.BaseURL == "" || cfg.AccountID == "" || cfg.Token == "" {
		return nil, fmt.Errorf("%w: chatwoot url, account and token required", ErrNotConfigured)
	}
	inbox, err := strconv.ParseInt(strings.TrimSpace(cfg.InboxID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("notify: chatwoot inbox id %q: %w", cfg.InboxID, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Chatwoot{
		base:       strings.TrimRight(cfg.BaseURL, "/") + "/api/v1/accounts/" + url.PathEscape(cfg.AccountID),
		inboxID:    inbox,
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type chatwootContact struct {
	ID             int64  `json:"id"`
	SourceID       string `json:"source_id"`
	ContactInboxes []struct {
		SourceID string `json:"source_id"`
		Inbox    struct {
			ID int64 `json:"id"`
		} `json:"inbox"`
	} `json:"contact_inboxes"`
}

type chatwootConversation struct {
	ID      int64  `json:"id"`
	InboxID int64  `json:"inbox_id"`
	Status  string `json:"status"`
}

func (c *Chatwoot) Mirror(ctx context.Context, m Mirror) (int64, error) {
	convID := m.ConversationID
	if convID == 0 {
		contact, err := c.findOrCreateContact(ctx, m.Phone)
		if err != nil {
			return 0, err
		}
		convID, err = c.findOrCreateConversation(ctx, contact)
		if err != nil {
			return 0, err
		}
	}

	messageType := "incoming"
	if m.Outgoing {
		messageType = "outgoing"
	}
	body := map[string]string{
		"content":      mediaContent(m.Content, m.Type, m.MediaURL),
		"message_type": messageType,
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/conversations/%d/messages", convID), body, nil); err != nil {
		return 0, err
	}
	return convID, nil
}

func (c *Chatwoot) findOrCreateContact(ctx context.Context, phoneNumber string) (chatwootContact, error) {
	var found struct {
		Payload []chatwootContact `json:"payload"`
	}
	if err := c.do(ctx, http.MethodGet, "/contacts/search?q="+url.QueryEscape(phoneNumber), nil, &found); err != nil {
		return chatwootContact{}, err
	}
	if len(found.Payload) > 0 {
		return found.Payload[0], nil
	}

	var created struct {
		Payload struct {
			Contact      chatwootContact `json:"contact"`
			ContactInbox struct {
				SourceID string `json:"source_id"`
			} `json:"contact_inbox"`
		} `json:"payload"`
	}
	req := map[string]any{"name": phoneNumber, "phone_number": phoneNumber, "inbox_id": c.inboxID}
	if err := c.do(ctx, http.MethodPost, "/contacts", req, &created); err != nil {
		return chatwootContact{}, err
	}
	contact := created.Payload.Contact
	if contact.SourceID == "" {
		contact.SourceID = created.Payload.ContactInbox.SourceID
	}
	c.logger.Info("chatwoot contact created", "contact_id", contact.ID, "phone", phoneNumber)
	return contact, nil
}

func (c *Chatwoot) findOrCreateConversation(ctx context.Context, contact chatwootContact) (int64, error) {
	var list struct {
		Payload []chatwootConversation `json:"payload"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/contacts/%d/conversations", contact.ID), nil, &list); err != nil {
		return 0, err
	}
	for _, conv := range list.Payload {
		if conv.InboxID == c.inboxID && conv.Status != "resolved" {
			return conv.ID, nil
		}
	}

	sourceID := contact.SourceID
	for _, ci := range contact.ContactInboxes {
		if ci.Inbox.ID == c.inboxID && ci.SourceID != "" {
			sourceID = ci.SourceID
			break
		}
	}
	var created chatwootConversation
	req := map[string]any{"source_id": sourceID, "contact_id": contact.ID, "inbox_id": c.inboxID}
	if err := c.do(ctx, http.MethodPost, "/conversations", req, &created); err != nil {
		return 0, err
	}
	if created.ID == 0 {
		return 0, fmt.Errorf("notify: chatwoot conversation create returned no id")
	}
	return created.ID, nil
}

func (c *Chatwoot) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("notify: marshal chatwoot request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("notify: build chatwoot request: %w", err)
	}
	req.Header.Set("api_access_token", c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: chatwoot %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: chatwoot %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("notify: decode chatwoot response: %w", err)
		}
	}
	return nil
}
