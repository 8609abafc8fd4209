// Package inbound turns raw provider webhooks into canonical inbound
// messages, dropping status callbacks, foreign-deployment events and
// repeat deliveries.
package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hackgods/clinic-assistant/internal/phone"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

type Disposition string

const (
	Accepted  Disposition = "accepted"
	Ignored   Disposition = "ignored"
	Duplicate Disposition = "duplicate"
	Relayed   Disposition = "relayed"
)

// Result carries Message only when Disposition is Accepted.
type Result struct {
	Disposition Disposition
	Message     *Message
}

// Deduper remembers provider message ids. FirstSeen records id and reports
// whether it was new.
type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
}

type Normalizer struct {
	identity string
	dedup    Deduper
	relay    *Relay
	logger   *logging.Logger
}

// NewNormalizer builds a normalizer for the deployment whose WhatsApp number is
// identity. An empty identity accepts every destination; nil dedup or relay
// disables those steps.
func NewNormalizer(identity string, dedup Deduper, relay *Relay, logger *logging.Logger) *Normalizer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Normalizer{
		identity: phone.Canonical(identity),
		dedup:    dedup,
		relay:    relay,
		logger:   logger,
	}
}

func (n *Normalizer) Normalize(ctx context.Context, raw []byte) (Result, error) {
	var hook Webhook
	if err := json.Unmarshal(raw, &hook); err != nil {
		return Result{Disposition: Ignored}, fmt.Errorf("decode webhook: %w", err)
	}

	msg := hook.message()
	if hook.Type != EventInboundReceived || msg == nil {
		return Result{Disposition: Ignored}, nil
	}

	if n.identity != "" && strings.TrimSpace(msg.To) != "" && !phone.Same(msg.To, n.identity) {
		n.logger.Info("inbound for another deployment", "to", msg.To)
		if n.relay != nil {
			n.relay.Forward(ctx, raw)
		}
		return Result{Disposition: Relayed}, nil
	}

	from := phone.Canonical(msg.From)
	if from == "" {
		return Result{Disposition: Ignored}, nil
	}

	id := providerID(hook, msg)
	if id != "" && n.dedup != nil {
		first, err := n.dedup.FirstSeen(ctx, id)
		if err != nil {
			n.logger.Warn("dedup lookup failed, processing message", "error", err, "message_id", id)
		} else if !first {
			n.logger.Info("duplicate inbound delivery dropped", "message_id", id, "phone", from)
			return Result{Disposition: Duplicate}, nil
		}
	}

	out := &Message{
		PhoneNumber:       from,
		Type:              TypeText,
		ProviderMessageID: id,
	}
	if msg.CustomerProfile != nil {
		out.ProfileName = strings.TrimSpace(msg.CustomerProfile.Name)
	}
	if msg.Text != nil {
		out.Body = msg.Text.Body
	}
	applyMedia(out, msg)

	return Result{Disposition: Accepted, Message: out}, nil
}

func providerID(hook Webhook, msg *YCloudMessage) string {
	for _, id := range []string{msg.ID, msg.WAMID, hook.ID} {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return ""
}

// applyMedia picks the first recognized media kind. Image and video use the
// caption as body, documents fall back to the filename, audio has no body.
func applyMedia(out *Message, msg *YCloudMessage) {
	switch {
	case msg.Image != nil:
		out.Type, out.MediaURL, out.Body = TypeImage, msg.Image.Link, msg.Image.Caption
	case msg.Audio != nil:
		out.Type, out.MediaURL, out.Body = TypeAudio, msg.Audio.Link, ""
	case msg.Video != nil:
		out.Type, out.MediaURL, out.Body = TypeVideo, msg.Video.Link, msg.Video.Caption
	case msg.Document != nil:
		body := msg.Document.Caption
		if body == "" {
			body = msg.Document.Filename
		}
		out.Type, out.MediaURL, out.Body = TypeDocument, msg.Document.Link, body
	}
}
