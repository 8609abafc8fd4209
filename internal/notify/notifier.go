// Package notify delivers outbound messages: the direct WhatsApp channel, the
// optional helpdesk mirror and staff email. Failures are logged and reported,
// never retried.
package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/hackgods/clinic-assistant/internal/metrics"
	"github.com/hackgods/clinic-assistant/internal/phone"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

var ErrNotConfigured = errors.New("notify: channel not configured")

// Outbound is one message to a caller. Type defaults to text; media types
// send MediaURL with Body as caption.
type Outbound struct {
	To       string
	Body     string
	Type     string
	MediaURL string
}

func (o Outbound) messageType() string {
	t := strings.TrimSpace(o.Type)
	if t == "" || (t != "text" && o.MediaURL == "") {
		return "text"
	}
	return t
}

// DirectSender reaches the caller's phone.
type DirectSender interface {
	Send(ctx context.Context, msg Outbound) error
}

// Mirror is a message copied into the helpdesk. ConversationID of zero means
// find or create one for Phone.
type Mirror struct {
	Phone          string
	Content        string
	Type           string
	MediaURL       string
	Outgoing       bool
	ConversationID int64
}

// Helpdesk mirrors messages and returns the conversation used.
type Helpdesk interface {
	Mirror(ctx context.Context, m Mirror) (int64, error)
}

// ConversationIndex remembers the helpdesk conversation per caller.
type ConversationIndex interface {
	HelpdeskConversation(ctx context.Context, phone string) (int64, error)
	SetHelpdeskConversation(ctx context.Context, phone string, id int64) error
}

// Report says how each path fared. Callers log it; nothing propagates it.
type Report struct {
	DirectErr      error
	HelpdeskErr    error
	ConversationID int64
}

// Notifier fans a message out to the helpdesk mirror (when configured) and
// the direct channel. Each path is attempted independently.
type Notifier struct {
	direct   DirectSender
	helpdesk Helpdesk
	index    ConversationIndex
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewNotifier wires the channels. helpdesk and index may be nil.
func NewNotifier(direct DirectSender, helpdesk Helpdesk, index ConversationIndex, logger *logging.Logger, m *metrics.Metrics) *Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Notifier{direct: direct, helpdesk: helpdesk, index: index, logger: logger, metrics: m}
}

// Send delivers an assistant or operator message.
func (n *Notifier) Send(ctx context.Context, msg Outbound) Report {
	msg.To = phone.Canonical(msg.To)
	var rep Report

	if n.helpdesk != nil {
		rep.ConversationID, rep.HelpdeskErr = n.mirror(ctx, Mirror{
			Phone:    msg.To,
			Content:  msg.Body,
			Type:     msg.messageType(),
			MediaURL: msg.MediaURL,
			Outgoing: true,
		})
	}

	if n.direct == nil {
		rep.DirectErr = ErrNotConfigured
	} else {
		rep.DirectErr = n.direct.Send(ctx, msg)
	}
	n.metrics.ObserveDelivery("whatsapp", rep.DirectErr)
	if rep.DirectErr != nil {
		n.logger.Error("direct delivery failed", "error", rep.DirectErr, "phone", msg.To)
	}
	return rep
}

// MirrorInbound copies a caller's message into the helpdesk, if configured.
func (n *Notifier) MirrorInbound(ctx context.Context, phoneNumber, body, msgType, mediaURL string) error {
	if n.helpdesk == nil {
		return nil
	}
	_, err := n.mirror(ctx, Mirror{
		Phone:    phone.Canonical(phoneNumber),
		Content:  body,
		Type:     msgType,
		MediaURL: mediaURL,
	})
	return err
}

func (n *Notifier) mirror(ctx context.Context, m Mirror) (int64, error) {
	if n.index != nil {
		if id, err := n.index.HelpdeskConversation(ctx, m.Phone); err != nil {
			n.logger.Warn("helpdesk conversation lookup failed", "error", err, "phone", m.Phone)
		} else {
			m.ConversationID = id
		}
	}

	id, err := n.helpdesk.Mirror(ctx, m)
	n.metrics.ObserveDelivery("helpdesk", err)
	if err != nil {
		n.logger.Error("helpdesk mirror failed", "error", err, "phone", m.Phone, "outgoing", m.Outgoing)
		return 0, err
	}

	if n.index != nil && id != 0 && id != m.ConversationID {
		if err := n.index.SetHelpdeskConversation(ctx, m.Phone, id); err != nil {
			n.logger.Warn("helpdesk conversation not remembered", "error", err, "phone", m.Phone)
		}
	}
	return id, nil
}

// mediaContent renders a mirrored message body: "<text>\n[Media (<type>)]: <url>".
func mediaContent(content, msgType, mediaURL string) string {
	if mediaURL == "" {
		return content
	}
	if msgType == "" {
		msgType = "file"
	}
	return strings.TrimSpace(content + "\n[Media (" + msgType + ")]: " + mediaURL)
}
