package notify

import (
	"github.com/hackgods/clinic-assistant/internal/config"
	"github.com/hackgods/clinic-assistant/internal/metrics"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

// FromConfig builds the notifier both binaries share. Chatwoot is attached
// only when ACTIVATE_CHATWOOT is set and its settings parse; otherwise the
// direct channel carries everything.
func FromConfig(cfg config.Config, index ConversationIndex, logger *logging.Logger, m *metrics.Metrics) *Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	direct := NewYCloud(YCloudConfig{
		APIKey:  cfg.YCloudAPIKey,
		From:    cfg.YCloudFrom,
		WABAID:  cfg.YCloudWABAID,
		BaseURL: cfg.YCloudBaseURL,
	}, nil, logger)

	var helpdesk Helpdesk
	if cfg.ChatwootActive {
		cw, err := NewChatwoot(ChatwootConfig{
			BaseURL:   cfg.ChatwootURL,
			AccountID: cfg.ChatwootAcct,
			InboxID:   cfg.ChatwootInbox,
			Token:     cfg.ChatwootToken,
		}, nil, logger)
		if err != nil {
			logger.Warn("chatwoot disabled", "error", err)
		} else {
			helpdesk = cw
		}
	}
	return NewNotifier(direct, helpdesk, index, logger, m)
}

// EmailFromConfig returns SendGrid when a key is set and the logging stub
// otherwise.
func EmailFromConfig(cfg config.Config, logger *logging.Logger) EmailSender {
	if sg := NewSendGridSender(SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		return sg
	}
	return NewStubEmailSender(logger)
}
