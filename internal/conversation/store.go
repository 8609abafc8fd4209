package conversation

import (
	"context"
	"errors"
)

var ErrSettingsNotFound = errors.New("clinic settings not found")

// Store persists conversation state. Phone numbers are canonical.
type Store interface {
	SaveMessage(ctx context.Context, m Message) (*Message, error)
	// RecentMessages returns up to limit messages for phone with id below
	// beforeID (zero means no bound), oldest first.
	RecentMessages(ctx context.Context, phone string, limit int, beforeID int64) ([]Message, error)
	// ListMessages returns every message newest first, joined with patient names.
	ListMessages(ctx context.Context) ([]Message, error)

	// UpsertPatientName is a no-op for an empty name.
	UpsertPatientName(ctx context.Context, phone, name string) error
	// PatientName returns "" when the caller is unknown.
	PatientName(ctx context.Context, phone string) (string, error)

	ChatStatus(ctx context.Context, phone string) (ChatStatus, error)
	SetPaused(ctx context.Context, phone string, paused bool) error
	HelpdeskConversation(ctx context.Context, phone string) (int64, error)
	SetHelpdeskConversation(ctx context.Context, phone string, id int64) error

	Settings(ctx context.Context) (ClinicConfig, error)
	UpdateSettings(ctx context.Context, c ClinicConfig) error
}
