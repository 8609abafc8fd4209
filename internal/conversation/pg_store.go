package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-assistant/internal/db"
)

const messageColumns = `id, phone_number, message_content, sender, message_type, media_url, provider_message_id, received_at`

const settingsColumns = `clinic_name, clinic_address, clinic_phone, clinic_email, working_hours, services, about_clinic, whatsapp_webhook_url, timezone, clinic_logo, bot_name`

type PgStore struct {
	db db.Querier
}

var _ Store = (*PgStore)(nil)

func NewPgStore(q db.Querier) *PgStore {
	return &PgStore{db: q}
}

func scanMessage(row pgx.Row, extra ...any) (*Message, error) {
	var m Message
	var sender string
	dest := append([]any{&m.ID, &m.PhoneNumber, &m.Content, &sender, &m.MessageType, &m.MediaURL, &m.ProviderMessageID, &m.ReceivedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	m.Sender = Sender(sender)
	return &m, nil
}

func (s *PgStore) SaveMessage(ctx context.Context, m Message) (*Message, error) {
	if m.MessageType == "" {
		m.MessageType = "text"
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO messages (phone_number, message_content, sender, message_type, media_url, provider_message_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+messageColumns,
		m.PhoneNumber, m.Content, string(m.Sender), m.MessageType, m.MediaURL, m.ProviderMessageID,
	)
	saved, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	return saved, nil
}

func (s *PgStore) RecentMessages(ctx context.Context, phone string, limit int, beforeID int64) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+`
			FROM messages
			WHERE phone_number = $1 AND ($2::bigint = 0 OR id < $2::bigint)
			ORDER BY received_at DESC, id DESC
			LIMIT $3
		) recent
		ORDER BY received_at ASC, id ASC`,
		phone, beforeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *PgStore) ListMessages(ctx context.Context) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT m.id, m.phone_number, m.message_content, m.sender, m.message_type, m.media_url, m.provider_message_id, m.received_at,
		       COALESCE(p.name, '')
		FROM messages m
		LEFT JOIN patients p ON p.phone_number = m.phone_number
		ORDER BY m.received_at DESC, m.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var name string
		m, err := scanMessage(rows, &name)
		if err != nil {
			return nil, err
		}
		m.PatientName = name
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *PgStore) UpsertPatientName(ctx context.Context, phone, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO patients (phone_number, name)
		VALUES ($1, $2)
		ON CONFLICT (phone_number) DO UPDATE SET name = EXCLUDED.name, updated_at = now()`,
		phone, name,
	)
	if err != nil {
		return fmt.Errorf("upsert patient: %w", err)
	}
	return nil
}

func (s *PgStore) PatientName(ctx context.Context, phone string) (string, error) {
	var name string
	err := s.db.QueryRow(ctx, `SELECT name FROM patients WHERE phone_number = $1`, phone).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("patient name: %w", err)
	}
	return name, nil
}

func (s *PgStore) ChatStatus(ctx context.Context, phone string) (ChatStatus, error) {
	st := ChatStatus{PhoneNumber: phone}
	err := s.db.QueryRow(ctx, `
		SELECT is_ai_paused, helpdesk_conversation_id
		FROM chat_status
		WHERE phone_number = $1`, phone,
	).Scan(&st.Paused, &st.HelpdeskConversationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return ChatStatus{}, fmt.Errorf("chat status: %w", err)
	}
	return st, nil
}

func (s *PgStore) SetPaused(ctx context.Context, phone string, paused bool) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO chat_status (phone_number, is_ai_paused)
		VALUES ($1, $2)
		ON CONFLICT (phone_number) DO UPDATE SET is_ai_paused = EXCLUDED.is_ai_paused, updated_at = now()`,
		phone, paused,
	)
	if err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	return nil
}

func (s *PgStore) HelpdeskConversation(ctx context.Context, phone string) (int64, error) {
	st, err := s.ChatStatus(ctx, phone)
	if err != nil {
		return 0, err
	}
	return st.HelpdeskConversationID, nil
}

func (s *PgStore) SetHelpdeskConversation(ctx context.Context, phone string, id int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO chat_status (phone_number, helpdesk_conversation_id)
		VALUES ($1, $2)
		ON CONFLICT (phone_number) DO UPDATE SET helpdesk_conversation_id = EXCLUDED.helpdesk_conversation_id, updated_at = now()`,
		phone, id,
	)
	if err != nil {
		return fmt.Errorf("set helpdesk conversation: %w", err)
	}
	return nil
}

func (s *PgStore) Settings(ctx context.Context) (ClinicConfig, error) {
	var c ClinicConfig
	err := s.db.QueryRow(ctx, `SELECT `+settingsColumns+` FROM clinic_settings WHERE id = 1`).Scan(
		&c.ClinicName,
		&c.ClinicAddress,
		&c.ClinicPhone,
		&c.ClinicEmail,
		&c.WorkingHours,
		&c.Services,
		&c.AboutClinic,
		&c.WebhookURL,
		&c.Timezone,
		&c.ClinicLogo,
		&c.BotName,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ClinicConfig{}, ErrSettingsNotFound
	}
	if err != nil {
		return ClinicConfig{}, fmt.Errorf("clinic settings: %w", err)
	}
	return c, nil
}

func (s *PgStore) UpdateSettings(ctx context.Context, c ClinicConfig) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO clinic_settings (id, `+settingsColumns+`)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			clinic_name = EXCLUDED.clinic_name,
			clinic_address = EXCLUDED.clinic_address,
			clinic_phone = EXCLUDED.clinic_phone,
			clinic_email = EXCLUDED.clinic_email,
			working_hours = EXCLUDED.working_hours,
			services = EXCLUDED.services,
			about_clinic = EXCLUDED.about_clinic,
			whatsapp_webhook_url = EXCLUDED.whatsapp_webhook_url,
			timezone = EXCLUDED.timezone,
			clinic_logo = EXCLUDED.clinic_logo,
			bot_name = EXCLUDED.bot_name,
			updated_at = now()`,
		c.ClinicName, c.ClinicAddress, c.ClinicPhone, c.ClinicEmail, c.WorkingHours,
		c.Services, c.AboutClinic, c.WebhookURL, c.Timezone, c.ClinicLogo, c.BotName,
	)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}
