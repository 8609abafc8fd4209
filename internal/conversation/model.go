// Package conversation keeps the chat log, patient profiles, per-caller chat
// status and clinic settings, and runs the Orchestrator that turns an inbound
// message into a reply.
package conversation

import (
	"strings"
	"time"

	"github.com/hackgods/clinic-assistant/internal/clinictime"
)

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

const defaultBotName = "AI Assistant"

type Message struct {
	ID                int64     `json:"id"`
	PhoneNumber       string    `json:"phone_number"`
	Content           string    `json:"message_content"`
	Sender            Sender    `json:"sender"`
	MessageType       string    `json:"message_type"`
	MediaURL          string    `json:"media_url,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	PatientName       string    `json:"patient_name,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
}

type Patient struct {
	PhoneNumber string    `json:"phone_number"`
	Name        string    `json:"name"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChatStatus is the per-caller handoff state. A caller with no row is not paused.
type ChatStatus struct {
	PhoneNumber            string `json:"phone_number"`
	Paused                 bool   `json:"is_ai_paused"`
	HelpdeskConversationID int64  `json:"helpdesk_conversation_id,omitempty"`
}

// ClinicConfig is the singleton clinic_settings row.
type ClinicConfig struct {
	ClinicName    string `json:"clinic_name"`
	ClinicAddress string `json:"clinic_address"`
	ClinicPhone   string `json:"clinic_phone"`
	ClinicEmail   string `json:"clinic_email"`
	WorkingHours  string `json:"working_hours"`
	Services      string `json:"services"`
	AboutClinic   string `json:"about_clinic"`
	WebhookURL    string `json:"whatsapp_webhook_url"`
	Timezone      string `json:"timezone"`
	ClinicLogo    string `json:"clinic_logo"`
	BotName       string `json:"bot_name"`
}

func (c ClinicConfig) Bot() string {
	if name := strings.TrimSpace(c.BotName); name != "" {
		return name
	}
	return defaultBotName
}

// Location resolves the clinic zone, falling back to the deployment default.
func (c ClinicConfig) Location(fallback string) *time.Location {
	return clinictime.Location(c.Timezone, fallback)
}
