package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hackgods/clinic-assistant/internal/appointment"
	"github.com/hackgods/clinic-assistant/internal/users"
)

const maxJSONBody = 1 << 20

type CreateSlotRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type CreateAppointmentRequest struct {
	PhoneNumber     string             `json:"phone_number"`
	PatientName     string             `json:"patient_name"`
	AppointmentDate string             `json:"appointment_date"`
	AppointmentType string             `json:"appointment_type"`
	Status          appointment.Status `json:"status,omitempty"`
}

// UpdateAppointmentRequest changes either the status or the date; status wins
// when both are present.
type UpdateAppointmentRequest struct {
	Status          appointment.Status `json:"status,omitempty"`
	AppointmentDate string             `json:"appointment_date,omitempty"`
}

type SendMessageRequest struct {
	PhoneNumber string `json:"phone_number"`
	Content     string `json:"message_content"`
	MessageType string `json:"message_type"`
	MediaURL    string `json:"media_url"`
}

type SendMessageResponse struct {
	ID            int64  `json:"id"`
	Delivered     bool   `json:"delivered"`
	DeliveryError string `json:"delivery_error,omitempty"`
}

type UpdateNameRequest struct {
	PhoneNumber string `json:"phone_number"`
	Name        string `json:"name"`
}

type TogglePauseRequest struct {
	PhoneNumber string `json:"phone_number"`
	Paused      bool   `json:"is_ai_paused"`
}

type ChatStatusResponse struct {
	PhoneNumber string `json:"phone_number"`
	Paused      bool   `json:"is_ai_paused"`
}

type UploadResponse struct {
	URL string `json:"url"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *users.User `json:"user"`
}

type AckResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v)
}
