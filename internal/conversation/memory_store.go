package conversation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	messages []Message
	patients map[string]Patient
	status   map[string]ChatStatus
	settings *ClinicConfig
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patients: make(map[string]Patient),
		status:   make(map[string]ChatStatus),
		now:      time.Now,
	}
}

func (s *MemoryStore) SaveMessage(_ context.Context, m Message) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	m.ID = s.nextID
	if m.MessageType == "" {
		m.MessageType = "text"
	}
	m.PatientName = ""
	m.ReceivedAt = s.now()
	s.messages = append(s.messages, m)
	return &m, nil
}

func (s *MemoryStore) RecentMessages(_ context.Context, phone string, limit int, beforeID int64) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Message
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[i]
		if m.PhoneNumber != phone || (beforeID != 0 && m.ID >= beforeID) {
			continue
		}
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *MemoryStore) ListMessages(_ context.Context) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		m.PatientName = s.patients[m.PhoneNumber].Name
		out[i] = m
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Messages returns a copy of every stored message in insertion order.
func (s *MemoryStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

func (s *MemoryStore) UpsertPatientName(_ context.Context, phone, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[phone] = Patient{PhoneNumber: phone, Name: name, UpdatedAt: s.now()}
	return nil
}

func (s *MemoryStore) PatientName(_ context.Context, phone string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patients[phone].Name, nil
}

func (s *MemoryStore) ChatStatus(_ context.Context, phone string) (ChatStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[phone]
	if !ok {
		st.PhoneNumber = phone
	}
	return st, nil
}

func (s *MemoryStore) SetPaused(_ context.Context, phone string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status[phone]
	st.PhoneNumber = phone
	st.Paused = paused
	s.status[phone] = st
	return nil
}

func (s *MemoryStore) HelpdeskConversation(_ context.Context, phone string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[phone].HelpdeskConversationID, nil
}

func (s *MemoryStore) SetHelpdeskConversation(_ context.Context, phone string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status[phone]
	st.PhoneNumber = phone
	st.HelpdeskConversationID = id
	s.status[phone] = st
	return nil
}

func (s *MemoryStore) Settings(_ context.Context) (ClinicConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return ClinicConfig{}, ErrSettingsNotFound
	}
	return *s.settings, nil
}

func (s *MemoryStore) UpdateSettings(_ context.Context, c ClinicConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &c
	return nil
}
