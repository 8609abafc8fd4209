package inbound

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-assistant/pkg/logging"
)

const textHook = `{
  "id": "evt_1",
  "type": "whatsapp.inbound_message.received",
  "whatsappInboundMessage": {
    "id": "msg_1",
    "from": "+5215512345678",
    "to": "+525500000000",
    "customerProfile": {"name": "Ana López"},
    "type": "text",
    "text": {"body": "Hola, ¿tienen horario mañana?"}
  }
}`

func TestNormalize_TextMessage(t *testing.T) {
	n := NewNormalizer("+52 55 0000 0000", NewMemoryDeduper(time.Hour), nil, logging.Discard())

	res, err := n.Normalize(context.Background(), []byte(textHook))
	require.NoError(t, err)
	require.Equal(t, Accepted, res.Disposition)
	assert.Equal(t, "+525512345678", res.Message.PhoneNumber)
	assert.Equal(t, "Hola, ¿tienen horario mañana?", res.Message.Body)
	assert.Equal(t, TypeText, res.Message.Type)
	assert.Equal(t, "Ana López", res.Message.ProfileName)
	assert.Equal(t, "msg_1", res.Message.ProviderMessageID)
}

func TestNormalize_DuplicateDeliveryDropped(t *testing.T) {
	n := NewNormalizer("", NewMemoryDeduper(time.Hour), nil, logging.Discard())

	first, err := n.Normalize(context.Background(), []byte(textHook))
	require.NoError(t, err)
	assert.Equal(t, Accepted, first.Disposition)

	second, err := n.Normalize(context.Background(), []byte(textHook))
	require.NoError(t, err)
	assert.Equal(t, Duplicate, second.Disposition)
	assert.Nil(t, second.Message)
}

func TestNormalize_LegacyEnvelopeField(t *testing.T) {
	n := NewNormalizer("", nil, nil, logging.Discard())
	raw := `{"type":"whatsapp.inbound_message.received","whatsappInboundMessageReceived":{"wamid":"w1","from":"5215512345678","text":{"body":"hola"}}}`

	res, err := n.Normalize(context.Background(), []byte(raw))
	require.NoError(t, err)
	require.Equal(t, Accepted, res.Disposition)
	assert.Equal(t, "+525512345678", res.Message.PhoneNumber)
	assert.Equal(t, "w1", res.Message.ProviderMessageID)
}

func TestNormalize_IgnoredEvents(t *testing.T) {
	n := NewNormalizer("", nil, nil, logging.Discard())
	for name, raw := range map[string]string{
		"status callback": `{"type":"whatsapp.message.updated","whatsappMessage":{"status":"delivered"}}`,
		"missing message": `{"type":"whatsapp.inbound_message.received"}`,
		"missing sender":  `{"type":"whatsapp.inbound_message.received","whatsappInboundMessage":{"text":{"body":"x"}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			res, err := n.Normalize(context.Background(), []byte(raw))
			require.NoError(t, err)
			assert.Equal(t, Ignored, res.Disposition)
		})
	}
}

func TestNormalize_BadJSON(t *testing.T) {
	n := NewNormalizer("", nil, nil, logging.Discard())
	res, err := n.Normalize(context.Background(), []byte(`{not json`))
	require.Error(t, err)
	assert.Equal(t, Ignored, res.Disposition)
}

func TestNormalize_Media(t *testing.T) {
	n := NewNormalizer("", nil, nil, logging.Discard())
	cases := []struct {
		name     string
		media    string
		wantType MessageType
		wantBody string
	}{
		{"image caption", `"image":{"link":"https://m/i.jpg","caption":"mi receta"}`, TypeImage, "mi receta"},
		{"audio has no body", `"audio":{"link":"https://m/a.ogg"},"text":{"body":"ignored"}`, TypeAudio, ""},
		{"video caption", `"video":{"link":"https://m/v.mp4","caption":"mira"}`, TypeVideo, "mira"},
		{"document filename fallback", `"document":{"link":"https://m/d.pdf","filename":"estudios.pdf"}`, TypeDocument, "estudios.pdf"},
		{"document caption wins", `"document":{"link":"https://m/d.pdf","caption":"resultados","filename":"estudios.pdf"}`, TypeDocument, "resultados"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := `{"type":"whatsapp.inbound_message.received","whatsappInboundMessage":{"from":"+525512345678",` + tc.media + `}}`
			res, err := n.Normalize(context.Background(), []byte(raw))
			require.NoError(t, err)
			require.Equal(t, Accepted, res.Disposition)
			assert.Equal(t, tc.wantType, res.Message.Type)
			assert.Equal(t, tc.wantBody, res.Message.Body)
			assert.NotEmpty(t, res.Message.MediaURL)
		})
	}
}

func TestNormalize_ForeignDestinationIsRelayed(t *testing.T) {
	var hits atomic.Int32
	var got atomic.Value
	sibling := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.Store(string(body))
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer sibling.Close()

	relay := NewRelay([]string{sibling.URL}, sibling.Client(), logging.Discard())
	dedup := NewMemoryDeduper(time.Hour)
	n := NewNormalizer("+525599999999", dedup, relay, logging.Discard())

	res, err := n.Normalize(context.Background(), []byte(textHook))
	require.NoError(t, err)
	assert.Equal(t, Relayed, res.Disposition)

	relay.Wait()
	assert.Equal(t, int32(1), hits.Load())
	assert.JSONEq(t, textHook, got.Load().(string))

	// relayed events never enter the local dedup set
	first, err := dedup.FirstSeen(context.Background(), "msg_1")
	require.NoError(t, err)
	assert.True(t, first)
}

type brokenDeduper struct{}

func (brokenDeduper) FirstSeen(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestNormalize_DedupFailureStillProcesses(t *testing.T) {
	n := NewNormalizer("", brokenDeduper{}, nil, logging.Discard())
	res, err := n.Normalize(context.Background(), []byte(textHook))
	require.NoError(t, err)
	assert.Equal(t, Accepted, res.Disposition)
}

func TestMemoryDeduper_ClearsOnInterval(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	d := newMemoryDeduper(time.Hour, func() time.Time { return now })
	ctx := context.Background()

	first, _ := d.FirstSeen(ctx, "a")
	assert.True(t, first)

	now = now.Add(59 * time.Minute)
	again, _ := d.FirstSeen(ctx, "a")
	assert.False(t, again)

	now = now.Add(2 * time.Minute)
	afterReset, _ := d.FirstSeen(ctx, "a")
	assert.True(t, afterReset)
}
