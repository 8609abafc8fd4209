package inbound

// EventInboundReceived is the only YCloud event type processed locally.
const EventInboundReceived = "whatsapp.inbound_message.received"

// Webhook is the YCloud webhook envelope. Older payloads name the message
// object whatsappInboundMessageReceived.
type Webhook struct {
	ID                     string         `json:"id"`
	Type                   string         `json:"type"`
	InboundMessage         *YCloudMessage `json:"whatsappInboundMessage"`
	InboundMessageReceived *YCloudMessage `json:"whatsappInboundMessageReceived"`
}

func (w Webhook) message() *YCloudMessage {
	if w.InboundMessage != nil {
		return w.InboundMessage
	}
	return w.InboundMessageReceived
}

type YCloudMessage struct {
	ID              string           `json:"id"`
	WAMID           string           `json:"wamid"`
	From            string           `json:"from"`
	To              string           `json:"to"`
	Type            string           `json:"type"`
	CustomerProfile *CustomerProfile `json:"customerProfile"`
	Text            *Text            `json:"text"`
	Image           *Media           `json:"image"`
	Audio           *Media           `json:"audio"`
	Video           *Media           `json:"video"`
	Document        *Media           `json:"document"`
}

type CustomerProfile struct {
	Name string `json:"name"`
}

type Text struct {
	Body string `json:"body"`
}

type Media struct {
	ID       string `json:"id"`
	Link     string `json:"link"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
}

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeAudio    MessageType = "audio"
	TypeVideo    MessageType = "video"
	TypeDocument MessageType = "document"
)

// Message is a normalized inbound turn. PhoneNumber is always canonical.
type Message struct {
	PhoneNumber       string
	Body              string
	Type              MessageType
	MediaURL          string
	ProfileName       string
	ProviderMessageID string
}
