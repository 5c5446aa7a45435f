package platform

// Webhook payload shapes as delivered by the messaging platform. One payload
// carries zero or more entries; each messaging sub-event holds at most one
// of message, delivery or read.

type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []MessagingEvent `json:"messaging"`
}

type MessagingEvent struct {
	Sender    Participant      `json:"sender"`
	Recipient Participant      `json:"recipient"`
	Timestamp int64            `json:"timestamp"`
	Message   *MessagePayload  `json:"message,omitempty"`
	Delivery  *DeliveryPayload `json:"delivery,omitempty"`
	Read      *ReadPayload     `json:"read,omitempty"`
}

type Participant struct {
	ID string `json:"id"`
}

type MessagePayload struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text"`
	IsEcho      bool         `json:"is_echo,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	Type string `json:"type"`
}

type DeliveryPayload struct {
	MIDs      []string `json:"mids"`
	Watermark int64    `json:"watermark"`
}

type ReadPayload struct {
	Watermark int64 `json:"watermark"`
}

// Normalized events produced by Decode.

type Event interface {
	event()
}

// InboundMessage is a text message from a customer to a page.
type InboundMessage struct {
	PageID     string
	CustomerID string
	MessageID  string
	Text       string
	Timestamp  int64
}

// DeliveryReceipt reports that the customer's device received the listed
// outbound messages.
type DeliveryReceipt struct {
	PageID     string
	CustomerID string
	MessageIDs []string
	Watermark  int64
}

// ReadReceipt reports that the customer has read everything the page sent
// up to the watermark.
type ReadReceipt struct {
	PageID     string
	CustomerID string
	Watermark  int64
}

func (InboundMessage) event()  {}
func (DeliveryReceipt) event() {}
func (ReadReceipt) event()     {}

// Skip describes a sub-event that produced no normalized event. Skips are
// data, not errors; the ingestion worker logs them at warn level.
type Skip struct {
	Reason string
}

type DecodeResult struct {
	Events  []Event
	Skipped []Skip
}
