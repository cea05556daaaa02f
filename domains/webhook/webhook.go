package webhook

import (
	"context"
	"encoding/json"
	"time"
)

type EventType string

const (
	EventMessageReceived  EventType = "message.received"
	EventMessageSent      EventType = "message.sent"
	EventMessageFailed    EventType = "message.failed"
	EventConnectionStatus EventType = "connection.status"
)

func (e EventType) Valid() bool {
	switch e {
	case EventMessageReceived, EventMessageSent, EventMessageFailed, EventConnectionStatus:
		return true
	}
	return false
}

// Envelope is the tagged event wrapper the bridge posts. Data stays raw
// until the event type selects its shape.
type Envelope struct {
	EventType EventType       `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type MessageReceivedData struct {
	FromNumber      string    `json:"from_number"`
	ToNumber        string    `json:"to_number"`
	MessageID       string    `json:"message_id"`
	Text            string    `json:"text,omitempty"`
	Caption         string    `json:"caption,omitempty"`
	MediaURL        string    `json:"media_url,omitempty"`
	MediaType       string    `json:"media_type,omitempty"`
	QuotedMessageID string    `json:"quoted_message_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

type MessageStatusData struct {
	MessageID string    `json:"message_id"`
	Status    string    `json:"status,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ConnectionStatusData struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type AcceptResponse struct {
	OK bool `json:"ok"`
}

type IWebhookUsecase interface {
	// ProcessEvent routes one envelope. It returns once the storage writes
	// and agent dispatch are committed; agent work itself is asynchronous.
	ProcessEvent(ctx context.Context, env Envelope) error
	// Reconcile replays stored incoming TEXT messages that never produced a
	// reply, returning how many jobs were re-dispatched.
	Reconcile(ctx context.Context) (int, error)
}
