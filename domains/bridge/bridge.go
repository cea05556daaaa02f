package bridge

import (
	"context"
	"time"
)

// Health is the bridge process self-report.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// Session mirrors the bridge's view of a WhatsApp session. Status values
// follow the bridge wire contract (qr_pending, connected, disconnected,
// error).
type Session struct {
	SessionID   string     `json:"session_id"`
	Status      string     `json:"status"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

func (s Session) Connected() bool { return s.Status == "connected" }

type QRCode struct {
	QR        string `json:"qr"`
	TimeoutS  int    `json:"timeout_s"`
	SessionID string `json:"session_id,omitempty"`
}

type SendResult struct {
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

type WebhookConfig struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

// IBridgeClient is the typed client for the external WhatsApp bridge. The
// client never retries; retry policy belongs to the caller.
type IBridgeClient interface {
	Health(ctx context.Context) (Health, error)
	CreateSession(ctx context.Context, sessionID, webhookURL string) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	GetQR(ctx context.Context, sessionID string) (QRCode, error)
	// SendText normalizes bare-digit recipients to JID form before sending.
	SendText(ctx context.Context, sessionID, recipient, content, quotedID string) (SendResult, error)
	// DeleteSession returns false without error when the session is already
	// gone on the bridge side.
	DeleteSession(ctx context.Context, sessionID string) (bool, error)
	ConfigureWebhook(ctx context.Context, cfg WebhookConfig) error
}
