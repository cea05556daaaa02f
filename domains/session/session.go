package session

import "time"

type Kind string

const (
	KindMain Kind = "MAIN"
	KindUser Kind = "USER"
)

type Status string

const (
	StatusQRPending    Status = "QR_PENDING"
	StatusConnected    Status = "CONNECTED"
	StatusDisconnected Status = "DISCONNECTED"
	StatusError        Status = "ERROR"
)

// Session tracks one bridge-side WhatsApp session. The MAIN session is the
// service number every user talks to; USER sessions are reserved for linked
// personal numbers.
type Session struct {
	ID             int64          `json:"id"`
	UserID         *int64         `json:"user_id,omitempty"`
	Kind           Kind           `json:"kind"`
	Status         Status         `json:"status"`
	ExternalID     string         `json:"external_id,omitempty"`
	ConnectedAt    *time.Time     `json:"connected_at,omitempty"`
	DisconnectedAt *time.Time     `json:"disconnected_at,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// IsTerminalError reports whether the session needs operator attention.
func (s Session) IsTerminalError() bool {
	return s.Status == StatusError
}
