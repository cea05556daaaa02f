package message

import (
	"context"
	"time"

	domainSession "github.com/zapa-ai/zapa/domains/session"
)

type Kind string

const (
	KindText     Kind = "TEXT"
	KindImage    Kind = "IMAGE"
	KindAudio    Kind = "AUDIO"
	KindVideo    Kind = "VIDEO"
	KindDocument Kind = "DOCUMENT"
)

type Direction string

const (
	DirectionIncoming Direction = "INCOMING"
	DirectionOutgoing Direction = "OUTGOING"
	DirectionSystem   Direction = "SYSTEM"
)

type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "SENT"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryRead      DeliveryStatus = "READ"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// Message is append-only after insert; only DeliveryStatus and ExternalID
// may change, driven by bridge confirmations.
type Message struct {
	ID             int64          `json:"id"`
	SessionID      int64          `json:"session_id"`
	UserID         int64          `json:"user_id"`
	SenderJID      string         `json:"sender_jid"`
	RecipientJID   string         `json:"recipient_jid"`
	Timestamp      time.Time      `json:"timestamp"`
	Kind           Kind           `json:"kind"`
	Direction      Direction      `json:"direction"`
	Content        string         `json:"content,omitempty"`
	Caption        string         `json:"caption,omitempty"`
	ReplyToID      *int64         `json:"reply_to_id,omitempty"`
	MediaMetadata  map[string]any `json:"media_metadata,omitempty"`
	DeliveryStatus DeliveryStatus `json:"delivery_status,omitempty"`
	ExternalID     string         `json:"external_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

type StoreRequest struct {
	SessionID     int64
	UserID        int64
	SenderJID     string
	RecipientJID  string
	Timestamp     time.Time
	Kind          Kind
	Direction     Direction
	Content       string
	Caption       string
	ReplyToID     *int64
	MediaMetadata map[string]any
	ExternalID    string
}

// ConversationStats aggregates a user's whole history. AvgPerDay counts the
// span between first and last message inclusive.
type ConversationStats struct {
	Total     int64      `json:"total"`
	Incoming  int64      `json:"incoming"`
	Outgoing  int64      `json:"outgoing"`
	FirstAt   *time.Time `json:"first_at,omitempty"`
	LastAt    *time.Time `json:"last_at,omitempty"`
	AvgPerDay float64    `json:"avg_per_day"`
}

type ListRequest struct {
	Limit  int    `json:"limit" query:"limit"`
	Offset int    `json:"offset" query:"offset"`
	Query  string `json:"q" query:"q"`
}

type ListResponse struct {
	Messages []Message `json:"messages"`
	Total    int64     `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

type IMessageUsecase interface {
	Store(ctx context.Context, req StoreRequest) (Message, error)
	Recent(ctx context.Context, userID int64, n int) ([]Message, error)
	Search(ctx context.Context, userID int64, query string, limit int) ([]Message, error)
	InRange(ctx context.Context, userID int64, from, to time.Time) ([]Message, error)
	List(ctx context.Context, userID int64, req ListRequest) (ListResponse, error)
	Stats(ctx context.Context, userID int64) (ConversationStats, error)
	// SetDeliveryStatus is idempotent; unknown external ids are a logged no-op.
	SetDeliveryStatus(ctx context.Context, externalID string, status DeliveryStatus, detail string) error
	GetOrCreateSession(ctx context.Context, userID int64, kind domainSession.Kind) (domainSession.Session, error)
	Export(ctx context.Context, userID int64, format ExportFormat) ([]byte, string, error)
	// UnansweredIncoming lists user TEXT messages older than the cutoff with
	// no later OUTGOING or SYSTEM row for the same user.
	UnansweredIncoming(ctx context.Context, olderThan time.Time) ([]Message, error)
	// UnsentOutgoing lists OUTGOING rows that never reached the bridge.
	UnsentOutgoing(ctx context.Context, olderThan time.Time) ([]Message, error)
}
