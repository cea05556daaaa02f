package queue

import (
	"context"
	"time"
)

// Priority classes for outbound sends. Higher values jump the line; FIFO
// holds within a class.
const (
	PriorityNormal = 0
	PriorityHigh   = 1
	PriorityUrgent = 2
)

// OutboundMessage is the queue item payload. MessageID links back to the
// stored OUTGOING row so the bridge's message id can be backfilled after a
// successful send.
type OutboundMessage struct {
	ID         string    `json:"id"`
	ToNumber   string    `json:"to_number"`
	Content    string    `json:"content"`
	FromNumber string    `json:"from_number,omitempty"`
	MediaURL   string    `json:"media_url,omitempty"`
	Priority   int       `json:"priority"`
	CreatedAt  time.Time `json:"created_at"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	MessageID  int64     `json:"message_id,omitempty"`
	QuotedID   string    `json:"quoted_id,omitempty"`
}

type EnqueueRequest struct {
	ToNumber   string
	Content    string
	FromNumber string
	MediaURL   string
	Priority   int
	MessageID  int64
	QuotedID   string
}

type Stats struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Dead       int64 `json:"dead"`
}

func (s Stats) Depth() int64 { return s.Queued + s.Processing }

type IOutboundQueue interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (string, error)
	Stats(ctx context.Context) (Stats, error)
	ClearDead(ctx context.Context) (int64, error)
	RequeueDead(ctx context.Context) (int64, error)
	// RecoverStale moves processing entries older than the visibility
	// timeout back to the queue with a bumped attempt count.
	RecoverStale(ctx context.Context) (int64, error)
}
