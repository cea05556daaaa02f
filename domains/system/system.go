package system

import (
	"context"
	"time"

	domainHealth "github.com/zapa-ai/zapa/domains/health"
	domainQueue "github.com/zapa-ai/zapa/domains/queue"
)

// Status is the admin integration view: health snapshot plus queue depths
// and process uptime.
type Status struct {
	Health    domainHealth.SystemHealth `json:"health"`
	Queue     domainQueue.Stats         `json:"queue"`
	StartedAt time.Time                 `json:"started_at"`
	UptimeS   int64                     `json:"uptime_s"`
	ServerID  string                    `json:"server_id"`
	Version   string                    `json:"version"`
}

type ReinitializeResult struct {
	WebhookConfigured bool  `json:"webhook_configured"`
	RecoveredItems    int64 `json:"recovered_items"`
	ReplayedMessages  int   `json:"replayed_messages"`
}

type ISystemUsecase interface {
	Status(ctx context.Context) (Status, error)
	// Reinitialize re-runs the bridge webhook configuration, stale item
	// recovery and the incoming-message replay without restarting.
	Reinitialize(ctx context.Context) (ReinitializeResult, error)
	QueueStats(ctx context.Context) (domainQueue.Stats, error)
	ClearFailed(ctx context.Context) (int64, error)
	RequeueFailed(ctx context.Context) (int64, error)
}
