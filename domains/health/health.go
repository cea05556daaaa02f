package health

import (
	"context"
	"time"
)

type Component string

const (
	ComponentStorage Component = "storage"
	ComponentValkey  Component = "valkey"
	ComponentBridge  Component = "bridge"
	ComponentQueue   Component = "queue"
	ComponentAgent   Component = "agent"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Worse reports whether a ranks below b. unknown sorts between degraded and
// unhealthy so a never-probed component does not read as healthy.
func (a Status) Worse(b Status) bool {
	return rank(a) > rank(b)
}

func rank(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnknown:
		return 2
	default:
		return 3
	}
}

type Record struct {
	ID          string         `json:"id"`
	Component   Component      `json:"component"`
	EntityID    string         `json:"entity_id,omitempty"`
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	LastSuccess *time.Time     `json:"last_success,omitempty"`
}

// SystemHealth is the rolled-up view: overall is healthy iff every component
// is healthy, unhealthy if any component is, degraded otherwise.
type SystemHealth struct {
	Overall    Status               `json:"overall"`
	Components map[Component]Record `json:"components"`
	CheckedAt  time.Time            `json:"checked_at"`
}

func Overall(components map[Component]Record) Status {
	overall := StatusHealthy
	for _, rec := range components {
		if rec.Status.Worse(overall) {
			overall = rec.Status
		}
	}
	if overall == StatusUnknown {
		overall = StatusDegraded
	}
	return overall
}

type IHealthUsecase interface {
	CheckStorage(ctx context.Context) Record
	CheckValkey(ctx context.Context) Record
	CheckBridge(ctx context.Context) Record
	CheckQueue(ctx context.Context) Record
	// CheckAll runs every probe and refreshes the snapshot.
	CheckAll(ctx context.Context) SystemHealth
	// Snapshot returns the last known state without probing, so HTTP polls
	// stay cheap.
	Snapshot(ctx context.Context) SystemHealth
	GetComponent(ctx context.Context, component Component) (Record, error)
	ReportFailure(ctx context.Context, component Component, entityID, message string)
	ReportSuccess(ctx context.Context, component Component, entityID string)
	StartPeriodicChecks(ctx context.Context)
}
