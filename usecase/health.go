package usecase

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/zapa-ai/zapa/core/config"
	domainBridge "github.com/zapa-ai/zapa/domains/bridge"
	"github.com/zapa-ai/zapa/domains/health"
	domainQueue "github.com/zapa-ai/zapa/domains/queue"
	"github.com/zapa-ai/zapa/infrastructure/valkey"
	"github.com/zapa-ai/zapa/ui/websocket"
)

const (
	probeTimeout = 5 * time.Second

	queueDegradedDepth  = 100
	queueUnhealthyDepth = 500
)

type healthService struct {
	db       *sql.DB
	gorm     *gorm.DB
	valkey   *valkey.Client
	bridge   domainBridge.IBridgeClient
	queue    domainQueue.IOutboundQueue
	interval time.Duration

	mu          sync.RWMutex
	snapshot    health.SystemHealth
	lastOverall health.Status
}

// initHealthStorageDB opens the sqlite side store. Check results survive
// restarts there, so the admin surface can show last-known state before the
// first probe of a fresh process completes.
func initHealthStorageDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, err
	}

	createHealthTable := `
		CREATE TABLE IF NOT EXISTS health_checks (
			id TEXT PRIMARY KEY,
			component TEXT NOT NULL,
			entity_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			last_message TEXT,
			details TEXT,
			last_checked TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_success TIMESTAMP,
			UNIQUE(component, entity_id)
		);
	`

	if _, err := db.Exec(createHealthTable); err != nil {
		return nil, err
	}

	return db, nil
}

func NewHealthService(
	cfg config.HealthConfig,
	db *gorm.DB,
	valkeyClient *valkey.Client,
	bridge domainBridge.IBridgeClient,
	queue domainQueue.IOutboundQueue,
) health.IHealthUsecase {
	side, err := initHealthStorageDB(cfg.StorePath)
	if err != nil {
		logrus.WithError(err).Error("[Health] failed to initialize storage")
	}
	return &healthService{
		db:       side,
		gorm:     db,
		valkey:   valkeyClient,
		bridge:   bridge,
		queue:    queue,
		interval: cfg.ProbeInterval,
	}
}

func (s *healthService) ensureDB() error {
	if s.db == nil {
		return fmt.Errorf("health storage not initialized")
	}
	return nil
}

func (s *healthService) CheckStorage(ctx context.Context) health.Record {
	rec := health.Record{Component: health.ComponentStorage, Status: health.StatusHealthy, Message: "storage reachable"}
	if s.gorm == nil {
		rec.Status = health.StatusUnhealthy
		rec.Message = "storage not configured"
		return s.finish(ctx, rec)
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var one int
	if err := s.gorm.WithContext(probeCtx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		rec.Status = health.StatusUnhealthy
		rec.Message = err.Error()
	}
	return s.finish(ctx, rec)
}

func (s *healthService) CheckValkey(ctx context.Context) health.Record {
	rec := health.Record{Component: health.ComponentValkey, Status: health.StatusHealthy, Message: "valkey reachable"}
	if s.valkey == nil {
		rec.Status = health.StatusUnhealthy
		rec.Message = "valkey not configured"
		return s.finish(ctx, rec)
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := s.valkey.Ping(probeCtx); err != nil {
		rec.Status = health.StatusUnhealthy
		rec.Message = err.Error()
		return s.finish(ctx, rec)
	}

	inner := s.valkey.Inner()
	if info, err := inner.Do(probeCtx, inner.B().Info().Section("memory").Build()).ToString(); err == nil {
		if used := parseUsedMemory(info); used > 0 {
			human := humanize.Bytes(used)
			rec.Details = map[string]any{"used_memory": human}
			rec.Message = fmt.Sprintf("valkey reachable, %s in use", human)
		}
	}
	return s.finish(ctx, rec)
}

func (s *healthService) CheckBridge(ctx context.Context) health.Record {
	rec := health.Record{Component: health.ComponentBridge, Status: health.StatusHealthy}
	if s.bridge == nil {
		rec.Status = health.StatusUnhealthy
		rec.Message = "bridge not configured"
		return s.finish(ctx, rec)
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	h, err := s.bridge.Health(probeCtx)
	if err != nil {
		rec.Status = health.StatusUnhealthy
		rec.Message = err.Error()
		return s.finish(ctx, rec)
	}

	sessions, err := s.bridge.ListSessions(probeCtx)
	if err != nil {
		rec.Status = health.StatusDegraded
		rec.Message = fmt.Sprintf("bridge reachable but session list failed: %v", err)
		return s.finish(ctx, rec)
	}

	connected := 0
	for _, sess := range sessions {
		if sess.Connected() {
			connected++
		}
	}
	rec.Details = map[string]any{"sessions": len(sessions), "connected": connected}
	if h.Version != "" {
		rec.Details["version"] = h.Version
	}
	if connected == 0 {
		rec.Status = health.StatusDegraded
		rec.Message = "bridge reachable with no connected sessions"
	} else {
		rec.Message = fmt.Sprintf("bridge reachable, %d session(s) connected", connected)
	}
	return s.finish(ctx, rec)
}

func (s *healthService) CheckQueue(ctx context.Context) health.Record {
	rec := health.Record{Component: health.ComponentQueue, Status: health.StatusHealthy}
	if s.queue == nil {
		rec.Status = health.StatusUnhealthy
		rec.Message = "queue not configured"
		return s.finish(ctx, rec)
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	stats, err := s.queue.Stats(probeCtx)
	if err != nil {
		rec.Status = health.StatusUnhealthy
		rec.Message = err.Error()
		return s.finish(ctx, rec)
	}

	depth := stats.Depth()
	rec.Details = map[string]any{
		"queued":     stats.Queued,
		"processing": stats.Processing,
		"dead":       stats.Dead,
	}
	switch {
	case depth >= queueUnhealthyDepth:
		rec.Status = health.StatusUnhealthy
	case depth >= queueDegradedDepth:
		rec.Status = health.StatusDegraded
	}
	rec.Message = fmt.Sprintf("queue depth %d", depth)
	if stats.Dead > 0 {
		rec.Message += fmt.Sprintf(", %d dead-lettered", stats.Dead)
	}
	return s.finish(ctx, rec)
}

// CheckAll runs every probe and refreshes the snapshot. Reported components
// without a probe of their own (the agent) keep their last reported state.
func (s *healthService) CheckAll(ctx context.Context) health.SystemHealth {
	s.CheckStorage(ctx)
	s.CheckValkey(ctx)
	s.CheckBridge(ctx)
	s.CheckQueue(ctx)

	s.mu.Lock()
	s.snapshot.CheckedAt = time.Now().UTC()
	snap := s.copySnapshotLocked()
	changed := snap.Overall != s.lastOverall
	s.lastOverall = snap.Overall
	s.mu.Unlock()

	if changed {
		logrus.Infof("[Health] overall status is now %s", snap.Overall)
		websocket.Publish("HEALTH_UPDATE", fmt.Sprintf("System is %s", snap.Overall), snap)
	}
	return snap
}

func (s *healthService) Snapshot(ctx context.Context) health.SystemHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snapshot.Components) == 0 {
		return health.SystemHealth{
			Overall:    health.StatusUnknown,
			Components: map[health.Component]health.Record{},
		}
	}
	return s.copySnapshotLocked()
}

func (s *healthService) copySnapshotLocked() health.SystemHealth {
	components := make(map[health.Component]health.Record, len(s.snapshot.Components))
	for k, v := range s.snapshot.Components {
		components[k] = v
	}
	return health.SystemHealth{
		Overall:    s.snapshot.Overall,
		Components: components,
		CheckedAt:  s.snapshot.CheckedAt,
	}
}

func (s *healthService) GetComponent(ctx context.Context, component health.Component) (health.Record, error) {
	s.mu.RLock()
	rec, ok := s.snapshot.Components[component]
	s.mu.RUnlock()
	if ok {
		return rec, nil
	}

	// Not probed this lifetime; fall back to the side store.
	if err := s.ensureDB(); err != nil {
		return health.Record{}, err
	}

	var r health.Record
	var message, details sql.NullString
	var lastSuccess sql.NullTime
	query := `SELECT id, component, entity_id, status, last_message, details, last_checked, last_success FROM health_checks WHERE component = ? AND entity_id = ''`
	err := s.db.QueryRowContext(ctx, query, string(component)).
		Scan(&r.ID, &r.Component, &r.EntityID, &r.Status, &message, &details, &r.LastChecked, &lastSuccess)
	if err != nil {
		if err == sql.ErrNoRows {
			return health.Record{Component: component, Status: health.StatusUnknown}, nil
		}
		return r, err
	}
	r.Message = message.String
	if details.Valid && details.String != "" {
		_ = json.Unmarshal([]byte(details.String), &r.Details)
	}
	if lastSuccess.Valid {
		r.LastSuccess = &lastSuccess.Time
	}
	return r, nil
}

// ReportFailure marks a component degraded until the next success or probe.
// Probes decide unhealthy; reports only degrade.
func (s *healthService) ReportFailure(ctx context.Context, component health.Component, entityID, message string) {
	rec := health.Record{Component: component, EntityID: entityID, Status: health.StatusDegraded, Message: message}
	s.finish(ctx, rec)
	logrus.Warnf("[Health] %s reported failing: %s", component, message)
}

func (s *healthService) ReportSuccess(ctx context.Context, component health.Component, entityID string) {
	s.mu.RLock()
	cur, ok := s.snapshot.Components[component]
	s.mu.RUnlock()
	if ok && cur.Status == health.StatusHealthy {
		// Ya está sano; no hay nada que registrar.
		return
	}
	rec := health.Record{Component: component, EntityID: entityID, Status: health.StatusHealthy, Message: "ok"}
	s.finish(ctx, rec)
	logrus.Infof("[Health] %s recovered", component)
}

func (s *healthService) StartPeriodicChecks(ctx context.Context) {
	interval := s.interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logrus.Infof("[Health] starting periodic health checks loop (interval: %s)", interval)
	ticker := time.NewTicker(interval)

	// Run once at start
	go func() {
		logrus.Info("[Health] performing initial health check")
		s.CheckAll(ctx)
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logrus.Debug("[Health] performing scheduled health check")
				s.CheckAll(ctx)
			}
		}
	}()
}

// finish stamps, persists and folds one check result into the snapshot.
func (s *healthService) finish(ctx context.Context, rec health.Record) health.Record {
	rec.LastChecked = time.Now().UTC()
	if rec.Status == health.StatusHealthy {
		t := rec.LastChecked
		rec.LastSuccess = &t
	}

	if err := s.upsertStatus(ctx, rec); err != nil {
		logrus.WithError(err).Warn("[Health] failed to persist check result")
	}

	s.mu.Lock()
	if s.snapshot.Components == nil {
		s.snapshot.Components = map[health.Component]health.Record{}
	}
	s.snapshot.Components[rec.Component] = rec
	s.snapshot.Overall = health.Overall(s.snapshot.Components)
	s.mu.Unlock()
	return rec
}

func (s *healthService) upsertStatus(ctx context.Context, r health.Record) error {
	if err := s.ensureDB(); err != nil {
		return err
	}

	var details sql.NullString
	if len(r.Details) > 0 {
		if raw, err := json.Marshal(r.Details); err == nil {
			details = sql.NullString{String: string(raw), Valid: true}
		}
	}
	var lastSuccess any
	if r.LastSuccess != nil {
		lastSuccess = *r.LastSuccess
	}

	query := `
		INSERT INTO health_checks (id, component, entity_id, status, last_message, details, last_checked, last_success)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(component, entity_id) DO UPDATE SET
			status = excluded.status,
			last_message = excluded.last_message,
			details = excluded.details,
			last_checked = excluded.last_checked,
			last_success = CASE WHEN excluded.status = 'healthy' THEN excluded.last_checked ELSE last_success END
	`

	_, err := s.db.ExecContext(ctx, query,
		uuid.NewString(), string(r.Component), r.EntityID, string(r.Status), r.Message, details, r.LastChecked, lastSuccess)
	return err
}

// parseUsedMemory pulls used_memory (bytes) out of an INFO memory block.
func parseUsedMemory(info string) uint64 {
	for _, line := range strings.Split(info, "\n") {
		if rest, ok := strings.CutPrefix(line, "used_memory:"); ok {
			n, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 64)
			if err == nil {
				return n
			}
			return 0
		}
	}
	return 0
}
