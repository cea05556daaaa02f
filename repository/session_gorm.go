package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	domainSession "github.com/zapa-ai/zapa/domains/session"
)

// --- Persistence Model ---

type sessionModel struct {
	ID             int64          `gorm:"primaryKey;autoIncrement;column:id"`
	UserID         *int64         `gorm:"column:user_id;index"` // nil for the MAIN service session
	Kind           string         `gorm:"column:kind;not null"`
	Status         string         `gorm:"column:status;not null"`
	ExternalID     sql.NullString `gorm:"column:external_id;index"`
	ConnectedAt    *time.Time     `gorm:"column:connected_at"`
	DisconnectedAt *time.Time     `gorm:"column:disconnected_at"`
	Metadata       sql.NullString `gorm:"column:metadata"` // JSON
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (sessionModel) TableName() string { return "sessions" }

// --- Repository Implementation ---

type SessionGormRepository struct {
	db *gorm.DB
}

func NewSessionGormRepository(db *gorm.DB) *SessionGormRepository {
	return &SessionGormRepository{db: db}
}

func (r *SessionGormRepository) Create(ctx context.Context, s domainSession.Session) (domainSession.Session, error) {
	model := toSessionModel(s)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domainSession.Session{}, mapError(err, "session not found")
	}
	return fromSessionModel(model), nil
}

func (r *SessionGormRepository) GetByID(ctx context.Context, id int64) (domainSession.Session, error) {
	var m sessionModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return domainSession.Session{}, mapError(err, "session not found")
	}
	return fromSessionModel(m), nil
}

func (r *SessionGormRepository) GetByUserAndKind(ctx context.Context, userID *int64, kind domainSession.Kind) (domainSession.Session, error) {
	var m sessionModel
	q := r.db.WithContext(ctx).Where("kind = ?", string(kind))
	if userID == nil {
		q = q.Where("user_id IS NULL")
	} else {
		q = q.Where("user_id = ?", *userID)
	}
	if err := q.Order("created_at ASC").First(&m).Error; err != nil {
		return domainSession.Session{}, mapError(err, "session not found")
	}
	return fromSessionModel(m), nil
}

func (r *SessionGormRepository) GetByExternalID(ctx context.Context, externalID string) (domainSession.Session, error) {
	var m sessionModel
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&m).Error; err != nil {
		return domainSession.Session{}, mapError(err, "session not found")
	}
	return fromSessionModel(m), nil
}

func (r *SessionGormRepository) Update(ctx context.Context, s domainSession.Session) (domainSession.Session, error) {
	model := toSessionModel(s)
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return domainSession.Session{}, mapError(err, "session not found")
	}
	return fromSessionModel(model), nil
}

func (r *SessionGormRepository) List(ctx context.Context) ([]domainSession.Session, error) {
	var models []sessionModel
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, mapError(err, "session not found")
	}
	sessions := make([]domainSession.Session, len(models))
	for i, m := range models {
		sessions[i] = fromSessionModel(m)
	}
	return sessions, nil
}

// --- Mappers ---

func toSessionModel(s domainSession.Session) sessionModel {
	var metadata sql.NullString
	if len(s.Metadata) > 0 {
		raw, _ := json.Marshal(s.Metadata)
		metadata = sql.NullString{String: string(raw), Valid: true}
	}
	return sessionModel{
		ID:             s.ID,
		UserID:         s.UserID,
		Kind:           string(s.Kind),
		Status:         string(s.Status),
		ExternalID:     sql.NullString{String: s.ExternalID, Valid: s.ExternalID != ""},
		ConnectedAt:    s.ConnectedAt,
		DisconnectedAt: s.DisconnectedAt,
		Metadata:       metadata,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func fromSessionModel(m sessionModel) domainSession.Session {
	var metadata map[string]any
	if raw := nullStringValue(m.Metadata); raw != "" {
		_ = json.Unmarshal([]byte(raw), &metadata)
	}
	return domainSession.Session{
		ID:             m.ID,
		UserID:         m.UserID,
		Kind:           domainSession.Kind(m.Kind),
		Status:         domainSession.Status(m.Status),
		ExternalID:     nullStringValue(m.ExternalID),
		ConnectedAt:    m.ConnectedAt,
		DisconnectedAt: m.DisconnectedAt,
		Metadata:       metadata,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
