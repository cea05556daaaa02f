package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"

	domainMessage "github.com/zapa-ai/zapa/domains/message"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
)

// --- Persistence Model ---

type messageModel struct {
	ID             int64          `gorm:"primaryKey;autoIncrement;column:id"`
	SessionID      int64          `gorm:"column:session_id;not null;index:idx_messages_session_ts,priority:1"`
	UserID         int64          `gorm:"column:user_id;not null;index:idx_messages_user_ts,priority:1"`
	SenderJID      string         `gorm:"column:sender_jid;not null;index"`
	RecipientJID   string         `gorm:"column:recipient_jid;not null"`
	Timestamp      time.Time      `gorm:"column:timestamp;not null;index:idx_messages_user_ts,priority:2;index:idx_messages_session_ts,priority:2"`
	Kind           string         `gorm:"column:kind;not null"`
	Direction      string         `gorm:"column:direction;not null"`
	Content        sql.NullString `gorm:"column:content;type:text"`
	Caption        sql.NullString `gorm:"column:caption;type:text"`
	ReplyToID      *int64         `gorm:"column:reply_to_id"`
	MediaMetadata  sql.NullString `gorm:"column:media_metadata"` // JSON
	DeliveryStatus sql.NullString `gorm:"column:delivery_status"`
	ExternalID     *string        `gorm:"column:external_id;uniqueIndex"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (messageModel) TableName() string { return "messages" }

// --- Repository Implementation ---

type MessageGormRepository struct {
	db *gorm.DB
}

func NewMessageGormRepository(db *gorm.DB) *MessageGormRepository {
	return &MessageGormRepository{db: db}
}

func (r *MessageGormRepository) Create(ctx context.Context, m domainMessage.Message) (domainMessage.Message, error) {
	if m.Kind == domainMessage.KindText && strings.TrimSpace(m.Content) == "" {
		return domainMessage.Message{}, pkgError.ValidationError("content: cannot be blank for TEXT messages.")
	}
	model := toMessageModel(m)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domainMessage.Message{}, mapError(err, "message not found")
	}
	return fromMessageModel(model), nil
}

func (r *MessageGormRepository) GetByID(ctx context.Context, id int64) (domainMessage.Message, error) {
	var m messageModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return domainMessage.Message{}, mapError(err, "message not found")
	}
	return fromMessageModel(m), nil
}

func (r *MessageGormRepository) GetByExternalID(ctx context.Context, externalID string) (domainMessage.Message, error) {
	var m messageModel
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&m).Error; err != nil {
		return domainMessage.Message{}, mapError(err, "message not found")
	}
	return fromMessageModel(m), nil
}

func (r *MessageGormRepository) Recent(ctx context.Context, userID int64, n int) ([]domainMessage.Message, error) {
	var models []messageModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Limit(n).
		Find(&models).Error
	if err != nil {
		return nil, mapError(err, "message not found")
	}
	return fromMessageModels(models), nil
}

func (r *MessageGormRepository) Search(ctx context.Context, userID int64, query string, limit int) ([]domainMessage.Message, error) {
	if strings.TrimSpace(query) == "" {
		return []domainMessage.Message{}, nil
	}
	pattern := "%" + strings.ToLower(query) + "%"
	var models []messageModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("LOWER(content) LIKE ? OR LOWER(caption) LIKE ?", pattern, pattern).
		Order("timestamp DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, mapError(err, "message not found")
	}
	return fromMessageModels(models), nil
}

func (r *MessageGormRepository) InRange(ctx context.Context, userID int64, from, to time.Time) ([]domainMessage.Message, error) {
	var models []messageModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND timestamp >= ? AND timestamp <= ?", userID, from, to).
		Order("timestamp ASC").
		Find(&models).Error
	if err != nil {
		return nil, mapError(err, "message not found")
	}
	return fromMessageModels(models), nil
}

func (r *MessageGormRepository) List(ctx context.Context, userID int64, limit, offset int, query string) ([]domainMessage.Message, int64, error) {
	q := r.db.WithContext(ctx).Model(&messageModel{}).Where("user_id = ?", userID)
	if strings.TrimSpace(query) != "" {
		pattern := "%" + strings.ToLower(query) + "%"
		q = q.Where("LOWER(content) LIKE ? OR LOWER(caption) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, mapError(err, "message not found")
	}

	var models []messageModel
	if err := q.Order("timestamp DESC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, 0, mapError(err, "message not found")
	}
	return fromMessageModels(models), total, nil
}

func (r *MessageGormRepository) Stats(ctx context.Context, userID int64) (domainMessage.ConversationStats, error) {
	var agg struct {
		Total    int64
		Incoming int64
		Outgoing int64
		FirstAt  *time.Time
		LastAt   *time.Time
	}
	err := r.db.WithContext(ctx).Model(&messageModel{}).
		Select(
			"COUNT(*) AS total, "+
				"COALESCE(SUM(CASE WHEN direction = ? THEN 1 ELSE 0 END), 0) AS incoming, "+
				"COALESCE(SUM(CASE WHEN direction = ? THEN 1 ELSE 0 END), 0) AS outgoing, "+
				"MIN(timestamp) AS first_at, MAX(timestamp) AS last_at",
			string(domainMessage.DirectionIncoming), string(domainMessage.DirectionOutgoing),
		).
		Where("user_id = ?", userID).
		Scan(&agg).Error
	if err != nil {
		return domainMessage.ConversationStats{}, mapError(err, "message not found")
	}

	stats := domainMessage.ConversationStats{
		Total:    agg.Total,
		Incoming: agg.Incoming,
		Outgoing: agg.Outgoing,
		FirstAt:  agg.FirstAt,
		LastAt:   agg.LastAt,
	}
	if agg.Total > 0 && agg.FirstAt != nil && agg.LastAt != nil {
		days := int64(agg.LastAt.Sub(*agg.FirstAt).Hours()/24) + 1
		stats.AvgPerDay = math.Round(float64(agg.Total)/float64(days)*100) / 100
	}
	return stats, nil
}

func (r *MessageGormRepository) UpdateDeliveryStatus(ctx context.Context, externalID string, status domainMessage.DeliveryStatus, detail string) (int64, error) {
	updates := map[string]interface{}{
		"delivery_status": string(status),
	}
	if detail != "" {
		// Merge the error detail into media_metadata without clobbering
		// whatever is already there.
		var m messageModel
		if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&m).Error; err == nil {
			meta := map[string]any{}
			if raw := nullStringValue(m.MediaMetadata); raw != "" {
				_ = json.Unmarshal([]byte(raw), &meta)
			}
			meta["delivery_error"] = detail
			raw, _ := json.Marshal(meta)
			updates["media_metadata"] = string(raw)
		}
	}

	res := r.db.WithContext(ctx).Model(&messageModel{}).
		Where("external_id = ?", externalID).
		Updates(updates)
	if res.Error != nil {
		return 0, mapError(res.Error, "message not found")
	}
	return res.RowsAffected, nil
}

func (r *MessageGormRepository) SetExternalID(ctx context.Context, messageID int64, externalID string) error {
	err := r.db.WithContext(ctx).Model(&messageModel{}).
		Where("id = ?", messageID).
		Update("external_id", externalID).Error
	return mapError(err, "message not found")
}

func (r *MessageGormRepository) SetDeliveryStatusByID(ctx context.Context, messageID int64, status domainMessage.DeliveryStatus, detail string) error {
	updates := map[string]interface{}{
		"delivery_status": string(status),
	}
	if detail != "" {
		var m messageModel
		if err := r.db.WithContext(ctx).First(&m, "id = ?", messageID).Error; err == nil {
			meta := map[string]any{}
			if raw := nullStringValue(m.MediaMetadata); raw != "" {
				_ = json.Unmarshal([]byte(raw), &meta)
			}
			meta["delivery_error"] = detail
			raw, _ := json.Marshal(meta)
			updates["media_metadata"] = string(raw)
		}
	}
	err := r.db.WithContext(ctx).Model(&messageModel{}).
		Where("id = ?", messageID).
		Updates(updates).Error
	return mapError(err, "message not found")
}

func (r *MessageGormRepository) UnansweredIncoming(ctx context.Context, olderThan time.Time) ([]domainMessage.Message, error) {
	var models []messageModel
	err := r.db.WithContext(ctx).
		Where("direction = ? AND kind = ? AND timestamp < ?",
			string(domainMessage.DirectionIncoming), string(domainMessage.KindText), olderThan).
		Where("NOT EXISTS (SELECT 1 FROM messages AS replies"+
			" WHERE replies.user_id = messages.user_id"+
			" AND replies.direction IN (?, ?)"+
			" AND replies.timestamp >= messages.timestamp)",
			string(domainMessage.DirectionOutgoing), string(domainMessage.DirectionSystem)).
		Order("timestamp ASC").
		Find(&models).Error
	if err != nil {
		return nil, mapError(err, "message not found")
	}
	return fromMessageModels(models), nil
}

func (r *MessageGormRepository) UnsentOutgoing(ctx context.Context, olderThan time.Time) ([]domainMessage.Message, error) {
	var models []messageModel
	err := r.db.WithContext(ctx).
		Where("direction = ? AND timestamp < ?", string(domainMessage.DirectionOutgoing), olderThan).
		Where("(external_id IS NULL OR external_id = '')").
		Where("(delivery_status IS NULL OR delivery_status = '')").
		Order("timestamp ASC").
		Find(&models).Error
	if err != nil {
		return nil, mapError(err, "message not found")
	}
	return fromMessageModels(models), nil
}

// --- Mappers ---

func toMessageModel(m domainMessage.Message) messageModel {
	var metadata sql.NullString
	if len(m.MediaMetadata) > 0 {
		raw, _ := json.Marshal(m.MediaMetadata)
		metadata = sql.NullString{String: string(raw), Valid: true}
	}
	var externalID *string
	if m.ExternalID != "" {
		externalID = &m.ExternalID
	}
	return messageModel{
		ID:             m.ID,
		SessionID:      m.SessionID,
		UserID:         m.UserID,
		SenderJID:      m.SenderJID,
		RecipientJID:   m.RecipientJID,
		Timestamp:      m.Timestamp,
		Kind:           string(m.Kind),
		Direction:      string(m.Direction),
		Content:        sql.NullString{String: m.Content, Valid: m.Content != ""},
		Caption:        sql.NullString{String: m.Caption, Valid: m.Caption != ""},
		ReplyToID:      m.ReplyToID,
		MediaMetadata:  metadata,
		DeliveryStatus: sql.NullString{String: string(m.DeliveryStatus), Valid: m.DeliveryStatus != ""},
		ExternalID:     externalID,
		CreatedAt:      m.CreatedAt,
	}
}

func fromMessageModel(m messageModel) domainMessage.Message {
	var metadata map[string]any
	if raw := nullStringValue(m.MediaMetadata); raw != "" {
		_ = json.Unmarshal([]byte(raw), &metadata)
	}
	var externalID string
	if m.ExternalID != nil {
		externalID = *m.ExternalID
	}
	return domainMessage.Message{
		ID:             m.ID,
		SessionID:      m.SessionID,
		UserID:         m.UserID,
		SenderJID:      m.SenderJID,
		RecipientJID:   m.RecipientJID,
		Timestamp:      m.Timestamp,
		Kind:           domainMessage.Kind(m.Kind),
		Direction:      domainMessage.Direction(m.Direction),
		Content:        nullStringValue(m.Content),
		Caption:        nullStringValue(m.Caption),
		ReplyToID:      m.ReplyToID,
		MediaMetadata:  metadata,
		DeliveryStatus: domainMessage.DeliveryStatus(nullStringValue(m.DeliveryStatus)),
		ExternalID:     externalID,
		CreatedAt:      m.CreatedAt,
	}
}

func fromMessageModels(models []messageModel) []domainMessage.Message {
	msgs := make([]domainMessage.Message, len(models))
	for i, m := range models {
		msgs[i] = fromMessageModel(m)
	}
	return msgs
}
