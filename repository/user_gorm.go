package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/gorm"

	domainUser "github.com/zapa-ai/zapa/domains/user"
)

// --- Persistence Model ---

type userModel struct {
	ID          int64          `gorm:"primaryKey;autoIncrement;column:id"`
	PhoneNumber string         `gorm:"column:phone_number;not null;uniqueIndex"`
	FirstName   sql.NullString `gorm:"column:first_name"`
	LastName    sql.NullString `gorm:"column:last_name"`
	IsActive    bool           `gorm:"column:is_active;default:true"`
	IsAdmin     bool           `gorm:"column:is_admin;default:false"`
	Metadata    sql.NullString `gorm:"column:metadata"` // JSON
	LastActive  *time.Time     `gorm:"column:last_active"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (userModel) TableName() string { return "users" }

// --- Repository Implementation ---

type UserGormRepository struct {
	db *gorm.DB
}

func NewUserGormRepository(db *gorm.DB) *UserGormRepository {
	return &UserGormRepository{db: db}
}

func (r *UserGormRepository) Create(ctx context.Context, u domainUser.User) (domainUser.User, error) {
	model := toUserModel(u)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domainUser.User{}, mapError(err, "user not found")
	}
	return fromUserModel(model), nil
}

func (r *UserGormRepository) GetByID(ctx context.Context, id int64) (domainUser.User, error) {
	var m userModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return domainUser.User{}, mapError(err, "user not found")
	}
	return fromUserModel(m), nil
}

func (r *UserGormRepository) GetByPhone(ctx context.Context, phone string) (domainUser.User, error) {
	var m userModel
	if err := r.db.WithContext(ctx).First(&m, "phone_number = ?", phone).Error; err != nil {
		return domainUser.User{}, mapError(err, "user not found")
	}
	return fromUserModel(m), nil
}

func (r *UserGormRepository) List(ctx context.Context, limit, offset int, query string) ([]domainUser.User, int64, error) {
	q := r.db.WithContext(ctx).Model(&userModel{})
	if query != "" {
		pattern := "%" + strings.ToLower(query) + "%"
		q = q.Where(
			"LOWER(phone_number) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?",
			pattern, pattern, pattern,
		)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, mapError(err, "user not found")
	}

	var models []userModel
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, 0, mapError(err, "user not found")
	}

	users := make([]domainUser.User, len(models))
	for i, m := range models {
		users[i] = fromUserModel(m)
	}
	return users, total, nil
}

func (r *UserGormRepository) Update(ctx context.Context, u domainUser.User) (domainUser.User, error) {
	model := toUserModel(u)
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return domainUser.User{}, mapError(err, "user not found")
	}
	return fromUserModel(model), nil
}

// Delete cascades over every table the user owns. Messages reference each
// other through reply_to_id, so they all go in the same transaction.
func (r *UserGormRepository) Delete(ctx context.Context, id int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m userModel
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&messageModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&sessionModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&authCodeModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&llmConfigModel{}).Error; err != nil {
			return err
		}
		return tx.Delete(&userModel{}, "id = ?", id).Error
	})
	return mapError(err, "user not found")
}

func (r *UserGormRepository) TouchLastActive(ctx context.Context, id int64, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", id).
		Update("last_active", at).Error
	return mapError(err, "user not found")
}

// --- Mappers ---

func toUserModel(u domainUser.User) userModel {
	var metadata sql.NullString
	if len(u.Metadata) > 0 {
		raw, _ := json.Marshal(u.Metadata)
		metadata = sql.NullString{String: string(raw), Valid: true}
	}
	return userModel{
		ID:          u.ID,
		PhoneNumber: u.PhoneNumber,
		FirstName:   sql.NullString{String: u.FirstName, Valid: u.FirstName != ""},
		LastName:    sql.NullString{String: u.LastName, Valid: u.LastName != ""},
		IsActive:    u.IsActive,
		IsAdmin:     u.IsAdmin,
		Metadata:    metadata,
		LastActive:  u.LastActive,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func fromUserModel(m userModel) domainUser.User {
	var metadata map[string]any
	if raw := nullStringValue(m.Metadata); raw != "" {
		_ = json.Unmarshal([]byte(raw), &metadata)
	}
	return domainUser.User{
		ID:          m.ID,
		PhoneNumber: m.PhoneNumber,
		FirstName:   nullStringValue(m.FirstName),
		LastName:    nullStringValue(m.LastName),
		IsActive:    m.IsActive,
		IsAdmin:     m.IsAdmin,
		Metadata:    metadata,
		LastActive:  m.LastActive,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func nullStringValue(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return strings.TrimSpace(ns.String)
}
