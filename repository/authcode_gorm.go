package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	domainAuth "github.com/zapa-ai/zapa/domains/auth"
)

// --- Persistence Model ---

type authCodeModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	UserID    int64     `gorm:"column:user_id;not null;index:idx_auth_codes_user_used,priority:1"`
	Code      string    `gorm:"column:code;not null"`
	Used      bool      `gorm:"column:used;not null;default:false;index:idx_auth_codes_user_used,priority:2"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (authCodeModel) TableName() string { return "auth_codes" }

// --- Repository Implementation ---

type AuthCodeGormRepository struct {
	db *gorm.DB
}

func NewAuthCodeGormRepository(db *gorm.DB) *AuthCodeGormRepository {
	return &AuthCodeGormRepository{db: db}
}

func (r *AuthCodeGormRepository) Create(ctx context.Context, code domainAuth.AuthCode) (domainAuth.AuthCode, error) {
	model := authCodeModel{
		UserID:    code.UserID,
		Code:      code.Code,
		Used:      code.Used,
		ExpiresAt: code.ExpiresAt,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domainAuth.AuthCode{}, mapError(err, "auth code not found")
	}
	return fromAuthCodeModel(model), nil
}

// InvalidateForUser marks every outstanding code for the user as used so
// that only the most recently issued code can win a verification.
func (r *AuthCodeGormRepository) InvalidateForUser(ctx context.Context, userID int64) error {
	err := r.db.WithContext(ctx).Model(&authCodeModel{}).
		Where("user_id = ? AND used = ?", userID, false).
		Update("used", true).Error
	return mapError(err, "auth code not found")
}

func (r *AuthCodeGormRepository) FindValidByUser(ctx context.Context, userID int64, now time.Time) ([]domainAuth.AuthCode, error) {
	var models []authCodeModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND used = ? AND expires_at > ?", userID, false, now).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, mapError(err, "auth code not found")
	}
	codes := make([]domainAuth.AuthCode, len(models))
	for i, m := range models {
		codes[i] = fromAuthCodeModel(m)
	}
	return codes, nil
}

// ConsumeCode flips used=false to used=true in a single statement. Exactly
// one concurrent caller observes rows_affected=1 and wins the code.
func (r *AuthCodeGormRepository) ConsumeCode(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&authCodeModel{}).
		Where("id = ? AND used = ?", id, false).
		Update("used", true)
	if res.Error != nil {
		return false, mapError(res.Error, "auth code not found")
	}
	return res.RowsAffected == 1, nil
}

func (r *AuthCodeGormRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ? OR used = ?", now, true).
		Delete(&authCodeModel{})
	if res.Error != nil {
		return 0, mapError(res.Error, "auth code not found")
	}
	return res.RowsAffected, nil
}

func fromAuthCodeModel(m authCodeModel) domainAuth.AuthCode {
	return domainAuth.AuthCode{
		ID:        m.ID,
		UserID:    m.UserID,
		Code:      m.Code,
		Used:      m.Used,
		ExpiresAt: m.ExpiresAt,
		CreatedAt: m.CreatedAt,
	}
}
