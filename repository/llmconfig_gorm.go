package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	domainLLMConfig "github.com/zapa-ai/zapa/domains/llmconfig"
)

// --- Persistence Model ---

type llmConfigModel struct {
	ID              int64          `gorm:"primaryKey;autoIncrement;column:id"`
	UserID          int64          `gorm:"column:user_id;not null;uniqueIndex:idx_llm_configs_user_provider,priority:1;index:idx_llm_configs_user_active,priority:1"`
	Provider        string         `gorm:"column:provider;not null;uniqueIndex:idx_llm_configs_user_provider,priority:2"`
	APIKeyEncrypted []byte         `gorm:"column:api_key_encrypted"`
	ModelSettings   sql.NullString `gorm:"column:model_settings"` // JSON
	IsActive        bool           `gorm:"column:is_active;not null;default:false;index:idx_llm_configs_user_active,priority:2"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (llmConfigModel) TableName() string { return "llm_configs" }

// --- Repository Implementation ---

type LLMConfigGormRepository struct {
	db *gorm.DB
}

func NewLLMConfigGormRepository(db *gorm.DB) *LLMConfigGormRepository {
	return &LLMConfigGormRepository{db: db}
}

// Upsert writes the (user, provider) row. When the incoming config is
// active, every other provider row for the user is deactivated inside the
// same transaction so at most one row per user stays active.
func (r *LLMConfigGormRepository) Upsert(ctx context.Context, cfg domainLLMConfig.Config) (domainLLMConfig.Config, error) {
	var saved llmConfigModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing llmConfigModel
		err := tx.Where("user_id = ? AND provider = ?", cfg.UserID, string(cfg.Provider)).
			First(&existing).Error
		switch {
		case err == nil:
			existing.ModelSettings = toModelSettingsColumn(cfg.ModelSettings)
			existing.IsActive = cfg.IsActive
			if len(cfg.APIKeyEncrypted) > 0 {
				existing.APIKeyEncrypted = cfg.APIKeyEncrypted
			}
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			saved = existing
		case err == gorm.ErrRecordNotFound:
			saved = toLLMConfigModel(cfg)
			if err := tx.Create(&saved).Error; err != nil {
				return err
			}
		default:
			return err
		}

		if cfg.IsActive {
			if err := tx.Model(&llmConfigModel{}).
				Where("user_id = ? AND id <> ?", cfg.UserID, saved.ID).
				Update("is_active", false).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domainLLMConfig.Config{}, mapError(err, "llm config not found")
	}
	return fromLLMConfigModel(saved), nil
}

func (r *LLMConfigGormRepository) GetActiveByUser(ctx context.Context, userID int64) (domainLLMConfig.Config, error) {
	var m llmConfigModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("updated_at DESC").
		First(&m).Error
	if err != nil {
		return domainLLMConfig.Config{}, mapError(err, "no active llm config")
	}
	return fromLLMConfigModel(m), nil
}

func (r *LLMConfigGormRepository) GetLatestByUser(ctx context.Context, userID int64) (domainLLMConfig.Config, error) {
	var m llmConfigModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		First(&m).Error
	if err != nil {
		return domainLLMConfig.Config{}, mapError(err, "llm config not found")
	}
	return fromLLMConfigModel(m), nil
}

func (r *LLMConfigGormRepository) GetByUserProvider(ctx context.Context, userID int64, provider domainLLMConfig.Provider) (domainLLMConfig.Config, error) {
	var m llmConfigModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, string(provider)).
		First(&m).Error
	if err != nil {
		return domainLLMConfig.Config{}, mapError(err, "llm config not found")
	}
	return fromLLMConfigModel(m), nil
}

func (r *LLMConfigGormRepository) ListByUser(ctx context.Context, userID int64) ([]domainLLMConfig.Config, error) {
	var models []llmConfigModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, mapError(err, "llm config not found")
	}
	configs := make([]domainLLMConfig.Config, len(models))
	for i, m := range models {
		configs[i] = fromLLMConfigModel(m)
	}
	return configs, nil
}

// --- Mappers ---

func toModelSettingsColumn(settings domainLLMConfig.ModelSettings) sql.NullString {
	if len(settings) == 0 {
		return sql.NullString{}
	}
	raw, _ := json.Marshal(settings)
	return sql.NullString{String: string(raw), Valid: true}
}

func toLLMConfigModel(cfg domainLLMConfig.Config) llmConfigModel {
	return llmConfigModel{
		ID:              cfg.ID,
		UserID:          cfg.UserID,
		Provider:        string(cfg.Provider),
		APIKeyEncrypted: cfg.APIKeyEncrypted,
		ModelSettings:   toModelSettingsColumn(cfg.ModelSettings),
		IsActive:        cfg.IsActive,
	}
}

func fromLLMConfigModel(m llmConfigModel) domainLLMConfig.Config {
	var settings domainLLMConfig.ModelSettings
	if raw := nullStringValue(m.ModelSettings); raw != "" {
		_ = json.Unmarshal([]byte(raw), &settings)
	}
	return domainLLMConfig.Config{
		ID:              m.ID,
		UserID:          m.UserID,
		Provider:        domainLLMConfig.Provider(m.Provider),
		APIKeyEncrypted: m.APIKeyEncrypted,
		ModelSettings:   settings,
		IsActive:        m.IsActive,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
