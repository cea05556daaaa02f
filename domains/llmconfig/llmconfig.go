package llmconfig

import (
	"context"
	"time"
)

type Provider string

const (
	ProviderOpenAI    Provider = "OPENAI"
	ProviderAnthropic Provider = "ANTHROPIC"
	ProviderGoogle    Provider = "GOOGLE"
	ProviderOllama    Provider = "OLLAMA"
	ProviderCustom    Provider = "CUSTOM"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle, ProviderOllama, ProviderCustom:
		return true
	}
	return false
}

// ModelSettings is free-form for forward compatibility. Consumers recognize
// model, temperature, max_tokens, system_prompt, base_url,
// max_context_messages and max_context_tokens; unknown keys survive
// round-trips untouched.
type ModelSettings map[string]any

func (s ModelSettings) GetString(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s[key].(string)
	return v, ok && v != ""
}

func (s ModelSettings) GetFloat(key string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	switch v := s[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func (s ModelSettings) GetInt(key string) (int, bool) {
	if s == nil {
		return 0, false
	}
	switch v := s[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Config holds a user's provider credentials. The API key never leaves the
// service decrypted; responses expose HasAPIKey only.
type Config struct {
	ID              int64         `json:"id"`
	UserID          int64         `json:"user_id"`
	Provider        Provider      `json:"provider"`
	APIKeyEncrypted []byte        `json:"-"`
	ModelSettings   ModelSettings `json:"model_settings,omitempty"`
	IsActive        bool          `json:"is_active"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

type ConfigResponse struct {
	ID            int64         `json:"id"`
	Provider      Provider      `json:"provider"`
	ModelSettings ModelSettings `json:"model_settings,omitempty"`
	IsActive      bool          `json:"is_active"`
	HasAPIKey     bool          `json:"has_api_key"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type UpdateConfigRequest struct {
	Provider      Provider      `json:"provider"`
	APIKey        string        `json:"api_key"`
	ModelSettings ModelSettings `json:"model_settings"`
	IsActive      *bool         `json:"is_active"`
}

type TestResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Model     string `json:"model,omitempty"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
}

type ProviderInfo struct {
	Name   string   `json:"name"`
	Value  Provider `json:"value"`
	Models []string `json:"models"`
}

type ILLMConfigUsecase interface {
	// Get returns the user's active config, or their most recent one when
	// none is active.
	Get(ctx context.Context, userID int64) (ConfigResponse, error)
	// Upsert writes the (user, provider) row, encrypting the key at rest.
	// Activating a config deactivates the user's other providers in the
	// same transaction.
	Upsert(ctx context.Context, userID int64, req UpdateConfigRequest) (ConfigResponse, error)
	// Test performs a minimal completion against the active config.
	Test(ctx context.Context, userID int64) (TestResult, error)
	Providers(ctx context.Context) []ProviderInfo
	// ActiveForAgent resolves the active config with the decrypted key for
	// orchestrator use. Never exposed over HTTP.
	ActiveForAgent(ctx context.Context, userID int64) (Config, string, error)
}
