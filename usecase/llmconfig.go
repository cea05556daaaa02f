package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	agentDomain "github.com/zapa-ai/zapa/agentengine/domain"
	"github.com/zapa-ai/zapa/agentengine/providers"
	domainLLM "github.com/zapa-ai/zapa/domains/llmconfig"
	"github.com/zapa-ai/zapa/pkg/crypto"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
	"github.com/zapa-ai/zapa/repository"
	"github.com/zapa-ai/zapa/validations"
)

// testPrompt is the minimal completion sent by Test. Kept short so the probe
// costs a handful of tokens.
const testPrompt = "Hello! This is a test message to verify the API connection."

const testTimeout = 15 * time.Second

type llmConfigService struct {
	configs repository.ILLMConfigRepository
	vault   *crypto.Vault

	// newProvider is swappable in tests.
	newProvider func(domainLLM.Provider, domainLLM.ModelSettings) (agentDomain.AIProvider, error)
}

func NewLLMConfigService(configs repository.ILLMConfigRepository, vault *crypto.Vault) domainLLM.ILLMConfigUsecase {
	return &llmConfigService{
		configs:     configs,
		vault:       vault,
		newProvider: providers.ForProvider,
	}
}

func (s *llmConfigService) Get(ctx context.Context, userID int64) (domainLLM.ConfigResponse, error) {
	cfg, err := s.configs.GetActiveByUser(ctx, userID)
	if err != nil {
		var notFound pkgError.NotFoundError
		if !errors.As(err, &notFound) {
			return domainLLM.ConfigResponse{}, err
		}
		cfg, err = s.configs.GetLatestByUser(ctx, userID)
		if err != nil {
			return domainLLM.ConfigResponse{}, err
		}
	}
	return toConfigResponse(cfg), nil
}

func (s *llmConfigService) Upsert(ctx context.Context, userID int64, req domainLLM.UpdateConfigRequest) (domainLLM.ConfigResponse, error) {
	if userID <= 0 {
		return domainLLM.ConfigResponse{}, pkgError.ValidationError("user_id: must be positive.")
	}
	if err := validations.ValidateUpdateConfig(ctx, req); err != nil {
		return domainLLM.ConfigResponse{}, err
	}

	apiKey := strings.TrimSpace(req.APIKey)

	var encrypted []byte
	if apiKey != "" {
		sealed, err := s.vault.Encrypt(apiKey)
		if err != nil {
			return domainLLM.ConfigResponse{}, err
		}
		encrypted = sealed
	} else {
		// Blank key on update keeps the stored one; a first save needs it.
		existing, err := s.configs.GetByUserProvider(ctx, userID, req.Provider)
		if err != nil {
			var notFound pkgError.NotFoundError
			if errors.As(err, &notFound) {
				return domainLLM.ConfigResponse{}, pkgError.ValidationError("api_key: cannot be blank.")
			}
			return domainLLM.ConfigResponse{}, err
		}
		encrypted = existing.APIKeyEncrypted
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	saved, err := s.configs.Upsert(ctx, domainLLM.Config{
		UserID:          userID,
		Provider:        req.Provider,
		APIKeyEncrypted: encrypted,
		ModelSettings:   req.ModelSettings,
		IsActive:        isActive,
	})
	if err != nil {
		return domainLLM.ConfigResponse{}, err
	}

	logrus.WithFields(logrus.Fields{
		"user_id":   userID,
		"provider":  saved.Provider,
		"is_active": saved.IsActive,
	}).Info("[LLMCONFIG] Configuration saved")

	return toConfigResponse(saved), nil
}

func (s *llmConfigService) Test(ctx context.Context, userID int64) (domainLLM.TestResult, error) {
	cfg, apiKey, err := s.ActiveForAgent(ctx, userID)
	if err != nil {
		return domainLLM.TestResult{}, err
	}

	provider, err := s.newProvider(cfg.Provider, cfg.ModelSettings)
	if err != nil {
		return domainLLM.TestResult{}, err
	}

	model, _ := cfg.ModelSettings.GetString("model")
	maxTokens := int64(32)

	probeCtx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	start := time.Now()
	resp, err := provider.Chat(probeCtx, agentDomain.ChatRequest{
		APIKey:    apiKey,
		Model:     model,
		MaxTokens: &maxTokens,
		UserText:  testPrompt,
	})
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return domainLLM.TestResult{
			Success:   false,
			Message:   err.Error(),
			Model:     model,
			LatencyMS: latency,
		}, nil
	}

	effectiveModel := model
	if resp.Usage != nil && resp.Usage.Model != "" {
		effectiveModel = resp.Usage.Model
	}

	return domainLLM.TestResult{
		Success:   true,
		Message:   string(cfg.Provider) + " API connection successful",
		Model:     effectiveModel,
		LatencyMS: latency,
	}, nil
}

func (s *llmConfigService) Providers(ctx context.Context) []domainLLM.ProviderInfo {
	return []domainLLM.ProviderInfo{
		{
			Name:   "OpenAI",
			Value:  domainLLM.ProviderOpenAI,
			Models: []string{"gpt-4o", "gpt-4-turbo-preview", "gpt-3.5-turbo"},
		},
		{
			Name:   "Anthropic",
			Value:  domainLLM.ProviderAnthropic,
			Models: []string{"claude-3-opus", "claude-3-sonnet", "claude-3-haiku"},
		},
		{
			Name:   "Google",
			Value:  domainLLM.ProviderGoogle,
			Models: []string{"gemini-pro", "gemini-pro-vision"},
		},
		{
			Name:   "Ollama",
			Value:  domainLLM.ProviderOllama,
			Models: []string{"llama2", "mistral"},
		},
		{
			Name:   "Custom",
			Value:  domainLLM.ProviderCustom,
			Models: []string{},
		},
	}
}

func (s *llmConfigService) ActiveForAgent(ctx context.Context, userID int64) (domainLLM.Config, string, error) {
	cfg, err := s.configs.GetActiveByUser(ctx, userID)
	if err != nil {
		return domainLLM.Config{}, "", err
	}

	apiKey, err := s.vault.Decrypt(cfg.APIKeyEncrypted)
	if err != nil {
		// The key material never reaches the log, only the failure itself.
		logrus.WithFields(logrus.Fields{
			"user_id":  userID,
			"provider": cfg.Provider,
		}).Error("[LLMCONFIG] Stored API key failed to decrypt")
		return domainLLM.Config{}, "", err
	}

	return cfg, apiKey, nil
}

func toConfigResponse(cfg domainLLM.Config) domainLLM.ConfigResponse {
	return domainLLM.ConfigResponse{
		ID:            cfg.ID,
		Provider:      cfg.Provider,
		ModelSettings: cfg.ModelSettings,
		IsActive:      cfg.IsActive,
		HasAPIKey:     len(cfg.APIKeyEncrypted) > 0,
		UpdatedAt:     cfg.UpdatedAt,
	}
}
