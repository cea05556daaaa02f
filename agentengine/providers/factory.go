package providers

import (
	domain "github.com/zapa-ai/zapa/agentengine/domain"
	domainLLM "github.com/zapa-ai/zapa/domains/llmconfig"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
)

// Default models per provider. ANTHROPIC and OLLAMA speak the
// OpenAI-compatible chat surface, so they share the OpenAI adapter with a
// different base URL.
const (
	DefaultOpenAIModel    = "gpt-4o"
	DefaultAnthropicModel = "claude-3-opus-20240229"
	DefaultGeminiModel    = "gemini-pro"
	DefaultOllamaModel    = "llama2"

	anthropicBaseURL = "https://api.anthropic.com/v1"
	ollamaBaseURL    = "http://localhost:11434/v1"
)

// ForProvider construye el adaptador para el proveedor configurado. CUSTOM
// exige model_settings.base_url; el resto trae base y modelo por defecto.
func ForProvider(p domainLLM.Provider, settings domainLLM.ModelSettings) (domain.AIProvider, error) {
	switch p {
	case domainLLM.ProviderOpenAI:
		return NewOpenAIProvider("openai", "", DefaultOpenAIModel), nil
	case domainLLM.ProviderAnthropic:
		return NewOpenAIProvider("anthropic", anthropicBaseURL, DefaultAnthropicModel), nil
	case domainLLM.ProviderOllama:
		return NewOpenAIProvider("ollama", ollamaBaseURL, DefaultOllamaModel), nil
	case domainLLM.ProviderGoogle:
		return NewGeminiProvider(), nil
	case domainLLM.ProviderCustom:
		baseURL, ok := settings.GetString("base_url")
		if !ok {
			return nil, pkgError.ValidationError("model_settings.base_url is required for the CUSTOM provider.")
		}
		model, _ := settings.GetString("model")
		return NewOpenAIProvider("custom", baseURL, model), nil
	}
	return nil, pkgError.ValidationError("unsupported provider: " + string(p))
}
