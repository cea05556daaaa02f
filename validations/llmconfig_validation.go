package validations

import (
	"context"
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	domainLLM "github.com/zapa-ai/zapa/domains/llmconfig"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
)

func ValidateUpdateConfig(ctx context.Context, request domainLLM.UpdateConfigRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Provider, validation.Required, validation.By(providerSupported)),
		validation.Field(&request.APIKey, validation.By(keyPrefixFor(request.Provider))),
		validation.Field(&request.ModelSettings, validation.By(settingsFor(request.Provider))),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func providerSupported(value interface{}) error {
	provider, _ := value.(domainLLM.Provider)
	if !provider.Valid() {
		return errors.New("unsupported value")
	}
	return nil
}

// keyPrefixFor catches pasted keys from the wrong provider before they are
// encrypted. A blank key is allowed here: updates keep the stored one.
func keyPrefixFor(provider domainLLM.Provider) validation.RuleFunc {
	return func(value interface{}) error {
		key, _ := value.(string)
		key = strings.TrimSpace(key)
		if key == "" {
			return nil
		}
		switch provider {
		case domainLLM.ProviderOpenAI:
			if !strings.HasPrefix(key, "sk-") {
				return errors.New("OpenAI keys start with 'sk-'")
			}
		case domainLLM.ProviderAnthropic:
			if !strings.HasPrefix(key, "sk-ant-") {
				return errors.New("Anthropic keys start with 'sk-ant-'")
			}
		}
		return nil
	}
}

func settingsFor(provider domainLLM.Provider) validation.RuleFunc {
	return func(value interface{}) error {
		settings, _ := value.(domainLLM.ModelSettings)
		if t, ok := settings.GetFloat("temperature"); ok && (t < 0 || t > 2) {
			return errors.New("temperature must be between 0 and 2")
		}
		if mt, ok := settings.GetInt("max_tokens"); ok && mt <= 0 {
			return errors.New("max_tokens must be positive")
		}
		if k, ok := settings.GetInt("max_context_messages"); ok && k <= 0 {
			return errors.New("max_context_messages must be positive")
		}
		if provider == domainLLM.ProviderCustom {
			if _, ok := settings.GetString("base_url"); !ok {
				return errors.New("base_url is required for the CUSTOM provider")
			}
		}
		return nil
	}
}
