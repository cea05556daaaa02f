package rest

import (
	"github.com/gofiber/fiber/v2"

	domainLLM "github.com/zapa-ai/zapa/domains/llmconfig"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
	"github.com/zapa-ai/zapa/pkg/utils"
	"github.com/zapa-ai/zapa/ui/rest/middleware"
)

type LLMConfig struct {
	Service domainLLM.ILLMConfigUsecase
}

// InitRestLLMConfig mounts the per-user provider configuration. API keys
// only ever travel inbound; responses expose has_api_key, never the key.
func InitRestLLMConfig(app fiber.Router, service domainLLM.ILLMConfigUsecase) LLMConfig {
	rest := LLMConfig{Service: service}
	app.Get("/llm-config", rest.GetConfig)
	app.Put("/llm-config", rest.UpsertConfig)
	app.Post("/llm-config/test", rest.TestConfig)
	app.Get("/llm-config/providers", rest.ListProviders)
	return rest
}

func (h *LLMConfig) GetConfig(c *fiber.Ctx) error {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		return errorResponse(c, pkgError.AuthError("missing token claims"))
	}

	cfg, err := h.Service.Get(c.UserContext(), claims.UserID)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "LLM config fetched",
		Results: cfg,
	})
}

func (h *LLMConfig) UpsertConfig(c *fiber.Ctx) error {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		return errorResponse(c, pkgError.AuthError("missing token claims"))
	}

	var req domainLLM.UpdateConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, pkgError.ValidationError(err.Error()))
	}

	cfg, err := h.Service.Upsert(c.UserContext(), claims.UserID, req)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "LLM config saved",
		Results: cfg,
	})
}

// TestConfig answers 200 for both outcomes; success=false carries the
// provider's complaint so the UI can show it verbatim.
func (h *LLMConfig) TestConfig(c *fiber.Ctx) error {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		return errorResponse(c, pkgError.AuthError("missing token claims"))
	}

	result, err := h.Service.Test(c.UserContext(), claims.UserID)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "LLM config test finished",
		Results: result,
	})
}

func (h *LLMConfig) ListProviders(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Supported providers",
		Results: h.Service.Providers(c.UserContext()),
	})
}
