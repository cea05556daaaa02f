package rest

import (
	"github.com/gofiber/fiber/v2"

	domainAuth "github.com/zapa-ai/zapa/domains/auth"
	domainUser "github.com/zapa-ai/zapa/domains/user"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
	"github.com/zapa-ai/zapa/pkg/utils"
	"github.com/zapa-ai/zapa/ui/rest/middleware"
)

type Auth struct {
	Service domainAuth.IAuthUsecase
	Users   domainUser.IUserUsecase
}

// InitRestAuth mounts the login ceremony. request-code and verify are
// public; me requires a user token, so it registers on the authed group.
func InitRestAuth(public fiber.Router, authed fiber.Router, service domainAuth.IAuthUsecase, users domainUser.IUserUsecase) Auth {
	rest := Auth{Service: service, Users: users}
	public.Post("/auth/request-code", rest.RequestCode)
	public.Post("/auth/verify", rest.Verify)
	authed.Get("/auth/me", rest.Me)
	return rest
}

func (h *Auth) RequestCode(c *fiber.Ctx) error {
	var req domainAuth.RequestCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(utils.ResponseData{
			Status:  400,
			Code:    "validation",
			Message: err.Error(),
		})
	}

	if err := h.Service.RequestCode(c.UserContext(), req); err != nil {
		return errorResponse(c, err)
	}

	// 202, nunca 200: la entrega por WhatsApp es asíncrona.
	return c.Status(fiber.StatusAccepted).JSON(utils.ResponseData{
		Status:  fiber.StatusAccepted,
		Code:    "SUCCESS",
		Message: "Verification code on its way",
	})
}

func (h *Auth) Verify(c *fiber.Ctx) error {
	var req domainAuth.VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(utils.ResponseData{
			Status:  400,
			Code:    "validation",
			Message: err.Error(),
		})
	}

	token, user, err := h.Service.Verify(c.UserContext(), req)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Authenticated",
		Results: fiber.Map{
			"access_token": token.AccessToken,
			"token_type":   token.TokenType,
			"expires_at":   token.ExpiresAt,
			"user":         user,
		},
	})
}

func (h *Auth) Me(c *fiber.Ctx) error {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		return errorResponse(c, pkgError.AuthError("missing token claims"))
	}

	user, err := h.Users.GetByID(c.UserContext(), claims.UserID)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Current user",
		Results: user,
	})
}
