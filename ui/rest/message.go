package rest

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	domainMessage "github.com/zapa-ai/zapa/domains/message"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
	"github.com/zapa-ai/zapa/pkg/utils"
	"github.com/zapa-ai/zapa/ui/rest/middleware"
)

type Message struct {
	Service domainMessage.IMessageUsecase
}

// InitRestMessage mounts the history endpoints. Every route is scoped to
// the authenticated user; there is no cross-user read on this surface.
func InitRestMessage(app fiber.Router, service domainMessage.IMessageUsecase) Message {
	rest := Message{Service: service}
	app.Get("/messages", rest.ListMessages)
	app.Get("/messages/stats", rest.GetStats)
	app.Get("/messages/export", rest.ExportMessages)
	return rest
}

func (h *Message) ListMessages(c *fiber.Ctx) error {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		return errorResponse(c, pkgError.AuthError("missing token claims"))
	}

	var req domainMessage.ListRequest
	if err := c.QueryParser(&req); err != nil {
		return errorResponse(c, pkgError.ValidationError(err.Error()))
	}

	page, err := h.Service.List(c.UserContext(), claims.UserID, req)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Messages fetched",
		Results: page,
	})
}

func (h *Message) GetStats(c *fiber.Ctx) error {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		return errorResponse(c, pkgError.AuthError("missing token claims"))
	}

	stats, err := h.Service.Stats(c.UserContext(), claims.UserID)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Conversation stats computed",
		Results: stats,
	})
}

// ExportMessages streams the user's full history as a download rather than
// the JSON envelope.
func (h *Message) ExportMessages(c *fiber.Ctx) error {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		return errorResponse(c, pkgError.AuthError("missing token claims"))
	}

	format := domainMessage.ExportFormat(c.Query("format", string(domainMessage.ExportJSON)))
	payload, contentType, err := h.Service.Export(c.UserContext(), claims.UserID, format)
	if err != nil {
		return errorResponse(c, err)
	}

	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=messages.%s", format))
	return c.Send(payload)
}
