package rest

import (
	"github.com/gofiber/fiber/v2"

	domainBridge "github.com/zapa-ai/zapa/domains/bridge"
	domainSystem "github.com/zapa-ai/zapa/domains/system"
	"github.com/zapa-ai/zapa/pkg/utils"
)

// Integration is the operator view over the bridge, the queue and the
// health loop. All routes sit behind the admin token middleware.
type Integration struct {
	System        domainSystem.ISystemUsecase
	Bridge        domainBridge.IBridgeClient
	MainSessionID string
}

func InitRestIntegration(app fiber.Router, system domainSystem.ISystemUsecase, bridge domainBridge.IBridgeClient, mainSessionID string) Integration {
	rest := Integration{System: system, Bridge: bridge, MainSessionID: mainSessionID}

	group := app.Group("/integration")
	group.Get("/health", rest.GetStatus)
	group.Get("/qr", rest.GetQR)
	group.Post("/reinitialize", rest.Reinitialize)
	group.Get("/queue/stats", rest.GetQueueStats)
	group.Post("/queue/clear-failed", rest.ClearFailed)
	group.Post("/queue/requeue-failed", rest.RequeueFailed)
	return rest
}

// GetStatus serves the last known snapshot; probes run in the background so
// polling stays cheap.
func (h *Integration) GetStatus(c *fiber.Ctx) error {
	status, err := h.System.Status(c.UserContext())
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Integration status",
		Results: status,
	})
}

// GetQR fetches the pairing code for the service number. The bridge answers
// already_connected once the session is linked.
func (h *Integration) GetQR(c *fiber.Ctx) error {
	qr, err := h.Bridge.GetQR(c.UserContext(), h.MainSessionID)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Scan within the timeout window",
		Results: qr,
	})
}

func (h *Integration) Reinitialize(c *fiber.Ctx) error {
	result, err := h.System.Reinitialize(c.UserContext())
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Reinitialization finished",
		Results: result,
	})
}

func (h *Integration) GetQueueStats(c *fiber.Ctx) error {
	stats, err := h.System.QueueStats(c.UserContext())
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Queue stats",
		Results: stats,
	})
}

func (h *Integration) ClearFailed(c *fiber.Ctx) error {
	removed, err := h.System.ClearFailed(c.UserContext())
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Dead-letter queue cleared",
		Results: fiber.Map{"removed": removed},
	})
}

func (h *Integration) RequeueFailed(c *fiber.Ctx) error {
	requeued, err := h.System.RequeueFailed(c.UserContext())
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Dead letters requeued",
		Results: fiber.Map{"requeued": requeued},
	})
}
