package rest

import (
	"github.com/gofiber/fiber/v2"

	domainHealth "github.com/zapa-ai/zapa/domains/health"
	"github.com/zapa-ai/zapa/pkg/utils"
)

type Health struct {
	Service domainHealth.IHealthUsecase
}

// InitRestHealth mounts the public liveness endpoint at the root, outside
// every auth group.
func InitRestHealth(app fiber.Router, service domainHealth.IHealthUsecase) Health {
	handler := Health{Service: service}
	app.Get("/health", handler.GetStatus)
	return handler
}

// GetStatus answers from the last known snapshot; the probe loop runs in
// the background so this never blocks on a sick dependency.
func (h *Health) GetStatus(c *fiber.Ctx) error {
	snapshot := h.Service.Snapshot(c.UserContext())

	status := 200
	if snapshot.Overall == domainHealth.StatusUnhealthy {
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(utils.ResponseData{
		Status:  status,
		Code:    "SUCCESS",
		Message: string(snapshot.Overall),
		Results: snapshot,
	})
}
