package rest

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/zapa-ai/zapa/core/config"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
	"github.com/zapa-ai/zapa/pkg/utils"
)

// errorResponse maps service errors onto the response envelope. Typed errors
// carry their own status and surface code; anything else is a 500 whose
// detail is hidden in production bodies. Validation failures are the caller's
// problem and are not logged; auth failures are audit-logged at WARN.
func errorResponse(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := "INTERNAL_SERVER_ERROR"

	var typed pkgError.GenericError
	if errors.As(err, &typed) {
		status = typed.StatusCode()
		code = typed.ErrCode()
	}

	message := err.Error()
	switch {
	case status >= 500:
		logrus.Errorf("[REST] %s %s failed: %v", c.Method(), c.Path(), err)
		if config.Global != nil && config.Global.App.IsProduction() {
			message = "internal server error"
		}
	case status == fiber.StatusUnauthorized || status == fiber.StatusForbidden:
		logrus.Warnf("[REST] %s %s rejected (%s) from %s", c.Method(), c.Path(), code, c.IP())
	}

	return c.Status(status).JSON(utils.ResponseData{
		Status:  status,
		Code:    code,
		Message: message,
	})
}
