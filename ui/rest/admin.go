package rest

import (
	"github.com/gofiber/fiber/v2"

	domainAuth "github.com/zapa-ai/zapa/domains/auth"
	domainMessage "github.com/zapa-ai/zapa/domains/message"
	domainUser "github.com/zapa-ai/zapa/domains/user"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
	"github.com/zapa-ai/zapa/pkg/utils"
)

type Admin struct {
	Auth     domainAuth.IAuthUsecase
	Users    domainUser.IUserUsecase
	Messages domainMessage.IMessageUsecase
}

// InitRestAdmin mounts the operator surface. Login is the only public
// route; everything else registers on the authed group.
func InitRestAdmin(public fiber.Router, authed fiber.Router, auth domainAuth.IAuthUsecase, users domainUser.IUserUsecase, messages domainMessage.IMessageUsecase) Admin {
	rest := Admin{Auth: auth, Users: users, Messages: messages}

	public.Post("/auth/login", rest.Login)

	authed.Get("/users", rest.ListUsers)
	authed.Get("/users/:id", rest.GetUser)
	authed.Patch("/users/:id", rest.UpdateUser)
	authed.Delete("/users/:id", rest.DeleteUser)
	authed.Get("/users/:id/messages", rest.ListUserMessages)
	return rest
}

func (h *Admin) Login(c *fiber.Ctx) error {
	var req domainAuth.AdminLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, pkgError.ValidationError(err.Error()))
	}

	token, err := h.Auth.AdminLogin(c.UserContext(), req)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Authenticated",
		Results: token,
	})
}

func (h *Admin) ListUsers(c *fiber.Ctx) error {
	var req domainUser.ListUsersRequest
	if err := c.QueryParser(&req); err != nil {
		return errorResponse(c, pkgError.ValidationError(err.Error()))
	}

	page, err := h.Users.List(c.UserContext(), req)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Users fetched",
		Results: page,
	})
}

func (h *Admin) GetUser(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return errorResponse(c, err)
	}

	user, err := h.Users.GetByID(c.UserContext(), id)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "User fetched",
		Results: user,
	})
}

func (h *Admin) UpdateUser(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return errorResponse(c, err)
	}

	var req domainUser.UpdateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, pkgError.ValidationError(err.Error()))
	}

	user, err := h.Users.Update(c.UserContext(), id, req)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "User updated",
		Results: user,
	})
}

// DeleteUser removes the user and cascades to everything they own.
func (h *Admin) DeleteUser(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return errorResponse(c, err)
	}

	if err := h.Users.Delete(c.UserContext(), id); err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "User deleted",
	})
}

func (h *Admin) ListUserMessages(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return errorResponse(c, err)
	}

	var req domainMessage.ListRequest
	if err := c.QueryParser(&req); err != nil {
		return errorResponse(c, pkgError.ValidationError(err.Error()))
	}

	page, err := h.Messages.List(c.UserContext(), id, req)
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

func userIDParam(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, pkgError.ValidationError("id: must be a positive integer.")
	}
	return int64(id), nil
}
