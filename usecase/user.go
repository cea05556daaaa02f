package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	domainUser "github.com/zapa-ai/zapa/domains/user"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
	"github.com/zapa-ai/zapa/pkg/utils"
	"github.com/zapa-ai/zapa/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type userService struct {
	users repository.IUserRepository
}

func NewUserService(users repository.IUserRepository) domainUser.IUserUsecase {
	return &userService{users: users}
}

func (s *userService) GetOrCreateByPhone(ctx context.Context, phone string) (domainUser.User, error) {
	normalized := utils.NormalizePhone(phone)
	if normalized == "" {
		return domainUser.User{}, pkgError.ValidationError("phone_number: cannot be blank.")
	}

	existing, err := s.users.GetByPhone(ctx, normalized)
	if err == nil {
		return existing, nil
	}
	var notFound pkgError.NotFoundError
	if !errors.As(err, &notFound) {
		return domainUser.User{}, err
	}

	created, err := s.users.Create(ctx, domainUser.User{
		PhoneNumber: normalized,
		IsActive:    true,
	})
	if err != nil {
		// Concurrent first-contact: another writer won the insert, reuse it.
		var conflict pkgError.ConflictError
		if errors.As(err, &conflict) {
			return s.users.GetByPhone(ctx, normalized)
		}
		return domainUser.User{}, err
	}

	logrus.WithFields(logrus.Fields{
		"user_id": created.ID,
		"phone":   created.PhoneNumber,
	}).Info("[USER] Created on first contact")

	return created, nil
}

func (s *userService) GetByID(ctx context.Context, id int64) (domainUser.User, error) {
	if id <= 0 {
		return domainUser.User{}, pkgError.ValidationError("id: must be positive.")
	}
	return s.users.GetByID(ctx, id)
}

func (s *userService) GetByPhone(ctx context.Context, phone string) (domainUser.User, error) {
	normalized := utils.NormalizePhone(phone)
	if normalized == "" {
		return domainUser.User{}, pkgError.ValidationError("phone_number: cannot be blank.")
	}
	return s.users.GetByPhone(ctx, normalized)
}

func (s *userService) List(ctx context.Context, req domainUser.ListUsersRequest) (domainUser.ListUsersResponse, error) {
	limit := clampLimit(req.Limit)
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	users, total, err := s.users.List(ctx, limit, offset, strings.TrimSpace(req.Query))
	if err != nil {
		return domainUser.ListUsersResponse{}, err
	}

	return domainUser.ListUsersResponse{
		Users:  users,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

func (s *userService) Update(ctx context.Context, id int64, req domainUser.UpdateUserRequest) (domainUser.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return domainUser.User{}, err
	}

	if req.FirstName != nil {
		user.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		user.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	if req.IsAdmin != nil {
		user.IsAdmin = *req.IsAdmin
	}
	if req.Metadata != nil {
		user.Metadata = *req.Metadata
	}

	return s.users.Update(ctx, user)
}

func (s *userService) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return pkgError.ValidationError("id: must be positive.")
	}

	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}

	logrus.WithField("user_id", id).Info("[USER] Deleted with owned data")
	return nil
}

func (s *userService) TouchLastActive(ctx context.Context, id int64) error {
	return s.users.TouchLastActive(ctx, id, time.Now().UTC())
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}
