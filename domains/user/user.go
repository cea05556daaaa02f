package user

import (
	"context"
	"time"
)

type User struct {
	ID          int64          `json:"id"`
	PhoneNumber string         `json:"phone_number"`
	FirstName   string         `json:"first_name,omitempty"`
	LastName    string         `json:"last_name,omitempty"`
	IsActive    bool           `json:"is_active"`
	IsAdmin     bool           `json:"is_admin"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	LastActive  *time.Time     `json:"last_active,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DisplayName falls back to the phone number when no name was captured.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.PhoneNumber
	}
}

type UpdateUserRequest struct {
	FirstName *string         `json:"first_name"`
	LastName  *string         `json:"last_name"`
	IsActive  *bool           `json:"is_active"`
	IsAdmin   *bool           `json:"is_admin"`
	Metadata  *map[string]any `json:"metadata"`
}

type ListUsersRequest struct {
	Limit  int    `json:"limit" query:"limit"`
	Offset int    `json:"offset" query:"offset"`
	Query  string `json:"q" query:"q"`
}

type ListUsersResponse struct {
	Users  []User `json:"users"`
	Total  int64  `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type IUserUsecase interface {
	// GetOrCreateByPhone upserts a user keyed by phone number. New users
	// start active, non-admin.
	GetOrCreateByPhone(ctx context.Context, phone string) (User, error)
	GetByID(ctx context.Context, id int64) (User, error)
	GetByPhone(ctx context.Context, phone string) (User, error)
	List(ctx context.Context, req ListUsersRequest) (ListUsersResponse, error)
	Update(ctx context.Context, id int64, req UpdateUserRequest) (User, error)
	// Delete removes the user and everything they own: sessions, messages,
	// auth codes and LLM configs.
	Delete(ctx context.Context, id int64) error
	TouchLastActive(ctx context.Context, id int64) error
}
