package auth

import (
	"context"
	"time"

	domainUser "github.com/zapa-ai/zapa/domains/user"
)

// AuthCode is a one-time 6-digit login code delivered over WhatsApp.
// A code is valid only while used=false and now < expires_at.
type AuthCode struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Code      string    `json:"-"`
	Used      bool      `json:"used"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type RequestCodeRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type VerifyRequest struct {
	PhoneNumber string `json:"phone_number"`
	Code        string `json:"code"`
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type AdminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type IAuthUsecase interface {
	// RequestCode generates a fresh code, invalidates the user's previous
	// unused codes and enqueues the delivery text. Callers always answer
	// 202 regardless of whether the phone maps to a user.
	RequestCode(ctx context.Context, req RequestCodeRequest) error
	// Verify consumes the code atomically and issues a user token.
	Verify(ctx context.Context, req VerifyRequest) (TokenResponse, domainUser.User, error)
	AdminLogin(ctx context.Context, req AdminLoginRequest) (TokenResponse, error)
	PurgeExpiredCodes(ctx context.Context) (int64, error)
}
