package security

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	pkgError "github.com/zapa-ai/zapa/pkg/error"
)

type Scope string

const (
	ScopeUser  Scope = "user"
	ScopeAdmin Scope = "admin"
)

const issuer = "zapa"

type Claims struct {
	UserID      int64  `json:"user_id,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	IsAdmin     bool   `json:"is_admin"`
	Scope       Scope  `json:"scope"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies bearer tokens for one scope. User and
// admin surfaces each get their own issuer with a separate secret, so an
// admin token never validates on user routes or vice versa.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	scope  Scope
}

func NewTokenIssuer(secret string, ttl time.Duration, scope Scope) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, scope: scope}
}

func (i *TokenIssuer) Issue(userID int64, phoneNumber string, isAdmin bool) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(i.ttl)

	subject := phoneNumber
	if subject == "" {
		subject = string(i.scope)
	}
	claims := &Claims{
		UserID:      userID,
		PhoneNumber: phoneNumber,
		IsAdmin:     isAdmin,
		Scope:       i.scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (i *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, pkgError.AuthError("unexpected signing method")
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, pkgError.AuthError("invalid or expired token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, pkgError.AuthError("invalid or expired token")
	}
	if claims.Scope != i.scope {
		return nil, pkgError.AuthError("token scope mismatch")
	}
	return claims, nil
}

// HashPassword encrypts the password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPasswordHash verifies if the password matches the hash
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
