package usecase

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zapa-ai/zapa/core/config"
	domainAuth "github.com/zapa-ai/zapa/domains/auth"
	domainQueue "github.com/zapa-ai/zapa/domains/queue"
	domainUser "github.com/zapa-ai/zapa/domains/user"
	"github.com/zapa-ai/zapa/infrastructure/valkey"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
	"github.com/zapa-ai/zapa/pkg/security"
	"github.com/zapa-ai/zapa/pkg/utils"
	"github.com/zapa-ai/zapa/repository"
	"github.com/zapa-ai/zapa/validations"
)

const (
	codeLength      = 6
	codeTTL         = 5 * time.Minute
	codeRateLimit   = 3
	codeRateWindowS = 3600

	// codeMessage never carries anything but the code itself; the code value
	// stays out of every log line.
	codeMessage = "Your Zapa verification code is: %s\n\n" +
		"This code expires in 5 minutes.\n" +
		"If you didn't request this, please ignore this message."

	invalidCredentials = "invalid or expired code"
)

type authService struct {
	users  domainUser.IUserUsecase
	codes  repository.IAuthCodeRepository
	queue  domainQueue.IOutboundQueue
	valkey *valkey.Client

	userTokens  *security.TokenIssuer
	adminTokens *security.TokenIssuer

	adminUser         string
	adminPasswordHash string
}

func NewAuthService(
	users domainUser.IUserUsecase,
	codes repository.IAuthCodeRepository,
	queue domainQueue.IOutboundQueue,
	valkeyClient *valkey.Client,
	sec config.SecurityConfig,
) domainAuth.IAuthUsecase {
	return &authService{
		users:             users,
		codes:             codes,
		queue:             queue,
		valkey:            valkeyClient,
		userTokens:        security.NewTokenIssuer(sec.UserJWTSecret, sec.UserTokenTTL, security.ScopeUser),
		adminTokens:       security.NewTokenIssuer(sec.AdminJWTSecret, sec.AdminTokenTTL, security.ScopeAdmin),
		adminUser:         sec.AdminUser,
		adminPasswordHash: sec.AdminPasswordHash,
	}
}

func (s *authService) RequestCode(ctx context.Context, req domainAuth.RequestCodeRequest) error {
	if err := validations.ValidateRequestCode(ctx, req); err != nil {
		return err
	}
	phone := utils.NormalizePhone(req.PhoneNumber)
	if phone == "" {
		return pkgError.ValidationError("phone_number: must contain digits.")
	}

	if err := s.checkRateLimit(ctx, phone); err != nil {
		return err
	}

	user, err := s.users.GetOrCreateByPhone(ctx, phone)
	if err != nil {
		return err
	}

	// Un código nuevo deja inservibles los anteriores del usuario
	if err := s.codes.InvalidateForUser(ctx, user.ID); err != nil {
		return err
	}

	code, err := generateCode()
	if err != nil {
		return pkgError.InternalServerError("failed to generate auth code")
	}

	if _, err := s.codes.Create(ctx, domainAuth.AuthCode{
		UserID:    user.ID,
		Code:      code,
		ExpiresAt: time.Now().UTC().Add(codeTTL),
	}); err != nil {
		return err
	}

	_, err = s.queue.Enqueue(ctx, domainQueue.EnqueueRequest{
		ToNumber: phone,
		Content:  fmt.Sprintf(codeMessage, code),
		Priority: domainQueue.PriorityHigh,
	})
	if err != nil {
		// Delivery failure still answers 202 so the endpoint never reveals
		// which phones exist; the user can simply request again.
		logrus.WithError(err).WithField("user_id", user.ID).
			Error("[AUTH] Failed to enqueue code delivery")
		return nil
	}

	logrus.WithField("user_id", user.ID).Info("[AUTH] Code issued")
	return nil
}

func (s *authService) Verify(ctx context.Context, req domainAuth.VerifyRequest) (domainAuth.TokenResponse, domainUser.User, error) {
	code := strings.TrimSpace(req.Code)
	if err := validations.ValidateVerify(ctx, domainAuth.VerifyRequest{
		PhoneNumber: req.PhoneNumber,
		Code:        code,
	}); err != nil {
		// La entrada malformada responde igual que un código incorrecto
		return domainAuth.TokenResponse{}, domainUser.User{}, pkgError.AuthError(invalidCredentials)
	}
	phone := utils.NormalizePhone(req.PhoneNumber)
	if phone == "" {
		return domainAuth.TokenResponse{}, domainUser.User{}, pkgError.AuthError(invalidCredentials)
	}

	user, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		// Same answer for unknown phone and wrong code
		return domainAuth.TokenResponse{}, domainUser.User{}, pkgError.AuthError(invalidCredentials)
	}

	candidates, err := s.codes.FindValidByUser(ctx, user.ID, time.Now().UTC())
	if err != nil {
		return domainAuth.TokenResponse{}, domainUser.User{}, err
	}

	// Compara contra todos los candidatos en tiempo constante
	var matched *domainAuth.AuthCode
	for i := range candidates {
		if subtle.ConstantTimeCompare([]byte(code), []byte(candidates[i].Code)) == 1 {
			matched = &candidates[i]
		}
	}
	if matched == nil {
		logrus.WithField("user_id", user.ID).Warn("[AUTH] Verify failed: no matching code")
		return domainAuth.TokenResponse{}, domainUser.User{}, pkgError.AuthError(invalidCredentials)
	}

	won, err := s.codes.ConsumeCode(ctx, matched.ID)
	if err != nil {
		return domainAuth.TokenResponse{}, domainUser.User{}, err
	}
	if !won {
		// Somebody else consumed it first; the code is single-use.
		logrus.WithField("user_id", user.ID).Warn("[AUTH] Verify raced an already-used code")
		return domainAuth.TokenResponse{}, domainUser.User{}, pkgError.AuthError(invalidCredentials)
	}

	if err := s.users.TouchLastActive(ctx, user.ID); err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Warn("[AUTH] Failed to touch last_active")
	}

	token, expiresAt, err := s.userTokens.Issue(user.ID, user.PhoneNumber, user.IsAdmin)
	if err != nil {
		return domainAuth.TokenResponse{}, domainUser.User{}, pkgError.InternalServerError("failed to sign token")
	}

	logrus.WithField("user_id", user.ID).Info("[AUTH] User verified")

	return domainAuth.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
	}, user, nil
}

func (s *authService) AdminLogin(ctx context.Context, req domainAuth.AdminLoginRequest) (domainAuth.TokenResponse, error) {
	if err := validations.ValidateAdminLogin(ctx, req); err != nil {
		return domainAuth.TokenResponse{}, err
	}

	if s.adminPasswordHash == "" {
		logrus.Warn("[AUTH] Admin login attempted but no admin password is configured")
		return domainAuth.TokenResponse{}, pkgError.AuthError("invalid credentials")
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.adminUser)) == 1
	passOK := security.CheckPasswordHash(req.Password, s.adminPasswordHash)
	if !userOK || !passOK {
		logrus.WithField("username", req.Username).Warn("[AUTH] Admin login rejected")
		return domainAuth.TokenResponse{}, pkgError.AuthError("invalid credentials")
	}

	token, expiresAt, err := s.adminTokens.Issue(0, "", true)
	if err != nil {
		return domainAuth.TokenResponse{}, pkgError.InternalServerError("failed to sign token")
	}

	logrus.Info("[AUTH] Admin logged in")

	return domainAuth.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
	}, nil
}

func (s *authService) PurgeExpiredCodes(ctx context.Context) (int64, error) {
	purged, err := s.codes.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		logrus.WithField("purged", purged).Debug("[AUTH] Expired codes removed")
	}
	return purged, nil
}

// checkRateLimit counts requests per phone in valkey. An unreachable valkey
// fails the request: the delivery queue lives there too, so a code could not
// be sent anyway.
func (s *authService) checkRateLimit(ctx context.Context, phone string) error {
	if s.valkey == nil {
		return nil
	}

	key := s.valkey.Key("auth", "ratelimit", phone)
	inner := s.valkey.Inner()

	count, err := inner.Do(ctx, inner.B().Incr().Key(key).Build()).AsInt64()
	if err != nil {
		return pkgError.StorageUnavailableError("rate limiter unavailable: " + err.Error())
	}
	if count == 1 {
		if err := inner.Do(ctx, inner.B().Expire().Key(key).Seconds(codeRateWindowS).Build()).Error(); err != nil {
			logrus.WithError(err).Warn("[AUTH] Failed to set rate limit window")
		}
	}
	if count > codeRateLimit {
		logrus.WithField("phone", phone).Warn("[AUTH] Rate limit exceeded for code requests")
		return pkgError.RateLimitError("too many code requests, try again later")
	}
	return nil
}

func generateCode() (string, error) {
	var b strings.Builder
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteString(n.String())
	}
	return b.String(), nil
}

