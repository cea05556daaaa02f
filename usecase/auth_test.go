package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zapa-ai/zapa/core/config"
	domainAuth "github.com/zapa-ai/zapa/domains/auth"
	domainQueue "github.com/zapa-ai/zapa/domains/queue"
	domainUser "github.com/zapa-ai/zapa/domains/user"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
	"github.com/zapa-ai/zapa/pkg/security"
)

type fakeUsersUsecase struct {
	domainUser.IUserUsecase

	byPhone map[string]domainUser.User
	nextID  int64
	touched map[int64]int
	getErr  error
}

func newFakeUsersUsecase() *fakeUsersUsecase {
	return &fakeUsersUsecase{
		byPhone: map[string]domainUser.User{},
		touched: map[int64]int{},
	}
}

func (f *fakeUsersUsecase) GetOrCreateByPhone(ctx context.Context, phone string) (domainUser.User, error) {
	if f.getErr != nil {
		return domainUser.User{}, f.getErr
	}
	if u, ok := f.byPhone[phone]; ok {
		return u, nil
	}
	f.nextID++
	u := domainUser.User{ID: f.nextID, PhoneNumber: phone, IsActive: true}
	f.byPhone[phone] = u
	return u, nil
}

func (f *fakeUsersUsecase) GetByPhone(ctx context.Context, phone string) (domainUser.User, error) {
	if u, ok := f.byPhone[phone]; ok {
		return u, nil
	}
	return domainUser.User{}, pkgError.NotFoundError("user not found")
}

func (f *fakeUsersUsecase) TouchLastActive(ctx context.Context, id int64) error {
	f.touched[id]++
	return nil
}

type fakeAuthCodeRepo struct {
	rows   []domainAuth.AuthCode
	nextID int64
}

func (f *fakeAuthCodeRepo) Create(ctx context.Context, c domainAuth.AuthCode) (domainAuth.AuthCode, error) {
	f.nextID++
	c.ID = f.nextID
	c.CreatedAt = time.Now().UTC()
	f.rows = append(f.rows, c)
	return c, nil
}

func (f *fakeAuthCodeRepo) InvalidateForUser(ctx context.Context, userID int64) error {
	for i := range f.rows {
		if f.rows[i].UserID == userID {
			f.rows[i].Used = true
		}
	}
	return nil
}

func (f *fakeAuthCodeRepo) FindValidByUser(ctx context.Context, userID int64, now time.Time) ([]domainAuth.AuthCode, error) {
	var out []domainAuth.AuthCode
	for _, c := range f.rows {
		if c.UserID == userID && !c.Used && now.Before(c.ExpiresAt) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeAuthCodeRepo) ConsumeCode(ctx context.Context, id int64) (bool, error) {
	for i := range f.rows {
		if f.rows[i].ID == id {
			if f.rows[i].Used {
				return false, nil
			}
			f.rows[i].Used = true
			return true, nil
		}
	}
	return false, pkgError.NotFoundError("code not found")
}

func (f *fakeAuthCodeRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	kept := f.rows[:0]
	var purged int64
	for _, c := range f.rows {
		if now.After(c.ExpiresAt) {
			purged++
			continue
		}
		kept = append(kept, c)
	}
	f.rows = kept
	return purged, nil
}

type fakeOutboundQueue struct {
	domainQueue.IOutboundQueue

	enqueued   []domainQueue.EnqueueRequest
	enqueueErr error

	stats    domainQueue.Stats
	statsErr error
}

func (f *fakeOutboundQueue) Enqueue(ctx context.Context, req domainQueue.EnqueueRequest) (string, error) {
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	f.enqueued = append(f.enqueued, req)
	return "item-1", nil
}

func (f *fakeOutboundQueue) Stats(ctx context.Context) (domainQueue.Stats, error) {
	if f.statsErr != nil {
		return domainQueue.Stats{}, f.statsErr
	}
	return f.stats, nil
}

func testSecurityConfig(t *testing.T) config.SecurityConfig {
	t.Helper()
	hash, err := security.HashPassword("hunter2-but-long-enough")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return config.SecurityConfig{
		VaultKey:          strings.Repeat("v", 32),
		AdminJWTSecret:    strings.Repeat("a", 32),
		UserJWTSecret:     strings.Repeat("u", 32),
		AdminTokenTTL:     time.Hour,
		UserTokenTTL:      24 * time.Hour,
		AdminUser:         "admin",
		AdminPasswordHash: hash,
	}
}

// codeFromDelivery digs the 6-digit code out of the queued WhatsApp text.
func codeFromDelivery(t *testing.T, content string) string {
	t.Helper()
	idx := strings.Index(content, ": ")
	if idx < 0 || len(content) < idx+2+codeLength {
		t.Fatalf("no code in delivery text %q", content)
	}
	return content[idx+2 : idx+2+codeLength]
}

func TestRequestCodeIssuesAndDelivers(t *testing.T) {
	users := newFakeUsersUsecase()
	codes := &fakeAuthCodeRepo{}
	queue := &fakeOutboundQueue{}
	svc := NewAuthService(users, codes, queue, nil, testSecurityConfig(t))
	ctx := context.Background()

	// Un código viejo pendiente debe quedar invalidado por el nuevo.
	seedUser, _ := users.GetOrCreateByPhone(ctx, "34612345678")
	_, _ = codes.Create(ctx, domainAuth.AuthCode{
		UserID: seedUser.ID, Code: "111111",
		ExpiresAt: time.Now().UTC().Add(codeTTL),
	})

	if err := svc.RequestCode(ctx, domainAuth.RequestCodeRequest{PhoneNumber: "+34 612 345 678"}); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}

	if len(queue.enqueued) != 1 {
		t.Fatalf("expected one delivery, got %d", len(queue.enqueued))
	}
	delivery := queue.enqueued[0]
	if delivery.ToNumber != "34612345678" {
		t.Fatalf("delivery to %q", delivery.ToNumber)
	}
	if delivery.Priority != domainQueue.PriorityHigh {
		t.Fatalf("codes should jump the queue, priority %d", delivery.Priority)
	}

	code := codeFromDelivery(t, delivery.Content)
	if len(code) != codeLength {
		t.Fatalf("code %q", code)
	}

	if !codes.rows[0].Used {
		t.Fatal("previous code should be invalidated")
	}
	latest := codes.rows[len(codes.rows)-1]
	if latest.Used || latest.Code != code {
		t.Fatalf("stored code mismatch: %+v vs delivered %q", latest, code)
	}
}

func TestRequestCodeValidatesPhone(t *testing.T) {
	svc := NewAuthService(newFakeUsersUsecase(), &fakeAuthCodeRepo{}, &fakeOutboundQueue{}, nil, testSecurityConfig(t))

	err := svc.RequestCode(context.Background(), domainAuth.RequestCodeRequest{PhoneNumber: " +- "})
	var verr pkgError.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRequestCodeHidesDeliveryFailures(t *testing.T) {
	codes := &fakeAuthCodeRepo{}
	queue := &fakeOutboundQueue{enqueueErr: errors.New("valkey down")}
	svc := NewAuthService(newFakeUsersUsecase(), codes, queue, nil, testSecurityConfig(t))

	if err := svc.RequestCode(context.Background(), domainAuth.RequestCodeRequest{PhoneNumber: "14155550100"}); err != nil {
		t.Fatalf("delivery failure must stay a 202, got %v", err)
	}
	if len(codes.rows) != 1 {
		t.Fatalf("code should still be stored, got %d rows", len(codes.rows))
	}
}

func TestVerifyConsumesCodeOnce(t *testing.T) {
	users := newFakeUsersUsecase()
	codes := &fakeAuthCodeRepo{}
	queue := &fakeOutboundQueue{}
	svc := NewAuthService(users, codes, queue, nil, testSecurityConfig(t))
	ctx := context.Background()

	if err := svc.RequestCode(ctx, domainAuth.RequestCodeRequest{PhoneNumber: "14155550100"}); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	code := codeFromDelivery(t, queue.enqueued[0].Content)

	tokens, user, err := svc.Verify(ctx, domainAuth.VerifyRequest{PhoneNumber: "14155550100", Code: code})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if tokens.AccessToken == "" || tokens.TokenType != "bearer" {
		t.Fatalf("token response %+v", tokens)
	}
	if user.PhoneNumber != "14155550100" {
		t.Fatalf("user %+v", user)
	}
	if users.touched[user.ID] == 0 {
		t.Fatal("last_active should be touched on login")
	}

	// Single use: the same code must not work twice.
	_, _, err = svc.Verify(ctx, domainAuth.VerifyRequest{PhoneNumber: "14155550100", Code: code})
	var aerr pkgError.AuthError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected auth error on reuse, got %v", err)
	}
}

func TestVerifyRejectsBadCredentials(t *testing.T) {
	users := newFakeUsersUsecase()
	codes := &fakeAuthCodeRepo{}
	queue := &fakeOutboundQueue{}
	svc := NewAuthService(users, codes, queue, nil, testSecurityConfig(t))
	ctx := context.Background()

	if err := svc.RequestCode(ctx, domainAuth.RequestCodeRequest{PhoneNumber: "14155550100"}); err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	code := codeFromDelivery(t, queue.enqueued[0].Content)

	wrong := code[:codeLength-1] + "0"
	if wrong == code {
		wrong = code[:codeLength-1] + "1"
	}

	var aerr pkgError.AuthError
	for name, req := range map[string]domainAuth.VerifyRequest{
		"unknown phone":  {PhoneNumber: "19999999999", Code: code},
		"wrong code":     {PhoneNumber: "14155550100", Code: wrong},
		"short code":     {PhoneNumber: "14155550100", Code: "12345"},
		"non-digit code": {PhoneNumber: "14155550100", Code: "abcdef"},
	} {
		_, _, err := svc.Verify(ctx, req)
		if !errors.As(err, &aerr) {
			t.Fatalf("%s: expected auth error, got %v", name, err)
		}
	}
}

func TestAdminLogin(t *testing.T) {
	sec := testSecurityConfig(t)
	svc := NewAuthService(newFakeUsersUsecase(), &fakeAuthCodeRepo{}, &fakeOutboundQueue{}, nil, sec)
	ctx := context.Background()

	tokens, err := svc.AdminLogin(ctx, domainAuth.AdminLoginRequest{
		Username: "admin",
		Password: "hunter2-but-long-enough",
	})
	if err != nil {
		t.Fatalf("AdminLogin: %v", err)
	}
	if tokens.AccessToken == "" {
		t.Fatal("no token issued")
	}

	var aerr pkgError.AuthError
	if _, err := svc.AdminLogin(ctx, domainAuth.AdminLoginRequest{Username: "admin", Password: "nope"}); !errors.As(err, &aerr) {
		t.Fatalf("wrong password: expected auth error, got %v", err)
	}
	if _, err := svc.AdminLogin(ctx, domainAuth.AdminLoginRequest{Username: "root", Password: "hunter2-but-long-enough"}); !errors.As(err, &aerr) {
		t.Fatalf("wrong username: expected auth error, got %v", err)
	}

	sec.AdminPasswordHash = ""
	unconfigured := NewAuthService(newFakeUsersUsecase(), &fakeAuthCodeRepo{}, &fakeOutboundQueue{}, nil, sec)
	if _, err := unconfigured.AdminLogin(ctx, domainAuth.AdminLoginRequest{Username: "admin", Password: "hunter2-but-long-enough"}); !errors.As(err, &aerr) {
		t.Fatalf("unconfigured admin: expected auth error, got %v", err)
	}
}

func TestPurgeExpiredCodes(t *testing.T) {
	codes := &fakeAuthCodeRepo{}
	svc := NewAuthService(newFakeUsersUsecase(), codes, &fakeOutboundQueue{}, nil, testSecurityConfig(t))
	ctx := context.Background()

	_, _ = codes.Create(ctx, domainAuth.AuthCode{UserID: 1, Code: "111111", ExpiresAt: time.Now().UTC().Add(-time.Minute)})
	_, _ = codes.Create(ctx, domainAuth.AuthCode{UserID: 1, Code: "222222", ExpiresAt: time.Now().UTC().Add(time.Minute)})

	purged, err := svc.PurgeExpiredCodes(ctx)
	if err != nil {
		t.Fatalf("PurgeExpiredCodes: %v", err)
	}
	if purged != 1 || len(codes.rows) != 1 {
		t.Fatalf("purged=%d kept=%d", purged, len(codes.rows))
	}
}
