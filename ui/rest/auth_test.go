package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	domainAuth "github.com/zapa-ai/zapa/domains/auth"
	domainUser "github.com/zapa-ai/zapa/domains/user"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
	"github.com/zapa-ai/zapa/pkg/security"
	"github.com/zapa-ai/zapa/ui/rest/middleware"
)

type fakeAuthService struct {
	domainAuth.IAuthUsecase

	requestErr error
	verifyErr  error
	token      domainAuth.TokenResponse
	user       domainUser.User
	requests   []domainAuth.RequestCodeRequest
}

func (f *fakeAuthService) RequestCode(ctx context.Context, req domainAuth.RequestCodeRequest) error {
	f.requests = append(f.requests, req)
	return f.requestErr
}

func (f *fakeAuthService) Verify(ctx context.Context, req domainAuth.VerifyRequest) (domainAuth.TokenResponse, domainUser.User, error) {
	if f.verifyErr != nil {
		return domainAuth.TokenResponse{}, domainUser.User{}, f.verifyErr
	}
	return f.token, f.user, nil
}

type fakeUserService struct {
	domainUser.IUserUsecase

	users map[int64]domainUser.User
}

func (f *fakeUserService) GetByID(ctx context.Context, id int64) (domainUser.User, error) {
	user, ok := f.users[id]
	if !ok {
		return domainUser.User{}, pkgError.NotFoundError("user not found")
	}
	return user, nil
}

func testIssuer(scope security.Scope) *security.TokenIssuer {
	return security.NewTokenIssuer("handler-test-secret-0123456789abcd", time.Hour, scope)
}

func newAuthApp(auth *fakeAuthService, users *fakeUserService, tokens *security.TokenIssuer) *fiber.App {
	app := fiber.New()
	public := app.Group("/api/v1")
	authed := app.Group("/api/v1", middleware.RequireUser(tokens))
	InitRestAuth(public, authed, auth, users)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, body string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error: %v", err)
	}
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) (string, map[string]any) {
	t.Helper()
	defer resp.Body.Close()

	var envelope struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Results map[string]any `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode response JSON: %v", err)
	}
	return envelope.Code, envelope.Results
}

func TestRequestCodeAnswers202(t *testing.T) {
	auth := &fakeAuthService{}
	app := newAuthApp(auth, &fakeUserService{}, testIssuer(security.ScopeUser))

	resp := postJSON(t, app, "/api/v1/auth/request-code", `{"phone_number":"+34 612 345 678"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	if len(auth.requests) != 1 || auth.requests[0].PhoneNumber != "+34 612 345 678" {
		t.Fatalf("unexpected service call: %+v", auth.requests)
	}
}

func TestRequestCodeRateLimited(t *testing.T) {
	auth := &fakeAuthService{requestErr: pkgError.RateLimitError("too many code requests, retry later")}
	app := newAuthApp(auth, &fakeUserService{}, testIssuer(security.ScopeUser))

	resp := postJSON(t, app, "/api/v1/auth/request-code", `{"phone_number":"+34612345678"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestVerifyIssuesToken(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	auth := &fakeAuthService{
		token: domainAuth.TokenResponse{AccessToken: "signed-token", TokenType: "bearer", ExpiresAt: expires},
		user:  domainUser.User{ID: 7, PhoneNumber: "34612345678"},
	}
	app := newAuthApp(auth, &fakeUserService{}, testIssuer(security.ScopeUser))

	resp := postJSON(t, app, "/api/v1/auth/verify", `{"phone_number":"34612345678","code":"123456"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	code, results := decodeEnvelope(t, resp)
	if code != "SUCCESS" {
		t.Fatalf("unexpected envelope code %q", code)
	}
	if results["access_token"] != "signed-token" || results["token_type"] != "bearer" {
		t.Fatalf("unexpected token payload: %+v", results)
	}
}

func TestVerifyRejectsBadCode(t *testing.T) {
	auth := &fakeAuthService{verifyErr: pkgError.AuthError("invalid or expired code")}
	app := newAuthApp(auth, &fakeUserService{}, testIssuer(security.ScopeUser))

	resp := postJSON(t, app, "/api/v1/auth/verify", `{"phone_number":"34612345678","code":"000000"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMeRequiresUserToken(t *testing.T) {
	userTokens := testIssuer(security.ScopeUser)
	users := &fakeUserService{users: map[int64]domainUser.User{7: {ID: 7, PhoneNumber: "34612345678", IsActive: true}}}
	app := newAuthApp(&fakeAuthService{}, users, userTokens)

	// Sin token: 401 antes de llegar al handler.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	signed, _, err := userTokens.Issue(7, "34612345678", false)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid token: expected 200, got %d", resp.StatusCode)
	}

	code, results := decodeEnvelope(t, resp)
	if code != "SUCCESS" {
		t.Fatalf("unexpected envelope code %q", code)
	}
	if results["phone_number"] != "34612345678" {
		t.Fatalf("unexpected user payload: %+v", results)
	}

	// Un token de admin con el mismo secreto no vale en rutas de usuario:
	// el scope viaja dentro de los claims.
	adminTokens := testIssuer(security.ScopeAdmin)
	adminSigned, _, err := adminTokens.Issue(0, "", true)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+adminSigned)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("admin-scope token: expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
