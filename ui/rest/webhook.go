package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	domainWebhook "github.com/zapa-ai/zapa/domains/webhook"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
)

const signatureHeader = "X-Signature"

type Webhook struct {
	Service domainWebhook.IWebhookUsecase
	secret  string

	warnOnce sync.Once
}

// InitRestWebhook mounts the bridge intake endpoint outside every auth
// group; the HMAC signature is its only guard.
func InitRestWebhook(app fiber.Router, service domainWebhook.IWebhookUsecase, secret string) *Webhook {
	rest := &Webhook{Service: service, secret: secret}
	app.Post("/webhooks/whatsapp", rest.HandleEvent)
	return rest
}

func (h *Webhook) HandleEvent(c *fiber.Ctx) error {
	body := c.Body()

	if h.secret == "" {
		h.warnOnce.Do(func() {
			logrus.Warn("[WEBHOOK] WEBHOOK_SECRET is not set, accepting unsigned bridge events")
		})
	} else if !validSignature(h.secret, body, c.Get(signatureHeader)) {
		logrus.Warnf("[WEBHOOK] Rejected event with bad signature from %s", c.IP())
		return errorResponse(c, pkgError.AuthError("invalid webhook signature"))
	}

	var env domainWebhook.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return errorResponse(c, pkgError.ValidationError("malformed webhook body"))
	}

	if err := h.Service.ProcessEvent(c.UserContext(), env); err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(domainWebhook.AcceptResponse{OK: true})
}

// validSignature compares HMAC-SHA256 over the raw body against the
// sha256=<hex> header value in constant time.
func validSignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
