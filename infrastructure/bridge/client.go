package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zapa-ai/zapa/core/config"
	domainBridge "github.com/zapa-ai/zapa/domains/bridge"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
	"github.com/zapa-ai/zapa/pkg/utils"
)

// --- Wire Types ---

type sessionStatusPayload struct {
	SessionID   string     `json:"session_id"`
	Status      string     `json:"status"`
	PhoneNumber string     `json:"phone_number,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type qrResponsePayload struct {
	QRCode  string `json:"qr_code"`
	Timeout int    `json:"timeout"`
}

type sendMessagePayload struct {
	SessionID       string `json:"session_id"`
	RecipientJID    string `json:"recipient_jid"`
	Content         string `json:"content"`
	QuotedMessageID string `json:"quoted_message_id,omitempty"`
}

type sendResponsePayload struct {
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status,omitempty"`
}

type errorPayload struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// --- Client ---

// Client talks to the external WhatsApp bridge over HTTP. It never retries;
// retry policy belongs to the outbound queue and the supervisor.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ domainBridge.IBridgeClient = (*Client)(nil)

func NewClient(cfg config.BridgeConfig) *Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return &Client{
		baseURL: trimTrailingSlash(cfg.BaseURL),
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// request runs one HTTP exchange. Transport failures come back as
// bridge_unreachable; HTTP status handling stays with the caller.
func (c *Client) request(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, pkgError.InternalServerError(fmt.Sprintf("bridge payload encode: %v", err))
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, nil, pkgError.InternalServerError(fmt.Sprintf("bridge request build: %v", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, pkgError.BridgeUnreachableError(fmt.Sprintf("bridge request failed: %v", err))
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, data, nil
}

// bridgeDetail extracts the error text the bridge ships in failure bodies.
func bridgeDetail(data []byte) string {
	var e errorPayload
	if err := json.Unmarshal(data, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Detail != "" {
			return e.Detail
		}
	}
	if len(data) > 200 {
		data = data[:200]
	}
	return string(data)
}

func (c *Client) Health(ctx context.Context) (domainBridge.Health, error) {
	status, data, err := c.request(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return domainBridge.Health{}, err
	}
	if status >= 400 {
		return domainBridge.Health{}, pkgError.BridgeUnreachableError(
			fmt.Sprintf("bridge health returned %d: %s", status, bridgeDetail(data)))
	}
	var h domainBridge.Health
	if err := json.Unmarshal(data, &h); err != nil {
		return domainBridge.Health{}, pkgError.BridgeUnreachableError("bridge health returned an unreadable body")
	}
	return h, nil
}

func (c *Client) CreateSession(ctx context.Context, sessionID, webhookURL string) (domainBridge.Session, error) {
	payload := map[string]string{"session_id": sessionID}
	if webhookURL != "" {
		payload["webhook_url"] = webhookURL
	}
	status, data, err := c.request(ctx, http.MethodPost, "/sessions", payload)
	if err != nil {
		return domainBridge.Session{}, err
	}
	switch {
	case status == http.StatusConflict:
		return domainBridge.Session{}, pkgError.ConflictError(
			fmt.Sprintf("session %s already exists on the bridge", sessionID))
	case status >= 400:
		return domainBridge.Session{}, pkgError.BridgeUnreachableError(
			fmt.Sprintf("bridge create session returned %d: %s", status, bridgeDetail(data)))
	}
	return decodeSession(data)
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (domainBridge.Session, error) {
	status, data, err := c.request(ctx, http.MethodGet, "/sessions/"+sessionID, nil)
	if err != nil {
		return domainBridge.Session{}, err
	}
	switch {
	case status == http.StatusNotFound:
		return domainBridge.Session{}, pkgError.NotFoundError(
			fmt.Sprintf("session %s not found on the bridge", sessionID))
	case status >= 400:
		return domainBridge.Session{}, pkgError.BridgeUnreachableError(
			fmt.Sprintf("bridge get session returned %d: %s", status, bridgeDetail(data)))
	}
	return decodeSession(data)
}

func (c *Client) ListSessions(ctx context.Context) ([]domainBridge.Session, error) {
	status, data, err := c.request(ctx, http.MethodGet, "/sessions", nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, pkgError.BridgeUnreachableError(
			fmt.Sprintf("bridge list sessions returned %d: %s", status, bridgeDetail(data)))
	}
	var payloads []sessionStatusPayload
	if err := json.Unmarshal(data, &payloads); err != nil {
		return nil, pkgError.BridgeUnreachableError("bridge session list returned an unreadable body")
	}
	sessions := make([]domainBridge.Session, len(payloads))
	for i, p := range payloads {
		sessions[i] = fromSessionPayload(p)
	}
	return sessions, nil
}

func (c *Client) GetQR(ctx context.Context, sessionID string) (domainBridge.QRCode, error) {
	status, data, err := c.request(ctx, http.MethodGet, "/sessions/"+sessionID+"/qr", nil)
	if err != nil {
		return domainBridge.QRCode{}, err
	}
	switch {
	case status == http.StatusNotFound:
		return domainBridge.QRCode{}, pkgError.NotFoundError(
			fmt.Sprintf("session %s not found on the bridge", sessionID))
	case status == http.StatusBadRequest:
		return domainBridge.QRCode{}, pkgError.AlreadyConnectedError(
			fmt.Sprintf("session %s is already connected", sessionID))
	case status >= 400:
		return domainBridge.QRCode{}, pkgError.BridgeUnreachableError(
			fmt.Sprintf("bridge qr returned %d: %s", status, bridgeDetail(data)))
	}
	var qr qrResponsePayload
	if err := json.Unmarshal(data, &qr); err != nil {
		return domainBridge.QRCode{}, pkgError.BridgeUnreachableError("bridge qr returned an unreadable body")
	}
	return domainBridge.QRCode{QR: qr.QRCode, TimeoutS: qr.Timeout, SessionID: sessionID}, nil
}

func (c *Client) SendText(ctx context.Context, sessionID, recipient, content, quotedID string) (domainBridge.SendResult, error) {
	payload := sendMessagePayload{
		SessionID:       sessionID,
		RecipientJID:    utils.PhoneToJID(recipient),
		Content:         content,
		QuotedMessageID: quotedID,
	}
	status, data, err := c.request(ctx, http.MethodPost, "/sessions/"+sessionID+"/messages", payload)
	if err != nil {
		return domainBridge.SendResult{}, err
	}
	switch {
	case status == http.StatusNotFound:
		return domainBridge.SendResult{}, pkgError.NotFoundError(
			fmt.Sprintf("session %s not found on the bridge", sessionID))
	case status == http.StatusBadRequest:
		return domainBridge.SendResult{}, pkgError.NotConnectedError(
			fmt.Sprintf("session %s is not connected", sessionID))
	case status >= 400:
		return domainBridge.SendResult{}, pkgError.BridgeUnreachableError(
			fmt.Sprintf("bridge send returned %d: %s", status, bridgeDetail(data)))
	}
	var sent sendResponsePayload
	if err := json.Unmarshal(data, &sent); err != nil {
		return domainBridge.SendResult{}, pkgError.BridgeUnreachableError("bridge send returned an unreadable body")
	}
	return domainBridge.SendResult{MessageID: sent.MessageID, Timestamp: sent.Timestamp}, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	status, data, err := c.request(ctx, http.MethodDelete, "/sessions/"+sessionID, nil)
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusNotFound:
		return false, nil // already gone
	case status >= 400:
		return false, pkgError.BridgeUnreachableError(
			fmt.Sprintf("bridge delete session returned %d: %s", status, bridgeDetail(data)))
	}
	return true, nil
}

func (c *Client) ConfigureWebhook(ctx context.Context, cfg domainBridge.WebhookConfig) error {
	status, data, err := c.request(ctx, http.MethodPost, "/webhooks", cfg)
	if err != nil {
		return err
	}
	if status >= 400 {
		return pkgError.BridgeUnreachableError(
			fmt.Sprintf("bridge webhook config returned %d: %s", status, bridgeDetail(data)))
	}
	logrus.Infof("[BRIDGE] webhook configured: url=%s events=%d", cfg.URL, len(cfg.Events))
	return nil
}

func decodeSession(data []byte) (domainBridge.Session, error) {
	var p sessionStatusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domainBridge.Session{}, pkgError.BridgeUnreachableError("bridge session returned an unreadable body")
	}
	return fromSessionPayload(p), nil
}

func fromSessionPayload(p sessionStatusPayload) domainBridge.Session {
	return domainBridge.Session{
		SessionID:   p.SessionID,
		Status:      p.Status,
		ConnectedAt: p.ConnectedAt,
	}
}
