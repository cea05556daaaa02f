package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	agentDomain "github.com/zapa-ai/zapa/agentengine/domain"
	domainMessage "github.com/zapa-ai/zapa/domains/message"
	domainQueue "github.com/zapa-ai/zapa/domains/queue"
	domainSession "github.com/zapa-ai/zapa/domains/session"
	domainUser "github.com/zapa-ai/zapa/domains/user"
	domainWebhook "github.com/zapa-ai/zapa/domains/webhook"
	"github.com/zapa-ai/zapa/infrastructure/valkey"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
	"github.com/zapa-ai/zapa/pkg/msgworker"
	"github.com/zapa-ai/zapa/pkg/utils"
	"github.com/zapa-ai/zapa/repository"
	"github.com/zapa-ai/zapa/ui/websocket"
)

const (
	// dedupTTL bounds how long a bridge message id stays reserved in valkey.
	// Replays beyond it still hit the unique external_id column.
	dedupTTL = 24 * time.Hour

	// reconcileAfter is the age an orphan must reach before reconciliation
	// replays it. Younger messages may still be in flight.
	reconcileAfter = 60 * time.Second
)

// agentRunner is the slice of the orchestrator the intake needs.
type agentRunner interface {
	Process(ctx context.Context, req agentDomain.AgentRequest) error
}

// jobDispatcher is satisfied by msgworker.AgentWorkerPool.
type jobDispatcher interface {
	TryDispatch(job msgworker.AgentJob) bool
}

type webhookService struct {
	users    domainUser.IUserUsecase
	messages domainMessage.IMessageUsecase
	sessions repository.ISessionRepository
	queue    domainQueue.IOutboundQueue
	valkey   *valkey.Client
	pool     jobDispatcher
	agent    agentRunner
}

func NewWebhookService(
	users domainUser.IUserUsecase,
	messages domainMessage.IMessageUsecase,
	sessions repository.ISessionRepository,
	queue domainQueue.IOutboundQueue,
	valkeyClient *valkey.Client,
	pool jobDispatcher,
	agent agentRunner,
) domainWebhook.IWebhookUsecase {
	return &webhookService{
		users:    users,
		messages: messages,
		sessions: sessions,
		queue:    queue,
		valkey:   valkeyClient,
		pool:     pool,
		agent:    agent,
	}
}

func (s *webhookService) ProcessEvent(ctx context.Context, env domainWebhook.Envelope) error {
	if !env.EventType.Valid() {
		return pkgError.ValidationError(fmt.Sprintf("event_type: unknown value %q.", env.EventType))
	}
	if len(env.Data) == 0 {
		return pkgError.ValidationError("data: cannot be blank.")
	}

	switch env.EventType {
	case domainWebhook.EventMessageReceived:
		return s.handleMessageReceived(ctx, env)
	case domainWebhook.EventMessageSent:
		return s.handleDeliveryUpdate(ctx, env, domainMessage.DeliverySent)
	case domainWebhook.EventMessageFailed:
		return s.handleDeliveryUpdate(ctx, env, domainMessage.DeliveryFailed)
	case domainWebhook.EventConnectionStatus:
		return s.handleConnectionStatus(ctx, env)
	}
	return nil
}

func (s *webhookService) handleMessageReceived(ctx context.Context, env domainWebhook.Envelope) error {
	var data domainWebhook.MessageReceivedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return pkgError.ValidationError("data: malformed message.received payload.")
	}
	if data.MessageID == "" {
		return pkgError.ValidationError("message_id: cannot be blank.")
	}
	phone := utils.NormalizePhone(data.FromNumber)
	if phone == "" {
		return pkgError.ValidationError("from_number: cannot be blank.")
	}

	if s.alreadyProcessed(ctx, data.MessageID) {
		logrus.Debugf("[WEBHOOK] Replay of %s dropped", data.MessageID)
		return nil
	}

	user, err := s.users.GetOrCreateByPhone(ctx, phone)
	if err != nil {
		s.releaseDedup(ctx, data.MessageID)
		return err
	}
	if err := s.users.TouchLastActive(ctx, user.ID); err != nil {
		logrus.Warnf("[WEBHOOK] last_active update failed for user %d: %v", user.ID, err)
	}

	ts := data.Timestamp
	if ts.IsZero() {
		ts = env.Timestamp
	}

	kind := kindFromMedia(data.MediaURL, data.MediaType)
	var metadata map[string]any
	if data.MediaURL != "" {
		metadata = map[string]any{"media_url": data.MediaURL, "media_type": data.MediaType}
	}
	if data.QuotedMessageID != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["quoted_external_id"] = data.QuotedMessageID
	}

	stored, err := s.messages.Store(ctx, domainMessage.StoreRequest{
		UserID:        user.ID,
		SenderJID:     utils.PhoneToJID(phone),
		RecipientJID:  utils.PhoneToJID(utils.NormalizePhone(data.ToNumber)),
		Timestamp:     ts,
		Kind:          kind,
		Direction:     domainMessage.DirectionIncoming,
		Content:       data.Text,
		Caption:       data.Caption,
		MediaMetadata: metadata,
		ExternalID:    data.MessageID,
	})
	if err != nil {
		var conflict pkgError.ConflictError
		if errors.As(err, &conflict) {
			// Replay que se coló entre una caída de valkey y el insert.
			logrus.Infof("[WEBHOOK] Duplicate external id %s, already stored", data.MessageID)
			return nil
		}
		s.releaseDedup(ctx, data.MessageID)
		return err
	}

	if kind != domainMessage.KindText || strings.TrimSpace(stored.Content) == "" {
		logrus.Debugf("[WEBHOOK] Stored %s message %d without agent dispatch", kind, stored.ID)
		return nil
	}

	s.dispatchAgentJob(stored)
	return nil
}

func (s *webhookService) handleDeliveryUpdate(ctx context.Context, env domainWebhook.Envelope, fallback domainMessage.DeliveryStatus) error {
	var data domainWebhook.MessageStatusData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return pkgError.ValidationError("data: malformed delivery payload.")
	}
	if data.MessageID == "" {
		return pkgError.ValidationError("message_id: cannot be blank.")
	}

	status := fallback
	if fallback != domainMessage.DeliveryFailed {
		// message.sent events may carry a finer grained state.
		switch strings.ToLower(data.Status) {
		case "delivered":
			status = domainMessage.DeliveryDelivered
		case "read":
			status = domainMessage.DeliveryRead
		}
	}
	return s.messages.SetDeliveryStatus(ctx, data.MessageID, status, data.Error)
}

func (s *webhookService) handleConnectionStatus(ctx context.Context, env domainWebhook.Envelope) error {
	var data domainWebhook.ConnectionStatusData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return pkgError.ValidationError("data: malformed connection.status payload.")
	}
	if data.SessionID == "" {
		return pkgError.ValidationError("session_id: cannot be blank.")
	}
	status, err := sessionStatusFromBridge(data.Status)
	if err != nil {
		return err
	}

	ts := data.Timestamp
	if ts.IsZero() {
		ts = env.Timestamp
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	sess, err := s.sessions.GetByExternalID(ctx, data.SessionID)
	if err != nil {
		var notFound pkgError.NotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		// El bridge es la fuente de verdad: adoptamos sesiones que no creamos.
		sess, err = s.sessions.Create(ctx, domainSession.Session{
			Kind:       domainSession.KindMain,
			Status:     status,
			ExternalID: data.SessionID,
		})
		if err != nil {
			return err
		}
		logrus.Infof("[WEBHOOK] Adopted bridge session %s", data.SessionID)
	}

	sess.Status = status
	switch status {
	case domainSession.StatusConnected:
		sess.ConnectedAt = &ts
	case domainSession.StatusDisconnected, domainSession.StatusError:
		sess.DisconnectedAt = &ts
	}
	updated, err := s.sessions.Update(ctx, sess)
	if err != nil {
		return err
	}

	logrus.Infof("[WEBHOOK] Session %s is now %s", data.SessionID, status)
	websocket.Publish("SESSION_STATUS", fmt.Sprintf("Session %s is now %s", data.SessionID, status), updated)
	return nil
}

// Reconcile replays work a crash or full pool left behind: incoming TEXT
// messages that never got an answer are re-dispatched, and OUTGOING rows
// that never reached the bridge are re-enqueued. Runs once at startup.
func (s *webhookService) Reconcile(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-reconcileAfter)
	replayed := 0

	orphans, err := s.messages.UnansweredIncoming(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, m := range orphans {
		if s.dispatchAgentJob(m) {
			replayed++
		}
	}

	unsent, err := s.messages.UnsentOutgoing(ctx, cutoff)
	if err != nil {
		return replayed, err
	}
	for _, m := range unsent {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		_, err := s.queue.Enqueue(ctx, domainQueue.EnqueueRequest{
			ToNumber:  utils.JIDToPhone(m.RecipientJID),
			Content:   m.Content,
			Priority:  domainQueue.PriorityNormal,
			MessageID: m.ID,
		})
		if err != nil {
			logrus.Warnf("[WEBHOOK] Re-enqueue of row %d failed: %v", m.ID, err)
			continue
		}
		replayed++
	}

	if replayed > 0 {
		logrus.Infof("[WEBHOOK] Reconciliation replayed %d orphaned messages", replayed)
	}
	return replayed, nil
}

// dispatchAgentJob hands a stored message to the per-user worker pool. A
// full queue only warns; reconciliation picks up whatever never got an
// answer.
func (s *webhookService) dispatchAgentJob(m domainMessage.Message) bool {
	req := agentDomain.AgentRequest{
		UserID:    m.UserID,
		SessionID: m.SessionID,
		MessageID: m.ID,
		UserJID:   m.SenderJID,
		Text:      m.Content,
	}
	ok := s.pool.TryDispatch(msgworker.AgentJob{
		UserID:    m.UserID,
		MessageID: m.ID,
		Handler: func(jobCtx context.Context) error {
			return s.agent.Process(jobCtx, req)
		},
	})
	if !ok {
		logrus.Warnf("[WEBHOOK] Agent pool rejected job for user %d msg %d", m.UserID, m.ID)
	}
	return ok
}

// alreadyProcessed reserves the bridge message id in valkey; the first
// caller wins and replays see the key. A down valkey degrades to "not
// seen", the unique external_id column is the backstop.
func (s *webhookService) alreadyProcessed(ctx context.Context, externalID string) bool {
	if s.valkey == nil {
		return false
	}
	inner := s.valkey.Inner()
	key := s.valkey.Key("webhook", "seen", externalID)
	err := inner.Do(ctx, inner.B().Set().Key(key).Value("1").Nx().Ex(dedupTTL).Build()).Error()
	if err != nil {
		if valkey.IsNil(err) {
			return true
		}
		logrus.Warnf("[WEBHOOK] Dedup reservation failed, relying on storage uniqueness: %v", err)
	}
	return false
}

// releaseDedup drops the reservation so the bridge's retry of a failed
// delivery is not mistaken for a replay.
func (s *webhookService) releaseDedup(ctx context.Context, externalID string) {
	if s.valkey == nil {
		return
	}
	inner := s.valkey.Inner()
	key := s.valkey.Key("webhook", "seen", externalID)
	if err := inner.Do(ctx, inner.B().Del().Key(key).Build()).Error(); err != nil {
		logrus.Warnf("[WEBHOOK] Dedup release failed for %s: %v", externalID, err)
	}
}

func kindFromMedia(mediaURL, mediaType string) domainMessage.Kind {
	if mediaURL == "" {
		return domainMessage.KindText
	}
	switch mediaType {
	case "image":
		return domainMessage.KindImage
	case "audio":
		return domainMessage.KindAudio
	case "video":
		return domainMessage.KindVideo
	case "document":
		return domainMessage.KindDocument
	}
	return domainMessage.KindText
}

func sessionStatusFromBridge(status string) (domainSession.Status, error) {
	switch strings.ToLower(status) {
	case "connected":
		return domainSession.StatusConnected, nil
	case "disconnected":
		return domainSession.StatusDisconnected, nil
	case "qr_pending":
		return domainSession.StatusQRPending, nil
	case "error":
		return domainSession.StatusError, nil
	}
	return "", pkgError.ValidationError(fmt.Sprintf("status: unknown value %q.", status))
}
