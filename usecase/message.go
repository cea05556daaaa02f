package usecase

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	domainMessage "github.com/zapa-ai/zapa/domains/message"
	domainSession "github.com/zapa-ai/zapa/domains/session"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
	"github.com/zapa-ai/zapa/repository"
)

type messageService struct {
	messages repository.IMessageRepository
	sessions repository.ISessionRepository
}

func NewMessageService(messages repository.IMessageRepository, sessions repository.ISessionRepository) domainMessage.IMessageUsecase {
	return &messageService{messages: messages, sessions: sessions}
}

func (s *messageService) Store(ctx context.Context, req domainMessage.StoreRequest) (domainMessage.Message, error) {
	if req.UserID <= 0 {
		return domainMessage.Message{}, pkgError.ValidationError("user_id: must be positive.")
	}
	switch req.Direction {
	case domainMessage.DirectionIncoming, domainMessage.DirectionOutgoing, domainMessage.DirectionSystem:
	default:
		return domainMessage.Message{}, pkgError.ValidationError("direction: unsupported value.")
	}
	kind := req.Kind
	if kind == "" {
		kind = domainMessage.KindText
	}
	switch kind {
	case domainMessage.KindText, domainMessage.KindImage, domainMessage.KindAudio,
		domainMessage.KindVideo, domainMessage.KindDocument:
	default:
		return domainMessage.Message{}, pkgError.ValidationError("kind: unsupported value.")
	}
	if kind == domainMessage.KindText && strings.TrimSpace(req.Content) == "" {
		return domainMessage.Message{}, pkgError.ValidationError("content: cannot be blank for TEXT messages.")
	}

	sessionID := req.SessionID
	if sessionID == 0 {
		session, err := s.GetOrCreateSession(ctx, req.UserID, domainSession.KindMain)
		if err != nil {
			return domainMessage.Message{}, err
		}
		sessionID = session.ID
	}

	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	return s.messages.Create(ctx, domainMessage.Message{
		SessionID:     sessionID,
		UserID:        req.UserID,
		SenderJID:     req.SenderJID,
		RecipientJID:  req.RecipientJID,
		Timestamp:     timestamp,
		Kind:          kind,
		Direction:     req.Direction,
		Content:       req.Content,
		Caption:       req.Caption,
		ReplyToID:     req.ReplyToID,
		MediaMetadata: req.MediaMetadata,
		ExternalID:    req.ExternalID,
	})
}

func (s *messageService) Recent(ctx context.Context, userID int64, n int) ([]domainMessage.Message, error) {
	if n <= 0 {
		n = defaultListLimit
	}
	return s.messages.Recent(ctx, userID, n)
}

func (s *messageService) Search(ctx context.Context, userID int64, query string, limit int) ([]domainMessage.Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, pkgError.ValidationError("query: cannot be blank.")
	}
	return s.messages.Search(ctx, userID, query, clampLimit(limit))
}

func (s *messageService) InRange(ctx context.Context, userID int64, from, to time.Time) ([]domainMessage.Message, error) {
	if to.Before(from) {
		return nil, pkgError.ValidationError("range: end must not precede start.")
	}
	return s.messages.InRange(ctx, userID, from, to)
}

func (s *messageService) List(ctx context.Context, userID int64, req domainMessage.ListRequest) (domainMessage.ListResponse, error) {
	limit := clampLimit(req.Limit)
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	messages, total, err := s.messages.List(ctx, userID, limit, offset, strings.TrimSpace(req.Query))
	if err != nil {
		return domainMessage.ListResponse{}, err
	}

	return domainMessage.ListResponse{
		Messages: messages,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}, nil
}

func (s *messageService) Stats(ctx context.Context, userID int64) (domainMessage.ConversationStats, error) {
	return s.messages.Stats(ctx, userID)
}

func (s *messageService) SetDeliveryStatus(ctx context.Context, externalID string, status domainMessage.DeliveryStatus, detail string) error {
	if externalID == "" {
		return pkgError.ValidationError("external_id: cannot be blank.")
	}
	switch status {
	case domainMessage.DeliverySent, domainMessage.DeliveryDelivered,
		domainMessage.DeliveryRead, domainMessage.DeliveryFailed:
	default:
		return pkgError.ValidationError("status: unsupported value.")
	}

	touched, err := s.messages.UpdateDeliveryStatus(ctx, externalID, status, detail)
	if err != nil {
		return err
	}
	if touched == 0 {
		logrus.WithFields(logrus.Fields{
			"external_id": externalID,
			"status":      status,
		}).Info("[MESSAGE] Delivery update for unknown external id, ignoring")
	}
	return nil
}

func (s *messageService) GetOrCreateSession(ctx context.Context, userID int64, kind domainSession.Kind) (domainSession.Session, error) {
	if userID <= 0 {
		return domainSession.Session{}, pkgError.ValidationError("user_id: must be positive.")
	}

	existing, err := s.sessions.GetByUserAndKind(ctx, &userID, kind)
	if err == nil {
		return existing, nil
	}
	var notFound pkgError.NotFoundError
	if !errors.As(err, &notFound) {
		return domainSession.Session{}, err
	}

	now := time.Now().UTC()
	created, err := s.sessions.Create(ctx, domainSession.Session{
		UserID:      &userID,
		Kind:        kind,
		Status:      domainSession.StatusConnected,
		ConnectedAt: &now,
	})
	if err != nil {
		var conflict pkgError.ConflictError
		if errors.As(err, &conflict) {
			return s.sessions.GetByUserAndKind(ctx, &userID, kind)
		}
		return domainSession.Session{}, err
	}

	logrus.WithFields(logrus.Fields{
		"user_id":    userID,
		"session_id": created.ID,
	}).Debug("[MESSAGE] Created conversation session")

	return created, nil
}

// Export dumps the user's full history oldest-first. The second return value
// is the media type for the HTTP layer.
func (s *messageService) Export(ctx context.Context, userID int64, format domainMessage.ExportFormat) ([]byte, string, error) {
	messages, err := s.messages.InRange(ctx, userID, time.Time{}, time.Now().UTC())
	if err != nil {
		return nil, "", err
	}

	switch format {
	case domainMessage.ExportJSON, "":
		data, err := json.Marshal(messages)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil

	case domainMessage.ExportCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"id", "timestamp", "direction", "content", "kind", "external_id"})
		for _, m := range messages {
			_ = w.Write([]string{
				strconv.FormatInt(m.ID, 10),
				m.Timestamp.UTC().Format(time.RFC3339),
				string(m.Direction),
				m.Content,
				string(m.Kind),
				m.ExternalID,
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "text/csv", nil
	}

	return nil, "", pkgError.ValidationError("format: must be json or csv.")
}

func (s *messageService) UnansweredIncoming(ctx context.Context, olderThan time.Time) ([]domainMessage.Message, error) {
	return s.messages.UnansweredIncoming(ctx, olderThan)
}

func (s *messageService) UnsentOutgoing(ctx context.Context, olderThan time.Time) ([]domainMessage.Message, error) {
	return s.messages.UnsentOutgoing(ctx, olderThan)
}
