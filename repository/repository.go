package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	domainAuth "github.com/zapa-ai/zapa/domains/auth"
	domainLLM "github.com/zapa-ai/zapa/domains/llmconfig"
	domainMessage "github.com/zapa-ai/zapa/domains/message"
	domainSession "github.com/zapa-ai/zapa/domains/session"
	domainUser "github.com/zapa-ai/zapa/domains/user"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
)

type IUserRepository interface {
	Create(ctx context.Context, u domainUser.User) (domainUser.User, error)
	GetByID(ctx context.Context, id int64) (domainUser.User, error)
	GetByPhone(ctx context.Context, phone string) (domainUser.User, error)
	List(ctx context.Context, limit, offset int, query string) ([]domainUser.User, int64, error)
	Update(ctx context.Context, u domainUser.User) (domainUser.User, error)
	// Delete removes the user and all owned rows in one transaction.
	Delete(ctx context.Context, id int64) error
	TouchLastActive(ctx context.Context, id int64, at time.Time) error
}

type ISessionRepository interface {
	Create(ctx context.Context, s domainSession.Session) (domainSession.Session, error)
	GetByID(ctx context.Context, id int64) (domainSession.Session, error)
	GetByUserAndKind(ctx context.Context, userID *int64, kind domainSession.Kind) (domainSession.Session, error)
	GetByExternalID(ctx context.Context, externalID string) (domainSession.Session, error)
	Update(ctx context.Context, s domainSession.Session) (domainSession.Session, error)
	List(ctx context.Context) ([]domainSession.Session, error)
}

type IMessageRepository interface {
	Create(ctx context.Context, m domainMessage.Message) (domainMessage.Message, error)
	GetByID(ctx context.Context, id int64) (domainMessage.Message, error)
	GetByExternalID(ctx context.Context, externalID string) (domainMessage.Message, error)
	Recent(ctx context.Context, userID int64, n int) ([]domainMessage.Message, error)
	Search(ctx context.Context, userID int64, query string, limit int) ([]domainMessage.Message, error)
	InRange(ctx context.Context, userID int64, from, to time.Time) ([]domainMessage.Message, error)
	List(ctx context.Context, userID int64, limit, offset int, query string) ([]domainMessage.Message, int64, error)
	Stats(ctx context.Context, userID int64) (domainMessage.ConversationStats, error)
	// UpdateDeliveryStatus returns the number of rows touched; zero means
	// the external id is unknown.
	UpdateDeliveryStatus(ctx context.Context, externalID string, status domainMessage.DeliveryStatus, detail string) (int64, error)
	// SetExternalID backfills the bridge message id after a send succeeds.
	SetExternalID(ctx context.Context, messageID int64, externalID string) error
	// SetDeliveryStatusByID marks a row by primary key; used when no
	// external id exists yet (dead-lettered sends).
	SetDeliveryStatusByID(ctx context.Context, messageID int64, status domainMessage.DeliveryStatus, detail string) error
	// UnansweredIncoming finds user TEXT messages older than the cutoff
	// with no later OUTGOING row for the same user. Startup reconciliation
	// replays these.
	UnansweredIncoming(ctx context.Context, olderThan time.Time) ([]domainMessage.Message, error)
	// UnsentOutgoing finds OUTGOING rows that never reached the bridge:
	// no external id, no delivery status, older than the cutoff.
	UnsentOutgoing(ctx context.Context, olderThan time.Time) ([]domainMessage.Message, error)
}

type IAuthCodeRepository interface {
	Create(ctx context.Context, c domainAuth.AuthCode) (domainAuth.AuthCode, error)
	// InvalidateForUser marks every pending code of the user as used.
	InvalidateForUser(ctx context.Context, userID int64) error
	FindValidByUser(ctx context.Context, userID int64, now time.Time) ([]domainAuth.AuthCode, error)
	// ConsumeCode flips used=false to true and reports whether this call
	// won the flip, making one-time use atomic under concurrent verifies.
	ConsumeCode(ctx context.Context, id int64) (bool, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type ILLMConfigRepository interface {
	// Upsert writes the (user, provider) row. When cfg.IsActive is set it
	// deactivates the user's other rows inside the same transaction.
	Upsert(ctx context.Context, cfg domainLLM.Config) (domainLLM.Config, error)
	GetActiveByUser(ctx context.Context, userID int64) (domainLLM.Config, error)
	GetLatestByUser(ctx context.Context, userID int64) (domainLLM.Config, error)
	GetByUserProvider(ctx context.Context, userID int64, provider domainLLM.Provider) (domainLLM.Config, error)
	ListByUser(ctx context.Context, userID int64) ([]domainLLM.Config, error)
}

// Migrate applies the schema for every repository model.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&userModel{},
		&sessionModel{},
		&messageModel{},
		&authCodeModel{},
		&llmConfigModel{},
	)
}

// WithTx runs fn inside one transaction; any error rolls everything back.
func WithTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return db.WithContext(ctx).Transaction(fn)
}

// mapError folds driver errors into the shared taxonomy: missing rows to
// not_found, uniqueness violations to conflict and the rest to a transient
// storage_unavailable.
func mapError(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgError.NotFoundError(notFoundMsg)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || isDuplicate(err) {
		return pkgError.ConflictError("duplicate value violates a uniqueness rule")
	}
	return pkgError.StorageUnavailableError("storage error: " + err.Error())
}

func isDuplicate(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "Duplicate entry")
}
