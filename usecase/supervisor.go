package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/zapa-ai/zapa/agentengine/application"
	agentDomain "github.com/zapa-ai/zapa/agentengine/domain"
	"github.com/zapa-ai/zapa/core/config"
	"github.com/zapa-ai/zapa/core/database"
	domainAuth "github.com/zapa-ai/zapa/domains/auth"
	domainBridge "github.com/zapa-ai/zapa/domains/bridge"
	domainHealth "github.com/zapa-ai/zapa/domains/health"
	domainLLM "github.com/zapa-ai/zapa/domains/llmconfig"
	domainMessage "github.com/zapa-ai/zapa/domains/message"
	domainQueue "github.com/zapa-ai/zapa/domains/queue"
	domainSession "github.com/zapa-ai/zapa/domains/session"
	domainSystem "github.com/zapa-ai/zapa/domains/system"
	domainUser "github.com/zapa-ai/zapa/domains/user"
	domainWebhook "github.com/zapa-ai/zapa/domains/webhook"
	bridgeinfra "github.com/zapa-ai/zapa/infrastructure/bridge"
	queueinfra "github.com/zapa-ai/zapa/infrastructure/queue"
	"github.com/zapa-ai/zapa/infrastructure/valkey"
	"github.com/zapa-ai/zapa/pkg/crypto"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
	"github.com/zapa-ai/zapa/pkg/msgworker"
	"github.com/zapa-ai/zapa/pkg/security"
	"github.com/zapa-ai/zapa/pkg/utils"
	"github.com/zapa-ai/zapa/repository"
	"github.com/zapa-ai/zapa/ui/websocket"
)

const authCodePurgeInterval = 1 * time.Hour

// Supervisor owns the boot sequence and the shared infrastructure handles.
// It builds every service in dependency order, keeps the worker pools and
// probe loop running, and doubles as the admin integration surface
// (ISystemUsecase). HTTP serving stays in cmd; the supervisor only prepares
// everything the handlers need.
type Supervisor struct {
	cfg      *config.Config
	serverID string

	db         *gorm.DB
	valkey     *valkey.Client
	vault      *crypto.Vault
	bridge     domainBridge.IBridgeClient
	queueStore *queueinfra.ValkeyQueue
	sendPool   *queueinfra.SendWorkerPool
	agentPool  *msgworker.AgentWorkerPool

	messageRepo *repository.MessageGormRepository
	sessionRepo repository.ISessionRepository

	Users        domainUser.IUserUsecase
	Messages     domainMessage.IMessageUsecase
	Auth         domainAuth.IAuthUsecase
	LLMConfigs   domainLLM.ILLMConfigUsecase
	Webhooks     domainWebhook.IWebhookUsecase
	Health       domainHealth.IHealthUsecase
	Orchestrator *application.Orchestrator

	UserTokens  *security.TokenIssuer
	AdminTokens *security.TokenIssuer

	startedAt time.Time
	cancel    context.CancelFunc
	stopOnce  sync.Once
}

var _ domainSystem.ISystemUsecase = (*Supervisor)(nil)

func NewSupervisor(cfg *config.Config) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		serverID: utils.GetPersistentServerID(cfg.App.ServerID, cfg.App.StorageDir),
	}
}

// ServerID returns the stable identity of this process, used for websocket
// fan-out loop prevention and the status endpoint.
func (s *Supervisor) ServerID() string { return s.serverID }

// Bridge exposes the bridge client for the admin QR endpoint. Available
// after Start.
func (s *Supervisor) Bridge() domainBridge.IBridgeClient { return s.bridge }

// Start brings the platform up in dependency order: storage, vault, valkey,
// bridge, worker pools, probes, reconciliation. Storage, vault and valkey
// failures abort the boot; the bridge only aborts when
// BRIDGE_FATAL_IF_UNREACHABLE is set, otherwise the send workers retry and
// health reports the outage.
func (s *Supervisor) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.startedAt = time.Now().UTC()

	// 1. Relational storage and schema.
	db, err := database.NewDatabase(s.cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	if err := repository.Migrate(db); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	s.db = db
	logrus.Infof("[SUPERVISOR] Storage ready (%s)", s.cfg.Database.Driver)

	// 2. Vault key self-check before anything can touch stored credentials.
	key, err := crypto.ParseKey(s.cfg.Security.VaultKey)
	if err != nil {
		return fmt.Errorf("vault key: %w", err)
	}
	vault, err := crypto.New(key)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if err := vault.Verify(); err != nil {
		return fmt.Errorf("vault self-check: %w", err)
	}
	s.vault = vault
	logrus.Info("[SUPERVISOR] Vault key verified")

	// 3. Valkey. The outbound queue lives here, so an unreachable instance
	// is fatal rather than degraded.
	vk, err := valkey.NewClient(valkey.Config{
		Address:   s.cfg.Valkey.Address,
		Password:  s.cfg.Valkey.Password,
		DB:        s.cfg.Valkey.DB,
		KeyPrefix: s.cfg.Valkey.KeyPrefix,
	})
	if err != nil {
		return fmt.Errorf("connecting valkey: %w", err)
	}
	s.valkey = vk
	logrus.Infof("[SUPERVISOR] Valkey connected (%s)", s.cfg.Valkey.Address)

	s.bridge = bridgeinfra.NewClient(s.cfg.Bridge)
	s.buildServices()

	websocket.SetValkeyClient(vk, s.serverID)

	// 4-5. Bridge reachability, webhook registration, main session.
	if err := s.initBridge(runCtx); err != nil {
		if s.cfg.Bridge.FatalIfUnreachable {
			return fmt.Errorf("bridge: %w", err)
		}
		logrus.Warnf("[SUPERVISOR] Bridge not ready: %v (continuing, send workers will retry)", err)
		s.Health.ReportFailure(runCtx, domainHealth.ComponentBridge, "", err.Error())
	}

	// 6. Worker pools. Stale items from a previous crash re-enter the
	// queue before the first worker polls.
	if n, err := s.queueStore.RecoverStale(runCtx); err != nil {
		logrus.Warnf("[SUPERVISOR] Stale item recovery failed: %v", err)
	} else if n > 0 {
		logrus.Infof("[SUPERVISOR] Recovered %d stale queue item(s)", n)
	}
	s.sendPool.Start()
	s.agentPool.Start(runCtx)

	// 7. Probes, code purging, startup reconciliation.
	s.Health.StartPeriodicChecks(runCtx)
	go s.purgeAuthCodes(runCtx)

	if _, err := s.Webhooks.Reconcile(runCtx); err != nil {
		logrus.Warnf("[SUPERVISOR] Startup reconciliation failed: %v", err)
	}

	logrus.Infof("[SUPERVISOR] Startup complete in %s (server %s)",
		time.Since(s.startedAt).Round(time.Millisecond), s.serverID)
	return nil
}

// buildServices wires repositories and usecases once the infrastructure
// handles exist. Orden importa: el orquestador necesita config y mensajes,
// el webhook necesita al orquestador.
func (s *Supervisor) buildServices() {
	userRepo := repository.NewUserGormRepository(s.db)
	sessionRepo := repository.NewSessionGormRepository(s.db)
	messageRepo := repository.NewMessageGormRepository(s.db)
	codeRepo := repository.NewAuthCodeGormRepository(s.db)
	llmRepo := repository.NewLLMConfigGormRepository(s.db)
	s.messageRepo = messageRepo
	s.sessionRepo = sessionRepo

	s.queueStore = queueinfra.NewValkeyQueue(s.valkey, s.cfg.Queue)

	s.Users = NewUserService(userRepo)
	s.Messages = NewMessageService(messageRepo, sessionRepo)
	s.LLMConfigs = NewLLMConfigService(llmRepo, s.vault)
	s.Auth = NewAuthService(s.Users, codeRepo, s.queueStore, s.valkey, s.cfg.Security)

	s.Orchestrator = application.NewOrchestrator(s.LLMConfigs, s.Messages, s.queueStore, s.cfg.Agent)
	s.Health = NewHealthService(s.cfg.Health, s.db, s.valkey, s.bridge, s.queueStore)
	s.Orchestrator.OnFailed = func(userID, messageID int64, state agentDomain.JobState, err error) {
		s.Health.ReportFailure(context.Background(), domainHealth.ComponentAgent, "",
			fmt.Sprintf("user %d message %d ended %s: %v", userID, messageID, state, err))
	}

	s.agentPool = msgworker.NewAgentWorkerPool(s.cfg.Agent.Workers, s.cfg.Agent.QueueSize)
	s.sendPool = queueinfra.NewSendWorkerPool(s.queueStore, s.bridge, messageRepo, s.cfg.Queue, s.cfg.Bridge.MainSessionID)

	agent := reportingAgent{inner: s.Orchestrator, health: s.Health}
	s.Webhooks = NewWebhookService(s.Users, s.Messages, sessionRepo, s.queueStore, s.valkey, s.agentPool, agent)

	s.UserTokens = security.NewTokenIssuer(s.cfg.Security.UserJWTSecret, s.cfg.Security.UserTokenTTL, security.ScopeUser)
	s.AdminTokens = security.NewTokenIssuer(s.cfg.Security.AdminJWTSecret, s.cfg.Security.AdminTokenTTL, security.ScopeAdmin)
}

// initBridge checks the bridge, points its webhook at us and makes sure the
// main session exists. Called at boot and again from Reinitialize.
func (s *Supervisor) initBridge(ctx context.Context) error {
	h, err := s.bridge.Health(ctx)
	if err != nil {
		return err
	}
	logrus.Infof("[SUPERVISOR] Bridge reachable (status=%s version=%s)", h.Status, h.Version)

	webhookURL := strings.TrimSuffix(s.cfg.Bridge.WebhookBaseURL, "/") + "/webhooks/whatsapp"
	err = s.bridge.ConfigureWebhook(ctx, domainBridge.WebhookConfig{
		URL: webhookURL,
		Events: []string{
			string(domainWebhook.EventMessageReceived),
			string(domainWebhook.EventMessageSent),
			string(domainWebhook.EventMessageFailed),
			string(domainWebhook.EventConnectionStatus),
		},
		Secret: s.cfg.Bridge.WebhookSecret,
	})
	if err != nil {
		return fmt.Errorf("configuring webhook: %w", err)
	}
	logrus.Infof("[SUPERVISOR] Bridge webhook set to %s", webhookURL)

	return s.ensureMainSession(ctx, webhookURL)
}

// ensureMainSession creates the service-number session on the bridge when it
// does not exist yet and mirrors its state into our session table. A session
// still waiting for a QR scan is loud in the logs but never blocks boot.
func (s *Supervisor) ensureMainSession(ctx context.Context, webhookURL string) error {
	id := s.cfg.Bridge.MainSessionID
	sess, err := s.bridge.GetSession(ctx, id)
	if err != nil {
		var notFound pkgError.NotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("checking main session: %w", err)
		}
		sess, err = s.bridge.CreateSession(ctx, id, webhookURL)
		if err != nil {
			return fmt.Errorf("creating main session: %w", err)
		}
		logrus.Infof("[SUPERVISOR] Created main session %q on the bridge", id)
	}

	if !sess.Connected() {
		logrus.Warn("[SUPERVISOR] ==============================================")
		logrus.Warnf("[SUPERVISOR] Main session %q is %s.", id, sess.Status)
		logrus.Warn("[SUPERVISOR] Link the service number by scanning the QR code")
		logrus.Warn("[SUPERVISOR] (GET /admin/integration/qr) before users can chat.")
		logrus.Warn("[SUPERVISOR] ==============================================")
	}

	s.adoptMainSession(ctx, sess)
	return nil
}

// adoptMainSession upserts our row for the bridge session so the status is
// queryable before the first connection.status event arrives.
func (s *Supervisor) adoptMainSession(ctx context.Context, sess domainBridge.Session) {
	status, err := sessionStatusFromBridge(sess.Status)
	if err != nil {
		logrus.Warnf("[SUPERVISOR] Bridge reported unknown session status %q", sess.Status)
		return
	}

	existing, err := s.sessionRepo.GetByExternalID(ctx, sess.SessionID)
	if err != nil {
		var notFound pkgError.NotFoundError
		if !errors.As(err, &notFound) {
			logrus.Warnf("[SUPERVISOR] Could not read session %s: %v", sess.SessionID, err)
			return
		}
		created := domainSession.Session{
			Kind:       domainSession.KindMain,
			Status:     status,
			ExternalID: sess.SessionID,
		}
		if status == domainSession.StatusConnected {
			now := time.Now().UTC()
			created.ConnectedAt = &now
		}
		if _, err := s.sessionRepo.Create(ctx, created); err != nil {
			logrus.Warnf("[SUPERVISOR] Could not persist session %s: %v", sess.SessionID, err)
		}
		return
	}

	if existing.Status == status {
		return
	}
	existing.Status = status
	now := time.Now().UTC()
	switch status {
	case domainSession.StatusConnected:
		existing.ConnectedAt = &now
	case domainSession.StatusDisconnected, domainSession.StatusError:
		existing.DisconnectedAt = &now
	}
	if _, err := s.sessionRepo.Update(ctx, existing); err != nil {
		logrus.Warnf("[SUPERVISOR] Could not update session %s: %v", sess.SessionID, err)
	}
}

// purgeAuthCodes drops expired login codes on a slow cadence. Valkey already
// rate-limits requests; this just keeps the table from growing forever.
func (s *Supervisor) purgeAuthCodes(ctx context.Context) {
	ticker := time.NewTicker(authCodePurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Auth.PurgeExpiredCodes(ctx); err != nil {
				logrus.Warnf("[SUPERVISOR] Auth code purge failed: %v", err)
			} else if n > 0 {
				logrus.Debugf("[SUPERVISOR] Purged %d expired auth code(s)", n)
			}
		}
	}
}

// Shutdown drains the worker pools within the configured grace period, then
// closes valkey and storage. Safe to call more than once. The HTTP listener
// is shut down by cmd before this runs, so no new intake races the drain.
func (s *Supervisor) Shutdown() {
	s.stopOnce.Do(func() {
		logrus.Info("[SUPERVISOR] Shutting down...")
		if s.cancel != nil {
			s.cancel()
		}

		done := make(chan struct{})
		go func() {
			if s.agentPool != nil {
				s.agentPool.Stop()
			}
			if s.sendPool != nil {
				s.sendPool.Stop()
			}
			close(done)
		}()
		grace := s.cfg.App.ShutdownGrace
		if grace <= 0 {
			grace = 30 * time.Second
		}
		select {
		case <-done:
		case <-time.After(grace):
			logrus.Warnf("[SUPERVISOR] Drain did not finish within %s, exiting anyway", grace)
		}

		if s.valkey != nil {
			s.valkey.Close()
		}
		if s.db != nil {
			if sqlDB, err := s.db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		logrus.Info("[SUPERVISOR] Shutdown complete")
	})
}

// Status implements the admin integration view.
func (s *Supervisor) Status(ctx context.Context) (domainSystem.Status, error) {
	stats, err := s.queueStore.Stats(ctx)
	if err != nil {
		// Valkey being down is itself visible in the health snapshot;
		// the endpoint still answers.
		logrus.Warnf("[SUPERVISOR] Queue stats unavailable: %v", err)
		stats = domainQueue.Stats{}
	}
	return domainSystem.Status{
		Health:    s.Health.Snapshot(ctx),
		Queue:     stats,
		StartedAt: s.startedAt,
		UptimeS:   int64(time.Since(s.startedAt).Seconds()),
		ServerID:  s.serverID,
		Version:   s.cfg.App.Version,
	}, nil
}

// Reinitialize re-runs the bridge handshake, stale item recovery and the
// message replay without restarting the process.
func (s *Supervisor) Reinitialize(ctx context.Context) (domainSystem.ReinitializeResult, error) {
	var res domainSystem.ReinitializeResult

	if err := s.initBridge(ctx); err != nil {
		logrus.Warnf("[SUPERVISOR] Reinitialize: bridge handshake failed: %v", err)
		s.Health.ReportFailure(ctx, domainHealth.ComponentBridge, "", err.Error())
	} else {
		res.WebhookConfigured = true
	}

	if n, err := s.queueStore.RecoverStale(ctx); err != nil {
		logrus.Warnf("[SUPERVISOR] Reinitialize: stale recovery failed: %v", err)
	} else {
		res.RecoveredItems = n
	}

	replayed, err := s.Webhooks.Reconcile(ctx)
	if err != nil {
		return res, err
	}
	res.ReplayedMessages = replayed
	return res, nil
}

func (s *Supervisor) QueueStats(ctx context.Context) (domainQueue.Stats, error) {
	return s.queueStore.Stats(ctx)
}

func (s *Supervisor) ClearFailed(ctx context.Context) (int64, error) {
	return s.queueStore.ClearDead(ctx)
}

func (s *Supervisor) RequeueFailed(ctx context.Context) (int64, error) {
	return s.queueStore.RequeueDead(ctx)
}

// reportingAgent lets the health snapshot see agent recoveries: failures
// arrive through Orchestrator.OnFailed, successes through here.
type reportingAgent struct {
	inner  agentRunner
	health domainHealth.IHealthUsecase
}

func (a reportingAgent) Process(ctx context.Context, req agentDomain.AgentRequest) error {
	err := a.inner.Process(ctx, req)
	if err == nil {
		a.health.ReportSuccess(ctx, domainHealth.ComponentAgent, "")
	}
	return err
}
