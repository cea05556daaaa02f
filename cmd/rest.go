package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zapa-ai/zapa/core/config"
	"github.com/zapa-ai/zapa/ui/rest"
	"github.com/zapa-ai/zapa/ui/rest/middleware"
	"github.com/zapa-ai/zapa/ui/websocket"
	"github.com/zapa-ai/zapa/usecase"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Run the platform: HTTP surface, webhook intake and workers",
	Run:   restServer,
}

func init() {
	rootCmd.AddCommand(restCmd)
}

func restServer(_ *cobra.Command, _ []string) {
	cfg := config.Global

	sup := usecase.NewSupervisor(cfg)
	if err := sup.Start(context.Background()); err != nil {
		logrus.Fatalf("[REST] Startup failed: %v", err)
	}

	fiberConfig := fiber.Config{
		EnableTrustedProxyCheck: true,
		Network:                 "tcp",
		AppName:                 "Zapa Assistant Platform",
		ServerHeader:            "Hidden",
		BodyLimit:               1 * 1024 * 1024,
	}
	if len(cfg.App.TrustedProxies) > 0 {
		fiberConfig.TrustedProxies = cfg.App.TrustedProxies
		fiberConfig.ProxyHeader = fiber.HeaderXForwardedFor
	}

	app := fiber.New(fiberConfig)

	// RequestID for audit trails
	app.Use(requestid.New())

	origins := strings.Join(cfg.App.CorsAllowedOrigins, ", ")
	if !strings.Contains(origins, cfg.App.BaseURL) {
		origins += ", " + cfg.App.BaseURL
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.Recovery())
	app.Use(helmet.New(helmet.Config{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "SAMEORIGIN",
		HSTSMaxAge:            31536000, // 1 Year
		HSTSExcludeSubdomains: false,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        1000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))

	if cfg.App.Debug {
		app.Use(logger.New())
	}

	base := cfg.App.BasePath

	// Bridge intake and liveness sit outside every auth group; the webhook
	// is guarded by its HMAC signature, health is public by design.
	rest.InitRestWebhook(app, sup.Webhooks, cfg.Bridge.WebhookSecret)
	rest.InitRestHealth(app, sup.Health)

	api := app.Group(base + "/api/v1")
	userAuthed := app.Group(base+"/api/v1", middleware.RequireUser(sup.UserTokens))
	rest.InitRestAuth(api, userAuthed, sup.Auth, sup.Users)
	rest.InitRestMessage(userAuthed, sup.Messages)
	rest.InitRestLLMConfig(userAuthed, sup.LLMConfigs)

	adminPublic := app.Group(base + "/admin")
	adminAuthed := app.Group(base+"/admin", middleware.RequireAdmin(sup.AdminTokens))
	rest.InitRestAdmin(adminPublic, adminAuthed, sup.Auth, sup.Users, sup.Messages)
	rest.InitRestIntegration(adminAuthed, sup, sup.Bridge(), cfg.Bridge.MainSessionID)

	// Websocket gates its own upgrade: browser clients cannot set a bearer
	// header, so the token rides a query param instead of the middleware.
	websocket.RegisterRoutes(app, sup.AdminTokens)
	go websocket.RunHub()

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "endpoint not found",
			"path":  c.Path(),
		})
	})

	// Graceful shutdown handler
	shutdownDone := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[REST] Termination signal received, shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			logrus.Errorf("[REST] Error during Fiber shutdown: %v", err)
		}
		sup.Shutdown()
		close(shutdownDone)
	}()

	if err := app.Listen(":" + cfg.App.Port); err != nil {
		logrus.Fatalln("Failed to start: ", err.Error())
	}
	<-shutdownDone
}
