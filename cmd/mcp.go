package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zapa-ai/zapa/core/config"
	"github.com/zapa-ai/zapa/core/database"
	"github.com/zapa-ai/zapa/repository"
	"github.com/zapa-ai/zapa/ui/mcp"
	"github.com/zapa-ai/zapa/usecase"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the message-history MCP server using SSE",
	Long: `Start an MCP (Model Context Protocol) server over Server-Sent Events
exposing read-only history tools. Tools take an explicit phone_number, so
this surface is for operator-trusted agents only; never expose it publicly.`,
	Run: mcpServer,
}

var (
	mcpFlagHost string
	mcpFlagPort string
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpFlagHost, "host", "", "Host for the SSE MCP server (overrides MCP_HOST)")
	mcpCmd.Flags().StringVar(&mcpFlagPort, "port", "", "Port for the SSE MCP server (overrides MCP_PORT)")
}

// mcpServer boots a read-only slice of the platform: storage plus the user
// and message services. No valkey, no bridge, no workers.
func mcpServer(_ *cobra.Command, _ []string) {
	cfg := config.Global

	host := cfg.MCP.Host
	if mcpFlagHost != "" {
		host = mcpFlagHost
	}
	port := cfg.MCP.Port
	if mcpFlagPort != "" {
		port = mcpFlagPort
	}

	db, err := database.NewDatabase(cfg)
	if err != nil {
		logrus.Fatalf("[MCP] Failed to open storage: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		logrus.Fatalf("[MCP] Migration failed: %v", err)
	}

	users := usecase.NewUserService(repository.NewUserGormRepository(db))
	messages := usecase.NewMessageService(
		repository.NewMessageGormRepository(db),
		repository.NewSessionGormRepository(db),
	)

	mcpSrv := server.NewMCPServer(
		"Zapa Message History MCP Server",
		cfg.App.Version,
		server.WithToolCapabilities(true),
	)

	queryHandler := mcp.InitMcpQuery(users, messages)
	queryHandler.AddQueryTools(mcpSrv)

	sseServer := server.NewSSEServer(
		mcpSrv,
		server.WithBaseURL(fmt.Sprintf("http://%s:%s", host, port)),
		server.WithKeepAlive(true),
	)

	addr := fmt.Sprintf("%s:%s", host, port)
	logrus.Printf("Starting MCP SSE server on %s", addr)
	logrus.Printf("SSE endpoint: http://%s/sse", addr)
	logrus.Printf("Message endpoint: http://%s/message", addr)

	// Graceful shutdown handler
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[MCP] Termination signal received, shutting down gracefully...")
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		os.Exit(0)
	}()

	if err := sseServer.Start(addr); err != nil {
		logrus.Fatalf("Failed to start SSE server: %v", err)
	}
}
