package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App      AppConfig
	MCP      MCPConfig
	Database DatabaseConfig
	Valkey   ValkeyConfig
	Bridge   BridgeConfig
	Queue    QueueConfig
	Agent    AgentConfig
	Security SecurityConfig
	Health   HealthConfig
}

type AppConfig struct {
	Version            string
	Port               string
	Debug              bool
	Environment        string
	BasePath           string
	BaseURL            string
	TrustedProxies     []string
	CorsAllowedOrigins []string
	ServerID           string
	StorageDir         string
	// ShutdownGrace bounds how long worker pools may drain on exit.
	ShutdownGrace    time.Duration
	IntegrationTests bool
}

func (a AppConfig) IsProduction() bool { return a.Environment == "production" }

type MCPConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Driver       string // postgres | sqlite
	Host         string
	Port         int
	User         string
	Password     string
	Name         string // file path for SQLite, DB name for Postgres
	URI          string // overrides the discrete fields when set
	MaxOpenConns int
	MaxIdleConns int
	// Overflow headroom on top of MaxOpenConns for burst traffic.
	OverflowConns int
}

type ValkeyConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

type BridgeConfig struct {
	BaseURL        string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	WebhookBaseURL string
	WebhookSecret  string
	// FatalIfUnreachable turns a dead bridge at startup into a hard exit.
	// Default is warn-and-continue with health marked unhealthy.
	FatalIfUnreachable bool
	MainSessionID      string
}

type QueueConfig struct {
	Workers           int
	MaxRetries        int
	RetryDelay        time.Duration
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
}

type AgentConfig struct {
	MaxToolRounds   int
	ToolLoopBudget  time.Duration
	ContextMessages int
	Workers         int
	QueueSize       int
}

type SecurityConfig struct {
	VaultKey          string
	AdminJWTSecret    string
	UserJWTSecret     string
	AdminTokenTTL     time.Duration
	UserTokenTTL      time.Duration
	AdminUser         string
	AdminPasswordHash string
}

type HealthConfig struct {
	ProbeInterval time.Duration
	StorePath     string
}

// Global provides access to the loaded configuration globally (Migration Helper)
var Global *Config

const minSecretLen = 32

// LoadConfig loads configuration from environment variables or defaults.
// Secrets shorter than 32 bytes and unknown environments are rejected here
// so a misconfigured deployment dies at boot, not on the first request.
func LoadConfig() (*Config, error) {
	debug := false
	if v := os.Getenv("APP_DEBUG"); v == "true" || v == "1" || v == "on" {
		debug = true
	} else if v := os.Getenv("DEBUG"); v == "true" || v == "1" {
		debug = true
	}

	corsOrigins := []string{"http://localhost:3000", "http://localhost:5173"}
	if v := os.Getenv("APP_CORS_ALLOWED_ORIGINS"); v != "" {
		corsOrigins = strings.Split(v, ",")
	}

	appCfg := AppConfig{
		Version:            "v1.2.0",
		Port:               getEnv("APP_PORT", "8000"),
		Debug:              debug,
		Environment:        getEnv("APP_ENV", "development"),
		BasePath:           getEnv("APP_BASE_PATH", ""),
		BaseURL:            getEnv("APP_BASE_URL", "http://localhost:8000"),
		CorsAllowedOrigins: corsOrigins,
		ServerID:           getEnv("SERVER_ID", ""),
		ShutdownGrace:      getEnvDuration("APP_SHUTDOWN_GRACE", 30*time.Second),
		IntegrationTests:   getEnvBool("INTEGRATION_TESTS", false),
	}
	if v := os.Getenv("APP_TRUSTED_PROXIES"); v != "" {
		appCfg.TrustedProxies = strings.Split(v, ",")
	}
	switch appCfg.Environment {
	case "development", "test", "production":
	default:
		return nil, fmt.Errorf("APP_ENV must be development, test or production, got %q", appCfg.Environment)
	}

	storageDir := getEnv("APP_STORAGE_DIR", "storages")
	appCfg.StorageDir = storageDir

	dbCfg := DatabaseConfig{
		Driver:        getEnv("DB_DRIVER", "sqlite"),
		Name:          getEnv("DB_NAME", filepath.Join(storageDir, "zapa.db")),
		Host:          getEnv("DB_HOST", "localhost"),
		Port:          getEnvInt("DB_PORT", 5432),
		User:          getEnv("DB_USER", "postgres"),
		Password:      getEnv("DB_PASSWORD", ""),
		URI:           getEnv("DB_URI", ""),
		MaxOpenConns:  getEnvInt("DB_MAX_OPEN_CONNS", 5),
		MaxIdleConns:  getEnvInt("DB_MAX_IDLE_CONNS", 2),
		OverflowConns: getEnvInt("DB_OVERFLOW_CONNS", 10),
	}
	if dbCfg.Driver != "sqlite" && dbCfg.Driver != "postgres" {
		return nil, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", dbCfg.Driver)
	}

	valkeyCfg := ValkeyConfig{
		Address:   getEnv("VALKEY_ADDRESS", "localhost:6379"),
		Password:  getEnv("VALKEY_PASSWORD", ""),
		DB:        getEnvInt("VALKEY_DB", 0),
		KeyPrefix: getEnv("VALKEY_KEY_PREFIX", "zapa:"),
	}

	bridgeCfg := BridgeConfig{
		BaseURL:            getEnv("BRIDGE_BASE_URL", "http://localhost:8001"),
		Timeout:            getEnvDuration("BRIDGE_TIMEOUT", 30*time.Second),
		ConnectTimeout:     getEnvDuration("BRIDGE_CONNECT_TIMEOUT", 5*time.Second),
		WebhookBaseURL:     getEnv("WEBHOOK_BASE_URL", appCfg.BaseURL),
		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
		FatalIfUnreachable: getEnvBool("BRIDGE_FATAL_IF_UNREACHABLE", false),
		MainSessionID:      getEnv("BRIDGE_MAIN_SESSION_ID", "main"),
	}

	queueCfg := QueueConfig{
		Workers:           getEnvInt("QUEUE_WORKERS", 1),
		MaxRetries:        getEnvInt("QUEUE_MAX_RETRIES", 3),
		RetryDelay:        getEnvDuration("QUEUE_RETRY_DELAY", 5*time.Second),
		VisibilityTimeout: getEnvDuration("QUEUE_VISIBILITY_TIMEOUT", 5*time.Minute),
		PollInterval:      getEnvDuration("QUEUE_POLL_INTERVAL", 1*time.Second),
	}

	agentCfg := AgentConfig{
		MaxToolRounds:   getEnvInt("AGENT_MAX_TOOL_ROUNDS", 4),
		ToolLoopBudget:  getEnvDuration("AGENT_TOOL_LOOP_BUDGET", 60*time.Second),
		ContextMessages: getEnvInt("AGENT_CONTEXT_MESSAGES", 20),
		Workers:         getEnvInt("AGENT_WORKERS", 4),
		QueueSize:       getEnvInt("AGENT_QUEUE_SIZE", 100),
	}

	secCfg := SecurityConfig{
		VaultKey:       os.Getenv("VAULT_KEY"),
		AdminJWTSecret: os.Getenv("ADMIN_JWT_SECRET"),
		UserJWTSecret:  os.Getenv("USER_JWT_SECRET"),
		AdminTokenTTL:  getEnvDuration("ADMIN_TOKEN_TTL", 1*time.Hour),
		UserTokenTTL:   getEnvDuration("USER_TOKEN_TTL", 24*time.Hour),
		AdminUser:      getEnv("ADMIN_USER", "admin"),
	}
	if err := checkSecret("VAULT_KEY", secCfg.VaultKey, true); err != nil {
		return nil, err
	}
	if err := checkSecret("ADMIN_JWT_SECRET", secCfg.AdminJWTSecret, true); err != nil {
		return nil, err
	}
	if err := checkSecret("USER_JWT_SECRET", secCfg.UserJWTSecret, true); err != nil {
		return nil, err
	}
	if err := checkSecret("WEBHOOK_SECRET", bridgeCfg.WebhookSecret, false); err != nil {
		return nil, err
	}

	// Admin login checks against a bcrypt hash either way: accept a
	// pre-hashed value or derive one from the plain password at boot.
	secCfg.AdminPasswordHash = os.Getenv("ADMIN_PASSWORD_HASH")
	if secCfg.AdminPasswordHash == "" {
		if plain := os.Getenv("ADMIN_PASSWORD"); plain != "" {
			hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("hashing ADMIN_PASSWORD: %w", err)
			}
			secCfg.AdminPasswordHash = string(hashed)
		}
	}

	healthCfg := HealthConfig{
		ProbeInterval: getEnvDuration("HEALTH_PROBE_INTERVAL", 30*time.Second),
		StorePath:     getEnv("HEALTH_STORE_PATH", filepath.Join(storageDir, "health.db")),
	}

	cfg := &Config{
		App:      appCfg,
		MCP:      MCPConfig{Port: getEnv("MCP_PORT", "8080"), Host: getEnv("MCP_HOST", "localhost")},
		Database: dbCfg,
		Valkey:   valkeyCfg,
		Bridge:   bridgeCfg,
		Queue:    queueCfg,
		Agent:    agentCfg,
		Security: secCfg,
		Health:   healthCfg,
	}

	Global = cfg
	return cfg, nil
}

func checkSecret(name, value string, required bool) error {
	if value == "" {
		if required {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
	if len(value) < minSecretLen {
		return fmt.Errorf("%s must be at least %d bytes, got %d", name, minSecretLen, len(value))
	}
	return nil
}
