package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration for the signaling/media server.
type Config struct {
	// Required variables
	JWTSecret string
	RedisAddr string
	Port      string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisPassword string

	DevelopmentMode bool
	SkipAuth        bool
	AllowedOrigins  string
	FrontendHost    string

	// WebRTC ICE configuration
	StunURL        string
	TurnURL        string
	TurnUsername   string
	TurnCredential string

	// Room Store defaults
	RoomTTLSeconds        int
	MaxPublishersDefault  int
	JWTExpirySeconds      int
	WsSessionTTLSeconds   int
	InvitationTTLSeconds  int

	// Rate limits (M = minute, H = hour)
	RateLimitApiGlobal   string
	RateLimitApiPublic   string
	RateLimitApiRooms    string
	RateLimitApiMessages string
	RateLimitWsIp        string
	RateLimitWsUser      string
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error describing every violation at once if any required variable is
// missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errs = append(errs, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr == "" {
		errs = append(errs, "REDIS_ADDR is required")
	} else if !isValidHostPort(cfg.RedisAddr) {
		errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.FrontendHost = getEnvOrDefault("FRONTEND_HOST", "localhost:3000")

	cfg.StunURL = getEnvOrDefault("STUN_URL", "stun:stun.l.google.com:19302")
	cfg.TurnURL = os.Getenv("TURN_URL")
	cfg.TurnUsername = os.Getenv("TURN_USERNAME")
	cfg.TurnCredential = os.Getenv("TURN_CREDENTIAL")

	cfg.RoomTTLSeconds = getEnvIntOrDefault("ROOM_TTL_SECONDS", 7200)
	cfg.MaxPublishersDefault = getEnvIntOrDefault("MAX_PUBLISHERS_DEFAULT", 50)
	cfg.JWTExpirySeconds = getEnvIntOrDefault("JWT_EXPIRY_SECONDS", 900)
	cfg.WsSessionTTLSeconds = getEnvIntOrDefault("WS_SESSION_TTL_SECONDS", 1800)
	cfg.InvitationTTLSeconds = getEnvIntOrDefault("INVITATION_TTL_SECONDS", 86400)

	cfg.RateLimitApiGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitApiPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitApiRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")
	cfg.RateLimitApiMessages = getEnvOrDefault("RATE_LIMIT_API_MESSAGES", "500-M")
	cfg.RateLimitWsIp = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"port", cfg.Port,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"room_ttl_seconds", cfg.RoomTTLSeconds,
		"max_publishers_default", cfg.MaxPublishersDefault,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
