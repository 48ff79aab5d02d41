// Package config provides environment configuration for the service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// Provider settings
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string

	// Conversation state
	SessionTimeout time.Duration
	SweepInterval  time.Duration
	HistoryLimit   int

	// Flow engine
	DisambiguationThreshold float64
	SafetyCheckTimeout      time.Duration

	// Orchestration
	AgentCallTimeout time.Duration

	// Failover
	FailureThreshold   int
	BreakerCooldown    time.Duration
	ProviderTimeout    time.Duration
	DetectionSLALimit  time.Duration
	CrisisSLALimit     time.Duration
	GeneralSLALimit    time.Duration

	// Escalation
	EscalationWebhookURL string
	EscalationMaxElapsed time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Providers
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", ""),

		// Conversation state
		SessionTimeout: getDurationEnv("SESSION_TIMEOUT", 30*time.Minute),
		SweepInterval:  getDurationEnv("SWEEP_INTERVAL", time.Minute),
		HistoryLimit:   getIntEnv("HISTORY_LIMIT", 50),

		// Flow engine
		DisambiguationThreshold: getFloatEnv("DISAMBIGUATION_THRESHOLD", 0.8),
		SafetyCheckTimeout:      getDurationEnv("SAFETY_CHECK_TIMEOUT", 2*time.Second),

		// Orchestration
		AgentCallTimeout: getDurationEnv("AGENT_CALL_TIMEOUT", 30*time.Second),

		// Failover
		FailureThreshold:  getIntEnv("FAILURE_THRESHOLD", 5),
		BreakerCooldown:   getDurationEnv("BREAKER_COOLDOWN", 60*time.Second),
		ProviderTimeout:   getDurationEnv("PROVIDER_TIMEOUT", 10*time.Second),
		DetectionSLALimit: getDurationEnv("DETECTION_SLA_LIMIT", 500*time.Millisecond),
		CrisisSLALimit:    getDurationEnv("CRISIS_SLA_LIMIT", 2*time.Second),
		GeneralSLALimit:   getDurationEnv("GENERAL_SLA_LIMIT", 5*time.Second),

		// Escalation
		EscalationWebhookURL: getEnv("ESCALATION_WEBHOOK_URL", ""),
		EscalationMaxElapsed: getDurationEnv("ESCALATION_MAX_ELAPSED", 30*time.Second),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
