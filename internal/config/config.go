// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	LogLevel    string
	Auth        AuthConfig
	LLM         LLMConfig
	Proactive   ProactiveConfig
	RateLimit   RateLimitConfig
	SSE         SSEConfig
	Retry       RetryConfig
	Timeout     TimeoutConfig
	Extract     ExtractConfig
	Notify      NotifyConfig
}

// AuthConfig controls how callers are identified.
type AuthConfig struct {
	JWTSecret string
	// AllowHeader accepts X-User-ID without a token. Development only.
	AllowHeader bool
}

// LLMConfig configures the model endpoint and the agent loop.
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxSteps    int
	Autonomous  bool
	Fallback    bool
}

// ProactiveConfig configures the proactive cache and the scheduled scan.
type ProactiveConfig struct {
	CacheTTL      time.Duration
	SweepInterval time.Duration
	ScanSchedule  string
	ScanEnabled   bool
	TopicsFile    string
}

// RateLimitConfig bounds chat requests per user.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// SSEConfig configures server-sent event streams.
type SSEConfig struct {
	KeepaliveInterval time.Duration
}

// RetryConfig configures SQLite conflict retries.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// TimeoutConfig holds upstream call timeouts.
type TimeoutConfig struct {
	LLM      time.Duration
	Extract  time.Duration
	Greeting time.Duration
	Bookkeep time.Duration
	Shutdown time.Duration
}

// ExtractConfig points at the document-extraction service.
type ExtractConfig struct {
	URL string
}

// NotifyConfig controls notification delivery.
type NotifyConfig struct {
	Enabled bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/portal.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Auth: AuthConfig{
			JWTSecret:   getEnv("JWT_SECRET", ""),
			AllowHeader: getEnvBool("AUTH_ALLOW_USER_HEADER", false),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:      getEnv("LLM_API_KEY", ""),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
			MaxSteps:    getEnvInt("AGENT_MAX_STEPS", 5),
			Autonomous:  getEnvBool("AGENT_AUTONOMOUS", true),
			Fallback:    getEnvBool("AGENT_FALLBACK_ENABLED", true),
		},
		Proactive: ProactiveConfig{
			CacheTTL:      getEnvDuration("PROACTIVE_CACHE_TTL", 15*time.Minute),
			SweepInterval: getEnvDuration("PROACTIVE_SWEEP_INTERVAL", 10*time.Minute),
			ScanSchedule:  getEnv("PROACTIVE_SCAN_SCHEDULE", "0 8 * * *"),
			ScanEnabled:   getEnvBool("PROACTIVE_SCAN_ENABLED", true),
			TopicsFile:    getEnv("PROACTIVE_TOPICS_FILE", ""),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval: getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
		},
		Retry: RetryConfig{
			MaxRetries: getEnvInt("DB_RETRY_MAX", 3),
			BaseDelay:  getEnvDuration("DB_RETRY_BASE_DELAY", 50*time.Millisecond),
		},
		Timeout: TimeoutConfig{
			LLM:      getEnvDuration("LLM_TIMEOUT", 90*time.Second),
			Extract:  getEnvDuration("EXTRACT_TIMEOUT", 30*time.Second),
			Greeting: getEnvDuration("GREETING_TIMEOUT", 20*time.Second),
			Bookkeep: getEnvDuration("BOOKKEEPING_TIMEOUT", 10*time.Second),
			Shutdown: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Extract: ExtractConfig{
			URL: getEnv("EXTRACT_URL", ""),
		},
		Notify: NotifyConfig{
			Enabled: getEnvBool("NOTIFY_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	// One step only lets the model call tools, never answer after them.
	if c.LLM.MaxSteps <= 1 {
		return fmt.Errorf("AGENT_MAX_STEPS must be > 1, got %d", c.LLM.MaxSteps)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be within [0, 2]")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty")
	}
	if c.Proactive.CacheTTL <= 0 {
		return fmt.Errorf("PROACTIVE_CACHE_TTL must be > 0")
	}
	if c.Proactive.SweepInterval <= 0 {
		return fmt.Errorf("PROACTIVE_SWEEP_INTERVAL must be > 0")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("DB_RETRY_MAX cannot be negative")
	}
	if !c.Auth.AllowHeader && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required unless AUTH_ALLOW_USER_HEADER is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
