// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/changi-qa/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	AllowedOrigins  []string
	LogLevel        string
	EnvFile         string
	WatchEnvFile    bool
	Backend         BackendConfig
	Ask             AskConfig
	StreamKeepalive time.Duration
}

// BackendConfig locates the RAG API and bounds calls to it.
type BackendConfig struct {
	BaseURL          string
	QueryPath        string
	HealthPath       string
	DefaultAPIKey    domain.Credential
	HealthTimeout    time.Duration
	QueryTimeout     time.Duration
	MaxResponseBytes int64
}

// AskConfig throttles question dispatch. RatePerMinute 0 disables it.
type AskConfig struct {
	RatePerMinute int
	Burst         int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		EnvFile:        EnvFile(),
		WatchEnvFile:   getEnvBool("WATCH_ENV_FILE", true),
		Backend: BackendConfig{
			BaseURL:          strings.TrimSuffix(getEnv("BACKEND_BASE_URL", "http://localhost:8000"), "/"),
			QueryPath:        getEnv("QUERY_PATH", "/api/qa"),
			HealthPath:       getEnv("HEALTH_PATH", "/api/health"),
			DefaultAPIKey:    domain.NewCredential(os.Getenv("GOOGLE_API_KEY")),
			HealthTimeout:    getEnvDuration("HEALTH_TIMEOUT", 15*time.Second),
			QueryTimeout:     getEnvDuration("QUERY_TIMEOUT", 45*time.Second),
			MaxResponseBytes: getEnvInt64("MAX_RESPONSE_BYTES", 10*1024*1024),
		},
		Ask: AskConfig{
			RatePerMinute: getEnvInt("ASK_RATE_PER_MINUTE", 20),
			Burst:         getEnvInt("ASK_RATE_BURST", 3),
		},
		StreamKeepalive: getEnvDuration("STREAM_KEEPALIVE", 20*time.Second),
	}

	// BACKEND_API_URL is the older single-endpoint form and wins when set.
	if legacy := strings.TrimSpace(os.Getenv("BACKEND_API_URL")); legacy != "" {
		base, queryPath, err := splitEndpoint(legacy)
		if err != nil {
			return nil, fmt.Errorf("invalid configuration: BACKEND_API_URL: %w", err)
		}
		cfg.Backend.BaseURL = base
		cfg.Backend.QueryPath = queryPath
		// Health sits beside the query endpoint unless set explicitly.
		if os.Getenv("HEALTH_PATH") == "" {
			cfg.Backend.HealthPath = path.Join(path.Dir(queryPath), "health")
		}
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
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BACKEND_BASE_URL must be an absolute http(s) URL, got %q", c.Backend.BaseURL)
	}
	if !strings.HasPrefix(c.Backend.QueryPath, "/") {
		return fmt.Errorf("QUERY_PATH must start with /, got %q", c.Backend.QueryPath)
	}
	if !strings.HasPrefix(c.Backend.HealthPath, "/") {
		return fmt.Errorf("HEALTH_PATH must start with /, got %q", c.Backend.HealthPath)
	}
	if c.Backend.HealthTimeout <= 0 {
		return fmt.Errorf("HEALTH_TIMEOUT must be > 0")
	}
	if c.Backend.QueryTimeout <= c.Backend.HealthTimeout {
		return fmt.Errorf("QUERY_TIMEOUT (%s) must exceed HEALTH_TIMEOUT (%s)", c.Backend.QueryTimeout, c.Backend.HealthTimeout)
	}
	if c.Backend.MaxResponseBytes <= 0 {
		return fmt.Errorf("MAX_RESPONSE_BYTES must be > 0")
	}
	if c.Ask.RatePerMinute < 0 {
		return fmt.Errorf("ASK_RATE_PER_MINUTE must be >= 0")
	}
	if c.Ask.RatePerMinute > 0 && c.Ask.Burst <= 0 {
		return fmt.Errorf("ASK_RATE_BURST must be > 0 when throttling is enabled")
	}
	if c.StreamKeepalive <= 0 {
		return fmt.Errorf("STREAM_KEEPALIVE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// splitEndpoint turns a full endpoint URL into a base URL and path.
func splitEndpoint(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("not an absolute URL: %q", raw)
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	return u.Scheme + "://" + u.Host, p, nil
}

// EnvFile returns the path of the optional env file, ENV_FILE or ".env".
func EnvFile() string {
	if path := strings.TrimSpace(os.Getenv("ENV_FILE")); path != "" {
		return path
	}
	return ".env"
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

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
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

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("15s") or bare seconds ("15").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
