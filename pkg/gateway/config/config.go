// Package config loads the gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// WorkOS session-JWT verification. Both must be set to enable it; API
	// keys keep working alongside.
	WorkOSAPIKey   string
	WorkOSClientID string

	// Postgres connection string for conversation history and voice session
	// accounting.
	DatabaseURL string

	// Text model backend.
	ModelAPIKey string
	ModelID     string

	// Realtime voice backend.
	RealtimeAPIKey  string
	RealtimeBaseURL string
	RealtimeModel   string
	RealtimeVoice   string

	// Portal API that executes the business tools.
	PortalBaseURL string
	PortalAPIKey  string

	// Voice accounting.
	VoiceRatePerMinute float64

	// Optional Stripe usage reporting at session end.
	StripeAPIKey    string
	StripeMeterName string

	// Request shape limits.
	MaxBodyBytes       int64
	MaxMessageChars    int
	MaxHistoryMessages int
	MaxToolIterations  int

	// Per-principal rate limits. Zero values disable the corresponding check.
	RateRPS               float64
	RateBurst             int
	MaxConcurrentRequests int
	MaxConcurrentStreams  int

	// CORS. Empty => disabled.
	CORSAllowedOrigins map[string]struct{}

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	UpstreamTimeout     time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("FOREMAN_ADDR", ":8080"),
		AuthMode:              AuthMode(envOr("FOREMAN_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:               make(map[string]struct{}),
		WorkOSAPIKey:          strings.TrimSpace(os.Getenv("FOREMAN_WORKOS_API_KEY")),
		WorkOSClientID:        strings.TrimSpace(os.Getenv("FOREMAN_WORKOS_CLIENT_ID")),
		DatabaseURL:           strings.TrimSpace(os.Getenv("FOREMAN_DATABASE_URL")),
		ModelAPIKey:           strings.TrimSpace(os.Getenv("FOREMAN_MODEL_API_KEY")),
		ModelID:               envOr("FOREMAN_MODEL_ID", "gemini-2.0-flash"),
		RealtimeAPIKey:        strings.TrimSpace(os.Getenv("FOREMAN_REALTIME_API_KEY")),
		RealtimeBaseURL:       envOr("FOREMAN_REALTIME_BASE_URL", "https://api.openai.com/v1/realtime"),
		RealtimeModel:         envOr("FOREMAN_REALTIME_MODEL", "gpt-4o-mini-realtime-preview-2024-12-17"),
		RealtimeVoice:         envOr("FOREMAN_REALTIME_VOICE", "echo"),
		PortalBaseURL:         strings.TrimSpace(os.Getenv("FOREMAN_PORTAL_BASE_URL")),
		PortalAPIKey:          strings.TrimSpace(os.Getenv("FOREMAN_PORTAL_API_KEY")),
		VoiceRatePerMinute:    envFloat64Or("FOREMAN_VOICE_RATE_PER_MINUTE", 0.30),
		StripeAPIKey:          strings.TrimSpace(os.Getenv("FOREMAN_STRIPE_API_KEY")),
		StripeMeterName:       envOr("FOREMAN_STRIPE_METER_NAME", "voice_minutes"),
		MaxBodyBytes:          envInt64Or("FOREMAN_MAX_BODY_BYTES", 1<<20), // 1 MiB
		MaxMessageChars:       envIntOr("FOREMAN_MAX_MESSAGE_CHARS", 4000),
		MaxHistoryMessages:    envIntOr("FOREMAN_MAX_HISTORY_MESSAGES", 50),
		MaxToolIterations:     envIntOr("FOREMAN_MAX_TOOL_ITERATIONS", 5),
		RateRPS:               envFloat64Or("FOREMAN_RATE_RPS", 0),
		RateBurst:             envIntOr("FOREMAN_RATE_BURST", 0),
		MaxConcurrentRequests: envIntOr("FOREMAN_MAX_CONCURRENT_REQUESTS", 0),
		MaxConcurrentStreams:  envIntOr("FOREMAN_MAX_CONCURRENT_STREAMS", 0),
		CORSAllowedOrigins:    make(map[string]struct{}),
		ReadHeaderTimeout:     envDurationOr("FOREMAN_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:           envDurationOr("FOREMAN_READ_TIMEOUT", 30*time.Second),
		UpstreamTimeout:       envDurationOr("FOREMAN_UPSTREAM_TIMEOUT", 60*time.Second),
		ShutdownGracePeriod:   envDurationOr("FOREMAN_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("FOREMAN_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("FOREMAN_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("FOREMAN_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("FOREMAN_DATABASE_URL must be set")
	}
	if cfg.ModelAPIKey == "" {
		return Config{}, fmt.Errorf("FOREMAN_MODEL_API_KEY must be set")
	}
	if cfg.RealtimeAPIKey == "" {
		return Config{}, fmt.Errorf("FOREMAN_REALTIME_API_KEY must be set")
	}
	if cfg.PortalBaseURL == "" {
		return Config{}, fmt.Errorf("FOREMAN_PORTAL_BASE_URL must be set")
	}
	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 && !cfg.WorkOSEnabled() {
		return Config{}, fmt.Errorf("FOREMAN_API_KEYS or WorkOS credentials must be set when FOREMAN_AUTH_MODE=required")
	}
	if (cfg.WorkOSAPIKey == "") != (cfg.WorkOSClientID == "") {
		return Config{}, fmt.Errorf("FOREMAN_WORKOS_API_KEY and FOREMAN_WORKOS_CLIENT_ID must be set together")
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("FOREMAN_MAX_BODY_BYTES must be > 0")
	}
	if cfg.MaxMessageChars <= 0 {
		return Config{}, fmt.Errorf("FOREMAN_MAX_MESSAGE_CHARS must be > 0")
	}
	if cfg.MaxHistoryMessages <= 0 {
		return Config{}, fmt.Errorf("FOREMAN_MAX_HISTORY_MESSAGES must be > 0")
	}
	if cfg.MaxToolIterations <= 0 {
		return Config{}, fmt.Errorf("FOREMAN_MAX_TOOL_ITERATIONS must be > 0")
	}
	if cfg.VoiceRatePerMinute < 0 {
		return Config{}, fmt.Errorf("FOREMAN_VOICE_RATE_PER_MINUTE must be >= 0")
	}
	if cfg.RateRPS < 0 || cfg.RateBurst < 0 {
		return Config{}, fmt.Errorf("FOREMAN_RATE_RPS and FOREMAN_RATE_BURST must be >= 0")
	}
	if cfg.MaxConcurrentRequests < 0 || cfg.MaxConcurrentStreams < 0 {
		return Config{}, fmt.Errorf("FOREMAN_MAX_CONCURRENT_REQUESTS and FOREMAN_MAX_CONCURRENT_STREAMS must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("FOREMAN_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("FOREMAN_READ_TIMEOUT must be > 0")
	}
	if cfg.UpstreamTimeout <= 0 {
		return Config{}, fmt.Errorf("FOREMAN_UPSTREAM_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("FOREMAN_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// WorkOSEnabled reports whether session-JWT verification is configured.
func (c Config) WorkOSEnabled() bool {
	return c.WorkOSAPIKey != "" && c.WorkOSClientID != ""
}

// StripeEnabled reports whether usage reporting is configured.
func (c Config) StripeEnabled() bool {
	return c.StripeAPIKey != "" && c.StripeMeterName != ""
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
