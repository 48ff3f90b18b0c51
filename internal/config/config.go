// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, queue delivery policy,
// webhook validation, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-messaging-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// QueueConfig defines the delivery and retry policy for the outbound queue.
type QueueConfig struct {
	MaxRetries        int           // attempts before a message is moved to dead
	BackoffBase       time.Duration // delay before the first retry
	BackoffCap        time.Duration // ceiling for the exponential backoff
	BatchLimit        int           // rows claimed per worker pass
	SchedulerInterval time.Duration // how often the background worker wakes up
	StaleClaimAge     time.Duration // age after which a sending row is reclaimed
}

// BreakerConfig defines the circuit breaker guarding the message transport.
type BreakerConfig struct {
	Threshold    uint32        // consecutive failures before the circuit opens
	ResetTimeout time.Duration // open duration before probing resumes
	CallTimeout  time.Duration // per-send deadline
}

// ProviderConfig defines the downstream messaging provider endpoint. An empty
// URL selects the local log-only transport.
type ProviderConfig struct {
	URL     string        // provider send endpoint
	Token   string        // bearer token, optional
	Timeout time.Duration // per-request timeout
}

// WebhookConfig defines inbound webhook signature validation settings.
type WebhookConfig struct {
	Secret        string        // shared HMAC secret
	RequireSecret bool          // reject requests when no secret is configured
	MaxAge        time.Duration // accepted clock skew for signed timestamps
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath string // SQLite path

	// Delivery policy
	Queue    QueueConfig
	Breaker  BreakerConfig
	Provider ProviderConfig
	Webhook  WebhookConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "messaging.db"),

		// Delivery policy
		Queue: QueueConfig{
			MaxRetries:        getint("QUEUE_MAX_RETRIES", 5),
			BackoffBase:       getdur("QUEUE_BACKOFF_BASE", 30*time.Second),
			BackoffCap:        getdur("QUEUE_BACKOFF_CAP", time.Hour),
			BatchLimit:        getint("QUEUE_BATCH_LIMIT", 10),
			SchedulerInterval: getdur("QUEUE_SCHEDULER_INTERVAL", 30*time.Second),
			StaleClaimAge:     getdur("QUEUE_STALE_CLAIM_AGE", 5*time.Minute),
		},
		Breaker: BreakerConfig{
			Threshold:    uint32(getint("BREAKER_THRESHOLD", 5)),
			ResetTimeout: getdur("BREAKER_RESET_TIMEOUT", 30*time.Second),
			CallTimeout:  getdur("BREAKER_CALL_TIMEOUT", 10*time.Second),
		},
		Provider: ProviderConfig{
			URL:     getenv("PROVIDER_URL", ""),
			Token:   getenv("PROVIDER_TOKEN", ""),
			Timeout: getdur("PROVIDER_TIMEOUT", 10*time.Second),
		},
		Webhook: WebhookConfig{
			Secret:        getenv("WEBHOOK_SECRET", ""),
			RequireSecret: getbool("WEBHOOK_REQUIRE_SECRET", false),
			MaxAge:        getdur("WEBHOOK_MAX_AGE", 300*time.Second),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-messaging-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.Queue.MaxRetries < 1 {
		return cfg, errors.New("QUEUE_MAX_RETRIES must be >= 1")
	}
	if cfg.Queue.BackoffBase <= 0 || cfg.Queue.BackoffCap <= 0 {
		return cfg, errors.New("queue backoff durations must be > 0")
	}
	if cfg.Queue.BackoffCap < cfg.Queue.BackoffBase {
		return cfg, errors.New("QUEUE_BACKOFF_CAP must be >= QUEUE_BACKOFF_BASE")
	}
	if cfg.Queue.BatchLimit < 1 {
		return cfg, errors.New("QUEUE_BATCH_LIMIT must be >= 1")
	}
	if cfg.Queue.SchedulerInterval <= 0 {
		return cfg, errors.New("QUEUE_SCHEDULER_INTERVAL must be > 0")
	}
	if cfg.Queue.StaleClaimAge <= 0 {
		return cfg, errors.New("QUEUE_STALE_CLAIM_AGE must be > 0")
	}
	if cfg.Breaker.Threshold < 1 {
		return cfg, errors.New("BREAKER_THRESHOLD must be >= 1")
	}
	if cfg.Breaker.ResetTimeout <= 0 || cfg.Breaker.CallTimeout <= 0 {
		return cfg, errors.New("breaker durations must be > 0")
	}
	if cfg.Provider.URL != "" && cfg.Provider.Timeout <= 0 {
		return cfg, errors.New("PROVIDER_TIMEOUT must be > 0 when PROVIDER_URL is set")
	}
	if cfg.Webhook.RequireSecret && strings.TrimSpace(cfg.Webhook.Secret) == "" {
		return cfg, errors.New("WEBHOOK_SECRET must be set when WEBHOOK_REQUIRE_SECRET is true")
	}
	if cfg.Webhook.MaxAge <= 0 {
		return cfg, errors.New("WEBHOOK_MAX_AGE must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
