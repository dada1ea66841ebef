// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, the coordination store,
// cache TTLs, rate-limit budgets, CSRF, signing keys, and observability.
package config

import (
	"errors"
	"fmt"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-cert-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Budget is a rate-limit allowance: Points requests per Window.
type Budget struct {
	Points int
	Window time.Duration
}

// String renders the budget in the same "points/window" form it is parsed from.
func (b Budget) String() string { return fmt.Sprintf("%d/%s", b.Points, b.Window) }

// RateLimitConfig holds one budget per route class.
type RateLimitConfig struct {
	Default            Budget // RATE_LIMIT_DEFAULT
	Auth               Budget // RATE_LIMIT_AUTH
	Verification       Budget // RATE_LIMIT_VERIFICATION
	UserManagement     Budget // RATE_LIMIT_USER_MANAGEMENT
	TemplateManagement Budget // RATE_LIMIT_TEMPLATE_MANAGEMENT
}

// CacheConfig holds response/verification cache TTLs and the optional
// process-local secondary layer.
type CacheConfig struct {
	ListTTL      time.Duration // list endpoints
	ItemTTL      time.Duration // single-resource lookups
	VerifyTTL    time.Duration // verification results
	ReferenceTTL time.Duration // slow-changing reference data

	InvalidationChannel string

	LocalEnabled bool
	LocalSize    int
	LocalTTL     time.Duration
}

// CSRFConfig configures the CSRF token store.
type CSRFConfig struct {
	TTL       time.Duration
	SingleUse bool
}

// BreakerConfig configures the circuit breaker in front of the coordination store.
type BreakerConfig struct {
	Failures uint32        // consecutive failures before opening
	Timeout  time.Duration // open → half-open delay
}

// KafkaConfig configures the optional audit fan-out.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
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
	Environment       string        // development|production

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Persistence / coordination
	DBPath   string // SQLite path
	RedisURL string // empty means in-memory coordination (single instance)

	// Identity / integrity
	JWTSecret      string // HS256 secret for bearer tokens
	SigningKeySeed string // hex ed25519 seed; empty means ephemeral

	// Web protection
	CORS      CORSConfig
	Security  SecurityConfig
	RateLimit RateLimitConfig
	CSRF      CSRFConfig

	Cache   CacheConfig
	Breaker BreakerConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is honored

	Kafka KafkaConfig

	// Observability
	OTEL OTELConfig
}

// Production reports whether the service runs with production hardening.
func (c Config) Production() bool { return c.Environment == "production" }

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
		Environment:       strings.ToLower(getenv("APP_ENV", "development")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DBPath:   getenv("DB_PATH", "app.db"),
		RedisURL: getenv("REDIS_URL", ""),

		JWTSecret:      getenv("JWT_SECRET", ""),
		SigningKeySeed: getenv("SIGNING_KEY_SEED", ""),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},
		CSRF: CSRFConfig{
			TTL:       getdur("CSRF_TTL", time.Hour),
			SingleUse: getbool("CSRF_SINGLE_USE", false),
		},

		Cache: CacheConfig{
			ListTTL:             getdur("CACHE_TTL_LIST", 5*time.Minute),
			ItemTTL:             getdur("CACHE_TTL_ITEM", 10*time.Minute),
			VerifyTTL:           getdur("CACHE_TTL_VERIFY", time.Hour),
			ReferenceTTL:        getdur("CACHE_TTL_REFERENCE", 24*time.Hour),
			InvalidationChannel: getenv("CACHE_INVALIDATION_CHANNEL", "cache:invalidate"),
			LocalEnabled:        getbool("LOCAL_CACHE_ENABLED", false),
			LocalSize:           getint("LOCAL_CACHE_SIZE", 1024),
			LocalTTL:            getdur("LOCAL_CACHE_TTL", 30*time.Second),
		},
		Breaker: BreakerConfig{
			Failures: uint32(getint("BREAKER_FAILURES", 5)),
			Timeout:  getdur("BREAKER_TIMEOUT", 10*time.Second),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		Kafka: KafkaConfig{
			Brokers:    splitCSV(getenv("KAFKA_BROKERS", "")),
			AuditTopic: getenv("KAFKA_AUDIT_TOPIC", "certificate-audit"),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-cert-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	var err error
	budgets := []struct {
		env string
		def string
		dst *Budget
	}{
		{"RATE_LIMIT_DEFAULT", "100/1m", &cfg.RateLimit.Default},
		{"RATE_LIMIT_AUTH", "10/1m", &cfg.RateLimit.Auth},
		{"RATE_LIMIT_VERIFICATION", "300/1m", &cfg.RateLimit.Verification},
		{"RATE_LIMIT_USER_MANAGEMENT", "30/1m", &cfg.RateLimit.UserManagement},
		{"RATE_LIMIT_TEMPLATE_MANAGEMENT", "30/1m", &cfg.RateLimit.TemplateManagement},
	}
	for _, b := range budgets {
		if *b.dst, err = ParseBudget(getenv(b.env, b.def)); err != nil {
			return cfg, fmt.Errorf("%s: %w", b.env, err)
		}
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
	if cfg.Environment == "prod" {
		cfg.Environment = "production"
	}
	cfg.Security.EnableHSTS = getbool("ENABLE_HSTS", cfg.Production())

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	switch cfg.Environment {
	case "development", "production", "test":
	default:
		return cfg, errors.New("APP_ENV must be one of: development, production, test")
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
	if cfg.Production() && strings.TrimSpace(cfg.JWTSecret) == "" {
		return cfg, errors.New("JWT_SECRET is required in production")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.CSRF.TTL <= 0 {
		return cfg, errors.New("CSRF_TTL must be > 0")
	}
	if cfg.Cache.ListTTL <= 0 || cfg.Cache.ItemTTL <= 0 || cfg.Cache.VerifyTTL <= 0 || cfg.Cache.ReferenceTTL <= 0 {
		return cfg, errors.New("cache TTLs must be positive durations")
	}
	if strings.TrimSpace(cfg.Cache.InvalidationChannel) == "" {
		return cfg, errors.New("CACHE_INVALIDATION_CHANNEL must not be empty")
	}
	if cfg.Cache.LocalEnabled && (cfg.Cache.LocalSize < 1 || cfg.Cache.LocalTTL <= 0) {
		return cfg, errors.New("LOCAL_CACHE_SIZE must be >= 1 and LOCAL_CACHE_TTL > 0")
	}
	if cfg.Breaker.Failures < 1 || cfg.Breaker.Timeout <= 0 {
		return cfg, errors.New("BREAKER_FAILURES must be >= 1 and BREAKER_TIMEOUT > 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ParseBudget parses "points/window", e.g. "100/1m" or "5/15m".
func ParseBudget(s string) (Budget, error) {
	pts, win, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Budget{}, fmt.Errorf("budget %q must look like <points>/<window>", s)
	}
	n, err := strconv.Atoi(strings.TrimSpace(pts))
	if err != nil || n < 1 {
		return Budget{}, fmt.Errorf("budget %q: points must be an integer >= 1", s)
	}
	d, err := time.ParseDuration(strings.TrimSpace(win))
	if err != nil || d < time.Second {
		return Budget{}, fmt.Errorf("budget %q: window must be a duration >= 1s", s)
	}
	return Budget{Points: n, Window: d}, nil
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
