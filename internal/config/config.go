// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, the credential store, token signing, the answer-worker bridge,
// rate limiting, and observability settings.
//
// Configuration is read once at startup. Anything security relevant (the
// signing secret, the store coordinates, the worker command) is required:
// Load returns an error instead of silently degrading.
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
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AuthConfig holds token signing and password policy settings.
type AuthConfig struct {
	JWTSecret         string        // JWT_SECRET (required, >= 32 bytes)
	TokenTTL          time.Duration // TOKEN_TTL
	MinPasswordLength int           // MIN_PASSWORD_LENGTH
	BcryptCost        int           // BCRYPT_COST
}

// DBConfig selects and locates the credential store.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // DB_PATH (sqlite)
	URL    string // DATABASE_URL (postgres)
}

// WorkerConfig describes how answer workers are spawned and bounded.
type WorkerConfig struct {
	Command        string        // WORKER_COMMAND, e.g. "python3"
	Args           []string      // WORKER_ARGS, prepended before the question
	Dir            string        // WORKER_DIR, working directory (optional)
	Timeout        time.Duration // WORKER_TIMEOUT
	MaxConcurrent  int           // WORKER_MAX_CONCURRENT
	QueueTimeout   time.Duration // WORKER_QUEUE_TIMEOUT (0 = reject when full)
	MaxOutputBytes int           // WORKER_MAX_OUTPUT_BYTES per stream
	EnvPassthrough []string      // WORKER_ENV_PASSTHROUGH
	ProbeQuestion  string        // WORKER_PROBE_QUESTION
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // must outlive Worker.Timeout
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration // graceful drain window
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	LogHeaders     bool   // dump (redacted) request headers per request
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	Auth   AuthConfig
	DB     DBConfig
	Worker WorkerConfig

	// Rate limiting (protected routes, keyed by user)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)
	// Rate limiting (register/login, keyed by client IP)
	AuthRateRPS   float64
	AuthRateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// minSecretLen is the shortest HS256 signing secret accepted at startup.
const minSecretLen = 32

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
		Port:              getenv("PORT", "3000"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 45*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 20*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		LogHeaders:     getbool("LOG_HEADERS", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		Auth: AuthConfig{
			JWTSecret:         os.Getenv("JWT_SECRET"),
			TokenTTL:          getdur("TOKEN_TTL", 24*time.Hour),
			MinPasswordLength: getint("MIN_PASSWORD_LENGTH", 6),
			BcryptCost:        getint("BCRYPT_COST", 10),
		},
		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "app.db"),
			URL:    getenv("DATABASE_URL", ""),
		},
		Worker: WorkerConfig{
			Command:        strings.TrimSpace(getenv("WORKER_COMMAND", "")),
			Args:           splitCSV(getenv("WORKER_ARGS", "")),
			Dir:            getenv("WORKER_DIR", ""),
			Timeout:        getdur("WORKER_TIMEOUT", 30*time.Second),
			MaxConcurrent:  getint("WORKER_MAX_CONCURRENT", 8),
			QueueTimeout:   getdur("WORKER_QUEUE_TIMEOUT", 0),
			MaxOutputBytes: getint("WORKER_MAX_OUTPUT_BYTES", 1<<20),
			EnvPassthrough: splitCSV(getenv("WORKER_ENV_PASSTHROUGH", "")),
			ProbeQuestion:  getenv("WORKER_PROBE_QUESTION", "test"),
		},

		// Rate limiting
		RateRPS:       getfloat("RATE_RPS", 5.0),
		RateBurst:     getint("RATE_BURST", 10),
		AuthRateRPS:   getfloat("AUTH_RATE_RPS", 1.0),
		AuthRateBurst: getint("AUTH_RATE_BURST", 5),

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
			ServiceName: getenv("OTEL_SERVICE_NAME", "compass-backend"),
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
	if cfg.DB.Driver == "postgresql" || cfg.DB.Driver == "pgx" {
		cfg.DB.Driver = "postgres"
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the invariants Load relies on. It is exported so callers
// that build a Config by hand (tests, embedded use) get the same guarantees.
func (cfg Config) Validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be > 0")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}

	// Auth
	if cfg.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	if len(cfg.Auth.JWTSecret) < minSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minSecretLen)
	}
	if cfg.Auth.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be > 0")
	}
	if cfg.Auth.MinPasswordLength < 1 || cfg.Auth.MinPasswordLength > 72 {
		return errors.New("MIN_PASSWORD_LENGTH must be between 1 and 72")
	}
	if cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31 {
		return errors.New("BCRYPT_COST must be between 4 and 31")
	}

	// Store
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return errors.New("DATABASE_URL must be set when DB_DRIVER=postgres")
		}
	default:
		return errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}

	// Worker
	if cfg.Worker.Command == "" {
		return errors.New("WORKER_COMMAND must be set")
	}
	if cfg.Worker.Timeout <= 0 {
		return errors.New("WORKER_TIMEOUT must be > 0")
	}
	if cfg.WriteTimeout <= cfg.Worker.Timeout {
		return errors.New("WRITE_TIMEOUT must be greater than WORKER_TIMEOUT")
	}
	if cfg.Worker.MaxConcurrent < 1 {
		return errors.New("WORKER_MAX_CONCURRENT must be >= 1")
	}
	if cfg.Worker.QueueTimeout < 0 {
		return errors.New("WORKER_QUEUE_TIMEOUT must be >= 0")
	}
	if cfg.Worker.MaxOutputBytes < 1024 {
		return errors.New("WORKER_MAX_OUTPUT_BYTES must be >= 1024")
	}
	if strings.TrimSpace(cfg.Worker.ProbeQuestion) == "" {
		return errors.New("WORKER_PROBE_QUESTION must not be empty")
	}

	// Rate limiting
	if cfg.RateRPS < 0 || cfg.AuthRateRPS < 0 {
		return errors.New("RATE_RPS and AUTH_RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 || cfg.AuthRateBurst < 1 {
		return errors.New("RATE_BURST and AUTH_RATE_BURST must be >= 1")
	}

	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
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
