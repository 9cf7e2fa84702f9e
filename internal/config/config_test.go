package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// setRequired provides the env vars that have no safe default.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("WORKER_COMMAND", "python3")
}

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	setRequired(t)
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_PanicsWithoutSecret(t *testing.T) {
	t.Setenv("WORKER_COMMAND", "python3")
	t.Setenv("JWT_SECRET", "")
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("MustLoad should panic when JWT_SECRET is missing")
		}
		if err, ok := r.(error); !ok || !strings.Contains(err.Error(), "JWT_SECRET") {
			t.Fatalf("unexpected panic value: %v", r)
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	setRequired(t)

	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "40s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging / Docs
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("LOG_HEADERS", "1")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v1/") // no leading slash + trailing slash -> "/api/v1"

	// Auth
	t.Setenv("TOKEN_TTL", "2h")
	t.Setenv("MIN_PASSWORD_LENGTH", "8")
	t.Setenv("BCRYPT_COST", "4")

	// Store
	t.Setenv("DB_DRIVER", "PostgreSQL")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/app")

	// Worker
	t.Setenv("WORKER_ARGS", "ai-backend/api/chatbot_api.py, -u")
	t.Setenv("WORKER_DIR", "/srv")
	t.Setenv("WORKER_TIMEOUT", "20s")
	t.Setenv("WORKER_MAX_CONCURRENT", "3")
	t.Setenv("WORKER_QUEUE_TIMEOUT", "250ms")
	t.Setenv("WORKER_MAX_OUTPUT_BYTES", "4096")
	t.Setenv("WORKER_ENV_PASSTHROUGH", "OPENAI_API_KEY,HF_HOME")
	t.Setenv("WORKER_PROBE_QUESTION", "ping")

	// Rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 5.0
	t.Setenv("RATE_BURST", "nope") // -> default 10
	t.Setenv("AUTH_RATE_RPS", "0.5")
	t.Setenv("AUTH_RATE_BURST", "3")

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Server
	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 40*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.ShutdownTimeout != 5*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	// Logging / Docs
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.LogHeaders || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}

	// Auth
	if cfg.Auth.JWTSecret != testSecret || cfg.Auth.TokenTTL != 2*time.Hour ||
		cfg.Auth.MinPasswordLength != 8 || cfg.Auth.BcryptCost != 4 {
		t.Fatalf("auth unexpected: %+v", cfg.Auth)
	}

	// Store
	if cfg.DB.Driver != "postgres" || cfg.DB.URL != "postgres://u:p@db:5432/app" {
		t.Fatalf("db unexpected: %+v", cfg.DB)
	}

	// Worker
	w := cfg.Worker
	if w.Command != "python3" ||
		!reflect.DeepEqual(w.Args, []string{"ai-backend/api/chatbot_api.py", "-u"}) ||
		w.Dir != "/srv" || w.Timeout != 20*time.Second || w.MaxConcurrent != 3 ||
		w.QueueTimeout != 250*time.Millisecond || w.MaxOutputBytes != 4096 ||
		!reflect.DeepEqual(w.EnvPassthrough, []string{"OPENAI_API_KEY", "HF_HOME"}) ||
		w.ProbeQuestion != "ping" {
		t.Fatalf("worker unexpected: %+v", w)
	}

	// Rate limiting (parse fallback to defaults)
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 || cfg.AuthRateRPS != 0.5 || cfg.AuthRateBurst != 3 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}

	// Web protection
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"invalid LOG_LEVEL", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"empty PORT via spaces", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"non-positive timeouts", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"shutdown timeout", map[string]string{"SHUTDOWN_TIMEOUT": "0s"}, "SHUTDOWN_TIMEOUT"},
		{"max header bytes <= 0", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"secret missing", map[string]string{"JWT_SECRET": ""}, "JWT_SECRET must be set"},
		{"secret short", map[string]string{"JWT_SECRET": "short"}, "at least 32 bytes"},
		{"token ttl", map[string]string{"TOKEN_TTL": "-1h"}, "TOKEN_TTL"},
		{"min password", map[string]string{"MIN_PASSWORD_LENGTH": "0"}, "MIN_PASSWORD_LENGTH"},
		{"bcrypt cost", map[string]string{"BCRYPT_COST": "2"}, "BCRYPT_COST"},
		{"empty DB_PATH", map[string]string{"DB_PATH": "   "}, "DB_PATH must not be empty"},
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres"}, "DATABASE_URL"},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"worker command missing", map[string]string{"WORKER_COMMAND": " "}, "WORKER_COMMAND"},
		{"worker timeout", map[string]string{"WORKER_TIMEOUT": "0s"}, "WORKER_TIMEOUT must be > 0"},
		{"write timeout too short", map[string]string{"WRITE_TIMEOUT": "10s", "WORKER_TIMEOUT": "30s"}, "WRITE_TIMEOUT must be greater"},
		{"worker concurrency", map[string]string{"WORKER_MAX_CONCURRENT": "0"}, "WORKER_MAX_CONCURRENT"},
		{"worker queue timeout", map[string]string{"WORKER_QUEUE_TIMEOUT": "-1s"}, "WORKER_QUEUE_TIMEOUT"},
		{"worker output cap", map[string]string{"WORKER_MAX_OUTPUT_BYTES": "10"}, "WORKER_MAX_OUTPUT_BYTES"},
		{"rate rps negative", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"rate burst < 1", map[string]string{"AUTH_RATE_BURST": "0"}, "RATE_BURST"},
		{"hsts max age negative", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"otel sample ratio out of range", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected error containing %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestValidate_HandBuiltConfig(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config should validate: %v", err)
	}
	cfg.Worker.MaxConcurrent = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for MaxConcurrent=0")
	}
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	trueVals := []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"}
	for i, v := range trueVals {
		k := "B_T_" + keySuffix(i)
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	falseVals := []string{"0", "false", "FALSE", " no ", "N", "off", "Off"}
	for i, v := range falseVals {
		k := "B_F_" + keySuffix(i)
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	// default on unset/empty
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	in := " a, ,b ,  c  ,"
	want := []string{"a", "b", "c"}
	if got := splitCSV(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("splitCSV mismatch: got %#v want %#v", got, want)
	}

	if normalizeBasePath("") != "/" {
		t.Fatalf("normalizeBasePath empty -> '/' failed")
	}
	if normalizeBasePath("v1") != "/v1" {
		t.Fatalf("normalizeBasePath missing leading slash failed")
	}
	if normalizeBasePath("/v1/") != "/v1" {
		t.Fatalf("normalizeBasePath trailing slash trim failed")
	}
	if normalizeBasePath(" / ") != "/" {
		t.Fatalf("normalizeBasePath whitespace failed")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.APIBasePath != "/api" {
		t.Fatalf("API_BASE_PATH default expected '/api', got %q", cfg.APIBasePath)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour || cfg.Auth.MinPasswordLength != 6 || cfg.Auth.BcryptCost != 10 {
		t.Fatalf("auth defaults unexpected: %+v", cfg.Auth)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.Path != "app.db" {
		t.Fatalf("db defaults unexpected: %+v", cfg.DB)
	}
	if cfg.Worker.Timeout != 30*time.Second || cfg.Worker.MaxConcurrent != 8 ||
		cfg.Worker.QueueTimeout != 0 || cfg.Worker.ProbeQuestion != "test" {
		t.Fatalf("worker defaults unexpected: %+v", cfg.Worker)
	}
	if cfg.WriteTimeout <= cfg.Worker.Timeout {
		t.Fatalf("default WRITE_TIMEOUT must exceed WORKER_TIMEOUT")
	}
}

// small helper (avoid fmt just for ints)
func keySuffix(i int) string { return string('a' + rune(i)) }

// Ensure tests don't leak env to others.
func TestMain(m *testing.M) {
	for _, k := range []string{"PORT", "JWT_SECRET", "WORKER_COMMAND", "DB_DRIVER", "DATABASE_URL"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
