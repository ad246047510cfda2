// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, the database path, rate limiting, observability and the settings
// of the reply pipeline (completion API, weather lookup, job queue and
// maintenance).
package config

import (
	"errors"
	"math"
	"net/url"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "chatbot-back")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// LLMConfig configures the OpenAI-compatible completion API.
type LLMConfig struct {
	APIKey        string        // LLM_API_KEY
	BaseURL       string        // LLM_BASE_URL, empty for the provider default
	Model         string        // LLM_MODEL
	MaxTokens     int           // LLM_MAX_TOKENS
	Temperature   float64       // LLM_TEMPERATURE in [0,2]
	Timeout       time.Duration // LLM_TIMEOUT per call
	Language      string        // LLM_LANGUAGE, the reply language
	HistoryWindow int           // HISTORY_WINDOW, prior messages sent as context
}

// WeatherConfig configures the geocoding and forecast endpoints.
type WeatherConfig struct {
	GeocodeURL   string        // WEATHER_GEOCODE_URL
	ForecastURL  string        // WEATHER_FORECAST_URL
	Timeout      time.Duration // WEATHER_TIMEOUT per request
	Language     string        // WEATHER_LANGUAGE for place names
	MaxFailures  uint32        // WEATHER_BREAKER_FAILURES before the breaker opens
	OpenInterval time.Duration // WEATHER_BREAKER_OPEN
}

// JobsConfig configures the asynchronous reply queue.
type JobsConfig struct {
	Workers       int           // JOB_WORKERS
	QueueSize     int           // JOB_QUEUE_SIZE
	MaxAttempts   int           // JOB_MAX_ATTEMPTS
	Timeout       time.Duration // JOB_TIMEOUT, wall clock per attempt
	RetryBackoff  time.Duration // JOB_RETRY_BACKOFF, first delay (doubles)
	MaxReplyRunes int           // MAX_REPLY_RUNES, 0 keeps replies whole
}

// MaintenanceConfig configures the periodic cleanup jobs.
type MaintenanceConfig struct {
	Interval            time.Duration // MAINTENANCE_INTERVAL, 0 disables
	SoftDeleteRetention time.Duration // SOFT_DELETE_RETENTION
	JobRetention        time.Duration // JOB_RETENTION for finished jobs
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

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath          string        // SQLite path
	DBSlowThreshold time.Duration // queries slower than this log at WARN
	MaxMessageRunes int           // MAX_MESSAGE_RUNES, user message cap
	ShutdownTimeout time.Duration // graceful drain of HTTP and workers

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig

	// Reply pipeline
	LLM         LLMConfig
	Weather     WeatherConfig
	Jobs        JobsConfig
	Maintenance MaintenanceConfig
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

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:          getenv("DB_PATH", "app.db"),
		DBSlowThreshold: getdur("DB_SLOW_THRESHOLD", 200*time.Millisecond),
		MaxMessageRunes: getint("MAX_MESSAGE_RUNES", 1000),
		ShutdownTimeout: getdur("SHUTDOWN_TIMEOUT", 15*time.Second),

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

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "chatbot-back"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},

		LLM: LLMConfig{
			APIKey:        getenv("LLM_API_KEY", ""),
			BaseURL:       getenv("LLM_BASE_URL", ""),
			Model:         getenv("LLM_MODEL", "gpt-4o-mini"),
			MaxTokens:     getint("LLM_MAX_TOKENS", 512),
			Temperature:   getfloat("LLM_TEMPERATURE", 0.7),
			Timeout:       getdur("LLM_TIMEOUT", 30*time.Second),
			Language:      getenv("LLM_LANGUAGE", "Spanish"),
			HistoryWindow: getint("HISTORY_WINDOW", 15),
		},
		Weather: WeatherConfig{
			GeocodeURL:   getenv("WEATHER_GEOCODE_URL", "https://geocoding-api.open-meteo.com"),
			ForecastURL:  getenv("WEATHER_FORECAST_URL", "https://api.open-meteo.com"),
			Timeout:      getdur("WEATHER_TIMEOUT", 30*time.Second),
			Language:     getenv("WEATHER_LANGUAGE", "es"),
			MaxFailures:  breakerThreshold(getint("WEATHER_BREAKER_FAILURES", 5)),
			OpenInterval: getdur("WEATHER_BREAKER_OPEN", 30*time.Second),
		},
		Jobs: JobsConfig{
			Workers:       getint("JOB_WORKERS", 4),
			QueueSize:     getint("JOB_QUEUE_SIZE", 256),
			MaxAttempts:   getint("JOB_MAX_ATTEMPTS", 3),
			Timeout:       getdur("JOB_TIMEOUT", 120*time.Second),
			RetryBackoff:  getdur("JOB_RETRY_BACKOFF", 2*time.Second),
			MaxReplyRunes: getint("MAX_REPLY_RUNES", 0),
		},
		Maintenance: MaintenanceConfig{
			Interval:            getdur("MAINTENANCE_INTERVAL", 10*time.Minute),
			SoftDeleteRetention: getdur("SOFT_DELETE_RETENTION", 30*24*time.Hour),
			JobRetention:        getdur("JOB_RETENTION", 7*24*time.Hour),
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
	if cfg.MaxMessageRunes < 1 {
		return cfg, errors.New("MAX_MESSAGE_RUNES must be >= 1")
	}
	if cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("SHUTDOWN_TIMEOUT must be > 0")
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
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	if err := cfg.validatePipeline(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (cfg Config) validatePipeline() error {
	switch {
	case strings.TrimSpace(cfg.LLM.Model) == "":
		return errors.New("LLM_MODEL must not be empty")
	case cfg.LLM.MaxTokens < 1:
		return errors.New("LLM_MAX_TOKENS must be >= 1")
	case cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2:
		return errors.New("LLM_TEMPERATURE must be in [0,2]")
	case cfg.LLM.Timeout <= 0:
		return errors.New("LLM_TIMEOUT must be > 0")
	case cfg.LLM.HistoryWindow < 0:
		return errors.New("HISTORY_WINDOW must be >= 0")
	case !isHTTPURL(cfg.Weather.GeocodeURL) || !isHTTPURL(cfg.Weather.ForecastURL):
		return errors.New("WEATHER_GEOCODE_URL and WEATHER_FORECAST_URL must be http(s) URLs")
	case cfg.Weather.Timeout <= 0:
		return errors.New("WEATHER_TIMEOUT must be > 0")
	case cfg.Weather.MaxFailures < 1:
		return errors.New("WEATHER_BREAKER_FAILURES must be >= 1")
	case cfg.Weather.OpenInterval <= 0:
		return errors.New("WEATHER_BREAKER_OPEN must be > 0")
	case cfg.Jobs.Workers < 1:
		return errors.New("JOB_WORKERS must be >= 1")
	case cfg.Jobs.QueueSize < 1:
		return errors.New("JOB_QUEUE_SIZE must be >= 1")
	case cfg.Jobs.MaxAttempts < 1:
		return errors.New("JOB_MAX_ATTEMPTS must be >= 1")
	case cfg.Jobs.Timeout <= 0:
		return errors.New("JOB_TIMEOUT must be > 0")
	case cfg.Jobs.RetryBackoff < 0:
		return errors.New("JOB_RETRY_BACKOFF must be >= 0")
	case cfg.Maintenance.Interval < 0:
		return errors.New("MAINTENANCE_INTERVAL must be >= 0")
	case cfg.Maintenance.SoftDeleteRetention <= 0 || cfg.Maintenance.JobRetention <= 0:
		return errors.New("SOFT_DELETE_RETENTION and JOB_RETENTION must be > 0")
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

// breakerThreshold maps n onto the breaker's counter type. Values outside
// [1, MaxUint32] become 0, which validation rejects.
func breakerThreshold(n int) uint32 {
	if n < 1 || uint64(n) > math.MaxUint32 {
		return 0
	}
	return uint32(n)
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
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
