package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete service configuration. It is loaded once at startup
// and treated as immutable for the process lifetime; changing the council
// requires a restart.
type Config struct {
	// Server HTTP server configuration
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Council membership and pipeline configuration
	Council CouncilConfig `yaml:"council" env:"COUNCIL"`

	// OpenRouter upstream client configuration
	OpenRouter OpenRouterConfig `yaml:"openrouter" env:"OPENROUTER"`

	// Database usage-record store configuration
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis quota-counter configuration
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Quota per-caller monthly token caps
	Quota QuotaConfig `yaml:"quota" env:"QUOTA"`

	// Pricing per-model USD prices per 1M tokens (YAML only)
	Pricing map[string]ModelPricing `yaml:"pricing" env:"-"`

	// Log logging configuration
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry OTel configuration
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// HTTP port
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics port
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// Read timeout
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// Write timeout. Must cover a full streamed turn; see worst-case note
	// on CouncilConfig.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// Allowed CORS origins
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// Rate limit requests per second per client
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// Rate limit burst
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// CouncilConfig holds the council membership. The member order is
// significant: aggregate-ranking ties break toward the first-listed model.
//
// Worst-case wall time for one turn is
// (stage1 + stage2 + stage3 timeouts) x (1 + max retries).
type CouncilConfig struct {
	// Ordered council member model identifiers
	Members []string `yaml:"members" env:"MEMBERS"`
	// Chairman model identifier (synthesizes the final answer)
	Chairman string `yaml:"chairman" env:"CHAIRMAN"`
	// Utility model for conversation titles
	TitleModel string `yaml:"title_model" env:"TITLE_MODEL"`
	// Per-call timeouts by mode
	Modes ModeTimeouts `yaml:"modes" env:"MODES"`
}

// ModeTimeouts maps request modes to per-provider-call deadlines.
type ModeTimeouts struct {
	Fast     time.Duration `yaml:"fast" env:"FAST"`
	Balanced time.Duration `yaml:"balanced" env:"BALANCED"`
	Thorough time.Duration `yaml:"thorough" env:"THOROUGH"`
}

// TimeoutForMode returns the per-call deadline for the given mode, falling
// back to balanced for unknown modes.
func (m ModeTimeouts) TimeoutForMode(mode string) time.Duration {
	switch mode {
	case "fast":
		return m.Fast
	case "thorough":
		return m.Thorough
	default:
		return m.Balanced
	}
}

// OpenRouterConfig holds the upstream chat-completion client configuration.
type OpenRouterConfig struct {
	// API key (Bearer)
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// Chat completions endpoint
	APIURL string `yaml:"api_url" env:"API_URL"`
	// Default per-call timeout
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Max retries for transient failures
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// Initial retry backoff
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" env:"RETRY_BASE_DELAY"`
	// Max concurrent in-flight upstream calls
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// Fail-fast window after an upstream 401/403
	AuthCooldown time.Duration `yaml:"auth_cooldown" env:"AUTH_COOLDOWN"`
	// Client-side request pacing, requests per second (0 = unlimited)
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
}

// DatabaseConfig holds the usage store configuration.
type DatabaseConfig struct {
	// Driver type: sqlite, postgres, mysql
	Driver string `yaml:"driver" env:"DRIVER"`
	// Host
	Host string `yaml:"host" env:"HOST"`
	// Port
	Port int `yaml:"port" env:"PORT"`
	// User
	User string `yaml:"user" env:"USER"`
	// Password
	Password string `yaml:"password" env:"PASSWORD"`
	// Database name (file path for sqlite)
	Name string `yaml:"name" env:"NAME"`
	// SSL mode (postgres)
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// Max open connections
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// Max idle connections
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// Connection max lifetime
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// DSN returns the database connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// RedisConfig holds the Redis connection configuration.
type RedisConfig struct {
	// Address
	Addr string `yaml:"addr" env:"ADDR"`
	// Password
	Password string `yaml:"password" env:"PASSWORD"`
	// Database number
	DB int `yaml:"db" env:"DB"`
	// Connection pool size
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// Min idle connections
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// QuotaConfig holds the per-caller monthly token quota configuration.
type QuotaConfig struct {
	// Backend: db (authoritative usage-record sums) or redis (atomic counter)
	Backend string `yaml:"backend" env:"BACKEND"`
	// MonthlyTokenCaps maps caller key id to monthly token cap.
	// Callers absent from the map are unbounded. (YAML only)
	MonthlyTokenCaps map[string]int64 `yaml:"monthly_token_caps" env:"-"`
}

// CapFor returns the monthly token cap for a caller key and whether one is
// configured.
func (q QuotaConfig) CapFor(callerKey string) (int64, bool) {
	limit, ok := q.MonthlyTokenCaps[callerKey]
	return limit, ok
}

// ModelPricing holds per-1M-token USD prices for one model.
type ModelPricing struct {
	PromptPer1M     float64 `yaml:"prompt_per_1m"`
	CompletionPer1M float64 `yaml:"completion_per_1m"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// Output paths
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// Include caller information
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// Include stack traces on errors
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig holds the OTel configuration.
type TelemetryConfig struct {
	// Enabled toggles the whole SDK; disabled means noop providers
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP gRPC endpoint
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// Service name
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// Trace sample rate
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate checks the configuration for invariant violations.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if len(c.Council.Members) == 0 {
		errs = append(errs, "council must have at least one member")
	}
	if c.Council.Chairman == "" {
		errs = append(errs, "council chairman is required")
	}
	seen := make(map[string]bool, len(c.Council.Members))
	for _, m := range c.Council.Members {
		if seen[m] {
			errs = append(errs, fmt.Sprintf("duplicate council member %q", m))
		}
		seen[m] = true
	}
	if c.OpenRouter.MaxRetries < 0 {
		errs = append(errs, "max_retries must not be negative")
	}
	if c.OpenRouter.MaxConcurrency <= 0 {
		errs = append(errs, "max_concurrency must be positive")
	}
	switch c.Quota.Backend {
	case "", "db", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown quota backend %q", c.Quota.Backend))
	}
	for key, limit := range c.Quota.MonthlyTokenCaps {
		if limit <= 0 {
			errs = append(errs, fmt.Sprintf("monthly token cap for %q must be positive", key))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
