// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/artpar/poolgate/domain/retry"
)

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	Retry       RetryConfig       `yaml:"retry"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Pricing     PricingConfig     `yaml:"pricing"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	HealthCheck HealthCheckConfig `yaml:"healthcheck"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Accounts    []AccountConfig   `yaml:"accounts"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"` // 0 keeps streams open
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisConfig configures the shared store. An empty URL keeps all state in
// process memory, which only suits a single instance.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// DatabaseConfig configures the usage log. An empty driver keeps the log
// in memory.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // "sqlite3", "postgres" or "mysql"
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// AuthConfig configures key hashing and admin access.
type AuthConfig struct {
	HashKey           string        `yaml:"hash_key"`            // keys the secret hash
	JWTSecret         string        `yaml:"jwt_secret"`          // signs admin tokens
	TokenExpiration   time.Duration `yaml:"token_expiration"`    // admin token lifetime
	AdminUser         string        `yaml:"admin_user"`          // default "admin"
	AdminPasswordHash string        `yaml:"admin_password_hash"` // bcrypt; empty disables login
}

// RetryConfig configures failover. Reloadable.
type RetryConfig struct {
	MaxRounds        int           `yaml:"max_rounds"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	AttemptTimeout   time.Duration `yaml:"attempt_timeout"`
	MarkUnauthorized bool          `yaml:"mark_unauthorized"`
}

// Policy returns the retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{MaxRounds: r.MaxRounds, BaseDelay: r.BaseDelay, MaxDelay: r.MaxDelay}
}

// UpstreamConfig configures the provider HTTP client.
type UpstreamConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
	ProbeModel      string        `yaml:"probe_model"`
}

// PricingConfig configures the model price catalog.
type PricingConfig struct {
	Path         string        `yaml:"path"`
	FallbackPath string        `yaml:"fallback_path"`
	URL          string        `yaml:"url"`      // remote catalog, optional
	HashURL      string        `yaml:"hash_url"` // sha256 of the remote catalog
	RefreshEvery time.Duration `yaml:"refresh_every"`
	Watch        bool          `yaml:"watch"`
}

// AlertsConfig configures failure webhooks. Reloadable: throttle_ttl.
type AlertsConfig struct {
	ThrottleTTL time.Duration     `yaml:"throttle_ttl"`
	Timeout     time.Duration     `yaml:"timeout"`
	Webhooks    []WebhookEndpoint `yaml:"webhooks"`
}

// WebhookEndpoint is one alert receiver.
type WebhookEndpoint struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// HealthCheckConfig configures the account probe loop.
type HealthCheckConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // default: /metrics
}

// AccountConfig seeds one upstream account into the store at startup.
type AccountConfig struct {
	ID                string   `yaml:"id"`
	Platform          string   `yaml:"platform"`
	Name              string   `yaml:"name"`
	Priority          int      `yaml:"priority"`
	BaseURL           string   `yaml:"base_url"`
	Credential        string   `yaml:"credential"`
	SupportedModels   []string `yaml:"supported_models"`
	Tags              []string `yaml:"tags"`
	SupportsStreaming *bool    `yaml:"supports_streaming"` // default true
	ConcurrencyLimit  int      `yaml:"concurrency_limit"`
}

// Load reads configuration from a YAML file. A .env file next to the
// working directory is loaded first; variables already set win.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, expands ${VAR} references and applies overrides,
// defaults and validation.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	POOLGATE_SERVER_HOST          - Server host (default: 0.0.0.0)
//	POOLGATE_SERVER_PORT          - Server port (default: 8080)
//	POOLGATE_REDIS_URL            - Redis URL (empty: in-memory state)
//	POOLGATE_DATABASE_DRIVER      - sqlite3, postgres or mysql
//	POOLGATE_DATABASE_DSN         - Database DSN
//	POOLGATE_AUTH_HASH_KEY        - Secret hash key
//	POOLGATE_AUTH_JWT_SECRET      - Admin token signing secret
//	POOLGATE_AUTH_ADMIN_PASSWORD_HASH - bcrypt hash of the admin password
//	POOLGATE_RETRY_MAX_ROUNDS     - Failover rounds (default: 3)
//	POOLGATE_PRICING_PATH         - Pricing catalog file
//	POOLGATE_ALERTS_THROTTLE_TTL  - Alert throttle window (default: 60s)
//	POOLGATE_LOG_LEVEL            - Log level (default: info)
//	POOLGATE_LOG_FORMAT           - json or console (default: json)
//	POOLGATE_METRICS_ENABLED      - Enable /metrics (default: false)
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadWithFallback loads path when it exists, otherwise the environment.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies POOLGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Host, "POOLGATE_SERVER_HOST")
	setInt(&cfg.Server.Port, "POOLGATE_SERVER_PORT")
	setDuration(&cfg.Server.ReadTimeout, "POOLGATE_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "POOLGATE_SERVER_WRITE_TIMEOUT")

	setString(&cfg.Redis.URL, "POOLGATE_REDIS_URL")

	setString(&cfg.Database.Driver, "POOLGATE_DATABASE_DRIVER")
	setString(&cfg.Database.DSN, "POOLGATE_DATABASE_DSN")

	setString(&cfg.Auth.HashKey, "POOLGATE_AUTH_HASH_KEY")
	setString(&cfg.Auth.JWTSecret, "POOLGATE_AUTH_JWT_SECRET")
	setString(&cfg.Auth.AdminUser, "POOLGATE_AUTH_ADMIN_USER")
	setString(&cfg.Auth.AdminPasswordHash, "POOLGATE_AUTH_ADMIN_PASSWORD_HASH")

	setInt(&cfg.Retry.MaxRounds, "POOLGATE_RETRY_MAX_ROUNDS")
	setDuration(&cfg.Retry.BaseDelay, "POOLGATE_RETRY_BASE_DELAY")
	setDuration(&cfg.Retry.MaxDelay, "POOLGATE_RETRY_MAX_DELAY")
	setDuration(&cfg.Retry.AttemptTimeout, "POOLGATE_RETRY_ATTEMPT_TIMEOUT")
	if v := os.Getenv("POOLGATE_RETRY_MARK_UNAUTHORIZED"); v != "" {
		cfg.Retry.MarkUnauthorized = parseBool(v)
	}

	setDuration(&cfg.Upstream.Timeout, "POOLGATE_UPSTREAM_TIMEOUT")

	setString(&cfg.Pricing.Path, "POOLGATE_PRICING_PATH")
	setString(&cfg.Pricing.FallbackPath, "POOLGATE_PRICING_FALLBACK_PATH")
	setString(&cfg.Pricing.URL, "POOLGATE_PRICING_URL")

	setDuration(&cfg.Alerts.ThrottleTTL, "POOLGATE_ALERTS_THROTTLE_TTL")

	if v := os.Getenv("POOLGATE_HEALTHCHECK_ENABLED"); v != "" {
		cfg.HealthCheck.Enabled = parseBool(v)
	}

	setString(&cfg.Logging.Level, "POOLGATE_LOG_LEVEL")
	setString(&cfg.Logging.Format, "POOLGATE_LOG_FORMAT")

	if v := os.Getenv("POOLGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	setString(&cfg.Metrics.Path, "POOLGATE_METRICS_PATH")
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}

	if cfg.Auth.AdminUser == "" {
		cfg.Auth.AdminUser = "admin"
	}
	if cfg.Auth.TokenExpiration == 0 {
		cfg.Auth.TokenExpiration = 24 * time.Hour
	}

	if cfg.Retry.MaxRounds == 0 {
		cfg.Retry.MaxRounds = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Retry.AttemptTimeout == 0 {
		cfg.Retry.AttemptTimeout = 10 * time.Minute
	}

	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 10 * time.Minute
	}
	if cfg.Upstream.MaxIdleConns == 0 {
		cfg.Upstream.MaxIdleConns = 100
	}
	if cfg.Upstream.IdleConnTimeout == 0 {
		cfg.Upstream.IdleConnTimeout = 90 * time.Second
	}

	if cfg.Pricing.Path == "" {
		cfg.Pricing.Path = "data/model_pricing.json"
	}
	if cfg.Pricing.RefreshEvery == 0 {
		cfg.Pricing.RefreshEvery = 24 * time.Hour
	}

	if cfg.Alerts.ThrottleTTL == 0 {
		cfg.Alerts.ThrottleTTL = 60 * time.Second
	}
	if cfg.Alerts.Timeout == 0 {
		cfg.Alerts.Timeout = 10 * time.Second
	}

	if cfg.HealthCheck.Interval == 0 {
		cfg.HealthCheck.Interval = 5 * time.Minute
	}
	if cfg.HealthCheck.MaxConcurrent == 0 {
		cfg.HealthCheck.MaxConcurrent = 3
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

var validPlatforms = map[string]bool{
	"claude": true, "claude-console": true, "bedrock": true,
	"gemini": true, "openai": true, "azure-openai": true,
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", cfg.Server.Port)
	}

	switch cfg.Database.Driver {
	case "", "sqlite3", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver must be sqlite3, postgres or mysql, got %q", cfg.Database.Driver)
	}
	if cfg.Database.Driver != "" && cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.driver is set")
	}

	if cfg.Retry.MaxRounds < 1 {
		return fmt.Errorf("retry.max_rounds must be at least 1")
	}
	if cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must not be less than retry.base_delay")
	}

	if cfg.Pricing.HashURL != "" && cfg.Pricing.URL == "" {
		return fmt.Errorf("pricing.hash_url requires pricing.url")
	}

	for i, w := range cfg.Alerts.Webhooks {
		if !strings.HasPrefix(w.URL, "http://") && !strings.HasPrefix(w.URL, "https://") {
			return fmt.Errorf("alerts.webhooks[%d].url must be an http(s) URL", i)
		}
	}

	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	seen := make(map[string]bool)
	for i, a := range cfg.Accounts {
		if a.ID == "" {
			return fmt.Errorf("accounts[%d].id is required", i)
		}
		if !validPlatforms[a.Platform] {
			return fmt.Errorf("accounts[%d].platform %q is not supported", i, a.Platform)
		}
		ref := a.Platform + ":" + a.ID
		if seen[ref] {
			return fmt.Errorf("accounts[%d]: duplicate account %s", i, ref)
		}
		seen[ref] = true
	}

	return nil
}
