package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PluginName is the key the plugin settings live under
const PluginName = "github-oauth-ui"

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	Listen    string `yaml:"listen"`
	PublicURL string `yaml:"public_url"`
	Upstream  string `yaml:"upstream"`
	UserAgent string `yaml:"user_agent"`

	Web         WebConfig         `yaml:"web"`
	Auth        AuthSection       `yaml:"auth"`
	Middlewares MiddlewareSection `yaml:"middlewares"`
	Cache       CacheConfig       `yaml:"cache"`
	Packages    []PackageRule     `yaml:"packages"`

	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:",inline"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
}

// WebConfig controls the login script injection into the registry UI
type WebConfig struct {
	Enable bool `yaml:"enable"`
}

// AuthSection is the "auth" block
type AuthSection struct {
	GitHub AuthPluginConfig `yaml:"github-oauth-ui"`
}

// AuthPluginConfig holds the auth plugin settings
type AuthPluginConfig struct {
	Org string `yaml:"org"`
}

// MiddlewareSection is the "middlewares" block
type MiddlewareSection struct {
	GitHub MiddlewarePluginConfig `yaml:"github-oauth-ui"`
}

// MiddlewarePluginConfig holds the OAuth app credentials
type MiddlewarePluginConfig struct {
	ClientID     string `yaml:"client-id"`
	ClientSecret string `yaml:"client-secret"`
}

// CacheConfig selects the membership cache backend
type CacheConfig struct {
	Backend  string `yaml:"backend"`
	Size     int    `yaml:"size"`
	RedisURL string `yaml:"redis_url"`
}

// PackageRule maps a package name glob to its access list
type PackageRule struct {
	Pattern string   `yaml:"pattern"`
	Access  []string `yaml:"access"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string     `yaml:"log_level"`
	LogFormat      string     `yaml:"log_format"`
	MetricsEnabled bool       `yaml:"metrics_enabled"`
	OTel           OTelConfig `yaml:"otel"`
}

// OTelConfig holds OpenTelemetry exporter settings
type OTelConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Insecure       bool   `yaml:"insecure"`

	// SampleRatio is the fraction of root traces kept; 0 keeps all
	SampleRatio float64 `yaml:"sample_ratio"`
}

// RateLimitConfig limits requests per client IP on the OAuth endpoints
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// PluginConfig is the validated subset the plugin is built from
type PluginConfig struct {
	Organization string
	ClientID     string
	ClientSecret string
	UserAgent    string
	PublicURL    string
	WebUIEnabled bool
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Listen:    ":8080",
		Upstream:  "http://localhost:4873",
		UserAgent: "spoke-ghauth",
		Web:       WebConfig{Enable: true},
		Cache: CacheConfig{
			Backend: CacheBackendMemory,
			Size:    10000,
		},
		Server: ServerConfig{
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			MetricsEnabled: true,
			OTel: OTelConfig{
				Endpoint:    "localhost:4317",
				ServiceName: "spoke-ghauth",
				Insecure:    true,
			},
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			Burst:             10,
		},
	}
}

// LoadConfig reads the file named by GHAUTH_CONFIG, if any, and applies
// environment overrides. The result is not validated.
func LoadConfig() (*Config, error) {
	return Load(getEnv("GHAUTH_CONFIG", ""))
}

// Load reads path, if non-empty, over the defaults and applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// Parse decodes YAML data over cfg
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// applyEnv overrides file values with environment variables
func (c *Config) applyEnv() {
	c.Listen = getEnv("GHAUTH_LISTEN", c.Listen)
	c.PublicURL = getEnv("GHAUTH_PUBLIC_URL", c.PublicURL)
	c.Upstream = getEnv("GHAUTH_UPSTREAM", c.Upstream)
	c.UserAgent = getEnv("GHAUTH_USER_AGENT", c.UserAgent)
	c.Web.Enable = getEnvBool("GHAUTH_WEB_ENABLE", c.Web.Enable)

	c.Auth.GitHub.Org = getEnv("GHAUTH_ORG", c.Auth.GitHub.Org)
	c.Middlewares.GitHub.ClientID = getEnv("GHAUTH_CLIENT_ID", c.Middlewares.GitHub.ClientID)
	c.Middlewares.GitHub.ClientSecret = getEnv("GHAUTH_CLIENT_SECRET", c.Middlewares.GitHub.ClientSecret)

	if redisURL := getEnv("GHAUTH_REDIS_URL", ""); redisURL != "" {
		c.Cache.RedisURL = redisURL
		c.Cache.Backend = CacheBackendRedis
	}
	c.Cache.Backend = getEnv("GHAUTH_CACHE_BACKEND", c.Cache.Backend)
	c.Cache.Size = getEnvInt("GHAUTH_CACHE_SIZE", c.Cache.Size)

	c.Server.ShutdownTimeout = getEnvDuration("GHAUTH_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Observability.LogLevel = getEnv("GHAUTH_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = getEnv("GHAUTH_LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsEnabled = getEnvBool("GHAUTH_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTel.Enabled = getEnvBool("GHAUTH_OTEL_ENABLED", c.Observability.OTel.Enabled)
	c.Observability.OTel.Endpoint = getEnv("GHAUTH_OTEL_ENDPOINT", c.Observability.OTel.Endpoint)
	c.Observability.OTel.Insecure = getEnvBool("GHAUTH_OTEL_INSECURE", c.Observability.OTel.Insecure)

	c.RateLimit.RequestsPerMinute = getEnvInt("GHAUTH_RATE_LIMIT_RPM", c.RateLimit.RequestsPerMinute)
	c.RateLimit.Burst = getEnvInt("GHAUTH_RATE_LIMIT_BURST", c.RateLimit.Burst)
}

// Validate checks the configuration. Missing required plugin settings are
// reported together in a *ConfigurationError.
func (c *Config) Validate() error {
	if err := c.Plugin().Validate(); err != nil {
		return err
	}

	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory or redis)", c.Cache.Backend)
	}

	for i, rule := range c.Packages {
		if rule.Pattern == "" {
			return fmt.Errorf("packages[%d]: pattern is required", i)
		}
	}

	if c.Observability.OTel.Enabled && c.Observability.OTel.Endpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
	}
	if ratio := c.Observability.OTel.SampleRatio; ratio < 0 || ratio > 1 {
		return fmt.Errorf("otel.sample_ratio must be between 0 and 1, got %v", ratio)
	}

	return nil
}

// Plugin returns the plugin settings with surrounding whitespace trimmed
func (c *Config) Plugin() PluginConfig {
	return PluginConfig{
		Organization: strings.TrimSpace(c.Auth.GitHub.Org),
		ClientID:     strings.TrimSpace(c.Middlewares.GitHub.ClientID),
		ClientSecret: strings.TrimSpace(c.Middlewares.GitHub.ClientSecret),
		UserAgent:    c.UserAgent,
		PublicURL:    strings.TrimRight(c.PublicURL, "/"),
		WebUIEnabled: c.Web.Enable,
	}
}

// Validate reports every missing required setting in a *ConfigurationError
func (p PluginConfig) Validate() error {
	var missing []string
	if p.Organization == "" {
		missing = append(missing, "auth."+PluginName+".org")
	}
	if p.ClientID == "" {
		missing = append(missing, "middlewares."+PluginName+".client-id")
	}
	if p.ClientSecret == "" {
		missing = append(missing, "middlewares."+PluginName+".client-secret")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
