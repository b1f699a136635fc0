package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
	OTel     OTelConfig     `yaml:"otel"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for probes and scraping)
	HealthPort string `yaml:"health_port"`

	// PublicURL is the externally reachable base URL of this service. It is
	// used to derive the OIDC redirect URI and the Referer header on
	// provider requests.
	PublicURL string `yaml:"public_url"`
}

// DatabaseConfig holds relational store configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "sqlite3"
	URL    string `yaml:"url"`

	MaxConns int           `yaml:"max_conns"`
	MinConns int           `yaml:"min_conns"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RedisConfig holds optional Redis configuration for the session store
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
}

// StorageConfig holds file storage backend configuration
type StorageConfig struct {
	// LocalRoot is the filesystem root for "local" repos
	LocalRoot string `yaml:"local_root"`

	// WatchLocal enables the filesystem watcher that invalidates listing
	// caches when files change on disk outside the service
	WatchLocal bool `yaml:"watch_local"`

	// S3 settings for "s3" repos
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Region       string `yaml:"s3_region"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3AccessKey    string `yaml:"-"`
	S3SecretKey    string `yaml:"-"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// DisableRegistration blocks creation of new local accounts from SSO
	// logins; existing accounts can still sign in
	DisableRegistration bool `yaml:"disable_registration"`

	SessionTTL time.Duration `yaml:"session_ttl"`

	OIDC OIDCConfig `yaml:"oidc"`
}

// OIDCConfig holds OpenID Connect relying-party configuration
type OIDCConfig struct {
	Enabled      bool     `yaml:"enabled"`
	IssuerURL    string   `yaml:"issuer_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"-"`
	Scopes       []string `yaml:"scopes"`

	// PendingTTL bounds how long an initiated flow may wait for the
	// provider callback before it must be restarted
	PendingTTL time.Duration `yaml:"pending_ttl"`
	// PendingCapacity bounds the number of flows awaiting a callback
	PendingCapacity int `yaml:"pending_capacity"`

	// Development-only egress proxy. Never enable in production: the
	// certificate bypass disables TLS verification for provider calls.
	DevProxyURL      string `yaml:"dev_proxy_url"`
	DevProxyInsecure bool   `yaml:"dev_proxy_insecure"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Insecure       bool   `yaml:"insecure"`
}

// LoadConfig loads configuration from the optional SHELF_CONFIG YAML file
// and the environment, then validates it
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("SHELF_CONFIG"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
			PublicURL:       "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Driver:   "postgres",
			MaxConns: 20,
			MinConns: 2,
			Timeout:  10 * time.Second,
		},
		Storage: StorageConfig{
			LocalRoot: "/var/lib/shelf/storage",
			S3Region:  "us-east-1",
		},
		Auth: AuthConfig{
			SessionTTL: 24 * time.Hour,
			OIDC: OIDCConfig{
				Scopes:          []string{"openid", "profile", "email"},
				PendingTTL:      120 * time.Second,
				PendingCapacity: 100,
			},
		},
		Log: LogConfig{Level: "info"},
		OTel: OTelConfig{
			Endpoint:       "localhost:4317",
			ServiceName:    "shelf",
			ServiceVersion: "1.0.0",
			Insecure:       true,
		},
	}
}

// loadFile merges YAML file values into cfg
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnv overrides cfg with SHELF_* environment variables
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "SHELF_HOST")
	setString(&cfg.Server.Port, "SHELF_PORT")
	setString(&cfg.Server.HealthPort, "SHELF_HEALTH_PORT")
	setString(&cfg.Server.PublicURL, "SHELF_PUBLIC_URL")
	setDuration(&cfg.Server.ReadTimeout, "SHELF_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "SHELF_WRITE_TIMEOUT")
	setDuration(&cfg.Server.IdleTimeout, "SHELF_IDLE_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "SHELF_SHUTDOWN_TIMEOUT")

	setString(&cfg.Database.Driver, "SHELF_DB_DRIVER")
	setString(&cfg.Database.URL, "SHELF_DB_URL")
	setInt(&cfg.Database.MaxConns, "SHELF_DB_MAX_CONNS")
	setInt(&cfg.Database.MinConns, "SHELF_DB_MIN_CONNS")
	setDuration(&cfg.Database.Timeout, "SHELF_DB_TIMEOUT")

	setString(&cfg.Redis.URL, "SHELF_REDIS_URL")
	setString(&cfg.Redis.Password, "SHELF_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SHELF_REDIS_DB")

	setString(&cfg.Storage.LocalRoot, "SHELF_STORAGE_LOCAL_ROOT")
	setBool(&cfg.Storage.WatchLocal, "SHELF_STORAGE_WATCH_LOCAL")
	setString(&cfg.Storage.S3Endpoint, "SHELF_S3_ENDPOINT")
	setString(&cfg.Storage.S3Region, "SHELF_S3_REGION")
	setString(&cfg.Storage.S3Bucket, "SHELF_S3_BUCKET")
	setString(&cfg.Storage.S3AccessKey, "SHELF_S3_ACCESS_KEY")
	setString(&cfg.Storage.S3SecretKey, "SHELF_S3_SECRET_KEY")
	setBool(&cfg.Storage.S3UsePathStyle, "SHELF_S3_USE_PATH_STYLE")

	setBool(&cfg.Auth.DisableRegistration, "SHELF_AUTH_DISABLE_REGISTRATION")
	setDuration(&cfg.Auth.SessionTTL, "SHELF_AUTH_SESSION_TTL")
	setBool(&cfg.Auth.OIDC.Enabled, "SHELF_OIDC_ENABLED")
	setString(&cfg.Auth.OIDC.IssuerURL, "SHELF_OIDC_ISSUER_URL")
	setString(&cfg.Auth.OIDC.ClientID, "SHELF_OIDC_CLIENT_ID")
	setString(&cfg.Auth.OIDC.ClientSecret, "SHELF_OIDC_CLIENT_SECRET")
	setDuration(&cfg.Auth.OIDC.PendingTTL, "SHELF_OIDC_PENDING_TTL")
	setInt(&cfg.Auth.OIDC.PendingCapacity, "SHELF_OIDC_PENDING_CAPACITY")
	setString(&cfg.Auth.OIDC.DevProxyURL, "SHELF_DEV_PROXY_URL")
	setBool(&cfg.Auth.OIDC.DevProxyInsecure, "SHELF_DEV_PROXY_INSECURE")
	if scopes := os.Getenv("SHELF_OIDC_SCOPES"); scopes != "" {
		cfg.Auth.OIDC.Scopes = strings.Split(scopes, ",")
	}

	setString(&cfg.Log.Level, "SHELF_LOG_LEVEL")

	setBool(&cfg.OTel.Enabled, "SHELF_OTEL_ENABLED")
	setString(&cfg.OTel.Endpoint, "SHELF_OTEL_ENDPOINT")
	setString(&cfg.OTel.ServiceName, "SHELF_OTEL_SERVICE_NAME")
	setString(&cfg.OTel.ServiceVersion, "SHELF_OTEL_SERVICE_VERSION")
	setBool(&cfg.OTel.Insecure, "SHELF_OTEL_INSECURE")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if _, err := url.Parse(c.Server.PublicURL); err != nil || c.Server.PublicURL == "" {
		return fmt.Errorf("public URL is required and must be a valid URL")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if err := c.Auth.OIDC.Validate(); err != nil {
		return err
	}

	if c.OTel.Enabled && c.OTel.Endpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
	}

	return nil
}

// Validate checks the OIDC configuration. An enabled provider with missing
// issuer or client settings fails here, at startup.
func (c *OIDCConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.IssuerURL == "" {
		return fmt.Errorf("OIDC issuer_url is required when SSO is enabled")
	}
	if _, err := url.Parse(c.IssuerURL); err != nil {
		return fmt.Errorf("OIDC issuer_url is not a valid URL: %w", err)
	}
	if c.ClientID == "" {
		return fmt.Errorf("OIDC client_id is required when SSO is enabled")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("OIDC client_secret is required when SSO is enabled")
	}
	if len(c.Scopes) == 0 {
		return fmt.Errorf("OIDC scopes are required when SSO is enabled")
	}

	hasOpenID := false
	for _, scope := range c.Scopes {
		if scope == "openid" {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return fmt.Errorf("'openid' scope is required for OIDC")
	}

	if c.PendingTTL <= 0 {
		return fmt.Errorf("OIDC pending_ttl must be positive")
	}
	if c.PendingCapacity <= 0 {
		return fmt.Errorf("OIDC pending_capacity must be positive")
	}

	return nil
}

// RedirectURL derives the OIDC callback URL from the public base URL
func (c *ServerConfig) RedirectURL() string {
	return strings.TrimRight(c.PublicURL, "/") + "/auth/sso/callback"
}

// PublicHost returns the host portion of the public URL, used as the
// Referer header on provider requests
func (c *ServerConfig) PublicHost() string {
	u, err := url.Parse(c.PublicURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
