// Package config loads the thermosync YAML configuration.
//
// Values are resolved in order: defaults, file, THERMOSYNC_* environment
// overrides. The result is validated before it is returned.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion       = 1
	DefaultPath         = "/etc/thermosync/config.yaml"
	DefaultGRPCAddr     = "0.0.0.0:9000"
	DefaultHTTPAddr     = "0.0.0.0:8080"
	DefaultDashboardDir = "/var/lib/thermosync/dashboards"
	DefaultBaseURL      = "https://api.thermosmart.com"
	DefaultRedirectURL  = "http://127.0.0.1:8765/pair/callback"
	DefaultCredentials  = "/var/lib/thermosync/credentials.json"
	DefaultBlobPrefix   = "thermosync/credentials"
	DefaultTopicPrefix  = "thermosync"

	DefaultPollInterval     = 5 * time.Minute
	DefaultRequestTimeout   = 15 * time.Second
	DefaultEchoWindow       = 30 * time.Second
	DefaultUnavailableAfter = 1
)

// Config is the root configuration.
type Config struct {
	SchemaVersion int               `yaml:"schema_version"`
	Core          CoreConfig        `yaml:"core"`
	Logging       LoggingConfig     `yaml:"logging"`
	ThermoSmart   ThermoSmartConfig `yaml:"thermosmart"`
	Webhook       WebhookConfig     `yaml:"webhook"`
	MQTT          MQTTConfig        `yaml:"mqtt"`
	Blob          BlobConfig        `yaml:"blob"`
}

type CoreConfig struct {
	HTTPAddr     string `yaml:"http_addr"`
	GRPCAddr     string `yaml:"grpc_addr"`
	DashboardDir string `yaml:"dashboard_dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ThermoSmartConfig configures the vendor API and the sync loop.
type ThermoSmartConfig struct {
	BaseURL          string          `yaml:"base_url"`
	ClientID         string          `yaml:"client_id"`
	ClientSecret     string          `yaml:"client_secret"`
	ClientSecretFile string          `yaml:"client_secret_file"`
	RedirectURL      string          `yaml:"redirect_url"`
	PollInterval     time.Duration   `yaml:"poll_interval"`
	RequestTimeout   time.Duration   `yaml:"request_timeout"`
	EchoWindow       time.Duration   `yaml:"echo_window"`
	UnavailableAfter int             `yaml:"unavailable_after"`
	CredentialsFile  string          `yaml:"credentials_file"`
	RateLimit        RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig caps vendor calls. Zero disables a window.
type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute"`
	PerDay    int `yaml:"per_day"`
}

type WebhookConfig struct {
	Enabled        bool   `yaml:"enabled"`
	RelayURL       string `yaml:"relay_url"`
	RelayTokenFile string `yaml:"relay_token_file"`
	CallbackURL    string `yaml:"callback_url"`
	Secret         string `yaml:"secret"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	TLS         bool   `yaml:"tls"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// BlobConfig configures the optional S3 mirror for paired credentials.
type BlobConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKeyFile string `yaml:"secret_key_file"`
}

// Enabled reports whether a blob endpoint is configured.
func (b BlobConfig) Enabled() bool {
	return strings.TrimSpace(b.Endpoint) != ""
}

// Load reads path, applies defaults and env overrides, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default filled in.
func Default() *Config {
	cfg := &Config{SchemaVersion: SchemaVersion}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.DashboardDir == "" {
		cfg.Core.DashboardDir = DefaultDashboardDir
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}

	ts := &cfg.ThermoSmart
	if ts.BaseURL == "" {
		ts.BaseURL = DefaultBaseURL
	}
	ts.BaseURL = strings.TrimRight(ts.BaseURL, "/")
	if ts.RedirectURL == "" {
		ts.RedirectURL = DefaultRedirectURL
	}
	if ts.PollInterval == 0 {
		ts.PollInterval = DefaultPollInterval
	}
	if ts.RequestTimeout == 0 {
		ts.RequestTimeout = DefaultRequestTimeout
	}
	if ts.EchoWindow == 0 {
		ts.EchoWindow = DefaultEchoWindow
	}
	if ts.UnavailableAfter == 0 {
		ts.UnavailableAfter = DefaultUnavailableAfter
	}
	if ts.CredentialsFile == "" {
		ts.CredentialsFile = DefaultCredentials
	}

	if cfg.MQTT.Port == 0 {
		if cfg.MQTT.TLS {
			cfg.MQTT.Port = 8883
		} else {
			cfg.MQTT.Port = 1883
		}
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "thermosync"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = DefaultTopicPrefix
	}

	if cfg.Blob.Prefix == "" {
		cfg.Blob.Prefix = DefaultBlobPrefix
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("THERMOSYNC_HTTP_ADDR"); v != "" {
		cfg.Core.HTTPAddr = v
	}
	if v := os.Getenv("THERMOSYNC_GRPC_ADDR"); v != "" {
		cfg.Core.GRPCAddr = v
	}
	if v := os.Getenv("THERMOSYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("THERMOSYNC_CLIENT_ID"); v != "" {
		cfg.ThermoSmart.ClientID = v
	}
	if v := os.Getenv("THERMOSYNC_CLIENT_SECRET"); v != "" {
		cfg.ThermoSmart.ClientSecret = v
	}
	if v := os.Getenv("THERMOSYNC_WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("THERMOSYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("THERMOSYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("THERMOSYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
}

// Validate enforces invariants that defaults cannot supply.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	var errs []string
	if cfg.SchemaVersion != SchemaVersion {
		errs = append(errs, fmt.Sprintf("schema_version must be %d", SchemaVersion))
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, "logging.format must be text or json")
	}

	ts := cfg.ThermoSmart
	if ts.ClientID == "" {
		errs = append(errs, "thermosmart.client_id is required")
	}
	if ts.ClientSecret == "" && ts.ClientSecretFile == "" {
		errs = append(errs, "thermosmart.client_secret or thermosmart.client_secret_file is required")
	}
	if ts.PollInterval < time.Second {
		errs = append(errs, "thermosmart.poll_interval must be at least 1s")
	}
	if ts.RequestTimeout <= 0 {
		errs = append(errs, "thermosmart.request_timeout must be positive")
	}
	if ts.EchoWindow < 0 {
		errs = append(errs, "thermosmart.echo_window must not be negative")
	}
	if ts.UnavailableAfter < 1 {
		errs = append(errs, "thermosmart.unavailable_after must be at least 1")
	}
	if ts.RateLimit.PerMinute < 0 || ts.RateLimit.PerDay < 0 {
		errs = append(errs, "thermosmart.rate_limit values must not be negative")
	}

	if cfg.Webhook.Enabled && cfg.Webhook.RelayURL != "" && cfg.Webhook.CallbackURL == "" {
		errs = append(errs, "webhook.callback_url is required when webhook.relay_url is set")
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Host == "" {
			errs = append(errs, "mqtt.host is required when mqtt is enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			errs = append(errs, "mqtt.port must be between 1 and 65535")
		}
	}

	if cfg.Blob.Enabled() {
		if cfg.Blob.Bucket == "" {
			errs = append(errs, "blob.bucket is required")
		}
		if cfg.Blob.AccessKeyFile == "" || cfg.Blob.SecretKeyFile == "" {
			errs = append(errs, "blob.access_key_file and blob.secret_key_file are required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ClientSecret resolves the vendor client secret, reading the secret file
// when no inline value is set.
func (c *Config) ClientSecret() (string, error) {
	if c.ThermoSmart.ClientSecret != "" {
		return c.ThermoSmart.ClientSecret, nil
	}
	return ReadSecretFile(c.ThermoSmart.ClientSecretFile)
}

// RelayToken resolves the webhook relay bearer token. Empty when unset.
func (c *Config) RelayToken() (string, error) {
	if c.Webhook.RelayTokenFile == "" {
		return "", nil
	}
	return ReadSecretFile(c.Webhook.RelayTokenFile)
}

// ReadSecretFile returns the trimmed contents of path.
func ReadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
