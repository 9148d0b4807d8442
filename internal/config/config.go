package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultBaseURL         = "https://api.github.com"
	DefaultPerPage         = 5
	DefaultRequestTimeout  = 10 * time.Second
	DefaultRefreshInterval = 10 * time.Second
	DefaultOnError         = "retain"
	DefaultGRPCPort        = 50051
	DefaultHTTPPort        = 8080
	DefaultCacheTTL        = 5 * time.Minute
	DefaultWSInterval      = 30 * time.Second
	DefaultLogLevel        = "info"
)

// Config is the full pagewatch configuration.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	Source   SourceConfig   `yaml:"source"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Server   ServerConfig   `yaml:"server"`
	Alerts   AlertsConfig   `yaml:"alerts"`
}

// SourceConfig describes the upstream repository listing API.
type SourceConfig struct {
	// BaseURL is the API root, e.g. https://api.github.com.
	BaseURL string `yaml:"base_url"`

	// Org is the organisation whose repositories are listed.
	Org string `yaml:"org"`

	// PerPage is the page size requested from the API (1..100).
	PerPage int `yaml:"per_page"`

	// Page is the watched value. Editing it while running re-triggers a fetch.
	Page int `yaml:"page"`

	// RequestTimeout bounds a single HTTP request.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`
}

// AuthConfig specifies how requests to the upstream API are authenticated.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header the API key is sent in (Mode == "apikey").
	Header string `yaml:"header"`
	// KeyEnv names the environment variable that holds the key.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv string `yaml:"token_env"`

	// Username is the literal basic-auth username.
	Username string `yaml:"username"`
	// PasswordEnv names the environment variable holding the password.
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds TLS dial options for the upstream API.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// PipelineConfig controls the derived-fetch pipeline.
type PipelineConfig struct {
	// RefreshInterval re-fetches the current page on a timer. 0 disables it.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// OnError is retain | clear: whether the last good page survives a failure.
	OnError string `yaml:"on_error"`
}

// ServerConfig holds the serving side: REST, WebSocket and gRPC health.
type ServerConfig struct {
	// HTTPPort serves the REST API, /metrics and the WebSocket hub.
	HTTPPort int `yaml:"http_port"`

	// GRPCPort serves the gRPC health service.
	GRPCPort int `yaml:"grpc_port"`

	Auth  ServerAuthConfig `yaml:"auth"`
	Cache CacheConfig      `yaml:"cache"`
	WS    WSConfig         `yaml:"ws"`
}

// ServerAuthConfig controls client authentication on the serving side.
type ServerAuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key (and HTTP header name) to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a ServerAuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a ServerAuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// CacheConfig controls the per-page result cache.
type CacheConfig struct {
	// TTL is how long a page stays cached after its last successful fetch.
	TTL time.Duration `yaml:"ttl"`
}

// WSConfig controls the WebSocket hub.
type WSConfig struct {
	// Interval re-broadcasts the current view to all clients. 0 disables it.
	Interval time.Duration `yaml:"interval"`
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name identifies the rule and deduplicates its alerts.
	Name string `yaml:"name"`

	// Condition is "field operator value", e.g. "uptime_pct < 60",
	// "state == critical" or "stale_results > 10".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info. Defaults to warning.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, applying defaults and validation.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Source: SourceConfig{
			BaseURL:        DefaultBaseURL,
			PerPage:        DefaultPerPage,
			RequestTimeout: DefaultRequestTimeout,
		},
		Pipeline: PipelineConfig{
			RefreshInterval: DefaultRefreshInterval,
			OnError:         DefaultOnError,
		},
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			GRPCPort: DefaultGRPCPort,
			Cache:    CacheConfig{TTL: DefaultCacheTTL},
			WS:       WSConfig{Interval: DefaultWSInterval},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level: unknown level %q", cfg.LogLevel)
	}

	src := cfg.Source
	if src.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if src.Org == "" {
		return fmt.Errorf("source.org is required")
	}
	if src.PerPage < 1 || src.PerPage > 100 {
		return fmt.Errorf("source.per_page must be between 1 and 100, got %d", src.PerPage)
	}
	if src.Page < 0 {
		return fmt.Errorf("source.page must not be negative, got %d", src.Page)
	}
	if src.RequestTimeout < 0 {
		return fmt.Errorf("source.request_timeout must not be negative")
	}
	switch src.Auth.Mode {
	case "mtls", "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("source.auth: unknown mode %q", src.Auth.Mode)
	}
	if src.Auth.Mode == "apikey" && src.Auth.Header == "" {
		return fmt.Errorf("source.auth.header is required for apikey mode")
	}
	if src.Auth.Mode == "mtls" && (src.Auth.CertFile == "" || src.Auth.KeyFile == "") {
		return fmt.Errorf("source.auth: cert_file and key_file are required for mtls mode")
	}

	if cfg.Pipeline.RefreshInterval < 0 {
		return fmt.Errorf("pipeline.refresh_interval must not be negative")
	}
	switch cfg.Pipeline.OnError {
	case "retain", "clear":
	default:
		return fmt.Errorf("pipeline.on_error: unknown policy %q", cfg.Pipeline.OnError)
	}

	srv := cfg.Server
	if srv.HTTPPort < 1 || srv.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range: %d", srv.HTTPPort)
	}
	if srv.GRPCPort < 1 || srv.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port out of range: %d", srv.GRPCPort)
	}
	switch srv.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth: unknown mode %q", srv.Auth.Mode)
	}
	if srv.Cache.TTL < 0 {
		return fmt.Errorf("server.cache.ttl must not be negative")
	}
	if srv.WS.Interval < 0 {
		return fmt.Errorf("server.ws.interval must not be negative")
	}

	seen := make(map[string]bool, len(cfg.Alerts.Rules))
	for i, r := range cfg.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("alerts.rules[%d]: name is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("alerts.rules[%d]: duplicate name %q", i, r.Name)
		}
		seen[r.Name] = true
		if len(strings.Fields(r.Condition)) != 3 {
			return fmt.Errorf("alerts.rules[%d] %q: condition must be \"field op value\", got %q", i, r.Name, r.Condition)
		}
		switch r.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("alerts.rules[%d] %q: unknown severity %q", i, r.Name, r.Severity)
		}
		if r.Cooldown < 0 {
			return fmt.Errorf("alerts.rules[%d] %q: cooldown must not be negative", i, r.Name)
		}
	}
	for i, wh := range cfg.Alerts.Webhooks {
		switch wh.Type {
		case "teams", "slack", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: unknown type %q", i, wh.Type)
		}
		if wh.URLEnv == "" {
			return fmt.Errorf("alerts.webhooks[%d]: url_env is required", i)
		}
	}
	return nil
}
