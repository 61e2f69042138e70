package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for cdpd.
type Config struct {
	ListenAddress string `yaml:"listen"`
	// Database is either a filesystem path for SQLite or a postgres:// URL.
	Database string `yaml:"database"`
	// PolicyPath points at the TOML risk policy and collateral registry.
	PolicyPath string          `yaml:"policy"`
	Oracle     OracleConfig    `yaml:"oracle"`
	Sources    []Source        `yaml:"sources"`
	Service    ServiceConfig   `yaml:"service"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	Admin      AdminConfig     `yaml:"admin"`
}

// OracleConfig tunes the price feed.
type OracleConfig struct {
	Interval Duration `yaml:"interval"`
	MaxAge   Duration `yaml:"max_age"`
	Timeout  Duration `yaml:"timeout"`
}

// Source describes an upstream price source.
type Source struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	// Prices seeds the static source with decimal prices per collateral type.
	Prices map[string]string `yaml:"prices"`
}

// ServiceConfig tunes the orchestration layer.
type ServiceConfig struct {
	MaxRetries     int      `yaml:"max_retries"`
	RequestTimeout Duration `yaml:"request_timeout"`
	// EmergencyShutdown starts the daemon with creations halted.
	EmergencyShutdown bool `yaml:"emergency_shutdown"`
}

// RateLimitConfig throttles public API clients.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// AdminConfig secures the administrative endpoints.
type AdminConfig struct {
	BearerToken string         `yaml:"bearer_token"`
	JWT         JWTConfig      `yaml:"jwt"`
	MTLS        MTLSConfig     `yaml:"mtls"`
	TLS         AdminTLSConfig `yaml:"tls"`
}

// JWTConfig accepts HS256 operator tokens. The secret may be supplied through
// SecretEnv instead of the file.
type JWTConfig struct {
	Secret    string   `yaml:"secret"`
	SecretEnv string   `yaml:"secret_env"`
	Issuer    string   `yaml:"issuer"`
	Audience  string   `yaml:"audience"`
	ClockSkew Duration `yaml:"clock_skew"`
}

// MTLSConfig enables client certificate authentication for admin calls.
type MTLSConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ClientCAPath string `yaml:"client_ca"`
}

// AdminTLSConfig controls TLS termination on the listener.
type AdminTLSConfig struct {
	Disable  bool   `yaml:"disable"`
	CertPath string `yaml:"cert"`
	KeyPath  string `yaml:"key"`
}

// Option adjusts how configuration is loaded.
type Option func(*loadOptions)

type loadOptions struct {
	allowInsecureBearer bool
}

// WithAllowInsecureBearerWithoutTLS permits a bearer token on a plaintext
// listener. Development only.
func WithAllowInsecureBearerWithoutTLS() Option {
	return func(o *loadOptions) {
		o.allowInsecureBearer = true
	}
}

// Load reads configuration from the supplied path.
func Load(path string, opts ...Option) (Config, error) {
	options := loadOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Admin.normalise(options.allowInsecureBearer); err != nil {
		return cfg, err
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7081"
	}
	if cfg.Database == "" {
		cfg.Database = "/var/data/cdpd.sqlite"
	}
	if cfg.Oracle.Interval.Duration == 0 {
		cfg.Oracle.Interval.Duration = 15 * time.Second
	}
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = 2 * time.Minute
	}
	if cfg.Oracle.Timeout.Duration == 0 {
		cfg.Oracle.Timeout.Duration = 5 * time.Second
	}
	if cfg.Service.MaxRetries <= 0 {
		cfg.Service.MaxRetries = 3
	}
	if cfg.Service.RequestTimeout.Duration == 0 {
		cfg.Service.RequestTimeout.Duration = 10 * time.Second
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 50
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.PolicyPath) == "" {
		return errors.New("policy path must be configured")
	}
	if len(cfg.Sources) == 0 {
		return errors.New("at least one oracle source must be configured")
	}
	for i, src := range cfg.Sources {
		if strings.TrimSpace(src.Type) == "" {
			return fmt.Errorf("sources[%d]: type must be configured", i)
		}
	}
	if cfg.Oracle.Timeout.Duration > cfg.Oracle.MaxAge.Duration {
		return fmt.Errorf("oracle timeout %s exceeds max_age %s", cfg.Oracle.Timeout.Duration, cfg.Oracle.MaxAge.Duration)
	}
	return nil
}

func (c *AdminConfig) normalise(allowInsecureBearer bool) error {
	c.BearerToken = strings.TrimSpace(c.BearerToken)
	if env := strings.TrimSpace(c.JWT.SecretEnv); env != "" && strings.TrimSpace(c.JWT.Secret) == "" {
		c.JWT.Secret = os.Getenv(env)
	}
	c.JWT.Secret = strings.TrimSpace(c.JWT.Secret)
	c.MTLS.ClientCAPath = strings.TrimSpace(c.MTLS.ClientCAPath)
	c.TLS.CertPath = strings.TrimSpace(c.TLS.CertPath)
	c.TLS.KeyPath = strings.TrimSpace(c.TLS.KeyPath)

	if c.MTLS.Enabled && c.MTLS.ClientCAPath == "" {
		return errors.New("mtls.client_ca must be configured when mTLS is enabled")
	}
	if c.MTLS.Enabled && c.TLS.Disable {
		return errors.New("admin mTLS requires TLS to be enabled")
	}
	if c.BearerToken != "" && c.TLS.Disable && !allowInsecureBearer {
		return errors.New("admin bearer_token requires TLS to be enabled")
	}
	if c.JWT.Secret != "" && c.TLS.Disable && !allowInsecureBearer {
		return errors.New("admin jwt requires TLS to be enabled")
	}
	if !c.TLS.Disable && (c.TLS.CertPath == "" || c.TLS.KeyPath == "") {
		return errors.New("admin tls.cert and tls.key must be configured unless TLS is disabled")
	}
	return nil
}
