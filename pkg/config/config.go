package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// maxConfigSize caps the config file read by LoadConfig.
const maxConfigSize = 1 << 20

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	OpenAI        OpenAIConfig        `yaml:"openai"`
	Poller        PollerConfig        `yaml:"poller"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Store         StoreConfig         `yaml:"store"`
	Observability ObservabilityConfig `yaml:"observability"`
	Log           LogConfig           `yaml:"log"`
}

// ServerConfig holds the HTTP surface settings
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// PublicURL is the origin written into embed codes and chat URLs.
	PublicURL string `yaml:"public_url"`
	// AdminToken guards /api/configs when set.
	AdminToken      string        `yaml:"admin_token"`
	AllowedOrigins  []string        `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig caps chat messages per visitor address and overall;
// zero rates disable the limit
type RateLimitConfig struct {
	PerClientPerSecond float64 `yaml:"per_client_per_second"`
	PerClientBurst     int     `yaml:"per_client_burst"`
	GlobalPerSecond    float64 `yaml:"global_per_second"`
	GlobalBurst        int     `yaml:"global_burst"`
}

// OpenAIConfig holds Assistants API client settings
type OpenAIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// RequestsPerSecond throttles all upstream calls; zero disables it.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// PollerConfig holds run polling settings
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxWait     time.Duration `yaml:"max_wait"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// SessionsConfig holds live chat session settings
type SessionsConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepSchedule string        `yaml:"sweep_schedule"`
	MaxSessions   int           `yaml:"max_sessions"`
	CancelOnClose bool          `yaml:"cancel_on_close"`
	Greeting      string        `yaml:"greeting"`
}

// StoreConfig selects the assistant config backend
type StoreConfig struct {
	Backend   string          `yaml:"backend"` // memory, file, toml, redis, sqlite, firestore
	Path      string          `yaml:"path"`
	Redis     RedisConfig     `yaml:"redis"`
	Firestore FirestoreConfig `yaml:"firestore"`
}

// RedisConfig holds redis backend settings
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// FirestoreConfig holds firestore backend settings
type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	Collection      string `yaml:"collection"`
}

// ObservabilityConfig holds metrics and tracing settings
type ObservabilityConfig struct {
	// MetricsAddr serves /metrics and /health on a separate listener when set.
	MetricsAddr   string `yaml:"metrics_addr"`
	TraceExporter string `yaml:"trace_exporter"` // otlp, stdout, none
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	ServiceName   string `yaml:"service_name"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console, json
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":3001"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.OpenAI.RequestTimeout == 0 {
		c.OpenAI.RequestTimeout = 30 * time.Second
	}
	if c.Poller.Interval == 0 {
		c.Poller.Interval = 1500 * time.Millisecond
	}
	if c.Poller.MaxWait == 0 {
		c.Poller.MaxWait = 2 * time.Minute
	}
	if c.Sessions.IdleTimeout == 0 {
		c.Sessions.IdleTimeout = 30 * time.Minute
	}
	if c.Sessions.SweepSchedule == "" {
		c.Sessions.SweepSchedule = "@every 1m"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "file"
	}
	if c.Observability.TraceExporter == "" {
		c.Observability.TraceExporter = "none"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// ApplyEnv fills unset fields from the environment
func (c *Config) ApplyEnv() {
	setIfEmpty(&c.Server.PublicURL, "EMBEDCHAT_PUBLIC_URL")
	setIfEmpty(&c.Server.AdminToken, "EMBEDCHAT_ADMIN_TOKEN")
	if len(c.Server.AllowedOrigins) == 0 {
		for _, origin := range strings.Split(os.Getenv("EMBEDCHAT_ALLOWED_ORIGINS"), ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.Server.AllowedOrigins = append(c.Server.AllowedOrigins, origin)
			}
		}
	}
	setIfEmpty(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setIfEmpty(&c.Store.Redis.Addr, "REDIS_ADDR")
	setIfEmpty(&c.Store.Redis.Password, "REDIS_PASSWORD")
	setIfEmpty(&c.Store.Firestore.ProjectID, "GCP_PROJECT")
	setIfEmpty(&c.Store.Firestore.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	setIfEmpty(&c.Observability.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func setIfEmpty(field *string, env string) {
	if *field == "" {
		*field = os.Getenv(env)
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.ApplyEnv()
	return &cfg, nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.PublicURL != "" {
		u, err := url.Parse(c.Server.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.public_url must be an absolute http(s) URL: %q", c.Server.PublicURL))
		}
	}
	if c.Poller.Interval <= 0 {
		errs = append(errs, errors.New("poller.interval must be positive"))
	}
	if c.Poller.MaxWait < c.Poller.Interval {
		errs = append(errs, errors.New("poller.max_wait must be at least poller.interval"))
	}
	if c.Poller.MaxAttempts < 0 {
		errs = append(errs, errors.New("poller.max_attempts must not be negative"))
	}
	if c.OpenAI.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("openai.requests_per_second must not be negative"))
	}
	if c.Server.RateLimit.PerClientPerSecond < 0 || c.Server.RateLimit.GlobalPerSecond < 0 {
		errs = append(errs, errors.New("server.rate_limit rates must not be negative"))
	}
	if c.Sessions.MaxSessions < 0 {
		errs = append(errs, errors.New("sessions.max_sessions must not be negative"))
	}

	switch c.Store.Backend {
	case "memory", "file", "toml", "sqlite":
	case "redis":
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required for the redis backend"))
		}
	case "firestore":
		if c.Store.Firestore.ProjectID == "" {
			errs = append(errs, errors.New("store.firestore.project_id is required for the firestore backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend: %s", c.Store.Backend))
	}

	switch c.Observability.TraceExporter {
	case "otlp", "stdout", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown observability.trace_exporter: %s", c.Observability.TraceExporter))
	}

	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format: %s", c.Log.Format))
	}

	return errors.Join(errs...)
}
