package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultGRPCPort          = 50051
	DefaultHTTPPort          = 8080
	DefaultCacheTTL          = 60 * time.Second
	DefaultFetchTimeout      = 30 * time.Second
	DefaultPollInterval      = 20 * time.Second
	DefaultWorkers           = 8
	DefaultQueueSize         = 64
	DefaultInboxSize         = 256
	DefaultDispatchTimeout   = 45 * time.Second
	DefaultUpstreamTimeout   = 10 * time.Second
	DefaultRatePerMinute     = 600
	DefaultBurst             = 10
	DefaultVideoIndex        = "videos"
	DefaultChannelIndex      = "channels"
	DefaultKafkaTopic        = "tubedrift.changes"
	DefaultWebhookTimeout    = 10 * time.Second
	DefaultLogLevel          = "info"
	DefaultUpstreamBackend   = "http"
	DefaultUpstreamAuthMode  = "none"
	DefaultServerAuthHeader  = "x-api-key"
	DefaultUpstreamKeyHeader = "x-api-key"
)

// Config is the top-level tubedrift configuration. Fields map 1:1 to
// config.example.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Cache      CacheConfig      `yaml:"cache"`
	Poller     PollerConfig     `yaml:"poller"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Notify     NotifyConfig     `yaml:"notify"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds listener and client-authentication settings.
type ServerConfig struct {
	// GRPCPort is the port the gRPC health service listens on (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort is the port the REST API and session WebSocket listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth configures how REST and gRPC clients authenticate.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header / gRPC metadata key to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return strings.ToLower(a.Header)
	}
	return DefaultServerAuthHeader
}

// CacheConfig controls the shared result cache.
type CacheConfig struct {
	// TTL is how long a fetched result is served from cache (default 60s).
	TTL time.Duration `yaml:"ttl"`

	// FetchTimeout bounds one de-duplicated upstream fetch (default 30s).
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// PollerConfig controls per-session drift polling.
type PollerConfig struct {
	// Interval is the period between poll cycles of one session (default 20s).
	// Hot-reloadable.
	Interval time.Duration `yaml:"interval"`
}

// DispatcherConfig sizes the request dispatcher and the upstream worker pool.
type DispatcherConfig struct {
	// Workers is the number of concurrent upstream fetches (default 8).
	Workers int `yaml:"workers"`

	// QueueSize is the depth of the worker pool queue (default 64).
	QueueSize int `yaml:"queue_size"`

	// InboxSize is the depth of the dispatcher inbox; requests beyond it are
	// answered with an error instead of blocking the caller (default 256).
	InboxSize int `yaml:"inbox_size"`

	// Timeout bounds one dispatched request end to end (default 45s).
	Timeout time.Duration `yaml:"timeout"`
}

// UpstreamConfig selects and configures the search/metadata provider.
type UpstreamConfig struct {
	// Backend is one of: http | elasticsearch.
	Backend string `yaml:"backend"`

	// Endpoint is the base URL of the HTTP provider.
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds a single provider call (default 10s).
	Timeout time.Duration `yaml:"timeout"`

	// RatePerMinute caps provider calls per minute across the process
	// (default 600). Burst is the token bucket depth (default 10).
	RatePerMinute int `yaml:"rate_per_minute"`
	Burst         int `yaml:"burst"`

	// Auth configures how tubedrift authenticates to the HTTP provider.
	Auth UpstreamAuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options for the HTTP provider.
	TLS TLSConfig `yaml:"tls"`

	// Elasticsearch configures the elasticsearch backend.
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`

	// ChannelFeedURL, when set, lists a channel's videos from its Atom feed
	// instead of the backend. It must contain one %s for the channel id, e.g.
	// "https://www.youtube.com/feeds/videos.xml?channel_id=%s".
	ChannelFeedURL string `yaml:"channel_feed_url"`
}

// UpstreamAuthConfig specifies the authentication mode for the provider.
type UpstreamAuthConfig struct {
	// Mode is one of: apikey | bearer | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header name the API key is sent in (default "x-api-key").
	Header string `yaml:"header"`

	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv is the name of the environment variable that holds the bearer token.
	TokenEnv string `yaml:"token_env"`
}

// Key returns the API key value resolved from the environment.
func (a UpstreamAuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a UpstreamAuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// EffectiveHeader returns the configured API key header or the default.
func (a UpstreamAuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultUpstreamKeyHeader
}

// TLSConfig holds provider TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// ElasticsearchConfig configures the elasticsearch provider backend.
type ElasticsearchConfig struct {
	Addresses    []string `yaml:"addresses"`
	VideoIndex   string   `yaml:"video_index"`
	ChannelIndex string   `yaml:"channel_index"`

	// Username is the literal basic-auth user; PasswordEnv names the
	// environment variable holding its password.
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Password returns the basic-auth password resolved from the environment.
func (e ElasticsearchConfig) Password() string {
	if e.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(e.PasswordEnv)
}

// NotifyConfig lists the sinks drift notifications are fanned out to, in
// addition to the session's own WebSocket.
type NotifyConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Kafka    KafkaConfig     `yaml:"kafka"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`

	// Timeout bounds a single delivery attempt (default 10s).
	Timeout time.Duration `yaml:"timeout"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// KafkaConfig configures the change-feed publisher. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether a Kafka sink should be built.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error. Hot-reloadable.
	Level string `yaml:"level"`
}

// SlogLevel maps Level onto a slog.Level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
		},
		Cache: CacheConfig{
			TTL:          DefaultCacheTTL,
			FetchTimeout: DefaultFetchTimeout,
		},
		Poller: PollerConfig{
			Interval: DefaultPollInterval,
		},
		Dispatcher: DispatcherConfig{
			Workers:   DefaultWorkers,
			QueueSize: DefaultQueueSize,
			InboxSize: DefaultInboxSize,
			Timeout:   DefaultDispatchTimeout,
		},
		Upstream: UpstreamConfig{
			Backend:       DefaultUpstreamBackend,
			Timeout:       DefaultUpstreamTimeout,
			RatePerMinute: DefaultRatePerMinute,
			Burst:         DefaultBurst,
			Auth:          UpstreamAuthConfig{Mode: DefaultUpstreamAuthMode},
			Elasticsearch: ElasticsearchConfig{
				VideoIndex:   DefaultVideoIndex,
				ChannelIndex: DefaultChannelIndex,
			},
		},
		Notify: NotifyConfig{
			Kafka: KafkaConfig{Topic: DefaultKafkaTopic},
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.GRPCPort <= 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", cfg.Server.GRPCPort)
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if cfg.Cache.FetchTimeout <= 0 {
		return fmt.Errorf("cache.fetch_timeout must be positive")
	}
	if cfg.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be positive")
	}
	if cfg.Dispatcher.Workers <= 0 {
		return fmt.Errorf("dispatcher.workers must be positive")
	}
	if cfg.Dispatcher.QueueSize <= 0 || cfg.Dispatcher.InboxSize <= 0 {
		return fmt.Errorf("dispatcher.queue_size and dispatcher.inbox_size must be positive")
	}
	if cfg.Dispatcher.Timeout <= 0 {
		return fmt.Errorf("dispatcher.timeout must be positive")
	}
	if err := validateUpstream(cfg.Upstream); err != nil {
		return err
	}
	for i, wh := range cfg.Notify.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("notify.webhooks[%d]: unknown type %q", i, wh.Type)
		}
		if wh.URLEnv == "" {
			return fmt.Errorf("notify.webhooks[%d]: url_env is required", i)
		}
	}
	if cfg.Notify.Kafka.Enabled() && cfg.Notify.Kafka.Topic == "" {
		return fmt.Errorf("notify.kafka.topic is required when brokers are set")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	return nil
}

func validateUpstream(up UpstreamConfig) error {
	switch up.Backend {
	case "http":
		if up.Endpoint == "" {
			return fmt.Errorf("upstream.endpoint is required for the http backend")
		}
	case "elasticsearch":
		if len(up.Elasticsearch.Addresses) == 0 {
			return fmt.Errorf("upstream.elasticsearch.addresses is required for the elasticsearch backend")
		}
		if up.Elasticsearch.VideoIndex == "" || up.Elasticsearch.ChannelIndex == "" {
			return fmt.Errorf("upstream.elasticsearch indices must not be empty")
		}
	default:
		return fmt.Errorf("upstream.backend %q unknown: want http|elasticsearch", up.Backend)
	}
	switch up.Auth.Mode {
	case "apikey", "bearer", "none", "":
	default:
		return fmt.Errorf("upstream.auth.mode %q unknown: want apikey|bearer|none", up.Auth.Mode)
	}
	if up.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if up.RatePerMinute <= 0 || up.Burst <= 0 {
		return fmt.Errorf("upstream.rate_per_minute and upstream.burst must be positive")
	}
	if up.ChannelFeedURL != "" && strings.Count(up.ChannelFeedURL, "%s") != 1 {
		return fmt.Errorf("upstream.channel_feed_url must contain exactly one %%s")
	}
	return nil
}
