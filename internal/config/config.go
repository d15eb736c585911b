// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/httpclient-processor/config.toml",
	"configs/config.toml",
}

// Source and sink kinds.
const (
	KindNone  = "none"
	KindLog   = "log"
	KindRedis = "redis"
	KindKafka = "kafka"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Method   string `kong:"help='HTTP method for outbound requests (overrides config).',env='HTTP_METHOD'"`
	URL      string `kong:"name='url-expression',help='URL expression (overrides config).',env='URL_EXPRESSION'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Processor ProcessorConfig `toml:"processor"`
	Upstream  UpstreamConfig  `toml:"upstream"`
	Source    SourceConfig    `toml:"source"`
	Sink      SinkConfig      `toml:"sink"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP ingress settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ProcessorConfig describes how a message becomes a request and how the
// response becomes a reply. Expressions are compiled by the processor package.
type ProcessorConfig struct {
	HTTPMethod           string  `toml:"http_method"`
	URLExpression        string  `toml:"url_expression"`
	HeadersExpression    string  `toml:"headers_expression"`
	Body                 *string `toml:"body"` // nil when absent; an empty string is a valid body
	BodyExpression       string  `toml:"body_expression"`
	ReplyExpression      string  `toml:"reply_expression"`
	ExpectedResponseType string  `toml:"expected_response_type"`
	FailOnErrorStatus    *bool   `toml:"fail_on_error_status"`
}

// FailOnStatus reports whether non-2xx responses are treated as transport errors.
func (p *ProcessorConfig) FailOnStatus() bool {
	return p.FailOnErrorStatus == nil || *p.FailOnErrorStatus
}

// UpstreamConfig holds outbound connection settings.
type UpstreamConfig struct {
	TimeoutSeconds   int   `toml:"timeout_seconds"`
	IdleConnections  int   `toml:"idle_connections"`
	MaxResponseBytes int64 `toml:"max_response_bytes"`
}

// SourceConfig selects where inbound messages come from besides the HTTP ingress.
type SourceConfig struct {
	Kind  string      `toml:"kind"`
	Redis RedisConfig `toml:"redis"`
	Kafka KafkaConfig `toml:"kafka"`
}

// SinkConfig selects where outbound messages from the source go.
type SinkConfig struct {
	Kind  string      `toml:"kind"`
	Redis RedisConfig `toml:"redis"`
	Kafka KafkaConfig `toml:"kafka"`
}

// RedisConfig holds Redis pub/sub settings.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"`
}

// KafkaConfig holds Kafka settings shared by the source and sink.
type KafkaConfig struct {
	Brokers   []string `toml:"brokers"`
	Topic     string   `toml:"topic"`
	GroupID   string   `toml:"group_id"`
	Version   string   `toml:"version"`
	StartFrom string   `toml:"start_from"` // oldest|newest
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/httpclient-processor/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Method != "" {
		c.Processor.HTTPMethod = cli.Method
	}
	if cli.URL != "" {
		c.Processor.URLExpression = cli.URL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// knownMethods lists the methods accepted for processor.http_method.
var knownMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodDelete: true, http.MethodPatch: true, http.MethodHead: true,
	http.MethodOptions: true, http.MethodTrace: true,
}

func (c *Config) validate() error {
	// Processor.
	if strings.TrimSpace(c.Processor.URLExpression) == "" {
		return fmt.Errorf("processor.url_expression is required")
	}
	if m := strings.ToUpper(c.Processor.HTTPMethod); m != "" && !knownMethods[m] {
		return fmt.Errorf("processor.http_method %q is not supported", c.Processor.HTTPMethod)
	}
	switch c.Processor.ExpectedResponseType {
	case "", "string", "bytes", "json":
		// valid
	default:
		return fmt.Errorf("processor.expected_response_type must be one of: string, bytes, json; got %q", c.Processor.ExpectedResponseType)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.MaxResponseBytes < 0 {
		return fmt.Errorf("upstream.max_response_bytes must be non-negative; got %d", c.Upstream.MaxResponseBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Channels.
	switch c.Source.Kind {
	case "", KindNone:
	case KindRedis:
		if err := validateRedis("source.redis", c.Source.Redis); err != nil {
			return err
		}
	case KindKafka:
		if err := validateKafka("source.kafka", c.Source.Kafka); err != nil {
			return err
		}
		if c.Source.Kafka.GroupID == "" {
			return fmt.Errorf("source.kafka.group_id is required")
		}
	default:
		return fmt.Errorf("source.kind must be one of: none, redis, kafka; got %q", c.Source.Kind)
	}
	switch c.Sink.Kind {
	case "", KindLog:
	case KindRedis:
		if err := validateRedis("sink.redis", c.Sink.Redis); err != nil {
			return err
		}
	case KindKafka:
		if err := validateKafka("sink.kafka", c.Sink.Kafka); err != nil {
			return err
		}
	default:
		return fmt.Errorf("sink.kind must be one of: log, redis, kafka; got %q", c.Sink.Kind)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/messages", "/healthz", "/processor/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func validateRedis(prefix string, r RedisConfig) error {
	if r.Addr == "" {
		return fmt.Errorf("%s.addr is required", prefix)
	}
	if r.Channel == "" {
		return fmt.Errorf("%s.channel is required", prefix)
	}
	return nil
}

func validateKafka(prefix string, k KafkaConfig) error {
	if len(k.Brokers) == 0 {
		return fmt.Errorf("%s.brokers is required", prefix)
	}
	if k.Topic == "" {
		return fmt.Errorf("%s.topic is required", prefix)
	}
	switch k.StartFrom {
	case "", "oldest", "newest":
	default:
		return fmt.Errorf("%s.start_from must be oldest or newest; got %q", prefix, k.StartFrom)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	c.Processor.HTTPMethod = strings.ToUpper(c.Processor.HTTPMethod)
	if c.Processor.HTTPMethod == "" {
		c.Processor.HTTPMethod = http.MethodGet
	}
	if c.Processor.ReplyExpression == "" {
		c.Processor.ReplyExpression = "body"
	}
	if c.Processor.ExpectedResponseType == "" {
		c.Processor.ExpectedResponseType = "string"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.MaxResponseBytes == 0 {
		c.Upstream.MaxResponseBytes = 10 * 1024 * 1024
	}
	if c.Source.Kind == "" {
		c.Source.Kind = KindNone
	}
	if c.Sink.Kind == "" {
		c.Sink.Kind = KindLog
	}
	for _, k := range []*KafkaConfig{&c.Source.Kafka, &c.Sink.Kafka} {
		if k.Version == "" {
			k.Version = "2.8.0"
		}
		if k.StartFrom == "" {
			k.StartFrom = "newest"
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// Redis passwords may live in the file.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
