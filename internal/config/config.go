package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"streamrelay/pkg/logger"
)

// EnvPrefix is prepended to every environment variable the relay reads
const EnvPrefix = "RELAY_"

// MinSecretLength is the shortest JWT secret accepted by Validate
const MinSecretLength = 32

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	HTTP      *HTTPConfig      `json:"http" yaml:"http"`
	WebSocket *WebSocketConfig `json:"websocket" yaml:"websocket"`
	Database  *DatabaseConfig  `json:"database" yaml:"database"`
	Auth      *AuthConfig      `json:"auth" yaml:"auth"`
	Streams   *StreamsConfig   `json:"streams" yaml:"streams"`
	Redis     *RedisConfig     `json:"redis" yaml:"redis"`
	Logger    *LoggerConfig    `json:"logger" yaml:"logger"`
	Metrics   *MetricsConfig   `json:"metrics" yaml:"metrics"`
}

type HTTPConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// FUNCTIONAL DISCOVERY: Unauthenticated sockets are closed after AuthTimeout;
// SendTimeout bounds how long one slow consumer can hold up fan-out
type WebSocketConfig struct {
	Path            string        `json:"path"`
	AuthTimeout     time.Duration `json:"auth_timeout"`
	PingInterval    time.Duration `json:"ping_interval"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	SendBuffer      int           `json:"send_buffer"`
	SendTimeout     time.Duration `json:"send_timeout"`
	MaxMessageBytes int64         `json:"max_message_bytes"`
	AllowedOrigins  []string      `json:"allowed_origins"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type AuthConfig struct {
	JWTSecret string        `json:"-"`
	Issuer    string        `json:"issuer"`
	TokenTTL  time.Duration `json:"token_ttl"`
}

// StreamsConfig governs ownership and alert archival
type StreamsConfig struct {
	RestrictSubscribe bool `json:"restrict_subscribe"`
	AlertQueueSize    int  `json:"alert_queue_size"`
	HistoryLimit      int  `json:"history_limit"`
	OwnerCacheSize    int  `json:"owner_cache_size"`
}

type RedisConfig struct {
	Enabled        bool          `json:"enabled"`
	Addr           string        `json:"addr"`
	Password       string        `json:"-"`
	DB             int           `json:"db"`
	Stream         string        `json:"stream"`
	MaxLen         int64         `json:"max_len"`
	PublishTimeout time.Duration `json:"publish_timeout"`
}

type LoggerConfig = logger.Config

type MetricsConfig struct {
	Enabled   bool      `json:"enabled"`
	Path      string    `json:"path"`
	Namespace string    `json:"namespace"`
	Buckets   []float64 `json:"buckets"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults; only the JWT secret must be supplied
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			Path:            "/ws",
			AuthTimeout:     10 * time.Second,
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			SendBuffer:      100,
			SendTimeout:     50 * time.Millisecond,
			MaxMessageBytes: 1 << 20,
		},
		Database: &DatabaseConfig{
			Path:    "./streamrelay.db",
			Timeout: 30 * time.Second,
		},
		Auth: &AuthConfig{
			Issuer:   "streamrelay",
			TokenTTL: 24 * time.Hour,
		},
		Streams: &StreamsConfig{
			AlertQueueSize: 1000,
			HistoryLimit:   50,
			OwnerCacheSize: 10000,
		},
		Redis: &RedisConfig{
			Addr:           "localhost:6379",
			Stream:         "relay:status",
			MaxLen:         10000,
			PublishTimeout: 2 * time.Second,
		},
		Logger: logger.DefaultConfig(),
		Metrics: &MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "streamrelay",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	// port 0 asks the kernel for an ephemeral port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		return fmt.Errorf("WebSocket path must start with /")
	}
	if c.WebSocket.AuthTimeout <= 0 {
		return fmt.Errorf("WebSocket auth timeout must be positive")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 || c.WebSocket.SendTimeout <= 0 {
		return fmt.Errorf("WebSocket write and send timeouts must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("WebSocket send buffer must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("WebSocket max message bytes must be positive")
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if len(c.Auth.JWTSecret) < MinSecretLength {
		return fmt.Errorf("auth jwt secret must be at least %d characters", MinSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token ttl must be positive")
	}

	if c.Streams == nil {
		return fmt.Errorf("streams configuration is required")
	}
	if c.Streams.AlertQueueSize <= 0 {
		return fmt.Errorf("alert queue size must be positive")
	}
	if c.Streams.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive")
	}
	if c.Streams.OwnerCacheSize <= 0 {
		return fmt.Errorf("owner cache size must be positive")
	}

	if c.Redis == nil {
		return fmt.Errorf("redis configuration is required")
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" || c.Redis.Stream == "" {
			return fmt.Errorf("redis addr and stream are required when redis is enabled")
		}
		if c.Redis.PublishTimeout <= 0 {
			return fmt.Errorf("redis publish timeout must be positive")
		}
	}

	if c.Logger == nil {
		return fmt.Errorf("logger configuration is required")
	}
	if _, err := logger.ParseLevel(c.Logger.Level); err != nil {
		return err
	}

	if c.Metrics == nil {
		return fmt.Errorf("metrics configuration is required")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /")
	}
	return nil
}

// Address returns the host:port the HTTP server listens on
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadDotEnv loads variables from a .env file without overriding the real environment
// FUNCTIONAL DISCOVERY: A missing .env file is normal outside local development
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// FUNCTIONAL DISCOVERY: Environment variables override defaults; unparsable values are ignored
func LoadFromEnv() *Config {
	return applyEnv(DefaultConfig())
}

func applyEnv(config *Config) *Config {
	setString(&config.HTTP.Host, "HTTP_HOST")
	setInt(&config.HTTP.Port, "HTTP_PORT")
	setDuration(&config.HTTP.ReadTimeout, "HTTP_READ_TIMEOUT")
	setDuration(&config.HTTP.WriteTimeout, "HTTP_WRITE_TIMEOUT")
	setDuration(&config.HTTP.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT")

	setString(&config.WebSocket.Path, "WEBSOCKET_PATH")
	setDuration(&config.WebSocket.AuthTimeout, "WEBSOCKET_AUTH_TIMEOUT")
	setDuration(&config.WebSocket.PingInterval, "WEBSOCKET_PING_INTERVAL")
	setDuration(&config.WebSocket.ReadTimeout, "WEBSOCKET_READ_TIMEOUT")
	setDuration(&config.WebSocket.WriteTimeout, "WEBSOCKET_WRITE_TIMEOUT")
	setInt(&config.WebSocket.SendBuffer, "WEBSOCKET_SEND_BUFFER")
	setDuration(&config.WebSocket.SendTimeout, "WEBSOCKET_SEND_TIMEOUT")
	setInt64(&config.WebSocket.MaxMessageBytes, "WEBSOCKET_MAX_MESSAGE_BYTES")
	if origins := env("WEBSOCKET_ALLOWED_ORIGINS"); origins != "" {
		config.WebSocket.AllowedOrigins = splitList(origins)
	}

	setString(&config.Database.Path, "DATABASE_PATH")
	setDuration(&config.Database.Timeout, "DATABASE_TIMEOUT")

	setString(&config.Auth.JWTSecret, "AUTH_JWT_SECRET")
	setString(&config.Auth.Issuer, "AUTH_ISSUER")
	setDuration(&config.Auth.TokenTTL, "AUTH_TOKEN_TTL")

	setBool(&config.Streams.RestrictSubscribe, "STREAMS_RESTRICT_SUBSCRIBE")
	setInt(&config.Streams.AlertQueueSize, "STREAMS_ALERT_QUEUE_SIZE")
	setInt(&config.Streams.HistoryLimit, "STREAMS_HISTORY_LIMIT")
	setInt(&config.Streams.OwnerCacheSize, "STREAMS_OWNER_CACHE_SIZE")

	setBool(&config.Redis.Enabled, "REDIS_ENABLED")
	setString(&config.Redis.Addr, "REDIS_ADDR")
	setString(&config.Redis.Password, "REDIS_PASSWORD")
	setInt(&config.Redis.DB, "REDIS_DB")
	setString(&config.Redis.Stream, "REDIS_STREAM")
	setInt64(&config.Redis.MaxLen, "REDIS_MAX_LEN")
	setDuration(&config.Redis.PublishTimeout, "REDIS_PUBLISH_TIMEOUT")

	setString(&config.Logger.Level, "LOG_LEVEL")
	setString(&config.Logger.Format, "LOG_FORMAT")
	setString(&config.Logger.Output, "LOG_OUTPUT")
	setString(&config.Logger.FilePath, "LOG_FILE_PATH")

	setBool(&config.Metrics.Enabled, "METRICS_ENABLED")
	setString(&config.Metrics.Path, "METRICS_PATH")
	setString(&config.Metrics.Namespace, "METRICS_NAMESPACE")
	return config
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + key))
}

func setString(dst *string, key string) {
	if v := env(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := env(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := env(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := env(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := env(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
