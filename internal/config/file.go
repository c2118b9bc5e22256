package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFile represents the on-disk structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for parsing to handle duration strings
// and to tell an absent boolean apart from false
type ConfigFile struct {
	HTTP      *HTTPConfigFile      `json:"http" yaml:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket" yaml:"websocket"`
	Database  *DatabaseConfigFile  `json:"database" yaml:"database"`
	Auth      *AuthConfigFile      `json:"auth" yaml:"auth"`
	Streams   *StreamsConfigFile   `json:"streams" yaml:"streams"`
	Redis     *RedisConfigFile     `json:"redis" yaml:"redis"`
	Logger    *LoggerConfig        `json:"logger" yaml:"logger"`
	Metrics   *MetricsConfigFile   `json:"metrics" yaml:"metrics"`
}

type HTTPConfigFile struct {
	Host            string `json:"host" yaml:"host"`
	Port            int    `json:"port" yaml:"port"`
	ReadTimeout     string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    string `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout string `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type WebSocketConfigFile struct {
	Path            string   `json:"path" yaml:"path"`
	AuthTimeout     string   `json:"auth_timeout" yaml:"auth_timeout"`
	PingInterval    string   `json:"ping_interval" yaml:"ping_interval"`
	ReadTimeout     string   `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    string   `json:"write_timeout" yaml:"write_timeout"`
	SendBuffer      int      `json:"send_buffer" yaml:"send_buffer"`
	SendTimeout     string   `json:"send_timeout" yaml:"send_timeout"`
	MaxMessageBytes int64    `json:"max_message_bytes" yaml:"max_message_bytes"`
	AllowedOrigins  []string `json:"allowed_origins" yaml:"allowed_origins"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path" yaml:"path"`
	Timeout string `json:"timeout" yaml:"timeout"`
}

type AuthConfigFile struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	Issuer    string `json:"issuer" yaml:"issuer"`
	TokenTTL  string `json:"token_ttl" yaml:"token_ttl"`
}

type StreamsConfigFile struct {
	RestrictSubscribe *bool `json:"restrict_subscribe" yaml:"restrict_subscribe"`
	AlertQueueSize    int   `json:"alert_queue_size" yaml:"alert_queue_size"`
	HistoryLimit      int   `json:"history_limit" yaml:"history_limit"`
	OwnerCacheSize    int   `json:"owner_cache_size" yaml:"owner_cache_size"`
}

type RedisConfigFile struct {
	Enabled        *bool  `json:"enabled" yaml:"enabled"`
	Addr           string `json:"addr" yaml:"addr"`
	Password       string `json:"password" yaml:"password"`
	DB             int    `json:"db" yaml:"db"`
	Stream         string `json:"stream" yaml:"stream"`
	MaxLen         int64  `json:"max_len" yaml:"max_len"`
	PublishTimeout string `json:"publish_timeout" yaml:"publish_timeout"`
}

type MetricsConfigFile struct {
	Enabled   *bool     `json:"enabled" yaml:"enabled"`
	Path      string    `json:"path" yaml:"path"`
	Namespace string    `json:"namespace" yaml:"namespace"`
	Buckets   []float64 `json:"buckets" yaml:"buckets"`
}

// LoadFromFile reads a JSON or YAML file (by extension) over the defaults
func LoadFromFile(path string) (*Config, error) {
	config, err := applyFile(DefaultConfig(), path)
	if err != nil {
		return nil, err
	}
	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// LoadConfigWithPrecedence resolves configuration as file > environment > defaults
// and validates the result. An empty path skips the file layer.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()
	if path != "" {
		var err error
		if config, err = applyFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func parseFile(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".json", "":
		err = json.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &file, nil
}

func applyFile(config *Config, path string) (*Config, error) {
	file, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	d := durationSetter{path: path}

	if f := file.HTTP; f != nil {
		mergeString(&config.HTTP.Host, f.Host)
		mergeInt(&config.HTTP.Port, f.Port)
		d.set(&config.HTTP.ReadTimeout, "http.read_timeout", f.ReadTimeout)
		d.set(&config.HTTP.WriteTimeout, "http.write_timeout", f.WriteTimeout)
		d.set(&config.HTTP.ShutdownTimeout, "http.shutdown_timeout", f.ShutdownTimeout)
	}

	if f := file.WebSocket; f != nil {
		mergeString(&config.WebSocket.Path, f.Path)
		d.set(&config.WebSocket.AuthTimeout, "websocket.auth_timeout", f.AuthTimeout)
		d.set(&config.WebSocket.PingInterval, "websocket.ping_interval", f.PingInterval)
		d.set(&config.WebSocket.ReadTimeout, "websocket.read_timeout", f.ReadTimeout)
		d.set(&config.WebSocket.WriteTimeout, "websocket.write_timeout", f.WriteTimeout)
		mergeInt(&config.WebSocket.SendBuffer, f.SendBuffer)
		d.set(&config.WebSocket.SendTimeout, "websocket.send_timeout", f.SendTimeout)
		if f.MaxMessageBytes > 0 {
			config.WebSocket.MaxMessageBytes = f.MaxMessageBytes
		}
		if len(f.AllowedOrigins) > 0 {
			config.WebSocket.AllowedOrigins = f.AllowedOrigins
		}
	}

	if f := file.Database; f != nil {
		mergeString(&config.Database.Path, f.Path)
		d.set(&config.Database.Timeout, "database.timeout", f.Timeout)
	}

	if f := file.Auth; f != nil {
		mergeString(&config.Auth.JWTSecret, f.JWTSecret)
		mergeString(&config.Auth.Issuer, f.Issuer)
		d.set(&config.Auth.TokenTTL, "auth.token_ttl", f.TokenTTL)
	}

	if f := file.Streams; f != nil {
		if f.RestrictSubscribe != nil {
			config.Streams.RestrictSubscribe = *f.RestrictSubscribe
		}
		mergeInt(&config.Streams.AlertQueueSize, f.AlertQueueSize)
		mergeInt(&config.Streams.HistoryLimit, f.HistoryLimit)
		mergeInt(&config.Streams.OwnerCacheSize, f.OwnerCacheSize)
	}

	if f := file.Redis; f != nil {
		if f.Enabled != nil {
			config.Redis.Enabled = *f.Enabled
		}
		mergeString(&config.Redis.Addr, f.Addr)
		mergeString(&config.Redis.Password, f.Password)
		mergeInt(&config.Redis.DB, f.DB)
		mergeString(&config.Redis.Stream, f.Stream)
		if f.MaxLen > 0 {
			config.Redis.MaxLen = f.MaxLen
		}
		d.set(&config.Redis.PublishTimeout, "redis.publish_timeout", f.PublishTimeout)
	}

	if f := file.Logger; f != nil {
		mergeString(&config.Logger.Level, f.Level)
		mergeString(&config.Logger.Format, f.Format)
		mergeString(&config.Logger.Output, f.Output)
		mergeString(&config.Logger.FilePath, f.FilePath)
		mergeInt(&config.Logger.MaxSize, f.MaxSize)
		mergeInt(&config.Logger.MaxBackups, f.MaxBackups)
		mergeInt(&config.Logger.MaxAge, f.MaxAge)
		config.Logger.Compress = config.Logger.Compress || f.Compress
		config.Logger.Color = config.Logger.Color || f.Color
		config.Logger.Stacktrace = config.Logger.Stacktrace || f.Stacktrace
	}

	if f := file.Metrics; f != nil {
		if f.Enabled != nil {
			config.Metrics.Enabled = *f.Enabled
		}
		mergeString(&config.Metrics.Path, f.Path)
		mergeString(&config.Metrics.Namespace, f.Namespace)
		if len(f.Buckets) > 0 {
			config.Metrics.Buckets = f.Buckets
		}
	}

	if d.err != nil {
		return nil, d.err
	}
	return config, nil
}

// durationSetter records the first unparsable duration instead of silently dropping it
type durationSetter struct {
	path string
	err  error
}

func (d *durationSetter) set(dst *time.Duration, key, raw string) {
	if raw == "" || d.err != nil {
		return
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		d.err = fmt.Errorf("invalid duration for %s in %s: %w", key, d.path, err)
		return
	}
	*dst = parsed
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
