// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mapfolio/place-crawler/internal/place"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	DB       DBConfig       `mapstructure:"db"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Session  SessionConfig  `mapstructure:"session"`
	Blob     BlobConfig     `mapstructure:"blob"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// UpstreamConfig governs the place detail and folder listing clients.
type UpstreamConfig struct {
	DetailURL          string `mapstructure:"detail_url"`
	SearchURL          string `mapstructure:"search_url"`
	FolderURL          string `mapstructure:"folder_url"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	MaxAttempts        int    `mapstructure:"max_attempts"`
	BackoffBaseSeconds int    `mapstructure:"backoff_base_seconds"`
	UserAgent          string `mapstructure:"user_agent"`
	Referer            string `mapstructure:"referer"`
}

// SessionConfig governs bulk import behavior.
type SessionConfig struct {
	ItemDelayMs int `mapstructure:"item_delay_ms"`
	RetryLimit  int `mapstructure:"retry_limit"`
}

// BlobConfig sets the destination for raw payload archival.
type BlobConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	BaseDir  string `mapstructure:"base_dir"`
	Prefix   string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("db.provider", "postgres")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("upstream.detail_url", "https://pcmap-api.place.naver.com/place/graphql")
	v.SetDefault("upstream.search_url", "https://pcmap-api.place.naver.com/place/graphql")
	v.SetDefault("upstream.folder_url", "https://pages.map.naver.com/save-pages/api/maps-bookmark/v3/shares/%s/bookmarks")
	v.SetDefault("upstream.timeout_seconds", 60)
	v.SetDefault("upstream.max_attempts", 5)
	v.SetDefault("upstream.backoff_base_seconds", 7)
	v.SetDefault("upstream.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("upstream.referer", "https://map.naver.com/")
	v.SetDefault("session.item_delay_ms", 200)
	v.SetDefault("session.retry_limit", 5)
	v.SetDefault("blob.provider", "memory")
	v.SetDefault("blob.prefix", "raw")
	v.SetDefault("pubsub.provider", "memory")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.DB.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("db.provider must be postgres or memory, got %q", c.DB.Provider)
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream.timeout_seconds must be > 0")
	}
	if c.Upstream.MaxAttempts <= 0 {
		return fmt.Errorf("upstream.max_attempts must be > 0")
	}
	if c.Upstream.FolderURL != "" && !strings.Contains(c.Upstream.FolderURL, "%s") {
		return fmt.Errorf("upstream.folder_url must contain a %%s share id placeholder")
	}
	if c.Session.RetryLimit <= 0 {
		return fmt.Errorf("session.retry_limit must be > 0")
	}
	if c.Blob.Provider == "gcs" && c.Blob.Bucket == "" {
		return fmt.Errorf("blob.bucket must be set when blob.provider is gcs")
	}
	if c.Blob.Provider == "local" && c.Blob.BaseDir == "" {
		return fmt.Errorf("blob.base_dir must be set when blob.provider is local")
	}
	if c.PubSub.Provider == "gcp" && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub.provider is gcp")
	}
	return nil
}

// FetchTimeout converts the per-attempt timeout into a duration.
func (c UpstreamConfig) FetchTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetrySchedule converts the attempt/backoff knobs into a schedule.
func (c UpstreamConfig) RetrySchedule() place.RetrySchedule {
	return place.RetrySchedule{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   time.Duration(c.BackoffBaseSeconds) * time.Second,
	}
}

// ItemDelay converts the inter-item pause into a duration.
func (c SessionConfig) ItemDelay() time.Duration {
	return time.Duration(c.ItemDelayMs) * time.Millisecond
}
