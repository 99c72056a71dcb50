// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Session  SessionConfig  `mapstructure:"session"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Gallery  GalleryConfig  `mapstructure:"gallery"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	DB       DBConfig       `mapstructure:"db"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Ops      OpsConfig      `mapstructure:"ops"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Deadline DeadlineConfig `mapstructure:"deadline"`
}

// CrawlConfig governs the producer crawl loop.
type CrawlConfig struct {
	MaxPages             int      `mapstructure:"max_pages"`
	PageDelaySeconds     int      `mapstructure:"page_delay_seconds"`
	ProducerDelaySeconds int      `mapstructure:"producer_delay_seconds"`
	Kinds                []string `mapstructure:"kinds"`
	BaseURL              string   `mapstructure:"base_url"`
}

// SessionConfig bounds credential recovery per producer crawl.
type SessionConfig struct {
	MaxRefreshes        int `mapstructure:"max_refreshes"`
	MaxTransientRetries int `mapstructure:"max_transient_retries"`
	RetryBackoffSeconds int `mapstructure:"retry_backoff_seconds"`
}

// BrowserConfig configures the headless browser session.
type BrowserConfig struct {
	Headless          bool   `mapstructure:"headless"`
	UserAgent         string `mapstructure:"user_agent"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
}

// IngestConfig governs the media ingestion pipeline and consumer loop.
type IngestConfig struct {
	Concurrency            int `mapstructure:"concurrency"`
	MaxPosts               int `mapstructure:"max_posts"`
	MaxDownloadMB          int `mapstructure:"max_download_mb"`
	DownloadTimeoutSeconds int `mapstructure:"download_timeout_seconds"`
	UploadRetries          int `mapstructure:"upload_retries"`
	ThumbMaxDim            int `mapstructure:"thumb_max_dim"`
}

// GalleryConfig points at the media upload service.
type GalleryConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	AuthToken string `mapstructure:"auth_token"`
}

// SecretsConfig locates the credential bundle gist.
type SecretsConfig struct {
	GistID   string `mapstructure:"gist_id"`
	Token    string `mapstructure:"token"`
	FileName string `mapstructure:"file_name"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// ArchiveConfig enables raw-media archival; an empty bucket disables it.
type ArchiveConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for completion-event publishing; an empty topic
// disables it.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// OpsConfig controls the operational HTTP listener; an empty addr disables it.
type OpsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DeadlineConfig bounds the whole run.
type DeadlineConfig struct {
	RunHours int `mapstructure:"run_hours"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("crawl.max_pages", 10)
	v.SetDefault("crawl.page_delay_seconds", 5)
	v.SetDefault("crawl.producer_delay_seconds", 5)
	v.SetDefault("crawl.kinds", []string{"personal-account", "topic"})
	v.SetDefault("crawl.base_url", "https://m.weibo.cn")
	v.SetDefault("session.max_refreshes", 2)
	v.SetDefault("session.max_transient_retries", 2)
	v.SetDefault("session.retry_backoff_seconds", 2)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.max_posts", 100)
	v.SetDefault("ingest.max_download_mb", 50)
	v.SetDefault("ingest.download_timeout_seconds", 60)
	v.SetDefault("ingest.upload_retries", 2)
	v.SetDefault("ingest.thumb_max_dim", 600)
	v.SetDefault("secrets.file_name", "storage-state.json")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("archive.prefix", "media")
	v.SetDefault("logging.development", true)
	v.SetDefault("deadline.run_hours", 5)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.MaxPages <= 0 {
		return fmt.Errorf("crawl.max_pages must be > 0")
	}
	if c.Ingest.Concurrency <= 0 {
		return fmt.Errorf("ingest.concurrency must be > 0")
	}
	if c.Ingest.MaxDownloadMB <= 0 {
		return fmt.Errorf("ingest.max_download_mb must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Gallery.BaseURL == "" {
		return fmt.Errorf("gallery.base_url is required")
	}
	if c.Secrets.GistID == "" {
		return fmt.Errorf("secrets.gist_id is required")
	}
	if c.Secrets.Token == "" {
		return fmt.Errorf("secrets.token is required")
	}
	if c.Deadline.RunHours <= 0 {
		return fmt.Errorf("deadline.run_hours must be > 0")
	}
	for _, kind := range c.Crawl.Kinds {
		if kind != "personal-account" && kind != "topic" {
			return fmt.Errorf("crawl.kinds contains unknown kind %q", kind)
		}
	}
	return nil
}

// PageDelay returns the inter-page delay as a duration.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.Crawl.PageDelaySeconds) * time.Second
}

// ProducerDelay returns the inter-producer delay as a duration.
func (c Config) ProducerDelay() time.Duration {
	return time.Duration(c.Crawl.ProducerDelaySeconds) * time.Second
}

// DownloadTimeout returns the per-download budget as a duration.
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Ingest.DownloadTimeoutSeconds) * time.Second
}

// RunDeadline returns the process-wide wall-clock budget.
func (c Config) RunDeadline() time.Duration {
	return time.Duration(c.Deadline.RunHours) * time.Hour
}
