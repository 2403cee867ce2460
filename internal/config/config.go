// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/popup-crawler/internal/classify"
	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

// Storage drivers for the relational record store.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Sitemap   SitemapConfig   `mapstructure:"sitemap"`
	Rules     classify.Rules  `mapstructure:"rules"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`

	// Warnings collects non-fatal problems found while loading.
	Warnings []string `mapstructure:"-"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig configures the fetcher and its retry behavior.
type HTTPConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Attempts          int           `mapstructure:"attempts"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	Jitter            bool          `mapstructure:"jitter"`
}

// RateLimitConfig sets the global request rate shared by all workers.
type RateLimitConfig struct {
	QPS float64 `mapstructure:"qps"`
}

// CrawlConfig governs the dispatcher and per-ID pipeline.
type CrawlConfig struct {
	Workers           int      `mapstructure:"workers"`
	Locales           []string `mapstructure:"locales"`
	Fast              bool     `mapstructure:"fast"`
	MaxItems          int      `mapstructure:"max_items"`
	PopupsOnly        bool     `mapstructure:"popups_only"`
	DetailURLTemplate string   `mapstructure:"detail_url_template"`
}

// SitemapConfig locates detail pages.
type SitemapConfig struct {
	IndexURL       string `mapstructure:"index_url"`
	IncludePattern string `mapstructure:"include_pattern"`
	IDPattern      string `mapstructure:"id_pattern"`
}

// StorageConfig sets persistence targets.
type StorageConfig struct {
	RecordsDir  string `mapstructure:"records_dir"`
	ReportPath  string `mapstructure:"report_path"`
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	CachePath   string `mapstructure:"cache_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	GCSPrefix   string `mapstructure:"gcs_prefix"`
}

// PubSubConfig holds metadata for record-saved notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds a Config from disk and environment. A config file that cannot
// be read is reported in Warnings and defaults plus environment are used.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var warnings []string
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			warnings = append(warnings, fmt.Sprintf("config file %s ignored: %v", path, err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Warnings = warnings
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("http.user_agent", "popup-crawler/1.0")
	v.SetDefault("http.timeout", 20*time.Second)
	v.SetDefault("http.attempts", 3)
	v.SetDefault("http.backoff_initial", time.Second)
	v.SetDefault("http.backoff_max", 10*time.Second)
	v.SetDefault("http.backoff_multiplier", 2.0)
	v.SetDefault("http.jitter", true)

	v.SetDefault("rate_limit.qps", 1.25)

	v.SetDefault("crawl.workers", 4)
	v.SetDefault("crawl.locales", []string{"ko", "en", "ja"})
	v.SetDefault("crawl.fast", false)
	v.SetDefault("crawl.max_items", 0)
	v.SetDefault("crawl.popups_only", true)
	v.SetDefault("crawl.detail_url_template", "https://interparkglobal.com/{locale}/festas/{id}")

	v.SetDefault("sitemap.index_url", "https://triple.global/sitemap-index.xml")
	v.SetDefault("sitemap.include_pattern", "sitemap-festa-detail-urls-")
	v.SetDefault("sitemap.id_pattern", `/festas/([0-9a-f\-]{36})`)

	rules := classify.DefaultRules()
	v.SetDefault("rules.categories", rules.Categories)
	v.SetDefault("rules.keywords", rules.Keywords)
	v.SetDefault("rules.max_days", rules.MaxDays)

	v.SetDefault("storage.records_dir", "data/popups")
	v.SetDefault("storage.report_path", "data/crawl_report.json")
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", "data/popups.sqlite")
	v.SetDefault("storage.cache_path", "data/http_cache.sqlite")
	v.SetDefault("storage.gcs_prefix", "records")

	v.SetDefault("metrics.listen_addr", "")
}

// Validate enforces required values and reasonable limits. All problems are
// reported together.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	_, levelErr := zapcore.ParseLevel(c.Logging.Level)
	check(levelErr == nil, "logging.level %q is not a valid level", c.Logging.Level)

	check(c.HTTP.Timeout > 0, "http.timeout must be > 0")
	check(c.HTTP.Attempts >= 1, "http.attempts must be >= 1")
	check(c.HTTP.BackoffInitial > 0, "http.backoff_initial must be > 0")
	check(c.HTTP.BackoffMax >= c.HTTP.BackoffInitial, "http.backoff_max must be >= http.backoff_initial")
	check(c.HTTP.BackoffMultiplier >= 1, "http.backoff_multiplier must be >= 1")
	check(c.RateLimit.QPS >= 0, "rate_limit.qps must be >= 0")

	check(c.Crawl.Workers > 0, "crawl.workers must be > 0")
	check(len(c.Crawl.Locales) > 0, "crawl.locales must not be empty")
	check(c.Crawl.MaxItems >= 0, "crawl.max_items must be >= 0")
	check(strings.Contains(c.Crawl.DetailURLTemplate, "{id}"), "crawl.detail_url_template must contain {id}")

	check(c.Sitemap.IndexURL != "", "sitemap.index_url is required")
	if re, err := regexp.Compile(c.Sitemap.IDPattern); err != nil {
		check(false, "sitemap.id_pattern: %v", err)
	} else {
		check(re.NumSubexp() >= 1, "sitemap.id_pattern must contain a capture group")
	}

	check(c.Rules.MaxDays > 0, "rules.max_days must be > 0")
	check(len(c.Rules.Categories) > 0 || len(c.Rules.Keywords) > 0, "rules must define categories or keywords")

	check(c.Storage.RecordsDir != "", "storage.records_dir is required")
	switch c.Storage.Driver {
	case DriverSQLite:
		check(c.Storage.SQLitePath != "", "storage.sqlite_path is required for the sqlite driver")
	case DriverPostgres:
		check(c.Storage.PostgresDSN != "", "storage.postgres_dsn is required for the postgres driver")
	case DriverNone:
	default:
		check(false, "storage.driver %q must be one of sqlite, postgres, none", c.Storage.Driver)
	}

	check(c.PubSub.TopicName == "" || c.PubSub.ProjectID != "", "pubsub.project_id is required when pubsub.topic_name is set")

	return errors.Join(errs...)
}

// RetryPolicy builds the fetcher retry policy from the HTTP settings.
func (c Config) RetryPolicy() *crawler.ExponentialRetryPolicy {
	return crawler.NewRetryPolicy(
		c.HTTP.Attempts,
		c.HTTP.BackoffInitial,
		c.HTTP.BackoffMax,
		c.HTTP.BackoffMultiplier,
		c.HTTP.Jitter,
	)
}
