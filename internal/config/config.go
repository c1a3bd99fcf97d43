// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultQueries is the disease list swept when no queries are configured.
var DefaultQueries = []string{
	"Lung Cancer",
	"Breast Cancer",
	"Pancreatic Cancer",
	"Leukemia",
	"Prostate Cancer",
}

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Crawler     CrawlerConfig     `mapstructure:"crawler"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Database    DatabaseConfig    `mapstructure:"database"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Server      ServerConfig      `mapstructure:"server"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Cleaning    CleaningConfig    `mapstructure:"cleaning"`
	PubMed      PubMedConfig      `mapstructure:"pubmed"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

// CrawlerConfig governs the query sweep.
type CrawlerConfig struct {
	Queries    []string `mapstructure:"queries"`
	MaxPages   int      `mapstructure:"max_pages"`
	FlushEvery int      `mapstructure:"flush_every"`
	Workers    int      `mapstructure:"workers"`
	BaseURL    string   `mapstructure:"base_url"`

	// NavigationRPS caps page loads per host across all workers; 0 disables it.
	NavigationRPS   float64 `mapstructure:"navigation_rps"`
	NavigationBurst int     `mapstructure:"navigation_burst"`
}

// BrowserConfig configures the headless Chrome session.
type BrowserConfig struct {
	Headless       bool          `mapstructure:"headless"`
	UserAgent      string        `mapstructure:"user_agent"`
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	ExecPath       string        `mapstructure:"exec_path"`
	NoSandbox      bool          `mapstructure:"no_sandbox"`
	WaitTimeout    time.Duration `mapstructure:"wait_timeout"`
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	ListingSettle  time.Duration `mapstructure:"listing_settle"`
	DetailSettle   time.Duration `mapstructure:"detail_settle"`
}

// PersistenceConfig controls the primary CSV export.
type PersistenceConfig struct {
	OutputPath             string `mapstructure:"output_path"`
	MaxConsecutiveFailures int    `mapstructure:"max_consecutive_failures"`
}

// StorageConfig selects an optional blob mirror for each flushed export.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem mirror.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig controls the optional Postgres mirror.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	RunsTable       string        `mapstructure:"runs_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for flush notifications. Backend "memory"
// records notices in-process instead of publishing them.
type PubSubConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the status/metrics HTTP server. An empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// ProgressConfig toggles progress event fan-out.
type ProgressConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	LogEnabled bool `mapstructure:"log_enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
}

// CleaningConfig controls the downstream cleaning stage.
type CleaningConfig struct {
	InputPath   string `mapstructure:"input_path"`
	OutputDir   string `mapstructure:"output_dir"`
	RegionsFile string `mapstructure:"regions_file"`
}

// PubMedConfig controls the publication count lookups.
type PubMedConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Year       int           `mapstructure:"year"`
	QPS        float64       `mapstructure:"qps"`
	Timeout    time.Duration `mapstructure:"timeout"`
	OutputPath string        `mapstructure:"output_path"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls OpenTelemetry spans. Stdout pretty-prints finished
// spans to stderr.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Stdout  bool `mapstructure:"stdout"`
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
	cfg.Crawler.Queries = NormalizeQueries(cfg.Crawler.Queries)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.queries", DefaultQueries)
	v.SetDefault("crawler.max_pages", 30)
	v.SetDefault("crawler.flush_every", 10)
	v.SetDefault("crawler.workers", 1)
	v.SetDefault("crawler.base_url", "https://clinicaltrials.gov")
	v.SetDefault("crawler.navigation_rps", 0)
	v.SetDefault("crawler.navigation_burst", 1)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.wait_timeout", "10s")
	v.SetDefault("browser.nav_timeout", "45s")
	v.SetDefault("browser.probe_timeout", "5s")
	v.SetDefault("browser.listing_settle", "2s")
	v.SetDefault("browser.detail_settle", "500ms")
	v.SetDefault("persistence.output_path", "data/scraping/FINAL_DATASET_CANCER.csv")
	v.SetDefault("persistence.max_consecutive_failures", 3)
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "exports")
	v.SetDefault("database.table", "trial_records")
	v.SetDefault("database.runs_table", "crawl_runs")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("cleaning.input_path", "data/scraping/FINAL_DATASET_CANCER.csv")
	v.SetDefault("cleaning.output_dir", "data_clean")
	v.SetDefault("pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("pubmed.year", 2024)
	v.SetDefault("pubmed.qps", 1.0)
	v.SetDefault("pubmed.timeout", "15s")
	v.SetDefault("pubmed.output_path", "data/DATA_API_PUBMED.csv")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.stdout", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Crawler.Queries) == 0 {
		return fmt.Errorf("crawler.queries must include at least one query")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Crawler.FlushEvery <= 0 {
		return fmt.Errorf("crawler.flush_every must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.BaseURL == "" {
		return fmt.Errorf("crawler.base_url must be set")
	}
	if c.Crawler.NavigationRPS < 0 {
		return fmt.Errorf("crawler.navigation_rps must be >= 0")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport must be positive")
	}
	if c.Browser.WaitTimeout <= 0 {
		return fmt.Errorf("browser.wait_timeout must be > 0")
	}
	if c.Browser.ListingSettle < 0 || c.Browser.DetailSettle < 0 {
		return fmt.Errorf("browser settle delays must be >= 0")
	}
	if c.Persistence.OutputPath == "" {
		return fmt.Errorf("persistence.output_path must be set")
	}
	switch c.Storage.Backend {
	case "", "none":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set when storage.backend is local")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.PubSub.Backend {
	case "", "gcp":
		if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
		}
	case "memory":
		if c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.topic_name must be set when pubsub.backend is memory")
		}
	default:
		return fmt.Errorf("unknown pubsub.backend %q", c.PubSub.Backend)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	if c.PubMed.QPS < 0 {
		return fmt.Errorf("pubmed.qps must be >= 0")
	}
	return nil
}

// ProgressBuffer returns the configured hub buffer size.
func (c Config) ProgressBuffer() int {
	return c.Progress.BufferSize
}

// NormalizeQueries trims every query and drops blanks and repeats, keeping
// first-seen order.
func NormalizeQueries(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{})
	for _, q := range in {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}
