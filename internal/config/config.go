// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
)

// Output sink kinds.
const (
	OutputCSV      = "csv"
	OutputPostgres = "postgres"
	OutputSQLite   = "sqlite"
)

// Export kinds.
const (
	ExportNone  = "none"
	ExportGCS   = "gcs"
	ExportLocal = "local"
)

// Claim policies, mirrored from the worker package to keep config free of it.
const (
	ClaimAtMostOnce = "at_most_once"
	ClaimRollback   = "rollback"
)

// DefaultKeywords are the bank search terms of the Moroccan deployment.
var DefaultKeywords = []string{
	"Banque", "Bank", "Attijariwafa", "Banque Populaire",
	"Bank of Africa", "BMCE", "BMCI", "CIH",
	"Crédit Agricole", "Crédit du Maroc", "Société Générale",
	"Al Barid", "CFG Bank",
}

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Areas     AreasConfig     `mapstructure:"areas"`
	Grid      GridConfig      `mapstructure:"grid"`
	Geofence  GeofenceConfig  `mapstructure:"geofence"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Maps      MapsConfig      `mapstructure:"maps"`
	Output    OutputConfig    `mapstructure:"output"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Export    ExportConfig    `mapstructure:"export"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AreasConfig points at the area descriptor file.
type AreasConfig struct {
	Path  string   `mapstructure:"path"`
	Names []string `mapstructure:"names"`
	Limit int      `mapstructure:"limit"`
}

// GridConfig controls the lattice spacing.
type GridConfig struct {
	StepDegrees float64 `mapstructure:"step_degrees"`
}

// GeofenceConfig bounds how far a result may be from its cell.
type GeofenceConfig struct {
	ThresholdKM float64 `mapstructure:"threshold_km"`
}

// CrawlerConfig governs the worker pool and search behavior.
type CrawlerConfig struct {
	Workers        int           `mapstructure:"workers"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	ClaimPolicy    string        `mapstructure:"claim_policy"`
	Keywords       []string      `mapstructure:"keywords"`
	Zoom           int           `mapstructure:"zoom"`
	SpoofLocation  bool          `mapstructure:"spoof_location"`
	BlockResources bool          `mapstructure:"block_resources"`
	Locale         string        `mapstructure:"locale"`
}

// BrowserConfig configures the Chrome instance launched per area.
type BrowserConfig struct {
	Headless     bool          `mapstructure:"headless"`
	ExecPath     string        `mapstructure:"exec_path"`
	UserAgent    string        `mapstructure:"user_agent"`
	NoSandbox    bool          `mapstructure:"no_sandbox"`
	StartTimeout time.Duration `mapstructure:"start_timeout"`
}

// MapsConfig tunes search and place page timing.
type MapsConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Language      string        `mapstructure:"language"`
	SearchTimeout time.Duration `mapstructure:"search_timeout"`
	FeedWait      time.Duration `mapstructure:"feed_wait"`
	ScrollRounds  int           `mapstructure:"scroll_rounds"`
	ScrollPause   time.Duration `mapstructure:"scroll_pause"`
	DetailTimeout time.Duration `mapstructure:"detail_timeout"`
	DetailWait    time.Duration `mapstructure:"detail_wait"`
}

// OutputConfig selects the result sink.
type OutputConfig struct {
	Kind    string   `mapstructure:"kind"`
	Path    string   `mapstructure:"path"`
	Columns []string `mapstructure:"columns"`
}

// PostgresConfig controls the Postgres sink.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// SQLiteConfig controls the SQLite sink.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// ExportConfig selects where the output file is copied after each area.
type ExportConfig struct {
	Kind  string            `mapstructure:"kind"`
	GCS   GCSExportConfig   `mapstructure:"gcs"`
	Local LocalExportConfig `mapstructure:"local"`
}

// GCSExportConfig sets bucket and object prefix.
type GCSExportConfig struct {
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// LocalExportConfig sets the archive directory.
type LocalExportConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for per-record notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// RateLimitConfig caps outgoing navigations. RPS 0 disables the limiter.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// MetricsConfig enables the metrics server when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POICRAWL")
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
	v.SetDefault("areas.path", "morocco_cities.json")
	v.SetDefault("areas.limit", 0)
	v.SetDefault("grid.step_degrees", 0.025)
	v.SetDefault("geofence.threshold_km", 6.0)
	v.SetDefault("crawler.workers", 5)
	v.SetDefault("crawler.cooldown", "3s")
	v.SetDefault("crawler.claim_policy", ClaimAtMostOnce)
	v.SetDefault("crawler.keywords", DefaultKeywords)
	v.SetDefault("crawler.zoom", 15)
	v.SetDefault("crawler.spoof_location", true)
	v.SetDefault("crawler.block_resources", true)
	v.SetDefault("crawler.locale", "en-US")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.start_timeout", "30s")
	v.SetDefault("maps.base_url", "https://www.google.com/maps")
	v.SetDefault("maps.language", "en")
	v.SetDefault("maps.search_timeout", "15s")
	v.SetDefault("maps.feed_wait", "5s")
	v.SetDefault("maps.scroll_rounds", 3)
	v.SetDefault("maps.scroll_pause", "700ms")
	v.SetDefault("maps.detail_timeout", "10s")
	v.SetDefault("maps.detail_wait", "4s")
	v.SetDefault("output.kind", OutputCSV)
	v.SetDefault("output.path", "morocco_banks.csv")
	v.SetDefault("output.columns", crawler.DefaultColumns)
	v.SetDefault("postgres.table", "places")
	v.SetDefault("postgres.max_conns", 8)
	v.SetDefault("postgres.max_conn_lifetime", "30m")
	v.SetDefault("sqlite.path", "poicrawl.db")
	v.SetDefault("export.kind", ExportNone)
	v.SetDefault("export.gcs.prefix", "poi")
	v.SetDefault("export.gcs.content_type", "text/csv; charset=utf-8")
	v.SetDefault("ratelimit.rps", 0)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Grid.StepDegrees <= 0 {
		return fmt.Errorf("grid.step_degrees must be > 0")
	}
	if c.Geofence.ThresholdKM <= 0 {
		return fmt.Errorf("geofence.threshold_km must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.Cooldown < 0 {
		return fmt.Errorf("crawler.cooldown must be >= 0")
	}
	switch c.Crawler.ClaimPolicy {
	case ClaimAtMostOnce, ClaimRollback:
	default:
		return fmt.Errorf("crawler.claim_policy must be %q or %q", ClaimAtMostOnce, ClaimRollback)
	}
	if len(c.Crawler.Keywords) == 0 {
		return fmt.Errorf("crawler.keywords must not be empty")
	}
	for _, kw := range c.Crawler.Keywords {
		if strings.TrimSpace(kw) == "" {
			return fmt.Errorf("crawler.keywords must not contain blank entries")
		}
	}
	if c.Crawler.Zoom < 1 || c.Crawler.Zoom > 21 {
		return fmt.Errorf("crawler.zoom must be between 1 and 21")
	}
	if c.Areas.Limit < 0 {
		return fmt.Errorf("areas.limit must be >= 0")
	}
	if err := c.validateOutput(); err != nil {
		return err
	}
	if err := c.validateExport(); err != nil {
		return err
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("ratelimit.rps must be >= 0")
	}
	return nil
}

func (c Config) validateOutput() error {
	switch c.Output.Kind {
	case OutputCSV:
		if c.Output.Path == "" {
			return fmt.Errorf("output.path must be set for csv output")
		}
		if err := crawler.ValidateColumns(c.Output.Columns); err != nil {
			return fmt.Errorf("output.columns: %w", err)
		}
	case OutputPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn must be set for postgres output")
		}
	case OutputSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path must be set for sqlite output")
		}
	default:
		return fmt.Errorf("output.kind must be one of csv, postgres, sqlite")
	}
	return nil
}

func (c Config) validateExport() error {
	switch c.Export.Kind {
	case "", ExportNone:
		return nil
	case ExportGCS:
		if c.Export.GCS.Bucket == "" {
			return fmt.Errorf("export.gcs.bucket must be set for gcs export")
		}
	case ExportLocal:
		if c.Export.Local.BaseDir == "" {
			return fmt.Errorf("export.local.base_dir must be set for local export")
		}
	default:
		return fmt.Errorf("export.kind must be one of none, gcs, local")
	}
	if c.Output.Kind != OutputCSV {
		return fmt.Errorf("export requires output.kind %q", OutputCSV)
	}
	return nil
}

// ExportEnabled reports whether an exporter should be built.
func (c Config) ExportEnabled() bool {
	return c.Export.Kind != "" && c.Export.Kind != ExportNone
}
