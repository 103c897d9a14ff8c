package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/elonfeng/dealmatch/internal/retry"
	"github.com/elonfeng/dealmatch/pkg/match"
	"github.com/elonfeng/dealmatch/pkg/pipeline"
	"github.com/elonfeng/dealmatch/pkg/quality"
	"github.com/elonfeng/dealmatch/pkg/taxonomy"
	"github.com/elonfeng/dealmatch/pkg/validation"
)

// Config is the root configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Taxonomy   TaxonomyConfig   `yaml:"taxonomy"`
	Quality    QualityConfig    `yaml:"quality"`
	Match      match.Formula    `yaml:"match"`
	Validation ValidationConfig `yaml:"validation"`
	Assessment AssessmentConfig `yaml:"assessment"`
	Pipeline   pipeline.Options `yaml:"pipeline"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Server     ServerConfig     `yaml:"server"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// DatabaseConfig selects the store. Path is used by sqlite, DSN by postgres.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// Source returns the driver-specific data source string.
func (d DatabaseConfig) Source() string {
	if d.Driver == "postgres" {
		return d.DSN
	}
	return d.Path
}

// ScheduleConfig holds cron expressions for the daemon.
type ScheduleConfig struct {
	Rescore  string `yaml:"rescore"`
	Validate string `yaml:"validate"`
}

// TaxonomyConfig is the category rule table. Adjacency entries are pairs.
type TaxonomyConfig struct {
	Version   string          `yaml:"version"`
	Rules     []taxonomy.Rule `yaml:"rules"`
	Adjacency [][]string      `yaml:"adjacency"`
}

// Table builds the immutable taxonomy table.
func (t TaxonomyConfig) Table() (*taxonomy.Table, error) {
	pairs := make([][2]taxonomy.Tag, 0, len(t.Adjacency))
	for _, p := range t.Adjacency {
		if len(p) != 2 {
			return nil, fmt.Errorf("taxonomy %s: adjacency entry %v is not a pair", t.Version, p)
		}
		pairs = append(pairs, [2]taxonomy.Tag{taxonomy.Tag(p[0]), taxonomy.Tag(p[1])})
	}
	return taxonomy.New(t.Version, t.Rules, pairs)
}

// QualityConfig holds the quality formula and its calibration curve.
type QualityConfig struct {
	Params      quality.Params `yaml:",inline"`
	Calibration quality.Curve  `yaml:"calibration"`
}

// ValidationConfig holds the gate policy and sweep size.
type ValidationConfig struct {
	Policy     validation.Policy `yaml:",inline"`
	BatchLimit int               `yaml:"batch_limit"`
}

// AssessmentConfig configures the external assessment service.
type AssessmentConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Provider     string        `yaml:"provider"` // "openai" or "anthropic"
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"` // custom endpoint (optional)
	Timeout      time.Duration `yaml:"timeout"`
	Retry        retry.Policy  `yaml:"retry"`
	HourlyBudget int           `yaml:"hourly_budget"` // 0 = unlimited
	MinInterval  time.Duration `yaml:"min_interval"`
}

// AlertsConfig configures operator notice destinations.
type AlertsConfig struct {
	Slack     SlackConfig   `yaml:"slack"`
	Discord   DiscordConfig `yaml:"discord"`
	Webhook   WebhookConfig `yaml:"webhook"`
	OnPartial bool          `yaml:"on_partial"` // also notify on partial runs
}

// SlackConfig for Slack webhook notices.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook notices.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic signed webhook notices.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// MetricsConfig configures metric export for batch runs.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite", Path: "./dealmatch.db"},
		Schedule: ScheduleConfig{
			Rescore:  "0 3 * * *",
			Validate: "@every 30m",
		},
		Taxonomy: TaxonomyConfig{
			Version:   taxonomy.DefaultVersion,
			Rules:     taxonomy.DefaultRules,
			Adjacency: adjacencyPairs(taxonomy.DefaultAdjacency),
		},
		Quality: QualityConfig{
			Params:      quality.DefaultParams(),
			Calibration: quality.DefaultCurve(),
		},
		Match: match.DefaultFormula(),
		Validation: ValidationConfig{
			Policy:     validation.DefaultPolicy(),
			BatchLimit: 50,
		},
		Assessment: AssessmentConfig{
			Provider:     "openai",
			Model:        "gpt-4o-mini",
			Timeout:      60 * time.Second,
			Retry:        retry.DefaultPolicy(),
			HourlyBudget: 100,
			MinInterval:  2 * time.Second,
		},
		Pipeline: pipeline.DefaultOptions(),
		Alerts:   AlertsConfig{},
		Server:   ServerConfig{Port: 8080},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

func adjacencyPairs(pairs [][2]taxonomy.Tag) [][]string {
	out := make([][]string, len(pairs))
	for i, p := range pairs {
		out[i] = []string{string(p[0]), string(p[1])}
	}
	return out
}

// Load reads configuration from a YAML file, applies env var overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEALMATCH_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DEALMATCH_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DEALMATCH_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("DEALMATCH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Assessment.APIKey = v
		cfg.Assessment.Enabled = true
		cfg.Assessment.Provider = "openai"
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Assessment.APIKey = v
		cfg.Assessment.Enabled = true
		cfg.Assessment.Provider = "anthropic"
		if cfg.Assessment.Model == "gpt-4o-mini" {
			cfg.Assessment.Model = ""
		}
	}
}

// Validate checks every section and reports all problems together.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not sqlite or postgres", c.Database.Driver))
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, expr := range map[string]string{"schedule.rescore": c.Schedule.Rescore, "schedule.validate": c.Schedule.Validate} {
		if expr == "" {
			continue
		}
		if _, err := parser.Parse(expr); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if _, err := c.Taxonomy.Table(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Quality.Params.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Quality.Calibration.Validate(); err != nil {
		errs = append(errs, err)
	} else if err := c.Quality.Calibration.Within(c.Quality.Params.Floor, c.Quality.Params.Ceiling); err != nil {
		errs = append(errs, fmt.Errorf("quality.calibration: %w", err))
	}
	if err := c.Match.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Validation.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}
	if c.Assessment.Enabled && c.Assessment.Provider != "openai" && c.Assessment.Provider != "anthropic" {
		errs = append(errs, fmt.Errorf("assessment.provider %q is not openai or anthropic", c.Assessment.Provider))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Rules builds the formula tables a pipeline run applies.
func (c *Config) Rules() (pipeline.Rules, error) {
	table, err := c.Taxonomy.Table()
	if err != nil {
		return pipeline.Rules{}, err
	}
	return pipeline.Rules{
		Taxonomy: table,
		Quality:  c.Quality.Params,
		Curve:    c.Quality.Calibration,
		Formula:  c.Match,
	}, nil
}

// NewLogger builds the process logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(l.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log.format %q is not text or json", l.Format)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return level, nil
}
