// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ricesearch/receval/internal/dataset"
	"github.com/ricesearch/receval/internal/evaluation"
	"github.com/ricesearch/receval/internal/pkg/batch"
	"github.com/ricesearch/receval/internal/topk"
)

// Config holds all application configuration.
type Config struct {
	// Evaluation defaults
	Eval EvalConfig `yaml:"eval"`

	// Input column names
	Columns ColumnsConfig `yaml:"columns"`

	// Top-k selection
	TopK TopKConfig `yaml:"topk"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// HTTP server configuration
	Server ServerConfig `yaml:"server"`

	// Result history configuration
	History HistoryConfig `yaml:"history"`
}

// EvalConfig holds evaluation defaults.
type EvalConfig struct {
	Metrics          []string `envconfig:"RECEVAL_METRICS" yaml:"metrics"`
	Cutoffs          []int    `envconfig:"RECEVAL_CUTOFFS" yaml:"cutoffs"`
	Verbose          bool     `envconfig:"RECEVAL_VERBOSE" yaml:"verbose"`
	DecimalPrecision int      `envconfig:"RECEVAL_DECIMAL_PRECISION" yaml:"decimal_precision"`
	Parallel         bool     `envconfig:"RECEVAL_PARALLEL" yaml:"parallel"`
	RequireHits      bool     `envconfig:"RECEVAL_REQUIRE_HITS" yaml:"require_hits"`
}

// ColumnsConfig holds the column names of tabular inputs.
type ColumnsConfig struct {
	User       string `envconfig:"RECEVAL_USER_COL" yaml:"user"`
	Item       string `envconfig:"RECEVAL_ITEM_COL" yaml:"item"`
	Rating     string `envconfig:"RECEVAL_RATING_COL" yaml:"rating"`
	Prediction string `envconfig:"RECEVAL_PREDICTION_COL" yaml:"prediction"`
	Rank       string `envconfig:"RECEVAL_RANK_COL" yaml:"rank"`
}

// TopKConfig holds top-k selection settings.
type TopKConfig struct {
	Strategy      string `envconfig:"RECEVAL_TOPK_STRATEGY" yaml:"strategy"`
	HeapThreshold int    `envconfig:"RECEVAL_TOPK_HEAP_THRESHOLD" yaml:"heap_threshold"`
	Workers       int    `envconfig:"RECEVAL_TOPK_WORKERS" yaml:"workers"`
	BatchSize     int    `envconfig:"RECEVAL_TOPK_BATCH_SIZE" yaml:"batch_size"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"RECEVAL_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"RECEVAL_LOG_FORMAT" yaml:"format"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `envconfig:"RECEVAL_HOST" yaml:"host"`
	Port         int    `envconfig:"RECEVAL_PORT" yaml:"port"`
	RateLimit    int    `envconfig:"RECEVAL_RATE_LIMIT" yaml:"rate_limit"` // 0 = disabled
	MaxBodyBytes int64  `envconfig:"RECEVAL_MAX_BODY_BYTES" yaml:"max_body_bytes"`
}

// HistoryConfig holds result history settings.
type HistoryConfig struct {
	RedisURL string `envconfig:"RECEVAL_REDIS_URL" yaml:"redis_url"` // empty = disabled
	Prefix   string `envconfig:"RECEVAL_HISTORY_PREFIX" yaml:"prefix"`
	TTLHours int    `envconfig:"RECEVAL_HISTORY_TTL_HOURS" yaml:"ttl_hours"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cols := dataset.DefaultColumns()
	topkCfg := topk.DefaultConfig()

	return &Config{
		Eval: EvalConfig{
			Metrics:          evaluation.Names(),
			Cutoffs:          []int{5, 10, 20},
			DecimalPrecision: evaluation.DefaultDecimalPrecision,
		},
		Columns: ColumnsConfig{
			User:       cols.User,
			Item:       cols.Item,
			Rating:     cols.Rating,
			Prediction: cols.Prediction,
			Rank:       cols.Rank,
		},
		TopK: TopKConfig{
			Strategy:      string(topk.StrategyAuto),
			HeapThreshold: topkCfg.HeapThreshold,
			Workers:       topkCfg.Batch.Workers,
			BatchSize:     topkCfg.Batch.Size,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			MaxBodyBytes: 64 << 20,
		},
		History: HistoryConfig{
			Prefix:   "receval:history:",
			TTLHours: 24 * 30,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Evaluation validation
	if len(c.Eval.Metrics) == 0 {
		errs = append(errs, "at least one metric is required")
	}
	if _, err := evaluation.ParseMetrics(c.Eval.Metrics); err != nil {
		errs = append(errs, err.Error())
	}
	if len(c.Eval.Cutoffs) == 0 {
		errs = append(errs, "at least one cutoff is required")
	}
	for _, k := range c.Eval.Cutoffs {
		if k < 1 {
			errs = append(errs, fmt.Sprintf("cutoffs must be positive, got %d", k))
			break
		}
	}
	if c.Eval.DecimalPrecision < 0 {
		errs = append(errs, "decimal_precision must not be negative")
	}

	// Columns validation
	if c.Columns.User == "" || c.Columns.Item == "" {
		errs = append(errs, "user and item column names are required")
	} else if c.Columns.User == c.Columns.Item {
		errs = append(errs, "user and item columns must differ")
	}

	// Top-k validation
	if _, err := topk.ParseStrategy(c.TopK.Strategy); err != nil {
		errs = append(errs, err.Error())
	}
	if c.TopK.HeapThreshold < 1 {
		errs = append(errs, "heap_threshold must be positive")
	}
	if c.TopK.Workers < 1 {
		errs = append(errs, "topk workers must be positive")
	}
	if c.TopK.BatchSize < 1 {
		errs = append(errs, "topk batch_size must be positive")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "rate_limit must not be negative")
	}
	if c.Server.MaxBodyBytes < 1 {
		errs = append(errs, "max_body_bytes must be positive")
	}

	// History validation
	if c.History.RedisURL != "" && c.History.TTLHours < 1 {
		errs = append(errs, "history ttl_hours must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DatasetColumns returns the configured column names.
func (c *Config) DatasetColumns() dataset.Columns {
	return dataset.Columns{
		User:       c.Columns.User,
		Item:       c.Columns.Item,
		Rating:     c.Columns.Rating,
		Prediction: c.Columns.Prediction,
		Rank:       c.Columns.Rank,
	}
}

// TopKSelectorConfig returns the top-k selector settings. The strategy has
// been checked by Validate.
func (c *Config) TopKSelectorConfig() topk.Config {
	strategy, _ := topk.ParseStrategy(c.TopK.Strategy)
	return topk.Config{
		Strategy:      strategy,
		HeapThreshold: c.TopK.HeapThreshold,
		Batch: batch.Config{
			Size:    c.TopK.BatchSize,
			Workers: c.TopK.Workers,
		},
	}
}

// EvaluatorOptions maps the evaluation settings onto evaluator options.
// verbose receives per-result lines when Eval.Verbose is set.
func (c *Config) EvaluatorOptions(verbose io.Writer) []evaluation.Option {
	opts := []evaluation.Option{
		evaluation.WithDecimalPrecision(c.Eval.DecimalPrecision),
		evaluation.WithParallel(c.Eval.Parallel),
		evaluation.WithRequireHits(c.Eval.RequireHits),
	}
	if c.Eval.Verbose && verbose != nil {
		opts = append(opts, evaluation.WithVerbose(verbose))
	}
	return opts
}

// EvaluationDefaults returns the defaults used by the HTTP handler.
func (c *Config) EvaluationDefaults() evaluation.Defaults {
	return evaluation.Defaults{
		Metrics:     c.Eval.Metrics,
		Cutoffs:     c.Eval.Cutoffs,
		Parallel:    c.Eval.Parallel,
		RequireHits: c.Eval.RequireHits,
	}
}
