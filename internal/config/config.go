package config

import (
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Schema    SchemaConfig    `yaml:"schema" mapstructure:"schema"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Mapping   MappingConfig   `yaml:"mapping" mapstructure:"mapping"`
	Fill      FillConfig      `yaml:"fill" mapstructure:"fill"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// SchemaConfig points at the declarative form schema and alias table.
type SchemaConfig struct {
	Path string `yaml:"path" mapstructure:"path"`

	// AliasPath optionally names a standalone alias overlay file merged on
	// top of the built-in and schema aliases.
	AliasPath string `yaml:"alias_path" mapstructure:"alias_path"`
}

// StoreConfig configures the ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds vision model API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// NormalizeConfig tunes candidate production from raw observations.
type NormalizeConfig struct {
	// SimilarityThreshold is the minimum Levenshtein similarity for fuzzy
	// key resolution; below it the observation is dropped as an anomaly.
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	// Concurrency bounds parallel per-document normalization workers.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// MappingConfig tunes disposition assignment.
type MappingConfig struct {
	// AutoAcceptThreshold is the minimum effective confidence for automatic
	// acceptance. Default 0.85.
	AutoAcceptThreshold float64 `yaml:"auto_accept_threshold" mapstructure:"auto_accept_threshold"`
	// ConflictTolerance is the relative difference beyond which two numeric
	// candidates conflict. Default 0.01 (1%).
	ConflictTolerance float64 `yaml:"conflict_tolerance" mapstructure:"conflict_tolerance"`
	// UnitPenalty is subtracted from effective confidence when a candidate
	// carries an unresolved source unit. Default 0.15.
	UnitPenalty float64 `yaml:"unit_penalty" mapstructure:"unit_penalty"`
	// RangePenalty is subtracted when the value sits outside the declared
	// valid range. Default 0.25.
	RangePenalty float64 `yaml:"range_penalty" mapstructure:"range_penalty"`
}

// FillConfig tunes the fill orchestrator.
type FillConfig struct {
	// FormURL is the base URL of the EDC form gateway the run writes to.
	FormURL string `yaml:"form_url" mapstructure:"form_url"`
	// FormToken authenticates against the gateway. Optional.
	FormToken string `yaml:"form_token" mapstructure:"form_token"`

	MaxLocateAttempts int `yaml:"max_locate_attempts" mapstructure:"max_locate_attempts"`
	MaxWriteAttempts  int `yaml:"max_write_attempts" mapstructure:"max_write_attempts"`
	// CallTimeoutSecs bounds each locate/write/readback call; an expired
	// timeout is classified transient until the attempt budget is exhausted.
	CallTimeoutSecs int `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	// ActionsPerSecond rate-limits calls against the automation session.
	// Zero disables pacing.
	ActionsPerSecond float64 `yaml:"actions_per_second" mapstructure:"actions_per_second"`
}

// CallTimeout returns the per-call timeout as a duration.
func (f FillConfig) CallTimeout() time.Duration {
	return time.Duration(f.CallTimeoutSecs) * time.Second
}

// ServerConfig configures the ledger HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml, EDCFILL_* environment variables,
// and defaults, in that precedence order.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("EDCFILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("schema.path", "schema.yaml")
	v.SetDefault("schema.alias_path", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "edcfill.db")
	// Empty defaults register env-only keys with viper.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("fill.form_url", "")
	v.SetDefault("fill.form_token", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("normalize.similarity_threshold", 0.80)
	v.SetDefault("normalize.concurrency", 4)
	v.SetDefault("mapping.auto_accept_threshold", 0.85)
	v.SetDefault("mapping.conflict_tolerance", 0.01)
	v.SetDefault("mapping.unit_penalty", 0.15)
	v.SetDefault("mapping.range_penalty", 0.25)
	v.SetDefault("fill.max_locate_attempts", 3)
	v.SetDefault("fill.max_write_attempts", 3)
	v.SetDefault("fill.call_timeout_secs", 30)
	v.SetDefault("fill.actions_per_second", 2.0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; env and defaults cover everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
