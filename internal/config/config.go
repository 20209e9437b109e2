package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/finsight-labs/edgar-insights/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	EDGAR      EDGARConfig      `yaml:"edgar" mapstructure:"edgar"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Universe   UniverseConfig   `yaml:"universe" mapstructure:"universe"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the ledger/results backend and the backup log.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	BackupPath  string `yaml:"backup_path" mapstructure:"backup_path"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key            string   `yaml:"key" mapstructure:"key"`
	Model          string   `yaml:"model" mapstructure:"model"`
	FallbackModels []string `yaml:"fallback_models" mapstructure:"fallback_models"`
	MaxTokens      int64    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// EDGARConfig configures access to the SEC filing index and archives.
type EDGARConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	DataURL     string `yaml:"data_url" mapstructure:"data_url"`
	ArchivesURL string `yaml:"archives_url" mapstructure:"archives_url"`
	TickersURL  string `yaml:"tickers_url" mapstructure:"tickers_url"`
	FilingDir   string `yaml:"filing_dir" mapstructure:"filing_dir"`
}

// PipelineConfig sizes the worker pools and the retry policy shared by the
// download and extraction stages.
type PipelineConfig struct {
	DownloadWorkers  int     `yaml:"download_workers" mapstructure:"download_workers"`
	ExtractWorkers   int     `yaml:"extract_workers" mapstructure:"extract_workers"`
	QueueSize        int     `yaml:"queue_size" mapstructure:"queue_size"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// UniverseConfig defines the ticker × year work universe.
type UniverseConfig struct {
	Years         []int          `yaml:"years" mapstructure:"years"`
	Groups        []TickerGroup  `yaml:"groups" mapstructure:"groups"`
	ForeignFilers []string       `yaml:"foreign_filers" mapstructure:"foreign_filers"`
	IPOYearFloor  map[string]int `yaml:"ipo_year_floor" mapstructure:"ipo_year_floor"`
}

// TickerGroup is an ordered group (tier) of tickers.
type TickerGroup struct {
	Name    string   `yaml:"name" mapstructure:"name"`
	Tickers []string `yaml:"tickers" mapstructure:"tickers"`
}

// MonitoringConfig configures post-run alerting. An empty webhook URL
// disables delivery; thresholds of zero disable their checks.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment, then validates it.
// A config the pipeline cannot trust is fatal: the caller aborts the run.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("EDGAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "data/insights.db")
	v.SetDefault("store.backup_path", "data/insights.jsonl")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.fallback_models", []string{"claude-haiku-4-5-20251001"})
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("edgar.user_agent", "finsight-labs research contact@finsight-labs.io")
	v.SetDefault("edgar.data_url", "https://data.sec.gov")
	v.SetDefault("edgar.archives_url", "https://www.sec.gov")
	v.SetDefault("edgar.tickers_url", "https://www.sec.gov/files/company_tickers.json")
	v.SetDefault("edgar.filing_dir", "data/filings")
	v.SetDefault("pipeline.download_workers", 8)
	v.SetDefault("pipeline.extract_workers", 6)
	v.SetDefault("pipeline.queue_size", 30)
	v.SetDefault("pipeline.max_attempts", 4)
	v.SetDefault("pipeline.initial_backoff_ms", 1000)
	v.SetDefault("pipeline.max_backoff_ms", 30000)
	v.SetDefault("pipeline.jitter_fraction", 0.25)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the parts of the configuration that would otherwise fail
// mid-run. Universe validation is strict because a bad universe silently
// drops work items.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return eris.New("config: store.sqlite_path required for sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url required for postgres driver")
		}
	default:
		return eris.Errorf("config: unknown store.driver %q (valid: sqlite, postgres)", c.Store.Driver)
	}

	if len(c.Universe.Years) == 0 {
		return eris.New("config: universe.years is empty")
	}
	for _, y := range c.Universe.Years {
		if y < 1994 || y > 2100 {
			return eris.Errorf("config: implausible fiscal year %d", y)
		}
	}
	if len(c.Universe.Groups) == 0 {
		return eris.New("config: universe.groups is empty")
	}
	for _, g := range c.Universe.Groups {
		if g.Name == "" {
			return eris.New("config: universe group with empty name")
		}
		if len(g.Tickers) == 0 {
			return eris.Errorf("config: universe group %q has no tickers", g.Name)
		}
	}

	if c.Pipeline.DownloadWorkers < 1 || c.Pipeline.ExtractWorkers < 1 {
		return eris.New("config: worker pool sizes must be >= 1")
	}
	if c.Pipeline.QueueSize < 1 {
		return eris.New("config: pipeline.queue_size must be >= 1")
	}
	if c.Pipeline.MaxAttempts < 1 {
		return eris.New("config: pipeline.max_attempts must be >= 1")
	}
	if c.Pipeline.JitterFraction < 0 || c.Pipeline.JitterFraction > resilience.MaxJitterFraction {
		return eris.Errorf("config: pipeline.jitter_fraction must be in [0, %.2f]", resilience.MaxJitterFraction)
	}

	return nil
}

// ForeignFilerSet returns the foreign filer tickers as an uppercase set.
func (c *Config) ForeignFilerSet() map[string]bool {
	set := make(map[string]bool, len(c.Universe.ForeignFilers))
	for _, t := range c.Universe.ForeignFilers {
		set[strings.ToUpper(t)] = true
	}
	return set
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
