package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Fetcher    FetcherConfig    `yaml:"fetcher" mapstructure:"fetcher"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig configures the text-generation client.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	CacheTTL  string `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// ExtractionConfig bounds a pipeline run.
type ExtractionConfig struct {
	MinSheetChars           int    `yaml:"min_sheet_chars" mapstructure:"min_sheet_chars"`
	MaxSheetChars           int    `yaml:"max_sheet_chars" mapstructure:"max_sheet_chars"`
	RequestTimeoutSecs      int    `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	SheetConcurrency        int    `yaml:"sheet_concurrency" mapstructure:"sheet_concurrency"`
	BatchSize               int    `yaml:"batch_size" mapstructure:"batch_size"`
	RequestsPerMinute       int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	CircuitFailureThreshold int    `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	JobTimeoutMins          int    `yaml:"job_timeout_mins" mapstructure:"job_timeout_mins"`
	KeywordFile             string `yaml:"keyword_file" mapstructure:"keyword_file"`
	FilterFile              string `yaml:"filter_file" mapstructure:"filter_file"`
}

// RequestTimeout returns the per-call AI timeout.
func (c ExtractionConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// JobTimeout returns the upper bound for a background run, 30 minutes when
// unset.
func (c ExtractionConfig) JobTimeout() time.Duration {
	if c.JobTimeoutMins <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.JobTimeoutMins) * time.Minute
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// FetcherConfig configures document loading for job references.
type FetcherConfig struct {
	DocumentDir string `yaml:"document_dir" mapstructure:"document_dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BOQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("anthropic.cache_ttl", "5m")
	v.SetDefault("extraction.min_sheet_chars", 50)
	v.SetDefault("extraction.max_sheet_chars", 30000)
	v.SetDefault("extraction.request_timeout_secs", 90)
	v.SetDefault("extraction.sheet_concurrency", 4)
	v.SetDefault("extraction.batch_size", 50)
	v.SetDefault("extraction.requests_per_minute", 50)
	v.SetDefault("extraction.circuit_failure_threshold", 3)
	v.SetDefault("extraction.job_timeout_mins", 30)
	v.SetDefault("extraction.keyword_file", "")
	v.SetDefault("extraction.filter_file", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("fetcher.document_dir", "")
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

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of serve,
// extract, migrate or seed.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	case "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		errs = append(errs, c.Extraction.validate()...)
	case "extract":
		errs = append(errs, c.Extraction.validate()...)
	case "migrate", "seed":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c ExtractionConfig) validate() []string {
	var errs []string
	if c.SheetConcurrency < 1 || c.SheetConcurrency > 32 {
		errs = append(errs, "extraction.sheet_concurrency must be between 1 and 32")
	}
	if c.BatchSize < 1 || c.BatchSize > 1000 {
		errs = append(errs, "extraction.batch_size must be between 1 and 1000")
	}
	if c.MinSheetChars < 0 {
		errs = append(errs, "extraction.min_sheet_chars must be >= 0")
	}
	if c.MaxSheetChars <= c.MinSheetChars {
		errs = append(errs, "extraction.max_sheet_chars must exceed min_sheet_chars")
	}
	if c.RequestTimeoutSecs <= 0 {
		errs = append(errs, "extraction.request_timeout_secs must be > 0")
	}
	if c.JobTimeoutMins <= 0 {
		errs = append(errs, "extraction.job_timeout_mins must be > 0")
	}
	if c.RequestsPerMinute < 0 {
		errs = append(errs, "extraction.requests_per_minute must be >= 0")
	}
	return errs
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
