package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/da-ingest/internal/fetcher"
	"github.com/sells-group/da-ingest/internal/model"
	"github.com/sells-group/da-ingest/internal/resilience"
	"github.com/sells-group/da-ingest/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Portal     PortalConfig     `yaml:"portal" mapstructure:"portal"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Run        RunSettings      `yaml:"run" mapstructure:"run"`
	Normalize  NormalizeConfig  `yaml:"normalize" mapstructure:"normalize"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PortalConfig describes the council's application-search endpoint.
type PortalConfig struct {
	BaseURL         string            `yaml:"base_url" mapstructure:"base_url"`
	FromParam       string            `yaml:"from_param" mapstructure:"from_param"`
	ToParam         string            `yaml:"to_param" mapstructure:"to_param"`
	PageParam       string            `yaml:"page_param" mapstructure:"page_param"`
	QueryDateFormat string            `yaml:"query_date_format" mapstructure:"query_date_format"`
	ExtraQuery      map[string]string `yaml:"extra_query" mapstructure:"extra_query"`
}

// FetchConfig configures HTTP politeness and retries.
type FetchConfig struct {
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffInitialMs  int     `yaml:"backoff_initial_ms" mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int     `yaml:"backoff_max_ms" mapstructure:"backoff_max_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	JitterFraction    float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes      int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	BreakerThreshold  int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// RunSettings are the defaults for ingestion runs; flags override them.
type RunSettings struct {
	DateStart             string `yaml:"date_start" mapstructure:"date_start"`
	DateEnd               string `yaml:"date_end" mapstructure:"date_end"`
	OnTransient           string `yaml:"on_transient" mapstructure:"on_transient"`
	OnUnrecognized        string `yaml:"on_unrecognized" mapstructure:"on_unrecognized"`
	PageRetryCooldownSecs int    `yaml:"page_retry_cooldown_secs" mapstructure:"page_retry_cooldown_secs"`
	MaxPages              int    `yaml:"max_pages" mapstructure:"max_pages"`
	Prefetch              bool   `yaml:"prefetch" mapstructure:"prefetch"`
	MaxConcurrentRanges   int    `yaml:"max_concurrent_ranges" mapstructure:"max_concurrent_ranges"`
}

// NormalizeConfig configures record normalization.
type NormalizeConfig struct {
	// VocabularyFile is an optional YAML file adding decision/category synonyms.
	VocabularyFile string `yaml:"vocabulary_file" mapstructure:"vocabulary_file"`
}

// ServerConfig configures the read-only API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
	// CORSOrigins enables cross-origin reads from these origins when non-empty.
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures run-health alerting. Alerts are only sent when
// WebhookURL is set.
type MonitoringConfig struct {
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	RejectionRateThreshold float64 `yaml:"rejection_rate_threshold" mapstructure:"rejection_rate_threshold"`
	StaleCheckpointHours   int     `yaml:"stale_checkpoint_hours" mapstructure:"stale_checkpoint_hours"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DAINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "da-ingest.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("portal.base_url", "")
	v.SetDefault("portal.from_param", "date_from")
	v.SetDefault("portal.to_param", "date_to")
	v.SetDefault("portal.page_param", "page")
	v.SetDefault("portal.query_date_format", "02/01/2006")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.backoff_initial_ms", 500)
	v.SetDefault("fetch.backoff_max_ms", 10000)
	v.SetDefault("fetch.backoff_multiplier", 2.0)
	v.SetDefault("fetch.jitter_fraction", 0.2)
	v.SetDefault("fetch.requests_per_second", 1.0)
	v.SetDefault("fetch.user_agent", "da-ingest/1.0")
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.breaker_threshold", 5)
	v.SetDefault("fetch.breaker_reset_secs", 30)
	v.SetDefault("run.date_start", "")
	v.SetDefault("run.date_end", "")
	v.SetDefault("run.on_transient", string(model.TransientRetry))
	v.SetDefault("run.on_unrecognized", string(model.UnrecognizedAbort))
	v.SetDefault("run.page_retry_cooldown_secs", 60)
	v.SetDefault("run.max_pages", 0)
	v.SetDefault("run.prefetch", true)
	v.SetDefault("run.max_concurrent_ranges", 2)
	v.SetDefault("normalize.vocabulary_file", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.rejection_rate_threshold", 0.10)
	v.SetDefault("monitoring.stale_checkpoint_hours", 24)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)

	// Read config file (optional)
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

// Validate checks the settings a command mode depends on. Mode is one of
// "scrape", "serve" or "query".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "scrape":
		if c.Portal.BaseURL == "" {
			errs = append(errs, "portal.base_url is required")
		}
		if c.Fetch.RequestsPerSecond <= 0 {
			errs = append(errs, "fetch.requests_per_second must be > 0")
		}
		if c.Fetch.TimeoutSecs <= 0 {
			errs = append(errs, "fetch.timeout_secs must be > 0")
		}
		if c.Fetch.MaxRetries < 0 {
			errs = append(errs, "fetch.max_retries must be >= 0")
		}
		if c.Fetch.JitterFraction < 0 || c.Fetch.JitterFraction > 1 {
			errs = append(errs, "fetch.jitter_fraction must be between 0 and 1")
		}
		if c.Run.MaxConcurrentRanges < 1 || c.Run.MaxConcurrentRanges > 16 {
			errs = append(errs, "run.max_concurrent_ranges must be between 1 and 16")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	case "query":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RunConfig builds the validated run parameters for dr from the run settings.
func (c *Config) RunConfig(dr model.DateRange, fresh bool) (model.RunConfig, error) {
	rc := model.RunConfig{
		Range:             dr,
		OnTransient:       model.TransientPolicy(c.Run.OnTransient),
		OnUnrecognized:    model.UnrecognizedPolicy(c.Run.OnUnrecognized),
		PageRetryCooldown: time.Duration(c.Run.PageRetryCooldownSecs) * time.Second,
		MaxPages:          c.Run.MaxPages,
		Prefetch:          c.Run.Prefetch,
		Fresh:             fresh,
	}
	if err := rc.Validate(); err != nil {
		return model.RunConfig{}, eris.Wrap(err, "config: run")
	}
	return rc, nil
}

// DefaultRange returns run.date_start..run.date_end, or false when unset.
func (c *Config) DefaultRange() (model.DateRange, bool, error) {
	if c.Run.DateStart == "" && c.Run.DateEnd == "" {
		return model.DateRange{}, false, nil
	}
	start, err := model.ParseDate(c.Run.DateStart)
	if err != nil {
		return model.DateRange{}, false, eris.Wrap(err, "config: run.date_start")
	}
	end, err := model.ParseDate(c.Run.DateEnd)
	if err != nil {
		return model.DateRange{}, false, eris.Wrap(err, "config: run.date_end")
	}
	dr := model.DateRange{Start: start, End: end}
	if err := dr.Validate(); err != nil {
		return model.DateRange{}, false, eris.Wrap(err, "config: run dates")
	}
	return dr, true, nil
}

// PortalOptions maps the portal section onto fetcher options.
func (c *Config) PortalOptions() fetcher.PortalOptions {
	return fetcher.PortalOptions{
		BaseURL:         c.Portal.BaseURL,
		FromParam:       c.Portal.FromParam,
		ToParam:         c.Portal.ToParam,
		PageParam:       c.Portal.PageParam,
		QueryDateLayout: c.Portal.QueryDateFormat,
		ExtraQuery:      c.Portal.ExtraQuery,
	}
}

// HTTPOptions maps the fetch section onto fetcher options. max_retries
// counts retries, so the fetcher makes max_retries+1 attempts.
func (c *Config) HTTPOptions() fetcher.HTTPOptions {
	f := c.Fetch
	return fetcher.HTTPOptions{
		UserAgent:         f.UserAgent,
		Timeout:           time.Duration(f.TimeoutSecs) * time.Second,
		Retry:             resilience.FromFetchSettings(f.MaxRetries, f.BackoffInitialMs, f.BackoffMaxMs, f.BackoffMultiplier, f.JitterFraction),
		RequestsPerSecond: f.RequestsPerSecond,
		MaxBodyBytes:      f.MaxBodyBytes,
		Breaker:           resilience.FromBreakerSettings(f.BreakerThreshold, f.BreakerResetSecs),
	}
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
