package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/grantscope/advisor/internal/advisor"
	"github.com/grantscope/advisor/internal/cost"
	"github.com/grantscope/advisor/internal/llm"
	"github.com/grantscope/advisor/internal/resilience"
	"github.com/grantscope/advisor/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Store     store.Config    `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Pricing   cost.Rates      `yaml:"pricing" mapstructure:"pricing"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	CacheTTL    string  `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// LLMConfig throttles and guards model calls.
type LLMConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	RetryAttempts     int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs    int     `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	RetryMaxBackoffMs int     `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	CircuitThreshold  int     `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs  int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// PipelineConfig configures the advisor pipeline.
type PipelineConfig struct {
	Parallel          bool `yaml:"parallel" mapstructure:"parallel"`
	StageTimeoutSecs  int  `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
	MinSections       int  `yaml:"min_sections" mapstructure:"min_sections"`
	MinCandidates     int  `yaml:"min_candidates" mapstructure:"min_candidates"`
	GateMinCandidates int  `yaml:"gate_min_candidates" mapstructure:"gate_min_candidates"`
	ModelTools        bool `yaml:"model_tools" mapstructure:"model_tools"`
}

// CacheConfig selects the stage memoization backend.
type CacheConfig struct {
	Driver     string `yaml:"driver" mapstructure:"driver"`
	RedisAddr  string `yaml:"redis_addr" mapstructure:"redis_addr"`
	Prefix     string `yaml:"prefix" mapstructure:"prefix"`
	TTLMinutes int    `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// NotionConfig holds Notion publishing settings.
type NotionConfig struct {
	Token             string  `yaml:"token" mapstructure:"token"`
	DatabaseID        string  `yaml:"database_id" mapstructure:"database_id"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads .env, then configuration from file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GRANTSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.temperature", 0.2)
	v.SetDefault("anthropic.cache_ttl", "5m")
	v.SetDefault("llm.requests_per_second", 2.0)
	v.SetDefault("llm.burst", 2)
	v.SetDefault("llm.retry_attempts", 3)
	v.SetDefault("llm.retry_backoff_ms", 500)
	v.SetDefault("llm.retry_max_backoff_ms", 8000)
	v.SetDefault("llm.circuit_threshold", 5)
	v.SetDefault("llm.circuit_reset_secs", 30)
	v.SetDefault("pipeline.parallel", true)
	v.SetDefault("pipeline.stage_timeout_secs", 120)
	v.SetDefault("pipeline.min_sections", 8)
	v.SetDefault("pipeline.min_candidates", 5)
	v.SetDefault("pipeline.gate_min_candidates", 8)
	v.SetDefault("pipeline.model_tools", false)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.prefix", "grantscope:")
	v.SetDefault("cache.ttl_minutes", 60)
	v.SetDefault("store.driver", "none")
	v.SetDefault("store.database_url", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.database_id", "")
	v.SetDefault("notion.requests_per_second", 3.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
	if len(cfg.Pricing.Anthropic) == 0 {
		cfg.Pricing = cost.DefaultRates()
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are
// "advise", "serve", "archive" and "publish".
func (c *Config) Validate(mode string) error {
	var errs []string

	if c.Pipeline.MinSections < 1 {
		errs = append(errs, "pipeline.min_sections must be >= 1")
	}
	if c.Pipeline.MinCandidates < 1 || c.Pipeline.GateMinCandidates < 1 {
		errs = append(errs, "pipeline.min_candidates and pipeline.gate_min_candidates must be >= 1")
	}
	if c.LLM.RequestsPerSecond < 0 {
		errs = append(errs, "llm.requests_per_second must be >= 0")
	}
	switch strings.ToLower(c.Cache.Driver) {
	case "", "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, "cache.redis_addr is required for the redis driver")
		}
	default:
		errs = append(errs, "cache.driver must be memory or redis")
	}

	switch mode {
	case "advise":
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	case "archive":
		errs = append(errs, c.archiveErrors()...)
	case "publish":
		errs = append(errs, c.archiveErrors()...)
		if c.Notion.Token == "" {
			errs = append(errs, "notion.token is required")
		}
		if c.Notion.DatabaseID == "" {
			errs = append(errs, "notion.database_id is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) archiveErrors() []string {
	switch strings.ToLower(c.Store.Driver) {
	case "sqlite":
	case "postgres", "postgresql":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for the postgres driver"}
		}
	default:
		return []string{"store.driver must be sqlite or postgres"}
	}
	return nil
}

// Advisor converts the pipeline section into orchestrator settings.
func (c *Config) Advisor() advisor.Config {
	out := advisor.DefaultConfig()
	out.Parallel = c.Pipeline.Parallel
	if c.Pipeline.StageTimeoutSecs > 0 {
		out.StageTimeout = time.Duration(c.Pipeline.StageTimeoutSecs) * time.Second
	}
	if c.Pipeline.MinSections > 0 {
		out.MinSections = c.Pipeline.MinSections
	}
	if c.Pipeline.MinCandidates > 0 {
		out.MinCandidates = c.Pipeline.MinCandidates
	}
	if c.Pipeline.GateMinCandidates > 0 {
		out.GateMinCandidates = c.Pipeline.GateMinCandidates
	}
	return out
}

// Generator converts the anthropic and llm sections into generator settings.
func (c *Config) Generator() llm.AnthropicConfig {
	return llm.AnthropicConfig{
		Model:             c.Anthropic.Model,
		MaxTokens:         c.Anthropic.MaxTokens,
		Temperature:       c.Anthropic.Temperature,
		CacheTTL:          c.Anthropic.CacheTTL,
		RequestsPerSecond: c.LLM.RequestsPerSecond,
		Burst:             c.LLM.Burst,
	}
}

// Policy builds the retry and circuit breaker policy for model calls.
func (c *Config) Policy() resilience.Policy {
	return resilience.NewPolicy("anthropic",
		c.LLM.RetryAttempts, c.LLM.RetryBackoffMs, c.LLM.RetryMaxBackoffMs,
		c.LLM.CircuitThreshold, c.LLM.CircuitResetSecs)
}

// CacheTTL returns the stage cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
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
