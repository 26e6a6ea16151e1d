package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.EqualValues(t, 4096, cfg.Anthropic.MaxTokens)
	assert.InDelta(t, 0.2, cfg.Anthropic.Temperature, 0.001)
	assert.InDelta(t, 2.0, cfg.LLM.RequestsPerSecond, 0.001)
	assert.Equal(t, 3, cfg.LLM.RetryAttempts)
	assert.True(t, cfg.Pipeline.Parallel)
	assert.Equal(t, 120, cfg.Pipeline.StageTimeoutSecs)
	assert.Equal(t, 8, cfg.Pipeline.MinSections)
	assert.Equal(t, 5, cfg.Pipeline.MinCandidates)
	assert.Equal(t, 8, cfg.Pipeline.GateMinCandidates)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, "none", cfg.Store.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.InDelta(t, 3.0, cfg.Notion.RequestsPerSecond, 0.001)
	assert.Empty(t, cfg.Notion.Token)
	assert.Contains(t, cfg.Pricing.Anthropic, "claude-sonnet-4-5-20250929")
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: reports.db
log:
  level: debug
  format: console
server:
  port: 9090
pipeline:
  parallel: false
  min_sections: 10
pricing:
  anthropic:
    my-model:
      input: 2
      output: 4
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "reports.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.False(t, cfg.Pipeline.Parallel)
	assert.Equal(t, 10, cfg.Pipeline.MinSections)
	assert.InDelta(t, 2.0, cfg.Pricing.Anthropic["my-model"].Input, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 5, cfg.Pipeline.MinCandidates)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("GRANTSCOPE_STORE_DRIVER", "postgres")
	t.Setenv("GRANTSCOPE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GRANTSCOPE_ANTHROPIC_KEY=sk-ant-test\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("GRANTSCOPE_ANTHROPIC_KEY") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GRANTSCOPE_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestConversions(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)

	ac := cfg.Advisor()
	assert.True(t, ac.Parallel)
	assert.Equal(t, 2*time.Minute, ac.StageTimeout)
	assert.Equal(t, 8, ac.MinSections)
	assert.Equal(t, 8, ac.GateMinCandidates)

	gc := cfg.Generator()
	assert.Equal(t, cfg.Anthropic.Model, gc.Model)
	assert.Equal(t, 2, gc.Burst)

	p := cfg.Policy()
	assert.Equal(t, 3, p.Retry.MaxAttempts)
	assert.NotNil(t, p.Breaker)

	assert.Equal(t, time.Hour, cfg.CacheTTL())
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Pipeline.MinSections = 8
	cfg.Pipeline.MinCandidates = 5
	cfg.Pipeline.GateMinCandidates = 8
	cfg.Cache.Driver = "memory"
	cfg.Store.Driver = "none"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateAdvise(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("advise"))

	cfg := validDefaults()
	cfg.Pipeline.MinSections = 0
	err := cfg.Validate("advise")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.min_sections")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateArchive(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("archive")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")

	cfg.Store.Driver = "postgres"
	err = cfg.Validate("archive")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/grantscope"
	assert.NoError(t, cfg.Validate("archive"))

	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = ""
	assert.NoError(t, cfg.Validate("archive"))
}

func TestValidatePublish(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"
	err := cfg.Validate("publish")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "notion.token is required")
	assert.Contains(t, err.Error(), "notion.database_id is required")

	cfg.Notion.Token = "secret"
	cfg.Notion.DatabaseID = "db-1"
	assert.NoError(t, cfg.Validate("publish"))

	cfg.Store.Driver = "none"
	err = cfg.Validate("publish")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateCacheDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Cache.Driver = "memcached"
	err := cfg.Validate("advise")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cache.driver")

	cfg.Cache.Driver = "redis"
	err = cfg.Validate("advise")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cache.redis_addr")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
