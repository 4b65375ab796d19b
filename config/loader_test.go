package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_DefaultsOnly(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.NotEmpty(t, cfg.Council.Members)
	assert.NotEmpty(t, cfg.Council.Chairman)
	assert.Equal(t, "db", cfg.Quota.Backend)
}

func TestLoader_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  http_port: 9999
council:
  members: ["model-a", "model-b"]
  chairman: "model-a"
  modes:
    balanced: 90s
quota:
  backend: redis
  monthly_token_caps:
    key-1: 1000
pricing:
  model-a:
    prompt_per_1m: 1.25
    completion_per_1m: 10.0
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"model-a", "model-b"}, cfg.Council.Members)
	assert.Equal(t, "model-a", cfg.Council.Chairman)
	assert.Equal(t, 90*time.Second, cfg.Council.Modes.Balanced)
	assert.Equal(t, "redis", cfg.Quota.Backend)

	limit, ok := cfg.Quota.CapFor("key-1")
	assert.True(t, ok)
	assert.Equal(t, int64(1000), limit)

	_, ok = cfg.Quota.CapFor("key-2")
	assert.False(t, ok)

	assert.InDelta(t, 1.25, cfg.Pricing["model-a"].PromptPer1M, 1e-9)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9999\n"), 0o600))

	t.Setenv("COUNCIL_SERVER_HTTP_PORT", "7777")
	t.Setenv("COUNCIL_COUNCIL_CHAIRMAN", "env-model")
	t.Setenv("COUNCIL_OPENROUTER_TIMEOUT", "42s")
	t.Setenv("COUNCIL_COUNCIL_MEMBERS", "m1, m2 ,m3")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, "env-model", cfg.Council.Chairman)
	assert.Equal(t, 42*time.Second, cfg.OpenRouter.Timeout)
	assert.Equal(t, []string{"m1", "m2", "m3"}, cfg.Council.Members)
}

func TestLoader_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_Validator(t *testing.T) {
	_, err := NewLoader().WithValidator(func(c *Config) error {
		return assert.AnError
	}).Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := DefaultConfig()
	bad.Council.Members = nil
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Council.Chairman = ""
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Council.Members = []string{"m1", "m1"}
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Quota.Backend = "mongo"
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Quota.MonthlyTokenCaps = map[string]int64{"k": 0}
	assert.Error(t, bad.Validate())
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Parallel()

	pg := DatabaseConfig{Driver: "postgres", Host: "h", Port: 5432, User: "u", Password: "p", Name: "db", SSLMode: "disable"}
	assert.Contains(t, pg.DSN(), "host=h")
	assert.Contains(t, pg.DSN(), "sslmode=disable")

	my := DatabaseConfig{Driver: "mysql", Host: "h", Port: 3306, User: "u", Password: "p", Name: "db"}
	assert.Contains(t, my.DSN(), "@tcp(h:3306)/db")

	sq := DatabaseConfig{Driver: "sqlite", Name: "file.db"}
	assert.Equal(t, "file.db", sq.DSN())

	unknown := DatabaseConfig{Driver: "oracle"}
	assert.Equal(t, "", unknown.DSN())
}
