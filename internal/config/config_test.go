package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradekernel/internal/domain"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4, cfg.Orchestrator.Workers)
	assert.Equal(t, domain.SpeedSlow, cfg.Adaptation.Speed)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Postgres.Enabled)
	// Policy weights come back normalized.
	assert.InDelta(t, 1.0, cfg.Policy.RuleWeight+cfg.Policy.AdvisoryWeight, 1e-9)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
limits:
  max_position_size: 2500
  max_daily_loss: 800
  max_leverage: 2
  max_concurrent_positions: 8
orchestrator:
  workers: 8
  queue_capacity: 128
adaptation:
  speed: aggressive
redis:
  enabled: true
  addr: redis.internal:6379
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2500.0, cfg.Limits.MaxPositionSize)
	assert.Equal(t, 8, cfg.Orchestrator.Workers)
	assert.Equal(t, 128, cfg.Orchestrator.QueueCapacity)
	assert.Equal(t, domain.SpeedAggressive, cfg.Adaptation.Speed)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	// Untouched sections keep their defaults.
	assert.Equal(t, 1000, cfg.Orchestrator.HistoryCapacity)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o644))

	t.Setenv("TRADEKERNEL_LOG_LEVEL", "DEBUG")
	t.Setenv("TRADEKERNEL_FEED_URL", "wss://feed.internal/stream")
	t.Setenv("TRADEKERNEL_POSTGRES_DSN", "postgres://agent@db/tradekernel")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "wss://feed.internal/stream", cfg.Feed.URL)
	assert.True(t, cfg.Postgres.Enabled)
	assert.Equal(t, "postgres://agent@db/tradekernel", cfg.Postgres.DSN)
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"zero_position_cap": "limits:\n  max_position_size: 0\n",
		"bad_speed":         "adaptation:\n  speed: ludicrous\n",
		"redis_no_addr":     "redis:\n  enabled: true\n  addr: \"\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
