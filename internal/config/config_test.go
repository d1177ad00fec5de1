package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	cfg.Normalize()
	require.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tick:
  interval: 2s
  concurrency: 0
worlds:
  bootstrap: [alpha, beta]
realtime:
  reconnect:
    max_retries: 3
    retry_delay_ms: 100
    backoff_multiplier: 1.5
`), 0o644))

	t.Setenv("PORT", "9100")
	t.Setenv("RTS_TICK_SECRET", "hunter2")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Tick.Interval)
	assert.Equal(t, 1, cfg.Tick.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Tick.LeaseTTL, "untouched keys keep their default")
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Worlds.Bootstrap)
	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, "hunter2", cfg.Trigger.Secret)
	assert.Equal(t, 3, cfg.Realtime.Reconnect.MaxRetries)
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"lease":     "tick:\n  lease_ttl: 1s\n  commit_margin: 2s\n",
		"rate":      "economy:\n  rates_per_level:\n    steel: -1\n",
		"reconnect": "realtime:\n  reconnect:\n    backoff_multiplier: 0.5\n",
		"starting":  "economy:\n  base_capacity: 50\n",
		"unit":      "units:\n  ghost:\n    speed: 1\n    health: 0\n    count: 1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestReconnectDelay(t *testing.T) {
	rc := ReconnectConfig{MaxRetries: 4, RetryDelayMs: 250, BackoffMultiplier: 2}
	assert.Equal(t, 250*time.Millisecond, rc.Delay(0))
	assert.Equal(t, 500*time.Millisecond, rc.Delay(1))
	assert.Equal(t, 2*time.Second, rc.Delay(3))

	assert.Error(t, ReconnectConfig{MaxRetries: -1, RetryDelayMs: 1, BackoffMultiplier: 1}.Validate())
	assert.Error(t, ReconnectConfig{RetryDelayMs: 0, BackoffMultiplier: 1}.Validate())
}
