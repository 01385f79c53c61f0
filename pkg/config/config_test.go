package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(writeConfig(t, "environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"15m", "1h", "4h", "1d", "1w"}, c.Market.Timeframes)
	assert.Equal(t, 1.8, c.Signal.HierarchyWeights["1w"])
	assert.Equal(t, 0.6, c.Signal.EntryThreshold)
	assert.Equal(t, 0.4, c.Signal.ExitThreshold)
	assert.Equal(t, 0.3, c.Signal.MinSupport)
	assert.Equal(t, 2, c.Signal.Lookback)
	assert.True(t, c.ExitOnFlip())
	assert.Equal(t, 0.05, c.Signal.HoldMarginMin)
	assert.Equal(t, 14, c.Backtest.ATRPeriod)
	assert.Equal(t, 3000, c.Live.CacheMax)
	assert.Equal(t, 2*time.Second, c.Live.ReconnectDelay)
	assert.Equal(t, 30*time.Second, c.Live.PingInterval)
	assert.Equal(t, 180*time.Second, c.Jobs.BacktestTimeout)
	assert.Equal(t, "testnet", c.Bots.Network)
	assert.Equal(t, 5*time.Second, c.Bots.StopTimeout)
	assert.Equal(t, "file", c.StatusCache.Backend)
	assert.Equal(t, "logs/training", c.StatusCache.Dir)
}

func TestLoad_Overrides(t *testing.T) {
	c, err := Load(writeConfig(t, `
environment: test
signal:
  exit_on_flip: false
  entry_threshold: 0.7
market:
  symbols: [ETH/USDT]
  timeframes: [1h, 4h]
`))
	require.NoError(t, err)
	assert.False(t, c.ExitOnFlip())
	assert.Equal(t, 0.7, c.Signal.EntryThreshold)
	assert.Equal(t, []string{"ETH/USDT"}, c.Market.Symbols)
	assert.Equal(t, []string{"1h", "4h"}, c.Market.Timeframes)
}

func TestValidate(t *testing.T) {
	tests := map[string]string{
		"unknown candle backend": "backend:\n  candles: influx\n",
		"postgres without dsn":   "backend:\n  store: postgres\n",
		"queue without redis":    "queue:\n  enabled: true\n",
		"redis status no redis":  "status_cache:\n  backend: redis\n",
		"kafka without brokers":  "kafka:\n  enabled: true\n",
		"threshold out of range": "signal:\n  entry_threshold: 1.5\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("SYMBOLS", "BTC/USDT, ETH/USDT")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("LOG_LEVEL", "debug")

	c, err := LoadWithEnv(writeConfig(t, "environment: test\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, c.Market.Symbols)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "redis:6379", c.Redis.Addr)
	assert.Equal(t, "debug", c.Log.Level)
}
