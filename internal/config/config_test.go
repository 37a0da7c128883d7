// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, DefaultMonitorDelay, cfg.MonitorDelay)
	require.Equal(t, DefaultRetries, cfg.Retries)
	require.Equal(t, DefaultDedupWindow, cfg.DedupWindow)
	require.Equal(t, DefaultDedupCoalesce, cfg.DedupCoalesce)
	require.Equal(t, DefaultBuyAmountSol, cfg.BuyAmountSol)
	require.Equal(t, DefaultTargetMultiplier, cfg.TargetMultiplier)
	require.Equal(t, DefaultSellPercentage, cfg.SellPercentage)
	require.True(t, cfg.AutoTrade)
}

func TestLoadConfigOverridesFromFile(t *testing.T) {
	path := writeConfig(t, `{
		"monitor_delay": 5000,
		"buy_amount_sol": 0.25,
		"target_multiplier": 3,
		"sell_percentage": 50,
		"auto_trade": false,
		"feed_url": "wss://feed.example.com/tokens",
		"webhook_url": "https://hooks.example.com/notify"
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 5000, cfg.MonitorDelay)
	require.Equal(t, 0.25, cfg.BuyAmountSol)
	require.Equal(t, 3.0, cfg.TargetMultiplier)
	require.Equal(t, 50.0, cfg.SellPercentage)
	require.False(t, cfg.AutoTrade)
	require.Equal(t, "wss://feed.example.com/tokens", cfg.FeedURL)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero monitor delay", `{"monitor_delay": 0}`},
		{"negative retries", `{"retries": -1}`},
		{"zero buy amount", `{"buy_amount_sol": 0}`},
		{"multiplier below one", `{"target_multiplier": 0.5}`},
		{"sell percentage over 100", `{"sell_percentage": 150}`},
		{"non-ws feed url", `{"feed_url": "https://feed.example.com"}`},
		{"plain-http webhook", `{"webhook_url": "http://hooks.example.com"}`},
		{"zero price rps", `{"price_rps": 0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := LoadConfig(path)
			require.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"webhook_url": "https://hooks.example.com/a"}`)

	t.Setenv("SOLANA_BOT_WEBHOOK_URL", "https://hooks.example.com/b")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "https://hooks.example.com/b", cfg.WebhookURL)
}

func TestDurationAccessors(t *testing.T) {
	path := writeConfig(t, `{"monitor_delay": 1500, "dedup_window": 60, "dedup_coalesce": 250, "rate_wait": 2000}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "1.5s", cfg.MonitorInterval().String())
	require.Equal(t, "1m0s", cfg.DedupTTL().String())
	require.Equal(t, "250ms", cfg.CoalesceDelay().String())
	require.Equal(t, "2s", cfg.RateMaxWait().String())
}
