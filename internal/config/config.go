// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	FeedURL     string `mapstructure:"feed_url"`
	WebhookURL  string `mapstructure:"webhook_url"`
	PostgresURL string `mapstructure:"postgres_url"`

	MonitorDelay int `mapstructure:"monitor_delay"` // ms between price cycles
	Retries      int `mapstructure:"retries"`

	DedupWindow   int `mapstructure:"dedup_window"`   // seconds a detection stays deduplicated
	DedupCoalesce int `mapstructure:"dedup_coalesce"` // ms to buffer same-address detections

	PriceRPS  float64 `mapstructure:"price_rps"`
	SwapRPS   float64 `mapstructure:"swap_rps"`
	NotifyRPS float64 `mapstructure:"notify_rps"`
	RateBurst int     `mapstructure:"rate_burst"`
	RateWait  int     `mapstructure:"rate_wait"` // ms bounded wait for a bucket token

	AutoTrade        bool    `mapstructure:"auto_trade"`
	BuyAmountSol     float64 `mapstructure:"buy_amount_sol"`
	TargetMultiplier float64 `mapstructure:"target_multiplier"`
	SellPercentage   float64 `mapstructure:"sell_percentage"`

	DebugLogging bool   `mapstructure:"debug_logging"`
	LogFile      string `mapstructure:"log_file"`
}

const (
	DefaultMonitorDelay  = 30000
	DefaultRetries       = 3
	DefaultDedupWindow   = 3600
	DefaultDedupCoalesce = 250
	DefaultPriceRPS      = 5.0
	DefaultSwapRPS       = 1.0
	DefaultNotifyRPS     = 2.0
	DefaultRateBurst     = 5
	DefaultRateWait      = 2000

	DefaultBuyAmountSol     = 0.1
	DefaultTargetMultiplier = 2.0
	DefaultSellPercentage   = 80.0
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"monitor_delay":     DefaultMonitorDelay,
		"retries":           DefaultRetries,
		"dedup_window":      DefaultDedupWindow,
		"dedup_coalesce":    DefaultDedupCoalesce,
		"price_rps":         DefaultPriceRPS,
		"swap_rps":          DefaultSwapRPS,
		"notify_rps":        DefaultNotifyRPS,
		"rate_burst":        DefaultRateBurst,
		"rate_wait":         DefaultRateWait,
		"auto_trade":        true,
		"buy_amount_sol":    DefaultBuyAmountSol,
		"target_multiplier": DefaultTargetMultiplier,
		"sell_percentage":   DefaultSellPercentage,
		"log_file":          "bot.log",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

// Duration accessors keep millisecond/second units at the config edge.

func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorDelay) * time.Millisecond
}

func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.DedupWindow) * time.Second
}

func (c *Config) CoalesceDelay() time.Duration {
	return time.Duration(c.DedupCoalesce) * time.Millisecond
}

func (c *Config) RateMaxWait() time.Duration {
	return time.Duration(c.RateWait) * time.Millisecond
}

func validateConfig(cfg *Config) error {
	if cfg.FeedURL != "" {
		if err := validateURLWithCache(cfg.FeedURL, "ws"); err != nil {
			return errors.New("invalid feed URL protocol")
		}
	}
	if cfg.WebhookURL != "" {
		if err := validateURLWithCache(cfg.WebhookURL, "https"); err != nil {
			return errors.New("webhook URL must use HTTPS")
		}
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.MonitorDelay <= 0 {
		return errors.New("invalid monitor_delay")
	}
	if cfg.Retries < 0 {
		return errors.New("invalid retries count")
	}
	if cfg.DedupWindow <= 0 {
		return errors.New("invalid dedup_window")
	}
	if cfg.DedupCoalesce < 0 {
		return errors.New("invalid dedup_coalesce")
	}
	if cfg.PriceRPS <= 0 || cfg.SwapRPS <= 0 || cfg.NotifyRPS <= 0 {
		return errors.New("rate limits must be positive")
	}
	if cfg.RateBurst <= 0 {
		return errors.New("invalid rate_burst")
	}
	if cfg.RateWait < 0 {
		return errors.New("invalid rate_wait")
	}
	if cfg.BuyAmountSol <= 0 {
		return errors.New("invalid buy_amount_sol")
	}
	if cfg.TargetMultiplier < 1 {
		return errors.New("invalid target_multiplier")
	}
	if cfg.SellPercentage <= 0 || cfg.SellPercentage > 100 {
		return errors.New("invalid sell_percentage")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("SOLANA_BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envFeed := v.GetString("FEED_URL"); envFeed != "" {
		cfg.FeedURL = envFeed
	}
	if envWebhook := v.GetString("WEBHOOK_URL"); envWebhook != "" {
		cfg.WebhookURL = envWebhook
	}
	if envPostgres := v.GetString("POSTGRES_URL"); envPostgres != "" {
		cfg.PostgresURL = envPostgres
	}
	return nil
}
