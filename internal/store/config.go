package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Range is an inclusive [Min, Max] band for an indicator.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// BuyThreshold gates entries. PriceDeviation is a signed fraction (negative = below average).
type BuyThreshold struct {
	RSI            Range   `yaml:"rsi" json:"rsi"`
	PriceDeviation float64 `yaml:"price_deviation" json:"price_deviation"`
	VolumeIncrease float64 `yaml:"volume_increase" json:"volume_increase"`
	VolumeBaseline float64 `yaml:"volume_baseline" json:"volume_baseline"`
	FearGreedIndex Range   `yaml:"fear_greed_index" json:"fear_greed_index"`
}

// SellThreshold gates exits. RSI and TrailingStop are accepted and validated
// but not evaluated by the sell rule.
type SellThreshold struct {
	ProfitTarget float64  `yaml:"profit_target" json:"profit_target"`
	RSI          Range    `yaml:"rsi" json:"rsi"`
	TrailingStop float64  `yaml:"trailing_stop" json:"trailing_stop"`
	TimeLimit    Duration `yaml:"time_limit" json:"time_limit"`
}

// EngineConfig is the per-run configuration of the accumulation engine.
type EngineConfig struct {
	InitialVault           float64       `yaml:"initial_vault" json:"initial_vault"`
	MinVaultReserve        float64       `yaml:"min_vault_reserve" json:"min_vault_reserve"`
	ProfitReinvestmentRate float64       `yaml:"profit_reinvestment_rate" json:"profit_reinvestment_rate"`
	BaseTradingUnit        float64       `yaml:"base_trading_unit" json:"base_trading_unit"`
	MaxDailyExposure       float64       `yaml:"max_daily_exposure" json:"max_daily_exposure"`
	FeeRate                float64       `yaml:"fee_rate" json:"fee_rate"`
	BuyThreshold           BuyThreshold  `yaml:"buy_threshold" json:"buy_threshold"`
	SellThreshold          SellThreshold `yaml:"sell_threshold" json:"sell_threshold"`
}

// MarketSymbol configures one instrument of the synthetic universe.
type MarketSymbol struct {
	Symbol         string  `yaml:"symbol"`
	BasePrice      float64 `yaml:"base_price"`
	Volatility     float64 `yaml:"volatility"` // per-step standard deviation as a fraction of price
	VolumeBaseline float64 `yaml:"volume_baseline"`
}

type Config struct {
	PollSeconds int          `yaml:"poll_seconds"`
	Timezone    string       `yaml:"timezone"`
	Engine      EngineConfig `yaml:"engine"`
	Market      struct {
		Source        string         `yaml:"source"`
		Seed          int64          `yaml:"seed"`
		ScanTimeout   Duration       `yaml:"scan_timeout"`
		HistoryLength int            `yaml:"history_length"`
		Symbols       []MarketSymbol `yaml:"symbols"`
		FearGreed     struct {
			Source   string   `yaml:"source"`
			URL      string   `yaml:"url"`
			CacheTTL Duration `yaml:"cache_ttl"`
			Timeout  Duration `yaml:"timeout"`
		} `yaml:"fear_greed"`
	} `yaml:"market"`
	Notify struct {
		QueueSize          int    `yaml:"queue_size"`
		DiscordWebhookEnv  string `yaml:"discord_webhook_env"`
		TelegramTokenEnv   string `yaml:"telegram_token_env"`
		TelegramChatID     int64  `yaml:"telegram_chat_id"`
		RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	} `yaml:"notify"`
	Storage struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"storage"`
	Server struct {
		Addr        string   `yaml:"addr"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
}

// DefaultEngineConfig returns the engine defaults the dashboard ships with.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		InitialVault:           1000,
		MinVaultReserve:        0.5,
		ProfitReinvestmentRate: 0.7,
		BaseTradingUnit:        0.01,
		MaxDailyExposure:       0.1,
		FeeRate:                0.001,
		BuyThreshold: BuyThreshold{
			RSI:            Range{Min: 0, Max: 30},
			PriceDeviation: -0.02,
			VolumeIncrease: 1.5,
			VolumeBaseline: 500000,
			FearGreedIndex: Range{Min: 0, Max: 25},
		},
		SellThreshold: SellThreshold{
			ProfitTarget: 0.02,
			RSI:          Range{Min: 70, Max: 100},
			TrailingStop: 0.01,
			TimeLimit:    Duration(24 * time.Hour),
		},
	}
}

// Default returns a complete configuration with every default applied.
func Default() *Config {
	c := &Config{
		PollSeconds: 5,
		Timezone:    "UTC",
		Engine:      DefaultEngineConfig(),
	}
	c.Market.Source = "SYNTHETIC"
	c.Market.ScanTimeout = Duration(2 * time.Second)
	c.Market.HistoryLength = 50
	c.Market.Symbols = []MarketSymbol{
		{Symbol: "BTC/USDT", BasePrice: 45000, Volatility: 0.01, VolumeBaseline: 500000},
		{Symbol: "ETH/USDT", BasePrice: 3000, Volatility: 0.012, VolumeBaseline: 250000},
	}
	c.Market.FearGreed.Source = "SYNTHETIC"
	c.Market.FearGreed.URL = "https://api.alternative.me/fng/?limit=1"
	c.Market.FearGreed.CacheTTL = Duration(time.Hour)
	c.Market.FearGreed.Timeout = Duration(5 * time.Second)
	c.Notify.QueueSize = 256
	c.Notify.DiscordWebhookEnv = "DISCORD_WEBHOOK_URL"
	c.Notify.TelegramTokenEnv = "TELEGRAM_BOT_TOKEN"
	c.Notify.RateLimitPerMinute = 30
	c.Storage.Path = "data/engine.db"
	c.Server.Addr = ":8080"
	c.Server.CORSOrigins = []string{"*"}
	return c
}

// Validate rejects engine settings the control loop cannot run with.
func (c EngineConfig) Validate() error {
	if err := c.checkFinite(); err != nil {
		return err
	}
	if c.InitialVault <= 0 {
		return fmt.Errorf("initial_vault must be positive, got %.2f", c.InitialVault)
	}
	fractions := []struct {
		name string
		v    float64
	}{
		{"min_vault_reserve", c.MinVaultReserve},
		{"profit_reinvestment_rate", c.ProfitReinvestmentRate},
		{"base_trading_unit", c.BaseTradingUnit},
		{"max_daily_exposure", c.MaxDailyExposure},
		{"fee_rate", c.FeeRate},
		{"sell_threshold.trailing_stop", c.SellThreshold.TrailingStop},
	}
	for _, f := range fractions {
		if f.v < 0 || f.v > 1 {
			return fmt.Errorf("%s must be between 0-1, got %v", f.name, f.v)
		}
	}
	if c.MinVaultReserve+c.MaxDailyExposure > 1 {
		return fmt.Errorf("min_vault_reserve + max_daily_exposure must not exceed 1, got %v", c.MinVaultReserve+c.MaxDailyExposure)
	}
	if err := c.BuyThreshold.RSI.validate("buy_threshold.rsi", 0, 100); err != nil {
		return err
	}
	if err := c.BuyThreshold.FearGreedIndex.validate("buy_threshold.fear_greed_index", 0, 100); err != nil {
		return err
	}
	if c.BuyThreshold.PriceDeviation < -1 || c.BuyThreshold.PriceDeviation > 1 {
		return fmt.Errorf("buy_threshold.price_deviation must be between -1 and 1, got %v", c.BuyThreshold.PriceDeviation)
	}
	if c.BuyThreshold.VolumeIncrease < 0 {
		return fmt.Errorf("buy_threshold.volume_increase must not be negative, got %v", c.BuyThreshold.VolumeIncrease)
	}
	if c.BuyThreshold.VolumeBaseline <= 0 {
		return fmt.Errorf("buy_threshold.volume_baseline must be positive, got %v", c.BuyThreshold.VolumeBaseline)
	}
	if c.SellThreshold.ProfitTarget <= 0 {
		return fmt.Errorf("sell_threshold.profit_target must be positive, got %v", c.SellThreshold.ProfitTarget)
	}
	if err := c.SellThreshold.RSI.validate("sell_threshold.rsi", 0, 100); err != nil {
		return err
	}
	if c.SellThreshold.TimeLimit <= 0 {
		return fmt.Errorf("sell_threshold.time_limit must be positive, got %s", c.SellThreshold.TimeLimit)
	}
	return nil
}

// checkFinite rejects NaN and infinities, which pass every range comparison.
func (c EngineConfig) checkFinite() error {
	b, sl := c.BuyThreshold, c.SellThreshold
	return finite(map[string]float64{
		"initial_vault":                      c.InitialVault,
		"min_vault_reserve":                  c.MinVaultReserve,
		"profit_reinvestment_rate":           c.ProfitReinvestmentRate,
		"base_trading_unit":                  c.BaseTradingUnit,
		"max_daily_exposure":                 c.MaxDailyExposure,
		"fee_rate":                           c.FeeRate,
		"buy_threshold.rsi.min":              b.RSI.Min,
		"buy_threshold.rsi.max":              b.RSI.Max,
		"buy_threshold.price_deviation":      b.PriceDeviation,
		"buy_threshold.volume_increase":      b.VolumeIncrease,
		"buy_threshold.volume_baseline":      b.VolumeBaseline,
		"buy_threshold.fear_greed_index.min": b.FearGreedIndex.Min,
		"buy_threshold.fear_greed_index.max": b.FearGreedIndex.Max,
		"sell_threshold.profit_target":       sl.ProfitTarget,
		"sell_threshold.rsi.min":             sl.RSI.Min,
		"sell_threshold.rsi.max":             sl.RSI.Max,
		"sell_threshold.trailing_stop":       sl.TrailingStop,
	})
}

func finite(fields map[string]float64) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if v := fields[name]; math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be a finite number, got %v", name, v)
		}
	}
	return nil
}

func (r Range) validate(name string, lo, hi float64) error {
	if r.Min < lo || r.Max > hi || r.Min > r.Max {
		return fmt.Errorf("%s must satisfy %v <= min <= max <= %v, got [%v, %v]", name, lo, hi, r.Min, r.Max)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.PollSeconds <= 0 {
		return fmt.Errorf("poll_seconds must be positive, got %d", c.PollSeconds)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.Market.Source != "SYNTHETIC" {
		return fmt.Errorf("invalid market.source '%s': must be 'SYNTHETIC'", c.Market.Source)
	}
	if c.Market.FearGreed.Source != "SYNTHETIC" && c.Market.FearGreed.Source != "LIVE" {
		return fmt.Errorf("invalid market.fear_greed.source '%s': must be 'SYNTHETIC' or 'LIVE'", c.Market.FearGreed.Source)
	}
	if len(c.Market.Symbols) == 0 {
		return errors.New("market.symbols cannot be empty")
	}
	seen := map[string]bool{}
	for _, s := range c.Market.Symbols {
		if err := finite(map[string]float64{
			"base_price":      s.BasePrice,
			"volatility":      s.Volatility,
			"volume_baseline": s.VolumeBaseline,
		}); err != nil {
			return fmt.Errorf("market.symbols entry %q: %w", s.Symbol, err)
		}
		if s.Symbol == "" || s.BasePrice <= 0 {
			return fmt.Errorf("market.symbols entry %q needs a symbol and a positive base_price", s.Symbol)
		}
		if seen[s.Symbol] {
			return fmt.Errorf("market.symbols contains %q twice", s.Symbol)
		}
		seen[s.Symbol] = true
	}
	return nil
}

// Location returns the zone day boundaries are computed in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	c.Market.Source = strings.ToUpper(c.Market.Source)
	c.Market.FearGreed.Source = strings.ToUpper(c.Market.FearGreed.Source)
	if c.Market.HistoryLength < 21 {
		c.Market.HistoryLength = 50
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return c, nil
}

// ConfigPatch mutates a copy of the engine configuration.
type ConfigPatch func(*EngineConfig) error

// JSONPatch overlays a partial JSON document onto the configuration. Fields
// absent from raw keep their current values; unknown fields are rejected.
func JSONPatch(raw []byte) ConfigPatch {
	return func(c *EngineConfig) error {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(c); err != nil {
			return fmt.Errorf("decode config patch: %w", err)
		}
		return nil
	}
}

// Apply runs patch against a copy of c and validates the result. c itself is
// never modified.
func (c EngineConfig) Apply(patch ConfigPatch) (EngineConfig, error) {
	next := c
	if patch != nil {
		if err := patch(&next); err != nil {
			return c, err
		}
	}
	if err := next.Validate(); err != nil {
		return c, err
	}
	return next, nil
}
