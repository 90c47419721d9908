package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the trade bot.
type Config struct {
	General GeneralConfig `yaml:"general"`
	Feed    FeedConfig    `yaml:"feed"`
	Trading Settings      `yaml:"trading"`
	Monitor MonitorConfig `yaml:"monitor"`
	State   StateConfig   `yaml:"state"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	SimMode     bool   `yaml:"sim_mode"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

// FeedConfig configures the price feed pipeline: upstream endpoints,
// cache freshness and the sanity bounds applied to every incoming quote.
type FeedConfig struct {
	DexScreenerURL string `yaml:"dexscreener_url"`
	JupiterURL     string `yaml:"jupiter_url"`
	SolPriceURL    string `yaml:"sol_price_url"`
	WSURL          string `yaml:"ws_url"`

	// Cache freshness window: entries older than this force a refresh.
	FreshnessSeconds int `yaml:"freshness_seconds"`
	// Push-channel values older than this are skipped in the fallback chain.
	PushStalenessSeconds int `yaml:"push_staleness_seconds"`

	// Quotes outside (MinPriceUSD, MaxPriceUSD) are rejected as noise.
	MinPriceUSD float64 `yaml:"min_price_usd"`
	MaxPriceUSD float64 `yaml:"max_price_usd"`

	// Fallback reference rate when the quote-currency lookup fails.
	DefaultSolPriceUSD float64 `yaml:"default_sol_price_usd"`

	RequestTimeoutSeconds      int `yaml:"request_timeout_seconds"`
	ForceRefreshBudgetSeconds  int `yaml:"force_refresh_budget_seconds"`
	HistoryCap                 int `yaml:"history_cap"`
}

type MonitorConfig struct {
	CycleIntervalMs      int `yaml:"cycle_interval_ms"`
	PositionIntervalMs   int `yaml:"position_interval_ms"`
	RapidCycleEnabled    bool `yaml:"rapid_cycle_enabled"`
	RapidCycleIntervalMs int `yaml:"rapid_cycle_interval_ms"`
}

type StateConfig struct {
	Path            string `yaml:"path"`
	HistoryCap      int    `yaml:"history_cap"`
	SaveOnEveryTrade bool  `yaml:"save_on_every_trade"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Level is a (threshold%, sell%) pair defining a partial-exit rule.
// Take-profit thresholds are positive gains, stop-loss thresholds negative.
type Level struct {
	ThresholdPct float64 `yaml:"threshold_pct" json:"threshold_pct"`
	SellPct      float64 `yaml:"sell_pct" json:"sell_pct"`
}

// Settings holds all trading parameters. Engines receive it as an
// immutable snapshot; runtime updates go through Store.Swap so concurrent
// readers never observe a half-updated configuration.
type Settings struct {
	AutoBuy  bool    `yaml:"autobuy" json:"autobuy"`
	AutoSell bool    `yaml:"autosell" json:"autosell"`
	BuyAmountSOL float64 `yaml:"buy_amount_sol" json:"buy_amount_sol"`

	TakeProfitLevels []Level `yaml:"take_profit_levels" json:"take_profit_levels"`
	StopLossLevels   []Level `yaml:"stop_loss_levels" json:"stop_loss_levels"`
	TrailingStopPct  float64 `yaml:"trailing_stop_pct" json:"trailing_stop_pct"`

	// Time-based close: full exit for positions past the grace period whose
	// gain never reached the smallest TP threshold.
	TimeBasedExitEnabled bool `yaml:"time_based_exit_enabled" json:"time_based_exit_enabled"`
	GracePeriodSeconds   int  `yaml:"grace_period_seconds" json:"grace_period_seconds"`

	MaxPositions            int `yaml:"max_positions" json:"max_positions"`
	MaxPositionsPerCategory int `yaml:"max_positions_per_category" json:"max_positions_per_category"`

	MomentumThresholdPct float64 `yaml:"momentum_threshold_pct" json:"momentum_threshold_pct"`
	MomentumWindow       int     `yaml:"momentum_window" json:"momentum_window"`
	DipThresholdPct      float64 `yaml:"dip_threshold_pct" json:"dip_threshold_pct"`
	MicroPumpThresholdPct float64 `yaml:"micro_pump_threshold_pct" json:"micro_pump_threshold_pct"`
	VolatilityThreshold  float64 `yaml:"volatility_threshold" json:"volatility_threshold"`
	WhaleThresholdSOL    float64 `yaml:"whale_threshold_sol" json:"whale_threshold_sol"`
	AIConfidence         float64 `yaml:"ai_confidence" json:"ai_confidence"`

	MinLiquidityUSD  float64 `yaml:"min_liquidity_usd" json:"min_liquidity_usd"`
	FastBuyPriceFloor float64 `yaml:"fast_buy_price_floor" json:"fast_buy_price_floor"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// DefaultSettings returns the baseline trading parameters.
func DefaultSettings() Settings {
	return Settings{
		AutoBuy:      false,
		AutoSell:     true,
		BuyAmountSOL: 0.2,
		TakeProfitLevels: []Level{
			{ThresholdPct: 20, SellPct: 25},
			{ThresholdPct: 50, SellPct: 25},
			{ThresholdPct: 100, SellPct: 25},
			{ThresholdPct: 150, SellPct: 100},
		},
		StopLossLevels: []Level{
			{ThresholdPct: -5, SellPct: 50},
			{ThresholdPct: -10, SellPct: 100},
		},
		TrailingStopPct:         5.0,
		TimeBasedExitEnabled:    true,
		GracePeriodSeconds:      20,
		MaxPositions:            5,
		MaxPositionsPerCategory: 2,
		MomentumThresholdPct:    5.0,
		MomentumWindow:          10,
		DipThresholdPct:         15.0,
		MicroPumpThresholdPct:   3.0,
		VolatilityThreshold:     2.0,
		WhaleThresholdSOL:       5.0,
		AIConfidence:            0.7,
		MinLiquidityUSD:         5000,
		FastBuyPriceFloor:       0.000007,
	}
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "tradebot-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Feed.DexScreenerURL == "" {
		cfg.Feed.DexScreenerURL = "https://api.dexscreener.com/latest/dex/tokens"
	}
	if cfg.Feed.JupiterURL == "" {
		cfg.Feed.JupiterURL = "https://quote-api.jup.ag/v6/quote"
	}
	if cfg.Feed.SolPriceURL == "" {
		cfg.Feed.SolPriceURL = "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd"
	}
	if cfg.Feed.WSURL == "" {
		cfg.Feed.WSURL = "wss://api.mainnet-beta.solana.com"
	}
	if cfg.Feed.FreshnessSeconds == 0 {
		cfg.Feed.FreshnessSeconds = 30
	}
	if cfg.Feed.PushStalenessSeconds == 0 {
		cfg.Feed.PushStalenessSeconds = 60
	}
	if cfg.Feed.MinPriceUSD == 0 {
		cfg.Feed.MinPriceUSD = 0.0000001
	}
	if cfg.Feed.MaxPriceUSD == 0 {
		cfg.Feed.MaxPriceUSD = 10000
	}
	if cfg.Feed.DefaultSolPriceUSD == 0 {
		cfg.Feed.DefaultSolPriceUSD = 150
	}
	if cfg.Feed.RequestTimeoutSeconds == 0 {
		cfg.Feed.RequestTimeoutSeconds = 5
	}
	if cfg.Feed.ForceRefreshBudgetSeconds == 0 {
		cfg.Feed.ForceRefreshBudgetSeconds = 5
	}
	if cfg.Feed.HistoryCap == 0 {
		cfg.Feed.HistoryCap = 1000
	}
	if cfg.Monitor.CycleIntervalMs == 0 {
		cfg.Monitor.CycleIntervalMs = 1000
	}
	if cfg.Monitor.PositionIntervalMs == 0 {
		cfg.Monitor.PositionIntervalMs = 1000
	}
	if cfg.Monitor.RapidCycleIntervalMs == 0 {
		cfg.Monitor.RapidCycleIntervalMs = 500
	}
	if cfg.State.Path == "" {
		cfg.State.Path = "data/state.json"
	}
	if cfg.State.HistoryCap == 0 {
		cfg.State.HistoryCap = 5000
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9091
	}

	defaults := DefaultSettings()
	s := &cfg.Trading
	if s.BuyAmountSOL == 0 {
		s.BuyAmountSOL = defaults.BuyAmountSOL
	}
	if len(s.TakeProfitLevels) == 0 {
		s.TakeProfitLevels = defaults.TakeProfitLevels
	}
	if len(s.StopLossLevels) == 0 {
		s.StopLossLevels = defaults.StopLossLevels
	}
	if s.TrailingStopPct == 0 {
		s.TrailingStopPct = defaults.TrailingStopPct
	}
	if s.GracePeriodSeconds == 0 {
		s.GracePeriodSeconds = defaults.GracePeriodSeconds
	}
	if s.MaxPositions == 0 {
		s.MaxPositions = defaults.MaxPositions
	}
	if s.MaxPositionsPerCategory == 0 {
		s.MaxPositionsPerCategory = defaults.MaxPositionsPerCategory
	}
	if s.MomentumThresholdPct == 0 {
		s.MomentumThresholdPct = defaults.MomentumThresholdPct
	}
	if s.MomentumWindow == 0 {
		s.MomentumWindow = defaults.MomentumWindow
	}
	if s.DipThresholdPct == 0 {
		s.DipThresholdPct = defaults.DipThresholdPct
	}
	if s.MicroPumpThresholdPct == 0 {
		s.MicroPumpThresholdPct = defaults.MicroPumpThresholdPct
	}
	if s.VolatilityThreshold == 0 {
		s.VolatilityThreshold = defaults.VolatilityThreshold
	}
	if s.WhaleThresholdSOL == 0 {
		s.WhaleThresholdSOL = defaults.WhaleThresholdSOL
	}
	if s.AIConfidence == 0 {
		s.AIConfidence = defaults.AIConfidence
	}
	if s.MinLiquidityUSD == 0 {
		s.MinLiquidityUSD = defaults.MinLiquidityUSD
	}
	if s.FastBuyPriceFloor == 0 {
		s.FastBuyPriceFloor = defaults.FastBuyPriceFloor
	}
}

// Validate checks structural invariants of the configuration.
func (c *Config) Validate() error {
	if c.Feed.MinPriceUSD <= 0 || c.Feed.MaxPriceUSD <= c.Feed.MinPriceUSD {
		return fmt.Errorf("feed: invalid price bounds [%g, %g]", c.Feed.MinPriceUSD, c.Feed.MaxPriceUSD)
	}
	if err := c.Trading.Validate(); err != nil {
		return fmt.Errorf("trading: %w", err)
	}
	return nil
}

// Validate checks the trading parameter invariants.
func (s *Settings) Validate() error {
	if s.BuyAmountSOL <= 0 {
		return fmt.Errorf("buy_amount_sol must be positive, got %g", s.BuyAmountSOL)
	}
	if s.MaxPositions <= 0 {
		return fmt.Errorf("max_positions must be positive, got %d", s.MaxPositions)
	}
	if s.MaxPositionsPerCategory > s.MaxPositions {
		return fmt.Errorf("max_positions_per_category %d exceeds max_positions %d",
			s.MaxPositionsPerCategory, s.MaxPositions)
	}
	for i, lv := range s.TakeProfitLevels {
		if lv.ThresholdPct <= 0 {
			return fmt.Errorf("take_profit_levels[%d]: threshold must be positive, got %g", i, lv.ThresholdPct)
		}
		if lv.SellPct <= 0 || lv.SellPct > 100 {
			return fmt.Errorf("take_profit_levels[%d]: sell_pct out of (0,100], got %g", i, lv.SellPct)
		}
	}
	for i, lv := range s.StopLossLevels {
		if lv.ThresholdPct >= 0 {
			return fmt.Errorf("stop_loss_levels[%d]: threshold must be negative, got %g", i, lv.ThresholdPct)
		}
		if lv.SellPct <= 0 || lv.SellPct > 100 {
			return fmt.Errorf("stop_loss_levels[%d]: sell_pct out of (0,100], got %g", i, lv.SellPct)
		}
	}
	if s.TrailingStopPct < 0 {
		return fmt.Errorf("trailing_stop_pct must not be negative, got %g", s.TrailingStopPct)
	}
	if s.AIConfidence < 0 || s.AIConfidence > 1 {
		return fmt.Errorf("ai_confidence out of [0,1], got %g", s.AIConfidence)
	}
	return nil
}

// MinTakeProfitPct returns the smallest configured take-profit threshold,
// or 0 when no levels are configured.
func (s *Settings) MinTakeProfitPct() float64 {
	min := 0.0
	for i, lv := range s.TakeProfitLevels {
		if i == 0 || lv.ThresholdPct < min {
			min = lv.ThresholdPct
		}
	}
	return min
}

// GracePeriod returns the time-based exit grace period as a duration.
func (s *Settings) GracePeriod() time.Duration {
	return time.Duration(s.GracePeriodSeconds) * time.Second
}
