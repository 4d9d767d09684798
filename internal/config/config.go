// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, metrics address, and logging level.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	// SessionSecs bounds a live session; 0 runs until interrupted.
	SessionSecs int `yaml:"session_secs"`
}

// Feed describes where trades come from.
type Feed struct {
	Provider   string   `yaml:"provider"` // stub | binance | replay
	Symbols    []string `yaml:"symbols"`
	ReplayPath string   `yaml:"replay_path"`
	Testnet    bool     `yaml:"testnet"`
	// QueueSize bounds the trade channel between feed and pipeline.
	QueueSize int `yaml:"queue_size"`
}

// Bars configures the micro-bar closing thresholds. A zero limit disables
// that rule; at least one limit must be enabled.
type Bars struct {
	TickLimit      int     `yaml:"tick_limit"`
	QtyLimit       float64 `yaml:"qty_limit"`
	ValueLimit     float64 `yaml:"value_limit"`
	ImbalanceLimit float64 `yaml:"imbalance_limit"`
	Policy         string  `yaml:"policy"` // any | all
}

// Strategy groups the momentum state machine knobs, including the flag-gated
// adaptive variants.
type Strategy struct {
	LookbackBars     int     `yaml:"lookback_bars"`
	EntryThreshold   float64 `yaml:"entry_threshold"`
	ExitThreshold    float64 `yaml:"exit_threshold"`
	StopLossPct      float64 `yaml:"stop_loss_pct"`
	TakeProfitPct    float64 `yaml:"take_profit_pct"`
	QtyFrac          float64 `yaml:"qty_frac"`
	VolatilityWindow int     `yaml:"volatility_window"`
	MinVolatility    float64 `yaml:"min_volatility"`
	MaxVolatility    float64 `yaml:"max_volatility"`
	CooldownBars     int     `yaml:"cooldown_bars"`
	MaxHoldBars      int     `yaml:"max_hold_bars"`
	MinProfitBps     float64 `yaml:"min_profit_bps"`
	TrendFilter      bool    `yaml:"trend_filter"`
	AllowShort       bool    `yaml:"allow_short"`

	DynamicStops    bool `yaml:"dynamic_stops"`
	DynamicEntry    bool `yaml:"dynamic_entry"`
	DynamicCooldown bool `yaml:"dynamic_cooldown"`
	TrendStrength   bool `yaml:"trend_strength"`
}

// Execution captures the paper fill simulator settings.
type Execution struct {
	StartingCash        float64 `yaml:"starting_cash"`
	FeeBps              float64 `yaml:"fee_bps"`
	SlippageBps         float64 `yaml:"slippage_bps"`
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade"`
}

// Record points the append-only JSONL sinks at their target files. Empty
// paths disable the corresponding sink.
type Record struct {
	BarsPath      string `yaml:"bars_path"`
	SnapshotsPath string `yaml:"snapshots_path"`
	SignalsPath   string `yaml:"signals_path"`
	FillsPath     string `yaml:"fills_path"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App       App       `yaml:"app"`
	Feed      Feed      `yaml:"feed"`
	Bars      Bars      `yaml:"bars"`
	Strategy  Strategy  `yaml:"strategy"`
	Execution Execution `yaml:"execution"`
	Record    Record    `yaml:"record"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate applies the fail-fast rules that are operator errors rather than
// runtime conditions. Component constructors re-check what they own; this
// catches the cross-field mistakes early.
func (c *Config) Validate() error {
	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("feed.symbols must not be empty")
	}
	if c.Bars.TickLimit <= 0 && c.Bars.QtyLimit <= 0 && c.Bars.ValueLimit <= 0 && c.Bars.ImbalanceLimit <= 0 {
		return fmt.Errorf("bars: at least one closing threshold must be set")
	}
	s := c.Strategy
	if s.LookbackBars <= 1 {
		return fmt.Errorf("strategy.lookback_bars must be > 1")
	}
	if s.EntryThreshold <= 0 || s.ExitThreshold <= 0 {
		return fmt.Errorf("strategy entry/exit thresholds must be positive")
	}
	if s.StopLossPct <= 0 || s.StopLossPct >= 1 {
		return fmt.Errorf("strategy.stop_loss_pct must be in (0,1)")
	}
	if s.TakeProfitPct <= 0 || s.TakeProfitPct >= 1 {
		return fmt.Errorf("strategy.take_profit_pct must be in (0,1)")
	}
	if s.QtyFrac <= 0 || s.QtyFrac > 1 {
		return fmt.Errorf("strategy.qty_frac must be in (0,1]")
	}
	if s.MinVolatility < 0 || s.MaxVolatility <= s.MinVolatility {
		return fmt.Errorf("strategy volatility band is inverted")
	}
	if s.CooldownBars < 0 {
		return fmt.Errorf("strategy.cooldown_bars must not be negative")
	}
	if c.Execution.StartingCash <= 0 {
		return fmt.Errorf("execution.starting_cash must be positive")
	}
	if c.Execution.FeeBps < 0 || c.Execution.SlippageBps < 0 {
		return fmt.Errorf("execution fee/slippage bps must not be negative")
	}
	return nil
}
