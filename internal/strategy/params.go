package strategy

import "fmt"

// Params groups every tunable knob of the momentum state machine. The
// adaptive flags swap the parameter source, never the transition logic.
type Params struct {
	LookbackBars     int
	EntryThreshold   float64
	ExitThreshold    float64
	StopLossPct      float64
	TakeProfitPct    float64
	QtyFrac          float64
	VolatilityWindow int
	MinVolatility    float64
	MaxVolatility    float64
	CooldownBars     int
	// MaxHoldBars closes a position held too long; 0 disables the time stop.
	MaxHoldBars  int
	MinProfitBps float64
	TrendFilter  bool
	AllowShort   bool

	DynamicStops    bool
	DynamicEntry    bool
	DynamicCooldown bool
	TrendStrength   bool
}

// Validate applies the fail-fast construction rules.
func (p Params) Validate() error {
	if p.LookbackBars <= 1 {
		return fmt.Errorf("strategy: lookback bars must be > 1")
	}
	if p.EntryThreshold <= 0 {
		return fmt.Errorf("strategy: entry threshold must be positive")
	}
	if p.ExitThreshold <= 0 || p.ExitThreshold > p.EntryThreshold {
		return fmt.Errorf("strategy: exit threshold must be in (0, entry threshold]")
	}
	if p.StopLossPct <= 0 || p.StopLossPct >= 1 {
		return fmt.Errorf("strategy: stop loss pct must be in (0,1)")
	}
	if p.TakeProfitPct < p.StopLossPct || p.TakeProfitPct >= 1 {
		return fmt.Errorf("strategy: take profit pct must be in [stop loss, 1)")
	}
	if p.QtyFrac <= 0 || p.QtyFrac > 1 {
		return fmt.Errorf("strategy: qty frac must be in (0,1]")
	}
	if p.MinVolatility < 0 || p.MaxVolatility <= p.MinVolatility {
		return fmt.Errorf("strategy: volatility band is inverted")
	}
	if p.CooldownBars < 0 || p.MaxHoldBars < 0 {
		return fmt.Errorf("strategy: bar counts must not be negative")
	}
	if p.MinProfitBps < 0 {
		return fmt.Errorf("strategy: min profit bps must not be negative")
	}
	return nil
}

// referenceVol anchors the volatility scaling of the adaptive variants.
const referenceVol = 0.001

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// stopLossPct widens the stop in volatile regimes and tightens it in calm
// ones, within ±20% of the configured value.
func (p Params) stopLossPct(vol float64) float64 {
	if !p.DynamicStops {
		return p.StopLossPct
	}
	factor := clamp(1+(vol/referenceVol-1)*0.2, 0.8, 1.2)
	return p.StopLossPct * factor
}

// takeProfitPct shrinks the target when volatility is high (moves resolve
// fast) and stretches it when volatility is low.
func (p Params) takeProfitPct(vol float64) float64 {
	if !p.DynamicStops {
		return p.TakeProfitPct
	}
	factor := clamp(2-vol/referenceVol, 0.67, 1.5)
	return p.TakeProfitPct * factor
}

// entryThreshold demands more momentum in choppy markets and less in quiet
// ones.
func (p Params) entryThreshold(vol float64) float64 {
	if !p.DynamicEntry {
		return p.EntryThreshold
	}
	switch {
	case vol > 0.01:
		return p.EntryThreshold * 1.5
	case vol < 0.0005:
		return p.EntryThreshold * 0.7
	default:
		return p.EntryThreshold
	}
}

// cooldownBars shortens the quiescent period after a winning trade and
// stretches it after a flat or losing one.
func (p Params) cooldownBars(lastProfitBps float64) int {
	if !p.DynamicCooldown || lastProfitBps == 0 {
		return p.CooldownBars
	}
	switch {
	case lastProfitBps > 100:
		return 1
	case lastProfitBps > 50:
		return 2
	case lastProfitBps > 30:
		return 3
	default:
		return 5
	}
}
