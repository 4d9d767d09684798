// Package strategy turns feature snapshots into entry and exit signals via
// a per-symbol position state machine with layered risk rules.
package strategy

import (
	"time"

	"barbot-go/internal/features"
	"barbot-go/internal/market"
)

// Action is what the strategy wants done on this bar.
type Action int

const (
	ActionHold Action = iota
	ActionEnterLong
	ActionEnterShort
	ActionExit
)

func (a Action) String() string {
	switch a {
	case ActionEnterLong:
		return "ENTER_LONG"
	case ActionEnterShort:
		return "ENTER_SHORT"
	case ActionExit:
		return "EXIT"
	default:
		return "HOLD"
	}
}

// Reason explains a signal, both for trades and for holds.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonMomentum
	ReasonStopLoss
	ReasonTakeProfit
	ReasonReversal
	ReasonTimeStop
	ReasonSessionFlatten
	ReasonWarmup
	ReasonCooldown
	ReasonVolatilityBand
	ReasonTrendFilter
	ReasonWeakTrend
	ReasonInPosition
	ReasonProfitFloor
)

func (r Reason) String() string {
	switch r {
	case ReasonMomentum:
		return "momentum"
	case ReasonStopLoss:
		return "stop_loss"
	case ReasonTakeProfit:
		return "take_profit"
	case ReasonReversal:
		return "reversal"
	case ReasonTimeStop:
		return "time_stop"
	case ReasonSessionFlatten:
		return "session_flatten"
	case ReasonWarmup:
		return "warmup"
	case ReasonCooldown:
		return "cooldown"
	case ReasonVolatilityBand:
		return "volatility_band"
	case ReasonTrendFilter:
		return "trend_filter"
	case ReasonWeakTrend:
		return "weak_trend"
	case ReasonInPosition:
		return "in_position"
	case ReasonProfitFloor:
		return "profit_floor"
	default:
		return "none"
	}
}

// Side of the open position.
type Side int

const (
	Flat Side = iota
	Long
	Short
)

func (s Side) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Position is the strategy-owned position state for one symbol.
type Position struct {
	Side       Side
	EntryPrice float64
	Qty        float64
	// StopPrice and TakePrice are the levels as priced at entry time, kept
	// for reporting. Exits re-derive the thresholds from each bar's
	// volatility, so with dynamic stops the live levels drift from these.
	StopPrice float64
	TakePrice float64
	EntryTs   time.Time
}

// Signal is the immutable outcome of evaluating one bar.
type Signal struct {
	Action Action    `json:"action"`
	Reason Reason    `json:"reason"`
	Price  float64   `json:"price"`
	Qty    float64   `json:"qty"`
	BarTs  time.Time `json:"bar_ts"`
}

// Momentum is the long-biased momentum state machine. Transitions are a
// pure function of (internal state, feature snapshot, bar), which is what
// makes live and replay runs bit-identical. Proposed entries and exits take
// effect only via Commit, so a simulator rejection costs nothing.
type Momentum struct {
	p   Params
	pos Position

	barsSinceExit int
	barsInPos     int
	lastProfitBps float64

	// last few momentum readings, for the optional trend-strength filter
	momHist [3]float64
	momSeen int
}

// NewMomentum validates params and returns a fresh state machine.
func NewMomentum(p Params) (*Momentum, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Momentum{p: p, barsSinceExit: p.CooldownBars}, nil
}

// Position returns the current position state.
func (m *Momentum) Position() Position { return m.pos }

// LastProfitBps reports the realized outcome of the previous trade.
func (m *Momentum) LastProfitBps() float64 { return m.lastProfitBps }

func (m *Momentum) hold(bar market.Bar, r Reason) Signal {
	return Signal{Action: ActionHold, Reason: r, Price: bar.Close, BarTs: bar.End}
}

// Evaluate runs the state machine for one closed bar. Exits are checked in
// the fixed order stop-loss, take-profit, reversal; only the reversal (and
// time-stop) path is subject to the minimum-profit floor.
func (m *Momentum) Evaluate(bar market.Bar, snap features.Snapshot, cash float64) Signal {
	if m.pos.Side == Flat {
		m.barsSinceExit++
	} else {
		m.barsInPos++
	}

	if !snap.Momentum.Valid {
		return m.hold(bar, ReasonWarmup)
	}
	momentum := snap.Momentum.Value
	m.pushMomentum(momentum)

	vol := 0.0
	if snap.ReturnVol.Valid {
		vol = snap.ReturnVol.Value
	}

	if m.pos.Side != Flat {
		return m.evaluateExit(bar, momentum, vol)
	}
	return m.evaluateEntry(bar, snap, momentum, vol, cash)
}

func (m *Momentum) evaluateExit(bar market.Bar, momentum, vol float64) Signal {
	price := bar.Close
	exit := func(r Reason) Signal {
		return Signal{Action: ActionExit, Reason: r, Price: price, Qty: m.pos.Qty, BarTs: bar.End}
	}

	stopPct := m.p.stopLossPct(vol)
	takePct := m.p.takeProfitPct(vol)
	profitPct := (price - m.pos.EntryPrice) / m.pos.EntryPrice
	reversed := momentum < -m.p.ExitThreshold
	if m.pos.Side == Short {
		profitPct = -profitPct
		reversed = momentum > m.p.ExitThreshold
	}

	// Stop-loss and take-profit outrank the reversal rule: when a bar trips
	// several conditions the protective exits win.
	if profitPct <= -stopPct {
		return exit(ReasonStopLoss)
	}
	if profitPct >= takePct {
		return exit(ReasonTakeProfit)
	}

	profitBps := profitPct * 10_000
	if reversed {
		if profitBps < m.p.MinProfitBps {
			return m.hold(bar, ReasonProfitFloor)
		}
		return exit(ReasonReversal)
	}
	if m.p.MaxHoldBars > 0 && m.barsInPos >= m.p.MaxHoldBars {
		if profitBps < m.p.MinProfitBps {
			return m.hold(bar, ReasonProfitFloor)
		}
		return exit(ReasonTimeStop)
	}
	return m.hold(bar, ReasonInPosition)
}

func (m *Momentum) evaluateEntry(bar market.Bar, snap features.Snapshot, momentum, vol float64, cash float64) Signal {
	if m.barsSinceExit < m.p.cooldownBars(m.lastProfitBps) {
		return m.hold(bar, ReasonCooldown)
	}
	if !snap.ReturnVol.Valid {
		return m.hold(bar, ReasonWarmup)
	}
	if vol < m.p.MinVolatility || vol > m.p.MaxVolatility {
		return m.hold(bar, ReasonVolatilityBand)
	}

	threshold := m.p.entryThreshold(vol)
	wantLong := momentum >= threshold
	wantShort := m.p.AllowShort && momentum <= -threshold
	if !wantLong && !wantShort {
		return m.hold(bar, ReasonNone)
	}

	if m.p.TrendFilter {
		if !snap.SMAShort.Valid || !snap.SMALong.Valid {
			return m.hold(bar, ReasonWarmup)
		}
		aligned := snap.SMAShort.Value > snap.SMALong.Value
		if wantShort {
			aligned = snap.SMAShort.Value < snap.SMALong.Value
		}
		if !aligned {
			return m.hold(bar, ReasonTrendFilter)
		}
	}
	if m.p.TrendStrength && m.trendStrength() < 0.6 {
		return m.hold(bar, ReasonWeakTrend)
	}

	qty := m.p.QtyFrac * cash / bar.Close
	if qty <= 0 {
		return m.hold(bar, ReasonNone)
	}

	action := ActionEnterLong
	if wantShort {
		action = ActionEnterShort
	}
	return Signal{Action: action, Reason: ReasonMomentum, Price: bar.Close, Qty: qty, BarTs: bar.End}
}

// Commit applies a filled entry or exit signal to the position state. The
// pipeline calls it only after the execution simulator accepted the fill;
// rejected entries therefore leave the machine exactly as it was (HOLD).
func (m *Momentum) Commit(sig Signal, bar market.Bar, vol float64) {
	switch sig.Action {
	case ActionEnterLong, ActionEnterShort:
		stopPct := m.p.stopLossPct(vol)
		takePct := m.p.takeProfitPct(vol)
		pos := Position{Side: Long, EntryPrice: sig.Price, Qty: sig.Qty, EntryTs: bar.End}
		pos.StopPrice = sig.Price * (1 - stopPct)
		pos.TakePrice = sig.Price * (1 + takePct)
		if sig.Action == ActionEnterShort {
			pos.Side = Short
			pos.StopPrice = sig.Price * (1 + stopPct)
			pos.TakePrice = sig.Price * (1 - takePct)
		}
		m.pos = pos
		m.barsInPos = 0
	case ActionExit:
		profitPct := (sig.Price - m.pos.EntryPrice) / m.pos.EntryPrice
		if m.pos.Side == Short {
			profitPct = -profitPct
		}
		m.lastProfitBps = profitPct * 10_000
		m.pos = Position{}
		m.barsInPos = 0
		m.barsSinceExit = 0
	}
}

// Flatten synthesizes the session-end exit for an open position. It bypasses
// every exit filter: a canceled session must not stay exposed.
func (m *Momentum) Flatten(bar market.Bar) (Signal, bool) {
	if m.pos.Side == Flat {
		return Signal{}, false
	}
	return Signal{Action: ActionExit, Reason: ReasonSessionFlatten, Price: bar.Close, Qty: m.pos.Qty, BarTs: bar.End}, true
}

func (m *Momentum) pushMomentum(v float64) {
	copy(m.momHist[:], m.momHist[1:])
	m.momHist[len(m.momHist)-1] = v
	if m.momSeen < len(m.momHist) {
		m.momSeen++
	}
}

// trendStrength is the fraction of recent momentum readings that increased,
// a cheap proxy for acceleration.
func (m *Momentum) trendStrength() float64 {
	if m.momSeen < len(m.momHist) {
		return 0.5
	}
	increasing := 0
	for i := 1; i < len(m.momHist); i++ {
		if m.momHist[i] > m.momHist[i-1] {
			increasing++
		}
	}
	return float64(increasing) / float64(len(m.momHist))
}
