// Package execution simulates fills against a cash/position ledger with
// basis-point fee and slippage cost models. No orders ever leave the process.
package execution

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"barbot-go/internal/market"
	"barbot-go/internal/risk"
	"barbot-go/internal/strategy"
)

// Side enumerates fill directions.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Recoverable rejections. The pipeline downgrades these to HOLD and keeps
// going; they are reported, never fatal.
var (
	ErrInsufficientFunds = errors.New("execution: entry notional exceeds available cash")
	ErrRiskLimit         = errors.New("execution: entry notional exceeds risk limit")
	ErrNoPosition        = errors.New("execution: exit without open position")
)

// Fill records one simulated execution with its full cost breakdown.
type Fill struct {
	ID       string    `json:"id"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Qty      float64   `json:"qty"`
	Price    float64   `json:"price"` // effective price after slippage
	Fee      float64   `json:"fee"`
	Slippage float64   `json:"slippage"` // absolute cost vs the bar close
	Reason   string    `json:"reason"`
	Ts       time.Time `json:"ts"`
}

// Simulator owns the paper ledger for one symbol pipeline. Not safe for
// concurrent use; cross-symbol aggregation reads committed snapshots
// instead of sharing the ledger.
type Simulator struct {
	symbol  string
	feeRate float64
	slip    float64
	limits  risk.Limits

	startingCash float64
	cash         float64
	posQty       float64
	equity       float64
	peakEquity   float64
	maxDrawdown  float64

	basis      float64 // cash moved on entry, to realize PnL on exit
	realized   float64
	roundTrips int
	wins       int

	fills []Fill
}

// NewSimulator builds a ledger seeded with starting cash.
func NewSimulator(symbol string, startingCash, feeBps, slippageBps float64, limits risk.Limits) (*Simulator, error) {
	if startingCash <= 0 {
		return nil, fmt.Errorf("execution: starting cash must be positive")
	}
	if feeBps < 0 || slippageBps < 0 {
		return nil, fmt.Errorf("execution: fee and slippage bps must not be negative")
	}
	return &Simulator{
		symbol:       symbol,
		feeRate:      feeBps / 10_000,
		slip:         slippageBps / 10_000,
		limits:       limits,
		startingCash: startingCash,
		cash:         startingCash,
		equity:       startingCash,
		peakEquity:   startingCash,
	}, nil
}

func (s *Simulator) Cash() float64        { return s.cash }
func (s *Simulator) PositionQty() float64 { return s.posQty }
func (s *Simulator) Equity() float64      { return s.equity }

// Fills returns a copy of the fill history.
func (s *Simulator) Fills() []Fill {
	out := make([]Fill, len(s.fills))
	copy(out, s.fills)
	return out
}

// Apply converts an entry or exit signal into a simulated fill at the bar
// close adjusted for slippage. HOLD signals return (nil, nil).
func (s *Simulator) Apply(sig strategy.Signal, bar market.Bar) (*Fill, error) {
	switch sig.Action {
	case strategy.ActionEnterLong:
		return s.enter(sig, bar, Buy)
	case strategy.ActionEnterShort:
		return s.enter(sig, bar, Sell)
	case strategy.ActionExit:
		return s.exit(sig, bar)
	default:
		return nil, nil
	}
}

func (s *Simulator) enter(sig strategy.Signal, bar market.Bar, side Side) (*Fill, error) {
	price := s.effectivePrice(bar.Close, side)
	notional := sig.Qty * price
	fee := notional * s.feeRate

	if !s.limits.Allow(notional) {
		return nil, ErrRiskLimit
	}
	// Shorts post the same notional as cash collateral, so the check is
	// symmetric.
	if notional+fee > s.cash {
		return nil, ErrInsufficientFunds
	}

	if side == Buy {
		s.cash -= notional + fee
		s.posQty += sig.Qty
		s.basis = notional + fee
	} else {
		s.cash += notional - fee
		s.posQty -= sig.Qty
		s.basis = notional - fee
	}
	return s.record(sig, bar, side, price, fee), nil
}

func (s *Simulator) exit(sig strategy.Signal, bar market.Bar) (*Fill, error) {
	if s.posQty == 0 {
		return nil, ErrNoPosition
	}

	qty := math.Abs(s.posQty)
	side := Sell
	if s.posQty < 0 {
		side = Buy
	}
	price := s.effectivePrice(bar.Close, side)
	notional := qty * price
	fee := notional * s.feeRate

	var pnl float64
	if side == Sell {
		s.cash += notional - fee
		pnl = (notional - fee) - s.basis
	} else {
		s.cash -= notional + fee
		pnl = s.basis - (notional + fee)
	}
	s.posQty = 0
	s.basis = 0
	s.realized += pnl
	s.roundTrips++
	if pnl > 0 {
		s.wins++
	}
	sig.Qty = qty
	return s.record(sig, bar, side, price, fee), nil
}

// effectivePrice moves the close against the taker by the slippage rate.
func (s *Simulator) effectivePrice(close float64, side Side) float64 {
	if side == Buy {
		return close * (1 + s.slip)
	}
	return close * (1 - s.slip)
}

func (s *Simulator) record(sig strategy.Signal, bar market.Bar, side Side, price, fee float64) *Fill {
	fill := Fill{
		ID:       uuid.NewString(),
		Symbol:   s.symbol,
		Side:     side,
		Qty:      sig.Qty,
		Price:    price,
		Fee:      fee,
		Slippage: math.Abs(price-bar.Close) * sig.Qty,
		Reason:   sig.Reason.String(),
		Ts:       bar.End,
	}
	s.fills = append(s.fills, fill)
	return &s.fills[len(s.fills)-1]
}

// MarkToMarket recomputes equity from the latest close. Called on every bar
// whether or not a fill happened, so the equity curve never gaps.
func (s *Simulator) MarkToMarket(bar market.Bar) float64 {
	s.equity = s.cash + s.posQty*bar.Close
	if s.equity > s.peakEquity {
		s.peakEquity = s.equity
	}
	if s.peakEquity > 0 {
		dd := (s.peakEquity - s.equity) / s.peakEquity
		if dd > s.maxDrawdown {
			s.maxDrawdown = dd
		}
	}
	return s.equity
}

// Summary condenses the ledger for end-of-session reporting.
type Summary struct {
	Symbol      string  `json:"symbol"`
	StartCash   float64 `json:"start_cash"`
	FinalEquity float64 `json:"final_equity"`
	RealizedPnL float64 `json:"realized_pnl"`
	RoundTrips  int     `json:"round_trips"`
	WinRate     float64 `json:"win_rate"`
	MaxDrawdown float64 `json:"max_drawdown"`
	Fills       int     `json:"fills"`
}

// Summary reports realized performance so far.
func (s *Simulator) Summary() Summary {
	winRate := 0.0
	if s.roundTrips > 0 {
		winRate = float64(s.wins) / float64(s.roundTrips)
	}
	return Summary{
		Symbol:      s.symbol,
		StartCash:   s.startingCash,
		FinalEquity: s.equity,
		RealizedPnL: s.realized,
		RoundTrips:  s.roundTrips,
		WinRate:     winRate,
		MaxDrawdown: s.maxDrawdown,
		Fills:       len(s.fills),
	}
}
