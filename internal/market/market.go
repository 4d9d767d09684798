// Package market standardizes the trade and bar payloads shared between the
// feed, bar builder, and strategy layers.
package market

import (
	"errors"
	"fmt"
	"time"
)

// Data-quality errors surfaced when an incoming trade is rejected. They are
// warnings for the pipeline, never fatal.
var (
	ErrBadPrice   = errors.New("trade price must be positive")
	ErrBadQty     = errors.New("trade quantity must be positive")
	ErrOutOfOrder = errors.New("trade timestamp went backwards")
)

// Trade models a single exchange print.
type Trade struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Qty    float64   `json:"qty"`
	Ts     time.Time `json:"ts"`
	// BuyerMaker is true when the buyer was the passive side, meaning the
	// aggressor sold into the book (Binance convention).
	BuyerMaker bool `json:"buyer_maker"`
}

// Notional returns price times quantity.
func (t Trade) Notional() float64 { return t.Price * t.Qty }

// AggressorSign applies the tick rule: +1 when the taker bought, -1 when the
// taker sold.
func (t Trade) AggressorSign() float64 {
	if t.BuyerMaker {
		return -1
	}
	return 1
}

// Validate rejects malformed trades. prev is the previously accepted trade
// for the same symbol; its zero value disables the ordering check. Equal
// timestamps are accepted because exchanges batch prints at millisecond
// resolution.
func Validate(prev, next Trade) error {
	if next.Price <= 0 {
		return ErrBadPrice
	}
	if next.Qty <= 0 {
		return ErrBadQty
	}
	if !prev.Ts.IsZero() && next.Ts.Before(prev.Ts) {
		return ErrOutOfOrder
	}
	return nil
}

// Bar is a micro-bar closed by accumulated trade activity rather than wall
// clock time. Immutable once emitted by the builder.
type Bar struct {
	Symbol      string    `json:"symbol"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	DollarValue float64   `json:"dollar_value"`
	TradeCount  int       `json:"trade_count"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// CheckBar verifies OHLC consistency of a closed bar. Used by tests and the
// recorder as a last line of defence.
func CheckBar(b Bar) error {
	if b.TradeCount < 1 {
		return fmt.Errorf("bar %s has trade_count %d", b.Symbol, b.TradeCount)
	}
	lo, hi := b.Open, b.Open
	if b.Close < lo {
		lo = b.Close
	}
	if b.Close > hi {
		hi = b.Close
	}
	if b.Low > lo || b.High < hi {
		return fmt.Errorf("bar %s violates low<=open,close<=high: o=%.8f h=%.8f l=%.8f c=%.8f",
			b.Symbol, b.Open, b.High, b.Low, b.Close)
	}
	if b.End.Before(b.Start) {
		return fmt.Errorf("bar %s ends before it starts", b.Symbol)
	}
	return nil
}
