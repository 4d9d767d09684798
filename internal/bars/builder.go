// Package bars builds micro-bars from a trade stream using event-driven
// closing thresholds instead of wall-clock time.
package bars

import (
	"fmt"
	"math"
	"strings"

	"barbot-go/internal/market"
)

// Policy decides how the enabled thresholds combine.
type Policy int

const (
	// PolicyAny closes the bar when any enabled threshold is reached.
	PolicyAny Policy = iota
	// PolicyAll closes the bar only when every enabled threshold is reached.
	PolicyAll
)

// ParsePolicy maps the config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return PolicyAny, nil
	case "all":
		return PolicyAll, nil
	default:
		return PolicyAny, fmt.Errorf("unknown bar policy %q", s)
	}
}

// Thresholds configures the closing rules. A zero (or negative) limit
// disables that rule; at least one rule must be enabled.
type Thresholds struct {
	TickLimit      int
	QtyLimit       float64
	ValueLimit     float64
	ImbalanceLimit float64
	Policy         Policy
}

func (t Thresholds) enabled() int {
	n := 0
	if t.TickLimit > 0 {
		n++
	}
	if t.QtyLimit > 0 {
		n++
	}
	if t.ValueLimit > 0 {
		n++
	}
	if t.ImbalanceLimit > 0 {
		n++
	}
	return n
}

// Builder accumulates trades for one symbol and emits a Bar whenever the
// configured closing condition fires. Not safe for concurrent use; each
// symbol pipeline owns exactly one Builder.
type Builder struct {
	symbol string
	th     Thresholds

	lastTrade market.Trade // previously accepted trade, for ordering checks
	prevClose float64      // closing price of the last emitted bar

	open, high, low, close float64
	volume, value          float64
	imbalance              float64
	count                  int
	start, end             market.Trade
}

// NewBuilder validates the thresholds and returns a builder for the symbol.
// A configuration with no enabled threshold would never close a bar, so it
// is rejected here rather than discovered at runtime.
func NewBuilder(symbol string, th Thresholds) (*Builder, error) {
	if symbol == "" {
		return nil, fmt.Errorf("bars: symbol must not be empty")
	}
	if th.enabled() == 0 {
		return nil, fmt.Errorf("bars: at least one closing threshold must be enabled")
	}
	return &Builder{symbol: symbol, th: th}, nil
}

// Update ingests one trade. It returns the closed bar when a closing
// condition fires, nil otherwise. Malformed trades are rejected with an
// error and leave the in-progress accumulation untouched.
func (b *Builder) Update(t market.Trade) (*market.Bar, error) {
	if err := market.Validate(b.lastTrade, t); err != nil {
		return nil, err
	}
	b.lastTrade = t

	if b.count == 0 {
		// The close of the previous bar seeds the next open so the candle
		// series stays gap-free. The very first bar opens on its first trade.
		b.open = t.Price
		if b.prevClose > 0 {
			b.open = b.prevClose
		}
		b.high = math.Max(b.open, t.Price)
		b.low = math.Min(b.open, t.Price)
		b.start = t
	}
	b.count++
	b.close = t.Price
	b.high = math.Max(b.high, t.Price)
	b.low = math.Min(b.low, t.Price)
	b.volume += t.Qty
	b.value += t.Notional()
	b.imbalance += t.AggressorSign() * t.Qty
	b.end = t

	if !b.shouldClose() {
		return nil, nil
	}

	bar := &market.Bar{
		Symbol:      b.symbol,
		Open:        b.open,
		High:        b.high,
		Low:         b.low,
		Close:       b.close,
		Volume:      b.volume,
		DollarValue: b.value,
		TradeCount:  b.count,
		Start:       b.start.Ts,
		End:         b.end.Ts,
	}
	b.prevClose = bar.Close
	b.reset()
	return bar, nil
}

// A single oversized trade may satisfy a volume/value/imbalance rule on its
// own and close a one-trade bar. That is the intended contract; avoiding it
// is a matter of threshold tuning, not special-casing.
func (b *Builder) shouldClose() bool {
	all := true
	any := false
	check := func(hit bool) {
		any = any || hit
		all = all && hit
	}
	if b.th.TickLimit > 0 {
		check(b.count >= b.th.TickLimit)
	}
	if b.th.QtyLimit > 0 {
		check(b.volume >= b.th.QtyLimit)
	}
	if b.th.ValueLimit > 0 {
		check(b.value >= b.th.ValueLimit)
	}
	if b.th.ImbalanceLimit > 0 {
		check(math.Abs(b.imbalance) >= b.th.ImbalanceLimit)
	}
	if b.th.Policy == PolicyAll {
		return all
	}
	return any
}

func (b *Builder) reset() {
	b.open, b.high, b.low, b.close = 0, 0, 0, 0
	b.volume, b.value, b.imbalance = 0, 0, 0
	b.count = 0
	b.start, b.end = market.Trade{}, market.Trade{}
}

// Progress reports the in-progress accumulation, for dashboards and logs.
type Progress struct {
	TradeCount  int
	Volume      float64
	DollarValue float64
	Imbalance   float64
}

// Current returns a snapshot of the open accumulation.
func (b *Builder) Current() Progress {
	return Progress{TradeCount: b.count, Volume: b.volume, DollarValue: b.value, Imbalance: b.imbalance}
}
