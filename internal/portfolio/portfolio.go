// Package portfolio aggregates per-symbol pipeline state into account-level
// totals. Each pipeline owns its own ledger; this is the read side that the
// session reporter and metrics consume.
package portfolio

import (
	"sync"

	"barbot-go/internal/execution"
)

type symbolState struct {
	Equity   float64
	Realized float64
}

// Tracker holds the latest per-symbol equity marks. Pipelines for different
// symbols update it concurrently.
type Tracker struct {
	mu           sync.Mutex
	startingCash float64
	symbols      map[string]symbolState
}

// Snapshot is a point-in-time view across all symbols.
type Snapshot struct {
	TotalEquity   float64
	TotalRealized float64
	PerSymbol     map[string]float64
}

// NewTracker seeds the tracker with each symbol's starting cash so the total
// is meaningful before the first bar closes.
func NewTracker(startingCashPerSymbol float64, symbols []string) *Tracker {
	t := &Tracker{
		startingCash: startingCashPerSymbol,
		symbols:      make(map[string]symbolState, len(symbols)),
	}
	for _, s := range symbols {
		t.symbols[s] = symbolState{Equity: startingCashPerSymbol}
	}
	return t
}

// Update records the latest marked equity and realized PnL for one symbol.
func (t *Tracker) Update(symbol string, equity, realized float64) {
	t.mu.Lock()
	t.symbols[symbol] = symbolState{Equity: equity, Realized: realized}
	t.mu.Unlock()
}

// Snapshot returns totals plus a per-symbol equity copy.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{PerSymbol: make(map[string]float64, len(t.symbols))}
	for sym, st := range t.symbols {
		snap.TotalEquity += st.Equity
		snap.TotalRealized += st.Realized
		snap.PerSymbol[sym] = st.Equity
	}
	return snap
}

// Ledger stores fills from every pipeline in memory for end-of-session
// inspection.
type Ledger struct {
	mu    sync.Mutex
	fills []execution.Fill
}

// NewLedger creates an empty ledger, optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{fills: make([]execution.Fill, 0, capacity)}
}

// Record appends a fill. Safe for concurrent use.
func (l *Ledger) Record(fill execution.Fill) {
	l.mu.Lock()
	l.fills = append(l.fills, fill)
	l.mu.Unlock()
}

// Snapshot returns a copy of the recorded fills.
func (l *Ledger) Snapshot() []execution.Fill {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]execution.Fill, len(l.fills))
	copy(out, l.fills)
	return out
}
