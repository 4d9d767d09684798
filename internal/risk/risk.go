// Package risk holds pre-trade checks applied before any simulated fill.
package risk

// Limits caps what a single entry may commit. Zero values disable a check,
// so the zero Limits allows everything.
type Limits struct {
	MaxNotionalPerTrade float64
}

// Allow reports whether an entry of the given notional passes every cap.
func (l Limits) Allow(notional float64) bool {
	if notional <= 0 {
		return false
	}
	if l.MaxNotionalPerTrade > 0 && notional > l.MaxNotionalPerTrade {
		return false
	}
	return true
}
