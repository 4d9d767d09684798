package features

import (
	"sort"

	"barbot-go/internal/market"
)

// Zone is a clustered support or resistance level.
type Zone struct {
	Price    float64 `json:"price"`
	Touches  int     `json:"touches"`
	Strength float64 `json:"strength"`
}

// levelDetector finds pivot highs/lows over a sliding bar window and
// clusters them into zones. This is the only O(window) feature; everything
// else updates incrementally.
type levelDetector struct {
	highs        *ring
	lows         *ring
	tolerancePct float64
}

// Pivots need two neighbours on each side.
const pivotWing = 2

func newLevelDetector(window int, tolerancePct float64) *levelDetector {
	if window < 2*pivotWing+1 {
		window = 2*pivotWing + 1
	}
	return &levelDetector{
		highs:        newRing(window),
		lows:         newRing(window),
		tolerancePct: tolerancePct,
	}
}

func (d *levelDetector) update(bar market.Bar) {
	d.highs.push(bar.High)
	d.lows.push(bar.Low)
}

// zones returns (support, resistance), each sorted by descending strength.
func (d *levelDetector) zones() ([]Zone, []Zone) {
	if d.highs.len() < 2*pivotWing+2 {
		return nil, nil
	}
	resistance := d.cluster(d.pivots(d.highs, func(a, b float64) bool { return a > b }))
	support := d.cluster(d.pivots(d.lows, func(a, b float64) bool { return a < b }))
	return support, resistance
}

type pivot struct {
	price float64
	// recency in (0,1]; 1 is the newest bar in the window.
	recency float64
}

// pivots scans the window for local extrema: a bar whose high (low) beats
// every neighbour within pivotWing on both sides.
func (d *levelDetector) pivots(r *ring, beats func(a, b float64) bool) []pivot {
	n := r.len()
	out := make([]pivot, 0, 4)
	for i := pivotWing; i < n-pivotWing; i++ {
		v := r.at(i)
		isPivot := true
		for w := 1; w <= pivotWing; w++ {
			if !beats(v, r.at(i-w)) || !beats(v, r.at(i+w)) {
				isPivot = false
				break
			}
		}
		if isPivot {
			out = append(out, pivot{price: v, recency: float64(i+1) / float64(n)})
		}
	}
	return out
}

// cluster merges pivots within the price tolerance into zones. Strength
// grows with touch count and with how recent the touches are.
func (d *levelDetector) cluster(pivots []pivot) []Zone {
	if len(pivots) == 0 {
		return nil
	}
	sort.Slice(pivots, func(i, j int) bool { return pivots[i].price < pivots[j].price })

	zones := make([]Zone, 0, len(pivots))
	var sum, weight float64
	var touches int
	flush := func() {
		if touches > 0 {
			zones = append(zones, Zone{Price: sum / float64(touches), Touches: touches, Strength: weight})
		}
		sum, weight, touches = 0, 0, 0
	}

	anchor := pivots[0].price
	for _, p := range pivots {
		if touches > 0 && p.price-anchor > anchor*(d.tolerancePct/100) {
			flush()
			anchor = p.price
		}
		sum += p.price
		weight += 0.5 + 0.5*p.recency
		touches++
	}
	flush()

	sort.Slice(zones, func(i, j int) bool { return zones[i].Strength > zones[j].Strength })
	return zones
}
