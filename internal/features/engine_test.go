package features

import (
	"math"
	"testing"
	"time"

	"barbot-go/internal/market"
)

const tol = 1e-9

func mkBar(i int, o, h, l, c, v float64) market.Bar {
	return market.Bar{
		Symbol: "BTCUSDT", Open: o, High: h, Low: l, Close: c, Volume: v, TradeCount: 1,
		Start: time.UnixMilli(int64(i * 1000)), End: time.UnixMilli(int64(i*1000 + 999)),
	}
}

// A deterministic but wiggly price path.
func fixtureBars(n int) []market.Bar {
	out := make([]market.Bar, n)
	px := 100.0
	for i := range out {
		move := 0.6*math.Sin(float64(i)/3) + 0.2*math.Cos(float64(i)/7)
		open := px
		px += move
		hi := math.Max(open, px) + 0.3
		lo := math.Min(open, px) - 0.3
		out[i] = mkBar(i, open, hi, lo, px, 1+0.5*math.Abs(move))
	}
	return out
}

// Batch reference implementations, recomputed from scratch each step.

func batchSMA(closes []float64, n int) (float64, bool) {
	if len(closes) < n {
		return 0, false
	}
	sum := 0.0
	for _, c := range closes[len(closes)-n:] {
		sum += c
	}
	return sum / float64(n), true
}

func batchEMA(closes []float64, n int) float64 {
	k := 2.0 / float64(n+1)
	ema := closes[0]
	for _, c := range closes[1:] {
		ema = c*k + ema*(1-k)
	}
	return ema
}

func batchRSI(closes []float64, n int) (float64, bool) {
	if len(closes) < n+1 {
		return 0, false
	}
	var avgGain, avgLoss float64
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain, loss := math.Max(d, 0), math.Max(-d, 0)
		if i <= n {
			avgGain += gain / float64(n)
			avgLoss += loss / float64(n)
			continue
		}
		avgGain = (avgGain*float64(n-1) + gain) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + loss) / float64(n)
	}
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

func batchATR(bars []market.Bar, n int) (float64, bool) {
	if len(bars) < n+1 {
		return 0, false
	}
	var atr float64
	for i := 1; i < len(bars); i++ {
		tr := math.Max(bars[i].High-bars[i].Low,
			math.Max(math.Abs(bars[i].High-bars[i-1].Close), math.Abs(bars[i].Low-bars[i-1].Close)))
		if i <= n {
			atr += tr / float64(n)
			continue
		}
		atr = (atr*float64(n-1) + tr) / float64(n)
	}
	return atr, true
}

func TestIncrementalMatchesBatch(t *testing.T) {
	cfg := Config{SMAShort: 10, SMALong: 20, EMAFast: 8, EMASlow: 16, RSIPeriod: 14, BBPeriod: 10, ATRPeriod: 14}
	e := NewEngine(cfg)
	bars := fixtureBars(120)

	var closes []float64
	for i, bar := range bars {
		snap := e.Update(bar)
		closes = append(closes, bar.Close)

		if want, ok := batchSMA(closes, 10); ok != snap.SMAShort.Valid {
			t.Fatalf("bar %d: sma availability mismatch", i)
		} else if ok && math.Abs(want-snap.SMAShort.Value) > tol {
			t.Fatalf("bar %d: sma %f != %f", i, snap.SMAShort.Value, want)
		}

		if snap.EMAFast.Valid {
			if want := batchEMA(closes, 8); math.Abs(want-snap.EMAFast.Value) > tol {
				t.Fatalf("bar %d: ema %f != %f", i, snap.EMAFast.Value, want)
			}
		}

		if want, ok := batchRSI(closes, 14); ok != snap.RSI.Valid {
			t.Fatalf("bar %d: rsi availability mismatch", i)
		} else if ok && math.Abs(want-snap.RSI.Value) > tol {
			t.Fatalf("bar %d: rsi %f != %f", i, snap.RSI.Value, want)
		}

		if want, ok := batchATR(bars[:i+1], 14); ok != snap.ATR.Valid {
			t.Fatalf("bar %d: atr availability mismatch", i)
		} else if ok && math.Abs(want-snap.ATR.Value) > tol {
			t.Fatalf("bar %d: atr %f != %f", i, snap.ATR.Value, want)
		}
	}
}

func TestWarmupGating(t *testing.T) {
	e := NewEngine(Config{SMAShort: 5, SMALong: 10, RSIPeriod: 14, BBPeriod: 5, ATRPeriod: 14})
	bars := fixtureBars(4)
	var snap Snapshot
	for _, bar := range bars {
		snap = e.Update(bar)
	}
	if snap.SMAShort.Valid || snap.SMALong.Valid || snap.RSI.Valid || snap.ATR.Valid || snap.BBUpper.Valid {
		t.Fatalf("indicators reported valid during warmup: %+v", snap)
	}
	if snap.Momentum.Valid {
		t.Fatalf("momentum must be unavailable before its SMA warms up")
	}
}

func TestRSIAllGainsReportsHundred(t *testing.T) {
	e := NewEngine(Config{RSIPeriod: 5})
	px := 100.0
	var snap Snapshot
	for i := 0; i < 10; i++ {
		px += 1
		snap = e.Update(mkBar(i, px-1, px, px-1, px, 1))
	}
	if !snap.RSI.Valid || snap.RSI.Value != 100 {
		t.Fatalf("expected RSI 100 with zero losses, got %+v", snap.RSI)
	}
}

func TestBollingerBandsBracketSMA(t *testing.T) {
	e := NewEngine(Config{BBPeriod: 10, BBStd: 2})
	var snap Snapshot
	for i, bar := range fixtureBars(30) {
		snap = e.Update(bar)
		if !snap.BBMiddle.Valid {
			continue
		}
		if snap.BBUpper.Value < snap.BBMiddle.Value || snap.BBLower.Value > snap.BBMiddle.Value {
			t.Fatalf("bar %d: bands do not bracket middle: %+v", i, snap)
		}
	}
	if !snap.BBMiddle.Valid {
		t.Fatalf("bands never warmed up")
	}
}

func TestVolumeRatio(t *testing.T) {
	e := NewEngine(Config{VolumeSMA: 4})
	var snap Snapshot
	for i := 0; i < 4; i++ {
		snap = e.Update(mkBar(i, 100, 101, 99, 100, 2))
	}
	snap = e.Update(mkBar(4, 100, 101, 99, 100, 4))
	if !snap.VolumeRatio.Valid {
		t.Fatalf("volume ratio should be available")
	}
	// window mean is (2+2+2+4)/4 = 2.5 after the spike enters the window
	if math.Abs(snap.VolumeRatio.Value-4/2.5) > tol {
		t.Fatalf("unexpected volume ratio %f", snap.VolumeRatio.Value)
	}
}
