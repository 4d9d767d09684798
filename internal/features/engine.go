// Package features maintains rolling technical indicators over closed
// micro-bars. Every update is O(1) except support/resistance detection,
// which rescans its bounded lookback window.
package features

import (
	"math"

	"barbot-go/internal/market"
)

// Indicator is a feature value gated by its warmup window. Consumers must
// treat Valid == false as "cannot evaluate", never as zero.
type Indicator struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

func valid(v float64) Indicator { return Indicator{Value: v, Valid: true} }

// Snapshot is the feature vector derived from the latest closed bar.
type Snapshot struct {
	Close    float64   `json:"close"`
	SMAShort Indicator `json:"sma_short"`
	SMALong  Indicator `json:"sma_long"`
	EMAFast  Indicator `json:"ema_fast"`
	EMASlow  Indicator `json:"ema_slow"`
	RSI      Indicator `json:"rsi"`
	BBUpper  Indicator `json:"bb_upper"`
	BBMiddle Indicator `json:"bb_middle"`
	BBLower  Indicator `json:"bb_lower"`
	ATR      Indicator `json:"atr"`
	// Momentum is the close's fractional distance from the short SMA.
	Momentum Indicator `json:"momentum"`
	// ReturnVol is the standard deviation of bar-over-bar returns.
	ReturnVol   Indicator `json:"return_vol"`
	VolumeSMA   Indicator `json:"volume_sma"`
	VolumeRatio Indicator `json:"volume_ratio"`
	Support     []Zone    `json:"support"`
	Resistance  []Zone    `json:"resistance"`
}

// Config sizes the indicator windows. Zero fields take the defaults below.
type Config struct {
	SMAShort    int
	SMALong     int
	EMAFast     int
	EMASlow     int
	RSIPeriod   int
	BBPeriod    int
	BBStd       float64
	ATRPeriod   int
	VolumeSMA   int
	ReturnVol   int
	LevelWindow int
	// ZoneTolerancePct clusters nearby pivots into one zone (percent of price).
	ZoneTolerancePct float64
}

func (c Config) withDefaults() Config {
	def := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	def(&c.SMAShort, 20)
	def(&c.SMALong, 50)
	def(&c.EMAFast, 12)
	def(&c.EMASlow, 26)
	def(&c.RSIPeriod, 14)
	def(&c.BBPeriod, 20)
	def(&c.ATRPeriod, 14)
	def(&c.VolumeSMA, 20)
	def(&c.ReturnVol, 50)
	def(&c.LevelWindow, 50)
	if c.BBStd <= 0 {
		c.BBStd = 2.0
	}
	if c.ZoneTolerancePct <= 0 {
		c.ZoneTolerancePct = 0.5
	}
	return c
}

// Engine owns all indicator state for one symbol. Not safe for concurrent
// use; each pipeline owns one Engine.
type Engine struct {
	cfg Config

	smaShort *ring
	smaLong  *ring
	bb       *ring
	volSMA   *ring
	returns  *ring

	emaFast   float64
	emaSlow   float64
	emaSeeded bool
	bars      int

	// Wilder state for RSI.
	avgGain, avgLoss float64
	deltas           int

	// Wilder state for ATR.
	atr       float64
	atrCount  int
	prevClose float64

	levels *levelDetector
}

// NewEngine builds an engine with the configured windows.
func NewEngine(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:      cfg,
		smaShort: newRing(cfg.SMAShort),
		smaLong:  newRing(cfg.SMALong),
		bb:       newRing(cfg.BBPeriod),
		volSMA:   newRing(cfg.VolumeSMA),
		returns:  newRing(cfg.ReturnVol),
		levels:   newLevelDetector(cfg.LevelWindow, cfg.ZoneTolerancePct),
	}
}

// Update folds one closed bar into every indicator and returns the snapshot.
func (e *Engine) Update(bar market.Bar) Snapshot {
	price := bar.Close

	e.smaShort.push(price)
	e.smaLong.push(price)
	e.bb.push(price)
	e.volSMA.push(bar.Volume)

	if e.bars > 0 && e.prevClose > 0 {
		e.returns.push((price - e.prevClose) / e.prevClose)
		e.updateRSI(price - e.prevClose)
		e.updateATR(bar)
	}
	e.updateEMA(price)
	e.levels.update(bar)

	e.bars++
	e.prevClose = price

	return e.snapshot(bar)
}

func (e *Engine) updateEMA(price float64) {
	if !e.emaSeeded {
		e.emaFast = price
		e.emaSlow = price
		e.emaSeeded = true
		return
	}
	kf := 2.0 / float64(e.cfg.EMAFast+1)
	ks := 2.0 / float64(e.cfg.EMASlow+1)
	e.emaFast = price*kf + e.emaFast*(1-kf)
	e.emaSlow = price*ks + e.emaSlow*(1-ks)
}

func (e *Engine) updateRSI(delta float64) {
	gain := math.Max(delta, 0)
	loss := math.Max(-delta, 0)
	n := float64(e.cfg.RSIPeriod)

	e.deltas++
	if e.deltas <= e.cfg.RSIPeriod {
		// Seed phase: plain average of the first n deltas.
		e.avgGain += gain / n
		e.avgLoss += loss / n
		return
	}
	e.avgGain = (e.avgGain*(n-1) + gain) / n
	e.avgLoss = (e.avgLoss*(n-1) + loss) / n
}

func (e *Engine) updateATR(bar market.Bar) {
	tr := math.Max(bar.High-bar.Low,
		math.Max(math.Abs(bar.High-e.prevClose), math.Abs(bar.Low-e.prevClose)))
	n := float64(e.cfg.ATRPeriod)

	e.atrCount++
	if e.atrCount <= e.cfg.ATRPeriod {
		e.atr += tr / n
		return
	}
	e.atr = (e.atr*(n-1) + tr) / n
}

func (e *Engine) snapshot(bar market.Bar) Snapshot {
	snap := Snapshot{Close: bar.Close}

	if e.smaShort.full() {
		m := e.smaShort.mean()
		snap.SMAShort = valid(m)
		if m > 0 {
			snap.Momentum = valid((bar.Close - m) / m)
		}
	}
	if e.smaLong.full() {
		snap.SMALong = valid(e.smaLong.mean())
	}
	if e.emaSeeded && e.bars >= e.cfg.EMAFast {
		snap.EMAFast = valid(e.emaFast)
	}
	if e.emaSeeded && e.bars >= e.cfg.EMASlow {
		snap.EMASlow = valid(e.emaSlow)
	}
	if e.deltas >= e.cfg.RSIPeriod {
		if e.avgLoss == 0 {
			snap.RSI = valid(100)
		} else {
			rs := e.avgGain / e.avgLoss
			snap.RSI = valid(100 - 100/(1+rs))
		}
	}
	if e.bb.full() {
		mid := e.bb.mean()
		dev := e.cfg.BBStd * e.bb.stddev()
		snap.BBUpper = valid(mid + dev)
		snap.BBMiddle = valid(mid)
		snap.BBLower = valid(mid - dev)
	}
	if e.atrCount >= e.cfg.ATRPeriod {
		snap.ATR = valid(e.atr)
	}
	if e.returns.len() >= 2 {
		snap.ReturnVol = valid(e.returns.stddev())
	}
	if e.volSMA.full() {
		m := e.volSMA.mean()
		snap.VolumeSMA = valid(m)
		if m > 0 {
			snap.VolumeRatio = valid(bar.Volume / m)
		}
	}
	snap.Support, snap.Resistance = e.levels.zones()
	return snap
}
