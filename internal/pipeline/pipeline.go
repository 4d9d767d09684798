// Package pipeline wires one symbol's trade stream through bar building,
// feature extraction, the strategy, and the fill simulator. The same code
// path serves live sessions and replays, which is what keeps the two
// bit-identical for identical input.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"barbot-go/internal/bars"
	"barbot-go/internal/config"
	"barbot-go/internal/execution"
	"barbot-go/internal/features"
	"barbot-go/internal/market"
	"barbot-go/internal/metrics"
	"barbot-go/internal/portfolio"
	"barbot-go/internal/record"
	"barbot-go/internal/risk"
	"barbot-go/internal/strategy"
)

// Pipeline owns the full per-symbol processing chain. It is single-threaded:
// one goroutine calls OnTrade (or Run), which is what makes every stage
// deterministic.
type Pipeline struct {
	symbol  string
	log     zerolog.Logger
	builder *bars.Builder
	engine  *features.Engine
	strat   *strategy.Momentum
	sim     *execution.Simulator
	streams *record.Streams
	tracker *portfolio.Tracker
	ledger  *portfolio.Ledger

	lastBar *market.Bar
}

// Options carries the optional shared sinks. All fields are nil-safe.
type Options struct {
	Streams *record.Streams
	Tracker *portfolio.Tracker
	Ledger  *portfolio.Ledger
}

// New assembles a pipeline for one symbol from the application config.
func New(symbol string, cfg *config.Config, log zerolog.Logger, opts Options) (*Pipeline, error) {
	policy, err := bars.ParsePolicy(cfg.Bars.Policy)
	if err != nil {
		return nil, err
	}
	builder, err := bars.NewBuilder(symbol, bars.Thresholds{
		TickLimit:      cfg.Bars.TickLimit,
		QtyLimit:       cfg.Bars.QtyLimit,
		ValueLimit:     cfg.Bars.ValueLimit,
		ImbalanceLimit: cfg.Bars.ImbalanceLimit,
		Policy:         policy,
	})
	if err != nil {
		return nil, err
	}

	s := cfg.Strategy
	engine := features.NewEngine(features.Config{
		SMAShort:  s.LookbackBars,
		ReturnVol: s.VolatilityWindow,
	})
	strat, err := strategy.NewMomentum(strategy.Params{
		LookbackBars:     s.LookbackBars,
		EntryThreshold:   s.EntryThreshold,
		ExitThreshold:    s.ExitThreshold,
		StopLossPct:      s.StopLossPct,
		TakeProfitPct:    s.TakeProfitPct,
		QtyFrac:          s.QtyFrac,
		VolatilityWindow: s.VolatilityWindow,
		MinVolatility:    s.MinVolatility,
		MaxVolatility:    s.MaxVolatility,
		CooldownBars:     s.CooldownBars,
		MaxHoldBars:      s.MaxHoldBars,
		MinProfitBps:     s.MinProfitBps,
		TrendFilter:      s.TrendFilter,
		AllowShort:       s.AllowShort,
		DynamicStops:     s.DynamicStops,
		DynamicEntry:     s.DynamicEntry,
		DynamicCooldown:  s.DynamicCooldown,
		TrendStrength:    s.TrendStrength,
	})
	if err != nil {
		return nil, err
	}
	sim, err := execution.NewSimulator(symbol, cfg.Execution.StartingCash, cfg.Execution.FeeBps, cfg.Execution.SlippageBps,
		risk.Limits{MaxNotionalPerTrade: cfg.Execution.MaxNotionalPerTrade})
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		symbol:  symbol,
		log:     log.With().Str("symbol", symbol).Logger(),
		builder: builder,
		engine:  engine,
		strat:   strat,
		sim:     sim,
		streams: opts.Streams,
		tracker: opts.Tracker,
		ledger:  opts.Ledger,
	}, nil
}

// OnTrade advances the pipeline by one trade. Invalid trades are counted,
// logged, and dropped; the accumulating bar is untouched.
func (p *Pipeline) OnTrade(trade market.Trade) error {
	bar, err := p.builder.Update(trade)
	if err != nil {
		metrics.TradesRejected.WithLabelValues(p.symbol, rejectReason(err)).Inc()
		p.log.Debug().Err(err).Float64("price", trade.Price).Msg("dropped trade")
		return nil
	}
	if bar == nil {
		return nil
	}
	return p.onBar(*bar)
}

func (p *Pipeline) onBar(bar market.Bar) error {
	p.lastBar = &bar
	metrics.BarsTotal.WithLabelValues(p.symbol).Inc()
	if err := p.streams.Bar(bar); err != nil {
		return fmt.Errorf("record bar: %w", err)
	}

	snap := p.engine.Update(bar)
	if err := p.streams.Snapshot(p.symbol, bar.End, snap); err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	sig := p.strat.Evaluate(bar, snap, p.sim.Cash())
	metrics.SignalsTotal.WithLabelValues(p.symbol, sig.Action.String()).Inc()
	if err := p.streams.Signal(p.symbol, sig); err != nil {
		return fmt.Errorf("record signal: %w", err)
	}

	if sig.Action != strategy.ActionHold {
		if err := p.execute(sig, bar, volOf(snap)); err != nil {
			return err
		}
	}

	equity := p.sim.MarkToMarket(bar)
	metrics.Equity.WithLabelValues(p.symbol).Set(equity)
	if p.tracker != nil {
		p.tracker.Update(p.symbol, equity, p.sim.Summary().RealizedPnL)
	}
	return nil
}

// execute turns an actionable signal into a fill and commits the position
// transition only on acceptance. A rejected entry degrades to a hold.
func (p *Pipeline) execute(sig strategy.Signal, bar market.Bar, vol float64) error {
	fill, err := p.sim.Apply(sig, bar)
	if err != nil {
		if errors.Is(err, execution.ErrInsufficientFunds) || errors.Is(err, execution.ErrRiskLimit) {
			metrics.EntriesRejected.WithLabelValues(p.symbol, rejectReason(err)).Inc()
			p.log.Warn().Err(err).Str("action", sig.Action.String()).Msg("entry rejected")
			return nil
		}
		return fmt.Errorf("apply %s: %w", sig.Action, err)
	}

	// Stops and targets anchor on the effective fill price, not the close
	// the signal was computed from.
	sig.Price = fill.Price
	p.strat.Commit(sig, bar, vol)

	metrics.FillsTotal.WithLabelValues(p.symbol, string(fill.Side)).Inc()
	if p.ledger != nil {
		p.ledger.Record(*fill)
	}
	if err := p.streams.Fill(*fill); err != nil {
		return fmt.Errorf("record fill: %w", err)
	}
	p.log.Info().
		Str("side", string(fill.Side)).
		Str("reason", fill.Reason).
		Float64("qty", fill.Qty).
		Float64("price", fill.Price).
		Msg("fill")
	return nil
}

// Flatten closes any open position at the last seen close. Called at session
// end so no paper exposure survives the process.
func (p *Pipeline) Flatten() error {
	if p.lastBar == nil {
		return nil
	}
	sig, ok := p.strat.Flatten(*p.lastBar)
	if !ok {
		return nil
	}
	if err := p.execute(sig, *p.lastBar, 0); err != nil {
		return err
	}
	equity := p.sim.MarkToMarket(*p.lastBar)
	metrics.Equity.WithLabelValues(p.symbol).Set(equity)
	if p.tracker != nil {
		p.tracker.Update(p.symbol, equity, p.sim.Summary().RealizedPnL)
	}
	return nil
}

// Run consumes trades until the channel closes or the context is canceled,
// then flattens.
func (p *Pipeline) Run(ctx context.Context, trades <-chan market.Trade) error {
	for {
		select {
		case <-ctx.Done():
			if err := p.Flatten(); err != nil {
				return err
			}
			return ctx.Err()
		case trade, ok := <-trades:
			if !ok {
				return p.Flatten()
			}
			if err := p.OnTrade(trade); err != nil {
				return err
			}
		}
	}
}

// Summary exposes the simulator's session totals.
func (p *Pipeline) Summary() execution.Summary { return p.sim.Summary() }

// Position exposes the strategy's current position state.
func (p *Pipeline) Position() strategy.Position { return p.strat.Position() }

// volOf mirrors the volatility fallback the strategy applies internally, so
// Commit resolves adaptive parameters from the same number Evaluate saw.
func volOf(snap features.Snapshot) float64 {
	if snap.ReturnVol.Valid {
		return snap.ReturnVol.Value
	}
	return 0
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, market.ErrBadPrice):
		return "bad_price"
	case errors.Is(err, market.ErrBadQty):
		return "bad_qty"
	case errors.Is(err, market.ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, execution.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, execution.ErrRiskLimit):
		return "risk_limit"
	default:
		return "other"
	}
}
