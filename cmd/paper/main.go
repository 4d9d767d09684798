// Command paper runs the live paper-trading engine: one pipeline per
// configured symbol, fed from the configured trade source, flattened on
// shutdown.
package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"barbot-go/internal/config"
	"barbot-go/internal/feed"
	"barbot-go/internal/market"
	"barbot-go/internal/metrics"
	"barbot-go/internal/pipeline"
	"barbot-go/internal/portfolio"
	"barbot-go/internal/record"
	"barbot-go/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to YAML config")
	flag.Parse()

	_ = godotenv.Load()

	log := util.NewLogger("info")
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	log = util.NewLogger(cfg.App.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if cfg.App.SessionSecs > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, time.Duration(cfg.App.SessionSecs)*time.Second)
		defer timeoutCancel()
	}

	src, err := feed.New(cfg.Feed.Provider, cfg.Feed.Symbols, log,
		feed.WithReplayPath(cfg.Feed.ReplayPath),
		feed.WithTestnet(cfg.Feed.Testnet),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("build feed")
	}

	streams, err := record.Open(cfg.Record.BarsPath, cfg.Record.SnapshotsPath, cfg.Record.SignalsPath, cfg.Record.FillsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open recorders")
	}
	defer streams.Close()

	symbols := src.Symbols()
	tracker := portfolio.NewTracker(cfg.Execution.StartingCash, symbols)
	ledger := portfolio.NewLedger(256)
	opts := pipeline.Options{Streams: streams, Tracker: tracker, Ledger: ledger}

	// One pipeline and one channel per symbol; a router fans trades out so
	// each pipeline stays single-threaded.
	perSymbol := make(map[string]chan market.Trade, len(symbols))
	pipelines := make(map[string]*pipeline.Pipeline, len(symbols))
	for _, sym := range symbols {
		p, err := pipeline.New(sym, cfg, log, opts)
		if err != nil {
			log.Fatal().Err(err).Str("symbol", sym).Msg("build pipeline")
		}
		pipelines[sym] = p
		perSymbol[sym] = make(chan market.Trade, queueSize(cfg))
	}

	var wg sync.WaitGroup
	for sym, p := range pipelines {
		wg.Add(1)
		go func(sym string, p *pipeline.Pipeline, ch <-chan market.Trade) {
			defer wg.Done()
			// Shutdown arrives as a channel close, so every pipeline gets
			// to flatten before the process exits.
			if err := p.Run(context.Background(), ch); err != nil {
				log.Error().Err(err).Str("symbol", sym).Msg("pipeline stopped")
				cancel()
			}
		}(sym, p, perSymbol[sym])
	}

	trades := make(chan market.Trade, queueSize(cfg))
	go func() {
		defer close(trades)
		if err := src.Run(ctx, trades); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("feed stopped")
			cancel()
		}
	}()

	log.Info().Strs("symbols", symbols).Str("provider", cfg.Feed.Provider).Msg("paper engine started")
	pipeline.Fanout(ctx, trades, perSymbol)
	wg.Wait()

	for sym, p := range pipelines {
		sum := p.Summary()
		log.Info().
			Str("symbol", sym).
			Float64("final_equity", sum.FinalEquity).
			Float64("realized_pnl", sum.RealizedPnL).
			Int("round_trips", sum.RoundTrips).
			Float64("win_rate", sum.WinRate).
			Float64("max_drawdown", sum.MaxDrawdown).
			Msg("session summary")
	}
	total := tracker.Snapshot()
	log.Info().
		Float64("total_equity", total.TotalEquity).
		Float64("total_realized", total.TotalRealized).
		Int("fills", len(ledger.Snapshot())).
		Msg("portfolio summary")
}

func queueSize(cfg *config.Config) int {
	if cfg.Feed.QueueSize > 0 {
		return cfg.Feed.QueueSize
	}
	return 1024
}
