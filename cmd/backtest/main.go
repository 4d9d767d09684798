// Command backtest replays a recorded trade file through the exact pipeline
// the live engine runs and prints the session summary.
package main

import (
	"context"
	"flag"

	"github.com/joho/godotenv"

	"barbot-go/internal/config"
	"barbot-go/internal/feed"
	"barbot-go/internal/market"
	"barbot-go/internal/pipeline"
	"barbot-go/internal/portfolio"
	"barbot-go/internal/record"
	"barbot-go/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to YAML config")
	source := flag.String("source", "", "trade CSV to replay (overrides feed.replay_path)")
	symbol := flag.String("symbol", "", "symbol to backtest (overrides feed.symbols)")
	flag.Parse()

	_ = godotenv.Load()

	log := util.NewLogger("info")
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	log = util.NewLogger(cfg.App.LogLevel)

	if *source != "" {
		cfg.Feed.ReplayPath = *source
	}
	if *symbol != "" {
		cfg.Feed.Symbols = []string{*symbol}
	}
	cfg.Feed.Provider = feed.ProviderReplay
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if len(cfg.Feed.Symbols) != 1 {
		log.Fatal().Int("symbols", len(cfg.Feed.Symbols)).Msg("backtest replays one symbol at a time")
	}

	src, err := feed.New(cfg.Feed.Provider, cfg.Feed.Symbols, log, feed.WithReplayPath(cfg.Feed.ReplayPath))
	if err != nil {
		log.Fatal().Err(err).Msg("build feed")
	}

	streams, err := record.Open(cfg.Record.BarsPath, cfg.Record.SnapshotsPath, cfg.Record.SignalsPath, cfg.Record.FillsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open recorders")
	}
	defer streams.Close()

	sym := src.Symbols()[0]
	ledger := portfolio.NewLedger(256)
	p, err := pipeline.New(sym, cfg, log, pipeline.Options{Streams: streams, Ledger: ledger})
	if err != nil {
		log.Fatal().Err(err).Msg("build pipeline")
	}

	ctx := context.Background()
	trades := make(chan market.Trade, 1024)
	feedErr := make(chan error, 1)
	go func() {
		defer close(trades)
		feedErr <- src.Run(ctx, trades)
	}()

	if err := p.Run(ctx, trades); err != nil {
		log.Fatal().Err(err).Msg("replay failed")
	}
	if err := <-feedErr; err != nil {
		log.Fatal().Err(err).Msg("replay source failed")
	}

	sum := p.Summary()
	log.Info().
		Str("symbol", sum.Symbol).
		Float64("start_cash", sum.StartCash).
		Float64("final_equity", sum.FinalEquity).
		Float64("realized_pnl", sum.RealizedPnL).
		Int("round_trips", sum.RoundTrips).
		Float64("win_rate", sum.WinRate).
		Float64("max_drawdown", sum.MaxDrawdown).
		Int("fills", sum.Fills).
		Msg("backtest summary")
}
