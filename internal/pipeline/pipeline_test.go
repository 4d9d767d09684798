package pipeline

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"barbot-go/internal/config"
	"barbot-go/internal/execution"
	"barbot-go/internal/market"
	"barbot-go/internal/portfolio"
	"barbot-go/internal/strategy"
)

// testConfig closes a bar on every trade so scenarios stay short: warmup
// needs three bars for momentum and two returns for volatility.
func testConfig() *config.Config {
	return &config.Config{
		Bars: config.Bars{TickLimit: 1, Policy: "any"},
		Strategy: config.Strategy{
			LookbackBars:     3,
			EntryThreshold:   0.003,
			ExitThreshold:    0.002,
			StopLossPct:      0.02,
			TakeProfitPct:    0.04,
			QtyFrac:          0.5,
			VolatilityWindow: 2,
			MinVolatility:    0,
			MaxVolatility:    1,
		},
		Execution: config.Execution{StartingCash: 10_000},
	}
}

func trades(prices ...float64) []market.Trade {
	out := make([]market.Trade, len(prices))
	for i, p := range prices {
		out[i] = market.Trade{
			Symbol: "TESTUSDT",
			Price:  p,
			Qty:    1,
			Ts:     time.UnixMilli(1_700_000_000_000 + int64(i)*100),
		}
	}
	return out
}

func newPipeline(t *testing.T, cfg *config.Config, opts Options) *Pipeline {
	t.Helper()
	p, err := New("TESTUSDT", cfg, zerolog.Nop(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func feedAll(t *testing.T, p *Pipeline, ts []market.Trade) {
	t.Helper()
	for _, tr := range ts {
		if err := p.OnTrade(tr); err != nil {
			t.Fatalf("OnTrade(%v): %v", tr.Price, err)
		}
	}
}

func TestRoundTripThroughPipeline(t *testing.T) {
	ledger := portfolio.NewLedger(8)
	p := newPipeline(t, testConfig(), Options{Ledger: ledger})

	// Three flat bars warm up, the jump to 105 triggers the entry, and 110
	// clears the 4% take-profit.
	feedAll(t, p, trades(100, 100, 100, 105, 110))

	fills := ledger.Snapshot()
	if len(fills) != 2 {
		t.Fatalf("expected entry and exit, got %d fills", len(fills))
	}
	if fills[0].Side != execution.Buy || fills[1].Side != execution.Sell {
		t.Fatalf("unexpected fill sides: %+v", fills)
	}
	if fills[1].Reason != "take_profit" {
		t.Fatalf("exit reason = %q, want take_profit", fills[1].Reason)
	}

	sum := p.Summary()
	if sum.RoundTrips != 1 || sum.WinRate != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	// Half the bankroll bought 10000*0.5/105 units that gained 5 each.
	wantPnL := 10_000 * 0.5 / 105.0 * 5
	if math.Abs(sum.RealizedPnL-wantPnL) > 1e-6 {
		t.Fatalf("realized pnl = %v, want %v", sum.RealizedPnL, wantPnL)
	}
	if p.Position().Side != strategy.Flat {
		t.Fatalf("position should be flat after take profit")
	}
}

func TestRejectedEntryDegradesToHold(t *testing.T) {
	cfg := testConfig()
	cfg.Execution.MaxNotionalPerTrade = 10 // far below any entry notional
	ledger := portfolio.NewLedger(8)
	p := newPipeline(t, cfg, Options{Ledger: ledger})

	feedAll(t, p, trades(100, 100, 100, 105, 110))

	if got := len(ledger.Snapshot()); got != 0 {
		t.Fatalf("expected no fills past the risk cap, got %d", got)
	}
	if p.Position().Side != strategy.Flat {
		t.Fatalf("rejected entry must leave the strategy flat")
	}
	if p.Summary().FinalEquity != 10_000 {
		t.Fatalf("equity = %v, want untouched 10000", p.Summary().FinalEquity)
	}
}

func TestInvalidTradesAreDropped(t *testing.T) {
	p := newPipeline(t, testConfig(), Options{})

	ts := trades(100, 100)
	bad := market.Trade{Symbol: "TESTUSDT", Price: -1, Qty: 1, Ts: ts[1].Ts.Add(time.Millisecond)}
	stale := market.Trade{Symbol: "TESTUSDT", Price: 100, Qty: 1, Ts: ts[0].Ts.Add(-time.Second)}

	feedAll(t, p, ts)
	if err := p.OnTrade(bad); err != nil {
		t.Fatalf("bad trade should be dropped, not fatal: %v", err)
	}
	if err := p.OnTrade(stale); err != nil {
		t.Fatalf("stale trade should be dropped, not fatal: %v", err)
	}
}

func TestRunFlattensOnChannelClose(t *testing.T) {
	ledger := portfolio.NewLedger(8)
	p := newPipeline(t, testConfig(), Options{Ledger: ledger})

	ch := make(chan market.Trade, 8)
	for _, tr := range trades(100, 100, 100, 105) {
		ch <- tr
	}
	close(ch)

	if err := p.Run(context.Background(), ch); err != nil {
		t.Fatalf("Run: %v", err)
	}

	fills := ledger.Snapshot()
	if len(fills) != 2 {
		t.Fatalf("expected entry plus session flatten, got %d fills", len(fills))
	}
	if fills[1].Reason != "session_flatten" {
		t.Fatalf("final fill reason = %q, want session_flatten", fills[1].Reason)
	}
	if p.Position().Side != strategy.Flat {
		t.Fatalf("position must be flat after Run returns")
	}
}

func TestRunFlattensOnCancel(t *testing.T) {
	ledger := portfolio.NewLedger(8)
	p := newPipeline(t, testConfig(), Options{Ledger: ledger})

	ch := make(chan market.Trade, 8)
	for _, tr := range trades(100, 100, 100, 105) {
		ch <- tr
	}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, ch) }()

	deadline := time.After(2 * time.Second)
	for len(ledger.Snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("pipeline never entered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if err := <-done; err != context.Canceled {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	if p.Position().Side != strategy.Flat {
		t.Fatalf("position must be flat after cancellation")
	}
}

func TestFanoutAbandonsStalledConsumer(t *testing.T) {
	in := make(chan market.Trade)
	out := map[string]chan market.Trade{"TESTUSDT": make(chan market.Trade, 1)}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Fanout(ctx, in, out)
		close(done)
	}()

	// Nobody drains the output, so the second send blocks inside Fanout.
	for _, tr := range trades(100, 101) {
		select {
		case in <- tr:
		case <-time.After(2 * time.Second):
			t.Fatalf("router stopped accepting input")
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Fanout did not return after cancellation")
	}
	if _, open := <-out["TESTUSDT"]; !open {
		t.Fatalf("buffered trade should still be readable before close")
	}
	if _, open := <-out["TESTUSDT"]; open {
		t.Fatalf("output channel must be closed after Fanout returns")
	}
}

func TestFanoutClosesOutputsOnInputClose(t *testing.T) {
	in := make(chan market.Trade, 4)
	out := map[string]chan market.Trade{
		"TESTUSDT": make(chan market.Trade, 4),
		"OTHER":    make(chan market.Trade, 4),
	}
	for _, tr := range trades(100, 101) {
		in <- tr
	}
	in <- market.Trade{Symbol: "UNKNOWN", Price: 1, Qty: 1, Ts: time.Now()}
	close(in)

	Fanout(context.Background(), in, out)

	var got int
	for range out["TESTUSDT"] {
		got++
	}
	if got != 2 {
		t.Fatalf("routed %d trades to TESTUSDT, want 2", got)
	}
	if _, open := <-out["OTHER"]; open {
		t.Fatalf("idle output must be closed too")
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	seq := trades(100, 100, 100, 105, 103, 100, 100, 100, 106, 111, 99)

	run := func() (execution.Summary, []execution.Fill) {
		ledger := portfolio.NewLedger(16)
		p := newPipeline(t, testConfig(), Options{Ledger: ledger})
		feedAll(t, p, seq)
		return p.Summary(), ledger.Snapshot()
	}

	sumA, fillsA := run()
	sumB, fillsB := run()

	if sumA != sumB {
		t.Fatalf("summaries diverged:\n%+v\n%+v", sumA, sumB)
	}
	if len(fillsA) != len(fillsB) {
		t.Fatalf("fill counts diverged: %d vs %d", len(fillsA), len(fillsB))
	}
	for i := range fillsA {
		a, b := fillsA[i], fillsB[i]
		a.ID, b.ID = "", "" // fill ids are random uuids
		if a != b {
			t.Fatalf("fill %d diverged:\n%+v\n%+v", i, a, b)
		}
	}
}
