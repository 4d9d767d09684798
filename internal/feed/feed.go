// Package feed hosts trade stream sources. Every provider pushes the same
// market.Trade type onto the pipeline channel, so live, synthetic, and
// replayed sessions run identical downstream code.
package feed

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"barbot-go/internal/market"
	"barbot-go/internal/metrics"
)

const (
	// ProviderStub emits deterministic synthetic trades for offline work.
	ProviderStub = "stub"
	// ProviderBinance streams live trades from Binance public websockets.
	ProviderBinance = "binance"
	// ProviderReplay reads recorded trades from a CSV file.
	ProviderReplay = "replay"
)

// Feed is a pluggable trade stream.
type Feed struct {
	provider   string
	symbols    []string
	replayPath string
	testnet    bool
	log        zerolog.Logger
}

// Option configures Feed construction.
type Option func(*Feed)

// WithReplayPath points the replay provider at its CSV source.
func WithReplayPath(path string) Option {
	return func(f *Feed) { f.replayPath = path }
}

// WithTestnet switches the Binance provider to the testnet endpoint.
func WithTestnet(on bool) Option {
	return func(f *Feed) { f.testnet = on }
}

// New constructs a feed backed by the requested provider. Symbols are
// deduplicated and sorted so stream subscriptions are deterministic.
func New(provider string, symbols []string, log zerolog.Logger, opts ...Option) (*Feed, error) {
	if provider == "" {
		provider = ProviderStub
	}
	provider = strings.ToLower(provider)
	switch provider {
	case ProviderStub, ProviderBinance, ProviderReplay:
	default:
		return nil, fmt.Errorf("feed: unknown provider %q", provider)
	}

	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			unique[sym] = struct{}{}
		}
	}
	if len(unique) == 0 {
		return nil, fmt.Errorf("feed: at least one symbol is required")
	}
	deduped := make([]string, 0, len(unique))
	for sym := range unique {
		deduped = append(deduped, sym)
	}
	sort.Strings(deduped)

	f := &Feed{provider: provider, symbols: deduped, log: log}
	for _, opt := range opts {
		opt(f)
	}
	if f.provider == ProviderReplay && f.replayPath == "" {
		return nil, fmt.Errorf("feed: replay provider requires a source path")
	}
	return f, nil
}

// Symbols returns the subscribed symbol list.
func (f *Feed) Symbols() []string {
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Run pushes trades onto out until the source is exhausted or the context is
// canceled. Live providers only return on cancellation.
func (f *Feed) Run(ctx context.Context, out chan<- market.Trade) error {
	switch f.provider {
	case ProviderBinance:
		return f.runBinance(ctx, out)
	case ProviderReplay:
		return f.runReplay(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

// runStub walks each symbol along a slow sine so bars, indicators, and
// signals all exercise without a network.
func (f *Feed) runStub(ctx context.Context, out chan<- market.Trade) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	step := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			step++
			price := 100 + 2*math.Sin(float64(step)/25)
			for _, sym := range f.symbols {
				trade := market.Trade{
					Symbol:     sym,
					Price:      price,
					Qty:        1,
					Ts:         ts,
					BuyerMaker: step%3 == 0,
				}
				select {
				case out <- trade:
					metrics.TradesTotal.WithLabelValues(sym).Inc()
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}
