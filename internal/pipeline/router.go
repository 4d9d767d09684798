package pipeline

import (
	"context"

	"barbot-go/internal/market"
)

// Fanout routes trades from one inbound stream to per-symbol channels until
// the stream closes or the context is canceled, then closes every output so
// consumers flatten and exit. Sends race against cancellation: a consumer
// that stopped pulling cannot wedge the router once the session is canceled.
func Fanout(ctx context.Context, in <-chan market.Trade, out map[string]chan market.Trade) {
	defer func() {
		for _, ch := range out {
			close(ch)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case trade, ok := <-in:
			if !ok {
				return
			}
			ch, ok := out[trade.Symbol]
			if !ok {
				continue
			}
			select {
			case ch <- trade:
			case <-ctx.Done():
				return
			}
		}
	}
}
