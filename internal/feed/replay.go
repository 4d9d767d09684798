package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"barbot-go/internal/market"
	"barbot-go/internal/metrics"
)

// runReplay streams recorded trades from a CSV file with the columns
// ts_ms,price,qty,is_buyer_maker. A header row is skipped if present. The
// file carries no symbol column, so replay is restricted to one symbol.
func (f *Feed) runReplay(ctx context.Context, out chan<- market.Trade) error {
	if len(f.symbols) != 1 {
		return fmt.Errorf("feed: replay supports exactly one symbol, got %d", len(f.symbols))
	}
	symbol := f.symbols[0]

	file, err := os.Open(f.replayPath)
	if err != nil {
		return fmt.Errorf("feed: open replay source: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 4

	line := 0
	emitted := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			f.log.Info().Str("symbol", symbol).Int("trades", emitted).Msg("replay source exhausted")
			return nil
		}
		if err != nil {
			return fmt.Errorf("feed: read replay source: %w", err)
		}
		line++

		trade, err := parseReplayRecord(symbol, record)
		if err != nil {
			if line == 1 {
				// header row
				continue
			}
			return fmt.Errorf("feed: replay line %d: %w", line, err)
		}

		select {
		case out <- trade:
			metrics.TradesTotal.WithLabelValues(symbol).Inc()
			emitted++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func parseReplayRecord(symbol string, record []string) (market.Trade, error) {
	tsMs, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return market.Trade{}, fmt.Errorf("bad ts_ms %q: %w", record[0], err)
	}
	price, err := strconv.ParseFloat(record[1], 64)
	if err != nil {
		return market.Trade{}, fmt.Errorf("bad price %q: %w", record[1], err)
	}
	qty, err := strconv.ParseFloat(record[2], 64)
	if err != nil {
		return market.Trade{}, fmt.Errorf("bad qty %q: %w", record[2], err)
	}
	buyerMaker, err := strconv.ParseBool(record[3])
	if err != nil {
		return market.Trade{}, fmt.Errorf("bad is_buyer_maker %q: %w", record[3], err)
	}
	return market.Trade{
		Symbol:     symbol,
		Price:      price,
		Qty:        qty,
		Ts:         time.UnixMilli(tsMs),
		BuyerMaker: buyerMaker,
	}, nil
}
