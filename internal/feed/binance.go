package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"barbot-go/internal/market"
	"barbot-go/internal/metrics"
)

const (
	binanceMainnetWS = "wss://stream.binance.com:9443/stream"
	binanceTestnetWS = "wss://stream.testnet.binance.vision/stream"
)

type binanceEnvelope struct {
	Stream string       `json:"stream"`
	Data   binanceTrade `json:"data"`
}

type binanceTrade struct {
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

func (f *Feed) binanceURL() string {
	base := binanceMainnetWS
	if f.testnet {
		base = binanceTestnetWS
	}
	streams := make([]string, len(f.symbols))
	for i, sym := range f.symbols {
		streams[i] = strings.ToLower(sym) + "@trade"
	}
	return fmt.Sprintf("%s?streams=%s", base, strings.Join(streams, "/"))
}

func (f *Feed) runBinance(ctx context.Context, out chan<- market.Trade) error {
	url := f.binanceURL()
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := f.consumeBinanceStream(ctx, url, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.Warn().Err(err).Msg("binance feed disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}

func (f *Feed) consumeBinanceStream(ctx context.Context, url string, out chan<- market.Trade) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.log.Info().Str("provider", ProviderBinance).Strs("symbols", f.symbols).Msg("connected trade feed")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.log.Warn().Err(err).Msg("binance ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		trade, symbol, err := decodeBinanceTrade(message)
		if err != nil {
			f.log.Warn().Err(err).Msg("dropping malformed binance message")
			continue
		}

		select {
		case out <- trade:
			metrics.TradesTotal.WithLabelValues(symbol).Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func decodeBinanceTrade(message []byte) (market.Trade, string, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return market.Trade{}, "", err
	}
	symbol := parseStreamSymbol(env.Stream)
	px, err := strconv.ParseFloat(env.Data.Price, 64)
	if err != nil {
		return market.Trade{}, "", fmt.Errorf("bad price %q: %w", env.Data.Price, err)
	}
	qty, err := strconv.ParseFloat(env.Data.Quantity, 64)
	if err != nil {
		return market.Trade{}, "", fmt.Errorf("bad quantity %q: %w", env.Data.Quantity, err)
	}
	trade := market.Trade{
		Symbol:     symbol,
		Price:      px,
		Qty:        qty,
		Ts:         time.UnixMilli(env.Data.TradeTime),
		BuyerMaker: env.Data.IsBuyerMaker,
	}
	return trade, symbol, nil
}

func parseStreamSymbol(stream string) string {
	parts := strings.Split(stream, "@")
	if len(parts) == 0 || parts[0] == "" {
		return strings.ToUpper(stream)
	}
	return strings.ToUpper(parts[0])
}
