package binanceclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"cryptoLedger/internal/ports"
	"cryptoLedger/internal/token"
)

// TickerPrice retrieves the last price for a given symbol. It retries at most
// PriceRetries times.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "TickerPrice"
	var prices []*binance.SymbolPrice
	err := c.callWithRetries(ctx, op, weightTickerPrice, c.priceRetries, func(ctx context.Context) error {
		var err error
		prices, err = c.spot.NewListPricesService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ports.ErrPriceUnavailable, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("%w: no ticker data returned for symbol %s", ports.ErrPriceUnavailable, symbol)
	}

	price, err := parseAmount(prices[0].Price)
	if err != nil {
		return 0, fmt.Errorf("%w: could not parse price '%s': %w", ports.ErrPriceUnavailable, prices[0].Price, err)
	}
	return price.InexactFloat64(), nil
}

// HistoricalPrice values asset in USD using the close of the USDT-quoted
// one-minute candle that contains at. Stablecoins are worth 1.
func (c *Client) HistoricalPrice(ctx context.Context, asset string, at time.Time) (float64, error) {
	if token.IsStablecoin(asset) {
		return 1, nil
	}
	symbol := token.Canonical(asset) + "USDT"
	start := at.Truncate(time.Minute)

	var klines []*binance.Kline
	err := c.call(ctx, "HistoricalPrice", weightKlines, func(ctx context.Context) error {
		var err error
		klines, err = c.spot.NewKlinesService().
			Symbol(symbol).
			Interval("1m").
			StartTime(start.UnixMilli()).
			EndTime(start.Add(time.Minute).UnixMilli() - 1).
			Limit(1).
			Do(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ports.ErrPriceUnavailable, err)
	}
	if len(klines) == 0 {
		return 0, fmt.Errorf("%w: no %s candle at %s", ports.ErrPriceUnavailable, symbol, start.UTC().Format(time.RFC3339))
	}

	price, err := parseAmount(klines[0].Close)
	if err != nil {
		return 0, fmt.Errorf("%w: could not parse close '%s': %w", ports.ErrPriceUnavailable, klines[0].Close, err)
	}
	return price.InexactFloat64(), nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(s))
}
