package bybitclient

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cryptoLedger/internal/ports"
	"cryptoLedger/internal/token"
)

const (
	pathTickers = "/v5/market/tickers"
	pathKline   = "/v5/market/kline"

	categorySpot = "spot"
	klineClose   = 4 // [start, open, high, low, close, volume, turnover]
)

type tickersResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"list"`
}

type klineResult struct {
	Symbol string     `json:"symbol"`
	List   [][]string `json:"list"`
}

// TickerPrice retrieves the last spot price for a trading pair. It retries at
// most PriceRetries times.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var res tickersResult
	err := c.get(ctx, request{
		op:      "TickerPrice",
		path:    pathTickers,
		params:  url.Values{"category": {categorySpot}, "symbol": {symbol}},
		retries: c.priceRetries,
	}, &res)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ports.ErrPriceUnavailable, err)
	}
	if len(res.List) == 0 || res.List[0].LastPrice == "" {
		return 0, fmt.Errorf("%w: no ticker data returned for symbol %s", ports.ErrPriceUnavailable, symbol)
	}

	price, err := parseAmount(res.List[0].LastPrice)
	if err != nil {
		return 0, fmt.Errorf("%w: could not parse price '%s': %w", ports.ErrPriceUnavailable, res.List[0].LastPrice, err)
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

	var res klineResult
	err := c.get(ctx, request{
		op:   "HistoricalPrice",
		path: pathKline,
		params: url.Values{
			"category": {categorySpot},
			"symbol":   {symbol},
			"interval": {"1"},
			"start":    {strconv.FormatInt(start.UnixMilli(), 10)},
			"end":      {strconv.FormatInt(start.Add(time.Minute).UnixMilli()-1, 10)},
			"limit":    {"1"},
		},
		retries: c.maxRetries,
	}, &res)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ports.ErrPriceUnavailable, err)
	}
	if len(res.List) == 0 || len(res.List[0]) <= klineClose {
		return 0, fmt.Errorf("%w: no %s candle at %s", ports.ErrPriceUnavailable, symbol, start.UTC().Format(time.RFC3339))
	}

	closePrice := res.List[0][klineClose]
	price, err := parseAmount(closePrice)
	if err != nil {
		return 0, fmt.Errorf("%w: could not parse close '%s': %w", ports.ErrPriceUnavailable, closePrice, err)
	}
	return price.InexactFloat64(), nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(s))
}
