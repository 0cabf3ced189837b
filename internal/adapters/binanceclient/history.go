package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"

	"cryptoLedger/internal/domain"
	"cryptoLedger/internal/ports"
	"cryptoLedger/internal/token"
)

const (
	tradeWindow   = 24 * time.Hour
	capitalWindow = 90 * 24 * time.Hour
	tradePageSize = 1000

	depositStatusSuccess    = 1
	withdrawStatusCompleted = 6
	withdrawApplyTimeLayout = "2006-01-02 15:04:05"
)

// FetchHistory returns owner's spot trades, successful deposits and completed
// withdrawals in [start, end). A symbol whose trade history keeps failing is
// skipped with a warning; any other failure aborts the fetch.
func (c *Client) FetchHistory(ctx context.Context, owner string, start, end time.Time) ([]domain.Record, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: empty window %s..%s", ports.ErrInvalidRequest, start, end)
	}

	records, err := c.fetchTrades(ctx, owner, start, end)
	if err != nil {
		return nil, err
	}
	deposits, err := c.fetchDeposits(ctx, owner, start, end)
	if err != nil {
		return nil, err
	}
	withdrawals, err := c.fetchWithdrawals(ctx, owner, start, end)
	if err != nil {
		return nil, err
	}
	records = append(records, deposits...)
	records = append(records, withdrawals...)

	c.logger.Info(ctx, "Binance history fetched", map[string]interface{}{
		"owner": owner, "start": start.Format(domain.DateLayout), "end": end.Format(domain.DateLayout),
		"trades": len(records) - len(deposits) - len(withdrawals), "deposits": len(deposits), "withdrawals": len(withdrawals),
	})
	return records, nil
}

func (c *Client) fetchTrades(ctx context.Context, owner string, start, end time.Time) ([]domain.Record, error) {
	symbols, err := c.tradingSymbols(ctx)
	if err != nil {
		return nil, err
	}

	var records []domain.Record
	for _, symbol := range symbols {
		symCtx := ports.WithLogFields(ctx, map[string]interface{}{"symbol": symbol})
		trades, err := c.symbolTrades(symCtx, symbol, start, end)
		if err != nil {
			if ctx.Err() != nil || !isSkippable(err) {
				return nil, err
			}
			c.logger.Warn(symCtx, "Skipping symbol after repeated failures", map[string]interface{}{
				"owner": owner, "error": err.Error(),
			})
			continue
		}
		if len(trades) == 0 {
			continue
		}
		quote := c.quoteOf(symbol)
		for _, t := range trades {
			rate := 1.0
			if !usdQuoted(quote) {
				rate = c.valueAt(symCtx, quote, time.UnixMilli(t.Time))
			}
			rec, err := translateTrade(t, owner, rate)
			if err != nil {
				return nil, fmt.Errorf("%w: trade %d on %s: %w", ports.ErrMalformedRecord, t.ID, symbol, err)
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// isSkippable reports whether a per-symbol failure should only skip that symbol.
func isSkippable(err error) bool {
	return errors.Is(err, ports.ErrRateLimited) ||
		errors.Is(err, ports.ErrConnectionFailed) ||
		errors.Is(err, ports.ErrInvalidRequest) ||
		errors.Is(err, ports.ErrExchangeUnavailable)
}

// symbolTrades walks [start, end) in 24h windows, paging each window from the
// time of its last returned trade.
func (c *Client) symbolTrades(ctx context.Context, symbol string, start, end time.Time) ([]*binance.TradeV3, error) {
	var out []*binance.TradeV3
	seen := make(map[int64]bool)

	for winStart := start; winStart.Before(end); winStart = winStart.Add(tradeWindow) {
		winEnd := winStart.Add(tradeWindow)
		if winEnd.After(end) {
			winEnd = end
		}
		from := winStart.UnixMilli()
		for {
			var page []*binance.TradeV3
			err := c.call(ctx, "ListTrades", weightMyTrades, func(ctx context.Context) error {
				var err error
				page, err = c.spot.NewListTradesService().
					Symbol(symbol).
					StartTime(from).
					EndTime(winEnd.UnixMilli() - 1).
					Limit(tradePageSize).
					Do(ctx)
				return err
			})
			if err != nil {
				return nil, err
			}

			added := 0
			for _, t := range page {
				if seen[t.ID] {
					continue
				}
				seen[t.ID] = true
				out = append(out, t)
				added++
			}
			if len(page) < tradePageSize || added == 0 {
				break
			}
			// Resume at the last trade's millisecond; trades sharing it are deduplicated above.
			from = page[len(page)-1].Time
		}
	}
	return out, nil
}

func (c *Client) fetchDeposits(ctx context.Context, owner string, start, end time.Time) ([]domain.Record, error) {
	var records []domain.Record
	for winStart := start; winStart.Before(end); winStart = winStart.Add(capitalWindow) {
		winEnd := winStart.Add(capitalWindow)
		if winEnd.After(end) {
			winEnd = end
		}
		var deposits []*binance.Deposit
		err := c.call(ctx, "ListDeposits", weightCapital, func(ctx context.Context) error {
			var err error
			deposits, err = c.spot.NewListDepositsService().
				StartTime(winStart.UnixMilli()).
				EndTime(winEnd.UnixMilli() - 1).
				Do(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, d := range deposits {
			if d.Status != depositStatusSuccess {
				continue
			}
			price := c.valueAt(ctx, d.Coin, time.UnixMilli(d.InsertTime))
			rec, err := translateDeposit(d, owner, price)
			if err != nil {
				return nil, fmt.Errorf("%w: deposit %s: %w", ports.ErrMalformedRecord, d.TxID, err)
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

func (c *Client) fetchWithdrawals(ctx context.Context, owner string, start, end time.Time) ([]domain.Record, error) {
	var records []domain.Record
	for winStart := start; winStart.Before(end); winStart = winStart.Add(capitalWindow) {
		winEnd := winStart.Add(capitalWindow)
		if winEnd.After(end) {
			winEnd = end
		}
		var withdrawals []*binance.Withdraw
		err := c.call(ctx, "ListWithdraws", weightCapital, func(ctx context.Context) error {
			var err error
			withdrawals, err = c.spot.NewListWithdrawsService().
				StartTime(winStart.UnixMilli()).
				EndTime(winEnd.UnixMilli() - 1).
				Do(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, w := range withdrawals {
			if w.Status != withdrawStatusCompleted {
				continue
			}
			applied, err := parseApplyTime(w.ApplyTime)
			if err != nil {
				return nil, fmt.Errorf("%w: withdrawal %s: %w", ports.ErrMalformedRecord, w.TxID, err)
			}
			price := c.valueAt(ctx, w.Coin, applied)
			rec, err := translateWithdraw(w, owner, applied, price)
			if err != nil {
				return nil, fmt.Errorf("%w: withdrawal %s: %w", ports.ErrMalformedRecord, w.TxID, err)
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// tradingSymbols returns the configured symbols, or every TRADING pair quoted
// in one of the configured quote assets.
func (c *Client) tradingSymbols(ctx context.Context) ([]string, error) {
	if len(c.symbols) > 0 {
		return c.symbols, nil
	}
	info, err := c.exchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(info))
	for symbol, si := range info {
		if c.quoteAssets[si.quote] {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// exchangeInfo loads and caches the TRADING spot pairs.
func (c *Client) exchangeInfo(ctx context.Context) (map[string]symbolInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.symbolInfo != nil {
		return c.symbolInfo, nil
	}

	var res *binance.ExchangeInfo
	err := c.call(ctx, "ExchangeInfo", weightExchangeInfo, func(ctx context.Context) error {
		var err error
		res, err = c.spot.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	info := make(map[string]symbolInfo, len(res.Symbols))
	for _, s := range res.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		info[s.Symbol] = symbolInfo{base: s.BaseAsset, quote: s.QuoteAsset}
	}
	c.symbolInfo = info
	c.logger.Debug(ctx, "Binance exchange info cached", map[string]interface{}{"symbols": len(info)})
	return info, nil
}

// quoteOf returns the quote asset of symbol, from exchange info when cached.
// Symbols without a known quote suffix yield "".
func (c *Client) quoteOf(symbol string) string {
	c.mu.Lock()
	si, ok := c.symbolInfo[symbol]
	c.mu.Unlock()
	if ok {
		return si.quote
	}
	if quote := strings.TrimPrefix(symbol, token.Base(symbol)); token.IsQuote(quote) {
		return quote
	}
	return ""
}

// usdQuoted reports whether prices in quote are already dollars.
func usdQuoted(quote string) bool {
	return quote == "" || quote == "USD" || token.IsStablecoin(quote)
}

// valueAt prices asset at t, degrading to 0 with a warning when no price exists.
func (c *Client) valueAt(ctx context.Context, asset string, t time.Time) float64 {
	price, err := c.HistoricalPrice(ctx, asset, t)
	if err != nil {
		c.logger.Warn(ctx, "Historical price unavailable, valuing at 0", map[string]interface{}{
			"asset": asset, "at": t.UTC().Format(time.RFC3339), "error": err.Error(),
		})
		return 0
	}
	return price
}

func parseApplyTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(withdrawApplyTimeLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid applyTime %q: %w", s, err)
	}
	return t, nil
}
