package bybitclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cryptoLedger/internal/domain"
	"cryptoLedger/internal/ports"
	"cryptoLedger/internal/token"
)

const (
	pathExecutions  = "/v5/execution/list"
	pathDeposits    = "/v5/asset/deposit/query-record"
	pathWithdrawals = "/v5/asset/withdraw/query-record"

	// Executions are queried a day at a time; deposits and withdrawals accept
	// at most 30 days per request.
	tradeWindow   = 24 * time.Hour
	capitalWindow = 30 * 24 * time.Hour

	tradePageSize   = "100"
	capitalPageSize = "50"

	depositStatusSuccess  = 3
	withdrawStatusSuccess = "success"
	withdrawTypeAll       = "2"
)

type execution struct {
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	ExecID    string `json:"execId"`
	ExecTime  string `json:"execTime"`
	ExecPrice string `json:"execPrice"`
	ExecQty   string `json:"execQty"`
}

type deposit struct {
	Coin      string `json:"coin"`
	Amount    string `json:"amount"`
	TxID      string `json:"txID"`
	Status    int    `json:"status"`
	SuccessAt string `json:"successAt"`
}

type withdrawal struct {
	Coin       string `json:"coin"`
	Amount     string `json:"amount"`
	TxID       string `json:"txID"`
	Status     string `json:"status"`
	CreateTime string `json:"createTime"`
}

type executionPage struct {
	NextPageCursor string      `json:"nextPageCursor"`
	List           []execution `json:"list"`
}

type depositPage struct {
	NextPageCursor string    `json:"nextPageCursor"`
	Rows           []deposit `json:"rows"`
}

type withdrawalPage struct {
	NextPageCursor string       `json:"nextPageCursor"`
	Rows           []withdrawal `json:"rows"`
}

// FetchHistory returns owner's spot executions, successful deposits and
// successful withdrawals in [start, end).
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
	trades := len(records)
	records = append(records, deposits...)
	records = append(records, withdrawals...)

	c.logger.Info(ctx, "Bybit history fetched", map[string]interface{}{
		"owner": owner, "start": start.Format(domain.DateLayout), "end": end.Format(domain.DateLayout),
		"trades": trades, "deposits": len(deposits), "withdrawals": len(withdrawals),
	})
	return records, nil
}

func (c *Client) fetchTrades(ctx context.Context, owner string, start, end time.Time) ([]domain.Record, error) {
	var records []domain.Record
	err := eachWindow(start, end, tradeWindow, func(from, to time.Time) error {
		return c.paginate(ctx, "ListExecutions", pathExecutions, url.Values{
			"category":  {categorySpot},
			"startTime": {millis(from)},
			"endTime":   {millis(to.Add(-time.Millisecond))},
			"limit":     {tradePageSize},
		}, func(raw []byte) (string, error) {
			var page executionPage
			if err := decodePage(raw, &page); err != nil {
				return "", err
			}
			for _, e := range page.List {
				execCtx := ports.WithLogFields(ctx, map[string]interface{}{"symbol": e.Symbol})
				rec, err := translateExecution(e, owner, c.quoteRate(execCtx, e))
				if err != nil {
					return "", fmt.Errorf("%w: execution %s on %s: %w", ports.ErrMalformedRecord, e.ExecID, e.Symbol, err)
				}
				records = append(records, rec)
			}
			return page.NextPageCursor, nil
		})
	})
	return records, err
}

func (c *Client) fetchDeposits(ctx context.Context, owner string, start, end time.Time) ([]domain.Record, error) {
	var records []domain.Record
	err := eachWindow(start, end, capitalWindow, func(from, to time.Time) error {
		return c.paginate(ctx, "ListDeposits", pathDeposits, url.Values{
			"startTime": {millis(from)},
			"endTime":   {millis(to.Add(-time.Millisecond))},
			"limit":     {capitalPageSize},
		}, func(raw []byte) (string, error) {
			var page depositPage
			if err := decodePage(raw, &page); err != nil {
				return "", err
			}
			for _, d := range page.Rows {
				if d.Status != depositStatusSuccess {
					continue
				}
				at, err := parseMillis(d.SuccessAt)
				if err != nil {
					return "", fmt.Errorf("%w: deposit %s: %w", ports.ErrMalformedRecord, d.TxID, err)
				}
				rec, err := translateDeposit(d, owner, at, c.valueAt(ctx, d.Coin, at))
				if err != nil {
					return "", fmt.Errorf("%w: deposit %s: %w", ports.ErrMalformedRecord, d.TxID, err)
				}
				records = append(records, rec)
			}
			return page.NextPageCursor, nil
		})
	})
	return records, err
}

func (c *Client) fetchWithdrawals(ctx context.Context, owner string, start, end time.Time) ([]domain.Record, error) {
	var records []domain.Record
	err := eachWindow(start, end, capitalWindow, func(from, to time.Time) error {
		return c.paginate(ctx, "ListWithdrawals", pathWithdrawals, url.Values{
			"withdrawType": {withdrawTypeAll},
			"startTime":    {millis(from)},
			"endTime":      {millis(to.Add(-time.Millisecond))},
			"limit":        {capitalPageSize},
		}, func(raw []byte) (string, error) {
			var page withdrawalPage
			if err := decodePage(raw, &page); err != nil {
				return "", err
			}
			for _, w := range page.Rows {
				if !strings.EqualFold(w.Status, withdrawStatusSuccess) {
					continue
				}
				at, err := parseMillis(w.CreateTime)
				if err != nil {
					return "", fmt.Errorf("%w: withdrawal %s: %w", ports.ErrMalformedRecord, w.TxID, err)
				}
				rec, err := translateWithdrawal(w, owner, at, c.valueAt(ctx, w.Coin, at))
				if err != nil {
					return "", fmt.Errorf("%w: withdrawal %s: %w", ports.ErrMalformedRecord, w.TxID, err)
				}
				records = append(records, rec)
			}
			return page.NextPageCursor, nil
		})
	})
	return records, err
}

// paginate follows nextPageCursor until it comes back empty. handle receives
// each raw result and returns the next cursor.
func (c *Client) paginate(ctx context.Context, op, path string, params url.Values, handle func(raw []byte) (string, error)) error {
	seen := make(map[string]bool)
	for cursor := ""; ; {
		page := url.Values{}
		for k, v := range params {
			page[k] = v
		}
		if cursor != "" {
			page.Set("cursor", cursor)
		}
		var raw json.RawMessage
		if err := c.get(ctx, request{op: op, path: path, params: page, signed: true, retries: c.maxRetries}, &raw); err != nil {
			return err
		}
		next, err := handle(raw)
		if err != nil {
			return err
		}
		if next == "" || seen[next] {
			return nil
		}
		seen[next] = true
		cursor = next
	}
}

// quoteRate converts an execution's quote asset into dollars at its time.
func (c *Client) quoteRate(ctx context.Context, e execution) float64 {
	quote := quoteOf(e.Symbol)
	if usdQuoted(quote) {
		return 1
	}
	at, err := parseMillis(e.ExecTime)
	if err != nil {
		return 0
	}
	return c.valueAt(ctx, quote, at)
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

// quoteOf returns the quote asset of symbol, or "" when it has none we know.
func quoteOf(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if quote := strings.TrimPrefix(s, token.Base(s)); token.IsQuote(quote) {
		return quote
	}
	return ""
}

// usdQuoted reports whether prices in quote are already dollars.
func usdQuoted(quote string) bool {
	return quote == "" || quote == "USD" || token.IsStablecoin(quote)
}

func eachWindow(start, end time.Time, size time.Duration, fn func(from, to time.Time) error) error {
	for from := start; from.Before(end); from = from.Add(size) {
		to := from.Add(size)
		if to.After(end) {
			to = end
		}
		if err := fn(from, to); err != nil {
			return err
		}
	}
	return nil
}

func decodePage(raw []byte, page interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, page); err != nil {
		return fmt.Errorf("%w: decoding page: %w", ports.ErrMalformedRecord, err)
	}
	return nil
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
