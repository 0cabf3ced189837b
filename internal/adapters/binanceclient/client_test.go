package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoLedger/internal/domain"
	"cryptoLedger/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

const (
	july1     = int64(1719792000000) // 2024-07-01T00:00:00Z
	tenAM     = july1 + 10*3600*1000
	depositAt = july1 + 11*3600*1000
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		APIKey:       "key",
		SecretKey:    "secret",
		BaseURL:      srv.URL,
		Logger:       &mockLogger{},
		QuoteAssets:  []string{"USDT"},
		Symbols:      []string{"solusdt"},
		RetryDelay:   time.Millisecond,
		MaxRetries:   2,
		PriceRetries: 1,
	})
	require.NoError(t, err)
	return c
}

func TestTranslateTrade(t *testing.T) {
	tests := []struct {
		name      string
		trade     *binance.TradeV3
		quoteUSD  float64
		wantType  domain.TxnType
		wantUnit  float64
		wantValue float64
		wantErr   bool
	}{
		{
			name:      "buy on stablecoin pair",
			trade:     &binance.TradeV3{ID: 28457, Symbol: "SOLUSDT", Price: "150.5", Quantity: "2", Time: tenAM, IsBuyer: true},
			quoteUSD:  1,
			wantType:  domain.TxnBuy,
			wantUnit:  150.5,
			wantValue: 301,
		},
		{
			name:      "sell on BTC pair converts quote to USD",
			trade:     &binance.TradeV3{ID: 9, Symbol: "ETHBTC", Price: "0.05", Quantity: "3", Time: tenAM},
			quoteUSD:  60000,
			wantType:  domain.TxnSell,
			wantUnit:  3000,
			wantValue: 9000,
		},
		{
			name:    "unparseable price",
			trade:   &binance.TradeV3{ID: 1, Symbol: "SOLUSDT", Price: "abc", Quantity: "1"},
			wantErr: true,
		},
		{
			name:    "negative quantity",
			trade:   &binance.TradeV3{ID: 1, Symbol: "SOLUSDT", Price: "1", Quantity: "-1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := translateTrade(tt.trade, "J", tt.quoteUSD)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, rec.TxnType)
			assert.InDelta(t, tt.wantUnit, rec.UnitPrice, 1e-9)
			assert.InDelta(t, tt.wantValue, rec.USDValue, 1e-9)
			assert.Equal(t, "J", rec.Owner)
			assert.Equal(t, domain.ExchangeBinance, rec.Exchange)
			assert.Equal(t, fmt.Sprint(tt.trade.ID), rec.NativeID)
			assert.Equal(t, time.UTC, rec.Date.Location())
		})
	}
}

func TestTranslateDeposit(t *testing.T) {
	t.Run("with tx id", func(t *testing.T) {
		rec, err := translateDeposit(&binance.Deposit{Amount: "3", Coin: "sol", Status: 1, TxID: "0xabc", InsertTime: depositAt}, "J", 140)
		require.NoError(t, err)
		assert.Equal(t, domain.TxnDeposit, rec.TxnType)
		assert.Equal(t, "SOL", rec.AssetSymbol)
		assert.Equal(t, "0xabc", rec.NativeID)
		assert.Nil(t, rec.Provenance)
		assert.InDelta(t, 420.0, rec.USDValue, 1e-9)
		assert.Equal(t, time.UnixMilli(depositAt).UTC(), rec.Date)
	})

	t.Run("without tx id falls back to provenance", func(t *testing.T) {
		rec, err := translateDeposit(&binance.Deposit{Amount: "3", Coin: "SOL", Status: 1, InsertTime: depositAt}, "J", 0)
		require.NoError(t, err)
		assert.Empty(t, rec.NativeID)
		assert.Equal(t, []string{"deposit", "SOL", fmt.Sprint(depositAt), "3"}, rec.Provenance)
		assert.Equal(t, 0.0, rec.USDValue)
	})

	t.Run("bad amount", func(t *testing.T) {
		_, err := translateDeposit(&binance.Deposit{Amount: "", Coin: "SOL"}, "J", 1)
		assert.Error(t, err)
	})
}

func TestTranslateWithdraw(t *testing.T) {
	applied, err := parseApplyTime("2024-07-01 12:00:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC), applied)

	rec, err := translateWithdraw(&binance.Withdraw{Amount: "1.5", Coin: "ETH", Status: 6, TxID: "0xdef", ApplyTime: "2024-07-01 12:00:00"}, "VKEE", applied, 3000)
	require.NoError(t, err)
	assert.Equal(t, domain.TxnWithdraw, rec.TxnType)
	assert.Equal(t, "0xdef", rec.NativeID)
	assert.InDelta(t, 4500.0, rec.USDValue, 1e-9)

	_, err = parseApplyTime("01/07/2024")
	assert.Error(t, err)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limited", &common.APIError{Code: -1003, Message: "Too many requests"}, ports.ErrRateLimited},
		{"recv window", &common.APIError{Code: -1021}, ports.ErrTimeout},
		{"bad signature", &common.APIError{Code: -1022}, ports.ErrAuthenticationFailed},
		{"bad symbol", &common.APIError{Code: -1121}, ports.ErrInvalidRequest},
		{"bad key", &common.APIError{Code: -2015}, ports.ErrInvalidAPIKeys},
		{"internal", &common.APIError{Code: -1001}, ports.ErrExchangeUnavailable},
		{"unknown code", &common.APIError{Code: -9999}, ports.ErrUnknown},
		{"wrapped api error", fmt.Errorf("outer: %w", &common.APIError{Code: -1003}), ports.ErrRateLimited},
		{"deadline", context.DeadlineExceeded, ports.ErrTimeout},
		{"canceled", context.Canceled, ports.ErrContextCanceled},
		{"reset", errors.New("read tcp: connection reset by peer"), ports.ErrConnectionFailed},
		{"http 429", errors.New("<APIError> status code: 429"), ports.ErrRateLimited},
		{"other", errors.New("boom"), ports.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classifyError(tt.err), tt.want)
		})
	}
}

func TestTickerPrice_RetriesWhenThrottled(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/ticker/price"), r.URL.Path)
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"code":-1003,"msg":"Too many requests"}`)
			return
		}
		fmt.Fprintf(w, `{"symbol":"%s","price":"150.25"}`, r.URL.Query().Get("symbol"))
	}))

	price, err := c.TickerPrice(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 150.25, price)
	assert.Equal(t, int32(2), hits.Load())
}

func TestTickerPrice_DoesNotRetryAuthErrors(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`)
	}))

	_, err := c.TickerPrice(context.Background(), "SOLUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrPriceUnavailable)
	assert.ErrorIs(t, err, ports.ErrInvalidAPIKeys)
	assert.Equal(t, int32(1), hits.Load())
}

func TestTickerPrice_GivesUpAfterPriceRetries(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"code":-1003,"msg":"Too many requests"}`)
	}))

	_, err := c.TickerPrice(context.Background(), "SOLUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrRateLimited)
	assert.Equal(t, int32(2), hits.Load(), "one attempt plus PriceRetries")
}

func TestTickerPrice_DeadEndpointFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := New(Config{
		BaseURL:    srv.URL,
		Logger:     &mockLogger{},
		RetryDelay: time.Minute,
		MaxRetries: 5,
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = c.TickerPrice(context.Background(), "SOLUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrPriceUnavailable)
	assert.ErrorIs(t, err, ports.ErrConnectionFailed)
	assert.Less(t, time.Since(start), 5*time.Second, "ticker lookups must not wait out the ingestion backoff")
}

func TestHistoricalPrice_KeepsIngestRetries(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"code":-1003,"msg":"Too many requests"}`)
	}))

	_, err := c.HistoricalPrice(context.Background(), "SOL", time.UnixMilli(depositAt))
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrRateLimited)
	assert.Equal(t, int32(3), hits.Load(), "one attempt plus MaxRetries")
}

func TestHistoricalPrice(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/klines"), r.URL.Path)
		assert.Equal(t, "POLUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1m", r.URL.Query().Get("interval"))
		fmt.Fprint(w, `[[1719829980000,"0.5","0.52","0.49","0.51","10",1719830039999,"5",5,"5","2.5","0"]]`)
	}))

	price, err := c.HistoricalPrice(context.Background(), "MATIC", time.UnixMilli(depositAt))
	require.NoError(t, err)
	assert.Equal(t, 0.51, price)

	stable, err := c.HistoricalPrice(context.Background(), "USDC", time.UnixMilli(depositAt))
	require.NoError(t, err)
	assert.Equal(t, 1.0, stable)
}

func TestFetchHistory(t *testing.T) {
	var tradeCalls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/myTrades"):
			tradeCalls.Add(1)
			assert.Equal(t, "SOLUSDT", r.URL.Query().Get("symbol"))
			fmt.Fprintf(w, `[{"symbol":"SOLUSDT","id":28457,"orderId":1,"price":"150.5","qty":"2","quoteQty":"301","commission":"0","commissionAsset":"BNB","time":%d,"isBuyer":true,"isMaker":false,"isBestMatch":true}]`, tenAM)
		case strings.Contains(r.URL.Path, "deposit"):
			fmt.Fprintf(w, `[{"amount":"3","coin":"SOL","network":"SOL","status":1,"address":"a","txId":"0xabc","insertTime":%d},
				{"amount":"9","coin":"SOL","network":"SOL","status":0,"address":"a","txId":"0xpending","insertTime":%d}]`, depositAt, depositAt)
		case strings.Contains(r.URL.Path, "withdraw"):
			fmt.Fprint(w, `[{"id":"w1","amount":"1","transactionFee":"0.01","coin":"SOL","status":6,"address":"b","txId":"","applyTime":"2024-07-01 12:00:00","network":"SOL"},
				{"id":"w2","amount":"5","transactionFee":"0.01","coin":"SOL","status":4,"address":"b","txId":"0xprocessing","applyTime":"2024-07-01 13:00:00","network":"SOL"}]`)
		case strings.HasSuffix(r.URL.Path, "/klines"):
			fmt.Fprint(w, `[[1719829980000,"140","141","139","140.25","10",1719830039999,"1400",5,"5","700","0"]]`)
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	start := time.UnixMilli(july1).UTC()
	records, err := c.FetchHistory(context.Background(), "J", start, start.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, int32(1), tradeCalls.Load())

	trade := records[0]
	assert.Equal(t, domain.TxnBuy, trade.TxnType)
	assert.Equal(t, "SOLUSDT", trade.AssetSymbol)
	assert.Equal(t, "28457", trade.NativeID)
	assert.InDelta(t, 301.0, trade.USDValue, 1e-9)

	deposit := records[1]
	assert.Equal(t, domain.TxnDeposit, deposit.TxnType)
	assert.Equal(t, "0xabc", deposit.NativeID)
	assert.InDelta(t, 420.75, deposit.USDValue, 1e-9)

	withdrawal := records[2]
	assert.Equal(t, domain.TxnWithdraw, withdrawal.TxnType)
	assert.Empty(t, withdrawal.NativeID)
	assert.NotEmpty(t, withdrawal.Provenance)
	assert.Equal(t, time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC), withdrawal.Date)
}

func TestFetchHistory_RejectsEmptyWindow(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	now := time.Now()
	_, err := c.FetchHistory(context.Background(), "J", now, now)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestFetchHistory_SkipsFailingSymbol(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/myTrades"):
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))

	start := time.UnixMilli(july1).UTC()
	records, err := c.FetchHistory(context.Background(), "J", start, start.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestQuoteOf(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	assert.Equal(t, "USDT", c.quoteOf("SOLUSDT"))
	assert.Equal(t, "BTC", c.quoteOf("ETHBTC"))
	assert.Equal(t, "", c.quoteOf("BTC"), "a bare major has no quote")
	assert.Equal(t, "", c.quoteOf("SOLEUR"), "unknown quote suffix")

	c.symbolInfo = map[string]symbolInfo{"SOLEUR": {base: "SOL", quote: "EUR"}}
	assert.Equal(t, "EUR", c.quoteOf("SOLEUR"), "exchange info wins")
}

func TestNewLimiter(t *testing.T) {
	l := NewLimiter(6000)
	assert.Equal(t, 100, l.Burst())

	small := NewLimiter(60)
	assert.Equal(t, weightMyTrades, small.Burst())
}
