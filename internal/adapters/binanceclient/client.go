package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"golang.org/x/time/rate"

	"cryptoLedger/internal/domain"
	"cryptoLedger/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	// Request weights from the spot API documentation.
	weightMyTrades     = 20
	weightExchangeInfo = 20
	weightCapital      = 1
	weightTickerPrice  = 2
	weightKlines       = 2

	defaultWeightPerMinute = 6000
)

// Client is the Binance spot adapter for one account. It implements
// ports.TransactionSource, ports.PriceFeed and ports.HistoricalPricer.
type Client struct {
	spot         *binance.Client
	logger       ports.Logger
	limiter      *rate.Limiter
	retryDelay   time.Duration
	maxRetries   int
	priceRetries int
	quoteAssets  map[string]bool
	symbols      []string // explicit symbol list; empty means discover

	mu         sync.Mutex
	symbolInfo map[string]symbolInfo // cached exchangeInfo, keyed by symbol
}

type symbolInfo struct {
	base  string
	quote string
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey      string
	SecretKey   string
	UseTestnet  bool
	BaseURL     string // Overrides the production/testnet endpoint when set
	Logger      ports.Logger
	QuoteAssets []string      // Quote assets whose pairs are scanned for trades
	Symbols     []string      // Explicit trading pairs; overrides discovery
	Limiter     *rate.Limiter // Shared request-weight limiter; built from WeightPerMinute when nil
	// WeightPerMinute is the request-weight budget used when Limiter is nil.
	WeightPerMinute int
	RetryDelay      time.Duration // Wait between retries of throttled or dropped requests
	MaxRetries      int           // Retries before a request is given up
	PriceRetries    int           // Retries of a live ticker lookup. Default 0.
}

// NewLimiter builds a request-weight limiter for weightPerMinute. Share one
// limiter between clients that use the same IP.
func NewLimiter(weightPerMinute int) *rate.Limiter {
	if weightPerMinute <= 0 {
		weightPerMinute = defaultWeightPerMinute
	}
	perSecond := float64(weightPerMinute) / 60
	burst := int(perSecond)
	if burst < weightMyTrades {
		burst = weightMyTrades
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	ctx := context.Background()
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		// Public endpoints (prices, klines) still work without keys.
		cfg.Logger.Warn(ctx, "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		cfg.Logger.Info(ctx, "Binance client configured for custom endpoint", map[string]interface{}{"baseURL": client.BaseURL})
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(ctx, "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	default:
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(ctx, "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewLimiter(cfg.WeightPerMinute)
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Minute
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	priceRetries := cfg.PriceRetries
	if priceRetries < 0 {
		priceRetries = 0
	}

	quotes := make(map[string]bool, len(cfg.QuoteAssets))
	for _, q := range cfg.QuoteAssets {
		if q = strings.ToUpper(strings.TrimSpace(q)); q != "" {
			quotes[q] = true
		}
	}
	symbols := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}

	return &Client{
		spot:         client,
		logger:       cfg.Logger,
		limiter:      limiter,
		retryDelay:   retryDelay,
		maxRetries:   maxRetries,
		priceRetries: priceRetries,
		quoteAssets:  quotes,
		symbols:      symbols,
	}, nil
}

// Exchange returns the identifier stamped on every record from this client.
func (c *Client) Exchange() string {
	return domain.ExchangeBinance
}

// call runs fn under the weight limiter, retrying throttled and dropped
// requests up to MaxRetries times. Other failures return immediately.
func (c *Client) call(ctx context.Context, op string, weight int, fn func(ctx context.Context) error) error {
	return c.callWithRetries(ctx, op, weight, c.maxRetries, fn)
}

func (c *Client) callWithRetries(ctx context.Context, op string, weight, maxRetries int, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.WaitN(ctx, weight); err != nil {
			return c.handleError(ctx, err, op)
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		mapped := classifyError(err)
		if !isRetryable(mapped) || attempt >= maxRetries {
			return c.handleError(ctx, err, op)
		}
		c.logger.Warn(ctx, op+" throttled or disconnected, retrying", map[string]interface{}{
			"attempt": attempt + 1, "maxRetries": maxRetries, "delay": c.retryDelay.String(), "error": err.Error(),
		})
		select {
		case <-ctx.Done():
			return c.handleError(ctx, ctx.Err(), op)
		case <-time.After(c.retryDelay):
		}
	}
}

func isRetryable(sentinel error) bool {
	return errors.Is(sentinel, ports.ErrRateLimited) || errors.Is(sentinel, ports.ErrConnectionFailed)
}

// classifyError maps a Binance or transport error to a ports sentinel.
func classifyError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1015: // Too many requests / too many orders
			return ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			return ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			return ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			return ports.ErrInvalidRequest
		case -2014: // API-key format invalid
			return ports.ErrInvalidAPIKeys
		case -2015: // Invalid API-key, IP, or permissions for action
			return ports.ErrInvalidAPIKeys
		case -1001, -1007: // Internal error / backend timeout
			return ports.ErrExchangeUnavailable
		default:
			return ports.ErrUnknown
		}
	}

	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ports.ErrTimeout
	case errors.Is(err, context.Canceled):
		return ports.ErrContextCanceled
	case strings.Contains(msg, "status code: 429"), strings.Contains(msg, "status code: 418"):
		return ports.ErrRateLimited
	case strings.Contains(msg, "use of closed network connection"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset by peer"),
		strings.Contains(msg, "EOF"):
		return ports.ErrConnectionFailed
	default:
		return ports.ErrUnknown
	}
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message
	}

	mappedErr := classifyError(err)
	if errors.Is(mappedErr, ports.ErrContextCanceled) {
		c.logger.Debug(ctx, operation+" canceled", fields)
		return fmt.Errorf("%s operation canceled: %w: %w", operation, mappedErr, err)
	}
	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
}
