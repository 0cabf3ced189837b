package bybitclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"cryptoLedger/internal/domain"
	"cryptoLedger/internal/ports"
)

const (
	baseURLProduction = "https://api.bybit.com"
	baseURLTestnet    = "https://api-testnet.bybit.com"

	recvWindow = "5000"

	defaultRequestsPerSecond = 10
	defaultHTTPTimeout       = 30 * time.Second
)

// Client is the Bybit V5 spot adapter for one account. It implements
// ports.TransactionSource, ports.PriceFeed and ports.HistoricalPricer.
// Market data needs no keys.
type Client struct {
	http         *http.Client
	baseURL      string
	apiKey       string
	secretKey    string
	logger       ports.Logger
	limiter      *rate.Limiter
	retryDelay   time.Duration
	maxRetries   int
	priceRetries int
	now          func() time.Time
}

// Config holds configuration specific to the Bybit client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	BaseURL    string // Overrides the production/testnet endpoint when set
	Logger     ports.Logger
	Limiter    *rate.Limiter // Shared request limiter; built from RequestsPerSecond when nil
	// RequestsPerSecond is the request budget used when Limiter is nil.
	RequestsPerSecond int
	RetryDelay        time.Duration // Wait between retries of throttled or dropped requests
	MaxRetries        int           // Retries before an ingestion request is given up
	PriceRetries      int           // Retries of a live ticker lookup. Default 0.
	HTTPClient        *http.Client
	Clock             func() time.Time // Signs requests; defaults to time.Now
}

// APIError is a non-zero retCode in a V5 response envelope.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("<APIError> retCode=%d, retMsg=%s", e.Code, e.Message)
}

// statusError is a non-200 HTTP status without a V5 envelope.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("bybit http status code: %d: %s", e.StatusCode, e.Body)
}

// envelope is the V5 response wrapper.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// NewLimiter builds a request limiter. Share one limiter between clients that
// use the same IP.
func NewLimiter(requestsPerSecond int) *rate.Limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = defaultRequestsPerSecond
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
}

// New creates a new Bybit client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Bybit client")
	}
	ctx := context.Background()

	baseURL := baseURLProduction
	switch {
	case cfg.BaseURL != "":
		baseURL = strings.TrimRight(cfg.BaseURL, "/")
	case cfg.UseTestnet:
		baseURL = baseURLTestnet
	}
	cfg.Logger.Info(ctx, "Bybit client configured", map[string]interface{}{"baseURL": baseURL, "signed": cfg.APIKey != ""})

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewLimiter(cfg.RequestsPerSecond)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Minute
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Client{
		http:         httpClient,
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		secretKey:    cfg.SecretKey,
		logger:       cfg.Logger,
		limiter:      limiter,
		retryDelay:   retryDelay,
		maxRetries:   max(cfg.MaxRetries, 0),
		priceRetries: max(cfg.PriceRetries, 0),
		now:          clock,
	}, nil
}

// Exchange returns the identifier stamped on every record from this client.
func (c *Client) Exchange() string {
	return domain.ExchangeBybit
}

// request describes one GET against the V5 API.
type request struct {
	op      string
	path    string
	params  url.Values
	signed  bool
	retries int
}

// get runs req under the limiter, retrying throttled and dropped requests
// up to req.retries times, and decodes the envelope's result into out.
func (c *Client) get(ctx context.Context, req request, out interface{}) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return c.handleError(ctx, err, req.op)
		}
		err := c.do(ctx, req, out)
		if err == nil {
			return nil
		}
		mapped := classifyError(err)
		if !isRetryable(mapped) || attempt >= req.retries {
			return c.handleError(ctx, err, req.op)
		}
		c.logger.Warn(ctx, req.op+" throttled or disconnected, retrying", map[string]interface{}{
			"attempt": attempt + 1, "maxRetries": req.retries, "delay": c.retryDelay.String(), "error": err.Error(),
		})
		select {
		case <-ctx.Done():
			return c.handleError(ctx, ctx.Err(), req.op)
		case <-time.After(c.retryDelay):
		}
	}
}

func (c *Client) do(ctx context.Context, req request, out interface{}) error {
	query := req.params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+req.path, nil)
	if err != nil {
		return err
	}
	httpReq.URL.RawQuery = query
	httpReq.Header.Set("Accept", "application/json")
	if req.signed {
		if c.apiKey == "" || c.secretKey == "" {
			return fmt.Errorf("%w: %s needs API keys", ports.ErrInvalidAPIKeys, req.op)
		}
		ts := strconv.FormatInt(c.now().UnixMilli(), 10)
		httpReq.Header.Set("X-BAPI-API-KEY", c.apiKey)
		httpReq.Header.Set("X-BAPI-TIMESTAMP", ts)
		httpReq.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
		httpReq.Header.Set("X-BAPI-SIGN", Sign(c.secretKey, ts, c.apiKey, recvWindow, query))
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var env envelope
		if json.Unmarshal(body, &env) == nil && env.RetCode != 0 {
			return &APIError{Code: env.RetCode, Message: env.RetMsg}
		}
		return &statusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: decoding %s response: %w", ports.ErrMalformedRecord, req.op, err)
	}
	if env.RetCode != 0 {
		return &APIError{Code: env.RetCode, Message: env.RetMsg}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%w: decoding %s result: %w", ports.ErrMalformedRecord, req.op, err)
	}
	return nil
}

// Sign computes the V5 HMAC-SHA256 signature over
// timestamp + apiKey + recvWindow + queryString.
func Sign(secretKey, timestamp, apiKey, recvWindow, query string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(timestamp + apiKey + recvWindow + query))
	return hex.EncodeToString(mac.Sum(nil))
}

func isRetryable(sentinel error) bool {
	return errors.Is(sentinel, ports.ErrRateLimited) || errors.Is(sentinel, ports.ErrConnectionFailed)
}

// classifyError maps a Bybit or transport error to a ports sentinel.
func classifyError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 10006, 10018: // Too many visits / IP rate limit
			return ports.ErrRateLimited
		case 10002: // Request time exceeds the recv window
			return ports.ErrTimeout
		case 10004: // Error sign
			return ports.ErrAuthenticationFailed
		case 10003, 10005, 10010, 33004: // Invalid key / permission denied / unmatched IP / key expired
			return ports.ErrInvalidAPIKeys
		case 10001, 170130, 170121: // Params error / data sent over limit / invalid symbol
			return ports.ErrInvalidRequest
		case 10000, 10016: // Server timeout / server error
			return ports.ErrExchangeUnavailable
		default:
			return ports.ErrUnknown
		}
	}
	var statusErr *statusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests, statusErr.StatusCode == http.StatusForbidden:
			return ports.ErrRateLimited
		case statusErr.StatusCode >= http.StatusInternalServerError:
			return ports.ErrExchangeUnavailable
		case statusErr.StatusCode == http.StatusUnauthorized:
			return ports.ErrInvalidAPIKeys
		default:
			return ports.ErrInvalidRequest
		}
	}

	for _, sentinel := range []error{ports.ErrInvalidAPIKeys, ports.ErrMalformedRecord} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ports.ErrTimeout
	case errors.Is(err, context.Canceled):
		return ports.ErrContextCanceled
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ports.ErrTimeout
		}
		return ports.ErrConnectionFailed
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ports.ErrConnectionFailed
	}
	return ports.ErrUnknown
}

// handleError logs err and wraps it with its ports sentinel.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		fields["retCode"] = apiErr.Code
		fields["retMsg"] = apiErr.Message
	}

	mappedErr := classifyError(err)
	if errors.Is(mappedErr, ports.ErrContextCanceled) {
		c.logger.Debug(ctx, operation+" canceled", fields)
		return fmt.Errorf("%s operation canceled: %w: %w", operation, mappedErr, err)
	}
	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	if errors.Is(err, mappedErr) {
		return fmt.Errorf("%s failed: %w", operation, err)
	}
	return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
}
