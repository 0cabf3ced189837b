// Package pricing composes per-venue ticker feeds into a ports.PriceOracle.
package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"cryptoLedger/internal/ports"
	"cryptoLedger/internal/token"
)

const defaultTTL = time.Minute

// Oracle resolves USD spot prices. Stablecoins short-circuit to 1, renamed
// tickers are translated, and successful lookups are cached per venue.
type Oracle struct {
	feeds  map[string]ports.PriceFeed
	logger ports.Logger
	cache  *cache.Cache
}

// Config holds the oracle's feeds, keyed by venue (exchange identifier).
type Config struct {
	Feeds  map[string]ports.PriceFeed
	Logger ports.Logger
	TTL    time.Duration
}

var _ ports.PriceOracle = (*Oracle)(nil)

// New creates an Oracle.
func New(cfg Config) (*Oracle, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for price oracle")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	feeds := make(map[string]ports.PriceFeed, len(cfg.Feeds))
	for venue, feed := range cfg.Feeds {
		feeds[strings.ToLower(venue)] = feed
	}
	return &Oracle{
		feeds:  feeds,
		logger: cfg.Logger,
		cache:  cache.New(ttl, 2*ttl),
	}, nil
}

// SpotPrice returns the USD price of baseAsset on venue.
func (o *Oracle) SpotPrice(ctx context.Context, baseAsset, venue string) (float64, error) {
	if token.IsStablecoin(baseAsset) {
		return 1, nil
	}
	asset := token.Canonical(baseAsset)
	venue = strings.ToLower(venue)
	key := venue + "|" + asset

	if cached, ok := o.cache.Get(key); ok {
		return cached.(float64), nil
	}

	feed, ok := o.feeds[venue]
	if !ok {
		return 0, fmt.Errorf("%w: no price feed for venue %q", ports.ErrPriceUnavailable, venue)
	}

	price, err := feed.TickerPrice(ctx, asset+"USDT")
	if err != nil {
		return 0, fmt.Errorf("%w: %s on %s: %w", ports.ErrPriceUnavailable, asset, venue, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: %s on %s returned %v", ports.ErrPriceUnavailable, asset, venue, price)
	}

	o.cache.SetDefault(key, price)
	o.logger.Debug(ctx, "Spot price resolved", map[string]interface{}{"asset": asset, "venue": venue, "price": price})
	return price, nil
}
