package ports

import (
	"context"
	"time"

	"cryptoLedger/internal/domain"
)

// TransactionSource is an ingestion producer for one exchange account.
// Implementations own their pagination, request signing, rate limiting and
// retries; they emit records already mapped into the ledger shape.
type TransactionSource interface {
	// Exchange returns the exchange identifier stamped on every record.
	Exchange() string
	// FetchHistory returns trades, deposits and withdrawals for owner in [start, end).
	FetchHistory(ctx context.Context, owner string, start, end time.Time) ([]domain.Record, error)
}

// PriceOracle supplies the current USD spot price of a base asset.
// The venue lets exchanges that quote differently be valued independently.
type PriceOracle interface {
	// SpotPrice returns an error wrapping ErrPriceUnavailable when no price can be resolved.
	SpotPrice(ctx context.Context, baseAsset, venue string) (float64, error)
}

// PriceFeed is a single venue's ticker endpoint.
type PriceFeed interface {
	// TickerPrice retrieves the last price for a trading pair symbol (e.g. "SOLUSDT").
	TickerPrice(ctx context.Context, symbol string) (float64, error)
}

// HistoricalPricer values an asset in USD at a point in time.
type HistoricalPricer interface {
	HistoricalPrice(ctx context.Context, asset string, at time.Time) (float64, error)
}
