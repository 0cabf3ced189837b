package ports

import (
	"context"
	"time"

	"cryptoLedger/internal/domain"
)

// LedgerFilter narrows a ledger scan. Zero-valued fields match every row;
// From and To are inclusive calendar dates.
type LedgerFilter struct {
	Owner       string
	Exchange    string
	AssetSymbol string
	TxnType     domain.TxnType
	From        time.Time
	To          time.Time
}

// IsEmpty reports whether the filter matches every row.
func (f LedgerFilter) IsEmpty() bool {
	return f.Owner == "" && f.Exchange == "" && f.AssetSymbol == "" && f.TxnType == "" &&
		f.From.IsZero() && f.To.IsZero()
}

// Ledger is the append-only, id-deduplicated transaction store.
type Ledger interface {
	// InsertIfAbsent stores txn unless a row with the same ID exists.
	// It returns false, nil for a duplicate; duplicates are not errors.
	// Concurrent inserts of the same ID must yield exactly one row.
	InsertIfAbsent(ctx context.Context, txn *domain.Transaction) (bool, error)
	// ScanAll returns every row ordered by date, then ID.
	ScanAll(ctx context.Context) ([]domain.Transaction, error)
	// ScanBy returns the rows matching filter ordered by date, then ID.
	ScanBy(ctx context.Context, filter LedgerFilter) ([]domain.Transaction, error)
}
