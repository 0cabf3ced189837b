// Package statement reads exchange account-statement CSV exports into ledger
// records. It backfills history the exchange APIs no longer return.
package statement

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cryptoLedger/internal/domain"
	"cryptoLedger/internal/ports"
)

const timeLayout = "2006-01-02 15:04:05"

// Column names of the Binance statement export.
const (
	colUserID    = "User_ID"
	colUTCTime   = "UTC_Time"
	colAccount   = "Account"
	colOperation = "Operation"
	colCoin      = "Coin"
	colChange    = "Change"
)

var requiredColumns = []string{colUserID, colUTCTime, colAccount, colOperation, colCoin, colChange}

// operations maps statement operations to ledger types. Operations missing
// here (transfers, airdrops) are skipped.
var operations = map[string]domain.TxnType{
	"Commission Rebate":   domain.TxnRebate,
	"Commission History":  domain.TxnCommission,
	"Referrer Commission": domain.TxnCommission,
	"Transaction Spend":   domain.TxnSell,
	"Transaction Sold":    domain.TxnSell,
	"Transaction Buy":     domain.TxnBuy,
	"Transaction Revenue": domain.TxnRevenue,
	"Deposit":             domain.TxnDeposit,
	"Withdraw":            domain.TxnWithdraw,
}

// Fees are already netted into the spend/sold rows of the export.
const operationFee = "Transaction Fee"

// Config configures an Importer.
type Config struct {
	Exchange string
	// Owners maps statement User_ID values to owner codes.
	Owners map[string]string
	// Owner, when set, overrides the User_ID mapping for every row.
	Owner string
	// Pricer values each row at its timestamp. Rows are valued at 0 when nil.
	Pricer ports.HistoricalPricer
	Logger ports.Logger
}

// Importer converts statement rows into records.
type Importer struct {
	exchange string
	owners   map[string]string
	owner    string
	pricer   ports.HistoricalPricer
	logger   ports.Logger
}

// Summary counts what a Read call did with the input rows.
type Summary struct {
	Rows     int
	Imported int
	Skipped  int
}

// New creates an Importer.
func New(cfg Config) (*Importer, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for statement importer")
	}
	exchange := strings.ToLower(strings.TrimSpace(cfg.Exchange))
	if exchange == "" {
		return nil, fmt.Errorf("%w: exchange is required for statement import", ports.ErrConfigurationError)
	}
	return &Importer{
		exchange: exchange,
		owners:   cfg.Owners,
		owner:    strings.TrimSpace(cfg.Owner),
		pricer:   cfg.Pricer,
		logger:   cfg.Logger,
	}, nil
}

// Read parses a statement export. Spot rows with a mapped operation become
// records; everything else is counted as skipped. A row that cannot be
// parsed, or has no owner, fails the whole read.
func (i *Importer) Read(ctx context.Context, r io.Reader) ([]domain.Record, Summary, error) {
	var summary Summary

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, summary, nil
		}
		return nil, summary, fmt.Errorf("%w: reading statement header: %w", ports.ErrMalformedRecord, err)
	}
	index, err := columnIndex(header)
	if err != nil {
		return nil, summary, err
	}

	var records []domain.Record
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, summary, fmt.Errorf("%w: line %d: %w", ports.ErrMalformedRecord, line, err)
		}
		if err := ctx.Err(); err != nil {
			return nil, summary, err
		}
		summary.Rows++

		get := func(col string) string { return strings.TrimSpace(row[index[col]]) }
		if get(colAccount) != "Spot" || get(colOperation) == operationFee {
			summary.Skipped++
			continue
		}
		txnType, ok := operations[get(colOperation)]
		if !ok {
			summary.Skipped++
			i.logger.Warn(ctx, "Skipping statement row with unmapped operation", map[string]interface{}{
				"line": line, "operation": get(colOperation), "coin": get(colCoin),
			})
			continue
		}

		rec, err := i.toRecord(ctx, txnType, get)
		if err != nil {
			return nil, summary, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
		summary.Imported++
	}

	i.logger.Info(ctx, "Statement parsed", map[string]interface{}{
		"exchange": i.exchange, "rows": summary.Rows, "imported": summary.Imported, "skipped": summary.Skipped,
	})
	return records, summary, nil
}

func (i *Importer) toRecord(ctx context.Context, txnType domain.TxnType, get func(string) string) (domain.Record, error) {
	userID, rawTime, operation, coin, change := get(colUserID), get(colUTCTime), get(colOperation), get(colCoin), get(colChange)

	at, err := time.ParseInLocation(timeLayout, rawTime, time.UTC)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: UTC_Time %q: %w", ports.ErrMalformedRecord, rawTime, err)
	}
	amount, err := decimal.NewFromString(change)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: Change %q: %w", ports.ErrMalformedRecord, change, err)
	}
	if coin == "" {
		return domain.Record{}, fmt.Errorf("%w: empty Coin", ports.ErrMalformedRecord)
	}

	owner := i.owner
	if owner == "" {
		owner = i.owners[userID]
	}
	if owner == "" {
		return domain.Record{}, fmt.Errorf("%w: no owner mapped for User_ID %q", ports.ErrMalformedRecord, userID)
	}

	qty := amount.Abs()
	price := i.priceAt(ctx, coin, at)
	return domain.Record{
		Date:        at,
		AssetSymbol: strings.ToUpper(coin),
		TxnType:     txnType,
		Owner:       owner,
		Exchange:    i.exchange,
		Quantity:    qty.InexactFloat64(),
		UnitPrice:   price,
		USDValue:    decimal.NewFromFloat(price).Mul(qty).InexactFloat64(),
		Provenance:  []string{userID, rawTime, operation, coin, change},
	}, nil
}

func (i *Importer) priceAt(ctx context.Context, coin string, at time.Time) float64 {
	if i.pricer == nil {
		return 0
	}
	price, err := i.pricer.HistoricalPrice(ctx, coin, at)
	if err != nil {
		i.logger.Warn(ctx, "Historical price unavailable, valuing row at 0", map[string]interface{}{
			"coin": coin, "at": at.Format(timeLayout), "error": err.Error(),
		})
		return 0
	}
	return price
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for pos, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF"))] = pos
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: statement is missing columns %s", ports.ErrMalformedRecord, strings.Join(missing, ", "))
	}
	return index, nil
}
