package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used in the ledger and in JSON output.
const DateLayout = "2006-01-02"

// Transaction is a single committed ledger row. Rows are immutable once stored.
type Transaction struct {
	ID          string    // Deterministic identity (see internal/identity)
	Date        time.Time // Calendar date, UTC midnight
	AssetSymbol string    // Raw exchange symbol as received (e.g. "SOLUSDT")
	TxnType     TxnType   // Closed enumeration, see TxnType constants
	Owner       string    // Person-in-charge short code
	Exchange    string    // Exchange identifier (e.g. "binance")
	Quantity    float64   // Non-negative amount of the asset
	UnitPrice   float64   // USD price at execution, 0 if unknown
	USDValue    float64   // Persisted independently of Quantity*UnitPrice
}

// Record is what an ingestion producer emits before an identity is assigned.
// NativeID is preferred when the upstream source has one; otherwise Provenance
// holds the raw upstream fields that identify the event.
type Record struct {
	Date        time.Time
	AssetSymbol string
	TxnType     TxnType
	Owner       string
	Exchange    string
	Quantity    float64
	UnitPrice   float64
	USDValue    float64

	NativeID   string
	Provenance []string
}

// ToTransaction binds an identity to the record.
func (r Record) ToTransaction(id string) Transaction {
	return Transaction{
		ID:          id,
		Date:        DateOf(r.Date),
		AssetSymbol: r.AssetSymbol,
		TxnType:     r.TxnType,
		Owner:       r.Owner,
		Exchange:    r.Exchange,
		Quantity:    r.Quantity,
		UnitPrice:   r.UnitPrice,
		USDValue:    r.USDValue,
	}
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a "YYYY-MM-DD" calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

type transactionJSON struct {
	ID          string  `json:"id"`
	Date        string  `json:"date"`
	AssetSymbol string  `json:"asset_symbol"`
	TxnType     TxnType `json:"txn_type"`
	Owner       string  `json:"owner"`
	Exchange    string  `json:"exchange"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	USDValue    float64 `json:"usd_value"`
}

// MarshalJSON renders the date as a plain calendar date.
func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(transactionJSON{
		ID:          t.ID,
		Date:        t.Date.Format(DateLayout),
		AssetSymbol: t.AssetSymbol,
		TxnType:     t.TxnType,
		Owner:       t.Owner,
		Exchange:    t.Exchange,
		Quantity:    t.Quantity,
		UnitPrice:   t.UnitPrice,
		USDValue:    t.USDValue,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (t *Transaction) UnmarshalJSON(b []byte) error {
	var raw transactionJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	date, err := ParseDate(raw.Date)
	if err != nil {
		return err
	}
	*t = Transaction{
		ID:          raw.ID,
		Date:        date,
		AssetSymbol: raw.AssetSymbol,
		TxnType:     raw.TxnType,
		Owner:       raw.Owner,
		Exchange:    raw.Exchange,
		Quantity:    raw.Quantity,
		UnitPrice:   raw.UnitPrice,
		USDValue:    raw.USDValue,
	}
	return nil
}
