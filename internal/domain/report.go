package domain

import "time"

// Report is the nested PnL view rebuilt from the ledger on every request.
type Report struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Owners      map[string]*OwnerReport `json:"owners"`
	TotalPnL    float64                 `json:"total_pnl"`
	DroppedRows int                     `json:"dropped_rows"` // rows without an identifiable base asset
}

// OwnerReport groups one owner's exchanges.
type OwnerReport struct {
	Exchanges map[string]*ExchangeReport `json:"exchanges"`
	TotalPnL  float64                    `json:"total_pnl"`
}

// ExchangeReport groups one owner's tokens on a single exchange.
type ExchangeReport struct {
	Tokens   map[string]*TokenReport `json:"tokens"`
	TotalPnL float64                 `json:"total_pnl"`
}

// TokenReport is a leaf: average-cost PnL for one (owner, exchange, base asset).
type TokenReport struct {
	Transactions    []Transaction `json:"transactions"`
	PnL             PnLTable      `json:"pnl"`
	Verification    Verification  `json:"verification"`
	CurrentPrice    float64       `json:"current_price"`
	PriceError      string        `json:"price_error,omitempty"`
	NegativeBalance bool          `json:"negative_balance,omitempty"`
}

// PnLTable holds the realized and unrealized rows.
type PnLTable struct {
	Realized   PnLRow `json:"realized"`
	Unrealized PnLRow `json:"unrealized"`
}

// PnLRow is one row of the PnL table. Only the fields meaningful for the row
// kind are populated; the rest stay zero.
type PnLRow struct {
	AvgBuyPrice    float64 `json:"avg_buy_price"`
	SoldValue      float64 `json:"sold_value"`
	SoldAmount     float64 `json:"sold_amount"`
	CurrentBalance float64 `json:"current_balance"`
	USDValue       float64 `json:"usd_value"`
	PnL            float64 `json:"pnl"`
}

// Verification recomputes the leaf's total PnL through cash flows.
// Difference must equal TotalPnL; Reconciled records whether it did.
type Verification struct {
	InAmount   float64 `json:"in_amount"`
	OutAmount  float64 `json:"out_amount"`
	BalanceUSD float64 `json:"balance_usd"`
	Difference float64 `json:"difference"`
	TotalPnL   float64 `json:"total_pnl"`
	Reconciled bool    `json:"reconciled"`
}
