package bybitclient

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cryptoLedger/internal/domain"
)

// translateExecution maps a spot fill into a ledger record. quoteUSD converts
// the pair's quote asset into dollars (1 for stablecoin pairs).
func translateExecution(e execution, owner string, quoteUSD float64) (domain.Record, error) {
	price, err := parseAmount(e.ExecPrice)
	if err != nil {
		return domain.Record{}, fmt.Errorf("execPrice %q: %w", e.ExecPrice, err)
	}
	qty, err := parseAmount(e.ExecQty)
	if err != nil {
		return domain.Record{}, fmt.Errorf("execQty %q: %w", e.ExecQty, err)
	}
	if qty.IsNegative() {
		return domain.Record{}, fmt.Errorf("negative quantity %s", qty)
	}
	at, err := parseMillis(e.ExecTime)
	if err != nil {
		return domain.Record{}, err
	}

	var txnType domain.TxnType
	switch strings.ToLower(strings.TrimSpace(e.Side)) {
	case "buy":
		txnType = domain.TxnBuy
	case "sell":
		txnType = domain.TxnSell
	default:
		return domain.Record{}, fmt.Errorf("unknown side %q", e.Side)
	}

	unitPrice := price.Mul(decimal.NewFromFloat(quoteUSD))
	rec := domain.Record{
		Date:        at,
		AssetSymbol: strings.ToUpper(strings.TrimSpace(e.Symbol)),
		TxnType:     txnType,
		Owner:       owner,
		Exchange:    domain.ExchangeBybit,
		Quantity:    qty.InexactFloat64(),
		UnitPrice:   unitPrice.InexactFloat64(),
		USDValue:    unitPrice.Mul(qty).InexactFloat64(),
		NativeID:    strings.TrimSpace(e.ExecID),
	}
	if rec.NativeID == "" {
		rec.Provenance = []string{e.ExecTime, e.Symbol, e.ExecPrice, e.ExecQty, e.Side}
	}
	return rec, nil
}

// translateDeposit maps a credited deposit dated at its success time.
func translateDeposit(d deposit, owner string, at time.Time, usdPrice float64) (domain.Record, error) {
	qty, err := parseAmount(d.Amount)
	if err != nil {
		return domain.Record{}, fmt.Errorf("amount %q: %w", d.Amount, err)
	}
	rec := capitalRecord(domain.TxnDeposit, owner, d.Coin, at, qty.Abs(), usdPrice)
	rec.NativeID = strings.TrimSpace(d.TxID)
	if rec.NativeID == "" {
		rec.Provenance = []string{"deposit", d.Coin, d.SuccessAt, d.Amount}
	}
	return rec, nil
}

// translateWithdrawal maps a completed withdrawal dated at its creation time.
func translateWithdrawal(w withdrawal, owner string, at time.Time, usdPrice float64) (domain.Record, error) {
	qty, err := parseAmount(w.Amount)
	if err != nil {
		return domain.Record{}, fmt.Errorf("amount %q: %w", w.Amount, err)
	}
	rec := capitalRecord(domain.TxnWithdraw, owner, w.Coin, at, qty.Abs(), usdPrice)
	rec.NativeID = strings.TrimSpace(w.TxID)
	if rec.NativeID == "" {
		rec.Provenance = []string{"withdraw", w.Coin, w.CreateTime, w.Amount}
	}
	return rec, nil
}

func capitalRecord(typ domain.TxnType, owner, coin string, at time.Time, qty decimal.Decimal, usdPrice float64) domain.Record {
	return domain.Record{
		Date:        at.UTC(),
		AssetSymbol: strings.ToUpper(strings.TrimSpace(coin)),
		TxnType:     typ,
		Owner:       owner,
		Exchange:    domain.ExchangeBybit,
		Quantity:    qty.InexactFloat64(),
		UnitPrice:   usdPrice,
		USDValue:    decimal.NewFromFloat(usdPrice).Mul(qty).InexactFloat64(),
	}
}
