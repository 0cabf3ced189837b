package binanceclient

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"cryptoLedger/internal/domain"
)

// translateTrade maps a spot fill into a ledger record. quoteUSD converts the
// pair's quote asset into dollars (1 for stablecoin pairs).
func translateTrade(t *binance.TradeV3, owner string, quoteUSD float64) (domain.Record, error) {
	price, err := parseAmount(t.Price)
	if err != nil {
		return domain.Record{}, fmt.Errorf("price %q: %w", t.Price, err)
	}
	qty, err := parseAmount(t.Quantity)
	if err != nil {
		return domain.Record{}, fmt.Errorf("quantity %q: %w", t.Quantity, err)
	}
	if qty.IsNegative() {
		return domain.Record{}, fmt.Errorf("negative quantity %s", qty)
	}

	rate := decimal.NewFromFloat(quoteUSD)
	unitPrice := price.Mul(rate)
	txnType := domain.TxnSell
	if t.IsBuyer {
		txnType = domain.TxnBuy
	}

	return domain.Record{
		Date:        time.UnixMilli(t.Time).UTC(),
		AssetSymbol: strings.ToUpper(t.Symbol),
		TxnType:     txnType,
		Owner:       owner,
		Exchange:    domain.ExchangeBinance,
		Quantity:    qty.InexactFloat64(),
		UnitPrice:   unitPrice.InexactFloat64(),
		USDValue:    unitPrice.Mul(qty).InexactFloat64(),
		NativeID:    strconv.FormatInt(t.ID, 10),
	}, nil
}

// translateDeposit maps a credited deposit. Deposits without an on-chain
// txId fall back to their raw fields for identity.
func translateDeposit(d *binance.Deposit, owner string, usdPrice float64) (domain.Record, error) {
	qty, err := parseAmount(d.Amount)
	if err != nil {
		return domain.Record{}, fmt.Errorf("amount %q: %w", d.Amount, err)
	}
	rec := capitalRecord(domain.TxnDeposit, owner, d.Coin, time.UnixMilli(d.InsertTime), qty.Abs(), usdPrice)
	rec.NativeID = strings.TrimSpace(d.TxID)
	if rec.NativeID == "" {
		rec.Provenance = []string{"deposit", d.Coin, strconv.FormatInt(d.InsertTime, 10), d.Amount}
	}
	return rec, nil
}

// translateWithdraw maps a completed withdrawal dated at its apply time.
func translateWithdraw(w *binance.Withdraw, owner string, applied time.Time, usdPrice float64) (domain.Record, error) {
	qty, err := parseAmount(w.Amount)
	if err != nil {
		return domain.Record{}, fmt.Errorf("amount %q: %w", w.Amount, err)
	}
	rec := capitalRecord(domain.TxnWithdraw, owner, w.Coin, applied, qty.Abs(), usdPrice)
	rec.NativeID = strings.TrimSpace(w.TxID)
	if rec.NativeID == "" {
		rec.Provenance = []string{"withdraw", w.Coin, w.ApplyTime, w.Amount}
	}
	return rec, nil
}

func capitalRecord(typ domain.TxnType, owner, coin string, at time.Time, qty decimal.Decimal, usdPrice float64) domain.Record {
	price := decimal.NewFromFloat(usdPrice)
	return domain.Record{
		Date:        at.UTC(),
		AssetSymbol: strings.ToUpper(coin),
		TxnType:     typ,
		Owner:       owner,
		Exchange:    domain.ExchangeBinance,
		Quantity:    qty.InexactFloat64(),
		UnitPrice:   usdPrice,
		USDValue:    price.Mul(qty).InexactFloat64(),
	}
}
