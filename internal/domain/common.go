package domain

import "strings"

// TxnType is the economic type of a ledger row.
type TxnType string

const (
	TxnBuy        TxnType = "Buy"
	TxnSell       TxnType = "Sell"
	TxnDeposit    TxnType = "Deposit"
	TxnWithdraw   TxnType = "Withdraw"
	TxnFee        TxnType = "Fee"
	TxnRebate     TxnType = "Rebate"
	TxnRevenue    TxnType = "Revenue"
	TxnCommission TxnType = "Commission"
)

// TxnTypes lists every member of the closed enumeration.
var TxnTypes = []TxnType{TxnBuy, TxnSell, TxnDeposit, TxnWithdraw, TxnFee, TxnRebate, TxnRevenue, TxnCommission}

// ParseTxnType resolves a stored or upstream spelling to a TxnType.
// The second return value is false for anything outside the enumeration.
func ParseTxnType(s string) (TxnType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return TxnBuy, true
	case "SELL":
		return TxnSell, true
	case "DEPOSIT":
		return TxnDeposit, true
	case "WITHDRAW", "WITHDRAWAL":
		return TxnWithdraw, true
	case "FEE":
		return TxnFee, true
	case "REBATE":
		return TxnRebate, true
	case "REVENUE":
		return TxnRevenue, true
	case "COMMISSION", "COMMISION": // legacy ledgers carry the misspelling
		return TxnCommission, true
	default:
		return TxnType(s), false
	}
}

// IsKnown reports whether t is a member of the enumeration.
func (t TxnType) IsKnown() bool {
	for _, known := range TxnTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Exchange identifiers used across adapters.
const (
	ExchangeBinance = "binance"
	ExchangeBybit   = "bybit"
)
