package pnl

import (
	"fmt"
	"math"

	"cryptoLedger/internal/domain"
	"cryptoLedger/internal/ports"
)

type direction int

const (
	inflow direction = iota + 1
	outflow
)

func (d direction) String() string {
	switch d {
	case inflow:
		return "inflow"
	case outflow:
		return "outflow"
	default:
		return "unknown"
	}
}

// directions maps every transaction type to the side of the position it moves.
// Inflows build the cost basis; outflows realize against it.
var directions = map[domain.TxnType]direction{
	domain.TxnBuy:        inflow,
	domain.TxnDeposit:    inflow,
	domain.TxnRebate:     inflow,
	domain.TxnRevenue:    inflow,
	domain.TxnCommission: inflow,
	domain.TxnSell:       outflow,
	domain.TxnWithdraw:   outflow,
	domain.TxnFee:        outflow,
}

type classified struct {
	txn domain.Transaction
	dir direction
}

// classify validates txn and assigns its direction.
func classify(txn domain.Transaction) (classified, error) {
	dir, ok := directions[txn.TxnType]
	if !ok {
		return classified{}, fmt.Errorf("%w: %q", ports.ErrUnmappedTxnType, txn.TxnType)
	}
	if txn.Owner == "" || txn.Exchange == "" {
		return classified{}, fmt.Errorf("%w: owner and exchange are required", ports.ErrMalformedRecord)
	}
	if !finite(txn.Quantity) || txn.Quantity < 0 {
		return classified{}, fmt.Errorf("%w: quantity %v", ports.ErrMalformedRecord, txn.Quantity)
	}
	if !finite(txn.USDValue) {
		return classified{}, fmt.Errorf("%w: usd_value %v", ports.ErrMalformedRecord, txn.USDValue)
	}
	return classified{txn: txn, dir: dir}, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
