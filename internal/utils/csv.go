package utils

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"cryptoLedger/internal/domain"
)

var transactionHeader = []string{"id", "txn_date", "asset_symbol", "txn_type", "owner", "exchange", "quantity", "unit_price", "usd_value"}

// WriteTransactionsCSV writes txns to filename, one ledger row per line.
func WriteTransactionsCSV(txns []domain.Transaction, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := WriteTransactions(file, txns); err != nil {
		return err
	}
	return file.Close()
}

// WriteTransactions writes txns as CSV with a header row.
func WriteTransactions(w io.Writer, txns []domain.Transaction) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(transactionHeader); err != nil {
		return err
	}
	for _, t := range txns {
		if err := writer.Write([]string{
			t.ID,
			t.Date.Format(domain.DateLayout),
			t.AssetSymbol,
			string(t.TxnType),
			t.Owner,
			t.Exchange,
			strconv.FormatFloat(t.Quantity, 'f', -1, 64),
			strconv.FormatFloat(t.UnitPrice, 'f', -1, 64),
			strconv.FormatFloat(t.USDValue, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
