package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3" // SQLite driver

	"cryptoLedger/internal/domain"
	"cryptoLedger/internal/ports"
)

// Repository implements ports.Ledger on SQLite. Rows are append-only: the
// schema rejects UPDATE and DELETE with triggers.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

var _ ports.Ledger = (*Repository)(nil)

// NewRepository opens the ledger database and applies pending migrations.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/ledger.db" // Default path
	}
	ctx := context.Background()

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("%w: failed to open database at '%s': %w", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		err = fmt.Errorf("%w: failed to ping database at '%s': %w", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection serializes writers; WAL keeps readers unblocked.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(ctx, "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.migrate(ctx); err != nil {
		db.Close()
		err = fmt.Errorf("failed to migrate database schema: %w", err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	return repo, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// InsertIfAbsent stores txn unless its id is already present. The conflict
// clause covers only the primary key, so CHECK violations still surface.
func (r *Repository) InsertIfAbsent(ctx context.Context, txn *domain.Transaction) (bool, error) {
	if err := validate(txn); err != nil {
		return false, err
	}

	const query = `
	INSERT INTO transactions (id, txn_date, asset_symbol, txn_type, owner, exchange, quantity, unit_price, usd_value)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		txn.ID, txn.Date.UTC().Format(domain.DateLayout), txn.AssetSymbol, string(txn.TxnType),
		txn.Owner, txn.Exchange, txn.Quantity, txn.UnitPrice, txn.USDValue)
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction %s: %w", txn.ID, mapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected for transaction %s: %w", ports.ErrQueryFailed, txn.ID, err)
	}
	if rowsAffected == 0 {
		r.logger.Debug(ctx, "Transaction already recorded", map[string]interface{}{"id": txn.ID})
		return false, nil
	}
	r.logger.Debug(ctx, "Transaction recorded", map[string]interface{}{
		"id": txn.ID, "owner": txn.Owner, "exchange": txn.Exchange, "asset": txn.AssetSymbol, "type": txn.TxnType,
	})
	return true, nil
}

const selectColumns = `
	SELECT id, txn_date, asset_symbol, txn_type, owner, exchange, quantity, unit_price, usd_value
	FROM transactions`

// ScanAll returns every ledger row ordered by date, then id.
func (r *Repository) ScanAll(ctx context.Context) ([]domain.Transaction, error) {
	return r.query(ctx, selectColumns+` ORDER BY txn_date, id`)
}

// ScanBy returns the rows matching filter ordered by date, then id. The asset
// filter matches the stored symbol exactly, ignoring case.
func (r *Repository) ScanBy(ctx context.Context, filter ports.LedgerFilter) ([]domain.Transaction, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.Owner != "" {
		conds = append(conds, "owner = ?")
		args = append(args, filter.Owner)
	}
	if filter.Exchange != "" {
		conds = append(conds, "exchange = ?")
		args = append(args, filter.Exchange)
	}
	if filter.AssetSymbol != "" {
		conds = append(conds, "asset_symbol = ? COLLATE NOCASE")
		args = append(args, filter.AssetSymbol)
	}
	if filter.TxnType != "" {
		conds = append(conds, "txn_type = ?")
		args = append(args, string(filter.TxnType))
	}
	if !filter.From.IsZero() {
		conds = append(conds, "txn_date >= ?")
		args = append(args, filter.From.UTC().Format(domain.DateLayout))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "txn_date <= ?")
		args = append(args, filter.To.UTC().Format(domain.DateLayout))
	}

	query := selectColumns
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	return r.query(ctx, query+" ORDER BY txn_date, id", args...)
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query transactions: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	txns := make([]domain.Transaction, 0)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan transaction: %w", ports.ErrQueryFailed, err)
		}
		txns = append(txns, txn)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating transaction rows: %w", ports.ErrQueryFailed, err)
	}
	return txns, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(s scanner) (domain.Transaction, error) {
	var (
		t       domain.Transaction
		date    string
		txnType string
	)
	err := s.Scan(&t.ID, &date, &t.AssetSymbol, &txnType, &t.Owner, &t.Exchange, &t.Quantity, &t.UnitPrice, &t.USDValue)
	if err != nil {
		return domain.Transaction{}, err
	}
	if t.Date, err = domain.ParseDate(date); err != nil {
		return domain.Transaction{}, fmt.Errorf("row %s: %w", t.ID, err)
	}
	t.TxnType = domain.TxnType(txnType)
	return t, nil
}

// validate enforces the row contract before the database sees it.
func validate(txn *domain.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: nil transaction", ports.ErrInvalidRequest)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: empty id", ports.ErrMalformedRecord)
	}
	if !txn.TxnType.IsKnown() {
		return fmt.Errorf("transaction %s: %w: %q", txn.ID, ports.ErrUnmappedTxnType, txn.TxnType)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("transaction %s: %w: missing date", txn.ID, ports.ErrMalformedRecord)
	}
	if txn.Owner == "" || txn.Exchange == "" {
		return fmt.Errorf("transaction %s: %w: owner and exchange are required", txn.ID, ports.ErrMalformedRecord)
	}
	if math.IsNaN(txn.Quantity) || math.IsInf(txn.Quantity, 0) || txn.Quantity < 0 {
		return fmt.Errorf("transaction %s: %w: quantity %v", txn.ID, ports.ErrMalformedRecord, txn.Quantity)
	}
	for name, v := range map[string]float64{"unit_price": txn.UnitPrice, "usd_value": txn.USDValue} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("transaction %s: %w: %s %v", txn.ID, ports.ErrMalformedRecord, name, v)
		}
	}
	return nil
}

// mapError translates driver errors into port sentinels.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return fmt.Errorf("%w: %w", ports.ErrQueryFailed, err)
	}
	switch {
	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintTrigger:
		return fmt.Errorf("%w: %w", ports.ErrImmutableRow, err)
	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey, sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
		return fmt.Errorf("%w: %w", ports.ErrDuplicateEntry, err)
	case sqliteErr.Code == sqlite3.ErrConstraint:
		return fmt.Errorf("%w: %w", ports.ErrMalformedRecord, err)
	case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked:
		return fmt.Errorf("%w: %w", ports.ErrDBConnection, err)
	default:
		return fmt.Errorf("%w: %w", ports.ErrQueryFailed, err)
	}
}
