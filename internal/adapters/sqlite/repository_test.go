package sqlite

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoLedger/internal/domain"
	"cryptoLedger/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}
func (m *mockLogger) Fatal(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, string, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "ledger-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, dbPath, cleanup
}

func day(d int) time.Time {
	return time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func sampleTxn(id string, d int, symbol, owner, exchange string, typ domain.TxnType) *domain.Transaction {
	return &domain.Transaction{
		ID:          id,
		Date:        day(d),
		AssetSymbol: symbol,
		TxnType:     typ,
		Owner:       owner,
		Exchange:    exchange,
		Quantity:    2,
		UnitPrice:   150,
		USDValue:    300,
	}
}

func TestRepository_InsertIfAbsent(t *testing.T) {
	repo, _, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	txn := sampleTxn("a", 0, "SOLUSDT", "J", "binance", domain.TxnBuy)

	inserted, err := repo.InsertIfAbsent(ctx, txn)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Re-inserting the same id is a no-op, even if other fields differ.
	again := *txn
	again.Quantity = 99
	inserted, err = repo.InsertIfAbsent(ctx, &again)
	require.NoError(t, err)
	assert.False(t, inserted)

	all, err := repo.ScanAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, *txn, all[0])
}

func TestRepository_InsertIfAbsent_Validation(t *testing.T) {
	repo, _, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(*domain.Transaction)
		wantErr error
	}{
		{"empty id", func(t *domain.Transaction) { t.ID = "" }, ports.ErrMalformedRecord},
		{"unknown type", func(t *domain.Transaction) { t.TxnType = "Airdrop" }, ports.ErrUnmappedTxnType},
		{"negative quantity", func(t *domain.Transaction) { t.Quantity = -1 }, ports.ErrMalformedRecord},
		{"NaN value", func(t *domain.Transaction) { t.USDValue = math.NaN() }, ports.ErrMalformedRecord},
		{"zero date", func(t *domain.Transaction) { t.Date = time.Time{} }, ports.ErrMalformedRecord},
		{"missing owner", func(t *domain.Transaction) { t.Owner = "" }, ports.ErrMalformedRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := sampleTxn("v-"+tt.name, 0, "SOL", "J", "binance", domain.TxnBuy)
			tt.mutate(txn)
			inserted, err := repo.InsertIfAbsent(ctx, txn)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.False(t, inserted)
		})
	}

	all, err := repo.ScanAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRepository_ConcurrentDuplicateInserts(t *testing.T) {
	repo, _, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
		errs     []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.InsertIfAbsent(ctx, sampleTxn("same", 0, "SOL", "J", "binance", domain.TxnBuy))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				inserted++
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, inserted)

	all, err := repo.ScanAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRepository_ScanOrdering(t *testing.T) {
	repo, _, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for _, txn := range []*domain.Transaction{
		sampleTxn("c", 1, "SOL", "J", "binance", domain.TxnSell),
		sampleTxn("b", 0, "SOL", "J", "binance", domain.TxnBuy),
		sampleTxn("a", 1, "SOL", "J", "binance", domain.TxnBuy),
	} {
		_, err := repo.InsertIfAbsent(ctx, txn)
		require.NoError(t, err)
	}

	all, err := repo.ScanAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestRepository_ScanBy(t *testing.T) {
	repo, _, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for _, txn := range []*domain.Transaction{
		sampleTxn("1", 0, "SOLUSDT", "J", "binance", domain.TxnBuy),
		sampleTxn("2", 1, "SOLUSDT", "J", "binance", domain.TxnSell),
		sampleTxn("3", 2, "ETH", "J", "bybit", domain.TxnDeposit),
		sampleTxn("4", 3, "SOL", "VKEE", "binance", domain.TxnBuy),
		sampleTxn("5", 4, "BTC", "VKEE", "bybit", domain.TxnWithdraw),
	} {
		_, err := repo.InsertIfAbsent(ctx, txn)
		require.NoError(t, err)
	}

	tests := []struct {
		name    string
		filter  ports.LedgerFilter
		wantIDs []string
	}{
		{"empty filter", ports.LedgerFilter{}, []string{"1", "2", "3", "4", "5"}},
		{"owner", ports.LedgerFilter{Owner: "J"}, []string{"1", "2", "3"}},
		{"owner and exchange", ports.LedgerFilter{Owner: "VKEE", Exchange: "binance"}, []string{"4"}},
		{"asset ignores case", ports.LedgerFilter{AssetSymbol: "solusdt"}, []string{"1", "2"}},
		{"type", ports.LedgerFilter{TxnType: domain.TxnBuy}, []string{"1", "4"}},
		{"date range is inclusive", ports.LedgerFilter{From: day(1), To: day(3)}, []string{"2", "3", "4"}},
		{"open-ended from", ports.LedgerFilter{From: day(4)}, []string{"5"}},
		{"no match", ports.LedgerFilter{Owner: "NOBODY"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ScanBy(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, txn := range got {
				ids = append(ids, txn.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestRepository_RowsAreImmutable(t *testing.T) {
	repo, _, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_, err := repo.InsertIfAbsent(ctx, sampleTxn("a", 0, "SOL", "J", "binance", domain.TxnBuy))
	require.NoError(t, err)

	_, err = repo.db.ExecContext(ctx, `UPDATE transactions SET quantity = 5 WHERE id = 'a'`)
	require.Error(t, err)
	assert.True(t, errors.Is(mapError(err), ports.ErrImmutableRow))

	_, err = repo.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = 'a'`)
	require.Error(t, err)
	assert.True(t, errors.Is(mapError(err), ports.ErrImmutableRow))

	all, err := repo.ScanAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2.0, all[0].Quantity)
}

func TestRepository_SchemaCheckSurfacesThroughConflictClause(t *testing.T) {
	repo, _, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := repo.db.ExecContext(context.Background(), `
	INSERT INTO transactions (id, txn_date, asset_symbol, txn_type, owner, exchange, quantity, unit_price, usd_value)
	VALUES ('neg', '2024-07-01', 'SOL', 'Buy', 'J', 'binance', -1, 1, 1)
	ON CONFLICT(id) DO NOTHING`)
	require.Error(t, err)
	assert.True(t, errors.Is(mapError(err), ports.ErrMalformedRecord))
}

func TestRepository_ReopenKeepsData(t *testing.T) {
	repo, dbPath, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	_, err := repo.InsertIfAbsent(ctx, sampleTxn("persist", 0, "SOL", "J", "binance", domain.TxnBuy))
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	reopened, err := NewRepository(Config{DBPath: dbPath, Logger: &mockLogger{}})
	require.NoError(t, err)
	defer reopened.Close()

	all, err := reopened.ScanAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "persist", all[0].ID)
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)
}
