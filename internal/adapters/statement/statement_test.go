package statement

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoLedger/internal/domain"
	"cryptoLedger/internal/ports"
)

type mockLogger struct {
	mu       sync.Mutex
	warnMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockPricer struct {
	prices map[string]float64
}

func (m *mockPricer) HistoricalPrice(ctx context.Context, asset string, at time.Time) (float64, error) {
	price, ok := m.prices[asset]
	if !ok {
		return 0, ports.ErrPriceUnavailable
	}
	return price, nil
}

const sample = `User_ID,UTC_Time,Account,Operation,Coin,Change,Remark
18065187,2022-03-01 10:00:00,Spot,Deposit,SOL,3.5,
18065187,2022-03-02 11:30:00,Spot,Transaction Buy,ETH,0.25,
18065187,2022-03-02 11:30:00,Spot,Transaction Spend,USDT,-700,
18065187,2022-03-02 11:30:00,Spot,Transaction Fee,BNB,-0.001,
18065187,2022-03-03 09:00:00,Spot,Airdrop Assets,XYZ,10,
18065187,2022-03-03 09:00:00,Funding,Deposit,SOL,1,
18065187,2022-03-04 12:00:00,Spot,Referrer Commission,BNB,0.02,
`

func newTestImporter(t *testing.T, cfg Config) (*Importer, *mockLogger) {
	t.Helper()
	logger := &mockLogger{}
	cfg.Logger = logger
	if cfg.Exchange == "" {
		cfg.Exchange = "Binance"
	}
	imp, err := New(cfg)
	require.NoError(t, err)
	return imp, logger
}

func TestRead(t *testing.T) {
	imp, logger := newTestImporter(t, Config{
		Owners: map[string]string{"18065187": "WD"},
		Pricer: &mockPricer{prices: map[string]float64{"SOL": 100, "ETH": 2800, "USDT": 1, "BNB": 400}},
	})

	records, summary, err := imp.Read(context.Background(), strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, Summary{Rows: 7, Imported: 4, Skipped: 3}, summary)
	require.Len(t, records, 4)
	assert.Contains(t, logger.warnMsgs, "Skipping statement row with unmapped operation")

	deposit := records[0]
	assert.Equal(t, domain.TxnDeposit, deposit.TxnType)
	assert.Equal(t, "SOL", deposit.AssetSymbol)
	assert.Equal(t, "WD", deposit.Owner)
	assert.Equal(t, "binance", deposit.Exchange)
	assert.Equal(t, 3.5, deposit.Quantity)
	assert.InDelta(t, 350.0, deposit.USDValue, 1e-9)
	assert.Equal(t, time.Date(2022, 3, 1, 10, 0, 0, 0, time.UTC), deposit.Date)
	assert.Empty(t, deposit.NativeID)
	assert.Equal(t, []string{"18065187", "2022-03-01 10:00:00", "Deposit", "SOL", "3.5"}, deposit.Provenance)

	spend := records[2]
	assert.Equal(t, domain.TxnSell, spend.TxnType)
	assert.Equal(t, 700.0, spend.Quantity, "quantities are absolute")

	commission := records[3]
	assert.Equal(t, domain.TxnCommission, commission.TxnType)
}

func TestRead_OwnerOverride(t *testing.T) {
	imp, _ := newTestImporter(t, Config{Owner: "J"})

	records, _, err := imp.Read(context.Background(), strings.NewReader(sample))
	require.NoError(t, err)
	for _, rec := range records {
		assert.Equal(t, "J", rec.Owner)
		assert.Equal(t, 0.0, rec.USDValue, "no pricer values rows at 0")
	}
}

func TestRead_MissingOwnerFails(t *testing.T) {
	imp, _ := newTestImporter(t, Config{})

	_, _, err := imp.Read(context.Background(), strings.NewReader(sample))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrMalformedRecord))
	assert.Contains(t, err.Error(), "18065187")
}

func TestRead_PriceFailureValuesAtZero(t *testing.T) {
	imp, logger := newTestImporter(t, Config{Owner: "J", Pricer: &mockPricer{}})

	records, _, err := imp.Read(context.Background(), strings.NewReader(sample))
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, 0.0, records[0].UnitPrice)
	assert.Contains(t, logger.warnMsgs, "Historical price unavailable, valuing row at 0")
}

func TestRead_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing columns", "User_ID,UTC_Time,Coin\n1,2022-03-01 10:00:00,SOL\n"},
		{"bad time", "User_ID,UTC_Time,Account,Operation,Coin,Change\n1,01/03/2022,Spot,Deposit,SOL,1\n"},
		{"bad change", "User_ID,UTC_Time,Account,Operation,Coin,Change\n1,2022-03-01 10:00:00,Spot,Deposit,SOL,abc\n"},
		{"ragged row", "User_ID,UTC_Time,Account,Operation,Coin,Change\n1,2022-03-01 10:00:00,Spot\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			imp, _ := newTestImporter(t, Config{Owner: "J"})
			_, _, err := imp.Read(context.Background(), strings.NewReader(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ports.ErrMalformedRecord), "got %v", err)
		})
	}
}

func TestRead_EmptyInput(t *testing.T) {
	imp, _ := newTestImporter(t, Config{Owner: "J"})
	records, summary, err := imp.Read(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, Summary{}, summary)
}

func TestRead_ByteOrderMarkHeader(t *testing.T) {
	imp, _ := newTestImporter(t, Config{Owner: "J"})
	input := "\uFEFFUser_ID,UTC_Time,Account,Operation,Coin,Change\n1,2022-03-01 10:00:00,Spot,Deposit,SOL,1\n"
	records, _, err := imp.Read(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Exchange: "binance"})
	assert.Error(t, err)

	_, err = New(Config{Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}
