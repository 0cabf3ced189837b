package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cryptoLedger/internal/domain"
	"cryptoLedger/internal/identity"
	"cryptoLedger/internal/ports"
)

// Account pairs an owner with the producer for one of their exchange accounts.
type Account struct {
	Owner  string
	Source ports.TransactionSource
}

// IngestResult counts what one ingestion run did.
type IngestResult struct {
	Fetched    int `json:"fetched"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

func (r *IngestResult) add(o IngestResult) {
	r.Fetched += o.Fetched
	r.Inserted += o.Inserted
	r.Duplicates += o.Duplicates
	r.Skipped += o.Skipped
}

// IngestService assigns identities to producer records and appends them to
// the ledger.
type IngestService struct {
	ledger   ports.Ledger
	ids      *identity.Deriver
	logger   ports.Logger
	accounts []Account
	clock    func() time.Time

	mu sync.Mutex // serializes Refresh runs
}

// IngestConfig holds the IngestService's collaborators.
type IngestConfig struct {
	Ledger   ports.Ledger
	Deriver  *identity.Deriver
	Logger   ports.Logger
	Accounts []Account
	Clock    func() time.Time
}

// NewIngestService creates an IngestService.
func NewIngestService(cfg IngestConfig) (*IngestService, error) {
	if cfg.Ledger == nil || cfg.Deriver == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for IngestService")
	}
	for _, acc := range cfg.Accounts {
		if acc.Owner == "" || acc.Source == nil {
			return nil, fmt.Errorf("%w: account needs an owner and a source", ports.ErrConfigurationError)
		}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &IngestService{
		ledger:   cfg.Ledger,
		ids:      cfg.Deriver,
		logger:   cfg.Logger,
		accounts: cfg.Accounts,
		clock:    clock,
	}, nil
}

// Refresh pulls the mode's window from every account. A failing account is
// logged and reported in the returned error; the others still run.
func (s *IngestService) Refresh(ctx context.Context, mode WindowMode) (IngestResult, error) {
	var total IngestResult
	start, end, err := mode.Window(s.clock())
	if err != nil {
		return total, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info(ctx, "Starting ledger refresh", map[string]interface{}{
		"mode": string(mode), "start": start.Format(domain.DateLayout), "end": end.Format(domain.DateLayout), "accounts": len(s.accounts),
	})

	var errs []error
	for _, acc := range s.accounts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ports.ErrContextCanceled, err))
			break
		}
		accCtx := ports.WithLogFields(ctx, map[string]interface{}{"owner": acc.Owner, "exchange": acc.Source.Exchange()})

		records, err := acc.Source.FetchHistory(accCtx, acc.Owner, start, end)
		if err != nil {
			s.logger.Error(accCtx, err, "Fetching account history failed")
			errs = append(errs, fmt.Errorf("owner %s on %s: %w", acc.Owner, acc.Source.Exchange(), err))
			continue
		}
		res, err := s.ImportRecords(accCtx, records)
		total.add(res)
		if err != nil {
			errs = append(errs, fmt.Errorf("owner %s on %s: %w", acc.Owner, acc.Source.Exchange(), err))
			continue
		}
		s.logger.Info(accCtx, "Account refreshed", resultFields(res))
	}

	s.logger.Info(ctx, "Ledger refresh finished", resultFields(total))
	return total, errors.Join(errs...)
}

// ImportRecords derives ids for records and inserts them. Records the ledger
// rejects as malformed are skipped with a warning; storage failures stop the
// import.
func (s *IngestService) ImportRecords(ctx context.Context, records []domain.Record) (IngestResult, error) {
	res := IngestResult{Fetched: len(records)}
	for _, rec := range records {
		txn := rec.ToTransaction(s.ids.ForRecord(rec))
		inserted, err := s.ledger.InsertIfAbsent(ctx, &txn)
		switch {
		case err == nil && inserted:
			res.Inserted++
		case err == nil:
			res.Duplicates++
		case errors.Is(err, ports.ErrMalformedRecord), errors.Is(err, ports.ErrUnmappedTxnType):
			res.Skipped++
			s.logger.Warn(ctx, "Skipping record rejected by ledger", map[string]interface{}{
				"id": txn.ID, "owner": txn.Owner, "exchange": txn.Exchange, "asset": txn.AssetSymbol, "error": err.Error(),
			})
		default:
			return res, fmt.Errorf("inserting transaction %s: %w", txn.ID, err)
		}
	}
	return res, nil
}

func resultFields(r IngestResult) map[string]interface{} {
	return map[string]interface{}{
		"fetched": r.Fetched, "inserted": r.Inserted, "duplicates": r.Duplicates, "skipped": r.Skipped,
	}
}
