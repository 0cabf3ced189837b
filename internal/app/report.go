package app

import (
	"context"
	"fmt"

	"cryptoLedger/internal/domain"
	"cryptoLedger/internal/ports"
)

// Calculator turns ledger rows into a PnL report.
type Calculator interface {
	Compute(ctx context.Context, txns []domain.Transaction) (*domain.Report, error)
}

// ReportService answers ledger queries and PnL reports.
type ReportService struct {
	ledger     ports.Ledger
	calculator Calculator
	logger     ports.Logger
}

// NewReportService creates a ReportService.
func NewReportService(ledger ports.Ledger, calculator Calculator, logger ports.Logger) (*ReportService, error) {
	if ledger == nil || calculator == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for ReportService")
	}
	return &ReportService{ledger: ledger, calculator: calculator, logger: logger}, nil
}

// Transactions returns the ledger rows matching filter.
func (s *ReportService) Transactions(ctx context.Context, filter ports.LedgerFilter) ([]domain.Transaction, error) {
	if filter.IsEmpty() {
		return s.ledger.ScanAll(ctx)
	}
	return s.ledger.ScanBy(ctx, filter)
}

// Compute builds the PnL report over the rows matching filter.
func (s *ReportService) Compute(ctx context.Context, filter ports.LedgerFilter) (*domain.Report, error) {
	txns, err := s.Transactions(ctx, filter)
	if err != nil {
		s.logger.Error(ctx, err, "Loading ledger rows for report failed")
		return nil, fmt.Errorf("loading ledger: %w", err)
	}
	report, err := s.calculator.Compute(ctx, txns)
	if err != nil {
		return nil, fmt.Errorf("computing PnL: %w", err)
	}
	return report, nil
}
