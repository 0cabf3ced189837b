package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"cryptoLedger/internal/app"
	"cryptoLedger/internal/domain"
	"cryptoLedger/internal/ports"
)

// TransactionsResponse is the body of GET /api/transactions.
type TransactionsResponse struct {
	Count        int                  `json:"count"`
	Transactions []domain.Transaction `json:"transactions"`
}

// IngestResponse is the body of POST /api/ingest.
type IngestResponse struct {
	Mode   app.WindowMode   `json:"mode"`
	Result app.IngestResult `json:"result"`
	Errors string           `json:"errors,omitempty"`
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	txns, err := s.reports.Transactions(r.Context(), filter)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	respondJSON(w, http.StatusOK, TransactionsResponse{Count: len(txns), Transactions: txns})
}

func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ports.LedgerFilter{
		Owner:    strings.TrimSpace(q.Get("owner")),
		Exchange: strings.ToLower(strings.TrimSpace(q.Get("exchange"))),
	}
	report, err := s.reports.Compute(r.Context(), filter)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// handleIngest runs a refresh synchronously. Per-account failures do not
// fail the request; they are returned next to the counts.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "no exchange accounts configured")
		return
	}
	mode := s.config.DefaultMode
	if raw := r.URL.Query().Get("mode"); raw != "" {
		parsed, err := app.ParseWindowMode(raw)
		if err != nil {
			s.respondServiceError(w, r, err)
			return
		}
		mode = parsed
	}
	if mode == "" {
		mode = app.ModeWeekly
	}

	result, err := s.ingest.Refresh(r.Context(), mode)
	resp := IngestResponse{Mode: mode, Result: result}
	if err != nil {
		if result.Fetched == 0 {
			s.respondServiceError(w, r, err)
			return
		}
		resp.Errors = err.Error()
		s.logger.Warn(r.Context(), "Ledger refresh finished with errors", map[string]interface{}{"error": err.Error()})
	}
	respondJSON(w, http.StatusOK, resp)
}

func parseFilter(q url.Values) (ports.LedgerFilter, error) {
	filter := ports.LedgerFilter{
		Owner:       strings.TrimSpace(q.Get("owner")),
		Exchange:    strings.ToLower(strings.TrimSpace(q.Get("exchange"))),
		AssetSymbol: strings.TrimSpace(q.Get("asset")),
	}
	if raw := q.Get("type"); raw != "" {
		typ, ok := domain.ParseTxnType(raw)
		if !ok {
			return filter, fmt.Errorf("%w: unknown transaction type %q", ports.ErrInvalidRequest, raw)
		}
		filter.TxnType = typ
	}
	if raw := q.Get("from"); raw != "" {
		from, err := domain.ParseDate(raw)
		if err != nil {
			return filter, fmt.Errorf("%w: %w", ports.ErrInvalidRequest, err)
		}
		filter.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := domain.ParseDate(raw)
		if err != nil {
			return filter, fmt.Errorf("%w: %w", ports.ErrInvalidRequest, err)
		}
		filter.To = to
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return filter, fmt.Errorf("%w: to is before from", ports.ErrInvalidRequest)
	}
	return filter, nil
}
