// Package pnl folds ledger transactions into the average-cost PnL report.
//
// Transactions are grouped by owner, exchange and base asset. Each group is a
// single weighted average over all of its inflows; outflows realize gains
// against that average, and the remaining balance is valued at the oracle's
// spot price. A second cash-flow computation of the same total is kept in the
// leaf's Verification row as a self-check.
package pnl

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cryptoLedger/internal/domain"
	"cryptoLedger/internal/ports"
	"cryptoLedger/internal/token"
)

const (
	defaultPriceConcurrency = 8
	reconcileTolerance      = 1e-9
)

// Config holds the aggregator's collaborators.
type Config struct {
	Oracle           ports.PriceOracle
	Logger           ports.Logger
	PriceConcurrency int           // Max concurrent oracle lookups (default 8)
	PriceTimeout     time.Duration // Per-lookup timeout, 0 for none
	Clock            func() time.Time
}

// Aggregator computes PnL reports. It holds no per-run state and is safe for
// concurrent use.
type Aggregator struct {
	oracle       ports.PriceOracle
	logger       ports.Logger
	concurrency  int
	priceTimeout time.Duration
	clock        func() time.Time
}

// New creates an Aggregator.
func New(cfg Config) (*Aggregator, error) {
	if cfg.Oracle == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for PnL aggregator")
	}
	concurrency := cfg.PriceConcurrency
	if concurrency <= 0 {
		concurrency = defaultPriceConcurrency
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Aggregator{
		oracle:       cfg.Oracle,
		logger:       cfg.Logger,
		concurrency:  concurrency,
		priceTimeout: cfg.PriceTimeout,
		clock:        clock,
	}, nil
}

type groupKey struct {
	owner    string
	exchange string
	asset    string
}

type priceKey struct {
	asset string
	venue string
}

type priceResult struct {
	price float64
	err   error
}

type group struct {
	key  groupKey
	rows []classified
}

// Compute builds the report for txns. An unmapped transaction type or a
// malformed numeric field aborts the run; an unavailable price only degrades
// the affected leaves to a zero price.
func (a *Aggregator) Compute(ctx context.Context, txns []domain.Transaction) (*domain.Report, error) {
	groups, dropped, err := partition(txns)
	if err != nil {
		a.logger.Error(ctx, err, "PnL aggregation rejected ledger data")
		return nil, err
	}
	if dropped > 0 {
		a.logger.Debug(ctx, "Dropped rows without a base asset", map[string]interface{}{"count": dropped})
	}

	keys := make([]priceKey, 0, len(groups))
	seen := make(map[priceKey]bool, len(groups))
	for _, g := range groups {
		pk := priceKey{asset: g.key.asset, venue: g.key.exchange}
		if !seen[pk] {
			seen[pk] = true
			keys = append(keys, pk)
		}
	}
	prices := a.lookupPrices(ctx, keys)

	report := &domain.Report{
		GeneratedAt: a.clock().UTC(),
		Owners:      make(map[string]*domain.OwnerReport),
		DroppedRows: dropped,
	}
	for _, g := range groups {
		res := prices[priceKey{asset: g.key.asset, venue: g.key.exchange}]
		leaf := computeLeaf(g.rows, res.price)
		if res.err != nil {
			leaf.PriceError = res.err.Error()
		}
		if !leaf.Verification.Reconciled {
			a.logger.Warn(ctx, "PnL verification mismatch", map[string]interface{}{
				"owner": g.key.owner, "exchange": g.key.exchange, "asset": g.key.asset,
				"difference": leaf.Verification.Difference, "totalPnl": leaf.Verification.TotalPnL,
			})
		}
		if leaf.NegativeBalance {
			a.logger.Debug(ctx, "Outflows exceed recorded inflows", map[string]interface{}{
				"owner": g.key.owner, "exchange": g.key.exchange, "asset": g.key.asset,
				"balance": leaf.PnL.Unrealized.CurrentBalance,
			})
		}
		attach(report, g.key, leaf)
	}
	rollUp(report)

	a.logger.Info(ctx, "PnL report computed", map[string]interface{}{
		"transactions": len(txns), "groups": len(groups), "owners": len(report.Owners), "totalPnl": report.TotalPnL,
	})
	return report, nil
}

// partition validates, classifies and groups txns. Groups come back in
// (owner, exchange, asset) order; rows keep their input order.
func partition(txns []domain.Transaction) ([]*group, int, error) {
	byKey := make(map[groupKey]*group)
	dropped := 0
	for _, txn := range txns {
		asset := token.Base(txn.AssetSymbol)
		if asset == "" {
			dropped++
			continue
		}
		key := groupKey{owner: txn.Owner, exchange: txn.Exchange, asset: asset}
		row, err := classify(txn)
		if err != nil {
			return nil, 0, fmt.Errorf("owner=%s exchange=%s asset=%s transaction=%s: %w",
				key.owner, key.exchange, key.asset, txn.ID, err)
		}
		g, ok := byKey[key]
		if !ok {
			g = &group{key: key}
			byKey[key] = g
		}
		g.rows = append(g.rows, row)
	}

	groups := make([]*group, 0, len(byKey))
	for _, g := range byKey {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i].key, groups[j].key
		if a.owner != b.owner {
			return a.owner < b.owner
		}
		if a.exchange != b.exchange {
			return a.exchange < b.exchange
		}
		return a.asset < b.asset
	})
	return groups, dropped, nil
}

// lookupPrices resolves every (asset, venue) concurrently. Lookups never fail
// the errgroup, so one slow or failing venue cannot cancel the others.
func (a *Aggregator) lookupPrices(ctx context.Context, keys []priceKey) map[priceKey]priceResult {
	results := make(map[priceKey]priceResult, len(keys))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, k := range keys {
		g.Go(func() error {
			price, err := a.spotPrice(gctx, k)
			if err != nil {
				a.logger.Warn(gctx, "Spot price unavailable, valuing balance at 0", map[string]interface{}{
					"asset": k.asset, "venue": k.venue, "error": err.Error(),
				})
				price = 0
			}
			mu.Lock()
			results[k] = priceResult{price: price, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *Aggregator) spotPrice(ctx context.Context, k priceKey) (float64, error) {
	if a.priceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.priceTimeout)
		defer cancel()
	}
	price, err := a.oracle.SpotPrice(ctx, k.asset, k.venue)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return 0, fmt.Errorf("%w: oracle returned %v for %s on %s", ports.ErrPriceUnavailable, price, k.asset, k.venue)
	}
	return price, nil
}

// computeLeaf applies the average-cost method to one group's rows.
func computeLeaf(rows []classified, currentPrice float64) *domain.TokenReport {
	var amountBought, valueSpent, amountSold, valueSold float64
	txns := make([]domain.Transaction, 0, len(rows))
	for _, r := range rows {
		switch r.dir {
		case inflow:
			amountBought += r.txn.Quantity
			valueSpent += r.txn.USDValue
		case outflow:
			amountSold += r.txn.Quantity
			valueSold += r.txn.USDValue
		}
		txns = append(txns, r.txn)
	}
	sort.SliceStable(txns, func(i, j int) bool {
		if !txns[i].Date.Equal(txns[j].Date) {
			return txns[i].Date.Before(txns[j].Date)
		}
		return txns[i].ID < txns[j].ID
	})

	// No inflows means no cost basis: realized PnL is measured against zero.
	avgBuyPrice := 0.0
	if amountBought > 0 {
		avgBuyPrice = valueSpent / amountBought
	}

	currentBalance := amountBought - amountSold
	balanceUSD := unsignedZero(currentBalance * currentPrice)
	pnlRealized := unsignedZero(valueSold - (amountSold * avgBuyPrice))
	pnlUnrealized := unsignedZero((currentBalance * currentPrice) - (currentBalance * avgBuyPrice))
	totalPnL := unsignedZero(pnlRealized + pnlUnrealized)
	difference := unsignedZero((valueSold + balanceUSD) - valueSpent)

	return &domain.TokenReport{
		Transactions: txns,
		PnL: domain.PnLTable{
			Realized: domain.PnLRow{
				AvgBuyPrice: avgBuyPrice,
				SoldValue:   valueSold,
				SoldAmount:  amountSold,
				PnL:         pnlRealized,
			},
			Unrealized: domain.PnLRow{
				AvgBuyPrice:    avgBuyPrice,
				CurrentBalance: currentBalance,
				USDValue:       balanceUSD,
				PnL:            pnlUnrealized,
			},
		},
		Verification: domain.Verification{
			InAmount:   valueSpent,
			OutAmount:  valueSold,
			BalanceUSD: balanceUSD,
			Difference: difference,
			TotalPnL:   totalPnL,
			Reconciled: reconciles(difference, totalPnL, math.Abs(valueSpent)+math.Abs(valueSold)+math.Abs(balanceUSD)),
		},
		CurrentPrice:    currentPrice,
		NegativeBalance: currentBalance < 0,
	}
}

// reconciles compares the two totals relative to the magnitude of the flows.
func reconciles(difference, total, scale float64) bool {
	return math.Abs(difference-total) <= reconcileTolerance*math.Max(1, scale)
}

func attach(report *domain.Report, key groupKey, leaf *domain.TokenReport) {
	owner, ok := report.Owners[key.owner]
	if !ok {
		owner = &domain.OwnerReport{Exchanges: make(map[string]*domain.ExchangeReport)}
		report.Owners[key.owner] = owner
	}
	exchange, ok := owner.Exchanges[key.exchange]
	if !ok {
		exchange = &domain.ExchangeReport{Tokens: make(map[string]*domain.TokenReport)}
		owner.Exchanges[key.exchange] = exchange
	}
	exchange.Tokens[key.asset] = leaf
}

// rollUp sums leaf totals into exchanges, owners and the report, in key order
// so repeated runs produce bit-identical floats.
func rollUp(report *domain.Report) {
	report.TotalPnL = 0
	for _, ownerName := range sortedKeys(report.Owners) {
		owner := report.Owners[ownerName]
		owner.TotalPnL = 0
		for _, exchangeName := range sortedKeys(owner.Exchanges) {
			exchange := owner.Exchanges[exchangeName]
			exchange.TotalPnL = 0
			for _, asset := range sortedKeys(exchange.Tokens) {
				exchange.TotalPnL += exchange.Tokens[asset].Verification.TotalPnL
			}
			owner.TotalPnL += exchange.TotalPnL
		}
		report.TotalPnL += owner.TotalPnL
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// unsignedZero folds -0 into 0 so an unpriced short balance renders as 0.
func unsignedZero(x float64) float64 {
	if x == 0 {
		return 0
	}
	return x
}
