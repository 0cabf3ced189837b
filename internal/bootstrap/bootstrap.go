// Package bootstrap assembles the adapters and services shared by the API
// server and the operator CLI.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"cryptoLedger/config"
	"cryptoLedger/internal/adapters/binanceclient"
	"cryptoLedger/internal/adapters/bybitclient"
	"cryptoLedger/internal/adapters/logger"
	"cryptoLedger/internal/adapters/pricing"
	"cryptoLedger/internal/adapters/sqlite"
	"cryptoLedger/internal/adapters/statement"
	"cryptoLedger/internal/app"
	"cryptoLedger/internal/domain"
	"cryptoLedger/internal/identity"
	"cryptoLedger/internal/pnl"
	"cryptoLedger/internal/ports"
)

// Runtime owns every long-lived component. Close releases the ledger.
type Runtime struct {
	Config  *config.Config
	Logger  *logger.StdLogger
	Ledger  *sqlite.Repository
	Market  *binanceclient.Client // keyless client for prices and klines
	Bybit   *bybitclient.Client   // keyless Bybit market data client
	Oracle  *pricing.Oracle
	Ingest  *app.IngestService
	Reports *app.ReportService
}

// Build wires the components described by cfg.
func Build(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": appLogger.Level().String()})

	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing ledger: %w", err)
	}
	rt := &Runtime{Config: cfg, Logger: appLogger, Ledger: repo}

	if err := rt.wire(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) wire(ctx context.Context) error {
	cfg := rt.Config
	// All clients share one IP, so they share one weight budget.
	limiter := binanceclient.NewLimiter(cfg.WeightPerMinute)
	newClient := func(apiKey, secretKey string) (*binanceclient.Client, error) {
		return binanceclient.New(binanceclient.Config{
			APIKey:      apiKey,
			SecretKey:   secretKey,
			UseTestnet:   cfg.IsTestnet,
			BaseURL:      cfg.BinanceBaseURL,
			Logger:       rt.Logger,
			QuoteAssets:  cfg.QuoteAssets,
			Symbols:      cfg.Symbols,
			Limiter:      limiter,
			RetryDelay:   cfg.RetryDelay,
			MaxRetries:   cfg.MaxRetries,
			PriceRetries: cfg.PriceRetries,
		})
	}
	bybitLimiter := bybitclient.NewLimiter(cfg.BybitRequestsPerSecond)
	newBybitClient := func(apiKey, secretKey string) (*bybitclient.Client, error) {
		return bybitclient.New(bybitclient.Config{
			APIKey:       apiKey,
			SecretKey:    secretKey,
			UseTestnet:   cfg.IsTestnet,
			BaseURL:      cfg.BybitBaseURL,
			Logger:       rt.Logger,
			Limiter:      bybitLimiter,
			RetryDelay:   cfg.RetryDelay,
			MaxRetries:   cfg.MaxRetries,
			PriceRetries: cfg.PriceRetries,
		})
	}

	market, err := newClient("", "")
	if err != nil {
		return fmt.Errorf("initializing Binance market client: %w", err)
	}
	rt.Market = market
	rt.Bybit, err = newBybitClient("", "")
	if err != nil {
		return fmt.Errorf("initializing Bybit market client: %w", err)
	}

	rt.Oracle, err = pricing.New(pricing.Config{
		Feeds: map[string]ports.PriceFeed{
			domain.ExchangeBinance: market,
			domain.ExchangeBybit:   rt.Bybit,
		},
		Logger: rt.Logger,
		TTL:    cfg.PriceCacheTTL,
	})
	if err != nil {
		return fmt.Errorf("initializing price oracle: %w", err)
	}

	accounts := make([]app.Account, 0, len(cfg.Accounts))
	for _, creds := range cfg.Accounts {
		client, err := newClient(creds.APIKey, creds.SecretKey)
		if err != nil {
			return fmt.Errorf("initializing Binance client for %s: %w", creds.Owner, err)
		}
		accounts = append(accounts, app.Account{Owner: creds.Owner, Source: client})
	}
	for _, creds := range cfg.BybitAccounts {
		client, err := newBybitClient(creds.APIKey, creds.SecretKey)
		if err != nil {
			return fmt.Errorf("initializing Bybit client for %s: %w", creds.Owner, err)
		}
		accounts = append(accounts, app.Account{Owner: creds.Owner, Source: client})
	}

	rt.Ingest, err = app.NewIngestService(app.IngestConfig{
		Ledger:   rt.Ledger,
		Deriver:  identity.New(identity.Options{ForceUnique: cfg.ForceUniqueIDs}),
		Logger:   rt.Logger,
		Accounts: accounts,
	})
	if err != nil {
		return fmt.Errorf("initializing ingest service: %w", err)
	}

	aggregator, err := pnl.New(pnl.Config{
		Oracle:           rt.Oracle,
		Logger:           rt.Logger,
		PriceConcurrency: cfg.PriceConcurrency,
		PriceTimeout:     cfg.PriceTimeout,
	})
	if err != nil {
		return fmt.Errorf("initializing PnL aggregator: %w", err)
	}
	rt.Reports, err = app.NewReportService(rt.Ledger, aggregator, rt.Logger)
	if err != nil {
		return fmt.Errorf("initializing report service: %w", err)
	}

	rt.Logger.Info(ctx, "Runtime initialized", map[string]interface{}{
		"accounts": len(accounts),
		"bybit":    len(cfg.BybitAccounts),
		"testnet":  cfg.IsTestnet,
		"db":       cfg.DBPath,
	})
	return nil
}

// HasAccounts reports whether any exchange account can be refreshed.
func (rt *Runtime) HasAccounts() bool {
	return len(rt.Config.Accounts)+len(rt.Config.BybitAccounts) > 0
}

// StatementImporter builds an importer for exchange statements. A non-empty
// owner overrides the configured User_ID mapping.
func (rt *Runtime) StatementImporter(exchange, owner string) (*statement.Importer, error) {
	var pricer ports.HistoricalPricer
	switch strings.ToLower(strings.TrimSpace(exchange)) {
	case domain.ExchangeBinance:
		pricer = rt.Market
	case domain.ExchangeBybit:
		pricer = rt.Bybit
	}
	return statement.New(statement.Config{
		Exchange: exchange,
		Owners:   rt.Config.StatementOwners,
		Owner:    owner,
		Pricer:   pricer,
		Logger:   rt.Logger,
	})
}

// Close releases the ledger.
func (rt *Runtime) Close() error {
	if rt.Ledger == nil {
		return nil
	}
	if err := rt.Ledger.Close(); err != nil {
		rt.Logger.Error(context.Background(), err, "Error closing ledger")
		return err
	}
	return nil
}
