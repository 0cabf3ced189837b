package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"

	"cryptoLedger/config"
	"cryptoLedger/internal/app"
	"cryptoLedger/internal/bootstrap"
	"cryptoLedger/internal/domain"
	"cryptoLedger/internal/ports"
	"cryptoLedger/internal/utils"
)

// Commands lists every ledgerctl subcommand.
var Commands = []subcommands.Command{
	&ingestCmd{},
	&importCmd{},
	&reportCmd{},
	&transactionsCmd{},
	&exportCmd{},
}

// withRuntime loads configuration, builds the runtime and runs fn with it.
func withRuntime(ctx context.Context, fn func(rt *bootstrap.Runtime) error) subcommands.ExitStatus {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	rt, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer rt.Close()

	if err := fn(rt); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printResult(w io.Writer, res app.IngestResult) {
	fmt.Fprintf(w, "fetched=%d inserted=%d duplicates=%d skipped=%d\n", res.Fetched, res.Inserted, res.Duplicates, res.Skipped)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ingest

type ingestCmd struct {
	mode string
}

func (*ingestCmd) Name() string     { return "ingest" }
func (*ingestCmd) Synopsis() string { return "pull exchange history for every configured owner" }
func (*ingestCmd) Usage() string {
	return `ledgerctl ingest [-mode <mode>]

  Fetches trades, deposits and withdrawals for the window selected by mode
  (Full, Weekly, Monthly, "2 Months", Since2023) and appends new rows.
`
}

func (c *ingestCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.mode, "mode", "", "Ingestion window; defaults to INGEST_MODE")
}

func (c *ingestCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return withRuntime(ctx, func(rt *bootstrap.Runtime) error {
		mode := rt.Config.IngestMode
		if c.mode != "" {
			parsed, err := app.ParseWindowMode(c.mode)
			if err != nil {
				return err
			}
			mode = parsed
		}
		if !rt.HasAccounts() {
			return fmt.Errorf("%w: no owners configured, set OWNERS", ports.ErrConfigurationError)
		}
		res, err := rt.Ingest.Refresh(ctx, mode)
		printResult(os.Stdout, res)
		return err
	})
}

// import

type importCmd struct {
	file     string
	exchange string
	owner    string
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "import an exchange statement CSV" }
func (*importCmd) Usage() string {
	return `ledgerctl import -file <statement.csv> [-exchange <exchange>] [-owner <owner>]

  Imports a statement export. Rows already in the ledger are skipped.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "file", "", "Statement CSV to import")
	f.StringVar(&c.exchange, "exchange", domain.ExchangeBinance, "Exchange the statement comes from")
	f.StringVar(&c.owner, "owner", "", "Owner for every row, overriding STATEMENT_USER_OWNERS")
}

func (c *importCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if c.file == "" {
		fmt.Fprintln(os.Stderr, "Error: -file is required")
		return subcommands.ExitUsageError
	}
	return withRuntime(ctx, func(rt *bootstrap.Runtime) error {
		importer, err := rt.StatementImporter(c.exchange, c.owner)
		if err != nil {
			return err
		}
		file, err := os.Open(c.file)
		if err != nil {
			return fmt.Errorf("opening statement: %w", err)
		}
		defer file.Close()

		records, summary, err := importer.Read(ctx, file)
		if err != nil {
			return err
		}
		fmt.Printf("rows=%d mapped=%d unmapped=%d\n", summary.Rows, summary.Imported, summary.Skipped)

		res, err := rt.Ingest.ImportRecords(ctx, records)
		printResult(os.Stdout, res)
		return err
	})
}

// report

type reportCmd struct {
	owner    string
	exchange string
	asJSON   bool
}

func (*reportCmd) Name() string     { return "report" }
func (*reportCmd) Synopsis() string { return "compute the PnL report from the ledger" }
func (*reportCmd) Usage() string {
	return `ledgerctl report [-owner <owner>] [-exchange <exchange>] [-json]

  Computes average-cost PnL per owner, exchange and token.
`
}

func (c *reportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.owner, "owner", "", "Restrict to one owner")
	f.StringVar(&c.exchange, "exchange", "", "Restrict to one exchange")
	f.BoolVar(&c.asJSON, "json", false, "Print the full report as JSON")
}

func (c *reportCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return withRuntime(ctx, func(rt *bootstrap.Runtime) error {
		report, err := rt.Reports.Compute(ctx, ports.LedgerFilter{Owner: c.owner, Exchange: strings.ToLower(c.exchange)})
		if err != nil {
			return err
		}
		if c.asJSON {
			return printJSON(os.Stdout, report)
		}
		return renderReport(os.Stdout, report)
	})
}

func renderReport(w io.Writer, report *domain.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "OWNER\tEXCHANGE\tTOKEN\tBALANCE\tAVG BUY\tPRICE\tREALIZED\tUNREALIZED\tTOTAL\t")
	for _, owner := range sortedKeys(report.Owners) {
		o := report.Owners[owner]
		for _, exchange := range sortedKeys(o.Exchanges) {
			e := o.Exchanges[exchange]
			for _, token := range sortedKeys(e.Tokens) {
				t := e.Tokens[token]
				price := fmt.Sprintf("%.4f", t.CurrentPrice)
				if t.PriceError != "" {
					price = "n/a"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.6f\t%.4f\t%s\t%.2f\t%.2f\t%.2f\t\n",
					owner, exchange, token,
					t.PnL.Unrealized.CurrentBalance, t.PnL.Realized.AvgBuyPrice, price,
					t.PnL.Realized.PnL, t.PnL.Unrealized.PnL, t.Verification.TotalPnL)
			}
			fmt.Fprintf(tw, "%s\t%s\t\t\t\t\t\t\t%.2f\t\n", owner, exchange, e.TotalPnL)
		}
		fmt.Fprintf(tw, "%s\t\t\t\t\t\t\t\t%.2f\t\n", owner, o.TotalPnL)
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t\t\t\t\t\t%.2f\t\n", report.TotalPnL)
	if err := tw.Flush(); err != nil {
		return err
	}
	if report.DroppedRows > 0 {
		fmt.Fprintf(w, "%d rows without a base asset were left out\n", report.DroppedRows)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// transactions

type transactionsCmd struct {
	owner    string
	exchange string
	asset    string
}

func (*transactionsCmd) Name() string     { return "transactions" }
func (*transactionsCmd) Synopsis() string { return "list ledger rows as JSON" }
func (*transactionsCmd) Usage() string {
	return `ledgerctl transactions [-owner <owner>] [-exchange <exchange>] [-asset <symbol>]
`
}

func (c *transactionsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.owner, "owner", "", "Restrict to one owner")
	f.StringVar(&c.exchange, "exchange", "", "Restrict to one exchange")
	f.StringVar(&c.asset, "asset", "", "Restrict to one stored asset symbol")
}

func (c *transactionsCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return withRuntime(ctx, func(rt *bootstrap.Runtime) error {
		txns, err := rt.Reports.Transactions(ctx, ports.LedgerFilter{Owner: c.owner, Exchange: strings.ToLower(c.exchange), AssetSymbol: c.asset})
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, txns)
	})
}

// export

type exportCmd struct {
	out string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "write the whole ledger to a CSV file" }
func (*exportCmd) Usage() string {
	return `ledgerctl export -o <file.csv>
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.out, "o", "ledger.csv", "Output CSV file")
}

func (c *exportCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return withRuntime(ctx, func(rt *bootstrap.Runtime) error {
		txns, err := rt.Reports.Transactions(ctx, ports.LedgerFilter{})
		if err != nil {
			return err
		}
		if err := utils.WriteTransactionsCSV(txns, c.out); err != nil {
			return err
		}
		fmt.Printf("wrote %d rows to %s\n", len(txns), c.out)
		return nil
	})
}
