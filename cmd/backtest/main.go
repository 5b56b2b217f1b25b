// Package main is a command-line backtest runner. It imports daily bars from
// CSV files into a scratch history database, runs one single-instrument or
// portfolio backtest described by a JSON request, and prints the result.
//
// Usage:
//
//	backtest -csv AAPL=aapl.csv -csv MSFT=msft.csv -mode portfolio -request portfolio.json
//	backtest -csv AAPL=aapl.csv -request single.json -export transactions
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/aristath/dcabacktest/internal/database"
	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/aristath/dcabacktest/internal/modules/backtest"
	"github.com/aristath/dcabacktest/internal/modules/beta"
	"github.com/aristath/dcabacktest/internal/modules/history"
	"github.com/aristath/dcabacktest/internal/modules/optimization"
	"github.com/aristath/dcabacktest/internal/modules/parameters"
	"github.com/aristath/dcabacktest/internal/modules/portfolio"
	"github.com/aristath/dcabacktest/internal/modules/reporting"
	"github.com/aristath/dcabacktest/internal/services"
	"github.com/aristath/dcabacktest/pkg/logger"
)

// Run modes
const (
	modeSingle    = "single"
	modePortfolio = "portfolio"
)

// csvFiles collects repeated -csv SYMBOL=path flags
type csvFiles map[string]string

func (c csvFiles) String() string {
	pairs := make([]string, 0, len(c))
	for symbol, path := range c {
		pairs = append(pairs, symbol+"="+path)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (c csvFiles) Set(v string) error {
	symbol, path, ok := strings.Cut(v, "=")
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !ok || symbol == "" || path == "" {
		return fmt.Errorf("expected SYMBOL=path, got %q", v)
	}
	c[symbol] = path
	return nil
}

// output is the subset of a run result the exports need
type output struct {
	result       interface{}
	transactions []domain.Transaction
	snapshots    []domain.DailySnapshot
	rejected     []domain.RejectedOrder
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	files := csvFiles{}
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Var(files, "csv", "SYMBOL=path of a date,open,high,low,close,volume CSV (repeatable)")
	requestPath := fs.String("request", "", "JSON request file, - for stdin (required)")
	mode := fs.String("mode", modeSingle, "Run mode: single or portfolio")
	configDir := fs.String("config", envOr("CONFIG_DIR", "./configs"), "Directory with defaults.json and portfolios/")
	betaIndex := fs.String("beta-index", envOr("BETA_INDEX_SYMBOL", "SPY"), "Index symbol for beta scaling")
	riskFreeRate := fs.Float64("risk-free-rate", 0, "Annual risk-free rate as a fraction")
	export := fs.String("export", "", "Print a CSV instead of JSON: transactions, equity or rejected")
	logLevel := fs.String("log-level", "warn", "Log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *requestPath == "" {
		return errors.New("-request is required")
	}
	if *mode != modeSingle && *mode != modePortfolio {
		return fmt.Errorf("unknown mode %q, expected %s or %s", *mode, modeSingle, modePortfolio)
	}
	if len(files) == 0 {
		return errors.New("at least one -csv file is required")
	}

	log := logger.New(logger.Config{Level: *logLevel, Pretty: true, Output: stderr})

	body, err := readRequest(*requestPath, stdin)
	if err != nil {
		return err
	}

	scratch, err := os.MkdirTemp("", "dcabacktest-*")
	if err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	db, err := database.New(database.Config{
		Path:    filepath.Join(scratch, "history.db"),
		Driver:  database.DriverModernc,
		Profile: database.ProfileStandard,
		Name:    "history",
	})
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	repo := history.NewRepository(db.Conn(), log)
	if err := importFiles(ctx, repo, files, log); err != nil {
		return err
	}

	sim := backtest.NewSimulator(log, backtest.WithRiskFreeRate(*riskFreeRate))
	betas := beta.NewCached(beta.NewCalculator(repo, strings.ToUpper(*betaIndex), beta.DefaultPeriod, log))
	svc := services.NewBacktestService(
		repo,
		parameters.NewResolver(*configDir, log),
		sim,
		portfolio.NewAllocator(betas, log, portfolio.WithRiskFreeRate(*riskFreeRate)),
		optimization.NewOptimizer(optimization.NewWorkerPool(1), sim, log),
		nil,
		log,
	)

	var out output
	switch *mode {
	case modeSingle:
		out, err = runSingle(ctx, svc, body)
	case modePortfolio:
		out, err = runPortfolio(ctx, svc, body)
	}
	if err != nil {
		return err
	}

	switch *export {
	case "":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out.result)
	case services.ExportTransactions:
		return reporting.WriteTransactions(stdout, out.transactions)
	case services.ExportEquity:
		return reporting.WriteEquity(stdout, out.snapshots)
	case services.ExportRejected:
		return reporting.WriteRejected(stdout, out.rejected)
	default:
		return fmt.Errorf("unknown export %q", *export)
	}
}

func runSingle(ctx context.Context, svc *services.BacktestService, body []byte) (output, error) {
	var req services.SingleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return output{}, fmt.Errorf("invalid single request: %w", err)
	}
	req.Save = false

	resp, err := svc.RunSingle(ctx, req)
	if err != nil {
		return output{}, err
	}
	return output{
		result:       resp.Result,
		transactions: resp.Result.Transactions,
		snapshots:    resp.Result.Snapshots,
	}, nil
}

func runPortfolio(ctx context.Context, svc *services.BacktestService, body []byte) (output, error) {
	var req services.PortfolioRunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return output{}, fmt.Errorf("invalid portfolio request: %w", err)
	}
	req.Save = false

	resp, err := svc.RunPortfolio(ctx, req)
	if err != nil {
		return output{}, err
	}
	return output{
		result:       resp.Result,
		transactions: resp.Result.Transactions,
		snapshots:    resp.Result.Snapshots,
		rejected:     resp.Result.RejectedOrders,
	}, nil
}

func importFiles(ctx context.Context, repo *history.Repository, files csvFiles, log zerolog.Logger) error {
	symbols := make([]string, 0, len(files))
	for symbol := range files {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		f, err := os.Open(files[symbol])
		if err != nil {
			return fmt.Errorf("failed to open CSV for %s: %w", symbol, err)
		}
		report, err := repo.ImportCSV(ctx, symbol, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", symbol, err)
		}
		log.Info().
			Str("symbol", symbol).
			Int("bars", report.Bars).
			Int("skipped", report.Skipped).
			Msg("Imported price history")
	}
	return nil
}

func readRequest(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request: %w", err)
	}
	return body, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
