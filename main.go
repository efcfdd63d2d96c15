package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/insightdelivered/statement-ledger/internal/api"
	"github.com/insightdelivered/statement-ledger/internal/config"
	"github.com/insightdelivered/statement-ledger/internal/extractor"
	"github.com/insightdelivered/statement-ledger/internal/fingerprint"
	"github.com/insightdelivered/statement-ledger/internal/ledger"
	"github.com/insightdelivered/statement-ledger/internal/logger"
	"github.com/insightdelivered/statement-ledger/internal/matcher"
	"github.com/insightdelivered/statement-ledger/internal/parser"
	"github.com/insightdelivered/statement-ledger/internal/pipeline"
	"github.com/insightdelivered/statement-ledger/internal/store"
	"github.com/insightdelivered/statement-ledger/internal/validation"
	"github.com/insightdelivered/statement-ledger/internal/writer"
)

const version = api.Version

func main() {
	// CLI flags
	bankFlag := flag.String("bank", "", "Parser code, e.g. td-chequing, rbc-visa, csv (auto-detected if omitted)")
	accountFlag := flag.String("account", "", "Source ledger account code (defaults to 1000 for bank, 2102 for cards)")
	outputFlag := flag.String("output", "", "Output CSV file path (single input only; defaults to input filename with .csv extension)")
	headerFlag := flag.Bool("header", true, "Include account metadata header rows in CSV")
	journalFlag := flag.Bool("journal", false, "Also write the double-entry journal as <input>.journal.csv")
	ocrFlag := flag.Bool("ocr", false, "Fall back to OCR for scanned PDFs (needs pdftoppm and tesseract)")
	serveFlag := flag.Bool("serve", false, "Run the HTTP API instead of converting files")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	helpFlag := flag.Bool("help", false, "Show usage help")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Statement Ledger
by Insight Delivered

Converts bank and card statements (PDF, text or CSV) into categorized
transactions and a balanced double-entry journal.

Usage:
  statement-ledger [flags] <statement.pdf> [statement2.csv ...]
  statement-ledger --serve

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Auto-detect institution and convert
  statement-ledger statement.pdf

  # Force a parser and write the journal too
  statement-ledger --bank=td-visa --journal visa-march.pdf

  # Convert a batch; failures are reported and skipped
  statement-ledger jan.pdf feb.pdf export.csv

Parsers:
  %s
`, strings.Join(parser.Codes(), ", "))
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("statement-ledger v%s\n", version)
		os.Exit(0)
	}

	if *helpFlag || (flag.NArg() == 0 && !*serveFlag) {
		flag.Usage()
		os.Exit(0)
	}

	bank := strings.ToLower(strings.TrimSpace(*bankFlag))
	if bank != "" && !slices.Contains(parser.Codes(), bank) {
		fatalf("Unknown parser %q. Supported: %s\n", *bankFlag, strings.Join(parser.Codes(), ", "))
	}
	if *outputFlag != "" && flag.NArg() > 1 {
		fatalf("--output needs exactly one input file, got %d\n", flag.NArg())
	}

	cfg := config.Load(logger.New())
	log := logger.NewWithLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	app, err := newApp(ctx, cfg, log)
	if err != nil {
		fatalf("Startup failed: %v\n", err)
	}
	defer app.close()

	if *serveFlag {
		if err := app.serve(ctx, cfg, *ocrFlag || cfg.EnableOCR); err != nil {
			log.Error().Err(err).Msg("server stopped")
			app.close()
			os.Exit(1)
		}
		return
	}

	opts := runOptions{
		bank:          bank,
		account:       *accountFlag,
		output:        *outputFlag,
		includeHeader: *headerFlag,
		journal:       *journalFlag,
		ocr:           *ocrFlag || cfg.EnableOCR,
	}
	if failed := app.convert(ctx, flag.Args(), opts); failed > 0 {
		app.close()
		os.Exit(1)
	}
}

type runOptions struct {
	bank          string
	account       string
	output        string
	includeHeader bool
	journal       bool
	ocr           bool
}

// application owns the long-lived components shared by the CLI and the
// HTTP server.
type application struct {
	db       *store.DB
	matcher  *matcher.Engine
	pipeline *pipeline.Pipeline
	log      zerolog.Logger
	closed   bool
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*application, error) {
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	chart := ledger.DefaultChart()
	if cfg.ChartFile != "" {
		if chart, err = loadFile(cfg.ChartFile, ledger.LoadChart); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := db.SeedAccounts(ctx, chart); err != nil {
		db.Close()
		return nil, err
	}
	if chart, err = ledger.ChartFromStore(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	var rules *matcher.RuleSet
	if cfg.RulesFile != "" {
		if rules, err = loadFile(cfg.RulesFile, matcher.LoadRules); err != nil {
			db.Close()
			return nil, err
		}
	}

	m, err := matcher.New(ctx, db, rules, cfg.Matcher(), matcher.WithLogger(log))
	if err != nil {
		db.Close()
		return nil, err
	}
	reg, err := fingerprint.NewRegistry(ctx, db, cfg.FingerprintThreshold)
	if err != nil {
		m.Close()
		db.Close()
		return nil, err
	}

	p := pipeline.New(m, reg, chart)
	p.Validator = validation.New(cfg.Validation())
	p.Log = log

	log.Info().
		Str("db", cfg.DatabasePath).
		Int("accounts", len(chart.Accounts())).
		Int("vendors", len(m.History())).
		Int("fingerprints", reg.Stats().TotalLearned).
		Msg("engine ready")
	return &application{db: db, matcher: m, pipeline: p, log: log}, nil
}

func loadFile[T any](path string, load func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()
	v, err := load(f)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// close flushes pending vendor history before the database goes away.
func (a *application) close() {
	if a.closed {
		return
	}
	a.closed = true
	if err := a.matcher.Close(); err != nil {
		a.log.Error().Err(err).Msg("flushing vendor history")
	}
	if err := a.db.Close(); err != nil {
		a.log.Error().Err(err).Msg("closing database")
	}
}

func (a *application) serve(ctx context.Context, cfg *config.Config, ocr bool) error {
	h := api.NewHandler(a.pipeline, a.matcher, cfg.ResultCacheTTL, a.log)
	h.OCR = ocr
	srv := api.NewApp(h, cfg.MaxUploadBytes)

	errc := make(chan error, 1)
	go func() {
		a.log.Info().Str("port", cfg.Port).Msg("listening")
		errc <- srv.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	a.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.ShutdownWithContext(shutdownCtx)
}

// convert runs the batch and writes one CSV per converted file. It
// returns the number of files that failed.
func (a *application) convert(ctx context.Context, paths []string, opts runOptions) int {
	inputs := make([]pipeline.Input, 0, len(paths))
	failed := 0
	for _, path := range paths {
		in, err := readInput(ctx, path, opts.ocr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error processing %s: %v\n", path, err)
			failed++
			continue
		}
		in.Parser, in.Account = opts.bank, opts.account
		inputs = append(inputs, in)
	}

	sum, err := a.pipeline.Run(ctx, inputs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Batch interrupted: %v\n", err)
	}
	for _, fe := range sum.Errors {
		fmt.Fprintf(os.Stderr, "Error processing %s: %s\n", fe.Name, fe.Error)
	}
	failed += len(sum.Errors)

	w := &writer.CSVWriter{IncludeHeader: opts.includeHeader}
	for _, r := range sum.Results {
		if err := report(w, r, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error processing %s: %v\n", r.Name, err)
			failed++
		}
	}

	if len(sum.Clusters) > 0 {
		fmt.Printf("\n%d group(s) of similar uncategorized transactions:\n", len(sum.Clusters))
		for _, c := range sum.Clusters {
			fmt.Printf("  %-30s %3d transaction(s)\n", c.Leader, c.Count)
		}
	}
	fmt.Printf("\nBatch %s: %d file(s), %d transaction(s), %d error(s)\n",
		sum.ID, sum.FilesProcessed, sum.TransactionsExtracted, failed)
	return failed
}

func readInput(ctx context.Context, path string, ocr bool) (pipeline.Input, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return pipeline.Input{}, fmt.Errorf("input file not found: %s", path)
	}
	in := pipeline.Input{Name: path}

	fmt.Printf("Processing: %s\n", path)
	if strings.ToLower(filepath.Ext(path)) != ".pdf" {
		data, err := os.ReadFile(path)
		if err != nil {
			return in, err
		}
		in.Text = string(data)
		return in, nil
	}

	doc, err := extractor.ExtractFile(ctx, path, extractor.Options{OCR: ocr})
	if err != nil {
		return in, fmt.Errorf("PDF extraction failed: %w", err)
	}
	fmt.Printf("  Extracted text from %d page(s) via %s\n", doc.Pages, doc.Method)
	in.Text, in.LineMeta = doc.Text, doc.Lines
	return in, nil
}

func report(w *writer.CSVWriter, r pipeline.FileResult, opts runOptions) error {
	fmt.Printf("%s\n", r.Name)
	fmt.Printf("  Using %s parser (%s)\n", r.Parser, r.Selection)
	if r.Recall != nil {
		fmt.Printf("  Recognized layout (similarity %d%%)\n", r.Recall.Similarity)
	}

	res := r.Result
	fmt.Printf("  Found %d transaction(s)\n", len(res.Transactions))
	if st := res.Stats; st.DatesFixed+st.AmountsFixed+st.DescriptionsFixed+st.DuplicatesRemoved > 0 {
		fmt.Printf("  Repaired: %d date(s), %d amount(s), %d description(s); %d duplicate(s) removed\n",
			st.DatesFixed, st.AmountsFixed, st.DescriptionsFixed, st.DuplicatesRemoved)
	}
	for _, warn := range res.Warnings {
		fmt.Printf("  Warning [%s]: %s\n", warn.Stage, warn.Message)
	}

	outPath := opts.output
	if outPath == "" {
		outPath = strings.TrimSuffix(r.Name, filepath.Ext(r.Name)) + ".csv"
		if outPath == r.Name {
			outPath = strings.TrimSuffix(r.Name, filepath.Ext(r.Name)) + ".converted.csv"
		}
	}
	if err := w.WriteToFile(outPath, res); err != nil {
		return fmt.Errorf("CSV write failed: %w", err)
	}
	fmt.Printf("  Output: %s\n", outPath)

	if p := r.Posting; p != nil {
		fmt.Printf("  Posted to %s: %d entries, balanced=%t\n", p.Source, len(p.Entries), p.TrialBalance.Balanced)
		if rec := p.Reconciliation; rec != nil {
			fmt.Printf("  Reconciled %d balance(s), %d mismatch(es)\n", rec.Checked, len(rec.Mismatches))
		}
		if opts.journal {
			jPath := strings.TrimSuffix(outPath, ".csv") + ".journal.csv"
			if err := writeJournal(jPath, p.Entries); err != nil {
				return err
			}
			fmt.Printf("  Journal: %s\n", jPath)
		}
	}

	// Print summary
	md := res.Metadata
	if md.AccountHolder != "" {
		fmt.Printf("  Account holder: %s\n", md.AccountHolder)
	}
	if md.AccountNumber != "" {
		fmt.Printf("  Account number: %s\n", md.AccountNumber)
	}
	if md.SortCode != "" {
		fmt.Printf("  Sort code: %s\n", md.SortCode)
	}
	if md.StatementPeriod != "" {
		fmt.Printf("  Period: %s\n", md.StatementPeriod)
	}

	fmt.Println("  Done.")
	return nil
}

func writeJournal(path string, entries []ledger.Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating journal: %w", err)
	}
	if err := writer.WriteEntries(f, entries); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}
