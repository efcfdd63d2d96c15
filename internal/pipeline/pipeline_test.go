package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/insightdelivered/statement-ledger/internal/fingerprint"
	"github.com/insightdelivered/statement-ledger/internal/ledger"
	"github.com/insightdelivered/statement-ledger/internal/matcher"
	"github.com/insightdelivered/statement-ledger/internal/parser"
	"github.com/insightdelivered/statement-ledger/internal/store"
	"github.com/insightdelivered/statement-ledger/internal/validation"
)

func fixedNow() time.Time { return time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC) }

const rbcStatement = `Royal Bank of Canada
Your account statement From March 1, 2024 to March 31, 2024
Opening balance 1,000.00
02 Mar e-Transfer sent JOHN 50.00 950.00
Online Banking payment
HYDRO ONE 80.00 870.00
04 Mar Payroll Deposit ACME 1,200.00 2,070.00
Closing balance 2,070.00`

const csvStatement = `Transaction Date,Details,Debit,Credit
2024-01-05,COFFEE SHOP,4.50,
2024-01-06,PAYROLL DEPOSIT,,1500.00
2024-01-07,HYDRO ONE,82.10,`

func newPipeline(t *testing.T) (*Pipeline, *store.Memory) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	m, err := matcher.New(ctx, mem, nil, matcher.Config{})
	if err != nil {
		t.Fatalf("matcher.New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	reg, err := fingerprint.NewRegistry(ctx, mem, 0)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	p := New(m, reg, ledger.DefaultChart())
	p.Now = fixedNow
	p.Validator.Now = fixedNow
	return p, mem
}

func TestRun_BatchContinuesPastBadFiles(t *testing.T) {
	p, _ := newPipeline(t)
	inputs := []Input{
		{Name: "starbucks.txt", Text: "Apr 01 STARBUCKS #123 4.75"},
		{Name: "empty.txt", Text: "   "},
		{Name: "nothing.txt", Text: "Some Credit Union\nThank you for banking with us"},
		{Name: "rbc.pdf", Text: rbcStatement},
	}

	sum, err := p.Run(context.Background(), inputs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.ID == "" {
		t.Errorf("batch has no id")
	}
	if sum.FilesProcessed != 4 || len(sum.Results) != 2 || len(sum.Errors) != 2 {
		t.Fatalf("summary: processed=%d results=%d errors=%+v", sum.FilesProcessed, len(sum.Results), sum.Errors)
	}
	if sum.TransactionsExtracted != 4 {
		t.Errorf("transactions = %d, want 4", sum.TransactionsExtracted)
	}
	if sum.Errors[0].Name != "empty.txt" || sum.Errors[1].Name != "nothing.txt" {
		t.Errorf("errors: %+v", sum.Errors)
	}

	first := sum.Results[0]
	if first.Selection != SelectFallback || first.Parser != "generic" {
		t.Errorf("starbucks selection = %s/%s", first.Selection, first.Parser)
	}
	tx := first.Result.Transactions[0]
	if tx.Date != "2024-04-01" || tx.Debit != 4.75 || tx.CategoryName() != "Meals & Entertainment" {
		t.Errorf("starbucks: %+v", tx)
	}
}

func TestProcessOne_NoTransactionsIsStructural(t *testing.T) {
	p, _ := newPipeline(t)
	_, err := p.ProcessOne(context.Background(), Input{Name: "x.txt", Text: "Some Credit Union\nNothing here"})
	if !errors.Is(err, parser.ErrNoTransactions) {
		t.Errorf("got %v, want ErrNoTransactions", err)
	}
}

func TestProcessOne_CSV(t *testing.T) {
	p, _ := newPipeline(t)
	for _, name := range []string{"export.csv", "export.txt"} {
		t.Run(name, func(t *testing.T) {
			res, err := p.ProcessOne(context.Background(), Input{Name: name, Text: csvStatement})
			if err != nil {
				t.Fatalf("ProcessOne: %v", err)
			}
			if res.Parser != parser.CSVCode || res.Selection != SelectCSV {
				t.Errorf("parser = %s/%s", res.Parser, res.Selection)
			}
			if len(res.Result.Transactions) != 3 {
				t.Errorf("transactions = %d", len(res.Result.Transactions))
			}
		})
	}
}

func TestProcessOne_LayoutFallsBackToCSV(t *testing.T) {
	p, _ := newPipeline(t)
	// Comma-packed amounts are invisible to the line layouts.
	res, err := p.ProcessOne(context.Background(), Input{Name: "export.txt", Text: csvStatement, Parser: "generic"})
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if res.Parser != parser.CSVCode {
		t.Errorf("parser = %s, want csv", res.Parser)
	}
}

func TestProcessOne_FingerprintRecall(t *testing.T) {
	p, mem := newPipeline(t)
	ctx := context.Background()

	first, err := p.ProcessOne(ctx, Input{Name: "march.pdf", Text: rbcStatement})
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if first.Selection != SelectDetected || first.Parser != "rbc-chequing" {
		t.Fatalf("first selection = %s/%s", first.Selection, first.Parser)
	}

	stored, _ := mem.LoadFingerprints(ctx)
	if len(stored) != 1 || stored[0].Choice.Account != DefaultBankAccount {
		t.Fatalf("stored fingerprints: %+v", stored)
	}

	second, err := p.ProcessOne(ctx, Input{Name: "march-again.pdf", Text: rbcStatement})
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if second.Selection != SelectFingerprint || second.Recall == nil {
		t.Fatalf("second selection = %s", second.Selection)
	}
	t.Logf("recall %+v", *second.Recall)
}

func TestProcessOne_Posting(t *testing.T) {
	p, _ := newPipeline(t)
	res, err := p.ProcessOne(context.Background(), Input{Name: "rbc.pdf", Text: rbcStatement})
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if res.Posting == nil {
		t.Fatalf("no posting")
	}
	if !res.Posting.TrialBalance.Balanced {
		t.Errorf("trial balance not balanced")
	}
	rec := res.Posting.Reconciliation
	if rec == nil || rec.Checked != 3 || len(rec.Mismatches) != 0 {
		t.Errorf("reconciliation: %+v", rec)
	}
	for _, e := range res.Posting.Entries {
		t.Logf("%s %-40s %s dr %s cr %s", e.Date, e.Description, e.Account, e.Debit, e.Credit)
	}
}

func TestRun_Cancelled(t *testing.T) {
	p, _ := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := p.Run(ctx, []Input{{Name: "a.txt", Text: "Apr 01 STARBUCKS #123 4.75"}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if sum.FilesProcessed != 0 {
		t.Errorf("processed = %d", sum.FilesProcessed)
	}
}

func TestRun_WithoutOptionalStages(t *testing.T) {
	p := &Pipeline{Validator: validation.New(validation.DefaultConfig()), Now: fixedNow}
	p.Validator.Now = fixedNow
	sum, err := p.Run(context.Background(), []Input{{Name: "a.txt", Text: "Apr 01 STARBUCKS #123 4.75"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	tx := sum.Results[0].Result.Transactions[0]
	if tx.Category != nil || sum.Results[0].Posting != nil {
		t.Errorf("unexpected annotation: %+v", tx)
	}
}

func TestLooksLikeCSV(t *testing.T) {
	tests := []struct {
		name, file, text string
		want             bool
	}{
		{"extension", "a.CSV", "anything", true},
		{"shape", "a.txt", csvStatement, true},
		{"statement", "a.txt", rbcStatement, false},
		{"few commas", "a.txt", "Apr 01 STORE, INC 4.75\nApr 02 OTHER 1,200.00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := looksLikeCSV(tt.file, tt.text); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
