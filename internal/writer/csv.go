package writer

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/insightdelivered/statement-ledger/internal/ledger"
	"github.com/insightdelivered/statement-ledger/internal/models"
)

// Header is the transaction column row.
var Header = []string{"Date", "Description", "Debit", "Credit", "Balance", "Category", "Account", "Confidence", "Status", "Method"}

// CSVWriter writes categorized transactions to CSV format.
type CSVWriter struct {
	IncludeHeader bool
}

// WriteToFile writes a validated statement to a CSV file at the given path.
func (w *CSVWriter) WriteToFile(path string, res *models.ValidatedResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %q: %w", path, err)
	}
	defer f.Close()

	if err := w.Write(f, res); err != nil {
		return err
	}
	return f.Close()
}

// Write writes a validated statement in CSV format to the given writer.
func (w *CSVWriter) Write(out io.Writer, res *models.ValidatedResult) error {
	writer := csv.NewWriter(out)

	// Metadata as comment rows
	if w.IncludeHeader {
		md := res.Metadata
		for _, kv := range [][2]string{
			{"# Bank", md.Brand},
			{"# Institution", md.InstitutionCode},
			{"# Account Kind", string(md.AccountKind)},
			{"# Account Holder", md.AccountHolder},
			{"# Account Number", md.AccountNumber},
			{"# Sort Code", md.SortCode},
			{"# Statement Period", md.StatementPeriod},
		} {
			if kv[1] != "" {
				writer.Write(kv[:])
			}
		}
		if res.OpeningBalance != nil {
			writer.Write([]string{"# Opening Balance", formatAmount(*res.OpeningBalance)})
		}
	}

	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, txn := range res.Transactions {
		row := []string{
			txn.Date,
			txn.Description,
			formatAmount(txn.Debit),
			formatAmount(txn.Credit),
			formatBalance(txn.Balance),
			txn.CategoryName(),
			txn.AccountCode(),
			strconv.FormatFloat(txn.Confidence, 'f', 2, 64),
			string(txn.Status),
			txn.Method,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteEntries writes ledger postings as a journal.
func WriteEntries(out io.Writer, entries []ledger.Entry) error {
	writer := csv.NewWriter(out)
	if err := writer.Write([]string{"Date", "Transaction", "Account", "Description", "Debit", "Credit"}); err != nil {
		return fmt.Errorf("failed to write journal header: %w", err)
	}
	for _, e := range entries {
		row := []string{e.Date, e.TransactionID, e.Account, e.Description, e.Debit.StringFixed(2), e.Credit.StringFixed(2)}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write journal row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatAmount(amount float64) string {
	if amount == 0 {
		return ""
	}
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

func formatBalance(b *float64) string {
	if b == nil {
		return ""
	}
	return strconv.FormatFloat(*b, 'f', 2, 64)
}
