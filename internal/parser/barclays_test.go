package parser

import (
	"testing"

	"github.com/insightdelivered/statement-ledger/internal/models"
)

func TestBarclaysParser_Parse(t *testing.T) {
	p := &BarclaysParser{Now: fixedNow}

	text := `Barclays Bank UK PLC
Your Statement
Sort code: 20-00-00
Account number: 11223344

Date Description Money out Money in Balance
15/01/2024 CARD PAYMENT TESCO STORES 25.99 1,234.56
16/01/2024 DIRECT DEBIT SKY UK 45.00 1,189.56
17/01/2024 BGC SALARY EMPLOYER 2,500.00 3,689.56
18/01/2024 CARD PAYMENT AMAZON 15.49 3,674.07`

	res, err := p.Parse(text, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Metadata.AccountNumber != "11223344" {
		t.Errorf("account number: got %q, want %q", res.Metadata.AccountNumber, "11223344")
	}
	if res.Metadata.SortCode != "20-00-00" {
		t.Errorf("sort code: got %q, want %q", res.Metadata.SortCode, "20-00-00")
	}
	if len(res.Transactions) != 4 {
		t.Fatalf("transactions: got %d, want 4", len(res.Transactions))
	}
	if res.Transactions[2].Credit != 2500 {
		t.Errorf("salary should be a credit: %+v", res.Transactions[2])
	}

	t.Logf("parsed %d transactions", len(res.Transactions))
	for i, txn := range res.Transactions {
		t.Logf("  [%d] %s | %s | %.2f | %.2f", i, txn.Date, txn.Description, txn.Debit, txn.Credit)
	}
}

func TestBarclaysParser_TextDates(t *testing.T) {
	p := &BarclaysParser{Now: fixedNow}

	text := `Barclays
Date Description Money out Money in Balance
15 Jan 2024 CARD PAYMENT TESCO 25.99 1,234.56`

	res, err := p.Parse(text, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Transactions) != 1 || res.Transactions[0].Date != "2024-01-15" {
		t.Fatalf("got %+v", res.Transactions)
	}
}

func TestBarclaysParser_ArrowFormat(t *testing.T) {
	p := &BarclaysParser{Now: fixedNow}

	text := `Barclays Business Current Account
Statement period 4 Dec 2023 - 3 Jan 2024
Date → Description → Money out → Money in → Balance
4 Dec Start Balance → 9,856.68
On-Line Banking Bill Payment to → 400.00 → 9,456.68
5 Dec → Direct Debit to Stripe → 58.80 → 9,397.88
Direct Credit From Antalis Limited → 10,500.00 19,897.88
Ref: Antalis Limited
2 Jan → Card Purchase Cafe → 4.10 → 19,893.78`

	res, err := p.Parse(text, &models.StatementMetadata{Year: 2023}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OpeningBalance == nil || *res.OpeningBalance != 9856.68 {
		t.Errorf("opening balance: got %v", res.OpeningBalance)
	}

	tests := []struct {
		date          string
		desc          string
		debit, credit float64
	}{
		{"2023-12-04", "On-Line Banking Bill Payment to", 400.00, 0},
		{"2023-12-05", "Direct Debit to Stripe", 58.80, 0},
		{"2023-12-05", "Direct Credit From Antalis Limited Ref: Antalis Limited", 0, 10500.00},
		{"2024-01-02", "Card Purchase Cafe", 4.10, 0},
	}
	if len(res.Transactions) != len(tests) {
		t.Fatalf("transactions: got %d, want %d", len(res.Transactions), len(tests))
	}
	for i, tt := range tests {
		txn := res.Transactions[i]
		if txn.Date != tt.date || txn.Description != tt.desc || txn.Debit != tt.debit || txn.Credit != tt.credit {
			t.Errorf("txn[%d]: got %s %q %.2f/%.2f, want %s %q %.2f/%.2f",
				i, txn.Date, txn.Description, txn.Debit, txn.Credit, tt.date, tt.desc, tt.debit, tt.credit)
		}
	}
}
