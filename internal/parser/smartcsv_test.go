package parser

import (
	"errors"
	"testing"

	"github.com/insightdelivered/statement-ledger/internal/normalize"
)

func TestCSVParser_RejectsSecondaryTableHeader(t *testing.T) {
	text := `Date,Description,Amount
Opening,Account summary,1200.00
Transaction Date,Details,Debit,Credit
2024-01-05,COFFEE SHOP,4.50,
2024-01-06,PAYROLL DEPOSIT,,1500.00
2024-01-07,HYDRO ONE,82.10,`

	p := &CSVParser{}
	header, err := p.DetectHeader(normalize.Split(text, nil))
	if err != nil {
		t.Fatalf("DetectHeader: %v", err)
	}
	if header.Line != 2 {
		t.Fatalf("header line: got %d, want 2", header.Line)
	}
	if header.Columns.Date != 0 || header.Columns.Description != 1 || header.Columns.Debit != 2 || header.Columns.Credit != 3 {
		t.Errorf("columns: got %+v", header.Columns)
	}

	res, err := p.Parse(text, nil, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Transactions) != 3 {
		t.Fatalf("transactions: got %d, want 3", len(res.Transactions))
	}
	if res.Transactions[1].Credit != 1500 || res.Transactions[1].Debit != 0 {
		t.Errorf("txn[1]: got %+v", res.Transactions[1])
	}
	if res.Transactions[0].Description != "COFFEE SHOP" || res.Transactions[0].Debit != 4.50 {
		t.Errorf("txn[0]: got %+v", res.Transactions[0])
	}
}

func TestCSVParser_SingleAmountColumn(t *testing.T) {
	text := `Account: 12345
Posted Date,Payee,Amount,Balance
03/01/2024,"GROCERY, INC",-54.10,945.90
03/02/2024,REFUND STORE,12.00,957.90
03/03/2024,Total,0.00,957.90
03/04/2024,COFFEE,-3.00,954.90
03/05/2024,BOOKS,-9.00,945.90
03/06/2024,GAS STATION,-40.00,905.90
03/07/2024,1234,5.00,910.90`

	res, err := (&CSVParser{}).Parse(text, nil, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Transactions) != 5 {
		t.Fatalf("transactions: got %d, want 5", len(res.Transactions))
	}
	first := res.Transactions[0]
	if first.Date != "2024-03-01" || first.Description != "GROCERY, INC" || first.Debit != 54.10 {
		t.Errorf("txn[0]: got %+v", first)
	}
	if first.Balance == nil || *first.Balance != 945.90 {
		t.Errorf("txn[0] balance: got %v", first.Balance)
	}
	if res.Transactions[1].Credit != 12 {
		t.Errorf("txn[1]: got %+v", res.Transactions[1])
	}
}

func TestCSVParser_NoColumns(t *testing.T) {
	text := "just,some,words\nmore,plain,text"
	_, err := (&CSVParser{}).Parse(text, nil, nil)
	if !errors.Is(err, ErrNoColumns) {
		t.Fatalf("got %v, want ErrNoColumns", err)
	}
}

func TestValidateColumnMap(t *testing.T) {
	m := ColumnMap{Date: 0, Description: 1, Debit: 2, Credit: 3, Amount: -1, Balance: -1}
	tests := []struct {
		name     string
		rows     string
		rejected bool
	}{
		{"dated rows", "2024-01-02,COFFEE,4.50,\n2024-01-03,PAYROLL,,900.00", false},
		{"blank date on a detail row", "2024-01-02,USD PURCHASE,13.50,\n,FX RATE 1.35 USD,,\n2024-01-03,PAYROLL,,900.00", false},
		{"text in date column", "2024-01-02,COFFEE,4.50,\nPending,PAYROLL,,900.00", true},
		{"amount in description column", "2024-01-02,100.00,5.00,\n2024-01-03,PAYROLL,,900.00", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := validateColumnMap(m, normalize.Split(tt.rows, nil), 5)
			if tt.rejected && score != -1 {
				t.Errorf("score = %d, want -1", score)
			}
			if !tt.rejected && score <= 0 {
				t.Errorf("score = %d, want positive", score)
			}
		})
	}
}

func TestCSVParser_NumericDescriptionColumn(t *testing.T) {
	text := `Date,Description,Amount
2024-01-02,100.00,5.00
2024-01-03,250.00,7.25
2024-01-04,80.00,1.10`
	_, err := (&CSVParser{}).Parse(text, nil, nil)
	if !errors.Is(err, ErrNoColumns) {
		t.Fatalf("got %v, want ErrNoColumns", err)
	}
}

func TestCSVParser_DatelessDetailRow(t *testing.T) {
	text := `Date,Description,Debit,Credit
2024-01-02,USD PURCHASE,13.50,
,FX RATE 1.35 USD,,
2024-01-03,PAYROLL,,900.00`
	res, err := (&CSVParser{}).Parse(text, nil, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Transactions) != 2 {
		t.Fatalf("transactions: got %d, want 2", len(res.Transactions))
	}
}

func TestGenerateColumnMap(t *testing.T) {
	tests := []struct {
		name  string
		cells []string
		want  ColumnMap
	}{
		{
			name:  "paid out paid in",
			cells: []string{"Date", "Narrative", "Paid out", "Paid in", "Balance"},
			want:  ColumnMap{Date: 0, Description: 1, Debit: 2, Credit: 3, Amount: -1, Balance: 4},
		},
		{
			name:  "due date ignored",
			cells: []string{"Due Date", "Posting Date", "Memo", "Amt"},
			want:  ColumnMap{Date: 1, Description: 2, Debit: -1, Credit: -1, Amount: 3, Balance: -1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := generateColumnMap(tt.cells); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestIsGarbageRow(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"2024-01-05,COFFEE,4.50", false},
		{"Closing Balance,,1,200.00", true},
		{"Page 2,,", true},
		{"only,one", true},
	}
	for _, tt := range tests {
		if got := isGarbageRow(tt.line); got != tt.want {
			t.Errorf("isGarbageRow(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
