package parser

import (
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"1,234.56", 1234.56},
		{"£25.99", 25.99},
		{"$1,000.00", 1000.00},
		{"-£50.00", -50.00},
		{"(40.00)", -40.00},
		{"12.00-", -12.00},
		{"0.00", 0},
		{"", 0},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseAmount(tt.input)
			if err != nil {
				t.Fatalf("parseAmount(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("parseAmount(%q) = %f, want %f", tt.input, got, tt.want)
			}
		})
	}
}

func TestFindAmounts(t *testing.T) {
	tests := []struct {
		line     string
		values   []float64
		negative []bool
	}{
		{"STARBUCKS #123 4.75", []float64{4.75}, []bool{false}},
		{"RETURN 12.00- 1,000.00", []float64{12, 1000}, []bool{true, false}},
		{"PAYMENT 300.00 CR", []float64{300}, []bool{true}},
		{"RATE 2.50% FEE", nil, nil},
		{"REF 20240105 $9.99", []float64{9.99}, []bool{false}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got := findAmounts(tt.line)
			if len(got) != len(tt.values) {
				t.Fatalf("got %d amounts, want %d: %+v", len(got), len(tt.values), got)
			}
			for i := range got {
				if got[i].Value != tt.values[i] || got[i].Negative != tt.negative[i] {
					t.Errorf("amount[%d]: got %+v, want %.2f negative=%v", i, got[i], tt.values[i], tt.negative[i])
				}
			}
		})
	}
}

func TestCleanDescription(t *testing.T) {
	tests := []struct{ in, want string }{
		{"SQ *BLUE BOTTLE", "BLUE BOTTLE"},
		{"TST* PIZZA PLACE  ", "PIZZA PLACE"},
		{"AMAZON 1234567890 MKTP", "AMAZON MKTP"},
		{"→ Direct Debit to Stripe →", "Direct Debit to Stripe"},
	}
	for _, tt := range tests {
		if got := cleanDescription(tt.in); got != tt.want {
			t.Errorf("cleanDescription(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClassifyByBalance(t *testing.T) {
	tests := []struct {
		name               string
		amt, bal, prev     float64
		liability          bool
		wantCredit, wantOK bool
	}{
		{"asset debit", 25.99, 974.01, 1000, false, false, true},
		{"asset credit", 2500, 3689.56, 1189.56, false, true, true},
		{"card charge", 50, 1050, 1000, true, false, true},
		{"card payment", 300, 700, 1000, true, true, true},
		{"no match", 10, 500, 1000, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			credit, ok := classifyByBalance(tt.amt, tt.bal, tt.prev, tt.liability)
			if credit != tt.wantCredit || ok != tt.wantOK {
				t.Errorf("got credit=%v ok=%v, want credit=%v ok=%v", credit, ok, tt.wantCredit, tt.wantOK)
			}
		})
	}
}

func TestMatchDate(t *testing.T) {
	tests := []struct {
		grammar DateGrammar
		line    string
		month   int
		day     int
		year    int
		ok      bool
	}{
		{MonDD, "Mar 02 SOME PAYEE", 3, 2, 0, true},
		{MonDD, "AUG02 AUG04 STORE", 8, 2, 0, true},
		{MonDD, "MARKET 12 STREET", 0, 0, 0, false},
		{MonDD, "January 15, 2024 PAYROLL", 1, 15, 2024, true},
		{DDMon, "4 Dec → Direct Debit", 12, 4, 0, true},
		{DDMon, "02 Mar 2024 TESCO", 3, 2, 2024, true},
		{MMDD, "03/02 COFFEE", 3, 2, 0, true},
		{DDMM, "15/01/2024 TESCO", 1, 15, 2024, true},
		{DDMM, "15/13/2024 TESCO", 0, 0, 0, false},
		{ISO, "2024-03-02 RENT", 3, 2, 2024, true},
		{DDMonDash, "02-Mar-24 FEE", 3, 2, 2024, true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			d, ok := tt.grammar.match(tt.line)
			if ok != tt.ok {
				t.Fatalf("ok: got %v, want %v", ok, tt.ok)
			}
			if ok && (d.Month != tt.month || d.Day != tt.day || d.Year != tt.year) {
				t.Errorf("got %d-%d-%d, want %d-%d-%d", d.Year, d.Month, d.Day, tt.year, tt.month, tt.day)
			}
		})
	}
}
