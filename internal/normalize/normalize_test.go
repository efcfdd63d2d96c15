package normalize

import (
	"testing"

	"github.com/insightdelivered/statement-ledger/internal/models"
)

func TestSplit_LineEndingsAndPages(t *testing.T) {
	text := "first\r\nsecond\rthird\n\fpage two"
	lines := Split(text, nil)
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4", len(lines))
	}
	if lines[2].Text != "third" || lines[2].Ref.Page != 1 || lines[2].Ref.Line != 3 {
		t.Errorf("line 3: got %+v", lines[2])
	}
	if lines[3].Text != "page two" || lines[3].Ref.Page != 2 || lines[3].Ref.Line != 1 {
		t.Errorf("line 4: got %+v", lines[3])
	}
}

func TestSplit_UsesLineMetadata(t *testing.T) {
	meta := []models.LineRef{{Page: 3, Line: 7, X: 42.5, Y: 700}}
	lines := Split("Mar 02 COFFEE 4.50", meta)
	if lines[0].Ref.Page != 3 || lines[0].Ref.Line != 7 || lines[0].Ref.X != 42.5 {
		t.Errorf("got ref %+v", lines[0].Ref)
	}
}

func TestLines_DropsBoilerplate(t *testing.T) {
	text := "Page 1 of 3\nOpening Balance 100.00\nMar 02 COFFEE 4.50\n  \nContinued on next page\nCONTINUED TEXT 45.00"
	lines := Lines(text, nil)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %+v", len(lines), lines)
	}
	if lines[0].Text != "Mar 02 COFFEE 4.50" {
		t.Errorf("got %q", lines[0].Text)
	}
	if lines[1].Text != "CONTINUED TEXT 45.00" {
		t.Errorf("got %q", lines[1].Text)
	}
}

func TestCleanLine(t *testing.T) {
	tests := []struct{ in, want string }{
		{"\u00a0 Mar 02  COFFEE\u200b ", "Mar 02  COFFEE"},
		{"REFUND \u2212 4.50", "REFUND - 4.50"},
		{"\tTAB", "TAB"},
	}
	for _, tt := range tests {
		if got := CleanLine(tt.in); got != tt.want {
			t.Errorf("CleanLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"STARBUCKS #123", "STARBUCKS"},
		{"Starbucks 4471", "STARBUCKS"},
		{"Caf\u00e9 Ol\u00e9 Inc", "CAFE OLE"},
		{"TIM HORTONS #2210 TORONTO", "TIM HORTONS 2210 TORONTO"},
		{"AMAZON.CA*AB12CD", "AMAZON CA AB12CD"},
		{"12345", "12345"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Key(tt.in); got != tt.want {
				t.Errorf("Key(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b     string
		min, max float64
	}{
		{"", "", 1, 1},
		{"STARBUCKS", "STARBUCKS", 1, 1},
		{"STARBUCKS", "STARBUCKZ", 0.88, 0.89},
		{"STARBUCKS", "TIM HORTONS", 0, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if got < tt.min || got > tt.max {
				t.Errorf("Similarity(%q, %q) = %.3f, want in [%.2f, %.2f]", tt.a, tt.b, got, tt.min, tt.max)
			}
		})
	}
}

func TestTokenSimilarity(t *testing.T) {
	if got := TokenSimilarity("UBER TRIP", "UBER TRIP"); got != 1 {
		t.Errorf("identical: got %.2f", got)
	}
	if got := TokenSimilarity("UBER TRIP HELP", "UBER TRIP"); got < 0.66 || got > 0.67 {
		t.Errorf("subset: got %.3f, want 2/3", got)
	}
	if got := TokenSimilarity("A B", "C D"); got != 0 {
		t.Errorf("disjoint: got %.2f", got)
	}
}
