package extractor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/insightdelivered/statement-ledger/internal/normalize"
)

func TestIsReadableText(t *testing.T) {
	statement := "Royal Bank of Canada\nOpening balance 1,000.00\n02 Mar e-Transfer sent 50.00 950.00"
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"statement", statement, true},
		{"too short", "balance 1.00", false},
		{"garbage", strings.Repeat("\u00c3\u00a9\u00c2\u00ae\u00c3\u00b1 ", 30) + "balance", false},
		{"no statement words", strings.Repeat("lorem ipsum dolor sit amet ", 5), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsReadableText(tt.text); got != tt.want {
				t.Errorf("got %v, want %v (quality %.2f)", got, tt.want, textQuality(tt.text))
			}
		})
	}
}

func TestBuildDocument_LinesAlign(t *testing.T) {
	pages := []page{
		{lines: []pageLine{{text: "Royal Bank of Canada", x: 36, y: 760}, {text: "Opening balance 1,000.00", x: 36, y: 740}}},
		{},
		{lines: []pageLine{{text: "02 Mar COFFEE 4.75 995.25", x: 40, y: 700}}},
	}
	doc := buildDocument(pages, MethodContent)
	if doc.Pages != 3 {
		t.Errorf("pages = %d", doc.Pages)
	}
	split := normalize.Split(doc.Text, nil)
	if len(split) != len(doc.Lines) {
		t.Fatalf("text has %d lines, refs %d", len(split), len(doc.Lines))
	}
	last := split[len(split)-1]
	if last.Text != "02 Mar COFFEE 4.75 995.25" || last.Ref.Page != 2 {
		t.Errorf("form feed page: %+v", last)
	}
	if ref := doc.Lines[2]; ref.Page != 3 || ref.Line != 1 || ref.Y != 700 {
		t.Errorf("ref = %+v", ref)
	}

	positioned := normalize.Split(doc.Text, doc.Lines)
	if positioned[2].Ref.Page != 3 || positioned[2].Ref.X != 40 {
		t.Errorf("positioned line: %+v", positioned[2].Ref)
	}
}

func TestGroupRows(t *testing.T) {
	runs := []pageLine{
		{text: "4.75", x: 400, y: 700.2},
		{text: "COFFEE", x: 80, y: 700},
		{text: "02 Mar", x: 36, y: 699.8},
		{text: "Statement", x: 36, y: 760},
	}
	got := groupRows(runs)
	if len(got) != 2 {
		t.Fatalf("rows = %d", len(got))
	}
	if got[0].text != "Statement" {
		t.Errorf("top row = %q", got[0].text)
	}
	if !strings.HasPrefix(got[1].text, "02 Mar") || !strings.Contains(got[1].text, "COFFEE  4.75") {
		t.Errorf("row = %q", got[1].text)
	}
}

func TestTextPages(t *testing.T) {
	pages := textPages([]string{"  Header   line  \n\n02 Mar COFFEE   4.75\r\n", "\n"})
	if len(pages) != 2 || len(pages[0].lines) != 2 || len(pages[1].lines) != 0 {
		t.Fatalf("pages: %+v", pages)
	}
	if pages[0].lines[0].text != "  Header   line" {
		t.Errorf("layout spacing lost: %q", pages[0].lines[0].text)
	}
}

func TestExtractFile_Missing(t *testing.T) {
	_, err := ExtractFile(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"), Options{})
	if !errors.Is(err, ErrUnreadable) {
		t.Errorf("got %v, want ErrUnreadable", err)
	}
}

func TestExtractBytes_NotPDF(t *testing.T) {
	_, err := ExtractBytes(context.Background(), []byte("not a pdf"), Options{})
	if err == nil {
		t.Errorf("expected error")
	}
}

func TestToolsAvailable(t *testing.T) {
	pdftotext, ocr := ToolsAvailable()
	t.Logf("pdftotext=%v ocr=%v", pdftotext, ocr)
}
