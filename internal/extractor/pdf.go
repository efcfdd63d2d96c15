// Package extractor turns statement PDFs into plain text plus a position
// for every line, the input the parsers expect.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/insightdelivered/statement-ledger/internal/models"
)

// Extraction methods, in the order they are tried.
const (
	MethodContent   = "content"
	MethodRows      = "rows"
	MethodPdftotext = "pdftotext"
	MethodOCR       = "ocr"
)

// ErrUnreadable means no method produced text that looks like a statement.
var ErrUnreadable = errors.New("no readable text could be extracted from PDF")

// Document is an extracted statement. Pages are joined with a form feed;
// Lines holds one position per line of Text.
type Document struct {
	Text   string           `json:"text"`
	Lines  []models.LineRef `json:"lines"`
	Pages  int              `json:"pages"`
	Method string           `json:"method"`
}

type page struct {
	lines []pageLine
}

type pageLine struct {
	text string
	x, y float64
}

// Options control extraction.
type Options struct {
	// OCR enables the pdftoppm + tesseract fallback for scanned PDFs.
	OCR bool
}

// ExtractFile extracts a PDF on disk. The embedded library is tried first;
// pdftotext and OCR run only when it yields unreadable text.
func ExtractFile(ctx context.Context, path string, opts Options) (*Document, error) {
	pages, libErr := extractWithLibrary(path)
	if libErr == nil && isReadable(pages.pages) {
		return buildDocument(pages.pages, pages.method), nil
	}

	if p, err := extractWithPdftotext(ctx, path); err == nil && isReadable(p) {
		return buildDocument(p, MethodPdftotext), nil
	}
	if opts.OCR {
		if p, err := extractWithOCR(ctx, path); err == nil && isReadable(p) {
			return buildDocument(p, MethodOCR), nil
		}
	}

	if libErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, libErr)
	}
	return nil, ErrUnreadable
}

// ExtractBytes writes data to a temporary file and extracts it.
func ExtractBytes(ctx context.Context, data []byte, opts Options) (*Document, error) {
	tmp, err := os.CreateTemp("", "statement-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	return ExtractFile(ctx, tmp.Name(), opts)
}

// buildDocument joins pages and records each line's position.
func buildDocument(pages []page, method string) *Document {
	doc := &Document{Pages: len(pages), Method: method}
	var b strings.Builder
	for pi, p := range pages {
		for li, l := range p.lines {
			if len(doc.Lines) > 0 {
				b.WriteByte('\n')
				if li == 0 {
					b.WriteByte('\f')
				}
			}
			b.WriteString(l.text)
			doc.Lines = append(doc.Lines, models.LineRef{Page: pi + 1, Line: li + 1, X: l.x, Y: l.y})
		}
	}
	doc.Text = b.String()
	return doc
}

type libraryResult struct {
	pages  []page
	method string
}

func extractWithLibrary(path string) (res libraryResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf library panic: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return res, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	n := r.NumPage()
	if n == 0 {
		return res, errors.New("pdf has no pages")
	}

	if pages := extractByContent(r, n); isReadable(pages) {
		return libraryResult{pages, MethodContent}, nil
	}
	return libraryResult{extractByRow(r, n), MethodRows}, nil
}

// rowGap is the horizontal gap, in points, treated as a column break.
const rowGap = 15

// extractByContent groups text runs by Y into rows, orders each row by X
// and widens large gaps so column positions survive.
func extractByContent(r *pdf.Reader, n int) []page {
	var pages []page
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, page{})
			continue
		}
		var runs []pageLine
		for _, t := range p.Content().Text {
			if strings.TrimSpace(t.S) == "" {
				continue
			}
			runs = append(runs, pageLine{text: t.S, x: t.X, y: t.Y})
		}
		pages = append(pages, page{lines: groupRows(runs)})
	}
	return pages
}

func groupRows(runs []pageLine) []pageLine {
	rows := map[int][]pageLine{}
	for _, t := range runs {
		y := int(math.Round(t.y))
		rows[y] = append(rows[y], t)
	}
	ys := make([]int, 0, len(rows))
	for y := range rows {
		ys = append(ys, y)
	}
	// PDF Y grows upward.
	sort.Sort(sort.Reverse(sort.IntSlice(ys)))

	var out []pageLine
	for _, y := range ys {
		items := rows[y]
		sort.SliceStable(items, func(a, b int) bool { return items[a].x < items[b].x })
		var sb strings.Builder
		prevX := 0.0
		for j, it := range items {
			if j > 0 && it.x-prevX > rowGap {
				sb.WriteString("  ")
			}
			sb.WriteString(it.text)
			prevX = it.x
		}
		if line := strings.TrimSpace(sb.String()); line != "" {
			out = append(out, pageLine{text: line, x: items[0].x, y: float64(y)})
		}
	}
	return out
}

func extractByRow(r *pdf.Reader, n int) []page {
	var pages []page
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, page{})
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			pages = append(pages, page{})
			continue
		}
		var pg page
		for _, row := range rows {
			parts := make([]string, 0, len(row.Content))
			for _, w := range row.Content {
				parts = append(parts, w.S)
			}
			line := strings.TrimSpace(strings.Join(parts, " "))
			if line == "" {
				continue
			}
			l := pageLine{text: line, y: float64(row.Position)}
			if len(row.Content) > 0 {
				l.x = row.Content[0].X
			}
			pg.lines = append(pg.lines, l)
		}
		pages = append(pages, pg)
	}
	return pages
}

// textPages splits plain page text into positionless lines.
func textPages(texts []string) []page {
	pages := make([]page, 0, len(texts))
	for _, t := range texts {
		var pg page
		for _, line := range strings.Split(t, "\n") {
			line = strings.TrimRight(line, " \r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			pg.lines = append(pg.lines, pageLine{text: line})
		}
		pages = append(pages, pg)
	}
	return pages
}
