package parser

import (
	"encoding/csv"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/insightdelivered/statement-ledger/internal/models"
	"github.com/insightdelivered/statement-ledger/internal/normalize"
)

// CSVCode is the registry code of the smart CSV parser.
const CSVCode = "csv"

const (
	defaultHeaderScan = 30
	defaultSampleRows = 5
)

// headerKeywords are the cell terms that make a row look like a header.
var headerKeywords = []string{
	"date", "time", "description", "payee", "merchant", "debit", "withdrawal",
	"credit", "deposit", "amount", "balance", "reference", "ref", "posting", "effective",
}

// ColumnMap holds the column index for each role, -1 when absent.
type ColumnMap struct {
	Date        int `json:"date"`
	Description int `json:"description"`
	Debit       int `json:"debit"`
	Credit      int `json:"credit"`
	Amount      int `json:"amount"`
	Balance     int `json:"balance"`
}

func (m ColumnMap) hasMoney() bool {
	return m.Debit >= 0 || m.Credit >= 0 || m.Amount >= 0
}

// HeaderCandidate is a scored header row.
type HeaderCandidate struct {
	Line            int       `json:"line"` // 0-based line index
	Columns         ColumnMap `json:"columns"`
	KeywordScore    int       `json:"keywordScore"`
	ValidationScore int       `json:"validationScore"`
}

// Score is the combined ranking score; rejected candidates score -1.
func (c HeaderCandidate) Score() int {
	if c.ValidationScore < 0 {
		return -1
	}
	return c.KeywordScore + c.ValidationScore
}

// CSVParser is the format-agnostic fallback. It hunts for the header
// row, then checks the guessed column roles against sample data before
// trusting them.
type CSVParser struct {
	Log zerolog.Logger
	// HeaderScan is how many leading lines may hold the header.
	HeaderScan int
	// SampleRows is how many data rows validate a candidate.
	SampleRows int
}

func (p *CSVParser) Name() string { return "Smart CSV" }
func (p *CSVParser) Code() string { return CSVCode }

// Parse implements Parser.
func (p *CSVParser) Parse(text string, meta *models.StatementMetadata, lineMeta []models.LineRef) (*models.ParseResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	lines := normalize.Split(text, lineMeta)

	header, err := p.DetectHeader(lines)
	if err != nil {
		return nil, err
	}
	p.Log.Debug().
		Int("line", header.Line+1).
		Int("score", header.Score()).
		Interface("columns", header.Columns).
		Msg("csv header selected")

	result := &models.ParseResult{}
	if meta != nil {
		result.Metadata = *meta
	}
	result.Metadata.Parser = CSVCode
	if result.Metadata.AccountKind == "" {
		result.Metadata.AccountKind = models.AccountAsset
	}

	cols := header.Columns
	for _, l := range lines[header.Line+1:] {
		if isGarbageRow(l.Text) {
			result.Trace = append(result.Trace, models.LineTrace{LineNum: l.Index + 1, Text: l.Text, Result: "skipped", Method: "garbage"})
			continue
		}
		cells := splitRow(l.Text)
		draft, ok := rowToDraft(cells, cols)
		if !ok {
			result.Trace = append(result.Trace, models.LineTrace{LineNum: l.Index + 1, Text: l.Text, Result: "dropped", Method: "row sanity"})
			continue
		}
		draft.RawText = l.Text
		draft.Audit = models.NewSpatialMetadata(l.Ref)
		draft.ParseMethod = "csv"
		result.Transactions = append(result.Transactions, draft)
		result.Trace = append(result.Trace, models.LineTrace{LineNum: l.Index + 1, Text: l.Text, HasDate: true, Result: "parsed", Method: "csv"})
	}

	if len(result.Transactions) == 0 {
		return nil, fmt.Errorf("%s: %w", p.Name(), ErrNoTransactions)
	}
	return result, nil
}

// DetectHeader runs the header hunter and map validator and returns the
// winning candidate, or ErrNoColumns when nothing scores above zero.
func (p *CSVParser) DetectHeader(lines []normalize.Line) (HeaderCandidate, error) {
	scan := p.HeaderScan
	if scan <= 0 {
		scan = defaultHeaderScan
	}
	sample := p.SampleRows
	if sample <= 0 {
		sample = defaultSampleRows
	}

	best := HeaderCandidate{Line: -1}
	bestScore := 0
	for i := 0; i < len(lines) && i < scan; i++ {
		cells := splitRow(lines[i].Text)
		if len(cells) < 2 {
			continue
		}
		matches := 0
		for _, c := range cells {
			if containsAny(c, headerKeywords) {
				matches++
			}
		}
		if matches < 2 {
			continue
		}
		cand := HeaderCandidate{Line: i, Columns: generateColumnMap(cells), KeywordScore: matches}
		cand.ValidationScore = validateColumnMap(cand.Columns, lines[i+1:], sample)
		p.Log.Debug().
			Int("line", i+1).
			Int("keywords", matches).
			Int("validation", cand.ValidationScore).
			Msg("csv header candidate")
		if s := cand.Score(); s > bestScore {
			best, bestScore = cand, s
		}
	}
	if bestScore <= 0 {
		return HeaderCandidate{}, ErrNoColumns
	}
	return best, nil
}

// generateColumnMap assigns roles to header cells. The first cell to
// claim a role keeps it.
func generateColumnMap(cells []string) ColumnMap {
	m := ColumnMap{Date: -1, Description: -1, Debit: -1, Credit: -1, Amount: -1, Balance: -1}
	set := func(dst *int, i int) {
		if *dst < 0 {
			*dst = i
		}
	}
	for i, cell := range cells {
		h := strings.ToLower(strings.TrimSpace(cell))
		words := strings.FieldsFunc(h, func(r rune) bool {
			return !(r >= 'a' && r <= 'z')
		})
		hasWord := func(w string) bool {
			for _, x := range words {
				if x == w {
					return true
				}
			}
			return false
		}
		switch {
		case (strings.Contains(h, "date") || strings.Contains(h, "posting") || strings.Contains(h, "effective")) && !strings.Contains(h, "due"):
			set(&m.Date, i)
		case containsAny(h, []string{"description", "payee", "merchant", "narrative", "memo", "details", "particulars"}):
			set(&m.Description, i)
		case strings.Contains(h, "balance"):
			set(&m.Balance, i)
		case strings.Contains(h, "debit") || strings.Contains(h, "withdrawal") || hasWord("out"):
			set(&m.Debit, i)
		case strings.Contains(h, "credit") || strings.Contains(h, "deposit") || hasWord("in"):
			set(&m.Credit, i)
		case containsAny(h, []string{"amount", "value", "turnover"}) || hasWord("amt"):
			set(&m.Amount, i)
		}
	}
	return m
}

// validateColumnMap scores a candidate mapping against the rows that
// follow it. A date column holding non-date text, or a description column
// holding a bare amount, rejects the candidate. Blank date cells are
// skipped.
func validateColumnMap(m ColumnMap, rows []normalize.Line, sample int) int {
	if m.Date < 0 || !m.hasMoney() {
		return -1
	}
	score, checked, money := 0, 0, false
	for _, row := range rows {
		if checked >= sample {
			break
		}
		if isGarbageRow(row.Text) {
			continue
		}
		cells := splitRow(row.Text)
		checked++

		switch date := cell(cells, m.Date); {
		case date == "":
			// Detail rows without a date neither confirm nor contradict.
		case isLikelyDate(date):
			score += 2
		default:
			return -1
		}

		if m.Description >= 0 {
			desc := cell(cells, m.Description)
			if isLikelyMoney(desc) && len(desc) < 15 {
				return -1
			}
			score++
		}
		for _, i := range []int{m.Debit, m.Credit, m.Amount} {
			if isLikelyMoney(cell(cells, i)) {
				money = true
				score += 2
				break
			}
		}
	}
	if checked > 0 && !money {
		return 0
	}
	return score
}

func cell(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[i])
}

var garbagePattern = regexp.MustCompile(`(?i)(opening balance|closing balance|\btotal\b|page \d)`)

// isGarbageRow flags balance/total/footer rows and rows with fewer than
// two delimiters.
func isGarbageRow(line string) bool {
	if strings.TrimSpace(line) == "" {
		return true
	}
	if garbagePattern.MatchString(line) {
		return true
	}
	return strings.Count(line, ",") < 2
}

func splitRow(line string) []string {
	r := csv.NewReader(strings.NewReader(line))
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	rec, err := r.Read()
	if err != nil {
		return strings.Split(line, ",")
	}
	return rec
}

var csvDateLayouts = []string{
	"2006-01-02", "2006/01/02", "01/02/2006", "1/2/2006", "01/02/06", "1/2/06",
	"01-02-2006", "02-Jan-2006", "2-Jan-2006", "02-Jan-06", "Jan 2, 2006", "January 2, 2006",
	"2 Jan 2006", "02 Jan 2006", "2006-01-02T15:04:05", "2006-01-02 15:04:05", "02.01.2006",
}

var dateShape = regexp.MustCompile(`\d`)

// parseCSVDate returns the ISO form of a date cell.
func parseCSVDate(s string) (string, bool) {
	s = strings.TrimSpace(strings.Trim(s, `"`))
	if s == "" || !dateShape.MatchString(s) || !strings.ContainsAny(s, "/-. ,") {
		return "", false
	}
	for _, layout := range csvDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

func isLikelyDate(s string) bool {
	_, ok := parseCSVDate(s)
	return ok
}

var moneyStrip = strings.NewReplacer("$", "", ",", "", " ", "", "(", "", ")", "", "-", "", "£", "", "€", "")

func isLikelyMoney(s string) bool {
	s = moneyStrip.Replace(strings.TrimSpace(s))
	if s == "" {
		return false
	}
	_, err := parseAmount(s)
	return err == nil
}

var bareNumber = regexp.MustCompile(`^[\d\s.,$()\-]+$`)

// rowToDraft maps a data row to a draft and applies row sanity checks.
func rowToDraft(cells []string, m ColumnMap) (models.TransactionDraft, bool) {
	var d models.TransactionDraft
	date, ok := parseCSVDate(cell(cells, m.Date))
	if !ok {
		return d, false
	}
	d.Date = date
	d.Description = cleanDescription(cell(cells, m.Description))

	if v, ok := cellAmount(cells, m.Debit); ok {
		d.Debit = abs(v)
	}
	if v, ok := cellAmount(cells, m.Credit); ok {
		d.Credit = abs(v)
	}
	if d.Debit == 0 && d.Credit == 0 {
		if v, ok := cellAmount(cells, m.Amount); ok {
			if v < 0 {
				d.Debit = -v
			} else {
				d.Credit = v
			}
		}
	}
	if v, ok := cellAmount(cells, m.Balance); ok {
		d.Balance = &v
	}

	if d.Debit == 0 && d.Credit == 0 {
		return d, false
	}
	if len(d.Description) < 2 || bareNumber.MatchString(d.Description) {
		return d, false
	}
	return d, true
}

func cellAmount(cells []string, i int) (float64, bool) {
	s := cell(cells, i)
	if s == "" || !isLikelyMoney(s) {
		return 0, false
	}
	v, err := parseAmount(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
