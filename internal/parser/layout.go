package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/insightdelivered/statement-ledger/internal/models"
	"github.com/insightdelivered/statement-ledger/internal/normalize"
	"github.com/insightdelivered/statement-ledger/internal/polarity"
)

// ColumnMode describes how amounts are laid out on a transaction line.
type ColumnMode string

const (
	// ColumnsSingle: one amount per line, optionally followed by a balance.
	ColumnsSingle ColumnMode = "single"
	// ColumnsDebitCredit: separate withdrawal and deposit columns, then balance.
	ColumnsDebitCredit ColumnMode = "debitCredit"
	// ColumnsAmountBalance: one amount column followed by a running balance.
	ColumnsAmountBalance ColumnMode = "amountBalance"
)

// Layout is the table entry that configures the shared statement parser
// for one institution's format.
type Layout struct {
	Code            string
	Name            string
	Brand           string
	InstitutionCode string
	Kind            models.AccountKind

	// Detect lists phrases that identify the institution in header text.
	Detect []string
	// Dates are tried in order against the start of every line.
	Dates []DateGrammar
	// PostingDate strips a second date token after the transaction date.
	PostingDate bool
	Columns     ColumnMode

	// Column header words, used to map amounts to columns when the text
	// keeps its layout spacing.
	DebitHeaders  []string
	CreditHeaders []string

	// StartMarkers open a transaction block, EndMarkers close it. With no
	// start markers the first header or dated line opens the block.
	StartMarkers []string
	EndMarkers   []string
	// Skip lists phrases for lines that never hold transaction data.
	Skip []string
	// Noise is stripped from descriptions.
	Noise []*regexp.Regexp

	// ContinueAfterClose appends dateless, amountless lines to the last
	// closed transaction.
	ContinueAfterClose bool
	// InheritDate lets dateless lines start transactions on the current date.
	InheritDate bool
}

// LayoutParser parses statements described by a Layout. It holds no
// per-statement state; every Parse call starts fresh.
type LayoutParser struct {
	Layout Layout
	Now    func() time.Time
	Log    zerolog.Logger
}

// NewLayoutParser returns a parser for layout.
func NewLayoutParser(layout Layout) *LayoutParser {
	return &LayoutParser{Layout: layout, Now: time.Now}
}

func (p *LayoutParser) Name() string { return p.Layout.Name }
func (p *LayoutParser) Code() string { return p.Layout.Code }

func (p *LayoutParser) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// Parse extracts transaction drafts from statement text.
func (p *LayoutParser) Parse(text string, meta *models.StatementMetadata, lineMeta []models.LineRef) (*models.ParseResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	result := &models.ParseResult{Metadata: p.metadata(text, meta)}
	if bal, ok := extractOpeningBalance(text); ok {
		result.OpeningBalance = &bal
	}

	st := &layoutState{
		layout:      &p.Layout,
		result:      result,
		years:       newYearTracker(result.Metadata.Year),
		prevBalance: result.OpeningBalance,
		last:        -1,
		debitCol:    -1,
		creditCol:   -1,
		balanceCol:  -1,
		inBlock:     len(p.Layout.StartMarkers) == 0,
	}
	for _, line := range normalize.Split(text, lineMeta) {
		st.feed(line)
	}
	st.dropPending("statement ended")

	p.Log.Debug().
		Str("parser", p.Layout.Code).
		Int("transactions", len(result.Transactions)).
		Int("warnings", len(result.Warnings)).
		Msg("layout parse complete")

	if len(result.Transactions) == 0 {
		return nil, fmt.Errorf("%s: %w", p.Layout.Name, ErrNoTransactions)
	}
	return result, nil
}

// metadata merges caller-supplied metadata over what the text reveals.
func (p *LayoutParser) metadata(text string, meta *models.StatementMetadata) models.StatementMetadata {
	md := models.StatementMetadata{
		Parser:          p.Layout.Code,
		InstitutionCode: p.Layout.InstitutionCode,
		Brand:           p.Layout.Brand,
		AccountKind:     p.Layout.Kind,
		AccountNumber:   findAccountNumber(text),
		SortCode:        findSortCode(text),
		AccountHolder:   extractNameNearLabel(text, holderLabels),
		StatementPeriod: extractPeriod(text),
	}
	if meta != nil {
		if meta.InstitutionCode != "" {
			md.InstitutionCode = meta.InstitutionCode
		}
		if meta.AccountNumber != "" {
			md.AccountNumber = meta.AccountNumber
		}
		if meta.Brand != "" {
			md.Brand = meta.Brand
		}
		if meta.AccountKind != "" {
			md.AccountKind = meta.AccountKind
		}
		if meta.AccountHolder != "" {
			md.AccountHolder = meta.AccountHolder
		}
		if meta.StatementPeriod != "" {
			md.StatementPeriod = meta.StatementPeriod
		}
		md.Year = meta.Year
	}
	if md.AccountKind == "" {
		md.AccountKind = models.AccountAsset
	}
	if md.Year == 0 {
		header := text
		if len(header) > 1500 {
			header = header[:1500]
		}
		md.Year = startingYear(md.StatementPeriod, header)
	}
	if md.Year == 0 {
		md.Year = p.now().Year()
	}
	return md
}

// layoutState is the per-statement working state of one Parse call.
type layoutState struct {
	layout *Layout
	result *models.ParseResult
	years  *yearTracker

	pending     *models.TransactionDraft
	pendingLine int
	last        int
	prevBalance *float64
	currentDate string
	inBlock     bool

	// Column end offsets from the last header line, -1 when unknown.
	debitCol, creditCol, balanceCol int
}

func (s *layoutState) trace(l normalize.Line, hasDate bool, result, method string) {
	s.result.Trace = append(s.result.Trace, models.LineTrace{
		LineNum: l.Index + 1,
		Text:    l.Text,
		HasDate: hasDate,
		Result:  result,
		Method:  method,
	})
}

func (s *layoutState) warn(line int, format string, args ...any) {
	s.result.Warnings = append(s.result.Warnings, models.Warning{
		Stage:   "parse",
		Line:    line,
		Message: fmt.Sprintf(format, args...),
	})
}

func (s *layoutState) feed(l normalize.Line) {
	line := l.Text
	if line == "" {
		return
	}
	lay := s.layout

	if containsAny(line, lay.StartMarkers) {
		s.inBlock = true
		s.trace(l, false, "header", "start marker")
		return
	}
	if s.inBlock && containsAny(line, lay.EndMarkers) {
		s.dropPending("block ended")
		s.inBlock = false
		s.trace(l, false, "skipped", "end marker")
		return
	}
	if containsTransactionHeader(line, lay) {
		s.captureColumns(l)
		if len(lay.StartMarkers) == 0 {
			s.inBlock = true
		}
		s.trace(l, false, "header", "column header")
		return
	}
	if normalize.IsBoilerplate(line) || containsAny(line, lay.Skip) {
		s.trace(l, false, "skipped", "boilerplate")
		return
	}

	d, hasDate := matchDate(lay.Dates, line)
	if !s.inBlock {
		if !hasDate || len(lay.StartMarkers) > 0 {
			s.trace(l, hasDate, "skipped", "outside block")
			return
		}
		s.inBlock = true
	}

	rest, base := line, l.Indent
	if hasDate {
		rest = line[d.Len:]
		base += d.Len
		if lay.PostingDate {
			if d2, ok := matchDate(lay.Dates, strings.TrimLeft(rest, " →")); ok {
				trimmed := len(rest) - len(strings.TrimLeft(rest, " →"))
				rest = rest[trimmed+d2.Len:]
				base += trimmed + d2.Len
			}
		}
	}
	amounts := findAmounts(rest)

	if hasDate {
		s.dropPending("next dated line reached")
		s.currentDate = s.years.resolve(d)
		if len(amounts) == 0 {
			s.startPending(l, s.currentDate, rest)
			s.trace(l, true, "pending", "dated without amount")
			return
		}
		s.emit(l, true, s.currentDate, rest, amounts, base, nil)
		return
	}

	if len(amounts) == 0 {
		switch {
		case s.pending != nil:
			s.pending.Description += " " + line
			s.pending.RawText += "\n" + line
			s.pending.Audit.Append(l.Ref)
			s.trace(l, false, "continuation", "pending")
		case lay.InheritDate && s.currentDate != "":
			s.startPending(l, s.currentDate, line)
			s.trace(l, false, "pending", "inherited date")
		case lay.ContinueAfterClose && s.last >= 0:
			last := &s.result.Transactions[s.last]
			last.Description = cleanDescription(last.Description + " " + line)
			last.RawText += "\n" + line
			last.Audit.Append(l.Ref)
			s.trace(l, false, "continuation", "after close")
		default:
			s.trace(l, false, "skipped", "no date or amount")
		}
		return
	}

	if s.pending != nil {
		pend := s.pending
		s.pending = nil
		s.emit(l, false, pend.Date, rest, amounts, base, pend)
		return
	}
	if lay.InheritDate && s.currentDate != "" {
		s.emit(l, false, s.currentDate, rest, amounts, base, nil)
		return
	}
	s.trace(l, false, "dropped", "amount without date")
}

func (s *layoutState) startPending(l normalize.Line, date, desc string) {
	s.pending = &models.TransactionDraft{
		Date:        date,
		Description: strings.TrimSpace(desc),
		RawText:     l.Text,
		Audit:       models.NewSpatialMetadata(l.Ref),
	}
	s.pendingLine = l.Index + 1
}

func (s *layoutState) dropPending(reason string) {
	if s.pending == nil {
		return
	}
	s.warn(s.pendingLine, "dropped %q: %s before an amount", s.pending.Description, reason)
	s.pending = nil
}

// emit closes a transaction whose amounts sit on line l. pend carries the
// buffered description and audit trail of a multi-line transaction.
func (s *layoutState) emit(l normalize.Line, hasDate bool, date, rest string, amounts []amountToken, base int, pend *models.TransactionDraft) {
	desc := strings.TrimSpace(rest[:amounts[0].Start])
	draft := models.TransactionDraft{
		Date:    date,
		RawText: l.Text,
		Audit:   models.NewSpatialMetadata(l.Ref),
	}
	if pend != nil {
		desc = strings.TrimSpace(pend.Description + " " + desc)
		draft.RawText = pend.RawText + "\n" + l.Text
		draft.Audit = pend.Audit
		draft.Audit.Append(l.Ref)
	}
	desc = s.stripNoise(desc)
	draft.Description = cleanDescription(desc)

	method := s.assign(&draft, amounts, base, hasLayoutSpacing(l.Text))
	draft.ParseMethod = method
	if draft.Balance != nil {
		b := *draft.Balance
		s.prevBalance = &b
	}

	s.result.Transactions = append(s.result.Transactions, draft)
	s.last = len(s.result.Transactions) - 1
	s.trace(l, hasDate, "parsed", method)
}

func (s *layoutState) stripNoise(desc string) string {
	for _, re := range s.layout.Noise {
		desc = re.ReplaceAllString(desc, " ")
	}
	return desc
}

// assign distributes the line's amounts into debit, credit and balance
// and returns how the direction was decided.
func (s *layoutState) assign(d *models.TransactionDraft, amounts []amountToken, base int, spaced bool) string {
	lay := s.layout
	liability := s.result.Metadata.AccountKind.IsLiability()

	if lay.Columns == ColumnsDebitCredit && spaced && s.debitCol >= 0 && s.creditCol >= 0 {
		for _, a := range amounts {
			switch s.nearestColumn(base + a.End) {
			case "debit":
				d.Debit += a.Value
			case "credit":
				d.Credit += a.Value
			case "balance":
				v := a.Value
				if a.Negative {
					v = -v
				}
				d.Balance = &v
			}
		}
		if d.Debit != 0 || d.Credit != 0 {
			return "column"
		}
	}

	txn := amounts
	if len(amounts) >= 2 {
		last := amounts[len(amounts)-1]
		v := last.Value
		if last.Negative {
			v = -v
		}
		d.Balance = &v
		txn = amounts[:len(amounts)-1]
	}
	if len(txn) >= 2 {
		// Both money-out and money-in columns are filled.
		d.Debit, d.Credit = txn[0].Value, txn[1].Value
		return "columns"
	}

	a := txn[0]
	credit, method := false, "default"
	switch {
	case a.Negative:
		credit, method = liability, "sign"
	case d.Balance != nil && s.prevBalance != nil:
		if c, ok := classifyByBalance(a.Value, *d.Balance, *s.prevBalance, liability); ok {
			credit, method = c, "balance"
			break
		}
		credit, method = s.byKeyword(d.Description)
	default:
		credit, method = s.byKeyword(d.Description)
	}
	if credit {
		d.Credit = a.Value
	} else {
		d.Debit = a.Value
	}
	return method
}

func (s *layoutState) byKeyword(desc string) (bool, string) {
	switch polarity.Classify(desc, s.result.Metadata.AccountKind) {
	case polarity.Credit:
		return true, "keyword"
	case polarity.Debit:
		return false, "keyword"
	}
	return false, "default"
}

// captureColumns records where the debit, credit and balance headings end.
func (s *layoutState) captureColumns(l normalize.Line) {
	if !hasLayoutSpacing(l.Text) {
		return
	}
	lower := strings.ToLower(l.Text)
	find := func(words []string) int {
		for _, w := range words {
			if i := strings.Index(lower, strings.ToLower(w)); i >= 0 {
				return l.Indent + i + len(w)
			}
		}
		return -1
	}
	s.debitCol = find(s.layout.DebitHeaders)
	s.creditCol = find(s.layout.CreditHeaders)
	s.balanceCol = find([]string{"balance"})
}

func (s *layoutState) nearestColumn(pos int) string {
	best, bestDist := "", -1
	for name, col := range map[string]int{"debit": s.debitCol, "credit": s.creditCol, "balance": s.balanceCol} {
		if col < 0 {
			continue
		}
		dist := pos - col
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist || (dist == bestDist && name < best) {
			best, bestDist = name, dist
		}
	}
	return best
}

// hasLayoutSpacing reports whether the line kept the column gaps of a
// layout-preserving text extraction.
func hasLayoutSpacing(line string) bool {
	return strings.Contains(line, "   ")
}

// containsTransactionHeader detects the column header row of a
// transaction table.
func containsTransactionHeader(line string, lay *Layout) bool {
	lower := strings.ToLower(line)
	if len(findAmounts(line)) > 0 {
		return false
	}
	hasDate := strings.Contains(lower, "date")
	hasDesc := strings.Contains(lower, "description") || strings.Contains(lower, "transaction") ||
		strings.Contains(lower, "details") || strings.Contains(lower, "paid") || strings.Contains(lower, "activity")
	hasMoney := strings.Contains(lower, "amount") || strings.Contains(lower, "paid") ||
		strings.Contains(lower, "balance") || strings.Contains(lower, "money") ||
		containsAny(lower, lay.DebitHeaders) || containsAny(lower, lay.CreditHeaders)
	return hasDate && hasDesc && hasMoney
}
