package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/insightdelivered/statement-ledger/internal/models"
	"github.com/insightdelivered/statement-ledger/internal/normalize"
	"github.com/insightdelivered/statement-ledger/internal/polarity"
)

// BarclaysParser handles Barclays bank statements.
//
// Barclays statements come in two main formats:
//
// Format A (standard): Date | Description | Money out | Money in | Balance
//
//	Date format: DD/MM/YYYY or DD Mon YYYY
//	Example: "15/01/2024  CARD PAYMENT TO TESCO STORES 2602  25.99  1,234.56"
//
// Format A is table-driven and handled by the shared layout engine.
//
// Format B (business, arrow-separated): uses → as column separator and short dates "D Mon"
//
//	Example: "5 Dec → Direct Debit to Stripe → 58.80 → 9,397.88"
type BarclaysParser struct {
	Now func() time.Time
	Log zerolog.Logger
}

func (p *BarclaysParser) Name() string { return "Barclays" }
func (p *BarclaysParser) Code() string { return barclaysLayout.Code }

// Parse implements Parser.
func (p *BarclaysParser) Parse(text string, meta *models.StatementMetadata, lineMeta []models.LineRef) (*models.ParseResult, error) {
	standard := &LayoutParser{Layout: barclaysLayout, Now: p.Now, Log: p.Log}
	if !strings.Contains(text, "→") {
		return standard.Parse(text, meta, lineMeta)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	result := &models.ParseResult{Metadata: standard.metadata(text, meta)}
	if name := extractBarclaysName(text); name != "" && result.Metadata.AccountHolder == "" {
		result.Metadata.AccountHolder = name
	}
	p.parseLinesArrow(normalize.Split(text, lineMeta), result)

	if len(result.Transactions) == 0 {
		return nil, fmt.Errorf("%s: %w", p.Name(), ErrNoTransactions)
	}
	return result, nil
}

// parseLinesArrow handles Barclays business statements that use → as column separators
// and short dates (D Mon) without year.
//
// Line examples:
//
//	"4 Dec Start Balance → 9,856.68"
//	"On-Line Banking Bill Payment to → 400.00 → 9,456.68"
//	"5 Dec → Direct Debit to Stripe → 58.80 → 9,397.88"
//	"Direct Credit From Antalis Limited → 10,500.00 19,749.38"
//	"Ref: Antalis Limited" (continuation)
func (p *BarclaysParser) parseLinesArrow(lines []normalize.Line, result *models.ParseResult) {
	years := newYearTracker(result.Metadata.Year)
	inTransactionSection := false
	currentDate := ""
	var prevBalance *float64

	appendToLast := func(l normalize.Line) bool {
		n := len(result.Transactions)
		if n == 0 {
			return false
		}
		clean := strings.TrimSpace(strings.ReplaceAll(l.Text, "→", ""))
		if clean == "" || isBarclaysFooter(clean) {
			return false
		}
		last := &result.Transactions[n-1]
		last.Description = cleanDescription(last.Description + " " + clean)
		last.RawText += "\n" + l.Text
		last.Audit.Append(l.Ref)
		return true
	}
	trace := func(l normalize.Line, res, method string) {
		result.Trace = append(result.Trace, models.LineTrace{LineNum: l.Index + 1, Text: l.Text, Result: res, Method: method})
	}

	for _, l := range lines {
		line := l.Text
		if line == "" {
			continue
		}

		if containsBarclaysHeader(line) {
			inTransactionSection = true
			trace(l, "header", "column header")
			continue
		}
		if isBarclaysFooter(line) || containsAny(line, barclaysSkip) {
			trace(l, "skipped", "boilerplate")
			continue
		}

		d, hasDate := DDMon.match(line)

		// Balance summary lines carry the date later dateless lines inherit.
		if isBalanceLine(line) {
			if hasDate {
				currentDate = years.resolve(d)
				inTransactionSection = true
			}
			if isOpeningBalanceLine(line) && result.OpeningBalance == nil {
				if amounts := findAmounts(line); len(amounts) > 0 {
					bal := amounts[len(amounts)-1].Value
					result.OpeningBalance = &bal
					prevBalance = &bal
				}
			}
			trace(l, "skipped", "balance line")
			continue
		}
		if normalize.IsBoilerplate(line) {
			trace(l, "skipped", "summary")
			continue
		}

		// Foreign currency detail lines belong to the previous transaction.
		if isBarclaysFXDetailLine(line) {
			if appendToLast(l) {
				trace(l, "continuation", "fx detail")
			}
			continue
		}

		if hasDate {
			currentDate = years.resolve(d)
			inTransactionSection = true
		}
		if !inTransactionSection {
			trace(l, "skipped", "outside block")
			continue
		}

		body := line
		if hasDate {
			body = line[d.Len:]
		}
		parts := strings.Split(body, "→")
		for j := range parts {
			parts[j] = strings.TrimSpace(parts[j])
		}

		if !isBarclaysTransactionLine(parts) {
			if appendToLast(l) {
				trace(l, "continuation", "after close")
			}
			continue
		}
		if currentDate == "" {
			trace(l, "dropped", "no date yet")
			continue
		}

		draft, ok := parseBarclaysArrowTransaction(parts, prevBalance)
		if !ok {
			trace(l, "dropped", "no description")
			continue
		}
		draft.Date = currentDate
		draft.RawText = l.Text
		draft.Audit = models.NewSpatialMetadata(l.Ref)
		if draft.Balance != nil {
			b := *draft.Balance
			prevBalance = &b
		}
		result.Transactions = append(result.Transactions, draft)
		trace(l, "parsed", draft.ParseMethod)
	}
}

// isOpeningBalanceLine checks if a balance line represents the opening balance
// (as opposed to "balance carried forward" or "end balance").
func isOpeningBalanceLine(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "start balance") ||
		strings.Contains(lower, "balance brought forward")
}

// isBarclaysTransactionLine determines if arrow-separated parts represent a real transaction.
// A transaction line has at least one column after the description holding
// nothing but monetary amounts.
func isBarclaysTransactionLine(parts []string) bool {
	if len(parts) < 2 {
		return false
	}
	for _, part := range parts[1:] {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		allAmounts := true
		for _, f := range fields {
			if len(findAmounts(f)) != 1 {
				allAmounts = false
				break
			}
		}
		if allAmounts {
			return true
		}
	}
	return false
}

// parseBarclaysArrowTransaction extracts a draft from arrow-separated column parts.
func parseBarclaysArrowTransaction(parts []string, prevBalance *float64) (models.TransactionDraft, bool) {
	desc := extractBarclaysDescription(parts)
	if desc == "" {
		return models.TransactionDraft{}, false
	}

	var amounts []float64
	for _, part := range parts[1:] {
		for _, a := range findAmounts(part) {
			if a.Value > 0 {
				amounts = append(amounts, a.Value)
			}
		}
	}
	if len(amounts) == 0 {
		return models.TransactionDraft{}, false
	}

	draft := models.TransactionDraft{Description: desc}
	amt := amounts[0]
	if len(amounts) >= 2 {
		bal := amounts[len(amounts)-1]
		draft.Balance = &bal
	}

	credit, method := false, ""
	if draft.Balance != nil && prevBalance != nil {
		if c, ok := classifyByBalance(amt, *draft.Balance, *prevBalance, false); ok {
			credit, method = c, "balance"
		}
	}
	if method == "" {
		switch polarity.Classify(desc, models.AccountAsset) {
		case polarity.Debit:
			credit, method = false, "keyword"
		case polarity.Credit:
			credit, method = true, "keyword"
		default:
			credit, method = inferCreditFromArrowParts(parts), "arrow"
		}
	}
	if credit {
		draft.Credit = amt
	} else {
		draft.Debit = amt
	}
	draft.ParseMethod = method
	return draft, true
}

// extractBarclaysDescription gets the description text from arrow-separated parts.
func extractBarclaysDescription(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	first := parts[0]

	// "5 Dec → Direct Debit to Stripe → ..." leaves the first part empty.
	if first == "" && len(parts) > 1 {
		desc := parts[1]
		if amounts := findAmounts(desc); len(amounts) > 0 {
			desc = desc[:amounts[0].Start]
		}
		return cleanDescription(desc)
	}
	if amounts := findAmounts(first); len(amounts) > 0 {
		first = first[:amounts[0].Start]
	}
	return cleanDescription(first)
}

// inferCreditFromArrowParts decides direction from whether the last
// arrow-separated segment contains one or two amounts.
// Debits: each amount is in its own segment "→ 400.00 → 9,456.68"
// Credits: amount and balance share a segment "→ 10,500.00 19,749.38"
func inferCreditFromArrowParts(parts []string) bool {
	for i := len(parts) - 1; i >= 1; i-- {
		if parts[i] != "" {
			return len(findAmounts(parts[i])) >= 2
		}
	}
	return false
}

// isBalanceLine checks if a line refers to a balance summary rather than a real transaction.
func isBalanceLine(line string) bool {
	return containsAny(line, []string{
		"start balance", "balance brought forward", "balance carried forward", "end balance",
	})
}

// isBarclaysFXDetailLine identifies foreign currency detail lines that
// contain amounts but are not separate transactions.
//
//	"19.49 On 08 Dec at VISA Exchange Rate 1.33"
//	"The Final GBP Amount Includes A Non-Sterling Transaction Fee of £ 0.40"
func isBarclaysFXDetailLine(line string) bool {
	return containsAny(line, []string{"exchange rate", "non-sterling transaction fee", "final gbp amount"})
}

var barclaysSkip = []string{
	"at a glance",
	"your deposit is eligible",
	"compensation scheme",
	"your business current account",
	"issued on",
	"swiftbic",
	"iban gb",
	"anything wrong",
}

func containsBarclaysHeader(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "date") &&
		(strings.Contains(lower, "money out") || strings.Contains(lower, "money in") ||
			strings.Contains(lower, "description") || strings.Contains(lower, "details"))
}

func isBarclaysFooter(line string) bool {
	return containsAny(line, []string{
		"barclays bank", "registered in", "authorised by",
		"financial conduct", "please check", "if you find",
		"prudential regulation",
	})
}

func extractBarclaysName(text string) string {
	if name := extractNameNearLabel(text, holderLabels); name != "" {
		return name
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if containsAny(line, []string{"Sort code", "Account number", "Account No"}) && i+1 < len(lines) {
			candidate := strings.TrimSpace(lines[i+1])
			if candidate != "" && !strings.ContainsAny(candidate, "0123456789") {
				return candidate
			}
		}
	}
	return ""
}
