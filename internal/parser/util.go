package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// amountPattern matches amount-shaped tokens such as 1,234.56, $25.99,
// (40.00), -12.00 and 12.00- with an optional CR suffix.
var amountPattern = regexp.MustCompile(`(?i)(^|\s|→)(\(?-?[£$€]?-?\d[\d,]*\.\d{2}\)?)(-|\s?CR\b)?`)

// amountToken is one amount found on a line.
type amountToken struct {
	Start, End int // byte offsets of the token in the line
	Value      float64
	Negative   bool // leading/trailing minus, parentheses or CR marker
}

// findAmounts locates amount tokens that stand alone (whitespace-delimited).
func findAmounts(line string) []amountToken {
	var out []amountToken
	for _, m := range amountPattern.FindAllStringSubmatchIndex(line, -1) {
		end := m[1]
		if end < len(line) && !isAmountBoundary(line[end]) {
			continue
		}
		tok := line[m[4]:m[5]]
		marker := ""
		if m[6] >= 0 {
			marker = strings.TrimSpace(line[m[6]:m[7]])
		}
		v, err := parseAmount(tok)
		if err != nil {
			continue
		}
		neg := v < 0 || marker != "" || strings.HasPrefix(tok, "(")
		if v < 0 {
			v = -v
		}
		out = append(out, amountToken{Start: m[4], End: end, Value: v, Negative: neg})
	}
	return out
}

func isAmountBoundary(c byte) bool {
	return c == ' ' || c == '\t' || c == '|' || c == ',' || c == ';'
}

// parseAmount converts a string like "1,234.56", "-£1,234.56" or
// "(40.00)" to a float64 rounded to cents.
func parseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	if strings.HasSuffix(s, "-") {
		neg = true
		s = strings.TrimSuffix(s, "-")
	}
	s = strings.NewReplacer("£", "", "$", "", "€", "", ",", "", " ", "", "\u00a0", "").Replace(s)
	if strings.HasPrefix(s, "-") {
		neg = !neg
		s = s[1:]
	}

	if s == "" {
		return 0, nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if neg {
		d = d.Neg()
	}
	return d.Round(2).InexactFloat64(), nil
}

// cleanPrefixes are point-of-sale processor tags that precede the merchant.
var cleanPrefixes = regexp.MustCompile(`^(SQ \*|TST\s?\*|PY \*|SP \*|PAYPAL \*)\s*`)

var longDigitRun = regexp.MustCompile(`\b\d{6,}\b`)

// cleanDescription trims a parsed description: processor prefixes,
// long reference numbers and stray separators go.
func cleanDescription(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "→|")
	s = cleanPrefixes.ReplaceAllString(strings.TrimSpace(s), "")
	s = longDigitRun.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, " -|→")
}

// Account numbers: UK 8 digits, Canadian transit-account forms and
// masked card numbers ending in 4 digits.
var (
	accountLabelPattern  = regexp.MustCompile(`(?i)(?:account|acct|card)\s*(?:number|no\.?|#)?\s*:?\s*([\dX*\x{2022}\- ]{4,24}\d)`)
	accountNumberPattern = regexp.MustCompile(`\b(\d{8})\b`)
	sortCodePattern      = regexp.MustCompile(`\b(\d{2}-\d{2}-\d{2})\b`)
)

func findAccountNumber(text string) string {
	if m := accountLabelPattern.FindStringSubmatch(text); m != nil {
		return strings.Join(strings.Fields(m[1]), "")
	}
	return accountNumberPattern.FindString(text)
}

func findSortCode(text string) string {
	return sortCodePattern.FindString(text)
}

// classifyByBalance decides debit vs credit from running balance
// progression. It returns ok=false when the balances don't settle it.
// Liability balances grow with debits.
func classifyByBalance(amt, bal, prevBal float64, liability bool) (credit bool, ok bool) {
	const tolerance = 0.015
	down := abs((prevBal - amt) - bal)
	up := abs((prevBal + amt) - bal)

	debitDiff, creditDiff := down, up
	if liability {
		debitDiff, creditDiff = up, down
	}
	switch {
	case debitDiff < tolerance && creditDiff >= tolerance:
		return false, true
	case creditDiff < tolerance && debitDiff >= tolerance:
		return true, true
	}
	return false, false
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

var openingBalancePattern = regexp.MustCompile(`(?i)(opening balance|previous balance|balance brought forward|brought forward|start balance|balance forward|previous statement balance)`)

// extractOpeningBalance finds the first opening/brought-forward balance
// line in text and returns the last amount on it.
func extractOpeningBalance(text string) (float64, bool) {
	for _, line := range strings.Split(text, "\n") {
		if !openingBalancePattern.MatchString(line) {
			continue
		}
		amounts := findAmounts(line)
		if len(amounts) == 0 {
			continue
		}
		last := amounts[len(amounts)-1]
		v := last.Value
		if last.Negative {
			v = -v
		}
		return v, true
	}
	return 0, false
}

var (
	periodLinePattern = regexp.MustCompile(`(?i)(statement period|period covered|statement from|from .* to |period)`)
	yearPattern       = regexp.MustCompile(`\b(20\d{2})\b`)
)

// extractPeriod returns the statement period line with its label
// stripped, or "" when none is found.
func extractPeriod(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if !periodLinePattern.MatchString(line) || !yearPattern.MatchString(line) {
			continue
		}
		if i := strings.Index(line, ":"); i >= 0 && i < len(line)-1 {
			line = line[i+1:]
		}
		return strings.Join(strings.Fields(line), " ")
	}
	return ""
}

// startingYear picks the year dated lines without a year begin in. A
// period like "December 2023 to January 2024" starts in the smaller year.
func startingYear(period, header string) int {
	for _, s := range []string{period, header} {
		best := 0
		for _, m := range yearPattern.FindAllStringSubmatch(s, -1) {
			y, _ := strconv.Atoi(m[1])
			if best == 0 || y < best {
				best = y
			}
		}
		if best != 0 {
			return best
		}
	}
	return 0
}

var holderLabels = []string{"Account holder", "Account name", "Customer name", "Mr ", "Mrs ", "Ms ", "Miss "}

func extractNameNearLabel(text string, labels []string) string {
	for _, line := range strings.Split(text, "\n") {
		for _, label := range labels {
			idx := strings.Index(line, label)
			if idx < 0 {
				continue
			}
			rest := strings.TrimSpace(line[idx+len(label):])
			rest = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
			if rest == "" {
				continue
			}
			parts := strings.Split(rest, "  ")
			if strings.HasSuffix(label, " ") {
				return strings.TrimSpace(label + parts[0])
			}
			return strings.TrimSpace(parts[0])
		}
	}
	return ""
}

func containsAny(text string, needles []string) bool {
	lower := strings.ToLower(text)
	for _, needle := range needles {
		if needle != "" && strings.Contains(lower, strings.ToLower(needle)) {
			return true
		}
	}
	return false
}
