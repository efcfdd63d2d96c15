// Package normalize turns raw extracted statement text into clean,
// position-tagged lines ready for the institution parsers.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/insightdelivered/statement-ledger/internal/models"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Line is a single cleaned line of statement text with its source position.
type Line struct {
	Text   string
	Index  int // 0-based index into the raw line split
	Indent int // leading whitespace trimmed from Text
	Ref    models.LineRef
}

var lineBreak = regexp.MustCompile(`\r\n|\r|\n`)

// replacer folds the unicode oddities PDF extraction leaves behind.
var replacer = strings.NewReplacer(
	"\u00a0", " ", // non-breaking space
	"\u2007", " ",
	"\u202f", " ",
	"\u200b", "", // zero-width space
	"\ufeff", "",
	"\u2212", "-", // minus sign
	"\u2013", "-",
	"\u2014", "-",
	"\u2018", "'",
	"\u2019", "'",
	"\u201c", `"`,
	"\u201d", `"`,
	"\t", " ",
)

// Split breaks text on any line-ending convention and tags each line with
// its page and line number. A form feed starts a new page. When lineMeta
// has an entry for a line index it is used as the line's position.
func Split(text string, lineMeta []models.LineRef) []Line {
	raw := lineBreak.Split(text, -1)
	lines := make([]Line, 0, len(raw))
	page, pageLine := 1, 0
	for i, s := range raw {
		if n := strings.Count(s, "\f"); n > 0 {
			page += n
			pageLine = 0
			s = strings.ReplaceAll(s, "\f", "")
		}
		pageLine++
		ref := models.LineRef{Page: page, Line: pageLine}
		if i < len(lineMeta) {
			ref = lineMeta[i]
		}
		s = replacer.Replace(s)
		cleaned := CleanLine(s)
		indent := 0
		if cleaned != "" {
			indent = leadingWidth(s)
			ref.Column += indent
		}
		lines = append(lines, Line{Text: cleaned, Index: i, Indent: indent, Ref: ref})
	}
	return lines
}

// Lines returns the non-empty, non-boilerplate lines of text.
func Lines(text string, lineMeta []models.LineRef) []Line {
	all := Split(text, lineMeta)
	out := all[:0]
	for _, l := range all {
		if l.Text == "" || IsBoilerplate(l.Text) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// CleanLine folds unicode variants and trims the line. Inner spacing is
// kept so column positions survive for layout-based parsers.
func CleanLine(s string) string {
	s = replacer.Replace(s)
	return strings.TrimRightFunc(strings.TrimLeftFunc(s, unicode.IsSpace), unicode.IsSpace)
}

// Collapse squeezes runs of whitespace to a single space.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func leadingWidth(s string) int {
	return len(s) - len(strings.TrimLeftFunc(s, unicode.IsSpace))
}

// Boilerplate that repeats on every page and never carries a transaction.
var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^page\s+\d+(\s+of\s+\d+)?$`),
	regexp.MustCompile(`(?i)^\d+\s+of\s+\d+$`),
	regexp.MustCompile(`(?i)^\(?continued( on next page| from previous page)?\)?\.?$`),
	regexp.MustCompile(`(?i)^(opening|closing|previous|new|starting|ending)\s+balance\b`),
	regexp.MustCompile(`(?i)^balance\s+(brought|carried)\s+forward\b`),
	regexp.MustCompile(`(?i)^balance forward\b`),
	regexp.MustCompile(`(?i)^(start|end) balance\b`),
	regexp.MustCompile(`(?i)^total\s+(paid in|paid out|payments|receipts|deposits|withdrawals|debits|credits)\b`),
	regexp.MustCompile(`(?i)^statement\s+(period|date|from)\b`),
}

// IsBoilerplate reports page headers, running-balance and summary lines.
func IsBoilerplate(s string) bool {
	s = strings.TrimSpace(s)
	for _, re := range boilerplatePatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold removes diacritics: an accented E folds to E.
func Fold(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		return s
	}
	return out
}

var (
	nonKeyChars  = regexp.MustCompile(`[^A-Z0-9&' ]+`)
	storeNumber  = regexp.MustCompile(`\s+#?\d+$`)
	corpSuffixes = regexp.MustCompile(`\s+(INC|LLC|LTD|CORP|CO|LIMITED|PLC)$`)
)

// Key reduces a description to its vendor matching key: upper-cased,
// diacritic-free, punctuation-free with trailing store numbers and
// corporate suffixes removed.
func Key(desc string) string {
	s := strings.ToUpper(Fold(desc))
	s = strings.ReplaceAll(s, "#", " #")
	s = nonKeyChars.ReplaceAllStringFunc(s, func(m string) string {
		if m == "#" {
			return m
		}
		return " "
	})
	s = Collapse(s)
	for {
		next := storeNumber.ReplaceAllString(s, "")
		next = corpSuffixes.ReplaceAllString(next, "")
		next = strings.TrimSpace(next)
		if next == s || next == "" {
			break
		}
		s = next
	}
	s = strings.ReplaceAll(s, "#", "")
	return Collapse(s)
}
