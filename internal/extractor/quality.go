package extractor

import (
	"strings"
	"unicode"
)

// minTextLen and minQuality gate what counts as readable text.
const (
	minTextLen = 50
	minQuality = 0.6
)

// Words that appear in virtually every statement.
var commonWords = []string{
	"bank", "account", "balance", "date", "payment", "statement",
	"total", "amount", "credit", "debit", "transaction", "sort code",
	"money", "paid", "opening", "closing", "transfer", "deposit",
	"number", "page", "period", "withdrawal",
}

func isStatementRune(r rune) bool {
	switch {
	case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r)):
		return true
	case unicode.IsSpace(r):
		return true
	}
	return strings.ContainsRune(".,-/:;()'\"£$€%&@#!?+=*", r)
}

// textQuality is the share of plain ASCII letters, digits and statement
// punctuation. Accented letters count against it: identity-encoded fonts
// decode to them.
func textQuality(text string) float64 {
	total, good := 0, 0
	for _, r := range text {
		total++
		if isStatementRune(r) {
			good++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(good) / float64(total)
}

func joinPages(pages []page) string {
	var b strings.Builder
	for _, p := range pages {
		for _, l := range p.lines {
			b.WriteString(l.text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func isReadable(pages []page) bool {
	return IsReadableText(joinPages(pages))
}

// IsReadableText reports whether text is long enough, mostly printable and
// mentions at least one word every statement carries.
func IsReadableText(text string) bool {
	if len(strings.TrimSpace(text)) <= minTextLen {
		return false
	}
	if textQuality(text) <= minQuality {
		return false
	}
	lower := strings.ToLower(text)
	for _, w := range commonWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
