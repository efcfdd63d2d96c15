package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DateGrammar recognizes one date shape at the start of a line.
type DateGrammar string

const (
	// MonDD: "Mar 02", "MAR02", "March 2", optionally followed by a year.
	MonDD DateGrammar = "MMM DD"
	// DDMon: "2 Mar", "02 MAR 2024", "4 Dec".
	DDMon DateGrammar = "DD MMM"
	// MMDD: "03/02", "03/02/2024", "3/2/24" (month first).
	MMDD DateGrammar = "MM/DD"
	// DDMM: "02/03/2024" (day first, UK).
	DDMM DateGrammar = "DD/MM"
	// ISO: "2024-03-02".
	ISO DateGrammar = "YYYY-MM-DD"
	// DDMonDash: "02-Mar-2024".
	DDMonDash DateGrammar = "DD-MMM-YY"
)

const monthNames = `(Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|June?|July?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)\.?`

var grammarPatterns = map[DateGrammar]*regexp.Regexp{
	MonDD:     regexp.MustCompile(`(?i)^` + monthNames + `\s*(\d{1,2})(?:,?\s+(20\d{2}))?(?:\s|→|$)`),
	DDMon:     regexp.MustCompile(`(?i)^(\d{1,2})\s*` + monthNames + `(?:,?\s+(20\d{2}))?(?:\s|→|$)`),
	MMDD:      regexp.MustCompile(`^(\d{1,2})/(\d{1,2})(?:/(\d{4}|\d{2}))?(?:\s|→|$)`),
	DDMM:      regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4}|\d{2})(?:\s|→|$)`),
	ISO:       regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})(?:\s|→|$)`),
	DDMonDash: regexp.MustCompile(`(?i)^(\d{1,2})-` + monthNames + `-(\d{4}|\d{2})(?:\s|→|$)`),
}

var monthIndex = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// lineDate is a date token found at the start of a line.
type lineDate struct {
	Month, Day int
	Year       int // 0 when the line carries no year
	Len        int // bytes consumed, including the trailing separator
}

func monthFromName(s string) int {
	s = strings.ToLower(s)
	if len(s) < 3 {
		return 0
	}
	return monthIndex[s[:3]]
}

func normalizeYear(s string) int {
	if s == "" {
		return 0
	}
	y, _ := strconv.Atoi(s)
	if len(s) == 2 {
		y += 2000
	}
	return y
}

// match tries the grammar against the start of line.
func (g DateGrammar) match(line string) (lineDate, bool) {
	re, ok := grammarPatterns[g]
	if !ok {
		return lineDate{}, false
	}
	m := re.FindStringSubmatchIndex(line)
	if m == nil {
		return lineDate{}, false
	}
	group := func(i int) string {
		if m[2*i] < 0 {
			return ""
		}
		return line[m[2*i]:m[2*i+1]]
	}

	var d lineDate
	switch g {
	case MonDD:
		d.Month = monthFromName(group(1))
		d.Day, _ = strconv.Atoi(group(2))
		d.Year = normalizeYear(group(3))
	case DDMon, DDMonDash:
		d.Day, _ = strconv.Atoi(group(1))
		d.Month = monthFromName(group(2))
		d.Year = normalizeYear(group(3))
	case MMDD:
		d.Month, _ = strconv.Atoi(group(1))
		d.Day, _ = strconv.Atoi(group(2))
		d.Year = normalizeYear(group(3))
	case DDMM:
		d.Day, _ = strconv.Atoi(group(1))
		d.Month, _ = strconv.Atoi(group(2))
		d.Year = normalizeYear(group(3))
	case ISO:
		d.Year, _ = strconv.Atoi(group(1))
		d.Month, _ = strconv.Atoi(group(2))
		d.Day, _ = strconv.Atoi(group(3))
	}
	if d.Month < 1 || d.Month > 12 || d.Day < 1 || d.Day > 31 {
		return lineDate{}, false
	}
	d.Len = m[1]
	return d, true
}

// matchDate tries each grammar in order and returns the first hit.
func matchDate(grammars []DateGrammar, line string) (lineDate, bool) {
	for _, g := range grammars {
		if d, ok := g.match(line); ok {
			return d, true
		}
	}
	return lineDate{}, false
}

// yearTracker carries the running year across dated lines of one
// statement. The year advances when the month index goes backwards.
type yearTracker struct {
	year      int
	prevMonth int
}

func newYearTracker(start int) *yearTracker {
	return &yearTracker{year: start}
}

// resolve returns the ISO date for d, updating the running year.
func (t *yearTracker) resolve(d lineDate) string {
	if d.Year != 0 {
		t.year = d.Year
	} else if t.prevMonth != 0 && d.Month < t.prevMonth {
		t.year++
	}
	t.prevMonth = d.Month
	return fmt.Sprintf("%04d-%02d-%02d", t.year, d.Month, d.Day)
}
