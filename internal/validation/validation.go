// Package validation promotes parser drafts to trusted transactions.
//
// Every record is repaired on its own (date, amounts, description,
// debit/credit classification) and the set is then deduplicated. The engine
// never fails for data-quality problems: it repairs what it can, drops and
// flags what it cannot, and reports both through warnings and stats.
package validation

import (
	"errors"
	"fmt"
	"html"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/insightdelivered/statement-ledger/internal/models"
	"github.com/insightdelivered/statement-ledger/internal/normalize"
	"github.com/insightdelivered/statement-ledger/internal/polarity"
)

// ErrNilResult is returned when there is nothing to validate.
var ErrNilResult = errors.New("validation: nil result")

const stage = "validation"

// Config bounds what the engine accepts as plausible.
type Config struct {
	// MinYear is the earliest plausible transaction year.
	MinYear int
	// MaxYearAhead is how many years past the current one are plausible.
	MaxYearAhead int
	// FutureDays is how far past today a date may fall.
	FutureDays int
	// MaxDescriptionLength caps descriptions, in runes.
	MaxDescriptionLength int
	// Placeholder replaces descriptions that clean down to nothing.
	Placeholder string
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		MinYear:              2015,
		MaxYearAhead:         1,
		FutureDays:           7,
		MaxDescriptionLength: 150,
		Placeholder:          "Unknown Transaction",
	}
}

// Engine validates parse results. The zero value is not usable; call New.
type Engine struct {
	cfg    Config
	policy *bluemonday.Policy

	// Now is the clock used for future-date checks.
	Now func() time.Time
	// NewID mints transaction IDs.
	NewID func() string
	Log   zerolog.Logger
}

// New returns an engine. Zero fields in cfg take their defaults.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.MinYear == 0 {
		cfg.MinYear = def.MinYear
	}
	if cfg.MaxYearAhead == 0 {
		cfg.MaxYearAhead = def.MaxYearAhead
	}
	if cfg.FutureDays == 0 {
		cfg.FutureDays = def.FutureDays
	}
	if cfg.MaxDescriptionLength == 0 {
		cfg.MaxDescriptionLength = def.MaxDescriptionLength
	}
	if cfg.Placeholder == "" {
		cfg.Placeholder = def.Placeholder
	}
	return &Engine{
		cfg:    cfg,
		policy: bluemonday.StrictPolicy(),
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

// Config returns the bounds the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// Validate promotes the drafts of res. Metadata and opening balance pass
// through unchanged.
func (e *Engine) Validate(res *models.ParseResult) (*models.ValidatedResult, error) {
	if res == nil {
		return nil, ErrNilResult
	}
	out := &models.ValidatedResult{
		Metadata:       res.Metadata,
		OpeningBalance: res.OpeningBalance,
		Warnings:       append([]models.Warning(nil), res.Warnings...),
	}
	b := e.newBatch(res.Metadata, out)
	for i, d := range res.Transactions {
		tx := models.Transaction{
			ID:          e.NewID(),
			Date:        d.Date,
			Description: d.Description,
			Debit:       d.Debit,
			Credit:      d.Credit,
			Balance:     d.Balance,
			RawText:     d.RawText,
			Audit:       d.Audit,
			Status:      models.StatusUnmatched,
		}
		b.add(tx, d.Amount, lineOf(d.Audit, i))
	}
	out.Transactions = b.dedupe()
	e.logStats(out)
	return out, nil
}

// Revalidate runs the same repairs over already-validated transactions.
// IDs and categorization fields are kept. Running it on the output of
// Validate changes nothing.
func (e *Engine) Revalidate(res *models.ValidatedResult) (*models.ValidatedResult, error) {
	if res == nil {
		return nil, ErrNilResult
	}
	out := &models.ValidatedResult{
		Metadata:       res.Metadata,
		OpeningBalance: res.OpeningBalance,
		Warnings:       append([]models.Warning(nil), res.Warnings...),
	}
	b := e.newBatch(res.Metadata, out)
	for i, tx := range res.Transactions {
		if tx.ID == "" {
			tx.ID = e.NewID()
		}
		if tx.Status == "" {
			tx.Status = models.StatusUnmatched
		}
		b.add(tx, 0, lineOf(tx.Audit, i))
	}
	out.Transactions = b.dedupe()
	e.logStats(out)
	return out, nil
}

func (e *Engine) logStats(out *models.ValidatedResult) {
	s := out.Stats
	e.Log.Debug().
		Int("processed", s.Processed).
		Int("kept", len(out.Transactions)).
		Int("datesFixed", s.DatesFixed).
		Int("amountsFixed", s.AmountsFixed).
		Int("descriptionsFixed", s.DescriptionsFixed).
		Int("classificationsFixed", s.ClassificationsFixed).
		Int("duplicatesRemoved", s.DuplicatesRemoved).
		Int("flagged", s.Flagged).
		Msg("validation complete")
}

func lineOf(a *models.SpatialMetadata, i int) int {
	if a != nil && a.Line > 0 {
		return a.Line
	}
	return i + 1
}

// batch carries the per-call state of one validation run.
type batch struct {
	e     *Engine
	kind  models.AccountKind
	years []int
	out   *models.ValidatedResult
	txs   []models.Transaction
}

func (e *Engine) newBatch(meta models.StatementMetadata, out *models.ValidatedResult) *batch {
	return &batch{e: e, kind: meta.AccountKind, years: e.yearCandidates(meta), out: out}
}

func (b *batch) warn(line int, format string, args ...any) {
	b.out.Warnings = append(b.out.Warnings, models.Warning{Stage: stage, Line: line, Message: fmt.Sprintf(format, args...)})
}

// add repairs tx and keeps it unless its date could not be repaired.
func (b *batch) add(tx models.Transaction, amount float64, line int) {
	st := &b.out.Stats
	st.Processed++

	date, changed, ok := b.e.repairDate(tx.Date, b.years)
	if !ok {
		st.Flagged++
		b.warn(line, "dropped %q: no plausible date for %q", tx.Description, tx.Date)
		return
	}
	if changed {
		st.DatesFixed++
		b.warn(line, "date %s repaired to %s", tx.Date, date)
		tx.Date = date
	}

	desc := b.e.CleanDescription(tx.Description)
	if desc != tx.Description {
		st.DescriptionsFixed++
		tx.Description = desc
	}

	if repairAmounts(&tx, b.kind) {
		st.AmountsFixed++
	}
	if repairClassification(&tx, amount, b.kind) {
		st.ClassificationsFixed++
	}
	b.txs = append(b.txs, tx)
}

// dedupe drops exact repeats of (date, debit, credit, description).
func (b *batch) dedupe() []models.Transaction {
	seen := make(map[string]bool, len(b.txs))
	out := make([]models.Transaction, 0, len(b.txs))
	for _, tx := range b.txs {
		k := DedupKey(tx)
		if seen[k] {
			b.out.Stats.DuplicatesRemoved++
			continue
		}
		seen[k] = true
		out = append(out, tx)
	}
	return out
}

// DedupKey is the composite identity used for set-level deduplication.
func DedupKey(tx models.Transaction) string {
	return strings.Join([]string{
		tx.Date,
		strconv.FormatFloat(tx.Debit, 'f', 2, 64),
		strconv.FormatFloat(tx.Credit, 'f', 2, 64),
		normalize.Collapse(strings.ToUpper(tx.Description)),
	}, "|")
}

// Dates

var periodYear = regexp.MustCompile(`\b(20\d{2})\b`)

// yearCandidates lists the years tried, in order, when a date is out of
// range: the statement period, the metadata year, then this year and last.
func (e *Engine) yearCandidates(meta models.StatementMetadata) []int {
	var years []int
	add := func(y int) {
		if y <= 0 {
			return
		}
		for _, x := range years {
			if x == y {
				return
			}
		}
		years = append(years, y)
	}
	for _, m := range periodYear.FindAllString(meta.StatementPeriod, -1) {
		y, _ := strconv.Atoi(m)
		add(y)
	}
	add(meta.Year)
	now := e.Now()
	add(now.Year())
	add(now.Year() - 1)
	return years
}

var dateLayouts = []string{"2006-01-02", "2006/01/02", "01/02/2006", "2006-1-2"}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// repairDate returns the ISO date to keep, whether it differs from s, and
// false when no plausible date exists.
func (e *Engine) repairDate(s string, years []int) (string, bool, bool) {
	t, ok := parseDate(s)
	if !ok {
		return "", false, false
	}
	if e.plausible(t) {
		iso := t.Format("2006-01-02")
		return iso, iso != s, true
	}
	for _, y := range years {
		if c, ok := withYear(t, y); ok && e.plausible(c) {
			return c.Format("2006-01-02"), true, true
		}
	}
	return "", false, false
}

func (e *Engine) plausible(t time.Time) bool {
	now := e.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if t.Year() < e.cfg.MinYear || t.Year() > now.Year()+e.cfg.MaxYearAhead {
		return false
	}
	return !t.After(today.AddDate(0, 0, e.cfg.FutureDays))
}

// withYear moves t to year y. Feb 29 has no counterpart in common years.
func withYear(t time.Time, y int) (time.Time, bool) {
	c := time.Date(y, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return c, c.Month() == t.Month()
}

// Amounts

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// repairAmounts makes both sides non-negative, folds rows carrying both
// into one side and rounds to cents.
func repairAmounts(tx *models.Transaction, kind models.AccountKind) bool {
	debit, credit := round2(math.Abs(tx.Debit)), round2(math.Abs(tx.Credit))
	if debit > 0 && credit > 0 {
		if polarity.IsLikelyCredit(tx.Description, kind) {
			debit = 0
		} else {
			credit = 0
		}
	}
	changed := debit != tx.Debit || credit != tx.Credit
	tx.Debit, tx.Credit = debit, credit
	return changed
}

// repairClassification assigns an unclassified amount and swaps sides when
// the description says otherwise. Ambiguous descriptions never swap.
func repairClassification(tx *models.Transaction, amount float64, kind models.AccountKind) bool {
	verdict := polarity.Classify(tx.Description, kind)
	if tx.Debit == 0 && tx.Credit == 0 {
		a := round2(math.Abs(amount))
		if a == 0 {
			return false
		}
		credit := verdict == polarity.Credit
		if verdict == polarity.Unknown && amount < 0 && kind.IsLiability() {
			credit = true
		}
		if credit {
			tx.Credit = a
		} else {
			tx.Debit = a
		}
		return true
	}
	switch {
	case tx.Debit > 0 && verdict == polarity.Credit:
		tx.Debit, tx.Credit = 0, tx.Debit
		return true
	case tx.Credit > 0 && verdict == polarity.Debit:
		tx.Debit, tx.Credit = tx.Credit, 0
		return true
	}
	return false
}

// Descriptions

// monthWord matches a whole month name or abbreviation, so vendor names
// such as MARKET or DECATHLON are left alone.
const monthWord = `(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\b`

var (
	// Interac e-transfer confirmation codes, e.g. CA4Ff7Yh2K or C1AbC9dE3f.
	etransferCode = regexp.MustCompile(`\b(?:C1A|CA)[A-Za-z0-9]{6,}\b`)
	hexRun        = regexp.MustCompile(`\b[0-9A-Fa-f]{16,}\b`)
	leadingDate   = regexp.MustCompile(`(?i)^(?:` + monthWord + `\.?\s+\d{1,2}\b|\d{1,2}\s+` + monthWord + `\.?)[\s,]*`)
	embeddedDates = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b` + monthWord + `\.?\s+\d{1,2},?\s+20\d{2}\b`),
		regexp.MustCompile(`\b\d{1,2}/\d{1,2}/(?:20)?\d{2}\b`),
		regexp.MustCompile(`\b20\d{2}-\d{2}-\d{2}\b`),
	}
	pageRef    = regexp.MustCompile(`(?i)\bpage\s+\d+(?:\s+of\s+\d+)?\b`)
	emailAddr  = regexp.MustCompile(`[\w.+-]+@[\w-]+(?:\.[\w-]+)+`)
	digitRun   = regexp.MustCompile(`\b\d{6,}\b`)
	edgeJunk   = " ,;:-/"
	hasDigitRe = regexp.MustCompile(`\d`)
	hasLowerRe = regexp.MustCompile(`[a-z]`)
)

// CleanDescription removes extraction noise from a description. It strips
// markup, confirmation codes, leaked dates, page references, emails and
// long digit runs, then collapses whitespace and caps the length. The
// result is never empty.
func (e *Engine) CleanDescription(s string) string {
	s = html.UnescapeString(e.policy.Sanitize(s))
	// Each pass can expose a leading date or edge junk for the next.
	for range 5 {
		next := e.stripNoise(s)
		if next == s {
			break
		}
		s = next
	}
	if s == "" {
		return e.cfg.Placeholder
	}
	return s
}

func (e *Engine) stripNoise(s string) string {
	s = etransferCode.ReplaceAllStringFunc(s, func(tok string) string {
		if hasDigitRe.MatchString(tok) && hasLowerRe.MatchString(tok) {
			return " "
		}
		return tok
	})
	s = hexRun.ReplaceAllStringFunc(s, func(tok string) string {
		if hasDigitRe.MatchString(tok) {
			return " "
		}
		return tok
	})
	for _, re := range embeddedDates {
		s = re.ReplaceAllString(s, " ")
	}
	s = pageRef.ReplaceAllString(s, " ")
	s = emailAddr.ReplaceAllString(s, " ")
	s = digitRun.ReplaceAllString(s, " ")
	s = strings.Trim(normalize.Collapse(s), edgeJunk)
	s = leadingDate.ReplaceAllString(s, "")
	s = strings.Trim(normalize.Collapse(s), edgeJunk)
	return truncate(s, e.cfg.MaxDescriptionLength)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return strings.TrimRight(string(r[:n]), edgeJunk)
}
