// Package pipeline runs statements through detect, parse, validate and
// classify, one file at a time, and reports the batch as a whole.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/insightdelivered/statement-ledger/internal/fingerprint"
	"github.com/insightdelivered/statement-ledger/internal/ledger"
	"github.com/insightdelivered/statement-ledger/internal/matcher"
	"github.com/insightdelivered/statement-ledger/internal/models"
	"github.com/insightdelivered/statement-ledger/internal/parser"
	"github.com/insightdelivered/statement-ledger/internal/validation"
)

// How a file's parser was chosen.
const (
	SelectOverride    = "override"
	SelectCSV         = "csv"
	SelectFingerprint = "fingerprint"
	SelectDetected    = "detected"
	SelectFallback    = "fallback"
)

// Default source accounts per statement kind.
const (
	DefaultBankAccount = "1000"
	DefaultCardAccount = "2102"
)

// Input is one statement's extracted text.
type Input struct {
	Name     string                    `json:"name"`
	Text     string                    `json:"-"`
	LineMeta []models.LineRef          `json:"-"`
	Parser   string                    `json:"parser,omitempty"` // forces a parser code
	Metadata *models.StatementMetadata `json:"metadata,omitempty"`
	Account  string                    `json:"account,omitempty"` // source ledger account
}

// Posting is the ledger view of one statement.
type Posting struct {
	Source         string                 `json:"source"`
	Entries        []ledger.Entry         `json:"entries"`
	TrialBalance   ledger.TrialBalance    `json:"trialBalance"`
	Reconciliation *ledger.Reconciliation `json:"reconciliation,omitempty"`
}

// FileResult is the outcome of one successfully processed file.
type FileResult struct {
	Name        string                  `json:"name"`
	Parser      string                  `json:"parser"`
	Selection   string                  `json:"selection"`
	Detection   *parser.Detection       `json:"detection,omitempty"`
	Recall      *fingerprint.Recall     `json:"recall,omitempty"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	Result      *models.ValidatedResult `json:"result"`
	Trace       []models.LineTrace      `json:"trace,omitempty"`
	Posting     *Posting                `json:"posting,omitempty"`
}

// FileError records a file the batch could not process.
type FileError struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// BatchSummary is the unit of reporting for a run.
type BatchSummary struct {
	ID                    string            `json:"id"`
	StartedAt             time.Time         `json:"startedAt"`
	FinishedAt            time.Time         `json:"finishedAt"`
	FilesProcessed        int               `json:"filesProcessed"`
	TransactionsExtracted int               `json:"transactionsExtracted"`
	Errors                []FileError       `json:"errors"`
	Results               []FileResult      `json:"results"`
	Clusters              []matcher.Cluster `json:"clusters,omitempty"`
}

// Transactions returns every transaction of the batch in file order.
func (s *BatchSummary) Transactions() []models.Transaction {
	var txs []models.Transaction
	for _, r := range s.Results {
		txs = append(txs, r.Result.Transactions...)
	}
	return txs
}

// Pipeline wires the stages together. Matcher, Registry and Chart are
// optional.
type Pipeline struct {
	Validator *validation.Engine
	Matcher   *matcher.Engine
	Registry  *fingerprint.Registry
	Chart     *ledger.Chart
	Now       func() time.Time
	Log       zerolog.Logger
}

// New returns a pipeline with a default validator.
func New(m *matcher.Engine, reg *fingerprint.Registry, chart *ledger.Chart) *Pipeline {
	return &Pipeline{
		Validator: validation.New(validation.DefaultConfig()),
		Matcher:   m,
		Registry:  reg,
		Chart:     chart,
		Now:       time.Now,
		Log:       zerolog.Nop(),
	}
}

func (p *Pipeline) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// Run processes inputs sequentially. A file that fails is recorded in the
// summary and the batch moves on. Run only returns an error when ctx is
// done; the summary then covers the files handled so far.
func (p *Pipeline) Run(ctx context.Context, inputs []Input) (*BatchSummary, error) {
	sum := &BatchSummary{ID: uuid.NewString(), StartedAt: p.now(), Errors: []FileError{}, Results: []FileResult{}}
	log := p.Log.With().Str("batch", sum.ID).Logger()

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			sum.FinishedAt = p.now()
			return sum, err
		}
		sum.FilesProcessed++
		res, err := p.ProcessOne(ctx, in)
		if err != nil {
			log.Warn().Err(err).Str("file", in.Name).Msg("file failed")
			sum.Errors = append(sum.Errors, FileError{Name: in.Name, Error: err.Error()})
			continue
		}
		log.Info().
			Str("file", in.Name).
			Str("parser", res.Parser).
			Str("selection", res.Selection).
			Int("transactions", len(res.Result.Transactions)).
			Msg("file processed")
		sum.TransactionsExtracted += len(res.Result.Transactions)
		sum.Results = append(sum.Results, *res)
	}

	if p.Matcher != nil {
		sum.Clusters = p.Matcher.Clusters(sum.Transactions())
	}
	sum.FinishedAt = p.now()
	return sum, nil
}

// ProcessOne runs a single statement through every stage.
func (p *Pipeline) ProcessOne(ctx context.Context, in Input) (*FileResult, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, fmt.Errorf("%s: %w", in.Name, parser.ErrEmptyInput)
	}
	if p.Validator == nil {
		p.Validator = validation.New(validation.DefaultConfig())
	}

	out := &FileResult{Name: in.Name, Fingerprint: fingerprint.Generate(in.Text)}
	meta := p.choose(in, out)

	pr, err := p.parse(out.Parser, in, meta)
	if errors.Is(err, parser.ErrNoTransactions) && out.Parser != parser.CSVCode {
		// The layout found nothing; the text may still be tabular.
		csvRes, csvErr := p.parse(parser.CSVCode, in, meta)
		if csvErr != nil {
			return nil, fmt.Errorf("%s: %w", in.Name, errors.Join(err, csvErr))
		}
		p.Log.Debug().Str("file", in.Name).Str("from", out.Parser).Msg("fell back to csv parser")
		out.Parser, out.Selection, pr = parser.CSVCode, SelectCSV, csvRes
	} else if err != nil {
		return nil, fmt.Errorf("%s: %w", in.Name, err)
	}
	out.Trace = pr.Trace

	vr, err := p.Validator.Validate(pr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in.Name, err)
	}
	if p.Matcher != nil {
		vr.Transactions = p.Matcher.BatchPredict(vr.Transactions)
	}
	out.Result = vr

	source := p.sourceAccount(in, out, vr.Metadata.AccountKind)
	if p.Chart != nil {
		posting, err := p.post(vr, source)
		if err != nil {
			p.Log.Warn().Err(err).Str("file", in.Name).Msg("ledger posting skipped")
		} else {
			out.Posting = posting
		}
	}

	if p.Registry != nil && out.Parser != "generic" && out.Parser != parser.CSVCode {
		choice := fingerprint.Choice{
			Parser:          out.Parser,
			Brand:           vr.Metadata.Brand,
			AccountKind:     vr.Metadata.AccountKind,
			InstitutionCode: vr.Metadata.InstitutionCode,
			AccountNumber:   vr.Metadata.AccountNumber,
			Account:         source,
		}
		if _, err := p.Registry.Learn(ctx, out.Fingerprint, choice); err != nil {
			p.Log.Warn().Err(err).Str("file", in.Name).Msg("fingerprint not saved")
		}
	}
	return out, nil
}

// choose picks the parser: an explicit override, then CSV by name or
// shape, then a remembered fingerprint, then auto-detection, then the
// generic layout. It returns the metadata to parse with.
func (p *Pipeline) choose(in Input, out *FileResult) *models.StatementMetadata {
	var meta *models.StatementMetadata
	if in.Metadata != nil {
		m := *in.Metadata
		meta = &m
	}

	if in.Parser != "" {
		out.Parser, out.Selection = in.Parser, SelectOverride
		return meta
	}
	if looksLikeCSV(in.Name, in.Text) {
		out.Parser, out.Selection = parser.CSVCode, SelectCSV
		return meta
	}
	if p.Registry != nil {
		if rec, ok := p.Registry.Recall(out.Fingerprint); ok {
			if _, err := parser.New(rec.Parser); err == nil {
				out.Parser, out.Selection, out.Recall = rec.Parser, SelectFingerprint, &rec
				return withChoice(meta, rec.Choice)
			}
		}
	}
	det, err := parser.AutoDetect(in.Text)
	out.Detection = &det
	if err != nil {
		out.Parser, out.Selection = "generic", SelectFallback
		return meta
	}
	out.Parser, out.Selection = det.Code, SelectDetected
	return meta
}

func withChoice(meta *models.StatementMetadata, c fingerprint.Choice) *models.StatementMetadata {
	if meta == nil {
		meta = &models.StatementMetadata{}
	}
	if meta.Brand == "" {
		meta.Brand = c.Brand
	}
	if meta.AccountKind == "" {
		meta.AccountKind = c.AccountKind
	}
	if meta.InstitutionCode == "" {
		meta.InstitutionCode = c.InstitutionCode
	}
	if meta.AccountNumber == "" {
		meta.AccountNumber = c.AccountNumber
	}
	return meta
}

func (p *Pipeline) parse(code string, in Input, meta *models.StatementMetadata) (*models.ParseResult, error) {
	par, err := parser.New(code, parser.Options{Now: p.now, Log: p.Log})
	if err != nil {
		return nil, err
	}
	return par.Parse(in.Text, meta, in.LineMeta)
}

func (p *Pipeline) sourceAccount(in Input, out *FileResult, kind models.AccountKind) string {
	switch {
	case in.Account != "":
		return in.Account
	case out.Recall != nil && out.Recall.Account != "":
		return out.Recall.Account
	case kind.IsLiability():
		return DefaultCardAccount
	}
	return DefaultBankAccount
}

func (p *Pipeline) post(vr *models.ValidatedResult, source string) (*Posting, error) {
	alloc, err := ledger.NewAllocator(p.Chart, source)
	if err != nil {
		return nil, err
	}
	entries := alloc.Post(vr.Transactions)
	posting := &Posting{Source: source, Entries: entries, TrialBalance: p.Chart.TrialBalance(entries)}
	if vr.OpeningBalance != nil {
		rec := ledger.Reconcile(*vr.OpeningBalance, vr.Transactions, alloc.Kind())
		posting.Reconciliation = &rec
	}
	return posting, nil
}

// looksLikeCSV reports whether a file is delimited text: a .csv name, or
// leading lines that share the same comma count of at least two.
func looksLikeCSV(name, text string) bool {
	if strings.EqualFold(filepath.Ext(name), ".csv") {
		return true
	}
	counts := map[int]int{}
	seen := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if n := strings.Count(line, ","); n >= 2 {
			counts[n]++
		}
		seen++
		if seen == 6 {
			break
		}
	}
	for _, c := range counts {
		if c >= 3 && c*3 >= seen*2 {
			return true
		}
	}
	return false
}
