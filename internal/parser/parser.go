package parser

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/insightdelivered/statement-ledger/internal/models"
)

// Structural parse failures. Callers test with errors.Is.
var (
	ErrEmptyInput         = errors.New("empty statement text")
	ErrNoTransactions     = errors.New("no transactions found")
	ErrNoColumns          = errors.New("could not identify valid columns")
	ErrUnknownInstitution = errors.New("unknown institution")
)

// Parser defines the interface for statement parsers.
type Parser interface {
	// Parse takes extracted statement text, optional caller metadata and
	// optional per-line positions, and returns transaction drafts.
	Parse(text string, meta *models.StatementMetadata, lineMeta []models.LineRef) (*models.ParseResult, error)
	// Name returns the human-readable institution/format name.
	Name() string
	// Code returns the registry code accepted by New.
	Code() string
}

// Options configure parsers built by New.
type Options struct {
	Now func() time.Time
	Log zerolog.Logger
}

// New returns the parser registered under code.
func New(code string, opts ...Options) (Parser, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	switch code {
	case barclaysLayout.Code:
		return &BarclaysParser{Now: o.Now, Log: o.Log}, nil
	case CSVCode:
		return &CSVParser{Log: o.Log}, nil
	}
	layout, ok := layoutByCode(code)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInstitution, code)
	}
	return &LayoutParser{Layout: layout, Now: o.Now, Log: o.Log}, nil
}

// Codes lists every registered parser code.
func Codes() []string {
	var codes []string
	for _, l := range Layouts() {
		codes = append(codes, l.Code)
	}
	return append(codes, CSVCode)
}
