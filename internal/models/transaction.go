package models

// AccountKind tells whether a statement belongs to an asset account
// (chequing, savings) or a liability account (credit card, line of credit).
type AccountKind string

const (
	AccountAsset     AccountKind = "asset"
	AccountLiability AccountKind = "liability"
)

// IsLiability reports whether debits increase the balance of the account.
func (k AccountKind) IsLiability() bool {
	return k == AccountLiability
}

// Status is the categorization state of a transaction.
type Status string

const (
	StatusUnmatched Status = "unmatched"
	StatusMatched   Status = "matched"
	StatusManual    Status = "manual"
	StatusReviewed  Status = "reviewed"
)

// LineRef locates one line of source text. Page and Line are 1-based.
// X/Y carry PDF coordinates when the text came from a PDF extraction.
type LineRef struct {
	Page   int     `json:"page"`
	Line   int     `json:"line"`
	Column int     `json:"column"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
}

// SpatialMetadata ties a derived record back to the lines it came from.
type SpatialMetadata struct {
	Page   int       `json:"page"`
	Line   int       `json:"line"`
	Column int       `json:"column"`
	Refs   []LineRef `json:"refs"`
}

// NewSpatialMetadata builds audit metadata anchored on a single line.
func NewSpatialMetadata(ref LineRef) *SpatialMetadata {
	return &SpatialMetadata{
		Page:   ref.Page,
		Line:   ref.Line,
		Column: ref.Column,
		Refs:   []LineRef{ref},
	}
}

// Append records an additional source line (multi-line transactions).
func (m *SpatialMetadata) Append(ref LineRef) {
	if m == nil {
		return
	}
	m.Refs = append(m.Refs, ref)
}

// TransactionDraft is an untrusted transaction fresh from a parser.
type TransactionDraft struct {
	Date        string           `json:"date"` // YYYY-MM-DD, empty when unknown
	Description string           `json:"description"`
	Debit       float64          `json:"debit"`
	Credit      float64          `json:"credit"`
	Amount      float64          `json:"amount,omitempty"` // unclassified amount
	Balance     *float64         `json:"balance,omitempty"`
	RawText     string           `json:"rawText"`
	Audit       *SpatialMetadata `json:"audit,omitempty"`
	ParseMethod string           `json:"parseMethod,omitempty"`
}

// Transaction is a validated record. Exactly one of Debit/Credit is
// positive unless the source amount was zero.
type Transaction struct {
	ID               string           `json:"id"`
	Date             string           `json:"date"`
	Description      string           `json:"description"`
	Debit            float64          `json:"debit"`
	Credit           float64          `json:"credit"`
	Balance          *float64         `json:"balance,omitempty"`
	RawText          string           `json:"rawText,omitempty"`
	Audit            *SpatialMetadata `json:"audit,omitempty"`
	AllocatedAccount *string          `json:"allocatedAccount"`
	Category         *string          `json:"category"`
	Confidence       float64          `json:"confidence"`
	Method           string           `json:"method,omitempty"`
	Status           Status           `json:"status"`
}

// Amount returns the signed statement amount (credits positive).
func (t Transaction) Amount() float64 {
	return t.Credit - t.Debit
}

// AccountCode returns the allocated account or "".
func (t Transaction) AccountCode() string {
	if t.AllocatedAccount == nil {
		return ""
	}
	return *t.AllocatedAccount
}

// CategoryName returns the category or "".
func (t Transaction) CategoryName() string {
	if t.Category == nil {
		return ""
	}
	return *t.Category
}
