package models

// StatementMetadata describes the document a batch of drafts came from.
type StatementMetadata struct {
	Parser          string      `json:"parser,omitempty"`
	InstitutionCode string      `json:"institutionCode"`
	AccountNumber   string      `json:"accountNumber"`
	SortCode        string      `json:"sortCode,omitempty"`
	Brand           string      `json:"brand"`
	AccountKind     AccountKind `json:"accountKind"`
	AccountHolder   string      `json:"accountHolder,omitempty"`
	StatementPeriod string      `json:"statementPeriod,omitempty"`
	// Year seeds date inference for statements without a year per line.
	Year int `json:"year,omitempty"`
}

// Warning is a soft, recoverable issue found by a stage.
type Warning struct {
	Stage   string `json:"stage"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// LineTrace captures what a parser did with each input line.
type LineTrace struct {
	LineNum int    `json:"lineNum"`
	Text    string `json:"text"`
	HasDate bool   `json:"hasDate"`
	Result  string `json:"result"` // parsed, pending, continuation, skipped, header, dropped
	Method  string `json:"method,omitempty"`
}

// ParseResult is the output of every parser.
type ParseResult struct {
	Transactions   []TransactionDraft `json:"transactions"`
	Metadata       StatementMetadata  `json:"metadata"`
	OpeningBalance *float64           `json:"openingBalance,omitempty"`
	Warnings       []Warning          `json:"warnings,omitempty"`
	Trace          []LineTrace        `json:"trace,omitempty"`
}

// ValidationStats counts the repairs made by the validation engine.
type ValidationStats struct {
	Processed            int `json:"processed"`
	DatesFixed           int `json:"datesFixed"`
	AmountsFixed         int `json:"amountsFixed"`
	DescriptionsFixed    int `json:"descriptionsFixed"`
	ClassificationsFixed int `json:"classificationsFixed"`
	DuplicatesRemoved    int `json:"duplicatesRemoved"`
	Flagged              int `json:"flagged"`
}

// ValidatedResult is a ParseResult whose drafts were promoted to
// transactions. Metadata and opening balance pass through unchanged.
type ValidatedResult struct {
	Transactions   []Transaction     `json:"transactions"`
	Metadata       StatementMetadata `json:"metadata"`
	OpeningBalance *float64          `json:"openingBalance,omitempty"`
	Warnings       []Warning         `json:"warnings,omitempty"`
	Stats          ValidationStats   `json:"stats"`
}
