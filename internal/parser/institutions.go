package parser

import (
	"regexp"

	"github.com/insightdelivered/statement-ledger/internal/models"
)

// Institution codes used by Canadian clearing.
const (
	CodeBMO    = "001"
	CodeScotia = "002"
	CodeRBC    = "003"
	CodeTD     = "004"
	CodeCIBC   = "010"
	CodeHSBC   = "016"
	CodeATB    = "219"
	CodeAmex   = "303"
)

var (
	tdNoise     = []*regexp.Regexp{regexp.MustCompile(`(?i)CHQ#\d+-\d+`), regexp.MustCompile(`(?i)\bMSP\b`)}
	rbcNoise    = []*regexp.Regexp{regexp.MustCompile(`(?i)ROYAL\s+BANK\s+OF\s+CANADA\s+P\.O\.\s+BAG\s+SERVICE\s+\d+\s+AB\s+T2P\s+2M7\s+to\s+`)}
	amexNoise   = []*regexp.Regexp{regexp.MustCompile(`\b[A-Z0-9]{15,}\b`)}
	scotiaNoise = []*regexp.Regexp{regexp.MustCompile(`\b[A-Z0-9]{15,}\b`)}
)

// layouts is the institution table. Order matters for detection: more
// specific entries for a brand come before the general one.
var layouts = []Layout{
	{
		Code: "td-chequing", Name: "TD Chequing", Brand: "TD", InstitutionCode: CodeTD,
		Kind:   models.AccountAsset,
		Detect: []string{"TD Canada Trust", "TD Bank", "Toronto-Dominion"},
		Dates:  []DateGrammar{MonDD},
		// DESCRIPTION | CHEQUE/DEBIT | DEPOSIT/CREDIT | DATE | BALANCE
		Columns:       ColumnsDebitCredit,
		DebitHeaders:  []string{"cheque/debit", "withdrawals", "debit"},
		CreditHeaders: []string{"deposit/credit", "deposits", "credit"},
		Noise:         tdNoise,
		InheritDate:   true,
	},
	{
		Code: "td-visa", Name: "TD Visa", Brand: "TD", InstitutionCode: CodeTD,
		Kind:        models.AccountLiability,
		Detect:      []string{"TD Visa", "TD Aeroplan", "TD Cash Back", "TD First Class"},
		Dates:       []DateGrammar{MonDD},
		PostingDate: true,
		Columns:     ColumnsSingle,
		Skip:        []string{"previous statement balance", "new balance", "minimum payment"},
	},
	{
		Code: "rbc-chequing", Name: "RBC Chequing", Brand: "RBC", InstitutionCode: CodeRBC,
		Kind:          models.AccountAsset,
		Detect:        []string{"Royal Bank of Canada", "RBC Royal Bank", "rbc.com"},
		Dates:         []DateGrammar{DDMon},
		Columns:       ColumnsDebitCredit,
		DebitHeaders:  []string{"cheques & debits", "withdrawals"},
		CreditHeaders: []string{"deposits & credits", "deposits"},
		Noise:         rbcNoise,
		EndMarkers:    []string{"Closing balance"},
		InheritDate:   true,
	},
	{
		Code: "rbc-visa", Name: "RBC Visa", Brand: "RBC", InstitutionCode: CodeRBC,
		Kind:        models.AccountLiability,
		Detect:      []string{"RBC Visa", "RBC Avion", "RBC Rewards Visa", "RBC ION"},
		Dates:       []DateGrammar{MonDD},
		PostingDate: true,
		Columns:     ColumnsSingle,
		Skip:        []string{"previous statement balance", "new balance", "minimum payment"},
	},
	{
		Code: "cibc-chequing", Name: "CIBC Chequing", Brand: "CIBC", InstitutionCode: CodeCIBC,
		Kind:          models.AccountAsset,
		Detect:        []string{"CIBC", "Canadian Imperial Bank of Commerce"},
		Dates:         []DateGrammar{MonDD},
		Columns:       ColumnsDebitCredit,
		DebitHeaders:  []string{"withdrawals ($)", "withdrawals"},
		CreditHeaders: []string{"deposits ($)", "deposits"},
		InheritDate:   true,
	},
	{
		Code: "cibc-visa", Name: "CIBC Visa", Brand: "CIBC", InstitutionCode: CodeCIBC,
		Kind:        models.AccountLiability,
		Detect:      []string{"CIBC Aventura", "CIBC Dividend", "CIBC Visa", "CIBC Aeroplan"},
		Dates:       []DateGrammar{MonDD},
		PostingDate: true,
		Columns:     ColumnsSingle,
	},
	{
		Code: "bmo-chequing", Name: "BMO Chequing", Brand: "BMO", InstitutionCode: CodeBMO,
		Kind:          models.AccountAsset,
		Detect:        []string{"Bank of Montreal", "BMO Bank", "bmo.com"},
		Dates:         []DateGrammar{MonDD},
		Columns:       ColumnsDebitCredit,
		DebitHeaders:  []string{"amounts debited", "debited"},
		CreditHeaders: []string{"amounts credited", "credited"},
		Skip:          []string{"Business name", "Value Assist"},
		InheritDate:   true,
	},
	{
		Code: "bmo-mastercard", Name: "BMO Mastercard", Brand: "BMO", InstitutionCode: CodeBMO,
		Kind:        models.AccountLiability,
		Detect:      []string{"BMO Mastercard", "BMO CashBack", "BMO Air Miles", "BMO eclipse"},
		Dates:       []DateGrammar{MonDD},
		PostingDate: true,
		Columns:     ColumnsSingle,
	},
	{
		Code: "bmo-us", Name: "BMO US Dollar", Brand: "BMO", InstitutionCode: CodeBMO,
		Kind:    models.AccountAsset,
		Detect:  []string{"BMO US Dollar", "U.S. Dollar Account"},
		Dates:   []DateGrammar{MMDD},
		Columns: ColumnsAmountBalance,
	},
	{
		Code: "scotia-chequing", Name: "Scotiabank Chequing", Brand: "Scotiabank", InstitutionCode: CodeScotia,
		Kind:          models.AccountAsset,
		Detect:        []string{"Scotiabank", "Bank of Nova Scotia"},
		Dates:         []DateGrammar{MonDD, MMDD, ISO},
		Columns:       ColumnsDebitCredit,
		DebitHeaders:  []string{"withdrawals/debits", "withdrawals"},
		CreditHeaders: []string{"deposits/credits", "deposits"},
		Skip:          []string{"Account Details", "No. of Debits", "No. of Credits", "Total Amount", "Service Charge Summary", "No. of Items"},
		Noise:         scotiaNoise,
	},
	{
		Code: "scotia-visa", Name: "Scotiabank Visa", Brand: "Scotiabank", InstitutionCode: CodeScotia,
		Kind:        models.AccountLiability,
		Detect:      []string{"Scotia Momentum", "Scotiabank Visa", "Scotia Gold", "Scene+ Visa", "Scotiabank Mastercard"},
		Dates:       []DateGrammar{MonDD, MMDD},
		PostingDate: true,
		Columns:     ColumnsSingle,
	},
	{
		Code: "amex", Name: "American Express", Brand: "Amex", InstitutionCode: CodeAmex,
		Kind:         models.AccountLiability,
		Detect:       []string{"American Express", "Amex"},
		Dates:        []DateGrammar{MMDD, MonDD},
		PostingDate:  true,
		Columns:      ColumnsSingle,
		StartMarkers: []string{"Your Transactions", "New Transactions for", "New Payments"},
		EndMarkers:   []string{"Total of New Transactions", "Total of Payment Activity", "Total of Activity"},
		Skip:         []string{"Transaction Posting Details Amount"},
		Noise:        amexNoise,
	},
	{
		Code: "atb", Name: "ATB Financial", Brand: "ATB", InstitutionCode: CodeATB,
		Kind:    models.AccountAsset,
		Detect:  []string{"ATB Financial", "atb.com"},
		Dates:   []DateGrammar{MonDD},
		Columns: ColumnsAmountBalance,
	},
	{
		Code: "hsbc", Name: "HSBC", Brand: "HSBC", InstitutionCode: CodeHSBC,
		Kind:   models.AccountAsset,
		Detect: []string{"HSBC", "hsbc.co.uk", "hsbc.ca"},
		// "Pay m e nt t y pe" headers break keyword checks; "Paid out" survives.
		Dates:              []DateGrammar{DDMon, DDMM, DDMonDash},
		Columns:            ColumnsDebitCredit,
		DebitHeaders:       []string{"paid out", "withdrawals"},
		CreditHeaders:      []string{"paid in", "deposits"},
		Skip:               []string{"hsbc uk bank plc", "registered in england"},
		ContinueAfterClose: true,
		InheritDate:        true,
	},
	{
		Code: "metro", Name: "Metro Bank", Brand: "Metro Bank", InstitutionCode: "",
		Kind:               models.AccountAsset,
		Detect:             []string{"Metro Bank", "metrobankonline"},
		Dates:              []DateGrammar{DDMM, DDMon},
		Columns:            ColumnsDebitCredit,
		DebitHeaders:       []string{"paid out"},
		CreditHeaders:      []string{"paid in"},
		ContinueAfterClose: true,
	},
	{
		Code: "generic", Name: "Generic Statement", Brand: "", InstitutionCode: "",
		Kind:    models.AccountAsset,
		Dates:   []DateGrammar{ISO, MonDD, DDMon, MMDD, DDMonDash},
		Columns: ColumnsSingle,
	},
}

// barclaysLayout drives the standard (non-arrow) Barclays format.
var barclaysLayout = Layout{
	Code: "barclays", Name: "Barclays", Brand: "Barclays", InstitutionCode: "",
	Kind:               models.AccountAsset,
	Detect:             []string{"Barclays", "barclays.co.uk"},
	Dates:              []DateGrammar{DDMM, DDMon},
	Columns:            ColumnsDebitCredit,
	DebitHeaders:       []string{"money out", "payments"},
	CreditHeaders:      []string{"money in", "receipts"},
	Skip:               barclaysSkip,
	ContinueAfterClose: true,
}

// Layouts returns a copy of the institution table.
func Layouts() []Layout {
	out := make([]Layout, 0, len(layouts)+1)
	out = append(out, layouts...)
	return append(out, barclaysLayout)
}

func layoutByCode(code string) (Layout, bool) {
	for _, l := range Layouts() {
		if l.Code == code {
			return l, true
		}
	}
	return Layout{}, false
}
