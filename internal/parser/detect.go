package parser

import (
	"fmt"
	"strings"

	"github.com/insightdelivered/statement-ledger/internal/models"
)

// Detection is what AutoDetect learned about a statement.
type Detection struct {
	Brand      string             `json:"brand"`
	Kind       models.AccountKind `json:"accountKind"`
	SubType    string             `json:"subType"` // Chequing, Savings, Visa, Mastercard, Amex, CreditCard
	Prefix     string             `json:"prefix"`  // reference prefix: CHQ, SAV, VISA, MC, AMEX, CC
	Code       string             `json:"parser"`
	Confidence float64            `json:"confidence"`
	BankScore  int                `json:"bankScore"`
	CardScore  int                `json:"cardScore"`
}

type brandKeywords struct {
	brand    string
	keywords []string
}

// Checked in order; the first brand with a hit wins.
var brands = []brandKeywords{
	{"Metro Bank", []string{"metro bank", "metrobankonline"}},
	{"HSBC", []string{"hsbc"}},
	{"Barclays", []string{"barclays"}},
	{"RBC", []string{"royal bank", "rbc", "royal trust"}},
	{"TD", []string{"td canada trust", "td bank", "toronto-dominion", "td visa", "td aeroplan"}},
	{"Scotiabank", []string{"scotiabank", "bank of nova scotia", "scotia"}},
	{"BMO", []string{"bank of montreal", "bmo"}},
	{"CIBC", []string{"cibc", "canadian imperial bank of commerce"}},
	{"ATB", []string{"atb financial"}},
	{"Amex", []string{"american express", "amex"}},
}

var bankAccountKeywords = []string{
	"chequing account",
	"savings account",
	"deposit account",
	"plan deposit account",
	"value assist",
	"amounts debited from your account",
	"amounts credited to your account",
	"opening balance",
	"closing balance",
	"direct deposit",
	"interac e-transfer",
	"abm withdrawal",
	"debit card purchase",
	"paid out",
	"paid in",
}

var creditCardKeywords = []string{
	"credit card statement",
	"statement of account",
	"minimum payment",
	"credit limit",
	"available credit",
	"payment due date",
	"previous balance",
	"new charges",
	"annual fee",
	"interest charged",
	"cash advance",
	"credit card number",
	"account ending in",
}

var subTypePrefix = map[string]string{
	"Chequing":   "CHQ",
	"Savings":    "SAV",
	"Visa":       "VISA",
	"Mastercard": "MC",
	"Amex":       "AMEX",
	"CreditCard": "CC",
}

// DetectBrand identifies the institution brand and account kind from
// statement text. It never fails; Brand is "" when nothing matched.
func DetectBrand(text string) Detection {
	lower := strings.ToLower(text)

	var det Detection
	for _, b := range brands {
		if containsAny(lower, b.keywords) {
			det.Brand = b.brand
			break
		}
	}

	for _, kw := range bankAccountKeywords {
		if strings.Contains(lower, kw) {
			det.BankScore += 2
		}
	}
	for _, kw := range creditCardKeywords {
		if strings.Contains(lower, kw) {
			det.CardScore += 2
		}
	}
	if strings.Contains(lower, "visa") || strings.Contains(lower, "mastercard") {
		det.CardScore++
	}
	if strings.Contains(lower, "chequing") || strings.Contains(lower, "savings") {
		det.BankScore++
	}
	// Amex only issues cards.
	if det.Brand == "Amex" {
		det.CardScore += 10
	}

	det.Kind, det.SubType = models.AccountAsset, "Chequing"
	if det.CardScore > det.BankScore {
		det.Kind, det.SubType = models.AccountLiability, "CreditCard"
	}
	switch {
	case det.Kind == models.AccountAsset && strings.Contains(lower, "savings"):
		det.SubType = "Savings"
	case det.Kind == models.AccountLiability && det.Brand == "Amex":
		det.SubType = "Amex"
	case det.Kind == models.AccountLiability && strings.Contains(lower, "visa"):
		det.SubType = "Visa"
	case det.Kind == models.AccountLiability && strings.Contains(lower, "mastercard"):
		det.SubType = "Mastercard"
	}
	det.Prefix = subTypePrefix[det.SubType]

	det.Confidence = 0.7
	if max(det.BankScore, det.CardScore) > 4 {
		det.Confidence = 0.95
	}
	return det
}

// AutoDetect picks the parser for a statement. When no institution is
// recognized it returns the generic layout's code with ErrUnknownInstitution.
func AutoDetect(text string) (Detection, error) {
	det := DetectBrand(text)
	if det.Brand == "" {
		det.Code = "generic"
		return det, fmt.Errorf("could not auto-detect bank from statement content: %w", ErrUnknownInstitution)
	}
	det.Code = pickLayout(text, det)
	return det, nil
}

// pickLayout chooses among a brand's layouts: a matching kind with a
// matching detect phrase beats a matching kind, which beats any layout of
// the brand.
func pickLayout(text string, det Detection) string {
	var kindMatch, brandMatch string
	for _, l := range Layouts() {
		if l.Brand != det.Brand {
			continue
		}
		if brandMatch == "" {
			brandMatch = l.Code
		}
		if l.Kind != det.Kind {
			continue
		}
		if containsAny(text, l.Detect) {
			return l.Code
		}
		if kindMatch == "" {
			kindMatch = l.Code
		}
	}
	if kindMatch != "" {
		return kindMatch
	}
	return brandMatch
}
