// Package polarity decides whether a statement line is money out (debit)
// or money in (credit) from its description alone.
package polarity

import (
	"regexp"
	"strings"

	"github.com/insightdelivered/statement-ledger/internal/models"
)

// Verdict is the outcome of a keyword check.
type Verdict int

const (
	Unknown Verdict = iota
	Debit
	Credit
	// Ambiguous means both debit and credit keywords matched.
	Ambiguous
)

func (v Verdict) String() string {
	switch v {
	case Debit:
		return "debit"
	case Credit:
		return "credit"
	case Ambiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// Keyword tables. On a bank account "payment" is money leaving the account;
// on a card it is the holder paying the card down.
var (
	assetCredit = regexp.MustCompile(`(?i)\b(deposit|refund|credit|payroll|received|transfer from|interac.*rec|direct credit|credit from|bgc|bacs|interest paid|salary|faster payment)\b`)
	assetDebit  = regexp.MustCompile(`(?i)\b(purchase|payment|withdrawal|fee|charge|sent|transfer to|service charge|direct debit|standing order|card payment|atm|pos|transfer out|bill pay)\b`)

	liabilityCredit = regexp.MustCompile(`(?i)\b(payment|credit|refund|returned|reversal|cashback|rebate)\b`)
	liabilityDebit  = regexp.MustCompile(`(?i)\b(purchase|cash advance|interest charge|annual fee|fee|charge)\b`)
)

// Classify returns the keyword verdict for a description. Account kind
// selects the keyword table; an empty kind is treated as an asset account.
func Classify(desc string, kind models.AccountKind) Verdict {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return Unknown
	}
	creditRe, debitRe := assetCredit, assetDebit
	if kind.IsLiability() {
		creditRe, debitRe = liabilityCredit, liabilityDebit
	}
	isCredit := creditRe.MatchString(desc)
	isDebit := debitRe.MatchString(desc)
	switch {
	case isCredit && isDebit:
		// "CHARGE REVERSAL" undoes a charge.
		if kind.IsLiability() && liabilityReversal.MatchString(desc) {
			return Credit
		}
		return Ambiguous
	case isCredit:
		return Credit
	case isDebit:
		return Debit
	}
	return Unknown
}

var liabilityReversal = regexp.MustCompile(`(?i)\b(reversal|refund|returned)\b`)

// IsLikelyCredit reports an unambiguous credit verdict.
func IsLikelyCredit(desc string, kind models.AccountKind) bool {
	return Classify(desc, kind) == Credit
}

// IsLikelyDebit reports an unambiguous debit verdict.
func IsLikelyDebit(desc string, kind models.AccountKind) bool {
	return Classify(desc, kind) == Debit
}
