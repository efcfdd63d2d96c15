package ledger

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/insightdelivered/statement-ledger/internal/models"
)

// SuspenseAccount receives transactions with no allocated account.
const SuspenseAccount = "9970"

// Entry is one side of a double entry posting.
type Entry struct {
	TransactionID string          `json:"transactionId"`
	Date          string          `json:"date"`
	Description   string          `json:"description"`
	Account       string          `json:"account"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
}

// Allocator posts statement transactions against a source account, the
// bank or card account the statement belongs to.
//
// Statement amounts are read from the statement's side: a debit is money
// out of a bank account or a charge on a card. The allocator owns the
// ledger polarity: it books the expense side and moves the source account
// according to its type.
type Allocator struct {
	Chart  *Chart
	Source Account
}

// NewAllocator validates source against the chart.
func NewAllocator(chart *Chart, sourceCode string) (*Allocator, error) {
	src, ok := chart.GetAccountByCode(sourceCode)
	if !ok {
		return nil, fmt.Errorf("source account %s: %w", sourceCode, ErrUnknownAccount)
	}
	if src.Type != Asset && src.Type != Liability {
		return nil, fmt.Errorf("source account %s is %s, want asset or liability", src.Code, src.Type)
	}
	return &Allocator{Chart: chart, Source: src}, nil
}

// Kind is the statement account kind of the source.
func (a *Allocator) Kind() models.AccountKind {
	if a.Source.Type == Liability {
		return models.AccountLiability
	}
	return models.AccountAsset
}

// SourceEffect is the signed change tx makes to a source account's
// balance: money in raises a bank balance, a charge raises a card balance.
func SourceEffect(tx models.Transaction, kind models.AccountKind) decimal.Decimal {
	debit, credit := money(tx.Debit), money(tx.Credit)
	if kind.IsLiability() {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(math.Abs(v)).Round(2)
}

// Allocate returns the two entries for tx. An unknown or missing
// allocated account posts to suspense.
func (a *Allocator) Allocate(tx models.Transaction) [2]Entry {
	target := tx.AccountCode()
	if _, ok := a.Chart.GetAccountByCode(target); !ok {
		target = SuspenseAccount
	}
	base := Entry{TransactionID: tx.ID, Date: tx.Date, Description: tx.Description}
	src, dst := base, base
	src.Account, dst.Account = a.Source.Code, target

	// Money out or a card charge: the target is debited.
	if tx.Debit > 0 {
		amt := money(tx.Debit)
		dst.Debit, src.Credit = amt, amt
	} else {
		amt := money(tx.Credit)
		src.Debit, dst.Credit = amt, amt
	}
	return [2]Entry{src, dst}
}

// Post allocates every transaction in order.
func (a *Allocator) Post(txs []models.Transaction) []Entry {
	out := make([]Entry, 0, 2*len(txs))
	for _, tx := range txs {
		e := a.Allocate(tx)
		out = append(out, e[0], e[1])
	}
	return out
}

// AccountSummary totals the postings of one account. Balance is on the
// account's normal side.
type AccountSummary struct {
	Code    string          `json:"code"`
	Name    string          `json:"name"`
	Type    AccountType     `json:"type"`
	Debits  decimal.Decimal `json:"debits"`
	Credits decimal.Decimal `json:"credits"`
	Balance decimal.Decimal `json:"balance"`
	Count   int             `json:"count"`
}

// Summarize totals entries per account, sorted by code.
func (c *Chart) Summarize(entries []Entry) []AccountSummary {
	idx := map[string]*AccountSummary{}
	for _, e := range entries {
		s, ok := idx[e.Account]
		if !ok {
			acct, known := c.GetAccountByCode(e.Account)
			if !known {
				acct = Account{Code: e.Account, Name: "Unknown", Type: TypeForCode(e.Account)}
			}
			s = &AccountSummary{Code: acct.Code, Name: acct.Name, Type: acct.Type}
			idx[e.Account] = s
		}
		s.Debits = s.Debits.Add(e.Debit)
		s.Credits = s.Credits.Add(e.Credit)
		s.Count++
	}
	out := make([]AccountSummary, 0, len(idx))
	for _, s := range idx {
		if s.Type.DebitNormal() {
			s.Balance = s.Debits.Sub(s.Credits)
		} else {
			s.Balance = s.Credits.Sub(s.Debits)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// TrialBalance lists account totals and checks debits equal credits.
type TrialBalance struct {
	Rows         []AccountSummary `json:"rows"`
	TotalDebits  decimal.Decimal  `json:"totalDebits"`
	TotalCredits decimal.Decimal  `json:"totalCredits"`
	Balanced     bool             `json:"balanced"`
}

// TrialBalance summarizes entries into a trial balance.
func (c *Chart) TrialBalance(entries []Entry) TrialBalance {
	tb := TrialBalance{Rows: c.Summarize(entries)}
	for _, r := range tb.Rows {
		tb.TotalDebits = tb.TotalDebits.Add(r.Debits)
		tb.TotalCredits = tb.TotalCredits.Add(r.Credits)
	}
	tb.Balanced = tb.TotalDebits.Equal(tb.TotalCredits)
	return tb
}

// Mismatch is a row whose stated running balance disagrees with the
// balance computed from the opening balance.
type Mismatch struct {
	TransactionID string          `json:"transactionId"`
	Date          string          `json:"date"`
	Description   string          `json:"description"`
	Expected      decimal.Decimal `json:"expected"`
	Stated        decimal.Decimal `json:"stated"`
}

// Reconciliation is the outcome of Reconcile.
type Reconciliation struct {
	Opening    decimal.Decimal `json:"opening"`
	Closing    decimal.Decimal `json:"closing"`
	Checked    int             `json:"checked"`
	Mismatches []Mismatch      `json:"mismatches,omitempty"`
}

// Reconcile walks txs from opening, applying each SourceEffect, and
// compares against every stated running balance. After a mismatch the
// walk resumes from the stated balance so one bad row is reported once.
func Reconcile(opening float64, txs []models.Transaction, kind models.AccountKind) Reconciliation {
	run := decimal.NewFromFloat(opening).Round(2)
	rec := Reconciliation{Opening: run}
	for _, tx := range txs {
		run = run.Add(SourceEffect(tx, kind))
		if tx.Balance == nil {
			continue
		}
		stated := decimal.NewFromFloat(*tx.Balance).Round(2)
		rec.Checked++
		if !stated.Equal(run) {
			rec.Mismatches = append(rec.Mismatches, Mismatch{
				TransactionID: tx.ID, Date: tx.Date, Description: tx.Description,
				Expected: run, Stated: stated,
			})
			run = stated
		}
	}
	rec.Closing = run
	return rec
}
