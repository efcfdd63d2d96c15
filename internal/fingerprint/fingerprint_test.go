package fingerprint

import (
	"context"
	"strings"
	"testing"

	"github.com/insightdelivered/statement-ledger/internal/models"
)

const rbcStatement = `RBC Royal Bank
Business Account Statement
From March 1, 2024 to March 31, 2024
Account number: 01234 5678901
ROYAL BANK OF CANADA P.O. BAG SERVICE 1234 CALGARY AB T2P 2M7
Your account summary for this period
Please check this statement promptly and report any errors within 45 days.
Interac e-Transfer fees apply as described in your account agreement.
Questions? Call 1-800-769-2511 or visit rbc.com/business
Account holder: NORTHWIND TRADING LTD
Summary of account activity and balances for the statement period
Date Description Cheques & Debits Deposits & Credits Balance
01 Mar Opening balance 1,000.00
04 Mar e-Transfer sent JOHN 50.00 950.00`

const cardStatement = `American Express
Statement of account
Payment due date 2024-05-01
2024-04-02 AIR CANADA 512.00
2024-04-05 PAYMENT THANK YOU 200.00`

type memStore struct {
	entries []Entry
	saves   int
}

func (m *memStore) LoadFingerprints(context.Context) ([]Entry, error) { return m.entries, nil }
func (m *memStore) SaveFingerprints(_ context.Context, e []Entry) error {
	m.entries = e
	m.saves++
	return nil
}

func TestGenerate(t *testing.T) {
	fp := Generate(rbcStatement)
	t.Logf("%+v", fp)
	if fp.DateFormat != "MMM DD" {
		t.Errorf("DateFormat = %q", fp.DateFormat)
	}
	if fp.LinePattern != "0-50" {
		t.Errorf("LinePattern = %q", fp.LinePattern)
	}
	if len(fp.HeaderHash) != 8 {
		t.Errorf("HeaderHash = %q", fp.HeaderHash)
	}
	if fp.Signature != strings.ToLower(fp.Signature) || strings.Contains(fp.Signature, "\n") {
		t.Errorf("signature not normalized: %q", fp.Signature)
	}
	if len([]rune(fp.Signature)) > signatureLength {
		t.Errorf("signature too long: %d", len(fp.Signature))
	}
	if got := Generate(cardStatement).DateFormat; got != "YYYY-MM-DD" {
		t.Errorf("card DateFormat = %q", got)
	}
	if Generate(rbcStatement) != fp {
		t.Errorf("Generate is not deterministic")
	}
}

func TestSimilarity(t *testing.T) {
	a := Generate(rbcStatement)
	if got := Similarity(a, a); got != 100 {
		t.Errorf("self similarity = %d", got)
	}
	b := Generate(cardStatement)
	if got := Similarity(a, b); got >= DefaultThreshold {
		t.Errorf("different statements scored %d", got)
	}
	// Same layout, a different month's transactions past the header.
	c := Generate(rbcStatement + "\n05 Mar DEPOSIT 10.00 960.00")
	if got := Similarity(a, c); got < DefaultThreshold {
		t.Errorf("same layout scored %d", got)
	}
}

func TestRegistry_LearnRecallForget(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	r, err := NewRegistry(ctx, store, 0)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	fp := Generate(rbcStatement)
	if _, ok := r.Recall(fp); ok {
		t.Fatal("empty registry recalled something")
	}

	choice := Choice{Parser: "rbc-chequing", Brand: "RBC", AccountKind: models.AccountAsset, Account: "1000"}
	if _, err := r.Learn(ctx, fp, choice); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	e, err := r.Learn(ctx, Generate(rbcStatement+"\n05 Mar DEPOSIT 10.00 960.00"), choice)
	if err != nil {
		t.Fatalf("Learn: %v", err)
	}
	if e.Uploads != 2 || len(r.Entries()) != 1 {
		t.Errorf("similar statement should update: uploads=%d entries=%d", e.Uploads, len(r.Entries()))
	}

	rec, ok := r.Recall(fp)
	if !ok || rec.Parser != "rbc-chequing" || rec.Uploads != 2 || rec.Similarity < DefaultThreshold {
		t.Errorf("recall: %+v %v", rec, ok)
	}
	if _, ok := r.Recall(Generate(cardStatement)); ok {
		t.Errorf("unrelated statement recalled")
	}

	if _, err := r.Learn(ctx, Generate(cardStatement), Choice{Parser: "amex", Brand: "Amex", AccountKind: models.AccountLiability}); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	s := r.Stats()
	if s.TotalLearned != 2 || s.ByBrand["RBC"] != 1 || s.AverageUploads != 1.5 {
		t.Errorf("stats: %+v", s)
	}

	removed, err := r.Forget(ctx, fp)
	if err != nil || !removed {
		t.Fatalf("Forget: %v %v", removed, err)
	}
	if _, ok := r.Recall(fp); ok {
		t.Errorf("forgotten entry recalled")
	}
	if len(store.entries) != 1 || store.saves != 4 {
		t.Errorf("store: entries=%d saves=%d", len(store.entries), store.saves)
	}

	reloaded, err := NewRegistry(ctx, store, 0)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, ok := reloaded.Recall(Generate(cardStatement)); !ok {
		t.Errorf("persisted entry not recalled after reload")
	}
}
