package matcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/insightdelivered/statement-ledger/internal/models"
	"github.com/insightdelivered/statement-ledger/internal/parser"
	"github.com/insightdelivered/statement-ledger/internal/validation"
)

type fakeStore struct {
	mu      sync.Mutex
	loaded  map[string]models.Association
	saved   map[string]models.Association
	saves   int
	savedCh chan struct{}
}

func (s *fakeStore) LoadHistory(context.Context) (map[string]models.Association, error) {
	return s.loaded, nil
}

func (s *fakeStore) SaveHistory(_ context.Context, h map[string]models.Association) error {
	s.mu.Lock()
	s.saved = h
	s.saves++
	s.mu.Unlock()
	if s.savedCh != nil {
		s.savedCh <- struct{}{}
	}
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func newEngine(t *testing.T, store HistoryStore, cfg Config) *Engine {
	t.Helper()
	e, err := New(context.Background(), store, nil, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestClassify_Tiers(t *testing.T) {
	e := newEngine(t, nil, Config{})
	e.Learn("ACME WIDGETS", "Materials and supplies", "8450")
	e.Learn("NORTHWIND LOGISTICS FREIGHT", "Freight", "5700")
	e.Learn("BLUEWATER CONSULTING GROUP", "Consultants", "5305")

	tests := []struct {
		desc       string
		wantMethod string
		wantCat    string
	}{
		{"ACME WIDGETS #42", MethodExact, "Materials and supplies"},
		{"STARBUCKS #123", MethodRule, "Meals & Entertainment"},
		{"SHELL C01234", MethodRule, "Fuel & Oil"},
		{"ACME WIDGETZ", MethodFuzzy, "Materials and supplies"},
		{"NORTHWIND EXPRESS", MethodBayes, "Freight"},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			m, ok := e.Classify(tt.desc)
			if !ok {
				t.Fatalf("no match")
			}
			t.Logf("%s -> %+v", tt.desc, m)
			if m.Method != tt.wantMethod || m.Category != tt.wantCat {
				t.Errorf("got %s/%s, want %s/%s", m.Method, m.Category, tt.wantMethod, tt.wantCat)
			}
			if m.Confidence <= 0 || m.Confidence > 1 {
				t.Errorf("confidence out of range: %.3f", m.Confidence)
			}
		})
	}

	if _, ok := e.Classify("ZZYZX QQQ"); ok {
		t.Errorf("expected no match for unknown vendor")
	}
}

func TestClassify_ExactBeatsRule(t *testing.T) {
	e := newEngine(t, nil, Config{})
	e.Learn("STARBUCKS", "Office supplies and postage", "8600")

	m, ok := e.Classify("STARBUCKS #123")
	if !ok {
		t.Fatal("no match")
	}
	if m.Method != MethodExact || m.Category != "Office supplies and postage" {
		t.Errorf("got %+v, want exact association", m)
	}
}

func TestClassify_RuleConfidence(t *testing.T) {
	e := newEngine(t, nil, Config{})
	m, ok := e.Classify("STARBUCKS #123")
	if !ok {
		t.Fatal("no match")
	}
	if m.Account != "6415" || m.Confidence != ruleConfidence {
		t.Errorf("got %+v", m)
	}
}

func TestBayes_NeedsTwoClasses(t *testing.T) {
	e := newEngine(t, nil, Config{})
	e.Learn("NORTHWIND LOGISTICS FREIGHT", "Freight", "5700")
	if m, ok := e.Classify("NORTHWIND EXPRESS"); ok {
		t.Errorf("single learned class should not predict, got %+v", m)
	}
}

func TestConfidenceMonotonic(t *testing.T) {
	once := newEngine(t, nil, Config{})
	once.Learn("ACME WIDGETS", "Materials", "8450")

	five := newEngine(t, nil, Config{})
	for range 5 {
		five.Learn("ACME WIDGETS", "Materials", "8450")
	}

	m1, _ := once.Classify("ACME WIDGETS")
	m5, _ := five.Classify("ACME WIDGETS")
	if m5.Confidence < m1.Confidence {
		t.Errorf("5 observations %.2f < 1 observation %.2f", m5.Confidence, m1.Confidence)
	}
	prev := 0.0
	for n := 0; n <= 10; n++ {
		c := countConfidence(n)
		if c < prev {
			t.Errorf("countConfidence(%d) = %.2f decreased", n, c)
		}
		prev = c
	}
}

func TestLearn_NeverDowngrades(t *testing.T) {
	e := newEngine(t, nil, Config{})
	e.Learn("AIR CANADA 0142", "Travel", "")
	e.Learn("AIR CANADA 0142", Uncategorized, "")

	a, ok := e.Lookup("AIR CANADA")
	if !ok {
		t.Fatal("association missing")
	}
	if a.Category != "Travel" || a.Count != 1 {
		t.Errorf("got %+v, want Travel kept with count 1", a)
	}
	if a.Account != "9200" {
		t.Errorf("account = %q, want 9200 from rules", a.Account)
	}

	e.Learn("MYSTERY SHOP", Uncategorized, "")
	e.Learn("MYSTERY SHOP", "Office Supplies", "")
	if a, _ := e.Lookup("MYSTERY SHOP"); a.Category != "Office Supplies" {
		t.Errorf("placeholder not overwritten: %+v", a)
	}

	e.Learn("AIR CANADA", "Travel", "")
	if a, _ := e.Lookup("AIR CANADA"); a.Count != 2 || a.Confidence != exactHighConfidence {
		t.Errorf("reinforce: got %+v", a)
	}
}

func TestCorrect(t *testing.T) {
	e := newEngine(t, nil, Config{})
	tx := models.Transaction{ID: "t1", Description: "BLUE DOOR STUDIO", Debit: 80, Status: models.StatusUnmatched}
	e.Correct(&tx, "Professional Fees", "")

	if tx.Status != models.StatusManual || tx.Confidence != 1 || tx.CategoryName() != "Professional Fees" || tx.AccountCode() != "8700" {
		t.Errorf("corrected tx: %+v", tx)
	}
	m, ok := e.Classify("BLUE DOOR STUDIO")
	if !ok || m.Method != MethodExact {
		t.Errorf("correction not learned: %+v %v", m, ok)
	}
}

func TestBatchPredict(t *testing.T) {
	e := newEngine(t, nil, Config{})
	manualCat, manualAcct := "Rent", "8720"
	txs := []models.Transaction{
		{ID: "1", Description: "STARBUCKS #123", Debit: 4.75, Status: models.StatusUnmatched},
		{ID: "2", Description: "ZZYZX QQQ", Debit: 10, Status: models.StatusUnmatched},
		{ID: "3", Description: "STARBUCKS #9", Debit: 3, Status: models.StatusManual, Category: &manualCat, AllocatedAccount: &manualAcct, Confidence: 1},
	}
	out := e.BatchPredict(txs)
	if len(out) != 3 {
		t.Fatalf("got %d transactions", len(out))
	}
	if out[0].Status != models.StatusMatched || out[0].CategoryName() != "Meals & Entertainment" || out[0].Method != MethodRule {
		t.Errorf("tx1: %+v", out[0])
	}
	if out[1].Status != models.StatusUnmatched || out[1].AccountCode() != SuspenseAccount || out[1].Confidence != 0 {
		t.Errorf("tx2: %+v", out[1])
	}
	if out[2].CategoryName() != "Rent" || out[2].Status != models.StatusManual {
		t.Errorf("manual tx touched: %+v", out[2])
	}
}

func TestClusters(t *testing.T) {
	e := newEngine(t, nil, Config{})
	txs := []models.Transaction{
		{ID: "a", Description: "ZORB SERVICES 001", Status: models.StatusUnmatched},
		{ID: "b", Description: "ZORB SERVICES 002", Status: models.StatusUnmatched},
		{ID: "c", Description: "Zorb Services #3", Status: models.StatusUnmatched},
		{ID: "d", Description: "QUUX LTD", Status: models.StatusUnmatched},
		{ID: "e", Description: "QUUX", Status: models.StatusUnmatched},
		{ID: "f", Description: "ZORB SERVICES 004", Status: models.StatusManual},
	}
	got := e.Clusters(txs)
	if len(got) != 1 {
		t.Fatalf("clusters: got %d, want 1: %+v", len(got), got)
	}
	c := got[0]
	if c.Leader != "ZORB SERVICES" || c.Count != 3 || c.Signature != "ZORB SERVICES" {
		t.Errorf("cluster: %+v", c)
	}
}

func TestConsolidate(t *testing.T) {
	e := newEngine(t, nil, Config{})
	for range 3 {
		e.Learn("STARBUCKS COFFEE", "Meals & Entertainment", "6415")
	}
	e.Learn("STARBUCKS COFFE", "Meals & Entertainment", "6415")
	e.Learn("HOME DEPOT", "Repairs & Maintenance", "8800")

	rep := e.Consolidate(0)
	if rep.Before != 3 || rep.After != 2 || len(rep.Merges) != 1 {
		t.Fatalf("report: %+v", rep)
	}
	if m := rep.Merges[0]; m.Survivor != "STARBUCKS COFFEE" || m.Count != 4 {
		t.Errorf("merge: %+v", m)
	}
	a, ok := e.Lookup("STARBUCKS COFFEE")
	if !ok || a.Count != 4 {
		t.Errorf("survivor: %+v", a)
	}
	if _, ok := e.Lookup("STARBUCKS COFFE"); ok {
		t.Errorf("absorbed key still present")
	}
	if len(a.Patterns) < 2 {
		t.Errorf("patterns not unioned: %v", a.Patterns)
	}
}

func TestDebouncedSave(t *testing.T) {
	store := &fakeStore{savedCh: make(chan struct{}, 4)}
	e := newEngine(t, store, Config{SaveDebounce: 20 * time.Millisecond})

	e.Learn("ACME WIDGETS", "Materials", "8450")
	e.Learn("ACME WIDGETS", "Materials", "8450")
	e.Learn("HOME DEPOT", "Repairs & Maintenance", "8800")

	select {
	case <-store.savedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("history was never saved")
	}
	time.Sleep(60 * time.Millisecond)
	if n := store.count(); n != 1 {
		t.Errorf("saves = %d, want 1", n)
	}
	if len(store.saved) != 2 {
		t.Errorf("saved %d associations, want 2", len(store.saved))
	}
}

func TestFlushAndClose(t *testing.T) {
	store := &fakeStore{loaded: map[string]models.Association{
		"AIR CANADA": {Category: "Travel", Account: "9200", Count: 3},
	}}
	e, err := New(context.Background(), store, nil, Config{SaveDebounce: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m, ok := e.Classify("AIR CANADA"); !ok || m.Method != MethodExact || m.Confidence != exactHighConfidence {
		t.Errorf("loaded history not used: %+v", m)
	}

	e.Learn("ACME WIDGETS", "Materials", "8450")
	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if store.count() != 1 || len(store.saved) != 2 {
		t.Errorf("flush: saves=%d saved=%d", store.count(), len(store.saved))
	}
	if err := e.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := e.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Flush after Close: got %v, want ErrClosed", err)
	}
}

func TestCloseStopsSaving(t *testing.T) {
	store := &fakeStore{savedCh: make(chan struct{}, 4)}
	e := newEngine(t, store, Config{SaveDebounce: 20 * time.Millisecond})

	e.Learn("ACME WIDGETS", "Materials", "8450")
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := store.count(); n != 1 {
		t.Fatalf("saves after Close = %d, want 1", n)
	}

	e.Learn("HOME DEPOT", "Repairs & Maintenance", "8800")
	time.Sleep(80 * time.Millisecond)
	if n := store.count(); n != 1 {
		t.Errorf("saves = %d after learning on a closed engine, want 1", n)
	}
	if _, ok := e.Lookup("HOME DEPOT"); !ok {
		t.Error("closed engine dropped the in-memory correction")
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestEndToEnd_Starbucks(t *testing.T) {
	now := func() time.Time { return time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC) }
	p, err := parser.New("generic", parser.Options{Now: now})
	if err != nil {
		t.Fatalf("parser.New: %v", err)
	}
	res, err := p.Parse("Apr 01 STARBUCKS #123 4.75", nil, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	v := validation.New(validation.DefaultConfig())
	v.Now = now
	out, err := v.Validate(res)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	e := newEngine(t, nil, Config{})
	txs := e.BatchPredict(out.Transactions)
	if len(txs) != 1 {
		t.Fatalf("transactions: got %d, want 1", len(txs))
	}
	tx := txs[0]
	t.Logf("%+v", tx)
	if tx.Date != "2024-04-01" || tx.Description != "STARBUCKS #123" || tx.Debit != 4.75 || tx.Credit != 0 {
		t.Errorf("transaction: %+v", tx)
	}
	if tx.CategoryName() != "Meals & Entertainment" {
		t.Errorf("category = %q", tx.CategoryName())
	}
}
