// Package matcher assigns categories and ledger accounts to transactions.
//
// Classification is a cascade: an exact lookup against learned
// associations, then the keyword rule table, then fuzzy matching against
// learned keys, then a naive Bayes guess over learned tokens. The first
// tier that answers wins. User corrections feed back into the learned
// associations, which are persisted through a HistoryStore after a short
// debounce.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/insightdelivered/statement-ledger/internal/models"
	"github.com/insightdelivered/statement-ledger/internal/normalize"
)

// Cascade tiers, reported in Match.Method and Transaction.Method.
const (
	MethodExact = "exact"
	MethodRule  = "rule"
	MethodFuzzy = "fuzzy"
	MethodBayes = "bayes"
	MethodUser  = "user"
)

// Fallback allocation for transactions no tier could place.
const (
	SuspenseAccount = "9970"
	Uncategorized   = "Uncategorized"
)

const (
	exactHighConfidence   = 0.95
	exactMediumConfidence = 0.75
	ruleConfidence        = 0.85
	fuzzyDamping          = 0.9
	bayesDamping          = 0.7
	maxPatterns           = 20
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("matcher: engine closed")

// HistoryStore persists learned associations.
type HistoryStore interface {
	LoadHistory(ctx context.Context) (map[string]models.Association, error)
	SaveHistory(ctx context.Context, history map[string]models.Association) error
}

// Config tunes the cascade.
type Config struct {
	// FuzzyThreshold is the minimum key similarity for the fuzzy tier.
	FuzzyThreshold float64
	// BayesThreshold is the minimum posterior for the Bayes tier.
	BayesThreshold float64
	// ConsolidateThreshold is the default similarity for Consolidate.
	ConsolidateThreshold float64
	// ClusterSimilarity is the token similarity a description needs to
	// join a cluster.
	ClusterSimilarity float64
	// MinClusterSize is the smallest cluster Clusters reports.
	MinClusterSize int
	// SaveDebounce delays persistence after a correction.
	SaveDebounce time.Duration
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		FuzzyThreshold:       0.8,
		BayesThreshold:       0.9,
		ConsolidateThreshold: 0.85,
		ClusterSimilarity:    0.7,
		MinClusterSize:       3,
		SaveDebounce:         2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FuzzyThreshold == 0 {
		c.FuzzyThreshold = d.FuzzyThreshold
	}
	if c.BayesThreshold == 0 {
		c.BayesThreshold = d.BayesThreshold
	}
	if c.ConsolidateThreshold == 0 {
		c.ConsolidateThreshold = d.ConsolidateThreshold
	}
	if c.ClusterSimilarity == 0 {
		c.ClusterSimilarity = d.ClusterSimilarity
	}
	if c.MinClusterSize == 0 {
		c.MinClusterSize = d.MinClusterSize
	}
	if c.SaveDebounce == 0 {
		c.SaveDebounce = d.SaveDebounce
	}
	return c
}

// Match is the answer of one cascade tier.
type Match struct {
	Category   string  `json:"category"`
	Account    string  `json:"account"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
	// Key is the learned key or rule name that produced the match.
	Key string `json:"key,omitempty"`
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg   Config
	rules *RuleSet
	store HistoryStore
	log   zerolog.Logger
	now   func() time.Time

	mu      sync.Mutex
	history map[string]models.Association
	bayes   *bayesModel
	stale   bool // bayes needs retraining

	saveMu sync.Mutex
	timer  *time.Timer
	dirty  bool
	closed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithClock sets the clock used for UpdatedAt stamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New builds an engine and loads history from store. A nil store keeps
// learning in memory only; nil rules uses the embedded table.
func New(ctx context.Context, store HistoryStore, rules *RuleSet, cfg Config, opts ...Option) (*Engine, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	e := &Engine{
		cfg:     cfg.withDefaults(),
		rules:   rules,
		store:   store,
		now:     time.Now,
		history: map[string]models.Association{},
		stale:   true,
	}
	for _, o := range opts {
		o(e)
	}
	if store != nil {
		h, err := store.LoadHistory(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading history: %w", err)
		}
		for k, a := range h {
			if k == "" {
				continue
			}
			a.Key = k
			e.history[k] = a
		}
	}
	e.log.Debug().Int("associations", len(e.history)).Int("rules", len(rules.Rules)).Msg("matcher ready")
	return e, nil
}

// Rules returns the rule table in use.
func (e *Engine) Rules() *RuleSet { return e.rules }

// Classify runs the cascade over a description.
func (e *Engine) Classify(desc string) (Match, bool) {
	key := normalize.Key(desc)
	if key == "" {
		return Match{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if a, ok := e.history[key]; ok && !isPlaceholder(a.Category) {
		return Match{Category: a.Category, Account: a.Account, Confidence: countConfidence(a.Count), Method: MethodExact, Key: key}, true
	}
	if r, ok := e.rules.Match(desc); ok {
		return Match{Category: r.Category, Account: r.Account, Confidence: ruleConfidence, Method: MethodRule, Key: r.Name}, true
	}
	if m, ok := e.fuzzyLocked(key); ok {
		return m, true
	}
	if m, ok := e.bayesLocked(key); ok {
		return m, true
	}
	return Match{}, false
}

// ClassifyTransaction runs the cascade over a transaction's description.
func (e *Engine) ClassifyTransaction(tx models.Transaction) (Match, bool) {
	return e.Classify(tx.Description)
}

func (e *Engine) fuzzyLocked(key string) (Match, bool) {
	var best models.Association
	bestSim := 0.0
	for _, k := range sortedKeys(e.history) {
		a := e.history[k]
		if isPlaceholder(a.Category) {
			continue
		}
		if sim := normalize.Similarity(key, k); sim > bestSim {
			best, bestSim = a, sim
		}
	}
	if bestSim < e.cfg.FuzzyThreshold {
		return Match{}, false
	}
	return Match{Category: best.Category, Account: best.Account, Confidence: bestSim * fuzzyDamping, Method: MethodFuzzy, Key: best.Key}, true
}

func (e *Engine) bayesLocked(key string) (Match, bool) {
	if e.stale {
		e.bayes = trainBayes(e.history)
		e.stale = false
	}
	cat, p, ok := e.bayes.predict(key)
	if !ok || p < e.cfg.BayesThreshold {
		return Match{}, false
	}
	return Match{Category: cat, Account: e.bayes.accounts[cat], Confidence: p * bayesDamping, Method: MethodBayes}, true
}

// countConfidence is non-decreasing in the observation count.
func countConfidence(count int) float64 {
	if count >= 2 {
		return exactHighConfidence
	}
	return exactMediumConfidence
}

func isPlaceholder(category string) bool {
	c := strings.TrimSpace(category)
	return c == "" || strings.EqualFold(c, Uncategorized) || strings.EqualFold(c, "Misc") || strings.EqualFold(c, "Miscellaneous")
}

// Learn records that desc belongs to category. An empty account is filled
// from the rule table. Repeating a mapping reinforces it; a placeholder
// category never replaces a specific one.
func (e *Engine) Learn(desc, category, account string) {
	key := normalize.Key(desc)
	if key == "" {
		return
	}
	category = strings.TrimSpace(category)
	if account == "" {
		account = e.rules.AccountFor(category)
	}

	e.mu.Lock()
	changed := e.learnLocked(key, desc, category, account)
	e.mu.Unlock()

	if changed {
		e.scheduleSave()
	}
}

func (e *Engine) learnLocked(key, desc, category, account string) bool {
	now := e.now()
	a, exists := e.history[key]
	switch {
	case !exists:
		a = models.Association{Key: key, Category: category, Account: account, Count: 1}
	case strings.EqualFold(a.Category, category):
		a.Count++
		if account != "" {
			a.Account = account
		}
	case isPlaceholder(category) && !isPlaceholder(a.Category):
		e.log.Debug().Str("key", key).Str("kept", a.Category).Msg("ignoring downgrade to placeholder")
		return false
	default:
		e.log.Debug().Str("key", key).Str("from", a.Category).Str("to", category).Msg("association overwritten")
		a.Category, a.Account, a.Count = category, account, 1
	}
	a.Patterns = addPattern(a.Patterns, strings.TrimSpace(desc))
	a.Confidence = countConfidence(a.Count)
	a.UpdatedAt = now
	e.history[key] = a
	e.stale = true
	return true
}

func addPattern(patterns []string, p string) []string {
	if p == "" {
		return patterns
	}
	for _, x := range patterns {
		if strings.EqualFold(x, p) {
			return patterns
		}
	}
	if len(patterns) >= maxPatterns {
		return patterns
	}
	return append(patterns, p)
}

// Correct applies a user's category and account to tx and learns from it.
func (e *Engine) Correct(tx *models.Transaction, category, account string) {
	if account == "" {
		account = e.rules.AccountFor(category)
	}
	cat, acct := category, account
	tx.Category = &cat
	tx.AllocatedAccount = &acct
	tx.Confidence = 1
	tx.Method = MethodUser
	tx.Status = models.StatusManual
	e.Learn(tx.Description, category, account)
}

// BatchPredict annotates txs in place and returns them. Manual and
// reviewed transactions are left alone; anything the cascade cannot place
// goes to the suspense account with zero confidence.
func (e *Engine) BatchPredict(txs []models.Transaction) []models.Transaction {
	matched := 0
	for i := range txs {
		tx := &txs[i]
		if tx.Status == models.StatusManual || tx.Status == models.StatusReviewed {
			continue
		}
		m, ok := e.Classify(tx.Description)
		if !ok {
			cat, acct := Uncategorized, SuspenseAccount
			tx.Category, tx.AllocatedAccount = &cat, &acct
			tx.Confidence, tx.Method, tx.Status = 0, "", models.StatusUnmatched
			continue
		}
		cat, acct := m.Category, m.Account
		tx.Category, tx.AllocatedAccount = &cat, &acct
		tx.Confidence, tx.Method, tx.Status = m.Confidence, m.Method, models.StatusMatched
		matched++
	}
	e.log.Debug().Int("transactions", len(txs)).Int("matched", matched).Msg("batch predicted")
	return txs
}

// History returns a copy of the learned associations.
func (e *Engine) History() map[string]models.Association {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyHistory(e.history)
}

// Lookup returns the learned association for a description.
func (e *Engine) Lookup(desc string) (models.Association, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.history[normalize.Key(desc)]
	return a, ok
}

func copyHistory(h map[string]models.Association) map[string]models.Association {
	out := make(map[string]models.Association, len(h))
	for k, a := range h {
		a.Patterns = append([]string(nil), a.Patterns...)
		out[k] = a
	}
	return out
}

func sortedKeys(h map[string]models.Association) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// scheduleSave (re)arms the debounce timer.
func (e *Engine) scheduleSave() {
	if e.store == nil {
		return
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	if e.closed {
		return
	}
	e.dirty = true
	if e.timer == nil {
		e.timer = time.AfterFunc(e.cfg.SaveDebounce, e.debouncedSave)
		return
	}
	e.timer.Reset(e.cfg.SaveDebounce)
}

func (e *Engine) debouncedSave() {
	if err := e.save(context.Background()); err != nil {
		e.log.Error().Err(err).Msg("saving history")
	}
}

func (e *Engine) save(ctx context.Context) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	if !e.dirty || e.store == nil {
		return nil
	}
	snapshot := e.History()
	if err := e.store.SaveHistory(ctx, snapshot); err != nil {
		return fmt.Errorf("saving history: %w", err)
	}
	e.dirty = false
	e.log.Debug().Int("associations", len(snapshot)).Msg("history saved")
	return nil
}

// Flush persists pending changes now.
func (e *Engine) Flush(ctx context.Context) error {
	e.saveMu.Lock()
	if e.closed {
		e.saveMu.Unlock()
		return ErrClosed
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.saveMu.Unlock()
	return e.save(ctx)
}

// Close flushes pending changes and stops further saves. Learning after
// Close updates memory only.
func (e *Engine) Close() error {
	e.saveMu.Lock()
	if e.closed {
		e.saveMu.Unlock()
		return nil
	}
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
	}
	e.saveMu.Unlock()
	return e.save(context.Background())
}
