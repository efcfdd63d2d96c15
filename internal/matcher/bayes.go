package matcher

import (
	"sort"
	"strings"

	"github.com/jbrukh/bayesian"

	"github.com/insightdelivered/statement-ledger/internal/models"
)

// maxRepeats caps how often one association is fed to the classifier.
const maxRepeats = 5

// bayesModel is a naive Bayes classifier over description tokens, trained
// from the learned associations. It is rebuilt whenever history changes.
type bayesModel struct {
	cl       *bayesian.Classifier
	known    map[string]bool
	accounts map[string]string // category -> most recent account
}

func tokens(key string) []string {
	var out []string
	for _, t := range strings.Fields(key) {
		if len(t) >= 3 {
			out = append(out, t)
		}
	}
	return out
}

// trainBayes returns nil when fewer than two categories have been learned.
func trainBayes(history map[string]models.Association) *bayesModel {
	keys := make([]string, 0, len(history))
	for k := range history {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m := &bayesModel{known: map[string]bool{}, accounts: map[string]string{}}
	latest := map[string]models.Association{}
	var classes []bayesian.Class
	for _, k := range keys {
		a := history[k]
		if isPlaceholder(a.Category) || len(tokens(a.Key)) == 0 {
			continue
		}
		if _, ok := latest[a.Category]; !ok {
			classes = append(classes, bayesian.Class(a.Category))
		}
		if prev, ok := latest[a.Category]; !ok || a.UpdatedAt.After(prev.UpdatedAt) {
			latest[a.Category] = a
		}
	}
	if len(classes) < 2 {
		return nil
	}
	for cat, a := range latest {
		m.accounts[cat] = a.Account
	}

	m.cl = bayesian.NewClassifier(classes...)
	for _, k := range keys {
		a := history[k]
		if isPlaceholder(a.Category) {
			continue
		}
		doc := tokens(a.Key)
		if len(doc) == 0 {
			continue
		}
		for _, t := range doc {
			m.known[t] = true
		}
		for range min(max(a.Count, 1), maxRepeats) {
			m.cl.Learn(doc, bayesian.Class(a.Category))
		}
	}
	return m
}

// predict returns the most probable category and its posterior. At least
// one token must have been seen in training.
func (m *bayesModel) predict(key string) (string, float64, bool) {
	if m == nil {
		return "", 0, false
	}
	doc := tokens(key)
	seen := false
	for _, t := range doc {
		if m.known[t] {
			seen = true
			break
		}
	}
	if !seen {
		return "", 0, false
	}
	scores, inx, strict := m.cl.ProbScores(doc)
	if !strict {
		return "", 0, false
	}
	return string(m.cl.Classes[inx]), scores[inx], true
}
