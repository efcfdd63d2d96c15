package matcher

import (
	"sort"

	"github.com/insightdelivered/statement-ledger/internal/normalize"
)

// Merge records one survivor and the keys folded into it.
type Merge struct {
	Survivor string   `json:"survivor"`
	Absorbed []string `json:"absorbed"`
	Category string   `json:"category"`
	Count    int      `json:"count"`
}

// ConsolidationReport summarizes a Consolidate run.
type ConsolidationReport struct {
	Before int     `json:"before"`
	After  int     `json:"after"`
	Merges []Merge `json:"merges"`
}

// Consolidate merges learned keys whose similarity is at least threshold.
// The key with the higher count survives, keeping its category and
// account; patterns are unioned and counts summed. A threshold of 0 uses
// Config.ConsolidateThreshold. It only runs when called.
func (e *Engine) Consolidate(threshold float64) ConsolidationReport {
	if threshold <= 0 {
		threshold = e.cfg.ConsolidateThreshold
	}

	e.mu.Lock()
	keys := sortedKeys(e.history)
	sort.SliceStable(keys, func(i, j int) bool {
		return e.history[keys[i]].Count > e.history[keys[j]].Count
	})

	report := ConsolidationReport{Before: len(e.history)}
	gone := map[string]bool{}
	for i, sk := range keys {
		if gone[sk] {
			continue
		}
		survivor := e.history[sk]
		var absorbed []string
		for _, cand := range keys[i+1:] {
			if gone[cand] || normalize.Similarity(sk, cand) < threshold {
				continue
			}
			other := e.history[cand]
			survivor.Count += other.Count
			for _, p := range other.Patterns {
				survivor.Patterns = addPattern(survivor.Patterns, p)
			}
			survivor.Patterns = addPattern(survivor.Patterns, other.Key)
			if other.UpdatedAt.After(survivor.UpdatedAt) {
				survivor.UpdatedAt = other.UpdatedAt
			}
			gone[cand] = true
			absorbed = append(absorbed, cand)
		}
		if len(absorbed) == 0 {
			continue
		}
		survivor.Confidence = countConfidence(survivor.Count)
		e.history[sk] = survivor
		for _, k := range absorbed {
			delete(e.history, k)
		}
		report.Merges = append(report.Merges, Merge{Survivor: sk, Absorbed: absorbed, Category: survivor.Category, Count: survivor.Count})
	}
	report.After = len(e.history)
	if len(report.Merges) > 0 {
		e.stale = true
	}
	e.mu.Unlock()

	if len(report.Merges) > 0 {
		e.log.Info().Int("before", report.Before).Int("after", report.After).Msg("vendors consolidated")
		e.scheduleSave()
	}
	return report
}
