// Package fingerprint recognizes statement layouts seen before.
//
// A fingerprint is derived from the statement header, its line count and
// the date format it uses. The registry remembers which parser and account
// the user chose for a fingerprint and recalls that choice for similar
// statements later.
package fingerprint

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/insightdelivered/statement-ledger/internal/models"
	"github.com/insightdelivered/statement-ledger/internal/normalize"
)

const (
	headerLength    = 500
	signatureLength = 200
	lineBucketSize  = 50

	// DefaultThreshold is the minimum score, out of 100, for a recall.
	DefaultThreshold = 85
)

// Fingerprint is never mutated once generated.
type Fingerprint struct {
	HeaderHash  string `json:"headerHash"`
	Signature   string `json:"signature"`
	LinePattern string `json:"linePattern"`
	DateFormat  string `json:"dateFormat"`
}

var (
	monDDFormat = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}\b`)
	slashFormat = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`)
	isoFormat   = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
)

// Generate fingerprints statement text.
func Generate(text string) Fingerprint {
	header := normalize.Collapse(strings.ToLower(firstRunes(text, headerLength)))

	lines := strings.Count(text, "\n") + 1
	lo := lines / lineBucketSize * lineBucketSize
	hi := int(math.Ceil(float64(lines)/lineBucketSize)) * lineBucketSize

	format := "unknown"
	switch {
	case monDDFormat.MatchString(text):
		format = "MMM DD"
	case slashFormat.MatchString(text):
		format = "MM/DD/YYYY"
	case isoFormat.MatchString(text):
		format = "YYYY-MM-DD"
	}

	h := fnv.New32a()
	h.Write([]byte(header))
	return Fingerprint{
		HeaderHash:  fmt.Sprintf("%08x", h.Sum32()),
		Signature:   firstRunes(header, signatureLength),
		LinePattern: fmt.Sprintf("%d-%d", lo, hi),
		DateFormat:  format,
	}
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Similarity scores two fingerprints from 0 to 100: 50 for an identical
// header hash, up to 30 for signature similarity, 10 each for matching
// line pattern and date format.
func Similarity(a, b Fingerprint) int {
	score := 0.0
	if a.HeaderHash == b.HeaderHash {
		score += 50
	}
	score += normalize.Similarity(a.Signature, b.Signature) * 30
	if a.LinePattern == b.LinePattern {
		score += 10
	}
	if a.DateFormat == b.DateFormat {
		score += 10
	}
	return int(math.Round(score))
}

// Choice is what the user picked for a statement.
type Choice struct {
	Parser          string             `json:"parser"`
	Brand           string             `json:"brand"`
	AccountKind     models.AccountKind `json:"accountKind"`
	InstitutionCode string             `json:"institutionCode,omitempty"`
	AccountNumber   string             `json:"accountNumber,omitempty"`
	Account         string             `json:"account,omitempty"` // ledger account code
}

// Entry is one learned fingerprint.
type Entry struct {
	ID          string      `json:"id"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Choice      Choice      `json:"choice"`
	Uploads     int         `json:"uploads"`
	Learned     time.Time   `json:"learned"`
	Updated     time.Time   `json:"updated"`
}

// Recall is a registry hit.
type Recall struct {
	Choice
	Uploads    int `json:"uploads"`
	Similarity int `json:"similarity"`
}

// Store persists registry entries.
type Store interface {
	LoadFingerprints(ctx context.Context) ([]Entry, error)
	SaveFingerprints(ctx context.Context, entries []Entry) error
}

// Stats summarizes the registry.
type Stats struct {
	TotalLearned   int            `json:"totalLearned"`
	ByBrand        map[string]int `json:"byBrand"`
	AverageUploads float64        `json:"averageUploads"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	entries   []Entry
	store     Store
	threshold int

	Now func() time.Time
	Log zerolog.Logger
}

// NewRegistry loads entries from store, which may be nil. A threshold of
// 0 uses DefaultThreshold.
func NewRegistry(ctx context.Context, store Store, threshold int) (*Registry, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	r := &Registry{store: store, threshold: threshold, Now: time.Now}
	if store != nil {
		entries, err := store.LoadFingerprints(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading fingerprints: %w", err)
		}
		r.entries = entries
	}
	return r, nil
}

// Learn records choice for fp. A similar existing entry is updated and its
// upload count bumped; otherwise a new entry is added.
func (r *Registry) Learn(ctx context.Context, fp Fingerprint, choice Choice) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.Now()
	for i := range r.entries {
		e := &r.entries[i]
		if sim := Similarity(fp, e.Fingerprint); sim >= r.threshold {
			e.Choice = choice
			e.Uploads++
			e.Updated = now
			r.Log.Debug().Int("similarity", sim).Int("uploads", e.Uploads).Str("brand", choice.Brand).Msg("fingerprint updated")
			return *e, r.saveLocked(ctx)
		}
	}
	e := Entry{ID: uuid.NewString(), Fingerprint: fp, Choice: choice, Uploads: 1, Learned: now, Updated: now}
	r.entries = append(r.entries, e)
	r.Log.Debug().Str("brand", choice.Brand).Str("parser", choice.Parser).Msg("fingerprint learned")
	return e, r.saveLocked(ctx)
}

// Recall returns the most similar entry at or above the threshold.
func (r *Registry) Recall(fp Fingerprint) (Recall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *Entry
	bestScore := 0
	for i := range r.entries {
		if sim := Similarity(fp, r.entries[i].Fingerprint); sim >= r.threshold && sim > bestScore {
			best, bestScore = &r.entries[i], sim
		}
	}
	if best == nil {
		return Recall{}, false
	}
	return Recall{Choice: best.Choice, Uploads: best.Uploads, Similarity: bestScore}, true
}

// Forget removes every entry similar to fp and reports whether any went.
func (r *Registry) Forget(ctx context.Context, fp Fingerprint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	for _, e := range r.entries {
		if Similarity(fp, e.Fingerprint) < r.threshold {
			kept = append(kept, e)
		}
	}
	removed := len(kept) < len(r.entries)
	r.entries = kept
	if !removed {
		return false, nil
	}
	return true, r.saveLocked(ctx)
}

// Clear removes every entry.
func (r *Registry) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	return r.saveLocked(ctx)
}

// Entries returns a copy of the registry.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Stats summarizes the registry.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{TotalLearned: len(r.entries), ByBrand: map[string]int{}}
	uploads := 0
	for _, e := range r.entries {
		s.ByBrand[e.Choice.Brand]++
		uploads += e.Uploads
	}
	if len(r.entries) > 0 {
		s.AverageUploads = float64(uploads) / float64(len(r.entries))
	}
	return s
}

func (r *Registry) saveLocked(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveFingerprints(ctx, append([]Entry(nil), r.entries...)); err != nil {
		return fmt.Errorf("saving fingerprints: %w", err)
	}
	return nil
}
