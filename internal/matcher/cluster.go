package matcher

import (
	"sort"
	"strings"

	"github.com/insightdelivered/statement-ledger/internal/models"
	"github.com/insightdelivered/statement-ledger/internal/normalize"
)

// Cluster is a group of similar unmatched descriptions, a candidate for a
// new rule. Clusters never assign categories.
type Cluster struct {
	Leader    string   `json:"leader"`
	Signature string   `json:"signature"`
	Count     int      `json:"count"`
	IDs       []string `json:"ids"`
	Samples   []string `json:"samples"`
}

const maxSamples = 5

// Clusters groups the unmatched transactions of txs with a leader
// algorithm: each description joins the first cluster whose leader it
// resembles, or starts a new one. Only clusters of at least
// Config.MinClusterSize are returned, largest first.
func (e *Engine) Clusters(txs []models.Transaction) []Cluster {
	var clusters []*Cluster
	for _, tx := range txs {
		if !isUnmatched(tx) {
			continue
		}
		key := normalize.Key(tx.Description)
		if key == "" {
			continue
		}
		var home *Cluster
		for _, c := range clusters {
			if normalize.TokenSimilarity(key, c.Leader) >= e.cfg.ClusterSimilarity {
				home = c
				break
			}
		}
		if home == nil {
			home = &Cluster{Leader: key, Signature: signature(key)}
			clusters = append(clusters, home)
		}
		home.Count++
		home.IDs = append(home.IDs, tx.ID)
		if len(home.Samples) < maxSamples {
			home.Samples = append(home.Samples, tx.Description)
		}
	}

	out := make([]Cluster, 0, len(clusters))
	for _, c := range clusters {
		if c.Count >= e.cfg.MinClusterSize {
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Leader < out[j].Leader
	})
	return out
}

func isUnmatched(tx models.Transaction) bool {
	if tx.Status == models.StatusManual || tx.Status == models.StatusReviewed {
		return false
	}
	return tx.Status == models.StatusUnmatched || isPlaceholder(tx.CategoryName())
}

// signature is the first two tokens of a key, the suggested rule keyword.
func signature(key string) string {
	f := strings.Fields(key)
	if len(f) > 2 {
		f = f[:2]
	}
	return strings.Join(f, " ")
}
