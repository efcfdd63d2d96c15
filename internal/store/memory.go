package store

import (
	"context"
	"sync"

	"github.com/insightdelivered/statement-ledger/internal/fingerprint"
	"github.com/insightdelivered/statement-ledger/internal/ledger"
	"github.com/insightdelivered/statement-ledger/internal/models"
)

// Memory keeps everything in process. It is safe for concurrent use.
type Memory struct {
	mu           sync.Mutex
	history      map[string]models.Association
	accounts     []ledger.Account
	fingerprints []fingerprint.Entry
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{history: map[string]models.Association{}}
}

func (m *Memory) LoadHistory(context.Context) (map[string]models.Association, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.Association, len(m.history))
	for k, a := range m.history {
		a.Patterns = append([]string(nil), a.Patterns...)
		out[k] = a
	}
	return out, nil
}

func (m *Memory) SaveHistory(_ context.Context, history map[string]models.Association) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = make(map[string]models.Association, len(history))
	for k, a := range history {
		a.Patterns = append([]string(nil), a.Patterns...)
		m.history[k] = a
	}
	return nil
}

func (m *Memory) LoadAccounts(context.Context) ([]ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Account(nil), m.accounts...), nil
}

func (m *Memory) SaveAccounts(_ context.Context, accounts []ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := map[string]int{}
	for i, a := range m.accounts {
		idx[a.Code] = i
	}
	for _, a := range accounts {
		if i, ok := idx[a.Code]; ok {
			m.accounts[i] = a
			continue
		}
		idx[a.Code] = len(m.accounts)
		m.accounts = append(m.accounts, a)
	}
	return nil
}

func (m *Memory) LoadFingerprints(context.Context) ([]fingerprint.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]fingerprint.Entry(nil), m.fingerprints...), nil
}

func (m *Memory) SaveFingerprints(_ context.Context, entries []fingerprint.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fingerprints = append([]fingerprint.Entry(nil), entries...)
	return nil
}
