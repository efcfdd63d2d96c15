// Package ledger turns categorized statement transactions into double
// entry postings against a chart of accounts and summarizes them.
package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed chart.yaml
var defaultChartYAML []byte

// ErrUnknownAccount is returned for codes missing from the chart.
var ErrUnknownAccount = errors.New("unknown account")

// AccountType is the ledger class of an account.
type AccountType string

const (
	Asset     AccountType = "asset"
	Liability AccountType = "liability"
	Equity    AccountType = "equity"
	Revenue   AccountType = "revenue"
	Expense   AccountType = "expense"
)

// DebitNormal reports whether debits increase accounts of this type.
func (t AccountType) DebitNormal() bool {
	return t == Asset || t == Expense
}

// TypeForCode infers the account type from its code range.
func TypeForCode(code string) AccountType {
	if code == "" {
		return Expense
	}
	switch code[0] {
	case '1':
		return Asset
	case '2':
		return Liability
	case '3':
		return Equity
	case '4':
		return Revenue
	}
	return Expense
}

// Account is one chart entry.
type Account struct {
	Code string      `yaml:"code" json:"code"`
	Name string      `yaml:"name" json:"name"`
	Type AccountType `yaml:"type,omitempty" json:"type"`
}

// AccountStore supplies the chart of accounts.
type AccountStore interface {
	LoadAccounts(ctx context.Context) ([]Account, error)
}

// Chart is an immutable, code-indexed chart of accounts.
type Chart struct {
	accounts []Account
	byCode   map[string]Account
}

// NewChart indexes accounts. Duplicate codes keep the first entry.
func NewChart(accounts []Account) *Chart {
	c := &Chart{byCode: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		a.Code = strings.TrimSpace(a.Code)
		if a.Code == "" {
			continue
		}
		if _, dup := c.byCode[a.Code]; dup {
			continue
		}
		if a.Type == "" {
			a.Type = TypeForCode(a.Code)
		}
		c.byCode[a.Code] = a
		c.accounts = append(c.accounts, a)
	}
	sort.Slice(c.accounts, func(i, j int) bool { return c.accounts[i].Code < c.accounts[j].Code })
	return c
}

// DefaultChart returns the embedded chart.
func DefaultChart() *Chart {
	c, err := ParseChart(defaultChartYAML)
	if err != nil {
		panic(fmt.Sprintf("ledger: embedded chart: %v", err))
	}
	return c
}

// LoadChart reads a YAML chart.
func LoadChart(r io.Reader) (*Chart, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading chart: %w", err)
	}
	return ParseChart(data)
}

// ParseChart decodes a YAML chart.
func ParseChart(data []byte) (*Chart, error) {
	var doc struct {
		Accounts []Account `yaml:"accounts"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing chart: %w", err)
	}
	if len(doc.Accounts) == 0 {
		return nil, errors.New("parsing chart: no accounts")
	}
	return NewChart(doc.Accounts), nil
}

// ChartFromStore loads the chart from an AccountStore.
func ChartFromStore(ctx context.Context, s AccountStore) (*Chart, error) {
	accounts, err := s.LoadAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading accounts: %w", err)
	}
	return NewChart(accounts), nil
}

// GetAccountByCode looks an account up.
func (c *Chart) GetAccountByCode(code string) (Account, bool) {
	a, ok := c.byCode[strings.TrimSpace(code)]
	return a, ok
}

// Accounts returns the chart sorted by code.
func (c *Chart) Accounts() []Account {
	return append([]Account(nil), c.accounts...)
}

// LoadAccounts lets a Chart serve as an AccountStore.
func (c *Chart) LoadAccounts(context.Context) ([]Account, error) {
	return c.Accounts(), nil
}
