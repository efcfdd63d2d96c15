package matcher

import (
	_ "embed"
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/insightdelivered/statement-ledger/internal/normalize"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Rule maps a set of keywords to a category and ledger account.
type Rule struct {
	Name     string   `yaml:"name" json:"name"`
	Category string   `yaml:"category" json:"category"`
	Account  string   `yaml:"account" json:"account"`
	Keywords []string `yaml:"keywords" json:"keywords"`

	patterns []*regexp.Regexp
}

// RuleSet is an ordered rule table. The first matching rule wins.
type RuleSet struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// DefaultRules returns the embedded rule table.
func DefaultRules() *RuleSet {
	rs, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("matcher: embedded rules: %v", err))
	}
	return rs
}

// LoadRules reads a YAML rule table.
func LoadRules(r io.Reader) (*RuleSet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and compiles a YAML rule table.
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if r.Category == "" {
			return nil, fmt.Errorf("rule %d (%s): missing category", i, r.Name)
		}
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("rule %d (%s): no keywords", i, r.Name)
		}
		r.compile()
	}
	return &rs, nil
}

func (r *Rule) compile() {
	r.patterns = r.patterns[:0]
	for _, kw := range r.Keywords {
		kw = strings.ToUpper(strings.TrimSpace(normalize.Fold(kw)))
		if kw == "" {
			continue
		}
		r.patterns = append(r.patterns, regexp.MustCompile(`(^|[^A-Z0-9])`+regexp.QuoteMeta(kw)+`($|[^A-Z0-9])`))
	}
}

// Match returns the first rule with a keyword in desc.
func (rs *RuleSet) Match(desc string) (Rule, bool) {
	if rs == nil {
		return Rule{}, false
	}
	s := strings.ToUpper(normalize.Fold(desc))
	for _, r := range rs.Rules {
		for _, p := range r.patterns {
			if p.MatchString(s) {
				return r, true
			}
		}
	}
	return Rule{}, false
}

// AccountFor returns the account of the first rule with the given category.
func (rs *RuleSet) AccountFor(category string) string {
	if rs == nil {
		return ""
	}
	for _, r := range rs.Rules {
		if strings.EqualFold(r.Category, category) {
			return r.Account
		}
	}
	return ""
}
