package models

import "time"

// Association maps a normalized description key to a category and ledger
// account. Count is how many times the mapping was observed or confirmed.
type Association struct {
	Key        string    `json:"key" yaml:"key"`
	Category   string    `json:"category" yaml:"category"`
	Account    string    `json:"account" yaml:"account"`
	Confidence float64   `json:"confidence" yaml:"confidence"`
	Count      int       `json:"count" yaml:"count"`
	Patterns   []string  `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt" yaml:"updatedAt"`
}
