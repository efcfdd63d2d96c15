// Package store persists learned state: vendor associations, the chart of
// accounts and statement fingerprints. SQLite backs long-running use; the
// memory store serves tests and one-shot CLI runs.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/insightdelivered/statement-ledger/internal/fingerprint"
	"github.com/insightdelivered/statement-ledger/internal/ledger"
	"github.com/insightdelivered/statement-ledger/internal/models"
)

//go:embed schema.sql
var schema string

// DB is a SQLite store.
type DB struct {
	*sql.DB
}

// Open opens or creates the database at the given path and applies the
// schema.
func Open(dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; SQLite serializes anyway.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &DB{db}
	if err := s.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Init creates tables if they don't exist.
func (db *DB) Init() error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// LoadHistory implements matcher.HistoryStore.
func (db *DB) LoadHistory(ctx context.Context) (map[string]models.Association, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT key, category, account, confidence, count, patterns, updated_at
		FROM associations
	`)
	if err != nil {
		return nil, fmt.Errorf("query associations: %w", err)
	}
	defer rows.Close()

	out := map[string]models.Association{}
	for rows.Next() {
		var a models.Association
		var patterns, updated string
		if err := rows.Scan(&a.Key, &a.Category, &a.Account, &a.Confidence, &a.Count, &patterns, &updated); err != nil {
			return nil, fmt.Errorf("scan association: %w", err)
		}
		if err := json.Unmarshal([]byte(patterns), &a.Patterns); err != nil {
			return nil, fmt.Errorf("decode patterns for %q: %w", a.Key, err)
		}
		a.UpdatedAt = parseTime(updated)
		out[a.Key] = a
	}
	return out, rows.Err()
}

// SaveHistory replaces the stored associations with history.
func (db *DB) SaveHistory(ctx context.Context, history map[string]models.Association) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM associations`); err != nil {
		return fmt.Errorf("clear associations: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO associations (key, category, account, confidence, count, patterns, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for key, a := range history {
		patterns, err := json.Marshal(nonNil(a.Patterns))
		if err != nil {
			return fmt.Errorf("encode patterns for %q: %w", key, err)
		}
		if _, err := stmt.ExecContext(ctx, key, a.Category, a.Account, a.Confidence, a.Count, string(patterns), formatTime(a.UpdatedAt)); err != nil {
			return fmt.Errorf("insert association %q: %w", key, err)
		}
	}
	return tx.Commit()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// LoadAccounts implements ledger.AccountStore.
func (db *DB) LoadAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := db.QueryContext(ctx, `SELECT code, name, type FROM accounts ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var a ledger.Account
		if err := rows.Scan(&a.Code, &a.Name, &a.Type); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetAccountByCode returns one account.
func (db *DB) GetAccountByCode(ctx context.Context, code string) (ledger.Account, error) {
	var a ledger.Account
	err := db.QueryRowContext(ctx, `SELECT code, name, type FROM accounts WHERE code = ?`, code).Scan(&a.Code, &a.Name, &a.Type)
	if err == sql.ErrNoRows {
		return a, fmt.Errorf("account %s: %w", code, ledger.ErrUnknownAccount)
	}
	if err != nil {
		return a, fmt.Errorf("query account: %w", err)
	}
	return a, nil
}

// SaveAccounts upserts accounts.
func (db *DB) SaveAccounts(ctx context.Context, accounts []ledger.Account) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, a := range accounts {
		typ := a.Type
		if typ == "" {
			typ = ledger.TypeForCode(a.Code)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (code, name, type) VALUES (?, ?, ?)
			ON CONFLICT(code) DO UPDATE SET name = excluded.name, type = excluded.type
		`, a.Code, a.Name, string(typ)); err != nil {
			return fmt.Errorf("upsert account %s: %w", a.Code, err)
		}
	}
	return tx.Commit()
}

// SeedAccounts stores chart when the accounts table is empty.
func (db *DB) SeedAccounts(ctx context.Context, chart *ledger.Chart) error {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return fmt.Errorf("count accounts: %w", err)
	}
	if n > 0 {
		return nil
	}
	return db.SaveAccounts(ctx, chart.Accounts())
}

// LoadFingerprints implements fingerprint.Store.
func (db *DB) LoadFingerprints(ctx context.Context) ([]fingerprint.Entry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, header_hash, signature, line_pattern, date_format, choice, uploads, learned_at, updated_at
		FROM fingerprints
		ORDER BY learned_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	var entries []fingerprint.Entry
	for rows.Next() {
		var e fingerprint.Entry
		var choice, learned, updated string
		if err := rows.Scan(&e.ID, &e.Fingerprint.HeaderHash, &e.Fingerprint.Signature, &e.Fingerprint.LinePattern,
			&e.Fingerprint.DateFormat, &choice, &e.Uploads, &learned, &updated); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		if err := json.Unmarshal([]byte(choice), &e.Choice); err != nil {
			return nil, fmt.Errorf("decode choice for %s: %w", e.ID, err)
		}
		e.Learned, e.Updated = parseTime(learned), parseTime(updated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveFingerprints replaces the stored fingerprints with entries.
func (db *DB) SaveFingerprints(ctx context.Context, entries []fingerprint.Entry) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fingerprints`); err != nil {
		return fmt.Errorf("clear fingerprints: %w", err)
	}
	for _, e := range entries {
		choice, err := json.Marshal(e.Choice)
		if err != nil {
			return fmt.Errorf("encode choice for %s: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fingerprints (id, header_hash, signature, line_pattern, date_format, choice, uploads, learned_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.Fingerprint.HeaderHash, e.Fingerprint.Signature, e.Fingerprint.LinePattern, e.Fingerprint.DateFormat,
			string(choice), e.Uploads, formatTime(e.Learned), formatTime(e.Updated)); err != nil {
			return fmt.Errorf("insert fingerprint %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}
