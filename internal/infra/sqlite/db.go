// Package sqlite persists the books on SQLite through the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"api_books/internal/books"
)

// DB wraps the database handle and owns the schema.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the
// migrations. busyTimeout bounds how long a writer waits for another one;
// zero keeps the default of five seconds.
func Open(path string, busyTimeout time.Duration) (*DB, error) {
	if path == "" {
		return nil, errors.New("sqlite: empty database path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create %s: %w", dir, err)
		}
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "synchronous(NORMAL)")

	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	d := &DB{db: db, path: path}
	if err := d.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

func (d *DB) migrate(ctx context.Context) error {
	for _, stmt := range Migrations() {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements, one statement each.
// Decimals are TEXT so no value ever passes through a float.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL UNIQUE,
			kind            TEXT NOT NULL,
			opening_balance TEXT NOT NULL,
			balance         TEXT NOT NULL,
			created_at      TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS parties (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			kind            TEXT NOT NULL,
			phone           TEXT NOT NULL DEFAULT '',
			opening_balance TEXT NOT NULL,
			credit_balance  TEXT NOT NULL,
			created_at      TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS inventory_items (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL UNIQUE,
			unit             TEXT NOT NULL,
			opening_quantity TEXT NOT NULL,
			quantity         TEXT NOT NULL,
			default_price    TEXT NOT NULL,
			created_at       TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sale_purchases (
			id           TEXT PRIMARY KEY,
			seq          INTEGER NOT NULL UNIQUE,
			purpose      TEXT NOT NULL,
			payment_mode TEXT NOT NULL,
			party_id     TEXT NOT NULL REFERENCES parties(id),
			inventory_id TEXT NOT NULL REFERENCES inventory_items(id),
			account_id   TEXT REFERENCES accounts(id),
			quantity     TEXT NOT NULL,
			unit_price   TEXT NOT NULL,
			amount       TEXT NOT NULL,
			date         TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sale_purchases_party ON sale_purchases(party_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sale_purchases_inventory ON sale_purchases(inventory_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sale_purchases_account ON sale_purchases(account_id)`,

		`CREATE TABLE IF NOT EXISTS cash_movements (
			id         TEXT PRIMARY KEY,
			seq        INTEGER NOT NULL UNIQUE,
			type       TEXT NOT NULL,
			party_id   TEXT NOT NULL REFERENCES parties(id),
			account_id TEXT NOT NULL REFERENCES accounts(id),
			amount     TEXT NOT NULL,
			date       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cash_movements_party ON cash_movements(party_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cash_movements_account ON cash_movements(account_id)`,

		// Global log order shared by both transaction tables.
		`CREATE TABLE IF NOT EXISTS sequences (
			name  TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`,
		`INSERT OR IGNORE INTO sequences (name, value) VALUES ('log', 0)`,

		// The log is append-only.
		`CREATE TRIGGER IF NOT EXISTS sale_purchases_no_update BEFORE UPDATE ON sale_purchases
		BEGIN SELECT RAISE(ABORT, 'posted transactions are immutable'); END`,
		`CREATE TRIGGER IF NOT EXISTS sale_purchases_no_delete BEFORE DELETE ON sale_purchases
		BEGIN SELECT RAISE(ABORT, 'posted transactions are immutable'); END`,
		`CREATE TRIGGER IF NOT EXISTS cash_movements_no_update BEFORE UPDATE ON cash_movements
		BEGIN SELECT RAISE(ABORT, 'posted transactions are immutable'); END`,
		`CREATE TRIGGER IF NOT EXISTS cash_movements_no_delete BEFORE DELETE ON cash_movements
		BEGIN SELECT RAISE(ABORT, 'posted transactions are immutable'); END`,
	}
}

// ─── Encoding ───────────────────────────────────────────────────────────────

// timeLayout is fixed width so that TEXT ordering is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: bad timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// mapErr translates driver errors into the books error taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", books.ErrConcurrencyConflict, err)
		case sqlite3.SQLITE_CONSTRAINT:
			if strings.Contains(se.Error(), "UNIQUE") && strings.Contains(se.Error(), ".name") {
				return fmt.Errorf("%w: %v", books.ErrDuplicateName, err)
			}
		}
	}
	return err
}
