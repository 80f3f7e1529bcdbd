// Package journal persists a write-only audit trail of received signals and
// their reconciliation outcomes. Nothing in the request path reads it back;
// it exists for operators doing post-hoc review.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"trade-relay/internal/engine"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS signals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    account TEXT NOT NULL,
    kind TEXT NOT NULL,
    symbol TEXT,
    side TEXT,
    position TEXT,
    order_type TEXT,
    amount REAL,
    result TEXT,
    message TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_signals_account ON signals(account, created_at);
`

// Entry is one journaled signal.
type Entry struct {
	RequestID string
	Account   string
	Kind      string
	Symbol    string
	Side      string
	Position  string
	OrderType string
	Amount    float64
	Result    *engine.Result
	Message   string
}

// Journal wraps the SQL handle. Safe for concurrent use; SQLite serializes
// writers through the single connection.
type Journal struct {
	db *sql.DB
}

// Open opens (and creates if needed) the SQLite journal at path and applies
// the schema.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is empty")
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record appends one entry. The result, when present, is stored as JSON.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	var result sql.NullString
	if e.Result != nil {
		b, err := json.Marshal(e.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		result = sql.NullString{String: string(b), Valid: true}
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO signals (request_id, account, kind, symbol, side, position, order_type, amount, result, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.RequestID, e.Account, e.Kind, e.Symbol, e.Side, e.Position, e.OrderType, e.Amount, result, e.Message)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// Count returns the number of journaled signals. Used by tests and the
// status endpoint, never by the reconciliation path.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count signals: %w", err)
	}
	return n, nil
}

// Close releases the underlying DB handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
