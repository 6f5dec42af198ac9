package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"optionrelay/internal/models"

	_ "modernc.org/sqlite"
)

// SQLStore is the primary trade store. It supports the one query the
// engine needs fast: exact lookup by normalized symbol + status.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (and if needed creates) the SQLite database at path.
func NewSQLStore(path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			norm_symbol TEXT NOT NULL,
			status TEXT NOT NULL,
			signal_json TEXT NOT NULL,
			legs_json TEXT NOT NULL,
			results_json TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_norm_status ON trades(norm_symbol, status);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Insert writes a new trade row.
func (s *SQLStore) Insert(ctx context.Context, t *models.Trade) error {
	signalJSON, err := json.Marshal(t.Signal)
	if err != nil {
		return fmt.Errorf("encoding signal: %w", err)
	}
	legsJSON, err := json.Marshal(t.Legs)
	if err != nil {
		return fmt.Errorf("encoding legs: %w", err)
	}
	resultsJSON, err := json.Marshal(t.ExecutionResults)
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trades (id, symbol, norm_symbol, status, signal_json, legs_json, results_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Symbol, t.NormSymbol, string(t.Status),
		string(signalJSON), string(legsJSON), string(resultsJSON),
		t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting trade %s: %w", t.ID, err)
	}
	return nil
}

// FindOpen returns the ACTIVE trade for normSymbol, or nil.
func (s *SQLStore) FindOpen(ctx context.Context, normSymbol string) (*models.Trade, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, symbol, norm_symbol, status, signal_json, legs_json, results_json, created_at, updated_at
		 FROM trades WHERE norm_symbol = ? AND status = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		normSymbol, string(models.StatusActive))
	return scanTrade(row)
}

// Get returns the trade by ID, or nil when absent.
func (s *SQLStore) Get(ctx context.Context, tradeID string) (*models.Trade, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, symbol, norm_symbol, status, signal_json, legs_json, results_json, created_at, updated_at
		 FROM trades WHERE id = ?`, tradeID)
	return scanTrade(row)
}

// SetStatus updates the trade's status and touch time.
func (s *SQLStore) SetStatus(ctx context.Context, tradeID string, status models.TradeStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trades SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), at.UnixMilli(), tradeID)
	if err != nil {
		return fmt.Errorf("updating trade %s status: %w", tradeID, err)
	}
	return requireRow(res, tradeID)
}

// SetResults replaces the trade's execution-result payload.
func (s *SQLStore) SetResults(ctx context.Context, tradeID string, results []models.ExecutionResult, at time.Time) error {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE trades SET results_json = ?, updated_at = ? WHERE id = ?`,
		string(resultsJSON), at.UnixMilli(), tradeID)
	if err != nil {
		return fmt.Errorf("updating trade %s results: %w", tradeID, err)
	}
	return requireRow(res, tradeID)
}

func requireRow(res sql.Result, tradeID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTradeNotFound, tradeID)
	}
	return nil
}

func scanTrade(row *sql.Row) (*models.Trade, error) {
	var (
		t                                 models.Trade
		status                            string
		signalJSON, legsJSON, resultsJSON sql.NullString
		createdAt, updatedAt              int64
	)
	err := row.Scan(&t.ID, &t.Symbol, &t.NormSymbol, &status,
		&signalJSON, &legsJSON, &resultsJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning trade: %w", err)
	}
	t.Status = models.TradeStatus(status)
	if signalJSON.Valid {
		if err := json.Unmarshal([]byte(signalJSON.String), &t.Signal); err != nil {
			return nil, fmt.Errorf("decoding signal for trade %s: %w", t.ID, err)
		}
	}
	if legsJSON.Valid {
		if err := json.Unmarshal([]byte(legsJSON.String), &t.Legs); err != nil {
			return nil, fmt.Errorf("decoding legs for trade %s: %w", t.ID, err)
		}
	}
	if resultsJSON.Valid && resultsJSON.String != "" && resultsJSON.String != "null" {
		if err := json.Unmarshal([]byte(resultsJSON.String), &t.ExecutionResults); err != nil {
			return nil, fmt.Errorf("decoding results for trade %s: %w", t.ID, err)
		}
	}
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	t.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &t, nil
}
