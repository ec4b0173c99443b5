// Package storage provides an optional SQLite archive of ingested ticks and
// triggered alerts. It is write-mostly: nothing is restored from it at startup.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/tickwatch/internal/models"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db       *sql.DB
	maxTicks int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/tickwatch/ticks.db.
func New(maxTicks int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "tickwatch", "ticks.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxTicks: maxTicks}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	// An existing archive may hold more than a lowered maxTicks allows.
	if err := s.Rotate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol    TEXT NOT NULL,
			ts        INTEGER NOT NULL,
			price     TEXT NOT NULL,
			size      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_symbol ON ticks(symbol, id)`,
		`CREATE TABLE IF NOT EXISTS triggered_alerts (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id     TEXT NOT NULL,
			metric       TEXT NOT NULL,
			threshold    REAL NOT NULL,
			value        REAL NOT NULL,
			triggered_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_triggered_at ON triggered_alerts(triggered_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordTicks appends ticks in one transaction and enforces the tick cap.
func (s *Storage) RecordTicks(ticks []models.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT INTO ticks (symbol, ts, price, size) VALUES (?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range ticks {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("invalid tick: %w", err)
		}
		if _, err := stmt.Exec(t.Symbol, t.Timestamp.UnixMilli(), t.Price.String(), t.Size.String()); err != nil {
			return fmt.Errorf("failed to insert tick: %w", err)
		}
	}

	if err := rotate(tx, s.maxTicks); err != nil {
		return err
	}
	return tx.Commit()
}

// RecentTicks returns up to limit of the newest ticks for symbol, oldest first.
func (s *Storage) RecentTicks(symbol string, limit int) ([]models.Tick, error) {
	rows, err := s.db.Query(`
		SELECT symbol, ts, price, size FROM ticks
		WHERE symbol = ? ORDER BY id DESC LIMIT ?`, models.NormalizeSymbol(symbol), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ticks: %w", err)
	}
	defer rows.Close()

	var ticks []models.Tick
	for rows.Next() {
		var t models.Tick
		var ts int64
		var price, size string
		if err := rows.Scan(&t.Symbol, &ts, &price, &size); err != nil {
			return nil, fmt.Errorf("failed to scan tick: %w", err)
		}
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("failed to parse price: %w", err)
		}
		if t.Size, err = decimal.NewFromString(size); err != nil {
			return nil, fmt.Errorf("failed to parse size: %w", err)
		}
		t.Timestamp = time.UnixMilli(ts).UTC()
		ticks = append(ticks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(ticks)-1; i < j; i, j = i+1, j-1 {
		ticks[i], ticks[j] = ticks[j], ticks[i]
	}
	if ticks == nil {
		ticks = []models.Tick{}
	}
	return ticks, nil
}

// CountTicks returns the number of archived ticks.
func (s *Storage) CountTicks() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ticks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count ticks: %w", err)
	}
	return n, nil
}

// Rotate keeps at most maxTicks newest ticks.
func (s *Storage) Rotate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := rotate(tx, s.maxTicks); err != nil {
		return err
	}
	return tx.Commit()
}

func rotate(tx *sql.Tx, maxTicks int) error {
	if maxTicks <= 0 {
		return nil
	}
	_, err := tx.Exec(`
		DELETE FROM ticks WHERE id <= (SELECT MAX(id) FROM ticks) - ?`, maxTicks)
	if err != nil {
		return fmt.Errorf("failed to rotate ticks: %w", err)
	}
	return nil
}

// Notify records a triggered alert. It lets the archive sit alongside other
// alert notifiers.
func (s *Storage) Notify(ctx context.Context, t models.TriggeredAlert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO triggered_alerts (alert_id, metric, threshold, value, triggered_at)
		VALUES (?,?,?,?,?)`,
		t.Alert.ID, string(t.Alert.Metric), t.Alert.Threshold, t.Value, t.TriggeredAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert triggered alert: %w", err)
	}
	return nil
}

// RecentTriggers returns up to limit triggered alert events, newest first.
func (s *Storage) RecentTriggers(limit int) ([]models.TriggeredAlert, error) {
	rows, err := s.db.Query(`
		SELECT alert_id, metric, threshold, value, triggered_at
		FROM triggered_alerts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggered alerts: %w", err)
	}
	defer rows.Close()

	var out []models.TriggeredAlert
	for rows.Next() {
		var t models.TriggeredAlert
		var metric string
		var triggeredAtNano int64
		if err := rows.Scan(&t.Alert.ID, &metric, &t.Alert.Threshold, &t.Value, &triggeredAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan triggered alert: %w", err)
		}
		t.Alert.Metric = models.Metric(metric)
		t.Alert.Operator = models.OperatorGreaterThan
		t.TriggeredAt = time.Unix(0, triggeredAtNano)
		out = append(out, t)
	}
	return out, rows.Err()
}
