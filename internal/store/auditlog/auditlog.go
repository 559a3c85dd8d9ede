// Package auditlog is the append-only audit trail: every accepted
// position transition and every circuit-breaker trip, individually
// recorded and never rewritten.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vigil/internal/store"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	position_id TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state TEXT NOT NULL,
	reason TEXT NOT NULL,
	at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_position ON transitions(position_id);
CREATE TABLE IF NOT EXISTS breaker_trips (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pnl REAL NOT NULL,
	pnl_pct REAL NOT NULL,
	threshold TEXT NOT NULL,
	at INTEGER NOT NULL
);
`

type Log struct {
	db *sql.DB
}

func New(path string) (*Log, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit log: path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit log schema: %w", err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Log) AppendTransition(ctx context.Context, e store.TransitionEntry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO transitions (position_id, from_state, to_state, reason, at) VALUES (?, ?, ?, ?, ?)`,
		e.PositionID, e.From, e.To, e.Reason, e.At.UnixMilli())
	return err
}

func (l *Log) AppendBreakerTrip(ctx context.Context, e store.TripEntry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO breaker_trips (pnl, pnl_pct, threshold, at) VALUES (?, ?, ?, ?)`,
		e.PnL, e.PnLPct, e.Threshold, e.At.UnixMilli())
	return err
}

func (l *Log) Transitions(ctx context.Context, positionID string) ([]store.TransitionEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT position_id, from_state, to_state, reason, at FROM transitions WHERE position_id = ? ORDER BY id ASC`,
		positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.TransitionEntry
	for rows.Next() {
		var e store.TransitionEntry
		var at int64
		if err := rows.Scan(&e.PositionID, &e.From, &e.To, &e.Reason, &at); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *Log) BreakerTrips(ctx context.Context, limit int) ([]store.TripEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT pnl, pnl_pct, threshold, at FROM breaker_trips ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.TripEntry
	for rows.Next() {
		var e store.TripEntry
		var at int64
		if err := rows.Scan(&e.PnL, &e.PnLPct, &e.Threshold, &at); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ store.AuditLog = (*Log)(nil)
