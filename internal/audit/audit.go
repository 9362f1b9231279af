// Package audit provides an optional, append-only sqlite trail of derived reports
// (reconciliation passes, daily stuck-hedge reports). It never backs authoritative
// trading state — the live engine state is rebuilt from exchange queries every run.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"dualhedge/internal/reconcile"
	"dualhedge/internal/risk"
)

// DB wraps a single-writer sqlite connection; the pure-Go driver is kept to one open
// conn so writes never contend.
type DB struct {
	conn *sql.DB
}

// Open creates (or reuses) the audit database at path and runs its migration. An empty
// path disables audit persistence entirely; callers should treat a nil *DB as a no-op sink.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, nil
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return &DB{conn: conn}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS reconciliation_reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	instrument TEXT NOT NULL,
	synthetic_lots INTEGER NOT NULL,
	adopted_orders INTEGER NOT NULL,
	foreign_orders INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_reports (
	id TEXT PRIMARY KEY,
	generated_at TIMESTAMP NOT NULL,
	stuck_count INTEGER NOT NULL,
	detail_json TEXT NOT NULL
);
`

// Close releases the underlying connection. Safe to call on a nil *DB.
func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

// RecordReconciliation appends one reconciliation pass's summary. No-op on a nil *DB.
func (d *DB) RecordReconciliation(ctx context.Context, rep reconcile.Report) error {
	if d == nil || d.conn == nil {
		return nil
	}
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO reconciliation_reports (instrument, synthetic_lots, adopted_orders, foreign_orders, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rep.Instrument, rep.SyntheticLots, rep.AdoptedOrders, rep.ForeignOrders, time.Now())
	return err
}

// RecordDailyReport appends the day's stuck-hedge report. No-op on a nil *DB.
func (d *DB) RecordDailyReport(ctx context.Context, rep risk.DailyReport, detailJSON string) error {
	if d == nil || d.conn == nil {
		return nil
	}
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO daily_reports (id, generated_at, stuck_count, detail_json) VALUES (?, ?, ?, ?)
	`, rep.ID, rep.GeneratedAt, len(rep.Stuck), detailJSON)
	return err
}
