// Package observability records pipeline lifecycle events (export and
// import runs, phase failures, control-plane signals) into a local SQLite
// database. Recording is non-blocking by contract: a failing observability
// store never fails the pipeline.
package observability

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/haelix/portage/idgen"
	"github.com/haelix/portage/kit"
)

// Schema creates the pipeline_events table. Pass to dbopen.WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS pipeline_events (
	event_id    TEXT PRIMARY KEY,
	event_type  TEXT NOT NULL,
	customer_id TEXT NOT NULL,
	run_id      TEXT NOT NULL,
	phase       TEXT,
	detail      TEXT,
	success     INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pipeline_events_customer
	ON pipeline_events(customer_id, created_at);
`

// Event is one domain-level occurrence worth keeping.
type Event struct {
	Type       string // export_completed, import_completed, import_failed, signal_failed, ...
	CustomerID string
	RunID      string
	Phase      string // importer phase or exporter stage, optional
	Detail     string // optional JSON or free text
	Success    bool
}

// EventLogger writes pipeline events.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// NewEventLogger creates a logger backed by the given observability database.
func NewEventLogger(db *sql.DB) *EventLogger {
	return &EventLogger{db: db, newID: idgen.Prefixed("evt_", idgen.Default)}
}

// Log records an event. Customer and run identifiers missing from the
// event are taken from the context, so deep call sites need not re-thread
// them. Errors are logged via slog and swallowed.
func (l *EventLogger) Log(ctx context.Context, ev Event) {
	if l == nil || l.db == nil {
		return
	}
	if ev.CustomerID == "" {
		ev.CustomerID = kit.GetCustomerID(ctx)
	}
	if ev.RunID == "" {
		ev.RunID = kit.GetRunID(ctx)
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO pipeline_events (
			event_id, event_type, customer_id, run_id, phase, detail, success, created_at
		) VALUES (?,?,?,?,?,?,?,?)`,
		l.newID(), ev.Type, ev.CustomerID, ev.RunID, ev.Phase, ev.Detail, ev.Success,
		time.Now().Unix())
	if err != nil {
		slog.Error("observability event log failed", "error", err, "event_type", ev.Type)
	}
}

// Recent returns the latest events for a customer, newest first.
func (l *EventLogger) Recent(ctx context.Context, customerID string, limit int) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_type, customer_id, run_id, phase, detail, success
		FROM pipeline_events
		WHERE customer_id = ?
		ORDER BY created_at DESC, event_id DESC
		LIMIT ?`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Type, &ev.CustomerID, &ev.RunID, &ev.Phase, &ev.Detail, &ev.Success); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
