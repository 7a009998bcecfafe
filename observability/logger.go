// Package observability records collector business events (drawing saved,
// dataset prepared, legacy download) in SQLite next to the drawing index.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/emosketch/idgen"
	"github.com/hazyhaar/emosketch/kit"
)

// Event types written by the collector.
const (
	EventDrawingSaved    = "drawing_saved"
	EventDrawingRejected = "drawing_rejected"
	EventDatasetPrepared = "dataset_prepared"
	EventLegacyDownload  = "legacy_download"
)

// BusinessEvent is one domain event.
type BusinessEvent struct {
	EventType  string
	EntityType string
	EntityID   string
	Details    map[string]any
	Success    bool
}

// EventRecord is a stored event as read back by Recent.
type EventRecord struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	EntityType string          `json:"entity_type,omitempty"`
	EntityID   string          `json:"entity_id,omitempty"`
	RemoteAddr string          `json:"remote_addr,omitempty"`
	TraceID    string          `json:"trace_id,omitempty"`
	Details    json.RawMessage `json:"details"`
	Success    bool            `json:"success"`
	CreatedAt  int64           `json:"created_at"`
}

// EventLogger writes business events.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets the event ID generator. Default: "evt_" + UUIDv7.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger returns a logger writing to db, which must carry Schema.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
		now:   time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records ev with the trace ID and remote address found in ctx.
// Failures are logged and swallowed; the event log never fails a request.
// A nil EventLogger is a no-op.
func (l *EventLogger) LogEvent(ctx context.Context, ev BusinessEvent) {
	if l == nil {
		return
	}
	details := []byte("{}")
	if len(ev.Details) > 0 {
		if b, err := json.Marshal(ev.Details); err == nil {
			details = b
		}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO business_event_logs (
			event_id, event_type, entity_type, entity_id,
			remote_addr, trace_id, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		l.newID(), ev.EventType, ev.EntityType, ev.EntityID,
		kit.GetRemoteAddr(ctx), kit.GetTraceID(ctx), string(details), ev.Success, l.now().UnixMilli())
	if err != nil {
		slog.Error("observability event log failed", "error", err, "event_type", ev.EventType)
	}
}

// Recent returns up to limit events, newest first. An empty eventType
// matches all types.
func (l *EventLogger) Recent(ctx context.Context, eventType string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, event_type, entity_type, entity_id, remote_addr,
		       trace_id, details, success, created_at
		FROM business_event_logs
		WHERE ? = '' OR event_type = ?
		ORDER BY created_at DESC, event_id DESC
		LIMIT ?`, eventType, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var r EventRecord
		var details string
		if err := rows.Scan(&r.ID, &r.Type, &r.EntityType, &r.EntityID, &r.RemoteAddr,
			&r.TraceID, &details, &r.Success, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		r.Details = json.RawMessage(details)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Cleanup deletes events older than days. days <= 0 keeps everything.
func (l *EventLogger) Cleanup(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := l.now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
	res, err := l.db.ExecContext(ctx, `DELETE FROM business_event_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup: %w", err)
	}
	return res.RowsAffected()
}
