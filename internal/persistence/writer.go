package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gopiinho/stablecoin/internal/event"
)

// EventLogWriter appends engine events to Postgres using multi-row
// INSERTs. The engine-assigned sequence is the primary key, so replayed
// writes are idempotent.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.engine_events.
type EventRow struct {
	Sequence  int64
	EventID   string
	EventType string
	Account   string
	Payload   []byte // JSON-encoded event payload
	Timestamp time.Time
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// RowFromEnvelope converts a committed engine event into its storage row.
func RowFromEnvelope(env event.Envelope) (EventRow, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return EventRow{}, fmt.Errorf("marshal payload seq=%d: %w", env.Sequence, err)
	}
	return EventRow{
		Sequence:  env.Sequence,
		EventID:   env.EventID.String(),
		EventType: env.Type.String(),
		Account:   env.Payload.AccountID().String(),
		Payload:   payload,
		Timestamp: env.Timestamp,
	}, nil
}

// WriteBatch writes a batch of events with a single multi-row INSERT.
func (w *EventLogWriter) WriteBatch(ctx context.Context, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.engine_events
		(sequence, event_id, event_type, account, payload, created_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*6)

	for i, r := range rows {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args,
			r.Sequence, r.EventID, r.EventType, r.Account, r.Payload, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// LastSequence returns the highest persisted sequence, or -1 for an empty
// log. The engine resumes numbering from here on restart.
func (w *EventLogWriter) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM event_log.engine_events`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query last sequence: %w", err)
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
