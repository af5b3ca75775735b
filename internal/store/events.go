package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event kinds.
const (
	EventPower    = "power"
	EventRemote   = "remote"
	EventSession  = "session"
	EventFirmware = "firmware"
)

// timeLayout has fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// List page sizes.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Event is one entry of the event log.
type Event struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`

	// Subject is what the event is about: a device name, a power state,
	// a remote path.
	Subject string `json:"subject,omitempty"`

	// Source is who caused it: "schedule", "remote:<sender>", "fleet".
	Source    string         `json:"source"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter selects events for List.
type Filter struct {
	Kind    string
	Subject string
	Since   time.Time
	Limit   int // default 50, max 500
}

// EventLog records and lists events.
type EventLog struct {
	db  *sql.DB
	now func() time.Time
}

// NewEventLog creates an event log over db.
func NewEventLog(db *sql.DB) *EventLog {
	return &EventLog{db: db, now: time.Now}
}

// Record inserts an event, filling in ID and CreatedAt when empty.
func (l *EventLog) Record(ctx context.Context, e *Event) error {
	if e.Kind == "" {
		return fmt.Errorf("%w: event kind is required", ErrInvalid)
	}
	if e.ID == "" {
		e.ID = "evt-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}

	var details any
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling event details: %w", err)
		}
		details = string(b)
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events (id, kind, subject, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, nullable(e.Subject), e.Source, details,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// List returns matching events, newest first.
func (l *EventLog) List(ctx context.Context, f Filter) ([]Event, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}

	var conds []string
	var args []any
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Subject != "" {
		conds = append(conds, "subject = ?")
		args = append(args, f.Subject)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from fixed, parameterised conditions
		"SELECT id, kind, subject, source, details, created_at FROM events %s ORDER BY created_at DESC, rowid DESC LIMIT ?",
		where)
	args = append(args, f.Limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var subject, details sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Kind, &subject, &e.Source, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Subject = subject.String
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("decoding details of event %s: %w", e.ID, err)
			}
		}
		if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing event timestamp %q: %w", createdAt, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
