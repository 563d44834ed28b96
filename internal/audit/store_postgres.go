package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PostgresStore persists the ledger in PostgreSQL. Inserts are idempotent on
// event ID; the table carries no UPDATE or DELETE path in this codebase.
//
// Expected schema:
//
//	CREATE TABLE audit_events (
//	    id               UUID PRIMARY KEY,
//	    actor_id         TEXT NOT NULL,
//	    action           TEXT NOT NULL,
//	    severity         TEXT NOT NULL,
//	    timestamp        TIMESTAMPTZ NOT NULL,
//	    source_ip        TEXT NOT NULL DEFAULT '',
//	    device           JSONB NOT NULL DEFAULT '{}',
//	    target_result_id TEXT NOT NULL DEFAULT '',
//	    metadata         JSONB NOT NULL DEFAULT '{}'
//	);
//	CREATE INDEX audit_events_actor_ts_idx ON audit_events (actor_id, timestamp DESC, id DESC);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed audit ledger.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts the event. Duplicate event IDs are ignored via ON CONFLICT
// DO NOTHING so retried appends stay idempotent.
func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	device, err := json.Marshal(event.Device)
	if err != nil {
		return fmt.Errorf("marshal device: %w", err)
	}
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}

	query := `
		INSERT INTO audit_events (
			id, actor_id, action, severity, timestamp,
			source_ip, device, target_result_id, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		event.EventID, event.ActorID, string(event.Action), string(event.Severity),
		event.Timestamp, event.SourceIP, device, event.TargetResultID, metadata,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

const eventColumns = `
	id, actor_id, action, severity, timestamp,
	source_ip, device, target_result_id, metadata
`

// Query filters and pages the ledger, newest first.
func (s *PostgresStore) Query(ctx context.Context, filter Filter, page Page) (*EventPage, error) {
	if page.Limit <= 0 {
		page.Limit = 50
	}
	if page.Offset < 0 {
		page.Offset = 0
	}

	conditions := []string{"TRUE"}
	var args []any

	addArg := func(cond string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.ActorID != "" {
		addArg("actor_id = $%d", filter.ActorID)
	}
	if filter.Action != "" {
		addArg("action = $%d", string(filter.Action))
	}
	if filter.Severity != "" {
		addArg("severity = $%d", string(filter.Severity))
	}
	if !filter.DateFrom.IsZero() {
		addArg("timestamp >= $%d", filter.DateFrom)
	}
	if !filter.DateTo.IsZero() {
		addArg("timestamp <= $%d", filter.DateTo)
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_events WHERE `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count audit events: %w", err)
	}

	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`
		SELECT %s FROM audit_events
		WHERE %s
		ORDER BY timestamp DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, eventColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return &EventPage{Events: events, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// Aggregate computes action/severity counts and the topN most active actors
// since the cutoff.
func (s *PostgresStore) Aggregate(ctx context.Context, since time.Time, topN int) (*Stats, error) {
	stats := &Stats{
		ByAction:   make(map[Action]int),
		BySeverity: make(map[Severity]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT action, severity, COUNT(*)
		FROM audit_events
		WHERE timestamp >= $1
		GROUP BY action, severity
	`, since)
	if err != nil {
		return nil, fmt.Errorf("aggregate audit events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			action   string
			severity string
			count    int
		)
		if err := rows.Scan(&action, &severity, &count); err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}
		stats.ByAction[Action(action)] += count
		stats.BySeverity[Severity(severity)] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregate rows: %w", err)
	}

	actorRows, err := s.db.QueryContext(ctx, `
		SELECT actor_id, COUNT(*) AS events
		FROM audit_events
		WHERE timestamp >= $1
		GROUP BY actor_id
		ORDER BY events DESC, actor_id ASC
		LIMIT $2
	`, since, topN)
	if err != nil {
		return nil, fmt.Errorf("aggregate actors: %w", err)
	}
	defer actorRows.Close()

	for actorRows.Next() {
		var ac ActorCount
		if err := actorRows.Scan(&ac.ActorID, &ac.Count); err != nil {
			return nil, fmt.Errorf("scan actor row: %w", err)
		}
		stats.TopActors = append(stats.TopActors, ac)
	}
	if err := actorRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actor rows: %w", err)
	}

	return stats, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var (
		event    Event
		action   string
		severity string
		device   []byte
		metadata []byte
	)

	err := rows.Scan(
		&event.EventID, &event.ActorID, &action, &severity, &event.Timestamp,
		&event.SourceIP, &device, &event.TargetResultID, &metadata,
	)
	if err != nil {
		return Event{}, err
	}

	event.Action = Action(action)
	event.Severity = Severity(severity)
	if len(device) > 0 {
		if err := json.Unmarshal(device, &event.Device); err != nil {
			return Event{}, fmt.Errorf("unmarshal device: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
			return Event{}, fmt.Errorf("unmarshal event metadata: %w", err)
		}
	}
	return event, nil
}
