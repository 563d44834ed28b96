package audit

import (
	"context"
	"time"
)

// Filter narrows ledger queries. Zero values mean "no constraint".
type Filter struct {
	ActorID  string
	Action   Action
	Severity Severity
	DateFrom time.Time
	DateTo   time.Time
}

// Page is offset pagination input for ledger queries.
type Page struct {
	Limit  int
	Offset int
}

// EventPage is one page of ledger events plus the total match count.
type EventPage struct {
	Events []Event
	Total  int
	Limit  int
	Offset int
}

// ActorCount is one row of the most-active-actor breakdown.
type ActorCount struct {
	ActorID string `json:"actorId"`
	Count   int    `json:"count"`
}

// Stats aggregates ledger activity over a window.
type Stats struct {
	Window     time.Duration    `json:"window"`
	ByAction   map[Action]int   `json:"byAction"`
	BySeverity map[Severity]int `json:"bySeverity"`
	TopActors  []ActorCount     `json:"topActors"`
}

// Store is the append-only ledger backend. There is deliberately no update
// or delete: the absence of those operations is the tamper-evidence
// guarantee at the code level.
type Store interface {
	Append(ctx context.Context, event Event) error
	// Query returns events matching the filter ordered by
	// (timestamp, event_id) descending.
	Query(ctx context.Context, filter Filter, page Page) (*EventPage, error)
	// Aggregate computes counts by action and severity plus the topN most
	// active actors since the cutoff.
	Aggregate(ctx context.Context, since time.Time, topN int) (*Stats, error)
}
