package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore keeps the ledger in process memory. It backs unit tests and
// local development.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewInMemoryStore builds an empty in-memory ledger.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Append adds the event to the ledger. Events are stored as given; the
// logger assigns EventID and timestamp before calling.
func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (f Filter) match(e Event) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if !f.DateFrom.IsZero() && e.Timestamp.Before(f.DateFrom) {
		return false
	}
	if !f.DateTo.IsZero() && e.Timestamp.After(f.DateTo) {
		return false
	}
	return true
}

// Query filters and pages the ledger, newest first with event ID as the
// deterministic tie-break.
func (s *InMemoryStore) Query(_ context.Context, filter Filter, page Page) (*EventPage, error) {
	if page.Limit <= 0 {
		page.Limit = 50
	}
	if page.Offset < 0 {
		page.Offset = 0
	}

	s.mu.RLock()
	var matched []Event
	for _, e := range s.events {
		if filter.match(e) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].EventID.String() > matched[j].EventID.String()
	})

	total := len(matched)
	start := page.Offset
	if start > total {
		start = total
	}
	end := start + page.Limit
	if end > total {
		end = total
	}

	return &EventPage{Events: matched[start:end], Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// Aggregate counts events since the cutoff, bucketed by action and severity,
// plus the topN most active actors.
func (s *InMemoryStore) Aggregate(_ context.Context, since time.Time, topN int) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		ByAction:   make(map[Action]int),
		BySeverity: make(map[Severity]int),
	}
	actorCounts := make(map[string]int)

	for _, e := range s.events {
		if e.Timestamp.Before(since) {
			continue
		}
		stats.ByAction[e.Action]++
		stats.BySeverity[e.Severity]++
		actorCounts[e.ActorID]++
	}

	actors := make([]ActorCount, 0, len(actorCounts))
	for actor, count := range actorCounts {
		actors = append(actors, ActorCount{ActorID: actor, Count: count})
	}
	sort.Slice(actors, func(i, j int) bool {
		if actors[i].Count != actors[j].Count {
			return actors[i].Count > actors[j].Count
		}
		return actors[i].ActorID < actors[j].ActorID
	})
	if len(actors) > topN {
		actors = actors[:topN]
	}
	stats.TopActors = actors

	return stats, nil
}
