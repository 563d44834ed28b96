// Package store persists canonical assessment results. The canonical store
// is the single source of truth for reads; the file archive is secondary.
package store

import (
	"context"
	"time"

	"psymetric/internal/result/models"
)

// Filter narrows ListByOwner results. Zero values mean "no constraint".
type Filter struct {
	TestType   string
	CategoryID string
	DateFrom   time.Time
	DateTo     time.Time
	// Search matches test name and description case-insensitively.
	Search string
}

// Page is offset pagination input. Limit <= 0 falls back to the store default.
type Page struct {
	Limit  int
	Offset int
}

// ResultPage is one page of results plus the total match count, so clients
// can paginate deterministically.
type ResultPage struct {
	Results []*models.Result
	Total   int
	Limit   int
	Offset  int
}

// DeleteHook runs after a result has been removed from the canonical store.
// The archive tombstone hook registers here so deletion and tombstoning stay
// decoupled at the package level.
type DeleteHook func(ctx context.Context, result *models.Result) error

// Store is the canonical result repository.
//
// Put is an upsert keyed by result ID and must reject identity collisions
// (same ID, different owner). Get returns the raw record; ownership policy
// lives in the access gate, not here.
type Store interface {
	Put(ctx context.Context, result *models.Result) error
	Get(ctx context.Context, id string) (*models.Result, error)
	ListByOwner(ctx context.Context, ownerID string, filter Filter, page Page) (*ResultPage, error)
	Delete(ctx context.Context, id string) error
	// ListIDsUpTo returns the IDs of all results completed at or before the
	// watermark, for reconciliation scans.
	ListIDsUpTo(ctx context.Context, watermark time.Time) ([]string, error)
	// RegisterDeleteHook adds a hook invoked after each successful delete.
	RegisterDeleteHook(hook DeleteHook)
}

const defaultPageLimit = 20

func normalizePage(page Page) Page {
	if page.Limit <= 0 {
		page.Limit = defaultPageLimit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	return page
}

// matches applies the filter to a single result. Shared by the memory store
// and by tests; the postgres store pushes the same predicate into SQL.
func matches(r *models.Result, filter Filter) bool {
	if filter.TestType != "" && r.TestType() != filter.TestType {
		return false
	}
	if filter.CategoryID != "" && r.CategoryID() != filter.CategoryID {
		return false
	}
	if !filter.DateFrom.IsZero() && r.CompletedAt.Before(filter.DateFrom) {
		return false
	}
	if !filter.DateTo.IsZero() && r.CompletedAt.After(filter.DateTo) {
		return false
	}
	return r.MatchesText(filter.Search)
}
