package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"psymetric/internal/platform/sentinel"
	"psymetric/internal/result/models"
)

// InMemory is a mutex-guarded map store. It backs unit tests and local
// development; production uses the postgres store.
type InMemory struct {
	mu      sync.RWMutex
	results map[string]*models.Result
	hooks   []DeleteHook
}

// NewInMemory builds an empty in-memory result store.
func NewInMemory() *InMemory {
	return &InMemory{results: make(map[string]*models.Result)}
}

// Put upserts the result keyed by ID. An existing record with a different
// owner is an identity collision and fails with ErrConflict.
func (s *InMemory) Put(ctx context.Context, result *models.Result) error {
	if err := result.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.results[result.ID]; ok && existing.OwnerID != result.OwnerID {
		return fmt.Errorf("result %s owned by another subject: %w", result.ID, sentinel.ErrConflict)
	}
	s.results[result.ID] = result.Clone()
	return nil
}

// Get returns a copy of the stored record or ErrNotFound.
func (s *InMemory) Get(ctx context.Context, id string) (*models.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[id]
	if !ok {
		return nil, fmt.Errorf("result %s: %w", id, sentinel.ErrNotFound)
	}
	return result.Clone(), nil
}

// ListByOwner returns the owner's results sorted by completedAt desc with ID
// desc as tie-break, so pagination stays stable when timestamps collide.
func (s *InMemory) ListByOwner(ctx context.Context, ownerID string, filter Filter, page Page) (*ResultPage, error) {
	page = normalizePage(page)

	s.mu.RLock()
	var matched []*models.Result
	for _, r := range s.results {
		if r.OwnerID == ownerID && matches(r, filter) {
			matched = append(matched, r.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CompletedAt.Equal(matched[j].CompletedAt) {
			return matched[i].CompletedAt.After(matched[j].CompletedAt)
		}
		return matched[i].ID > matched[j].ID
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

	return &ResultPage{
		Results: matched[start:end],
		Total:   total,
		Limit:   page.Limit,
		Offset:  page.Offset,
	}, nil
}

// Delete hard-deletes the record and runs registered hooks with the deleted
// snapshot so the archive copy can be tombstoned.
func (s *InMemory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	result, ok := s.results[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("result %s: %w", id, sentinel.ErrNotFound)
	}
	delete(s.results, id)
	hooks := append([]DeleteHook(nil), s.hooks...)
	s.mu.Unlock()

	for _, hook := range hooks {
		if err := hook(ctx, result); err != nil {
			return err
		}
	}
	return nil
}

// ListIDsUpTo returns IDs of results completed at or before the watermark.
func (s *InMemory) ListIDsUpTo(ctx context.Context, watermark time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, r := range s.results {
		if !r.CompletedAt.After(watermark) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// RegisterDeleteHook adds a post-delete hook.
func (s *InMemory) RegisterDeleteHook(hook DeleteHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}
