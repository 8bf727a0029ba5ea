// Package household provides the household stores.
package household

import (
	"context"
	"sort"
	"sync"

	"intake/internal/registration/models"
	"intake/pkg/domain"
	"intake/pkg/platform/sentinel"
)

// InMemory is the map-backed store used by unit tests and local runs.
type InMemory struct {
	mu   sync.RWMutex
	rows map[domain.HouseholdID]*models.Household
}

func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[domain.HouseholdID]*models.Household)}
}

// Seed inserts or replaces households without any validation.
func (s *InMemory) Seed(households ...*models.Household) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, hh := range households {
		s.rows[hh.ID] = hh.Clone()
	}
}

func (s *InMemory) Get(_ context.Context, id domain.HouseholdID) (*models.Household, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hh, ok := s.rows[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return hh.Clone(), nil
}

// ListPendingByImport returns the import's staging households in creation
// order.
func (s *InMemory) ListPendingByImport(_ context.Context, importID domain.ImportID) ([]*models.Household, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Household
	for _, hh := range s.rows {
		if hh.ImportID == importID && hh.MergeStatus == models.MergeStatusPending {
			out = append(out, hh.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// FindMergedByIdentificationKey returns the golden-record household carrying
// the key, or ErrNotFound. Used by collision detection.
func (s *InMemory) FindMergedByIdentificationKey(_ context.Context, area domain.BusinessAreaSlug, key string) (*models.Household, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, hh := range s.rows {
		if hh.BusinessArea == area && hh.IdentificationKey == key && hh.IsMerged() {
			return hh.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// FindMergedByUnicefID returns golden-record households sharing a unicef_id,
// used for cross-import collection linking.
func (s *InMemory) FindMergedByUnicefID(_ context.Context, area domain.BusinessAreaSlug, unicefID string) ([]*models.Household, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Household
	for _, hh := range s.rows {
		if hh.BusinessArea == area && hh.UnicefID == unicefID && hh.IsMerged() {
			out = append(out, hh.Clone())
		}
	}
	return out, nil
}

func (s *InMemory) Update(_ context.Context, hh *models.Household) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[hh.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.rows[hh.ID] = hh.Clone()
	return nil
}

func (s *InMemory) BulkUpdate(_ context.Context, households []*models.Household) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, hh := range households {
		if _, ok := s.rows[hh.ID]; !ok {
			return sentinel.ErrNotFound
		}
		s.rows[hh.ID] = hh.Clone()
	}
	return nil
}

// DeleteByImport removes every household of the import.
func (s *InMemory) DeleteByImport(_ context.Context, importID domain.ImportID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, hh := range s.rows {
		if hh.ImportID == importID {
			delete(s.rows, id)
		}
	}
	return nil
}

// DeleteByIDs removes households by id; missing ids are ignored.
func (s *InMemory) DeleteByIDs(_ context.Context, ids []domain.HouseholdID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.rows, id)
	}
	return nil
}
