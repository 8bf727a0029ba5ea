// Package individual provides the individual record stores.
package individual

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
	rows map[domain.IndividualID]*models.Individual
}

func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[domain.IndividualID]*models.Individual)}
}

// Seed inserts or replaces individuals without any validation.
func (s *InMemory) Seed(individuals ...*models.Individual) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ind := range individuals {
		s.rows[ind.ID] = ind.Clone()
	}
}

func (s *InMemory) Get(_ context.Context, id domain.IndividualID) (*models.Individual, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ind, ok := s.rows[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return ind.Clone(), nil
}

func (s *InMemory) GetByIDs(_ context.Context, ids []domain.IndividualID) ([]*models.Individual, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Individual, 0, len(ids))
	for _, id := range ids {
		if ind, ok := s.rows[id]; ok {
			out = append(out, ind.Clone())
		}
	}
	return out, nil
}

// ListPendingByImport returns the import's staging individuals in
// registration order.
func (s *InMemory) ListPendingByImport(_ context.Context, importID domain.ImportID) ([]*models.Individual, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Individual
	for _, ind := range s.rows {
		if ind.ImportID == importID && ind.MergeStatus == models.MergeStatusPending {
			out = append(out, ind.Clone())
		}
	}
	sortByRegistrationOrder(out)
	return out, nil
}

// ListByImport returns every individual of the import regardless of merge
// status, in registration order.
func (s *InMemory) ListByImport(_ context.Context, importID domain.ImportID) ([]*models.Individual, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Individual
	for _, ind := range s.rows {
		if ind.ImportID == importID {
			out = append(out, ind.Clone())
		}
	}
	sortByRegistrationOrder(out)
	return out, nil
}

// BulkUpdateDeduplication persists statuses and result payloads for the
// given individuals.
func (s *InMemory) BulkUpdateDeduplication(_ context.Context, individuals []*models.Individual) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ind := range individuals {
		row, ok := s.rows[ind.ID]
		if !ok {
			return sentinel.ErrNotFound
		}
		row.DeduplicationBatchStatus = ind.DeduplicationBatchStatus
		row.DeduplicationGoldenRecordStatus = ind.DeduplicationGoldenRecordStatus
		row.DeduplicationBatchResults = ind.DeduplicationBatchResults
		row.DeduplicationGoldenRecordResults = ind.DeduplicationGoldenRecordResults
		row.UpdatedAt = ind.UpdatedAt
	}
	return nil
}

// BulkUpsert inserts or fully replaces individuals.
func (s *InMemory) BulkUpsert(_ context.Context, individuals []*models.Individual) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ind := range individuals {
		s.rows[ind.ID] = ind.Clone()
	}
	return nil
}

// DeleteByImport removes every individual of the import.
func (s *InMemory) DeleteByImport(_ context.Context, importID domain.ImportID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ind := range s.rows {
		if ind.ImportID == importID {
			delete(s.rows, id)
		}
	}
	return nil
}

// DeleteByIDs removes individuals by id; missing ids are ignored.
func (s *InMemory) DeleteByIDs(_ context.Context, ids []domain.IndividualID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.rows, id)
	}
	return nil
}

func sortByRegistrationOrder(individuals []*models.Individual) {
	sort.Slice(individuals, func(i, j int) bool {
		if !individuals[i].CreatedAt.Equal(individuals[j].CreatedAt) {
			return individuals[i].CreatedAt.Before(individuals[j].CreatedAt)
		}
		return individuals[i].ID.String() < individuals[j].ID.String()
	})
}
