// Package store provides the similarity pair stores.
package store

import (
	"context"
	"sync"

	"intake/internal/biometric/models"
	"intake/pkg/domain"
)

type pairKey struct {
	program     domain.ProgramID
	individual1 domain.IndividualID
	individual2 domain.IndividualID
}

// InMemory is the map-backed pair store used by unit tests and local runs.
type InMemory struct {
	mu   sync.RWMutex
	rows map[pairKey]*models.SimilarityPair
}

func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[pairKey]*models.SimilarityPair)}
}

// BulkCreate inserts pairs, silently skipping ones that already exist.
func (s *InMemory) BulkCreate(_ context.Context, pairs []*models.SimilarityPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pairs {
		key := pairKey{p.ProgramID, p.Individual1, p.Individual2}
		if _, ok := s.rows[key]; ok {
			continue
		}
		cp := *p
		s.rows[key] = &cp
	}
	return nil
}

// DeleteByProgram removes every pair of the program, so a fresh result set
// can replace the previous one wholesale.
func (s *InMemory) DeleteByProgram(_ context.Context, programID domain.ProgramID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.rows {
		if key.program == programID {
			delete(s.rows, key)
		}
	}
	return nil
}

// DeleteForIndividuals removes every pair touching any of the ids within the
// program, used when individuals leave the population.
func (s *InMemory) DeleteForIndividuals(_ context.Context, programID domain.ProgramID, ids []domain.IndividualID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	member := make(map[domain.IndividualID]struct{}, len(ids))
	for _, id := range ids {
		member[id] = struct{}{}
	}
	for key := range s.rows {
		if key.program != programID {
			continue
		}
		if _, ok := member[key.individual1]; ok {
			delete(s.rows, key)
			continue
		}
		if _, ok := member[key.individual2]; ok {
			delete(s.rows, key)
		}
	}
	return nil
}

// ListForIndividuals returns every pair touching any of the ids within the
// program.
func (s *InMemory) ListForIndividuals(_ context.Context, programID domain.ProgramID, ids []domain.IndividualID) ([]*models.SimilarityPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	member := make(map[domain.IndividualID]struct{}, len(ids))
	for _, id := range ids {
		member[id] = struct{}{}
	}
	var out []*models.SimilarityPair
	for key, p := range s.rows {
		if key.program != programID {
			continue
		}
		_, ok1 := member[key.individual1]
		_, ok2 := member[key.individual2]
		if ok1 || ok2 {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Len reports the stored pair count, for test assertions.
func (s *InMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
