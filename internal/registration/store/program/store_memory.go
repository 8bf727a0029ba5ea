// Package program provides the program stores.
package program

import (
	"context"
	"sync"

	"intake/internal/registration/models"
	"intake/pkg/domain"
	"intake/pkg/platform/sentinel"
)

// InMemory is the map-backed store used by unit tests and local runs.
type InMemory struct {
	mu   sync.RWMutex
	rows map[domain.ProgramID]*models.Program
}

func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[domain.ProgramID]*models.Program)}
}

// Seed inserts or replaces programs without any validation.
func (s *InMemory) Seed(programs ...*models.Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range programs {
		cp := *p
		s.rows[p.ID] = &cp
	}
}

func (s *InMemory) Get(_ context.Context, id domain.ProgramID) (*models.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.rows[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemory) Update(_ context.Context, p *models.Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[p.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *p
	s.rows[p.ID] = &cp
	return nil
}
