// Package store provides the business area stores.
package store

import (
	"context"
	"sync"

	"intake/internal/businessarea/models"
	"intake/pkg/domain"
	"intake/pkg/platform/sentinel"
)

// InMemory is the map-backed store used by unit tests and local runs.
type InMemory struct {
	mu   sync.RWMutex
	rows map[domain.BusinessAreaSlug]*models.BusinessArea
}

func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[domain.BusinessAreaSlug]*models.BusinessArea)}
}

// Seed inserts or replaces business areas without any validation.
func (s *InMemory) Seed(areas ...*models.BusinessArea) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, area := range areas {
		cp := *area
		s.rows[area.Slug] = &cp
	}
}

func (s *InMemory) Get(_ context.Context, slug domain.BusinessAreaSlug) (*models.BusinessArea, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	area, ok := s.rows[slug]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *area
	return &cp, nil
}

func (s *InMemory) Update(_ context.Context, area *models.BusinessArea) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[area.Slug]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *area
	s.rows[area.Slug] = &cp
	return nil
}
