// Package rdi provides the registration data import stores.
package rdi

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
	rows map[domain.ImportID]*models.RegistrationDataImport
}

func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[domain.ImportID]*models.RegistrationDataImport)}
}

// Seed inserts or replaces imports without any validation.
func (s *InMemory) Seed(imports ...*models.RegistrationDataImport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rdi := range imports {
		cp := *rdi
		s.rows[rdi.ID] = &cp
	}
}

func (s *InMemory) Create(_ context.Context, rdi *models.RegistrationDataImport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[rdi.ID]; ok {
		return sentinel.ErrConflict
	}
	cp := *rdi
	s.rows[rdi.ID] = &cp
	return nil
}

func (s *InMemory) Get(_ context.Context, id domain.ImportID) (*models.RegistrationDataImport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rdi, ok := s.rows[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *rdi
	return &cp, nil
}

// GetForUpdate is Get in memory; the postgres store adds row locking.
func (s *InMemory) GetForUpdate(ctx context.Context, id domain.ImportID) (*models.RegistrationDataImport, error) {
	return s.Get(ctx, id)
}

func (s *InMemory) Update(_ context.Context, rdi *models.RegistrationDataImport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[rdi.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *rdi
	s.rows[rdi.ID] = &cp
	return nil
}

// ListByProgramAndEngineStatus returns the program's imports whose biometric
// pipeline sits in any of the given states, oldest first.
func (s *InMemory) ListByProgramAndEngineStatus(_ context.Context, programID domain.ProgramID, statuses ...models.EngineStatus) ([]*models.RegistrationDataImport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RegistrationDataImport
	for _, rdi := range s.rows {
		if rdi.ProgramID != programID {
			continue
		}
		for _, st := range statuses {
			if rdi.DeduplicationEngineStatus == st {
				cp := *rdi
				out = append(out, &cp)
				break
			}
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

// ListProgramIDsWithEngineStatus returns the distinct programs owning an
// import in any of the given biometric states.
func (s *InMemory) ListProgramIDsWithEngineStatus(_ context.Context, statuses ...models.EngineStatus) ([]domain.ProgramID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[domain.ProgramID]struct{})
	var out []domain.ProgramID
	for _, rdi := range s.rows {
		for _, st := range statuses {
			if rdi.DeduplicationEngineStatus != st {
				continue
			}
			if _, ok := seen[rdi.ProgramID]; !ok {
				seen[rdi.ProgramID] = struct{}{}
				out = append(out, rdi.ProgramID)
			}
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *InMemory) Delete(_ context.Context, id domain.ImportID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}
