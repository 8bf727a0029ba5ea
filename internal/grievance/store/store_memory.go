// Package store provides the grievance ticket stores.
package store

import (
	"context"
	"sort"
	"sync"

	"intake/internal/grievance/models"
	"intake/pkg/domain"
	"intake/pkg/platform/sentinel"
)

// InMemory is the map-backed ticket store used by unit tests and local runs.
type InMemory struct {
	mu   sync.RWMutex
	rows map[domain.TicketID]*models.Ticket
}

func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[domain.TicketID]*models.Ticket)}
}

func (s *InMemory) Create(_ context.Context, ticket *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[ticket.ID]; ok {
		return sentinel.ErrConflict
	}
	s.rows[ticket.ID] = clone(ticket)
	return nil
}

func (s *InMemory) Get(_ context.Context, id domain.TicketID) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticket, ok := s.rows[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(ticket), nil
}

// ListOpenByProgram returns open tickets of the program in creation order.
func (s *InMemory) ListOpenByProgram(_ context.Context, programID domain.ProgramID, category models.Category) ([]*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Ticket
	for _, ticket := range s.rows {
		if ticket.ProgramID == programID && ticket.Category == category && ticket.Open() {
			out = append(out, clone(ticket))
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

// FindOpenCovering returns an open ticket of the program that already
// references every given individual, or ErrNotFound.
func (s *InMemory) FindOpenCovering(ctx context.Context, programID domain.ProgramID, category models.Category, ids []domain.IndividualID) (*models.Ticket, error) {
	open, err := s.ListOpenByProgram(ctx, programID, category)
	if err != nil {
		return nil, err
	}
	for _, ticket := range open {
		if ticket.Covers(ids) {
			return ticket, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// DeleteByImport removes every ticket raised for the import.
func (s *InMemory) DeleteByImport(_ context.Context, importID domain.ImportID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ticket := range s.rows {
		if ticket.ImportID == importID {
			delete(s.rows, id)
		}
	}
	return nil
}

// Len reports the ticket count, for test assertions.
func (s *InMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func clone(t *models.Ticket) *models.Ticket {
	cp := *t
	if t.PossibleDuplicates != nil {
		cp.PossibleDuplicates = make([]domain.IndividualID, len(t.PossibleDuplicates))
		copy(cp.PossibleDuplicates, t.PossibleDuplicates)
	}
	return &cp
}
