// Package admin implements administrative maintenance operations on imports.
package admin

import (
	"context"
	"fmt"
	"log/slog"

	"intake/internal/registration/models"
	"intake/internal/searchindex"
	"intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/tx"
)

// ImportStore loads and deletes registration data imports.
type ImportStore interface {
	Get(ctx context.Context, id domain.ImportID) (*models.RegistrationDataImport, error)
	Delete(ctx context.Context, id domain.ImportID) error
}

// IndividualStore reads and deletes an import's individuals.
type IndividualStore interface {
	ListByImport(ctx context.Context, importID domain.ImportID) ([]*models.Individual, error)
	DeleteByImport(ctx context.Context, importID domain.ImportID) error
}

// HouseholdStore deletes an import's households.
type HouseholdStore interface {
	DeleteByImport(ctx context.Context, importID domain.ImportID) error
}

// TicketStore deletes an import's grievance tickets.
type TicketStore interface {
	DeleteByImport(ctx context.Context, importID domain.ImportID) error
}

// PairStore deletes similarity pairs touching an import's individuals.
type PairStore interface {
	DeleteForIndividuals(ctx context.Context, programID domain.ProgramID, ids []domain.IndividualID) error
}

// Service performs administrative import deletion.
type Service struct {
	runner      tx.Runner
	imports     ImportStore
	individuals IndividualStore
	households  HouseholdStore
	tickets     TicketStore
	pairs       PairStore
	index       searchindex.Index
	logger      *slog.Logger
}

func NewService(
	runner tx.Runner,
	imports ImportStore,
	individuals IndividualStore,
	households HouseholdStore,
	tickets TicketStore,
	pairs PairStore,
	index searchindex.Index,
	logger *slog.Logger,
) *Service {
	return &Service{
		runner:      runner,
		imports:     imports,
		individuals: individuals,
		households:  households,
		tickets:     tickets,
		pairs:       pairs,
		index:       index,
		logger:      logger,
	}
}

// DeleteImport removes an unmerged import and everything hanging off it:
// individuals, households, tickets, similarity pairs and index documents.
// Merged imports are part of the golden record and cannot be deleted.
func (s *Service) DeleteImport(ctx context.Context, importID domain.ImportID) error {
	rdi, err := s.imports.Get(ctx, importID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "load import")
	}
	if rdi.Status == models.ImportStatusMerged || rdi.Status == models.ImportStatusMerging {
		return dErrors.Newf(dErrors.CodeInvariantViolation,
			"cannot delete import in status %s", rdi.Status)
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		individuals, err := s.individuals.ListByImport(ctx, importID)
		if err != nil {
			return fmt.Errorf("list individuals: %w", err)
		}
		ids := make([]domain.IndividualID, 0, len(individuals))
		for _, ind := range individuals {
			ids = append(ids, ind.ID)
		}
		if len(ids) > 0 {
			if err := s.pairs.DeleteForIndividuals(ctx, rdi.ProgramID, ids); err != nil {
				return fmt.Errorf("delete similarity pairs: %w", err)
			}
		}
		if err := s.tickets.DeleteByImport(ctx, importID); err != nil {
			return fmt.Errorf("delete tickets: %w", err)
		}
		if err := s.individuals.DeleteByImport(ctx, importID); err != nil {
			return fmt.Errorf("delete individuals: %w", err)
		}
		if err := s.households.DeleteByImport(ctx, importID); err != nil {
			return fmt.Errorf("delete households: %w", err)
		}
		return s.imports.Delete(ctx, importID)
	})
	if err != nil {
		return err
	}

	// The index is a side store; a failed cleanup is logged and retried by
	// the next rebuild, never surfaced as a deletion failure.
	if err := s.index.DeleteByImport(ctx, importID); err != nil {
		s.logger.Error("delete index documents", "import_id", importID, "error", err)
	}
	s.logger.Info("import deleted", "import_id", importID, "business_area", rdi.BusinessArea)
	return nil
}

// ReindexImport re-derives the import's index documents from the relational
// rows, repairing index drift after failed compensations.
func (s *Service) ReindexImport(ctx context.Context, importID domain.ImportID) error {
	if _, err := s.imports.Get(ctx, importID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "load import")
	}
	individuals, err := s.individuals.ListByImport(ctx, importID)
	if err != nil {
		return fmt.Errorf("list individuals: %w", err)
	}
	if err := s.index.DeleteByImport(ctx, importID); err != nil {
		return fmt.Errorf("clear index documents: %w", err)
	}
	if err := s.index.Upsert(ctx, searchindex.FromIndividuals(individuals)); err != nil {
		return fmt.Errorf("reindex documents: %w", err)
	}
	s.logger.Info("import reindexed", "import_id", importID, "documents", len(individuals))
	return nil
}
