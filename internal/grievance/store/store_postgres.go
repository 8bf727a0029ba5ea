package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"intake/internal/grievance/models"
	"intake/pkg/domain"
	"intake/pkg/platform/sentinel"
	"intake/pkg/platform/tx"
)

// Postgres persists grievance tickets in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Postgres) q(ctx context.Context) querier {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.pool
}

const ticketColumns = `
	id, category, issue_type, status, business_area, program_id, import_id,
	golden_individual, possible_duplicates, comment, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, ticket *models.Ticket) error {
	duplicates := make([]string, len(ticket.PossibleDuplicates))
	for i, id := range ticket.PossibleDuplicates {
		duplicates[i] = id.String()
	}
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO grievance_tickets (`+ticketColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		ticket.ID.String(), string(ticket.Category), string(ticket.IssueType),
		string(ticket.Status), ticket.BusinessArea.String(), ticket.ProgramID.String(),
		ticket.ImportID.String(), ticket.GoldenIndividual.String(), duplicates,
		ticket.Comment, ticket.CreatedAt, ticket.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id domain.TicketID) (*models.Ticket, error) {
	row := s.q(ctx).QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM grievance_tickets WHERE id = $1`, id.String())
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return ticket, nil
}

func (s *Postgres) ListOpenByProgram(ctx context.Context, programID domain.ProgramID, category models.Category) ([]*models.Ticket, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT `+ticketColumns+` FROM grievance_tickets
		 WHERE program_id = $1 AND category = $2 AND status <> $3
		 ORDER BY created_at, id`,
		programID.String(), string(category), string(models.StatusClosed))
	if err != nil {
		return nil, fmt.Errorf("list open tickets: %w", err)
	}
	defer rows.Close()

	var out []*models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, ticket)
	}
	return out, rows.Err()
}

func (s *Postgres) FindOpenCovering(ctx context.Context, programID domain.ProgramID, category models.Category, ids []domain.IndividualID) (*models.Ticket, error) {
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

func (s *Postgres) DeleteByImport(ctx context.Context, importID domain.ImportID) error {
	if _, err := s.q(ctx).Exec(ctx,
		`DELETE FROM grievance_tickets WHERE import_id = $1`, importID.String()); err != nil {
		return fmt.Errorf("delete tickets by import: %w", err)
	}
	return nil
}

func scanTicket(row pgx.Row) (*models.Ticket, error) {
	var (
		ticket                            models.Ticket
		id, category, issueType, status   string
		businessArea, programID, importID string
		golden                            string
		duplicates                        []string
	)
	err := row.Scan(&id, &category, &issueType, &status, &businessArea,
		&programID, &importID, &golden, &duplicates, &ticket.Comment,
		&ticket.CreatedAt, &ticket.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if ticket.ID, err = domain.ParseTicketID(id); err != nil {
		return nil, err
	}
	ticket.Category = models.Category(category)
	ticket.IssueType = models.IssueType(issueType)
	ticket.Status = models.Status(status)
	ticket.BusinessArea = domain.BusinessAreaSlug(businessArea)
	if ticket.ProgramID, err = domain.ParseProgramID(programID); err != nil {
		return nil, err
	}
	if ticket.ImportID, err = domain.ParseImportID(importID); err != nil {
		return nil, err
	}
	if ticket.GoldenIndividual, err = domain.ParseIndividualID(golden); err != nil {
		return nil, err
	}
	ticket.PossibleDuplicates = make([]domain.IndividualID, 0, len(duplicates))
	for _, raw := range duplicates {
		parsed, err := domain.ParseIndividualID(raw)
		if err != nil {
			return nil, err
		}
		ticket.PossibleDuplicates = append(ticket.PossibleDuplicates, parsed)
	}
	return &ticket, nil
}
