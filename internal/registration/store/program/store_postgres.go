package program

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"intake/internal/registration/models"
	"intake/pkg/domain"
	"intake/pkg/platform/sentinel"
	"intake/pkg/platform/tx"
)

// Postgres persists programs in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Postgres) q(ctx context.Context) querier {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.pool
}

func (s *Postgres) Get(ctx context.Context, id domain.ProgramID) (*models.Program, error) {
	var (
		p                   models.Program
		rawID, businessArea string
		setID               string
	)
	err := s.q(ctx).QueryRow(ctx,
		`SELECT id, name, business_area, biometric_dedup_enabled,
			collision_detection_enabled, sanction_screening_enabled,
			deduplication_set_id, created_at, updated_at
		 FROM programs WHERE id = $1`, id.String()).Scan(
		&rawID, &p.Name, &businessArea, &p.BiometricDeduplicationEnabled,
		&p.CollisionDetectionEnabled, &p.SanctionScreeningEnabled,
		&setID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get program: %w", err)
	}
	if p.ID, err = domain.ParseProgramID(rawID); err != nil {
		return nil, err
	}
	p.BusinessArea = domain.BusinessAreaSlug(businessArea)
	p.DeduplicationSetID = domain.DeduplicationSetID(setID)
	return &p, nil
}

func (s *Postgres) Update(ctx context.Context, p *models.Program) error {
	tag, err := s.q(ctx).Exec(ctx,
		`UPDATE programs SET
			name = $2, biometric_dedup_enabled = $3, collision_detection_enabled = $4,
			sanction_screening_enabled = $5, deduplication_set_id = $6, updated_at = $7
		 WHERE id = $1`,
		p.ID.String(), p.Name, p.BiometricDeduplicationEnabled,
		p.CollisionDetectionEnabled, p.SanctionScreeningEnabled,
		string(p.DeduplicationSetID), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update program: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
