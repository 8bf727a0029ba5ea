package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"intake/internal/biometric/models"
	"intake/pkg/domain"
	"intake/pkg/platform/tx"
)

// Postgres persists similarity pairs in PostgreSQL. The table carries a check
// constraint (individual1 < individual2) and a unique key on
// (program_id, individual1, individual2) backing the conflict-ignore insert.
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

func (s *Postgres) BulkCreate(ctx context.Context, pairs []*models.SimilarityPair) error {
	batch := &pgx.Batch{}
	for _, p := range pairs {
		batch.Queue(`INSERT INTO biometric_similarity_pairs
			(program_id, individual1, individual2, similarity_score, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (program_id, individual1, individual2) DO NOTHING`,
			p.ProgramID.String(), p.Individual1.String(), p.Individual2.String(),
			p.SimilarityScore, p.CreatedAt)
	}
	br := s.sendBatch(ctx, batch)
	defer br.Close()
	for range pairs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("bulk create similarity pairs: %w", err)
		}
	}
	return nil
}

func (s *Postgres) DeleteByProgram(ctx context.Context, programID domain.ProgramID) error {
	_, err := s.q(ctx).Exec(ctx,
		`DELETE FROM biometric_similarity_pairs WHERE program_id = $1`,
		programID.String())
	if err != nil {
		return fmt.Errorf("delete similarity pairs by program: %w", err)
	}
	return nil
}

func (s *Postgres) DeleteForIndividuals(ctx context.Context, programID domain.ProgramID, ids []domain.IndividualID) error {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	_, err := s.q(ctx).Exec(ctx,
		`DELETE FROM biometric_similarity_pairs
		 WHERE program_id = $1 AND (individual1 = ANY($2) OR individual2 = ANY($2))`,
		programID.String(), raw)
	if err != nil {
		return fmt.Errorf("delete similarity pairs: %w", err)
	}
	return nil
}

func (s *Postgres) ListForIndividuals(ctx context.Context, programID domain.ProgramID, ids []domain.IndividualID) ([]*models.SimilarityPair, error) {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	rows, err := s.q(ctx).Query(ctx,
		`SELECT program_id, individual1, individual2, similarity_score, created_at
		 FROM biometric_similarity_pairs
		 WHERE program_id = $1 AND (individual1 = ANY($2) OR individual2 = ANY($2))
		 ORDER BY individual1, individual2`,
		programID.String(), raw)
	if err != nil {
		return nil, fmt.Errorf("list similarity pairs: %w", err)
	}
	defer rows.Close()

	var out []*models.SimilarityPair
	for rows.Next() {
		var (
			p                   models.SimilarityPair
			program, ind1, ind2 string
		)
		if err := rows.Scan(&program, &ind1, &ind2, &p.SimilarityScore, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan similarity pair: %w", err)
		}
		if p.ProgramID, err = domain.ParseProgramID(program); err != nil {
			return nil, err
		}
		if p.Individual1, err = domain.ParseIndividualID(ind1); err != nil {
			return nil, err
		}
		if p.Individual2, err = domain.ParseIndividualID(ind2); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Postgres) sendBatch(ctx context.Context, batch *pgx.Batch) pgx.BatchResults {
	if t, ok := tx.From(ctx); ok {
		return t.SendBatch(ctx, batch)
	}
	return s.pool.SendBatch(ctx, batch)
}
