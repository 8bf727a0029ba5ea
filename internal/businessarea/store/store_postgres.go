package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"intake/internal/businessarea/models"
	"intake/pkg/domain"
	"intake/pkg/platform/sentinel"
	"intake/pkg/platform/tx"
)

// Postgres persists business areas in PostgreSQL.
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

func (s *Postgres) Get(ctx context.Context, slug domain.BusinessAreaSlug) (*models.BusinessArea, error) {
	var (
		area    models.BusinessArea
		rawSlug string
	)
	err := s.q(ctx).QueryRow(ctx,
		`SELECT slug, name, postpone_deduplication,
			batch_duplicate_score, batch_possible_duplicate_score,
			golden_duplicate_score, golden_possible_duplicate_score,
			batch_duplicates_count_allowed, batch_duplicates_percent_allowed,
			golden_duplicates_count_allowed, golden_duplicates_percent_allowed,
			biometric_threshold, created_at, updated_at
		 FROM business_areas WHERE slug = $1`, slug.String()).Scan(
		&rawSlug, &area.Name, &area.PostponeDeduplication,
		&area.Thresholds.BatchDuplicateScore, &area.Thresholds.BatchPossibleDuplicateScore,
		&area.Thresholds.GoldenRecordDuplicateScore, &area.Thresholds.GoldenRecordPossibleDuplicateScore,
		&area.Thresholds.BatchDuplicatesCountAllowed, &area.Thresholds.BatchDuplicatesPercentAllowed,
		&area.Thresholds.GoldenRecordDuplicatesCountAllowed, &area.Thresholds.GoldenRecordDuplicatesPercentAllowed,
		&area.Thresholds.BiometricDeduplicationThreshold, &area.CreatedAt, &area.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get business area: %w", err)
	}
	area.Slug = domain.BusinessAreaSlug(rawSlug)
	return &area, nil
}

func (s *Postgres) Update(ctx context.Context, area *models.BusinessArea) error {
	tag, err := s.q(ctx).Exec(ctx,
		`UPDATE business_areas SET
			name = $2, postpone_deduplication = $3,
			batch_duplicate_score = $4, batch_possible_duplicate_score = $5,
			golden_duplicate_score = $6, golden_possible_duplicate_score = $7,
			batch_duplicates_count_allowed = $8, batch_duplicates_percent_allowed = $9,
			golden_duplicates_count_allowed = $10, golden_duplicates_percent_allowed = $11,
			biometric_threshold = $12, updated_at = $13
		 WHERE slug = $1`,
		area.Slug.String(), area.Name, area.PostponeDeduplication,
		area.Thresholds.BatchDuplicateScore, area.Thresholds.BatchPossibleDuplicateScore,
		area.Thresholds.GoldenRecordDuplicateScore, area.Thresholds.GoldenRecordPossibleDuplicateScore,
		area.Thresholds.BatchDuplicatesCountAllowed, area.Thresholds.BatchDuplicatesPercentAllowed,
		area.Thresholds.GoldenRecordDuplicatesCountAllowed, area.Thresholds.GoldenRecordDuplicatesPercentAllowed,
		area.Thresholds.BiometricDeduplicationThreshold, area.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update business area: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
