package rdi

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

// Postgres persists registration data imports in PostgreSQL.
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

const importColumns = `
	id, name, program_id, business_area, data_source, status, error_message,
	dedup_engine_status,
	batch_duplicates, batch_possible_duplicates, batch_unique,
	golden_duplicates, golden_possible_duplicates, golden_unique,
	biometric_duplicates_batch, biometric_duplicates_population,
	deduped_at, created_at, updated_at`

func (s *Postgres) Get(ctx context.Context, id domain.ImportID) (*models.RegistrationDataImport, error) {
	return s.get(ctx, id, "")
}

// GetForUpdate locks the import row for the duration of the enclosing
// transaction, serializing merge attempts per import.
func (s *Postgres) GetForUpdate(ctx context.Context, id domain.ImportID) (*models.RegistrationDataImport, error) {
	return s.get(ctx, id, " FOR UPDATE")
}

func (s *Postgres) get(ctx context.Context, id domain.ImportID, suffix string) (*models.RegistrationDataImport, error) {
	row := s.q(ctx).QueryRow(ctx,
		`SELECT `+importColumns+` FROM registration_data_imports WHERE id = $1`+suffix,
		id.String())
	rdi, err := scanImport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get import: %w", err)
	}
	return rdi, nil
}

func (s *Postgres) Create(ctx context.Context, rdi *models.RegistrationDataImport) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO registration_data_imports (`+importColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		rdi.ID.String(), rdi.Name, rdi.ProgramID.String(), rdi.BusinessArea.String(),
		rdi.DataSource, string(rdi.Status), rdi.ErrorMessage,
		string(rdi.DeduplicationEngineStatus),
		rdi.BatchDuplicates, rdi.BatchPossibleDuplicates, rdi.BatchUnique,
		rdi.GoldenRecordDuplicates, rdi.GoldenRecordPossibleDuplicates, rdi.GoldenRecordUnique,
		rdi.BiometricDuplicatesAgainstBatch, rdi.BiometricDuplicatesAgainstPopulation,
		rdi.DedupedAt, rdi.CreatedAt, rdi.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create import: %w", err)
	}
	return nil
}

func (s *Postgres) Update(ctx context.Context, rdi *models.RegistrationDataImport) error {
	tag, err := s.q(ctx).Exec(ctx,
		`UPDATE registration_data_imports SET
			name = $2, status = $3, error_message = $4, dedup_engine_status = $5,
			batch_duplicates = $6, batch_possible_duplicates = $7, batch_unique = $8,
			golden_duplicates = $9, golden_possible_duplicates = $10, golden_unique = $11,
			biometric_duplicates_batch = $12, biometric_duplicates_population = $13,
			deduped_at = $14, updated_at = $15
		 WHERE id = $1`,
		rdi.ID.String(), rdi.Name, string(rdi.Status), rdi.ErrorMessage,
		string(rdi.DeduplicationEngineStatus),
		rdi.BatchDuplicates, rdi.BatchPossibleDuplicates, rdi.BatchUnique,
		rdi.GoldenRecordDuplicates, rdi.GoldenRecordPossibleDuplicates, rdi.GoldenRecordUnique,
		rdi.BiometricDuplicatesAgainstBatch, rdi.BiometricDuplicatesAgainstPopulation,
		rdi.DedupedAt, rdi.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update import: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) ListByProgramAndEngineStatus(ctx context.Context, programID domain.ProgramID, statuses ...models.EngineStatus) ([]*models.RegistrationDataImport, error) {
	raw := make([]string, len(statuses))
	for i, st := range statuses {
		raw[i] = string(st)
	}
	rows, err := s.q(ctx).Query(ctx,
		`SELECT `+importColumns+` FROM registration_data_imports
		 WHERE program_id = $1 AND dedup_engine_status = ANY($2)
		 ORDER BY created_at, id`,
		programID.String(), raw)
	if err != nil {
		return nil, fmt.Errorf("list imports by engine status: %w", err)
	}
	defer rows.Close()

	var out []*models.RegistrationDataImport
	for rows.Next() {
		rdi, err := scanImport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		out = append(out, rdi)
	}
	return out, rows.Err()
}

func (s *Postgres) ListProgramIDsWithEngineStatus(ctx context.Context, statuses ...models.EngineStatus) ([]domain.ProgramID, error) {
	raw := make([]string, len(statuses))
	for i, st := range statuses {
		raw[i] = string(st)
	}
	rows, err := s.q(ctx).Query(ctx,
		`SELECT DISTINCT program_id FROM registration_data_imports
		 WHERE dedup_engine_status = ANY($1) ORDER BY program_id`, raw)
	if err != nil {
		return nil, fmt.Errorf("list programs by engine status: %w", err)
	}
	defer rows.Close()

	var out []domain.ProgramID
	for rows.Next() {
		var rawID string
		if err := rows.Scan(&rawID); err != nil {
			return nil, fmt.Errorf("scan program id: %w", err)
		}
		id, err := domain.ParseProgramID(rawID)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Postgres) Delete(ctx context.Context, id domain.ImportID) error {
	tag, err := s.q(ctx).Exec(ctx,
		`DELETE FROM registration_data_imports WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("delete import: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanImport(row pgx.Row) (*models.RegistrationDataImport, error) {
	var (
		rdi                  models.RegistrationDataImport
		id, programID        string
		businessArea, status string
		engineStatus         string
	)
	err := row.Scan(
		&id, &rdi.Name, &programID, &businessArea, &rdi.DataSource, &status,
		&rdi.ErrorMessage, &engineStatus,
		&rdi.BatchDuplicates, &rdi.BatchPossibleDuplicates, &rdi.BatchUnique,
		&rdi.GoldenRecordDuplicates, &rdi.GoldenRecordPossibleDuplicates, &rdi.GoldenRecordUnique,
		&rdi.BiometricDuplicatesAgainstBatch, &rdi.BiometricDuplicatesAgainstPopulation,
		&rdi.DedupedAt, &rdi.CreatedAt, &rdi.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if rdi.ID, err = domain.ParseImportID(id); err != nil {
		return nil, err
	}
	if rdi.ProgramID, err = domain.ParseProgramID(programID); err != nil {
		return nil, err
	}
	rdi.BusinessArea = domain.BusinessAreaSlug(businessArea)
	rdi.Status = models.ImportStatus(status)
	rdi.DeduplicationEngineStatus = models.EngineStatus(engineStatus)
	return &rdi, nil
}
