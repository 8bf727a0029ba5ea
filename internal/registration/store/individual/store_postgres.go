package individual

import (
	"context"
	"encoding/json"
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

// Postgres persists individuals in PostgreSQL. All methods join an enclosing
// transaction when one is present in the context.
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

const individualColumns = `
	id, household_id, import_id, program_id, business_area, unicef_id,
	given_name, middle_name, family_name, full_name, relationship, sex,
	birth_date, phone_no, phone_no_alternative, documents, photo_key,
	withdrawn, removed, identity_hash, merge_status,
	dedup_batch_status, dedup_golden_status,
	dedup_batch_results, dedup_golden_results,
	created_at, updated_at`

func (s *Postgres) Get(ctx context.Context, id domain.IndividualID) (*models.Individual, error) {
	row := s.q(ctx).QueryRow(ctx,
		`SELECT `+individualColumns+` FROM individuals WHERE id = $1`, id.String())
	ind, err := scanIndividual(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get individual: %w", err)
	}
	return ind, nil
}

func (s *Postgres) GetByIDs(ctx context.Context, ids []domain.IndividualID) ([]*models.Individual, error) {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	rows, err := s.q(ctx).Query(ctx,
		`SELECT `+individualColumns+` FROM individuals WHERE id = ANY($1)`, raw)
	if err != nil {
		return nil, fmt.Errorf("get individuals by ids: %w", err)
	}
	defer rows.Close()
	return scanIndividuals(rows)
}

func (s *Postgres) ListPendingByImport(ctx context.Context, importID domain.ImportID) ([]*models.Individual, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT `+individualColumns+` FROM individuals
		 WHERE import_id = $1 AND merge_status = $2
		 ORDER BY created_at, id`,
		importID.String(), string(models.MergeStatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending individuals: %w", err)
	}
	defer rows.Close()
	return scanIndividuals(rows)
}

func (s *Postgres) ListByImport(ctx context.Context, importID domain.ImportID) ([]*models.Individual, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT `+individualColumns+` FROM individuals
		 WHERE import_id = $1 ORDER BY created_at, id`, importID.String())
	if err != nil {
		return nil, fmt.Errorf("list individuals: %w", err)
	}
	defer rows.Close()
	return scanIndividuals(rows)
}

func (s *Postgres) BulkUpdateDeduplication(ctx context.Context, individuals []*models.Individual) error {
	batch := &pgx.Batch{}
	for _, ind := range individuals {
		batchResults, goldenResults, err := marshalResults(ind)
		if err != nil {
			return err
		}
		batch.Queue(`UPDATE individuals SET
			dedup_batch_status = $2, dedup_golden_status = $3,
			dedup_batch_results = $4, dedup_golden_results = $5, updated_at = $6
			WHERE id = $1`,
			ind.ID.String(),
			string(ind.DeduplicationBatchStatus), string(ind.DeduplicationGoldenRecordStatus),
			batchResults, goldenResults, ind.UpdatedAt)
	}
	if err := sendBatch(ctx, s.q(ctx), batch); err != nil {
		return fmt.Errorf("bulk update deduplication: %w", err)
	}
	return nil
}

func (s *Postgres) BulkUpsert(ctx context.Context, individuals []*models.Individual) error {
	batch := &pgx.Batch{}
	for _, ind := range individuals {
		documents, err := json.Marshal(ind.Documents)
		if err != nil {
			return fmt.Errorf("marshal documents for %s: %w", ind.ID, err)
		}
		batchResults, goldenResults, err := marshalResults(ind)
		if err != nil {
			return err
		}
		batch.Queue(`INSERT INTO individuals (`+individualColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
			ON CONFLICT (id) DO UPDATE SET
				household_id = EXCLUDED.household_id,
				unicef_id = EXCLUDED.unicef_id,
				given_name = EXCLUDED.given_name,
				middle_name = EXCLUDED.middle_name,
				family_name = EXCLUDED.family_name,
				full_name = EXCLUDED.full_name,
				relationship = EXCLUDED.relationship,
				sex = EXCLUDED.sex,
				birth_date = EXCLUDED.birth_date,
				phone_no = EXCLUDED.phone_no,
				phone_no_alternative = EXCLUDED.phone_no_alternative,
				documents = EXCLUDED.documents,
				photo_key = EXCLUDED.photo_key,
				withdrawn = EXCLUDED.withdrawn,
				removed = EXCLUDED.removed,
				identity_hash = EXCLUDED.identity_hash,
				merge_status = EXCLUDED.merge_status,
				dedup_batch_status = EXCLUDED.dedup_batch_status,
				dedup_golden_status = EXCLUDED.dedup_golden_status,
				dedup_batch_results = EXCLUDED.dedup_batch_results,
				dedup_golden_results = EXCLUDED.dedup_golden_results,
				updated_at = EXCLUDED.updated_at`,
			ind.ID.String(), ind.HouseholdID.String(), ind.ImportID.String(),
			ind.ProgramID.String(), ind.BusinessArea.String(), ind.UnicefID,
			ind.GivenName, ind.MiddleName, ind.FamilyName, ind.FullName,
			ind.Relationship, ind.Sex, ind.BirthDate, ind.PhoneNumber,
			ind.PhoneNumberAlt, documents, ind.PhotoKey, ind.Withdrawn,
			ind.Removed, ind.IdentityHash, string(ind.MergeStatus),
			string(ind.DeduplicationBatchStatus), string(ind.DeduplicationGoldenRecordStatus),
			batchResults, goldenResults, ind.CreatedAt, ind.UpdatedAt)
	}
	if err := sendBatch(ctx, s.q(ctx), batch); err != nil {
		return fmt.Errorf("bulk upsert individuals: %w", err)
	}
	return nil
}

func (s *Postgres) DeleteByImport(ctx context.Context, importID domain.ImportID) error {
	if _, err := s.q(ctx).Exec(ctx,
		`DELETE FROM individuals WHERE import_id = $1`, importID.String()); err != nil {
		return fmt.Errorf("delete individuals by import: %w", err)
	}
	return nil
}

func (s *Postgres) DeleteByIDs(ctx context.Context, ids []domain.IndividualID) error {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	if _, err := s.q(ctx).Exec(ctx,
		`DELETE FROM individuals WHERE id = ANY($1)`, raw); err != nil {
		return fmt.Errorf("delete individuals: %w", err)
	}
	return nil
}

func marshalResults(ind *models.Individual) ([]byte, []byte, error) {
	batchResults, err := ind.DeduplicationBatchResults.MarshalPayload()
	if err != nil {
		return nil, nil, fmt.Errorf("marshal batch results for %s: %w", ind.ID, err)
	}
	goldenResults, err := ind.DeduplicationGoldenRecordResults.MarshalPayload()
	if err != nil {
		return nil, nil, fmt.Errorf("marshal golden results for %s: %w", ind.ID, err)
	}
	return batchResults, goldenResults, nil
}

func sendBatch(ctx context.Context, q querier, batch *pgx.Batch) error {
	var br pgx.BatchResults
	switch conn := q.(type) {
	case pgx.Tx:
		br = conn.SendBatch(ctx, batch)
	case *pgxpool.Pool:
		br = conn.SendBatch(ctx, batch)
	default:
		return fmt.Errorf("unsupported querier %T", q)
	}
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func scanIndividuals(rows pgx.Rows) ([]*models.Individual, error) {
	var out []*models.Individual
	for rows.Next() {
		ind, err := scanIndividual(rows)
		if err != nil {
			return nil, fmt.Errorf("scan individual: %w", err)
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

func scanIndividual(row pgx.Row) (*models.Individual, error) {
	var (
		ind                                    models.Individual
		id, householdID, importID, programID   string
		businessArea, mergeStatus              string
		batchStatus, goldenStatus              string
		documents, batchResults, goldenResults []byte
	)
	err := row.Scan(
		&id, &householdID, &importID, &programID, &businessArea, &ind.UnicefID,
		&ind.GivenName, &ind.MiddleName, &ind.FamilyName, &ind.FullName,
		&ind.Relationship, &ind.Sex, &ind.BirthDate, &ind.PhoneNumber,
		&ind.PhoneNumberAlt, &documents, &ind.PhotoKey, &ind.Withdrawn,
		&ind.Removed, &ind.IdentityHash, &mergeStatus,
		&batchStatus, &goldenStatus, &batchResults, &goldenResults,
		&ind.CreatedAt, &ind.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if ind.ID, err = domain.ParseIndividualID(id); err != nil {
		return nil, err
	}
	if ind.HouseholdID, err = domain.ParseHouseholdID(householdID); err != nil {
		return nil, err
	}
	if ind.ImportID, err = domain.ParseImportID(importID); err != nil {
		return nil, err
	}
	if ind.ProgramID, err = domain.ParseProgramID(programID); err != nil {
		return nil, err
	}
	ind.BusinessArea = domain.BusinessAreaSlug(businessArea)
	ind.MergeStatus = models.MergeStatus(mergeStatus)
	ind.DeduplicationBatchStatus = models.DeduplicationBatchStatus(batchStatus)
	ind.DeduplicationGoldenRecordStatus = models.DeduplicationGoldenRecordStatus(goldenStatus)

	if len(documents) > 0 {
		if err := json.Unmarshal(documents, &ind.Documents); err != nil {
			return nil, fmt.Errorf("decode documents: %w", err)
		}
	}
	if ind.DeduplicationBatchResults, err = models.ParseDedupResults(batchResults); err != nil {
		return nil, err
	}
	if ind.DeduplicationGoldenRecordResults, err = models.ParseDedupResults(goldenResults); err != nil {
		return nil, err
	}
	return &ind, nil
}
