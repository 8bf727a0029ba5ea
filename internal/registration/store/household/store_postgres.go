package household

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

// Postgres persists households in PostgreSQL.
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

const householdColumns = `
	id, import_id, program_id, business_area, unicef_id, country_code,
	admin_area, address, size, identification_key, roles, collection_id,
	merge_status, created_at, updated_at`

func (s *Postgres) Get(ctx context.Context, id domain.HouseholdID) (*models.Household, error) {
	row := s.q(ctx).QueryRow(ctx,
		`SELECT `+householdColumns+` FROM households WHERE id = $1`, id.String())
	hh, err := scanHousehold(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get household: %w", err)
	}
	return hh, nil
}

func (s *Postgres) ListPendingByImport(ctx context.Context, importID domain.ImportID) ([]*models.Household, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT `+householdColumns+` FROM households
		 WHERE import_id = $1 AND merge_status = $2
		 ORDER BY created_at, id`,
		importID.String(), string(models.MergeStatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending households: %w", err)
	}
	defer rows.Close()
	return scanHouseholds(rows)
}

func (s *Postgres) FindMergedByIdentificationKey(ctx context.Context, area domain.BusinessAreaSlug, key string) (*models.Household, error) {
	row := s.q(ctx).QueryRow(ctx,
		`SELECT `+householdColumns+` FROM households
		 WHERE business_area = $1 AND identification_key = $2 AND merge_status = $3
		 ORDER BY created_at LIMIT 1`,
		area.String(), key, string(models.MergeStatusMerged))
	hh, err := scanHousehold(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find household by identification key: %w", err)
	}
	return hh, nil
}

func (s *Postgres) FindMergedByUnicefID(ctx context.Context, area domain.BusinessAreaSlug, unicefID string) ([]*models.Household, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT `+householdColumns+` FROM households
		 WHERE business_area = $1 AND unicef_id = $2 AND merge_status = $3
		 ORDER BY created_at, id`,
		area.String(), unicefID, string(models.MergeStatusMerged))
	if err != nil {
		return nil, fmt.Errorf("find households by unicef id: %w", err)
	}
	defer rows.Close()
	return scanHouseholds(rows)
}

func (s *Postgres) Update(ctx context.Context, hh *models.Household) error {
	return s.BulkUpdate(ctx, []*models.Household{hh})
}

func (s *Postgres) BulkUpdate(ctx context.Context, households []*models.Household) error {
	batch := &pgx.Batch{}
	for _, hh := range households {
		roles, err := json.Marshal(rolesToStrings(hh.Roles))
		if err != nil {
			return fmt.Errorf("marshal roles for %s: %w", hh.ID, err)
		}
		batch.Queue(`UPDATE households SET
			unicef_id = $2, country_code = $3, admin_area = $4, address = $5,
			size = $6, identification_key = $7, roles = $8, collection_id = $9,
			merge_status = $10, updated_at = $11
			WHERE id = $1`,
			hh.ID.String(), hh.UnicefID, hh.CountryCode, hh.AdminArea, hh.Address,
			hh.Size, hh.IdentificationKey, roles, hh.CollectionID,
			string(hh.MergeStatus), hh.UpdatedAt)
	}
	if err := sendBatch(ctx, s.q(ctx), batch); err != nil {
		return fmt.Errorf("bulk update households: %w", err)
	}
	return nil
}

func (s *Postgres) DeleteByImport(ctx context.Context, importID domain.ImportID) error {
	if _, err := s.q(ctx).Exec(ctx,
		`DELETE FROM households WHERE import_id = $1`, importID.String()); err != nil {
		return fmt.Errorf("delete households by import: %w", err)
	}
	return nil
}

func (s *Postgres) DeleteByIDs(ctx context.Context, ids []domain.HouseholdID) error {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	if _, err := s.q(ctx).Exec(ctx,
		`DELETE FROM households WHERE id = ANY($1)`, raw); err != nil {
		return fmt.Errorf("delete households: %w", err)
	}
	return nil
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

func rolesToStrings(roles map[string]domain.IndividualID) map[string]string {
	out := make(map[string]string, len(roles))
	for role, id := range roles {
		out[role] = id.String()
	}
	return out
}

func scanHouseholds(rows pgx.Rows) ([]*models.Household, error) {
	var out []*models.Household
	for rows.Next() {
		hh, err := scanHousehold(rows)
		if err != nil {
			return nil, fmt.Errorf("scan household: %w", err)
		}
		out = append(out, hh)
	}
	return out, rows.Err()
}

func scanHousehold(row pgx.Row) (*models.Household, error) {
	var (
		hh                       models.Household
		id, importID, programID  string
		businessArea, mergeState string
		roles                    []byte
	)
	err := row.Scan(
		&id, &importID, &programID, &businessArea, &hh.UnicefID, &hh.CountryCode,
		&hh.AdminArea, &hh.Address, &hh.Size, &hh.IdentificationKey, &roles,
		&hh.CollectionID, &mergeState, &hh.CreatedAt, &hh.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if hh.ID, err = domain.ParseHouseholdID(id); err != nil {
		return nil, err
	}
	if hh.ImportID, err = domain.ParseImportID(importID); err != nil {
		return nil, err
	}
	if hh.ProgramID, err = domain.ParseProgramID(programID); err != nil {
		return nil, err
	}
	hh.BusinessArea = domain.BusinessAreaSlug(businessArea)
	hh.MergeStatus = models.MergeStatus(mergeState)

	if len(roles) > 0 {
		var raw map[string]string
		if err := json.Unmarshal(roles, &raw); err != nil {
			return nil, fmt.Errorf("decode roles: %w", err)
		}
		hh.Roles = make(map[string]domain.IndividualID, len(raw))
		for role, rawID := range raw {
			parsed, err := domain.ParseIndividualID(rawID)
			if err != nil {
				return nil, err
			}
			hh.Roles[role] = parsed
		}
	}
	return &hh, nil
}
