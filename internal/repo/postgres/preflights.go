package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

type PreflightStore struct {
	db DB
}

func NewPreflightStore(db DB) *PreflightStore {
	if db == nil {
		return nil
	}
	return &PreflightStore{db: db}
}

const (
	selectPreflightColumns = `SELECT id, plan_id, user_id, org_id, organization_url, status, is_valid, results,
	exception, created_at, edited_at FROM preflight_results`
	mostRecentPreflightQuery = selectPreflightColumns + `
	WHERE plan_id = $1 AND user_id = $2 AND org_id = $3 AND is_valid AND status = 'complete'
	ORDER BY created_at DESC, id DESC
	LIMIT 1`
	currentPreflightQuery = selectPreflightColumns + `
	WHERE org_id = $1 AND status = 'started'
	ORDER BY created_at DESC
	LIMIT 1`
	invalidatePreviousQuery = `UPDATE preflight_results SET is_valid = FALSE, edited_at = $4
	WHERE plan_id = $1 AND user_id = $2 AND org_id = $3 AND is_valid`
	invalidateOlderQuery = `UPDATE preflight_results SET is_valid = FALSE, edited_at = $2
	WHERE is_valid AND created_at < $1`
)

func scanPreflight(row scanner) (domain.PreflightResult, error) {
	var (
		p          domain.PreflightResult
		status     string
		resultsRaw []byte
		exception  sql.NullString
	)
	if err := row.Scan(&p.ID, &p.PlanID, &p.UserID, &p.OrgID, &p.OrganizationURL, &status, &p.IsValid, &resultsRaw, &exception, &p.CreatedAt, &p.EditedAt); err != nil {
		return domain.PreflightResult{}, err
	}
	results, err := decodeResults(resultsRaw)
	if err != nil {
		return domain.PreflightResult{}, fmt.Errorf("decode results: %w", err)
	}
	p.Status = domain.PreflightStatus(status)
	p.Results = results
	p.Exception = exception.String
	return p, nil
}

func (s *PreflightStore) Create(ctx context.Context, preflight domain.PreflightResult) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("preflight store not initialized")
	}
	id, err := requireID("preflight", preflight.ID)
	if err != nil {
		return err
	}
	resultsJSON, err := encodeResults(preflight.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	createdAt := normalizeTime(preflight.CreatedAt)
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO preflight_results (
			id, plan_id, user_id, org_id, organization_url, status, is_valid, results, exception, created_at, edited_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`,
		id,
		strings.TrimSpace(preflight.PlanID),
		strings.TrimSpace(preflight.UserID),
		strings.TrimSpace(preflight.OrgID),
		strings.TrimSpace(preflight.OrganizationURL),
		string(preflight.Status),
		preflight.IsValid,
		resultsJSON,
		nullIfEmpty(preflight.Exception),
		createdAt,
	)
	if err != nil {
		return writeErr("insert preflight", err)
	}
	return nil
}

func (s *PreflightStore) Get(ctx context.Context, id string) (domain.PreflightResult, error) {
	if s == nil || s.db == nil {
		return domain.PreflightResult{}, fmt.Errorf("preflight store not initialized")
	}
	id, err := requireID("preflight", id)
	if err != nil {
		return domain.PreflightResult{}, err
	}
	p, err := scanPreflight(s.db.QueryRowContext(ctx, selectPreflightColumns+` WHERE id = $1`, id))
	if err != nil {
		return domain.PreflightResult{}, handleNotFound(err)
	}
	return p, nil
}

func buildPreflightWhere(filter repo.PreflightFilter) (string, []any) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 6)
	add := func(column, value string) {
		if value = strings.TrimSpace(value); value != "" {
			args = append(args, value)
			clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
		}
	}
	add("plan_id", filter.PlanID)
	add("user_id", filter.UserID)
	add("org_id", filter.OrgID)
	add("status", string(filter.Status))
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func buildPreflightListQuery(filter repo.PreflightFilter) (string, []any) {
	where, args := buildPreflightWhere(filter)
	query := selectPreflightColumns + where + " ORDER BY created_at DESC"
	return appendPage(query, args, filter.Limit, filter.Offset)
}

func (s *PreflightStore) Count(ctx context.Context, filter repo.PreflightFilter) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("preflight store not initialized")
	}
	where, args := buildPreflightWhere(filter)
	return countRows(ctx, s.db, "preflight_results", where, args)
}

func (s *PreflightStore) List(ctx context.Context, filter repo.PreflightFilter) ([]domain.PreflightResult, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("preflight store not initialized")
	}
	query, args := buildPreflightListQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list preflights: %w", err)
	}
	defer rows.Close()

	out := make([]domain.PreflightResult, 0)
	for rows.Next() {
		p, err := scanPreflight(rows)
		if err != nil {
			return nil, fmt.Errorf("scan preflight: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list preflights: %w", err)
	}
	return out, nil
}

func (s *PreflightStore) Update(ctx context.Context, preflight domain.PreflightResult) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("preflight store not initialized")
	}
	id, err := requireID("preflight", preflight.ID)
	if err != nil {
		return err
	}
	resultsJSON, err := encodeResults(preflight.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE preflight_results SET status = $2, is_valid = $3, results = $4, exception = $5, edited_at = $6 WHERE id = $1`,
		id,
		string(preflight.Status),
		preflight.IsValid,
		resultsJSON,
		nullIfEmpty(preflight.Exception),
		normalizeTime(preflight.EditedAt),
	)
	if err != nil {
		return writeErr("update preflight", err)
	}
	return requireAffected(res)
}

func (s *PreflightStore) MostRecent(ctx context.Context, planID, userID, orgID string) (domain.PreflightResult, error) {
	if s == nil || s.db == nil {
		return domain.PreflightResult{}, fmt.Errorf("preflight store not initialized")
	}
	p, err := scanPreflight(s.db.QueryRowContext(ctx, mostRecentPreflightQuery, strings.TrimSpace(planID), strings.TrimSpace(userID), strings.TrimSpace(orgID)))
	if err != nil {
		return domain.PreflightResult{}, handleNotFound(err)
	}
	return p, nil
}

func (s *PreflightStore) CurrentForOrg(ctx context.Context, orgID string) (domain.PreflightResult, error) {
	if s == nil || s.db == nil {
		return domain.PreflightResult{}, fmt.Errorf("preflight store not initialized")
	}
	orgID, err := requireID("org", orgID)
	if err != nil {
		return domain.PreflightResult{}, err
	}
	p, err := scanPreflight(s.db.QueryRowContext(ctx, currentPreflightQuery, orgID))
	if err != nil {
		return domain.PreflightResult{}, handleNotFound(err)
	}
	return p, nil
}

func (s *PreflightStore) InvalidatePrevious(ctx context.Context, planID, userID, orgID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("preflight store not initialized")
	}
	res, err := s.db.ExecContext(ctx, invalidatePreviousQuery, strings.TrimSpace(planID), strings.TrimSpace(userID), strings.TrimSpace(orgID), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("invalidate preflights: %w", err)
	}
	return res.RowsAffected()
}

func (s *PreflightStore) InvalidateOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("preflight store not initialized")
	}
	if cutoff.IsZero() {
		return 0, fmt.Errorf("cutoff is required")
	}
	res, err := s.db.ExecContext(ctx, invalidateOlderQuery, cutoff.UTC(), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire preflights: %w", err)
	}
	return res.RowsAffected()
}
