package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

type VersionStore struct {
	db DB
}

func NewVersionStore(db DB) *VersionStore {
	if db == nil {
		return nil
	}
	return &VersionStore{db: db}
}

const selectVersionColumns = `SELECT id, product_id, label, description, is_production, commit_ish, is_listed, created_at FROM versions`

func scanVersion(row scanner) (domain.Version, error) {
	var v domain.Version
	if err := row.Scan(&v.ID, &v.ProductID, &v.Label, &v.Description, &v.IsProduction, &v.CommitIsh, &v.IsListed, &v.CreatedAt); err != nil {
		return domain.Version{}, err
	}
	return v, nil
}

func (s *VersionStore) Create(ctx context.Context, version domain.Version) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("version store not initialized")
	}
	if err := version.Validate(); err != nil {
		return err
	}
	commitIsh := strings.TrimSpace(version.CommitIsh)
	if commitIsh == "" {
		commitIsh = "main"
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO versions (id, product_id, label, description, is_production, commit_ish, is_listed, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		strings.TrimSpace(version.ID),
		strings.TrimSpace(version.ProductID),
		strings.TrimSpace(version.Label),
		version.Description,
		version.IsProduction,
		commitIsh,
		version.IsListed,
		normalizeTime(version.CreatedAt),
	)
	if err != nil {
		return writeErr("insert version", err)
	}
	return nil
}

func (s *VersionStore) Get(ctx context.Context, id string) (domain.Version, error) {
	if s == nil || s.db == nil {
		return domain.Version{}, fmt.Errorf("version store not initialized")
	}
	id, err := requireID("version", id)
	if err != nil {
		return domain.Version{}, err
	}
	v, err := scanVersion(s.db.QueryRowContext(ctx, selectVersionColumns+` WHERE id = $1`, id))
	if err != nil {
		return domain.Version{}, handleNotFound(err)
	}
	return v, nil
}

func buildVersionWhere(filter repo.VersionFilter) (string, []any) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if v := strings.TrimSpace(filter.ProductID); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if v := strings.TrimSpace(filter.Label); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("label = $%d", len(args)))
	}
	if filter.ListedOnly {
		clauses = append(clauses, "is_listed")
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func buildVersionListQuery(filter repo.VersionFilter) (string, []any) {
	where, args := buildVersionWhere(filter)
	query := selectVersionColumns + where + " ORDER BY created_at DESC"
	return appendPage(query, args, filter.Limit, filter.Offset)
}

func (s *VersionStore) Count(ctx context.Context, filter repo.VersionFilter) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("version store not initialized")
	}
	where, args := buildVersionWhere(filter)
	return countRows(ctx, s.db, "versions", where, args)
}

func (s *VersionStore) List(ctx context.Context, filter repo.VersionFilter) ([]domain.Version, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("version store not initialized")
	}
	query, args := buildVersionListQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Version, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return out, nil
}

func (s *VersionStore) Update(ctx context.Context, version domain.Version) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("version store not initialized")
	}
	if err := version.Validate(); err != nil {
		return err
	}
	id, err := requireID("version", version.ID)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE versions SET label = $2, description = $3, is_production = $4, commit_ish = $5, is_listed = $6 WHERE id = $1`,
		id,
		strings.TrimSpace(version.Label),
		version.Description,
		version.IsProduction,
		strings.TrimSpace(version.CommitIsh),
		version.IsListed,
	)
	if err != nil {
		return writeErr("update version", err)
	}
	return requireAffected(res)
}

func (s *VersionStore) MostRecent(ctx context.Context, productID string) (domain.Version, error) {
	if s == nil || s.db == nil {
		return domain.Version{}, fmt.Errorf("version store not initialized")
	}
	productID, err := requireID("product", productID)
	if err != nil {
		return domain.Version{}, err
	}
	v, err := scanVersion(s.db.QueryRowContext(
		ctx,
		selectVersionColumns+` WHERE product_id = $1 AND is_listed ORDER BY created_at DESC LIMIT 1`,
		productID,
	))
	if err != nil {
		return domain.Version{}, handleNotFound(err)
	}
	return v, nil
}
