package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/metadeploy/metadeploy-go/internal/domain"
)

type AllowedListStore struct {
	db DB
}

func NewAllowedListStore(db DB) *AllowedListStore {
	if db == nil {
		return nil
	}
	return &AllowedListStore{db: db}
}

const (
	selectAllowedListColumns = `SELECT id, title, description, org_types, list_for_allowed_by_orgs FROM allowed_lists`
	selectAllowedOrgColumns  = `SELECT id, allowed_list_id, org_id, description, created_by, created_at FROM allowed_list_orgs`
)

func scanAllowedList(row scanner) (domain.AllowedList, error) {
	var (
		list     domain.AllowedList
		typesRaw []byte
	)
	if err := row.Scan(&list.ID, &list.Title, &list.Description, &typesRaw, &list.ListForAllowedByOrgs); err != nil {
		return domain.AllowedList{}, err
	}
	types, err := decodeStrings(typesRaw)
	if err != nil {
		return domain.AllowedList{}, fmt.Errorf("decode org_types: %w", err)
	}
	list.OrgTypes = types
	return list, nil
}

func scanAllowedOrg(row scanner) (domain.AllowedListOrg, error) {
	var (
		org       domain.AllowedListOrg
		createdBy sql.NullString
	)
	if err := row.Scan(&org.ID, &org.AllowedListID, &org.OrgID, &org.Description, &createdBy, &org.CreatedAt); err != nil {
		return domain.AllowedListOrg{}, err
	}
	org.CreatedBy = createdBy.String
	return org, nil
}

func (s *AllowedListStore) CreateList(ctx context.Context, list domain.AllowedList) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("allowed list store not initialized")
	}
	if strings.TrimSpace(list.Title) == "" {
		return errors.New("title is required")
	}
	typesJSON, err := encodeJSON(normalizeOrgTypes(list.OrgTypes))
	if err != nil {
		return fmt.Errorf("encode org_types: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO allowed_lists (id, title, description, org_types, list_for_allowed_by_orgs) VALUES ($1,$2,$3,$4,$5)`,
		strings.TrimSpace(list.ID),
		strings.TrimSpace(list.Title),
		list.Description,
		typesJSON,
		list.ListForAllowedByOrgs,
	)
	if err != nil {
		return writeErr("insert allowed list", err)
	}
	return nil
}

func (s *AllowedListStore) GetList(ctx context.Context, id string) (domain.AllowedList, error) {
	if s == nil || s.db == nil {
		return domain.AllowedList{}, fmt.Errorf("allowed list store not initialized")
	}
	id, err := requireID("allowed list", id)
	if err != nil {
		return domain.AllowedList{}, err
	}
	list, err := scanAllowedList(s.db.QueryRowContext(ctx, selectAllowedListColumns+` WHERE id = $1`, id))
	if err != nil {
		return domain.AllowedList{}, handleNotFound(err)
	}
	return list, nil
}

func (s *AllowedListStore) ListLists(ctx context.Context) ([]domain.AllowedList, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("allowed list store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, selectAllowedListColumns+` ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("list allowed lists: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AllowedList, 0)
	for rows.Next() {
		list, err := scanAllowedList(rows)
		if err != nil {
			return nil, fmt.Errorf("scan allowed list: %w", err)
		}
		out = append(out, list)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list allowed lists: %w", err)
	}
	return out, nil
}

func (s *AllowedListStore) UpdateList(ctx context.Context, list domain.AllowedList) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("allowed list store not initialized")
	}
	id, err := requireID("allowed list", list.ID)
	if err != nil {
		return err
	}
	typesJSON, err := encodeJSON(normalizeOrgTypes(list.OrgTypes))
	if err != nil {
		return fmt.Errorf("encode org_types: %w", err)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE allowed_lists SET title = $2, description = $3, org_types = $4, list_for_allowed_by_orgs = $5 WHERE id = $1`,
		id,
		strings.TrimSpace(list.Title),
		list.Description,
		typesJSON,
		list.ListForAllowedByOrgs,
	)
	if err != nil {
		return writeErr("update allowed list", err)
	}
	return requireAffected(res)
}

func (s *AllowedListStore) CreateOrg(ctx context.Context, org domain.AllowedListOrg) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("allowed list store not initialized")
	}
	if _, err := requireID("allowed list", org.AllowedListID); err != nil {
		return err
	}
	if err := domain.ValidateOrgID(org.OrgID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO allowed_list_orgs (id, allowed_list_id, org_id, description, created_by, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		strings.TrimSpace(org.ID),
		strings.TrimSpace(org.AllowedListID),
		strings.TrimSpace(org.OrgID),
		org.Description,
		nullIfEmpty(org.CreatedBy),
		normalizeTime(org.CreatedAt),
	)
	if err != nil {
		return writeErr("insert allowed list org", err)
	}
	return nil
}

func (s *AllowedListStore) GetOrg(ctx context.Context, id string) (domain.AllowedListOrg, error) {
	if s == nil || s.db == nil {
		return domain.AllowedListOrg{}, fmt.Errorf("allowed list store not initialized")
	}
	id, err := requireID("allowed list org", id)
	if err != nil {
		return domain.AllowedListOrg{}, err
	}
	org, err := scanAllowedOrg(s.db.QueryRowContext(ctx, selectAllowedOrgColumns+` WHERE id = $1`, id))
	if err != nil {
		return domain.AllowedListOrg{}, handleNotFound(err)
	}
	return org, nil
}

// ListOrgs lists orgs on one list, or on every list when listID is empty.
func (s *AllowedListStore) ListOrgs(ctx context.Context, listID string) ([]domain.AllowedListOrg, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("allowed list store not initialized")
	}
	query := selectAllowedOrgColumns
	args := []any{}
	if listID = strings.TrimSpace(listID); listID != "" {
		args = append(args, listID)
		query += ` WHERE allowed_list_id = $1`
	}
	query += ` ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list allowed list orgs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AllowedListOrg, 0)
	for rows.Next() {
		org, err := scanAllowedOrg(rows)
		if err != nil {
			return nil, fmt.Errorf("scan allowed list org: %w", err)
		}
		out = append(out, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list allowed list orgs: %w", err)
	}
	return out, nil
}

func (s *AllowedListStore) OrgIDsFor(ctx context.Context, listID string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("allowed list store not initialized")
	}
	listID, err := requireID("allowed list", listID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT org_id FROM allowed_list_orgs WHERE allowed_list_id = $1`, listID)
	if err != nil {
		return nil, fmt.Errorf("list org ids: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var orgID string
		if err := rows.Scan(&orgID); err != nil {
			return nil, fmt.Errorf("scan org id: %w", err)
		}
		out = append(out, orgID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list org ids: %w", err)
	}
	return out, nil
}

func normalizeOrgTypes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
