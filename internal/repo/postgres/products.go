package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

type ProductStore struct {
	db DB
}

func NewProductStore(db DB) *ProductStore {
	if db == nil {
		return nil
	}
	return &ProductStore{db: db}
}

const selectProductColumns = `SELECT p.id, p.slug, p.title, p.short_description, p.description, p.click_through_agreement,
	p.category_id, p.color, p.image, p.icon_url, p.slds_icon_category, p.slds_icon_name, p.repo_url,
	p.is_listed, p.order_key, p.visible_to_id, p.created_at
	FROM products p`

func scanProduct(row scanner) (domain.Product, error) {
	var (
		p         domain.Product
		visibleTo sql.NullString
	)
	if err := row.Scan(
		&p.ID, &p.Slug, &p.Title, &p.ShortDescription, &p.Description, &p.ClickThroughAgreement,
		&p.CategoryID, &p.Color, &p.Image, &p.IconURL, &p.SLDSIconCategory, &p.SLDSIconName, &p.RepoURL,
		&p.IsListed, &p.OrderKey, &visibleTo, &p.CreatedAt,
	); err != nil {
		return domain.Product{}, err
	}
	p.VisibleToID = visibleTo.String
	return p, nil
}

func (s *ProductStore) Create(ctx context.Context, product domain.Product) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("product store not initialized")
	}
	if err := product.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO products (
			id, slug, title, short_description, description, click_through_agreement,
			category_id, color, image, icon_url, slds_icon_category, slds_icon_name, repo_url,
			is_listed, order_key, visible_to_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		strings.TrimSpace(product.ID),
		strings.TrimSpace(product.Slug),
		strings.TrimSpace(product.Title),
		product.ShortDescription,
		product.Description,
		product.ClickThroughAgreement,
		strings.TrimSpace(product.CategoryID),
		strings.TrimSpace(product.Color),
		strings.TrimSpace(product.Image),
		strings.TrimSpace(product.IconURL),
		strings.TrimSpace(product.SLDSIconCategory),
		strings.TrimSpace(product.SLDSIconName),
		strings.TrimSpace(product.RepoURL),
		product.IsListed,
		product.OrderKey,
		nullIfEmpty(product.VisibleToID),
		normalizeTime(product.CreatedAt),
	)
	if err != nil {
		return writeErr("insert product", err)
	}
	return nil
}

func (s *ProductStore) Get(ctx context.Context, id string) (domain.Product, error) {
	if s == nil || s.db == nil {
		return domain.Product{}, fmt.Errorf("product store not initialized")
	}
	id, err := requireID("product", id)
	if err != nil {
		return domain.Product{}, err
	}
	p, err := scanProduct(s.db.QueryRowContext(ctx, selectProductColumns+` WHERE p.id = $1`, id))
	if err != nil {
		return domain.Product{}, handleNotFound(err)
	}
	return p, nil
}

func buildProductWhere(filter repo.ProductFilter) (string, []any) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 4)
	if v := strings.TrimSpace(filter.RepoURL); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("p.repo_url = $%d", len(args)))
	}
	if v := strings.TrimSpace(filter.CategoryID); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("p.category_id = $%d", len(args)))
	}
	if v := strings.TrimSpace(filter.Slug); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("p.slug = $%d", len(args)))
	}
	if filter.ListedOnly {
		clauses = append(clauses, "p.is_listed AND EXISTS (SELECT 1 FROM versions v WHERE v.product_id = p.id AND v.is_listed)")
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func buildProductListQuery(filter repo.ProductFilter) (string, []any) {
	where, args := buildProductWhere(filter)
	query := selectProductColumns + ` JOIN product_categories c ON c.id = p.category_id` + where
	query += " ORDER BY c.order_key, p.order_key, p.created_at"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

func (s *ProductStore) List(ctx context.Context, filter repo.ProductFilter) ([]domain.Product, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("product store not initialized")
	}
	query, args := buildProductListQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return out, nil
}

func (s *ProductStore) Count(ctx context.Context, filter repo.ProductFilter) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("product store not initialized")
	}
	where, args := buildProductWhere(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products p`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

func (s *ProductStore) Update(ctx context.Context, product domain.Product) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("product store not initialized")
	}
	if err := product.Validate(); err != nil {
		return err
	}
	id, err := requireID("product", product.ID)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE products SET
			slug = $2, title = $3, short_description = $4, description = $5, click_through_agreement = $6,
			category_id = $7, color = $8, icon_url = $9, slds_icon_category = $10, slds_icon_name = $11,
			repo_url = $12, is_listed = $13, order_key = $14, visible_to_id = $15
		 WHERE id = $1`,
		id,
		strings.TrimSpace(product.Slug),
		strings.TrimSpace(product.Title),
		product.ShortDescription,
		product.Description,
		product.ClickThroughAgreement,
		strings.TrimSpace(product.CategoryID),
		strings.TrimSpace(product.Color),
		strings.TrimSpace(product.IconURL),
		strings.TrimSpace(product.SLDSIconCategory),
		strings.TrimSpace(product.SLDSIconName),
		strings.TrimSpace(product.RepoURL),
		product.IsListed,
		product.OrderKey,
		nullIfEmpty(product.VisibleToID),
	)
	if err != nil {
		return writeErr("update product", err)
	}
	return requireAffected(res)
}

func (s *ProductStore) SetImage(ctx context.Context, id, image string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("product store not initialized")
	}
	id, err := requireID("product", id)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE products SET image = $2 WHERE id = $1`, id, strings.TrimSpace(image))
	if err != nil {
		return fmt.Errorf("set product image: %w", err)
	}
	return requireAffected(res)
}
