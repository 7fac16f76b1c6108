package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/metadeploy/metadeploy-go/internal/domain"
)

type CategoryStore struct {
	db DB
}

func NewCategoryStore(db DB) *CategoryStore {
	if db == nil {
		return nil
	}
	return &CategoryStore{db: db}
}

const selectCategoryColumns = `SELECT id, title, description, order_key, is_listed FROM product_categories`

func (s *CategoryStore) Create(ctx context.Context, category domain.ProductCategory) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("category store not initialized")
	}
	if strings.TrimSpace(category.Title) == "" {
		return errors.New("title is required")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO product_categories (id, title, description, order_key, is_listed) VALUES ($1,$2,$3,$4,$5)`,
		strings.TrimSpace(category.ID),
		strings.TrimSpace(category.Title),
		strings.TrimSpace(category.Description),
		category.OrderKey,
		category.IsListed,
	)
	if err != nil {
		return writeErr("insert category", err)
	}
	return nil
}

func (s *CategoryStore) Get(ctx context.Context, id string) (domain.ProductCategory, error) {
	if s == nil || s.db == nil {
		return domain.ProductCategory{}, fmt.Errorf("category store not initialized")
	}
	id, err := requireID("category", id)
	if err != nil {
		return domain.ProductCategory{}, err
	}
	var c domain.ProductCategory
	row := s.db.QueryRowContext(ctx, selectCategoryColumns+` WHERE id = $1`, id)
	if err := row.Scan(&c.ID, &c.Title, &c.Description, &c.OrderKey, &c.IsListed); err != nil {
		return domain.ProductCategory{}, handleNotFound(err)
	}
	return c, nil
}

func (s *CategoryStore) List(ctx context.Context) ([]domain.ProductCategory, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("category store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, selectCategoryColumns+` ORDER BY order_key, title`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ProductCategory, 0)
	for rows.Next() {
		var c domain.ProductCategory
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.OrderKey, &c.IsListed); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return out, nil
}

func (s *CategoryStore) Update(ctx context.Context, category domain.ProductCategory) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("category store not initialized")
	}
	id, err := requireID("category", category.ID)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE product_categories SET title = $2, description = $3, order_key = $4, is_listed = $5 WHERE id = $1`,
		id,
		strings.TrimSpace(category.Title),
		strings.TrimSpace(category.Description),
		category.OrderKey,
		category.IsListed,
	)
	if err != nil {
		return writeErr("update category", err)
	}
	return requireAffected(res)
}
