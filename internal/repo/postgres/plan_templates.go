package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/metadeploy/metadeploy-go/internal/domain"
)

type PlanTemplateStore struct {
	db DB
}

func NewPlanTemplateStore(db DB) *PlanTemplateStore {
	if db == nil {
		return nil
	}
	return &PlanTemplateStore{db: db}
}

const selectPlanTemplateColumns = `SELECT id, product_id, name, preflight_message, post_install_message, error_message FROM plan_templates`

func scanPlanTemplate(row scanner) (domain.PlanTemplate, error) {
	var t domain.PlanTemplate
	if err := row.Scan(&t.ID, &t.ProductID, &t.Name, &t.PreflightMessage, &t.PostInstallMessage, &t.ErrorMessage); err != nil {
		return domain.PlanTemplate{}, err
	}
	return t, nil
}

func (s *PlanTemplateStore) Create(ctx context.Context, template domain.PlanTemplate) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("plan template store not initialized")
	}
	if _, err := requireID("product", template.ProductID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO plan_templates (id, product_id, name, preflight_message, post_install_message, error_message)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		strings.TrimSpace(template.ID),
		strings.TrimSpace(template.ProductID),
		strings.TrimSpace(template.Name),
		template.PreflightMessage,
		template.PostInstallMessage,
		template.ErrorMessage,
	)
	if err != nil {
		return writeErr("insert plan template", err)
	}
	return nil
}

func (s *PlanTemplateStore) Get(ctx context.Context, id string) (domain.PlanTemplate, error) {
	if s == nil || s.db == nil {
		return domain.PlanTemplate{}, fmt.Errorf("plan template store not initialized")
	}
	id, err := requireID("plan template", id)
	if err != nil {
		return domain.PlanTemplate{}, err
	}
	t, err := scanPlanTemplate(s.db.QueryRowContext(ctx, selectPlanTemplateColumns+` WHERE id = $1`, id))
	if err != nil {
		return domain.PlanTemplate{}, handleNotFound(err)
	}
	return t, nil
}

func (s *PlanTemplateStore) List(ctx context.Context, productID string) ([]domain.PlanTemplate, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("plan template store not initialized")
	}
	query := selectPlanTemplateColumns
	args := []any{}
	if productID = strings.TrimSpace(productID); productID != "" {
		args = append(args, productID)
		query += ` WHERE product_id = $1`
	}
	query += ` ORDER BY name, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plan templates: %w", err)
	}
	defer rows.Close()

	out := make([]domain.PlanTemplate, 0)
	for rows.Next() {
		t, err := scanPlanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan template: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list plan templates: %w", err)
	}
	return out, nil
}

func (s *PlanTemplateStore) Update(ctx context.Context, template domain.PlanTemplate) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("plan template store not initialized")
	}
	id, err := requireID("plan template", template.ID)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE plan_templates SET name = $2, preflight_message = $3, post_install_message = $4, error_message = $5 WHERE id = $1`,
		id,
		strings.TrimSpace(template.Name),
		template.PreflightMessage,
		template.PostInstallMessage,
		template.ErrorMessage,
	)
	if err != nil {
		return writeErr("update plan template", err)
	}
	return requireAffected(res)
}
