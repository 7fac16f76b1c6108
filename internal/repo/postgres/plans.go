package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	platformdb "github.com/metadeploy/metadeploy-go/internal/platform/postgres"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

// PlanStore writes plans and their steps in one transaction, so it needs the
// pool rather than the DB interface.
type PlanStore struct {
	db *sql.DB
}

func NewPlanStore(db *sql.DB) *PlanStore {
	if db == nil {
		return nil
	}
	return &PlanStore{db: db}
}

const (
	selectPlanColumns = `SELECT id, version_id, plan_template_id, title, slug, preflight_message_additional,
	post_install_message_additional, tier, is_listed, preflight_flow_name, visible_to_id, order_key,
	supported_orgs, created_at FROM plans`
	selectStepColumns = `SELECT id, plan_id, name, description, is_required, is_recommended, kind, path,
	step_num, task_class, task_config, source FROM steps`
	insertStepQuery = `INSERT INTO steps (
		id, plan_id, name, description, is_required, is_recommended, kind, path, step_num, task_class, task_config, source
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
)

func scanPlan(row scanner) (domain.Plan, error) {
	var (
		p         domain.Plan
		tier      string
		supported string
		visibleTo sql.NullString
	)
	if err := row.Scan(
		&p.ID, &p.VersionID, &p.PlanTemplateID, &p.Title, &p.Slug, &p.PreflightMessageAdditional,
		&p.PostInstallMessageAdditional, &tier, &p.IsListed, &p.PreflightFlowName, &visibleTo, &p.OrderKey,
		&supported, &p.CreatedAt,
	); err != nil {
		return domain.Plan{}, err
	}
	p.Tier = domain.Tier(tier)
	p.SupportedOrgs = domain.SupportedOrgs(supported)
	p.VisibleToID = visibleTo.String
	p.Steps = []domain.Step{}
	return p, nil
}

func scanStep(row scanner) (domain.Step, error) {
	var (
		st        domain.Step
		kind      string
		configRaw []byte
		sourceRaw []byte
	)
	if err := row.Scan(
		&st.ID, &st.PlanID, &st.Name, &st.Description, &st.IsRequired, &st.IsRecommended, &kind, &st.Path,
		&st.StepNum, &st.TaskClass, &configRaw, &sourceRaw,
	); err != nil {
		return domain.Step{}, err
	}
	st.Kind = domain.StepKind(kind)
	cfg, err := decodeMetadata(configRaw)
	if err != nil {
		return domain.Step{}, fmt.Errorf("decode task_config: %w", err)
	}
	st.TaskConfig = cfg
	if len(sourceRaw) > 0 {
		src, err := decodeMetadata(sourceRaw)
		if err != nil {
			return domain.Step{}, fmt.Errorf("decode source: %w", err)
		}
		st.Source = src
	}
	return st, nil
}

func (s *PlanStore) Create(ctx context.Context, plan domain.Plan) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("plan store not initialized")
	}
	if err := plan.Validate(); err != nil {
		return err
	}
	planID, err := requireID("plan", plan.ID)
	if err != nil {
		return err
	}
	return platformdb.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO plans (
				id, version_id, plan_template_id, title, slug, preflight_message_additional,
				post_install_message_additional, tier, is_listed, preflight_flow_name, visible_to_id,
				order_key, supported_orgs, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			planID,
			strings.TrimSpace(plan.VersionID),
			strings.TrimSpace(plan.PlanTemplateID),
			strings.TrimSpace(plan.Title),
			strings.TrimSpace(plan.Slug),
			plan.PreflightMessageAdditional,
			plan.PostInstallMessageAdditional,
			string(plan.Tier),
			plan.IsListed,
			strings.TrimSpace(plan.PreflightFlowName),
			nullIfEmpty(plan.VisibleToID),
			plan.OrderKey,
			string(plan.SupportedOrgs),
			normalizeTime(plan.CreatedAt),
		)
		if err != nil {
			return writeErr("insert plan", err)
		}
		for _, step := range plan.Steps {
			if err := insertStep(ctx, tx, planID, step); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertStep(ctx context.Context, db DB, planID string, step domain.Step) error {
	configJSON, err := encodeMetadata(step.TaskConfig)
	if err != nil {
		return fmt.Errorf("encode task_config: %w", err)
	}
	var sourceJSON any
	if step.Source != nil {
		raw, err := encodeMetadata(step.Source)
		if err != nil {
			return fmt.Errorf("encode source: %w", err)
		}
		sourceJSON = raw
	}
	_, err = db.ExecContext(
		ctx,
		insertStepQuery,
		strings.TrimSpace(step.ID),
		planID,
		strings.TrimSpace(step.Name),
		step.Description,
		step.IsRequired,
		step.IsRecommended,
		string(step.Kind),
		strings.TrimSpace(step.Path),
		strings.TrimSpace(step.StepNum),
		strings.TrimSpace(step.TaskClass),
		configJSON,
		sourceJSON,
	)
	if err != nil {
		return writeErr("insert step", err)
	}
	return nil
}

func (s *PlanStore) Get(ctx context.Context, id string) (domain.Plan, error) {
	if s == nil || s.db == nil {
		return domain.Plan{}, fmt.Errorf("plan store not initialized")
	}
	id, err := requireID("plan", id)
	if err != nil {
		return domain.Plan{}, err
	}
	plan, err := scanPlan(s.db.QueryRowContext(ctx, selectPlanColumns+` WHERE id = $1`, id))
	if err != nil {
		return domain.Plan{}, handleNotFound(err)
	}
	steps, err := s.loadSteps(ctx, []string{plan.ID})
	if err != nil {
		return domain.Plan{}, err
	}
	plan.Steps = steps[plan.ID]
	if plan.Steps == nil {
		plan.Steps = []domain.Step{}
	}
	return plan, nil
}

func buildPlanWhere(filter repo.PlanFilter) (string, []any) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 4)
	if v := strings.TrimSpace(filter.VersionID); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("version_id = $%d", len(args)))
	}
	if v := strings.TrimSpace(filter.Slug); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("slug = $%d", len(args)))
	}
	if v := strings.TrimSpace(string(filter.Tier)); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("tier = $%d", len(args)))
	}
	if filter.ListedOnly {
		clauses = append(clauses, "is_listed")
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func buildPlanListQuery(filter repo.PlanFilter) (string, []any) {
	where, args := buildPlanWhere(filter)
	query := selectPlanColumns + where + " ORDER BY order_key, created_at"
	return appendPage(query, args, filter.Limit, filter.Offset)
}

func (s *PlanStore) Count(ctx context.Context, filter repo.PlanFilter) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("plan store not initialized")
	}
	where, args := buildPlanWhere(filter)
	return countRows(ctx, s.db, "plans", where, args)
}

func (s *PlanStore) List(ctx context.Context, filter repo.PlanFilter) ([]domain.Plan, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("plan store not initialized")
	}
	query, args := buildPlanListQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	plans := make([]domain.Plan, 0)
	ids := make([]string, 0)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	if len(ids) == 0 {
		return plans, nil
	}
	steps, err := s.loadSteps(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range plans {
		if st, ok := steps[plans[i].ID]; ok {
			plans[i].Steps = st
		}
	}
	return plans, nil
}

func (s *PlanStore) loadSteps(ctx context.Context, planIDs []string) (map[string][]domain.Step, error) {
	rows, err := s.db.QueryContext(ctx, selectStepColumns+` WHERE plan_id = ANY($1)`, planIDs)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	out := map[string][]domain.Step{}
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		out[st.PlanID] = append(out[st.PlanID], st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	for id := range out {
		domain.SortSteps(out[id])
	}
	return out, nil
}

// Update writes plan columns only; steps are immutable after creation.
func (s *PlanStore) Update(ctx context.Context, plan domain.Plan) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("plan store not initialized")
	}
	id, err := requireID("plan", plan.ID)
	if err != nil {
		return err
	}
	if !plan.Tier.Valid() {
		return fmt.Errorf("tier %q is invalid", plan.Tier)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE plans SET
			title = $2, slug = $3, preflight_message_additional = $4, post_install_message_additional = $5,
			tier = $6, is_listed = $7, preflight_flow_name = $8, visible_to_id = $9, order_key = $10,
			supported_orgs = $11, plan_template_id = $12
		 WHERE id = $1`,
		id,
		strings.TrimSpace(plan.Title),
		strings.TrimSpace(plan.Slug),
		plan.PreflightMessageAdditional,
		plan.PostInstallMessageAdditional,
		string(plan.Tier),
		plan.IsListed,
		strings.TrimSpace(plan.PreflightFlowName),
		nullIfEmpty(plan.VisibleToID),
		plan.OrderKey,
		string(plan.SupportedOrgs),
		strings.TrimSpace(plan.PlanTemplateID),
	)
	if err != nil {
		return writeErr("update plan", err)
	}
	return requireAffected(res)
}
