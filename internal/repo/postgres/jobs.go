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

type JobStore struct {
	db DB
}

func NewJobStore(db DB) *JobStore {
	if db == nil {
		return nil
	}
	return &JobStore{db: db}
}

const (
	selectJobColumns = `SELECT id, plan_id, user_id, org_id, org_type, org_name, organization_url, instance_url,
	is_production_org, step_ids, results, status, is_public, exception, error_message, canceled_at, enqueued_at,
	created_at, edited_at FROM jobs`
	pendingJobQuery = selectJobColumns + `
	WHERE org_id = $1 AND status = 'started'
	ORDER BY created_at
	LIMIT 1`
	updateJobResultsQuery = `UPDATE jobs SET results = $2, edited_at = $3 WHERE id = $1`
	setJobPublicQuery     = `UPDATE jobs SET is_public = $2, edited_at = $3 WHERE id = $1`
	transitionJobQuery    = `UPDATE jobs SET status = $3,
			exception = COALESCE($4, exception),
			error_message = COALESCE($5, error_message),
			canceled_at = COALESCE($6, canceled_at),
			edited_at = $7
		WHERE id = $1 AND status = $2`
	jobExistsQuery = `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`

	failStaleJobsQuery = `UPDATE jobs SET status = 'failed', error_message = $2, edited_at = $3
	WHERE status = 'started' AND created_at < $1`
)

func scanJob(row scanner) (domain.Job, error) {
	var (
		j                       domain.Job
		status                  string
		stepsRaw, resultsRaw    []byte
		exception, errorMessage sql.NullString
		canceledAt, enqueuedAt  sql.NullTime
	)
	if err := row.Scan(
		&j.ID, &j.PlanID, &j.UserID, &j.OrgID, &j.OrgType, &j.OrgName, &j.OrganizationURL, &j.InstanceURL,
		&j.IsProductionOrg, &stepsRaw, &resultsRaw, &status, &j.IsPublic, &exception, &errorMessage, &canceledAt, &enqueuedAt,
		&j.CreatedAt, &j.EditedAt,
	); err != nil {
		return domain.Job{}, err
	}
	steps, err := decodeStrings(stepsRaw)
	if err != nil {
		return domain.Job{}, fmt.Errorf("decode step_ids: %w", err)
	}
	results, err := decodeResults(resultsRaw)
	if err != nil {
		return domain.Job{}, fmt.Errorf("decode results: %w", err)
	}
	j.StepIDs = steps
	j.Results = results
	j.Status = domain.JobStatus(status)
	j.Exception = exception.String
	j.ErrorMessage = errorMessage.String
	j.CanceledAt = timePtr(canceledAt)
	j.EnqueuedAt = timePtr(enqueuedAt)
	return j, nil
}

func (s *JobStore) Create(ctx context.Context, job domain.Job) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job store not initialized")
	}
	id, err := requireID("job", job.ID)
	if err != nil {
		return err
	}
	if job.StepIDs == nil {
		job.StepIDs = []string{}
	}
	stepsJSON, err := encodeJSON(job.StepIDs)
	if err != nil {
		return fmt.Errorf("encode step_ids: %w", err)
	}
	resultsJSON, err := encodeResults(job.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, plan_id, user_id, org_id, org_type, org_name, organization_url, instance_url, is_production_org,
			step_ids, results, status, is_public, exception, error_message, canceled_at, enqueued_at, created_at, edited_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$18)`,
		id,
		strings.TrimSpace(job.PlanID),
		strings.TrimSpace(job.UserID),
		strings.TrimSpace(job.OrgID),
		strings.TrimSpace(job.OrgType),
		strings.TrimSpace(job.OrgName),
		strings.TrimSpace(job.OrganizationURL),
		strings.TrimSpace(job.InstanceURL),
		job.IsProductionOrg,
		stepsJSON,
		resultsJSON,
		string(job.Status),
		job.IsPublic,
		nullIfEmpty(job.Exception),
		nullIfEmpty(job.ErrorMessage),
		nullTime(job.CanceledAt),
		nullTime(job.EnqueuedAt),
		normalizeTime(job.CreatedAt),
	)
	if err != nil {
		return writeErr("insert job", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (domain.Job, error) {
	if s == nil || s.db == nil {
		return domain.Job{}, fmt.Errorf("job store not initialized")
	}
	id, err := requireID("job", id)
	if err != nil {
		return domain.Job{}, err
	}
	j, err := scanJob(s.db.QueryRowContext(ctx, selectJobColumns+` WHERE id = $1`, id))
	if err != nil {
		return domain.Job{}, handleNotFound(err)
	}
	return j, nil
}

func buildJobWhere(filter repo.JobFilter) (string, []any) {
	clauses := make([]string, 0, 5)
	args := make([]any, 0, 7)
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
	if v := strings.TrimSpace(filter.VisibleTo); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("(is_public OR user_id = $%d)", len(args)))
	}
	if filter.PublicOnly {
		clauses = append(clauses, "is_public")
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func buildJobListQuery(filter repo.JobFilter) (string, []any) {
	where, args := buildJobWhere(filter)
	query := selectJobColumns + where + " ORDER BY created_at DESC"
	return appendPage(query, args, filter.Limit, filter.Offset)
}

func (s *JobStore) Count(ctx context.Context, filter repo.JobFilter) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("job store not initialized")
	}
	where, args := buildJobWhere(filter)
	return countRows(ctx, s.db, "jobs", where, args)
}

func (s *JobStore) List(ctx context.Context, filter repo.JobFilter) ([]domain.Job, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("job store not initialized")
	}
	query, args := buildJobListQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

func (s *JobStore) UpdateResults(ctx context.Context, id string, results domain.Results, editedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job store not initialized")
	}
	id, err := requireID("job", id)
	if err != nil {
		return err
	}
	resultsJSON, err := encodeResults(results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	res, err := s.db.ExecContext(ctx, updateJobResultsQuery, id, resultsJSON, normalizeTime(editedAt))
	if err != nil {
		return writeErr("update job results", err)
	}
	return requireAffected(res)
}

func (s *JobStore) SetPublic(ctx context.Context, id string, isPublic bool, editedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job store not initialized")
	}
	id, err := requireID("job", id)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, setJobPublicQuery, id, isPublic, normalizeTime(editedAt))
	if err != nil {
		return writeErr("update job visibility", err)
	}
	return requireAffected(res)
}

func (s *JobStore) Transition(ctx context.Context, id string, from domain.JobStatus, to repo.JobTransition) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job store not initialized")
	}
	id, err := requireID("job", id)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, transitionJobQuery,
		id,
		string(from),
		string(to.Status),
		nullIfEmpty(to.Exception),
		nullIfEmpty(to.ErrorMessage),
		nullTime(to.CanceledAt),
		normalizeTime(to.EditedAt),
	)
	if err != nil {
		return writeErr("transition job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, jobExistsQuery, id).Scan(&exists); err != nil {
		return fmt.Errorf("transition job: %w", err)
	}
	if !exists {
		return repo.ErrNotFound
	}
	return fmt.Errorf("job %s: %w", id, repo.ErrStatusChanged)
}

func (s *JobStore) PendingForOrg(ctx context.Context, orgID string) (domain.Job, error) {
	if s == nil || s.db == nil {
		return domain.Job{}, fmt.Errorf("job store not initialized")
	}
	orgID, err := requireID("org", orgID)
	if err != nil {
		return domain.Job{}, err
	}
	j, err := scanJob(s.db.QueryRowContext(ctx, pendingJobQuery, orgID))
	if err != nil {
		return domain.Job{}, handleNotFound(err)
	}
	return j, nil
}

func (s *JobStore) FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("job store not initialized")
	}
	if cutoff.IsZero() {
		return 0, fmt.Errorf("cutoff is required")
	}
	res, err := s.db.ExecContext(ctx, failStaleJobsQuery, cutoff.UTC(), strings.TrimSpace(message), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	return res.RowsAffected()
}
