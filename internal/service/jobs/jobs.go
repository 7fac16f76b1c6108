package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/platform/metrics"
	"github.com/metadeploy/metadeploy-go/internal/platform/queue"
	"github.com/metadeploy/metadeploy-go/internal/repo"
	"github.com/metadeploy/metadeploy-go/internal/service/catalog"
)

// PlanResolver loads a plan with its parents and the viewer's access to it.
type PlanResolver interface {
	ResolvePlan(ctx context.Context, viewer domain.Viewer, planID string) (catalog.PlanContext, error)
}

type Service struct {
	logger     *slog.Logger
	plans      PlanResolver
	jobs       repo.JobRepository
	preflights repo.PreflightRepository
	queue      queue.Enqueuer
	audit      repo.AuditEventAppender
	now        func() time.Time
}

func New(logger *slog.Logger, plans PlanResolver, jobs repo.JobRepository, preflights repo.PreflightRepository, q queue.Enqueuer, audit repo.AuditEventAppender) (*Service, error) {
	if plans == nil || jobs == nil || preflights == nil || q == nil {
		return nil, errors.New("jobs service dependencies are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:     logger,
		plans:      plans,
		jobs:       jobs,
		preflights: preflights,
		queue:      q,
		audit:      audit,
		now:        time.Now,
	}, nil
}

type CreateRequest struct {
	PlanID   string
	StepIDs  []string
	IsPublic bool
}

type Patch struct {
	IsPublic *bool
}

type ListFilter struct {
	PlanID string
	Limit  int
	Offset int
}

// Validate checks a job request against the plan, the requester's most
// recent preflight and any pending job for the org. It returns the resolved
// plan and the accepted step ids in plan order.
func (s *Service) Validate(ctx context.Context, req domain.Requester, in CreateRequest) (catalog.PlanContext, []string, error) {
	var verr domain.ValidationError
	planID := strings.TrimSpace(in.PlanID)
	if planID == "" {
		verr.AddField("plan", "This field is required.")
		return catalog.PlanContext{}, nil, verr.OrNil()
	}
	if strings.TrimSpace(req.OrgID) == "" {
		verr.AddNonField("No org connected.")
		return catalog.PlanContext{}, nil, verr.OrNil()
	}
	pc, err := s.plans.ResolvePlan(ctx, req.Viewer, planID)
	if errors.Is(err, repo.ErrNotFound) {
		verr.AddField("plan", fmt.Sprintf("Invalid pk %q - object does not exist.", planID))
		return catalog.PlanContext{}, nil, verr.OrNil()
	}
	if err != nil {
		return catalog.PlanContext{}, nil, err
	}

	reasons := make([]string, 0, 4)
	if !pc.Allowed {
		verr.AddNonField(domain.MsgNotAllowed)
		reasons = append(reasons, "not_allowed")
	}

	optional := map[string]bool{}
	preflight, err := s.preflights.MostRecent(ctx, pc.Plan.ID, req.UserID, req.OrgID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		verr.AddNonField(domain.MsgNoValidPreflight)
		reasons = append(reasons, "no_preflight")
	case err != nil:
		return catalog.PlanContext{}, nil, fmt.Errorf("load preflight: %w", err)
	case preflight.HasErrors():
		verr.AddNonField(domain.MsgNoValidPreflight)
		reasons = append(reasons, "no_preflight")
	default:
		for _, id := range preflight.OptionalStepIDs() {
			optional[id] = true
		}
	}

	selected := map[string]bool{}
	for _, id := range in.StepIDs {
		selected[strings.TrimSpace(id)] = true
	}
	for _, id := range pc.Plan.RequiredStepIDs() {
		if !selected[id] && !optional[id] {
			verr.AddNonField(domain.MsgInvalidSteps)
			reasons = append(reasons, "invalid_steps")
			break
		}
	}

	pending, err := s.jobs.PendingForOrg(ctx, req.OrgID)
	switch {
	case err == nil:
		verr.AddNonField(domain.PendingJobMessage(pending.ID))
		reasons = append(reasons, "pending_job")
	case !errors.Is(err, repo.ErrNotFound):
		return catalog.PlanContext{}, nil, fmt.Errorf("load pending job: %w", err)
	}

	if !verr.Empty() {
		for _, reason := range reasons {
			metrics.RecordJobRejected(reason)
		}
		return catalog.PlanContext{}, nil, &verr
	}

	steps := make([]string, 0, len(selected))
	for _, st := range pc.Plan.Steps {
		if selected[st.ID] {
			steps = append(steps, st.ID)
		}
	}
	return pc, steps, nil
}

func (s *Service) Create(ctx context.Context, req domain.Requester, in CreateRequest) (domain.Job, error) {
	pc, steps, err := s.Validate(ctx, req, in)
	if err != nil {
		return domain.Job{}, err
	}
	now := s.now().UTC()
	job := domain.Job{
		ID:              uuid.NewString(),
		PlanID:          pc.Plan.ID,
		UserID:          req.UserID,
		OrgID:           req.OrgID,
		OrgType:         req.OrgType,
		OrgName:         req.OrgName,
		OrganizationURL: req.InstanceURL,
		InstanceURL:     req.InstanceURL,
		IsProductionOrg: req.IsProductionOrg,
		StepIDs:         steps,
		Results:         domain.Results{},
		Status:          domain.JobStarted,
		IsPublic:        in.IsPublic,
		EnqueuedAt:      &now,
		CreatedAt:       now,
		EditedAt:        now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Job{}, s.pendingConflict(ctx, req.OrgID)
		}
		return domain.Job{}, err
	}
	if err := s.queue.Enqueue(ctx, queue.Task{Kind: queue.KindJob, ID: job.ID, RequestID: req.RequestID, EnqueuedAt: now}); err != nil {
		if uerr := s.jobs.Transition(ctx, job.ID, domain.JobStarted, repo.JobTransition{
			Status:    domain.JobFailed,
			Exception: "enqueue failed",
			EditedAt:  s.now().UTC(),
		}); uerr != nil {
			s.logger.Error("job enqueue rollback failed", "job_id", job.ID, "error", uerr)
		}
		return domain.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	metrics.RecordJobCreated()
	s.appendAudit(ctx, req, "job.create", job.ID, domain.Metadata{
		"plan_id":  job.PlanID,
		"org_id":   job.OrgID,
		"step_ids": job.StepIDs,
	})
	return job, nil
}

func (s *Service) pendingConflict(ctx context.Context, orgID string) error {
	var verr domain.ValidationError
	pending, err := s.jobs.PendingForOrg(ctx, orgID)
	if err != nil {
		return fmt.Errorf("job conflict: %w", repo.ErrConflict)
	}
	metrics.RecordJobRejected("pending_job")
	verr.AddNonField(domain.PendingJobMessage(pending.ID))
	return &verr
}

// Get returns the job when the viewer owns it, is staff, or the job is
// public. Hidden jobs are reported as not found.
func (s *Service) Get(ctx context.Context, viewer domain.Viewer, id string) (domain.Job, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !canView(viewer, job) {
		return domain.Job{}, repo.ErrNotFound
	}
	return job, nil
}

func (s *Service) List(ctx context.Context, viewer domain.Viewer, filter ListFilter) ([]domain.Job, error) {
	f := repo.JobFilter{PlanID: filter.PlanID, Limit: filter.Limit, Offset: filter.Offset}
	switch {
	case viewer.IsStaff:
	case viewer.Authenticated():
		f.VisibleTo = viewer.UserID
	default:
		f.PublicOnly = true
	}
	return s.jobs.List(ctx, f)
}

func (s *Service) Update(ctx context.Context, req domain.Requester, id string, patch Patch) (domain.Job, error) {
	job, err := s.Get(ctx, req.Viewer, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !req.CanEdit(job.UserID) {
		return domain.Job{}, domain.ErrForbidden
	}
	if patch.IsPublic == nil {
		return job, nil
	}
	if err := s.jobs.SetPublic(ctx, job.ID, *patch.IsPublic, s.now().UTC()); err != nil {
		return domain.Job{}, err
	}
	s.appendAudit(ctx, req, "job.update", job.ID, domain.Metadata{"is_public": *patch.IsPublic})
	return s.jobs.Get(ctx, job.ID)
}

func (s *Service) Cancel(ctx context.Context, req domain.Requester, id string) (domain.Job, error) {
	job, err := s.Get(ctx, req.Viewer, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !req.CanEdit(job.UserID) {
		return domain.Job{}, domain.ErrForbidden
	}
	if job.Status != domain.JobStarted {
		return domain.Job{}, notCancelable()
	}
	now := s.now().UTC()
	err = s.jobs.Transition(ctx, job.ID, domain.JobStarted, repo.JobTransition{
		Status:     domain.JobCanceled,
		CanceledAt: &now,
		EditedAt:   now,
	})
	if errors.Is(err, repo.ErrStatusChanged) {
		return domain.Job{}, notCancelable()
	}
	if err != nil {
		return domain.Job{}, err
	}
	s.appendAudit(ctx, req, "job.cancel", job.ID, domain.Metadata{"org_id": job.OrgID})
	return s.jobs.Get(ctx, job.ID)
}

func notCancelable() error {
	var verr domain.ValidationError
	verr.AddNonField("Only started jobs can be canceled.")
	return &verr
}

func (s *Service) appendAudit(ctx context.Context, req domain.Requester, action, jobID string, payload domain.Metadata) {
	if s.audit == nil {
		return
	}
	actor := req.UserID
	if actor == "" {
		actor = "anonymous"
	}
	if _, err := s.audit.Append(ctx, domain.AuditEvent{
		OccurredAt:   s.now().UTC(),
		Actor:        actor,
		Action:       action,
		ResourceType: "job",
		ResourceID:   jobID,
		OrgID:        req.OrgID,
		RequestID:    req.RequestID,
		IP:           req.IP,
		UserAgent:    req.UserAgent,
		Payload:      payload,
	}); err != nil {
		s.logger.Error("audit append failed", "action", action, "job_id", jobID, "error", err)
	}
}

func canView(viewer domain.Viewer, job domain.Job) bool {
	return job.IsPublic || viewer.IsStaff || (viewer.Authenticated() && viewer.UserID == job.UserID)
}
