package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

type JobView struct {
	ID              string         `json:"id"`
	Plan            string         `json:"plan"`
	Steps           []string       `json:"steps"`
	Status          string         `json:"status"`
	Results         domain.Results `json:"results"`
	OrgID           *string        `json:"org_id"`
	OrgName         *string        `json:"org_name"`
	OrgType         string         `json:"org_type"`
	OrganizationURL *string        `json:"organization_url"`
	InstanceURL     *string        `json:"instance_url"`
	IsProductionOrg bool           `json:"is_production_org"`
	IsPublic        bool           `json:"is_public"`
	UserCanEdit     bool           `json:"user_can_edit"`
	ProductSlug     string         `json:"product_slug"`
	VersionLabel    string         `json:"version_label"`
	PlanSlug        string         `json:"plan_slug"`
	ErrorCount      int            `json:"error_count"`
	WarningCount    int            `json:"warning_count"`
	ErrorMessage    *string        `json:"error_message"`
	Exception       *string        `json:"exception"`
	CreatedAt       time.Time      `json:"created_at"`
	EditedAt        time.Time      `json:"edited_at"`
	EnqueuedAt      *time.Time     `json:"enqueued_at"`
	CanceledAt      *time.Time     `json:"canceled_at"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// View renders a job for viewer. Org details are only shown to the owner and
// staff.
func (s *Service) View(ctx context.Context, viewer domain.Viewer, job domain.Job) (JobView, error) {
	view := JobView{
		ID:              job.ID,
		Plan:            job.PlanID,
		Steps:           job.StepIDs,
		Status:          string(job.Status),
		Results:         job.Results,
		OrgType:         job.OrgType,
		IsProductionOrg: job.IsProductionOrg,
		IsPublic:        job.IsPublic,
		ErrorCount:      job.ErrorCount(),
		WarningCount:    job.WarningCount(),
		Exception:       optional(job.Exception),
		CreatedAt:       job.CreatedAt,
		EditedAt:        job.EditedAt,
		EnqueuedAt:      job.EnqueuedAt,
		CanceledAt:      job.CanceledAt,
	}
	if view.Steps == nil {
		view.Steps = []string{}
	}
	if view.Results == nil {
		view.Results = domain.Results{}
	}
	owner := viewer.Authenticated() && (viewer.IsStaff || viewer.UserID == job.UserID)
	if owner {
		view.UserCanEdit = true
		view.OrgID = optional(job.OrgID)
		view.OrgName = optional(job.OrgName)
		view.OrganizationURL = optional(job.OrganizationURL)
		view.InstanceURL = optional(job.InstanceURL)
	}
	pc, err := s.plans.ResolvePlan(ctx, viewer, job.PlanID)
	switch {
	case err == nil && !pc.Allowed:
		// Restricted plans stay unnamed to viewers outside their allowed list.
		view.ErrorMessage = optional(job.ErrorMessage)
	case err == nil:
		view.ProductSlug = pc.Product.Slug
		view.VersionLabel = pc.Version.Label
		view.PlanSlug = pc.Plan.Slug
		if job.Status == domain.JobFailed {
			view.ErrorMessage = optional(firstNonEmpty(job.ErrorMessage, pc.Template.ErrorMessage))
		}
	case errors.Is(err, repo.ErrNotFound):
		view.ErrorMessage = optional(job.ErrorMessage)
	default:
		return JobView{}, err
	}
	return view, nil
}

type CurrentJob struct {
	ID           string `json:"id"`
	ProductSlug  string `json:"product_slug"`
	VersionLabel string `json:"version_label"`
	PlanSlug     string `json:"plan_slug"`
}

type OrgStatus struct {
	CurrentJob       *CurrentJob `json:"current_job"`
	CurrentPreflight *string     `json:"current_preflight"`
}

// OrgStatus reports the running job and preflight for the viewer's org.
func (s *Service) OrgStatus(ctx context.Context, viewer domain.Viewer) (OrgStatus, error) {
	var out OrgStatus
	if !viewer.Authenticated() || viewer.OrgID == "" {
		return out, nil
	}
	job, err := s.jobs.PendingForOrg(ctx, viewer.OrgID)
	switch {
	case err == nil:
		current := CurrentJob{ID: job.ID}
		if pc, err := s.plans.ResolvePlan(ctx, viewer, job.PlanID); err == nil && pc.Allowed {
			current.ProductSlug = pc.Product.Slug
			current.VersionLabel = pc.Version.Label
			current.PlanSlug = pc.Plan.Slug
		} else if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return OrgStatus{}, err
		}
		out.CurrentJob = &current
	case !errors.Is(err, repo.ErrNotFound):
		return OrgStatus{}, err
	}
	preflight, err := s.preflights.CurrentForOrg(ctx, viewer.OrgID)
	switch {
	case err == nil:
		id := preflight.ID
		out.CurrentPreflight = &id
	case !errors.Is(err, repo.ErrNotFound):
		return OrgStatus{}, err
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
