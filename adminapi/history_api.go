package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/platform/httpserver"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

// planLabels names the plan a job or preflight ran against.
type planLabels struct {
	PlanTitle    string
	ProductTitle string
	VersionLabel string
}

// labeler resolves planLabels once per plan for the lifetime of a request.
type labeler struct {
	api   *adminAPI
	cache map[string]planLabels
}

func (api *adminAPI) labeler() *labeler {
	return &labeler{api: api, cache: map[string]planLabels{}}
}

func (l *labeler) labels(ctx context.Context, planID string) (planLabels, error) {
	if out, ok := l.cache[planID]; ok {
		return out, nil
	}
	var out planLabels
	plan, err := l.api.stores.Plans.Get(ctx, planID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		l.cache[planID] = out
		return out, nil
	case err != nil:
		return out, err
	}
	out.PlanTitle = plan.Title
	version, err := l.api.stores.Versions.Get(ctx, plan.VersionID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return out, err
	}
	if err == nil {
		out.VersionLabel = version.Label
		product, err := l.api.stores.Products.Get(ctx, version.ProductID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return out, err
		}
		out.ProductTitle = product.Title
	}
	l.cache[planID] = out
	return out, nil
}

type jobAdminView struct {
	ID              string         `json:"id"`
	URL             string         `json:"url"`
	Plan            string         `json:"plan"`
	PlanTitle       string         `json:"plan_title"`
	Product         string         `json:"product"`
	Version         string         `json:"version"`
	User            string         `json:"user"`
	OrgID           string         `json:"org_id"`
	OrgType         string         `json:"org_type"`
	InstanceURL     string         `json:"instance_url"`
	IsProductionOrg bool           `json:"is_production_org"`
	Steps           []string       `json:"steps"`
	Status          string         `json:"status"`
	Results         domain.Results `json:"results"`
	IsPublic        bool           `json:"is_public"`
	Exception       *string        `json:"exception"`
	ErrorMessage    *string        `json:"error_message"`
	CreatedAt       time.Time      `json:"created_at"`
	EditedAt        time.Time      `json:"edited_at"`
	EnqueuedAt      *time.Time     `json:"enqueued_at"`
	CanceledAt      *time.Time     `json:"canceled_at"`
}

func (api *adminAPI) jobView(r *http.Request, l *labeler, job domain.Job) (jobAdminView, error) {
	labels, err := l.labels(r.Context(), job.PlanID)
	if err != nil {
		return jobAdminView{}, err
	}
	steps := job.StepIDs
	if steps == nil {
		steps = []string{}
	}
	results := job.Results
	if results == nil {
		results = domain.Results{}
	}
	return jobAdminView{
		ID:              job.ID,
		URL:             api.link(r, "jobs", job.ID),
		Plan:            api.link(r, "plans", job.PlanID),
		PlanTitle:       labels.PlanTitle,
		Product:         labels.ProductTitle,
		Version:         labels.VersionLabel,
		User:            job.UserID,
		OrgID:           job.OrgID,
		OrgType:         job.OrgType,
		InstanceURL:     job.InstanceURL,
		IsProductionOrg: job.IsProductionOrg,
		Steps:           steps,
		Status:          string(job.Status),
		Results:         results,
		IsPublic:        job.IsPublic,
		Exception:       optional(job.Exception),
		ErrorMessage:    optional(job.ErrorMessage),
		CreatedAt:       job.CreatedAt,
		EditedAt:        job.EditedAt,
		EnqueuedAt:      job.EnqueuedAt,
		CanceledAt:      job.CanceledAt,
	}, nil
}

func (api *adminAPI) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.JobFilter{
		PlanID: relatedID(q.Get("plan")),
		Status: domain.JobStatus(strings.TrimSpace(q.Get("status"))),
	}
	filter.Limit, filter.Offset = pageParams(r)
	total, err := api.stores.Jobs.Count(r.Context(), filter)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	list, err := api.stores.Jobs.List(r.Context(), filter)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	l := api.labeler()
	out := make([]jobAdminView, 0, len(list))
	for _, job := range list {
		view, err := api.jobView(r, l, job)
		if err != nil {
			api.writeError(w, r, err)
			return
		}
		out = append(out, view)
	}
	writeList(w, out, total, api.pageLinks(r, total, filter.Limit, filter.Offset))
}

func (api *adminAPI) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := api.stores.Jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	view, err := api.jobView(r, api.labeler(), job)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, view)
}

type preflightAdminView struct {
	ID              string         `json:"id"`
	URL             string         `json:"url"`
	Plan            string         `json:"plan"`
	PlanTitle       string         `json:"plan_title"`
	Product         string         `json:"product"`
	Version         string         `json:"version"`
	User            string         `json:"user"`
	OrgID           string         `json:"org_id"`
	OrganizationURL string         `json:"organization_url"`
	Status          string         `json:"status"`
	IsValid         bool           `json:"is_valid"`
	Results         domain.Results `json:"results"`
	ErrorCount      int            `json:"error_count"`
	WarningCount    int            `json:"warning_count"`
	Exception       *string        `json:"exception"`
	CreatedAt       time.Time      `json:"created_at"`
	EditedAt        time.Time      `json:"edited_at"`
}

func (api *adminAPI) preflightView(r *http.Request, l *labeler, p domain.PreflightResult) (preflightAdminView, error) {
	labels, err := l.labels(r.Context(), p.PlanID)
	if err != nil {
		return preflightAdminView{}, err
	}
	results := p.Results
	if results == nil {
		results = domain.Results{}
	}
	return preflightAdminView{
		ID:              p.ID,
		URL:             api.link(r, "preflights", p.ID),
		Plan:            api.link(r, "plans", p.PlanID),
		PlanTitle:       labels.PlanTitle,
		Product:         labels.ProductTitle,
		Version:         labels.VersionLabel,
		User:            p.UserID,
		OrgID:           p.OrgID,
		OrganizationURL: p.OrganizationURL,
		Status:          string(p.Status),
		IsValid:         p.IsValid,
		Results:         results,
		ErrorCount:      p.ErrorCount(),
		WarningCount:    p.WarningCount(),
		Exception:       optional(p.Exception),
		CreatedAt:       p.CreatedAt,
		EditedAt:        p.EditedAt,
	}, nil
}

func (api *adminAPI) handleListPreflights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.PreflightFilter{
		PlanID: relatedID(q.Get("plan")),
		Status: domain.PreflightStatus(strings.TrimSpace(q.Get("status"))),
	}
	filter.Limit, filter.Offset = pageParams(r)
	total, err := api.stores.Preflights.Count(r.Context(), filter)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	list, err := api.stores.Preflights.List(r.Context(), filter)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	l := api.labeler()
	out := make([]preflightAdminView, 0, len(list))
	for _, p := range list {
		view, err := api.preflightView(r, l, p)
		if err != nil {
			api.writeError(w, r, err)
			return
		}
		out = append(out, view)
	}
	writeList(w, out, total, api.pageLinks(r, total, filter.Limit, filter.Offset))
}

func (api *adminAPI) handleGetPreflight(w http.ResponseWriter, r *http.Request) {
	p, err := api.stores.Preflights.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	view, err := api.preflightView(r, api.labeler(), p)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, view)
}
