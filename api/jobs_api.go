package main

import (
	"net/http"
	"strings"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/platform/auth"
	"github.com/metadeploy/metadeploy-go/internal/platform/httpserver"
	"github.com/metadeploy/metadeploy-go/internal/service/jobs"
	"github.com/metadeploy/metadeploy-go/internal/service/preflights"
)

type createJobRequest struct {
	Plan     string   `json:"plan"`
	Steps    []string `json:"steps"`
	IsPublic bool     `json:"is_public"`
}

type updateJobRequest struct {
	IsPublic *bool `json:"is_public"`
}

type userView struct {
	ID              string  `json:"id"`
	Username        string  `json:"username"`
	Email           string  `json:"email"`
	IsStaff         bool    `json:"is_staff"`
	OrgID           *string `json:"org_id"`
	OrgName         *string `json:"org_name"`
	OrgType         *string `json:"org_type"`
	InstanceURL     *string `json:"instance_url"`
	IsProductionOrg bool    `json:"is_production_org"`
	ValidTokenFor   *string `json:"valid_token_for"`
}

func (api *publicAPI) handleGetPreflight(w http.ResponseWriter, r *http.Request) {
	req, ok := api.authenticatedRequester(w, r)
	if !ok {
		return
	}
	result, err := api.preflights.MostRecent(r.Context(), req.Viewer, r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, preflights.View(result))
}

func (api *publicAPI) handleCreatePreflight(w http.ResponseWriter, r *http.Request) {
	req, ok := api.authenticatedRequester(w, r)
	if !ok {
		return
	}
	result, err := api.preflights.Create(r.Context(), req, r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, preflights.View(result))
}

func (api *publicAPI) handleListJobs(w http.ResponseWriter, r *http.Request) {
	req, ok := api.requester(w, r)
	if !ok {
		return
	}
	list, err := api.jobs.List(r.Context(), req.Viewer, jobs.ListFilter{
		PlanID: strings.TrimSpace(r.URL.Query().Get("plan")),
		Limit:  clampInt(parseIntQuery(r, "limit", 50), 1, 200),
		Offset: clampInt(parseIntQuery(r, "offset", 0), 0, 1_000_000),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]jobs.JobView, 0, len(list))
	for _, job := range list {
		view, err := api.jobs.View(r.Context(), req.Viewer, job)
		if err != nil {
			api.writeServiceError(w, r, err)
			return
		}
		out = append(out, view)
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}

func (api *publicAPI) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	req, ok := api.authenticatedRequester(w, r)
	if !ok {
		return
	}
	var body createJobRequest
	if err := decodeJSON(r, &body); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	job, err := api.jobs.Create(r.Context(), req, jobs.CreateRequest{
		PlanID:   body.Plan,
		StepIDs:  body.Steps,
		IsPublic: body.IsPublic,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJob(w, r, req, http.StatusCreated, job)
}

func (api *publicAPI) handleGetJob(w http.ResponseWriter, r *http.Request) {
	req, ok := api.requester(w, r)
	if !ok {
		return
	}
	job, err := api.jobs.Get(r.Context(), req.Viewer, r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJob(w, r, req, http.StatusOK, job)
}

func (api *publicAPI) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	req, ok := api.authenticatedRequester(w, r)
	if !ok {
		return
	}
	var body updateJobRequest
	if err := decodeJSON(r, &body); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	job, err := api.jobs.Update(r.Context(), req, r.PathValue("id"), jobs.Patch{IsPublic: body.IsPublic})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJob(w, r, req, http.StatusOK, job)
}

func (api *publicAPI) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	req, ok := api.authenticatedRequester(w, r)
	if !ok {
		return
	}
	if _, err := api.jobs.Cancel(r.Context(), req, r.PathValue("id")); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *publicAPI) handleOrgs(w http.ResponseWriter, r *http.Request) {
	req, ok := api.authenticatedRequester(w, r)
	if !ok {
		return
	}
	status, err := api.jobs.OrgStatus(r.Context(), req.Viewer)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	body := map[string]jobs.OrgStatus{}
	if req.OrgID != "" {
		body[req.OrgID] = status
	}
	httpserver.WriteJSON(w, http.StatusOK, body)
}

func (api *publicAPI) handleUser(w http.ResponseWriter, r *http.Request) {
	req, ok := api.authenticatedRequester(w, r)
	if !ok {
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	httpserver.WriteJSON(w, http.StatusOK, userView{
		ID:              req.UserID,
		Username:        firstNonEmpty(identity.Username, identity.Email, identity.Subject),
		Email:           identity.Email,
		IsStaff:         req.IsStaff,
		OrgID:           optional(req.OrgID),
		OrgName:         optional(req.OrgName),
		OrgType:         optional(req.OrgType),
		InstanceURL:     optional(req.InstanceURL),
		IsProductionOrg: req.IsProductionOrg,
		ValidTokenFor:   optional(req.OrgID),
	})
}

func (api *publicAPI) writeJob(w http.ResponseWriter, r *http.Request, req domain.Requester, status int, job domain.Job) {
	view, err := api.jobs.View(r.Context(), req.Viewer, job)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, status, view)
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
