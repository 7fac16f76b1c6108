package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/platform/auth"
	"github.com/metadeploy/metadeploy-go/internal/platform/httpserver"
	"github.com/metadeploy/metadeploy-go/internal/repo"
	"github.com/metadeploy/metadeploy-go/internal/service/catalog"
	"github.com/metadeploy/metadeploy-go/internal/service/jobs"
)

type catalogService interface {
	ListProducts(ctx context.Context, viewer domain.Viewer, lang string, q catalog.ProductQuery) ([]catalog.ProductView, error)
	GetProduct(ctx context.Context, viewer domain.Viewer, lang string, id string) (catalog.ProductView, error)
	ListVersions(ctx context.Context, viewer domain.Viewer, lang string, filter repo.VersionFilter) ([]catalog.VersionView, error)
	GetVersion(ctx context.Context, viewer domain.Viewer, lang string, id string) (catalog.VersionView, error)
	ListPlans(ctx context.Context, viewer domain.Viewer, lang string, filter repo.PlanFilter) ([]catalog.PlanView, error)
	GetPlan(ctx context.Context, viewer domain.Viewer, lang string, id string) (catalog.PlanView, error)
}

type jobService interface {
	Create(ctx context.Context, req domain.Requester, in jobs.CreateRequest) (domain.Job, error)
	Get(ctx context.Context, viewer domain.Viewer, id string) (domain.Job, error)
	List(ctx context.Context, viewer domain.Viewer, filter jobs.ListFilter) ([]domain.Job, error)
	Update(ctx context.Context, req domain.Requester, id string, patch jobs.Patch) (domain.Job, error)
	Cancel(ctx context.Context, req domain.Requester, id string) (domain.Job, error)
	View(ctx context.Context, viewer domain.Viewer, job domain.Job) (jobs.JobView, error)
	OrgStatus(ctx context.Context, viewer domain.Viewer) (jobs.OrgStatus, error)
}

type preflightService interface {
	Create(ctx context.Context, req domain.Requester, planID string) (domain.PreflightResult, error)
	MostRecent(ctx context.Context, viewer domain.Viewer, planID string) (domain.PreflightResult, error)
}

type userUpserter interface {
	Upsert(ctx context.Context, user domain.User) (domain.User, error)
}

type publicAPI struct {
	logger     *slog.Logger
	catalog    catalogService
	jobs       jobService
	preflights preflightService
	users      userUpserter
	writeLimit func(http.Handler) http.Handler
	now        func() time.Time
}

func newPublicAPI(logger *slog.Logger, catalog catalogService, jobs jobService, preflights preflightService, users userUpserter, writeLimit func(http.Handler) http.Handler) *publicAPI {
	if writeLimit == nil {
		writeLimit = func(next http.Handler) http.Handler { return next }
	}
	return &publicAPI{
		logger:     logger,
		catalog:    catalog,
		jobs:       jobs,
		preflights: preflights,
		users:      users,
		writeLimit: writeLimit,
		now:        time.Now,
	}
}

func (api *publicAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", api.handleListProducts)
	mux.HandleFunc("GET /api/products/{id}", api.handleGetProduct)
	mux.HandleFunc("GET /api/versions", api.handleListVersions)
	mux.HandleFunc("GET /api/versions/{id}", api.handleGetVersion)
	mux.HandleFunc("GET /api/plans", api.handleListPlans)
	mux.HandleFunc("GET /api/plans/{id}", api.handleGetPlan)
	mux.HandleFunc("GET /api/plans/{id}/preflight", api.handleGetPreflight)
	mux.Handle("POST /api/plans/{id}/preflight", api.writeLimit(http.HandlerFunc(api.handleCreatePreflight)))

	mux.HandleFunc("GET /api/jobs", api.handleListJobs)
	mux.Handle("POST /api/jobs", api.writeLimit(http.HandlerFunc(api.handleCreateJob)))
	mux.HandleFunc("GET /api/jobs/{id}", api.handleGetJob)
	mux.HandleFunc("PATCH /api/jobs/{id}", api.handleUpdateJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", api.handleCancelJob)

	mux.HandleFunc("GET /api/orgs", api.handleOrgs)
	mux.HandleFunc("GET /api/user", api.handleUser)
}

func (api *publicAPI) handleListProducts(w http.ResponseWriter, r *http.Request) {
	req, ok := api.requester(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	out, err := api.catalog.ListProducts(r.Context(), req.Viewer, language(r), catalog.ProductQuery{
		CategoryID: strings.TrimSpace(q.Get("category")),
		Slug:       strings.TrimSpace(q.Get("slug")),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}

func (api *publicAPI) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	req, ok := api.requester(w, r)
	if !ok {
		return
	}
	out, err := api.catalog.GetProduct(r.Context(), req.Viewer, language(r), r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}

func (api *publicAPI) handleListVersions(w http.ResponseWriter, r *http.Request) {
	req, ok := api.requester(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	out, err := api.catalog.ListVersions(r.Context(), req.Viewer, language(r), repo.VersionFilter{
		ProductID: strings.TrimSpace(q.Get("product")),
		Label:     strings.TrimSpace(q.Get("label")),
		Limit:     clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}

func (api *publicAPI) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	req, ok := api.requester(w, r)
	if !ok {
		return
	}
	out, err := api.catalog.GetVersion(r.Context(), req.Viewer, language(r), r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}

func (api *publicAPI) handleListPlans(w http.ResponseWriter, r *http.Request) {
	req, ok := api.requester(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	out, err := api.catalog.ListPlans(r.Context(), req.Viewer, language(r), repo.PlanFilter{
		VersionID: strings.TrimSpace(q.Get("version")),
		Slug:      strings.TrimSpace(q.Get("slug")),
		Limit:     clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}

func (api *publicAPI) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	req, ok := api.requester(w, r)
	if !ok {
		return
	}
	out, err := api.catalog.GetPlan(r.Context(), req.Viewer, language(r), r.PathValue("id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}

// requester resolves the caller. Authenticated callers are upserted by
// subject so every request sees the org their session is connected to.
func (api *publicAPI) requester(w http.ResponseWriter, r *http.Request) (domain.Requester, bool) {
	req := domain.Requester{
		IP:        auth.ClientIP(r, false),
		UserAgent: r.UserAgent(),
	}
	if id, ok := httpserver.RequestIDFromContext(r.Context()); ok {
		req.RequestID = id
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || !identity.Authenticated() {
		return req, true
	}

	now := api.now().UTC()
	user, err := api.users.Upsert(r.Context(), domain.User{
		ID:              uuid.NewString(),
		Subject:         identity.Subject,
		Username:        firstNonEmpty(identity.Username, identity.Email, identity.Subject),
		Email:           identity.Email,
		IsStaff:         identity.IsStaff(),
		OrgID:           identity.OrgID,
		OrgType:         identity.OrgType,
		OrgName:         identity.OrgName,
		InstanceURL:     identity.InstanceURL,
		IsProductionOrg: identity.IsProductionOrg,
		CreatedAt:       now,
		LastSeenAt:      now,
	})
	if err != nil {
		api.logger.Error("upsert user failed", "subject", identity.Subject, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return domain.Requester{}, false
	}

	req.Viewer = domain.Viewer{
		UserID:  user.ID,
		IsStaff: user.IsStaff,
		OrgID:   user.OrgID,
		OrgType: user.OrgType,
	}
	req.OrgName = user.OrgName
	req.InstanceURL = user.InstanceURL
	req.IsProductionOrg = user.IsProductionOrg
	return req, true
}

// authenticatedRequester is requester for endpoints that need a session.
func (api *publicAPI) authenticatedRequester(w http.ResponseWriter, r *http.Request) (domain.Requester, bool) {
	req, ok := api.requester(w, r)
	if !ok {
		return req, false
	}
	if !req.Authenticated() {
		httpserver.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return req, false
	}
	return req, true
}

func (api *publicAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		httpserver.WriteJSON(w, http.StatusBadRequest, verr.Body())
	case errors.Is(err, repo.ErrNotFound):
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, domain.ErrForbidden):
		httpserver.WriteError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, repo.ErrConflict):
		httpserver.WriteError(w, r, http.StatusConflict, "conflict")
	default:
		api.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func language(r *http.Request) string {
	return domain.LanguageFromHeader(r.Header.Get("Accept-Language"))
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err == nil {
		return errors.New("multiple JSON values")
	}
	return nil
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
