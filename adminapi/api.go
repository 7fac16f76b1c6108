package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/platform/auth"
	"github.com/metadeploy/metadeploy-go/internal/platform/httpserver"
	"github.com/metadeploy/metadeploy-go/internal/platform/objectstore"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

const restPrefix = "/admin/rest"

const msgMissingRelated = "Invalid hyperlink - Object does not exist."

type userUpserter interface {
	Upsert(ctx context.Context, user domain.User) (domain.User, error)
}

type stores struct {
	Categories   repo.CategoryRepository
	AllowedLists repo.AllowedListRepository
	Products     repo.ProductRepository
	Versions     repo.VersionRepository
	Templates    repo.PlanTemplateRepository
	Plans        repo.PlanRepository
	Preflights   repo.PreflightRepository
	Jobs         repo.JobRepository
	Users        userUpserter
}

type adminAPI struct {
	logger  *slog.Logger
	stores  stores
	images  objectstore.ImageStore
	audit   repo.AuditEventAppender
	baseURL string
	now     func() time.Time
	newID   func() string
}

func newAdminAPI(logger *slog.Logger, s stores, images objectstore.ImageStore, audit repo.AuditEventAppender, baseURL string) *adminAPI {
	return &adminAPI{
		logger:  logger,
		stores:  s,
		images:  images,
		audit:   audit,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (api *adminAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+restPrefix+"/productcategory", api.handleListCategories)
	mux.HandleFunc("POST "+restPrefix+"/productcategory", api.handleCreateCategory)
	mux.HandleFunc("GET "+restPrefix+"/productcategory/{id}", api.handleGetCategory)
	mux.HandleFunc("PUT "+restPrefix+"/productcategory/{id}", api.handleUpdateCategory)
	mux.HandleFunc("PATCH "+restPrefix+"/productcategory/{id}", api.handleUpdateCategory)

	mux.HandleFunc("GET "+restPrefix+"/products", api.handleListProducts)
	mux.HandleFunc("POST "+restPrefix+"/products", api.handleCreateProduct)
	mux.HandleFunc("GET "+restPrefix+"/products/{id}", api.handleGetProduct)
	mux.HandleFunc("PUT "+restPrefix+"/products/{id}", api.handleUpdateProduct)
	mux.HandleFunc("PATCH "+restPrefix+"/products/{id}", api.handleUpdateProduct)
	mux.HandleFunc("POST "+restPrefix+"/products/{id}/image", api.handleUploadImage)

	mux.HandleFunc("GET "+restPrefix+"/versions", api.handleListVersions)
	mux.HandleFunc("POST "+restPrefix+"/versions", api.handleCreateVersion)
	mux.HandleFunc("GET "+restPrefix+"/versions/{id}", api.handleGetVersion)
	mux.HandleFunc("PUT "+restPrefix+"/versions/{id}", api.handleUpdateVersion)
	mux.HandleFunc("PATCH "+restPrefix+"/versions/{id}", api.handleUpdateVersion)

	mux.HandleFunc("GET "+restPrefix+"/plantemplates", api.handleListTemplates)
	mux.HandleFunc("POST "+restPrefix+"/plantemplates", api.handleCreateTemplate)
	mux.HandleFunc("GET "+restPrefix+"/plantemplates/{id}", api.handleGetTemplate)
	mux.HandleFunc("PUT "+restPrefix+"/plantemplates/{id}", api.handleUpdateTemplate)
	mux.HandleFunc("PATCH "+restPrefix+"/plantemplates/{id}", api.handleUpdateTemplate)

	mux.HandleFunc("GET "+restPrefix+"/plans", api.handleListPlans)
	mux.HandleFunc("POST "+restPrefix+"/plans", api.handleCreatePlan)
	mux.HandleFunc("GET "+restPrefix+"/plans/{id}", api.handleGetPlan)
	mux.HandleFunc("PUT "+restPrefix+"/plans/{id}", api.handleUpdatePlan)
	mux.HandleFunc("PATCH "+restPrefix+"/plans/{id}", api.handleUpdatePlan)

	mux.HandleFunc("GET "+restPrefix+"/allowedlists", api.handleListAllowedLists)
	mux.HandleFunc("POST "+restPrefix+"/allowedlists", api.handleCreateAllowedList)
	mux.HandleFunc("GET "+restPrefix+"/allowedlists/{id}", api.handleGetAllowedList)
	mux.HandleFunc("PUT "+restPrefix+"/allowedlists/{id}", api.handleUpdateAllowedList)
	mux.HandleFunc("PATCH "+restPrefix+"/allowedlists/{id}", api.handleUpdateAllowedList)

	mux.HandleFunc("GET "+restPrefix+"/allowedlistorgs", api.handleListAllowedListOrgs)
	mux.HandleFunc("POST "+restPrefix+"/allowedlistorgs", api.handleCreateAllowedListOrg)
	mux.HandleFunc("GET "+restPrefix+"/allowedlistorgs/{id}", api.handleGetAllowedListOrg)

	mux.HandleFunc("GET "+restPrefix+"/jobs", api.handleListJobs)
	mux.HandleFunc("GET "+restPrefix+"/jobs/{id}", api.handleGetJob)
	mux.HandleFunc("GET "+restPrefix+"/preflights", api.handleListPreflights)
	mux.HandleFunc("GET "+restPrefix+"/preflights/{id}", api.handleGetPreflight)
}

type listLinks struct {
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
}

type pageMeta struct {
	Total int `json:"total"`
}

type listMeta struct {
	Page pageMeta `json:"page"`
}

type listEnvelope struct {
	Data  any       `json:"data"`
	Links listLinks `json:"links"`
	Meta  listMeta  `json:"meta"`
}

func writeList(w http.ResponseWriter, data any, total int, links listLinks) {
	httpserver.WriteJSON(w, http.StatusOK, listEnvelope{
		Data:  data,
		Links: links,
		Meta:  listMeta{Page: pageMeta{Total: total}},
	})
}

// pageLinks returns next/previous links for an offset page of size limit.
func (api *adminAPI) pageLinks(r *http.Request, total, limit, offset int) listLinks {
	var links listLinks
	if offset+limit < total {
		links.Next = api.pageURL(r, limit, offset+limit)
	}
	if offset > 0 {
		links.Previous = api.pageURL(r, limit, max(0, offset-limit))
	}
	return links
}

// pageParams reads the limit and offset query parameters of a list request.
func pageParams(r *http.Request) (limit, offset int) {
	return clampInt(parseIntQuery(r, "limit", 100), 1, 500), clampInt(parseIntQuery(r, "offset", 0), 0, 1_000_000)
}

// pageOf slices one page out of a list loaded whole.
func pageOf[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	return items[offset:min(len(items), offset+limit)]
}

func (api *adminAPI) pageURL(r *http.Request, limit, offset int) *string {
	q := r.URL.Query()
	q.Set("limit", strconv.Itoa(limit))
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	} else {
		q.Del("offset")
	}
	out := api.root(r) + strings.TrimPrefix(r.URL.Path, restPrefix) + "?" + q.Encode()
	return &out
}

// root is the absolute address of the REST mount, used for hyperlinks.
func (api *adminAPI) root(r *http.Request) string {
	if api.baseURL != "" {
		return api.baseURL + restPrefix
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host + restPrefix
}

func (api *adminAPI) link(r *http.Request, resource, id string) string {
	return api.root(r) + "/" + resource + "/" + url.PathEscape(id)
}

func (api *adminAPI) optionalLink(r *http.Request, resource, id string) *string {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	out := api.link(r, resource, id)
	return &out
}

// nullable distinguishes an explicit JSON null from an absent field.
type nullable struct {
	Set   bool
	Value string
}

func (n *nullable) UnmarshalJSON(b []byte) error {
	n.Set = true
	if string(b) == "null" {
		n.Value = ""
		return nil
	}
	return json.Unmarshal(b, &n.Value)
}

func (n nullable) applyRelated(dst *string) {
	if n.Set {
		*dst = relatedID(n.Value)
	}
}

// relatedID accepts either a hyperlink to a resource or its bare id.
func relatedID(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "/") {
		return raw
	}
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		raw = u.Path
	}
	raw = strings.TrimRight(raw, "/")
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		raw = raw[i+1:]
	}
	if unescaped, err := url.PathUnescape(raw); err == nil {
		return unescaped
	}
	return raw
}

// checkRelated records a field error when the referenced row is missing.
func checkRelated(verr *domain.ValidationError, field string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		verr.AddField(field, msgMissingRelated)
		return nil
	}
	return err
}

func invalid(err error) error {
	var verr domain.ValidationError
	verr.AddNonField(err.Error())
	return &verr
}

// actor returns the admin making the request, upserted so writes can
// reference the users table.
func (api *adminAPI) actor(r *http.Request) (domain.User, error) {
	identity, _ := auth.IdentityFromContext(r.Context())
	if !identity.Authenticated() {
		return domain.User{}, errors.New("admin identity missing")
	}
	now := api.now().UTC()
	return api.stores.Users.Upsert(r.Context(), domain.User{
		ID:              api.newID(),
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
}

func (api *adminAPI) recordChange(r *http.Request, action, resourceType, resourceID string) {
	if api.audit == nil {
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	if _, err := api.audit.Append(r.Context(), domain.AuditEvent{
		OccurredAt:   api.now().UTC(),
		Actor:        firstNonEmpty(identity.Subject, "unknown"),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		OrgID:        identity.OrgID,
		RequestID:    requestID,
		IP:           auth.ClientIP(r, false),
		UserAgent:    r.UserAgent(),
		Payload:      domain.Metadata{"via": "admin_api"},
	}); err != nil {
		api.logger.Error("audit append failed", "action", action, "resource_id", resourceID, "error", err)
	}
}

func (api *adminAPI) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		httpserver.WriteJSON(w, http.StatusBadRequest, verr.Body())
	case errors.Is(err, repo.ErrNotFound):
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, repo.ErrConflict):
		httpserver.WriteError(w, r, http.StatusConflict, "conflict")
	default:
		api.logger.Error("admin request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
	}
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

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// slugify lowercases s and joins its alphanumeric runs with dashes.
func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
