package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/platform/auth"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

type memCategories struct {
	repo.CategoryRepository
	items map[string]domain.ProductCategory
}

func (m *memCategories) Get(ctx context.Context, id string) (domain.ProductCategory, error) {
	c, ok := m.items[id]
	if !ok {
		return domain.ProductCategory{}, repo.ErrNotFound
	}
	return c, nil
}

type memAllowedLists struct {
	repo.AllowedListRepository
	lists map[string]domain.AllowedList
	orgs  []domain.AllowedListOrg
}

func (m *memAllowedLists) GetList(ctx context.Context, id string) (domain.AllowedList, error) {
	l, ok := m.lists[id]
	if !ok {
		return domain.AllowedList{}, repo.ErrNotFound
	}
	return l, nil
}

func (m *memAllowedLists) CreateOrg(ctx context.Context, org domain.AllowedListOrg) error {
	m.orgs = append(m.orgs, org)
	return nil
}

func (m *memAllowedLists) ListOrgs(ctx context.Context, listID string) ([]domain.AllowedListOrg, error) {
	return m.orgs, nil
}

type memProducts struct {
	repo.ProductRepository
	items  map[string]domain.Product
	images map[string]string
}

func (m *memProducts) Get(ctx context.Context, id string) (domain.Product, error) {
	p, ok := m.items[id]
	if !ok {
		return domain.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (m *memProducts) List(ctx context.Context, filter repo.ProductFilter) ([]domain.Product, error) {
	out := []domain.Product{}
	for _, p := range m.items {
		if filter.RepoURL != "" && p.RepoURL != filter.RepoURL {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memProducts) Count(ctx context.Context, filter repo.ProductFilter) (int, error) {
	list, _ := m.List(ctx, filter)
	return len(list), nil
}

func (m *memProducts) Create(ctx context.Context, p domain.Product) error {
	m.items[p.ID] = p
	return nil
}

func (m *memProducts) SetImage(ctx context.Context, id, image string) error {
	m.images[id] = image
	return nil
}

type memVersions struct {
	repo.VersionRepository
	items map[string]domain.Version
}

func (m *memVersions) Get(ctx context.Context, id string) (domain.Version, error) {
	v, ok := m.items[id]
	if !ok {
		return domain.Version{}, repo.ErrNotFound
	}
	return v, nil
}

type memTemplates struct {
	repo.PlanTemplateRepository
	items map[string]domain.PlanTemplate
}

func (m *memTemplates) Get(ctx context.Context, id string) (domain.PlanTemplate, error) {
	t, ok := m.items[id]
	if !ok {
		return domain.PlanTemplate{}, repo.ErrNotFound
	}
	return t, nil
}

type memPlans struct {
	repo.PlanRepository
	items   map[string]domain.Plan
	updates int
}

func (m *memPlans) Get(ctx context.Context, id string) (domain.Plan, error) {
	p, ok := m.items[id]
	if !ok {
		return domain.Plan{}, repo.ErrNotFound
	}
	return p, nil
}

func (m *memPlans) Create(ctx context.Context, p domain.Plan) error {
	m.items[p.ID] = p
	return nil
}

func (m *memPlans) Update(ctx context.Context, p domain.Plan) error {
	m.updates++
	m.items[p.ID] = p
	return nil
}

type memJobs struct {
	repo.JobRepository
	items []domain.Job
}

func (m *memJobs) List(ctx context.Context, filter repo.JobFilter) ([]domain.Job, error) {
	return pageOf(m.items, filter.Limit, filter.Offset), nil
}

func (m *memJobs) Count(ctx context.Context, filter repo.JobFilter) (int, error) {
	return len(m.items), nil
}

type memUsers struct{}

func (memUsers) Upsert(ctx context.Context, user domain.User) (domain.User, error) {
	user.ID = "user-" + user.Subject
	return user, nil
}

type recordingImages struct {
	key         string
	contentType string
	body        string
}

func (r *recordingImages) PutImage(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	r.key, r.contentType, r.body = key, contentType, string(raw)
	return "http://media.test/product-images/" + key, nil
}

func (r *recordingImages) DeleteImage(ctx context.Context, key string) error {
	return nil
}

type adminEnv struct {
	products *memProducts
	plans    *memPlans
	jobs     *memJobs
	lists    *memAllowedLists
	images   *recordingImages
	handler  http.Handler
}

var staff = auth.Identity{Subject: "admin-1", Email: "admin@example.com", Roles: []string{auth.RoleStaff}}

func newAdminEnv(t *testing.T) *adminEnv {
	t.Helper()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env := &adminEnv{
		products: &memProducts{
			items: map[string]domain.Product{
				"prod-1": {ID: "prod-1", Title: "Sample Product", Slug: "sample-product", CategoryID: "cat-1", RepoURL: "https://github.com/example/repo", IsListed: true, CreatedAt: created},
				"prod-2": {ID: "prod-2", Title: "Other", Slug: "other", CategoryID: "cat-1", RepoURL: "https://github.com/example/other", IsListed: true, CreatedAt: created},
			},
			images: map[string]string{},
		},
		plans: &memPlans{items: map[string]domain.Plan{
			"plan-1": {
				ID: "plan-1", VersionID: "ver-1", PlanTemplateID: "tpl-1", Title: "Sample plan", Slug: "sample-plan",
				Tier: domain.TierPrimary, IsListed: true, SupportedOrgs: domain.SupportedPersistent, CreatedAt: created,
				Steps: []domain.Step{
					{ID: "s2", Name: "Second", Path: "task2", StepNum: "1.10", Kind: domain.KindMetadata},
					{ID: "s1", Name: "First", Path: "task1", StepNum: "1.2", Kind: domain.KindMetadata},
				},
			},
		}},
		jobs: &memJobs{items: []domain.Job{
			{ID: "job-1", PlanID: "plan-1", UserID: "u1", Status: domain.JobComplete, StepIDs: []string{"s1"}},
		}},
		lists:  &memAllowedLists{lists: map[string]domain.AllowedList{"list-1": {ID: "list-1", Title: "Partners"}}},
		images: &recordingImages{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := newAdminAPI(logger, stores{
		Categories:   &memCategories{items: map[string]domain.ProductCategory{"cat-1": {ID: "cat-1", Title: "Salesforce"}}},
		AllowedLists: env.lists,
		Products:     env.products,
		Versions:     &memVersions{items: map[string]domain.Version{"ver-1": {ID: "ver-1", ProductID: "prod-1", Label: "1.0"}}},
		Templates:    &memTemplates{items: map[string]domain.PlanTemplate{"tpl-1": {ID: "tpl-1", ProductID: "prod-1", Name: "Install"}}},
		Plans:        env.plans,
		Jobs:         env.jobs,
		Users:        memUsers{},
	}, env.images, nil, "")
	seq := 0
	api.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	api.now = func() time.Time { return created }

	validator, err := newRequestValidator(context.Background(), logger)
	if err != nil {
		t.Fatalf("newRequestValidator: %v", err)
	}
	mux := http.NewServeMux()
	api.register(mux)
	env.handler = validator.Wrap(mux)
	return env
}

func (e *adminEnv) do(method, target, contentType, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req = req.WithContext(auth.ContextWithIdentity(req.Context(), staff))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestListProductsFilteredByRepoURL(t *testing.T) {
	env := newAdminEnv(t)
	rec := env.do(http.MethodGet, "http://testserver/admin/rest/products?repo_url=https://github.com/example/repo", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var body struct {
		Data  []map[string]any `json:"data"`
		Links map[string]any   `json:"links"`
		Meta  struct {
			Page struct {
				Total int `json:"total"`
			} `json:"page"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 1 || body.Meta.Page.Total != 1 {
		t.Fatalf("data=%d total=%d, want 1", len(body.Data), body.Meta.Page.Total)
	}
	if body.Links["next"] != nil || body.Links["previous"] != nil {
		t.Fatalf("links=%v, want nulls", body.Links)
	}
	product := body.Data[0]
	if product["url"] != "http://testserver/admin/rest/products/prod-1" {
		t.Fatalf("url=%v", product["url"])
	}
	if product["category"] != "http://testserver/admin/rest/productcategory/cat-1" {
		t.Fatalf("category=%v", product["category"])
	}
	if product["image"] != nil || product["visible_to"] != nil {
		t.Fatalf("image=%v visible_to=%v, want null", product["image"], product["visible_to"])
	}
}

func TestCreatePlanWithSteps(t *testing.T) {
	env := newAdminEnv(t)
	body := `{
		"title": "New plan",
		"version": "http://testserver/admin/rest/versions/ver-1",
		"plan_template": "http://testserver/admin/rest/plantemplates/tpl-1",
		"steps": [
			{"path": "task1", "name": "Task 1", "step_num": "1.0", "task_class": "tasks.One"},
			{"path": "task2", "name": "Task 2", "step_num": "1.3", "is_required": false}
		]
	}`
	rec := env.do(http.MethodPost, "http://testserver/admin/rest/plans", "application/json", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d, want %d body=%s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var view planView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Tier != "primary" || !view.IsListed || view.Slug != "new-plan" {
		t.Fatalf("defaults not applied: %+v", view)
	}
	if view.Version != "http://testserver/admin/rest/versions/ver-1" {
		t.Fatalf("version=%q", view.Version)
	}
	if len(view.Steps) != 2 {
		t.Fatalf("steps=%d, want 2", len(view.Steps))
	}
	if !view.Steps[0].IsRequired || view.Steps[0].Kind != "metadata" || view.Steps[1].IsRequired {
		t.Fatalf("step defaults wrong: %+v", view.Steps)
	}
	stored := env.plans.items[view.ID]
	if stored.VersionID != "ver-1" || stored.PlanTemplateID != "tpl-1" || len(stored.Steps) != 2 {
		t.Fatalf("stored=%+v", stored)
	}
	if stored.Steps[0].PlanID != view.ID {
		t.Fatalf("step plan id=%q, want %q", stored.Steps[0].PlanID, view.ID)
	}
}

func TestCreatePlanUnknownVersion(t *testing.T) {
	env := newAdminEnv(t)
	body := `{"title": "New plan", "version": "missing", "plan_template": "tpl-1"}`
	rec := env.do(http.MethodPost, "http://testserver/admin/rest/plans", "application/json", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusBadRequest)
	}
	var errs map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &errs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := errs["version"]; len(got) != 1 || got[0] != msgMissingRelated {
		t.Fatalf("errors=%v", errs)
	}
}

func TestUpdatePlanRejectsSteps(t *testing.T) {
	env := newAdminEnv(t)

	rec := env.do(http.MethodPut, "http://testserver/admin/rest/plans/plan-1", "application/json",
		`{"title": "Renamed", "version": "http://testserver/admin/rest/versions/ver-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if env.plans.items["plan-1"].Title != "Renamed" {
		t.Fatalf("title not updated")
	}

	rec = env.do(http.MethodPut, "http://testserver/admin/rest/plans/plan-1", "application/json",
		`{"title": "Renamed", "steps": []}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusBadRequest)
	}
	var errs map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &errs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := errs[domain.NonFieldKey]; len(got) != 1 || got[0] != domain.MsgStepsNotUpdated {
		t.Fatalf("non_field_errors=%v", got)
	}
	if env.plans.updates != 1 {
		t.Fatalf("updates=%d, want 1", env.plans.updates)
	}
}

func TestGetPlanOrdersSteps(t *testing.T) {
	env := newAdminEnv(t)
	rec := env.do(http.MethodGet, "http://testserver/admin/rest/plans/plan-1", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusOK)
	}
	var view planView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(view.Steps) != 2 || view.Steps[0].StepNum != "1.2" || view.Steps[1].StepNum != "1.10" {
		t.Fatalf("steps=%+v", view.Steps)
	}
	if view.Steps[0].TaskConfig == nil {
		t.Fatalf("task_config should render as an object")
	}
}

func TestValidatorRejectsUnknownFields(t *testing.T) {
	env := newAdminEnv(t)
	rec := env.do(http.MethodPost, "http://testserver/admin/rest/productcategory", "application/json",
		`{"title": "Tools", "bogus": true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusBadRequest)
	}
	var errs map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &errs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(errs[domain.NonFieldKey]) != 1 {
		t.Fatalf("errors=%v", errs)
	}
}

func TestValidatorRejectsBadOrgID(t *testing.T) {
	env := newAdminEnv(t)
	rec := env.do(http.MethodPost, "http://testserver/admin/rest/allowedlistorgs", "application/json",
		`{"allowed_list": "list-1", "org_id": "short"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusBadRequest)
	}
	if len(env.lists.orgs) != 0 {
		t.Fatalf("org must not be stored")
	}
}

func TestCreateAllowedListOrgSetsCreatedBy(t *testing.T) {
	env := newAdminEnv(t)
	rec := env.do(http.MethodPost, "http://testserver/admin/rest/allowedlistorgs", "application/json",
		`{"allowed_list": "http://testserver/admin/rest/allowedlists/list-1", "org_id": "00D000000000001AAA"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d, want %d body=%s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	if len(env.lists.orgs) != 1 {
		t.Fatalf("orgs=%d, want 1", len(env.lists.orgs))
	}
	org := env.lists.orgs[0]
	if org.CreatedBy != "user-admin-1" || org.AllowedListID != "list-1" {
		t.Fatalf("org=%+v", org)
	}

	rec = env.do(http.MethodGet, "http://testserver/admin/rest/allowedlistorgs", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestUploadProductImage(t *testing.T) {
	env := newAdminEnv(t)
	rec := env.do(http.MethodPost, "http://testserver/admin/rest/products/prod-1/image", "image/png", "PNGDATA")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if env.images.key != "products/prod-1/image.png" || env.images.body != "PNGDATA" {
		t.Fatalf("key=%q body=%q", env.images.key, env.images.body)
	}
	if got := env.products.images["prod-1"]; got != "http://media.test/product-images/products/prod-1/image.png" {
		t.Fatalf("image=%q", got)
	}

	rec = env.do(http.MethodPost, "http://testserver/admin/rest/products/missing/image", "image/png", "PNGDATA")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestListJobsIncludesPlanLabels(t *testing.T) {
	env := newAdminEnv(t)
	rec := env.do(http.MethodGet, "http://testserver/admin/rest/jobs", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Data []jobAdminView `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 1 {
		t.Fatalf("data=%d, want 1", len(body.Data))
	}
	job := body.Data[0]
	if job.PlanTitle != "Sample plan" || job.Product != "Sample Product" || job.Version != "1.0" {
		t.Fatalf("job=%+v", job)
	}
}

type pagedBody struct {
	Data  []map[string]any `json:"data"`
	Links struct {
		Next     *string `json:"next"`
		Previous *string `json:"previous"`
	} `json:"links"`
	Meta struct {
		Page struct {
			Total int `json:"total"`
		} `json:"page"`
	} `json:"meta"`
}

func (e *adminEnv) getPage(t *testing.T, target string) pagedBody {
	t.Helper()
	rec := e.do(http.MethodGet, target, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s status=%d body=%s", target, rec.Code, rec.Body.String())
	}
	var body pagedBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestListJobsReportsTotalBeyondOnePage(t *testing.T) {
	env := newAdminEnv(t)
	env.jobs.items = nil
	for i := range 620 {
		env.jobs.items = append(env.jobs.items, domain.Job{ID: fmt.Sprintf("job-%03d", i), PlanID: "plan-1", Status: domain.JobComplete})
	}

	first := env.getPage(t, "http://testserver/admin/rest/jobs?limit=500")
	if len(first.Data) != 500 || first.Meta.Page.Total != 620 {
		t.Fatalf("data=%d total=%d, want 500 of 620", len(first.Data), first.Meta.Page.Total)
	}
	if first.Links.Next == nil || first.Links.Previous != nil {
		t.Fatalf("links=%+v, want next only", first.Links)
	}
	if *first.Links.Next != "http://testserver/admin/rest/jobs?limit=500&offset=500" {
		t.Fatalf("next=%s", *first.Links.Next)
	}

	last := env.getPage(t, *first.Links.Next)
	if len(last.Data) != 120 || last.Meta.Page.Total != 620 {
		t.Fatalf("data=%d total=%d, want 120 of 620", len(last.Data), last.Meta.Page.Total)
	}
	if last.Data[0]["id"] != "job-500" || last.Links.Next != nil || last.Links.Previous == nil {
		t.Fatalf("first id=%v links=%+v", last.Data[0]["id"], last.Links)
	}
}

func TestListAllowedListOrgsPagesInMemory(t *testing.T) {
	env := newAdminEnv(t)
	for i := range 7 {
		env.lists.orgs = append(env.lists.orgs, domain.AllowedListOrg{ID: fmt.Sprintf("org-%d", i), AllowedListID: "list-1"})
	}

	body := env.getPage(t, "http://testserver/admin/rest/allowedlistorgs?limit=3&offset=6")
	if len(body.Data) != 1 || body.Meta.Page.Total != 7 {
		t.Fatalf("data=%d total=%d, want 1 of 7", len(body.Data), body.Meta.Page.Total)
	}
	if body.Links.Next != nil || body.Links.Previous == nil {
		t.Fatalf("links=%+v, want previous only", body.Links)
	}

	past := env.getPage(t, "http://testserver/admin/rest/allowedlistorgs?offset=50")
	if len(past.Data) != 0 || past.Meta.Page.Total != 7 {
		t.Fatalf("data=%d total=%d, want empty page of 7", len(past.Data), past.Meta.Page.Total)
	}
}

func TestJobsAreReadOnly(t *testing.T) {
	env := newAdminEnv(t)
	rec := env.do(http.MethodDelete, "http://testserver/admin/rest/jobs/job-1", "", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestIPRestrictionRejectsOutsiders(t *testing.T) {
	subnets, err := auth.ParseSubnets([]string{"127.0.0.1/32"})
	if err != nil {
		t.Fatalf("ParseSubnets: %v", err)
	}
	called := false
	handler := auth.IPRestriction{Prefix: restPrefix, Subnets: subnets}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "http://testserver/admin/rest/plans/plan-1", nil)
	req.RemoteAddr = net.JoinHostPort("8.8.8.8", "1234")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || called {
		t.Fatalf("status=%d called=%v, want 400 and not called", rec.Code, called)
	}

	req = httptest.NewRequest(http.MethodGet, "http://testserver/admin/rest/plans/plan-1", nil)
	req.RemoteAddr = net.JoinHostPort("127.0.0.1", "1234")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if !called {
		t.Fatalf("local request should pass")
	}
}

type fixedAuthenticator struct {
	identity auth.Identity
}

func (a fixedAuthenticator) Authenticate(ctx context.Context, r *http.Request) (auth.Identity, error) {
	return a.identity, nil
}

func TestNonStaffForbidden(t *testing.T) {
	handler := auth.Middleware{
		Authenticator: fixedAuthenticator{identity: auth.Identity{Subject: "u1", Roles: []string{auth.RoleUser}}},
		Authorize:     auth.StaffAuthorizer(),
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "http://testserver/admin/rest/plans", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestRelatedID(t *testing.T) {
	cases := map[string]string{
		"plan-1": "plan-1",
		"http://testserver/admin/rest/plans/plan-1":  "plan-1",
		"http://testserver/admin/rest/plans/plan-1/": "plan-1",
		"/admin/rest/versions/v%201":                 "v 1",
		"":                                           "",
	}
	for in, want := range cases {
		if got := relatedID(in); got != want {
			t.Fatalf("relatedID(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestSlugify(t *testing.T) {
	if got := slugify("  Sample Plan: Part 2!  "); got != "sample-plan-part-2" {
		t.Fatalf("slugify=%q", got)
	}
}
