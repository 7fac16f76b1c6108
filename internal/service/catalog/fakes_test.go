package catalog

import (
	"context"
	"sort"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

type fakeCategories struct {
	items map[string]domain.ProductCategory
}

func (f *fakeCategories) Create(ctx context.Context, c domain.ProductCategory) error {
	f.items[c.ID] = c
	return nil
}

func (f *fakeCategories) Get(ctx context.Context, id string) (domain.ProductCategory, error) {
	c, ok := f.items[id]
	if !ok {
		return domain.ProductCategory{}, repo.ErrNotFound
	}
	return c, nil
}

func (f *fakeCategories) List(ctx context.Context) ([]domain.ProductCategory, error) {
	out := make([]domain.ProductCategory, 0, len(f.items))
	for _, c := range f.items {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCategories) Update(ctx context.Context, c domain.ProductCategory) error {
	f.items[c.ID] = c
	return nil
}

type fakeLists struct {
	lists map[string]domain.AllowedList
	orgs  map[string][]string
}

func (f *fakeLists) CreateList(ctx context.Context, l domain.AllowedList) error {
	f.lists[l.ID] = l
	return nil
}

func (f *fakeLists) GetList(ctx context.Context, id string) (domain.AllowedList, error) {
	l, ok := f.lists[id]
	if !ok {
		return domain.AllowedList{}, repo.ErrNotFound
	}
	return l, nil
}

func (f *fakeLists) ListLists(ctx context.Context) ([]domain.AllowedList, error) {
	out := make([]domain.AllowedList, 0, len(f.lists))
	for _, l := range f.lists {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeLists) UpdateList(ctx context.Context, l domain.AllowedList) error {
	f.lists[l.ID] = l
	return nil
}

func (f *fakeLists) CreateOrg(ctx context.Context, o domain.AllowedListOrg) error {
	f.orgs[o.AllowedListID] = append(f.orgs[o.AllowedListID], o.OrgID)
	return nil
}

func (f *fakeLists) GetOrg(ctx context.Context, id string) (domain.AllowedListOrg, error) {
	return domain.AllowedListOrg{}, repo.ErrNotFound
}

func (f *fakeLists) ListOrgs(ctx context.Context, listID string) ([]domain.AllowedListOrg, error) {
	return nil, nil
}

func (f *fakeLists) OrgIDsFor(ctx context.Context, listID string) ([]string, error) {
	return f.orgs[listID], nil
}

type fakeProducts struct{ items []domain.Product }

func (f *fakeProducts) Create(ctx context.Context, p domain.Product) error {
	f.items = append(f.items, p)
	return nil
}

func (f *fakeProducts) Get(ctx context.Context, id string) (domain.Product, error) {
	for _, p := range f.items {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Product{}, repo.ErrNotFound
}

func (f *fakeProducts) List(ctx context.Context, filter repo.ProductFilter) ([]domain.Product, error) {
	out := make([]domain.Product, 0)
	for _, p := range f.items {
		if filter.ListedOnly && !p.IsListed {
			continue
		}
		if filter.Slug != "" && p.Slug != filter.Slug {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeProducts) Count(ctx context.Context, filter repo.ProductFilter) (int, error) {
	items, _ := f.List(ctx, filter)
	return len(items), nil
}

func (f *fakeProducts) Update(ctx context.Context, p domain.Product) error { return nil }

func (f *fakeProducts) SetImage(ctx context.Context, id, image string) error { return nil }

type fakeVersions struct{ items []domain.Version }

func (f *fakeVersions) Create(ctx context.Context, v domain.Version) error {
	f.items = append(f.items, v)
	return nil
}

func (f *fakeVersions) Get(ctx context.Context, id string) (domain.Version, error) {
	for _, v := range f.items {
		if v.ID == id {
			return v, nil
		}
	}
	return domain.Version{}, repo.ErrNotFound
}

func (f *fakeVersions) List(ctx context.Context, filter repo.VersionFilter) ([]domain.Version, error) {
	out := make([]domain.Version, 0)
	for _, v := range f.items {
		if filter.ProductID != "" && v.ProductID != filter.ProductID {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeVersions) Count(ctx context.Context, filter repo.VersionFilter) (int, error) {
	list, err := f.List(ctx, filter)
	return len(list), err
}

func (f *fakeVersions) Update(ctx context.Context, v domain.Version) error { return nil }

func (f *fakeVersions) MostRecent(ctx context.Context, productID string) (domain.Version, error) {
	matches, _ := f.List(ctx, repo.VersionFilter{ProductID: productID})
	if len(matches) == 0 {
		return domain.Version{}, repo.ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	return matches[0], nil
}

type fakeTemplates struct {
	items map[string]domain.PlanTemplate
}

func (f *fakeTemplates) Create(ctx context.Context, t domain.PlanTemplate) error {
	f.items[t.ID] = t
	return nil
}

func (f *fakeTemplates) Get(ctx context.Context, id string) (domain.PlanTemplate, error) {
	t, ok := f.items[id]
	if !ok {
		return domain.PlanTemplate{}, repo.ErrNotFound
	}
	return t, nil
}

func (f *fakeTemplates) List(ctx context.Context, productID string) ([]domain.PlanTemplate, error) {
	return nil, nil
}

func (f *fakeTemplates) Update(ctx context.Context, t domain.PlanTemplate) error { return nil }

type fakePlans struct{ items []domain.Plan }

func (f *fakePlans) Create(ctx context.Context, p domain.Plan) error {
	f.items = append(f.items, p)
	return nil
}

func (f *fakePlans) Get(ctx context.Context, id string) (domain.Plan, error) {
	for _, p := range f.items {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Plan{}, repo.ErrNotFound
}

func (f *fakePlans) List(ctx context.Context, filter repo.PlanFilter) ([]domain.Plan, error) {
	out := make([]domain.Plan, 0)
	for _, p := range f.items {
		if filter.VersionID != "" && p.VersionID != filter.VersionID {
			continue
		}
		if filter.ListedOnly && !p.IsListed {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakePlans) Count(ctx context.Context, filter repo.PlanFilter) (int, error) {
	list, err := f.List(ctx, filter)
	return len(list), err
}

func (f *fakePlans) Update(ctx context.Context, p domain.Plan) error { return nil }

type fakeTranslations struct {
	items map[repo.TranslationKind]map[string]domain.Translation
}

func (f *fakeTranslations) Upsert(ctx context.Context, kind repo.TranslationKind, tr domain.Translation) error {
	if f.items[kind] == nil {
		f.items[kind] = map[string]domain.Translation{}
	}
	f.items[kind][tr.MasterID] = tr
	return nil
}

func (f *fakeTranslations) Lookup(ctx context.Context, kind repo.TranslationKind, lang string, ids []string) (map[string]domain.Translation, error) {
	out := map[string]domain.Translation{}
	for _, id := range ids {
		if tr, ok := f.items[kind][id]; ok && tr.LanguageCode == lang {
			out[id] = tr
		}
	}
	return out, nil
}

type fixture struct {
	svc          *Service
	lists        *fakeLists
	products     *fakeProducts
	versions     *fakeVersions
	plans        *fakePlans
	translations *fakeTranslations
}

func newFixture() *fixture {
	f := &fixture{
		lists:        &fakeLists{lists: map[string]domain.AllowedList{}, orgs: map[string][]string{}},
		products:     &fakeProducts{},
		versions:     &fakeVersions{},
		plans:        &fakePlans{},
		translations: &fakeTranslations{items: map[repo.TranslationKind]map[string]domain.Translation{}},
	}
	svc, err := New(Stores{
		Categories:   &fakeCategories{items: map[string]domain.ProductCategory{"cat-1": {ID: "cat-1", Title: "Salesforce"}}},
		AllowedLists: f.lists,
		Products:     f.products,
		Versions:     f.versions,
		Templates: &fakeTemplates{items: map[string]domain.PlanTemplate{
			"tpl-1": {ID: "tpl-1", ProductID: "prod-1", PreflightMessage: "Preflight message consists of generic product message and", PostInstallMessage: "Done."},
		}},
		Plans:        f.plans,
		Translations: f.translations,
	})
	if err != nil {
		panic(err)
	}
	f.svc = svc

	f.products.items = append(f.products.items, domain.Product{
		ID: "prod-1", Slug: "sample", Title: "Sample", Description: "A **sample** product.", CategoryID: "cat-1", IsListed: true,
	})
	f.versions.items = append(f.versions.items, domain.Version{ID: "ver-1", ProductID: "prod-1", Label: "1.0", IsListed: true})
	f.plans.items = append(f.plans.items, domain.Plan{
		ID: "plan-1", VersionID: "ver-1", PlanTemplateID: "tpl-1", Title: "Full install", Slug: "full-install",
		PreflightMessageAdditional: "step-specific message", Tier: domain.TierPrimary, IsListed: true, SupportedOrgs: domain.SupportedPersistent,
		Steps: []domain.Step{{ID: "step-1", Name: "Install", Kind: domain.KindMetadata, IsRequired: true, StepNum: "1"}},
	})
	return f
}

func (f *fixture) restrictProduct(list domain.AllowedList) {
	f.lists.lists[list.ID] = list
	f.products.items[0].VisibleToID = list.ID
}

func (f *fixture) restrictPlan(list domain.AllowedList) {
	f.lists.lists[list.ID] = list
	f.plans.items[0].VisibleToID = list.ID
}
