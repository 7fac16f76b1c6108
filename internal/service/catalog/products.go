package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/platform/markdown"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

type ProductQuery struct {
	CategoryID string
	Slug       string
}

// ListProducts returns listed products that have a listed version. Products
// the viewer may not see stay in the list, redacted, unless their allowed
// list hides them from everyone outside it.
func (s *Service) ListProducts(ctx context.Context, viewer domain.Viewer, lang string, q ProductQuery) ([]ProductView, error) {
	products, err := s.stores.Products.List(ctx, repo.ProductFilter{
		CategoryID: q.CategoryID,
		Slug:       q.Slug,
		ListedOnly: true,
	})
	if err != nil {
		return nil, err
	}
	categories, err := s.categoryTitles(ctx)
	if err != nil {
		return nil, err
	}
	acc := s.access(viewer)
	kept := make([]domain.Product, 0, len(products))
	allowed := make(map[string]bool, len(products))
	restrictions := make(map[string]*domain.AllowedList, len(products))
	for _, p := range products {
		ok, list, err := acc.check(ctx, p.VisibleToID)
		if err != nil {
			return nil, err
		}
		if !ok && list != nil && list.ListForAllowedByOrgs {
			continue
		}
		kept = append(kept, p)
		allowed[p.ID] = ok
		restrictions[p.ID] = list
	}
	tr, err := s.loadTranslations(ctx, lang, kept, nil, nil)
	if err != nil {
		return nil, err
	}
	out := make([]ProductView, 0, len(kept))
	for _, p := range kept {
		view := newProductView(p, categories[p.CategoryID], allowed[p.ID], restrictions[p.ID], tr)
		mrv, err := s.mostRecentVersion(ctx, acc, lang, p)
		if err != nil {
			return nil, err
		}
		view.MostRecentVersion = mrv
		out = append(out, view)
	}
	return out, nil
}

func (s *Service) GetProduct(ctx context.Context, viewer domain.Viewer, lang string, id string) (ProductView, error) {
	p, err := s.stores.Products.Get(ctx, id)
	if err != nil {
		return ProductView{}, err
	}
	acc := s.access(viewer)
	ok, list, err := acc.check(ctx, p.VisibleToID)
	if err != nil {
		return ProductView{}, err
	}
	category, err := s.stores.Categories.Get(ctx, p.CategoryID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return ProductView{}, fmt.Errorf("load category: %w", err)
	}
	tr, err := s.loadTranslations(ctx, lang, []domain.Product{p}, nil, nil)
	if err != nil {
		return ProductView{}, err
	}
	view := newProductView(p, category.Title, ok, list, tr)
	if view.MostRecentVersion, err = s.mostRecentVersion(ctx, acc, lang, p); err != nil {
		return ProductView{}, err
	}
	return view, nil
}

func (s *Service) categoryTitles(ctx context.Context) (map[string]string, error) {
	categories, err := s.stores.Categories.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out := make(map[string]string, len(categories))
	for _, c := range categories {
		out[c.ID] = c.Title
	}
	return out, nil
}

func (s *Service) mostRecentVersion(ctx context.Context, acc *access, lang string, p domain.Product) (*VersionView, error) {
	v, err := s.stores.Versions.MostRecent(ctx, p.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("most recent version: %w", err)
	}
	view, err := s.versionView(ctx, acc, lang, v, &p)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func newProductView(p domain.Product, category string, allowed bool, list *domain.AllowedList, tr translations) ProductView {
	ptr := tr.products[p.ID]
	view := ProductView{
		ID:                     p.ID,
		Title:                  ptr.Pick("title", p.Title),
		Slug:                   p.Slug,
		ShortDescription:       ptr.Pick("short_description", p.ShortDescription),
		ClickThroughAgreement:  markdown.Render(ptr.Pick("click_through_agreement", p.ClickThroughAgreement)),
		Category:               category,
		Color:                  p.Color,
		Icon:                   iconFor(p),
		Image:                  stringPtr(strings.TrimSpace(p.Image)),
		IsAllowed:              allowed,
		IsListed:               p.IsListed,
		OrderKey:               p.OrderKey,
		NotAllowedInstructions: notAllowedInstructions(allowed, list),
	}
	if allowed {
		desc := markdown.Render(ptr.Pick("description", p.Description))
		view.Description = &desc
	}
	return view
}
