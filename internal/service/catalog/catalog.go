// Package catalog builds the public product, version and plan views. It
// applies allowed-list visibility and request-language translations.
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

type Stores struct {
	Categories   repo.CategoryRepository
	AllowedLists repo.AllowedListRepository
	Products     repo.ProductRepository
	Versions     repo.VersionRepository
	Templates    repo.PlanTemplateRepository
	Plans        repo.PlanRepository
	Translations repo.TranslationRepository
}

type Service struct {
	stores Stores
}

func New(stores Stores) (*Service, error) {
	if stores.Categories == nil || stores.AllowedLists == nil || stores.Products == nil ||
		stores.Versions == nil || stores.Templates == nil || stores.Plans == nil {
		return nil, errors.New("catalog stores are required")
	}
	return &Service{stores: stores}, nil
}

// PlanContext is a plan with its ancestors and the viewer's access to it.
type PlanContext struct {
	Plan     domain.Plan
	Template domain.PlanTemplate
	Version  domain.Version
	Product  domain.Product
	Allowed  bool
	// Restriction is the list that denied access, plan first then product.
	Restriction *domain.AllowedList
}

// access resolves allowed lists once per request.
type access struct {
	svc    *Service
	viewer domain.Viewer
	lists  map[string]accessEntry
}

type accessEntry struct {
	list    domain.AllowedList
	allowed bool
}

func (s *Service) access(viewer domain.Viewer) *access {
	return &access{svc: s, viewer: viewer, lists: map[string]accessEntry{}}
}

func (a *access) check(ctx context.Context, listID string) (bool, *domain.AllowedList, error) {
	listID = strings.TrimSpace(listID)
	if listID == "" {
		return true, nil, nil
	}
	if entry, ok := a.lists[listID]; ok {
		list := entry.list
		return entry.allowed, &list, nil
	}
	list, err := a.svc.stores.AllowedLists.GetList(ctx, listID)
	if err != nil {
		return false, nil, fmt.Errorf("load allowed list: %w", err)
	}
	orgIDs := []string(nil)
	if a.viewer.Authenticated() && !a.viewer.IsStaff && strings.TrimSpace(a.viewer.OrgID) != "" {
		orgIDs, err = a.svc.stores.AllowedLists.OrgIDsFor(ctx, listID)
		if err != nil {
			return false, nil, fmt.Errorf("load allowed orgs: %w", err)
		}
	}
	allowed := domain.IsVisibleTo(&list, orgIDs, a.viewer)
	a.lists[listID] = accessEntry{list: list, allowed: allowed}
	return allowed, &list, nil
}

// ResolvePlan loads a plan with its version, product and template and decides
// whether the viewer may see it. A plan is visible only when both the plan
// and its product are.
func (s *Service) ResolvePlan(ctx context.Context, viewer domain.Viewer, planID string) (PlanContext, error) {
	return s.resolvePlan(ctx, s.access(viewer), planID)
}

func (s *Service) resolvePlan(ctx context.Context, acc *access, planID string) (PlanContext, error) {
	plan, err := s.stores.Plans.Get(ctx, planID)
	if err != nil {
		return PlanContext{}, err
	}
	return s.resolveLoadedPlan(ctx, acc, plan, nil, nil)
}

// resolveLoadedPlan reuses knownVersion and knownProduct when they are the
// plan's parents.
func (s *Service) resolveLoadedPlan(ctx context.Context, acc *access, plan domain.Plan, knownVersion *domain.Version, knownProduct *domain.Product) (PlanContext, error) {
	var (
		version domain.Version
		product domain.Product
		err     error
	)
	if knownVersion != nil && knownVersion.ID == plan.VersionID {
		version = *knownVersion
	} else if version, err = s.stores.Versions.Get(ctx, plan.VersionID); err != nil {
		return PlanContext{}, fmt.Errorf("load version: %w", err)
	}
	if knownProduct != nil && knownProduct.ID == version.ProductID {
		product = *knownProduct
	} else if product, err = s.stores.Products.Get(ctx, version.ProductID); err != nil {
		return PlanContext{}, fmt.Errorf("load product: %w", err)
	}
	template, err := s.stores.Templates.Get(ctx, plan.PlanTemplateID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return PlanContext{}, fmt.Errorf("load plan template: %w", err)
	}
	planAllowed, planList, err := acc.check(ctx, plan.VisibleToID)
	if err != nil {
		return PlanContext{}, err
	}
	productAllowed, productList, err := acc.check(ctx, product.VisibleToID)
	if err != nil {
		return PlanContext{}, err
	}
	out := PlanContext{
		Plan:     plan,
		Template: template,
		Version:  version,
		Product:  product,
		Allowed:  planAllowed && productAllowed,
	}
	if !out.Allowed {
		if planList != nil {
			out.Restriction = planList
		} else {
			out.Restriction = productList
		}
	}
	return out, nil
}

func notAllowedInstructions(allowed bool, list *domain.AllowedList) *string {
	if allowed || list == nil {
		return nil
	}
	return markdown.RenderPtr(list.Description)
}

func joinMessages(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, strings.TrimSpace(p))
		}
	}
	return strings.Join(kept, "\n\n")
}
