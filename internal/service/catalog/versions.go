package catalog

import (
	"context"
	"fmt"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/platform/markdown"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

func (s *Service) GetVersion(ctx context.Context, viewer domain.Viewer, lang string, id string) (VersionView, error) {
	v, err := s.stores.Versions.Get(ctx, id)
	if err != nil {
		return VersionView{}, err
	}
	return s.versionView(ctx, s.access(viewer), lang, v, nil)
}

func (s *Service) ListVersions(ctx context.Context, viewer domain.Viewer, lang string, filter repo.VersionFilter) ([]VersionView, error) {
	filter.ListedOnly = true
	versions, err := s.stores.Versions.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	acc := s.access(viewer)
	out := make([]VersionView, 0, len(versions))
	for _, v := range versions {
		view, err := s.versionView(ctx, acc, lang, v, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

// versionView groups the version's listed plans by tier. product may be nil.
func (s *Service) versionView(ctx context.Context, acc *access, lang string, v domain.Version, product *domain.Product) (VersionView, error) {
	plans, err := s.stores.Plans.List(ctx, repo.PlanFilter{VersionID: v.ID, ListedOnly: true})
	if err != nil {
		return VersionView{}, fmt.Errorf("list plans: %w", err)
	}
	tr, err := s.loadTranslations(ctx, lang, nil, []domain.Version{v}, plans)
	if err != nil {
		return VersionView{}, err
	}
	view := VersionView{
		ID:              v.ID,
		Product:         v.ProductID,
		Label:           v.Label,
		Description:     markdown.Render(tr.versions[v.ID].Pick("description", v.Description)),
		IsProduction:    v.IsProduction,
		CommitIsh:       v.CommitIsh,
		IsListed:        v.IsListed,
		AdditionalPlans: []PlanView{},
	}
	for _, plan := range plans {
		pc, err := s.resolveLoadedPlan(ctx, acc, plan, &v, product)
		if err != nil {
			return VersionView{}, err
		}
		pv := newPlanView(pc, tr)
		switch {
		case plan.Tier == domain.TierPrimary && view.PrimaryPlan == nil:
			view.PrimaryPlan = &pv
		case plan.Tier == domain.TierSecondary && view.SecondaryPlan == nil:
			view.SecondaryPlan = &pv
		default:
			view.AdditionalPlans = append(view.AdditionalPlans, pv)
		}
	}
	return view, nil
}
