package catalog

import (
	"context"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

func (s *Service) GetPlan(ctx context.Context, viewer domain.Viewer, lang string, id string) (PlanView, error) {
	pc, err := s.ResolvePlan(ctx, viewer, id)
	if err != nil {
		return PlanView{}, err
	}
	tr, err := s.loadTranslations(ctx, lang, nil, nil, []domain.Plan{pc.Plan})
	if err != nil {
		return PlanView{}, err
	}
	return newPlanView(pc, tr), nil
}

func (s *Service) ListPlans(ctx context.Context, viewer domain.Viewer, lang string, filter repo.PlanFilter) ([]PlanView, error) {
	filter.ListedOnly = true
	plans, err := s.stores.Plans.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	acc := s.access(viewer)
	tr, err := s.loadTranslations(ctx, lang, nil, nil, plans)
	if err != nil {
		return nil, err
	}
	out := make([]PlanView, 0, len(plans))
	for _, plan := range plans {
		pc, err := s.resolveLoadedPlan(ctx, acc, plan, nil, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, newPlanView(pc, tr))
	}
	return out, nil
}
