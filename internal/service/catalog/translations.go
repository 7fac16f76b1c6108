package catalog

import (
	"context"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

type translations struct {
	products map[string]*domain.Translation
	versions map[string]*domain.Translation
	plans    map[string]*domain.Translation
	steps    map[string]*domain.Translation
}

func (s *Service) lookup(ctx context.Context, kind repo.TranslationKind, lang string, ids []string) (map[string]*domain.Translation, error) {
	out := map[string]*domain.Translation{}
	if s.stores.Translations == nil || len(ids) == 0 {
		return out, nil
	}
	found, err := s.stores.Translations.Lookup(ctx, kind, lang, ids)
	if err != nil {
		return nil, err
	}
	for id, tr := range found {
		tr := tr
		out[id] = &tr
	}
	return out, nil
}

// loadTranslations fetches overlays for the given rows. Missing rows fall
// back to the stored base text.
func (s *Service) loadTranslations(ctx context.Context, lang string, products []domain.Product, versions []domain.Version, plans []domain.Plan) (translations, error) {
	var (
		tr  translations
		err error
	)
	productIDs := make([]string, 0, len(products))
	for _, p := range products {
		productIDs = append(productIDs, p.ID)
	}
	versionIDs := make([]string, 0, len(versions))
	for _, v := range versions {
		versionIDs = append(versionIDs, v.ID)
	}
	planIDs := make([]string, 0, len(plans))
	stepIDs := make([]string, 0)
	for _, p := range plans {
		planIDs = append(planIDs, p.ID)
		for _, st := range p.Steps {
			stepIDs = append(stepIDs, st.ID)
		}
	}
	if tr.products, err = s.lookup(ctx, repo.TranslateProduct, lang, productIDs); err != nil {
		return translations{}, err
	}
	if tr.versions, err = s.lookup(ctx, repo.TranslateVersion, lang, versionIDs); err != nil {
		return translations{}, err
	}
	if tr.plans, err = s.lookup(ctx, repo.TranslatePlan, lang, planIDs); err != nil {
		return translations{}, err
	}
	if tr.steps, err = s.lookup(ctx, repo.TranslateStep, lang, stepIDs); err != nil {
		return translations{}, err
	}
	return tr, nil
}
