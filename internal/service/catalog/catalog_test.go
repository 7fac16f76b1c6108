package catalog

import (
	"context"
	"testing"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

var member = domain.Viewer{UserID: "user-1", OrgID: "00D000000000001AAA", OrgType: "Production"}

func TestGetPlanVisible(t *testing.T) {
	f := newFixture()
	view, err := f.svc.GetPlan(context.Background(), domain.Viewer{}, "en-us", "plan-1")
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if !view.IsAllowed {
		t.Fatalf("unrestricted plan should be allowed")
	}
	if view.PreflightMessage == nil || *view.PreflightMessage != "<p>Preflight message consists of generic product message and</p>\n<p>step-specific message</p>" {
		t.Fatalf("preflight_message=%v", view.PreflightMessage)
	}
	if len(view.Steps) != 1 || view.Steps[0].KindIcon != "package" {
		t.Fatalf("steps=%+v", view.Steps)
	}
	if view.NotAllowedInstructions != nil {
		t.Fatalf("not_allowed_instructions should be nil")
	}
}

func TestGetPlanRedactedByProductList(t *testing.T) {
	f := newFixture()
	f.restrictProduct(domain.AllowedList{ID: "al-1", Title: "Partners", Description: "Test."})

	view, err := f.svc.GetPlan(context.Background(), member, "en-us", "plan-1")
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if view.IsAllowed {
		t.Fatalf("plan should not be allowed")
	}
	if view.PreflightMessage != nil {
		t.Fatalf("preflight_message=%q, want nil", *view.PreflightMessage)
	}
	if view.Steps != nil {
		t.Fatalf("steps=%v, want nil", view.Steps)
	}
	if view.NotAllowedInstructions == nil || *view.NotAllowedInstructions != "<p>Test.</p>" {
		t.Fatalf("not_allowed_instructions=%v", view.NotAllowedInstructions)
	}
}

func TestGetPlanPrefersPlanListInstructions(t *testing.T) {
	f := newFixture()
	f.restrictProduct(domain.AllowedList{ID: "al-1", Description: "Product list."})
	f.restrictPlan(domain.AllowedList{ID: "al-2", Description: "Plan list."})

	view, err := f.svc.GetPlan(context.Background(), member, "en-us", "plan-1")
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if view.NotAllowedInstructions == nil || *view.NotAllowedInstructions != "<p>Plan list.</p>" {
		t.Fatalf("not_allowed_instructions=%v", view.NotAllowedInstructions)
	}
}

func TestGetPlanAllowedByOrgID(t *testing.T) {
	f := newFixture()
	f.restrictPlan(domain.AllowedList{ID: "al-2", Description: "Plan list."})
	f.lists.orgs["al-2"] = []string{"00D000000000001AAA"}

	view, err := f.svc.GetPlan(context.Background(), member, "en-us", "plan-1")
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if !view.IsAllowed || view.Steps == nil {
		t.Fatalf("org on the list should see the plan: %+v", view)
	}
}

func TestGetProductRedaction(t *testing.T) {
	f := newFixture()
	f.restrictProduct(domain.AllowedList{ID: "al-1", Description: "Ask for access."})

	view, err := f.svc.GetProduct(context.Background(), domain.Viewer{}, "en-us", "prod-1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if view.Description != nil {
		t.Fatalf("description=%q, want nil", *view.Description)
	}
	if view.Category != "Salesforce" {
		t.Fatalf("category=%q", view.Category)
	}
	if view.MostRecentVersion == nil || view.MostRecentVersion.PrimaryPlan == nil {
		t.Fatalf("most_recent_version should include the primary plan")
	}
	if view.MostRecentVersion.PrimaryPlan.Steps != nil {
		t.Fatalf("nested plan should be redacted")
	}

	staff := domain.Viewer{UserID: "admin", IsStaff: true}
	view, err = f.svc.GetProduct(context.Background(), staff, "en-us", "prod-1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if view.Description == nil || *view.Description != "<p>A <strong>sample</strong> product.</p>" {
		t.Fatalf("description=%v", view.Description)
	}
}

func TestGetProductWithoutVersions(t *testing.T) {
	f := newFixture()
	f.versions.items = nil
	view, err := f.svc.GetProduct(context.Background(), domain.Viewer{}, "en-us", "prod-1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if view.MostRecentVersion != nil {
		t.Fatalf("most_recent_version should be nil")
	}
}

func TestListProductsHidesListOnlyProducts(t *testing.T) {
	f := newFixture()
	f.restrictProduct(domain.AllowedList{ID: "al-1", ListForAllowedByOrgs: true})

	items, err := f.svc.ListProducts(context.Background(), member, "en-us", ProductQuery{})
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("len=%d, want 0", len(items))
	}

	f.lists.lists["al-1"] = domain.AllowedList{ID: "al-1", ListForAllowedByOrgs: false}
	items, err = f.svc.ListProducts(context.Background(), member, "en-us", ProductQuery{})
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(items) != 1 || items[0].IsAllowed {
		t.Fatalf("items=%+v", items)
	}
}

func TestTranslationsOverlayBaseText(t *testing.T) {
	f := newFixture()
	_ = f.translations.Upsert(context.Background(), repo.TranslatePlan, domain.Translation{LanguageCode: "fr", MasterID: "plan-1", Fields: map[string]string{"title": "Installation complète"}})
	_ = f.translations.Upsert(context.Background(), repo.TranslateStep, domain.Translation{LanguageCode: "fr", MasterID: "step-1", Fields: map[string]string{"name": "Installer"}})

	view, err := f.svc.GetPlan(context.Background(), domain.Viewer{}, "fr", "plan-1")
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if view.Title != "Installation complète" || view.Steps[0].Name != "Installer" {
		t.Fatalf("title=%q step=%q", view.Title, view.Steps[0].Name)
	}

	view, err = f.svc.GetPlan(context.Background(), domain.Viewer{}, "en-us", "plan-1")
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if view.Title != "Full install" {
		t.Fatalf("title=%q", view.Title)
	}
}

func TestResolvePlanNotFound(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.ResolvePlan(context.Background(), member, "missing"); err != repo.ErrNotFound {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}
