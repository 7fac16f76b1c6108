package catalog

import (
	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/platform/markdown"
)

type Icon struct {
	Type     string `json:"type"`
	URL      string `json:"url,omitempty"`
	Category string `json:"category,omitempty"`
	Name     string `json:"name,omitempty"`
}

type ProductView struct {
	ID                     string       `json:"id"`
	Title                  string       `json:"title"`
	Slug                   string       `json:"slug"`
	Description            *string      `json:"description"`
	ShortDescription       string       `json:"short_description"`
	ClickThroughAgreement  string       `json:"click_through_agreement"`
	Category               string       `json:"category"`
	Color                  string       `json:"color"`
	Icon                   *Icon        `json:"icon"`
	Image                  *string      `json:"image"`
	IsAllowed              bool         `json:"is_allowed"`
	IsListed               bool         `json:"is_listed"`
	OrderKey               int          `json:"order_key"`
	NotAllowedInstructions *string      `json:"not_allowed_instructions"`
	MostRecentVersion      *VersionView `json:"most_recent_version"`
}

type VersionView struct {
	ID              string     `json:"id"`
	Product         string     `json:"product"`
	Label           string     `json:"label"`
	Description     string     `json:"description"`
	IsProduction    bool       `json:"is_production"`
	CommitIsh       string     `json:"commit_ish"`
	IsListed        bool       `json:"is_listed"`
	PrimaryPlan     *PlanView  `json:"primary_plan"`
	SecondaryPlan   *PlanView  `json:"secondary_plan"`
	AdditionalPlans []PlanView `json:"additional_plans"`
}

type StepView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	IsRequired    bool   `json:"is_required"`
	IsRecommended bool   `json:"is_recommended"`
	Kind          string `json:"kind"`
	KindIcon      string `json:"kind_icon"`
}

type PlanView struct {
	ID                     string               `json:"id"`
	Title                  string               `json:"title"`
	Version                string               `json:"version"`
	Slug                   string               `json:"slug"`
	Tier                   domain.Tier          `json:"tier"`
	IsListed               bool                 `json:"is_listed"`
	IsAllowed              bool                 `json:"is_allowed"`
	PreflightMessage       *string              `json:"preflight_message"`
	PostInstallMessage     string               `json:"post_install_message"`
	Steps                  []StepView           `json:"steps"`
	NotAllowedInstructions *string              `json:"not_allowed_instructions"`
	RequiresPreflight      bool                 `json:"requires_preflight"`
	OrderKey               int                  `json:"order_key"`
	SupportedOrgs          domain.SupportedOrgs `json:"supported_orgs"`
}

var kindIcons = map[domain.StepKind]string{
	domain.KindMetadata: "package",
	domain.KindOnetime:  "upload",
	domain.KindManaged:  "archive",
	domain.KindData:     "paste",
	domain.KindOther:    "dash",
}

func iconFor(p domain.Product) *Icon {
	if p.IconURL != "" {
		return &Icon{Type: "url", URL: p.IconURL}
	}
	if p.SLDSIconName != "" {
		return &Icon{Type: "slds", Category: p.SLDSIconCategory, Name: p.SLDSIconName}
	}
	return nil
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func newPlanView(pc PlanContext, tr translations) PlanView {
	plan := pc.Plan
	planTr := tr.plans[plan.ID]
	view := PlanView{
		ID:                     plan.ID,
		Title:                  planTr.Pick("title", plan.Title),
		Version:                plan.VersionID,
		Slug:                   plan.Slug,
		Tier:                   plan.Tier,
		IsListed:               plan.IsListed,
		IsAllowed:              pc.Allowed,
		RequiresPreflight:      plan.PreflightFlowName != "",
		OrderKey:               plan.OrderKey,
		SupportedOrgs:          plan.SupportedOrgs,
		NotAllowedInstructions: notAllowedInstructions(pc.Allowed, pc.Restriction),
		PostInstallMessage: markdown.Render(joinMessages(
			planTr.Pick("post_install_message", pc.Template.PostInstallMessage),
			plan.PostInstallMessageAdditional,
		)),
	}
	if !pc.Allowed {
		return view
	}
	msg := markdown.Render(joinMessages(
		planTr.Pick("preflight_message", pc.Template.PreflightMessage),
		plan.PreflightMessageAdditional,
	))
	view.PreflightMessage = &msg
	view.Steps = make([]StepView, 0, len(plan.Steps))
	for _, st := range plan.Steps {
		stepTr := tr.steps[st.ID]
		view.Steps = append(view.Steps, StepView{
			ID:            st.ID,
			Name:          stepTr.Pick("name", st.Name),
			Description:   stepTr.Pick("description", st.Description),
			IsRequired:    st.IsRequired,
			IsRecommended: st.IsRecommended,
			Kind:          string(st.Kind),
			KindIcon:      kindIcons[st.Kind],
		})
	}
	return view
}
