package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/platform/httpserver"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

type stepView struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	IsRequired    bool            `json:"is_required"`
	IsRecommended bool            `json:"is_recommended"`
	Kind          string          `json:"kind"`
	Path          string          `json:"path"`
	StepNum       string          `json:"step_num"`
	TaskClass     string          `json:"task_class"`
	TaskConfig    domain.Metadata `json:"task_config"`
	Source        domain.Metadata `json:"source"`
}

type planView struct {
	ID                           string     `json:"id"`
	URL                          string     `json:"url"`
	Title                        string     `json:"title"`
	Slug                         string     `json:"slug"`
	Version                      string     `json:"version"`
	PlanTemplate                 string     `json:"plan_template"`
	PreflightMessageAdditional   string     `json:"preflight_message_additional"`
	PostInstallMessageAdditional string     `json:"post_install_message_additional"`
	Tier                         string     `json:"tier"`
	IsListed                     bool       `json:"is_listed"`
	PreflightFlowName            string     `json:"preflight_flow_name"`
	VisibleTo                    *string    `json:"visible_to"`
	OrderKey                     int        `json:"order_key"`
	SupportedOrgs                string     `json:"supported_orgs"`
	Steps                        []stepView `json:"steps"`
	CreatedAt                    time.Time  `json:"created_at"`
}

type stepInput struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	IsRequired    *bool           `json:"is_required"`
	IsRecommended *bool           `json:"is_recommended"`
	Kind          string          `json:"kind"`
	Path          string          `json:"path"`
	StepNum       string          `json:"step_num"`
	TaskClass     string          `json:"task_class"`
	TaskConfig    domain.Metadata `json:"task_config"`
	Source        domain.Metadata `json:"source"`
}

type planInput struct {
	Title                        *string  `json:"title"`
	Slug                         *string  `json:"slug"`
	Version                      *string  `json:"version"`
	PlanTemplate                 *string  `json:"plan_template"`
	PreflightMessageAdditional   *string  `json:"preflight_message_additional"`
	PostInstallMessageAdditional *string  `json:"post_install_message_additional"`
	Tier                         *string  `json:"tier"`
	IsListed                     *bool    `json:"is_listed"`
	PreflightFlowName            *string  `json:"preflight_flow_name"`
	VisibleTo                    nullable `json:"visible_to"`
	OrderKey                     *int     `json:"order_key"`
	SupportedOrgs                *string  `json:"supported_orgs"`
}

type createPlanInput struct {
	planInput
	Steps []stepInput `json:"steps"`
}

type updatePlanInput struct {
	planInput
	Steps json.RawMessage `json:"steps"`
}

func (in planInput) apply(p *domain.Plan) {
	setString(&p.Title, in.Title)
	setString(&p.Slug, in.Slug)
	setRelated(&p.VersionID, in.Version)
	setRelated(&p.PlanTemplateID, in.PlanTemplate)
	setString(&p.PreflightMessageAdditional, in.PreflightMessageAdditional)
	setString(&p.PostInstallMessageAdditional, in.PostInstallMessageAdditional)
	if in.Tier != nil {
		p.Tier = domain.Tier(*in.Tier)
	}
	setBool(&p.IsListed, in.IsListed)
	setString(&p.PreflightFlowName, in.PreflightFlowName)
	in.VisibleTo.applyRelated(&p.VisibleToID)
	setInt(&p.OrderKey, in.OrderKey)
	if in.SupportedOrgs != nil {
		p.SupportedOrgs = domain.SupportedOrgs(*in.SupportedOrgs)
	}
	if strings.TrimSpace(p.Slug) == "" {
		p.Slug = slugify(p.Title)
	}
}

func (in stepInput) step(id, planID string) domain.Step {
	s := domain.NewStep()
	s.ID = id
	s.PlanID = planID
	s.Name = in.Name
	s.Description = in.Description
	setBool(&s.IsRequired, in.IsRequired)
	setBool(&s.IsRecommended, in.IsRecommended)
	if in.Kind != "" {
		s.Kind = domain.StepKind(in.Kind)
	}
	s.Path = in.Path
	s.StepNum = in.StepNum
	s.TaskClass = in.TaskClass
	if in.TaskConfig != nil {
		s.TaskConfig = in.TaskConfig
	}
	s.Source = in.Source
	return s
}

func (api *adminAPI) planView(r *http.Request, p domain.Plan) planView {
	steps := make([]domain.Step, len(p.Steps))
	copy(steps, p.Steps)
	domain.SortSteps(steps)
	out := planView{
		ID:                           p.ID,
		URL:                          api.link(r, "plans", p.ID),
		Title:                        p.Title,
		Slug:                         p.Slug,
		Version:                      api.link(r, "versions", p.VersionID),
		PlanTemplate:                 api.link(r, "plantemplates", p.PlanTemplateID),
		PreflightMessageAdditional:   p.PreflightMessageAdditional,
		PostInstallMessageAdditional: p.PostInstallMessageAdditional,
		Tier:                         string(p.Tier),
		IsListed:                     p.IsListed,
		PreflightFlowName:            p.PreflightFlowName,
		VisibleTo:                    api.optionalLink(r, "allowedlists", p.VisibleToID),
		OrderKey:                     p.OrderKey,
		SupportedOrgs:                string(p.SupportedOrgs),
		Steps:                        make([]stepView, 0, len(steps)),
		CreatedAt:                    p.CreatedAt,
	}
	for _, s := range steps {
		config := s.TaskConfig
		if config == nil {
			config = domain.Metadata{}
		}
		out.Steps = append(out.Steps, stepView{
			ID:            s.ID,
			Name:          s.Name,
			Description:   s.Description,
			IsRequired:    s.IsRequired,
			IsRecommended: s.IsRecommended,
			Kind:          string(s.Kind),
			Path:          s.Path,
			StepNum:       s.StepNum,
			TaskClass:     s.TaskClass,
			TaskConfig:    config,
			Source:        s.Source,
		})
	}
	return out
}

func (api *adminAPI) checkPlan(r *http.Request, p domain.Plan) error {
	if err := p.Validate(); err != nil {
		return invalid(err)
	}
	var verr domain.ValidationError
	if _, err := api.stores.Versions.Get(r.Context(), p.VersionID); err != nil {
		if err := checkRelated(&verr, "version", err); err != nil {
			return err
		}
	}
	if _, err := api.stores.Templates.Get(r.Context(), p.PlanTemplateID); err != nil {
		if err := checkRelated(&verr, "plan_template", err); err != nil {
			return err
		}
	}
	if p.VisibleToID != "" {
		if _, err := api.stores.AllowedLists.GetList(r.Context(), p.VisibleToID); err != nil {
			if err := checkRelated(&verr, "visible_to", err); err != nil {
				return err
			}
		}
	}
	return verr.OrNil()
}

func (api *adminAPI) handleListPlans(w http.ResponseWriter, r *http.Request) {
	filter := repo.PlanFilter{VersionID: relatedID(r.URL.Query().Get("version"))}
	filter.Limit, filter.Offset = pageParams(r)
	total, err := api.stores.Plans.Count(r.Context(), filter)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	list, err := api.stores.Plans.List(r.Context(), filter)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	out := make([]planView, 0, len(list))
	for _, p := range list {
		out = append(out, api.planView(r, p))
	}
	writeList(w, out, total, api.pageLinks(r, total, filter.Limit, filter.Offset))
}

func (api *adminAPI) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	p, err := api.stores.Plans.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, api.planView(r, p))
}

// handleCreatePlan stores a plan together with its nested steps.
func (api *adminAPI) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var in createPlanInput
	if err := decodeJSON(r, &in); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	p := domain.Plan{
		ID:            api.newID(),
		Tier:          domain.TierPrimary,
		IsListed:      true,
		SupportedOrgs: domain.SupportedPersistent,
		CreatedAt:     api.now().UTC(),
	}
	in.apply(&p)
	for _, s := range in.Steps {
		p.Steps = append(p.Steps, s.step(api.newID(), p.ID))
	}
	if err := api.checkPlan(r, p); err != nil {
		api.writeError(w, r, err)
		return
	}
	if err := api.stores.Plans.Create(r.Context(), p); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.recordChange(r, "admin.plan.create", "plan", p.ID)
	httpserver.WriteJSON(w, http.StatusCreated, api.planView(r, p))
}

// handleUpdatePlan changes plan fields only. Steps are fixed once the plan
// exists.
func (api *adminAPI) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	var in updatePlanInput
	if err := decodeJSON(r, &in); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if in.Steps != nil {
		var verr domain.ValidationError
		verr.AddNonField(domain.MsgStepsNotUpdated)
		api.writeError(w, r, &verr)
		return
	}
	p, err := api.stores.Plans.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	in.apply(&p)
	if err := api.checkPlan(r, p); err != nil {
		api.writeError(w, r, err)
		return
	}
	if err := api.stores.Plans.Update(r.Context(), p); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.recordChange(r, "admin.plan.update", "plan", p.ID)
	httpserver.WriteJSON(w, http.StatusOK, api.planView(r, p))
}
